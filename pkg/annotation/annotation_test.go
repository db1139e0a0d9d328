package annotation

import (
	"context"
	"testing"

	"github.com/go-go-golems/sidenote/pkg/conversation"
	"github.com/go-go-golems/sidenote/pkg/credentials"
	"github.com/go-go-golems/sidenote/pkg/providers"
	"github.com/go-go-golems/sidenote/pkg/providers/factory"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ann(id, text string) conversation.Annotation {
	return conversation.Annotation{ID: id, Text: text}
}

func highlighted(segs []Segment) map[string]string {
	ret := map[string]string{}
	for _, s := range segs {
		if s.Highlighted {
			ret[s.AnnotationID] = s.Text
		}
	}
	return ret
}

func TestResolveSpansLongestFirst(t *testing.T) {
	text := "In short, machine learning is statistics."
	segs := ResolveSpans(text, []conversation.Annotation{ann("short", "learning"), ann("long", "machine learning")})

	assert.Equal(t, []Segment{
		{Text: "In short, "},
		{Text: "machine learning", Highlighted: true, AnnotationID: "long"},
		{Text: " is statistics."},
	}, segs)
}

func TestResolveSpansIsCaseInsensitiveAndKeepsOriginalCase(t *testing.T) {
	segs := ResolveSpans("Go has Goroutines.", []conversation.Annotation{ann("a", "GOROUTINES")})
	assert.Equal(t, map[string]string{"a": "Goroutines"}, highlighted(segs))
}

func TestResolveSpansIdempotent(t *testing.T) {
	text := "Gradient descent minimises the loss. The loss is a function."
	anns := []conversation.Annotation{ann("a", "the loss"), ann("b", "gradient"), ann("c", "function")}
	first := ResolveSpans(text, anns)
	second := ResolveSpans(text, anns)
	assert.Equal(t, first, second)

	joined := ""
	for _, s := range first {
		joined += s.Text
	}
	assert.Equal(t, text, joined)
}

func TestResolveSpansNeedsCaseOnlyMatch(t *testing.T) {
	for _, c := range []struct{ text, selection string }{
		{"the \ufb01le system", "file"},
		{"x\u00b2 plus", "x2"},
		{"co\u00adoperate", "cooperate"},
	} {
		segs := ResolveSpans(c.text, []conversation.Annotation{ann("a", c.selection)})
		assert.Empty(t, highlighted(segs), c.text)
		start, _ := IndexFold(c.text, c.selection)
		assert.Equal(t, -1, start, c.text)
	}
}

func TestResolveSpansMissingSubstring(t *testing.T) {
	segs := ResolveSpans("content was edited", []conversation.Annotation{ann("gone", "neural network"), ann("ok", "edited")})
	assert.Equal(t, map[string]string{"ok": "edited"}, highlighted(segs))
}

func TestResolveSpansSkipsEmptyAndHandlesNone(t *testing.T) {
	assert.Equal(t, []Segment{{Text: "plain"}}, ResolveSpans("plain", nil))
	assert.Equal(t, []Segment{{Text: "plain"}}, ResolveSpans("plain", []conversation.Annotation{ann("e", "  ")}))
}

func TestResolveSpansOnePerPlainSegment(t *testing.T) {
	segs := ResolveSpans("a cat, a big cat", []conversation.Annotation{ann("big", "big cat"), ann("cat", "cat")})
	assert.Equal(t, []Segment{
		{Text: "a "},
		{Text: "cat", Highlighted: true, AnnotationID: "cat"},
		{Text: ", a "},
		{Text: "big cat", Highlighted: true, AnnotationID: "big"},
	}, segs)
}

func TestExtractBlocks(t *testing.T) {
	md := "# Title\n\nSome **bold** text\nwrapped here.\n\n- first item\n- second `code`\n\n```go\nfmt.Println(1)\n```\n\n| A | B |\n|---|---|\n| x | y |\n"
	blocks := ExtractBlocks(md)
	require.Len(t, blocks, 9)

	assert.Equal(t, Block{Kind: BlockHeading, Text: "Title", Level: 1}, blocks[0])
	assert.Equal(t, Block{Kind: BlockParagraph, Text: "Some bold text wrapped here."}, blocks[1])
	assert.Equal(t, Block{Kind: BlockListItem, Text: "first item", Level: 1}, blocks[2])
	assert.Equal(t, Block{Kind: BlockListItem, Text: "second code", Level: 1}, blocks[3])
	assert.Equal(t, Block{Kind: BlockCode, Text: "fmt.Println(1)", Language: "go"}, blocks[4])
	assert.Equal(t, Block{Kind: BlockTableCell, Text: "A", Row: 0, Column: 0, Header: true}, blocks[5])
	assert.Equal(t, Block{Kind: BlockTableCell, Text: "B", Row: 0, Column: 1, Header: true}, blocks[6])
	assert.Equal(t, Block{Kind: BlockTableCell, Text: "x", Row: 1, Column: 0}, blocks[7])
	assert.Equal(t, Block{Kind: BlockTableCell, Text: "y", Row: 1, Column: 1}, blocks[8])

	assert.False(t, blocks[0].Annotatable())
	assert.False(t, blocks[4].Annotatable())
	assert.True(t, blocks[7].Annotatable())
}

func TestHighlightSkipsHeadingsAndCode(t *testing.T) {
	md := "## Learning\n\nDeep learning works.\n\n```\nlearning()\n```\n"
	blocks := Highlight(md, []conversation.Annotation{ann("l", "learning")})
	require.Len(t, blocks, 3)
	assert.Empty(t, highlighted(blocks[0].Segments))
	assert.Equal(t, map[string]string{"l": "learning"}, highlighted(blocks[1].Segments))
	assert.Empty(t, highlighted(blocks[2].Segments))
}

type fakeAdapter struct {
	answers  []string
	err      error
	selected []string
	contexts []string
}

func (f *fakeAdapter) Generate(ctx context.Context, _ providers.Request) (*providers.Stream, error) {
	return providers.StaticStream(ctx, "unused"), nil
}

func (f *fakeAdapter) Explain(_ context.Context, selected string, messageContext string) (string, error) {
	f.selected = append(f.selected, selected)
	f.contexts = append(f.contexts, messageContext)
	if f.err != nil {
		return "", f.err
	}
	ret := f.answers[0]
	f.answers = f.answers[1:]
	return ret, nil
}

type fixture struct {
	store   *conversation.Store
	engine  *Engine
	adapter *fakeAdapter
	convID  string
	userID  string
	asstID  string
}

func newFixture(t *testing.T, withCredential bool) *fixture {
	t.Helper()
	store := conversation.NewStore()
	c := store.Create("")
	msgs, err := store.AppendMessages(c.ID,
		conversation.Message{Role: conversation.RoleUser, Content: "what is ML?"},
		conversation.Message{Role: conversation.RoleAssistant, Content: "Machine learning is a field of AI."},
	)
	require.NoError(t, err)

	reg := credentials.NewRegistry()
	if withCredential {
		_, err = reg.Add(credentials.Credential{Kind: credentials.KindOpenAI, Secret: "sk-test"})
		require.NoError(t, err)
	}
	fa := &fakeAdapter{}
	f := factory.AdapterFactoryFunc(func(credentials.Credential) (providers.Adapter, error) {
		return fa, nil
	})
	return &fixture{
		store:   store,
		engine:  NewEngine(store, reg, f),
		adapter: fa,
		convID:  c.ID,
		userID:  msgs[0].ID,
		asstID:  msgs[1].ID,
	}
}

func TestExplainStoresAnnotation(t *testing.T) {
	f := newFixture(t, true)
	f.adapter.answers = []string{"ML learns from data."}

	d, err := f.engine.Explain(context.Background(), f.convID, f.asstID, "  machine learning ")
	require.NoError(t, err)
	require.NotNil(t, d.Annotation)
	assert.Equal(t, "machine learning", d.Annotation.Text)
	assert.Equal(t, []string{"machine learning"}, f.adapter.selected)
	assert.Equal(t, "Machine learning is a field of AI.", f.adapter.contexts[0])

	assert.Equal(t, []DialogueTurn{
		{Role: conversation.RoleUser, Text: `Explain: "machine learning"`},
		{Role: conversation.RoleAssistant, Text: "ML learns from data."},
	}, d.Turns())

	stored := f.store.Annotations(f.convID, f.asstID)
	require.Len(t, stored, 1)
	assert.Equal(t, "ML learns from data.", stored[0].Explanation)
}

func TestExplainValidation(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.engine.Explain(ctx, f.convID, f.asstID, " ML ")
	assert.True(t, errors.Is(err, ErrSelectionTooShort))

	_, err = f.engine.Explain(ctx, f.convID, f.userID, "what is")
	assert.True(t, errors.Is(err, ErrNotAssistant))

	_, err = f.engine.Explain(ctx, f.convID, f.asstID, "quantum")
	assert.True(t, errors.Is(err, conversation.ErrSubstringNotFound))

	_, err = f.engine.Explain(ctx, "nope", f.asstID, "machine")
	assert.True(t, errors.Is(err, conversation.ErrNotFound))

	assert.Empty(t, f.adapter.selected)
}

func TestExplainFailureIsNotStored(t *testing.T) {
	f := newFixture(t, true)
	f.adapter.err = errors.New("boom")

	d, err := f.engine.Explain(context.Background(), f.convID, f.asstID, "field of AI")
	require.NoError(t, err)
	assert.Nil(t, d.Annotation)
	assert.Error(t, d.Err)
	assert.Equal(t, ExplainFailedText, d.Turns()[1].Text)
	assert.Empty(t, f.store.Annotations(f.convID, f.asstID))
}

func TestExplainWithoutCredential(t *testing.T) {
	f := newFixture(t, false)
	d, err := f.engine.Explain(context.Background(), f.convID, f.asstID, "field of AI")
	require.NoError(t, err)
	assert.Equal(t, NoCredentialText, d.Turns()[1].Text)
	assert.True(t, errors.Is(d.Err, ErrNoCredential))
}

func TestReopenAndFollowUp(t *testing.T) {
	f := newFixture(t, true)
	a, err := f.store.AddAnnotation(f.convID, f.asstID, "field of AI", "A branch of computer science.")
	require.NoError(t, err)

	d, err := f.engine.Reopen(f.convID, a.ID[:8])
	require.NoError(t, err)
	assert.Empty(t, f.adapter.selected)
	assert.Equal(t, []DialogueTurn{
		{Role: conversation.RoleUser, Text: `Explain: "field of AI"`},
		{Role: conversation.RoleAssistant, Text: "A branch of computer science."},
	}, d.Turns())

	f.adapter.answers = []string{"Yes, since the 1950s."}
	answer, err := d.Ask(context.Background(), "Is it old?")
	require.NoError(t, err)
	assert.Equal(t, "Yes, since the 1950s.", answer)
	assert.Equal(t, []string{"Is it old?"}, f.adapter.selected)
	assert.Equal(t,
		"Original selected text: \"field of AI\"\n\nConversation so far:\nUser: Explain: \"field of AI\"\nAssistant: A branch of computer science.\n\nUser's follow-up question: Is it old?",
		f.adapter.contexts[0])
	assert.Len(t, d.Turns(), 4)

	stored := f.store.Annotations(f.convID, f.asstID)
	require.Len(t, stored, 1)
	assert.Equal(t, "A branch of computer science.", stored[0].Explanation)

	f.adapter.err = errors.New("down")
	answer, err = d.Ask(context.Background(), "More?")
	assert.Error(t, err)
	assert.Equal(t, FollowUpFailedText, answer)

	_, err = d.Ask(context.Background(), "   ")
	assert.True(t, errors.Is(err, ErrEmptyQuestion))
}

func TestSeedTruncatesLongSelection(t *testing.T) {
	long := ""
	for i := 0; i < 30; i++ {
		long += "word "
	}
	d := (&Engine{}).newDialogue("c", "m", long)
	assert.Equal(t, `Explain: "`+long[:100]+`..."`, d.Turns()[0].Text)
}

func TestExplainRejectsLooseMatchBeforeCallingProvider(t *testing.T) {
	f := newFixture(t, true)
	msgs, err := f.store.AppendMessages(f.convID,
		conversation.Message{Role: conversation.RoleAssistant, Content: "Open the \ufb01le system."})
	require.NoError(t, err)

	_, err = f.engine.Explain(context.Background(), f.convID, msgs[0].ID, "file system")
	assert.True(t, errors.Is(err, conversation.ErrSubstringNotFound))
	assert.Empty(t, f.adapter.selected)

	f.adapter.answers = []string{"a ligature"}
	d, err := f.engine.Explain(context.Background(), f.convID, msgs[0].ID, "\ufb01LE SYSTEM")
	require.NoError(t, err)
	require.NotNil(t, d.Annotation)
	assert.Len(t, f.store.Annotations(f.convID, msgs[0].ID), 1)
}

func TestInteraction(t *testing.T) {
	f := newFixture(t, true)
	a, err := f.store.AddAnnotation(f.convID, f.asstID, "machine learning", "stored")
	require.NoError(t, err)
	i := NewInteraction(f.engine, f.convID, f.asstID)

	action, err := i.HandleClick(Click{Selection: "field of AI"})
	require.NoError(t, err)
	assert.Equal(t, ActionAsk, action)
	assert.Equal(t, "field of AI", i.Pending())

	action, err = i.HandleClick(Click{Selection: " AI "})
	require.NoError(t, err)
	assert.Equal(t, ActionDismiss, action)
	assert.Equal(t, "", i.Pending())

	action, err = i.HandleClick(Click{Selection: "fun"})
	require.NoError(t, err)
	assert.Equal(t, ActionAsk, action)

	action, err = i.HandleClick(Click{})
	require.NoError(t, err)
	assert.Equal(t, ActionDismiss, action)
	assert.Equal(t, "", i.Pending())
	_, err = i.Ask(context.Background())
	assert.True(t, errors.Is(err, ErrNoSelection))

	action, err = i.HandleClick(Click{AnnotationID: a.ID, Selection: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, ActionReopen, action)
	require.NotNil(t, i.Dialogue())
	assert.Equal(t, "stored", i.Dialogue().Turns()[1].Text)

	f.adapter.answers = []string{"fresh"}
	_, err = i.HandleClick(Click{Selection: "field of AI"})
	require.NoError(t, err)
	d, err := i.Ask(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", d.Turns()[1].Text)
	assert.Len(t, f.store.Annotations(f.convID, f.asstID), 2)

	i.Close()
	assert.Nil(t, i.Dialogue())
}
