package events

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMetadata() EventMetadata {
	return EventMetadata{
		ID:             uuid.New(),
		ConversationID: "conv-1",
		CredentialID:   "cred-1",
		Provider:       "openai",
		Model:          "gpt-4o-mini",
		Attempt:        1,
	}
}

func TestNewEventFromJsonDecodesTypedEvents(t *testing.T) {
	meta := testMetadata()

	b, err := json.Marshal(NewPartialCompletionEvent(meta, "lo", "hello"))
	require.NoError(t, err)

	e, err := NewEventFromJson(b)
	require.NoError(t, err)
	p, ok := e.(*EventPartialCompletion)
	require.True(t, ok)
	assert.Equal(t, "lo", p.Delta)
	assert.Equal(t, "hello", p.Completion)
	assert.Equal(t, meta.ID, p.Metadata().ID)
	assert.Equal(t, "conv-1", p.Metadata().ConversationID)
	assert.Equal(t, b, p.Payload())

	b, err = json.Marshal(NewErrorEvent(meta, errors.New("boom"), "⚠️ boom"))
	require.NoError(t, err)
	e, err = NewEventFromJson(b)
	require.NoError(t, err)
	ee, ok := e.(*EventError)
	require.True(t, ok)
	assert.Equal(t, "boom", ee.ErrorString)
}

func TestNewEventFromJsonRejectsGarbage(t *testing.T) {
	_, err := NewEventFromJson([]byte("{not json"))
	require.Error(t, err)
}

func publishAll(t *testing.T, handler func(*message.Message) error, evs ...Event) {
	for _, e := range evs {
		b, err := json.Marshal(e)
		require.NoError(t, err)
		require.NoError(t, handler(message.NewMessage(watermill.NewUUID(), b)))
	}
}

func TestStepPrinterPrintsDeltas(t *testing.T) {
	meta := testMetadata()
	buf := &bytes.Buffer{}
	printer := StepPrinterFunc("assistant", buf)

	publishAll(t, printer,
		NewStartEvent(meta, "hi"),
		NewPartialCompletionEvent(meta, "Hel", "Hel"),
		NewPartialCompletionEvent(meta, "lo", "Hello"),
		NewFinalEvent(meta, "Hello"),
	)

	assert.Equal(t, "\nassistant: \nHello\n", buf.String())
}

func TestStepPrinterAnnouncesFailover(t *testing.T) {
	meta := testMetadata()
	buf := &bytes.Buffer{}
	printer := StepPrinterFunc("", buf)

	next := meta
	next.Provider = "gemini"
	publishAll(t, printer,
		NewFailoverEvent(next, "cred-1", "rate limited"),
		NewFinalEvent(next, "ok"),
	)

	assert.Contains(t, buf.String(), "cred-1 failed, retrying with gemini")
	assert.Contains(t, buf.String(), "ok")
}

func TestCollectingSinkViaContext(t *testing.T) {
	sink := &CollectingSink{}
	ctx := WithEventSinks(context.Background(), sink)

	PublishEventToContext(ctx, NewStartEvent(testMetadata(), "x"))
	PublishEventToContext(ctx, NewInterruptEvent(testMetadata(), "partial"))

	assert.Equal(t, []EventType{EventTypeStart, EventTypeInterrupt}, sink.Types())
	// no sinks is a no-op
	PublishEventToContext(context.Background(), NewStartEvent(testMetadata(), "x"))
}

func TestEventRouterDeliversToHandler(t *testing.T) {
	router, err := NewEventRouter()
	require.NoError(t, err)

	var mu sync.Mutex
	var got []EventType
	done := make(chan struct{})
	router.AddHandler("collect", "chat", func(msg *message.Message) error {
		defer msg.Ack()
		e, err := NewEventFromJson(msg.Payload)
		if err != nil {
			return err
		}
		mu.Lock()
		got = append(got, e.Type())
		if e.Type() == EventTypeFinal {
			close(done)
		}
		mu.Unlock()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = router.Run(ctx)
	}()
	<-router.Running()

	sink := router.Sink("chat")
	meta := testMetadata()
	require.NoError(t, sink.PublishEvent(NewStartEvent(meta, "q")))
	require.NoError(t, sink.PublishEvent(NewFinalEvent(meta, "a")))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for events")
	}
	require.NoError(t, router.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventType{EventTypeStart, EventTypeFinal}, got)
}
