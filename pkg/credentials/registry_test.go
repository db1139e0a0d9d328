package credentials

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memPersister struct {
	creds    []Credential
	activeID string
	saves    int
	loadErr  error
	saveErr  error
}

func (m *memPersister) LoadCredentials() ([]Credential, string, error) {
	if m.loadErr != nil {
		return nil, "", m.loadErr
	}
	return append([]Credential{}, m.creds...), m.activeID, nil
}

func (m *memPersister) SaveCredentials(creds []Credential, activeID string) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.creds = append([]Credential{}, creds...)
	m.activeID = activeID
	return nil
}

func fixedClock() time.Time {
	return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
}

func addAll(t *testing.T, r *Registry, kinds ...Kind) []Credential {
	var ret []Credential
	for _, k := range kinds {
		c, err := r.Add(Credential{Kind: k, Secret: "secret-" + string(k)})
		require.NoError(t, err)
		ret = append(ret, c)
	}
	return ret
}

func TestAddAppliesDefaultsAndPersists(t *testing.T) {
	p := &memPersister{}
	r := NewRegistry(WithPersister(p), WithClock(fixedClock))

	c, err := r.Add(Credential{Kind: KindOpenAI, Secret: "  sk-abc\u200b123\n"})
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, "sk-abc123", c.Secret)
	assert.Equal(t, "OpenAI Key", c.Label)
	assert.Equal(t, "gpt-4o-mini", c.Model)
	assert.True(t, c.Enabled)
	assert.Equal(t, fixedClock(), c.CreatedAt)

	require.Len(t, p.creds, 1)
	assert.Equal(t, c.ID, p.activeID, "first enabled credential becomes active")
}

func TestAddRequiresSecretExceptOllama(t *testing.T) {
	r := NewRegistry()
	_, err := r.Add(Credential{Kind: KindGemini, Secret: "  "})
	assert.ErrorIs(t, err, ErrMissingSecret)

	c, err := r.Add(Credential{Kind: KindOllama})
	require.NoError(t, err)
	assert.Equal(t, "Ollama Key", c.Label)
	assert.Equal(t, "", c.Model)

	_, err = r.Add(Credential{Kind: "anthropic", Secret: "x"})
	assert.Error(t, err)
}

func TestActiveCredentialSelection(t *testing.T) {
	r := NewRegistry()
	_, ok := r.ActiveCredential()
	assert.False(t, ok)

	cs := addAll(t, r, KindOpenAI, KindGemini, KindHuggingFace)

	active, ok := r.ActiveCredential()
	require.True(t, ok)
	assert.Equal(t, cs[0].ID, active.ID)

	require.NoError(t, r.SetActive(cs[2].ID))
	active, _ = r.ActiveCredential()
	assert.Equal(t, cs[2].ID, active.ID)

	// a disabled active credential falls back to the first enabled one
	require.NoError(t, r.SetEnabled(cs[2].ID, false))
	active, _ = r.ActiveCredential()
	assert.Equal(t, cs[0].ID, active.ID)

	require.NoError(t, r.SetEnabled(cs[0].ID, false))
	active, _ = r.ActiveCredential()
	assert.Equal(t, cs[1].ID, active.ID)
}

func TestRemoveActiveClearsPointer(t *testing.T) {
	p := &memPersister{}
	r := NewRegistry(WithPersister(p))
	cs := addAll(t, r, KindOpenAI, KindGemini)
	require.NoError(t, r.SetActive(cs[0].ID))

	require.NoError(t, r.Remove(cs[0].ID))
	assert.Equal(t, "", r.ActiveID())
	assert.Equal(t, "", p.activeID)

	active, ok := r.ActiveCredential()
	require.True(t, ok)
	assert.Equal(t, cs[1].ID, active.ID)

	assert.ErrorIs(t, r.Remove("nope"), ErrNotFound)
}

func TestFallbackOrder(t *testing.T) {
	r := NewRegistry()
	cs := addAll(t, r, KindOpenAI, KindGemini, KindHuggingFace, KindOllama)
	require.NoError(t, r.SetEnabled(cs[2].ID, false))

	ids := func(creds []Credential) []string {
		ret := []string{}
		for _, c := range creds {
			ret = append(ret, c.ID)
		}
		return ret
	}
	assert.Equal(t, []string{cs[0].ID, cs[3].ID}, ids(r.FallbackOrder(cs[1].ID)))
	assert.Equal(t, []string{cs[0].ID, cs[1].ID, cs[3].ID}, ids(r.FallbackOrder("")))
}

func TestFailedSaveLeavesRegistryUnchanged(t *testing.T) {
	p := &memPersister{}
	r := NewRegistry(WithPersister(p))
	cs := addAll(t, r, KindOpenAI)

	p.saveErr = errors.New("disk full")
	_, err := r.Add(Credential{Kind: KindGemini, Secret: "g"})
	require.Error(t, err)
	require.Error(t, r.SetEnabled(cs[0].ID, false))
	require.Error(t, r.Remove(cs[0].ID))

	list := r.List()
	require.Len(t, list, 1)
	assert.True(t, list[0].Enabled)
}

func TestLoadFailureStartsEmpty(t *testing.T) {
	r := NewRegistry(WithPersister(&memPersister{loadErr: errors.New("corrupt")}))
	assert.Empty(t, r.List())
}

func TestLoadCleansStoredSecrets(t *testing.T) {
	p := &memPersister{
		creds:    []Credential{{ID: "a", Kind: KindOpenAI, Secret: "sk-1  ", Enabled: true}},
		activeID: "a",
	}
	r := NewRegistry(WithPersister(p))
	c, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, "sk-1", c.Secret)
	assert.Equal(t, "sk-1", p.creds[0].Secret)
	assert.Equal(t, "a", r.ActiveID())
}

func TestRedactedSecretAndParseKind(t *testing.T) {
	assert.Equal(t, "sk-...cdef", Credential{Secret: "sk-0123456789abcdef"}.RedactedSecret())
	assert.Equal(t, "****", Credential{Secret: "abcd"}.RedactedSecret())

	k, err := ParseKind(" OpenAI ")
	require.NoError(t, err)
	assert.Equal(t, KindOpenAI, k)
	_, err = ParseKind("claude")
	assert.Error(t, err)
}
