// Package credentials holds the provider keys and picks the one that serves
// the next turn, plus the order in which the others are tried when it fails.
package credentials

import (
	"strings"
	"time"
)

type Credential struct {
	ID     string `json:"id" yaml:"id"`
	Kind   Kind   `json:"provider" yaml:"provider"`
	Secret string `json:"apiKey" yaml:"-"`
	Model  string `json:"model" yaml:"model"`
	Label  string `json:"label" yaml:"label"`
	// Enabled credentials take part in selection and fallback.
	Enabled   bool      `json:"enabled" yaml:"enabled"`
	CreatedAt time.Time `json:"createdAt" yaml:"created_at"`
}

// RedactedSecret keeps the first and last few characters of the secret.
func (c Credential) RedactedSecret() string {
	if c.Secret == "" {
		return ""
	}
	if len(c.Secret) <= 8 {
		return strings.Repeat("*", len(c.Secret))
	}
	return c.Secret[:3] + "..." + c.Secret[len(c.Secret)-4:]
}

// CleanSecret drops everything outside printable ASCII and trims spaces.
// Pasted keys regularly carry zero-width or non-breaking characters that
// HTTP header encoding rejects.
func CleanSecret(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= 0x20 && r <= 0x7e {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// Persister stores the credential list together with the active pointer.
type Persister interface {
	LoadCredentials() ([]Credential, string, error)
	SaveCredentials(creds []Credential, activeID string) error
}
