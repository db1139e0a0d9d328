// Package documents turns uploaded files into plain text and builds the
// context block that is prefixed to every turn of a conversation.
package documents

import (
	"fmt"
	"strings"
	"time"
)

const (
	contextHeader = "[DOCUMENTS CONTEXT — Answer based on these uploaded documents when relevant]\n"
	contextFooter = "\n[END DOCUMENTS]\n\n"
)

type Document struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Content string `json:"content" yaml:"-"`
	// Size is the size of the uploaded file in bytes.
	Size int64 `json:"size" yaml:"size"`
	// Type is the upper-cased file extension, e.g. "MD".
	Type      string    `json:"type" yaml:"type"`
	CharCount int       `json:"charCount" yaml:"char_count"`
	Tokens    int       `json:"tokens" yaml:"tokens"`
	AddedAt   time.Time `json:"addedAt" yaml:"added_at"`
}

// BuildContext renders docs as one delimited block. No documents render as
// the empty string.
func BuildContext(docs []Document) string {
	if len(docs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		parts = append(parts, "--- "+d.Name+" ---\n"+d.Content)
	}
	return contextHeader + strings.Join(parts, "\n\n") + contextFooter
}

// FormatFileSize renders a byte count as B, KB or MB.
func FormatFileSize(size int64) string {
	switch {
	case size < 1024:
		return fmt.Sprintf("%d B", size)
	case size < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	}
}
