// Package annotation maps persisted annotations onto message text and runs
// the explain dialogue anchored to a selected substring.
package annotation

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/go-go-golems/sidenote/pkg/conversation"
)

// Segment is a run of text that is either plain or owned by one annotation.
type Segment struct {
	Text         string `json:"text" yaml:"text"`
	Highlighted  bool   `json:"highlighted" yaml:"highlighted"`
	AnnotationID string `json:"annotationId,omitempty" yaml:"annotation_id,omitempty"`
}

// IndexFold returns the byte range of the first case-insensitive occurrence
// of substr in s, or -1, -1. It is the same match the store uses to accept
// an annotation.
func IndexFold(s string, substr string) (int, int) {
	return conversation.IndexFold(s, substr)
}

// SortLongestFirst orders annotations by substring length, longest first.
// Equal lengths keep their creation order.
func SortLongestFirst(anns []conversation.Annotation) []conversation.Annotation {
	ret := append([]conversation.Annotation{}, anns...)
	sort.SliceStable(ret, func(i, j int) bool {
		return utf8.RuneCountInString(ret[i].Text) > utf8.RuneCountInString(ret[j].Text)
	})
	return ret
}

// ResolveSpans splits text into segments. Each annotation, longest first,
// claims its first case-insensitive occurrence in every segment that is
// still plain. Claimed segments are never searched again, so a region of
// text belongs to at most one annotation. Annotations whose text does not
// occur contribute nothing.
func ResolveSpans(text string, anns []conversation.Annotation) []Segment {
	segments := []Segment{{Text: text}}
	for _, a := range SortLongestFirst(anns) {
		if strings.TrimSpace(a.Text) == "" {
			continue
		}
		next := make([]Segment, 0, len(segments)+2)
		for _, seg := range segments {
			if seg.Highlighted {
				next = append(next, seg)
				continue
			}
			start, end := IndexFold(seg.Text, a.Text)
			if start < 0 || end <= start {
				next = append(next, seg)
				continue
			}
			if start > 0 {
				next = append(next, Segment{Text: seg.Text[:start]})
			}
			next = append(next, Segment{Text: seg.Text[start:end], Highlighted: true, AnnotationID: a.ID})
			if end < len(seg.Text) {
				next = append(next, Segment{Text: seg.Text[end:]})
			}
		}
		segments = next
	}
	return segments
}
