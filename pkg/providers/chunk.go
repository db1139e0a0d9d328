package providers

import (
	"context"
	"strings"
	"time"
)

// WordSnapshots splits text on single spaces and returns the cumulative
// snapshots a word-by-word stream of it would produce.
func WordSnapshots(text string) []string {
	words := strings.Split(text, " ")
	ret := make([]string, 0, len(words))
	var b strings.Builder
	for i, w := range words {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(w)
		ret = append(ret, b.String())
	}
	return ret
}

// Pause waits for d or until ctx ends. Non-positive durations return at once.
func Pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
