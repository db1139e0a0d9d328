package providers

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/go-go-golems/sidenote/pkg/helpers"
)

// EmitFunc hands one cumulative snapshot to the consumer. It blocks until the
// consumer takes it and fails once the stream is closed or its context ends.
type EmitFunc func(snapshot string) error

// ProduceFunc drives a backend and emits snapshots in order.
type ProduceFunc func(ctx context.Context, emit EmitFunc) error

// Stream is a finite, one-shot sequence of cumulative text snapshots. It is
// fed by a producer goroutine and read with Recv until io.EOF.
//
// A producer that finishes without error and without any non-blank snapshot
// yields EmptyResponseSentinel as the single final snapshot.
type Stream struct {
	c      chan helpers.Result[string]
	cancel context.CancelFunc

	mu   sync.Mutex
	done bool
	err  error
}

func NewStream(ctx context.Context, produce ProduceFunc) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		c:      make(chan helpers.Result[string]),
		cancel: cancel,
	}

	go func() {
		defer close(s.c)
		defer cancel()

		last := ""
		emit := func(snapshot string) error {
			select {
			case s.c <- helpers.NewValueResult(snapshot):
				last = snapshot
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := produce(ctx, emit)
		if err != nil {
			select {
			case s.c <- helpers.NewErrorResult[string](err):
			case <-ctx.Done():
			}
			return
		}
		if strings.TrimSpace(last) == "" {
			_ = emit(EmptyResponseSentinel)
		}
	}()

	return s
}

// StaticStream replays fixed snapshots. Used for backends that answer in one
// piece and in tests.
func StaticStream(ctx context.Context, snapshots ...string) *Stream {
	return NewStream(ctx, func(ctx context.Context, emit EmitFunc) error {
		for _, snapshot := range snapshots {
			if err := emit(snapshot); err != nil {
				return err
			}
		}
		return nil
	})
}

// Recv returns the next snapshot, io.EOF once the sequence is complete, or the
// producer's error. After the first io.EOF or error every call returns the
// same value again.
func (s *Stream) Recv() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return "", s.err
	}

	r, ok := <-s.c
	if !ok {
		s.done = true
		s.err = io.EOF
		return "", io.EOF
	}
	v, err := r.Value()
	if err != nil {
		s.done = true
		s.err = err
		s.cancel()
		return "", err
	}
	return v, nil
}

// Close stops the producer. Snapshots not yet received are dropped.
func (s *Stream) Close() {
	s.cancel()
	go func() {
		for range s.c {
		}
	}()
}

// Collect drains the stream and returns the final snapshot.
func (s *Stream) Collect() (string, error) {
	defer s.Close()
	last := ""
	for {
		v, err := s.Recv()
		if err == io.EOF {
			return last, nil
		}
		if err != nil {
			return last, err
		}
		last = v
	}
}
