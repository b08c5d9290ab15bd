// Package stream assembles an incremental generation stream into a single
// ordered text buffer with a defined completion point.
package stream

import (
	"context"
	"strings"
	"sync"

	"docsearch/internal/rag/interfaces"
)

// Session accumulates the text deltas of one generation exchange. A Session
// is owned by a single query-answer exchange and must not be shared across
// concurrent generations; it is single-writer, but Current and Done may be
// called from other goroutines while the stream is running.
//
// On stream error the session is marked done and keeps whatever partial text
// was accumulated — partial generations can still contain complete citation
// markers, so callers extract citations from the partial text too.
type Session struct {
	mu   sync.RWMutex
	buf  strings.Builder
	done bool
	err  error
}

// NewSession creates an empty session.
func NewSession() *Session {
	return &Session{}
}

// Append applies one delta. Deltas must be applied in the order received.
// Appends after completion are ignored.
func (s *Session) Append(delta string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.buf.WriteString(delta)
}

// Current returns the text accumulated so far.
func (s *Session) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buf.String()
}

// IsDone reports whether the stream has completed or failed.
func (s *Session) IsDone() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.done
}

// Err returns the stream error, if the stream ended with one.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func (s *Session) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	s.err = err
}

// Consume drains a generation stream into the session, applying deltas in
// order. It returns when the stream completes, fails, or ctx is cancelled;
// in every case the session ends up done with the partial text preserved.
// Cancelling ctx is the caller's way of abandoning the generation — the
// producer owns the underlying network resource and releases it on the same
// cancellation.
//
// onDelta, if non-nil, is invoked synchronously for every non-empty text
// increment, in order. Running it on the consuming goroutine means no
// callback fires after Consume returns, so callers can hand it a
// non-thread-safe sink such as a response writer.
func (s *Session) Consume(ctx context.Context, deltas <-chan interfaces.StreamDelta, onDelta func(string)) error {
	for {
		select {
		case <-ctx.Done():
			s.finish(ctx.Err())
			return ctx.Err()
		case d, ok := <-deltas:
			if !ok {
				s.finish(nil)
				return nil
			}
			if d.Err != nil {
				s.finish(d.Err)
				return d.Err
			}
			s.Append(d.Text)
			if onDelta != nil && d.Text != "" {
				onDelta(d.Text)
			}
		}
	}
}
