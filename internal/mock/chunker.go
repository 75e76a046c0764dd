package mock

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// EventRange bounds the number of tokens carried by one streamed event.
type EventRange struct {
	Min int
	Max int
}

// Validate rejects ranges that cannot produce an event.
func (r EventRange) Validate() error {
	if r.Min < 1 {
		return fmt.Errorf("%w: min must be >= 1, got %d", ErrInvalidEventRange, r.Min)
	}
	if r.Min > r.Max {
		return fmt.Errorf("%w: min %d > max %d", ErrInvalidEventRange, r.Min, r.Max)
	}
	return nil
}

func (r EventRange) draw(rng *rand.Rand) int {
	if r.Max == r.Min {
		return r.Min
	}
	return r.Min + rng.IntN(r.Max-r.Min+1)
}

// Chunk is one streamed unit. The terminal chunk has Done set and carries no text.
type Chunk struct {
	Seq    int
	Tokens int
	Text   TextView
	Done   bool
}

// StreamOption configures OpenStream.
type StreamOption func(*Stream)

// WithDelayFirst also waits before the first chunk.
func WithDelayFirst(on bool) StreamOption {
	return func(s *Stream) { s.delayFirst = on }
}

// WithRand sets the generator used to size events.
func WithRand(r *rand.Rand) StreamOption {
	return func(s *Stream) { s.rng = r }
}

// Stream turns a TextView into an ordered, paced, finite sequence of chunks.
// It is owned by a single goroutine and cannot be restarted.
type Stream struct {
	view       TextView
	events     EventRange
	delay      time.Duration
	delayFirst bool
	rng        *rand.Rand

	remaining int
	cursor    int
	seq       int
	closed    bool
}

// OpenStream prepares a stream of totalTokens tokens taken from view.
func OpenStream(view TextView, totalTokens int, events EventRange, delay time.Duration, opts ...StreamOption) (*Stream, error) {
	if err := events.Validate(); err != nil {
		return nil, err
	}
	if totalTokens < 0 {
		return nil, fmt.Errorf("%w: negative token count %d", ErrInvalidSettings, totalTokens)
	}
	s := &Stream{
		view:      view,
		events:    events,
		delay:     max(delay, 0),
		remaining: totalTokens,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = NewRand()
	}
	return s, nil
}

// Remaining returns the tokens not yet emitted.
func (s *Stream) Remaining() int { return s.remaining }

// Next returns the next chunk, waiting out the inter-event delay first when one is due.
// After the terminal chunk, Close, or a context error it returns ErrStreamClosed.
func (s *Stream) Next(ctx context.Context) (Chunk, error) {
	if s.closed {
		return Chunk{}, ErrStreamClosed
	}
	if err := ctx.Err(); err != nil {
		s.closed = true
		return Chunk{}, err
	}

	if s.remaining == 0 {
		s.closed = true
		return Chunk{Seq: s.seq, Done: true}, nil
	}

	if s.delay > 0 && (s.seq > 0 || s.delayFirst) {
		if err := sleepWithContext(ctx, s.delay); err != nil {
			s.closed = true
			return Chunk{}, err
		}
	}

	// A remainder that fits in one event goes out whole.
	n := s.remaining
	if n > s.events.Max {
		n = s.events.draw(s.rng)
	}
	end := s.cursor + TokensToChars(n)
	c := Chunk{
		Seq:    s.seq,
		Tokens: n,
		Text:   s.view.Sub(s.cursor, end),
	}
	s.cursor = min(end, s.view.Len())
	s.remaining -= n
	s.seq++
	return c, nil
}

// Close ends the stream early. Further calls to Next return ErrStreamClosed.
func (s *Stream) Close() {
	s.closed = true
}

// sleepWithContext waits d or until ctx is done, whichever comes first.
func sleepWithContext(ctx context.Context, d time.Duration) error {
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
