package mock

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"
)

// Settings are the process-wide generation parameters.
type Settings struct {
	Mean       float64
	Stddev     float64
	HardCap    int // 0 means no process-wide cap
	Events     EventRange
	Delay      time.Duration
	DelayFirst bool
}

// Validate rejects settings at startup so that no request can observe them.
func (s Settings) Validate() error {
	if s.Mean <= 0 || math.IsNaN(s.Mean) || math.IsInf(s.Mean, 0) {
		return fmt.Errorf("%w: mean must be positive, got %v", ErrInvalidSettings, s.Mean)
	}
	if s.Stddev < 0 || math.IsNaN(s.Stddev) || math.IsInf(s.Stddev, 0) {
		return fmt.Errorf("%w: stddev must be non-negative, got %v", ErrInvalidSettings, s.Stddev)
	}
	if s.HardCap < 0 {
		return fmt.Errorf("%w: hard cap must be non-negative, got %d", ErrInvalidSettings, s.HardCap)
	}
	if s.Delay < 0 {
		return fmt.Errorf("%w: delay must be non-negative, got %s", ErrInvalidSettings, s.Delay)
	}
	return s.Events.Validate()
}

// GenerationSpec holds everything needed to produce one response.
// Only PromptChars, MaxTokens and Stream vary per request.
type GenerationSpec struct {
	PromptChars int
	MaxTokens   int // 0 means no caller cap
	Stream      bool

	Mean       float64
	Stddev     float64
	Events     EventRange
	Delay      time.Duration
	DelayFirst bool
}

// Usage is the token accounting reported with every response.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

func newUsage(promptChars, completion int) Usage {
	pt := CharsToTokens(promptChars)
	return Usage{PromptTokens: pt, CompletionTokens: completion, TotalTokens: pt + completion}
}

// Completion is a fully materialized non-streaming response.
type Completion struct {
	Text    string
	Usage   Usage
	Article int
}

// Observer receives generation events. Implementations must be safe for concurrent use.
type Observer interface {
	StreamOpened()
	ChunkSent(tokens int)
	StreamClosed(completed bool)
}

type nopObserver struct{}

func (nopObserver) StreamOpened()     {}
func (nopObserver) ChunkSent(int)     {}
func (nopObserver) StreamClosed(bool) {}

// Option configures a Generator.
type Option func(*Generator)

// WithObserver attaches an observer, typically the metrics collector.
func WithObserver(o Observer) Option {
	return func(g *Generator) {
		if o != nil {
			g.obs = o
		}
	}
}

// WithRandSource replaces the per-request generator factory. Tests use it for
// reproducible output; the factory must return a fresh generator on every call.
func WithRandSource(f func() *rand.Rand) Option {
	return func(g *Generator) {
		if f != nil {
			g.newRand = f
		}
	}
}

// Generator composes sampling, slicing and chunking for each request.
// It is safe for concurrent use; all per-request state lives on the caller's stack.
type Generator struct {
	pool     *Pool
	settings Settings
	obs      Observer
	newRand  func() *rand.Rand
}

// NewGenerator validates settings against the pool and returns a ready Generator.
func NewGenerator(pool *Pool, settings Settings, opts ...Option) (*Generator, error) {
	if pool == nil || pool.Len() == 0 {
		return nil, fmt.Errorf("%w: empty pool", ErrInvalidSettings)
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	g := &Generator{
		pool:     pool,
		settings: settings,
		obs:      nopObserver{},
		newRand:  NewRand,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Pool returns the content pool backing this generator.
func (g *Generator) Pool() *Pool { return g.pool }

// Settings returns the process-wide generation settings.
func (g *Generator) Settings() Settings { return g.settings }

// Spec resolves the per-request parameters against the process settings.
// The caller's maxTokens and the configured hard cap combine into one cap.
func (g *Generator) Spec(promptChars, maxTokens int, stream bool) GenerationSpec {
	limit := max(maxTokens, 0)
	if hc := g.settings.HardCap; hc > 0 && (limit == 0 || hc < limit) {
		limit = hc
	}
	return GenerationSpec{
		PromptChars: max(promptChars, 0),
		MaxTokens:   limit,
		Stream:      stream,
		Mean:        g.settings.Mean,
		Stddev:      g.settings.Stddev,
		Events:      g.settings.Events,
		Delay:       g.settings.Delay,
		DelayFirst:  g.settings.DelayFirst,
	}
}

// Complete produces a non-streaming response. The article text is copied
// exactly once, here.
func (g *Generator) Complete(spec GenerationSpec) Completion {
	r := g.newRand()
	tokens := SampleTokens(r, spec.Mean, spec.Stddev, spec.MaxTokens)
	view := g.pool.Slice(r, tokens)
	return Completion{
		Text:    strings.Clone(view.String()),
		Usage:   newUsage(spec.PromptChars, tokens),
		Article: view.Article(),
	}
}

// StreamSession is one opened stream plus its accounting, known before the first chunk.
type StreamSession struct {
	Usage   Usage
	Article int

	stream *Stream
	obs    Observer
	driven bool
}

// Open samples a length, slices an article, and prepares the chunk stream.
func (g *Generator) Open(spec GenerationSpec) (*StreamSession, error) {
	r := g.newRand()
	tokens := SampleTokens(r, spec.Mean, spec.Stddev, spec.MaxTokens)
	view := g.pool.Slice(r, tokens)
	st, err := OpenStream(view, tokens, spec.Events, spec.Delay, WithDelayFirst(spec.DelayFirst), WithRand(r))
	if err != nil {
		return nil, err
	}
	return &StreamSession{
		Usage:   newUsage(spec.PromptChars, tokens),
		Article: view.Article(),
		stream:  st,
		obs:     g.obs,
	}, nil
}

// Drive pulls chunks in order and hands each to emit, terminal chunk included.
// If emit fails the stream stops at once, no terminal chunk is sent, and the
// returned error wraps both ErrPeerGone and the write error. A canceled ctx is
// returned as is.
func (s *StreamSession) Drive(ctx context.Context, emit func(Chunk) error) (err error) {
	if s.driven {
		return ErrStreamClosed
	}
	s.driven = true

	s.obs.StreamOpened()
	defer func() {
		s.stream.Close()
		s.obs.StreamClosed(err == nil)
	}()

	for {
		c, nextErr := s.stream.Next(ctx)
		if nextErr != nil {
			return nextErr
		}
		if werr := emit(c); werr != nil {
			return fmt.Errorf("%w: %w", ErrPeerGone, werr)
		}
		if c.Done {
			return nil
		}
		s.obs.ChunkSent(c.Tokens)
	}
}
