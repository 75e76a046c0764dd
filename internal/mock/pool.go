package mock

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// TailSigmas is how many standard deviations above the mean an article must cover
// when no hard cap is configured.
const TailSigmas = 6

// DefaultPoolSize is the number of articles generated when none is configured.
const DefaultPoolSize = 4096

// Upper limits on what BuildPool will generate.
const (
	MaxTokenBound = 1 << 20 // tokens per article
	MaxPoolChars  = 1 << 31 // characters across the whole pool
)

// SelectionPolicy decides which article a slice is taken from.
type SelectionPolicy string

const (
	SelectRandom     SelectionPolicy = "random"
	SelectRoundRobin SelectionPolicy = "round_robin"
)

// ParseSelectionPolicy maps a config string to a policy. Empty means random.
func ParseSelectionPolicy(s string) (SelectionPolicy, error) {
	switch SelectionPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", SelectRandom:
		return SelectRandom, nil
	case SelectRoundRobin, "roundrobin", "rr":
		return SelectRoundRobin, nil
	default:
		return "", fmt.Errorf("%w: unknown selection policy %q", ErrInvalidPoolConfig, s)
	}
}

// PoolConfig sizes the content pool.
type PoolConfig struct {
	Count   int
	Mean    float64
	Stddev  float64
	HardCap int // 0 means no cap
	Policy  SelectionPolicy
}

// TokenBound returns the largest token count the configured distribution is
// expected to produce: the hard cap when set, otherwise Mean + TailSigmas*Stddev.
func (c PoolConfig) TokenBound() int {
	return int(math.Ceil(c.bound()))
}

func (c PoolConfig) bound() float64 {
	if c.HardCap > 0 {
		return float64(c.HardCap)
	}
	return c.Mean + TailSigmas*c.Stddev
}

// Validate reports whether the config can build a pool.
func (c PoolConfig) Validate() error {
	switch {
	case c.Count <= 0:
		return fmt.Errorf("%w: count must be positive, got %d", ErrInvalidPoolConfig, c.Count)
	case c.Mean <= 0 || math.IsNaN(c.Mean) || math.IsInf(c.Mean, 0):
		return fmt.Errorf("%w: mean must be positive, got %v", ErrInvalidPoolConfig, c.Mean)
	case c.Stddev < 0 || math.IsNaN(c.Stddev) || math.IsInf(c.Stddev, 0):
		return fmt.Errorf("%w: stddev must be non-negative, got %v", ErrInvalidPoolConfig, c.Stddev)
	case c.HardCap < 0:
		return fmt.Errorf("%w: hard cap must be non-negative, got %d", ErrInvalidPoolConfig, c.HardCap)
	}
	if _, err := ParseSelectionPolicy(string(c.Policy)); err != nil {
		return err
	}

	b := math.Ceil(c.bound())
	if b > MaxTokenBound {
		return fmt.Errorf("%w: token bound %.0f exceeds %d", ErrInvalidPoolConfig, b, MaxTokenBound)
	}
	if chars := float64(c.Count) * max(b, 1) * AvgCharsPerToken; chars > MaxPoolChars {
		return fmt.Errorf("%w: pool of %d articles needs %.0f chars, limit is %d", ErrInvalidPoolConfig, c.Count, chars, int64(MaxPoolChars))
	}
	return nil
}

// Pool is the fixed set of articles generated at startup. It is never mutated
// after BuildPool returns, so any number of goroutines may read it without locking.
// A config change means building a new Pool.
type Pool struct {
	articles []string
	policy   SelectionPolicy
	bound    int
	minChars int

	// round-robin cursor; the only mutable field
	next atomic.Uint64
}

// BuildPool generates cfg.Count independent articles, each at least
// TokenBound()*AvgCharsPerToken characters long.
func BuildPool(ctx context.Context, cfg PoolConfig) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy, _ := ParseSelectionPolicy(string(cfg.Policy))

	bound := cfg.TokenBound()
	if bound < 1 {
		bound = 1
	}
	p := &Pool{
		articles: make([]string, cfg.Count),
		policy:   policy,
		bound:    bound,
		minChars: TokensToChars(bound),
	}

	workers := runtime.GOMAXPROCS(0)
	if workers > cfg.Count {
		workers = cfg.Count
	}
	per := (cfg.Count + workers - 1) / workers

	g, ctx := errgroup.WithContext(ctx)
	for lo := 0; lo < cfg.Count; lo += per {
		hi := min(lo+per, cfg.Count)
		seed1, seed2 := rand.Uint64(), rand.Uint64()
		g.Go(func() error {
			r := rand.New(rand.NewPCG(seed1, seed2))
			for i := lo; i < hi; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				p.articles[i] = generateArticle(r, p.minChars)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("build pool: %w", err)
	}
	return p, nil
}

// Len returns the number of articles.
func (p *Pool) Len() int { return len(p.articles) }

// Article returns the i-th article text.
func (p *Pool) Article(i int) string { return p.articles[i] }

// TokenBound is the token count every article is guaranteed to cover.
func (p *Pool) TokenBound() int { return p.bound }

// MinChars is the minimum article length in characters.
func (p *Pool) MinChars() int { return p.minChars }

// Policy returns the article selection policy.
func (p *Pool) Policy() SelectionPolicy { return p.policy }

func (p *Pool) pick(r *rand.Rand) int {
	n := len(p.articles)
	if n == 1 {
		return 0
	}
	if p.policy == SelectRoundRobin {
		return int((p.next.Add(1) - 1) % uint64(n))
	}
	return r.IntN(n)
}
