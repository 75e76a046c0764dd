package mock

import "math/rand/v2"

// TextView is a window into one pool article. It holds the article's string
// header and a [start, end) span. Nothing here copies characters; callers that
// need an owned string copy String themselves.
type TextView struct {
	article int
	src     string
	start   int
	end     int
}

// Slice picks an article using the pool's selection policy and returns a view of
// its first tokens*AvgCharsPerToken characters. The span is clamped to the
// article length; with a correctly built pool the clamp never applies.
func (p *Pool) Slice(r *rand.Rand, tokens int) TextView {
	idx := p.pick(r)
	src := p.articles[idx]
	return TextView{article: idx, src: src, end: min(TokensToChars(tokens), len(src))}
}

// Article is the pool index the view points into.
func (v TextView) Article() int { return v.article }

// Len is the view length in characters.
func (v TextView) Len() int { return v.end - v.start }

// Span returns the view bounds within the article.
func (v TextView) Span() (start, end int) { return v.start, v.end }

// Sub returns the view of [from, to) relative to v, clamped to v's bounds.
func (v TextView) Sub(from, to int) TextView {
	from = clamp(from, 0, v.Len())
	to = clamp(to, from, v.Len())
	return TextView{article: v.article, src: v.src, start: v.start + from, end: v.start + to}
}

// String returns the viewed text. It shares memory with the article.
func (v TextView) String() string { return v.src[v.start:v.end] }

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
