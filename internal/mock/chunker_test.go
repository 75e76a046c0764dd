package mock

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// drain reads a stream to its terminal chunk and returns the content chunks.
func drain(t require.TestingT, s *Stream) []Chunk {
	var out []Chunk
	for {
		c, err := s.Next(context.Background())
		require.NoError(t, err)
		if c.Done {
			return out
		}
		out = append(out, c)
	}
}

func TestEventRangeValidate(t *testing.T) {
	assert.NoError(t, EventRange{Min: 1, Max: 1}.Validate())
	assert.NoError(t, EventRange{Min: 1, Max: 64}.Validate())
	assert.ErrorIs(t, EventRange{Min: 0, Max: 4}.Validate(), ErrInvalidEventRange)
	assert.ErrorIs(t, EventRange{Min: 8, Max: 4}.Validate(), ErrInvalidEventRange)

	_, err := OpenStream(TextView{}, 10, EventRange{Min: 5, Max: 2}, 0)
	assert.ErrorIs(t, err, ErrInvalidEventRange)
}

func TestStreamRemainderFitsOneEvent(t *testing.T) {
	p := testPool(t, PoolConfig{Count: 2, Mean: 64})
	view := p.Slice(NewSeededRand(1), 10)

	s, err := OpenStream(view, 10, EventRange{Min: 1, Max: 64}, 0, WithRand(NewSeededRand(9)))
	require.NoError(t, err)

	chunks := drain(t, s)
	require.Len(t, chunks, 1)
	assert.Equal(t, 10, chunks[0].Tokens)
	assert.Equal(t, view.String(), chunks[0].Text.String())
}

func TestStreamTotalBelowMinIsOneChunk(t *testing.T) {
	p := testPool(t, PoolConfig{Count: 1, Mean: 64})
	view := p.Slice(nil, 3)
	s, err := OpenStream(view, 3, EventRange{Min: 8, Max: 16}, 0)
	require.NoError(t, err)

	chunks := drain(t, s)
	require.Len(t, chunks, 1)
	assert.Equal(t, 3, chunks[0].Tokens)
}

func TestStreamLargeTotalSplits(t *testing.T) {
	p := testPool(t, PoolConfig{Count: 1, Mean: 200})
	view := p.Slice(nil, 130)
	s, err := OpenStream(view, 130, EventRange{Min: 1, Max: 64}, 0)
	require.NoError(t, err)

	chunks := drain(t, s)
	require.GreaterOrEqual(t, len(chunks), 3)

	sum := 0
	var b strings.Builder
	for i, c := range chunks {
		assert.LessOrEqual(t, c.Tokens, 64)
		assert.Equal(t, i, c.Seq)
		sum += c.Tokens
		b.WriteString(c.Text.String())
	}
	assert.Equal(t, 130, sum)
	assert.Equal(t, view.String(), b.String())
}

func TestStreamZeroTokensOnlyTerminal(t *testing.T) {
	s, err := OpenStream(TextView{}, 0, EventRange{Min: 1, Max: 4}, 0)
	require.NoError(t, err)

	c, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, c.Done)
	assert.Equal(t, 0, c.Seq)
}

func TestStreamNotRestartable(t *testing.T) {
	p := testPool(t, PoolConfig{Count: 1, Mean: 16})
	s, err := OpenStream(p.Slice(nil, 8), 8, EventRange{Min: 2, Max: 2}, 0)
	require.NoError(t, err)

	drain(t, s)
	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, ErrStreamClosed)

	s2, err := OpenStream(p.Slice(nil, 8), 8, EventRange{Min: 2, Max: 2}, 0)
	require.NoError(t, err)
	_, err = s2.Next(context.Background())
	require.NoError(t, err)
	s2.Close()
	_, err = s2.Next(context.Background())
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestStreamCanceledDuringDelay(t *testing.T) {
	p := testPool(t, PoolConfig{Count: 1, Mean: 16})
	s, err := OpenStream(p.Slice(nil, 8), 8, EventRange{Min: 1, Max: 1}, time.Hour)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	c, err := s.Next(ctx)
	require.NoError(t, err, "first chunk is not delayed by default")
	assert.Equal(t, 0, c.Seq)

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	_, err = s.Next(ctx)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.Less(t, time.Since(start), time.Minute)

	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestStreamPacing(t *testing.T) {
	p := testPool(t, PoolConfig{Count: 1, Mean: 16})
	const delay = 15 * time.Millisecond
	s, err := OpenStream(p.Slice(nil, 4), 4, EventRange{Min: 1, Max: 1}, delay, WithDelayFirst(true))
	require.NoError(t, err)

	start := time.Now()
	chunks := drain(t, s)
	require.Len(t, chunks, 4)
	assert.GreaterOrEqual(t, time.Since(start), 4*delay)
}

func TestProperty_StreamConservesTokens(t *testing.T) {
	p := testPool(t, PoolConfig{Count: 4, Mean: 512})
	rapid.Check(t, func(rt *rapid.T) {
		total := rapid.IntRange(0, p.TokenBound()).Draw(rt, "total")
		lo := rapid.IntRange(1, 64).Draw(rt, "min")
		hi := rapid.IntRange(lo, 128).Draw(rt, "max")

		view := p.Slice(NewSeededRand(rapid.Uint64().Draw(rt, "pick")), total)
		s, err := OpenStream(view, total, EventRange{Min: lo, Max: hi}, 0,
			WithRand(NewSeededRand(rapid.Uint64().Draw(rt, "seed"))))
		require.NoError(rt, err)

		chunks := drain(rt, s)
		if total > 0 {
			require.NotEmpty(rt, chunks)
		}

		sum, chars := 0, 0
		for i, c := range chunks {
			require.Equal(rt, i, c.Seq, "chunks out of order")
			require.GreaterOrEqual(rt, c.Tokens, 1)
			require.LessOrEqual(rt, c.Tokens, hi)
			sum += c.Tokens
			chars += c.Text.Len()
		}
		require.Equal(rt, total, sum)
		require.Equal(rt, view.Len(), chars)
		require.Equal(rt, 0, s.Remaining())
	})
}
