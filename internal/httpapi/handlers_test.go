package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungtweek/mock-openai/internal/config"
	"github.com/yungtweek/mock-openai/internal/metrics"
	"github.com/yungtweek/mock-openai/internal/mock"
)

type streamCounter struct {
	opened, chunks, completed, aborted atomic.Int64
}

func (c *streamCounter) StreamOpened() { c.opened.Add(1) }
func (c *streamCounter) ChunkSent(int) { c.chunks.Add(1) }
func (c *streamCounter) StreamClosed(ok bool) {
	if ok {
		c.completed.Add(1)
		return
	}
	c.aborted.Add(1)
}

// newTestHandler serves exactly 10-token responses in 1-token events with no delay.
func newTestHandler(t testing.TB, mutate func(*config.Config)) (http.Handler, *streamCounter) {
	t.Helper()
	cfg := config.Default()
	cfg.PregenCount = 8
	cfg.TokenMean = 10
	cfg.TokenStddev = 0
	cfg.EventTokensMin = 1
	cfg.EventTokensMax = 1
	cfg.DelayFirstEvent = false
	if mutate != nil {
		mutate(&cfg)
	}
	require.NoError(t, cfg.Validate())

	pool, err := mock.BuildPool(context.Background(), cfg.PoolConfig())
	require.NoError(t, err)
	obs := &streamCounter{}
	gen, err := mock.NewGenerator(pool, cfg.Settings(), mock.WithObserver(obs))
	require.NoError(t, err)

	return NewHandler(gen, cfg, metrics.NewCollector("test")).Router(), obs
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rr
}

// parseSSE returns the JSON payloads of every event and whether [DONE] was seen.
func parseSSE(t *testing.T, body string) (payloads []string, done bool) {
	t.Helper()
	for _, evt := range strings.Split(body, "\n\n") {
		evt = strings.TrimSpace(evt)
		if !strings.HasPrefix(evt, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(evt, "data: ")
		if payload == "[DONE]" {
			done = true
			continue
		}
		require.False(t, done, "event after [DONE]")
		payloads = append(payloads, payload)
	}
	return payloads, done
}

func TestHealthAndModels(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	rr := do(h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())

	rr = do(h, http.MethodGet, "/v1/models", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list ModelsListResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
	assert.Equal(t, "gpt-4-mock", list.Data[0].ID)

	rr = do(h, http.MethodGet, "/v1/models/gpt-4-mock", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(h, http.MethodGet, "/v1/models/nope", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	var apiErr ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &apiErr))
	assert.Equal(t, "model_not_found", apiErr.Error.Code)
}

func TestUnknownRouteAndMethod(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	rr := do(h, http.MethodGet, "/v2/whatever", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	rr = do(h, http.MethodGet, "/v1/chat/completions", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestChatCompletionJSON(t *testing.T) {
	h, obs := newTestHandler(t, nil)

	rr := do(h, http.MethodPost, "/v1/chat/completions",
		`{"model":"gpt-4-mock","messages":[{"role":"user","content":"hello world!"}]}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp ChatCompletionResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.ID, "chatcmpl-"))
	assert.Equal(t, "chat.completion", resp.Object)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "assistant", resp.Choices[0].Message.Role)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	assert.Len(t, resp.Choices[0].Message.Content, 40)
	assert.Equal(t, Usage{PromptTokens: 3, CompletionTokens: 10, TotalTokens: 13}, resp.Usage)
	assert.Zero(t, obs.opened.Load(), "non-streaming requests open no stream")
}

func TestChatCompletionMaxTokens(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	rr := do(h, http.MethodPost, "/v1/chat/completions",
		`{"model":"m","max_tokens":3,"messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp ChatCompletionResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Len(t, resp.Choices[0].Message.Content, 12)
	assert.Equal(t, 3, resp.Usage.CompletionTokens)
}

func TestChatCompletionBadRequests(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	tests := []struct {
		name string
		body string
		code string
	}{
		{name: "missing model", body: `{"messages":[]}`, code: "missing_model"},
		{name: "invalid json", body: `{"model":`, code: "invalid_json"},
		{name: "negative max tokens", body: `{"model":"m","max_tokens":-3,"messages":[]}`, code: "invalid_max_tokens"},
		{name: "negative max completion tokens", body: `{"model":"m","max_completion_tokens":-1,"max_tokens":5,"messages":[]}`, code: "invalid_max_tokens"},
		{name: "negative max tokens stream", body: `{"model":"m","stream":true,"max_tokens":-3,"messages":[]}`, code: "invalid_max_tokens"},
		{name: "fractional max tokens", body: `{"model":"m","max_tokens":2.5,"messages":[]}`, code: "invalid_json"},
		{name: "overflowing max tokens", body: `{"model":"m","max_tokens":1e19,"messages":[]}`, code: "invalid_json"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := do(h, http.MethodPost, "/v1/chat/completions", tc.body)
			require.Equal(t, http.StatusBadRequest, rr.Code)
			var apiErr ErrorResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &apiErr))
			assert.Equal(t, tc.code, apiErr.Error.Code)
			assert.Equal(t, "invalid_request_error", apiErr.Error.Type)
		})
	}
}

func TestChatCompletionStream(t *testing.T) {
	h, obs := newTestHandler(t, nil)

	rr := do(h, http.MethodPost, "/v1/chat/completions",
		`{"model":"m","stream":true,"stream_options":{"include_usage":true},"messages":[{"role":"user","content":"abcd"}]}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/event-stream")

	payloads, done := parseSSE(t, rr.Body.String())
	require.True(t, done, "missing [DONE] marker")
	require.Len(t, payloads, 12, "role + 10 content + finish")

	chunks := make([]StreamChunk, len(payloads))
	for i, p := range payloads {
		require.NoError(t, json.Unmarshal([]byte(p), &chunks[i]))
		assert.Equal(t, chunks[0].ID, chunks[i].ID)
	}

	assert.Equal(t, "assistant", chunks[0].Choices[0].Delta.Role)

	var assembled strings.Builder
	for _, c := range chunks[1 : len(chunks)-1] {
		require.Nil(t, c.Choices[0].FinishReason)
		require.Len(t, c.Choices[0].Delta.Content, 4)
		assembled.WriteString(c.Choices[0].Delta.Content)
	}
	assert.Len(t, assembled.String(), 40)

	last := chunks[len(chunks)-1]
	require.NotNil(t, last.Choices[0].FinishReason)
	assert.Equal(t, "stop", *last.Choices[0].FinishReason)
	require.NotNil(t, last.Usage)
	assert.Equal(t, Usage{PromptTokens: 1, CompletionTokens: 10, TotalTokens: 11}, *last.Usage)

	assert.EqualValues(t, 1, obs.completed.Load())
	assert.EqualValues(t, 10, obs.chunks.Load())
}

func TestChatCompletionStreamWithoutUsage(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	rr := do(h, http.MethodPost, "/v1/chat/completions", `{"model":"m","stream":true,"messages":[]}`)
	payloads, done := parseSSE(t, rr.Body.String())
	require.True(t, done)

	var last StreamChunk
	require.NoError(t, json.Unmarshal([]byte(payloads[len(payloads)-1]), &last))
	assert.Nil(t, last.Usage)
}

var errBrokenPipe = errors.New("broken pipe")

// failingWriter accepts a fixed number of writes, then fails every later one.
type failingWriter struct {
	header http.Header
	allow  int
	writes int
	body   strings.Builder
}

func (f *failingWriter) Header() http.Header {
	if f.header == nil {
		f.header = http.Header{}
	}
	return f.header
}

func (f *failingWriter) WriteHeader(int) {}

func (f *failingWriter) Write(p []byte) (int, error) {
	f.writes++
	if f.writes > f.allow {
		return 0, errBrokenPipe
	}
	return f.body.Write(p)
}

func TestChatCompletionStreamClientGone(t *testing.T) {
	h, obs := newTestHandler(t, nil)

	// role chunk + 2 content chunks succeed, the third content chunk fails
	fw := &failingWriter{allow: 3}
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"model":"m","stream":true,"messages":[]}`))
	h.ServeHTTP(fw, req)

	assert.Equal(t, 4, fw.writes, "no write after the failed one")
	payloads, done := parseSSE(t, fw.body.String())
	assert.False(t, done, "[DONE] must not follow a failed write")
	assert.Len(t, payloads, 3)

	assert.EqualValues(t, 2, obs.chunks.Load())
	assert.EqualValues(t, 1, obs.aborted.Load())
	assert.Zero(t, obs.completed.Load())
}

func TestChatCompletionStreamCanceled(t *testing.T) {
	h, obs := newTestHandler(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"model":"m","stream":true,"messages":[]}`)).WithContext(ctx)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	payloads, done := parseSSE(t, rr.Body.String())
	assert.False(t, done)
	assert.Len(t, payloads, 1, "only the role chunk")
	assert.EqualValues(t, 1, obs.aborted.Load())
}

func TestCompletions(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	rr := do(h, http.MethodPost, "/v1/completions", `{"model":"m","prompt":["abcd","efgh"]}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp CompletionResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.ID, "cmpl-"))
	assert.Equal(t, "text_completion", resp.Object)
	assert.Len(t, resp.Choices[0].Text, 40)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 2, resp.Usage.PromptTokens)

	rr = do(h, http.MethodPost, "/v1/completions", `{"model":"m","prompt":"x","stream":true}`)
	payloads, done := parseSSE(t, rr.Body.String())
	require.True(t, done)
	require.Len(t, payloads, 11, "10 content + finish")

	var assembled strings.Builder
	for _, p := range payloads[:10] {
		var c CompletionResponse
		require.NoError(t, json.Unmarshal([]byte(p), &c))
		assembled.WriteString(c.Choices[0].Text)
	}
	assert.Len(t, assembled.String(), 40)
}

func TestCompletionsRejectsNegativeMaxTokens(t *testing.T) {
	h, obs := newTestHandler(t, nil)

	for _, body := range []string{
		`{"model":"m","prompt":"x","max_tokens":-1}`,
		`{"model":"m","prompt":"x","max_tokens":-1,"stream":true}`,
	} {
		rr := do(h, http.MethodPost, "/v1/completions", body)
		require.Equal(t, http.StatusBadRequest, rr.Code, body)
		var apiErr ErrorResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &apiErr))
		assert.Equal(t, "invalid_max_tokens", apiErr.Error.Code)
	}
	assert.Zero(t, obs.opened.Load())
}

func TestStopReasonIsFresh(t *testing.T) {
	a, b := stopReason(), stopReason()
	require.NotSame(t, a, b)
	*a = "length"
	assert.Equal(t, "stop", *b)
	assert.Equal(t, "stop", *stopReason())
}

func TestEmbeddings(t *testing.T) {
	h, _ := newTestHandler(t, func(c *config.Config) { c.EmbeddingDim = 16 })

	rr := do(h, http.MethodPost, "/v1/embeddings", `{"model":"emb","input":["one","two"]}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp EmbeddingResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 2)
	for i, d := range resp.Data {
		assert.Equal(t, i, d.Index)
		require.Len(t, d.Embedding, 16)
		for _, v := range d.Embedding {
			assert.True(t, v >= -1 && v < 1)
		}
	}
	assert.Equal(t, 2, resp.Usage.PromptTokens)

	rr = do(h, http.MethodPost, "/v1/embeddings", `{"model":"emb","input":[]}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestErrorInjection(t *testing.T) {
	tests := []struct {
		mode   string
		status int
	}{
		{mode: "429", status: http.StatusTooManyRequests},
		{mode: "500", status: http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.mode, func(t *testing.T) {
			h, obs := newTestHandler(t, func(c *config.Config) {
				c.ErrorRate = 1
				c.ErrorMode = tc.mode
			})
			rr := do(h, http.MethodPost, "/v1/chat/completions", `{"model":"m","stream":true,"messages":[]}`)
			assert.Equal(t, tc.status, rr.Code)
			assert.Zero(t, obs.opened.Load())
			if tc.status == http.StatusTooManyRequests {
				assert.Equal(t, "1", rr.Header().Get("Retry-After"))
			}
		})
	}
}

func TestStringOrList(t *testing.T) {
	var s StringOrList
	require.NoError(t, json.Unmarshal([]byte(`"abc"`), &s))
	assert.Equal(t, StringOrList{"abc"}, s)

	require.NoError(t, json.Unmarshal([]byte(`["a","bc"]`), &s))
	assert.Equal(t, 3, s.Chars())

	assert.Error(t, json.Unmarshal([]byte(`42`), &s))
}

func TestMetricsRoute(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	do(h, http.MethodPost, "/v1/chat/completions", `{"model":"m","messages":[]}`)

	rr := do(h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `test_requests_total{endpoint="chat",mode="unary",status="200",transport="http"} 1`)
}
