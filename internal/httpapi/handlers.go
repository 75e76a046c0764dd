// Package httpapi serves the OpenAI-compatible HTTP surface of the mock.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/yungtweek/mock-openai/internal/config"
	"github.com/yungtweek/mock-openai/internal/logger"
	"github.com/yungtweek/mock-openai/internal/metrics"
	"github.com/yungtweek/mock-openai/internal/mock"
)

const (
	maxBodyBytes = 8 << 20

	// statusClientClosed is recorded when the peer goes away mid-stream.
	statusClientClosed = 499
)

const reasonStop = "stop"

// stopReason returns a fresh pointer for each response.
func stopReason() *string {
	s := reasonStop
	return &s
}

// Handler holds what every endpoint needs; it is safe for concurrent use.
type Handler struct {
	gen     *mock.Generator
	cfg     config.Config
	metrics *metrics.Collector
	created int64
}

func NewHandler(gen *mock.Generator, cfg config.Config, m *metrics.Collector) *Handler {
	return &Handler{
		gen:     gen,
		cfg:     cfg,
		metrics: m,
		created: time.Now().Unix(),
	}
}

// Router mounts every endpoint on a gorilla/mux router.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(loggingMiddleware)

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/v1/models", h.ListModels).Methods(http.MethodGet)
	r.HandleFunc("/v1/models/{id}", h.GetModel).Methods(http.MethodGet)
	r.HandleFunc("/v1/chat/completions", h.ChatCompletions).Methods(http.MethodPost)
	r.HandleFunc("/v1/completions", h.Completions).Methods(http.MethodPost)
	r.HandleFunc("/v1/embeddings", h.Embeddings).Methods(http.MethodPost)
	r.Handle("/metrics", h.metrics.Handler()).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "invalid_request_error", "not_found", "unknown route "+r.URL.Path)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method_not_allowed", r.Method+" not allowed")
	})
	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) model() ModelInfo {
	return ModelInfo{ID: h.cfg.ModelID, Object: "model", Created: h.created, OwnedBy: "mock-openai"}
}

func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ModelsListResponse{Object: "list", Data: []ModelInfo{h.model()}})
}

func (h *Handler) GetModel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id != h.cfg.ModelID {
		writeError(w, http.StatusNotFound, "invalid_request_error", "model_not_found", "The model '"+id+"' does not exist")
		return
	}
	writeJSON(w, http.StatusOK, h.model())
}

// ChatCompletions serves POST /v1/chat/completions as JSON or SSE.
func (h *Handler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req ChatCompletionRequest
	if !h.decode(w, r, "chat", &req) {
		return
	}
	if req.Model == "" {
		h.reject(w, "chat", req.Stream, start, http.StatusBadRequest, "invalid_request_error", "missing_model", "you must provide a model parameter")
		return
	}
	maxTokens, ok := tokenCap(req.MaxCompletionTokens, req.MaxTokens)
	if !ok {
		h.reject(w, "chat", req.Stream, start, http.StatusBadRequest, "invalid_request_error", "invalid_max_tokens", "max_tokens must not be negative")
		return
	}
	if h.injectFault(w, "chat", req.Stream, start) {
		return
	}

	spec := h.gen.Spec(req.promptChars(), maxTokens, req.Stream)
	id := "chatcmpl-" + mock.RandID()
	logger.Log.Debugw("[http][chat] start", "id", id, "model", req.Model, "stream", req.Stream, "maxTokens", spec.MaxTokens)

	if !req.Stream {
		c := h.gen.Complete(spec)
		writeJSON(w, http.StatusOK, ChatCompletionResponse{
			ID:      id,
			Object:  "chat.completion",
			Created: time.Now().Unix(),
			Model:   req.Model,
			Choices: []ChatChoice{{
				Index:        0,
				Message:      ChatMessage{Role: "assistant", Content: c.Text},
				FinishReason: reasonStop,
			}},
			Usage: toUsage(c.Usage),
		})
		h.metrics.RecordUsage(c.Usage)
		h.metrics.RecordRequest("http", "chat", false, http.StatusOK, time.Since(start))
		return
	}

	sess, err := h.gen.Open(spec)
	if err != nil {
		logger.Log.Errorw("[http][chat] open stream failed", "id", id, "err", err)
		h.reject(w, "chat", true, start, http.StatusInternalServerError, "server_error", "", err.Error())
		return
	}

	includeUsage := req.StreamOptions != nil && req.StreamOptions.IncludeUsage
	base := StreamChunk{ID: id, Object: "chat.completion.chunk", Created: time.Now().Unix(), Model: req.Model}
	sw := newSSEWriter(w)

	role := base
	role.Choices = []StreamChoice{{Delta: Delta{Role: "assistant"}}}
	if err := sw.writeJSON(role); err != nil {
		h.streamEnded("chat", id, start, err)
		return
	}

	err = sess.Drive(r.Context(), func(c mock.Chunk) error {
		ch := base
		if c.Done {
			ch.Choices = []StreamChoice{{FinishReason: stopReason()}}
			if includeUsage {
				u := toUsage(sess.Usage)
				ch.Usage = &u
			}
			if err := sw.writeJSON(ch); err != nil {
				return err
			}
			return sw.writeDone()
		}
		ch.Choices = []StreamChoice{{Delta: Delta{Content: c.Text.String()}}}
		return sw.writeJSON(ch)
	})
	if err == nil {
		h.metrics.RecordUsage(sess.Usage)
	}
	h.streamEnded("chat", id, start, err)
}

// Completions serves the legacy POST /v1/completions.
func (h *Handler) Completions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req CompletionRequest
	if !h.decode(w, r, "completions", &req) {
		return
	}
	if req.Model == "" {
		h.reject(w, "completions", req.Stream, start, http.StatusBadRequest, "invalid_request_error", "missing_model", "you must provide a model parameter")
		return
	}
	maxTokens, ok := tokenCap(req.MaxTokens)
	if !ok {
		h.reject(w, "completions", req.Stream, start, http.StatusBadRequest, "invalid_request_error", "invalid_max_tokens", "max_tokens must not be negative")
		return
	}
	if h.injectFault(w, "completions", req.Stream, start) {
		return
	}

	spec := h.gen.Spec(req.Prompt.Chars(), maxTokens, req.Stream)
	id := "cmpl-" + mock.RandID()

	if !req.Stream {
		c := h.gen.Complete(spec)
		u := toUsage(c.Usage)
		writeJSON(w, http.StatusOK, CompletionResponse{
			ID:      id,
			Object:  "text_completion",
			Created: time.Now().Unix(),
			Model:   req.Model,
			Choices: []CompletionChoice{{Index: 0, Text: c.Text, FinishReason: stopReason()}},
			Usage:   &u,
		})
		h.metrics.RecordUsage(c.Usage)
		h.metrics.RecordRequest("http", "completions", false, http.StatusOK, time.Since(start))
		return
	}

	sess, err := h.gen.Open(spec)
	if err != nil {
		logger.Log.Errorw("[http][completions] open stream failed", "id", id, "err", err)
		h.reject(w, "completions", true, start, http.StatusInternalServerError, "server_error", "", err.Error())
		return
	}

	includeUsage := req.StreamOptions != nil && req.StreamOptions.IncludeUsage
	base := CompletionResponse{ID: id, Object: "text_completion", Created: time.Now().Unix(), Model: req.Model}
	sw := newSSEWriter(w)

	err = sess.Drive(r.Context(), func(c mock.Chunk) error {
		ch := base
		if c.Done {
			ch.Choices = []CompletionChoice{{FinishReason: stopReason()}}
			if includeUsage {
				u := toUsage(sess.Usage)
				ch.Usage = &u
			}
			if err := sw.writeJSON(ch); err != nil {
				return err
			}
			return sw.writeDone()
		}
		ch.Choices = []CompletionChoice{{Text: c.Text.String()}}
		return sw.writeJSON(ch)
	})
	if err == nil {
		h.metrics.RecordUsage(sess.Usage)
	}
	h.streamEnded("completions", id, start, err)
}

// Embeddings returns one random vector per input.
func (h *Handler) Embeddings(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req EmbeddingRequest
	if !h.decode(w, r, "embeddings", &req) {
		return
	}
	if len(req.Input) == 0 {
		h.reject(w, "embeddings", false, start, http.StatusBadRequest, "invalid_request_error", "missing_input", "input must not be empty")
		return
	}
	if h.injectFault(w, "embeddings", false, start) {
		return
	}

	rng := mock.NewRand()
	data := make([]Embedding, len(req.Input))
	for i := range req.Input {
		vec := make([]float32, h.cfg.EmbeddingDim)
		for j := range vec {
			vec[j] = rng.Float32()*2 - 1
		}
		data[i] = Embedding{Object: "embedding", Embedding: vec, Index: i}
	}

	model := req.Model
	if model == "" {
		model = h.cfg.ModelID
	}
	pt := mock.CharsToTokens(req.Input.Chars())
	writeJSON(w, http.StatusOK, EmbeddingResponse{
		Object: "list",
		Data:   data,
		Model:  model,
		Usage:  Usage{PromptTokens: pt, TotalTokens: pt},
	})
	h.metrics.RecordRequest("http", "embeddings", false, http.StatusOK, time.Since(start))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, endpoint string, v any) bool {
	start := time.Now()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		logger.Log.Debugw("[http] invalid request body", "endpoint", endpoint, "err", err)
		h.reject(w, endpoint, false, start, http.StatusBadRequest, "invalid_request_error", "invalid_json", "invalid request body: "+err.Error())
		return false
	}
	return true
}

// injectFault answers with a synthetic 429 or 500 at the configured rate.
func (h *Handler) injectFault(w http.ResponseWriter, endpoint string, stream bool, start time.Time) bool {
	if !mock.ShouldFail(h.cfg.ErrorRate) {
		return false
	}
	status := mock.PickErrorStatus(h.cfg.ErrorMode)
	logger.Log.Infow("[http] injected error", "endpoint", endpoint, "status", status)
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "1")
		h.reject(w, endpoint, stream, start, status, "rate_limit_error", "rate_limit_exceeded", "mock rate limit")
		return true
	}
	h.reject(w, endpoint, stream, start, status, "server_error", "", "mock error")
	return true
}

func (h *Handler) reject(w http.ResponseWriter, endpoint string, stream bool, start time.Time, status int, typ, code, msg string) {
	writeError(w, status, typ, code, msg)
	h.metrics.RecordRequest("http", endpoint, stream, status, time.Since(start))
}

func (h *Handler) streamEnded(endpoint, id string, start time.Time, err error) {
	status := http.StatusOK
	switch {
	case err == nil:
		logger.Log.Debugw("[http] stream done", "endpoint", endpoint, "id", id, "latencyMs", time.Since(start).Milliseconds())
	case errors.Is(err, mock.ErrPeerGone):
		status = statusClientClosed
		logger.Log.Infow("[http] client gone", "endpoint", endpoint, "id", id, "err", err)
	default:
		status = statusClientClosed
		logger.Log.Infow("[http] stream canceled", "endpoint", endpoint, "id", id, "err", err)
	}
	h.metrics.RecordRequest("http", endpoint, true, status, time.Since(start))
}

func toUsage(u mock.Usage) Usage {
	return Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Debugw("[http] write response failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, typ, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: APIError{Message: msg, Type: typ, Code: code}})
}
