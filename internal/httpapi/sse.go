package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
)

var (
	sseDataPrefix = []byte("data: ")
	sseEventEnd   = []byte("\n\n")
	sseDone       = []byte("data: [DONE]\n\n")
)

// sseWriter frames events as `data: <json>\n\n` and flushes after each one so
// clients see every chunk as soon as it is produced.
type sseWriter struct {
	w   http.ResponseWriter
	rc  *http.ResponseController
	buf []byte
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	return &sseWriter{w: w, rc: http.NewResponseController(w)}
}

func (s *sseWriter) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.buf = append(s.buf[:0], sseDataPrefix...)
	s.buf = append(s.buf, b...)
	s.buf = append(s.buf, sseEventEnd...)
	return s.write(s.buf)
}

func (s *sseWriter) writeDone() error {
	return s.write(sseDone)
}

func (s *sseWriter) write(p []byte) error {
	if _, err := s.w.Write(p); err != nil {
		return err
	}
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}
