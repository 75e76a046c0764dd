package grpc

import (
	"context"
	"errors"
	"math"
	"net/http"
	"time"
	"unicode/utf8"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/yungtweek/mock-openai/internal/config"
	"github.com/yungtweek/mock-openai/internal/logger"
	"github.com/yungtweek/mock-openai/internal/metrics"
	"github.com/yungtweek/mock-openai/internal/mock"
)

// Chunk types carried in the "type" field of streamed messages.
const (
	chunkDelta  = "output_text.delta"
	chunkDone   = "output_text.done"
	chunkFailed = "failed"
)

// CompletionsService implements mockopenai.v1.Completions on top of the shared Generator.
//
// Requests are Structs with "model", "max_tokens", and either "prompt" or a
// "messages" list of {role, content}. Prompt size for usage accounting is the
// rune count of the prompt plus every message content.
type CompletionsService struct {
	gen     *mock.Generator
	cfg     config.Config
	metrics *metrics.Collector
}

var _ CompletionsServer = (*CompletionsService)(nil)

func NewCompletionsService(gen *mock.Generator, cfg config.Config, m *metrics.Collector) *CompletionsService {
	return &CompletionsService{gen: gen, cfg: cfg, metrics: m}
}

type request struct {
	model       string
	promptChars int
	maxTokens   int
}

func parseRequest(in *structpb.Struct) (request, error) {
	f := in.GetFields()
	req := request{model: f["model"].GetStringValue()}
	if req.model == "" {
		return req, status.Error(codes.InvalidArgument, "model is required")
	}
	if v, ok := f["max_tokens"]; ok {
		n, err := tokenCap(v)
		if err != nil {
			return req, err
		}
		req.maxTokens = n
	}
	req.promptChars = utf8.RuneCountInString(f["prompt"].GetStringValue())
	for _, m := range f["messages"].GetListValue().GetValues() {
		req.promptChars += utf8.RuneCountInString(m.GetStructValue().GetFields()["content"].GetStringValue())
	}
	return req, nil
}

// tokenCap accepts a whole number in [0, MaxInt32]; 0 means no cap.
func tokenCap(v *structpb.Value) (int, error) {
	if _, ok := v.GetKind().(*structpb.Value_NullValue); ok {
		return 0, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, status.Error(codes.InvalidArgument, "max_tokens must be a number")
	}
	f := n.NumberValue
	if f < 0 || f > math.MaxInt32 || f != math.Trunc(f) {
		return 0, status.Errorf(codes.InvalidArgument, "max_tokens must be a whole number in [0, %d], got %v", math.MaxInt32, f)
	}
	return int(f), nil
}

func usageValue(u mock.Usage) *structpb.Value {
	return structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
		"prompt_tokens":     structpb.NewNumberValue(float64(u.PromptTokens)),
		"completion_tokens": structpb.NewNumberValue(float64(u.CompletionTokens)),
		"total_tokens":      structpb.NewNumberValue(float64(u.TotalTokens)),
	}})
}

func (s *CompletionsService) Complete(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	start := time.Now()
	req, err := parseRequest(in)
	if err != nil {
		s.metrics.RecordRequest("grpc", "complete", false, http.StatusBadRequest, time.Since(start))
		return nil, err
	}
	logger.Log.Debugw("[grpc][Complete] start", "model", req.model, "maxTokens", req.maxTokens)

	// Error injection (before any work).
	if mock.ShouldFail(s.cfg.ErrorRate) {
		code := mock.PickErrorStatus(s.cfg.ErrorMode)
		logger.Log.Infow("[grpc][Complete] injected error", "mode", s.cfg.ErrorMode, "status", code)
		s.metrics.RecordRequest("grpc", "complete", false, code, time.Since(start))
		return nil, status.Error(grpcCode(code), "mock error")
	}
	if err := ctx.Err(); err != nil {
		return nil, status.FromContextError(err).Err()
	}

	c := s.gen.Complete(s.gen.Spec(req.promptChars, req.maxTokens, false))
	resp := &structpb.Struct{Fields: map[string]*structpb.Value{
		"id":            structpb.NewStringValue("chatcmpl-" + mock.RandID()),
		"object":        structpb.NewStringValue("chat.completion"),
		"model":         structpb.NewStringValue(req.model),
		"text":          structpb.NewStringValue(c.Text),
		"finish_reason": structpb.NewStringValue("stop"),
		"usage":         usageValue(c.Usage),
		"latency_ms":    structpb.NewNumberValue(float64(time.Since(start).Milliseconds())),
	}}

	s.metrics.RecordUsage(c.Usage)
	s.metrics.RecordRequest("grpc", "complete", false, http.StatusOK, time.Since(start))
	logger.Log.Debugw("[grpc][Complete] completed", "latencyMs", time.Since(start).Milliseconds(), "tokens", c.Usage.TotalTokens)
	return resp, nil
}

func (s *CompletionsService) CompleteStream(in *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) (err error) {
	ctx := stream.Context()
	start := time.Now()
	peerAddr := "unknown"
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		peerAddr = p.Addr.String()
	}

	rec := http.StatusOK
	defer func() {
		// Log termination exactly once for all outcomes.
		switch {
		case err == nil:
			logger.Log.Debugw("[grpc][CompleteStream] done", "peer", peerAddr, "latencyMs", time.Since(start).Milliseconds())
		case errors.Is(err, mock.ErrPeerGone):
			logger.Log.Infow("[grpc][CompleteStream] peer gone", "peer", peerAddr, "err", err)
		case status.Code(err) == codes.Canceled:
			logger.Log.Infow("[grpc][CompleteStream] canceled", "peer", peerAddr, "err", err)
		case status.Code(err) == codes.DeadlineExceeded:
			logger.Log.Warnw("[grpc][CompleteStream] deadline_exceeded", "peer", peerAddr, "err", err)
		default:
			logger.Log.Errorw("[grpc][CompleteStream] error", "peer", peerAddr, "err", err)
		}
		s.metrics.RecordRequest("grpc", "complete", true, rec, time.Since(start))
	}()

	req, err := parseRequest(in)
	if err != nil {
		rec = http.StatusBadRequest
		return err
	}
	logger.Log.Debugw("[grpc][CompleteStream] start", "peer", peerAddr, "model", req.model, "maxTokens", req.maxTokens)

	// Error injection (before sending any chunks). A failed chunk lets
	// workers finalize state before the status arrives.
	if mock.ShouldFail(s.cfg.ErrorRate) {
		rec = mock.PickErrorStatus(s.cfg.ErrorMode)
		logger.Log.Infow("[grpc][CompleteStream] injected error", "mode", s.cfg.ErrorMode, "status", rec)
		_ = stream.Send(&structpb.Struct{Fields: map[string]*structpb.Value{
			"type":          structpb.NewStringValue(chunkFailed),
			"finish_reason": structpb.NewStringValue("mock error"),
		}})
		return status.Error(grpcCode(rec), "mock error")
	}

	sess, err := s.gen.Open(s.gen.Spec(req.promptChars, req.maxTokens, true))
	if err != nil {
		rec = http.StatusInternalServerError
		return status.Error(codes.Internal, err.Error())
	}

	err = sess.Drive(ctx, func(c mock.Chunk) error {
		if c.Done {
			return stream.Send(&structpb.Struct{Fields: map[string]*structpb.Value{
				"type":          structpb.NewStringValue(chunkDone),
				"index":         structpb.NewNumberValue(float64(c.Seq)),
				"finish_reason": structpb.NewStringValue("stop"),
				"usage":         usageValue(sess.Usage),
				"latency_ms":    structpb.NewNumberValue(float64(time.Since(start).Milliseconds())),
			}})
		}
		return stream.Send(&structpb.Struct{Fields: map[string]*structpb.Value{
			"type":  structpb.NewStringValue(chunkDelta),
			"index": structpb.NewNumberValue(float64(c.Seq)),
			"text":  structpb.NewStringValue(c.Text.String()),
		}})
	})
	switch {
	case err == nil:
		s.metrics.RecordUsage(sess.Usage)
		return nil
	case errors.Is(err, mock.ErrPeerGone):
		rec = statusClientClosed
		return err
	default:
		rec = statusClientClosed
		return status.FromContextError(err).Err()
	}
}

// statusClientClosed is recorded when the peer goes away mid-stream.
const statusClientClosed = 499

func grpcCode(httpStatus int) codes.Code {
	if httpStatus == http.StatusTooManyRequests {
		return codes.ResourceExhausted
	}
	return codes.Internal
}
