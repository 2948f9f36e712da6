package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ContinuationHeader marks a self-scheduled request so the server can accept
// it immediately and run it in the background instead of holding the
// connection open for another full run.
const ContinuationHeader = "X-Continuation"

// forwardableHeaders are the only request headers replayed on a continuation
// request. Matching is by exact lowercase name or listed prefix; everything
// else from the original request is dropped.
var forwardableHeaders = []string{"cookie", "authorization"}
var forwardablePrefixes = []string{"x-session", "x-auth"}

// ContinuationRequest describes the follow-up run to schedule.
type ContinuationRequest struct {
	UserID         string
	BatchSize      int
	Origin         string
	ForwardHeaders map[string]string
}

// Scheduler kicks off a follow-up processing run for the emails a budget
// expiry left behind.
type Scheduler interface {
	// Trigger fires the continuation and reports whether it was accepted.
	// Failure to schedule is never fatal to the current run.
	Trigger(ctx context.Context, req ContinuationRequest) bool
}

// HTTPScheduler schedules continuations by POSTing back to this service's
// own /process endpoint.
type HTTPScheduler struct {
	client  *http.Client
	baseURL string
}

// NewHTTPScheduler builds a scheduler that targets baseURL when a request
// supplies no origin of its own.
func NewHTTPScheduler(baseURL string, timeout time.Duration) *HTTPScheduler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPScheduler{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (s *HTTPScheduler) Trigger(ctx context.Context, req ContinuationRequest) bool {
	origin := strings.TrimRight(req.Origin, "/")
	if origin == "" {
		origin = s.baseURL
	}
	if origin == "" {
		zap.L().Warn("no origin for continuation, skipping",
			zap.String("user_id", req.UserID))
		return false
	}

	body, err := json.Marshal(map[string]any{
		"userId":    req.UserID,
		"batchSize": req.BatchSize,
	})
	if err != nil {
		zap.L().Error("failed to encode continuation request", zap.Error(err))
		return false
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, origin+"/process", bytes.NewReader(body))
	if err != nil {
		zap.L().Error("failed to build continuation request", zap.Error(err))
		return false
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(ContinuationHeader, "true")
	for name, value := range req.ForwardHeaders {
		httpReq.Header.Set(name, value)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		zap.L().Warn("continuation request failed",
			zap.String("user_id", req.UserID),
			zap.String("origin", origin),
			zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		zap.L().Warn("continuation request rejected",
			zap.String("user_id", req.UserID),
			zap.Int("status", resp.StatusCode))
		return false
	}

	zap.L().Info("continuation scheduled",
		zap.String("user_id", req.UserID),
		zap.Int("batch_size", req.BatchSize),
		zap.Int("status", resp.StatusCode))
	return true
}

// NoopScheduler never schedules anything. The CLI uses it: a terminal run
// can simply be invoked again.
type NoopScheduler struct{}

func (NoopScheduler) Trigger(context.Context, ContinuationRequest) bool { return false }

// ForwardableHeaders extracts the auth-bearing headers from an incoming
// request that a continuation is allowed to replay.
func ForwardableHeaders(h http.Header) map[string]string {
	out := map[string]string{}
	for name, values := range h {
		if len(values) == 0 {
			continue
		}
		lower := strings.ToLower(name)
		if headerForwardable(lower) {
			out[name] = values[0]
		}
	}
	return out
}

func headerForwardable(lower string) bool {
	for _, allowed := range forwardableHeaders {
		if lower == allowed {
			return true
		}
	}
	for _, prefix := range forwardablePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// RequestOrigin reconstructs the externally-visible base URL of the request,
// honoring proxy forwarding headers. Returns "" when it cannot be determined.
func RequestOrigin(r *http.Request) string {
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	if host == "" {
		return ""
	}
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		if r.TLS != nil {
			scheme = "https"
		} else {
			scheme = "http"
		}
	}
	return scheme + "://" + host
}
