package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
)

type recorderKey struct{}

// resultRecorder keeps the most restrictive bucket result seen while
// serving one request
type resultRecorder struct {
	mu     sync.Mutex
	result *Result
}

func (rr *resultRecorder) record(r *Result) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	switch {
	case rr.result == nil:
		rr.result = r
	case rr.result.Allowed && !r.Allowed:
		rr.result = r
	case rr.result.Allowed == r.Allowed && r.Remaining < rr.result.Remaining:
		rr.result = r
	}
}

func (rr *resultRecorder) get() *Result {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return rr.result
}

func recordResult(ctx context.Context, r *Result) {
	if rr, ok := ctx.Value(recorderKey{}).(*resultRecorder); ok {
		rr.record(r)
	}
}

// Headers adds X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset
// to responses of requests that passed through a bucket check. Headers set
// by the handler itself are left alone.
func Headers() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rr := &resultRecorder{}
			ctx := context.WithValue(r.Context(), recorderKey{}, rr)
			next.ServeHTTP(&headerWriter{ResponseWriter: w, recorder: rr}, r.WithContext(ctx))
		})
	}
}

type headerWriter struct {
	http.ResponseWriter
	recorder    *resultRecorder
	wroteHeader bool
}

func (hw *headerWriter) WriteHeader(code int) {
	if !hw.wroteHeader {
		hw.wroteHeader = true
		if result := hw.recorder.get(); result != nil {
			addRateLimitHeaders(hw.Header(), result)
		}
	}
	hw.ResponseWriter.WriteHeader(code)
}

func (hw *headerWriter) Write(b []byte) (int, error) {
	if !hw.wroteHeader {
		hw.WriteHeader(http.StatusOK)
	}
	return hw.ResponseWriter.Write(b)
}

func (hw *headerWriter) Unwrap() http.ResponseWriter {
	return hw.ResponseWriter
}

func addRateLimitHeaders(h http.Header, result *Result) {
	if h.Get("X-RateLimit-Limit") != "" {
		return
	}
	h.Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(result.Reset.Unix(), 10))
}
