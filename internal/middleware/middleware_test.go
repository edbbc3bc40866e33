package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/maltehedderich/mealplan-api/internal/apperror"
	"github.com/maltehedderich/mealplan-api/internal/config"
	"github.com/maltehedderich/mealplan-api/internal/logger"
)

func initTestLogger() *bytes.Buffer {
	buf := &bytes.Buffer{}
	logger.Init(logger.DebugLevel, "json", buf)
	return buf
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func TestWriteError(t *testing.T) {
	initTestLogger()

	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedBody   string
		retryHeader    string
		retryMS        int64
	}{
		{
			name:           "rate limited",
			err:            apperror.RateLimited("createMenu", 25, 2500*time.Millisecond),
			expectedStatus: http.StatusTooManyRequests,
			expectedBody:   "Rate limit exceeded. Please try again later.",
			retryHeader:    "3",
			retryMS:        2500,
		},
		{
			name:           "rate limited without hint",
			err:            apperror.RateLimited("generateRecipeAI", 0, 0),
			expectedStatus: http.StatusTooManyRequests,
			expectedBody:   "Rate limit exceeded. Please try again later.",
		},
		{
			name:           "unauthenticated",
			err:            apperror.Unauthenticated("Authentication required"),
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   "Authentication required",
		},
		{
			name:           "upstream hides provider detail",
			err:            apperror.Upstream(errors.New("openai: 500 model overloaded")),
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   "The AI service failed to process the request. Please try again.",
		},
		{
			name:           "untyped error hides detail",
			err:            fmt.Errorf("dynamodb: connection reset"),
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   "Internal server error",
		},
		{
			name:           "canceled",
			err:            context.Canceled,
			expectedStatus: apperror.StatusClientClosedRequest,
			expectedBody:   "Request canceled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			WriteError(rr, httptest.NewRequest(http.MethodPost, "/api/ai/generate-recipe", nil), tt.err)

			if rr.Code != tt.expectedStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.expectedStatus)
			}
			if got := rr.Header().Get("Retry-After"); got != tt.retryHeader {
				t.Errorf("Retry-After = %q, want %q", got, tt.retryHeader)
			}

			resp := decodeError(t, rr)
			if resp.Error != tt.expectedBody {
				t.Errorf("error = %q, want %q", resp.Error, tt.expectedBody)
			}
			if tt.expectedStatus == http.StatusTooManyRequests {
				if resp.RetryAfterMS == nil || *resp.RetryAfterMS != tt.retryMS {
					t.Errorf("retry_after_ms = %v, want %d", resp.RetryAfterMS, tt.retryMS)
				}
				if rr.Header().Get("X-RateLimit-Remaining") != "0" {
					t.Error("expected X-RateLimit-Remaining: 0")
				}
			} else if resp.RetryAfterMS != nil {
				t.Error("retry_after_ms only belongs to 429 responses")
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	initTestLogger()

	tests := []struct {
		name           string
		handler        http.HandlerFunc
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "no panic",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusCreated)
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "panic before writing",
			handler: func(w http.ResponseWriter, r *http.Request) {
				panic("test panic")
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   "Internal server error",
		},
		{
			name: "panic after writing keeps status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusAccepted)
				panic("late panic")
			},
			expectedStatus: http.StatusAccepted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			Recovery()(tt.handler).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/test", nil))

			if rr.Code != tt.expectedStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.expectedStatus)
			}
			if tt.expectedBody != "" {
				if resp := decodeError(t, rr); resp.Error != tt.expectedBody {
					t.Errorf("error = %q, want %q", resp.Error, tt.expectedBody)
				}
			}
		})
	}
}

func TestLogging(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		query         string
		expectedLevel string
		redacted      bool
	}{
		{"success", http.StatusOK, "", "INFO", false},
		{"client error", http.StatusTooManyRequests, "", "WARN", false},
		{"server error", http.StatusInternalServerError, "", "ERROR", false},
		{"sensitive query", http.StatusOK, "token=secret123&page=2", "INFO", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := initTestLogger()
			handler := Logging()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))

			target := "/api/recipes"
			if tt.query != "" {
				target += "?" + tt.query
			}
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, nil))

			var entry map[string]interface{}
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("failed to parse log entry %q: %v", buf.String(), err)
			}
			if entry["level"] != tt.expectedLevel {
				t.Errorf("level = %v, want %s", entry["level"], tt.expectedLevel)
			}
			if tt.redacted && strings.Contains(buf.String(), "secret123") {
				t.Error("token leaked into request log")
			}
		})
	}
}

func TestLogging_ClientGoneIs499(t *testing.T) {
	buf := initTestLogger()
	handler := Logging()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/ai/generate-image", nil).WithContext(ctx)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !strings.Contains(buf.String(), `"status":499`) {
		t.Errorf("expected status 499 in log, got %s", buf.String())
	}
}

func TestCorrelationID(t *testing.T) {
	initTestLogger()

	tests := []struct {
		name     string
		incoming string
		reuse    bool
	}{
		{"generated when missing", "", false},
		{"reused when valid", "req-abc.123", true},
		{"replaced when malformed", "bad id with spaces", false},
		{"replaced when too long", strings.Repeat("a", 129), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := CorrelationID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = logger.GetCorrelationID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(logger.CorrelationHeader, tt.incoming)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if seen == "" || rr.Header().Get(logger.CorrelationHeader) != seen {
				t.Fatalf("context ID %q, header %q", seen, rr.Header().Get(logger.CorrelationHeader))
			}
			if (seen == tt.incoming) != tt.reuse {
				t.Errorf("reuse = %v, want %v (got %q)", seen == tt.incoming, tt.reuse, seen)
			}
		})
	}
}

func TestInputValidation(t *testing.T) {
	initTestLogger()
	cfg := &config.SecurityConfig{
		MaxRequestBodySize: 16,
		MaxURLPathLength:   32,
		AllowedMethods:     []string{"GET", "POST"},
	}

	handler := InputValidation(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		if _, err := body.ReadFrom(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name           string
		method         string
		path           string
		body           string
		expectedStatus int
	}{
		{"valid", http.MethodPost, "/api/recipes", "{}", http.StatusOK},
		{"method not allowed", http.MethodPatch, "/api/recipes", "", http.StatusMethodNotAllowed},
		{"path too long", http.MethodGet, "/" + strings.Repeat("x", 40), "", http.StatusRequestURITooLong},
		{"body too large", http.MethodPost, "/api/recipes", strings.Repeat("x", 64), http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body)))
			if rr.Code != tt.expectedStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.expectedStatus)
			}
		})
	}
}

func TestSecurity(t *testing.T) {
	cfg := &config.SecurityConfig{
		EnableHSTS:            true,
		HSTSMaxAge:            31536000,
		HSTSIncludeSubdomains: true,
		ContentSecurityPolicy: "default-src 'none'",
		FrameOptions:          "DENY",
		ContentTypeNosniff:    true,
		ReferrerPolicy:        "no-referrer",
	}

	rr := httptest.NewRecorder()
	Security(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).
		ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	expected := map[string]string{
		"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
		"Content-Security-Policy":   "default-src 'none'",
		"X-Frame-Options":           "DENY",
		"X-Content-Type-Options":    "nosniff",
		"Referrer-Policy":           "no-referrer",
	}
	for header, want := range expected {
		if got := rr.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
}

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	handler := CORS([]string{"https://app.example.com"})(next)

	tests := []struct {
		name           string
		method         string
		origin         string
		preflight      bool
		expectedStatus int
		expectAllowed  bool
	}{
		{"allowed origin", http.MethodGet, "https://app.example.com", false, http.StatusOK, true},
		{"unknown origin", http.MethodGet, "https://evil.example.com", false, http.StatusOK, false},
		{"preflight", http.MethodOptions, "https://app.example.com", true, http.StatusNoContent, true},
		{"no origin", http.MethodGet, "", false, http.StatusOK, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/recipes", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.expectedStatus)
			}
			allowed := rr.Header().Get("Access-Control-Allow-Origin") == tt.origin && tt.origin != ""
			if allowed != tt.expectAllowed {
				t.Errorf("allowed = %v, want %v", allowed, tt.expectAllowed)
			}
		})
	}
}

func TestChain(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	base := NewChain(mark("first"), mark("second"))
	extended := base.Append(mark("third"))

	extended.ThenFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if got := strings.Join(order, ","); got != "first,second,third,handler" {
		t.Errorf("order = %s", got)
	}

	order = nil
	base.ThenFunc(func(w http.ResponseWriter, r *http.Request) {}).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if got := strings.Join(order, ","); got != "first,second" {
		t.Errorf("Append must not modify the base chain, got %s", got)
	}
}

func TestResponseWriter(t *testing.T) {
	rr := httptest.NewRecorder()
	rw := NewResponseWriter(rr)

	if rw.Status() != http.StatusOK || rw.Written() {
		t.Fatal("fresh writer should report 200 and not written")
	}
	if NewResponseWriter(rw) != rw {
		t.Error("wrapping twice should reuse the writer")
	}

	_, _ = rw.Write([]byte("hello"))
	rw.WriteHeader(http.StatusTeapot)

	if rw.Status() != http.StatusOK || rw.BytesWritten() != 5 {
		t.Errorf("status = %d, size = %d", rw.Status(), rw.BytesWritten())
	}
}
