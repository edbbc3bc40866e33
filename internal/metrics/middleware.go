package metrics

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var idSegment = regexp.MustCompile(`^([0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}|[0-9]+)$`)

// Middleware records request counts, durations and in-flight requests.
// Requests to skipPath (usually the metrics endpoint) are not recorded.
func Middleware(skipPath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == skipPath {
				next.ServeHTTP(w, r)
				return
			}

			IncActiveRequests()
			defer DecActiveRequests()

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			status := rec.status
			if r.Context().Err() != nil && !rec.wrote {
				status = 499
			}
			RecordHTTPRequest(r.Method, NormalizeRoute(r.URL.Path), strconv.Itoa(status), time.Since(start))
		})
	}
}

// NormalizeRoute replaces ID segments with {id} to keep label cardinality bounded
func NormalizeRoute(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if idSegment.MatchString(seg) {
			segments[i] = "{id}"
		}
	}
	return strings.Join(segments, "/")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (rec *statusRecorder) WriteHeader(code int) {
	if !rec.wrote {
		rec.status = code
		rec.wrote = true
	}
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	rec.wrote = true
	return rec.ResponseWriter.Write(b)
}

func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}
