// Package middleware provides the HTTP middleware shared by the search and
// analytics services: request IDs, CORS, Prometheus metrics, rate limiting
// and request timeouts.
package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/condition-search/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records request count, latency and in-flight requests, labelled
// by route rather than raw path.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := routeLabel(r.URL.Path)
			timer := prometheus.NewTimer(m.HTTPRequestDuration.WithLabelValues(r.Method, route))
			m.HTTPRequestsInFlight.Inc()
			defer m.HTTPRequestsInFlight.Dec()

			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			timer.ObserveDuration()
			m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.code())).Inc()
		})
	}
}

// statusRecorder remembers the first status code written.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

func (s *statusRecorder) code() int {
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}

// parameterised routes, longest prefix first
var routePrefixes = []struct{ prefix, label string }{
	{"/api/v1/documents/", "/api/v1/documents/{index}/{id}"},
	{"/api/v1/filters/", "/api/v1/filters/{name}"},
}

// routeLabel keeps label cardinality bounded: path parameters collapse to
// their pattern and anything outside the served trees becomes "other".
func routeLabel(path string) string {
	for _, p := range routePrefixes {
		if strings.HasPrefix(path, p.prefix) {
			return p.label
		}
	}
	switch {
	case strings.HasPrefix(path, "/api/v1/"), strings.HasPrefix(path, "/health/"), path == "/metrics":
		return path
	}
	return "other"
}
