package firebase

import (
	"github.com/clambin/go-common/http/metrics"
	"github.com/clambin/go-common/http/roundtripper"
	"github.com/prometheus/client_golang/prometheus"
	"net/http"
	"strconv"
	"strings"
)

// NewInstrumentedHTTPClient returns an http.Client that records the latency and outcome of every database call.
func NewInstrumentedHTTPClient(registry prometheus.Registerer) *http.Client {
	m := metrics.NewRequestMetrics(metrics.Options{
		Namespace: "aircon",
		Subsystem: "store",
		LabelValues: func(request *http.Request, code int) (string, string, string) {
			return request.Method, metricsPath(request.URL.Path), strconv.Itoa(code)
		},
	})
	registry.MustRegister(m)

	return &http.Client{
		Transport: roundtripper.New(
			roundtripper.WithRequestMetrics(m),
			roundtripper.WithRoundTripper(http.DefaultTransport),
		),
	}
}

// metricsPath limits label cardinality: schedule ids are dropped from the path.
func metricsPath(path string) string {
	path = strings.TrimSuffix(strings.TrimPrefix(path, "/"), ".json")
	segments := strings.SplitN(path, "/", 3)
	if len(segments) > 2 {
		segments = segments[:2]
	}
	return "/" + strings.Join(segments, "/")
}
