package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors shared by every route.
type Metrics struct {
	// RetriesTotal tracks issued retry attempts per route
	RetriesTotal *prometheus.CounterVec

	// RetriesPerRequest tracks the retry count of each logical call
	RetriesPerRequest *prometheus.HistogramVec

	// RequestStreamTooLong tracks calls whose request outgrew the replay buffer
	RequestStreamTooLong *prometheus.CounterVec

	// ResponseStreamTooLong tracks calls whose response outgrew the replay buffer
	ResponseStreamTooLong *prometheus.CounterVec

	// ClassificationTimeout tracks calls that fell back to pass-through on timeout
	ClassificationTimeout *prometheus.CounterVec
}

// NewMetrics registers the retry collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streamretry_retries_total",
				Help: "Total number of retry attempts issued",
			},
			[]string{"route"},
		),
		RetriesPerRequest: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "streamretry_retries_per_request",
				Help:    "Number of retries performed per logical call",
				Buckets: []float64{0, 1, 2, 3, 5, 10},
			},
			[]string{"route"},
		),
		RequestStreamTooLong: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streamretry_retries_request_stream_too_long_total",
				Help: "Logical calls that could not be retried because the request outgrew its buffer",
			},
			[]string{"route"},
		),
		ResponseStreamTooLong: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streamretry_retries_response_stream_too_long_total",
				Help: "Logical calls passed through because the response outgrew its buffer",
			},
			[]string{"route"},
		),
		ClassificationTimeout: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streamretry_retries_classification_timeout_total",
				Help: "Logical calls passed through because classification timed out",
			},
			[]string{"route"},
		),
	}
}

// ForRoute returns a Recorder labelled with route.
func (m *Metrics) ForRoute(route string) Recorder {
	return &routeRecorder{
		total:           m.RetriesTotal.WithLabelValues(route),
		perRequest:      m.RetriesPerRequest.WithLabelValues(route),
		requestTooLong:  m.RequestStreamTooLong.WithLabelValues(route),
		responseTooLong: m.ResponseStreamTooLong.WithLabelValues(route),
		timeout:         m.ClassificationTimeout.WithLabelValues(route),
	}
}

type routeRecorder struct {
	total           prometheus.Counter
	perRequest      prometheus.Observer
	requestTooLong  prometheus.Counter
	responseTooLong prometheus.Counter
	timeout         prometheus.Counter
}

func (r *routeRecorder) Retry()                  { r.total.Inc() }
func (r *routeRecorder) RetriesPerRequest(n int) { r.perRequest.Observe(float64(n)) }
func (r *routeRecorder) RequestStreamTooLong()   { r.requestTooLong.Inc() }
func (r *routeRecorder) ResponseStreamTooLong()  { r.responseTooLong.Inc() }
func (r *routeRecorder) ClassificationTimeout()  { r.timeout.Inc() }
