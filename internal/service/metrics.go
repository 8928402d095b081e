package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llmstdio",
			Subsystem: "service",
			Name:      "requests_total",
			Help:      "Total number of requests read from the input channel",
		},
		[]string{"method"},
	)

	requestErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llmstdio",
			Subsystem: "service",
			Name:      "request_errors_total",
			Help:      "Total number of requests that produced an error diagnostic",
		},
		[]string{"method"},
	)

	streamedBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "llmstdio",
			Subsystem: "service",
			Name:      "streamed_bytes_total",
			Help:      "Total bytes of generated text written to the primary channel",
		},
	)

	chatDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "llmstdio",
			Subsystem: "service",
			Name:      "chat_duration_seconds",
			Help:      "Duration of chat requests including engine time",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal, requestErrorsTotal, streamedBytesTotal, chatDuration)
}
