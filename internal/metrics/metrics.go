package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors exported on /metrics
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
	MessagesSent      *prometheus.CounterVec
	PolicyRejections  prometheus.Counter
	ConversationsOpen prometheus.Counter
	MessagesMarked    prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "messaging",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "messaging",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "messaging",
			Name:      "messages_sent_total",
			Help:      "Messages stored, by conversation type.",
		}, []string{"type"}),
		PolicyRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "messaging",
			Name:      "policy_rejections_total",
			Help:      "Messages rejected by the role pair policy.",
		}),
		ConversationsOpen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "messaging",
			Name:      "conversations_created_total",
			Help:      "Conversations created.",
		}),
		MessagesMarked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "messaging",
			Name:      "messages_marked_read_total",
			Help:      "Messages flipped to read.",
		}),
	}

	m.Registry.MustRegister(
		m.HTTPRequests,
		m.HTTPDuration,
		m.MessagesSent,
		m.PolicyRejections,
		m.ConversationsOpen,
		m.MessagesMarked,
		prometheus.NewGoCollector(),
	)

	return m
}
