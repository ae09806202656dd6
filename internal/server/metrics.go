package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	envelopesScreened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "advocate_envelopes_screened_total",
		Help: "Inbound envelopes by screening outcome.",
	}, []string{"action"})

	envelopesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "advocate_envelopes_rejected_total",
		Help: "Inbound envelopes rejected before screening (authenticity, decryption, expiry).",
	})

	negotiations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "advocate_negotiations_total",
		Help: "Access negotiations by outcome.",
	}, []string{"outcome"})

	tokensIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "advocate_tokens_issued_total",
		Help: "Capability tokens issued.",
	})

	tokensRevoked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "advocate_tokens_revoked_total",
		Help: "Capability tokens revoked.",
	})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "advocate_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})
)
