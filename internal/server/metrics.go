package server

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sirosfoundation/go-as2/pkg/as2"
	"github.com/sirosfoundation/go-as2/pkg/mdn"
	"github.com/sirosfoundation/go-as2/pkg/security"
)

var (
	metricMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "as2_messages_total",
			Help: "Inbound AS2 messages by outcome.",
		},
		[]string{
			"status", // processed, failed, rejected
		},
	)
	metricFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "as2_message_failures_total",
			Help: "Inbound AS2 message failures by reason.",
		},
		[]string{
			"reason",
		},
	)
	metricSignatureFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "as2_signature_failures_accepted_total",
			Help: "Messages processed although their signature did not verify.",
		},
	)
	metricDuplicates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "as2_duplicate_messages_total",
			Help: "Retransmitted messages acknowledged without delivery.",
		},
	)
	metricDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "as2_request_duration_seconds",
			Help:    "Inbound AS2 request processing duration.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
	)
	metricPayloadSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "as2_payload_bytes",
			Help:    "Size of delivered payloads.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		},
	)
)

// failureReason maps processing errors to metric labels
func failureReason(err error) string {
	switch {
	case errors.Is(err, as2.ErrDestinationMismatch):
		return "destination"
	case errors.Is(err, as2.ErrPartnerMismatch):
		return "partner"
	case errors.Is(err, as2.ErrNoPayload):
		return "no_payload"
	case errors.Is(err, as2.ErrHandler):
		return "handler"
	case errors.Is(err, security.ErrDecryption):
		return "decryption"
	case errors.Is(err, as2.ErrSignatureRejected):
		return "signature"
	case errors.Is(err, mdn.ErrSigning):
		return "mdn_signing"
	default:
		return "other"
	}
}
