// Package prometheus provides the Prometheus-backed implementation of
// the transfer metrics.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/crazyscot/qcp-sub001/pkg/metrics"
)

// NewTransferMetrics creates Prometheus-backed transfer metrics.
//
// Returns nil (a valid no-op recorder) if metrics are not enabled.
func NewTransferMetrics() *metrics.TransferMetrics {
	if !metrics.IsEnabled() {
		return nil
	}
	reg := metrics.GetRegistry()

	commands := promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "qcp_session_commands_total",
			Help: "Session commands handled, by command name",
		},
		[]string{"command"},
	)
	payload := promauto.With(reg).NewCounter(
		prometheus.CounterOpts{
			Name: "qcp_payload_bytes_total",
			Help: "Payload bytes moved between file system and streams",
		},
	)
	streamErrors := promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "qcp_stream_errors_total",
			Help: "Per-stream failures, by wire status",
		},
		[]string{"status"},
	)

	return metrics.New(
		func(name string) { commands.WithLabelValues(name).Inc() },
		func(n int) { payload.Add(float64(n)) },
		func(status interface{ String() string }) {
			streamErrors.WithLabelValues(status.String()).Inc()
		},
	)
}
