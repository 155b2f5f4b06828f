// Package metrics holds the optional Prometheus registry. Metrics are
// off unless the CLI enables them; every recorder is safe to call on a
// nil receiver so instrumented code never has to check.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mu       sync.RWMutex
	registry *prometheus.Registry
)

// InitRegistry enables metrics collection.
func InitRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return registry != nil
}

// GetRegistry returns the registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	mu.RLock()
	defer mu.RUnlock()
	return registry
}

// TransferMetrics counts protocol activity. Obtain one from the
// prometheus subpackage; a nil pointer is a valid no-op instance.
type TransferMetrics struct {
	recordCommand      func(name string)
	recordPayloadBytes func(n int)
	recordStreamError  func(status interface{ String() string })
}

// New builds a TransferMetrics from raw hooks. Intended for the
// prometheus subpackage; tests may substitute their own.
func New(command func(string), payload func(int), streamErr func(interface{ String() string })) *TransferMetrics {
	return &TransferMetrics{
		recordCommand:      command,
		recordPayloadBytes: payload,
		recordStreamError:  streamErr,
	}
}

// RecordCommand counts a session command by name.
func (m *TransferMetrics) RecordCommand(name string) {
	if m == nil || m.recordCommand == nil {
		return
	}
	m.recordCommand(name)
}

// RecordPayloadBytes counts payload bytes moved in either direction.
func (m *TransferMetrics) RecordPayloadBytes(n int) {
	if m == nil || m.recordPayloadBytes == nil || n <= 0 {
		return
	}
	m.recordPayloadBytes(n)
}

// RecordStreamError counts a per-stream failure by status.
func (m *TransferMetrics) RecordStreamError(status interface{ String() string }) {
	if m == nil || m.recordStreamError == nil {
		return
	}
	m.recordStreamError(status)
}
