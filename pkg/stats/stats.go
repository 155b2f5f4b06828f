// Package stats collects per-connection transfer statistics. The
// aggregator is append-only while streams run and is read once at
// closedown, so atomic counters plus one mutex for the clock and the
// per-second windows are all the synchronisation needed.
package stats

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crazyscot/qcp-sub001/pkg/protocol"
	"github.com/crazyscot/qcp-sub001/pkg/wire"
)

// Aggregator accumulates connection counters from the QUIC tracer and
// payload progress from the transfer engine.
type Aggregator struct {
	sentPackets      atomic.Uint64
	sentBytes        atomic.Uint64
	lostPackets      atomic.Uint64
	lostBytes        atomic.Uint64
	congestionEvents atomic.Uint64
	blackHoles       atomic.Uint64
	cwnd             atomic.Uint64
	rttMicros        atomic.Uint64
	pmtu             atomic.Uint64

	payloadBytes atomic.Uint64

	mu      sync.Mutex
	started time.Time
	ended   time.Time
	// windows holds per-second payload byte counts for the peak figure.
	windows map[int64]uint64
}

// NewAggregator starts the clock.
func NewAggregator() *Aggregator {
	return &Aggregator{started: time.Now(), windows: make(map[int64]uint64)}
}

// RecordPayload counts payload bytes as they move, attributing them to
// the current one-second window.
func (a *Aggregator) RecordPayload(n int) {
	if n <= 0 {
		return
	}
	a.payloadBytes.Add(uint64(n))
	now := time.Now().Unix()
	a.mu.Lock()
	a.windows[now] += uint64(n)
	a.mu.Unlock()
}

// Finish stops the clock. Idempotent enough for our single caller.
func (a *Aggregator) Finish() {
	a.mu.Lock()
	a.ended = time.Now()
	a.mu.Unlock()
}

// PayloadBytes returns the total payload moved.
func (a *Aggregator) PayloadBytes() uint64 { return a.payloadBytes.Load() }

// SetPMTU records the discovered path MTU, if the transport learns it.
func (a *Aggregator) SetPMTU(v uint64) { a.pmtu.Store(v) }

// RttMicros returns the last smoothed RTT observation, in microseconds.
func (a *Aggregator) RttMicros() uint64 { return a.rttMicros.Load() }

// Elapsed is the transport interval so far (or total, after Finish).
func (a *Aggregator) Elapsed() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	end := a.ended
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(a.started)
}

// AverageThroughput is payload bytes per second over the transport
// interval.
func (a *Aggregator) AverageThroughput() float64 {
	secs := a.Elapsed().Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(a.payloadBytes.Load()) / secs
}

// PeakThroughput is the best one-second window, in bytes per second.
func (a *Aggregator) PeakThroughput() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var peak uint64
	for _, v := range a.windows {
		if v > peak {
			peak = v
		}
	}
	return peak
}

// BuildReport snapshots the counters into the wire form. The RTT and
// PMTU extensions are omitted when nothing was observed.
func (a *Aggregator) BuildReport() *protocol.ClosedownReportV1 {
	var ext []wire.TaggedData
	if v := a.pmtu.Load(); v != 0 {
		ext = append(ext, wire.TaggedUnsigned(protocol.ClosedownExtPmtu, v))
	}
	if v := a.rttMicros.Load(); v != 0 {
		ext = append(ext, wire.TaggedUnsigned(protocol.ClosedownExtRtt, v))
	}
	return &protocol.ClosedownReportV1{
		Cwnd:             a.cwnd.Load(),
		SentPackets:      a.sentPackets.Load(),
		LostPackets:      a.lostPackets.Load(),
		LostBytes:        a.lostBytes.Load(),
		CongestionEvents: a.congestionEvents.Load(),
		BlackHoles:       a.blackHoles.Load(),
		SentBytes:        a.sentBytes.Load(),
		Extension:        ext,
	}
}

// Summary is what the client prints after combining the server's report
// with its own measurements.
type Summary struct {
	PayloadBytes  uint64
	Elapsed       time.Duration
	AverageBps    float64
	PeakBps       uint64
	RemoteReport  *protocol.ClosedownReportV1
	RttWarning    string
	ConfiguredRtt time.Duration
	MeasuredRtt   time.Duration
}

// Summarize combines local measurements with the server's report and
// produces the RTT advisory when the measured value exceeds the
// configured one by more than 10%.
func (a *Aggregator) Summarize(remote *protocol.ClosedownReportV1, configuredRtt time.Duration) Summary {
	s := Summary{
		PayloadBytes:  a.payloadBytes.Load(),
		Elapsed:       a.Elapsed(),
		AverageBps:    a.AverageThroughput(),
		PeakBps:       a.PeakThroughput(),
		RemoteReport:  remote,
		ConfiguredRtt: configuredRtt,
	}
	measured := time.Duration(a.rttMicros.Load()) * time.Microsecond
	if measured == 0 && remote != nil {
		if v, ok := wire.FindUnsigned(remote.Extension, protocol.ClosedownExtRtt); ok {
			measured = time.Duration(v) * time.Microsecond
		}
	}
	s.MeasuredRtt = measured
	if configuredRtt > 0 && measured > configuredRtt+configuredRtt/10 {
		s.RttWarning = fmt.Sprintf(
			"measured RTT %v exceeds configured %v; consider raising the rtt setting for better throughput",
			measured.Round(time.Millisecond), configuredRtt)
	}
	return s
}
