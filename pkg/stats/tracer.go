package stats

import (
	"context"
	"sync"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/logging"
)

// Tracer returns a quic.Config tracer hook feeding the aggregator.
// Sent packets, sent bytes and lost packets count every packet,
// handshake packets included; lost bytes are attributed only for 1-RTT
// (short header) packets, whose sizes are tracked while in flight.
func (a *Aggregator) Tracer() func(context.Context, logging.Perspective, quic.ConnectionID) *logging.ConnectionTracer {
	return func(context.Context, logging.Perspective, quic.ConnectionID) *logging.ConnectionTracer {
		return a.connectionTracer()
	}
}

func (a *Aggregator) connectionTracer() *logging.ConnectionTracer {
	// Sizes of in-flight short-header packets, so a loss can be
	// attributed in bytes. Entries leave on ack or loss.
	inFlight := struct {
		sync.Mutex
		m map[logging.PacketNumber]uint64
	}{m: make(map[logging.PacketNumber]uint64)}

	return &logging.ConnectionTracer{
		SentShortHeaderPacket: func(hdr *logging.ShortHeader, size logging.ByteCount, _ logging.ECN, _ *logging.AckFrame, _ []logging.Frame) {
			a.sentPackets.Add(1)
			a.sentBytes.Add(uint64(size))
			inFlight.Lock()
			inFlight.m[hdr.PacketNumber] = uint64(size)
			inFlight.Unlock()
		},
		SentLongHeaderPacket: func(_ *logging.ExtendedHeader, size logging.ByteCount, _ logging.ECN, _ *logging.AckFrame, _ []logging.Frame) {
			a.sentPackets.Add(1)
			a.sentBytes.Add(uint64(size))
		},
		AcknowledgedPacket: func(level logging.EncryptionLevel, pn logging.PacketNumber) {
			if level != logging.Encryption1RTT {
				return
			}
			inFlight.Lock()
			delete(inFlight.m, pn)
			inFlight.Unlock()
		},
		LostPacket: func(level logging.EncryptionLevel, pn logging.PacketNumber, _ logging.PacketLossReason) {
			a.lostPackets.Add(1)
			if level != logging.Encryption1RTT {
				return
			}
			inFlight.Lock()
			if size, ok := inFlight.m[pn]; ok {
				a.lostBytes.Add(size)
				delete(inFlight.m, pn)
			}
			inFlight.Unlock()
		},
		UpdatedMetrics: func(rttStats *logging.RTTStats, cwnd, _ logging.ByteCount, _ int) {
			a.cwnd.Store(uint64(cwnd))
			if rttStats != nil {
				if rtt := rttStats.SmoothedRTT(); rtt > 0 {
					a.rttMicros.Store(uint64(rtt.Microseconds()))
				}
			}
		},
		UpdatedCongestionState: func(state logging.CongestionState) {
			if state == logging.CongestionStateRecovery {
				a.congestionEvents.Add(1)
			}
		},
	}
}
