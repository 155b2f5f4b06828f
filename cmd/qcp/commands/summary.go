package commands

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/crazyscot/qcp-sub001/internal/bytesize"
	"github.com/crazyscot/qcp-sub001/internal/logger"
	"github.com/crazyscot/qcp-sub001/pkg/metrics"
	"github.com/crazyscot/qcp-sub001/pkg/stats"
)

// printSummary reports the transfer outcome: one throughput line
// always, the full statistics block on request.
func printSummary(cmd *cobra.Command, s stats.Summary, detailed bool) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s transferred in %s (%s/s average, %s/s peak)\n",
		bytesize.ByteSize(s.PayloadBytes),
		s.Elapsed.Round(time.Millisecond),
		bytesize.ByteSize(uint64(s.AverageBps)),
		bytesize.ByteSize(s.PeakBps))
	if s.RttWarning != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", s.RttWarning)
	}
	if !detailed || s.RemoteReport == nil {
		return
	}
	r := s.RemoteReport
	fmt.Fprintf(out, "remote: %d packets sent, %d lost (%d bytes), cwnd %d, %d congestion events, %d black holes\n",
		r.SentPackets, r.LostPackets, r.LostBytes, r.Cwnd, r.CongestionEvents, r.BlackHoles)
	if s.MeasuredRtt > 0 {
		fmt.Fprintf(out, "rtt: measured %s (configured %s)\n",
			s.MeasuredRtt.Round(time.Millisecond), s.ConfiguredRtt)
	}
}

// maybeServeMetrics starts the Prometheus endpoint when requested.
func maybeServeMetrics(addr string) {
	if addr == "" {
		return
	}
	reg := metrics.InitRegistry()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Warn("metrics server exited", "err", err)
		}
	}()
}
