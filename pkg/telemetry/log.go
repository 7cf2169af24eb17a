package telemetry

import (
	"github.com/pion/logging"

	"github.com/backkem/roverfeed/pkg/stream"
)

// LogSink writes each debug snapshot as one log line.
type LogSink struct {
	log logging.LeveledLogger
}

var _ stream.TelemetrySink = (*LogSink)(nil)

// NewLogSink creates a LogSink. A nil factory uses pion's default.
func NewLogSink(loggerFactory logging.LoggerFactory) *LogSink {
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}
	return &LogSink{log: loggerFactory.NewLogger("telemetry")}
}

// Publish implements stream.TelemetrySink.
func (l *LogSink) Publish(s stream.DebugSnapshot) {
	if s.LastError != "" {
		l.log.Warnf("transport=%s/%s connected=%v attempts=%d error=%q",
			s.RequestedTransport, s.ResolvedTransport, s.Connected, s.ReconnectAttempts, s.LastError)
		return
	}
	l.log.Debugf("transport=%s/%s connecting=%v connected=%v quality=%d fps=%.1f kbps=%.1f latency=%.0fms frames=%d",
		s.RequestedTransport, s.ResolvedTransport, s.Connecting, s.Connected,
		s.Quality, s.FPS, s.BandwidthKbps, s.LatencyMs, s.FrameCount)
}
