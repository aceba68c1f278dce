package speedwire

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type Instrument struct {
	RecordTime func(fnName string, readTime time.Duration)
}

func RecordTimer(name string, instrument []Instrument) func() {
	if instrument == nil {
		return func() {}
	}

	start := time.Now()
	return func() {
		duration := time.Since(start)
		for i := range instrument {
			instrument[i].RecordTime(name, duration)
		}
	}
}

func traceLoggerInstrumentation(logger *zap.Logger) *Instrument {
	return &Instrument{
		RecordTime: func(fnName string, readTime time.Duration) {
			logger.Debug("speedwire call", zap.String("fn", fnName), zap.Int64("millis", readTime.Milliseconds()))
		},
	}
}

func buildInstruments(logger *zap.Logger, instrumentation *Instrument) []Instrument {
	var inst []Instrument
	if logInst := traceLoggerInstrumentation(logger); logInst != nil {
		inst = append(inst, *logInst)
	}
	if instrumentation != nil {
		inst = append(inst, *instrumentation)
	}
	return inst
}

// Metrics holds the Prometheus collectors of the protocol engine. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	FramesSent     *prometheus.CounterVec
	Resends        prometheus.Counter
	FailedCommands prometheus.Counter
	Timeouts       *prometheus.CounterVec
	UnknownCodes   prometheus.Counter
	MeterPackets   *prometheus.CounterVec
	CallDuration   *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "speedwire",
			Name:      "frames_sent_total",
			Help:      "Frames sent to inverters, by command",
		}, []string{"command"}),
		Resends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "speedwire",
			Name:      "resends_total",
			Help:      "Command retransmissions after a command timeout",
		}),
		FailedCommands: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "speedwire",
			Name:      "failed_commands_total",
			Help:      "Commands abandoned after exhausting resends",
		}),
		Timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "speedwire",
			Name:      "session_timeouts_total",
			Help:      "Sessions that exceeded the overall timeout",
		}, []string{"target"}),
		UnknownCodes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "speedwire",
			Name:      "unknown_codes_total",
			Help:      "Registers with a response code missing from the catalog",
		}),
		MeterPackets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "speedwire",
			Name:      "meter_packets_total",
			Help:      "Energy meter datagrams, by outcome",
		}, []string{"outcome"}),
		CallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "speedwire",
			Name:      "call_duration_seconds",
			Help:      "Duration of client calls",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"fn"}),
	}
	if reg != nil {
		reg.MustRegister(m.FramesSent, m.Resends, m.FailedCommands, m.Timeouts,
			m.UnknownCodes, m.MeterPackets, m.CallDuration)
	}
	return m
}

// Instrument exposes the duration histogram as a RecordTimer hook.
func (m *Metrics) Instrument() *Instrument {
	if m == nil {
		return nil
	}
	return &Instrument{
		RecordTime: func(fnName string, readTime time.Duration) {
			m.CallDuration.WithLabelValues(fnName).Observe(readTime.Seconds())
		},
	}
}

func (m *Metrics) frameSent(command string) {
	if m != nil {
		m.FramesSent.WithLabelValues(command).Inc()
	}
}

func (m *Metrics) resent() {
	if m != nil {
		m.Resends.Inc()
	}
}

func (m *Metrics) commandFailed() {
	if m != nil {
		m.FailedCommands.Inc()
	}
}

func (m *Metrics) sessionTimeout(target string) {
	if m != nil {
		m.Timeouts.WithLabelValues(target).Inc()
	}
}

func (m *Metrics) unknownCode() {
	if m != nil {
		m.UnknownCodes.Inc()
	}
}

func (m *Metrics) meterPacket(outcome string) {
	if m != nil {
		m.MeterPackets.WithLabelValues(outcome).Inc()
	}
}
