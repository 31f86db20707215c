// Package observability owns the attempt-event sink and its logger and
// prometheus implementations.
//
// Ownership boundary:
// - structured per-attempt events emitted by the engine
// - metric/log serialization of those events
//
// Sinks are constructed at process start and injected; the engine never
// reaches for ambient global state and never blocks on a sink.
package observability

import (
	"time"

	"github.com/rs/zerolog"
)

// AttemptEvent is one transmission attempt's outcome, as seen by the engine.
type AttemptEvent struct {
	MsgID    string
	DeviceID string
	Attempt  int
	Outcome  string
	Elapsed  time.Duration
}

// Sink consumes attempt events. Implementations must not block.
type Sink interface {
	Observe(AttemptEvent)
}

// QueueDepthRecorder is optionally implemented by sinks that track
// per-device queue occupancy.
type QueueDepthRecorder interface {
	RecordQueueDepth(deviceID string, depth int)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Observe(AttemptEvent) {}

// LogSink writes attempt events as structured log lines.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(log zerolog.Logger) LogSink {
	return LogSink{log: log.With().Str("component", "attempts").Logger()}
}

func (s LogSink) Observe(ev AttemptEvent) {
	s.log.Info().
		Str("msg_id", ev.MsgID).
		Str("device_id", ev.DeviceID).
		Int("attempt", ev.Attempt).
		Str("outcome", ev.Outcome).
		Int64("elapsed_ms", ev.Elapsed.Milliseconds()).
		Msg("attempt")
}

type multiSink []Sink

// MultiSink fans one event out to several sinks.
func MultiSink(sinks ...Sink) Sink {
	return multiSink(sinks)
}

func (m multiSink) Observe(ev AttemptEvent) {
	for _, s := range m {
		s.Observe(ev)
	}
}

func (m multiSink) RecordQueueDepth(deviceID string, depth int) {
	for _, s := range m {
		if r, ok := s.(QueueDepthRecorder); ok {
			r.RecordQueueDepth(deviceID, depth)
		}
	}
}
