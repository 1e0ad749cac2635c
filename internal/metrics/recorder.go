// Package metrics records service counters and latencies.
package metrics

import "time"

// Assistant outcomes.
const (
	OutcomeSuccess       = "success"
	OutcomeInvalid       = "invalid"
	OutcomeConfiguration = "configuration"
	OutcomeUpstream      = "upstream"
	OutcomeProtocol      = "protocol"
)

// Recorder defines the interface for recording service metrics.
type Recorder interface {
	// ObserveAssistant records one proxy call and how it ended.
	ObserveAssistant(outcome string, duration time.Duration)
	// IncScreener counts screener navigation events (advance, retreat, complete, exit).
	IncScreener(event string)
	// IncDocument counts document phase changes.
	IncDocument(status string)
	// IncSession counts session lifecycle events (created, rehydrated, evicted, reset).
	IncSession(event string)
}

// NoopRecorder implements Recorder with no-op behavior for when metrics are disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder that discards all metrics.
func Nop() Recorder {
	return NoopRecorder{}
}

func (NoopRecorder) ObserveAssistant(string, time.Duration) {}
func (NoopRecorder) IncScreener(string)                     {}
func (NoopRecorder) IncDocument(string)                     {}
func (NoopRecorder) IncSession(string)                      {}
