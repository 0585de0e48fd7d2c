package metrics

import "time"

// ResultLabel enumerates outcome categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultFailed   ResultLabel = "failed"
	ResultPanicked ResultLabel = "panicked"
	ResultCanceled ResultLabel = "canceled"
)

// Recorder defines observability hooks for scheduling, bootstrap, extension loading
// and updates. Implementations may forward to Prometheus or anything else.
type Recorder interface {
	ObserveTaskDuration(domain, task string, d time.Duration)
	IncTaskResult(domain string, result ResultLabel)
	SetQueueDepth(domain string, n int)
	ObserveStepDuration(step string, d time.Duration, result ResultLabel)
	IncExtensionLoad(capability string, result ResultLabel)
	IncUpdateOutcome(stage string, result ResultLabel)
	SetSessions(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveTaskDuration(string, string, time.Duration)      {}
func (NoopRecorder) IncTaskResult(string, ResultLabel)                      {}
func (NoopRecorder) SetQueueDepth(string, int)                              {}
func (NoopRecorder) ObserveStepDuration(string, time.Duration, ResultLabel) {}
func (NoopRecorder) IncExtensionLoad(string, ResultLabel)                   {}
func (NoopRecorder) IncUpdateOutcome(string, ResultLabel)                   {}
func (NoopRecorder) SetSessions(int)                                        {}

// OrNoop returns r, or NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
