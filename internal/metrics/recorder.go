// Package metrics records build and live-reload activity. The Prometheus
// implementation is served from the live server's metrics route.
package metrics

import "time"

// BuildOutcome labels the result of one stylesheet build.
type BuildOutcome string

const (
	OutcomeSuccess  BuildOutcome = "success"
	OutcomeFailed   BuildOutcome = "failed"
	OutcomeCanceled BuildOutcome = "canceled"
)

// Broadcast kinds.
const (
	BroadcastReload = "reload"
	BroadcastInject = "inject"
)

// Recorder defines observability hooks for builds and reload clients. All
// methods must be safe to call concurrently.
type Recorder interface {
	ObserveBuildDuration(d time.Duration)
	IncBuildOutcome(outcome BuildOutcome)
	AddCompileErrors(n int)
	IncBroadcast(kind string)
	IncDroppedClients(n int)
	SetClients(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveBuildDuration(time.Duration) {}
func (NoopRecorder) IncBuildOutcome(BuildOutcome)       {}
func (NoopRecorder) AddCompileErrors(int)               {}
func (NoopRecorder) IncBroadcast(string)                {}
func (NoopRecorder) IncDroppedClients(int)              {}
func (NoopRecorder) SetClients(int)                     {}
