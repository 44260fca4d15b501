package orchestrator

// State is the orchestrator's lifecycle stage. A run moves forward through
// the states and never back.
type State int

const (
	// Idle: Run hasn't been called.
	Idle State = iota

	// Building: the first styles build is underway and stylesheet requests
	// are being held.
	Building

	// Serving: the watcher and server are up and the first build, if
	// any, has settled. Rebuilds happen without leaving this state.
	Serving

	// ShuttingDown: the run is over or canceled.
	ShuttingDown
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Building:
		return "building"
	case Serving:
		return "serving"
	case ShuttingDown:
		return "shutting down"
	default:
		return "invalid"
	}
}

// State returns the current lifecycle stage.
func (o *Orchestrator) State() State {
	defer o.mu.Lock("State").Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	defer o.mu.Lock("setState").Unlock()
	o.state = s
}
