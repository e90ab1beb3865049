package pipeline

// State is the pipeline lifecycle state.
type State int

// Pipeline states.
const (
	StateUninitialized State = iota
	StateConfigured
	StateStreaming
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConfigured:
		return "configured"
	case StateStreaming:
		return "streaming"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// canTransition reports whether from → to is a legal lifecycle edge.
// Stopped is reachable from every state.
func canTransition(from, to State) bool {
	switch to {
	case StateConfigured:
		return from == StateUninitialized || from == StateStopped
	case StateStreaming:
		return from == StateConfigured
	case StateStopped:
		return true
	default:
		return false
	}
}

// FailurePolicy decides what Tick reports when a step fails.
type FailurePolicy int

// Failure policies.
const (
	// PolicyDegrade logs the failure and returns the previous valid index
	// with a nil error.
	PolicyDegrade FailurePolicy = iota
	// PolicyStrict returns the previous valid index together with the error.
	PolicyStrict
)

func (p FailurePolicy) String() string {
	if p == PolicyStrict {
		return "strict"
	}
	return "degrade"
}

// ParseFailurePolicy parses "degrade" or "strict".
func ParseFailurePolicy(s string) (FailurePolicy, bool) {
	switch s {
	case "", "degrade":
		return PolicyDegrade, true
	case "strict":
		return PolicyStrict, true
	default:
		return PolicyDegrade, false
	}
}
