// Package led drives a board status LED from the pipeline state.
package led

// Pattern is how a lit LED behaves.
type Pattern string

// Patterns understood by every controller.
const (
	PatternSolid     Pattern = "solid"
	PatternHeartbeat Pattern = "heartbeat"
)

// Controller abstracts LED hardware control across boards.
type Controller interface {
	// Set switches the named LED and applies pattern. An empty pattern
	// leaves the current trigger in place.
	Set(name string, on bool, pattern Pattern) error

	// Available returns the LED names this controller knows about.
	Available() []string
}
