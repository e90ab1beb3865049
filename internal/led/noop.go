package led

import "log/slog"

// noop is the controller for boards without a known status LED.
type noop struct {
	logger *slog.Logger
}

func newNoop(logger *slog.Logger) *noop {
	return &noop{logger: logger}
}

func (n *noop) Set(name string, on bool, pattern Pattern) error {
	n.logger.Debug("LED control not available (no-op)", "led", name, "on", on, "pattern", pattern)
	return nil
}

func (n *noop) Available() []string { return []string{} }
