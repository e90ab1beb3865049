//go:build !linux

package devices

import (
	"context"
	"errors"
	"log/slog"

	"github.com/smazurov/isppipe/internal/pipeline"
)

// ErrUnsupported is returned on platforms without V4L2.
var ErrUnsupported = errors.New("V4L2 devices require linux")

// Open always fails off linux.
func Open(string) (pipeline.Device, error) {
	return nil, ErrUnsupported
}

// Probe always fails off linux.
func Probe(string) (ProbeResult, error) {
	return ProbeResult{}, ErrUnsupported
}

// CapabilityNames returns no names off linux.
func CapabilityNames(uint32) []string { return nil }

// WatchSourceChanges always fails off linux.
func WatchSourceChanges(context.Context, string, *slog.Logger, chan<- struct{}) error {
	return ErrUnsupported
}
