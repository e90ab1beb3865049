//go:build !linux

package runner

import (
	"context"
	"errors"
	"log/slog"

	"github.com/smazurov/isppipe/internal/events"
)

// WatchHotplug is unavailable without netlink.
func WatchHotplug(context.Context, *events.Bus, *slog.Logger) error {
	return errors.New("hotplug monitoring requires linux")
}
