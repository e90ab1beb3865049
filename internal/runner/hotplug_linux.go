//go:build linux

package runner

import (
	"context"
	"errors"
	"log/slog"

	"github.com/smazurov/isppipe/internal/events"
	"github.com/smazurov/isppipe/pkg/linuxav/hotplug"
)

// WatchHotplug publishes a DeviceHotplugEvent for every video4linux node
// added or removed, until ctx is done.
func WatchHotplug(ctx context.Context, bus *events.Bus, logger *slog.Logger) error {
	m, err := hotplug.NewMonitor()
	if err != nil {
		return err
	}
	defer m.Close()
	m.AddSubsystemFilter(hotplug.SubsystemVideo4Linux)

	ch := make(chan hotplug.Event, 16)
	errc := make(chan error, 1)
	go func() { errc <- m.Run(ctx, ch) }()

	logger.Info("Hotplug monitor started", "subsystem", hotplug.SubsystemVideo4Linux)
	for ev := range ch {
		publishHotplug(bus, logger, ev)
	}

	err = <-errc
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func publishHotplug(bus *events.Bus, logger *slog.Logger, ev hotplug.Event) {
	if ev.Action != hotplug.ActionAdd && ev.Action != hotplug.ActionRemove {
		return
	}
	node := ev.Node()
	if node == "" {
		return
	}
	logger.Debug("Video device event", "device", node, "action", ev.Action)
	bus.Publish(events.DeviceHotplugEvent{
		DevicePath: node,
		Action:     ev.Action,
		Timestamp:  timestamp(),
	})
}
