// Package systemd reports service readiness and liveness to systemd.
package systemd

import (
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends sd_notify state updates. Outside systemd (no
// NOTIFY_SOCKET) every call is a no-op.
type Notifier struct {
	notify   func(unsetEnvironment bool, state string) (bool, error)
	watchdog func(unsetEnvironment bool) (time.Duration, error)
}

// NewNotifier returns a notifier backed by go-systemd's daemon package.
func NewNotifier() *Notifier {
	return &Notifier{
		notify:   daemon.SdNotify,
		watchdog: daemon.SdWatchdogEnabled,
	}
}

// NewNotifierFunc returns a notifier that passes every state string to
// notify and never enables the watchdog.
func NewNotifierFunc(notify func(state string) error) *Notifier {
	return &Notifier{
		notify: func(_ bool, state string) (bool, error) {
			return true, notify(state)
		},
	}
}

func (n *Notifier) send(state string) error {
	if n == nil || n.notify == nil {
		return nil
	}
	_, err := n.notify(false, state)
	return err
}

// Ready reports READY=1 with a human readable status line.
func (n *Notifier) Ready(status string) error {
	return n.send(daemon.SdNotifyReady + "\nSTATUS=" + status)
}

// Stopping reports STOPPING=1.
func (n *Notifier) Stopping() error {
	return n.send(daemon.SdNotifyStopping)
}

// Reloading reports RELOADING=1 while the pipeline is rebuilt.
func (n *Notifier) Reloading() error {
	return n.send(daemon.SdNotifyReloading)
}

// Status updates the STATUS= line shown by systemctl status.
func (n *Notifier) Status(format string, args ...any) error {
	return n.send("STATUS=" + fmt.Sprintf(format, args...))
}

// Watchdog sends WATCHDOG=1.
func (n *Notifier) Watchdog() error {
	return n.send(daemon.SdNotifyWatchdog)
}

// WatchdogInterval returns how often Watchdog must be called, half the
// configured WatchdogSec, or 0 when the watchdog is disabled.
func (n *Notifier) WatchdogInterval() time.Duration {
	if n == nil || n.watchdog == nil {
		return 0
	}
	d, err := n.watchdog(false)
	if err != nil || d <= 0 {
		return 0
	}
	return d / 2
}
