// Package logging provides structured logging with per-module log level configuration.
//
// Records go to stdout (text or json) and, when journald is reachable, to
// the systemd journal as well.
//
// Initialize once at startup, and again after a config reload:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"pipeline":   "debug",
//			"negotiator": "warn",
//		},
//	})
//
// Get a logger for your module:
//
//	logger := logging.GetLogger("pipeline")
//	logger.Info("Pipeline configured", "slots", 4, "geometry", "1920x1080")
//	logger.Warn("Tick step failed", "stage", "capture", "op", "dequeue", "error", err)
//
// Module levels override the global level for that module only. Loggers
// obtained before Initialize keep their LevelVar, so they follow later
// level changes.
//
// # Viewing Logs
//
//	journalctl -t isppipe -f
//	journalctl -t isppipe MODULE=negotiator
//	journalctl -t isppipe STAGE=isp-input -p warning
//
// # Configuration
//
//	[logging]
//	level = "info"
//	format = "text"
//	pipeline = "debug"
//	devices = "warn"
package logging
