package led

import (
	"log/slog"
	"os"
	"strings"
)

const deviceTreeModelPath = "/proc/device-tree/model"

// StatusLED is the LED name the manager drives.
const StatusLED = "status"

// New returns the status LED controller for the running board, or a no-op
// controller when the board is not recognised.
func New(logger *slog.Logger) Controller {
	return newForBoard(detectBoard(deviceTreeModelPath), sysfsLEDPath, logger)
}

func newForBoard(model, root string, logger *slog.Logger) Controller {
	switch {
	case strings.Contains(model, "Raspberry Pi"):
		logger.Info("Detected Raspberry Pi, using ACT LED for status", "board_model", model)
		return newSysfs(root, map[string]string{StatusLED: "ACT"})
	case strings.Contains(model, "NanoPC-T6"):
		logger.Info("Detected NanoPC-T6, using sys_led for status", "board_model", model)
		return newSysfs(root, map[string]string{StatusLED: "sys_led"})
	default:
		logger.Info("No status LED known for board, LED control disabled", "board_model", model)
		return newNoop(logger)
	}
}

// detectBoard reads the device tree model, which is NUL terminated.
func detectBoard(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "unknown"
	}
	return strings.TrimRight(string(data), "\x00")
}
