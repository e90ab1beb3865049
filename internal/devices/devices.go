// Package devices adapts V4L2 video nodes to the pipeline device interface
// and reports what a node supports.
package devices

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/smazurov/isppipe/internal/pipeline"
)

// QueueFormats lists the formats of one queue on a device.
type QueueFormats struct {
	Queue   string
	Formats []pipeline.FormatDesc
}

// ProbeResult describes a video node.
type ProbeResult struct {
	Path         string
	Identity     pipeline.Identity
	Capabilities []string
	Signal       string
	Timing       *pipeline.Timing
	Queues       []QueueFormats
}

// ResolvePath converts a device reference to a usable device path. Full
// paths are returned unchanged; stable V4L2 symlink names under
// /dev/v4l/by-id and /dev/v4l/by-path are resolved to their target.
func ResolvePath(ref string) (string, error) {
	return resolvePath(ref, "/dev/v4l")
}

func resolvePath(ref, v4lDir string) (string, error) {
	if strings.HasPrefix(ref, "/") {
		return ref, nil
	}

	// Try by-id first (for USB devices)
	if strings.HasPrefix(ref, "usb-") {
		if p, ok := resolveLink(filepath.Join(v4lDir, "by-id", ref)); ok {
			return p, nil
		}
	}

	// Try by-path (platform devices such as the CSI-2 receiver and the ISP)
	if strings.HasPrefix(ref, "platform-") || strings.HasPrefix(ref, "usb-") {
		if p, ok := resolveLink(filepath.Join(v4lDir, "by-path", ref)); ok {
			return p, nil
		}
	}

	return "", fmt.Errorf("no stable symlink found for device: %s", ref)
}

func resolveLink(link string) (string, bool) {
	if _, err := os.Stat(link); err != nil {
		return "", false
	}
	target, err := filepath.EvalSymlinks(link)
	if err != nil {
		return link, true
	}
	return target, true
}
