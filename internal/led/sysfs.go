package led

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
)

const sysfsLEDPath = "/sys/class/leds"

// sysfs implements Controller using the Linux LED class interface.
type sysfs struct {
	root string
	leds map[string]string // name -> sysfs directory
}

func newSysfs(root string, leds map[string]string) *sysfs {
	return &sysfs{root: root, leds: leds}
}

// trigger maps a pattern to the kernel trigger implementing it.
func trigger(p Pattern) string {
	switch p {
	case PatternSolid:
		return "none"
	case PatternHeartbeat:
		return "heartbeat"
	default:
		return string(p)
	}
}

func (s *sysfs) Set(name string, on bool, pattern Pattern) error {
	dir, ok := s.leds[name]
	if !ok {
		return fmt.Errorf("LED %q not supported on this board", name)
	}
	ledPath := filepath.Join(s.root, dir)
	if _, err := os.Stat(ledPath); err != nil {
		return fmt.Errorf("LED %q: %w", name, err)
	}

	if pattern != "" {
		if err := os.WriteFile(filepath.Join(ledPath, "trigger"), []byte(trigger(pattern)), 0o644); err != nil {
			return fmt.Errorf("failed to set LED trigger: %w", err)
		}
	}

	// A running trigger owns the brightness.
	if on && pattern != "" && pattern != PatternSolid {
		return nil
	}
	brightness := "0"
	if on {
		brightness = "1"
	}
	if err := os.WriteFile(filepath.Join(ledPath, "brightness"), []byte(brightness), 0o644); err != nil {
		return fmt.Errorf("failed to set LED brightness: %w", err)
	}
	return nil
}

func (s *sysfs) Available() []string {
	names := make([]string, 0, len(s.leds))
	for name := range s.leds {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
