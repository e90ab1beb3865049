package events

// Event type constants for kelindar/event.
const (
	TypePipelineStateChanged uint32 = iota + 1
	TypeSetupCompleted
	TypeSourceChanged
	TypeDeviceHotplug
	TypeConfigReloaded
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// PipelineStateChangedEvent is published on every pipeline state transition.
type PipelineStateChangedEvent struct {
	From      string `json:"from" example:"configured"`
	To        string `json:"to" example:"streaming"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z"`
}

// Type returns the event type identifier for PipelineStateChangedEvent.
func (e PipelineStateChangedEvent) Type() uint32 { return TypePipelineStateChanged }

// SetupCompletedEvent reports the outcome of a pipeline configuration.
type SetupCompletedEvent struct {
	Slots         int      `json:"slots" example:"4"`
	Width         uint32   `json:"width" example:"1920"`
	Height        uint32   `json:"height" example:"1080"`
	Fatal         bool     `json:"fatal"`
	DegradedSteps []string `json:"degraded_steps,omitempty" example:"capture/query-timing"`
	Error         string   `json:"error,omitempty"`
	Timestamp     string   `json:"timestamp" example:"2026-01-27T10:30:00Z"`
}

// Type returns the event type identifier for SetupCompletedEvent.
func (e SetupCompletedEvent) Type() uint32 { return TypeSetupCompleted }

// SourceChangedEvent is published when the capture receiver reports a new
// input signal.
type SourceChangedEvent struct {
	DevicePath string `json:"device_path" example:"/dev/video0"`
	Timestamp  string `json:"timestamp" example:"2026-01-27T10:30:00Z"`
}

// Type returns the event type identifier for SourceChangedEvent.
func (e SourceChangedEvent) Type() uint32 { return TypeSourceChanged }

// DeviceHotplugEvent is published when a pipeline device node appears or
// disappears.
type DeviceHotplugEvent struct {
	DevicePath string `json:"device_path" example:"/dev/video0"`
	Action     string `json:"action" example:"add"`
	Timestamp  string `json:"timestamp" example:"2026-01-27T10:30:00Z"`
}

// Type returns the event type identifier for DeviceHotplugEvent.
func (e DeviceHotplugEvent) Type() uint32 { return TypeDeviceHotplug }

// ConfigReloadedEvent is published after the config file changed on disk.
type ConfigReloadedEvent struct {
	Path      string `json:"path" example:"/etc/isppipe/config.toml"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z"`
}

// Type returns the event type identifier for ConfigReloadedEvent.
func (e ConfigReloadedEvent) Type() uint32 { return TypeConfigReloaded }
