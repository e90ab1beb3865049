package led

import (
	"log/slog"
	"sync"

	"github.com/smazurov/isppipe/internal/events"
)

// Manager keeps the status LED solid while the pipeline streams and on a
// heartbeat otherwise.
type Manager struct {
	controller Controller
	bus        *events.Bus
	logger     *slog.Logger

	mu          sync.Mutex
	unsubscribe func()
	streaming   bool
}

// NewManager creates a manager for controller.
func NewManager(controller Controller, bus *events.Bus, logger *slog.Logger) *Manager {
	return &Manager{
		controller: controller,
		bus:        bus,
		logger:     logger,
	}
}

// Start shows the not-streaming pattern and follows pipeline state events.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unsubscribe != nil {
		return
	}
	m.apply(false)
	m.unsubscribe = m.bus.Subscribe(m.handleEvent)
	m.logger.Info("Status LED manager started")
}

// Stop unsubscribes and switches the LED off.
func (m *Manager) Stop() {
	m.mu.Lock()
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()
	if unsubscribe == nil {
		return
	}

	// Handlers may still be running; they see the nil subscription and return.
	unsubscribe()
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.controller.Set(StatusLED, false, PatternSolid); err != nil {
		m.logger.Warn("Failed to switch status LED off", "error", err)
	}
	m.logger.Info("Status LED manager stopped")
}

func (m *Manager) handleEvent(e events.PipelineStateChangedEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unsubscribe == nil {
		return
	}
	streaming := e.To == "streaming"
	if streaming == m.streaming {
		return
	}
	m.apply(streaming)
}

func (m *Manager) apply(streaming bool) {
	m.streaming = streaming
	pattern := PatternHeartbeat
	if streaming {
		pattern = PatternSolid
	}
	if err := m.controller.Set(StatusLED, true, pattern); err != nil {
		m.logger.Warn("Failed to set status LED", "pattern", pattern, "error", err)
		return
	}
	m.logger.Debug("Status LED updated", "pattern", pattern)
}
