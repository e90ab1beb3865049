package consumer

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/isppipe/internal/pipeline"
)

// Presenter displays the ready ISP output slot of a tick.
type Presenter interface {
	Present(slot pipeline.SlotIndex, r pipeline.Resource) error
}

// Stats is a snapshot of presentation counters.
type Stats struct {
	Frames  uint64
	Repeats uint64
	FPS     float64
}

// LogPresenter counts presented frames and logs the frame rate once per
// interval. A slot that is presented twice in a row counts as a repeat.
type LogPresenter struct {
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	mu          sync.Mutex
	frames      uint64
	repeats     uint64
	last        pipeline.SlotIndex
	hasLast     bool
	windowStart time.Time
	windowCount uint64
	fps         float64
}

// NewLogPresenter creates a presenter that reports every interval.
func NewLogPresenter(logger *slog.Logger, interval time.Duration) *LogPresenter {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &LogPresenter{
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}
}

// Present records one displayed slot.
func (p *LogPresenter) Present(slot pipeline.SlotIndex, r pipeline.Resource) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if p.windowStart.IsZero() {
		p.windowStart = now
	}

	p.frames++
	if p.hasLast && p.last == slot {
		p.repeats++
	}
	p.last, p.hasLast = slot, true
	p.windowCount++

	if elapsed := now.Sub(p.windowStart); elapsed >= p.interval {
		p.fps = float64(p.windowCount) / elapsed.Seconds()
		attrs := []any{"fps", fmt.Sprintf("%.2f", p.fps), "frames", p.frames, "repeats", p.repeats, "slot", slot}
		if img, ok := r.(*Image); ok {
			attrs = append(attrs, "fd", img.FD)
		}
		p.logger.Info("Presenting", attrs...)
		p.windowStart = now
		p.windowCount = 0
	}
	return nil
}

// Stats returns the current counters.
func (p *LogPresenter) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Frames: p.frames, Repeats: p.repeats, FPS: p.fps}
}
