// Package engine provides the simulation and the frame loop that drives it.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

// Engine calls OnFrame once per frame with the scaled wall-clock time since
// the previous frame, in milliseconds. Frames never overlap.
type Engine struct {
	Interval time.Duration // Target frame interval (default ~60 fps)

	// Callbacks, populated during setup.
	OnFrame  func(elapsedMs float64)
	OnReport func(frame uint64) // Every ReportEvery frames
	OnSave   func(frame uint64) // Every SaveEvery frames

	ReportEvery uint64
	SaveEvery   uint64

	// Now reads the wall clock; tests replace it.
	Now func() time.Time

	mu      sync.Mutex
	speed   float64 // 1.0 = real time, 0 = paused
	frames  uint64
	last    time.Time
	running bool
	stop    chan struct{}
}

// NewEngine creates a frame engine with default settings.
func NewEngine() *Engine {
	return &Engine{
		Interval:    16 * time.Millisecond,
		ReportEvery: 60 * 60,
		Now:         time.Now,
		speed:       1.0,
		stop:        make(chan struct{}),
	}
}

// Speed returns the current time multiplier.
func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// SetSpeed changes the time multiplier. Negative and infinite values are rejected.
func (e *Engine) SetSpeed(speed float64) error {
	if !(speed >= 0) || math.IsInf(speed, 1) {
		return fmt.Errorf("speed must be finite and >= 0, got %v", speed)
	}
	e.mu.Lock()
	e.speed = speed
	e.mu.Unlock()
	slog.Info("engine speed changed", "speed", speed)
	return nil
}

// Frames returns how many frames have been stepped.
func (e *Engine) Frames() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frames
}

// Running reports whether Run is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Run steps frames until ctx is cancelled or Stop is called.
func (e *Engine) Run(ctx context.Context) {
	e.mu.Lock()
	e.running = true
	e.mu.Unlock()
	slog.Info("frame engine started", "interval", e.Interval, "speed", e.Speed())

	ticker := time.NewTicker(e.Interval)
	defer ticker.Stop()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		slog.Info("frame engine stopped", "frames", e.Frames())
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-ticker.C:
			e.step(e.Now())
		}
	}
}

// Stop halts the frame loop. Safe to call more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case <-e.stop:
	default:
		close(e.stop)
	}
}

// step advances one frame at wall time now.
// The first frame has no predecessor and advances by zero.
func (e *Engine) step(now time.Time) {
	e.mu.Lock()
	elapsed := 0.0
	if !e.last.IsZero() {
		elapsed = float64(now.Sub(e.last)) / float64(time.Millisecond)
	}
	e.last = now
	speed := e.speed
	if speed <= 0 {
		// Paused: keep tracking wall time so resuming does not jump.
		e.mu.Unlock()
		return
	}
	e.frames++
	frame := e.frames
	e.mu.Unlock()

	if elapsed < 0 {
		elapsed = 0 // Wall clock stepped backwards.
	}

	if e.OnFrame != nil {
		e.OnFrame(elapsed * speed)
	}
	if e.ReportEvery > 0 && frame%e.ReportEvery == 0 && e.OnReport != nil {
		e.OnReport(frame)
	}
	if e.SaveEvery > 0 && frame%e.SaveEvery == 0 && e.OnSave != nil {
		e.OnSave(frame)
	}
}

// SimTime formats a simulation clock in milliseconds as h:mm:ss.
func SimTime(clockMs float64) string {
	total := int64(clockMs / 1000)
	return fmt.Sprintf("%d:%02d:%02d", total/3600, (total/60)%60, total%60)
}
