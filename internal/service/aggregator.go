package service

import (
	"sync"

	"github.com/arch-linux-gui/alg-welcome/internal/model"
)

// Aggregator accumulates the lines of the current run for display
type Aggregator struct {
	mu    sync.RWMutex
	lines []model.LogLine
}

// NewAggregator creates an empty aggregator
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Append adds line at the end
func (a *Aggregator) Append(line model.LogLine) {
	a.mu.Lock()
	a.lines = append(a.lines, line)
	a.mu.Unlock()
}

// Clear drops all lines
func (a *Aggregator) Clear() {
	a.mu.Lock()
	a.lines = nil
	a.mu.Unlock()
}

// IsEmpty drives the "No Logs" placeholder
func (a *Aggregator) IsEmpty() bool {
	return a.Len() == 0
}

func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.lines)
}

// Snapshot returns a copy of the lines in arrival order
func (a *Aggregator) Snapshot() []model.LogLine {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]model.LogLine, len(a.lines))
	copy(out, a.lines)
	return out
}
