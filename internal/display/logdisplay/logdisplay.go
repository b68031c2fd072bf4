// Package logdisplay reports load progress through zap for headless runs.
package logdisplay

import (
	"sync"

	"go.uber.org/zap"
)

// Display logs progress changes. Every distinct percentage is logged at
// debug level; crossings of Step are logged at info level.
type Display struct {
	logger *zap.Logger
	step   int

	mu       sync.Mutex
	last     int
	nextInfo int
	reports  int
	hidden   bool
	revealed bool
}

// New returns a Display. A step <= 0 defaults to 25.
func New(logger *zap.Logger, step int) *Display {
	if logger == nil {
		logger = zap.NewNop()
	}
	if step <= 0 {
		step = 25
	}
	return &Display{logger: logger, step: step, last: -1, nextInfo: step}
}

// SetProgress records percent.
func (d *Display) SetProgress(percent int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reports++
	if percent == d.last {
		return
	}
	d.last = percent
	d.logger.Debug("load progress", zap.Int("percent", percent))
	if percent >= d.nextInfo {
		d.logger.Info("load progress", zap.Int("percent", percent))
		for d.nextInfo <= percent {
			d.nextInfo += d.step
		}
	}
}

// Last returns the most recent percentage, or -1 before the first report.
func (d *Display) Last() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// Reports counts SetProgress calls, duplicates included.
func (d *Display) Reports() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reports
}

// HideLoading logs the transition once.
func (d *Display) HideLoading() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.hidden {
		return
	}
	d.hidden = true
	d.logger.Info("loading surface hidden")
}

// RevealContent logs the transition once.
func (d *Display) RevealContent() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.revealed {
		return
	}
	d.revealed = true
	d.logger.Info("content surface revealed")
}

// Revealed reports whether the content surface was revealed.
func (d *Display) Revealed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.revealed
}
