// Package progress defines the UX progress-callback contract the
// orchestrator drives every long-running procedure through, plus the
// implementations used by the CLI and the test suites.
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.
package progress

import "log/slog"

// Reporter is the progress callback interface a long-running procedure
// reports through: an overall percentage and status text, plus the
// subtask-rebasing calls that let an inner routine (say, BitstreamCopier)
// map its own work count onto a slice of the outer bar.
type Reporter interface {
	SetPercentage(pct uint32)
	UpdateText(text string)
	RebaseSubtaskPercentage(start, end uint32)
	RebaseSubtaskWork(done, total uint32)
	IncrementWork(n uint32)
}

// Noop discards every call. It is the default used by callers (tests,
// library consumers) that have no UX to drive.
type Noop struct{}

func (Noop) SetPercentage(uint32)                {}
func (Noop) UpdateText(string)                   {}
func (Noop) RebaseSubtaskPercentage(_, _ uint32) {}
func (Noop) RebaseSubtaskWork(_, _ uint32)       {}
func (Noop) IncrementWork(uint32)                {}

// Logger reports progress as structured log/slog events, for headless runs
// (cmd/rootkeysctl, integration tests) that want a record of progress
// without a UX widget.
type Logger struct {
	Log *slog.Logger

	base, span uint32
}

// NewLogger wraps log, or slog.Default() if log is nil.
func NewLogger(log *slog.Logger) *Logger {
	if log == nil {
		log = slog.Default()
	}
	return &Logger{Log: log, span: 100}
}

func (l *Logger) SetPercentage(pct uint32) {
	l.Log.Info("progress", "percent", pct)
}

func (l *Logger) UpdateText(text string) {
	l.Log.Info("phase", "name", text)
}

func (l *Logger) RebaseSubtaskPercentage(start, end uint32) {
	l.base, l.span = start, end-start
	l.Log.Debug("rebase-subtask-percentage", "start", start, "end", end)
}

func (l *Logger) RebaseSubtaskWork(done, total uint32) {
	if total == 0 {
		return
	}
	l.SetPercentage(l.base + (l.span*done)/total)
}

func (l *Logger) IncrementWork(n uint32) {
	l.Log.Debug("increment-work", "n", n)
}
