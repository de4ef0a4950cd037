// Package narration holds the human-readable battle log shown to players.
//
// The log is an append-only ordered sequence of lines. It is separate from the
// diagnostic zap logger: narration is game output, zap is operator output. Every
// appended line is mirrored to zap at debug level so both streams line up.
package narration

import (
	"fmt"

	"go.uber.org/zap"
)

// Narrator is the write side of the battle log.
type Narrator interface {
	Logf(format string, args ...interface{})
}

// Log is an in-memory battle log.
type Log struct {
	lines  []string
	logger *zap.Logger
}

// New creates an empty log. A nil logger disables mirroring.
func New(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{
		lines:  make([]string, 0, 64),
		logger: logger,
	}
}

// Append adds one line.
func (l *Log) Append(line string) {
	l.lines = append(l.lines, line)
	l.logger.Debug("narration", zap.String("line", line))
}

// Logf formats and appends one line.
func (l *Log) Logf(format string, args ...interface{}) {
	l.Append(fmt.Sprintf(format, args...))
}

// Clear drops every line.
func (l *Log) Clear() {
	l.lines = l.lines[:0]
}

// Lines returns a copy of the log, oldest first.
func (l *Log) Lines() []string {
	cpy := make([]string, len(l.lines))
	copy(cpy, l.lines)
	return cpy
}

// Tail returns a copy of the last n lines.
func (l *Log) Tail(n int) []string {
	if n <= 0 {
		return nil
	}
	if n > len(l.lines) {
		n = len(l.lines)
	}
	cpy := make([]string, n)
	copy(cpy, l.lines[len(l.lines)-n:])
	return cpy
}

// Len returns the number of lines.
func (l *Log) Len() int {
	return len(l.lines)
}

// Replace swaps the content for the given lines. Used when a saved battle is loaded.
func (l *Log) Replace(lines []string) {
	l.lines = append(l.lines[:0], lines...)
}

// Discard is a Narrator that drops every line.
var Discard Narrator = discard{}

type discard struct{}

func (discard) Logf(string, ...interface{}) {}
