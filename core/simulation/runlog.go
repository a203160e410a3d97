package simulation

import (
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/evsim/core/logger"
)

const runLogSize = 512

// LogEntry is one line of a run's log.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// RunLog keeps the most recent log lines of a run.
type RunLog struct {
	mu      sync.Mutex
	entries []LogEntry
	next    int
	full    bool
}

func newRunLog(size int) *RunLog {
	return &RunLog{entries: make([]LogEntry, size)}
}

func (l *RunLog) add(level, msg string) {
	l.mu.Lock()
	l.entries[l.next] = LogEntry{Time: time.Now(), Level: level, Message: msg}
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
	l.mu.Unlock()
}

// Entries returns the kept lines, oldest first.
func (l *RunLog) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.full {
		return append([]LogEntry(nil), l.entries[:l.next]...)
	}
	res := make([]LogEntry, 0, len(l.entries))
	res = append(res, l.entries[l.next:]...)
	return append(res, l.entries[:l.next]...)
}

// teeLogger forwards to next and keeps info and above in the run log.
type teeLogger struct {
	next logger.Logger
	log  *RunLog
}

func (t teeLogger) Debugf(format string, args ...any)        { t.next.Debugf(format, args...) }
func (t teeLogger) Debugw(msg string, fields map[string]any) { t.next.Debugw(msg, fields) }

func (t teeLogger) Infof(format string, args ...any) {
	t.log.add("info", fmt.Sprintf(format, args...))
	t.next.Infof(format, args...)
}

func (t teeLogger) Warnf(format string, args ...any) {
	t.log.add("warn", fmt.Sprintf(format, args...))
	t.next.Warnf(format, args...)
}

func (t teeLogger) Errorf(format string, args ...any) {
	t.log.add("error", fmt.Sprintf(format, args...))
	t.next.Errorf(format, args...)
}
