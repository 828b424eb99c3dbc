package orchestrate

import (
	"fmt"
	"os"
	"sync"
	"time"

	"codeberg.org/iklabib/vmsense/model"
)

const timestampLayout = "2006-01-02 15:04:05"

// Logger records the execution log that ends up embedded in the report,
// mirroring each entry to stderr. Debug entries are recorded always but
// printed only in verbose mode. Safe for concurrent use by the workers.
type Logger struct {
	mu      sync.Mutex
	entries []model.LogEntry
	verbose bool
}

func NewLogger(verbose bool) *Logger {
	return &Logger{verbose: verbose}
}

func (l *Logger) log(level, format string, args ...any) {
	entry := model.LogEntry{
		Timestamp: time.Now().Format(timestampLayout),
		Level:     level,
		Message:   fmt.Sprintf(format, args...),
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()

	if level == "DEBUG" && !l.verbose {
		return
	}
	fmt.Fprintf(os.Stderr, "[%s] [%s] %s\n", entry.Timestamp, entry.Level, entry.Message)
}

func (l *Logger) Infof(format string, args ...any)  { l.log("INFO", format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.log("WARN", format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.log("ERROR", format, args...) }
func (l *Logger) Debugf(format string, args ...any) { l.log("DEBUG", format, args...) }

// Entries returns a copy of everything logged so far.
func (l *Logger) Entries() []model.LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
