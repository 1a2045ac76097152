package client

import (
	"fmt"
	"sync"
	"time"
)

// Level marks how an activity entry is highlighted
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelSuccess:
		return "ok"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// Entry is one line of the activity log
type Entry struct {
	At    time.Time
	Level Level
	Text  string
}

// ActivityLog is a thread-safe bounded log of recent entries
type ActivityLog struct {
	entries    []Entry
	capacity   int
	dropOldest bool
	mutex      sync.RWMutex
	stats      LogStats
	now        func() time.Time
}

// LogStats tracks log usage
type LogStats struct {
	TotalPushed   int64
	TotalDropped  int64
	HighWaterMark int
	LastPushTime  time.Time
}

// NewActivityLog creates a log holding at most capacity entries. With
// dropOldest the oldest entry makes room for a new one, otherwise new entries
// are dropped while the log is full.
func NewActivityLog(capacity int, dropOldest bool) *ActivityLog {
	if capacity < 1 {
		capacity = 1
	}
	return &ActivityLog{
		entries:    make([]Entry, 0, capacity),
		capacity:   capacity,
		dropOldest: dropOldest,
		now:        time.Now,
	}
}

// Add records text at level with the current time
func (l *ActivityLog) Add(level Level, format string, args ...interface{}) bool {
	return l.Push(Entry{At: l.now(), Level: level, Text: fmt.Sprintf(format, args...)})
}

// Push appends an entry. Returns false if it was dropped.
func (l *ActivityLog) Push(entry Entry) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if len(l.entries) >= l.capacity {
		l.stats.TotalDropped++
		if !l.dropOldest {
			return false
		}
		copy(l.entries, l.entries[1:])
		l.entries = l.entries[:len(l.entries)-1]
	}
	l.entries = append(l.entries, entry)
	l.stats.TotalPushed++
	l.stats.LastPushTime = entry.At

	if len(l.entries) > l.stats.HighWaterMark {
		l.stats.HighWaterMark = len(l.entries)
	}
	return true
}

// Tail returns up to n of the newest entries, oldest first
func (l *ActivityLog) Tail(n int) []Entry {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	count := min(n, len(l.entries))
	if count <= 0 {
		return nil
	}
	result := make([]Entry, count)
	copy(result, l.entries[len(l.entries)-count:])
	return result
}

// Size returns the current number of entries
func (l *ActivityLog) Size() int {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return len(l.entries)
}

// IsEmpty returns true if the log has no entries
func (l *ActivityLog) IsEmpty() bool {
	return l.Size() == 0
}

// Clear removes all entries and resets counters
func (l *ActivityLog) Clear() {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.entries = l.entries[:0]
	l.stats = LogStats{}
}

// Capacity returns the maximum number of entries
func (l *ActivityLog) Capacity() int {
	return l.capacity
}

// Stats returns a copy of the counters
func (l *ActivityLog) Stats() LogStats {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return l.stats
}

func (l *ActivityLog) String() string {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	mode := "drop-newest"
	if l.dropOldest {
		mode = "drop-oldest"
	}
	return fmt.Sprintf("ActivityLog[%d/%d, dropped: %d, mode: %s]",
		len(l.entries), l.capacity, l.stats.TotalDropped, mode)
}
