// Package paste counts paste actions and escalates the warning shown to the candidate.
package paste

import "sync"

// Level is the escalation bracket of a paste.
type Level string

const (
	LevelMild     Level = "mild"
	LevelStronger Level = "stronger"
	LevelFinal    Level = "final"
	LevelFlagged  Level = "flagged"
)

const (
	mildMessage     = "Excessive pasting is discouraged."
	strongerMessage = "Excessive pasting is discouraged. Excessive pastes will be flagged."
	finalMessage    = "You have reached the maximum allowed pastes. Further pastes will be flagged."
	flaggedMessage  = "You have exceeded the paste limit. This will be considered as using external help."
)

// Event is emitted on every paste.
type Event struct {
	Count   int    `json:"count"`
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

// Flagged reports whether the paste crossed the allowed limit.
func (e Event) Flagged() bool {
	return e.Level == LevelFlagged
}

// Classify maps a paste count to its bracket.
func Classify(count int) (Level, string) {
	switch {
	case count <= 1:
		return LevelMild, mildMessage
	case count == 2:
		return LevelStronger, strongerMessage
	case count == 3:
		return LevelFinal, finalMessage
	default:
		return LevelFlagged, flaggedMessage
	}
}

// Monitor holds the paste state of one session. The count never resets.
type Monitor struct {
	mu          sync.Mutex
	count       int
	lastMessage string
}

// NewMonitor creates a monitor resuming from a previously recorded count.
func NewMonitor(initial int) *Monitor {
	if initial < 0 {
		initial = 0
	}
	m := &Monitor{count: initial}
	if initial > 0 {
		_, m.lastMessage = Classify(initial)
	}
	return m
}

// Paste records one paste and returns the resulting notification.
func (m *Monitor) Paste() Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count++
	level, msg := Classify(m.count)
	m.lastMessage = msg
	return Event{Count: m.count, Level: level, Message: msg}
}

// Record counts one paste reported by a shared ledger as its total.
// The local count still advances when the ledger lags behind.
func (m *Monitor) Record(total int) Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count = max(m.count+1, total)
	level, msg := Classify(m.count)
	m.lastMessage = msg
	return Event{Count: m.count, Level: level, Message: msg}
}

// Observe aligns the local count with an authoritative total, never lowering it.
func (m *Monitor) Observe(total int) Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if total > m.count {
		m.count = total
	}
	level, msg := Classify(m.count)
	m.lastMessage = msg
	return Event{Count: m.count, Level: level, Message: msg}
}

func (m *Monitor) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

func (m *Monitor) LastMessage() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastMessage
}
