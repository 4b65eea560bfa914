// Package events carries session notifications to local subscribers and the message queue.
package events

import "time"

// Kind classifies a session event.
type Kind string

const (
	KindTick         Kind = "tick"
	KindWarning      Kind = "warning"
	KindTimeout      Kind = "timeout"
	KindPaste        Kind = "paste"
	KindSaved        Kind = "saved"
	KindSubmitted    Kind = "submitted"
	KindSubmitFailed Kind = "submit_failed"
	KindClosed       Kind = "closed"
)

// External reports whether the kind is forwarded to the message queue.
// Ticks and saves are local UI refreshes.
func (k Kind) External() bool {
	switch k {
	case KindTick, KindSaved:
		return false
	default:
		return true
	}
}

// Event is one notification about a session.
type Event struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Kind       Kind      `json:"kind"`
	Threshold  string    `json:"threshold,omitempty"`
	Message    string    `json:"message,omitempty"`
	Remaining  int64     `json:"remaining"`
	PasteCount int       `json:"paste_count,omitempty"`
	Flagged    bool      `json:"flagged,omitempty"`
	Trigger    string    `json:"trigger,omitempty"`
	Results    []bool    `json:"results,omitempty"`
	At         time.Time `json:"at"`
}
