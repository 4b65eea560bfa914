// Package threshold turns countdown observations into one-shot session events.
package threshold

import "sync"

// Kind names a threshold.
type Kind string

const (
	WarnFiveMinutes Kind = "warn_five_minutes"
	WarnOneMinute   Kind = "warn_one_minute"
	WarnAutoSubmit  Kind = "warn_auto_submit"
	Timeout         Kind = "timeout"
)

// Threshold fires when the remaining time matches At.
// Terminal thresholds fire at or below At so a late tick cannot skip them.
type Threshold struct {
	Kind     Kind
	At       int64
	Message  string
	Terminal bool
}

// Event is emitted once per threshold per session.
type Event struct {
	Kind      Kind   `json:"kind"`
	Remaining int64  `json:"remaining"`
	Message   string `json:"message"`
}

// DefaultThresholds returns the assessment warning schedule.
func DefaultThresholds() []Threshold {
	return []Threshold{
		{Kind: WarnFiveMinutes, At: 300, Message: "Only 5 minutes left"},
		{Kind: WarnOneMinute, At: 60, Message: "Only 1 minute left"},
		{Kind: WarnAutoSubmit, At: 20, Message: "Assessment will be submitted automatically in 10 seconds"},
		{Kind: Timeout, At: 10, Message: "Time is up, submitting assessment", Terminal: true},
	}
}

// Notifier tracks which thresholds have already fired.
type Notifier struct {
	thresholds []Threshold

	mu    sync.Mutex
	fired map[Kind]struct{}
}

// NewNotifier creates a notifier. With no thresholds the default schedule is used.
func NewNotifier(thresholds ...Threshold) *Notifier {
	if len(thresholds) == 0 {
		thresholds = DefaultThresholds()
	}
	return &Notifier{
		thresholds: append([]Threshold(nil), thresholds...),
		fired:      make(map[Kind]struct{}, len(thresholds)),
	}
}

// Observe consumes one remaining-time value and returns newly fired events.
// Warnings match on equality only; a skipped warning is not replayed.
func (n *Notifier) Observe(remaining int64) []Event {
	n.mu.Lock()
	defer n.mu.Unlock()

	var events []Event
	for _, th := range n.thresholds {
		if _, done := n.fired[th.Kind]; done {
			continue
		}
		hit := remaining == th.At
		if th.Terminal {
			hit = remaining <= th.At
		}
		if !hit {
			continue
		}
		n.fired[th.Kind] = struct{}{}
		events = append(events, Event{Kind: th.Kind, Remaining: remaining, Message: th.Message})
	}
	return events
}

// Fired reports whether the threshold has been consumed.
func (n *Notifier) Fired(kind Kind) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.fired[kind]
	return ok
}
