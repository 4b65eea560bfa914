// Package clock derives the session countdown from an absolute expiry instant.
package clock

import (
	"fmt"
	"math"
	"time"

	"k8s.io/utils/clock"
)

// RemainingAt returns max(0, round(expiry-now)) in whole seconds.
func RemainingAt(expiry, now time.Time) int64 {
	secs := math.Round(expiry.Sub(now).Seconds())
	if secs <= 0 {
		return 0
	}
	return int64(secs)
}

// Countdown computes remaining time against an immutable deadline.
type Countdown struct {
	expiry time.Time
	clock  clock.PassiveClock
}

// NewCountdown creates a countdown. A nil clock uses the wall clock.
func NewCountdown(expiry time.Time, clk clock.PassiveClock) *Countdown {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Countdown{expiry: expiry, clock: clk}
}

// Expiry returns the deadline.
func (c *Countdown) Expiry() time.Time {
	return c.expiry
}

// Remaining recomputes from the deadline on every call.
func (c *Countdown) Remaining() int64 {
	return RemainingAt(c.expiry, c.clock.Now())
}

// Format renders seconds as "HH : MM : SS".
func Format(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60
	return fmt.Sprintf("%02d : %02d : %02d", hours, minutes, secs)
}
