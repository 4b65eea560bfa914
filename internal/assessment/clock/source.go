package clock

import (
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/threading"
	"k8s.io/utils/clock"
)

// DefaultTickInterval is the countdown refresh period.
const DefaultTickInterval = time.Second

// TickFunc receives the freshly computed remaining seconds.
type TickFunc func(remaining int64)

// Source publishes the remaining time once per tick.
type Source struct {
	countdown *Countdown
	clock     clock.WithTicker
	interval  time.Duration

	mu          sync.Mutex
	subscribers []chan int64
	stop        chan struct{}
	running     bool
	stopped     bool
}

// NewSource creates a clock source for the given deadline.
func NewSource(expiry time.Time, clk clock.WithTicker, interval time.Duration) *Source {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Source{
		countdown: NewCountdown(expiry, clk),
		clock:     clk,
		interval:  interval,
	}
}

// Expiry returns the deadline the source counts towards.
func (s *Source) Expiry() time.Time {
	return s.countdown.Expiry()
}

// Remaining returns the current remaining seconds.
func (s *Source) Remaining() int64 {
	return s.countdown.Remaining()
}

// Subscribe returns a channel carrying the latest remaining value.
// Slow readers only see the most recent value. The channel closes on Stop.
func (s *Source) Subscribe() <-chan int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan int64, 1)
	if s.stopped {
		close(ch)
		return ch
	}
	s.subscribers = append(s.subscribers, ch)
	return ch
}

// Tick recomputes the remaining time and fans it out to subscribers.
func (s *Source) Tick() int64 {
	remaining := s.countdown.Remaining()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return remaining
	}
	for _, ch := range s.subscribers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- remaining:
		default:
		}
	}
	return remaining
}

// Start arms the ticker. The ticker is created before Start returns.
func (s *Source) Start(onTick TickFunc) {
	s.mu.Lock()
	if s.running || s.stopped {
		s.mu.Unlock()
		return
	}
	s.running = true
	stop := make(chan struct{})
	s.stop = stop
	ticker := s.clock.NewTicker(s.interval)
	s.mu.Unlock()

	threading.GoSafe(func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C():
				remaining := s.Tick()
				if onTick != nil {
					onTick(remaining)
				}
			case <-stop:
				return
			}
		}
	})
}

// Stop disarms the ticker and closes subscriptions. It is idempotent.
func (s *Source) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	if s.running {
		close(s.stop)
		s.running = false
	}
	for _, ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = nil
}
