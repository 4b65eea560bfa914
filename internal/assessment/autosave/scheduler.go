// Package autosave periodically persists changed code while a session is active.
package autosave

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"codeassess/internal/assessment/model"
	appErr "codeassess/pkg/errors"
	"codeassess/pkg/utils/logger"

	"github.com/zeromicro/go-zero/core/threading"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

const (
	DefaultInterval = time.Second
	DefaultTimeout  = 5 * time.Second
)

// Persister writes a draft to the persistence service.
type Persister interface {
	Update(ctx context.Context, sessionID string, draft model.Draft) error
}

// SnapshotFunc returns the current draft and the last persisted code.
// editable is false once the owner stopped accepting changes; nothing is persisted then.
type SnapshotFunc func() (draft model.Draft, lastPersisted string, editable bool)

// SavedFunc reports a persisted draft back to the session owner.
type SavedFunc func(draft model.Draft, savedAt time.Time)

// Outcome describes what a tick did.
type Outcome int

const (
	OutcomeIdle Outcome = iota
	OutcomeUnchanged
	OutcomeBusy
	OutcomeSaved
	OutcomeFailed
	OutcomeDiscarded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIdle:
		return "idle"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeBusy:
		return "busy"
	case OutcomeSaved:
		return "saved"
	case OutcomeFailed:
		return "failed"
	case OutcomeDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Config configures a Scheduler.
type Config struct {
	SessionID string
	Persister Persister
	Snapshot  SnapshotFunc
	OnSaved   SavedFunc
	Clock     clock.WithTicker
	Interval  time.Duration
	Timeout   time.Duration
}

// Scheduler keeps at most one persist in flight per session.
type Scheduler struct {
	sessionID string
	persister Persister
	snapshot  SnapshotFunc
	onSaved   SavedFunc
	clock     clock.WithTicker
	interval  time.Duration
	timeout   time.Duration

	pending    atomic.Bool
	armed      atomic.Bool
	generation atomic.Uint64

	mu   sync.Mutex
	stop chan struct{}
}

// NewScheduler creates a disarmed scheduler.
func NewScheduler(cfg Config) *Scheduler {
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Scheduler{
		sessionID: cfg.SessionID,
		persister: cfg.Persister,
		snapshot:  cfg.Snapshot,
		onSaved:   cfg.OnSaved,
		clock:     cfg.Clock,
		interval:  cfg.Interval,
		timeout:   cfg.Timeout,
	}
}

// Armed reports whether ticks currently persist.
func (s *Scheduler) Armed() bool {
	return s.armed.Load()
}

// Pending reports whether a persist is in flight.
func (s *Scheduler) Pending() bool {
	return s.pending.Load()
}

// Arm enables persisting and starts the ticker. Arming twice is a no-op.
func (s *Scheduler) Arm(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.armed.Load() {
		return
	}
	s.armed.Store(true)
	stop := make(chan struct{})
	s.stop = stop
	ticker := s.clock.NewTicker(s.interval)
	ctx = context.WithoutCancel(ctx)

	threading.GoSafe(func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C():
				s.Tick(ctx)
			case <-stop:
				return
			}
		}
	})
}

// Disarm stops future ticks. A persist already in flight finishes but its result is dropped.
func (s *Scheduler) Disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.armed.Load() {
		return
	}
	s.armed.Store(false)
	s.generation.Add(1)
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

// Tick runs one autosave check. It persists only when the code changed.
func (s *Scheduler) Tick(ctx context.Context) Outcome {
	if !s.armed.Load() {
		return OutcomeIdle
	}
	draft, lastPersisted, editable := s.snapshot()
	if !editable {
		return OutcomeIdle
	}
	if draft.Code == lastPersisted {
		return OutcomeUnchanged
	}
	if !s.pending.CompareAndSwap(false, true) {
		return OutcomeBusy
	}
	outcome, err := s.persist(ctx, draft)
	if err != nil {
		logger.Warn(ctx, "autosave failed",
			zap.String("session_id", s.sessionID),
			zap.Error(err),
		)
	}
	return outcome
}

// SaveNow persists the current draft immediately, sharing the in-flight slot with ticks.
func (s *Scheduler) SaveNow(ctx context.Context) (time.Time, error) {
	if !s.pending.CompareAndSwap(false, true) {
		return time.Time{}, appErr.BusyError("save")
	}
	draft, _, editable := s.snapshot()
	if !editable {
		s.pending.Store(false)
		return time.Time{}, appErr.New(appErr.InvalidState).WithMessage("session is no longer editable")
	}
	outcome, err := s.persist(ctx, draft)
	if err != nil {
		return time.Time{}, err
	}
	if outcome == OutcomeDiscarded {
		return time.Time{}, appErr.New(appErr.InvalidState).WithMessage("session is no longer editable")
	}
	return s.clock.Now(), nil
}

func (s *Scheduler) persist(ctx context.Context, draft model.Draft) (Outcome, error) {
	defer s.pending.Store(false)
	gen := s.generation.Load()

	callCtx := withTimeout(ctx, s.timeout)
	err := s.persister.Update(callCtx.ctx, s.sessionID, draft)
	callCtx.cancel()
	if err != nil {
		return OutcomeFailed, appErr.Wrap(err, appErr.PersistFailed)
	}
	if s.generation.Load() != gen {
		return OutcomeDiscarded, nil
	}
	if s.onSaved != nil {
		s.onSaved(draft, s.clock.Now())
	}
	return OutcomeSaved, nil
}

type timeoutCtx struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func withTimeout(ctx context.Context, timeout time.Duration) timeoutCtx {
	if timeout <= 0 {
		return timeoutCtx{ctx: ctx, cancel: func() {}}
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	return timeoutCtx{ctx: ctxTimeout, cancel: cancel}
}
