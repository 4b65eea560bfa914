// Package session owns the lifecycle of a timed assessment attempt.
package session

import (
	"context"
	"sync"
	"time"

	"codeassess/internal/assessment/autosave"
	"codeassess/internal/assessment/boilerplate"
	aclock "codeassess/internal/assessment/clock"
	"codeassess/internal/assessment/evaluation"
	"codeassess/internal/assessment/events"
	"codeassess/internal/assessment/model"
	"codeassess/internal/assessment/paste"
	"codeassess/internal/assessment/persistence"
	"codeassess/internal/assessment/threshold"
	appErr "codeassess/pkg/errors"
	"codeassess/pkg/utils/logger"

	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/threading"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

const (
	publishTimeout = 5 * time.Second

	submittedMessage  = "Assessment submitted successfully!"
	runFailureMessage = "An error occurred while compiling the code."
)

// Config tunes controller timing and limits.
type Config struct {
	TickInterval     time.Duration `yaml:"tickInterval"`
	AutosaveInterval time.Duration `yaml:"autosaveInterval"`
	AutosaveTimeout  time.Duration `yaml:"autosaveTimeout"`
	RunTimeout       time.Duration `yaml:"runTimeout"`
	SubmitTimeout    time.Duration `yaml:"submitTimeout"`
	MaxCodeBytes     int           `yaml:"maxCodeBytes"`
	// Retention keeps submitted sessions readable before the manager sweeps them.
	Retention     time.Duration `yaml:"retention"`
	SweepInterval time.Duration `yaml:"sweepInterval"`
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = aclock.DefaultTickInterval
	}
	if c.AutosaveInterval <= 0 {
		c.AutosaveInterval = autosave.DefaultInterval
	}
	if c.AutosaveTimeout <= 0 {
		c.AutosaveTimeout = autosave.DefaultTimeout
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = 30 * time.Second
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 60 * time.Second
	}
	if c.MaxCodeBytes <= 0 {
		c.MaxCodeBytes = 64 << 10
	}
	if c.Retention <= 0 {
		c.Retention = time.Hour
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Hour
	}
}

// Dependencies wires a controller to its collaborators. Guard, Pastes and Publisher are optional.
type Dependencies struct {
	Evaluation  evaluation.Client
	Store       persistence.Store
	Boilerplate boilerplate.Provider
	Guard       SubmitGuard
	Pastes      PasteLedger
	Publisher   events.Publisher
	Clock       clock.WithTicker
}

// Controller drives one session through Active, Submitting and Submitted.
// Remote calls run outside the lock on values copied at call time.
type Controller struct {
	cfg     Config
	deps    Dependencies
	clk     clock.WithTicker
	baseCtx context.Context

	source   *aclock.Source
	notifier *threshold.Notifier
	pastes   *paste.Monitor
	autosave *autosave.Scheduler
	hub      *events.Hub

	mu          sync.Mutex
	session     model.Session
	owner       string
	starter     string
	lastOutput  string
	running     bool
	evaluating  bool
	started     bool
	closed      bool
	trigger     model.Trigger
	outcome     *model.SubmitOutcome
	submittedAt time.Time
	// awaiting is set while another process holds the submit claim of this session.
	awaiting bool
	done     chan struct{}
}

// NewController validates the session and wires its clock, notifier and autosave.
func NewController(s model.Session, cfg Config, deps Dependencies) (*Controller, error) {
	if s.SessionID == "" {
		return nil, appErr.New(appErr.RequiredFieldEmpty).WithDetail("field", "session_id")
	}
	if s.ExpiryInstant.IsZero() {
		return nil, appErr.New(appErr.MalformedCredential).WithMessage("session has no expiry instant")
	}
	if deps.Evaluation == nil || deps.Store == nil {
		return nil, appErr.New(appErr.InternalServerError).WithMessage("evaluation and persistence clients are required")
	}
	if s.Language == "" {
		s.Language = model.DefaultLanguage
	}
	if !s.Language.Valid() {
		return nil, appErr.Newf(appErr.LanguageNotSupported, "language %q is not supported", s.Language)
	}
	if deps.Boilerplate == nil {
		deps.Boilerplate = boilerplate.NewGenerator()
	}
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}
	cfg.ApplyDefaults()
	s.State = model.StateActive

	c := &Controller{
		cfg:      cfg,
		deps:     deps,
		clk:      deps.Clock,
		baseCtx:  logger.WithSession(context.Background(), s.SessionID),
		source:   aclock.NewSource(s.ExpiryInstant, deps.Clock, cfg.TickInterval),
		notifier: threshold.NewNotifier(),
		pastes:   paste.NewMonitor(0),
		hub:      events.NewHub(0),
		session:  s,
		owner:    s.CandidateCredential,
		done:     make(chan struct{}),
	}
	c.autosave = autosave.NewScheduler(autosave.Config{
		SessionID: s.SessionID,
		Persister: deps.Store,
		Snapshot:  c.draftSnapshot,
		OnSaved:   c.onSaved,
		Clock:     deps.Clock,
		Interval:  cfg.AutosaveInterval,
		Timeout:   cfg.AutosaveTimeout,
	})
	return c, nil
}

func (c *Controller) SessionID() string {
	return c.session.SessionID
}

// bindOwner records who may resume this session. Empty keeps the credential token as owner.
func (c *Controller) bindOwner(candidateID string) {
	if candidateID == "" {
		return
	}
	c.mu.Lock()
	c.owner = candidateID
	c.mu.Unlock()
}

// ownedBy reports whether the candidate or token may resume the session.
func (c *Controller) ownedBy(candidateID, token string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if candidateID != "" && c.owner == candidateID {
		return true
	}
	return c.owner == token
}

// Start enters Active, arms the clock and autosave. An empty buffer gets starter code.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return appErr.New(appErr.InvalidState).WithMessage("session already started")
	}
	starter, err := c.generate(c.session.Language)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.started = true
	c.starter = starter
	if c.session.Code == "" {
		c.session.Code = starter
	} else if c.session.LastPersistedCode == "" {
		c.session.LastPersistedCode = c.session.Code
	}
	id := c.session.SessionID
	c.mu.Unlock()

	if c.deps.Pastes != nil {
		count, err := c.deps.Pastes.Count(ctx, id)
		if err != nil {
			logger.Warn(ctx, "load paste count failed", zap.String("session_id", id), zap.Error(err))
		} else {
			c.pastes.Observe(count)
		}
	}

	c.source.Start(c.onClockTick)
	c.autosave.Arm(c.baseCtx)
	logger.Info(ctx, "session started",
		zap.String("session_id", id),
		zap.Time("expires_at", c.source.Expiry()),
		zap.Int64("remaining", c.source.Remaining()),
	)
	return nil
}

// Edit replaces the code buffer.
func (c *Controller) Edit(code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireActive("edit"); err != nil {
		return err
	}
	if c.cfg.MaxCodeBytes > 0 && len(code) > c.cfg.MaxCodeBytes {
		return appErr.New(appErr.CodeTooLarge).
			WithDetail("size", len(code)).
			WithDetail("limit", c.cfg.MaxCodeBytes)
	}
	c.session.Code = code
	return nil
}

// Paste records a paste action. It never changes the lifecycle state.
func (c *Controller) Paste(ctx context.Context) (paste.Event, error) {
	c.mu.Lock()
	if !c.started || c.closed || c.session.State == model.StateSubmitted {
		state := c.session.State
		c.mu.Unlock()
		return paste.Event{}, appErr.Newf(appErr.InvalidState, "cannot paste while session is %s", state)
	}
	id := c.session.SessionID
	c.mu.Unlock()

	var ev paste.Event
	if c.deps.Pastes != nil {
		total, err := c.deps.Pastes.Incr(ctx, id)
		if err != nil {
			logger.Warn(ctx, "record paste failed", zap.String("session_id", id), zap.Error(err))
			ev = c.pastes.Paste()
		} else {
			ev = c.pastes.Record(total)
		}
	} else {
		ev = c.pastes.Paste()
	}

	if ev.Flagged() {
		logger.Warn(ctx, "paste limit exceeded", zap.String("session_id", id), zap.Int("count", ev.Count))
	}
	c.notify(events.Event{
		Kind:       events.KindPaste,
		Message:    ev.Message,
		PasteCount: ev.Count,
		Flagged:    ev.Flagged(),
		Remaining:  c.source.Remaining(),
	})
	return ev, nil
}

// ChangeLanguage switches language. Unedited starter code is regenerated; edits are kept.
func (c *Controller) ChangeLanguage(language model.Language) error {
	if !language.Valid() {
		return appErr.Newf(appErr.LanguageNotSupported, "language %q is not supported", language)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireActive("change language"); err != nil {
		return err
	}
	if language == c.session.Language {
		return nil
	}
	starter, err := c.generate(language)
	if err != nil {
		return err
	}
	if c.session.Code == "" || c.session.Code == c.starter {
		c.session.Code = starter
	}
	c.starter = starter
	c.session.Language = language
	return nil
}

// Reset restores the starter code of the current language and clears the output.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireActive("reset"); err != nil {
		return err
	}
	starter, err := c.generate(c.session.Language)
	if err != nil {
		return err
	}
	c.starter = starter
	c.session.Code = starter
	c.lastOutput = ""
	return nil
}

// Run executes the current buffer against the sample cases. A second Run while one is pending is Busy.
func (c *Controller) Run(ctx context.Context) (model.RunResult, error) {
	c.mu.Lock()
	if err := c.requireActive("run"); err != nil {
		c.mu.Unlock()
		return model.RunResult{}, err
	}
	if c.running {
		c.mu.Unlock()
		return model.RunResult{}, appErr.BusyError("run")
	}
	c.running = true
	code, language := c.session.Code, c.session.Language
	cases := c.session.Challenge.SampleCases()
	c.mu.Unlock()

	callCtx := withTimeout(ctx, c.cfg.RunTimeout)
	res, err := c.deps.Evaluation.Run(callCtx.ctx, code, language, cases)
	callCtx.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	if err != nil {
		logger.Warn(ctx, "run failed", zap.String("session_id", c.session.SessionID), zap.Error(err))
		if c.session.State == model.StateActive {
			c.lastOutput = runFailureOutput(err)
		}
		return model.RunResult{}, err
	}
	if c.session.State == model.StateActive {
		c.lastOutput = res.Display()
	}
	return res, nil
}

// Evaluate runs the full suite and records the result vector. Exclusive like Run.
func (c *Controller) Evaluate(ctx context.Context) (model.EvaluationResult, error) {
	c.mu.Lock()
	if err := c.requireActive("evaluate"); err != nil {
		c.mu.Unlock()
		return model.EvaluationResult{}, err
	}
	if c.evaluating {
		c.mu.Unlock()
		return model.EvaluationResult{}, appErr.BusyError("evaluate")
	}
	c.evaluating = true
	code, language := c.session.Code, c.session.Language
	cases := append([]model.TestCase(nil), c.session.Challenge.Cases...)
	c.mu.Unlock()

	callCtx := withTimeout(ctx, c.cfg.RunTimeout)
	res, err := c.deps.Evaluation.Evaluate(callCtx.ctx, code, language, cases)
	callCtx.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.evaluating = false
	if err != nil {
		logger.Warn(ctx, "evaluate failed", zap.String("session_id", c.session.SessionID), zap.Error(err))
		return model.EvaluationResult{}, err
	}
	if c.session.State == model.StateActive {
		c.session.TestResults = append([]bool(nil), res.Results...)
		c.lastOutput = res.Output
	}
	return res, nil
}

// Save persists the buffer now, sharing the single in-flight slot with autosave.
func (c *Controller) Save(ctx context.Context) (time.Time, error) {
	c.mu.Lock()
	err := c.requireActive("save")
	c.mu.Unlock()
	if err != nil {
		return time.Time{}, err
	}
	return c.autosave.SaveNow(ctx)
}

// Submit evaluates the buffer and persists the final attempt at most once.
// Repeated calls return the earlier outcome with Duplicate set and call no remote service.
func (c *Controller) Submit(ctx context.Context, trigger model.Trigger) (model.SubmitOutcome, error) {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return model.SubmitOutcome{}, appErr.New(appErr.InvalidState).WithMessage("session not started")
	}
	switch c.session.State {
	case model.StateSubmitted:
		out := *c.outcome
		out.Results = append([]bool(nil), out.Results...)
		out.Duplicate = true
		c.mu.Unlock()
		return out, nil
	case model.StateSubmitting:
		out := c.pendingOutcome()
		c.mu.Unlock()
		return out, nil
	}
	if c.closed {
		c.mu.Unlock()
		return model.SubmitOutcome{}, appErr.New(appErr.InvalidState).WithMessage("session is closed")
	}
	c.session.State = model.StateSubmitting
	c.trigger = trigger
	id := c.session.SessionID
	// autosave must be off before Submitting can be observed
	c.autosave.Disarm()
	c.mu.Unlock()

	// A submit outlives the request that started it.
	ctx = context.WithoutCancel(ctx)
	logger.Info(ctx, "submitting session", zap.String("session_id", id), zap.String("trigger", string(trigger)))

	guarded := false
	if c.deps.Guard != nil {
		status, err := c.deps.Guard.Acquire(ctx, id)
		switch {
		case err != nil:
			logger.Warn(ctx, "submit guard unavailable", zap.String("session_id", id), zap.Error(err))
		case status == GuardDone:
			logger.Info(ctx, "session already submitted elsewhere", zap.String("session_id", id))
			out := c.complete(trigger, nil)
			out.Duplicate = true
			return out, nil
		case status == GuardInFlight:
			logger.Info(ctx, "session is being submitted elsewhere", zap.String("session_id", id))
			c.mu.Lock()
			c.awaiting = true
			out := c.pendingOutcome()
			c.mu.Unlock()
			c.watchClaim()
			return out, nil
		default:
			guarded = true
		}
	}
	return c.deliver(ctx, trigger, guarded)
}

// deliver evaluates the frozen buffer and stores the final attempt. The session must be Submitting.
func (c *Controller) deliver(ctx context.Context, trigger model.Trigger, guarded bool) (model.SubmitOutcome, error) {
	c.mu.Lock()
	id := c.session.SessionID
	code, language := c.session.Code, c.session.Language
	cases := append([]model.TestCase(nil), c.session.Challenge.Cases...)
	c.mu.Unlock()

	callCtx := withTimeout(ctx, c.cfg.SubmitTimeout)
	res, err := c.deps.Evaluation.Evaluate(callCtx.ctx, code, language, cases)
	if err == nil {
		err = c.deps.Store.SubmitFinal(callCtx.ctx, id, model.FinalSubmission{
			Code:       code,
			Language:   language,
			Results:    res.Results,
			MemoryUsed: res.MemoryUsed,
			TimeUsed:   res.TimeUsed,
		})
	}
	callCtx.cancel()

	if err != nil {
		if guarded {
			c.deps.Guard.Release(ctx, id)
		}
		c.rollback()
		logger.Error(ctx, "submit failed", zap.String("session_id", id), zap.String("trigger", string(trigger)), zap.Error(err))
		c.notify(events.Event{
			Kind:      events.KindSubmitFailed,
			Trigger:   string(trigger),
			Message:   err.Error(),
			Remaining: c.source.Remaining(),
		})
		return model.SubmitOutcome{}, retryable(err)
	}

	if guarded {
		c.deps.Guard.Complete(ctx, id)
	}
	out := c.complete(trigger, res.Results)
	logger.Info(ctx, "session submitted", zap.String("session_id", id), zap.String("summary", model.Summary(res.Results)))
	return out, nil
}

// SyncClaim re-checks a submission claimed by another process. The session completes once that
// submission landed, and this controller submits itself when the claim lapsed. settled reports
// that the session no longer waits on the other process.
func (c *Controller) SyncClaim(ctx context.Context) (out model.SubmitOutcome, settled bool, err error) {
	c.mu.Lock()
	if !c.awaiting {
		c.mu.Unlock()
		return model.SubmitOutcome{}, true, nil
	}
	id, trigger := c.session.SessionID, c.trigger
	c.mu.Unlock()

	status, err := c.deps.Guard.Acquire(ctx, id)
	if err != nil {
		c.mu.Lock()
		out = c.pendingOutcome()
		c.mu.Unlock()
		return out, false, err
	}
	switch status {
	case GuardInFlight:
		c.mu.Lock()
		out = c.pendingOutcome()
		c.mu.Unlock()
		return out, false, nil
	case GuardDone:
		if !c.stopAwaiting() {
			return model.SubmitOutcome{}, true, nil
		}
		out = c.complete(trigger, nil)
		out.Duplicate = true
		return out, true, nil
	default:
		if !c.stopAwaiting() {
			c.deps.Guard.Release(ctx, id)
			return model.SubmitOutcome{}, true, nil
		}
		logger.Warn(ctx, "submit claim lapsed, submitting locally", zap.String("session_id", id))
		out, err = c.deliver(ctx, trigger, true)
		return out, true, err
	}
}

func (c *Controller) stopAwaiting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.awaiting
	c.awaiting = false
	return was
}

// watchClaim polls the submit claim every tick until it settles or the session closes.
func (c *Controller) watchClaim() {
	ticker := c.clk.NewTicker(c.cfg.TickInterval)
	threading.GoSafe(func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C():
				_, settled, err := c.SyncClaim(c.baseCtx)
				if err != nil {
					logger.Warn(c.baseCtx, "check submit claim failed", zap.Error(err))
				}
				if settled {
					return
				}
			case <-c.done:
				return
			}
		}
	})
}

// OnTimeout submits on behalf of the timeout threshold.
func (c *Controller) OnTimeout(ctx context.Context) (model.SubmitOutcome, error) {
	logger.Info(ctx, "session time is up", zap.String("session_id", c.session.SessionID))
	return c.Submit(ctx, model.TriggerTimeout)
}

// Tick recomputes the remaining time and handles thresholds synchronously.
func (c *Controller) Tick(ctx context.Context) int64 {
	remaining := c.source.Tick()
	if c.observe(remaining) {
		_, _ = c.OnTimeout(ctx)
	}
	return remaining
}

// AutosaveTick runs one autosave check now. The armed autosave ticker takes the same path.
func (c *Controller) AutosaveTick(ctx context.Context) autosave.Outcome {
	return c.autosave.Tick(ctx)
}

func (c *Controller) onClockTick(remaining int64) {
	if c.observe(remaining) {
		threading.GoSafe(func() {
			_, _ = c.OnTimeout(c.baseCtx)
		})
	}
}

// observe feeds the notifier and reports whether the timeout threshold fired.
func (c *Controller) observe(remaining int64) bool {
	c.notify(events.Event{Kind: events.KindTick, Remaining: remaining})
	timedOut := false
	for _, th := range c.notifier.Observe(remaining) {
		kind := events.KindWarning
		if th.Kind == threshold.Timeout {
			kind = events.KindTimeout
			timedOut = true
		}
		c.notify(events.Event{
			Kind:      kind,
			Threshold: string(th.Kind),
			Message:   th.Message,
			Remaining: remaining,
		})
	}
	return timedOut
}

// Snapshot returns a copy of the observable session state.
func (c *Controller) Snapshot() model.Snapshot {
	remaining := c.source.Remaining()
	c.mu.Lock()
	defer c.mu.Unlock()
	return model.Snapshot{
		SessionID:   c.session.SessionID,
		State:       c.session.State.String(),
		Language:    c.session.Language,
		Code:        c.session.Code,
		Remaining:   remaining,
		Clock:       aclock.Format(remaining),
		LastSavedAt: c.session.LastSavedAt,
		TestResults: append([]bool(nil), c.session.TestResults...),
		Summary:     model.Summary(c.session.TestResults),
		LastOutput:  c.lastOutput,
		PasteCount:  c.pastes.Count(),
		ExpiresAt:   c.session.ExpiryInstant,
	}
}

func (c *Controller) State() model.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.State
}

// Fired reports whether a threshold has been consumed for this session.
func (c *Controller) Fired(kind threshold.Kind) bool {
	return c.notifier.Fired(kind)
}

// Subscribe streams session events until cancel is called or the session closes.
func (c *Controller) Subscribe() (<-chan events.Event, func()) {
	return c.hub.Subscribe()
}

// Close stops timers and subscribers. An in-flight submit still completes.
func (c *Controller) Close(ctx context.Context) {
	if !c.shutdown(true) {
		return
	}
	logger.Info(ctx, "session closed", zap.String("session_id", c.session.SessionID))
}

// discard tears down a controller that was never handed out, without notifying anyone.
func (c *Controller) discard() {
	c.shutdown(false)
}

func (c *Controller) shutdown(announce bool) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	c.source.Stop()
	c.autosave.Disarm()
	if announce {
		c.notify(events.Event{Kind: events.KindClosed})
	}
	c.hub.Close()
	return true
}

// expired reports whether the manager may drop the controller.
func (c *Controller) expired(now time.Time, retention time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.State == model.StateSubmitting {
		return false
	}
	if c.closed {
		return true
	}
	return c.session.State == model.StateSubmitted && now.Sub(c.submittedAt) >= retention
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Controller) requireActive(op string) error {
	if !c.started {
		return appErr.Newf(appErr.InvalidState, "cannot %s: session not started", op)
	}
	if c.closed {
		return appErr.Newf(appErr.InvalidState, "cannot %s: session is closed", op)
	}
	if c.session.State != model.StateActive {
		return appErr.Newf(appErr.InvalidState, "cannot %s while session is %s", op, c.session.State).
			WithDetail("state", c.session.State.String())
	}
	return nil
}

func (c *Controller) pendingOutcome() model.SubmitOutcome {
	return model.SubmitOutcome{
		SessionID: c.session.SessionID,
		State:     model.StateSubmitting.String(),
		Trigger:   c.trigger,
		Duplicate: true,
	}
}

func (c *Controller) complete(trigger model.Trigger, results []bool) model.SubmitOutcome {
	now := c.clk.Now()
	c.mu.Lock()
	c.session.State = model.StateSubmitted
	c.session.TestResults = append([]bool(nil), results...)
	c.session.Code = ""
	c.lastOutput = ""
	c.submittedAt = now
	out := model.SubmitOutcome{
		SessionID:   c.session.SessionID,
		State:       model.StateSubmitted.String(),
		Trigger:     trigger,
		Results:     append([]bool(nil), results...),
		SubmittedAt: now,
	}
	stored := out
	c.outcome = &stored
	c.mu.Unlock()

	c.source.Stop()
	c.notify(events.Event{
		Kind:    events.KindSubmitted,
		Trigger: string(trigger),
		Message: submittedMessage,
		Results: out.Results,
	})
	return out
}

func (c *Controller) rollback() {
	c.mu.Lock()
	if c.session.State == model.StateSubmitting {
		c.session.State = model.StateActive
	}
	closed := c.closed
	c.mu.Unlock()
	if !closed {
		c.autosave.Arm(c.baseCtx)
	}
}

func (c *Controller) draftSnapshot() (model.Draft, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	editable := c.started && !c.closed && c.session.State == model.StateActive
	return model.Draft{Code: c.session.Code, Language: c.session.Language}, c.session.LastPersistedCode, editable
}

func (c *Controller) onSaved(draft model.Draft, savedAt time.Time) {
	c.mu.Lock()
	c.session.LastPersistedCode = draft.Code
	c.session.LastSavedAt = savedAt
	c.mu.Unlock()
	c.notify(events.Event{Kind: events.KindSaved, Remaining: c.source.Remaining()})
}

// generate must be called with c.mu held.
func (c *Controller) generate(language model.Language) (string, error) {
	ch := c.session.Challenge
	return c.deps.Boilerplate.Generate(language, ch.InputTypes, ch.OutputType)
}

func (c *Controller) notify(ev events.Event) {
	ev.ID = uuid.NewString()
	ev.SessionID = c.session.SessionID
	ev.At = c.clk.Now()
	c.hub.Broadcast(ev)

	pub := c.deps.Publisher
	if pub == nil || !ev.Kind.External() {
		return
	}
	threading.GoSafe(func() {
		ctx, cancel := context.WithTimeout(c.baseCtx, publishTimeout)
		defer cancel()
		if err := pub.Publish(ctx, ev); err != nil {
			logger.Warn(ctx, "publish session event failed",
				zap.String("kind", string(ev.Kind)),
				zap.Error(err),
			)
		}
	})
}

func runFailureOutput(err error) string {
	e := appErr.GetError(err)
	if _, ok := e.Details["status"]; ok && e.Message != "" {
		return "Compiler Error: " + e.Message
	}
	return runFailureMessage
}

func retryable(err error) error {
	if e := appErr.GetError(err); e.Retryable() {
		return e
	}
	return appErr.Wrap(err, appErr.SubmissionFailed)
}
