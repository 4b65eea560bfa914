package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"codeassess/internal/assessment/autosave"
	"codeassess/internal/assessment/model"
	"codeassess/internal/testutil"
	appErr "codeassess/pkg/errors"

	testingclock "k8s.io/utils/clock/testing"
)

type gatedEvaluation struct {
	gate    chan struct{}
	entered chan struct{}
}

func (g *gatedEvaluation) Run(ctx context.Context, code string, language model.Language, cases []model.TestCase) (model.RunResult, error) {
	return model.RunResult{}, nil
}

func (g *gatedEvaluation) Evaluate(ctx context.Context, code string, language model.Language, cases []model.TestCase) (model.EvaluationResult, error) {
	g.entered <- struct{}{}
	<-g.gate
	return model.EvaluationResult{Results: []bool{true}}, nil
}

type updateCounter struct {
	mu      sync.Mutex
	updates int
}

func (u *updateCounter) Update(ctx context.Context, sessionID string, draft model.Draft) error {
	u.mu.Lock()
	u.updates++
	u.mu.Unlock()
	return nil
}

func (u *updateCounter) SubmitFinal(ctx context.Context, sessionID string, final model.FinalSubmission) error {
	return nil
}

func (u *updateCounter) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.updates
}

// stalledSnapshot parks the autosave snapshot so a submit can start while a
// tick or save is already past its armed check.
type stalledSnapshot struct {
	ctrl    *Controller
	eval    *gatedEvaluation
	store   *updateCounter
	entered chan struct{}
	release chan struct{}
}

func newStalledSnapshot(t *testing.T) *stalledSnapshot {
	t.Helper()
	clk := testingclock.NewFakeClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	eval := &gatedEvaluation{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	store := &updateCounter{}
	ctrl, err := NewController(model.Session{
		SessionID:     "a-7",
		ExpiryInstant: clk.Now().Add(time.Hour),
		Language:      model.LanguagePython,
		Challenge:     model.Challenge{InputTypes: []string{"int"}, OutputType: "int"},
	}, Config{TickInterval: time.Hour, AutosaveInterval: time.Hour}, Dependencies{
		Evaluation: eval,
		Store:      store,
		Clock:      clk,
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start controller: %v", err)
	}
	t.Cleanup(func() { ctrl.Close(context.Background()) })
	testutil.AssertNil(t, ctrl.Edit("def solution(arg1):\n    return arg1\n"))

	s := &stalledSnapshot{
		ctrl:    ctrl,
		eval:    eval,
		store:   store,
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	ctrl.autosave.Disarm()
	ctrl.autosave = autosave.NewScheduler(autosave.Config{
		SessionID: "a-7",
		Persister: store,
		Snapshot: func() (model.Draft, string, bool) {
			s.entered <- struct{}{}
			<-s.release
			return ctrl.draftSnapshot()
		},
		OnSaved:  ctrl.onSaved,
		Clock:    clk,
		Interval: time.Hour,
	})
	ctrl.autosave.Arm(context.Background())
	return s
}

// submitWhileStalled starts a submit once the snapshot is parked and lets the
// snapshot continue only after the session entered Submitting.
func (s *stalledSnapshot) submitWhileStalled(t *testing.T) <-chan error {
	t.Helper()
	wait(t, s.entered, "snapshot")
	done := make(chan error, 1)
	go func() {
		_, err := s.ctrl.Submit(context.Background(), model.TriggerManual)
		done <- err
	}()
	wait(t, s.eval.entered, "evaluate")
	testutil.AssertEqual(t, s.ctrl.State(), model.StateSubmitting)
	close(s.release)
	return done
}

func (s *stalledSnapshot) finishSubmit(t *testing.T, done <-chan error) {
	t.Helper()
	close(s.eval.gate)
	select {
	case err := <-done:
		testutil.AssertNil(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("submit did not finish")
	}
	testutil.AssertEqual(t, s.ctrl.State(), model.StateSubmitted)
}

func wait(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestTickRacingSubmitDoesNotPersist(t *testing.T) {
	s := newStalledSnapshot(t)

	outcome := make(chan autosave.Outcome, 1)
	go func() { outcome <- s.ctrl.AutosaveTick(context.Background()) }()
	done := s.submitWhileStalled(t)

	select {
	case got := <-outcome:
		testutil.AssertEqual(t, got, autosave.OutcomeIdle)
	case <-time.After(2 * time.Second):
		t.Fatal("tick did not finish")
	}
	testutil.AssertEqual(t, s.store.count(), 0)
	s.finishSubmit(t, done)
	testutil.AssertEqual(t, s.store.count(), 0)
}

func TestSaveRacingSubmitDoesNotPersist(t *testing.T) {
	s := newStalledSnapshot(t)

	saved := make(chan error, 1)
	go func() {
		_, err := s.ctrl.autosave.SaveNow(context.Background())
		saved <- err
	}()
	done := s.submitWhileStalled(t)

	select {
	case err := <-saved:
		testutil.AssertTrue(t, appErr.Is(err, appErr.InvalidState), "save started before submit is refused")
	case <-time.After(2 * time.Second):
		t.Fatal("save did not finish")
	}
	testutil.AssertFalse(t, s.ctrl.autosave.Pending(), "refused save frees the slot")
	s.finishSubmit(t, done)
	testutil.AssertEqual(t, s.store.count(), 0)
}
