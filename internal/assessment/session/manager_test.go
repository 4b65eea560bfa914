package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"codeassess/internal/assessment/credential"
	"codeassess/internal/assessment/model"
	"codeassess/internal/assessment/session"
	"codeassess/internal/testutil"
	appErr "codeassess/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
	testingclock "k8s.io/utils/clock/testing"
)

const managerSecret = "manager-secret"

func managerToken(t *testing.T, assessmentID string, exp time.Time) string {
	t.Helper()
	return candidateToken(t, assessmentID, "c-1", exp)
}

func candidateToken(t *testing.T, assessmentID, candidateID string, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"exp":           exp.Unix(),
		"assessment_id": assessmentID,
		"candidate_id":  candidateID,
	}).SignedString([]byte(managerSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func newManager(t *testing.T) (*session.Manager, *testingclock.FakeClock, *fakeStore) {
	t.Helper()
	clk := testingclock.NewFakeClock(epoch)
	store := newFakeStore()
	m := session.NewManager(session.Config{
		TickInterval:     time.Hour,
		AutosaveInterval: time.Hour,
		Retention:        time.Hour,
		SweepInterval:    time.Hour,
	}, session.Dependencies{
		Evaluation: newFakeEvaluation(),
		Store:      store,
		Clock:      clk,
	}, credential.NewDecoder(credential.Config{Secret: managerSecret}))
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	return m, clk, store
}

func TestManagerOpenAndResume(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()
	token := managerToken(t, "a-1", epoch.Add(90*time.Minute))

	ctrl, err := m.Open(ctx, session.OpenRequest{Token: token, Language: "py"})
	testutil.AssertNil(t, err)
	testutil.AssertEqual(t, ctrl.SessionID(), "a-1")
	snap := ctrl.Snapshot()
	testutil.AssertEqual(t, snap.Language, model.LanguagePython)
	testutil.AssertEqual(t, snap.Remaining, int64(5400))

	again, err := m.Open(ctx, session.OpenRequest{Token: "Bearer " + token, SessionID: "a-1"})
	testutil.AssertNil(t, err)
	testutil.AssertTrue(t, again == ctrl, "open should resume the live controller")

	got, err := m.Get("a-1")
	testutil.AssertNil(t, err)
	testutil.AssertTrue(t, got == ctrl, "get returns the same controller")
	testutil.AssertEqual(t, m.Len(), 1)
}

func TestManagerOpenErrors(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()
	token := managerToken(t, "a-1", epoch.Add(time.Hour))

	_, err := m.Open(ctx, session.OpenRequest{Token: token, SessionID: "a-2"})
	testutil.AssertTrue(t, appErr.Is(err, appErr.TokenInvalid), "credential of another session")

	_, err = m.Open(ctx, session.OpenRequest{Token: "not-a-jwt"})
	testutil.AssertTrue(t, appErr.Is(err, appErr.MalformedCredential), "garbage token")

	_, err = m.Open(ctx, session.OpenRequest{Token: token, Language: "cobol"})
	testutil.AssertTrue(t, appErr.Is(err, appErr.LanguageNotSupported), "unknown language")
	testutil.AssertEqual(t, m.Len(), 0)
}

func TestManagerResumeChecksOwner(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()

	ctrl, err := m.Open(ctx, session.OpenRequest{Token: candidateToken(t, "a-6", "c-1", epoch.Add(time.Hour))})
	testutil.AssertNil(t, err)

	refreshed, err := m.Open(ctx, session.OpenRequest{Token: candidateToken(t, "a-6", "c-1", epoch.Add(2*time.Hour))})
	testutil.AssertNil(t, err)
	testutil.AssertTrue(t, refreshed == ctrl, "a refreshed credential of the same candidate resumes")

	_, err = m.Open(ctx, session.OpenRequest{Token: candidateToken(t, "a-6", "c-2", epoch.Add(time.Hour))})
	testutil.AssertTrue(t, appErr.Is(err, appErr.TokenInvalid), "another candidate cannot attach")
	testutil.AssertEqual(t, m.Len(), 1)
}

func TestManagerConcurrentOpenSharesController(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()
	token := managerToken(t, "a-7", epoch.Add(time.Hour))

	const n = 8
	got := make([]*session.Controller, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctrl, err := m.Open(ctx, session.OpenRequest{Token: token})
			if err != nil {
				t.Errorf("open %d: %v", i, err)
				return
			}
			got[i] = ctrl
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		testutil.AssertTrue(t, got[i] == got[0], "every open resolves to one controller")
	}
	testutil.AssertEqual(t, m.Len(), 1)
	testutil.AssertEqual(t, got[0].State(), model.StateActive)
}

func TestManagerCloseAndReopen(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()
	token := managerToken(t, "a-3", epoch.Add(time.Hour))

	first, err := m.Open(ctx, session.OpenRequest{Token: token})
	testutil.AssertNil(t, err)
	testutil.AssertNil(t, m.Close(ctx, "a-3"))

	_, err = m.Get("a-3")
	testutil.AssertTrue(t, appErr.Is(err, appErr.SessionNotFound), "closed session is forgotten")
	err = m.Close(ctx, "a-3")
	testutil.AssertTrue(t, appErr.Is(err, appErr.SessionNotFound), "second close")

	second, err := m.Open(ctx, session.OpenRequest{Token: token})
	testutil.AssertNil(t, err)
	testutil.AssertTrue(t, second != first, "reopen builds a fresh controller")
}

func TestManagerSweepsSubmittedSessions(t *testing.T) {
	m, clk, store := newManager(t)
	ctx := context.Background()

	done, err := m.Open(ctx, session.OpenRequest{Token: managerToken(t, "a-4", epoch.Add(time.Hour))})
	testutil.AssertNil(t, err)
	_, err = m.Open(ctx, session.OpenRequest{Token: managerToken(t, "a-5", epoch.Add(time.Hour))})
	testutil.AssertNil(t, err)

	_, err = done.Submit(ctx, model.TriggerManual)
	testutil.AssertNil(t, err)
	_, submits := store.counts()
	testutil.AssertEqual(t, submits, 1)

	clk.Step(30 * time.Minute)
	testutil.AssertEqual(t, m.Sweep(ctx), 0)

	clk.Step(31 * time.Minute)
	testutil.AssertEqual(t, m.Sweep(ctx), 1)
	_, err = m.Get("a-4")
	testutil.AssertTrue(t, appErr.Is(err, appErr.SessionNotFound), "swept session is gone")
	_, err = m.Get("a-5")
	testutil.AssertNil(t, err)
}

func TestManagerShutdownClosesAll(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()
	ctrl, err := m.Open(ctx, session.OpenRequest{Token: managerToken(t, "a-6", epoch.Add(time.Hour))})
	testutil.AssertNil(t, err)

	m.Shutdown(ctx)
	testutil.AssertEqual(t, m.Len(), 0)
	_, err = ctrl.Submit(ctx, model.TriggerManual)
	testutil.AssertTrue(t, appErr.Is(err, appErr.InvalidState), "closed sessions reject submits")
}
