package controller_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"codeassess/internal/assessment/controller"
	"codeassess/internal/assessment/credential"
	"codeassess/internal/assessment/model"
	"codeassess/internal/assessment/session"
	commonmw "codeassess/internal/common/http/middleware"
	"codeassess/internal/testutil"
	appErr "codeassess/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

const secret = "http-secret"

type stubEvaluation struct{}

func (stubEvaluation) Run(ctx context.Context, code string, language model.Language, cases []model.TestCase) (model.RunResult, error) {
	out := "echo:" + code
	return model.RunResult{Stdout: &out, Status: model.RunStatus{ID: 3, Description: "Accepted"}}, nil
}

func (stubEvaluation) Evaluate(ctx context.Context, code string, language model.Language, cases []model.TestCase) (model.EvaluationResult, error) {
	return model.EvaluationResult{Results: []bool{true, false}, Output: "1 of 2"}, nil
}

type countingStore struct {
	mu      sync.Mutex
	submits int
}

func (s *countingStore) Update(ctx context.Context, sessionID string, draft model.Draft) error {
	return nil
}

func (s *countingStore) SubmitFinal(ctx context.Context, sessionID string, final model.FinalSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submits++
	return nil
}

type envelope struct {
	Code      appErr.ErrorCode `json:"code"`
	Message   string           `json:"message"`
	Data      json.RawMessage  `json:"data"`
	Retryable bool             `json:"retryable"`
}

func newRouter(t *testing.T) (*gin.Engine, *countingStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := &countingStore{}
	manager := session.NewManager(session.Config{}, session.Dependencies{
		Evaluation: stubEvaluation{},
		Store:      store,
	}, credential.NewDecoder(credential.Config{Secret: secret}))
	t.Cleanup(func() { manager.Shutdown(context.Background()) })

	router := gin.New()
	router.Use(commonmw.TraceContextMiddleware())
	controller.NewSessionController(manager).Register(router.Group("/api/v1/sessions"))
	return router, store
}

func token(t *testing.T, id string) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp":           time.Now().Add(time.Hour).Unix(),
		"assessment_id": id,
	}).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return raw
}

func do(t *testing.T, router http.Handler, method, path string, body interface{}) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var env envelope
	testutil.MustUnmarshalJSON(t, rec.Body.Bytes(), &env)
	return rec.Code, env
}

func openSession(t *testing.T, router http.Handler, id string) model.Snapshot {
	t.Helper()
	status, env := do(t, router, http.MethodPost, "/api/v1/sessions", gin.H{
		"token":    token(t, id),
		"language": "typescript",
		"challenge": gin.H{
			"input_types": []string{"int"},
			"output_type": "bool",
			"cases":       []gin.H{{"input": []string{"1"}, "output": "true", "sample": true}},
		},
	})
	testutil.AssertEqual(t, status, http.StatusOK)
	var snap model.Snapshot
	testutil.MustUnmarshalJSON(t, env.Data, &snap)
	return snap
}

func TestOpenAndGet(t *testing.T) {
	router, _ := newRouter(t)
	snap := openSession(t, router, "a-1")
	testutil.AssertEqual(t, snap.SessionID, "a-1")
	testutil.AssertEqual(t, snap.State, "ACTIVE")
	testutil.AssertEqual(t, snap.Code, "function solution(arg1: number): boolean {\n  // Write your code here\n}\n")

	status, env := do(t, router, http.MethodGet, "/api/v1/sessions/a-1", nil)
	testutil.AssertEqual(t, status, http.StatusOK)
	testutil.AssertEqual(t, env.Code, appErr.Success)
}

func TestOpenRejectsBadToken(t *testing.T) {
	router, _ := newRouter(t)
	status, env := do(t, router, http.MethodPost, "/api/v1/sessions", gin.H{"token": "nope"})
	testutil.AssertEqual(t, status, appErr.MalformedCredential.HTTPStatus())
	testutil.AssertEqual(t, env.Code, appErr.MalformedCredential)
}

func TestUnknownSession(t *testing.T) {
	router, _ := newRouter(t)
	status, env := do(t, router, http.MethodGet, "/api/v1/sessions/missing", nil)
	testutil.AssertEqual(t, status, http.StatusNotFound)
	testutil.AssertEqual(t, env.Code, appErr.SessionNotFound)
}

func TestEditRunAndSubmit(t *testing.T) {
	router, store := newRouter(t)
	openSession(t, router, "a-2")

	status, _ := do(t, router, http.MethodPut, "/api/v1/sessions/a-2/code", gin.H{"code": "return true"})
	testutil.AssertEqual(t, status, http.StatusOK)

	status, env := do(t, router, http.MethodPost, "/api/v1/sessions/a-2/run", gin.H{"code": "return 1"})
	testutil.AssertEqual(t, status, http.StatusOK)
	var run controller.RunResponse
	testutil.MustUnmarshalJSON(t, env.Data, &run)
	testutil.AssertEqual(t, run.Output, "echo:return 1")

	status, env = do(t, router, http.MethodPost, "/api/v1/sessions/a-2/evaluate", nil)
	testutil.AssertEqual(t, status, http.StatusOK)
	var eval controller.EvaluateResponse
	testutil.MustUnmarshalJSON(t, env.Data, &eval)
	testutil.AssertEqual(t, eval.Summary, "1/2 Passed")

	status, env = do(t, router, http.MethodPost, "/api/v1/sessions/a-2/submit", nil)
	testutil.AssertEqual(t, status, http.StatusOK)
	var out model.SubmitOutcome
	testutil.MustUnmarshalJSON(t, env.Data, &out)
	testutil.AssertEqual(t, out.State, "SUBMITTED")
	testutil.AssertFalse(t, out.Duplicate, "first submit")

	_, env = do(t, router, http.MethodPost, "/api/v1/sessions/a-2/submit", nil)
	testutil.MustUnmarshalJSON(t, env.Data, &out)
	testutil.AssertTrue(t, out.Duplicate, "second submit is a duplicate")
	store.mu.Lock()
	testutil.AssertEqual(t, store.submits, 1)
	store.mu.Unlock()

	status, env = do(t, router, http.MethodPut, "/api/v1/sessions/a-2/code", gin.H{"code": "late"})
	testutil.AssertEqual(t, status, http.StatusConflict)
	testutil.AssertEqual(t, env.Code, appErr.InvalidState)
}

func TestRepeatSubmitWithCodeReturnsEarlierOutcome(t *testing.T) {
	router, store := newRouter(t)
	openSession(t, router, "a-20")

	status, env := do(t, router, http.MethodPost, "/api/v1/sessions/a-20/submit", gin.H{"code": "return true"})
	testutil.AssertEqual(t, status, http.StatusOK)
	var first model.SubmitOutcome
	testutil.MustUnmarshalJSON(t, env.Data, &first)
	testutil.AssertEqual(t, first.State, "SUBMITTED")
	testutil.AssertFalse(t, first.Duplicate, "first submit")

	status, env = do(t, router, http.MethodPost, "/api/v1/sessions/a-20/submit", gin.H{"code": "return false"})
	testutil.AssertEqual(t, status, http.StatusOK)
	testutil.AssertEqual(t, env.Code, appErr.Success)
	var second model.SubmitOutcome
	testutil.MustUnmarshalJSON(t, env.Data, &second)
	testutil.AssertTrue(t, second.Duplicate, "second submit is a duplicate")
	testutil.AssertEqual(t, second.State, "SUBMITTED")
	testutil.AssertEqual(t, second.Trigger, first.Trigger)

	store.mu.Lock()
	testutil.AssertEqual(t, store.submits, 1)
	store.mu.Unlock()

	_, env = do(t, router, http.MethodGet, "/api/v1/sessions/a-20", nil)
	var snap model.Snapshot
	testutil.MustUnmarshalJSON(t, env.Data, &snap)
	testutil.AssertEqual(t, snap.State, "SUBMITTED")
	testutil.AssertEqual(t, snap.Code, "")
}

func TestRunWithCodeAfterSubmitIsRejected(t *testing.T) {
	router, _ := newRouter(t)
	openSession(t, router, "a-21")

	status, _ := do(t, router, http.MethodPost, "/api/v1/sessions/a-21/submit", nil)
	testutil.AssertEqual(t, status, http.StatusOK)

	status, env := do(t, router, http.MethodPost, "/api/v1/sessions/a-21/run", gin.H{"code": "late"})
	testutil.AssertEqual(t, status, http.StatusConflict)
	testutil.AssertEqual(t, env.Code, appErr.InvalidState)
}

func TestEditRequiresCode(t *testing.T) {
	router, _ := newRouter(t)
	openSession(t, router, "a-3")
	status, _ := do(t, router, http.MethodPut, "/api/v1/sessions/a-3/code", gin.H{})
	testutil.AssertEqual(t, status, http.StatusBadRequest)
}

func TestLanguagePasteResetAndClose(t *testing.T) {
	router, _ := newRouter(t)
	openSession(t, router, "a-4")

	status, env := do(t, router, http.MethodPost, "/api/v1/sessions/a-4/language", gin.H{"language": "py"})
	testutil.AssertEqual(t, status, http.StatusOK)
	var snap model.Snapshot
	testutil.MustUnmarshalJSON(t, env.Data, &snap)
	testutil.AssertEqual(t, snap.Language, model.LanguagePython)

	status, env = do(t, router, http.MethodPost, "/api/v1/sessions/a-4/language", gin.H{"language": "cobol"})
	testutil.AssertEqual(t, env.Code, appErr.LanguageNotSupported)
	testutil.AssertEqual(t, status, http.StatusBadRequest)

	_, env = do(t, router, http.MethodPost, "/api/v1/sessions/a-4/paste", nil)
	var p controller.PasteResponse
	testutil.MustUnmarshalJSON(t, env.Data, &p)
	testutil.AssertEqual(t, p.Count, 1)
	testutil.AssertEqual(t, p.Message, "Excessive pasting is discouraged.")

	status, _ = do(t, router, http.MethodPost, "/api/v1/sessions/a-4/reset", nil)
	testutil.AssertEqual(t, status, http.StatusOK)

	status, _ = do(t, router, http.MethodDelete, "/api/v1/sessions/a-4", nil)
	testutil.AssertEqual(t, status, http.StatusOK)
	status, _ = do(t, router, http.MethodGet, "/api/v1/sessions/a-4", nil)
	testutil.AssertEqual(t, status, http.StatusNotFound)
}

func TestEventsStream(t *testing.T) {
	router, _ := newRouter(t)
	openSession(t, router, "a-5")
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/sessions/a-5/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial events: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var snap model.Snapshot
	testutil.AssertNil(t, conn.ReadJSON(&snap))
	testutil.AssertEqual(t, snap.SessionID, "a-5")

	resp, err := http.Post(srv.URL+"/api/v1/sessions/a-5/paste", "application/json", nil)
	if err != nil {
		t.Fatalf("paste: %v", err)
	}
	_ = resp.Body.Close()

	for {
		var ev struct {
			Kind       string `json:"kind"`
			PasteCount int    `json:"paste_count"`
		}
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if ev.Kind == "paste" {
			testutil.AssertEqual(t, ev.PasteCount, 1)
			return
		}
	}
}

func TestExecutionLimitGuardsRunAndEvaluate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	manager := session.NewManager(session.Config{}, session.Dependencies{
		Evaluation: stubEvaluation{},
		Store:      &countingStore{},
	}, credential.NewDecoder(credential.Config{Secret: secret}))
	t.Cleanup(func() { manager.Shutdown(context.Background()) })

	var hits int
	limit := func(c *gin.Context) {
		hits++
		if hits > 1 {
			c.AbortWithStatus(http.StatusTooManyRequests)
			return
		}
		c.Next()
	}
	router := gin.New()
	controller.NewSessionController(manager).WithExecutionLimit(limit).Register(router.Group("/api/v1/sessions"))
	openSession(t, router, "a-9")

	status, _ := do(t, router, http.MethodPost, "/api/v1/sessions/a-9/run", nil)
	testutil.AssertEqual(t, status, http.StatusOK)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/a-9/evaluate", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	testutil.AssertEqual(t, rec.Code, http.StatusTooManyRequests)

	status, _ = do(t, router, http.MethodPost, "/api/v1/sessions/a-9/save", nil)
	testutil.AssertEqual(t, status, http.StatusOK)
	testutil.AssertEqual(t, hits, 2)
}
