package persistence_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"codeassess/internal/assessment/model"
	"codeassess/internal/assessment/persistence"
	"codeassess/internal/common/http/remote"
	"codeassess/internal/testutil"
	appErr "codeassess/pkg/errors"
)

type recorded struct {
	method string
	path   string
	body   []byte
}

type recorder struct {
	mu     sync.Mutex
	calls  []recorded
	status int
}

func (r *recorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	r.calls = append(r.calls, recorded{method: req.Method, path: req.URL.Path, body: body})
	status := r.status
	r.mu.Unlock()
	if status == 0 {
		status = http.StatusNoContent
	}
	w.WriteHeader(status)
}

func TestUpdateSendsDraft(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	store := persistence.NewHTTPStore(remote.Config{BaseURL: srv.URL})
	err := store.Update(context.Background(), "a-1", model.Draft{Code: "x = 1", Language: model.LanguagePython})
	testutil.AssertNil(t, err)

	testutil.AssertEqual(t, len(rec.calls), 1)
	testutil.AssertEqual(t, rec.calls[0].method, http.MethodPut)
	testutil.AssertEqual(t, rec.calls[0].path, "/assessments/a-1")
	var draft model.Draft
	testutil.MustUnmarshalJSON(t, rec.calls[0].body, &draft)
	testutil.AssertEqual(t, draft.Code, "x = 1")
	testutil.AssertEqual(t, draft.Language, model.LanguagePython)
}

func TestSubmitFinalSendsResultVector(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	store := persistence.NewHTTPStore(remote.Config{BaseURL: srv.URL})
	err := store.SubmitFinal(context.Background(), "a-1", model.FinalSubmission{
		Code:       "code",
		Language:   model.LanguageJava,
		Results:    []bool{true, true, false},
		MemoryUsed: 2048,
		TimeUsed:   1.5,
	})
	testutil.AssertNil(t, err)
	testutil.AssertEqual(t, rec.calls[0].path, "/assessments/a-1/submit")

	var payload map[string]interface{}
	testutil.MustUnmarshalJSON(t, rec.calls[0].body, &payload)
	testutil.AssertDeepEqual(t, payload["result"], []interface{}{true, true, false})
	testutil.AssertEqual(t, payload["execution_memory"], float64(2048))
	testutil.AssertEqual(t, payload["execution_time"], 1.5)
}

func TestSubmitFinalFailure(t *testing.T) {
	rec := &recorder{status: http.StatusServiceUnavailable}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	store := persistence.NewHTTPStore(remote.Config{BaseURL: srv.URL})
	err := store.SubmitFinal(context.Background(), "a-1", model.FinalSubmission{})
	testutil.AssertTrue(t, appErr.Is(err, appErr.SubmissionFailed), "expected SubmissionFailed")
	testutil.AssertTrue(t, appErr.GetError(err).Retryable(), "submission failures are retryable")
}

func TestEmptySessionIDRejected(t *testing.T) {
	store := persistence.NewHTTPStore(remote.Config{BaseURL: "http://127.0.0.1:1"})
	err := store.Update(context.Background(), "", model.Draft{})
	testutil.AssertTrue(t, appErr.Is(err, appErr.RequiredFieldEmpty), "expected RequiredFieldEmpty")
}
