package repl_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"codeassess/internal/cli/command"
	httpclient "codeassess/internal/cli/http"
	"codeassess/internal/cli/repl"
	"codeassess/internal/cli/state"
	"codeassess/internal/testutil"
)

type scriptedInput struct {
	lines   []string
	prompts []string
}

func (s *scriptedInput) Readline() (string, error) {
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

func (s *scriptedInput) SetPrompt(prompt string) {
	s.prompts = append(s.prompts, prompt)
}

type recorded struct {
	method string
	path   string
	auth   string
	body   map[string]interface{}
}

func newServer(t *testing.T, calls *[]recorded) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{method: r.Method, path: r.URL.Path, auth: r.Header.Get("Authorization")}
		_ = json.NewDecoder(r.Body).Decode(&rec.body)
		*calls = append(*calls, rec)

		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/api/v1/sessions" && r.Method == http.MethodPost:
			_, _ = w.Write([]byte(`{"code":10000,"message":"Success","data":{"session_id":"a-7","state":"ACTIVE","expires_at":"2026-03-02T10:00:00Z"}}`))
		case strings.HasSuffix(r.URL.Path, "/run"):
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"code":13004,"message":"run is already in progress","retryable":true}`))
		default:
			_, _ = w.Write([]byte(`{"code":10000,"message":"Success","data":{"session_id":"a-7"}}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newShell(t *testing.T, baseURL string, st *state.SessionState, in *scriptedInput) (*repl.Shell, *bytes.Buffer, string) {
	t.Helper()
	statePath := filepath.Join(t.TempDir(), "state.json")
	client := httpclient.New(baseURL, 5*time.Second, func() string { return st.Token })
	out := &bytes.Buffer{}
	return repl.New(client, command.Registry(), st, statePath, false, in, out), out, statePath
}

func TestOpenRemembersSession(t *testing.T) {
	var calls []recorded
	srv := newServer(t, &calls)
	st := &state.SessionState{}
	shell, _, statePath := newShell(t, srv.URL, st, &scriptedInput{})

	err := shell.Execute(context.Background(), "session open token=tok-1 language=py")
	testutil.AssertNil(t, err)
	testutil.AssertEqual(t, st.SessionID, "a-7")
	testutil.AssertEqual(t, st.Token, "tok-1")

	saved, err := state.Load(statePath)
	testutil.AssertNil(t, err)
	testutil.AssertEqual(t, saved.SessionID, "a-7")

	err = shell.Execute(context.Background(), `session code code="print(1)"`)
	testutil.AssertNil(t, err)
	testutil.AssertEqual(t, len(calls), 2)
	testutil.AssertEqual(t, calls[1].path, "/api/v1/sessions/a-7/code")
	testutil.AssertEqual(t, calls[1].auth, "Bearer tok-1")
	testutil.AssertEqual(t, calls[1].body["code"], "print(1)")
}

func TestErrorEnvelopeIsRendered(t *testing.T) {
	var calls []recorded
	srv := newServer(t, &calls)
	st := &state.SessionState{SessionID: "a-7"}
	shell, out, _ := newShell(t, srv.URL, st, &scriptedInput{})

	testutil.AssertNil(t, shell.Execute(context.Background(), "session run"))
	testutil.AssertTrue(t, strings.Contains(out.String(), "error 13004: run is already in progress (retryable)"), out.String())
}

func TestMissingFieldIsPrompted(t *testing.T) {
	var calls []recorded
	srv := newServer(t, &calls)
	st := &state.SessionState{SessionID: "a-7"}
	in := &scriptedInput{lines: []string{"go"}}
	shell, _, _ := newShell(t, srv.URL, st, in)

	testutil.AssertNil(t, shell.Execute(context.Background(), "session language"))
	testutil.AssertEqual(t, calls[0].body["language"], "go")
	testutil.AssertEqual(t, in.prompts[0], "language: ")
}

func TestRunLoopHandlesSystemCommands(t *testing.T) {
	var calls []recorded
	srv := newServer(t, &calls)
	st := &state.SessionState{}
	in := &scriptedInput{lines: []string{"set session a-3", "show session", "session show", "bogus cmd", "exit"}}
	shell, out, _ := newShell(t, srv.URL, st, in)

	shell.Run(context.Background())
	testutil.AssertEqual(t, st.SessionID, "a-3")
	testutil.AssertEqual(t, calls[0].path, "/api/v1/sessions/a-3")
	text := out.String()
	testutil.AssertTrue(t, strings.Contains(text, "session: a-3"), text)
	testutil.AssertTrue(t, strings.Contains(text, "unknown command: bogus cmd"), text)
	testutil.AssertTrue(t, strings.HasSuffix(text, "bye\n"), text)
}

func TestCloseForgetsSession(t *testing.T) {
	var calls []recorded
	srv := newServer(t, &calls)
	st := &state.SessionState{SessionID: "a-7", Token: "tok"}
	shell, _, _ := newShell(t, srv.URL, st, &scriptedInput{})

	testutil.AssertNil(t, shell.Execute(context.Background(), "session close"))
	testutil.AssertEqual(t, calls[0].method, http.MethodDelete)
	testutil.AssertEqual(t, st.SessionID, "")
	testutil.AssertEqual(t, st.Token, "tok")
}
