package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"codeassess/internal/cli/command"
	httpclient "codeassess/internal/cli/http"
	"codeassess/internal/cli/state"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
	"github.com/gorilla/websocket"
)

const (
	defaultPrompt     = "assess> "
	defaultWatchCount = 20
	watchTimeout      = 5 * time.Minute
)

// LineReader is the subset of readline the shell needs.
type LineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
}

// Shell holds REPL state.
type Shell struct {
	client     *httpclient.Client
	commands   map[string]command.Command
	state      *state.SessionState
	statePath  string
	prettyJSON bool
	in         LineReader
	out        io.Writer
}

func New(client *httpclient.Client, commands map[string]command.Command, st *state.SessionState, statePath string, prettyJSON bool, in LineReader, out io.Writer) *Shell {
	return &Shell{
		client:     client,
		commands:   commands,
		state:      st,
		statePath:  statePath,
		prettyJSON: prettyJSON,
		in:         in,
		out:        out,
	}
}

// NewReadline builds a readline instance with history and command completion.
func NewReadline(historyFile string, commands map[string]command.Command) (*readline.Instance, error) {
	actions := make([]readline.PrefixCompleterInterface, 0, len(commands))
	for _, key := range command.Keys(commands) {
		_, action, _ := strings.Cut(key, " ")
		actions = append(actions, readline.PcItem(action))
	}
	completer := readline.NewPrefixCompleter(
		readline.PcItem("session", actions...),
		readline.PcItem("set", readline.PcItem("base"), readline.PcItem("timeout"), readline.PcItem("token"), readline.PcItem("session")),
		readline.PcItem("show", readline.PcItem("config"), readline.PcItem("session"), readline.PcItem("token")),
		readline.PcItem("watch"),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)
	return readline.NewEx(&readline.Config{
		Prompt:          defaultPrompt,
		HistoryFile:     historyFile,
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
}

// Run reads commands until exit or EOF.
func (s *Shell) Run(ctx context.Context) {
	for {
		s.in.SetPrompt(defaultPrompt)
		line, err := s.in.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.printLine("read input failed: %v", err)
			}
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			s.printLine("bye")
			return
		}
		if s.handleSystemCommand(ctx, line) {
			continue
		}
		if err := s.Execute(ctx, line); err != nil {
			s.printLine("error: %v", err)
		}
	}
}

func (s *Shell) handleSystemCommand(ctx context.Context, line string) bool {
	switch {
	case line == "help":
		s.printHelp()
	case strings.HasPrefix(line, "set "):
		s.handleSet(strings.TrimSpace(strings.TrimPrefix(line, "set ")))
	case strings.HasPrefix(line, "show "):
		s.handleShow(strings.TrimSpace(strings.TrimPrefix(line, "show ")))
	case line == "watch" || strings.HasPrefix(line, "watch "):
		if err := s.watch(ctx, strings.TrimSpace(strings.TrimPrefix(line, "watch"))); err != nil {
			s.printLine("error: %v", err)
		}
	default:
		return false
	}
	return true
}

func (s *Shell) handleSet(args string) {
	parts := strings.Fields(args)
	if len(parts) < 2 {
		s.printLine("usage: set base|timeout|token|session <value>")
		return
	}
	switch parts[0] {
	case "base":
		s.client.SetBaseURL(parts[1])
		s.printLine("base set to %s", parts[1])
	case "timeout":
		dur, err := time.ParseDuration(parts[1])
		if err != nil {
			s.printLine("invalid duration: %v", err)
			return
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	case "token":
		s.state.Token = parts[1]
		s.persist()
		s.printLine("token updated")
	case "session":
		s.state.SessionID = parts[1]
		s.persist()
		s.printLine("session set to %s", parts[1])
	default:
		s.printLine("unknown set command")
	}
}

func (s *Shell) handleShow(args string) {
	switch args {
	case "token":
		if s.state.Token == "" {
			s.printLine("token: <empty>")
			return
		}
		token := s.state.Token
		if len(token) > 12 {
			token = token[:6] + "..." + token[len(token)-4:]
		}
		s.printLine("token: %s", token)
	case "session":
		if s.state.SessionID == "" {
			s.printLine("session: <none>")
			return
		}
		s.printLine("session: %s", s.state.SessionID)
	case "config":
		s.printLine("base: %s", s.client.BaseURL())
		s.printLine("statePath: %s", s.statePath)
	default:
		s.printLine("usage: show token|session|config")
	}
}

// Execute runs one "service action key=value" line.
func (s *Shell) Execute(ctx context.Context, line string) error {
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) < 2 {
		return fmt.Errorf("invalid command, use: session <action> key=value ...")
	}
	cmd, ok := s.commands[tokens[0]+" "+tokens[1]]
	if !ok {
		return fmt.Errorf("unknown command: %s %s", tokens[0], tokens[1])
	}
	params, err := command.ParseArgs(tokens[2:])
	if err != nil {
		return err
	}
	params.Canonicalize(cmd.Fields)
	s.applyDefaults(cmd, params)
	if err := s.promptMissing(cmd, params); err != nil {
		return err
	}

	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(ctx, req.Method, req.Path, req.Headers, req.Body)
	if err != nil {
		return err
	}
	s.renderResponse(resp)
	s.updateState(cmd, params, resp)
	return nil
}

func (s *Shell) applyDefaults(cmd command.Command, params command.Params) {
	if !params.Has("id") && s.state.SessionID != "" {
		params.Set("id", s.state.SessionID)
	}
	if cmd.Action == "open" && params.Get("token") == "" && s.state.Token != "" {
		params.Set("token", s.state.Token)
	}
}

func (s *Shell) promptMissing(cmd command.Command, params command.Params) error {
	for _, field := range cmd.Fields {
		if !field.Required || params.Get(field.Name) != "" || params.Get(field.Name+"_file") != "" {
			continue
		}
		s.in.SetPrompt(field.Prompt + ": ")
		value, err := s.in.Readline()
		s.in.SetPrompt(defaultPrompt)
		if err != nil {
			return fmt.Errorf("read input failed: %w", err)
		}
		params.Set(field.Name, strings.TrimSpace(value))
	}
	return nil
}

func (s *Shell) renderResponse(resp httpclient.ResponseInfo) {
	s.printLine("HTTP %d (%s)", resp.StatusCode, resp.Duration.Round(time.Millisecond))
	if len(resp.Body) == 0 {
		return
	}
	env, err := resp.Decode()
	if err != nil {
		s.printLine("%s", string(resp.Body))
		return
	}
	if !env.OK() {
		suffix := ""
		if env.Retryable {
			suffix = " (retryable)"
		}
		s.printLine("error %d: %s%s", env.Code, env.Message, suffix)
		return
	}
	s.printJSON(env.Data)
}

func (s *Shell) updateState(cmd command.Command, params command.Params, resp httpclient.ResponseInfo) {
	env, err := resp.Decode()
	if err != nil || !env.OK() {
		return
	}
	switch cmd.Action {
	case "open":
		var snap struct {
			SessionID string    `json:"session_id"`
			ExpiresAt time.Time `json:"expires_at"`
		}
		if err := json.Unmarshal(env.Data, &snap); err != nil {
			return
		}
		s.state.SessionID = snap.SessionID
		s.state.ExpiresAt = snap.ExpiresAt
		if token := params.Get("token"); token != "" {
			s.state.Token = token
		}
		s.persist()
	case "close":
		*s.state = state.SessionState{Token: s.state.Token}
		s.persist()
	}
}

// watch prints session events until count events arrived or the session ends.
func (s *Shell) watch(ctx context.Context, arg string) error {
	if s.state.SessionID == "" {
		return fmt.Errorf("no session, run session open first")
	}
	count := defaultWatchCount
	if arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 {
			return fmt.Errorf("usage: watch [count]")
		}
		count = n
	}
	url := "ws" + strings.TrimPrefix(s.client.BaseURL(), "http") + "/api/v1/sessions/" + s.state.SessionID + "/events"
	ctx, cancel := context.WithTimeout(ctx, watchTimeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("connect events failed: %w", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(watchTimeout))

	for i := 0; i <= count; i++ {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		var ev struct {
			Kind      string `json:"kind"`
			Message   string `json:"message"`
			Remaining int64  `json:"remaining"`
		}
		if err := json.Unmarshal(data, &ev); err != nil || ev.Kind == "" {
			s.printJSON(data)
			continue
		}
		s.printLine("[%s] remaining=%ds %s", ev.Kind, ev.Remaining, ev.Message)
		if ev.Kind == "submitted" || ev.Kind == "closed" {
			return nil
		}
	}
	return nil
}

func (s *Shell) persist() {
	if err := state.Save(s.statePath, *s.state); err != nil {
		s.printLine("save session state failed: %v", err)
	}
}

func (s *Shell) printJSON(data []byte) {
	if len(data) == 0 || string(data) == "null" {
		return
	}
	if s.prettyJSON {
		var raw interface{}
		if err := json.Unmarshal(data, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			s.printLine("%s", string(formatted))
			return
		}
	}
	s.printLine("%s", string(data))
}

func (s *Shell) printHelp() {
	s.printLine("usage: session <action> key=value ...")
	s.printLine("system: help | exit | watch [count] | set base|timeout|token|session | show token|session|config")
	s.printLine("commands:")
	for _, key := range command.Keys(s.commands) {
		s.printLine("  %s", s.commands[key].Usage)
	}
}

func (s *Shell) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
}
