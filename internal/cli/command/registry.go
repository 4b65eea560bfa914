package command

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

const sessionsPath = "/api/v1/sessions"

var idField = Field{Name: "id", Aliases: []string{"session"}, Prompt: "session_id", Type: FieldString, Required: true}

var codeField = Field{Name: "code", Aliases: []string{"source"}, Prompt: "code", Type: FieldCode}

// Registry returns all CLI commands keyed by "service action".
func Registry() map[string]Command {
	commands := []Command{
		{
			Service:      "session",
			Action:       "open",
			Method:       http.MethodPost,
			PathTemplate: sessionsPath,
			Usage:        "session open token=<jwt> language=py challenge_file=./challenge.json",
			Fields: []Field{
				{Name: "token", Prompt: "token", Type: FieldString},
				{Name: "session_id", Prompt: "session_id", Type: FieldString},
				{Name: "language", Aliases: []string{"lang"}, Prompt: "language", Type: FieldString},
				codeField,
				{Name: "challenge", Prompt: "challenge", Type: FieldJSON},
			},
		},
		{
			Service:      "session",
			Action:       "show",
			Method:       http.MethodGet,
			PathTemplate: sessionsPath + "/:id",
			Usage:        "session show",
			Fields:       []Field{idField},
		},
		{
			Service:      "session",
			Action:       "code",
			Method:       http.MethodPut,
			PathTemplate: sessionsPath + "/:id/code",
			Usage:        "session code code_file=./solution.py",
			Fields: []Field{
				idField,
				{Name: "code", Aliases: []string{"source"}, Prompt: "code", Type: FieldCode, Required: true},
			},
		},
		{
			Service:      "session",
			Action:       "paste",
			Method:       http.MethodPost,
			PathTemplate: sessionsPath + "/:id/paste",
			Usage:        "session paste",
			Fields:       []Field{idField},
		},
		{
			Service:      "session",
			Action:       "language",
			Method:       http.MethodPost,
			PathTemplate: sessionsPath + "/:id/language",
			Usage:        "session language language=go",
			Fields: []Field{
				idField,
				{Name: "language", Aliases: []string{"lang"}, Prompt: "language", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "session",
			Action:       "run",
			Method:       http.MethodPost,
			PathTemplate: sessionsPath + "/:id/run",
			Usage:        "session run [code_file=./solution.js]",
			Fields:       []Field{idField, codeField},
		},
		{
			Service:      "session",
			Action:       "evaluate",
			Method:       http.MethodPost,
			PathTemplate: sessionsPath + "/:id/evaluate",
			Usage:        "session evaluate [code_file=./solution.js]",
			Fields:       []Field{idField, codeField},
		},
		{
			Service:      "session",
			Action:       "submit",
			Method:       http.MethodPost,
			PathTemplate: sessionsPath + "/:id/submit",
			Usage:        "session submit [code_file=./solution.js]",
			Fields:       []Field{idField, codeField},
		},
		{
			Service:      "session",
			Action:       "save",
			Method:       http.MethodPost,
			PathTemplate: sessionsPath + "/:id/save",
			Usage:        "session save",
			Fields:       []Field{idField, codeField},
		},
		{
			Service:      "session",
			Action:       "reset",
			Method:       http.MethodPost,
			PathTemplate: sessionsPath + "/:id/reset",
			Usage:        "session reset",
			Fields:       []Field{idField},
		},
		{
			Service:      "session",
			Action:       "close",
			Method:       http.MethodDelete,
			PathTemplate: sessionsPath + "/:id",
			Usage:        "session close",
			Fields:       []Field{idField},
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Key()] = cmd
	}
	return result
}

// Keys lists registry keys in a stable order.
func Keys(commands map[string]Command) []string {
	keys := make([]string, 0, len(commands))
	for key := range commands {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// BuildRequest creates HTTP request spec based on command.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)
	path, err := buildPath(cmd.PathTemplate, params)
	if err != nil {
		return RequestSpec{}, err
	}

	headers := map[string]string{}
	if id := params.Get("id"); id != "" {
		headers["X-Session-Id"] = id
	}

	var body []byte
	if cmd.Method != http.MethodGet && cmd.Method != http.MethodDelete {
		payload, err := buildPayload(cmd, params)
		if err != nil {
			return RequestSpec{}, err
		}
		if len(payload) > 0 {
			body, err = json.Marshal(payload)
			if err != nil {
				return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
			}
		}
	}

	return RequestSpec{
		Method:  cmd.Method,
		Path:    path,
		Headers: headers,
		Body:    body,
	}, nil
}

func buildPath(template string, params Params) (string, error) {
	path := template
	placeholder := ":id"
	if strings.Contains(path, placeholder) {
		value := params.Get("id")
		if value == "" {
			return "", fmt.Errorf("missing path parameter: id")
		}
		path = strings.ReplaceAll(path, placeholder, value)
	}
	return path, nil
}

func buildPayload(cmd Command, params Params) (map[string]interface{}, error) {
	payload := map[string]interface{}{}
	for _, field := range cmd.Fields {
		if field.Name == "id" {
			continue
		}
		switch field.Type {
		case FieldCode:
			code, ok, err := valueOrFile(params, field.Name)
			if err != nil {
				return nil, err
			}
			if ok {
				payload[field.Name] = code
			} else if field.Required {
				return nil, fmt.Errorf("%s is required", field.Name)
			}
		case FieldJSON:
			raw, ok, err := valueOrFile(params, field.Name)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			value, err := ParseJSON(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", field.Name, err)
			}
			payload[field.Name] = value
		default:
			if value := params.Get(field.Name); value != "" {
				payload[field.Name] = value
			} else if field.Required {
				return nil, fmt.Errorf("%s is required", field.Name)
			}
		}
	}
	return payload, nil
}

// valueOrFile reads key directly or from the file named by key_file.
func valueOrFile(params Params, key string) (string, bool, error) {
	if path := params.Get(key + "_file"); path != "" {
		data, err := ReadFile(path)
		if err != nil {
			return "", false, err
		}
		return data, true, nil
	}
	if params.Has(key) {
		return params.Get(key), true, nil
	}
	return "", false, nil
}
