// Package evaluation talks to the remote code execution service.
package evaluation

import (
	"context"

	"codeassess/internal/assessment/model"
	"codeassess/internal/common/http/remote"
	appErr "codeassess/pkg/errors"
)

const serviceName = "execution"

// Client runs candidate code against test cases.
type Client interface {
	// Run executes the code against the sample cases. The result is observational only.
	Run(ctx context.Context, code string, language model.Language, cases []model.TestCase) (model.RunResult, error)
	// Evaluate executes the code against every case; Results[i] belongs to cases[i].
	Evaluate(ctx context.Context, code string, language model.Language, cases []model.TestCase) (model.EvaluationResult, error)
}

type request struct {
	Code     string           `json:"code"`
	Language model.Language   `json:"language"`
	Cases    []model.TestCase `json:"cases"`
}

// HTTPClient implements Client over the execution service JSON API.
type HTTPClient struct {
	remote *remote.Client
}

// NewHTTPClient creates an execution service client.
func NewHTTPClient(cfg remote.Config) *HTTPClient {
	return &HTTPClient{remote: remote.New(serviceName, cfg)}
}

func (c *HTTPClient) Run(ctx context.Context, code string, language model.Language, cases []model.TestCase) (model.RunResult, error) {
	var out model.RunResult
	if err := c.remote.PostJSON(ctx, "/run", request{Code: code, Language: language, Cases: cases}, &out); err != nil {
		return model.RunResult{}, err
	}
	return out, nil
}

func (c *HTTPClient) Evaluate(ctx context.Context, code string, language model.Language, cases []model.TestCase) (model.EvaluationResult, error) {
	var out model.EvaluationResult
	if err := c.remote.PostJSON(ctx, "/evaluate", request{Code: code, Language: language, Cases: cases}, &out); err != nil {
		return model.EvaluationResult{}, err
	}
	if len(out.Results) != len(cases) {
		return model.EvaluationResult{}, appErr.Newf(appErr.ServiceError,
			"execution returned %d results for %d cases", len(out.Results), len(cases)).
			WithDetail("service", serviceName)
	}
	return out, nil
}
