// Package persistence is the client of the remote assessment persistence service.
package persistence

import (
	"context"
	"net/url"

	"codeassess/internal/assessment/model"
	"codeassess/internal/common/http/remote"
	appErr "codeassess/pkg/errors"
)

const serviceName = "persistence"

// Store persists drafts and final submissions.
type Store interface {
	Update(ctx context.Context, sessionID string, draft model.Draft) error
	SubmitFinal(ctx context.Context, sessionID string, submission model.FinalSubmission) error
}

// HTTPStore implements Store over the persistence service JSON API.
type HTTPStore struct {
	remote *remote.Client
}

// NewHTTPStore creates a persistence service client.
func NewHTTPStore(cfg remote.Config) *HTTPStore {
	return &HTTPStore{remote: remote.New(serviceName, cfg)}
}

func (s *HTTPStore) Update(ctx context.Context, sessionID string, draft model.Draft) error {
	if sessionID == "" {
		return appErr.New(appErr.RequiredFieldEmpty).WithDetail("field", "session_id")
	}
	return s.remote.PutJSON(ctx, "/assessments/"+url.PathEscape(sessionID), draft, nil)
}

func (s *HTTPStore) SubmitFinal(ctx context.Context, sessionID string, submission model.FinalSubmission) error {
	if sessionID == "" {
		return appErr.New(appErr.RequiredFieldEmpty).WithDetail("field", "session_id")
	}
	if err := s.remote.PostJSON(ctx, "/assessments/"+url.PathEscape(sessionID)+"/submit", submission, nil); err != nil {
		return appErr.Wrap(err, appErr.SubmissionFailed)
	}
	return nil
}
