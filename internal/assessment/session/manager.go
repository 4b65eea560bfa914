package session

import (
	"context"
	"strings"
	"sync"

	"codeassess/internal/assessment/credential"
	"codeassess/internal/assessment/model"
	appErr "codeassess/pkg/errors"
	"codeassess/pkg/utils/logger"

	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/threading"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// OpenRequest carries what a client supplies to open or resume a session.
type OpenRequest struct {
	Token     string          `json:"token"`
	SessionID string          `json:"session_id"`
	Language  string          `json:"language"`
	Code      string          `json:"code"`
	Challenge model.Challenge `json:"challenge"`
}

// Manager keeps the live controllers of this process keyed by session id.
type Manager struct {
	cfg     Config
	deps    Dependencies
	decoder *credential.Decoder
	clk     clock.WithTicker

	mu       sync.RWMutex
	sessions map[string]*Controller

	stopOnce sync.Once
	stop     chan struct{}
}

func NewManager(cfg Config, deps Dependencies, decoder *credential.Decoder) *Manager {
	cfg.ApplyDefaults()
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}
	if decoder == nil {
		decoder = credential.NewDecoder(credential.Config{})
	}
	return &Manager{
		cfg:      cfg,
		deps:     deps,
		decoder:  decoder,
		clk:      deps.Clock,
		sessions: make(map[string]*Controller),
		stop:     make(chan struct{}),
	}
}

// Open decodes the credential and starts a controller. A live session is resumed as is.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (*Controller, error) {
	cred, err := m.decoder.Decode(req.Token)
	if err != nil {
		return nil, err
	}
	id := strings.TrimSpace(req.SessionID)
	if id != "" && cred.SessionID != "" && id != cred.SessionID {
		return nil, appErr.New(appErr.TokenInvalid).WithMessage("credential does not belong to this session")
	}
	if id == "" {
		id = cred.SessionID
	}
	if id == "" {
		id = uuid.NewString()
	}
	language, err := model.ParseLanguage(req.Language)
	if err != nil {
		return nil, err
	}

	if existing, ok := m.live(id); ok {
		return m.resume(existing, cred)
	}

	ctrl, err := NewController(model.Session{
		SessionID:           id,
		CandidateCredential: cred.Token,
		ExpiryInstant:       cred.ExpiresAt,
		Code:                req.Code,
		Language:            language,
		Challenge:           req.Challenge,
	}, m.cfg, m.deps)
	if err != nil {
		return nil, err
	}
	ctrl.bindOwner(cred.CandidateID)
	if err := ctrl.Start(logger.WithSession(ctx, id)); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.sessions[id]; ok && !existing.isClosed() {
		m.mu.Unlock()
		// lost the race against a concurrent open of the same session
		ctrl.discard()
		return m.resume(existing, cred)
	}
	m.sessions[id] = ctrl
	m.mu.Unlock()
	return ctrl, nil
}

func (m *Manager) live(id string) (*Controller, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ctrl, ok := m.sessions[id]
	if !ok || ctrl.isClosed() {
		return nil, false
	}
	return ctrl, true
}

// resume hands out a live session only to the candidate it was opened for.
func (m *Manager) resume(ctrl *Controller, cred credential.Credential) (*Controller, error) {
	if !ctrl.ownedBy(cred.CandidateID, cred.Token) {
		return nil, appErr.New(appErr.TokenInvalid).WithMessage("credential does not belong to this session")
	}
	return ctrl, nil
}

func (m *Manager) Get(id string) (*Controller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ctrl, ok := m.sessions[id]
	if !ok {
		return nil, appErr.New(appErr.SessionNotFound).WithDetail("session_id", id)
	}
	return ctrl, nil
}

// Close closes and forgets a session, e.g. when the candidate navigates away.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	ctrl, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return appErr.New(appErr.SessionNotFound).WithDetail("session_id", id)
	}
	ctrl.Close(ctx)
	return nil
}

// Len returns the number of tracked sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep drops closed sessions and sessions submitted longer than the retention ago.
func (m *Manager) Sweep(ctx context.Context) int {
	now := m.clk.Now()
	var stale []*Controller
	m.mu.Lock()
	for id, ctrl := range m.sessions {
		if ctrl.expired(now, m.cfg.Retention) {
			stale = append(stale, ctrl)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, ctrl := range stale {
		ctrl.Close(ctx)
	}
	if len(stale) > 0 {
		logger.Info(ctx, "swept sessions", zap.Int("count", len(stale)))
	}
	return len(stale)
}

// StartSweeper runs Sweep every SweepInterval until Shutdown.
func (m *Manager) StartSweeper(ctx context.Context) {
	ticker := m.clk.NewTicker(m.cfg.SweepInterval)
	threading.GoSafe(func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C():
				m.Sweep(ctx)
			case <-m.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	})
}

// Shutdown stops the sweeper and closes every session.
func (m *Manager) Shutdown(ctx context.Context) {
	m.stopOnce.Do(func() { close(m.stop) })
	m.mu.Lock()
	all := make([]*Controller, 0, len(m.sessions))
	for id, ctrl := range m.sessions {
		all = append(all, ctrl)
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	for _, ctrl := range all {
		ctrl.Close(ctx)
	}
}
