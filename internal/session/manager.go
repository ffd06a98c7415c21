package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yarlson/forge/internal/audit"
	"github.com/yarlson/forge/internal/config"
	"github.com/yarlson/forge/internal/fsm"
	"github.com/yarlson/forge/internal/generator"
	"github.com/yarlson/forge/internal/plan"
	"github.com/yarlson/forge/internal/prompt"
	"github.com/yarlson/forge/internal/sandbox"
)

// ErrSessionNotFound is returned for lookups of unknown session IDs.
var ErrSessionNotFound = errors.New("session not found")

// ManagerDeps carries the manager's collaborators. Completion and
// Backend are injected so tests can run against canned responses and a
// local backend.
type ManagerDeps struct {
	Completion generator.Completion
	Backend    sandbox.Backend
	Config     *config.Config
	Logger     *zap.Logger

	// AuditDir, when non-empty and auditing is enabled, receives one
	// JSONL file per session.
	AuditDir string
}

// Manager creates and tracks sessions.
type Manager struct {
	deps ManagerDeps

	mu       sync.Mutex
	sessions map[string]*Session
	audits   map[string]*audit.Log
}

// NewManager creates a session manager.
func NewManager(deps ManagerDeps) (*Manager, error) {
	if deps.Completion == nil {
		return nil, errors.New("completion is required")
	}
	if deps.Backend == nil {
		return nil, errors.New("backend is required")
	}
	if deps.Config == nil {
		return nil, errors.New("config is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	return &Manager{
		deps:     deps,
		sessions: make(map[string]*Session),
		audits:   make(map[string]*audit.Log),
	}, nil
}

// Create builds a new session for the goal. A nil plan uses the default
// three-phase plan; zero per-phase width and depth values are filled
// from the search configuration.
func (m *Manager) Create(goal string, p *plan.Plan) (*Session, error) {
	cfg := m.deps.Config

	if p == nil {
		p = plan.Default()
	}
	fillSearchDefaults(p, cfg.Search)
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}

	id := uuid.New().String()
	logger := m.deps.Logger.With(zap.String("session_id", id))

	var auditLog *audit.Log
	if m.deps.AuditDir != "" && cfg.Audit.Enabled {
		var err error
		auditLog, err = audit.Open(m.deps.AuditDir, id)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
	}

	gen := generator.New(m.deps.Completion,
		generator.WithMaxRetries(cfg.Generator.MaxRetries),
		generator.WithLogger(logger))

	prompts := prompt.NewBuilder(prompt.SizeOptions{
		MaxFileBytes:    cfg.Prompt.MaxFileBytes,
		MaxFailureBytes: cfg.Prompt.MaxFailureBytes,
	})

	machine, err := fsm.New(goal, p, fsm.Deps{
		Generator: gen,
		Backend:   m.deps.Backend,
		BaseEnv:   cfg.Sandbox.BaseEnv,
		Prompts:   prompts,
		Logger:    logger,
		Audit:     auditLog,
		Sandbox: []sandbox.Option{
			sandbox.WithRetryConfig(retryFromConfig(cfg.Sandbox.Retry)),
			sandbox.WithLogger(logger),
		},
	}, fsm.Config{
		ExpansionRetries: cfg.Search.ExpansionRetries,
		StageTimeout:     time.Duration(cfg.Sandbox.StageTimeoutMS) * time.Millisecond,
	})
	if err != nil {
		if auditLog != nil {
			_ = auditLog.Close()
		}
		return nil, err
	}

	session := &Session{
		id:        id,
		goal:      goal,
		machine:   machine,
		logger:    logger,
		createdAt: time.Now(),
	}

	m.mu.Lock()
	m.sessions[id] = session
	if auditLog != nil {
		m.audits[id] = auditLog
	}
	m.mu.Unlock()

	return session, nil
}

// Get returns the session with the given ID.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return session, nil
}

// List returns a status snapshot of every session, oldest first.
func (m *Manager) List() []Status {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].createdAt.Before(sessions[j].createdAt)
	})

	statuses := make([]Status, 0, len(sessions))
	for _, s := range sessions {
		statuses = append(statuses, s.Status())
	}
	return statuses
}

// Close closes every session's audit log.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for id, log := range m.audits {
		if err := log.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.audits, id)
	}
	return firstErr
}

// fillSearchDefaults fills zero width and depth values from the search
// configuration. This is the only place plan search bounds get
// defaulted; plan.Load leaves omitted values at zero.
func fillSearchDefaults(p *plan.Plan, search config.SearchConfig) {
	width := search.Width
	if width < 1 {
		width = 1
	}
	depth := search.MaxDepth
	if depth < 1 {
		depth = 1
	}
	for i := range p.Phases {
		if p.Phases[i].Width == 0 {
			p.Phases[i].Width = width
		}
		if p.Phases[i].MaxDepth == 0 {
			p.Phases[i].MaxDepth = depth
		}
	}
}

func retryFromConfig(cfg config.RetryConfig) sandbox.RetryConfig {
	retry := sandbox.DefaultRetryConfig()
	if cfg.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialBackoffMS > 0 {
		retry.InitialBackoff = time.Duration(cfg.InitialBackoffMS) * time.Millisecond
	}
	if cfg.MaxBackoffMS > 0 {
		retry.MaxBackoff = time.Duration(cfg.MaxBackoffMS) * time.Millisecond
	}
	if cfg.BackoffFactor > 0 {
		retry.BackoffFactor = cfg.BackoffFactor
	}
	return retry
}
