// Package session provides in-process conversation contexts. A session pins
// an immutable identity, carries caller preferences, and accumulates prior
// analysis results so follow-up calls can reference them. Sessions are strict
// boundaries: there are no cross-session reads and nothing is persisted.
package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shale-yeah/kernel/auth"
	"github.com/shale-yeah/kernel/shape"
	"github.com/shale-yeah/kernel/telemetry"
)

// timestampLayout renders ISO-8601 timestamps with millisecond precision.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// ErrNotFound is returned when a session id does not resolve.
var ErrNotFound = errors.New("session not found")

type (
	// Preferences carries caller-tunable defaults applied to calls made in
	// the session.
	Preferences struct {
		// DefaultBasin is the basin assumed when args omit one.
		DefaultBasin string `json:"defaultBasin,omitempty"`
		// RiskTolerance qualifies how aggressive recommendations may be.
		RiskTolerance string `json:"riskTolerance,omitempty"`
		// DetailLevel is the session's default response detail.
		DetailLevel shape.DetailLevel `json:"detailLevel,omitempty"`
		// InvestmentCriteria are free-form thresholds for decision tools.
		InvestmentCriteria map[string]any `json:"investmentCriteria,omitempty"`
	}

	// InjectedContext is the snapshot handed to the agent at prompt time.
	InjectedContext struct {
		// UserID identifies the caller.
		UserID string `json:"userId"`
		// Role is the caller's role.
		Role auth.Role `json:"role"`
		// SessionID identifies the session.
		SessionID string `json:"sessionId"`
		// Timestamp is the snapshot time, ISO-8601 with milliseconds.
		Timestamp string `json:"timestamp"`
		// Timezone is the kernel's timezone name.
		Timezone string `json:"timezone"`
		// DefaultBasin echoes the session preference.
		DefaultBasin string `json:"defaultBasin,omitempty"`
		// RiskTolerance echoes the session preference.
		RiskTolerance string `json:"riskTolerance,omitempty"`
		// AvailableResults lists the keys of stored prior results.
		AvailableResults []string `json:"availableResults"`
	}

	// Info is the list view of a session.
	Info struct {
		// ID is the session id.
		ID string `json:"id"`
		// UserID identifies the session's caller.
		UserID string `json:"userId"`
		// Role is the caller's role.
		Role auth.Role `json:"role"`
		// CreatedAt is the creation time.
		CreatedAt time.Time `json:"createdAt"`
		// LastActivity is the time of the most recent read or write.
		LastActivity time.Time `json:"lastActivity"`
		// ResultCount is the number of stored results.
		ResultCount int `json:"resultCount"`
	}
)

// DefaultPreferences returns the preferences applied when a session is
// created without any.
func DefaultPreferences() Preferences {
	return Preferences{
		RiskTolerance: "moderate",
		DetailLevel:   shape.DetailStandard,
	}
}

// Session is one conversation context. All methods are safe for concurrent
// use; every read and write refreshes the last-activity timestamp.
type Session struct {
	mu           sync.Mutex
	id           string
	identity     auth.Identity
	prefs        Preferences
	createdAt    time.Time
	lastActivity time.Time
	results      map[string]shape.Envelope
	clock        func() time.Time
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Identity returns a copy of the session's immutable identity.
func (s *Session) Identity() auth.Identity {
	id := s.identity
	id.Permissions = append([]auth.Permission(nil), s.identity.Permissions...)
	return id
}

// Preferences returns the session preferences.
func (s *Session) Preferences() Preferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs
}

// CreatedAt returns the creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// LastActivity returns the time of the most recent read or write.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// StoreResult saves an envelope under key. Existing keys are overwritten;
// the results map only ever grows.
func (s *Session) StoreResult(key string, envelope shape.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[key] = envelope
	s.lastActivity = s.clock()
}

// Result returns the envelope stored under key.
func (s *Session) Result(key string) (shape.Envelope, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = s.clock()
	envelope, ok := s.results[key]
	return envelope, ok
}

// AvailableResults lists the stored result keys, sorted.
func (s *Session) AvailableResults() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = s.clock()
	keys := make([]string, 0, len(s.results))
	for k := range s.results {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// InjectedContext snapshots the session for prompt injection.
func (s *Session) InjectedContext() InjectedContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	s.lastActivity = now
	zone, _ := now.Zone()
	keys := make([]string, 0, len(s.results))
	for k := range s.results {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return InjectedContext{
		UserID:           s.identity.UserID,
		Role:             s.identity.Role,
		SessionID:        s.id,
		Timestamp:        now.Format(timestampLayout),
		Timezone:         zone,
		DefaultBasin:     s.prefs.DefaultBasin,
		RiskTolerance:    s.prefs.RiskTolerance,
		AvailableResults: keys,
	}
}

func (s *Session) info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:           s.id,
		UserID:       s.identity.UserID,
		Role:         s.identity.Role,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
		ResultCount:  len(s.results),
	}
}

// Manager owns the session map. Safe for concurrent use.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	clock    func() time.Time
	newID    func() string
	logger   telemetry.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger installs a logger; defaults to a no-op.
func WithLogger(logger telemetry.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) ManagerOption {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithIDGenerator overrides session id generation, for tests.
func WithIDGenerator(newID func() string) ManagerOption {
	return func(m *Manager) {
		if newID != nil {
			m.newID = newID
		}
	}
}

// NewManager creates an empty session manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		clock:    time.Now,
		newID:    uuid.NewString,
		logger:   telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateOption customizes session creation.
type CreateOption func(*createParams)

type createParams struct {
	identity *auth.Identity
	prefs    *Preferences
}

// WithIdentity pins the session identity. Without it the fixed demo
// identity is used.
func WithIdentity(identity auth.Identity) CreateOption {
	return func(p *createParams) {
		p.identity = &identity
	}
}

// WithPreferences sets the session preferences. Without it the defaults
// apply.
func WithPreferences(prefs Preferences) CreateOption {
	return func(p *createParams) {
		p.prefs = &prefs
	}
}

// Create registers a new session and returns it.
func (m *Manager) Create(opts ...CreateOption) *Session {
	var params createParams
	for _, opt := range opts {
		opt(&params)
	}
	identity := auth.DemoIdentity()
	if params.identity != nil {
		identity = *params.identity
	}
	prefs := DefaultPreferences()
	if params.prefs != nil {
		prefs = *params.prefs
	}

	now := m.clock()
	s := &Session{
		id:           m.newID(),
		identity:     identity,
		prefs:        prefs,
		createdAt:    now,
		lastActivity: now,
		results:      make(map[string]shape.Envelope),
		clock:        m.clock,
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()
	return s
}

// Get returns the session for id, or ErrNotFound.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Destroy removes the session for id, reporting whether it existed. Running
// calls started from the session are unaffected.
func (m *Manager) Destroy(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return false
	}
	delete(m.sessions, id)
	return true
}

// List returns the info views of all live sessions, sorted by creation time
// then id for determinism.
func (m *Manager) List() []Info {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.info())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
