// Package session layers session-scoped access control over a
// filesystem. Each session carries its own lifetime, access level and
// path rules; the manager tracks usage and reclaims expired sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sandkit/vfs/data"
	"github.com/sandkit/vfs/log"
)

var (
	ErrNoSession    = errors.New("vfs: session does not exist")
	ErrSessionLimit = errors.New("vfs: session limit reached")
	ErrAccessDenied = errors.New("vfs: access denied for session")
)

// State is a session lifecycle state.
type State int

const (
	StateActive State = iota
	StateSuspended
	StateExpired
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateSuspended:
		return "suspended"
	case StateExpired:
		return "expired"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// AccessLevel bounds what a session may do regardless of its path rules.
type AccessLevel int

const (
	AccessReadOnly AccessLevel = iota
	AccessReadWrite
	AccessAdmin
)

func (a AccessLevel) String() string {
	switch a {
	case AccessReadOnly:
		return "read-only"
	case AccessReadWrite:
		return "read-write"
	case AccessAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// Session is one allocated session. Fields are owned by the manager;
// Get hands out copies.
type Session struct {
	ID        string
	SandboxID string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
	State     State
	Access    AccessLevel

	// Path rules. A non-empty allowed list acts as a whitelist; denied
	// prefixes win over allowed ones.
	AllowedPaths []string
	DeniedPaths  []string

	Metadata map[string]string

	// Usage counters.
	Operations   int64
	BytesRead    int64
	BytesWritten int64
	FilesCreated int64
	FilesDeleted int64
}

func (s *Session) expired() bool {
	return !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt)
}

func (s *Session) active() bool {
	return s.State == StateActive && !s.expired()
}

func (s *Session) canRead(path string) bool {
	if !s.active() {
		return false
	}
	for _, denied := range s.DeniedPaths {
		if data.HasPathPrefix(path, denied) {
			return false
		}
	}
	if len(s.AllowedPaths) > 0 {
		for _, allowed := range s.AllowedPaths {
			if data.HasPathPrefix(path, allowed) {
				return true
			}
		}
		return false
	}
	return true
}

func (s *Session) canWrite(path string) bool {
	if s.Access == AccessReadOnly {
		return false
	}
	return s.canRead(path)
}

func (s *Session) clone() *Session {
	c := *s
	c.AllowedPaths = append([]string(nil), s.AllowedPaths...)
	c.DeniedPaths = append([]string(nil), s.DeniedPaths...)
	c.Metadata = make(map[string]string, len(s.Metadata))
	for k, v := range s.Metadata {
		c.Metadata[k] = v
	}
	return &c
}

// Stats aggregates manager-wide counters.
type Stats struct {
	ActiveSessions int
	MaxSessions    int
	Created        int64
	Expired        int64
	Terminated     int64
	Operations     int64
	Denied         int64
}

// Manager owns the session table.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	logger   *log.Logger

	defaultTTL  time.Duration
	maxSessions int

	created    int64
	expiredCnt int64
	terminated int64
	operations int64
	denied     int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithDefaultTTL sets the lifetime applied to sessions allocated without
// an explicit TTL. Zero or negative means sessions never expire.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.defaultTTL = ttl }
}

// WithMaxSessions caps the number of concurrently held sessions.
func WithMaxSessions(n int) Option {
	return func(m *Manager) { m.maxSessions = n }
}

func WithLogger(logger *log.Logger) Option {
	return func(m *Manager) { m.logger = logger.Named("session") }
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		sessions:    make(map[string]*Session),
		logger:      log.Discard(),
		defaultTTL:  time.Hour,
		maxSessions: 1000,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AllocateOption configures one session at allocation time.
type AllocateOption func(*Session)

// WithID requests a specific session ID instead of a generated one.
func WithID(id string) AllocateOption {
	return func(s *Session) { s.ID = id }
}

func WithSandbox(id string) AllocateOption {
	return func(s *Session) { s.SandboxID = id }
}

func WithUser(id string) AllocateOption {
	return func(s *Session) { s.UserID = id }
}

// WithTTL overrides the manager default lifetime for this session.
// Zero or negative means the session never expires.
func WithTTL(ttl time.Duration) AllocateOption {
	return func(s *Session) {
		if ttl <= 0 {
			s.ExpiresAt = time.Time{}
			return
		}
		s.ExpiresAt = time.Now().Add(ttl)
	}
}

func WithAccess(level AccessLevel) AllocateOption {
	return func(s *Session) { s.Access = level }
}

func WithAllowedPaths(paths ...string) AllocateOption {
	return func(s *Session) { s.AllowedPaths = append(s.AllowedPaths, paths...) }
}

func WithDeniedPaths(paths ...string) AllocateOption {
	return func(s *Session) { s.DeniedPaths = append(s.DeniedPaths, paths...) }
}

func WithMetadata(meta map[string]string) AllocateOption {
	return func(s *Session) {
		for k, v := range meta {
			s.Metadata[k] = v
		}
	}
}

// Allocate creates a session and returns its ID. Requesting the ID of a
// still-active session returns that session unchanged; a stale one is
// replaced. When the table is full, expired sessions are reclaimed
// before giving up.
func (m *Manager) Allocate(opts ...AllocateOption) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	session := &Session{
		SandboxID: "default",
		CreatedAt: now.UTC(),
		State:     StateActive,
		Access:    AccessReadWrite,
		Metadata:  make(map[string]string),
	}
	if m.defaultTTL > 0 {
		session.ExpiresAt = now.Add(m.defaultTTL)
	}
	for _, opt := range opts {
		opt(session)
	}

	if session.ID == "" {
		session.ID = fmt.Sprintf("sess-%d-%s", now.Unix(), uuid.NewString()[:8])
	}

	if existing, ok := m.sessions[session.ID]; ok {
		if existing.active() {
			return existing.ID, nil
		}
		delete(m.sessions, session.ID)
		m.expiredCnt++
	}

	if len(m.sessions) >= m.maxSessions {
		m.reapLocked()
		if len(m.sessions) >= m.maxSessions {
			return "", fmt.Errorf("%w: %d sessions", ErrSessionLimit, m.maxSessions)
		}
	}

	m.sessions[session.ID] = session
	m.created++
	m.logger.Info("Allocated session %s for sandbox %s", session.ID, session.SandboxID)
	return session.ID, nil
}

// Get returns a copy of an active session.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok || !session.active() {
		return nil, false
	}
	return session.clone(), true
}

// Terminate removes a session. Unknown IDs report false.
func (m *Manager) Terminate(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return false
	}
	session.State = StateTerminated
	delete(m.sessions, id)
	m.terminated++
	m.logger.Info("Terminated session %s", id)
	return true
}

// Suspend pauses a session; its operations fail until Resume.
func (m *Manager) Suspend(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return false
	}
	session.State = StateSuspended
	return true
}

// Resume reactivates a suspended session unless it expired meanwhile.
func (m *Manager) Resume(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok || session.State != StateSuspended || session.expired() {
		return false
	}
	session.State = StateActive
	return true
}

// SetAllowedPaths replaces the session's whitelist.
func (m *Manager) SetAllowedPaths(id string, paths ...string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return false
	}
	session.AllowedPaths = append([]string(nil), paths...)
	return true
}

// SetDeniedPaths replaces the session's denied prefixes.
func (m *Manager) SetDeniedPaths(id string, paths ...string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return false
	}
	session.DeniedPaths = append([]string(nil), paths...)
	return true
}

// Validate checks whether the session may perform operation on path and
// records the outcome. Operations are "read", "write", "create" and
// "delete"; anything else is denied.
func (m *Manager) Validate(id, path, operation string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok || !session.active() {
		m.denied++
		return fmt.Errorf("%w: %s", ErrNoSession, id)
	}

	var allowed bool
	switch operation {
	case "read":
		allowed = session.canRead(path)
	case "write", "create", "delete":
		allowed = session.canWrite(path)
	}

	if !allowed {
		m.denied++
		m.logger.Warn("Access denied for session %s: %s on %s", id, operation, path)
		return fmt.Errorf("%w: %s on %s", ErrAccessDenied, operation, path)
	}

	session.Operations++
	m.operations++
	return nil
}

// record adds post-operation usage to a session's counters.
func (m *Manager) record(id, operation string, bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return
	}
	switch operation {
	case "read":
		session.BytesRead += bytes
	case "write":
		session.BytesWritten += bytes
	case "create":
		session.FilesCreated++
	case "delete":
		session.FilesDeleted++
	}
}

// List returns the IDs of sessions matching the filters. Empty sandbox
// and user match everything.
func (m *Manager) List(sandboxID, userID string, activeOnly bool) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.sessions))
	for id, session := range m.sessions {
		if activeOnly && !session.active() {
			continue
		}
		if sandboxID != "" && session.SandboxID != sandboxID {
			continue
		}
		if userID != "" && session.UserID != userID {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// Cleanup removes expired sessions and returns how many were reclaimed.
func (m *Manager) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reapLocked()
}

func (m *Manager) reapLocked() int {
	reaped := 0
	for id, session := range m.sessions {
		if session.expired() {
			delete(m.sessions, id)
			m.expiredCnt++
			reaped++
		}
	}
	if reaped > 0 {
		m.logger.Info("Reclaimed %d expired sessions", reaped)
	}
	return reaped
}

// Run reclaims expired sessions every interval until ctx is done. Meant
// to be launched as a goroutine by embedders that want background
// cleanup.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Cleanup()
		}
	}
}

// Stats returns the manager-wide counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		ActiveSessions: len(m.sessions),
		MaxSessions:    m.maxSessions,
		Created:        m.created,
		Expired:        m.expiredCnt,
		Terminated:     m.terminated,
		Operations:     m.operations,
		Denied:         m.denied,
	}
}
