package identity_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	identity "github.com/castellan/go-identity"
)

func notFound(what string) error {
	return goerrors.New(what+" not found", goerrors.CategoryNotFound)
}

// memUsers is a mutex-guarded in-memory Users implementation. Concurrency
// tests run against it with the race detector on, so every access locks.
type memUsers struct {
	mu      sync.Mutex
	records map[uuid.UUID]*identity.User

	registerErr error
	trackCalls  int
}

func newMemUsers() *memUsers {
	return &memUsers{records: map[uuid.UUID]*identity.User{}}
}

func (m *memUsers) add(user *identity.User) *identity.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	cp := *user
	m.records[user.ID] = &cp
	return user
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*identity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = identity.NormalizeEmail(email)
	for _, u := range m.records {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, notFound("user")
}

func (m *memUsers) GetByID(_ context.Context, id uuid.UUID) (*identity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.records[id]
	if !ok {
		return nil, notFound("user")
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) Register(_ context.Context, user *identity.User) (*identity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registerErr != nil {
		err := m.registerErr
		m.registerErr = nil
		return nil, err
	}

	user.Email = identity.NormalizeEmail(user.Email)
	for _, u := range m.records {
		if u.Email == user.Email {
			return nil, fmt.Errorf("insert users: UNIQUE constraint failed: users.email")
		}
		if u.Username != "" && u.Username == user.Username {
			return nil, fmt.Errorf("insert users: UNIQUE constraint failed: users.username")
		}
	}

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if _, ok := m.records[user.ID]; ok {
		return nil, fmt.Errorf("insert users: UNIQUE constraint failed: users.id")
	}

	cp := *user
	m.records[user.ID] = &cp
	return user, nil
}

func (m *memUsers) TrackSuccessfulLogin(_ context.Context, user *identity.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trackCalls++
	if u, ok := m.records[user.ID]; ok {
		now := time.Now()
		u.LastLoginAt = &now
	}
	return nil
}

func (m *memUsers) MarkEmailVerified(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.records[id]
	if !ok {
		return notFound("user")
	}
	u.EmailVerified = true
	return nil
}

func (m *memUsers) UpdatePasswordHash(_ context.Context, id uuid.UUID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.records[id]
	if !ok {
		return notFound("user")
	}
	u.PasswordHash = hash
	return nil
}

func (m *memUsers) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.records[id]
	if !ok {
		return notFound("user")
	}
	u.Active = active
	return nil
}

func (m *memUsers) GetByEmailTx(ctx context.Context, _ bun.IDB, email string) (*identity.User, error) {
	return m.GetByEmail(ctx, email)
}

func (m *memUsers) GetByIDTx(ctx context.Context, _ bun.IDB, id uuid.UUID) (*identity.User, error) {
	return m.GetByID(ctx, id)
}

func (m *memUsers) RegisterTx(ctx context.Context, _ bun.IDB, user *identity.User) (*identity.User, error) {
	return m.Register(ctx, user)
}

func (m *memUsers) TrackSuccessfulLoginTx(ctx context.Context, _ bun.IDB, user *identity.User) error {
	return m.TrackSuccessfulLogin(ctx, user)
}

func (m *memUsers) MarkEmailVerifiedTx(ctx context.Context, _ bun.IDB, id uuid.UUID) error {
	return m.MarkEmailVerified(ctx, id)
}

func (m *memUsers) UpdatePasswordHashTx(ctx context.Context, _ bun.IDB, id uuid.UUID, hash string) error {
	return m.UpdatePasswordHash(ctx, id, hash)
}

func (m *memUsers) SetActiveTx(ctx context.Context, _ bun.IDB, id uuid.UUID, active bool) error {
	return m.SetActive(ctx, id, active)
}

// memSessions implements Sessions with the same conditional-consume
// semantics as the SQL repository: one winner per jti, decided under lock.
type memSessions struct {
	mu      sync.Mutex
	records map[string]*identity.RefreshSession
}

func newMemSessions() *memSessions {
	return &memSessions{records: map[string]*identity.RefreshSession{}}
}

func (m *memSessions) Create(_ context.Context, session *identity.RefreshSession) (*identity.RefreshSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	cp := *session
	m.records[session.JTI] = &cp
	return session, nil
}

func (m *memSessions) GetByJTI(_ context.Context, jti string) (*identity.RefreshSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.records[jti]
	if !ok {
		return nil, notFound("session")
	}
	cp := *s
	return &cp, nil
}

func (m *memSessions) Consume(_ context.Context, jti string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.records[jti]
	if !ok || s.Revoked {
		return false, nil
	}
	s.Revoked = true
	s.RevokedAt = &at
	return true, nil
}

func (m *memSessions) Revoke(_ context.Context, jti string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.records[jti]; ok && !s.Revoked {
		s.Revoked = true
		s.RevokedAt = &at
	}
	return nil
}

func (m *memSessions) RevokeAllForUser(_ context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.records {
		if s.UserID == userID && !s.Revoked {
			s.Revoked = true
			s.RevokedAt = &at
			n++
		}
	}
	return n, nil
}

func (m *memSessions) RevokeMatching(_ context.Context, userID uuid.UUID, deviceKey string, createdAfter, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.records {
		if s.UserID != userID || s.DeviceName != deviceKey || s.Revoked {
			continue
		}
		if s.CreatedAt != nil && s.CreatedAt.Before(createdAfter) {
			continue
		}
		s.Revoked = true
		s.RevokedAt = &at
		n++
	}
	return n, nil
}

func (m *memSessions) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for jti, s := range m.records {
		if s.ExpiresAt.Before(now) {
			delete(m.records, jti)
			n++
		}
	}
	return n, nil
}

func (m *memSessions) CreateTx(ctx context.Context, _ bun.IDB, session *identity.RefreshSession) (*identity.RefreshSession, error) {
	return m.Create(ctx, session)
}

func (m *memSessions) GetByJTITx(ctx context.Context, _ bun.IDB, jti string) (*identity.RefreshSession, error) {
	return m.GetByJTI(ctx, jti)
}

func (m *memSessions) ConsumeTx(ctx context.Context, _ bun.IDB, jti string, at time.Time) (bool, error) {
	return m.Consume(ctx, jti, at)
}

func (m *memSessions) ListForUser(_ context.Context, userID uuid.UUID) ([]*identity.RefreshSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*identity.RefreshSession
	for _, s := range m.records {
		if s.UserID == userID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memSessions) countActive(userID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.records {
		if s.UserID == userID && !s.Revoked {
			n++
		}
	}
	return n
}

// memProofTokens mirrors memSessions for proof tokens.
type memProofTokens struct {
	mu      sync.Mutex
	records map[uuid.UUID]*identity.ProofToken
}

func newMemProofTokens() *memProofTokens {
	return &memProofTokens{records: map[uuid.UUID]*identity.ProofToken{}}
}

func (m *memProofTokens) Create(_ context.Context, token *identity.ProofToken) (*identity.ProofToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	cp := *token
	m.records[token.ID] = &cp
	return token, nil
}

func (m *memProofTokens) GetByID(_ context.Context, id uuid.UUID) (*identity.ProofToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.records[id]
	if !ok {
		return nil, notFound("proof token")
	}
	cp := *t
	return &cp, nil
}

func (m *memProofTokens) Consume(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.records[id]
	if !ok || t.Consumed {
		return false, nil
	}
	t.Consumed = true
	t.ConsumedAt = &at
	return true, nil
}

func (m *memProofTokens) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.records {
		if t.ExpiresAt.Before(now) {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

func (m *memProofTokens) CreateTx(ctx context.Context, _ bun.IDB, token *identity.ProofToken) (*identity.ProofToken, error) {
	return m.Create(ctx, token)
}

func (m *memProofTokens) ConsumeTx(ctx context.Context, _ bun.IDB, id uuid.UUID, at time.Time) (bool, error) {
	return m.Consume(ctx, id, at)
}

func (m *memProofTokens) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *memProofTokens) forUser(userID uuid.UUID, kind identity.ProofKind) []*identity.ProofToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*identity.ProofToken
	for _, t := range m.records {
		if t.UserID == userID && t.Kind == kind {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out
}

// memRoles holds named roles with ordered permissions plus per-user
// assignment order.
type memRoles struct {
	mu          sync.Mutex
	known       map[string][]string
	assignments map[uuid.UUID][]string
}

func newMemRoles() *memRoles {
	return &memRoles{
		known:       map[string][]string{},
		assignments: map[uuid.UUID][]string{},
	}
}

func (m *memRoles) define(name string, permissions ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.known[name] = permissions
}

func (m *memRoles) RolesAndPermissions(_ context.Context, userID uuid.UUID) ([]identity.RoleGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var grants []identity.RoleGrant
	for _, name := range m.assignments[userID] {
		grants = append(grants, identity.RoleGrant{
			Role:        name,
			Permissions: m.known[name],
		})
	}
	return grants, nil
}

func (m *memRoles) AssignByName(_ context.Context, userID uuid.UUID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.known[name]; !ok {
		return identity.ErrRoleNotFound
	}
	for _, held := range m.assignments[userID] {
		if held == name {
			return nil
		}
	}
	m.assignments[userID] = append(m.assignments[userID], name)
	return nil
}

func (m *memRoles) EnsureRole(_ context.Context, name string, permissions ...string) (*identity.Role, error) {
	m.define(name, permissions...)
	return &identity.Role{ID: uuid.New(), Name: name}, nil
}

// memProfiles collects created profiles.
type memProfiles struct {
	mu      sync.Mutex
	records []*identity.Profile
}

func newMemProfiles() *memProfiles {
	return &memProfiles{}
}

func (m *memProfiles) Create(_ context.Context, profile *identity.Profile) (*identity.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *profile
	m.records = append(m.records, &cp)
	return profile, nil
}

func (m *memProfiles) CreateTx(ctx context.Context, _ bun.IDB, profile *identity.Profile) (*identity.Profile, error) {
	return m.Create(ctx, profile)
}

func (m *memProfiles) GetByUserID(_ context.Context, userID uuid.UUID) (*identity.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.records {
		if p.UserID == userID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, notFound("profile")
}

func (m *memProfiles) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// captureSink records every activity event for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []identity.ActivityEvent
}

func (c *captureSink) Record(_ context.Context, event identity.ActivityEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureSink) has(kind identity.ActivityEventType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.events {
		if e.EventType == kind {
			return true
		}
	}
	return false
}

func (c *captureSink) count(kind identity.ActivityEventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.EventType == kind {
			n++
		}
	}
	return n
}

// captureMailer records send requests and can be told to fail.
type captureMailer struct {
	mu    sync.Mutex
	sends []mailRecord
	fail  bool
}

type mailRecord struct {
	Kind    identity.MessageKind
	Address string
	Token   string
}

func (m *captureMailer) SendMessage(_ context.Context, kind identity.MessageKind, address, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return fmt.Errorf("smtp connect refused")
	}
	m.sends = append(m.sends, mailRecord{Kind: kind, Address: address, Token: token})
	return nil
}

func (m *captureMailer) last() (mailRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sends) == 0 {
		return mailRecord{}, false
	}
	return m.sends[len(m.sends)-1], true
}

func (m *captureMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sends)
}

// memRepositoryManager bundles the fakes behind the repository interface so
// engine-level tests run without a database.
type memRepositoryManager struct {
	users    *memUsers
	sessions *memSessions
	proofs   *memProofTokens
	roles    *memRoles
	profiles *memProfiles

	mu      sync.Mutex
	txCalls int
}

func newMemRepositoryManager() *memRepositoryManager {
	return &memRepositoryManager{
		users:    newMemUsers(),
		sessions: newMemSessions(),
		proofs:   newMemProofTokens(),
		roles:    newMemRoles(),
		profiles: newMemProfiles(),
	}
}

func (m *memRepositoryManager) Validate() error { return nil }
func (m *memRepositoryManager) MustValidate()   {}

func (m *memRepositoryManager) RunInTx(ctx context.Context, _ *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	m.mu.Lock()
	m.txCalls++
	m.mu.Unlock()
	return f(ctx, bun.Tx{})
}

func (m *memRepositoryManager) txCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.txCalls
}

func (m *memRepositoryManager) Users() identity.Users             { return m.users }
func (m *memRepositoryManager) Sessions() identity.Sessions       { return m.sessions }
func (m *memRepositoryManager) ProofTokens() identity.ProofTokens { return m.proofs }
func (m *memRepositoryManager) Roles() identity.Roles             { return m.roles }
func (m *memRepositoryManager) Profiles() identity.Profiles       { return m.profiles }

var (
	_ identity.Users             = (*memUsers)(nil)
	_ identity.Sessions          = (*memSessions)(nil)
	_ identity.ProofTokens       = (*memProofTokens)(nil)
	_ identity.Roles             = (*memRoles)(nil)
	_ identity.Profiles          = (*memProfiles)(nil)
	_ identity.RepositoryManager = (*memRepositoryManager)(nil)
	_ identity.ActivitySink      = (*captureSink)(nil)
	_ identity.Mailer            = (*captureMailer)(nil)
)
