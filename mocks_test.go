package trust_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	trust "github.com/goliatone/go-trust"
	"github.com/hashicorp/go-hclog"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testLogger = hclog.NewNullLogger()

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestSigner(t *testing.T) *trust.TokenSigner {
	t.Helper()
	signer, err := trust.NewTokenSigner([]byte(testSecret))
	require.NoError(t, err)
	return signer
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

var hashCache sync.Map

// hashFor memoizes bcrypt hashes so tests pay the work factor once per password.
func hashFor(t *testing.T, password string) string {
	t.Helper()
	if h, ok := hashCache.Load(password); ok {
		return h.(string)
	}
	h, err := trust.HashPassword(password)
	require.NoError(t, err)
	hashCache.Store(password, h)
	return h
}

// MockUsers implements trust.UserLookup, trust.UserRegistrar and trust.PasswordUpdater
type MockUsers struct {
	mock.Mock
}

func (m *MockUsers) FindByEmailWithRole(ctx context.Context, email string) (*trust.UserRecord, error) {
	args := m.Called(ctx, email)
	user, _ := args.Get(0).(*trust.UserRecord)
	return user, args.Error(1)
}

func (m *MockUsers) FindByID(ctx context.Context, id string) (*trust.UserRecord, error) {
	args := m.Called(ctx, id)
	user, _ := args.Get(0).(*trust.UserRecord)
	return user, args.Error(1)
}

func (m *MockUsers) RegisterUser(ctx context.Context, email, passwordHash string, role trust.UserRole) (*trust.UserRecord, error) {
	args := m.Called(ctx, email, passwordHash, role)
	user, _ := args.Get(0).(*trust.UserRecord)
	return user, args.Error(1)
}

func (m *MockUsers) UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error {
	args := m.Called(ctx, userID, passwordHash)
	return args.Error(0)
}

// MockActivitySink implements trust.ActivitySink
type MockActivitySink struct {
	mock.Mock
}

func (m *MockActivitySink) Record(ctx context.Context, event trust.ActivityEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// MockMailer implements trust.Mailer
type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) Send(ctx context.Context, to string, kind trust.MailKind, data map[string]any) error {
	args := m.Called(ctx, to, kind, data)
	return args.Error(0)
}

// MockSessionStore implements trust.SessionStore
type MockSessionStore struct {
	mock.Mock
}

func (m *MockSessionStore) Create(ctx context.Context, sessionID string, ttl time.Duration, session *trust.Session) error {
	args := m.Called(ctx, sessionID, ttl, session)
	return args.Error(0)
}

func (m *MockSessionStore) Get(ctx context.Context, sessionID string) (*trust.Session, error) {
	args := m.Called(ctx, sessionID)
	session, _ := args.Get(0).(*trust.Session)
	return session, args.Error(1)
}

func (m *MockSessionStore) Delete(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

type sentMail struct {
	To   string
	Kind trust.MailKind
	Data map[string]any
}

// captureMailer records every message and fails when err is set.
type captureMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *captureMailer) Send(_ context.Context, to string, kind trust.MailKind, data map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{To: to, Kind: kind, Data: data})
	return nil
}

func (m *captureMailer) last() (sentMail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentMail{}, false
	}
	return m.sent[len(m.sent)-1], true
}

func (m *captureMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// memInvitations is an in memory trust.InvitationStore.
type memInvitations struct {
	mu      sync.Mutex
	records map[string]*trust.Invitation
	order   []string
}

func newMemInvitations() *memInvitations {
	return &memInvitations{records: map[string]*trust.Invitation{}}
}

func (s *memInvitations) Create(_ context.Context, inv *trust.Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.records {
		if existing.Email == inv.Email && !existing.Used && inv.CreatedAt.Before(existing.ExpireAt) {
			return trust.ErrDuplicateInvitation
		}
	}
	cp := *inv
	s.records[inv.ID] = &cp
	s.order = append(s.order, inv.ID)
	return nil
}

func (s *memInvitations) FindBySubjectID(_ context.Context, id string) (*trust.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	cp := *inv
	return &cp, nil
}

func (s *memInvitations) FindActiveByEmail(_ context.Context, email string, now time.Time) (*trust.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		inv, ok := s.records[id]
		if ok && inv.Email == email && !inv.Used && now.Before(inv.ExpireAt) {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memInvitations) MarkUsed(_ context.Context, id string, usedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.records[id]
	if !ok || inv.Used {
		return false, nil
	}
	inv.Used = true
	inv.UsedAt = &usedAt
	return true, nil
}

func (s *memInvitations) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

func (s *memInvitations) List(_ context.Context) ([]*trust.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*trust.Invitation{}
	for i := len(s.order) - 1; i >= 0; i-- {
		if inv, ok := s.records[s.order[i]]; ok {
			cp := *inv
			out = append(out, &cp)
		}
	}
	return out, nil
}

// memUsers is an in memory user store used by end to end flows.
type memUsers struct {
	mu    sync.Mutex
	byID  map[string]*trust.UserRecord
	seq   int
	fails error
}

func newMemUsers(users ...*trust.UserRecord) *memUsers {
	s := &memUsers{byID: map[string]*trust.UserRecord{}}
	for _, u := range users {
		s.byID[u.ID] = u
	}
	return s
}

func (s *memUsers) FindByEmailWithRole(_ context.Context, email string) (*trust.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fails != nil {
		return nil, s.fails
	}
	for _, u := range s.byID {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memUsers) FindByID(_ context.Context, id string) (*trust.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *memUsers) RegisterUser(_ context.Context, email, passwordHash string, role trust.UserRole) (*trust.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	u := &trust.UserRecord{
		ID:           "user-" + string(rune('a'+s.seq-1)),
		Email:        email,
		PasswordHash: passwordHash,
		Role:         role,
	}
	s.byID[u.ID] = u
	cp := *u
	return &cp, nil
}

func (s *memUsers) UpdatePasswordHash(_ context.Context, userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return trust.ErrResourceNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}
