package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/example/realtime-chat/domain/chat"
	"github.com/example/realtime-chat/modules/auth"
	"github.com/example/realtime-chat/modules/broadcast"
	"github.com/example/realtime-chat/modules/files"
	"github.com/example/realtime-chat/modules/store"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/google/uuid"
)

// mockLogger implements types.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(_ string, _ ...any) {}
func (m *mockLogger) Info(_ string, _ ...any)  {}
func (m *mockLogger) Warn(_ string, _ ...any)  {}
func (m *mockLogger) Error(_ string, _ ...any) {}
func (m *mockLogger) With(_ ...any) types.Logger {
	return m
}
func (m *mockLogger) WithModule(_ string) types.Logger {
	return m
}
func (m *mockLogger) WithError(_ error) types.Logger {
	return m
}

// fakeConn records every event sent to it.
type fakeConn struct {
	id      string
	sendErr error

	mu     sync.Mutex
	events []broadcast.Event
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{id: uuid.New().String()}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(_ context.Context, ev broadcast.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	if c.closed {
		return errors.New("connection closed")
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) Events() []broadcast.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]broadcast.Event, len(c.events))
	copy(out, c.events)
	return out
}

// OfType returns the events of one type, in arrival order.
func (c *fakeConn) OfType(eventType string) []broadcast.Event {
	var out []broadcast.Event
	for _, ev := range c.Events() {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func (c *fakeConn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeAuth accepts the tokens it was given.
type fakeAuth struct {
	mu     sync.Mutex
	tokens map[string]*auth.Claims
	err    error
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{tokens: make(map[string]*auth.Claims)}
}

func (a *fakeAuth) ValidateToken(_ context.Context, token string) (*auth.Claims, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	claims, ok := a.tokens[token]
	if !ok {
		return nil, domain.E(domain.KindUnauthorized, "validate token", "Invalid user.")
	}
	return claims, nil
}

// fakeLimiter rejects once budget is spent. A negative budget never limits.
type fakeLimiter struct {
	mu     sync.Mutex
	budget int
}

func (l *fakeLimiter) Allow(context.Context, string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.budget < 0 {
		return nil
	}
	if l.budget == 0 {
		return domain.E(domain.KindRateLimited, "send message", "Too many messages. Retry in 5 seconds.")
	}
	l.budget--
	return nil
}

const (
	testRoomSecret = "test-room-secret"
	testBaseURL    = "http://chat.local"
)

// attachmentURL returns a URL the files service would issue for name.
func attachmentURL(name string) string {
	return testBaseURL + files.RoutePrefix + files.KindAttachment + "/" + uuid.New().String() + "/" + name
}

// testEnv is a chat service over an in-memory database and a local fan-out.
type testEnv struct {
	repo     *store.Repository
	auth     *fakeAuth
	registry *broadcast.Registry
	fanout   *broadcast.Fanout
	limiter  *fakeLimiter
	service  *Service
}

func setupRepo(t *testing.T) *store.Repository {
	t.Helper()

	db, err := store.Open(":memory:", false)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return store.NewRepository(db)
}

func newTestEnvWithStore(t *testing.T, wrap func(Store) Store) *testEnv {
	t.Helper()

	repo := setupRepo(t)
	logger := &mockLogger{}
	registry := broadcast.NewRegistry()
	fanout := broadcast.NewFanout(registry, 8, time.Second, logger)
	env := &testEnv{
		repo:     repo,
		auth:     newFakeAuth(),
		registry: registry,
		fanout:   fanout,
		limiter:  &fakeLimiter{budget: -1},
	}
	var st Store = repo
	if wrap != nil {
		st = wrap(repo)
	}
	attachments := files.NewService(nil, testBaseURL, 0)
	env.service = NewService(st, env.auth, registry, fanout, attachments, env.limiter, testRoomSecret, logger)
	return env
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, nil)
}

// user registers username and returns its id and a token the fake accepts.
func (e *testEnv) user(t *testing.T, username string) (string, string) {
	t.Helper()

	u := &domain.User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "hash",
		AvatarURL:    "http://chat.local/files/avatars/" + username + ".png",
	}
	if err := e.repo.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser(%s) error = %v", username, err)
	}
	token := "token-" + username
	e.auth.mu.Lock()
	e.auth.tokens[token] = &auth.Claims{UserID: u.ID, Username: username}
	e.auth.mu.Unlock()
	return u.ID, token
}

// connect opens a session for a token.
func (e *testEnv) connect(t *testing.T, token string) (*Session, *fakeConn) {
	t.Helper()

	conn := newFakeConn()
	sess, err := e.service.Connect(context.Background(), conn, token)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return sess, conn
}

// do runs one client operation, fails the test on error, and waits until
// every broadcast it caused has been written.
func (e *testEnv) do(t *testing.T, sess *Session, frame Frame) {
	t.Helper()
	if err := e.service.Handle(context.Background(), sess, frame); err != nil {
		t.Fatalf("Handle(%s) error = %v", frame.Type, err)
	}
	e.settle(t)
}

// settle waits for the fan-out to write everything queued so far.
func (e *testEnv) settle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.fanout.Drain(ctx); err != nil {
		t.Fatalf("fan-out did not drain: %v", err)
	}
}

// createRoom creates a room through the client operation and returns its id.
func (e *testEnv) createRoom(t *testing.T, sess *Session, conn *fakeConn, name, password string) string {
	t.Helper()
	e.do(t, sess, Frame{Type: OpCreateRoom, RoomName: name, Password: password})
	created := conn.OfType(EventRoomCreated)
	if len(created) == 0 {
		t.Fatal("RoomCreated not received")
	}
	return created[len(created)-1].Data.(RoomPayload).RoomID
}

func contents(events []broadcast.Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Data.(ReceiveMessagePayload).Content)
	}
	return out
}
