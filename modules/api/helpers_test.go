package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/example/realtime-chat/domain/chat"
	"github.com/example/realtime-chat/modules/auth"
	"github.com/example/realtime-chat/modules/broadcast"
	"github.com/example/realtime-chat/modules/chat"
	"github.com/example/realtime-chat/modules/files"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/fiber/v2"
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

var errNotImplemented = errors.New("not implemented")

// mockAuthPort implements auth.AuthPort for testing
type mockAuthPort struct {
	registerFunc      func(ctx context.Context, req auth.RegisterRequest) (*auth.UserResponse, error)
	loginFunc         func(ctx context.Context, username, password string) (*auth.TokenPair, error)
	refreshFunc       func(ctx context.Context, refreshToken string) (*auth.TokenPair, error)
	validateTokenFunc func(ctx context.Context, token string) (*auth.Claims, error)
	getUserFunc       func(ctx context.Context, userID string) (*auth.UserResponse, error)
	updateProfileFunc func(ctx context.Context, req auth.UpdateProfileRequest) (*auth.UserResponse, error)
	setAvatarFunc     func(ctx context.Context, userID, avatarURL string) error
}

func (m *mockAuthPort) Register(ctx context.Context, req auth.RegisterRequest) (*auth.UserResponse, error) {
	if m.registerFunc != nil {
		return m.registerFunc(ctx, req)
	}
	return nil, errNotImplemented
}

func (m *mockAuthPort) Login(ctx context.Context, username, password string) (*auth.TokenPair, error) {
	if m.loginFunc != nil {
		return m.loginFunc(ctx, username, password)
	}
	return nil, errNotImplemented
}

func (m *mockAuthPort) Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error) {
	if m.refreshFunc != nil {
		return m.refreshFunc(ctx, refreshToken)
	}
	return nil, errNotImplemented
}

func (m *mockAuthPort) ValidateToken(ctx context.Context, token string) (*auth.Claims, error) {
	if m.validateTokenFunc != nil {
		return m.validateTokenFunc(ctx, token)
	}
	if token == "valid-token" {
		return &auth.Claims{UserID: "user-1", Username: "alice"}, nil
	}
	return nil, domain.ErrUnauthorized
}

func (m *mockAuthPort) GetUser(ctx context.Context, userID string) (*auth.UserResponse, error) {
	if m.getUserFunc != nil {
		return m.getUserFunc(ctx, userID)
	}
	return nil, errNotImplemented
}

func (m *mockAuthPort) UpdateProfile(ctx context.Context, req auth.UpdateProfileRequest) (*auth.UserResponse, error) {
	if m.updateProfileFunc != nil {
		return m.updateProfileFunc(ctx, req)
	}
	return nil, errNotImplemented
}

func (m *mockAuthPort) SetAvatar(ctx context.Context, userID, avatarURL string) error {
	if m.setAvatarFunc != nil {
		return m.setAvatarFunc(ctx, userID, avatarURL)
	}
	return errNotImplemented
}

// mockChat implements ChatPort for testing
type mockChat struct {
	connectErr error
	rooms      []domain.Room
	roomsErr   error

	mu           sync.Mutex
	frames       []chat.Frame
	disconnected int
}

func (m *mockChat) Connect(_ context.Context, _ broadcast.Conn, token string) (*chat.Session, error) {
	if m.connectErr != nil {
		return nil, m.connectErr
	}
	if token != "valid-token" {
		return nil, domain.E(domain.KindUnauthorized, "connect", "Invalid or expired token.")
	}
	return &chat.Session{}, nil
}

func (m *mockChat) Disconnect(_ *chat.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected++
}

func (m *mockChat) Handle(_ context.Context, _ *chat.Session, frame chat.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, frame)
	return nil
}

func (m *mockChat) RoomsFor(_ context.Context, _ string) ([]domain.Room, error) {
	return m.rooms, m.roomsErr
}

// memoryFiles is an in-memory FileStore.
type memoryFiles struct {
	mu        sync.Mutex
	objects   map[string][]byte
	discarded []string
	uploadErr error
}

func newMemoryFiles() *memoryFiles {
	return &memoryFiles{objects: make(map[string][]byte)}
}

func (f *memoryFiles) upload(kind, filename string, data []byte, contentType string) (*files.Upload, error) {
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	if len(data) == 0 {
		return nil, domain.E(domain.KindInvalidInput, "upload", "No file provided.")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := kind + "/" + filename
	f.objects[key] = data
	return &files.Upload{
		Key:         key,
		URL:         "http://chat.local/files/" + key,
		Name:        filename,
		Size:        int64(len(data)),
		ContentType: contentType,
		Variant:     domain.AttachmentVariant(filename),
	}, nil
}

func (f *memoryFiles) UploadAvatar(_ context.Context, _ string, filename string, data []byte, contentType string) (*files.Upload, error) {
	return f.upload(files.KindAvatar, filename, data, contentType)
}

func (f *memoryFiles) UploadAttachment(_ context.Context, _ string, filename string, data []byte, contentType string) (*files.Upload, error) {
	return f.upload(files.KindAttachment, filename, data, contentType)
}

func (f *memoryFiles) Open(_ context.Context, key string) ([]byte, *files.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, nil, domain.E(domain.KindNotFound, "open file", "File not found.")
	}
	return data, &files.Object{Key: key, Size: int64(len(data)), ContentType: "image/png", Digest: "SHA-256=abc"}, nil
}

func (f *memoryFiles) Discard(_ context.Context, rawURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discarded = append(f.discarded, rawURL)
	delete(f.objects, strings.TrimPrefix(rawURL, "http://chat.local/files/"))
	return nil
}

type staticHealth struct {
	healthy bool
}

func (s staticHealth) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{Healthy: s.healthy, Message: "test"}
}

func passThrough(c *fiber.Ctx) error {
	return c.Next()
}

func newTestApp(t *testing.T, authPort auth.AuthPort, chatPort ChatPort, fileStore FileStore, health map[string]HealthReporter) *fiber.App {
	t.Helper()
	app := fiber.New(fiber.Config{ErrorHandler: customErrorHandler})
	h := NewHandlers(authPort, chatPort, fileStore, health, time.Second, &mockLogger{})
	h.Routes(app, passThrough)
	return app
}

func doRequest(t *testing.T, app *fiber.App, req *http.Request) (int, string) {
	t.Helper()
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(body)
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func multipartRequest(t *testing.T, target, field, filename string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer valid-token")
	return req
}
