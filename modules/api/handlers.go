package api

import (
	"context"
	"io"
	"net/url"
	"time"

	domain "github.com/example/realtime-chat/domain/chat"
	"github.com/example/realtime-chat/modules/auth"
	"github.com/example/realtime-chat/modules/broadcast"
	"github.com/example/realtime-chat/modules/chat"
	"github.com/example/realtime-chat/modules/files"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// ChatPort is the chat core as seen by the transport.
type ChatPort interface {
	Connect(ctx context.Context, conn broadcast.Conn, token string) (*chat.Session, error)
	Disconnect(sess *chat.Session)
	Handle(ctx context.Context, sess *chat.Session, frame chat.Frame) error
	RoomsFor(ctx context.Context, userID string) ([]domain.Room, error)
}

// FileStore stores and serves uploads.
type FileStore interface {
	UploadAvatar(ctx context.Context, userID, filename string, data []byte, contentType string) (*files.Upload, error)
	UploadAttachment(ctx context.Context, userID, filename string, data []byte, contentType string) (*files.Upload, error)
	Open(ctx context.Context, key string) ([]byte, *files.Object, error)
	Discard(ctx context.Context, rawURL string) error
}

// HealthReporter is any module that reports its health.
type HealthReporter interface {
	Health(ctx context.Context) mono.HealthStatus
}

// Handlers contains the HTTP and websocket handlers.
type Handlers struct {
	auth         auth.AuthPort
	chat         ChatPort
	files        FileStore
	health       map[string]HealthReporter
	writeTimeout time.Duration
	logger       types.Logger
}

// NewHandlers creates a new Handlers instance. writeTimeout bounds every
// websocket write.
func NewHandlers(
	authPort auth.AuthPort,
	chatPort ChatPort,
	fileStore FileStore,
	health map[string]HealthReporter,
	writeTimeout time.Duration,
	logger types.Logger,
) *Handlers {
	return &Handlers{
		auth:         authPort,
		chat:         chatPort,
		files:        fileStore,
		health:       health,
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

// Routes mounts every route on app. authLimit guards the credential endpoints.
func (h *Handlers) Routes(app *fiber.App, authLimit fiber.Handler) {
	app.Get("/health", h.Health)
	app.Get(files.RoutePrefix+"*", h.ServeFile)

	// WebSocket endpoint
	app.Use("/ws", h.upgradeGuard)
	app.Get("/ws", websocket.New(h.handleWebSocket))

	v1 := app.Group("/api/v1")

	authRoutes := v1.Group("/auth", authLimit)
	authRoutes.Post("/register", h.Register)
	authRoutes.Post("/login", h.Login)
	authRoutes.Post("/refresh", h.Refresh)

	protected := AuthMiddleware(h.auth)
	v1.Get("/rooms", protected, h.ListRooms)
	v1.Get("/profile", protected, h.Profile)
	v1.Patch("/profile", protected, h.UpdateProfile)
	v1.Post("/profile/avatar", protected, h.UploadAvatar)
	v1.Post("/uploads", protected, h.UploadAttachment)
}

// Register handles POST /api/v1/auth/register.
func (h *Handlers) Register(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.Username == "" || req.Password == "" {
		return badRequest(c, "Username and password are required")
	}

	user, err := h.auth.Register(c.UserContext(), auth.RegisterRequest{
		Username: req.Username,
		Password: req.Password,
		Name:     req.Name,
		Surname:  req.Surname,
		Email:    req.Email,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(userResponse(user))
}

// Login handles POST /api/v1/auth/login.
func (h *Handlers) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.Username == "" || req.Password == "" {
		return badRequest(c, "Username and password are required")
	}

	pair, err := h.auth.Login(c.UserContext(), req.Username, req.Password)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(tokenResponse(pair))
}

// Refresh handles POST /api/v1/auth/refresh.
func (h *Handlers) Refresh(c *fiber.Ctx) error {
	var req RefreshRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.RefreshToken == "" {
		return badRequest(c, "Refresh token is required")
	}

	pair, err := h.auth.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(tokenResponse(pair))
}

func tokenResponse(pair *auth.TokenPair) TokenResponse {
	return TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
		TokenType:    pair.TokenType,
	}
}

// ListRooms handles GET /api/v1/rooms.
func (h *Handlers) ListRooms(c *fiber.Ctx) error {
	claims, ok := claimsFrom(c)
	if !ok {
		return writeError(c, domain.ErrUnauthorized)
	}
	rooms, err := h.chat.RoomsFor(c.UserContext(), claims.UserID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(roomsResponse(rooms))
}

// Profile handles GET /api/v1/profile.
func (h *Handlers) Profile(c *fiber.Ctx) error {
	claims, ok := claimsFrom(c)
	if !ok {
		return writeError(c, domain.ErrUnauthorized)
	}
	user, err := h.auth.GetUser(c.UserContext(), claims.UserID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(userResponse(user))
}

// UpdateProfile handles PATCH /api/v1/profile.
func (h *Handlers) UpdateProfile(c *fiber.Ctx) error {
	claims, ok := claimsFrom(c)
	if !ok {
		return writeError(c, domain.ErrUnauthorized)
	}
	var req UpdateProfileRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.CurrentPassword == "" {
		return badRequest(c, "Current password is required")
	}

	user, err := h.auth.UpdateProfile(c.UserContext(), auth.UpdateProfileRequest{
		UserID:          claims.UserID,
		CurrentPassword: req.CurrentPassword,
		Username:        req.Username,
		Name:            req.Name,
		Surname:         req.Surname,
		Email:           req.Email,
		NewPassword:     req.NewPassword,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(userResponse(user))
}

// UploadAvatar handles POST /api/v1/profile/avatar. The previous avatar is
// removed once the new one is recorded.
func (h *Handlers) UploadAvatar(c *fiber.Ctx) error {
	claims, ok := claimsFrom(c)
	if !ok {
		return writeError(c, domain.ErrUnauthorized)
	}
	ctx := c.UserContext()

	name, data, contentType, err := readFormFile(c, "avatar")
	if err != nil {
		return writeError(c, err)
	}
	current, err := h.auth.GetUser(ctx, claims.UserID)
	if err != nil {
		return writeError(c, err)
	}

	upload, err := h.files.UploadAvatar(ctx, claims.UserID, name, data, contentType)
	if err != nil {
		return writeError(c, err)
	}
	if err := h.auth.SetAvatar(ctx, claims.UserID, upload.URL); err != nil {
		if derr := h.files.Discard(ctx, upload.URL); derr != nil {
			h.logger.Warn("Failed to discard orphaned avatar", "key", upload.Key, "error", derr)
		}
		return writeError(c, err)
	}
	if current.AvatarURL != "" && current.AvatarURL != upload.URL {
		if err := h.files.Discard(ctx, current.AvatarURL); err != nil {
			h.logger.Warn("Failed to discard previous avatar", "userID", claims.UserID, "error", err)
		}
	}

	h.logger.Info("Avatar updated", "userID", claims.UserID, "key", upload.Key)
	return c.JSON(AvatarResponse{AvatarURL: upload.URL})
}

// UploadAttachment handles POST /api/v1/uploads.
func (h *Handlers) UploadAttachment(c *fiber.Ctx) error {
	claims, ok := claimsFrom(c)
	if !ok {
		return writeError(c, domain.ErrUnauthorized)
	}

	name, data, contentType, err := readFormFile(c, "file")
	if err != nil {
		return writeError(c, err)
	}
	upload, err := h.files.UploadAttachment(c.UserContext(), claims.UserID, name, data, contentType)
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(UploadResponse{
		FileURL:     upload.URL,
		FileName:    upload.Name,
		Size:        upload.Size,
		ContentType: upload.ContentType,
		Variant:     upload.Variant,
	})
}

// readFormFile reads a multipart file field.
func readFormFile(c *fiber.Ctx, field string) (name string, data []byte, contentType string, err error) {
	header, err := c.FormFile(field)
	if err != nil {
		return "", nil, "", domain.E(domain.KindInvalidInput, "upload", "No file provided.")
	}
	f, err := header.Open()
	if err != nil {
		return "", nil, "", domain.Wrap(domain.KindInternal, "upload", err)
	}
	defer f.Close()

	data, err = io.ReadAll(f)
	if err != nil {
		return "", nil, "", domain.Wrap(domain.KindInternal, "upload", err)
	}
	return header.Filename, data, header.Header.Get("Content-Type"), nil
}

// ServeFile handles GET /files/*.
func (h *Handlers) ServeFile(c *fiber.Ctx) error {
	key, err := url.PathUnescape(c.Params("*"))
	if err != nil {
		return writeError(c, domain.E(domain.KindNotFound, "open file", "File not found."))
	}
	data, obj, err := h.files.Open(c.UserContext(), key)
	if err != nil {
		return writeError(c, err)
	}

	c.Set(fiber.HeaderContentType, obj.ContentType)
	c.Set(fiber.HeaderCacheControl, "private, max-age=86400")
	if obj.Digest != "" {
		c.Set(fiber.HeaderETag, `"`+obj.Digest+`"`)
	}
	return c.Send(data)
}

// Health handles GET /health.
func (h *Handlers) Health(c *fiber.Ctx) error {
	resp := HealthResponse{Status: "healthy", Modules: make(map[string]ModuleHealth, len(h.health))}
	for name, module := range h.health {
		st := module.Health(c.UserContext())
		resp.Modules[name] = ModuleHealth{Healthy: st.Healthy, Message: st.Message, Details: st.Details}
		if !st.Healthy {
			resp.Status = "degraded"
		}
	}
	if resp.Status != "healthy" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(resp)
	}
	return c.JSON(resp)
}
