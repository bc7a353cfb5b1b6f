package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/example/realtime-chat/config"
	domain "github.com/example/realtime-chat/domain/chat"
	"github.com/example/realtime-chat/modules/store"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
)

// AuthModule provides identity and profile services over request/reply.
type AuthModule struct {
	cfg     config.JWTConfig
	store   *store.Module
	service *AuthService
	logger  types.Logger
}

// Compile-time interface checks.
var _ mono.Module = (*AuthModule)(nil)
var _ mono.ServiceProviderModule = (*AuthModule)(nil)
var _ mono.DependentModule = (*AuthModule)(nil)
var _ mono.HealthCheckableModule = (*AuthModule)(nil)

// NewModule creates a new AuthModule backed by the store module's repository.
func NewModule(cfg config.JWTConfig, storeModule *store.Module, logger types.Logger) *AuthModule {
	return &AuthModule{
		cfg:    cfg,
		store:  storeModule,
		logger: logger,
	}
}

// Name returns the module name.
func (m *AuthModule) Name() string {
	return "auth"
}

// Dependencies orders auth after the store module.
func (m *AuthModule) Dependencies() []string {
	return []string{"store"}
}

// SetDependencyServiceContainer is a no-op; the repository is wired directly.
func (m *AuthModule) SetDependencyServiceContainer(string, mono.ServiceContainer) {}

// Start builds the auth service.
func (m *AuthModule) Start(_ context.Context) error {
	if m.store == nil || m.store.Repository() == nil {
		return fmt.Errorf("store dependency not started")
	}
	m.service = NewAuthService(m.store.Repository(), NewPasswordHasher(), NewJWTManager(m.cfg))
	m.logger.Info("Auth module started", "issuer", m.cfg.Issuer)
	return nil
}

// Stop shuts down the module.
func (m *AuthModule) Stop(_ context.Context) error {
	m.logger.Info("Auth module stopped")
	return nil
}

// Health returns the health status of the module.
func (m *AuthModule) Health(_ context.Context) mono.HealthStatus {
	if m.service == nil {
		return mono.HealthStatus{Healthy: false, Message: "not started"}
	}
	return mono.HealthStatus{Healthy: true, Message: "operational"}
}

// Service returns the underlying service; nil before Start.
func (m *AuthModule) Service() *AuthService {
	return m.service
}

// RegisterServices registers request-reply services in the service container.
func (m *AuthModule) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container, "register", json.Unmarshal, json.Marshal, m.handleRegister,
	); err != nil {
		return fmt.Errorf("failed to register register service: %w", err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, "login", json.Unmarshal, json.Marshal, m.handleLogin,
	); err != nil {
		return fmt.Errorf("failed to register login service: %w", err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, "refresh-token", json.Unmarshal, json.Marshal, m.handleRefresh,
	); err != nil {
		return fmt.Errorf("failed to register refresh-token service: %w", err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, "validate-token", json.Unmarshal, json.Marshal, m.handleValidateToken,
	); err != nil {
		return fmt.Errorf("failed to register validate-token service: %w", err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, "get-user", json.Unmarshal, json.Marshal, m.handleGetUser,
	); err != nil {
		return fmt.Errorf("failed to register get-user service: %w", err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, "update-profile", json.Unmarshal, json.Marshal, m.handleUpdateProfile,
	); err != nil {
		return fmt.Errorf("failed to register update-profile service: %w", err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, "set-avatar", json.Unmarshal, json.Marshal, m.handleSetAvatar,
	); err != nil {
		return fmt.Errorf("failed to register set-avatar service: %w", err)
	}

	m.logger.Info("Registered services",
		"services", "register, login, refresh-token, validate-token, get-user, update-profile, set-avatar")
	return nil
}

// userReply turns a service result into a reply. Classified failures travel in
// the body; anything else is returned as a transport error.
func (m *AuthModule) userReply(op string, user *domain.User, err error) (UserResponse, error) {
	if err != nil {
		if f, ok := failureOf(err); ok {
			return UserResponse{Failure: f}, nil
		}
		m.logger.Error("Auth operation failed", "op", op, "error", err)
		return UserResponse{}, err
	}
	return userResponse(user), nil
}

func (m *AuthModule) tokenReply(op string, pair *TokenPair, err error) (TokenResponse, error) {
	if err != nil {
		if f, ok := failureOf(err); ok {
			return TokenResponse{Failure: f}, nil
		}
		m.logger.Error("Auth operation failed", "op", op, "error", err)
		return TokenResponse{}, err
	}
	return TokenResponse{TokenPair: *pair}, nil
}

func (m *AuthModule) handleRegister(ctx context.Context, req RegisterRequest, _ *mono.Msg) (UserResponse, error) {
	user, err := m.service.Register(ctx, RegisterInput(req))
	return m.userReply("register", user, err)
}

func (m *AuthModule) handleLogin(ctx context.Context, req LoginRequest, _ *mono.Msg) (TokenResponse, error) {
	pair, err := m.service.Login(ctx, req.Username, req.Password)
	return m.tokenReply("login", pair, err)
}

func (m *AuthModule) handleRefresh(ctx context.Context, req RefreshRequest, _ *mono.Msg) (TokenResponse, error) {
	pair, err := m.service.RefreshTokens(ctx, req.RefreshToken)
	return m.tokenReply("refresh", pair, err)
}

func (m *AuthModule) handleValidateToken(ctx context.Context, req ValidateTokenRequest, _ *mono.Msg) (ValidateTokenResponse, error) {
	claims, err := m.service.ValidateToken(ctx, req.Token)
	if err != nil {
		errMsg := "invalid token"
		if errors.Is(err, ErrExpiredToken) {
			errMsg = "token expired"
		}
		// Validation failures are a normal reply, not a transport error.
		return ValidateTokenResponse{Valid: false, Error: errMsg}, nil
	}
	return ValidateTokenResponse{
		Valid:    true,
		UserID:   claims.UserID,
		Username: claims.Username,
	}, nil
}

func (m *AuthModule) handleGetUser(ctx context.Context, req GetUserRequest, _ *mono.Msg) (UserResponse, error) {
	user, err := m.service.GetProfile(ctx, req.UserID)
	return m.userReply("get-user", user, err)
}

func (m *AuthModule) handleUpdateProfile(ctx context.Context, req UpdateProfileRequest, _ *mono.Msg) (UserResponse, error) {
	user, err := m.service.UpdateProfile(ctx, req.UserID, ProfileUpdate{
		CurrentPassword: req.CurrentPassword,
		Username:        req.Username,
		Name:            req.Name,
		Surname:         req.Surname,
		Email:           req.Email,
		NewPassword:     req.NewPassword,
	})
	return m.userReply("update-profile", user, err)
}

func (m *AuthModule) handleSetAvatar(ctx context.Context, req SetAvatarRequest, _ *mono.Msg) (SetAvatarResponse, error) {
	if err := m.service.SetAvatar(ctx, req.UserID, req.AvatarURL); err != nil {
		if f, ok := failureOf(err); ok {
			return SetAvatarResponse{Failure: f}, nil
		}
		m.logger.Error("Auth operation failed", "op", "set-avatar", "error", err)
		return SetAvatarResponse{}, err
	}
	return SetAvatarResponse{AvatarURL: req.AvatarURL}, nil
}
