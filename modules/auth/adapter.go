package auth

import (
	"context"
	"encoding/json"

	domain "github.com/example/realtime-chat/domain/chat"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// AuthPort is what other modules use to reach the auth module.
type AuthPort interface {
	Register(ctx context.Context, req RegisterRequest) (*UserResponse, error)
	Login(ctx context.Context, username, password string) (*TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)
	ValidateToken(ctx context.Context, token string) (*Claims, error)
	GetUser(ctx context.Context, userID string) (*UserResponse, error)
	UpdateProfile(ctx context.Context, req UpdateProfileRequest) (*UserResponse, error)
	SetAvatar(ctx context.Context, userID, avatarURL string) error
}

// AuthAdapter implements AuthPort over the service container.
type AuthAdapter struct {
	container mono.ServiceContainer
}

var _ AuthPort = (*AuthAdapter)(nil)

// NewAuthAdapter creates a new AuthAdapter.
func NewAuthAdapter(container mono.ServiceContainer) *AuthAdapter {
	return &AuthAdapter{container: container}
}

// callService sends req to service and decodes the reply into resp.
// Transport failures come back as internal errors.
func callService[Req, Resp any](ctx context.Context, container mono.ServiceContainer, service string, req Req, resp *Resp) error {
	if err := helper.CallRequestReplyService(
		ctx,
		container,
		service,
		json.Marshal,
		json.Unmarshal,
		req,
		resp,
	); err != nil {
		return domain.Wrap(domain.KindInternal, service, err)
	}
	return nil
}

func userCall[Req any](ctx context.Context, container mono.ServiceContainer, service string, req Req) (*UserResponse, error) {
	var resp UserResponse
	if err := callService(ctx, container, service, req, &resp); err != nil {
		return nil, err
	}
	if err := resp.Failure.Err(service); err != nil {
		return nil, err
	}
	return &resp, nil
}

func tokenCall[Req any](ctx context.Context, container mono.ServiceContainer, service string, req Req) (*TokenPair, error) {
	var resp TokenResponse
	if err := callService(ctx, container, service, req, &resp); err != nil {
		return nil, err
	}
	if err := resp.Failure.Err(service); err != nil {
		return nil, err
	}
	return &resp.TokenPair, nil
}

// Register creates an account.
func (a *AuthAdapter) Register(ctx context.Context, req RegisterRequest) (*UserResponse, error) {
	return userCall(ctx, a.container, "register", &req)
}

// Login exchanges credentials for tokens.
func (a *AuthAdapter) Login(ctx context.Context, username, password string) (*TokenPair, error) {
	return tokenCall(ctx, a.container, "login", &LoginRequest{Username: username, Password: password})
}

// Refresh exchanges a refresh token for a new pair.
func (a *AuthAdapter) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	return tokenCall(ctx, a.container, "refresh-token", &RefreshRequest{RefreshToken: refreshToken})
}

// ValidateToken validates an access token and returns its claims.
func (a *AuthAdapter) ValidateToken(ctx context.Context, token string) (*Claims, error) {
	var resp ValidateTokenResponse
	if err := callService(ctx, a.container, "validate-token", &ValidateTokenRequest{Token: token}, &resp); err != nil {
		return nil, err
	}
	if !resp.Valid {
		return nil, domain.E(domain.KindUnauthorized, "validate token", resp.Error)
	}
	return &Claims{UserID: resp.UserID, Username: resp.Username}, nil
}

// GetUser retrieves a user by ID.
func (a *AuthAdapter) GetUser(ctx context.Context, userID string) (*UserResponse, error) {
	return userCall(ctx, a.container, "get-user", &GetUserRequest{UserID: userID})
}

// UpdateProfile applies a confirmed profile change.
func (a *AuthAdapter) UpdateProfile(ctx context.Context, req UpdateProfileRequest) (*UserResponse, error) {
	return userCall(ctx, a.container, "update-profile", &req)
}

// SetAvatar records an uploaded avatar URL.
func (a *AuthAdapter) SetAvatar(ctx context.Context, userID, avatarURL string) error {
	var resp SetAvatarResponse
	if err := callService(ctx, a.container, "set-avatar", &SetAvatarRequest{UserID: userID, AvatarURL: avatarURL}, &resp); err != nil {
		return err
	}
	return resp.Failure.Err("set-avatar")
}
