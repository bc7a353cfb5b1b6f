package auth

import (
	"errors"
	"time"

	domain "github.com/example/realtime-chat/domain/chat"
)

// Failure carries a classified error across the request/reply boundary.
type Failure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Err converts f back into a domain error; a nil Failure yields nil.
func (f *Failure) Err(op string) error {
	if f == nil {
		return nil
	}
	return domain.E(domain.ParseKind(f.Kind), op, f.Message)
}

// failureOf classifies err for the wire. Internal errors return ok=false so
// the handler surfaces them as transport errors instead.
func failureOf(err error) (*Failure, bool) {
	var de *domain.Error
	if !errors.As(err, &de) || de.Kind == domain.KindInternal {
		return nil, false
	}
	return &Failure{Kind: de.Kind.String(), Message: domain.PublicMessage(err)}, true
}

// RegisterRequest represents a user registration request.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Surname  string `json:"surname"`
	Email    string `json:"email"`
}

// UserResponse is a user profile on the wire.
type UserResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Surname   string    `json:"surname"`
	AvatarURL string    `json:"avatar_url"`
	CreatedAt time.Time `json:"created_at"`
	Failure   *Failure  `json:"failure,omitempty"`
}

func userResponse(u *domain.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Name:      u.Name,
		Surname:   u.Surname,
		AvatarURL: u.AvatarURL,
		CreatedAt: u.CreatedAt,
	}
}

// LoginRequest represents a user login request.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RefreshRequest represents a token refresh request.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// TokenResponse carries a token pair.
type TokenResponse struct {
	TokenPair
	Failure *Failure `json:"failure,omitempty"`
}

// ValidateTokenRequest represents a token validation request.
type ValidateTokenRequest struct {
	Token string `json:"token"`
}

// ValidateTokenResponse represents a token validation response.
type ValidateTokenResponse struct {
	Valid    bool   `json:"valid"`
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	Error    string `json:"error,omitempty"`
}

// GetUserRequest represents a get user request.
type GetUserRequest struct {
	UserID string `json:"user_id"`
}

// UpdateProfileRequest represents a profile change.
type UpdateProfileRequest struct {
	UserID          string  `json:"user_id"`
	CurrentPassword string  `json:"current_password"`
	Username        *string `json:"username,omitempty"`
	Name            *string `json:"name,omitempty"`
	Surname         *string `json:"surname,omitempty"`
	Email           *string `json:"email,omitempty"`
	NewPassword     *string `json:"new_password,omitempty"`
}

// SetAvatarRequest records an uploaded avatar.
type SetAvatarRequest struct {
	UserID    string `json:"user_id"`
	AvatarURL string `json:"avatar_url"`
}

// SetAvatarResponse acknowledges SetAvatarRequest.
type SetAvatarResponse struct {
	AvatarURL string   `json:"avatar_url"`
	Failure   *Failure `json:"failure,omitempty"`
}
