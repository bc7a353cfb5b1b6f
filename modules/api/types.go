package api

import (
	"time"

	domain "github.com/example/realtime-chat/domain/chat"
	"github.com/example/realtime-chat/modules/auth"
)

// UserContextKey is the Locals key holding the caller's *auth.Claims.
const UserContextKey = "user"

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// RegisterRequest represents a registration request body.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Surname  string `json:"surname"`
	Email    string `json:"email"`
}

// LoginRequest represents a login request body.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RefreshRequest represents a token refresh request body.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// TokenResponse represents a token pair.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// UpdateProfileRequest is the PATCH /profile body. Absent fields are left
// unchanged; current_password is always required.
type UpdateProfileRequest struct {
	CurrentPassword string  `json:"current_password"`
	Username        *string `json:"username"`
	Name            *string `json:"name"`
	Surname         *string `json:"surname"`
	Email           *string `json:"email"`
	NewPassword     *string `json:"new_password"`
}

// UserResponse represents a user profile.
type UserResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Surname   string    `json:"surname"`
	AvatarURL string    `json:"avatar_url"`
	CreatedAt time.Time `json:"created_at"`
}

func userResponse(u *auth.UserResponse) UserResponse {
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

// RoomResponse is one room the caller belongs to.
type RoomResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatorID string    `json:"creator_id"`
	CreatedAt time.Time `json:"created_at"`
}

// RoomsResponse lists rooms.
type RoomsResponse struct {
	Rooms []RoomResponse `json:"rooms"`
	Total int            `json:"total"`
}

func roomsResponse(rooms []domain.Room) RoomsResponse {
	out := make([]RoomResponse, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, RoomResponse{
			ID:        r.ID,
			Name:      r.Name,
			CreatorID: r.CreatorID,
			CreatedAt: r.CreatedAt,
		})
	}
	return RoomsResponse{Rooms: out, Total: len(out)}
}

// AvatarResponse is returned after an avatar upload.
type AvatarResponse struct {
	AvatarURL string `json:"avatar_url"`
}

// UploadResponse is returned after an attachment upload. FileURL and FileName
// are what a client passes to sendMessageFile.
type UploadResponse struct {
	FileURL     string         `json:"file_url"`
	FileName    string         `json:"file_name"`
	Size        int64          `json:"size"`
	ContentType string         `json:"content_type"`
	Variant     domain.Variant `json:"variant"`
}

// HealthResponse aggregates module health.
type HealthResponse struct {
	Status  string                  `json:"status"`
	Modules map[string]ModuleHealth `json:"modules"`
}

// ModuleHealth is the health of one module.
type ModuleHealth struct {
	Healthy bool           `json:"healthy"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}
