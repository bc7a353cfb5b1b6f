package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	domain "github.com/example/realtime-chat/domain/chat"
	"github.com/google/uuid"
)

const (
	maxUsernameLen = 50
	maxNameLen     = 50
	// bcrypt ignores input past 72 bytes.
	maxPasswordLen = 72
)

var (
	// ErrInvalidCredentials is returned when login credentials are invalid.
	ErrInvalidCredentials = domain.E(domain.KindUnauthorized, "login", "Invalid username or password.")
	// ErrWrongPassword is returned when a profile change is not confirmed by
	// the current password.
	ErrWrongPassword = domain.E(domain.KindUnauthorized, "update profile", "Invalid password.")
)

// UserStore is the persistence the auth service needs.
type UserStore interface {
	CreateUser(ctx context.Context, user *domain.User) error
	UserByID(ctx context.Context, id string) (*domain.User, error)
	UserByUsername(ctx context.Context, username string) (*domain.User, error)
	FieldTaken(ctx context.Context, column, value, exceptID string) (bool, error)
	SaveUser(ctx context.Context, user *domain.User) error
	SetAvatar(ctx context.Context, userID, url string) error
}

// RegisterInput carries the fields of a new account.
type RegisterInput struct {
	Username string
	Password string
	Name     string
	Surname  string
	Email    string
}

// ProfileUpdate lists the fields to change. Nil fields are left untouched.
type ProfileUpdate struct {
	CurrentPassword string
	Username        *string
	Name            *string
	Surname         *string
	Email           *string
	NewPassword     *string
}

func (u ProfileUpdate) empty() bool {
	return u.Username == nil && u.Name == nil && u.Surname == nil && u.Email == nil && u.NewPassword == nil
}

// TokenPair is an access and refresh token.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// Claims identify the holder of a valid access token.
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// AuthService handles identity and profile business logic.
type AuthService struct {
	repo   UserStore
	hasher *PasswordHasher
	jwt    *JWTManager
}

// NewAuthService creates a new AuthService.
func NewAuthService(repo UserStore, hasher *PasswordHasher, jwt *JWTManager) *AuthService {
	return &AuthService{
		repo:   repo,
		hasher: hasher,
		jwt:    jwt,
	}
}

func invalid(op, msg string) error {
	return domain.E(domain.KindInvalidInput, op, msg)
}

func validateUsername(op, username string) error {
	if strings.TrimSpace(username) == "" {
		return invalid(op, "Username is required.")
	}
	if len(username) > maxUsernameLen {
		return invalid(op, fmt.Sprintf("Username must be at most %d characters.", maxUsernameLen))
	}
	return nil
}

func validatePassword(op, password string) error {
	if password == "" {
		return invalid(op, "Password is required.")
	}
	if len(password) > maxPasswordLen {
		return invalid(op, fmt.Sprintf("Password must be at most %d characters.", maxPasswordLen))
	}
	return nil
}

func validateEmail(op, email string) error {
	if _, err := mail.ParseAddress(email); err != nil {
		return invalid(op, "Invalid email format.")
	}
	return nil
}

func validateName(op, field, value string) error {
	if len(value) > maxNameLen {
		return invalid(op, fmt.Sprintf("%s must be at most %d characters.", field, maxNameLen))
	}
	return nil
}

// Register creates a new user account.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	const op = "register"
	if err := validateUsername(op, in.Username); err != nil {
		return nil, err
	}
	if err := validatePassword(op, in.Password); err != nil {
		return nil, err
	}
	if err := validateEmail(op, in.Email); err != nil {
		return nil, err
	}
	if err := errors.Join(validateName(op, "Name", in.Name), validateName(op, "Surname", in.Surname)); err != nil {
		return nil, err
	}

	taken, err := s.repo.FieldTaken(ctx, "username", in.Username, "")
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, domain.E(domain.KindConflict, op, "Username already exists.")
	}
	taken, err = s.repo.FieldTaken(ctx, "email", in.Email, "")
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, domain.E(domain.KindConflict, op, "This email is already in use.")
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, op, fmt.Errorf("failed to hash password: %w", err))
	}

	now := time.Now().UTC()
	user := &domain.User{
		ID:           uuid.New().String(),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		Name:         in.Name,
		Surname:      in.Surname,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	// The unique indexes still catch a registration racing this one.
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login authenticates a user and returns tokens.
func (s *AuthService) Login(ctx context.Context, username, password string) (*TokenPair, error) {
	user, err := s.repo.UserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return s.generateTokenPair(user.ID, user.Username)
}

// RefreshTokens exchanges a refresh token for a new pair.
func (s *AuthService) RefreshTokens(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.jwt.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, domain.Wrap(domain.KindUnauthorized, "refresh", err)
	}
	user, err := s.repo.UserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	return s.generateTokenPair(user.ID, user.Username)
}

// ValidateToken validates an access token and returns its claims.
func (s *AuthService) ValidateToken(_ context.Context, token string) (*Claims, error) {
	claims, err := s.jwt.ValidateAccessToken(token)
	if err != nil {
		return nil, domain.Wrap(domain.KindUnauthorized, "validate token", err)
	}
	return &Claims{UserID: claims.UserID, Username: claims.Username}, nil
}

// GetProfile returns the user's profile.
func (s *AuthService) GetProfile(ctx context.Context, userID string) (*domain.User, error) {
	return s.repo.UserByID(ctx, userID)
}

// UpdateProfile applies update after verifying the current password.
func (s *AuthService) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (*domain.User, error) {
	const op = "update profile"
	if update.CurrentPassword == "" {
		return nil, invalid(op, "No current password provided.")
	}
	if update.empty() {
		return nil, invalid(op, "No changes provided.")
	}

	user, err := s.repo.UserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !s.hasher.Verify(update.CurrentPassword, user.PasswordHash) {
		return nil, ErrWrongPassword
	}

	if update.Username != nil && *update.Username != user.Username {
		if err := validateUsername(op, *update.Username); err != nil {
			return nil, err
		}
		taken, err := s.repo.FieldTaken(ctx, "username", *update.Username, user.ID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, domain.E(domain.KindConflict, op, "Username already in use.")
		}
		user.Username = *update.Username
	}
	if update.Email != nil && *update.Email != user.Email {
		if err := validateEmail(op, *update.Email); err != nil {
			return nil, err
		}
		taken, err := s.repo.FieldTaken(ctx, "email", *update.Email, user.ID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, domain.E(domain.KindConflict, op, "This email is already in use.")
		}
		user.Email = *update.Email
	}
	if update.Name != nil {
		if err := validateName(op, "Name", *update.Name); err != nil {
			return nil, err
		}
		user.Name = *update.Name
	}
	if update.Surname != nil {
		if err := validateName(op, "Surname", *update.Surname); err != nil {
			return nil, err
		}
		user.Surname = *update.Surname
	}
	if update.NewPassword != nil {
		if err := validatePassword(op, *update.NewPassword); err != nil {
			return nil, err
		}
		if s.hasher.Verify(*update.NewPassword, user.PasswordHash) {
			return nil, invalid(op, "The new password must be different from the current password.")
		}
		hash, err := s.hasher.Hash(*update.NewPassword)
		if err != nil {
			return nil, domain.Wrap(domain.KindInternal, op, fmt.Errorf("failed to hash password: %w", err))
		}
		user.PasswordHash = hash
	}

	user.UpdatedAt = time.Now().UTC()
	if err := s.repo.SaveUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// SetAvatar records the URL of an uploaded avatar.
func (s *AuthService) SetAvatar(ctx context.Context, userID, url string) error {
	if url == "" {
		return invalid("set avatar", "Avatar URL is required.")
	}
	return s.repo.SetAvatar(ctx, userID, url)
}

func (s *AuthService) generateTokenPair(userID, username string) (*TokenPair, error) {
	accessToken, err := s.jwt.GenerateAccessToken(userID, username)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "issue token", fmt.Errorf("failed to generate access token: %w", err))
	}
	refreshToken, err := s.jwt.GenerateRefreshToken(userID, username)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "issue token", fmt.Errorf("failed to generate refresh token: %w", err))
	}
	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    s.jwt.AccessTokenDuration(),
		TokenType:    "Bearer",
	}, nil
}
