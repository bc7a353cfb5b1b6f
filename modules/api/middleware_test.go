package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/example/realtime-chat/modules/auth"
	"github.com/gofiber/fiber/v2"
)

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		authHeader     string
		mockAuth       *mockAuthPort
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "missing authorization header",
			authHeader:     "",
			mockAuth:       &mockAuthPort{},
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `"Authorization header is required"`,
		},
		{
			name:           "invalid authorization format - no bearer",
			authHeader:     "Basic token123",
			mockAuth:       &mockAuthPort{},
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `Invalid authorization header format`,
		},
		{
			name:       "invalid token",
			authHeader: "Bearer invalid-token",
			mockAuth: &mockAuthPort{
				validateTokenFunc: func(ctx context.Context, token string) (*auth.Claims, error) {
					return nil, errors.New("invalid token")
				},
			},
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `"Invalid or expired token"`,
		},
		{
			name:       "valid token",
			authHeader: "Bearer valid-token",
			mockAuth: &mockAuthPort{
				validateTokenFunc: func(ctx context.Context, token string) (*auth.Claims, error) {
					return &auth.Claims{UserID: "user-123", Username: "alice"}, nil
				},
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `user-123`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/protected", AuthMiddleware(tt.mockAuth), func(c *fiber.Ctx) error {
				claims, _ := claimsFrom(c)
				return c.SendString(claims.UserID)
			})

			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}

			status, body := doRequest(t, app, req)
			if status != tt.expectedStatus {
				t.Errorf("status = %d, want %d", status, tt.expectedStatus)
			}
			if !strings.Contains(body, tt.expectedBody) {
				t.Errorf("body = %q, want it to contain %q", body, tt.expectedBody)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		target string
		want   string
	}{
		{name: "header", header: "Bearer abc", target: "/ws", want: "abc"},
		{name: "query", target: "/ws?access_token=xyz", want: "xyz"},
		{name: "header wins", header: "Bearer abc", target: "/ws?access_token=xyz", want: "abc"},
		{name: "none", target: "/ws", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/ws", func(c *fiber.Ctx) error {
				return c.SendString(bearerToken(c))
			})
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if _, body := doRequest(t, app, req); body != tt.want {
				t.Errorf("bearerToken() = %q, want %q", body, tt.want)
			}
		})
	}
}
