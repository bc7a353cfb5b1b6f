package chat

import (
	"context"

	domain "github.com/example/realtime-chat/domain/chat"
	"github.com/example/realtime-chat/modules/auth"
)

// Store is the persistence the chat core needs. *store.Repository satisfies it.
type Store interface {
	UserByID(ctx context.Context, id string) (*domain.User, error)

	CreateRoom(ctx context.Context, room *domain.Room) error
	RoomByID(ctx context.Context, id string) (*domain.Room, error)
	RoomByAccessKey(ctx context.Context, key string) (*domain.Room, error)
	RoomNameExists(ctx context.Context, name string) (bool, error)
	RoomsForUser(ctx context.Context, userID string) ([]domain.Room, error)

	AddMembership(ctx context.Context, m *domain.Membership) error
	RemoveMembership(ctx context.Context, roomID, userID string) error
	IsMember(ctx context.Context, roomID, userID string) (bool, error)
	RoomIDsForUser(ctx context.Context, userID string) ([]string, error)

	AppendMessage(ctx context.Context, msg *domain.Message) error
	History(ctx context.Context, roomID string) ([]domain.HistoryEntry, error)
}

// Authenticator verifies the bearer credential presented on connect.
type Authenticator interface {
	ValidateToken(ctx context.Context, token string) (*auth.Claims, error)
}

// AttachmentResolver maps a file URL back to the object key it was issued
// for. *files.Service satisfies it.
type AttachmentResolver interface {
	KeyFromURL(raw string) (string, bool)
}

// Limiter throttles message submission per user. A nil error allows the send.
type Limiter interface {
	Allow(ctx context.Context, userID string) error
}

type allowAll struct{}

func (allowAll) Allow(context.Context, string) error { return nil }
