package chat

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	domain "github.com/example/realtime-chat/domain/chat"
	"github.com/google/uuid"
)

// ErrWrongRoomPassword is returned when a room exists under the requested name
// but the password does not match.
var ErrWrongRoomPassword = domain.E(domain.KindUnauthorized, "join room", "Incorrect room password.")

// Memberships is the authoritative create/join/leave logic. Uniqueness of
// rooms and memberships is enforced by the store's unique keys, so concurrent
// duplicates surface as Conflict rather than as extra rows.
type Memberships struct {
	store  Store
	secret []byte
}

// NewMemberships creates a Memberships keyed with secret.
func NewMemberships(store Store, secret string) *Memberships {
	return &Memberships{store: store, secret: []byte(secret)}
}

// AccessKey derives the stored key identifying the (name, password) pair.
// The password itself is never persisted.
func (m *Memberships) AccessKey(name, password string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(name))
	mac.Write([]byte{0})
	mac.Write([]byte(password))
	return hex.EncodeToString(mac.Sum(nil))
}

// CreateRoom creates a room. The creator is not joined.
func (m *Memberships) CreateRoom(ctx context.Context, creatorID, name, password string) (*domain.Room, error) {
	if err := ValidateRoomName(name); err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	room := &domain.Room{
		ID:        uuid.New().String(),
		Name:      name,
		AccessKey: m.AccessKey(name, password),
		CreatorID: creatorID,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.CreateRoom(ctx, room); err != nil {
		return nil, err
	}
	return room, nil
}

// Resolve finds the room for a (name, password) pair.
func (m *Memberships) Resolve(ctx context.Context, name, password string) (*domain.Room, error) {
	if err := ValidateRoomName(name); err != nil {
		return nil, err
	}
	room, err := m.store.RoomByAccessKey(ctx, m.AccessKey(name, password))
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	exists, existsErr := m.store.RoomNameExists(ctx, name)
	if existsErr != nil {
		return nil, existsErr
	}
	if exists {
		return nil, ErrWrongRoomPassword
	}
	return nil, err
}

// Join adds userID to roomID after checking the room password.
func (m *Memberships) Join(ctx context.Context, roomID, userID, password string) (*domain.Membership, error) {
	room, err := m.store.RoomByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !hmac.Equal([]byte(room.AccessKey), []byte(m.AccessKey(room.Name, password))) {
		return nil, ErrWrongRoomPassword
	}
	return m.add(ctx, room.ID, userID)
}

// add inserts the membership. A concurrent or repeated join fails with Conflict.
func (m *Memberships) add(ctx context.Context, roomID, userID string) (*domain.Membership, error) {
	membership := &domain.Membership{
		RoomID:   roomID,
		UserID:   userID,
		JoinedAt: time.Now().UTC(),
	}
	if err := m.store.AddMembership(ctx, membership); err != nil {
		return nil, err
	}
	return membership, nil
}

// Leave removes the membership. Leaving a room the user is not in returns
// domain.ErrNotMember.
func (m *Memberships) Leave(ctx context.Context, roomID, userID string) error {
	if _, err := m.store.RoomByID(ctx, roomID); err != nil {
		return err
	}
	return m.store.RemoveMembership(ctx, roomID, userID)
}

// IsMember reports whether a persisted membership exists.
func (m *Memberships) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	return m.store.IsMember(ctx, roomID, userID)
}

// ListRoomsFor returns the rooms userID currently belongs to.
func (m *Memberships) ListRoomsFor(ctx context.Context, userID string) ([]domain.Room, error) {
	return m.store.RoomsForUser(ctx, userID)
}
