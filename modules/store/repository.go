package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/example/realtime-chat/domain/chat"
	"gorm.io/gorm"
)

// Repository is the Persistence Access layer for users, rooms, memberships
// and messages. It is safe for concurrent use.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a Repository on db. db must be opened with
// TranslateError so unique violations surface as gorm.ErrDuplicatedKey.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// translate maps GORM errors onto the domain taxonomy.
func translate(op string, err error, notFound, conflict string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return domain.E(domain.KindNotFound, op, notFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return domain.E(domain.KindConflict, op, conflict)
	default:
		return domain.Wrap(domain.KindInternal, op, err)
	}
}

// ============================================================
// Users
// ============================================================

// CreateUser inserts a user. A taken username or email is a Conflict.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	err := r.db.WithContext(ctx).Create(user).Error
	return translate("create user", err, "", "Username or email already exists.")
}

// UserByID finds a user by id.
func (r *Repository) UserByID(ctx context.Context, id string) (*domain.User, error) {
	var user domain.User
	err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if err != nil {
		return nil, translate("find user", err, "User not found.", "")
	}
	return &user, nil
}

// UserByUsername finds a user by username.
func (r *Repository) UserByUsername(ctx context.Context, username string) (*domain.User, error) {
	var user domain.User
	err := r.db.WithContext(ctx).First(&user, "username = ?", username).Error
	if err != nil {
		return nil, translate("find user", err, "User not found.", "")
	}
	return &user, nil
}

// FieldTaken reports whether another user already uses value for column,
// which must be "username" or "email".
func (r *Repository) FieldTaken(ctx context.Context, column, value, exceptID string) (bool, error) {
	if column != "username" && column != "email" {
		return false, fmt.Errorf("unsupported column %q", column)
	}
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.User{}).
		Where(column+" = ? AND id <> ?", value, exceptID).
		Count(&count).Error
	if err != nil {
		return false, domain.Wrap(domain.KindInternal, "check "+column, err)
	}
	return count > 0, nil
}

// SaveUser persists every field of an existing user.
func (r *Repository) SaveUser(ctx context.Context, user *domain.User) error {
	err := r.db.WithContext(ctx).Save(user).Error
	return translate("save user", err, "User not found.", "Username or email already exists.")
}

// SetAvatar updates only the avatar URL.
func (r *Repository) SetAvatar(ctx context.Context, userID, url string) error {
	res := r.db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", userID).
		Update("avatar_url", url)
	if res.Error != nil {
		return domain.Wrap(domain.KindInternal, "set avatar", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.E(domain.KindNotFound, "set avatar", "User not found.")
	}
	return nil
}

// ============================================================
// Rooms
// ============================================================

// CreateRoom inserts a room. A duplicate access key is a Conflict.
func (r *Repository) CreateRoom(ctx context.Context, room *domain.Room) error {
	err := r.db.WithContext(ctx).Create(room).Error
	return translate("create room", err, "", "Room is already exists.")
}

// RoomByID finds a room by id.
func (r *Repository) RoomByID(ctx context.Context, id string) (*domain.Room, error) {
	var room domain.Room
	err := r.db.WithContext(ctx).First(&room, "id = ?", id).Error
	if err != nil {
		return nil, translate("find room", err, "Room not found.", "")
	}
	return &room, nil
}

// RoomByAccessKey finds the room for a (name, password) digest.
func (r *Repository) RoomByAccessKey(ctx context.Context, key string) (*domain.Room, error) {
	var room domain.Room
	err := r.db.WithContext(ctx).First(&room, "access_key = ?", key).Error
	if err != nil {
		return nil, translate("find room", err, "Room not found.", "")
	}
	return &room, nil
}

// RoomNameExists reports whether any room uses name.
func (r *Repository) RoomNameExists(ctx context.Context, name string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Room{}).Where("name = ?", name).Count(&count).Error
	if err != nil {
		return false, domain.Wrap(domain.KindInternal, "check room name", err)
	}
	return count > 0, nil
}

// RoomsForUser returns the rooms userID currently belongs to, oldest
// membership first.
func (r *Repository) RoomsForUser(ctx context.Context, userID string) ([]domain.Room, error) {
	var rooms []domain.Room
	err := r.db.WithContext(ctx).
		Joins("JOIN memberships ON memberships.room_id = rooms.id").
		Where("memberships.user_id = ?", userID).
		Order("memberships.joined_at ASC").
		Find(&rooms).Error
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "list rooms", err)
	}
	return rooms, nil
}

// ============================================================
// Memberships
// ============================================================

// AddMembership inserts a membership. The composite primary key turns a
// concurrent duplicate into a Conflict instead of a second row.
func (r *Repository) AddMembership(ctx context.Context, m *domain.Membership) error {
	err := r.db.WithContext(ctx).Create(m).Error
	return translate("add membership", err, "", "Already a member of this room.")
}

// RemoveMembership deletes a membership. Deleting a missing row yields
// domain.ErrNotMember.
func (r *Repository) RemoveMembership(ctx context.Context, roomID, userID string) error {
	res := r.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Delete(&domain.Membership{})
	if res.Error != nil {
		return domain.Wrap(domain.KindInternal, "remove membership", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotMember
	}
	return nil
}

// IsMember reports whether a membership exists.
func (r *Repository) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.Membership{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Count(&count).Error
	if err != nil {
		return false, domain.Wrap(domain.KindInternal, "check membership", err)
	}
	return count > 0, nil
}

// CountMemberships counts rows for (roomID, userID); used to verify the
// uniqueness invariant.
func (r *Repository) CountMemberships(ctx context.Context, roomID, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.Membership{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Count(&count).Error
	return count, err
}

// RoomIDsForUser returns the ids of the rooms userID belongs to.
func (r *Repository) RoomIDsForUser(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&domain.Membership{}).
		Where("user_id = ?", userID).
		Order("joined_at ASC").
		Pluck("room_id", &ids).Error
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "list memberships", err)
	}
	return ids, nil
}

// ============================================================
// Messages
// ============================================================

// AppendMessage persists a message. Messages are never updated or deleted.
func (r *Repository) AppendMessage(ctx context.Context, msg *domain.Message) error {
	err := r.db.WithContext(ctx).Create(msg).Error
	return translate("append message", err, "", "Duplicate message id.")
}

// History returns every message of a room in ascending send-time order,
// joined with the sender's display fields.
func (r *Repository) History(ctx context.Context, roomID string) ([]domain.HistoryEntry, error) {
	type row struct {
		Variant       domain.Variant
		Content       string
		AttachmentURL string
		SentAt        time.Time
		Username      *string
		AvatarURL     *string
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Table("messages").
		Select("messages.variant, messages.content, messages.attachment_url, messages.sent_at, users.username, users.avatar_url").
		Joins("LEFT JOIN users ON users.id = messages.sender_id").
		Where("messages.room_id = ?", roomID).
		Order("messages.sent_at ASC, messages.seq ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "load history", err)
	}

	entries := make([]domain.HistoryEntry, 0, len(rows))
	for _, rw := range rows {
		entry := domain.HistoryEntry{
			Content:     rw.Content,
			SentAt:      rw.SentAt,
			MessageType: rw.Variant,
			FileURL:     rw.AttachmentURL,
			MessageFrom: "user",
		}
		if rw.Variant == domain.VariantSystem {
			entry.UserName = domain.SystemUserName
			entry.MessageFrom = "system"
		} else {
			entry.UserName = deref(rw.Username)
			entry.AvatarURL = deref(rw.AvatarURL)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
