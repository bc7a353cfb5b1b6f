package chat

import (
	"path/filepath"
	"strings"
	"time"
)

// Variant is the closed set of message kinds.
type Variant string

const (
	VariantText   Variant = "text"
	VariantImage  Variant = "image"
	VariantFile   Variant = "file"
	VariantSystem Variant = "system"
)

// Valid reports whether v is one of the known variants.
func (v Variant) Valid() bool {
	switch v {
	case VariantText, VariantImage, VariantFile, VariantSystem:
		return true
	}
	return false
}

// HasAttachment reports whether the variant carries an attachment URL.
func (v Variant) HasAttachment() bool {
	return v == VariantImage || v == VariantFile
}

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
}

// AttachmentVariant classifies an uploaded file by its extension.
func AttachmentVariant(fileName string) Variant {
	if imageExtensions[strings.ToLower(filepath.Ext(fileName))] {
		return VariantImage
	}
	return VariantFile
}

// SystemUserName is the display name used for system messages.
const SystemUserName = "System"

// User is a registered identity.
type User struct {
	ID           string `gorm:"primaryKey;type:text"`
	Username     string `gorm:"uniqueIndex;not null;size:50"`
	Email        string `gorm:"uniqueIndex;not null;size:255"`
	PasswordHash string `gorm:"not null;type:text"`
	Name         string `gorm:"size:50"`
	Surname      string `gorm:"size:50"`
	AvatarURL    string `gorm:"size:255"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TableName returns the table name for User.
func (User) TableName() string {
	return "users"
}

// Room is a named chat room. AccessKey is a keyed digest of the name and
// password and is what makes the (name, password) pair unique.
type Room struct {
	ID        string    `gorm:"primaryKey;type:text" json:"id"`
	Name      string    `gorm:"index;not null;size:100" json:"name"`
	AccessKey string    `gorm:"uniqueIndex;not null;type:text" json:"-"`
	CreatorID string    `gorm:"not null;type:text;index" json:"creator_id"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the table name for Room.
func (Room) TableName() string {
	return "rooms"
}

// Membership records that a user belongs to a room. The composite primary
// key allows at most one row per (room, user).
type Membership struct {
	RoomID   string `gorm:"primaryKey;type:text"`
	UserID   string `gorm:"primaryKey;type:text;index"`
	JoinedAt time.Time
}

// TableName returns the table name for Membership.
func (Membership) TableName() string {
	return "memberships"
}

// Message is an append-only chat message. Seq breaks ties between messages
// persisted within the same clock tick.
type Message struct {
	Seq           int64     `gorm:"primaryKey;autoIncrement"`
	ID            string    `gorm:"uniqueIndex;not null;type:text"`
	RoomID        string    `gorm:"not null;type:text;index:idx_messages_room_sent,priority:1"`
	SenderID      *string   `gorm:"type:text"`
	Variant       Variant   `gorm:"not null;size:10"`
	Content       string    `gorm:"type:text"`
	AttachmentURL string    `gorm:"size:1024"`
	SentAt        time.Time `gorm:"not null;index:idx_messages_room_sent,priority:2"`
}

// TableName returns the table name for Message.
func (Message) TableName() string {
	return "messages"
}

// HistoryEntry is a message joined with its sender's display fields.
type HistoryEntry struct {
	UserName    string    `json:"userName"`
	Content     string    `json:"content"`
	SentAt      time.Time `json:"sentAt"`
	AvatarURL   string    `json:"avatarUrl"`
	MessageFrom string    `json:"messageFrom"`
	MessageType Variant   `json:"messageType"`
	FileURL     string    `json:"fileUrl"`
}
