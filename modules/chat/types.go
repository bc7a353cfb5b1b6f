package chat

import (
	"time"
	"unicode/utf8"

	domain "github.com/example/realtime-chat/domain/chat"
)

// Validation constants
const (
	MaxRoomNameLength = 100
	MaxPasswordLength = 128
	MaxContentLength  = 4096
)

// Client operations.
const (
	OpCreateRoom      = "createRoom"
	OpJoinRoom        = "joinRoom"
	OpReconnectRoom   = "reconnectRoom"
	OpLeaveRoom       = "leaveRoom"
	OpSendMessage     = "sendMessage"
	OpSendMessageFile = "sendMessageFile"
	OpLoadChatHistory = "loadChatHistory"
)

// Server-pushed events.
const (
	EventReceiveMessage = "ReceiveMessage"
	EventChatHistory    = "ChatHistory"
	EventUserJoined     = "UserJoined"
	EventUserLeft       = "UserLeft"
	EventRoomCreated    = "RoomCreated"
	EventRoomJoined     = "RoomJoined"
	EventRoomLeft       = "RoomLeft"
	EventError          = "Error"
)

// Frame is one client request read from a persistent connection.
type Frame struct {
	Type     string `json:"type"`
	RoomID   string `json:"room_id,omitempty"`
	RoomName string `json:"room_name,omitempty"`
	Password string `json:"password,omitempty"`
	Content  string `json:"content,omitempty"`
	FileURL  string `json:"file_url,omitempty"`
	FileName string `json:"file_name,omitempty"`
}

// ReceiveMessagePayload is delivered to every live member of a room.
type ReceiveMessagePayload struct {
	MessageID   string         `json:"messageId"`
	RoomID      string         `json:"roomId"`
	UserName    string         `json:"userName"`
	Content     string         `json:"content"`
	AvatarURL   string         `json:"avatarUrl"`
	FileURL     string         `json:"fileUrl"`
	MessageType domain.Variant `json:"messageType"`
	SentAt      time.Time      `json:"sentAt"`
}

// ChatHistoryPayload answers loadChatHistory.
type ChatHistoryPayload struct {
	RoomID   string                `json:"roomId"`
	Messages []domain.HistoryEntry `json:"messages"`
}

// PresencePayload is the body of UserJoined and UserLeft.
type PresencePayload struct {
	UserID   string `json:"userId"`
	RoomID   string `json:"roomId"`
	UserName string `json:"userName"`
}

// RoomPayload is the body of RoomCreated, RoomJoined and RoomLeft.
type RoomPayload struct {
	RoomID   string `json:"roomId"`
	RoomName string `json:"roomName,omitempty"`
}

// ErrorPayload is sent only to the connection whose operation failed.
type ErrorPayload struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

// ValidateRoomName validates a room name.
func ValidateRoomName(name string) error {
	if name == "" {
		return domain.E(domain.KindInvalidInput, "validate room", "Room name is required.")
	}
	if len(name) > MaxRoomNameLength {
		return domain.E(domain.KindInvalidInput, "validate room", "Room name exceeds maximum length.")
	}
	if !utf8.ValidString(name) {
		return domain.E(domain.KindInvalidInput, "validate room", "Room name contains invalid characters.")
	}
	return nil
}

// ValidatePassword validates an optional room password.
func ValidatePassword(password string) error {
	if len(password) > MaxPasswordLength {
		return domain.E(domain.KindInvalidInput, "validate room", "Room password exceeds maximum length.")
	}
	return nil
}

// ValidateContent validates message content.
func ValidateContent(content string) error {
	if content == "" {
		return domain.E(domain.KindInvalidInput, "validate message", "Message content cannot be empty.")
	}
	if len(content) > MaxContentLength {
		return domain.E(domain.KindInvalidInput, "validate message", "Message exceeds maximum length.")
	}
	if !utf8.ValidString(content) {
		return domain.E(domain.KindInvalidInput, "validate message", "Message contains invalid characters.")
	}
	return nil
}
