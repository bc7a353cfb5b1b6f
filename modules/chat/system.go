package chat

import (
	"context"
	"fmt"

	domain "github.com/example/realtime-chat/domain/chat"
	"github.com/example/realtime-chat/modules/broadcast"
)

// SystemEvents synthesizes join and leave notices. They travel the same
// pipeline as user content, so they are persisted and replayed like it.
type SystemEvents struct {
	pipeline *Pipeline
}

// NewSystemEvents creates a SystemEvents on top of pipeline.
func NewSystemEvents(pipeline *Pipeline) *SystemEvents {
	return &SystemEvents{pipeline: pipeline}
}

// JoinedText is the notice posted when userName joins a room.
func JoinedText(userName string) string {
	return fmt.Sprintf("%s joined the chat.", userName)
}

// LeftText is the notice posted when userName leaves a room.
func LeftText(userName string) string {
	return fmt.Sprintf("%s left the chat.", userName)
}

// Joined posts the join notice and announces the new member. The name is
// read from the store so a profile rename shows up in later notices.
func (s *SystemEvents) Joined(ctx context.Context, roomID, userID string) error {
	user, err := s.pipeline.sender(ctx, userID)
	if err != nil {
		return err
	}
	return s.emit(ctx, roomID, JoinedText(user.Username), broadcast.Event{
		Type: EventUserJoined,
		Data: PresencePayload{UserID: userID, RoomID: roomID, UserName: user.Username},
	})
}

// Left posts the leave notice and announces the departure.
func (s *SystemEvents) Left(ctx context.Context, roomID, userID string) error {
	user, err := s.pipeline.sender(ctx, userID)
	if err != nil {
		return err
	}
	return s.emit(ctx, roomID, LeftText(user.Username), broadcast.Event{
		Type: EventUserLeft,
		Data: PresencePayload{UserID: userID, RoomID: roomID, UserName: user.Username},
	})
}

func (s *SystemEvents) emit(ctx context.Context, roomID, text string, presence broadcast.Event) error {
	if _, err := s.pipeline.Post(ctx, Submission{
		RoomID:  roomID,
		Variant: domain.VariantSystem,
		Content: text,
	}); err != nil {
		return err
	}
	s.pipeline.publish(ctx, roomID, presence)
	return nil
}
