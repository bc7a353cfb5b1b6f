package chat

import (
	"context"
	"time"

	domain "github.com/example/realtime-chat/domain/chat"
	"github.com/example/realtime-chat/modules/broadcast"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Submission is a message entering the pipeline. SenderID is empty for
// system messages.
type Submission struct {
	RoomID        string
	SenderID      string
	Variant       domain.Variant
	Content       string
	AttachmentURL string
}

// Posted is a persisted message together with its sender's display fields.
type Posted struct {
	Message   domain.Message
	UserName  string
	AvatarURL string
}

// Payload returns the ReceiveMessage body for p.
func (p *Posted) Payload() ReceiveMessagePayload {
	return ReceiveMessagePayload{
		MessageID:   p.Message.ID,
		RoomID:      p.Message.RoomID,
		UserName:    p.UserName,
		Content:     p.Message.Content,
		AvatarURL:   p.AvatarURL,
		FileURL:     p.Message.AttachmentURL,
		MessageType: p.Message.Variant,
		SentAt:      p.Message.SentAt,
	}
}

// Pipeline validates, timestamps and persists messages, then hands them to
// the publisher. Nothing is published before it is durable.
type Pipeline struct {
	store     Store
	publisher broadcast.Publisher
	senders   singleflight.Group
	now       func() time.Time
	logger    types.Logger
}

// NewPipeline creates a Pipeline.
func NewPipeline(store Store, publisher broadcast.Publisher, logger types.Logger) *Pipeline {
	return &Pipeline{
		store:     store,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

func (p *Pipeline) validate(s Submission) error {
	const op = "submit message"
	if s.RoomID == "" {
		return domain.E(domain.KindInvalidInput, op, "Room id is required.")
	}
	if !s.Variant.Valid() {
		return domain.E(domain.KindInvalidInput, op, "Unknown message type.")
	}
	switch s.Variant {
	case domain.VariantSystem:
		if s.SenderID != "" {
			return domain.E(domain.KindInvalidInput, op, "System messages have no sender.")
		}
	default:
		if s.SenderID == "" {
			return domain.E(domain.KindInvalidInput, op, "Sender is required.")
		}
	}
	if s.Variant.HasAttachment() {
		if s.AttachmentURL == "" {
			return domain.E(domain.KindInvalidInput, op, "No file provided.")
		}
	} else if s.AttachmentURL != "" {
		return domain.E(domain.KindInvalidInput, op, "Only file messages carry an attachment.")
	}
	return ValidateContent(s.Content)
}

// sender looks up the sending user. Concurrent lookups for the same user
// share one store read.
func (p *Pipeline) sender(ctx context.Context, userID string) (*domain.User, error) {
	v, err, _ := p.senders.Do(userID, func() (any, error) {
		return p.store.UserByID(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.User), nil
}

// Submit validates and persists a message. The send time is always assigned
// here.
func (p *Pipeline) Submit(ctx context.Context, s Submission) (*Posted, error) {
	if err := p.validate(s); err != nil {
		return nil, err
	}

	posted := &Posted{UserName: domain.SystemUserName}
	if s.Variant != domain.VariantSystem {
		user, err := p.sender(ctx, s.SenderID)
		if err != nil {
			return nil, err
		}
		posted.UserName = user.Username
		posted.AvatarURL = user.AvatarURL
	}

	msg := domain.Message{
		ID:            uuid.New().String(),
		RoomID:        s.RoomID,
		Variant:       s.Variant,
		Content:       s.Content,
		AttachmentURL: s.AttachmentURL,
		SentAt:        p.now(),
	}
	if s.SenderID != "" {
		sender := s.SenderID
		msg.SenderID = &sender
	}
	if err := p.store.AppendMessage(ctx, &msg); err != nil {
		return nil, err
	}
	posted.Message = msg
	return posted, nil
}

// Deliver publishes a persisted message to its room. A dropped caller does
// not cancel the publish, and a publish failure never undoes the write;
// members that missed it catch up through history.
func (p *Pipeline) Deliver(ctx context.Context, posted *Posted) {
	p.publish(ctx, posted.Message.RoomID, broadcast.Event{Type: EventReceiveMessage, Data: posted.Payload()})
}

func (p *Pipeline) publish(ctx context.Context, roomID string, ev broadcast.Event) {
	if err := p.publisher.PublishRoom(context.WithoutCancel(ctx), roomID, ev); err != nil {
		p.logger.Warn("Failed to publish room event",
			"roomID", roomID,
			"event", ev.Type,
			"error", err)
	}
}

// Post submits and delivers in one step.
func (p *Pipeline) Post(ctx context.Context, s Submission) (*Posted, error) {
	posted, err := p.Submit(ctx, s)
	if err != nil {
		return nil, err
	}
	p.Deliver(ctx, posted)
	return posted, nil
}
