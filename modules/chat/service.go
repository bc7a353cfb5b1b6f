// Package chat is the chat core: room membership, the message pipeline,
// system notices, and the reconnect/resync protocol behind the client
// operations of a persistent connection.
package chat

import (
	"context"
	"fmt"
	"strings"

	domain "github.com/example/realtime-chat/domain/chat"
	"github.com/example/realtime-chat/modules/broadcast"
	"github.com/example/realtime-chat/modules/files"
	"github.com/go-monolith/mono/pkg/types"
)

// ErrNotRoomMember is returned when someone outside a room posts to it.
var ErrNotRoomMember = domain.E(domain.KindUnauthorized, "send message", "You are not a member of this room.")

// ErrUnknownAttachment is returned for file messages whose URL was not issued
// by the attachment upload endpoint.
var ErrUnknownAttachment = domain.E(domain.KindInvalidInput, "send file", "Unknown file.")

// Service runs client operations for authenticated sessions.
type Service struct {
	memberships *Memberships
	pipeline    *Pipeline
	system      *SystemEvents
	sessions    *Sessions
	registry    *broadcast.Registry
	attachments AttachmentResolver
	limiter     Limiter
	logger      types.Logger
}

// NewService wires the chat core. A nil limiter disables rate limiting.
func NewService(
	store Store,
	authenticator Authenticator,
	registry *broadcast.Registry,
	publisher broadcast.Publisher,
	attachments AttachmentResolver,
	limiter Limiter,
	roomSecret string,
	logger types.Logger,
) *Service {
	if limiter == nil {
		limiter = allowAll{}
	}
	pipeline := NewPipeline(store, publisher, logger)
	return &Service{
		memberships: NewMemberships(store, roomSecret),
		pipeline:    pipeline,
		system:      NewSystemEvents(pipeline),
		sessions:    NewSessions(registry, store, authenticator, logger),
		registry:    registry,
		attachments: attachments,
		limiter:     limiter,
		logger:      logger,
	}
}

// Sessions returns the session manager.
func (s *Service) Sessions() *Sessions {
	return s.sessions
}

// Connect authenticates and resyncs a new connection.
func (s *Service) Connect(ctx context.Context, conn broadcast.Conn, token string) (*Session, error) {
	return s.sessions.Connect(ctx, conn, token)
}

// Disconnect tears a session down.
func (s *Service) Disconnect(sess *Session) {
	s.sessions.Disconnect(sess)
}

// RoomsFor lists the rooms userID belongs to.
func (s *Service) RoomsFor(ctx context.Context, userID string) ([]domain.Room, error) {
	return s.memberships.ListRoomsFor(ctx, userID)
}

// Handle runs one client operation. A failure is reported to this session
// alone as an Error event and also returned. Panics are contained here so one
// connection cannot disturb the others.
func (s *Service) Handle(ctx context.Context, sess *Session, frame Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = domain.Wrap(domain.KindInternal, frame.Type, fmt.Errorf("panic: %v", r))
		}
		if err != nil {
			s.reportError(ctx, sess, frame.Type, err)
		}
	}()

	switch frame.Type {
	case OpCreateRoom:
		return s.createRoom(ctx, sess, frame.RoomName, frame.Password)
	case OpJoinRoom:
		return s.joinRoom(ctx, sess, frame.RoomName, frame.Password)
	case OpReconnectRoom:
		return s.reconnectRoom(ctx, sess, frame.RoomID)
	case OpLeaveRoom:
		return s.leaveRoom(ctx, sess, frame.RoomID)
	case OpSendMessage:
		return s.sendMessage(ctx, sess, frame.RoomID, frame.Content)
	case OpSendMessageFile:
		return s.sendMessageFile(ctx, sess, frame.RoomID, frame.FileURL, frame.FileName)
	case OpLoadChatHistory:
		return s.loadChatHistory(ctx, sess, frame.RoomID)
	default:
		return domain.E(domain.KindInvalidInput, "dispatch", "Unknown operation: "+frame.Type)
	}
}

func (s *Service) reportError(ctx context.Context, sess *Session, op string, err error) {
	kind := domain.KindOf(err)
	if kind == domain.KindInternal {
		s.logger.Error("Chat operation failed",
			"op", op,
			"userID", sess.UserID(),
			"connID", sess.ConnID(),
			"error", err)
	} else {
		s.logger.Debug("Chat operation rejected",
			"op", op,
			"userID", sess.UserID(),
			"kind", kind.String(),
			"error", err)
	}
	s.reply(ctx, sess, EventError, ErrorPayload{Message: domain.PublicMessage(err), Kind: kind.String()})
}

func (s *Service) reply(ctx context.Context, sess *Session, eventType string, data any) {
	if err := sess.Send(context.WithoutCancel(ctx), broadcast.Event{Type: eventType, Data: data}); err != nil {
		s.logger.Debug("Failed to reply to caller",
			"connID", sess.ConnID(),
			"event", eventType,
			"error", err)
	}
}

func (s *Service) createRoom(ctx context.Context, sess *Session, name, password string) error {
	room, err := s.memberships.CreateRoom(ctx, sess.UserID(), name, password)
	if err != nil {
		return err
	}
	s.logger.Info("Room created", "roomID", room.ID, "name", room.Name, "creatorID", sess.UserID())
	s.reply(ctx, sess, EventRoomCreated, RoomPayload{RoomID: room.ID, RoomName: room.Name})
	return nil
}

// joinRoom persists the membership and adds the identity's connections to the
// group before the notice is posted, so the joiner sees its own notice. If the
// notice cannot be persisted the membership stays committed.
func (s *Service) joinRoom(ctx context.Context, sess *Session, name, password string) error {
	room, err := s.memberships.Resolve(ctx, name, password)
	if err != nil {
		return err
	}
	err = s.sessions.withIdentity(sess.UserID(), func() error {
		if _, err := s.memberships.Join(ctx, room.ID, sess.UserID(), password); err != nil {
			return err
		}
		for _, conn := range s.registry.ConnectionsOf(sess.UserID()) {
			_ = s.registry.JoinGroup(conn.ID(), room.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("User joined room", "roomID", room.ID, "userID", sess.UserID())
	s.reply(ctx, sess, EventRoomJoined, RoomPayload{RoomID: room.ID, RoomName: room.Name})
	return s.system.Joined(ctx, room.ID, sess.UserID())
}

func (s *Service) reconnectRoom(ctx context.Context, sess *Session, roomID string) error {
	if roomID == "" {
		return domain.E(domain.KindInvalidInput, "reconnect room", "Room id is required.")
	}
	rejoined, err := s.sessions.ReconnectRoom(ctx, sess, roomID)
	if err != nil {
		return err
	}
	s.logger.Debug("Reconnect room", "roomID", roomID, "userID", sess.UserID(), "rejoined", rejoined)
	return nil
}

// leaveRoom deletes the membership and removes the identity from the group;
// the remaining members receive the notice.
func (s *Service) leaveRoom(ctx context.Context, sess *Session, roomID string) error {
	if roomID == "" {
		return domain.E(domain.KindInvalidInput, "leave room", "Room id is required.")
	}
	err := s.sessions.withIdentity(sess.UserID(), func() error {
		if err := s.memberships.Leave(ctx, roomID, sess.UserID()); err != nil {
			return err
		}
		s.registry.LeaveGroupForIdentity(sess.UserID(), roomID)
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("User left room", "roomID", roomID, "userID", sess.UserID())
	s.reply(ctx, sess, EventRoomLeft, RoomPayload{RoomID: roomID})
	return s.system.Left(ctx, roomID, sess.UserID())
}

// canPost allows members and the room's creator, who is not joined
// automatically.
func (s *Service) canPost(ctx context.Context, sess *Session, roomID string) error {
	if roomID == "" {
		return domain.E(domain.KindInvalidInput, "send message", "Room id is required.")
	}
	room, err := s.pipeline.store.RoomByID(ctx, roomID)
	if err != nil {
		return err
	}
	if room.CreatorID == sess.UserID() {
		return nil
	}
	member, err := s.memberships.IsMember(ctx, roomID, sess.UserID())
	if err != nil {
		return err
	}
	if !member {
		return ErrNotRoomMember
	}
	return nil
}

func (s *Service) sendMessage(ctx context.Context, sess *Session, roomID, content string) error {
	if err := s.limiter.Allow(ctx, sess.UserID()); err != nil {
		return err
	}
	if err := s.canPost(ctx, sess, roomID); err != nil {
		return err
	}
	_, err := s.pipeline.Post(ctx, Submission{
		RoomID:   roomID,
		SenderID: sess.UserID(),
		Variant:  domain.VariantText,
		Content:  content,
	})
	return err
}

// sendMessageFile posts an already uploaded attachment. Only URLs issued for
// attachments are accepted; the variant is decided from the file name.
func (s *Service) sendMessageFile(ctx context.Context, sess *Session, roomID, fileURL, fileName string) error {
	if fileURL == "" || fileName == "" {
		return domain.E(domain.KindInvalidInput, "send file", "No file provided.")
	}
	key, ok := s.attachments.KeyFromURL(fileURL)
	if !ok || !strings.HasPrefix(key, files.KindAttachment+"/") {
		return ErrUnknownAttachment
	}
	if err := s.limiter.Allow(ctx, sess.UserID()); err != nil {
		return err
	}
	if err := s.canPost(ctx, sess, roomID); err != nil {
		return err
	}
	_, err := s.pipeline.Post(ctx, Submission{
		RoomID:        roomID,
		SenderID:      sess.UserID(),
		Variant:       domain.AttachmentVariant(fileName),
		Content:       fileName,
		AttachmentURL: fileURL,
	})
	return err
}

// LoadChatHistory returns every persisted message of roomID in send order.
func (s *Service) LoadChatHistory(ctx context.Context, roomID string) ([]domain.HistoryEntry, error) {
	if roomID == "" {
		return nil, domain.E(domain.KindInvalidInput, "load history", "Room id is required.")
	}
	if _, err := s.pipeline.store.RoomByID(ctx, roomID); err != nil {
		return nil, err
	}
	return s.pipeline.store.History(ctx, roomID)
}

func (s *Service) loadChatHistory(ctx context.Context, sess *Session, roomID string) error {
	messages, err := s.LoadChatHistory(ctx, roomID)
	if err != nil {
		return err
	}
	s.reply(ctx, sess, EventChatHistory, ChatHistoryPayload{RoomID: roomID, Messages: messages})
	return nil
}
