package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	domain "github.com/example/realtime-chat/domain/chat"
	"github.com/example/realtime-chat/modules/broadcast"
	"github.com/example/realtime-chat/modules/chat"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	tokenLocalKey = "ws_token"
	maxFrameSize  = 64 * 1024
)

// upgradeGuard rejects plain HTTP requests and requests without a token
// before the upgrade. The token itself is validated by the chat core.
func (h *Handlers) upgradeGuard(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	token := bearerToken(c)
	if token == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
			Error:   "unauthorized",
			Message: "Access token is required",
		})
	}
	c.Locals(tokenLocalKey, token)
	return c.Next()
}

// wsConn adapts a websocket to broadcast.Conn. Writes are serialized because
// the fan-out pool and the read loop both send.
type wsConn struct {
	id           string
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu        sync.Mutex
	closeOnce sync.Once
}

func newWSConn(conn *websocket.Conn, writeTimeout time.Duration) *wsConn {
	return &wsConn{
		id:           uuid.New().String(),
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

func (w *wsConn) ID() string {
	return w.id
}

func (w *wsConn) Send(ctx context.Context, ev broadcast.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	deadline := time.Now().Add(w.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := w.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame and closes the socket. Safe to call repeatedly.
func (w *wsConn) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.mu.Lock()
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		w.mu.Unlock()
		err = w.conn.Close()
	})
	return err
}

// handleWebSocket runs one websocket connection until the peer goes away.
func (h *Handlers) handleWebSocket(c *websocket.Conn) {
	token, _ := c.Locals(tokenLocalKey).(string)
	c.SetReadLimit(maxFrameSize)

	conn := newWSConn(c, h.writeTimeout)
	h.serve(context.Background(), conn, token, func() ([]byte, error) {
		_, data, err := c.ReadMessage()
		if err != nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			h.logger.Warn("WebSocket closed unexpectedly", "connID", conn.ID(), "error", err)
		}
		return data, err
	})
}

// serve authenticates conn, then dispatches every frame returned by next
// until it fails. Operation errors are reported to the client by the chat
// core and never end the loop.
func (h *Handlers) serve(ctx context.Context, conn broadcast.Conn, token string, next func() ([]byte, error)) {
	defer conn.Close()

	sess, err := h.chat.Connect(ctx, conn, token)
	if err != nil {
		h.logger.Debug("WebSocket connect rejected", "connID", conn.ID(), "error", err)
		h.sendError(ctx, conn, err)
		return
	}
	defer h.chat.Disconnect(sess)

	h.logger.Info("WebSocket connected", "connID", conn.ID(), "userID", sess.UserID())
	for {
		data, err := next()
		if err != nil {
			h.logger.Info("WebSocket disconnected", "connID", conn.ID(), "userID", sess.UserID())
			return
		}

		var frame chat.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.sendError(ctx, conn, domain.E(domain.KindInvalidInput, "decode", "Invalid message format."))
			continue
		}
		_ = h.chat.Handle(ctx, sess, frame)
	}
}

func (h *Handlers) sendError(ctx context.Context, conn broadcast.Conn, err error) {
	ev := broadcast.Event{
		Type: chat.EventError,
		Data: chat.ErrorPayload{
			Message: domain.PublicMessage(err),
			Kind:    domain.KindOf(err).String(),
		},
	}
	if serr := conn.Send(ctx, ev); serr != nil {
		h.logger.Debug("Failed to send error", "connID", conn.ID(), "error", serr)
	}
}
