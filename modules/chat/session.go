package chat

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"

	domain "github.com/example/realtime-chat/domain/chat"
	"github.com/example/realtime-chat/modules/broadcast"
	"github.com/go-monolith/mono/pkg/types"
)

// State is the resync state of an identity.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticated
	StateResyncing
	StateActive
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateResyncing:
		return "resyncing"
	case StateActive:
		return "active"
	default:
		return "disconnected"
	}
}

// Session is one authenticated physical connection.
type Session struct {
	conn   broadcast.Conn
	userID string
	state  atomic.Int32
}

// UserID returns the identity bound to the session.
func (s *Session) UserID() string { return s.userID }

// ConnID returns the transport connection id.
func (s *Session) ConnID() string { return s.conn.ID() }

// State returns the session's current state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// Send writes one event to this session only.
func (s *Session) Send(ctx context.Context, ev broadcast.Event) error {
	return s.conn.Send(ctx, ev)
}

const lockStripes = 64

// Sessions runs the connect/resync protocol and serializes group changes per
// identity. Locks are striped by user id so unrelated identities rarely
// contend and no lock is global.
type Sessions struct {
	registry *broadcast.Registry
	store    Store
	auth     Authenticator
	locks    [lockStripes]sync.Mutex
	mu       sync.RWMutex
	current  map[string]*Session // userID -> newest session
	logger   types.Logger
}

// NewSessions creates a Sessions.
func NewSessions(registry *broadcast.Registry, store Store, auth Authenticator, logger types.Logger) *Sessions {
	return &Sessions{
		registry: registry,
		store:    store,
		auth:     auth,
		current:  make(map[string]*Session),
		logger:   logger,
	}
}

func (s *Sessions) lockFor(userID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &s.locks[h.Sum32()%lockStripes]
}

// withIdentity runs fn while holding userID's lock.
func (s *Sessions) withIdentity(userID string, fn func() error) error {
	mu := s.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()
	return fn()
}

// Connect authenticates conn with token and brings it to Active. Earlier
// connections of the same identity are superseded: their group associations
// are flushed and they are closed. The new connection then joins the group of
// every room with a persisted membership. Memberships are not touched and no
// presence events are emitted.
func (s *Sessions) Connect(ctx context.Context, conn broadcast.Conn, token string) (*Session, error) {
	sess := &Session{conn: conn}
	sess.setState(StateConnecting)

	if token == "" {
		sess.setState(StateDisconnected)
		return nil, domain.E(domain.KindUnauthorized, "connect", "Invalid user.")
	}
	claims, err := s.auth.ValidateToken(ctx, token)
	if err != nil {
		sess.setState(StateDisconnected)
		if domain.KindOf(err) == domain.KindUnauthorized {
			return nil, err
		}
		return nil, domain.Wrap(domain.KindInternal, "connect", err)
	}
	sess.userID = claims.UserID
	sess.setState(StateAuthenticated)

	err = s.withIdentity(sess.userID, func() error {
		s.mu.Lock()
		s.current[sess.userID] = sess
		s.mu.Unlock()

		sess.setState(StateResyncing)
		for _, old := range s.registry.ConnectionsOf(sess.userID) {
			stale, groups := s.registry.Unbind(old.ID())
			if stale != nil {
				_ = stale.Close()
				s.logger.Debug("Superseded connection",
					"userID", sess.userID,
					"connID", old.ID(),
					"flushedGroups", len(groups))
			}
		}

		if err := s.registry.Bind(conn, sess.userID); err != nil {
			return domain.Wrap(domain.KindInternal, "connect", err)
		}
		roomIDs, err := s.store.RoomIDsForUser(ctx, sess.userID)
		if err != nil {
			s.registry.Unbind(conn.ID())
			return err
		}
		for _, roomID := range roomIDs {
			if err := s.registry.JoinGroup(conn.ID(), roomID); err != nil {
				s.registry.Unbind(conn.ID())
				return domain.Wrap(domain.KindInternal, "connect", err)
			}
		}
		sess.setState(StateActive)
		s.logger.Info("Session active",
			"userID", sess.userID,
			"connID", conn.ID(),
			"rooms", len(roomIDs))
		return nil
	})
	if err != nil {
		s.forget(sess)
		return nil, err
	}
	return sess, nil
}

// Disconnect tears the session down. Its group associations are removed in
// the same step as its registry entry.
func (s *Sessions) Disconnect(sess *Session) {
	if sess == nil {
		return
	}
	_ = s.withIdentity(sess.userID, func() error {
		s.registry.Unbind(sess.conn.ID())
		return nil
	})
	s.forget(sess)
	s.logger.Info("Session closed", "userID", sess.userID, "connID", sess.conn.ID())
}

func (s *Sessions) forget(sess *Session) {
	sess.setState(StateDisconnected)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current[sess.userID] == sess {
		delete(s.current, sess.userID)
	}
}

// State returns the state of userID's newest session.
func (s *Sessions) State(userID string) State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.current[userID]; ok {
		return sess.State()
	}
	return StateDisconnected
}

// ActiveCount returns the number of identities with a live session.
func (s *Sessions) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.current)
}

// ReconnectRoom puts sess back into roomID's group when a persisted
// membership exists. It never creates a membership; for non-members it is a
// no-op and reports false.
func (s *Sessions) ReconnectRoom(ctx context.Context, sess *Session, roomID string) (bool, error) {
	if _, err := s.store.RoomByID(ctx, roomID); err != nil {
		return false, err
	}
	var rejoined bool
	err := s.withIdentity(sess.userID, func() error {
		member, err := s.store.IsMember(ctx, roomID, sess.userID)
		if err != nil || !member {
			return err
		}
		if err := s.registry.JoinGroup(sess.conn.ID(), roomID); err != nil {
			return domain.Wrap(domain.KindInternal, "reconnect room", err)
		}
		rejoined = true
		return nil
	})
	return rejoined, err
}
