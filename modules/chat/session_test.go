package chat

import (
	"context"
	"errors"
	"testing"

	domain "github.com/example/realtime-chat/domain/chat"
	"github.com/example/realtime-chat/modules/broadcast"
)

func TestSessions_ConnectRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)

	for _, token := range []string{"", "forged"} {
		conn := newFakeConn()
		sess, err := env.service.Connect(context.Background(), conn, token)
		if !errors.Is(err, domain.ErrUnauthorized) {
			t.Errorf("Connect(%q) error = %v, want Unauthorized", token, err)
		}
		if sess != nil {
			t.Errorf("Connect(%q) returned a session", token)
		}
		if _, bound := env.registry.Identity(conn.ID()); bound {
			t.Errorf("Connect(%q) left a registry entry", token)
		}
	}
	if env.registry.ConnectionCount() != 0 {
		t.Errorf("ConnectionCount() = %d, want 0", env.registry.ConnectionCount())
	}
}

func TestSessions_ConnectAuthFailureIsInternal(t *testing.T) {
	env := newTestEnv(t)
	env.auth.err = errors.New("nats: timeout")

	_, err := env.service.Connect(context.Background(), newFakeConn(), "token")
	if domain.KindOf(err) != domain.KindInternal {
		t.Errorf("Connect() kind = %v, want Internal", domain.KindOf(err))
	}
}

func TestSessions_ConnectResyncsFromMemberships(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	aliceID, aliceToken := env.user(t, "alice")

	sess, conn := env.connect(t, aliceToken)
	if sess.State() != StateActive {
		t.Fatalf("State() = %v, want active", sess.State())
	}
	general := env.createRoom(t, sess, conn, "general", "")
	random := env.createRoom(t, sess, conn, "random", "")
	env.do(t, sess, Frame{Type: OpJoinRoom, RoomName: "general"})
	env.do(t, sess, Frame{Type: OpJoinRoom, RoomName: "random"})
	env.service.Disconnect(sess)

	if got := env.service.Sessions().State(aliceID); got != StateDisconnected {
		t.Errorf("State() after disconnect = %v, want disconnected", got)
	}
	if env.registry.GroupCount() != 0 {
		t.Errorf("GroupCount() after disconnect = %d, want 0", env.registry.GroupCount())
	}

	history := func(roomID string) int {
		entries, err := env.repo.History(ctx, roomID)
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		return len(entries)
	}
	before := history(general) + history(random)

	again, conn2 := env.connect(t, aliceToken)
	groups := env.registry.GroupsOf(again.ConnID())
	if len(groups) != 2 {
		t.Fatalf("GroupsOf() = %v, want both rooms", groups)
	}
	if len(conn2.Events()) != 0 {
		t.Errorf("reconnect emitted %d events, want 0", len(conn2.Events()))
	}
	if after := history(general) + history(random); after != before {
		t.Errorf("reconnect persisted %d messages", after-before)
	}
	rooms, err := env.service.RoomsFor(ctx, aliceID)
	if err != nil {
		t.Fatalf("RoomsFor() error = %v", err)
	}
	if len(rooms) != 2 {
		t.Errorf("RoomsFor() = %d rooms, want 2", len(rooms))
	}
	if got := env.service.Sessions().State(aliceID); got != StateActive {
		t.Errorf("State() = %v, want active", got)
	}
}

func TestSessions_NewConnectionSupersedesStale(t *testing.T) {
	env := newTestEnv(t)
	aliceID, aliceToken := env.user(t, "alice")

	first, conn1 := env.connect(t, aliceToken)
	roomID := env.createRoom(t, first, conn1, "general", "")
	env.do(t, first, Frame{Type: OpJoinRoom, RoomName: "general"})

	second, _ := env.connect(t, aliceToken)

	if !conn1.IsClosed() {
		t.Error("stale connection should be closed")
	}
	if groups := env.registry.GroupsOf(first.ConnID()); len(groups) != 0 {
		t.Errorf("stale connection still in groups %v", groups)
	}
	members := env.registry.LiveMembersOf(roomID)
	if len(members) != 1 || members[0].ID() != second.ConnID() {
		t.Errorf("LiveMembersOf() = %d conns, want only the new one", len(members))
	}

	// The stale read loop ending must not tear down the new session.
	env.service.Disconnect(first)
	if got := env.service.Sessions().State(aliceID); got != StateActive {
		t.Errorf("State() = %v, want active", got)
	}
	if len(env.registry.LiveMembersOf(roomID)) != 1 {
		t.Error("new connection lost its group")
	}
}

func TestSessions_ReconnectRoom(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	aliceID, aliceToken := env.user(t, "alice")
	bobID, bobToken := env.user(t, "bob")

	alice, aliceConn := env.connect(t, aliceToken)
	roomID := env.createRoom(t, alice, aliceConn, "general", "")
	env.do(t, alice, Frame{Type: OpJoinRoom, RoomName: "general"})

	bob, _ := env.connect(t, bobToken)
	rejoined, err := env.service.Sessions().ReconnectRoom(ctx, bob, roomID)
	if err != nil {
		t.Fatalf("ReconnectRoom() non-member error = %v", err)
	}
	if rejoined {
		t.Error("ReconnectRoom() should be a no-op for non-members")
	}
	if member, _ := env.repo.IsMember(ctx, roomID, bobID); member {
		t.Error("ReconnectRoom() created a membership")
	}
	if len(env.registry.GroupsOf(bob.ConnID())) != 0 {
		t.Error("non-member was added to the group")
	}

	env.registry.LeaveGroup(alice.ConnID(), roomID)
	rejoined, err = env.service.Sessions().ReconnectRoom(ctx, alice, roomID)
	if err != nil || !rejoined {
		t.Fatalf("ReconnectRoom() member = %v, %v; want true, nil", rejoined, err)
	}
	if groups := env.registry.GroupsOf(alice.ConnID()); len(groups) != 1 || groups[0] != roomID {
		t.Errorf("GroupsOf() = %v, want [%s]", groups, roomID)
	}
	count, err := env.repo.CountMemberships(ctx, roomID, aliceID)
	if err != nil {
		t.Fatalf("CountMemberships() error = %v", err)
	}
	if count != 1 {
		t.Errorf("membership rows = %d, want 1", count)
	}

	if _, err := env.service.Sessions().ReconnectRoom(ctx, alice, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("ReconnectRoom() unknown room error = %v, want NotFound", err)
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateDisconnected:  "disconnected",
		StateConnecting:    "connecting",
		StateAuthenticated: "authenticated",
		StateResyncing:     "resyncing",
		StateActive:        "active",
	}
	for st, want := range tests {
		if st.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", st, st.String(), want)
		}
	}
}

// shutdownStore closes every connection while the membership lookup runs,
// the way a concurrent server shutdown would.
type shutdownStore struct {
	Store
	registry *broadcast.Registry
}

func (s *shutdownStore) RoomIDsForUser(ctx context.Context, userID string) ([]string, error) {
	if s.registry != nil {
		s.registry.CloseAll()
	}
	return s.Store.RoomIDsForUser(ctx, userID)
}

func TestSessions_ConnectGroupFailureUnbinds(t *testing.T) {
	st := &shutdownStore{}
	env := newTestEnvWithStore(t, func(inner Store) Store {
		st.Store = inner
		return st
	})
	aliceID, aliceToken := env.user(t, "alice")

	sess, conn := env.connect(t, aliceToken)
	env.createRoom(t, sess, conn, "general", "")
	env.do(t, sess, Frame{Type: OpJoinRoom, RoomName: "general"})
	env.service.Disconnect(sess)

	st.registry = env.registry
	next := newFakeConn()
	sess, err := env.service.Connect(context.Background(), next, aliceToken)
	if domain.KindOf(err) != domain.KindInternal {
		t.Fatalf("Connect() error = %v, want Internal", err)
	}
	if sess != nil {
		t.Error("Connect() returned a session")
	}
	if n := env.registry.ConnectionCount(); n != 0 {
		t.Errorf("ConnectionCount() = %d, want 0", n)
	}
	if n := env.registry.GroupCount(); n != 0 {
		t.Errorf("GroupCount() = %d, want 0", n)
	}
	if got := env.service.Sessions().State(aliceID); got != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", got)
	}
	if !next.IsClosed() {
		t.Error("connection left open")
	}
}
