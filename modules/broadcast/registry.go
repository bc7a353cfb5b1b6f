package broadcast

import (
	"context"
	"errors"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// closeConcurrency bounds the close frames written at once by CloseAll.
const closeConcurrency = 32

var (
	// ErrAlreadyBound is returned when a connection id is bound twice.
	ErrAlreadyBound = errors.New("connection already bound")
	// ErrNotBound is returned for operations on an unknown connection.
	ErrNotBound = errors.New("connection not bound")
)

// Event is a server-pushed frame.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Conn is one live transport session.
type Conn interface {
	ID() string
	Send(ctx context.Context, ev Event) error
	Close() error
}

type binding struct {
	conn   Conn
	userID string
	groups map[string]struct{}
}

// Registry maps live connections to identities and room groups. It is
// process-local and always derivable from persisted memberships plus the
// set of live connections.
type Registry struct {
	mu         sync.RWMutex
	conns      map[string]*binding            // connID -> binding
	groups     map[string]map[string]struct{} // roomID -> set of connIDs
	identities map[string]map[string]struct{} // userID -> set of connIDs
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:      make(map[string]*binding),
		groups:     make(map[string]map[string]struct{}),
		identities: make(map[string]map[string]struct{}),
	}
}

// Bind associates conn with an identity for the connection's lifetime.
func (r *Registry) Bind(conn Conn, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[conn.ID()]; ok {
		return ErrAlreadyBound
	}
	r.conns[conn.ID()] = &binding{
		conn:   conn,
		userID: userID,
		groups: make(map[string]struct{}),
	}
	addToSet(r.identities, userID, conn.ID())
	return nil
}

// Unbind removes the connection and all of its group associations in one
// step. It returns the removed connection (nil if unknown) and its groups.
func (r *Registry) Unbind(connID string) (Conn, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.conns[connID]
	if !ok {
		return nil, nil
	}
	groups := r.flushLocked(connID, b)
	delete(r.conns, connID)
	removeFromSet(r.identities, b.userID, connID)
	return b.conn, groups
}

func (r *Registry) flushLocked(connID string, b *binding) []string {
	groups := make([]string, 0, len(b.groups))
	for roomID := range b.groups {
		removeFromSet(r.groups, roomID, connID)
		groups = append(groups, roomID)
	}
	b.groups = make(map[string]struct{})
	sort.Strings(groups)
	return groups
}

// JoinGroup adds a bound connection to a room group. Joining twice is a no-op.
func (r *Registry) JoinGroup(connID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.conns[connID]
	if !ok {
		return ErrNotBound
	}
	b.groups[roomID] = struct{}{}
	addToSet(r.groups, roomID, connID)
	return nil
}

// LeaveGroup removes a connection from a room group.
func (r *Registry) LeaveGroup(connID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.conns[connID]; ok {
		delete(b.groups, roomID)
	}
	removeFromSet(r.groups, roomID, connID)
}

// LeaveGroupForIdentity removes every connection of userID from a room group.
func (r *Registry) LeaveGroupForIdentity(userID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for connID := range r.identities[userID] {
		if b, ok := r.conns[connID]; ok {
			delete(b.groups, roomID)
		}
		removeFromSet(r.groups, roomID, connID)
	}
}

// GroupsOf returns the room ids a connection is subscribed to, sorted.
func (r *Registry) GroupsOf(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.conns[connID]
	if !ok {
		return nil
	}
	groups := make([]string, 0, len(b.groups))
	for roomID := range b.groups {
		groups = append(groups, roomID)
	}
	sort.Strings(groups)
	return groups
}

// LiveMembersOf returns a snapshot of the connections in a room group.
func (r *Registry) LiveMembersOf(roomID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.groups[roomID]
	conns := make([]Conn, 0, len(ids))
	for connID := range ids {
		if b, ok := r.conns[connID]; ok {
			conns = append(conns, b.conn)
		}
	}
	return conns
}

// ConnectionsOf returns the live connections bound to userID.
func (r *Registry) ConnectionsOf(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.identities[userID]
	conns := make([]Conn, 0, len(ids))
	for connID := range ids {
		if b, ok := r.conns[connID]; ok {
			conns = append(conns, b.conn)
		}
	}
	return conns
}

// Identity returns the user bound to a connection.
func (r *Registry) Identity(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.conns[connID]
	if !ok {
		return "", false
	}
	return b.userID, true
}

// ConnectionCount returns the number of bound connections.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// GroupCount returns the number of non-empty room groups.
func (r *Registry) GroupCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups)
}

// CloseAll closes and unbinds every connection.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	conns := make([]Conn, 0, len(r.conns))
	for _, b := range r.conns {
		conns = append(conns, b.conn)
	}
	r.conns = make(map[string]*binding)
	r.groups = make(map[string]map[string]struct{})
	r.identities = make(map[string]map[string]struct{})
	r.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(closeConcurrency)
	for _, c := range conns {
		g.Go(func() error {
			_ = c.Close()
			return nil
		})
	}
	_ = g.Wait()
	return len(conns)
}

func addToSet(m map[string]map[string]struct{}, key, member string) {
	set, ok := m[key]
	if !ok {
		set = make(map[string]struct{})
		m[key] = set
	}
	set[member] = struct{}{}
}

func removeFromSet(m map[string]map[string]struct{}, key, member string) {
	set, ok := m[key]
	if !ok {
		return
	}
	delete(set, member)
	if len(set) == 0 {
		delete(m, key)
	}
}
