package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/go-monolith/mono/pkg/types"
)

// Publisher delivers an event to every live connection of a room, possibly
// through a backplane shared by several processes.
type Publisher interface {
	PublishRoom(ctx context.Context, roomID string, ev Event) error
}

// Delivery summarises one fan-out.
type Delivery struct {
	Recipients int
	Queued     int
	Dropped    int
}

// outbox holds the events waiting for one connection. At most one writer
// drains it at a time, so a connection sees events in publish order.
type outbox struct {
	conn    Conn
	pending []Event
	dropped bool
}

// Fanout delivers events to the local members of a room group. Publish only
// enqueues; each connection is written by its own goroutine with its own
// timeout, so a slow or broken connection delays nobody but itself.
type Fanout struct {
	registry    *Registry
	queueSize   int
	sendTimeout time.Duration
	logger      types.Logger

	mu       sync.Mutex
	outboxes map[string]*outbox // connID -> outbox with a running writer
	idle     chan struct{}      // closed while outboxes is empty
}

// NewFanout creates a Fanout that lets at most queueSize events wait for any
// one connection before closing it.
func NewFanout(registry *Registry, queueSize int, sendTimeout time.Duration, logger types.Logger) *Fanout {
	if queueSize <= 0 {
		queueSize = 1
	}
	idle := make(chan struct{})
	close(idle)
	return &Fanout{
		registry:    registry,
		queueSize:   queueSize,
		sendTimeout: sendTimeout,
		logger:      logger,
		outboxes:    make(map[string]*outbox),
		idle:        idle,
	}
}

// Publish queues ev for the members of roomID as of the call and returns
// without waiting for any send.
func (f *Fanout) Publish(roomID string, ev Event) Delivery {
	recipients := f.registry.LiveMembersOf(roomID)
	d := Delivery{Recipients: len(recipients)}
	for _, conn := range recipients {
		if f.enqueue(conn, ev) {
			d.Queued++
			continue
		}
		d.Dropped++
		f.logger.Warn("Fan-out queue full, closing connection",
			"connID", conn.ID(),
			"roomID", roomID,
			"event", ev.Type)
		_ = conn.Close()
	}
	return d
}

// PublishRoom implements Publisher for single-process deployments.
func (f *Fanout) PublishRoom(_ context.Context, roomID string, ev Event) error {
	d := f.Publish(roomID, ev)
	f.logger.Debug("Fan-out queued",
		"roomID", roomID,
		"event", ev.Type,
		"recipients", d.Recipients,
		"dropped", d.Dropped)
	return nil
}

// Drain waits until every queued event has been written or abandoned.
func (f *Fanout) Drain(ctx context.Context) error {
	f.mu.Lock()
	idle := f.idle
	f.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Backlog returns the number of connections with events still queued.
func (f *Fanout) Backlog() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.outboxes)
}

func (f *Fanout) enqueue(conn Conn, ev Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	box, running := f.outboxes[conn.ID()]
	if !running {
		box = &outbox{conn: conn}
		if len(f.outboxes) == 0 {
			f.idle = make(chan struct{})
		}
		f.outboxes[conn.ID()] = box
	}
	if len(box.pending) >= f.queueSize {
		box.dropped = true
		f.removeLocked(box)
		return false
	}
	box.pending = append(box.pending, ev)
	if !running {
		go f.drain(box)
	}
	return true
}

// drain writes box until it is empty or a send fails.
func (f *Fanout) drain(box *outbox) {
	for {
		f.mu.Lock()
		if box.dropped || len(box.pending) == 0 {
			f.removeLocked(box)
			f.mu.Unlock()
			return
		}
		ev := box.pending[0]
		box.pending = box.pending[1:]
		f.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), f.sendTimeout)
		err := box.conn.Send(ctx, ev)
		cancel()
		if err == nil {
			continue
		}

		f.logger.Warn("Fan-out send failed",
			"connID", box.conn.ID(),
			"event", ev.Type,
			"error", err)
		// Closing ends the read loop, which unbinds the connection.
		_ = box.conn.Close()

		f.mu.Lock()
		box.dropped = true
		f.removeLocked(box)
		f.mu.Unlock()
		return
	}
}

func (f *Fanout) removeLocked(box *outbox) {
	id := box.conn.ID()
	if f.outboxes[id] != box {
		return
	}
	delete(f.outboxes, id)
	if len(f.outboxes) == 0 {
		close(f.idle)
	}
}
