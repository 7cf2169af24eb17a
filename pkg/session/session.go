// Package session implements the live video transports: a WebSocket session
// that receives encoded frames with out-of-band metadata and a WebRTC session
// that negotiates one inbound video track over a signaling socket.
//
// A session reports everything it observes as Events on its own buffered
// channel. The channel is never closed; consumers stop reading once they call
// Close, and Close does not return until every goroutine owned by the session
// has exited, so a disposed session cannot deliver further events.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/backkem/roverfeed/pkg/transport"
	"github.com/google/uuid"
)

// Session is one live transport connection.
type Session interface {
	// ID is unique per session instance.
	ID() string

	// Kind is the concrete transport kind.
	Kind() transport.Kind

	// Start begins connecting in the background and returns immediately.
	Start(ctx context.Context) error

	// Events returns the session's event channel.
	Events() <-chan Event

	// SetQuality pushes a quality directive. It is a no-op if the transport
	// is not open or has no quality channel.
	SetQuality(quality int)

	// Close tears the session down and waits for its goroutines.
	// It is safe to call more than once.
	Close() error
}

// base holds the lifecycle plumbing shared by the session types.
type base struct {
	id     string
	kind   transport.Kind
	events chan Event

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
	closing bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

func newBase(kind transport.Kind, buffer int) base {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	return base{
		id:      uuid.NewString(),
		kind:    kind,
		events:  make(chan Event, buffer),
		closeCh: make(chan struct{}),
	}
}

// ID implements Session.
func (b *base) ID() string { return b.id }

// Kind implements Session.
func (b *base) Kind() transport.Kind { return b.kind }

// Events implements Session.
func (b *base) Events() <-chan Event { return b.events }

// begin marks the session started and derives its context.
func (b *base) begin(parent context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closing {
		return ErrClosed
	}
	if b.started {
		return ErrAlreadyStarted
	}
	b.started = true
	b.ctx, b.cancel = context.WithCancel(parent)
	return nil
}

// goTracked runs fn in a goroutine counted by the close wait group.
// It refuses once shutdown has begun.
func (b *base) goTracked(fn func()) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closing {
		return false
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
	return true
}

// shutdown closes closeCh and cancels the context. It returns false if the
// session was already shutting down.
func (b *base) shutdown() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closing {
		return false
	}
	b.closing = true
	close(b.closeCh)
	if b.cancel != nil {
		b.cancel()
	}
	return true
}

func (b *base) isClosing() bool {
	select {
	case <-b.closeCh:
		return true
	default:
		return false
	}
}

// emit delivers ev unless the session is closing. It blocks while the
// channel is full.
func (b *base) emit(ev Event) bool {
	ev.SessionID = b.id
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case <-b.closeCh:
		return false
	default:
	}
	select {
	case b.events <- ev:
		return true
	case <-b.closeCh:
		return false
	}
}
