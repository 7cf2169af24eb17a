package stream

import (
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/backkem/roverfeed/pkg/media"
)

// RenderedFrame is a decoded frame ready for display.
type RenderedFrame struct {
	Image      image.Image
	Format     string
	Metadata   *media.FrameMetadata
	ReceivedAt time.Time
	Sequence   uint64
}

// mailbox is a single-slot frame queue. A new frame replaces an unread one,
// so a slow consumer always sees the newest image.
type mailbox struct {
	ch chan *RenderedFrame

	mu      sync.Mutex
	latest  *RenderedFrame
	seq     uint64
	closed  bool
	dropped atomic.Uint64
}

func newMailbox() *mailbox {
	return &mailbox{ch: make(chan *RenderedFrame, 1)}
}

func (m *mailbox) put(f *RenderedFrame) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.seq++
	f.Sequence = m.seq
	m.latest = f

	select {
	case m.ch <- f:
		return
	default:
	}
	select {
	case <-m.ch:
		m.dropped.Add(1)
	default:
	}
	select {
	case m.ch <- f:
	default:
	}
}

func (m *mailbox) last() *RenderedFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest
}

func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.ch)
	}
}
