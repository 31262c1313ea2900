package ws

import "sync"

// Sink is the unbounded FIFO outbound queue for one connection. Handlers
// enqueue serialized frames from any goroutine; the connection's writer drains
// them in order. Messages are never dropped while the sink is open, at the
// cost of memory growth if the peer stalls.
type Sink struct {
	mu      sync.Mutex
	pending []string
	closed  bool
	notify  chan struct{}
}

func NewSink() *Sink {
	return &Sink{notify: make(chan struct{}, 1)}
}

// Enqueue appends a frame. Enqueue on a closed sink is a silent no-op.
func (s *Sink) Enqueue(frame string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, frame)
	s.mu.Unlock()
	s.wake()
}

// TryNext pops the oldest pending frame without blocking. Pending frames
// remain poppable after Close so the writer can flush its backlog.
func (s *Sink) TryNext() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return "", false
	}
	frame := s.pending[0]
	s.pending = s.pending[1:]
	return frame, true
}

// Ready signals when new frames may be available or the sink has closed.
func (s *Sink) Ready() <-chan struct{} {
	return s.notify
}

func (s *Sink) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Sink) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wake()
}

func (s *Sink) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
