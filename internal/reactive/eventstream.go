package reactive

import "sync"

// EventStream is the in-process published-key broadcast the controller
// exposes to callers that want to observe target keys as generators
// publish them (spec.md §4.4/§6, "generator-facing published-event
// stream"). Modeled on agentkit's bus.MemoryBus: every Subscribe call
// gets its own buffered channel and receives every key published after
// it subscribes. Unlike MemoryBus this stream carries no subject
// routing — there is exactly one topic, "published target keys" — since
// distributed, multi-subject delivery across machines is out of scope
// (SPEC_FULL.md §10).
type EventStream struct {
	mu     sync.Mutex
	subs   map[int]chan string
	nextID int
	closed bool
}

// NewEventStream creates an empty, open event stream.
func NewEventStream() *EventStream {
	return &EventStream{subs: make(map[int]chan string)}
}

// Publish delivers key to every current subscriber. Publish never blocks:
// a subscriber whose channel is full drops the key rather than stall the
// controller's fixed-point loop.
func (s *EventStream) Publish(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, ch := range s.subs {
		select {
		case ch <- key:
		default:
		}
	}
}

// Subscribe returns a channel delivering every key published after this
// call, until Close is called. The channel is closed then.
func (s *EventStream) Subscribe() <-chan string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan string, 256)
	if s.closed {
		close(ch)
		return ch
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	return ch
}

// Close shuts down the stream, closing every subscriber channel.
func (s *EventStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	return nil
}
