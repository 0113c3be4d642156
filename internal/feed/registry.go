package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	ws "nhooyr.io/websocket"
)

const (
	writeTimeout = 5 * time.Second

	// subscriberBuffer is how far an observer may fall behind before it is dropped.
	subscriberBuffer = 64
)

var errBackpressure = errors.New("observer fell behind")

// Subscriber is one observer connection with its outbound queue. Only Pump
// writes to the connection.
type Subscriber struct {
	conn *ws.Conn
	send chan Message

	mu     sync.Mutex
	closed bool
}

func newSubscriber(c *ws.Conn) *Subscriber {
	return &Subscriber{conn: c, send: make(chan Message, subscriberBuffer)}
}

func (s *Subscriber) trySend(m Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- m:
		return true
	default:
		return false
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}

// Pump writes queued messages until ctx ends or the subscriber is dropped.
// Messages whose event id is in skip were already sent as backlog.
func (s *Subscriber) Pump(ctx context.Context, skip map[string]struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-s.send:
			if !ok {
				return errBackpressure
			}
			if _, dup := skip[m.Event.ID]; dup {
				continue
			}
			if err := s.write(ctx, m); err != nil {
				return err
			}
			metricBroadcasts.Inc()
		}
	}
}

func (s *Subscriber) write(ctx context.Context, m Message) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return s.conn.Write(wctx, ws.MessageText, mustJSON(m))
}

// Registry tracks the observers subscribed to each session.
type Registry struct {
	mu   sync.Mutex
	subs map[string]map[*Subscriber]struct{}
}

func NewRegistry() *Registry { return &Registry{subs: make(map[string]map[*Subscriber]struct{})} }

// Add subscribes c to sessionID. Messages are queued from this point on and
// reach the connection once the caller runs Pump.
func (r *Registry) Add(sessionID string, c *ws.Conn) *Subscriber {
	sub := newSubscriber(c)
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.subs[sessionID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		r.subs[sessionID] = set
	}
	set[sub] = struct{}{}
	gaugeSubscribers.Inc()
	return sub
}

func (r *Registry) Remove(sessionID string, sub *Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.subs[sessionID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	sub.close()
	gaugeSubscribers.Dec()
	if len(set) == 0 {
		delete(r.subs, sessionID)
	}
}

func (r *Registry) Count(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs[sessionID])
}

// Broadcast queues m for every observer of sessionID without blocking.
// Observers whose queue is full are dropped.
func (r *Registry) Broadcast(sessionID string, m Message) (queued int) {
	r.mu.Lock()
	subs := make([]*Subscriber, 0, len(r.subs[sessionID]))
	for sub := range r.subs[sessionID] {
		subs = append(subs, sub)
	}
	r.mu.Unlock()

	for _, sub := range subs {
		if !sub.trySend(m) {
			metricDropped.Inc()
			r.Remove(sessionID, sub)
			continue
		}
		queued++
	}
	return queued
}

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
