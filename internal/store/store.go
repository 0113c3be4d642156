package store

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"sipbridge/relay/internal/types"
)

const (
	PinMin = 1000
	PinMax = 9999

	// MaxPinAttempts bounds random draws before falling back to a scan of free pins.
	MaxPinAttempts = 32

	DefaultSnapshotCapacity = 4096

	maxEvents = 200

	// listenerBuffer is how many events a slow listener may fall behind
	// before new ones are dropped for it.
	listenerBuffer = 256
)

var (
	ErrPinSpaceExhausted = errors.New("no free pin left")
	ErrEmptyKey          = errors.New("room id and session id are required")
)

// Snapshot is the last seen stream-created payload for one connection.
type Snapshot struct {
	SessionID      string         `json:"session_id"`
	ConnectionID   string         `json:"connection_id"`
	StreamID       string         `json:"stream_id"`
	ConnectionData string         `json:"connection_data"`
	CreatedAt      int64          `json:"created_at"` // ms since epoch, provider clock
	Payload        map[string]any `json:"payload,omitempty"`
	SeenAt         time.Time      `json:"seen_at"`
}

type snapshotKey struct {
	sessionID    string
	connectionID string
}

type Store struct {
	mu        sync.RWMutex
	rooms     map[string]*types.Room // room id
	bySession map[string]string      // session id -> room id
	pins      map[int]string         // pin -> session id
	events    map[string][]types.Event

	// SIP bridge state per session
	dialedOut   map[string]bool
	connections map[string]string
	bridgeCalls map[string]string

	locksMu sync.Mutex
	locks   map[string]*keyLock

	snapshots *lru.Cache[snapshotKey, Snapshot]

	intn      func(n int) int
	listeners []chan sessionEvent
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

type sessionEvent struct {
	sessionID string
	evt       types.Event
}

type Option func(*Store)

// WithSnapshotCapacity bounds the number of stream snapshots kept.
func WithSnapshotCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.snapshots, _ = lru.New[snapshotKey, Snapshot](n)
		}
	}
}

// WithRand replaces the pin random source; intn must return a value in [0, n).
func WithRand(intn func(n int) int) Option {
	return func(s *Store) { s.intn = intn }
}

func New(opts ...Option) *Store {
	s := &Store{
		rooms:       make(map[string]*types.Room),
		bySession:   make(map[string]string),
		pins:        make(map[int]string),
		events:      make(map[string][]types.Event),
		dialedOut:   make(map[string]bool),
		connections: make(map[string]string),
		bridgeCalls: make(map[string]string),
		locks:       make(map[string]*keyLock),
		intn:        rand.Intn,
	}
	for _, o := range opts {
		o(s)
	}
	if s.snapshots == nil {
		s.snapshots, _ = lru.New[snapshotKey, Snapshot](DefaultSnapshotCapacity)
	}
	return s
}

// BindRoom maps roomID to sessionID, both ways, and reserves a fresh pin for
// the session. If roomID is already bound the existing room is returned with
// created=false and nothing changes.
func (s *Store) BindRoom(roomID, sessionID string) (room types.Room, created bool, err error) {
	if roomID == "" || sessionID == "" {
		return types.Room{}, false, ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[roomID]; ok {
		return *r, false, nil
	}
	pin, err := s.drawPinLocked()
	if err != nil {
		return types.Room{}, false, err
	}
	r := &types.Room{ID: roomID, SessionID: sessionID, Pin: pin, CreatedAt: time.Now().UTC()}
	s.rooms[roomID] = r
	s.bySession[sessionID] = roomID
	s.pins[pin] = sessionID
	if _, ok := s.events[sessionID]; !ok {
		s.events[sessionID] = []types.Event{}
	}
	gaugeRooms.Inc()
	return *r, true, nil
}

func (s *Store) Room(roomID string) (types.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return types.Room{}, false
	}
	return *r, true
}

func (s *Store) SessionForRoom(roomID string) (string, bool) {
	r, ok := s.Room(roomID)
	return r.SessionID, ok
}

func (s *Store) RoomForSession(sessionID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.bySession[sessionID]
	return id, ok
}

func (s *Store) PinForSession(sessionID string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[s.bySession[sessionID]]
	if !ok {
		return 0, false
	}
	return r.Pin, true
}

func (s *Store) ResolvePin(pin int) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.pins[pin]
	return id, ok
}

// GeneratePin draws a pin that is currently unmapped. It does not reserve it;
// BindRoom draws and reserves atomically.
func (s *Store) GeneratePin() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.drawPinLocked()
}

func (s *Store) drawPinLocked() (int, error) {
	span := PinMax - PinMin + 1
	for i := 0; i < MaxPinAttempts; i++ {
		metricPinDraws.Inc()
		p := PinMin + s.intn(span)
		if _, taken := s.pins[p]; !taken {
			return p, nil
		}
		metricPinCollisions.Inc()
	}
	if len(s.pins) >= span {
		return 0, ErrPinSpaceExhausted
	}
	free := make([]int, 0, span-len(s.pins))
	for p := PinMin; p <= PinMax; p++ {
		if _, taken := s.pins[p]; !taken {
			free = append(free, p)
		}
	}
	return free[s.intn(len(free))], nil
}

func (s *Store) ListRooms() []types.RoomStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.RoomStatus, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, types.RoomStatus{
			Room:         *r,
			DialedOut:    s.dialedOut[r.SessionID],
			ConnectionID: s.connections[r.SessionID],
		})
	}
	return out
}

// Dial-out state

func (s *Store) IsDialedOut(sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dialedOut[sessionID]
}

// MarkDialedOut records the SIP connection placed into the session and flags
// the session as dialed out.
func (s *Store) MarkDialedOut(sessionID, connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialedOut[sessionID] = true
	s.connections[sessionID] = connectionID
}

func (s *Store) ConnectionID(sessionID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.connections[sessionID]
	return id, ok && id != ""
}

// ClearDialOut forgets the SIP leg so a new one can be placed. The bridge
// call uuid survives until TakeBridgeCall so the leg's call record can still
// be fetched after teardown.
func (s *Store) ClearDialOut(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dialedOut, sessionID)
	delete(s.connections, sessionID)
}

func (s *Store) SetBridgeCall(sessionID, callUUID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bridgeCalls[sessionID] = callUUID
}

func (s *Store) BridgeCall(sessionID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.bridgeCalls[sessionID]
	return id, ok
}

// TakeBridgeCall returns the recorded bridge call uuid and forgets it.
func (s *Store) TakeBridgeCall(sessionID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.bridgeCalls[sessionID]
	delete(s.bridgeCalls, sessionID)
	return id, ok
}

// LockSession serializes work on one session. The returned func releases it.
func (s *Store) LockSession(sessionID string) (unlock func()) {
	return s.lock("session:" + sessionID)
}

// LockRoom serializes first-visit session creation for one room.
func (s *Store) LockRoom(roomID string) (unlock func()) {
	return s.lock("room:" + roomID)
}

// lock entries are reference counted and dropped once nobody holds or waits
// on them.
func (s *Store) lock(key string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{}
		s.locks[key] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()
			s.locksMu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(s.locks, key)
			}
			s.locksMu.Unlock()
		})
	}
}

// Stream snapshots

func (s *Store) PutSnapshot(snap Snapshot) {
	s.snapshots.Add(snapshotKey{snap.SessionID, snap.ConnectionID}, snap)
}

func (s *Store) Snapshot(sessionID, connectionID string) (Snapshot, bool) {
	return s.snapshots.Get(snapshotKey{sessionID, connectionID})
}

// Event log

// OnEvent registers fn to be called after every appended event. Each listener
// runs on its own goroutine in append order, so a slow listener never holds up
// AppendEvent; when it falls listenerBuffer events behind, further events are
// dropped for it.
func (s *Store) OnEvent(fn func(sessionID string, evt types.Event)) {
	ch := make(chan sessionEvent, listenerBuffer)
	s.mu.Lock()
	s.listeners = append(s.listeners, ch)
	s.mu.Unlock()
	go func() {
		for e := range ch {
			fn(e.sessionID, e.evt)
		}
	}()
}

func (s *Store) AppendEvent(sessionID, typ string, payload map[string]any) types.Event {
	evt := types.Event{ID: uuid.NewString(), Type: typ, Ts: time.Now().UTC(), Payload: payload}
	s.mu.Lock()
	s.events[sessionID] = append(s.events[sessionID], evt)
	// Cap total events per session to avoid unbounded growth
	if l := len(s.events[sessionID]); l > maxEvents {
		// Keep space for a single truncation warning so the total stays at maxEvents
		keep := maxEvents - 1
		dropped := l - keep
		s.events[sessionID] = append([]types.Event(nil), s.events[sessionID][l-keep:]...)
		warn := types.Event{ID: uuid.NewString(), Type: "events_truncated", Ts: time.Now().UTC(), Payload: map[string]any{"session_id": sessionID, "dropped": dropped, "kept": keep}}
		s.events[sessionID] = append(s.events[sessionID], warn)
	}
	listeners := s.listeners
	s.mu.Unlock()

	for _, ch := range listeners {
		select {
		case ch <- sessionEvent{sessionID, evt}:
		default:
			metricListenerDropped.Inc()
		}
	}
	return evt
}

func (s *Store) ListEvents(sessionID string) []types.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.events[sessionID]
	out := make([]types.Event, len(src))
	copy(out, src)
	return out
}
