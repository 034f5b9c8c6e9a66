package room

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nfrund/roomrelay/internal/domain"
)

// DefaultCapacity is the message buffer high-water mark of a room.
const DefaultCapacity = 1000

// Store owns every active room. The store lock only guards the room index;
// room contents are guarded by each room's own lock.
type Store struct {
	mu       sync.RWMutex
	rooms    map[domain.RoomID]*Room
	capacity int
	logger   *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithCapacity sets the per-room message buffer capacity. Values below 2 are
// ignored.
func WithCapacity(n int) Option {
	return func(s *Store) {
		if n >= 2 {
			s.capacity = n
		}
	}
}

// NewStore creates an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		rooms:    make(map[domain.RoomID]*Room),
		capacity: DefaultCapacity,
		logger:   slog.Default().With("component", "rooms"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreate returns the room with the given id, creating an empty one on
// first access.
func (s *Store) GetOrCreate(id domain.RoomID) *Room {
	s.mu.RLock()
	r, ok := s.rooms[id]
	s.mu.RUnlock()
	if ok {
		return r
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[id]; ok {
		return r
	}
	r = newRoom(id, s.capacity)
	s.rooms[id] = r
	s.logger.Debug("Room created", "room_id", id)
	return r
}

// Get returns an existing room.
func (s *Store) Get(id domain.RoomID) (*Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	return r, ok
}

// Update runs fn against an existing room. It fails with domain.ErrNotFound
// when the room does not exist.
func (s *Store) Update(id domain.RoomID, fn func(*State) error) error {
	r, ok := s.Get(id)
	if !ok {
		return fmt.Errorf("room %s: %w", id, domain.ErrNotFound)
	}
	err := r.Update(fn)
	if errors.Is(err, errRoomGone) {
		return fmt.Errorf("room %s: %w", id, domain.ErrNotFound)
	}
	return err
}

// UpsertRoom runs fn against the room, creating it if needed. A room deleted
// between lookup and lock is recreated.
func (s *Store) UpsertRoom(id domain.RoomID, fn func(*State) error) error {
	for {
		err := s.GetOrCreate(id).Update(fn)
		if !errors.Is(err, errRoomGone) {
			return err
		}
	}
}

// Delete removes a room. The room must have no members; otherwise
// domain.ErrRoomNotEmpty is returned and nothing changes.
func (s *Store) Delete(id domain.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[id]
	if !ok {
		return fmt.Errorf("room %s: %w", id, domain.ErrNotFound)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.members) > 0 {
		return fmt.Errorf("room %s: %w", id, domain.ErrRoomNotEmpty)
	}
	r.deleted = true
	delete(s.rooms, id)
	s.logger.Debug("Room deleted", "room_id", id)
	return nil
}

// DeleteIfEmpty deletes the room when it exists and has no members.
func (s *Store) DeleteIfEmpty(id domain.RoomID) bool {
	return s.Delete(id) == nil
}

// AppendMessage appends a message to an existing room's buffer.
func (s *Store) AppendMessage(id domain.RoomID, msg domain.Message) error {
	return s.Update(id, func(st *State) error {
		st.Append(msg)
		return nil
	})
}

// Confirm clears the pending flag of a buffered message. Rooms or messages
// that are gone are ignored.
func (s *Store) Confirm(id domain.RoomID, messageID int64) bool {
	confirmed := false
	_ = s.Update(id, func(st *State) error {
		confirmed = st.Confirm(messageID)
		return nil
	})
	return confirmed
}

// Recent returns up to n of the newest messages of a room.
func (s *Store) Recent(id domain.RoomID, n int) ([]domain.Message, error) {
	var msgs []domain.Message
	err := s.Update(id, func(st *State) error {
		msgs = st.Recent(n)
		return nil
	})
	return msgs, err
}

// IDs returns the ids of all active rooms.
func (s *Store) IDs() []domain.RoomID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]domain.RoomID, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of active rooms.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}
