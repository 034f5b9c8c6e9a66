package room

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/nfrund/roomrelay/internal/domain"
)

// errRoomGone is returned by Room.Update once the room has been deleted from
// its store. Store.UpsertRoom retries on it.
var errRoomGone = errors.New("room deleted")

// Member is a single membership entry: the user's one active connection in
// the room and the profile supplied at join.
type Member struct {
	UserID   int64
	ConnID   string
	User     domain.User
	JoinedAt time.Time
}

// Room holds membership, the bounded message buffer and typing state of one
// chat. All access goes through Update, which serializes it.
type Room struct {
	id       domain.RoomID
	capacity int

	mu       sync.Mutex
	members  map[int64]Member
	messages []domain.Message
	typing   map[int64]time.Time
	deleted  bool
}

func newRoom(id domain.RoomID, capacity int) *Room {
	return &Room{
		id:       id,
		capacity: capacity,
		members:  make(map[int64]Member),
		typing:   make(map[int64]time.Time),
	}
}

// ID returns the room id.
func (r *Room) ID() domain.RoomID {
	return r.id
}

// Update runs fn with exclusive access to the room. Everything fn observes
// and emits forms one step in the room's single order of events.
func (r *Room) Update(fn func(*State) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deleted {
		return errRoomGone
	}
	return fn(&State{r: r})
}

// State is the view of a room handed to Update callbacks. It must not be
// retained after the callback returns.
type State struct {
	r *Room
}

// ID returns the room id.
func (s *State) ID() domain.RoomID {
	return s.r.id
}

// Len returns the number of members, which is the room's online count.
func (s *State) Len() int {
	return len(s.r.members)
}

// Member returns the membership entry for a user.
func (s *State) Member(userID int64) (Member, bool) {
	m, ok := s.r.members[userID]
	return m, ok
}

// ConnectionFor returns the id of the user's active connection in the room.
func (s *State) ConnectionFor(userID int64) (string, bool) {
	m, ok := s.r.members[userID]
	return m.ConnID, ok
}

// Each calls fn for every member in ascending user id order.
func (s *State) Each(fn func(userID int64, connID string)) {
	for _, m := range s.Members() {
		fn(m.UserID, m.ConnID)
	}
}

// Members returns the membership sorted by user id.
func (s *State) Members() []Member {
	out := make([]Member, 0, len(s.r.members))
	for _, m := range s.r.members {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b Member) int {
		switch {
		case a.UserID < b.UserID:
			return -1
		case a.UserID > b.UserID:
			return 1
		}
		return 0
	})
	return out
}

// Put installs m as the user's membership entry, replacing any previous one.
// It returns the replaced entry, if there was one.
func (s *State) Put(m Member) (Member, bool) {
	prior, ok := s.r.members[m.UserID]
	s.r.members[m.UserID] = m
	return prior, ok
}

// Remove deletes the user's membership entry and typing state.
func (s *State) Remove(userID int64) (Member, bool) {
	m, ok := s.r.members[userID]
	if ok {
		delete(s.r.members, userID)
	}
	delete(s.r.typing, userID)
	return m, ok
}

// Append adds a message to the buffer. When the buffer grows past its
// capacity it is cut down to the most recent capacity/2 messages in order.
func (s *State) Append(msg domain.Message) {
	r := s.r
	r.messages = append(r.messages, msg)
	if len(r.messages) <= r.capacity {
		return
	}
	keep := r.capacity / 2
	trimmed := make([]domain.Message, keep, r.capacity+1)
	copy(trimmed, r.messages[len(r.messages)-keep:])
	r.messages = trimmed
}

// MessageCount returns the number of buffered messages.
func (s *State) MessageCount() int {
	return len(s.r.messages)
}

// Recent returns up to n of the newest buffered messages, oldest first.
// A non-positive n returns the whole buffer.
func (s *State) Recent(n int) []domain.Message {
	msgs := s.r.messages
	if n > 0 && n < len(msgs) {
		msgs = msgs[len(msgs)-n:]
	}
	return slices.Clone(msgs)
}

// Confirm clears the pending flag of a buffered message. It reports false
// when the message is no longer buffered.
func (s *State) Confirm(messageID int64) bool {
	msgs := s.r.messages
	i, found := slices.BinarySearchFunc(msgs, messageID, func(m domain.Message, id int64) int {
		switch {
		case m.ID < id:
			return -1
		case m.ID > id:
			return 1
		}
		return 0
	})
	if !found {
		return false
	}
	confirmed := msgs[i]
	confirmed.Pending = false
	msgs[i] = confirmed
	return true
}

// SetTyping records or clears a user's typing state.
func (s *State) SetTyping(userID int64, isTyping bool, at time.Time) {
	if isTyping {
		s.r.typing[userID] = at
		return
	}
	delete(s.r.typing, userID)
}

// Typing returns the users whose typing state is newer than ttl, sorted.
func (s *State) Typing(now time.Time, ttl time.Duration) []int64 {
	var users []int64
	for id, at := range s.r.typing {
		if now.Sub(at) < ttl {
			users = append(users, id)
		}
	}
	slices.Sort(users)
	return users
}

// PruneTyping drops typing entries older than ttl and returns how many were
// removed.
func (s *State) PruneTyping(now time.Time, ttl time.Duration) int {
	n := 0
	for id, at := range s.r.typing {
		if now.Sub(at) >= ttl {
			delete(s.r.typing, id)
			n++
		}
	}
	return n
}
