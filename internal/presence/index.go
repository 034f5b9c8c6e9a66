package presence

import (
	"slices"
	"sync"

	"github.com/nfrund/roomrelay/internal/domain"
)

// Index maps each user to the rooms they are a member of, so a disconnect can
// be cleaned up without scanning every room.
type Index struct {
	mu    sync.RWMutex
	rooms map[int64]map[domain.RoomID]struct{}
}

// NewIndex creates an empty Index.
func NewIndex() *Index {
	return &Index{rooms: make(map[int64]map[domain.RoomID]struct{})}
}

// Add records that userID is a member of roomID.
func (x *Index) Add(userID int64, roomID domain.RoomID) {
	x.mu.Lock()
	defer x.mu.Unlock()

	set, ok := x.rooms[userID]
	if !ok {
		set = make(map[domain.RoomID]struct{})
		x.rooms[userID] = set
	}
	set[roomID] = struct{}{}
}

// Remove forgets the membership of userID in roomID.
func (x *Index) Remove(userID int64, roomID domain.RoomID) {
	x.mu.Lock()
	defer x.mu.Unlock()

	set, ok := x.rooms[userID]
	if !ok {
		return
	}
	delete(set, roomID)
	if len(set) == 0 {
		delete(x.rooms, userID)
	}
}

// Rooms returns the rooms userID is a member of, sorted.
func (x *Index) Rooms(userID int64) []domain.RoomID {
	x.mu.RLock()
	defer x.mu.RUnlock()

	set := x.rooms[userID]
	out := make([]domain.RoomID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Contains reports whether userID is indexed as a member of roomID.
func (x *Index) Contains(userID int64, roomID domain.RoomID) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()

	_, ok := x.rooms[userID][roomID]
	return ok
}

// UserCount returns the number of distinct users with at least one room.
func (x *Index) UserCount() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.rooms)
}
