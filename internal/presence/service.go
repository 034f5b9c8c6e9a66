package presence

import (
	"errors"
	"log/slog"
	"time"

	"github.com/nfrund/roomrelay/internal/broadcast"
	"github.com/nfrund/roomrelay/internal/domain"
	"github.com/nfrund/roomrelay/internal/room"
	"github.com/nfrund/roomrelay/internal/websocket"
)

// Connections is the subset of the connection registry presence needs.
type Connections interface {
	IsAlive(id string) bool
	Owner(id string) (int64, bool)
}

// JoinResult describes the outcome of a join.
type JoinResult struct {
	OnlineCount   int
	ReplacedPrior bool
	PriorConnID   string
}

// LeaveResult describes the outcome of a leave.
type LeaveResult struct {
	OnlineCount int
	Removed     bool
	Empty       bool
}

// Service coordinates room membership with the user index and emits the
// presence events (user_joined, user_left, online_update) from inside each
// room's critical section, so every member sees them in the order applied.
type Service struct {
	store  *room.Store
	index  *Index
	router *broadcast.Router
	conns  Connections
	logger *slog.Logger

	suppressRejoin bool
	now            func() time.Time
}

// Option is a function that configures a Service.
type Option func(*Service)

// WithRejoinNoticeSuppressed skips user_joined when a join only replaces the
// user's previous connection in the room. online_update is still sent.
func WithRejoinNoticeSuppressed(suppress bool) Option {
	return func(s *Service) {
		s.suppressRejoin = suppress
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Now returns the current time in UTC
func Now() time.Time {
	return time.Now().UTC()
}

// NewService creates a presence coordinator.
func NewService(store *room.Store, index *Index, router *broadcast.Router, conns Connections, opts ...Option) *Service {
	s := &Service{
		store:  store,
		index:  index,
		router: router,
		conns:  conns,
		logger: slog.Default().With("service", "presence"),
		now:    Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Join installs connID as the user's single active connection in the room,
// creating the room if needed. A previous connection of the same user is
// dropped from the room's membership; its transport is left open.
func (s *Service) Join(roomID domain.RoomID, userID int64, connID string, user domain.User) (JoinResult, error) {
	var res JoinResult
	err := s.store.UpsertRoom(roomID, func(st *room.State) error {
		prior, replaced := st.Put(room.Member{
			UserID:   userID,
			ConnID:   connID,
			User:     user,
			JoinedAt: s.now(),
		})
		s.index.Add(userID, roomID)

		res.OnlineCount = st.Len()
		if replaced && prior.ConnID != connID {
			res.ReplacedPrior = true
			res.PriorConnID = prior.ConnID
		}

		if !(res.ReplacedPrior && s.suppressRejoin) {
			s.router.ToMembers(st, websocket.NewMessage(broadcast.EventUserJoined, broadcast.UserJoined{
				UserID:      userID,
				UserData:    user,
				OnlineCount: res.OnlineCount,
			}), userID)
		}
		s.router.ToMembers(st, s.onlineUpdate(st))
		return nil
	})
	if err != nil {
		return JoinResult{}, err
	}

	s.logger.Info("User joined room",
		"room_id", roomID,
		"user_id", userID,
		"connection_id", connID,
		"online_count", res.OnlineCount,
		"replaced_prior", res.ReplacedPrior)
	return res, nil
}

// Leave removes the user from the room regardless of which connection holds
// the membership. The room is deleted once empty.
func (s *Service) Leave(roomID domain.RoomID, userID int64) (LeaveResult, error) {
	return s.leave(roomID, userID, "")
}

// LeaveConnection removes the user from the room only while connID is still
// the user's active connection there. A connection that was replaced by a
// newer one leaves nothing behind.
func (s *Service) LeaveConnection(roomID domain.RoomID, userID int64, connID string) (LeaveResult, error) {
	return s.leave(roomID, userID, connID)
}

func (s *Service) leave(roomID domain.RoomID, userID int64, connID string) (LeaveResult, error) {
	var res LeaveResult
	err := s.store.Update(roomID, func(st *room.State) error {
		m, ok := st.Member(userID)
		if !ok || (connID != "" && m.ConnID != connID) {
			res.OnlineCount = st.Len()
			res.Empty = st.Len() == 0
			return nil
		}
		s.removeLocked(st, userID)
		res.Removed = true
		res.OnlineCount = st.Len()
		res.Empty = st.Len() == 0
		return nil
	})
	if err != nil {
		return LeaveResult{}, err
	}

	if res.Removed {
		s.logger.Info("User left room", "room_id", roomID, "user_id", userID, "online_count", res.OnlineCount)
	}
	if res.Empty {
		s.store.DeleteIfEmpty(roomID)
	}
	return res, nil
}

// Disconnect removes a closed connection from every room its user joined
// through it. It returns the number of rooms left.
func (s *Service) Disconnect(connID string) int {
	userID, ok := s.conns.Owner(connID)
	if !ok {
		return 0
	}

	left := 0
	for _, roomID := range s.index.Rooms(userID) {
		res, err := s.LeaveConnection(roomID, userID, connID)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				s.logger.Error("Failed to leave room on disconnect", "room_id", roomID, "user_id", userID, "error", err)
			}
			continue
		}
		if res.Removed {
			left++
		}
	}
	return left
}

// EvictDead removes every member of the room whose connection is no longer
// alive, with the same notifications as a leave, and drops expired typing
// state. An emptied room is deleted. It returns the number of members removed.
func (s *Service) EvictDead(roomID domain.RoomID) (int, error) {
	removed := 0
	empty := false
	err := s.store.Update(roomID, func(st *room.State) error {
		for _, m := range st.Members() {
			if s.conns.IsAlive(m.ConnID) {
				continue
			}
			s.removeLocked(st, m.UserID)
			removed++
			s.logger.Info("Evicted dead connection",
				"room_id", roomID,
				"user_id", m.UserID,
				"connection_id", m.ConnID)
		}
		st.PruneTyping(s.now(), broadcast.TypingTTL)
		empty = st.Len() == 0
		return nil
	})
	if err != nil {
		return 0, err
	}
	if empty {
		s.store.DeleteIfEmpty(roomID)
	}
	return removed, nil
}

// IsMember reports whether connID is the user's active connection in the room.
func (s *Service) IsMember(roomID domain.RoomID, userID int64, connID string) bool {
	member := false
	_ = s.store.Update(roomID, func(st *room.State) error {
		m, ok := st.Member(userID)
		member = ok && m.ConnID == connID
		return nil
	})
	return member
}

// OnlineUsers returns the profiles of the room's members.
func (s *Service) OnlineUsers(roomID domain.RoomID) ([]domain.User, error) {
	var users []domain.User
	err := s.store.Update(roomID, func(st *room.State) error {
		users = memberUsers(st)
		return nil
	})
	return users, err
}

// UserCount returns the number of distinct users in at least one room.
func (s *Service) UserCount() int {
	return s.index.UserCount()
}

// Rooms returns the rooms a user is currently a member of.
func (s *Service) Rooms(userID int64) []domain.RoomID {
	return s.index.Rooms(userID)
}

// removeLocked must run inside the room's critical section.
func (s *Service) removeLocked(st *room.State, userID int64) {
	st.Remove(userID)
	s.index.Remove(userID, st.ID())

	s.router.ToMembers(st, websocket.NewMessage(broadcast.EventUserLeft, broadcast.UserLeft{
		UserID:      userID,
		OnlineCount: st.Len(),
	}))
	s.router.ToMembers(st, s.onlineUpdate(st))
}

func (s *Service) onlineUpdate(st *room.State) websocket.Message {
	return websocket.NewMessage(broadcast.EventOnlineUpdate, broadcast.OnlineUpdate{
		ChatID: st.ID(),
		Users:  memberUsers(st),
		Count:  st.Len(),
		Typing: st.Typing(s.now(), broadcast.TypingTTL),
	})
}

func memberUsers(st *room.State) []domain.User {
	members := st.Members()
	users := make([]domain.User, 0, len(members))
	for _, m := range members {
		users = append(users, m.User)
	}
	return users
}
