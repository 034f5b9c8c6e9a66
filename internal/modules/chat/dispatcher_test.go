package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/nfrund/roomrelay/internal/broadcast"
	"github.com/nfrund/roomrelay/internal/connection"
	"github.com/nfrund/roomrelay/internal/domain"
	"github.com/nfrund/roomrelay/internal/persistence"
	"github.com/nfrund/roomrelay/internal/presence"
	"github.com/nfrund/roomrelay/internal/pubsub"
	"github.com/nfrund/roomrelay/internal/room"
	"github.com/nfrund/roomrelay/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockTransport records every frame pushed to it.
type mockTransport struct {
	frames []websocket.Frame
	mu     sync.Mutex
}

func (m *mockTransport) Send(payload []byte) error {
	f, err := websocket.DecodeFrame(payload)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, f)
	return nil
}

func (m *mockTransport) Close() error {
	return nil
}

func (m *mockTransport) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.frames))
	for _, f := range m.frames {
		out = append(out, f.Type)
	}
	return out
}

func (m *mockTransport) ofType(typ string) []websocket.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []websocket.Frame
	for _, f := range m.frames {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

func (m *mockTransport) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = nil
}

// mockPublisher captures published bus messages.
type mockPublisher struct {
	mu   sync.Mutex
	msgs []pubsub.Message
}

func (m *mockPublisher) Publish(ctx context.Context, msg pubsub.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msg)
	return nil
}

func (m *mockPublisher) Close() error { return nil }

func (m *mockPublisher) published() []pubsub.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]pubsub.Message(nil), m.msgs...)
}

type harness struct {
	conns      *connection.Registry
	store      *room.Store
	presence   *presence.Service
	dispatcher *Dispatcher
	publisher  *mockPublisher
}

func newHarness() *harness {
	conns := connection.NewRegistry()
	store := room.NewStore()
	router := broadcast.NewRouter(conns, store)
	pres := presence.NewService(store, presence.NewIndex(), router, conns)
	pub := &mockPublisher{}
	return &harness{
		conns:    conns,
		store:    store,
		presence: pres,
		dispatcher: NewDispatcher(DispatcherDeps{
			Presence:    pres,
			Store:       store,
			Router:      router,
			Connections: conns,
			Publisher:   pub,
		}),
		publisher: pub,
	}
}

func (h *harness) connect() (string, *mockTransport) {
	tr := &mockTransport{}
	return h.conns.Register(tr), tr
}

func (h *harness) send(connID, typ string, payload any) {
	data, err := json.Marshal(map[string]any{"type": typ, "payload": payload})
	if err != nil {
		panic(err)
	}
	h.dispatcher.Dispatch(context.Background(), connID, data)
}

func (h *harness) join(t *testing.T, chatID any, userID int64) (string, *mockTransport) {
	t.Helper()
	connID, tr := h.connect()
	h.send(connID, EventJoinChat, map[string]any{
		"chatId":   chatID,
		"userId":   userID,
		"userData": map[string]any{"first_name": fmt.Sprintf("user%d", userID)},
	})
	require.Empty(t, tr.ofType(broadcast.EventError))
	return connID, tr
}

func errorMessage(t *testing.T, tr *mockTransport) string {
	t.Helper()
	frames := tr.ofType(broadcast.EventError)
	require.NotEmpty(t, frames, "expected an error frame")
	var payload broadcast.Error
	require.NoError(t, json.Unmarshal(frames[len(frames)-1].Payload, &payload))
	return payload.Message
}

func TestDispatcher_Events(t *testing.T) {
	h := newHarness()
	events := h.dispatcher.Events()
	sort.Strings(events)
	assert.Equal(t, []string{
		EventJoinChat, EventLeaveChat, EventPing, EventReadMessage, EventSendMessage, EventTyping,
	}, events)
}

func TestDispatcher_JoinSendMentionAndDrop(t *testing.T) {
	h := newHarness()

	_, a := h.join(t, 1, 1)
	online, err := h.presence.OnlineUsers("1")
	require.NoError(t, err)
	assert.Len(t, online, 1)

	connB, b := h.join(t, 1, 2)

	joined := a.ofType(broadcast.EventUserJoined)
	require.Len(t, joined, 1)
	var j broadcast.UserJoined
	require.NoError(t, json.Unmarshal(joined[0].Payload, &j))
	assert.Equal(t, int64(2), j.UserID)
	assert.Equal(t, 2, j.OnlineCount)

	a.reset()
	b.reset()
	h.send(connB, EventSendMessage, map[string]any{
		"chatId":   1,
		"userId":   2,
		"content":  "hi",
		"mentions": []map[string]any{{"user_id": 1}},
	})

	assert.Equal(t, []string{broadcast.EventNewMessage, broadcast.EventMention}, a.types())
	assert.Equal(t, []string{broadcast.EventNewMessage}, b.types(), "sender gets no mention of their own message")

	var msg domain.Message
	require.NoError(t, json.Unmarshal(a.ofType(broadcast.EventNewMessage)[0].Payload, &msg))
	require.NotNil(t, msg.Content)
	assert.Equal(t, "hi", *msg.Content)
	assert.Equal(t, domain.MessageText, msg.Type)
	assert.Equal(t, "user2", msg.User.FirstName)
	assert.True(t, msg.Pending)

	var mention broadcast.Mention
	require.NoError(t, json.Unmarshal(a.ofType(broadcast.EventMention)[0].Payload, &mention))
	assert.Equal(t, msg.ID, mention.MessageID)
	assert.Equal(t, int64(2), mention.From.UserID)
	assert.Equal(t, "user2", mention.From.Name)

	// B drops without leaving; the transport reports dead and the sweep
	// evicts the membership.
	h.conns.MarkDead(connB)
	a.reset()
	n, err := h.presence.EvictDead("1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	left := a.ofType(broadcast.EventUserLeft)
	require.Len(t, left, 1)
	var l broadcast.UserLeft
	require.NoError(t, json.Unmarshal(left[0].Payload, &l))
	assert.Equal(t, int64(2), l.UserID)
	assert.Equal(t, 1, l.OnlineCount)
}

func TestDispatcher_SendRequiresContentOrMedia(t *testing.T) {
	h := newHarness()
	_, a := h.join(t, "1", 1)
	connB, b := h.join(t, "1", 2)
	a.reset()

	for _, payload := range []map[string]any{
		{"chatId": "1", "userId": 2, "content": ""},
		{"chatId": "1", "userId": 2},
		{"chatId": "1", "userId": 2, "content": nil, "media_url": ""},
	} {
		b.reset()
		h.send(connB, EventSendMessage, payload)
		assert.Contains(t, errorMessage(t, b), "content or media_url is required")
	}

	assert.Empty(t, a.ofType(broadcast.EventNewMessage))
	assert.Empty(t, a.ofType(broadcast.EventError), "errors go to the sender only")
	msgs, err := h.store.Recent("1", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Empty(t, h.publisher.published())
}

func TestDispatcher_MissingRequiredFields(t *testing.T) {
	h := newHarness()
	connID, tr := h.connect()

	h.send(connID, EventJoinChat, map[string]any{"userId": 1})
	assert.Contains(t, errorMessage(t, tr), "chatId")

	tr.reset()
	h.send(connID, EventJoinChat, nil)
	assert.Contains(t, errorMessage(t, tr), "missing payload")

	assert.Equal(t, 0, h.store.Len())
}

func TestDispatcher_MalformedFrames(t *testing.T) {
	h := newHarness()
	connID, tr := h.connect()

	h.dispatcher.Dispatch(context.Background(), connID, []byte("not json"))
	assert.Contains(t, errorMessage(t, tr), domain.ErrMalformed.Error())

	tr.reset()
	h.send(connID, "shout", map[string]any{})
	assert.Contains(t, errorMessage(t, tr), `unknown event type "shout"`)
}

func TestDispatcher_NonMemberIsRejected(t *testing.T) {
	h := newHarness()
	_, a := h.join(t, 1, 1)
	outsider, tr := h.connect()
	a.reset()

	h.send(outsider, EventSendMessage, map[string]any{"chatId": 1, "userId": 1, "content": "spoof"})
	assert.Contains(t, errorMessage(t, tr), domain.ErrNotMember.Error())

	tr.reset()
	h.send(outsider, EventTyping, map[string]any{"chatId": 99, "userId": 5, "isTyping": true})
	assert.Contains(t, errorMessage(t, tr), domain.ErrNotMember.Error())

	assert.Empty(t, a.types())
}

func TestDispatcher_ConnectionBindsOneUser(t *testing.T) {
	h := newHarness()
	connID, tr := h.join(t, 1, 1)

	h.send(connID, EventJoinChat, map[string]any{"chatId": 2, "userId": 7})
	assert.Contains(t, errorMessage(t, tr), domain.ErrUserMismatch.Error())
	assert.Empty(t, h.presence.Rooms(7))

	tr.reset()
	h.send(connID, EventJoinChat, map[string]any{"chatId": 2, "userId": 1})
	assert.Empty(t, tr.ofType(broadcast.EventError))
	assert.ElementsMatch(t, []domain.RoomID{"1", "2"}, h.presence.Rooms(1))
}

func TestDispatcher_MessageIDsIncrease(t *testing.T) {
	h := newHarness()
	connID, _ := h.join(t, 1, 1)

	for i := 0; i < 50; i++ {
		h.send(connID, EventSendMessage, map[string]any{"chatId": 1, "userId": 1, "content": fmt.Sprint(i)})
	}

	msgs, err := h.store.Recent("1", 100)
	require.NoError(t, err)
	require.Len(t, msgs, 50)
	for i := 1; i < len(msgs); i++ {
		assert.Greater(t, msgs[i].ID, msgs[i-1].ID)
	}
}

func TestDispatcher_MessageTypes(t *testing.T) {
	h := newHarness()
	connID, tr := h.join(t, 1, 1)

	h.send(connID, EventSendMessage, map[string]any{"chatId": 1, "userId": 1, "media_url": "https://cdn.example/a.bin"})
	h.send(connID, EventSendMessage, map[string]any{"chatId": 1, "userId": 1, "media_url": "https://cdn.example/a.jpg", "type": "photo"})
	assert.Empty(t, tr.ofType(broadcast.EventError))

	h.send(connID, EventSendMessage, map[string]any{"chatId": 1, "userId": 1, "content": "x", "type": "sticker"})
	assert.Contains(t, errorMessage(t, tr), `unknown message type "sticker"`)

	msgs, err := h.store.Recent("1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.MessageFile, msgs[0].Type)
	assert.Nil(t, msgs[0].Content)
	assert.Equal(t, domain.MessagePhoto, msgs[1].Type)
}

func TestDispatcher_ContentIsNormalized(t *testing.T) {
	h := newHarness()
	connID, _ := h.join(t, 1, 1)

	h.send(connID, EventSendMessage, map[string]any{"chatId": 1, "userId": 1, "content": "Rene\u0301"})

	msgs, err := h.store.Recent("1", 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Ren\u00e9", *msgs[0].Content)
}

func TestDispatcher_PublishesAcceptedMessages(t *testing.T) {
	h := newHarness()
	connID, _ := h.join(t, 1, 1)

	h.send(connID, EventSendMessage, map[string]any{"chatId": 1, "userId": 1, "content": "persist me"})

	published := h.publisher.published()
	require.Len(t, published, 1)
	assert.Equal(t, persistence.MessageCreated.Topic(), published[0].Topic)
	assert.Equal(t, "1", published[0].Metadata["room_id"])

	var msg domain.Message
	require.NoError(t, json.Unmarshal(published[0].Payload, &msg))
	assert.Equal(t, "persist me", *msg.Content)
}

func TestDispatcher_TypingAndRead(t *testing.T) {
	h := newHarness()
	_, a := h.join(t, 1, 1)
	connB, b := h.join(t, 1, 2)
	a.reset()
	b.reset()

	h.send(connB, EventTyping, map[string]any{"chatId": 1, "userId": 2, "isTyping": true})
	require.Len(t, a.ofType(broadcast.EventUserTyping), 1)
	assert.Empty(t, b.ofType(broadcast.EventUserTyping))

	var typing broadcast.UserTyping
	require.NoError(t, json.Unmarshal(a.ofType(broadcast.EventUserTyping)[0].Payload, &typing))
	assert.Equal(t, int64(2), typing.UserID)
	assert.True(t, typing.IsTyping)

	err := h.store.Update("1", func(st *room.State) error {
		assert.Equal(t, []int64{2}, st.Typing(time.Now().UTC(), broadcast.TypingTTL))
		return nil
	})
	require.NoError(t, err)

	h.send(connB, EventReadMessage, map[string]any{"chatId": 1, "userId": 2, "messageId": 42})
	reads := a.ofType(broadcast.EventMessageRead)
	require.Len(t, reads, 1)
	var read broadcast.MessageRead
	require.NoError(t, json.Unmarshal(reads[0].Payload, &read))
	assert.Equal(t, int64(42), read.MessageID)
	assert.Empty(t, b.ofType(broadcast.EventMessageRead))
}

func TestDispatcher_LeaveChat(t *testing.T) {
	h := newHarness()
	_, a := h.join(t, 1, 1)
	connB, b := h.join(t, 1, 2)
	a.reset()

	h.send(connB, EventLeaveChat, map[string]any{"chatId": 1, "userId": 2})
	require.Len(t, a.ofType(broadcast.EventUserLeft), 1)
	assert.Empty(t, b.ofType(broadcast.EventError))
	assert.True(t, h.conns.IsAlive(connB), "leaving does not close the connection")

	h.send(connB, EventLeaveChat, map[string]any{"chatId": 1, "userId": 2})
	assert.Contains(t, errorMessage(t, b), domain.ErrNotMember.Error())
}

func TestDispatcher_Ping(t *testing.T) {
	h := newHarness()
	connID, tr := h.connect()

	h.send(connID, EventPing, nil)

	frames := tr.ofType(broadcast.EventPong)
	require.Len(t, frames, 1)
	var pong broadcast.Pong
	require.NoError(t, json.Unmarshal(frames[0].Payload, &pong))
	assert.False(t, pong.Timestamp.IsZero())
}

func TestDispatcher_DisconnectLeavesRooms(t *testing.T) {
	h := newHarness()
	_, a := h.join(t, 1, 1)
	connB, _ := h.join(t, 1, 2)
	h.send(connB, EventJoinChat, map[string]any{"chatId": 2, "userId": 2})
	a.reset()

	h.dispatcher.Disconnect(connB)

	require.Len(t, a.ofType(broadcast.EventUserLeft), 1)
	assert.Empty(t, h.presence.Rooms(2))
	_, ok := h.store.Get("2")
	assert.False(t, ok, "emptied room is deleted")
	assert.Equal(t, 1, h.store.Len())
}
