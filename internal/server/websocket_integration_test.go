package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/nfrund/roomrelay/internal/broadcast"
	"github.com/nfrund/roomrelay/internal/config"
	"github.com/nfrund/roomrelay/internal/domain"
	"github.com/nfrund/roomrelay/internal/middleware"
	"github.com/nfrund/roomrelay/internal/modules/chat"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func dial(t *testing.T, baseURL string, header http.Header) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err, "Failed to connect to websocket")
	t.Cleanup(func() { conn.Close() })
	return conn
}

func emit(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"type": typ, "payload": payload}))
}

// readUntil reads frames until one of the given type arrives and returns the
// frames seen, the match last.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) []frame {
	t.Helper()
	var seen []frame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var f frame
		require.NoError(t, conn.ReadJSON(&f), "waiting for %s, saw %v", typ, seen)
		seen = append(seen, f)
		if f.Type == typ {
			return seen
		}
	}
}

func joinChat(t *testing.T, conn *websocket.Conn, chatID any, userID int64, name string) {
	t.Helper()
	emit(t, conn, chat.EventJoinChat, map[string]any{
		"chatId":   chatID,
		"userId":   userID,
		"userData": map[string]any{"first_name": name},
	})
	readUntil(t, conn, broadcast.EventOnlineUpdate)
}

func TestWebSocket_ChatScenario(t *testing.T) {
	_, ts := newTestServer(t, testConfig(), Dependencies{})

	a := dial(t, ts.URL, nil)
	joinChat(t, a, 1, 1, "Ann")

	b := dial(t, ts.URL, nil)
	joinChat(t, b, 1, 2, "Bob")

	frames := readUntil(t, a, broadcast.EventUserJoined)
	var joined broadcast.UserJoined
	require.NoError(t, json.Unmarshal(frames[len(frames)-1].Payload, &joined))
	assert.Equal(t, int64(2), joined.UserID)
	assert.Equal(t, 2, joined.OnlineCount)
	assert.Equal(t, "Bob", joined.UserData.FirstName)

	code, body := getBody(t, ts.URL+"/api/status")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"rooms":1,"users":2,"connections":2}`, body)

	emit(t, b, chat.EventSendMessage, map[string]any{
		"chatId":   1,
		"userId":   2,
		"content":  "hi",
		"mentions": []map[string]any{{"user_id": 1}},
	})

	frames = readUntil(t, a, broadcast.EventNewMessage)
	var msg domain.Message
	require.NoError(t, json.Unmarshal(frames[len(frames)-1].Payload, &msg))
	assert.Equal(t, "hi", *msg.Content)
	assert.Equal(t, "Bob", msg.User.FirstName)

	frames = readUntil(t, a, broadcast.EventMention)
	require.Len(t, frames, 1, "mention follows new_message directly")

	// B sees its own message but no mention; a ping proves nothing else is queued.
	readUntil(t, b, broadcast.EventNewMessage)
	emit(t, b, chat.EventPing, nil)
	frames = readUntil(t, b, broadcast.EventPong)
	require.Len(t, frames, 1)

	// Empty content is rejected for the sender only.
	emit(t, b, chat.EventSendMessage, map[string]any{"chatId": 1, "userId": 2, "content": ""})
	frames = readUntil(t, b, broadcast.EventError)
	require.Len(t, frames, 1)

	code, body = getBody(t, ts.URL+"/api/chat/messages?chat_id=1")
	require.Equal(t, http.StatusOK, code)
	var history chat.MessagesResponse
	require.NoError(t, json.Unmarshal([]byte(body), &history))
	assert.Len(t, history.Messages, 1)

	// B drops without a clean leave.
	require.NoError(t, b.UnderlyingConn().Close())

	frames = readUntil(t, a, broadcast.EventUserLeft)
	var left broadcast.UserLeft
	require.NoError(t, json.Unmarshal(frames[len(frames)-1].Payload, &left))
	assert.Equal(t, int64(2), left.UserID)
	assert.Equal(t, 1, left.OnlineCount)
	assert.Empty(t, filterType(frames, broadcast.EventNewMessage), "no message was broadcast for the rejected send")

	require.Eventually(t, func() bool {
		_, body := getBody(t, ts.URL+"/api/status")
		return body != "" && strings.Contains(body, `"users":1`) && strings.Contains(body, `"connections":1`)
	}, 3*time.Second, 20*time.Millisecond)
}

func filterType(frames []frame, typ string) []frame {
	var out []frame
	for _, f := range frames {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

func TestWebSocket_PersistedMessagesAreConfirmed(t *testing.T) {
	cfg := testConfig()
	cfg.MessageSink = config.SinkFile
	cfg.SinkDir = "/messages"

	fs := afero.NewMemMapFs()
	sink, closeSink, err := NewSink(t.Context(), cfg, fs)
	require.NoError(t, err)
	_, ts := newTestServer(t, cfg, Dependencies{Sink: sink, OnShutdown: []func() error{closeSink}})

	a := dial(t, ts.URL, nil)
	joinChat(t, a, "lobby", 1, "Ann")
	emit(t, a, chat.EventSendMessage, map[string]any{"chatId": "lobby", "userId": 1, "content": "keep me"})

	frames := readUntil(t, a, broadcast.EventNewMessage)
	var msg domain.Message
	require.NoError(t, json.Unmarshal(frames[len(frames)-1].Payload, &msg))
	assert.True(t, msg.Pending, "broadcast does not wait for storage")

	require.Eventually(t, func() bool {
		_, body := getBody(t, ts.URL+"/api/chat/messages?chat_id=lobby")
		var res chat.MessagesResponse
		if json.Unmarshal([]byte(body), &res) != nil || len(res.Messages) != 1 {
			return false
		}
		return !res.Messages[0].Pending
	}, 3*time.Second, 20*time.Millisecond)

	// Once the room empties, history comes from the sink.
	emit(t, a, chat.EventLeaveChat, map[string]any{"chatId": "lobby", "userId": 1})
	require.Eventually(t, func() bool {
		_, body := getBody(t, ts.URL+"/api/status")
		return strings.Contains(body, `"rooms":0`)
	}, 3*time.Second, 20*time.Millisecond)

	_, body := getBody(t, ts.URL+"/api/chat/messages?chat_id=lobby")
	var res chat.MessagesResponse
	require.NoError(t, json.Unmarshal([]byte(body), &res))
	require.Len(t, res.Messages, 1)
	assert.Equal(t, msg.ID, res.Messages[0].ID)
}

func TestWebSocket_IdentityFromToken(t *testing.T) {
	cfg := testConfig()
	cfg.JWTSecret = "integration-secret"
	_, ts := newTestServer(t, cfg, Dependencies{})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	_, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	token, err := middleware.SignUserToken(cfg.JWTSecret, 5, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	require.NoError(t, err)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn := dial(t, ts.URL, header)

	emit(t, conn, chat.EventJoinChat, map[string]any{"chatId": 1, "userId": 6})
	frames := readUntil(t, conn, broadcast.EventError)
	var e broadcast.Error
	require.NoError(t, json.Unmarshal(frames[len(frames)-1].Payload, &e))
	assert.Contains(t, e.Message, domain.ErrUserMismatch.Error())

	joinChat(t, conn, 1, 5, "Eve")
}

func TestWebSocket_HTTPSendReachesMembers(t *testing.T) {
	_, ts := newTestServer(t, testConfig(), Dependencies{})

	a := dial(t, ts.URL, nil)
	joinChat(t, a, 3, 1, "Ann")

	res, err := http.Post(ts.URL+"/api/chat/send", "application/json",
		strings.NewReader(`{"chatId":3,"userId":1,"content":"posted"}`))
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	frames := readUntil(t, a, broadcast.EventNewMessage)
	var msg domain.Message
	require.NoError(t, json.Unmarshal(frames[len(frames)-1].Payload, &msg))
	assert.Equal(t, "posted", *msg.Content)

	res, err = http.Post(ts.URL+"/api/chat/send", "application/json",
		strings.NewReader(`{"chatId":3,"userId":2,"content":"outsider"}`))
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
}
