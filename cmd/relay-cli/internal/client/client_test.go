package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nfrund/roomrelay/internal/domain"
	"github.com/nfrund/roomrelay/internal/modules/chat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Status(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/status", r.URL.Path)
		_ = json.NewEncoder(w).Encode(chat.StatusResponse{Rooms: 2, Users: 3, Connections: 4})
	}))
	defer ts.Close()

	status, err := New(ts.URL+"/", time.Second).Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, chat.StatusResponse{Rooms: 2, Users: 3, Connections: 4}, status)
}

func TestClient_Messages(t *testing.T) {
	content := "hello"
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/messages", r.URL.Path)
		assert.Equal(t, "lobby", r.URL.Query().Get("chat_id"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode(chat.MessagesResponse{
			ChatID:   "lobby",
			Messages: []domain.Message{{ID: 1, ChatID: "lobby", Content: &content, Type: domain.MessageText}},
		})
	}))
	defer ts.Close()

	res, err := New(ts.URL, time.Second).Messages(context.Background(), "lobby", 10)
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, "hello", *res.Messages[0].Content)
}

func TestClient_DefaultLimitIsOmitted(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.False(t, r.URL.Query().Has("limit"))
		_, _ = w.Write([]byte(`{"chat_id":"1","messages":[]}`))
	}))
	defer ts.Close()

	res, err := New(ts.URL, time.Second).Messages(context.Background(), "1", 0)
	require.NoError(t, err)
	assert.Empty(t, res.Messages)
}

func TestClient_ErrorMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"chat_id is required"}`))
	}))
	defer ts.Close()

	_, err := New(ts.URL, time.Second).Messages(context.Background(), "", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400 Bad Request")
	assert.Contains(t, err.Error(), "chat_id is required")
}

func TestClient_PlainErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := New(ts.URL, time.Second).Status(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502 Bad Gateway")
}
