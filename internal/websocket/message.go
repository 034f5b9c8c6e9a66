package websocket

import (
	"encoding/json"
	"fmt"
)

// Message is the envelope of every frame sent to a client.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// NewMessage creates a new message with the given type and payload.
func NewMessage(msgType string, payload any) Message {
	return Message{Type: msgType, Payload: payload}
}

// Encode marshals the message into a text frame.
func (m Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", m.Type, err)
	}
	return data, nil
}

// Frame is an inbound frame whose payload is decoded by the handler that
// owns its type.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeFrame parses a raw text frame into its envelope.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("decode frame: missing type")
	}
	return f, nil
}
