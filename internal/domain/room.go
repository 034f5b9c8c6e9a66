package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// RoomID identifies a chat room. Clients may send it as a JSON number or a
// JSON string; both decode to the same id.
type RoomID string

// UnmarshalJSON accepts both `42` and `"42"`.
func (id *RoomID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = RoomID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("chat id must be a number or string: %w", err)
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("chat id must be an integer: %w", err)
	}
	*id = RoomID(n.String())
	return nil
}

func (id RoomID) String() string {
	return string(id)
}
