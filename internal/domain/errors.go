package domain

import "errors"

// Sentinel errors for the relay core. Callers wrap them with context and
// test with errors.Is.
var (
	ErrNotFound     = errors.New("requested resource not found")
	ErrMalformed    = errors.New("malformed request")
	ErrNotMember    = errors.New("user is not a member of this chat")
	ErrRoomNotEmpty = errors.New("room still has members")
	ErrUserMismatch = errors.New("connection is bound to a different user")
)
