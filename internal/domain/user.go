package domain

import "golang.org/x/text/unicode/norm"

// User is the opaque profile a client attaches when joining a room. The relay
// never authenticates it; it is stored on the membership entry and echoed in
// presence and message events.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	IsAdmin   bool   `json:"is_admin,omitempty"`
}

// DisplayName returns the name used in mention notifications.
func (u User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.Username
	}
}

// Normalize returns a copy with text fields in Unicode NFC form and the id set.
func (u User) Normalize(id int64) User {
	u.ID = id
	u.Username = norm.NFC.String(u.Username)
	u.FirstName = norm.NFC.String(u.FirstName)
	u.LastName = norm.NFC.String(u.LastName)
	return u
}
