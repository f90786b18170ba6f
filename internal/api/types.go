package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Envelope codes.
const (
	CodeSuccess     = 0
	CodeOK          = 200
	CodeNotLoggedIn = 40100
)

// ErrNotLoggedIn is returned when the backend reports code 40100.
var ErrNotLoggedIn = errors.New("not logged in")

// Envelope is the wrapper around every response body.
type Envelope struct {
	Code    int             `json:"code"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// OK reports whether the envelope carries a success code.
func (e Envelope) OK() bool {
	return e.Code == CodeSuccess || e.Code == CodeOK
}

// UserID is a user identifier. The backend emits it as a JSON number or, for
// ids beyond float precision, as a string.
type UserID string

// UnmarshalJSON accepts both numeric and string ids.
func (id *UserID) UnmarshalJSON(data []byte) error {
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
		*id = UserID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("user id: %w", err)
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("user id %s: not an integer", n)
	}
	*id = UserID(n.String())
	return nil
}

// LoginUser from GET /api/user/get/login
type LoginUser struct {
	ID          UserID `json:"id"`
	UserName    string `json:"userName"`
	UserAvatar  string `json:"userAvatar,omitempty"`
	UserProfile string `json:"userProfile,omitempty"`
	UserRole    string `json:"userRole"`
	CreateTime  string `json:"createTime,omitempty"`
	UpdateTime  string `json:"updateTime,omitempty"`
}

// Identity returns the identity the push channel is keyed by.
func (u *LoginUser) Identity() string {
	if u == nil {
		return ""
	}
	return string(u.ID)
}
