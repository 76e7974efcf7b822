// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const (
	MaxUserIDLen      = 64
	MaxDisplayNameLen = 64
)

var (
	ErrUserIDEmpty        = errors.New("user id empty")
	ErrUserIDTooLong      = errors.New("user id too long")
	ErrDisplayNameEmpty   = errors.New("display name empty")
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrUnknownRole        = errors.New("unknown role")
)

type Role string

const (
	RoleInstructor Role = "instructor"
	RoleStudent    Role = "student"
)

// Identity is supplied once at join by the already-authenticated session
// and stays immutable for the connection's lifetime.
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
}

func (id Identity) Validate() error {
	if id.UserID == "" {
		return ErrUserIDEmpty
	}
	if len(id.UserID) > MaxUserIDLen {
		return ErrUserIDTooLong
	}
	if id.DisplayName == "" {
		return ErrDisplayNameEmpty
	}
	if len(id.DisplayName) > MaxDisplayNameLen {
		return ErrDisplayNameTooLong
	}
	if id.Role != RoleInstructor && id.Role != RoleStudent {
		return ErrUnknownRole
	}
	return nil
}

// MediaState is client-reported intent. The coordinator relays it but never
// inspects actual media streams; that trust boundary is deliberate.
type MediaState struct {
	AudioEnabled bool `json:"audioEnabled"`
	VideoEnabled bool `json:"videoEnabled"`
}

type MediaChannel string

const (
	ChannelAudio MediaChannel = "audio"
	ChannelVideo MediaChannel = "video"
)

func (ch MediaChannel) Valid() bool {
	return ch == ChannelAudio || ch == ChannelVideo
}
