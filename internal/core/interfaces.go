package core

import "github.com/classmesh/liveroom/internal/domain"

// Frame is a marshaled outbound event payload.
type Frame []byte

// ConnID is unique per active connection, assigned at join time and never
// reused. A user with two open tabs is two ConnIDs.
type ConnID string

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

// Policy decides what a room does with a connection whose outbound queue is
// full. Whatever it answers, the room never blocks on a slow consumer.
type Policy interface {
	OnBackPressure(room domain.RoomID, conn ConnID, consecutiveDrops int) BackpressureAction
}

type RoomInfo struct {
	ID                domain.RoomID `json:"id"`
	MemberCount       int           `json:"member_count"`
	ScreenShareActive bool          `json:"screen_share_active"`
}
