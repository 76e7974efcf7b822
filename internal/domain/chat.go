package domain

import "time"

const MaxChatBodyLen = 2000

type MessageKind string

const (
	KindMessage MessageKind = "message"
	KindSystem  MessageKind = "system"
)

// ChatMessage is append-only within a room's lifetime and gone with the room.
type ChatMessage struct {
	ID           string      `json:"id"`
	SenderConnID string      `json:"senderConnectionId"`
	SenderName   string      `json:"senderName"`
	SenderRole   Role        `json:"senderRole"`
	Body         string      `json:"body"`
	SentAt       time.Time   `json:"sentAt"`
	Kind         MessageKind `json:"kind"`
}
