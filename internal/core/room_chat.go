package core

import (
	"strings"
	"time"

	"github.com/classmesh/liveroom/internal/domain"
	"github.com/google/uuid"
)

// SendChat appends a chat message and fans it out to every participant,
// including the sender. The sender must not locally echo before this
// confirmation: the room worker is the single ordering authority, so the
// order everyone observes is the order messages were accepted here.
func (r *Room) SendChat(cid ConnID, body string) error {
	return r.do(func() error {
		p, ok := r.participants[cid]
		if !ok {
			return domain.ErrNotAMember
		}
		body = strings.TrimSpace(body)
		if body == "" || len(body) > domain.MaxChatBodyLen {
			return domain.ErrEmptyMessage
		}
		r.broadcast("", chatMessageEvent{Type: EvtChatMessage, Message: domain.ChatMessage{
			ID:           uuid.NewString(),
			SenderConnID: string(cid),
			SenderName:   p.identity.DisplayName,
			SenderRole:   p.identity.Role,
			Body:         body,
			SentAt:       time.Now(),
			Kind:         domain.KindMessage,
		}})
		return nil
	})
}

// systemMessage injects a coordinator-synthesized chat entry through the
// same append-and-broadcast path as user messages, so presence notices
// interleave correctly with the single room total order. Worker-only.
func (r *Room) systemMessage(except ConnID, subject *participant, body string) {
	r.broadcast(except, chatMessageEvent{Type: EvtChatMessage, Message: domain.ChatMessage{
		ID:         uuid.NewString(),
		SenderName: subject.identity.DisplayName,
		SenderRole: subject.identity.Role,
		Body:       body,
		SentAt:     time.Now(),
		Kind:       domain.KindSystem,
	}})
}
