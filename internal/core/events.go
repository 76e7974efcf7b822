package core

import (
	"encoding/json"

	"github.com/classmesh/liveroom/internal/domain"
	"github.com/rs/zerolog/log"
)

// Outbound event types. These are the wire contract with the classroom
// client; clients switch on the "type" field of each frame.
const (
	EvtRoomState          = "room-state"
	EvtUserJoined         = "user-joined"
	EvtUserLeft           = "user-left"
	EvtUserKicked         = "user-kicked"
	EvtParticipantUpdate  = "participant-update"
	EvtScreenShareRequest = "screen-share-request"
	EvtScreenShareRevoked = "screen-share-revoked"
	EvtScreenShareStarted = "screen-share-started"
	EvtScreenShareEnded   = "screen-share-ended"
	EvtChatMessage        = "chat-message"
	EvtForcedMute         = "forced-mute"
)

// ParticipantView is a read-only snapshot of one participant (no transport
// fields).
type ParticipantView struct {
	ConnectionID        ConnID            `json:"connectionId"`
	Identity            domain.Identity   `json:"identity"`
	MediaState          domain.MediaState `json:"mediaState"`
	HandRaised          bool              `json:"handRaised"`
	ScreenShareEligible bool              `json:"screenShareEligible"`
}

type roomStateEvent struct {
	Type              string            `json:"type"`
	Room              domain.RoomID     `json:"room"`
	ConnectionID      ConnID            `json:"connectionId"`
	Participants      []ParticipantView `json:"participants"`
	ScreenShareHolder ConnID            `json:"screenShareHolder,omitempty"`
}

type userJoinedEvent struct {
	Type        string          `json:"type"`
	Participant ParticipantView `json:"participant"`
}

type userLeftEvent struct {
	Type         string `json:"type"`
	ConnectionID ConnID `json:"connectionId"`
}

type userKickedEvent struct {
	Type string `json:"type"`
	By   string `json:"by"`
}

type participantUpdateEvent struct {
	Type        string          `json:"type"`
	Participant ParticipantView `json:"participant"`
}

type screenShareRequestEvent struct {
	Type     string `json:"type"`
	From     ConnID `json:"from"`
	FromName string `json:"fromName"`
}

type screenShareRevokedEvent struct {
	Type         string `json:"type"`
	ConnectionID ConnID `json:"connectionId"`
}

type screenShareStartedEvent struct {
	Type         string          `json:"type"`
	ConnectionID ConnID          `json:"connectionId"`
	Identity     domain.Identity `json:"identity"`
}

type screenShareEndedEvent struct {
	Type         string `json:"type"`
	ConnectionID ConnID `json:"connectionId"`
}

type chatMessageEvent struct {
	Type    string             `json:"type"`
	Message domain.ChatMessage `json:"message"`
}

type forcedMuteEvent struct {
	Type    string              `json:"type"`
	Channel domain.MediaChannel `json:"channel"`
	By      string              `json:"by"`
}

func marshalEvent(v any) (Frame, bool) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "core.events").Msg("marshal event")
		return nil, false
	}
	return b, true
}
