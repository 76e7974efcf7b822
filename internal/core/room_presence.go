package core

import (
	"github.com/classmesh/liveroom/internal/domain"
	"github.com/rs/zerolog/log"
)

// leaveCause distinguishes the system chat notice; the departure broadcast
// itself is the same user-left event either way.
type leaveCause int

const (
	causeLeft leaveCause = iota
	causeKicked
)

// Join inserts a fresh participant. The caller allocates the ConnID so it
// can index the connection before the room ever observes it. By the time any
// other participant sees the newcomer they are fully active: the roster
// insert, the user-joined broadcast and the system chat notice happen in one
// command. The joiner instead receives the full room-state, so it never
// needs a replay of earlier join events.
func (r *Room) Join(cid ConnID, identity domain.Identity, media domain.MediaState, conn SignalConnection) error {
	return r.do(func() error {
		p := &participant{
			conn:     conn,
			identity: identity,
			media:    media,
			eligible: identity.Role == domain.RoleInstructor,
			seq:      r.joinSeq,
		}
		r.joinSeq++
		r.participants[cid] = p
		log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("conn", string(cid)).Str("user", identity.UserID).Str("role", string(identity.Role)).Msg("participant joined")

		r.broadcast(cid, userJoinedEvent{Type: EvtUserJoined, Participant: r.view(cid, p)})
		r.systemMessage(cid, p, identity.DisplayName+" joined the class")
		r.sendTo(cid, roomStateEvent{
			Type:              EvtRoomState,
			Room:              r.id,
			ConnectionID:      cid,
			Participants:      r.roster(),
			ScreenShareHolder: r.holder,
		})
		return nil
	})
}

// Leave is idempotent: leaving twice, or leaving a connection that never
// joined this room, is a no-op.
func (r *Room) Leave(cid ConnID) error {
	return r.do(func() error {
		r.removeParticipant(cid, causeLeft)
		return nil
	})
}

func (r *Room) removeParticipant(cid ConnID, cause leaveCause) {
	p, ok := r.participants[cid]
	if !ok {
		return
	}
	if r.holder == cid {
		r.holder = ""
		r.broadcast(cid, screenShareEndedEvent{Type: EvtScreenShareEnded, ConnectionID: cid})
	}
	delete(r.participants, cid)
	delete(r.drops, cid)
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("conn", string(cid)).Msg("participant removed")

	r.broadcast("", userLeftEvent{Type: EvtUserLeft, ConnectionID: cid})
	switch cause {
	case causeKicked:
		r.systemMessage("", p, p.identity.DisplayName+" was removed from the class")
	default:
		r.systemMessage("", p, p.identity.DisplayName+" left the class")
	}

	if r.onLeft != nil {
		r.onLeft(cid)
	}
	if len(r.participants) == 0 {
		r.closed = true
		if r.onEmpty != nil {
			r.onEmpty(r)
		}
	}
}

// ToggleMedia flips the caller's own client-reported flag. The only
// sanctioned way to affect somebody else's media state is moderation.
func (r *Room) ToggleMedia(by, target ConnID, ch domain.MediaChannel) error {
	return r.do(func() error {
		if target != by {
			return domain.ErrForbidden
		}
		p, ok := r.participants[by]
		if !ok {
			return domain.ErrNotAMember
		}
		switch ch {
		case domain.ChannelAudio:
			p.media.AudioEnabled = !p.media.AudioEnabled
		case domain.ChannelVideo:
			p.media.VideoEnabled = !p.media.VideoEnabled
		}
		r.broadcast("", participantUpdateEvent{Type: EvtParticipantUpdate, Participant: r.view(by, p)})
		return nil
	})
}

// ToggleHandRaise flips the caller's own hand-raise flag.
func (r *Room) ToggleHandRaise(by, target ConnID) error {
	return r.do(func() error {
		if target != by {
			return domain.ErrForbidden
		}
		p, ok := r.participants[by]
		if !ok {
			return domain.ErrNotAMember
		}
		p.handRaised = !p.handRaised
		r.broadcast("", participantUpdateEvent{Type: EvtParticipantUpdate, Participant: r.view(by, p)})
		return nil
	})
}
