package core

import (
	"github.com/classmesh/liveroom/internal/domain"
	"github.com/rs/zerolog/log"
)

// ForceMute turns the target's client-reported flag off. The target gets a
// directed forced-mute so its client disables local capture; the room gets a
// participant-update so everyone's view agrees. The registry only relays the
// intent; it cannot verify the capture actually stopped.
func (r *Room) ForceMute(by, target ConnID, ch domain.MediaChannel) error {
	return r.do(func() error {
		inst, ok := r.participants[by]
		if !ok {
			return domain.ErrNotAMember
		}
		if inst.identity.Role != domain.RoleInstructor {
			return domain.ErrForbidden
		}
		tp, ok := r.participants[target]
		if !ok {
			return domain.ErrForbidden
		}
		switch ch {
		case domain.ChannelAudio:
			tp.media.AudioEnabled = false
		case domain.ChannelVideo:
			tp.media.VideoEnabled = false
		}
		log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("conn", string(target)).Str("channel", string(ch)).Msg("forced mute")
		r.sendTo(target, forcedMuteEvent{Type: EvtForcedMute, Channel: ch, By: inst.identity.DisplayName})
		r.broadcast("", participantUpdateEvent{Type: EvtParticipantUpdate, Participant: r.view(target, tp)})
		return nil
	})
}

// Kick removes the target as if they had left, except the target receives a
// distinguished user-kicked notice first. There is no ban-list: the same
// identity may rejoin immediately and appears as a new connection.
func (r *Room) Kick(by, target ConnID) error {
	return r.do(func() error {
		inst, ok := r.participants[by]
		if !ok {
			return domain.ErrNotAMember
		}
		if inst.identity.Role != domain.RoleInstructor {
			return domain.ErrForbidden
		}
		tp, ok := r.participants[target]
		if !ok {
			return domain.ErrForbidden
		}
		log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("conn", string(target)).Str("by", string(by)).Msg("participant kicked")
		f, ok := marshalEvent(userKickedEvent{Type: EvtUserKicked, By: inst.identity.DisplayName})
		if ok {
			r.push(target, tp, f)
		}
		r.removeParticipant(target, causeKicked)
		return nil
	})
}
