package core

import (
	"github.com/classmesh/liveroom/internal/domain"
	"github.com/rs/zerolog/log"
)

// Grant marks the target as eligible to start a screen share and offers it
// to them directly. Eligibility alone starts nothing; the target must still
// call StartShare. Re-granting an eligibility already held is a no-op, so
// clients may retry freely.
func (r *Room) Grant(by, target ConnID) error {
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
		if tp.eligible {
			return nil
		}
		tp.eligible = true
		log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("conn", string(target)).Msg("screen share granted")
		r.sendTo(target, screenShareRequestEvent{Type: EvtScreenShareRequest, From: by, FromName: inst.identity.DisplayName})
		return nil
	})
}

// Revoke withdraws eligibility immediately and unconditionally. If the
// target currently holds the share it is ended on the spot; the registry
// state is authoritative regardless of what the target's client believes.
// Instructors stay eligible by definition, but an active share of theirs is
// still ended.
func (r *Room) Revoke(by, target ConnID) error {
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
		tp.eligible = tp.identity.Role == domain.RoleInstructor
		log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("conn", string(target)).Msg("screen share revoked")
		if r.holder == target {
			r.holder = ""
			r.broadcast("", screenShareRevokedEvent{Type: EvtScreenShareRevoked, ConnectionID: target})
			r.broadcast("", screenShareEndedEvent{Type: EvtScreenShareEnded, ConnectionID: target})
			return nil
		}
		r.sendTo(target, screenShareRevokedEvent{Type: EvtScreenShareRevoked, ConnectionID: target})
		return nil
	})
}

// StartShare succeeds only when the caller is eligible and nobody else holds
// the share. At most one holder exists per room at any point in time.
func (r *Room) StartShare(cid ConnID) error {
	return r.do(func() error {
		p, ok := r.participants[cid]
		if !ok {
			return domain.ErrNotAMember
		}
		if !p.eligible {
			return domain.ErrNotEligible
		}
		if r.holder != "" {
			return domain.ErrAlreadySharing
		}
		r.holder = cid
		log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("conn", string(cid)).Msg("screen share started")
		r.broadcast("", screenShareStartedEvent{Type: EvtScreenShareStarted, ConnectionID: cid, Identity: p.identity})
		return nil
	})
}

// StopShare lets the holder end their own share. Stopping when nothing is
// being shared is a no-op; stopping somebody else's share is moderation's
// job, via Revoke.
func (r *Room) StopShare(cid ConnID) error {
	return r.do(func() error {
		if _, ok := r.participants[cid]; !ok {
			return domain.ErrNotAMember
		}
		if r.holder == "" {
			return nil
		}
		if r.holder != cid {
			return domain.ErrForbidden
		}
		r.holder = ""
		log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("conn", string(cid)).Msg("screen share stopped")
		r.broadcast("", screenShareEndedEvent{Type: EvtScreenShareEnded, ConnectionID: cid})
		return nil
	})
}
