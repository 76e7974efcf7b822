package core

import (
	"context"
	"errors"
	"sort"

	"github.com/classmesh/liveroom/internal/domain"
	"github.com/rs/zerolog/log"
)

// ErrRoomClosed reports an operation against a room whose worker has already
// stopped. Callers holding a stale room pointer retry against a fresh one.
var ErrRoomClosed = errors.New("room closed")

type command struct {
	fn    func() error
	reply chan error
}

// Room owns all mutable state for one classroom session. Every operation is
// a command processed by a single worker goroutine, so all mutation and
// broadcast for one action is atomic with respect to other actions in the
// same room. Different rooms run fully in parallel.
type Room struct {
	id     domain.RoomID
	ctx    context.Context
	cancel context.CancelFunc
	cmds   chan command

	policy  Policy
	onLeft  func(ConnID)
	onEmpty func(*Room)

	// Everything below is owned by the worker goroutine.
	participants map[ConnID]*participant
	holder       ConnID
	drops        map[ConnID]int
	joinSeq      uint64
	closed       bool
}

// participant is per-connection state, created at join and destroyed at
// leave. Only the owning room worker ever touches it.
type participant struct {
	conn       SignalConnection
	identity   domain.Identity
	media      domain.MediaState
	handRaised bool
	eligible   bool
	seq        uint64
}

// NewRoom starts the room worker. onLeft fires for every removal, whatever
// the cause; onEmpty fires once, right after the last participant is gone.
func NewRoom(parent context.Context, id domain.RoomID, policy Policy, onLeft func(ConnID), onEmpty func(*Room)) *Room {
	ctx, cancel := context.WithCancel(parent)
	r := &Room{
		id:           id,
		ctx:          ctx,
		cancel:       cancel,
		cmds:         make(chan command),
		policy:       policy,
		onLeft:       onLeft,
		onEmpty:      onEmpty,
		participants: make(map[ConnID]*participant),
		drops:        make(map[ConnID]int),
	}
	go r.run()
	return r
}

func (r *Room) ID() domain.RoomID { return r.id }

func (r *Room) run() {
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Msg("room worker started")
	for {
		select {
		case <-r.ctx.Done():
			log.Info().Str("module", "core.room").Str("room", string(r.id)).Msg("room worker stopped")
			return
		case cmd := <-r.cmds:
			cmd.reply <- cmd.fn()
			if r.closed {
				r.cancel()
				log.Info().Str("module", "core.room").Str("room", string(r.id)).Msg("room destroyed")
				return
			}
		}
	}
}

func (r *Room) do(fn func() error) error {
	reply := make(chan error, 1)
	select {
	case r.cmds <- command{fn: fn, reply: reply}:
	case <-r.ctx.Done():
		return ErrRoomClosed
	}
	select {
	case err := <-reply:
		return err
	case <-r.ctx.Done():
		return ErrRoomClosed
	}
}

// Info is a point-in-time snapshot for the introspection API.
func (r *Room) Info() (RoomInfo, error) {
	var info RoomInfo
	err := r.do(func() error {
		info = RoomInfo{
			ID:                r.id,
			MemberCount:       len(r.participants),
			ScreenShareActive: r.holder != "",
		}
		return nil
	})
	return info, err
}

func (r *Room) view(cid ConnID, p *participant) ParticipantView {
	return ParticipantView{
		ConnectionID:        cid,
		Identity:            p.identity,
		MediaState:          p.media,
		HandRaised:          p.handRaised,
		ScreenShareEligible: p.eligible,
	}
}

// roster returns participants in join order.
func (r *Room) roster() []ParticipantView {
	out := make([]ParticipantView, 0, len(r.participants))
	for cid, p := range r.participants {
		out = append(out, r.view(cid, p))
	}
	sort.Slice(out, func(i, j int) bool {
		return r.participants[out[i].ConnectionID].seq < r.participants[out[j].ConnectionID].seq
	})
	return out
}

// sendTo delivers one frame to one participant through its bounded queue.
func (r *Room) sendTo(cid ConnID, v any) {
	p, ok := r.participants[cid]
	if !ok {
		return
	}
	f, ok := marshalEvent(v)
	if !ok {
		return
	}
	r.push(cid, p, f)
}

// broadcast marshals once and fans out to every participant except the given
// one; pass an empty ConnID to reach the whole room. Slow consumers never
// block the worker: a full queue counts as a drop and the policy decides
// whether the connection gets evicted.
func (r *Room) broadcast(except ConnID, v any) {
	f, ok := marshalEvent(v)
	if !ok {
		return
	}
	var doomed []ConnID
	for cid, p := range r.participants {
		if cid == except {
			continue
		}
		if r.push(cid, p, f) == KickMember {
			doomed = append(doomed, cid)
		}
	}
	for _, cid := range doomed {
		log.Warn().Str("module", "core.room").Str("room", string(r.id)).Str("conn", string(cid)).Msg("evicting slow consumer")
		r.removeParticipant(cid, causeLeft)
	}
}

func (r *Room) push(cid ConnID, p *participant, f Frame) BackpressureAction {
	if err := p.conn.TrySend(f); err != nil {
		r.drops[cid]++
		log.Debug().Str("module", "core.room").Str("room", string(r.id)).Str("conn", string(cid)).Int("drops", r.drops[cid]).Msg("frame dropped")
		if r.policy == nil {
			return DropFrame
		}
		return r.policy.OnBackPressure(r.id, cid, r.drops[cid])
	}
	if r.drops[cid] != 0 {
		delete(r.drops, cid)
	}
	return NoAction
}
