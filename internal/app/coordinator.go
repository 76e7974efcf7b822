package app

import (
	"context"
	"errors"
	"sync"

	"github.com/classmesh/liveroom/internal/core"
	"github.com/classmesh/liveroom/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var ErrRoomIDEmpty = errors.New("room id empty")

type connEntry struct {
	roomID domain.RoomID
	room   *core.Room
	cancel context.CancelFunc
}

// Coordinator maps room IDs to room workers and connection IDs to their
// room. It is the only entry point into room state; it never holds its own
// lock while waiting on a room worker.
type Coordinator struct {
	ctx    context.Context
	policy core.Policy

	mu    sync.RWMutex
	rooms map[domain.RoomID]*core.Room
	conns map[core.ConnID]*connEntry
}

func NewCoordinator(ctx context.Context, policy core.Policy) *Coordinator {
	return &Coordinator{
		ctx:    ctx,
		policy: policy,
		rooms:  make(map[domain.RoomID]*core.Room),
		conns:  make(map[core.ConnID]*connEntry),
	}
}

// Join never fails for a valid identity: rooms are created lazily on first
// join and a fresh ConnID is always allocated, so the same user joining from
// two tabs is simply two participants. cancel, when non-nil, is fired on
// forced removals (kick, slow-consumer eviction) so the transport can tear
// the socket down; a voluntary leave keeps the connection alive.
func (c *Coordinator) Join(roomID domain.RoomID, identity domain.Identity, media domain.MediaState, conn core.SignalConnection, cancel context.CancelFunc) (core.ConnID, error) {
	if roomID == "" {
		return "", ErrRoomIDEmpty
	}
	if err := identity.Validate(); err != nil {
		return "", err
	}
	for {
		room := c.getOrCreateRoom(roomID)
		cid := core.ConnID(uuid.NewString())

		// Index before the room observes the connection, so the
		// onLeft callback always finds the entry.
		c.mu.Lock()
		c.conns[cid] = &connEntry{roomID: roomID, room: room, cancel: cancel}
		c.mu.Unlock()

		err := room.Join(cid, identity, media, conn)
		if errors.Is(err, core.ErrRoomClosed) {
			// Lost the race against the room destroying itself;
			// retry against a fresh worker.
			c.mu.Lock()
			delete(c.conns, cid)
			if c.rooms[roomID] == room {
				delete(c.rooms, roomID)
			}
			c.mu.Unlock()
			continue
		}
		if err != nil {
			c.mu.Lock()
			delete(c.conns, cid)
			c.mu.Unlock()
			return "", err
		}
		log.Info().Str("module", "app.coordinator").Str("room", string(roomID)).Str("conn", string(cid)).Msg("joined")
		return cid, nil
	}
}

// Leave is idempotent; leaving a connection that never joined is a no-op.
// The entry is unindexed first so the room's onLeft callback does not fire
// the transport cancel for a departure the connection asked for itself.
func (c *Coordinator) Leave(cid core.ConnID) {
	c.mu.Lock()
	e := c.conns[cid]
	delete(c.conns, cid)
	c.mu.Unlock()
	if e == nil {
		return
	}
	_ = e.room.Leave(cid)
}

func (c *Coordinator) getOrCreateRoom(roomID domain.RoomID) *core.Room {
	c.mu.RLock()
	room, ok := c.rooms[roomID]
	c.mu.RUnlock()
	if ok {
		return room
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if room, ok = c.rooms[roomID]; ok {
		return room
	}
	room = core.NewRoom(c.ctx, roomID, c.policy, c.handleLeft, c.handleEmpty)
	c.rooms[roomID] = room
	log.Info().Str("module", "app.coordinator").Str("room", string(roomID)).Msg("room created")
	return room
}

// handleLeft runs inline on a room worker for every removal. For forced
// removals the index entry is still present and its transport cancel fires.
func (c *Coordinator) handleLeft(cid core.ConnID) {
	c.mu.Lock()
	e := c.conns[cid]
	delete(c.conns, cid)
	c.mu.Unlock()
	if e != nil && e.cancel != nil {
		e.cancel()
	}
}

// handleEmpty runs inline on a room worker after its last participant left.
func (c *Coordinator) handleEmpty(room *core.Room) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rooms[room.ID()] == room {
		delete(c.rooms, room.ID())
		log.Info().Str("module", "app.coordinator").Str("room", string(room.ID())).Msg("room removed")
	}
}

// roomOf resolves an action's connection to its live room.
func (c *Coordinator) roomOf(cid core.ConnID) (*core.Room, error) {
	c.mu.RLock()
	e := c.conns[cid]
	c.mu.RUnlock()
	if e == nil {
		return nil, domain.ErrNotAMember
	}
	return e.room, nil
}

// translate maps a raced room shutdown to the caller-facing taxonomy.
func translate(err error) error {
	if errors.Is(err, core.ErrRoomClosed) {
		return domain.ErrNotAMember
	}
	return err
}

func (c *Coordinator) ToggleMedia(cid, target core.ConnID, ch domain.MediaChannel) error {
	room, err := c.roomOf(cid)
	if err != nil {
		return err
	}
	return translate(room.ToggleMedia(cid, target, ch))
}

func (c *Coordinator) ToggleHandRaise(cid, target core.ConnID) error {
	room, err := c.roomOf(cid)
	if err != nil {
		return err
	}
	return translate(room.ToggleHandRaise(cid, target))
}

// GrantScreenShare and the other moderation entry points resolve the room
// from the acting connection; a target in any other room is unknown to that
// room and fails the same-room authorization rule with ErrForbidden.
func (c *Coordinator) GrantScreenShare(cid, target core.ConnID) error {
	room, err := c.roomOf(cid)
	if err != nil {
		return err
	}
	return translate(room.Grant(cid, target))
}

func (c *Coordinator) RevokeScreenShare(cid, target core.ConnID) error {
	room, err := c.roomOf(cid)
	if err != nil {
		return err
	}
	return translate(room.Revoke(cid, target))
}

func (c *Coordinator) StartScreenShare(cid core.ConnID) error {
	room, err := c.roomOf(cid)
	if err != nil {
		return err
	}
	return translate(room.StartShare(cid))
}

func (c *Coordinator) StopScreenShare(cid core.ConnID) error {
	room, err := c.roomOf(cid)
	if err != nil {
		return err
	}
	return translate(room.StopShare(cid))
}

func (c *Coordinator) ForceMute(cid, target core.ConnID, ch domain.MediaChannel) error {
	room, err := c.roomOf(cid)
	if err != nil {
		return err
	}
	return translate(room.ForceMute(cid, target, ch))
}

func (c *Coordinator) Kick(cid, target core.ConnID) error {
	room, err := c.roomOf(cid)
	if err != nil {
		return err
	}
	return translate(room.Kick(cid, target))
}

func (c *Coordinator) SendChat(cid core.ConnID, body string) error {
	room, err := c.roomOf(cid)
	if err != nil {
		return err
	}
	return translate(room.SendChat(cid, body))
}

// Rooms lists live rooms for the introspection endpoint.
func (c *Coordinator) Rooms() []core.RoomInfo {
	c.mu.RLock()
	rooms := make([]*core.Room, 0, len(c.rooms))
	for _, r := range c.rooms {
		rooms = append(rooms, r)
	}
	c.mu.RUnlock()

	out := make([]core.RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		info, err := r.Info()
		if err != nil {
			continue
		}
		out = append(out, info)
	}
	return out
}
