package signal

import (
	"encoding/json"

	"github.com/classmesh/liveroom/internal/core"
	"github.com/classmesh/liveroom/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *ClassroomController) handleJoin(cl *client, data []byte) {
	type joinPayload struct {
		Type       string            `json:"type"`
		Room       string            `json:"room"`
		Identity   domain.Identity   `json:"identity"`
		MediaState domain.MediaState `json:"mediaState"`
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendError(cl.conn, "BAD_PAYLOAD", "bad join payload")
		return
	}

	// A second join on the same socket moves the connection: leave the
	// old room first, then come in fresh.
	if cl.connID != "" {
		ctl.Coord.Leave(cl.connID)
		cl.connID = ""
	}

	cid, err := ctl.Coord.Join(domain.RoomID(p.Room), p.Identity, p.MediaState, cl.conn, cl.cancel)
	if err != nil {
		ctl.reply(cl, err)
		return
	}
	cl.connID = cid
	cl.identity = p.Identity
	log.Info().Str("module", "signal").Str("sid", cl.sid).Str("room", p.Room).Str("conn", string(cid)).Msg("join")
}

// handleLeave exits the current room; the socket itself stays open so the
// client can join another room.
func (ctl *ClassroomController) handleLeave(cl *client) {
	if cl.connID == "" {
		return
	}
	log.Info().Str("module", "signal").Str("sid", cl.sid).Str("conn", string(cl.connID)).Msg("leave")
	ctl.Coord.Leave(cl.connID)
	cl.connID = ""
	ctl.sendJSON(cl.conn, struct {
		Type string `json:"type"`
	}{"left"})
}

// targetPayload covers every action that optionally or mandatorily names
// another participant.
type targetPayload struct {
	Type   string `json:"type"`
	Target string `json:"target"`
}

func (ctl *ClassroomController) target(cl *client, data []byte) (core.ConnID, bool) {
	var p targetPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad target payload")
		ctl.sendError(cl.conn, "BAD_PAYLOAD", "bad payload")
		return "", false
	}
	if p.Target == "" {
		return cl.connID, true
	}
	return core.ConnID(p.Target), true
}

func (ctl *ClassroomController) handleToggleMedia(cl *client, ch domain.MediaChannel, data []byte) {
	target, ok := ctl.target(cl, data)
	if !ok {
		return
	}
	ctl.reply(cl, ctl.Coord.ToggleMedia(cl.connID, target, ch))
}

func (ctl *ClassroomController) handleToggleHandRaise(cl *client, data []byte) {
	target, ok := ctl.target(cl, data)
	if !ok {
		return
	}
	ctl.reply(cl, ctl.Coord.ToggleHandRaise(cl.connID, target))
}

func (ctl *ClassroomController) handleGrant(cl *client, data []byte) {
	target, ok := ctl.target(cl, data)
	if !ok {
		return
	}
	ctl.reply(cl, ctl.Coord.GrantScreenShare(cl.connID, target))
}

func (ctl *ClassroomController) handleRevoke(cl *client, data []byte) {
	target, ok := ctl.target(cl, data)
	if !ok {
		return
	}
	ctl.reply(cl, ctl.Coord.RevokeScreenShare(cl.connID, target))
}

func (ctl *ClassroomController) handleKick(cl *client, data []byte) {
	target, ok := ctl.target(cl, data)
	if !ok {
		return
	}
	ctl.reply(cl, ctl.Coord.Kick(cl.connID, target))
}

func (ctl *ClassroomController) handleForceMute(cl *client, data []byte) {
	type forceMutePayload struct {
		Type    string              `json:"type"`
		Target  string              `json:"target"`
		Channel domain.MediaChannel `json:"channel"`
	}
	var p forceMutePayload
	if err := json.Unmarshal(data, &p); err != nil || !p.Channel.Valid() {
		log.Error().Err(err).Str("module", "signal").Msg("bad force-mute payload")
		ctl.sendError(cl.conn, "BAD_PAYLOAD", "bad force-mute payload")
		return
	}
	ctl.reply(cl, ctl.Coord.ForceMute(cl.connID, core.ConnID(p.Target), p.Channel))
}

func (ctl *ClassroomController) handleSendMessage(cl *client, data []byte) {
	type messagePayload struct {
		Type string `json:"type"`
		Body string `json:"body"`
	}
	var p messagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad message payload")
		ctl.sendError(cl.conn, "BAD_PAYLOAD", "bad message payload")
		return
	}
	if !ctl.Limiter.Allow(cl.identity.UserID) {
		ctl.sendError(cl.conn, "RATE_LIMITED", "too many messages")
		return
	}
	ctl.reply(cl, ctl.Coord.SendChat(cl.connID, p.Body))
}

func (ctl *ClassroomController) handlePing(c *wsConn) {
	ctl.sendJSON(c, struct {
		Type string `json:"type"`
	}{"pong"})
}
