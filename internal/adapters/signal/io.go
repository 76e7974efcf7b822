package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/classmesh/liveroom/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (ctl *ClassroomController) writePump(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(ctl.Cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// Flush whatever is already queued (a kicked client's
			// user-kicked notice lands here), then drop the socket.
			for {
				select {
				case data, ok := <-c.send:
					if !ok {
						c.Close()
						return
					}
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
						c.Close()
						return
					}
				default:
					c.Close()
					return
				}
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping error")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

// readPump drives the connection's inbound actions. Its exit, for whatever
// reason (explicit close, heartbeat timeout, network error), funnels into
// the same Leave path, so cleanup runs exactly once no matter why the
// participant disappeared.
func (ctl *ClassroomController) readPump(ctx context.Context, cl *client) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", cl.sid).Msg("readPump closing")
		if cl.connID != "" {
			ctl.Coord.Leave(cl.connID)
		}
		cl.cancel()
		cl.conn.Close()
	}()

	pongWait := ctl.Cfg.PingPeriod * 10 / 9
	cl.conn.conn.SetReadLimit(ctl.Cfg.ReadLimit)
	_ = cl.conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.conn.SetPongHandler(func(string) error {
		return cl.conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", cl.sid).Msg("readPump ctx done")
			return
		default:
			_, data, err := cl.conn.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("sid", cl.sid).Msg("readPump read error")
				return
			}
			ctl.handleAction(cl, data)
		}
	}
}

func (ctl *ClassroomController) handleAction(cl *client, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(cl.conn, "BAD_PAYLOAD", "invalid json")
		return
	}

	switch env.Type {
	case "join":
		ctl.handleJoin(cl, data)
	case "leave":
		ctl.handleLeave(cl)
	case "toggle-audio":
		ctl.handleToggleMedia(cl, domain.ChannelAudio, data)
	case "toggle-video":
		ctl.handleToggleMedia(cl, domain.ChannelVideo, data)
	case "toggle-hand-raise":
		ctl.handleToggleHandRaise(cl, data)
	case "start-screen-share":
		ctl.reply(cl, ctl.Coord.StartScreenShare(cl.connID))
	case "stop-screen-share":
		ctl.reply(cl, ctl.Coord.StopScreenShare(cl.connID))
	case "request-screen-share":
		ctl.handleGrant(cl, data)
	case "revoke-screen-share":
		ctl.handleRevoke(cl, data)
	case "kick-participant":
		ctl.handleKick(cl, data)
	case "force-mute":
		ctl.handleForceMute(cl, data)
	case "send-message":
		ctl.handleSendMessage(cl, data)
	case "ping":
		ctl.handlePing(cl.conn)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown action")
		ctl.sendError(cl.conn, "BAD_PAYLOAD", "unknown action")
	}
}

func (ctl *ClassroomController) sendJSON(c *wsConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

func (ctl *ClassroomController) sendError(c *wsConn, code, detail string) {
	ctl.sendJSON(c, struct {
		Type   string `json:"type"`
		Code   string `json:"code"`
		Detail string `json:"detail,omitempty"`
	}{"error", code, detail})
}

// reply turns an action error into a wire error frame; success is silent
// because the resulting room event is the acknowledgement.
func (ctl *ClassroomController) reply(cl *client, err error) {
	if err == nil {
		return
	}
	ctl.sendError(cl.conn, wireCode(err), err.Error())
}

func wireCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, domain.ErrNotAMember):
		return "NOT_A_MEMBER"
	case errors.Is(err, domain.ErrNotEligible):
		return "NOT_ELIGIBLE"
	case errors.Is(err, domain.ErrAlreadySharing):
		return "ALREADY_SHARING"
	case errors.Is(err, domain.ErrEmptyMessage):
		return "EMPTY_MESSAGE"
	default:
		// Validation failures (bad identity, empty room id) and raced
		// shutdowns all read as malformed input to the client.
		return "BAD_PAYLOAD"
	}
}
