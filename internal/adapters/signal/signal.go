package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/classmesh/liveroom/internal/app"
	"github.com/classmesh/liveroom/internal/config"
	"github.com/classmesh/liveroom/internal/core"
	"github.com/classmesh/liveroom/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrBackpressure = errors.New("backpressure")

// ClassroomController terminates classroom WebSocket connections and
// translates wire actions into coordinator calls.
type ClassroomController struct {
	Coord   *app.Coordinator
	Limiter *ChatRateLimiter
	Cfg     *config.Config
}

func NewClassroomController(coord *app.Coordinator, cfg *config.Config) *ClassroomController {
	return &ClassroomController{
		Coord:   coord,
		Limiter: NewChatRateLimiter(cfg.ChatRateLimit, cfg.ChatRateWindow),
		Cfg:     cfg,
	}
}

// wsConn is the bounded outbound queue behind core.SignalConnection. A full
// queue fails TrySend instead of blocking the room worker.
type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// client is per-socket adapter state. connID and identity are only touched
// from the readPump goroutine.
type client struct {
	sid      string
	conn     *wsConn
	cancel   context.CancelFunc
	connID   core.ConnID
	identity domain.Identity
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *ClassroomController) HandleClassroom(ctx context.Context, c *gin.Context) {
	sid := c.GetString("client_token")
	log.Info().Str("module", "signal").Str("sid", sid).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &wsConn{
		conn: ws,
		send: make(chan core.Frame, ctl.Cfg.SendQueue),
	}

	ctx, cancel := context.WithCancel(ctx)
	cl := &client{sid: sid, conn: conn, cancel: cancel}

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cl)
}
