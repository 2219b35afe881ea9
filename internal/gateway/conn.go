package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/realtime-server-go/internal/config"
	"github.com/openclaw/realtime-server-go/internal/protocol"
)

var (
	ErrConnClosed     = errors.New("connection closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// Conn is one websocket connection. Reads are processed serially in arrival
// order; writes go through a buffered queue drained by a single writer.
type Conn struct {
	id       string
	ws       *websocket.Conn
	send     chan protocol.Event
	done     chan struct{}
	once     sync.Once
	remoteIP string

	mu     sync.RWMutex
	userID string
}

func newConn(ws *websocket.Conn, remoteIP string) *Conn {
	return &Conn{
		id:       uuid.NewString(),
		ws:       ws,
		send:     make(chan protocol.Event, config.WSSendBuffer),
		done:     make(chan struct{}),
		remoteIP: remoteIP,
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) RemoteIP() string { return c.remoteIP }

// Send queues event without blocking. A full queue drops the event.
func (c *Conn) Send(event protocol.Event) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- event:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrSendBufferFull
	}
}

func (c *Conn) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Conn) Bind(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
}

func (c *Conn) Close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// readLoop hands every text frame to dispatch until the peer goes away.
func (c *Conn) readLoop(ctx context.Context, dispatch func(ctx context.Context, raw []byte)) {
	c.ws.SetReadLimit(config.WSMaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(config.WSPongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(config.WSPongWait))
	})

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("sessionId", c.id).Msg("websocket read failed")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		dispatch(ctx, data)
	}
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(config.WSPingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return

		case event := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(config.WSWriteWait))
			if err := c.ws.WriteJSON(event); err != nil {
				log.Debug().Err(err).Str("sessionId", c.id).Msg("websocket write failed")
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(config.WSWriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Str("sessionId", c.id).Msg("ping failed, closing connection")
				return
			}
		}
	}
}
