package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Session errors.
var (
	ErrSessionClosed = errors.New("session closed")
	ErrBufferFull    = errors.New("session send buffer full")
)

// Close codes sent to clients.
const (
	CloseSlowConsumer = 4008
	CloseShutdown     = websocket.CloseGoingAway
)

// Session is one attached client. Send never blocks.
type Session interface {
	ID() string
	UserID() uuid.UUID
	Send(payload []byte) error
	Close(code int, reason string)
}

// ConnectionConfig holds per-connection limits.
type ConnectionConfig struct {
	SendBuffer   int
	PingInterval time.Duration
	WriteTimeout time.Duration
}

// Connection is a Session over a gorilla websocket. Outbound writes go
// through a buffered channel drained by a single write loop.
type Connection struct {
	id     string
	userID uuid.UUID
	ws     *websocket.Conn
	cfg    ConnectionConfig

	send   chan []byte
	once   sync.Once
	closed chan struct{}
}

// NewConnection wraps ws for userID.
func NewConnection(userID uuid.UUID, ws *websocket.Conn, cfg ConnectionConfig) *Connection {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 128
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Connection{
		id:     uuid.NewString(),
		userID: userID,
		ws:     ws,
		cfg:    cfg,
		send:   make(chan []byte, cfg.SendBuffer),
		closed: make(chan struct{}),
	}
}

// ID returns the session id.
func (c *Connection) ID() string { return c.id }

// UserID returns the authenticated user.
func (c *Connection) UserID() uuid.UUID { return c.userID }

// Start launches the write loop. It must be called exactly once.
func (c *Connection) Start() {
	go c.writeLoop()
}

// Send enqueues payload. A full buffer fails immediately.
func (c *Connection) Send(payload []byte) error {
	select {
	case <-c.closed:
		return ErrSessionClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.closed:
		return ErrSessionClosed
	default:
		return ErrBufferFull
	}
}

// Close sends a close frame and tears the socket down. It is safe to
// call more than once.
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.closed)
		deadline := time.Now().Add(c.cfg.WriteTimeout)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.ws.Close()
	})
}

// Done is closed when the connection is closed.
func (c *Connection) Done() <-chan struct{} { return c.closed }

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

func (c *Connection) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}
