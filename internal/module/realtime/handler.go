package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	apperrors "github.com/taskhub/server/internal/shared/errors"
	"github.com/taskhub/server/internal/shared/middleware"
	"github.com/taskhub/server/internal/shared/response"
)

// HandlerConfig holds transport settings.
type HandlerConfig struct {
	Connection     ConnectionConfig
	MaxMessageSize int64
	ReadTimeout    time.Duration
	JoinTimeout    time.Duration
	AllowedOrigins []string
}

// Handler upgrades authenticated requests to realtime sessions.
type Handler struct {
	hub      *Hub
	cfg      HandlerConfig
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler creates a websocket handler.
func NewHandler(hub *Hub, cfg HandlerConfig, logger *zap.Logger) *Handler {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 4096
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = 5 * time.Second
	}
	h := &Handler{hub: hub, cfg: cfg, logger: logger}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// RegisterRoutes registers the websocket route.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/ws", h.Serve)
}

const (
	frameAck   = "ack"
	frameError = "error"
	framePong  = "pong"
)

type inboundFrame struct {
	Action string `json:"action"`
	Room   string `json:"room,omitempty"`
}

type ackFrame struct {
	Type      string `json:"type"`
	Action    string `json:"action,omitempty"`
	Room      string `json:"room,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Room    string `json:"room,omitempty"`
}

// Serve handles GET /ws and processes frames until the client disconnects.
//
//	@Summary		Open realtime socket
//	@Description	Upgrades to a WebSocket. Clients send join and leave frames for project rooms
//	@Tags			Realtime
//	@Security		BearerAuth
//	@Failure		401	{object}	response.ErrorResponse
//	@Router			/ws [get]
func (h *Handler) Serve(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		response.HandleError(c, h.logger, apperrors.ErrUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the response.
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := NewConnection(userID, ws, h.cfg.Connection)
	h.hub.Attach(conn)
	conn.Start()
	defer func() {
		h.hub.Detach(conn.ID())
		conn.Close(websocket.CloseNormalClosure, "session closed")
	}()

	ws.SetReadLimit(h.cfg.MaxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	h.send(conn, ackFrame{Type: frameAck, Action: "connected", Room: UserRoom(userID), SessionID: conn.ID()})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				h.logger.Debug("websocket read ended", zap.String("session_id", conn.ID()), zap.Error(err))
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.replyError(conn, "", apperrors.Invalid("invalid frame"))
			continue
		}

		switch frame.Action {
		case "join":
			h.handleJoin(c.Request.Context(), conn, frame.Room)
		case "leave":
			h.hub.Leave(conn.ID(), frame.Room)
			h.send(conn, ackFrame{Type: frameAck, Action: "leave", Room: frame.Room})
		case "ping":
			h.send(conn, ackFrame{Type: framePong})
		default:
			h.replyError(conn, frame.Room, apperrors.Invalid("unknown action"))
		}
	}
}

func (h *Handler) handleJoin(ctx context.Context, conn *Connection, room string) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.JoinTimeout)
	defer cancel()

	if err := h.hub.Join(ctx, conn.ID(), room); err != nil {
		h.replyError(conn, room, err)
		return
	}
	h.send(conn, ackFrame{Type: frameAck, Action: "join", Room: room})
}

func (h *Handler) replyError(conn *Connection, room string, err error) {
	frame := errorFrame{Type: frameError, Code: apperrors.ErrInternal.Code, Message: apperrors.ErrInternal.Message, Room: room}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.StatusCode != http.StatusInternalServerError {
		frame.Code = appErr.Code
		frame.Message = appErr.Message
	} else {
		h.logger.Error("realtime request failed", zap.String("session_id", conn.ID()), zap.Error(err))
	}
	h.send(conn, frame)
}

func (h *Handler) send(conn *Connection, frame any) {
	if payload, err := json.Marshal(frame); err == nil {
		_ = conn.Send(payload)
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(h.cfg.AllowedOrigins, "*") || slices.Contains(h.cfg.AllowedOrigins, origin)
}
