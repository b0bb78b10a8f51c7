package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taskhub/server/internal/infra/events"
	"github.com/taskhub/server/internal/shared/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type frame struct {
	Type      string          `json:"type"`
	Action    string          `json:"action"`
	Room      string          `json:"room"`
	Code      string          `json:"code"`
	SessionID string          `json:"session_id"`
	EntityID  string          `json:"entity_id"`
	Seq       uint64          `json:"seq"`
	Payload   json.RawMessage `json:"payload"`
}

func newWSServer(t *testing.T, f *hubFixture, userID uuid.UUID) *httptest.Server {
	t.Helper()
	r := gin.New()
	group := r.Group("", func(c *gin.Context) {
		if userID != uuid.Nil {
			c.Set(middleware.UserIDKey, userID)
		}
		c.Next()
	})
	NewHandler(f.hub, HandlerConfig{}, zap.NewNop()).RegisterRoutes(group)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, ws.ReadJSON(&f))
	return f
}

func TestHandler_Session(t *testing.T) {
	f := newHubFixture(t)
	srv := newWSServer(t, f, f.viewer.ID)
	ws := dial(t, srv)

	connected := readFrame(t, ws)
	assert.Equal(t, frameAck, connected.Type)
	assert.Equal(t, "connected", connected.Action)
	assert.Equal(t, UserRoom(f.viewer.ID), connected.Room)
	assert.NotEmpty(t, connected.SessionID)

	room := ProjectRoom(f.project.ID)
	require.NoError(t, ws.WriteJSON(inboundFrame{Action: "join", Room: room}))
	joined := readFrame(t, ws)
	assert.Equal(t, frameAck, joined.Type)
	assert.Equal(t, "join", joined.Action)

	todoID := uuid.NewString()
	f.hub.Publish(room, TypeTodo, todoID, events.OpCreated, map[string]string{"title": "water"})
	env := readFrame(t, ws)
	assert.Equal(t, TypeTodo, env.Type)
	assert.Equal(t, todoID, env.EntityID)
	assert.Equal(t, uint64(1), env.Seq)

	require.NoError(t, ws.WriteJSON(inboundFrame{Action: "ping"}))
	assert.Equal(t, framePong, readFrame(t, ws).Type)

	require.NoError(t, ws.WriteJSON(inboundFrame{Action: "leave", Room: room}))
	assert.Equal(t, "leave", readFrame(t, ws).Action)
	assert.Equal(t, 0, f.hub.RoomSize(room))
}

func TestHandler_Errors(t *testing.T) {
	f := newHubFixture(t)
	srv := newWSServer(t, f, f.outside.ID)
	ws := dial(t, srv)
	readFrame(t, ws)

	tests := []struct {
		name string
		send func() error
		code string
	}{
		{"join without access", func() error {
			return ws.WriteJSON(inboundFrame{Action: "join", Room: ProjectRoom(f.project.ID)})
		}, "not_found"},
		{"unknown action", func() error { return ws.WriteJSON(inboundFrame{Action: "dance"}) }, "invalid_request"},
		{"malformed frame", func() error { return ws.WriteMessage(websocket.TextMessage, []byte("{")) }, "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.send())
			got := readFrame(t, ws)
			assert.Equal(t, frameError, got.Type)
			assert.Equal(t, tt.code, got.Code)
		})
	}
}

func TestHandler_DetachOnDisconnect(t *testing.T) {
	f := newHubFixture(t)
	srv := newWSServer(t, f, f.owner.ID)
	ws := dial(t, srv)
	readFrame(t, ws)
	require.Equal(t, 1, f.hub.SessionCount())

	require.NoError(t, ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	eventually(t, func() bool { return f.hub.SessionCount() == 0 })
}

func TestHandler_RequiresUser(t *testing.T) {
	f := newHubFixture(t)
	srv := newWSServer(t, f, uuid.Nil)

	resp, err := http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
