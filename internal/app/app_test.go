package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
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

	"github.com/taskhub/server/internal/shared/config"
	"github.com/taskhub/server/internal/store/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	t   *testing.T
	app *App
	srv *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Driver = config.DriverMemory
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.AdminEmails = []string{"admin@example.com"}
	cfg.CORS.AllowedOrigins = []string{"*"}

	ctx := context.Background()
	app, err := NewWithDeps(ctx, cfg, Deps{Logger: zap.NewNop(), Store: memory.New()})
	require.NoError(t, err)
	require.NoError(t, app.Start(ctx))
	srv := httptest.NewServer(app.Router())
	t.Cleanup(func() {
		srv.Close()
		app.Stop()
	})
	return &testServer{t: t, app: app, srv: srv}
}

type client struct {
	ts    *testServer
	id    uuid.UUID
	email string
	token string
}

func (ts *testServer) user(email, name string) *client {
	ts.t.Helper()
	id := uuid.New()
	token, err := ts.app.JWT().IssueToken(id, email, name)
	require.NoError(ts.t, err)
	return &client{ts: ts, id: id, email: email, token: token}
}

type reply struct {
	status int
	body   map[string]any
}

func (r reply) str(key string) string {
	v, _ := r.body[key].(string)
	return v
}

func (c *client) do(method, path string, body any) reply {
	c.ts.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(c.ts.t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.ts.srv.URL+path, reader)
	require.NoError(c.ts.t, err)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.ts.srv.Client().Do(req)
	require.NoError(c.ts.t, err)
	defer resp.Body.Close()

	out := reply{status: resp.StatusCode}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(c.ts.t, err)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out.body)
	}
	return out
}

func (c *client) createProject(name string) string {
	c.ts.t.Helper()
	r := c.do(http.MethodPost, "/api/v1/projects", map[string]string{"name": name})
	require.Equal(c.ts.t, http.StatusCreated, r.status)
	return r.str("id")
}

func (c *client) badges() (int, int) {
	c.ts.t.Helper()
	r := c.do(http.MethodGet, "/api/v1/badges", nil)
	require.Equal(c.ts.t, http.StatusOK, r.status)
	return int(r.body["notifications"].(float64)), int(r.body["invitations"].(float64))
}

func TestPublicEndpoints(t *testing.T) {
	ts := newTestServer(t)
	anon := &client{ts: ts}

	assert.Equal(t, http.StatusOK, anon.do(http.MethodGet, "/health", nil).status)

	r := anon.do(http.MethodGet, "/api/v1/me", nil)
	assert.Equal(t, http.StatusUnauthorized, r.status)
	assert.Equal(t, "unauthorized", r.str("code"))

	resp, err := http.Get(ts.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(raw), "taskhub_http_requests_total")
}

func TestInvitationFlow(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.user("olive@example.com", "Olive")
	bob := ts.user("bob@example.com", "Bob")
	projectID := owner.createProject("Garden")

	// Bob has no account yet; the invitation is matched by email.
	inv := owner.do(http.MethodPost, "/api/v1/projects/"+projectID+"/invitations",
		map[string]string{"email": "Bob@Example.com", "permission": "edit"})
	require.Equal(t, http.StatusCreated, inv.status)
	assert.Equal(t, "bob@example.com", inv.str("email"))

	dup := owner.do(http.MethodPost, "/api/v1/projects/"+projectID+"/invitations",
		map[string]string{"email": "bob@example.com", "permission": "view"})
	assert.Equal(t, http.StatusConflict, dup.status)
	assert.Equal(t, "duplicate_invitation", dup.str("code"))

	assert.Equal(t, http.StatusNotFound, bob.do(http.MethodGet, "/api/v1/projects/"+projectID, nil).status)
	_, pending := bob.badges()
	assert.Equal(t, 1, pending)

	accepted := bob.do(http.MethodPost, "/api/v1/invitations/"+inv.str("id")+"/accept", nil)
	require.Equal(t, http.StatusOK, accepted.status)
	assert.Equal(t, "edit", accepted.str("permission"))

	again := bob.do(http.MethodPost, "/api/v1/invitations/"+inv.str("id")+"/accept", nil)
	assert.Equal(t, http.StatusConflict, again.status)
	assert.Equal(t, "invitation_resolved", again.str("code"))

	got := bob.do(http.MethodGet, "/api/v1/projects/"+projectID, nil)
	require.Equal(t, http.StatusOK, got.status)
	assert.Equal(t, "edit", got.str("capability"))

	unread, _ := owner.badges()
	assert.Equal(t, 1, unread)
	_, pending = bob.badges()
	assert.Equal(t, 0, pending)

	friends := owner.do(http.MethodGet, "/api/v1/friends", nil)
	require.Equal(t, http.StatusOK, friends.status)
	assert.Len(t, friends.body["friends"], 1)
}

func TestShareLinkFlow(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.user("olive@example.com", "Olive")
	carol := ts.user("carol@example.com", "Carol")
	dave := ts.user("dave@example.com", "Dave")
	projectID := owner.createProject("Garden")

	link := owner.do(http.MethodPost, "/api/v1/projects/"+projectID+"/links",
		map[string]any{"permission": "view", "max_uses": 1})
	require.Equal(t, http.StatusCreated, link.status)
	token := link.str("id")

	preview := carol.do(http.MethodGet, "/api/v1/links/"+token, nil)
	require.Equal(t, http.StatusOK, preview.status)
	assert.Equal(t, "Garden", preview.str("project_name"))

	redeemed := carol.do(http.MethodPost, "/api/v1/links/"+token+"/redeem", nil)
	require.Equal(t, http.StatusOK, redeemed.status)
	assert.Equal(t, http.StatusOK, carol.do(http.MethodGet, "/api/v1/projects/"+projectID, nil).status)

	late := dave.do(http.MethodPost, "/api/v1/links/"+token+"/redeem", nil)
	assert.Equal(t, http.StatusGone, late.status)
	assert.Equal(t, "link_unavailable", late.str("code"))

	unknown := dave.do(http.MethodPost, "/api/v1/links/"+strings.Repeat("0", 32)+"/redeem", nil)
	assert.Equal(t, http.StatusGone, unknown.status)
	assert.Equal(t, late.str("error"), unknown.str("error"))
}

func TestPermissionsAndRevoke(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.user("olive@example.com", "Olive")
	viewer := ts.user("vic@example.com", "Vic")
	projectID := owner.createProject("Garden")

	// Register the viewer before granting by email.
	require.Equal(t, http.StatusOK, viewer.do(http.MethodGet, "/api/v1/me", nil).status)
	grant := owner.do(http.MethodPost, "/api/v1/projects/"+projectID+"/shares",
		map[string]string{"email": viewer.email, "permission": "view"})
	require.Equal(t, http.StatusCreated, grant.status)

	todo := owner.do(http.MethodPost, "/api/v1/projects/"+projectID+"/todos", map[string]string{"title": "water"})
	require.Equal(t, http.StatusCreated, todo.status)

	assert.Equal(t, http.StatusOK, viewer.do(http.MethodGet, "/api/v1/projects/"+projectID+"/todos", nil).status)
	denied := viewer.do(http.MethodPost, "/api/v1/projects/"+projectID+"/todos", map[string]string{"title": "weed"})
	assert.Equal(t, http.StatusForbidden, denied.status)
	assert.Equal(t, "forbidden", denied.str("code"))

	revoked := owner.do(http.MethodDelete, "/api/v1/projects/"+projectID+"/shares/"+viewer.id.String(), nil)
	require.Equal(t, http.StatusNoContent, revoked.status)
	assert.Equal(t, http.StatusNotFound, viewer.do(http.MethodGet, "/api/v1/projects/"+projectID+"/todos", nil).status)
}

func TestMaintenanceMode(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.user("admin@example.com", "Ada")
	member := ts.user("mia@example.com", "Mia")

	require.Equal(t, http.StatusOK, member.do(http.MethodGet, "/api/v1/me", nil).status)
	assert.Equal(t, http.StatusForbidden, member.do(http.MethodPut, "/api/v1/admin/maintenance", map[string]bool{"enabled": true}).status)

	on := admin.do(http.MethodPut, "/api/v1/admin/maintenance", map[string]bool{"enabled": true})
	require.Equal(t, http.StatusOK, on.status)

	blocked := member.do(http.MethodPost, "/api/v1/projects", map[string]string{"name": "Garden"})
	assert.Equal(t, http.StatusServiceUnavailable, blocked.status)
	assert.Equal(t, "maintenance", blocked.str("code"))
	assert.Equal(t, http.StatusOK, member.do(http.MethodGet, "/api/v1/projects", nil).status)
	assert.Equal(t, http.StatusCreated, admin.do(http.MethodPost, "/api/v1/projects", map[string]string{"name": "Ops"}).status)

	require.Equal(t, http.StatusOK, admin.do(http.MethodPut, "/api/v1/admin/maintenance", map[string]bool{"enabled": false}).status)
	assert.Equal(t, http.StatusCreated, member.do(http.MethodPost, "/api/v1/projects", map[string]string{"name": "Garden"}).status)
}

type wsFrame struct {
	Type     string `json:"type"`
	Action   string `json:"action"`
	Room     string `json:"room"`
	EntityID string `json:"entity_id"`
	Op       string `json:"op"`
}

func (c *client) dial() *websocket.Conn {
	c.ts.t.Helper()
	url := "ws" + strings.TrimPrefix(c.ts.srv.URL, "http") + "/api/v1/ws?token=" + c.token
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(c.ts.t, err)
	c.ts.t.Cleanup(func() { _ = ws.Close() })
	return ws
}

// readUntil reads frames until one matches or the deadline passes.
func readUntil(t *testing.T, ws *websocket.Conn, match func(wsFrame) bool) wsFrame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, ws.SetReadDeadline(deadline))
		var f wsFrame
		require.NoError(t, ws.ReadJSON(&f))
		if match(f) {
			return f
		}
	}
}

func TestRealtimeFanOut(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.user("olive@example.com", "Olive")
	editor := ts.user("eve@example.com", "Eve")
	projectID := owner.createProject("Garden")
	require.Equal(t, http.StatusOK, editor.do(http.MethodGet, "/api/v1/me", nil).status)
	require.Equal(t, http.StatusCreated, owner.do(http.MethodPost, "/api/v1/projects/"+projectID+"/shares",
		map[string]string{"email": editor.email, "permission": "edit"}).status)

	ws := editor.dial()
	readUntil(t, ws, func(f wsFrame) bool { return f.Action == "connected" })
	room := "project:" + projectID
	require.NoError(t, ws.WriteJSON(map[string]string{"action": "join", "room": room}))
	readUntil(t, ws, func(f wsFrame) bool { return f.Type == "ack" && f.Action == "join" })

	todo := owner.do(http.MethodPost, "/api/v1/projects/"+projectID+"/todos", map[string]string{"title": "water"})
	require.Equal(t, http.StatusCreated, todo.status)

	var got wsFrame
	notified := false
	readUntil(t, ws, func(f wsFrame) bool {
		switch {
		case f.Type == "todo":
			got = f
		case f.Type == "notification" && f.Op == "created":
			notified = true
		}
		return got.Type != "" && notified
	})
	assert.Equal(t, todo.str("id"), got.EntityID)
	assert.Equal(t, "created", got.Op)
	assert.Equal(t, room, got.Room)

	require.Equal(t, http.StatusNoContent,
		owner.do(http.MethodDelete, "/api/v1/projects/"+projectID+"/shares/"+editor.id.String(), nil).status)
	readUntil(t, ws, func(f wsFrame) bool { return f.Type == "revoked" })

	require.NoError(t, ws.WriteJSON(map[string]string{"action": "join", "room": room}))
	rejected := readUntil(t, ws, func(f wsFrame) bool { return f.Type == "error" })
	assert.Equal(t, room, rejected.Room)
}
