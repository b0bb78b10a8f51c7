package realtime

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskhub/server/internal/infra/events"
	"github.com/taskhub/server/internal/model"
)

func TestProjector_Todo(t *testing.T) {
	f := newHubFixture(t)
	p := NewProjector(f.hub)
	viewer := f.attach(t, f.viewer, true)

	todo := model.Todo{ID: uuid.New(), ProjectID: f.project.ID, Title: "water"}
	require.NoError(t, p.Handle(context.Background(), events.NewTodoChanged(events.OpCreated, todo, f.owner.ID)))

	eventually(t, func() bool { return viewer.count() == 1 })
	env := viewer.envelopes(t)[0]
	assert.Equal(t, TypeTodo, env.Type)
	assert.Equal(t, todo.ID.String(), env.EntityID)
	assert.Equal(t, events.OpCreated, env.Op)
	assert.JSONEq(t, `"water"`, jsonField(t, env.Payload, "title"))
}

func TestProjector_GrantReachesProjectAndUserRooms(t *testing.T) {
	f := newHubFixture(t)
	p := NewProjector(f.hub)
	owner := f.attach(t, f.owner, true)
	grantee := f.attach(t, f.outside, false)

	share := model.Share{ID: uuid.New(), ProjectID: f.project.ID, UserID: f.outside.ID, Permission: model.CapabilityEdit}
	require.NoError(t, p.Handle(context.Background(), events.NewAccessGranted(share, events.SourceDirect, f.owner.ID)))

	eventually(t, func() bool { return owner.count() == 1 && grantee.count() == 1 })
	assert.Equal(t, TypeShare, owner.envelopes(t)[0].Type)
	got := grantee.envelopes(t)[0]
	assert.Equal(t, TypeProject, got.Type)
	assert.Equal(t, f.project.ID.String(), got.EntityID)
}

func TestProjector_RevokeEvicts(t *testing.T) {
	f := newHubFixture(t)
	p := NewProjector(f.hub)
	owner := f.attach(t, f.owner, true)
	viewer := f.attach(t, f.viewer, true)

	require.NoError(t, p.Handle(context.Background(), events.NewAccessRevoked(f.project.ID, f.viewer.ID, f.owner.ID)))

	eventually(t, func() bool { return owner.count() == 1 && viewer.count() == 2 })
	assert.Equal(t, 1, f.hub.RoomSize(ProjectRoom(f.project.ID)))
	types := []string{}
	for _, env := range viewer.envelopes(t) {
		types = append(types, env.Type)
	}
	assert.ElementsMatch(t, []string{TypeRevoked, TypeProject}, types)
}

func TestProjector_ProjectDeletedClosesRoom(t *testing.T) {
	f := newHubFixture(t)
	p := NewProjector(f.hub)
	viewer := f.attach(t, f.viewer, true)

	event := events.NewProjectDeleted(*f.project, []uuid.UUID{f.owner.ID, f.viewer.ID}, f.owner.ID)
	require.NoError(t, p.Handle(context.Background(), event))

	// One envelope from the project room, one from the viewer's user room.
	eventually(t, func() bool { return viewer.count() == 2 })
	eventually(t, func() bool { return f.hub.RoomSize(ProjectRoom(f.project.ID)) == 0 })
}

func TestProjector_InvitationsStayInUserRooms(t *testing.T) {
	f := newHubFixture(t)
	p := NewProjector(f.hub)
	viewer := f.attach(t, f.viewer, true)
	receiver := f.attach(t, f.outside, false)

	receiverID := f.outside.ID
	inv := model.Invitation{ID: uuid.New(), ProjectID: f.project.ID, SenderID: f.owner.ID, ReceiverID: &receiverID, Email: f.outside.Email}
	require.NoError(t, p.Handle(context.Background(), events.NewInvitationReceived(inv)))
	require.NoError(t, p.Handle(context.Background(), events.NewInvitationCancelled(inv, f.owner.ID)))

	eventually(t, func() bool { return receiver.count() == 2 })
	envs := receiver.envelopes(t)
	assert.Equal(t, events.OpCreated, envs[0].Op)
	assert.Equal(t, events.OpDeleted, envs[1].Op)
	assert.Equal(t, 0, viewer.count())
}

func TestProjector_LinkOnlyToActor(t *testing.T) {
	f := newHubFixture(t)
	p := NewProjector(f.hub)
	owner := f.attach(t, f.owner, true)
	viewer := f.attach(t, f.viewer, true)

	link := model.ShareLink{ID: "token", ProjectID: f.project.ID, Permission: model.CapabilityView, Active: true}
	require.NoError(t, p.Handle(context.Background(), events.NewShareLinkChanged(events.OpCreated, link, f.owner.ID)))

	eventually(t, func() bool { return owner.count() == 1 })
	assert.Equal(t, TypeLink, owner.envelopes(t)[0].Type)
	assert.Equal(t, 0, viewer.count())
}

func jsonField(t *testing.T, raw json.RawMessage, key string) string {
	t.Helper()
	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &fields))
	return string(fields[key])
}
