package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskhub/server/internal/model"
	"github.com/taskhub/server/internal/store"
)

func TestTransaction_RollbackRestoresSnapshot(t *testing.T) {
	s := New()
	ctx := context.Background()
	project := &model.Project{ID: uuid.New(), OwnerID: uuid.New(), Name: "p"}
	require.NoError(t, s.Projects().Create(ctx, project))

	boom := errors.New("boom")
	err := s.Transaction(ctx, func(tx store.Repos) error {
		require.NoError(t, tx.Shares().Create(ctx, &model.Share{
			ProjectID: project.ID, UserID: uuid.New(), Permission: model.CapabilityView,
		}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	shares, err := s.Shares().ListByProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Empty(t, shares)
}

func TestShares_Duplicate(t *testing.T) {
	s := New()
	ctx := context.Background()
	share := &model.Share{ProjectID: uuid.New(), UserID: uuid.New(), Permission: model.CapabilityEdit}
	require.NoError(t, s.Shares().Create(ctx, share))

	dup := *share
	dup.ID = uuid.Nil
	assert.ErrorIs(t, s.Shares().Create(ctx, &dup), store.ErrDuplicate)
}

func TestInvitations_PendingUniqueness(t *testing.T) {
	s := New()
	ctx := context.Background()
	projectID := uuid.New()
	first := &model.Invitation{ID: uuid.New(), ProjectID: projectID, Email: "bob@x.com", Status: model.InvitationStatusPending}
	require.NoError(t, s.Invitations().Create(ctx, first))

	second := &model.Invitation{ID: uuid.New(), ProjectID: projectID, Email: "bob@x.com", Status: model.InvitationStatusPending}
	assert.ErrorIs(t, s.Invitations().Create(ctx, second), store.ErrDuplicate)

	_, err := s.Invitations().Resolve(ctx, first.ID, model.InvitationStatusRejected, time.Now())
	require.NoError(t, err)
	assert.NoError(t, s.Invitations().Create(ctx, second))

	_, err = s.Invitations().Resolve(ctx, first.ID, model.InvitationStatusAccepted, time.Now())
	assert.ErrorIs(t, err, store.ErrConditionFailed)
}

func TestShareLinks_ConsumeUseConcurrent(t *testing.T) {
	s := New()
	ctx := context.Background()
	maxUses := 3
	link := &model.ShareLink{ID: "tok", ProjectID: uuid.New(), Permission: model.CapabilityView, Active: true, MaxUses: &maxUses}
	require.NoError(t, s.ShareLinks().Create(ctx, link))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ShareLinks().ConsumeUse(ctx, "tok", time.Now()); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, store.ErrConditionFailed)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	got, err := s.ShareLinks().GetByID(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, 3, got.UsedCount)
	assert.False(t, got.Active)
	assert.NotNil(t, got.DeactivatedAt)
}

func TestShareLinks_DeactivateIsIrreversible(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.ShareLinks().Create(ctx, &model.ShareLink{ID: "tok", Active: true, Permission: model.CapabilityView}))

	changed, err := s.ShareLinks().Deactivate(ctx, "tok", time.Now())
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.ShareLinks().Deactivate(ctx, "tok", time.Now())
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = s.ShareLinks().ConsumeUse(ctx, "tok", time.Now())
	assert.ErrorIs(t, err, store.ErrConditionFailed)
}

func TestNotifications_DedupeAndRecipientScope(t *testing.T) {
	s := New()
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	n := &model.Notification{ID: uuid.New(), UserID: alice, Type: model.NotificationTodoUpdated, DedupeKey: "evt-1"}
	created, err := s.Notifications().Create(ctx, n)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.Notifications().Create(ctx, &model.Notification{ID: uuid.New(), UserID: alice, DedupeKey: "evt-1"})
	require.NoError(t, err)
	assert.False(t, created)

	count, err := s.Notifications().MarkRead(ctx, bob, []uuid.UUID{n.ID}, time.Now())
	require.NoError(t, err)
	assert.Zero(t, count)

	unread, err := s.Notifications().CountUnread(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 1, unread)

	count, err = s.Notifications().MarkRead(ctx, alice, []uuid.UUID{n.ID}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	unread, err = s.Notifications().CountUnread(ctx, alice)
	require.NoError(t, err)
	assert.Zero(t, unread)
}

func TestProjects_DeleteCascades(t *testing.T) {
	s := New()
	ctx := context.Background()
	project := &model.Project{ID: uuid.New(), OwnerID: uuid.New(), Name: "p"}
	require.NoError(t, s.Projects().Create(ctx, project))
	require.NoError(t, s.Shares().Create(ctx, &model.Share{ProjectID: project.ID, UserID: uuid.New(), Permission: model.CapabilityView}))
	require.NoError(t, s.ShareLinks().Create(ctx, &model.ShareLink{ID: "tok", ProjectID: project.ID, Active: true}))
	require.NoError(t, s.Todos().Create(ctx, &model.Todo{ID: uuid.New(), ProjectID: project.ID, Title: "t"}))

	require.NoError(t, s.Projects().Delete(ctx, project.ID))

	shares, _ := s.Shares().ListByProject(ctx, project.ID)
	assert.Empty(t, shares)
	_, err := s.ShareLinks().GetByID(ctx, "tok")
	assert.ErrorIs(t, err, store.ErrNotFound)
	todos, _ := s.Todos().ListByProject(ctx, project.ID)
	assert.Empty(t, todos)
}

func TestFriendships_Undirected(t *testing.T) {
	s := New()
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	require.NoError(t, s.Friendships().Upsert(ctx, model.NewFriendship(a, b)))
	require.NoError(t, s.Friendships().Upsert(ctx, model.Friendship{UserLowID: b, UserHighID: a}))

	list, err := s.Friendships().ListFor(ctx, a)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, b, list[0].Other(a))
}
