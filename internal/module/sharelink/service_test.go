package sharelink

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskhub/server/internal/infra/events"
	"github.com/taskhub/server/internal/model"
	"github.com/taskhub/server/internal/module/access"
	"github.com/taskhub/server/internal/module/notification"
	"github.com/taskhub/server/internal/module/project"
	apperrors "github.com/taskhub/server/internal/shared/errors"
	"github.com/taskhub/server/internal/shared/metrics"
	"github.com/taskhub/server/internal/store/memory"
	"go.uber.org/zap"
)

type fixture struct {
	store   *memory.Store
	uow     *notification.UnitOfWork
	svc     *Service
	metrics *metrics.Metrics
	owner   uuid.UUID
	project *model.Project
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := memory.New()
	m := metrics.NewNop()
	uow := notification.NewUnitOfWork(s, notification.NewDispatcher(false), events.NewBus(zap.NewNop()), nil, nil, m, zap.NewNop())
	f := &fixture{
		store:   s,
		uow:     uow,
		svc:     NewService(uow, access.NewResolver(), m, zap.NewNop()),
		metrics: m,
		now:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc.now = func() time.Time { return f.now }
	f.owner = f.user(t)
	f.project = &model.Project{ID: uuid.New(), OwnerID: f.owner, Name: "Orchard"}
	require.NoError(t, s.Projects().Create(context.Background(), f.project))
	return f
}

func (f *fixture) user(t *testing.T) uuid.UUID {
	t.Helper()
	u := &model.User{ID: uuid.New(), Email: uuid.NewString() + "@x.com", DisplayName: "u"}
	require.NoError(t, f.store.Users().Create(context.Background(), u))
	return u.ID
}

func (f *fixture) link(t *testing.T, in CreateInput) *model.ShareLink {
	t.Helper()
	link, err := f.svc.Create(context.Background(), f.owner, f.project.ID, in)
	require.NoError(t, err)
	return link
}

func intPtr(n int) *int { return &n }

func TestService_Create(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	editor := f.user(t)
	require.NoError(t, f.store.Shares().Create(ctx, &model.Share{ID: uuid.New(), ProjectID: f.project.ID, UserID: editor, Permission: model.CapabilityEdit}))

	link := f.link(t, CreateInput{Permission: "edit"})
	assert.Len(t, link.ID, 32)
	assert.True(t, link.Active)
	assert.Zero(t, link.UsedCount)

	past := f.now.Add(-time.Minute)
	tests := []struct {
		name  string
		actor uuid.UUID
		input CreateInput
		want  error
	}{
		{"zero max uses", f.owner, CreateInput{Permission: "view", MaxUses: intPtr(0)}, apperrors.ErrInvalid},
		{"past expiry", f.owner, CreateInput{Permission: "view", ExpiresAt: &past}, apperrors.ErrInvalid},
		{"bad permission", f.owner, CreateInput{Permission: "owner"}, apperrors.ErrInvalid},
		{"editor cannot manage links", editor, CreateInput{Permission: "view"}, apperrors.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, tt.actor, f.project.ID, tt.input)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestService_Redeem(t *testing.T) {
	ctx := context.Background()

	t.Run("grants link permission", func(t *testing.T) {
		f := newFixture(t)
		link := f.link(t, CreateInput{Permission: "edit"})
		visitor := f.user(t)

		share, err := f.svc.Redeem(ctx, visitor, link.ID)
		require.NoError(t, err)
		assert.Equal(t, model.CapabilityEdit, share.Permission)

		stored, err := f.store.ShareLinks().GetByID(ctx, link.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, stored.UsedCount)

		friends, err := f.store.Friendships().ListFor(ctx, visitor)
		require.NoError(t, err)
		assert.Len(t, friends, 1)

		unread, err := f.store.Notifications().CountUnread(ctx, f.owner)
		require.NoError(t, err)
		assert.Equal(t, 1, unread)
		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.LinkRedemptions.WithLabelValues("granted")))
	})

	t.Run("member is rejected without consuming", func(t *testing.T) {
		f := newFixture(t)
		link := f.link(t, CreateInput{Permission: "view", MaxUses: intPtr(1)})

		_, err := f.svc.Redeem(ctx, f.owner, link.ID)
		assert.ErrorIs(t, err, apperrors.ErrAlreadyMember)

		stored, err := f.store.ShareLinks().GetByID(ctx, link.ID)
		require.NoError(t, err)
		assert.Zero(t, stored.UsedCount)
		assert.True(t, stored.Active)
	})

	t.Run("expired link is deactivated", func(t *testing.T) {
		f := newFixture(t)
		expires := f.now.Add(time.Hour)
		link := f.link(t, CreateInput{Permission: "view", ExpiresAt: &expires})
		f.now = expires

		_, err := f.svc.Redeem(ctx, f.user(t), link.ID)
		assert.ErrorIs(t, err, apperrors.ErrLinkExpired)

		stored, err := f.store.ShareLinks().GetByID(ctx, link.ID)
		require.NoError(t, err)
		assert.False(t, stored.Active)
	})

	t.Run("second redeem by the same user is rejected", func(t *testing.T) {
		f := newFixture(t)
		link := f.link(t, CreateInput{Permission: "view", MaxUses: intPtr(5)})
		visitor := f.user(t)

		_, err := f.svc.Redeem(ctx, visitor, link.ID)
		require.NoError(t, err)
		_, err = f.svc.Redeem(ctx, visitor, link.ID)
		assert.ErrorIs(t, err, apperrors.ErrAlreadyMember)

		stored, err := f.store.ShareLinks().GetByID(ctx, link.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, stored.UsedCount)
		assert.True(t, stored.Active)
	})

	t.Run("exhausted link reports exhaustion", func(t *testing.T) {
		f := newFixture(t)
		link := f.link(t, CreateInput{Permission: "view", MaxUses: intPtr(2)})

		steps := []struct {
			want      error
			usedCount int
			stillOpen bool
		}{
			{nil, 1, true},
			{nil, 2, false},
			{apperrors.ErrLinkExhausted, 2, false},
		}
		for i, step := range steps {
			_, err := f.svc.Redeem(ctx, f.user(t), link.ID)
			if step.want == nil {
				require.NoError(t, err, "step %d", i)
			} else {
				assert.ErrorIs(t, err, step.want, "step %d", i)
			}
			stored, err := f.store.ShareLinks().GetByID(ctx, link.ID)
			require.NoError(t, err)
			assert.Equal(t, step.usedCount, stored.UsedCount, "step %d", i)
			assert.Equal(t, step.stillOpen, stored.Active, "step %d", i)
		}
		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.LinkRedemptions.WithLabelValues("exhausted")))
	})

	t.Run("revoked link reports inactive", func(t *testing.T) {
		f := newFixture(t)
		link := f.link(t, CreateInput{Permission: "view", MaxUses: intPtr(2)})
		require.NoError(t, f.svc.Revoke(ctx, f.owner, link.ID))

		_, err := f.svc.Redeem(ctx, f.user(t), link.ID)
		assert.ErrorIs(t, err, apperrors.ErrLinkInactive)
	})

	t.Run("unknown token is unavailable", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Redeem(ctx, f.user(t), "missing")
		assert.ErrorIs(t, err, apperrors.ErrLinkInactive)
	})

	t.Run("max uses holds under concurrency", func(t *testing.T) {
		f := newFixture(t)
		link := f.link(t, CreateInput{Permission: "view", MaxUses: intPtr(3)})

		users := make([]uuid.UUID, 10)
		for i := range users {
			users[i] = f.user(t)
		}
		errs := make([]error, len(users))
		var wg sync.WaitGroup
		for i, u := range users {
			wg.Add(1)
			go func(i int, u uuid.UUID) {
				defer wg.Done()
				_, errs[i] = f.svc.Redeem(ctx, u, link.ID)
			}(i, u)
		}
		wg.Wait()

		granted := 0
		for _, err := range errs {
			if err == nil {
				granted++
				continue
			}
			assert.ErrorIs(t, err, apperrors.ErrLinkExhausted)
			appErr, ok := apperrors.As(err)
			require.True(t, ok)
			assert.Equal(t, "link_unavailable", appErr.Code)
		}
		assert.Equal(t, 3, granted)

		stored, err := f.store.ShareLinks().GetByID(ctx, link.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, stored.UsedCount)
		assert.False(t, stored.Active)

		shares, err := f.store.Shares().ListByProject(ctx, f.project.ID)
		require.NoError(t, err)
		assert.Len(t, shares, 3)
	})
}

func TestService_RedeemRacesShareRevoke(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	projects := project.NewService(f.uow, access.NewResolver())
	resolver := access.NewResolver()
	link := f.link(t, CreateInput{Permission: "edit"})

	for i := 0; i < 50; i++ {
		visitor := f.user(t)
		var (
			wg        sync.WaitGroup
			redeemErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, redeemErr = f.svc.Redeem(ctx, visitor, link.ID)
		}()
		go func() {
			defer wg.Done()
			err := projects.Revoke(ctx, f.owner, f.project.ID, visitor)
			if err != nil {
				assert.ErrorIs(t, err, apperrors.ErrNotFound)
			}
		}()
		wg.Wait()
		require.NoError(t, redeemErr)

		capability, err := resolver.Resolve(ctx, f.store, visitor, f.project.ID)
		require.NoError(t, err)
		share, err := f.store.Shares().Get(ctx, f.project.ID, visitor)
		if capability == model.CapabilityNone {
			assert.Error(t, err, "iteration %d", i)
			assert.Nil(t, share, "iteration %d", i)
		} else {
			require.NoError(t, err, "iteration %d", i)
			assert.Equal(t, capability, share.Permission, "iteration %d", i)
		}
	}
}

func TestService_RevokeAndPreview(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	link := f.link(t, CreateInput{Permission: "view"})

	preview, err := f.svc.Preview(ctx, link.ID)
	require.NoError(t, err)
	assert.Equal(t, "Orchard", preview.ProjectName)
	assert.Equal(t, model.CapabilityView, preview.Permission)

	stranger := f.user(t)
	assert.ErrorIs(t, f.svc.Revoke(ctx, stranger, link.ID), apperrors.ErrNotFound)

	require.NoError(t, f.svc.Revoke(ctx, f.owner, link.ID))
	require.NoError(t, f.svc.Revoke(ctx, f.owner, link.ID))

	_, err = f.svc.Redeem(ctx, stranger, link.ID)
	assert.ErrorIs(t, err, apperrors.ErrLinkInactive)
	_, err = f.svc.Preview(ctx, link.ID)
	assert.ErrorIs(t, err, apperrors.ErrLinkInactive)
	assert.ErrorIs(t, f.svc.Revoke(ctx, f.owner, "missing"), apperrors.ErrNotFound)

	links, err := f.svc.List(ctx, f.owner, f.project.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.False(t, links[0].Active)
}

func TestService_Sweep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	soon := f.now.Add(time.Minute)
	later := f.now.Add(time.Hour)
	expiring := f.link(t, CreateInput{Permission: "view", ExpiresAt: &soon})
	f.link(t, CreateInput{Permission: "view", ExpiresAt: &later})
	f.link(t, CreateInput{Permission: "view"})

	n, err := f.svc.Sweep(ctx, soon)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := f.store.ShareLinks().GetByID(ctx, expiring.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active)

	n, err = f.svc.Sweep(ctx, soon)
	require.NoError(t, err)
	assert.Zero(t, n)
}
