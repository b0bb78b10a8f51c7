package notification

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskhub/server/internal/infra/events"
	"github.com/taskhub/server/internal/model"
	apperrors "github.com/taskhub/server/internal/shared/errors"
	"github.com/taskhub/server/internal/shared/metrics"
	"github.com/taskhub/server/internal/store"
	"github.com/taskhub/server/internal/store/memory"
	"go.uber.org/zap"
)

type pushed struct {
	userID  uuid.UUID
	msgType string
	op      events.Op
	payload any
}

type fakePusher struct {
	mu     sync.Mutex
	pushes []pushed
}

func (p *fakePusher) PushUser(userID uuid.UUID, msgType, entityID string, op events.Op, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes = append(p.pushes, pushed{userID: userID, msgType: msgType, op: op, payload: payload})
}

func (p *fakePusher) count(msgType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.pushes {
		if e.msgType == msgType {
			n++
		}
	}
	return n
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []EmailJob
	err  error
}

func (q *fakeQueue) Enqueue(ctx context.Context, job EmailJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) Close() error { return nil }

type fixture struct {
	store   *memory.Store
	owner   *model.User
	editor  *model.User
	viewer  *model.User
	project *model.Project
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	f := &fixture{store: s}
	for _, u := range []**model.User{&f.owner, &f.editor, &f.viewer} {
		*u = &model.User{ID: uuid.New(), Email: uuid.NewString() + "@x.com", DisplayName: "user", Role: model.UserRoleUser}
		require.NoError(t, s.Users().Create(ctx, *u))
	}
	f.owner.DisplayName = "Olive"
	require.NoError(t, s.Users().Update(ctx, f.owner))

	f.project = &model.Project{ID: uuid.New(), OwnerID: f.owner.ID, Name: "Garden"}
	require.NoError(t, s.Projects().Create(ctx, f.project))
	for _, sh := range []struct {
		user *model.User
		perm model.Capability
	}{{f.editor, model.CapabilityEdit}, {f.viewer, model.CapabilityView}} {
		require.NoError(t, s.Shares().Create(ctx, &model.Share{
			ID: uuid.New(), ProjectID: f.project.ID, UserID: sh.user.ID, GrantedByUserID: f.owner.ID, Permission: sh.perm,
		}))
	}
	return f
}

func (f *fixture) dispatch(t *testing.T, d *Dispatcher, e events.Event) *Result {
	t.Helper()
	var result *Result
	require.NoError(t, f.store.Transaction(context.Background(), func(tx store.Repos) error {
		var err error
		result, err = d.Dispatch(context.Background(), tx, e)
		return err
	}))
	return result
}

func recipients(r *Result) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(r.Notifications))
	for _, n := range r.Notifications {
		out = append(out, n.UserID)
	}
	return out
}

func TestDispatcher_TodoRecipients(t *testing.T) {
	f := newFixture(t)
	d := NewDispatcher(false)
	todo := model.Todo{ID: uuid.New(), ProjectID: f.project.ID, CreatorID: f.editor.ID, Title: "Water plants"}

	result := f.dispatch(t, d, events.NewTodoChanged(events.OpUpdated, todo, f.editor.ID))

	assert.ElementsMatch(t, []uuid.UUID{f.owner.ID, f.viewer.ID}, recipients(result))
	n := result.Notifications[0]
	assert.Equal(t, model.NotificationTodoUpdated, n.Type)

	var payload model.NotificationPayload
	require.NoError(t, json.Unmarshal(n.Payload, &payload))
	assert.Equal(t, f.project.ID, payload.ProjectID)
	assert.Equal(t, "Garden", payload.ProjectName)
	assert.Equal(t, todo.ID.String(), payload.EntityID)
	assert.Equal(t, "todo", payload.EntityType)
	assert.Equal(t, "updated", payload.Op)
	assert.Equal(t, f.editor.ID, payload.ActorID)
}

func TestDispatcher_ReplayIsDeduplicated(t *testing.T) {
	f := newFixture(t)
	d := NewDispatcher(false)
	todo := model.Todo{ID: uuid.New(), ProjectID: f.project.ID, CreatorID: f.owner.ID, Title: "Seed"}
	e := events.NewTodoChanged(events.OpCreated, todo, f.owner.ID)

	first := f.dispatch(t, d, e)
	second := f.dispatch(t, d, e)

	assert.Len(t, first.Notifications, 2)
	assert.Empty(t, second.Notifications)
	count, err := f.store.Notifications().CountUnread(context.Background(), f.editor.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDispatcher_GrantRecipients(t *testing.T) {
	f := newFixture(t)
	d := NewDispatcher(true)
	newcomer := &model.User{ID: uuid.New(), Email: "new@x.com", DisplayName: "Nia"}
	require.NoError(t, f.store.Users().Create(context.Background(), newcomer))
	share := model.Share{ID: uuid.New(), ProjectID: f.project.ID, UserID: newcomer.ID, Permission: model.CapabilityView}

	tests := []struct {
		name       string
		event      events.Event
		recipients []uuid.UUID
		emails     int
	}{
		{
			name:       "direct grant notifies grantee",
			event:      events.NewAccessGranted(share, events.SourceDirect, f.owner.ID),
			recipients: []uuid.UUID{newcomer.ID},
			emails:     1,
		},
		{
			name:       "link redemption notifies owner",
			event:      events.NewAccessGranted(share, events.SourceLink, newcomer.ID),
			recipients: []uuid.UUID{f.owner.ID},
		},
		{
			name:  "invitation grant is covered by resolution",
			event: events.NewAccessGranted(share, events.SourceInvitation, newcomer.ID),
		},
		{
			name:       "revocation notifies revoked user",
			event:      events.NewAccessRevoked(f.project.ID, f.viewer.ID, f.owner.ID),
			recipients: []uuid.UUID{f.viewer.ID},
		},
		{
			name:       "leaving notifies owner",
			event:      events.NewAccessRevoked(f.project.ID, f.viewer.ID, f.viewer.ID),
			recipients: []uuid.UUID{f.owner.ID},
		},
		{
			name:       "project deletion notifies members but not actor",
			event:      events.NewProjectDeleted(*f.project, []uuid.UUID{f.owner.ID, f.editor.ID, f.viewer.ID}, f.owner.ID),
			recipients: []uuid.UUID{f.editor.ID, f.viewer.ID},
		},
		{
			name:  "project update notifies nobody",
			event: events.NewProjectUpdated(*f.project, f.owner.ID),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := f.dispatch(t, d, tt.event)
			assert.ElementsMatch(t, tt.recipients, recipients(result))
			assert.Len(t, result.Emails, tt.emails)
		})
	}
}

func TestDispatcher_Invitations(t *testing.T) {
	f := newFixture(t)
	d := NewDispatcher(true)

	t.Run("unknown address gets email only", func(t *testing.T) {
		inv := model.Invitation{ID: uuid.New(), ProjectID: f.project.ID, SenderID: f.owner.ID, Email: "ghost@x.com",
			Permission: model.CapabilityEdit, Status: model.InvitationStatusPending}
		result := f.dispatch(t, d, events.NewInvitationReceived(inv))
		assert.Empty(t, result.Notifications)
		require.Len(t, result.Emails, 1)
		assert.Equal(t, "ghost@x.com", result.Emails[0].To)
		assert.Contains(t, result.Emails[0].Body, "Olive invited you to Garden")
	})

	t.Run("existing account gets a notification", func(t *testing.T) {
		receiver := &model.User{ID: uuid.New(), Email: "rae@x.com", DisplayName: "Rae"}
		require.NoError(t, f.store.Users().Create(context.Background(), receiver))
		inv := model.Invitation{ID: uuid.New(), ProjectID: f.project.ID, SenderID: f.owner.ID, ReceiverID: &receiver.ID,
			Email: receiver.Email, Permission: model.CapabilityView, Status: model.InvitationStatusPending}

		result := f.dispatch(t, d, events.NewInvitationReceived(inv))
		assert.Equal(t, []uuid.UUID{receiver.ID}, recipients(result))

		inv.Status = model.InvitationStatusAccepted
		resolved := f.dispatch(t, d, events.NewInvitationResolved(inv, receiver.ID))
		assert.Equal(t, []uuid.UUID{f.owner.ID}, recipients(resolved))
		assert.Equal(t, "Invitation accepted", resolved.Notifications[0].Title)
	})

	t.Run("email disabled", func(t *testing.T) {
		inv := model.Invitation{ID: uuid.New(), ProjectID: f.project.ID, SenderID: f.owner.ID, Email: "quiet@x.com",
			Permission: model.CapabilityView, Status: model.InvitationStatusPending}
		result := f.dispatch(t, NewDispatcher(false), events.NewInvitationReceived(inv))
		assert.Empty(t, result.Emails)
	})
}

// conflictStore fails the first n transactions with a serialization conflict.
type conflictStore struct {
	*memory.Store
	failures int
	calls    int
}

func (s *conflictStore) Transaction(ctx context.Context, fn func(tx store.Repos) error) error {
	s.calls++
	if s.calls <= s.failures {
		return store.ErrConflict
	}
	return s.Store.Transaction(ctx, fn)
}

func newUnitOfWork(st store.Store, pusher Pusher, queue EmailQueue) *UnitOfWork {
	return NewUnitOfWork(st, NewDispatcher(true), events.NewBus(zap.NewNop()), pusher, queue, metrics.NewNop(), zap.NewNop())
}

func TestUnitOfWork_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("commit delivers after dispatch", func(t *testing.T) {
		f := newFixture(t)
		pusher := &fakePusher{}
		uow := newUnitOfWork(f.store, pusher, &fakeQueue{})

		err := uow.Run(ctx, func(tx store.Repos, emit Emit) error {
			todo := model.Todo{ID: uuid.New(), ProjectID: f.project.ID, CreatorID: f.owner.ID, Title: "Prune"}
			if err := tx.Todos().Create(ctx, &todo); err != nil {
				return err
			}
			emit(events.NewTodoChanged(events.OpCreated, todo, f.owner.ID))
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, 2, pusher.count(MsgNotification))
	})

	t.Run("failure rolls back notifications", func(t *testing.T) {
		f := newFixture(t)
		pusher := &fakePusher{}
		queue := &fakeQueue{}
		uow := newUnitOfWork(f.store, pusher, queue)
		boom := errors.New("boom")

		err := uow.Run(ctx, func(tx store.Repos, emit Emit) error {
			share := model.Share{ID: uuid.New(), ProjectID: f.project.ID, UserID: uuid.New(), Permission: model.CapabilityView}
			emit(events.NewAccessGranted(share, events.SourceDirect, f.owner.ID))
			return boom
		})

		assert.ErrorIs(t, err, boom)
		assert.Empty(t, pusher.pushes)
		assert.Empty(t, queue.jobs)
		count, err := f.store.Notifications().CountUnread(ctx, f.editor.ID)
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("one conflict is retried", func(t *testing.T) {
		f := newFixture(t)
		st := &conflictStore{Store: f.store, failures: 1}
		calls := 0

		err := newUnitOfWork(st, nil, nil).Run(ctx, func(tx store.Repos, emit Emit) error {
			calls++
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, 1, calls)
		assert.Equal(t, 2, st.calls)
	})

	t.Run("second conflict surfaces", func(t *testing.T) {
		f := newFixture(t)
		st := &conflictStore{Store: f.store, failures: 2}

		err := newUnitOfWork(st, nil, nil).Run(ctx, func(tx store.Repos, emit Emit) error { return nil })

		assert.ErrorIs(t, err, apperrors.ErrConcurrencyConflict)
	})

	t.Run("email enqueue failure does not fail the mutation", func(t *testing.T) {
		f := newFixture(t)
		uow := newUnitOfWork(f.store, nil, &fakeQueue{err: errors.New("redis down")})

		err := uow.Run(ctx, func(tx store.Repos, emit Emit) error {
			inv := model.Invitation{ID: uuid.New(), ProjectID: f.project.ID, SenderID: f.owner.ID, Email: "a@x.com",
				Permission: model.CapabilityView, Status: model.InvitationStatusPending}
			emit(events.NewInvitationReceived(inv))
			return nil
		})

		assert.NoError(t, err)
	})
}

func TestService_ReadScopedToRecipient(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	todo := model.Todo{ID: uuid.New(), ProjectID: f.project.ID, CreatorID: f.owner.ID, Title: "Harvest"}
	result := f.dispatch(t, NewDispatcher(false), events.NewTodoChanged(events.OpCreated, todo, f.owner.ID))
	require.Len(t, result.Notifications, 2)

	pusher := &fakePusher{}
	svc := NewService(f.store, pusher)

	changed, err := svc.MarkRead(ctx, f.viewer.ID, result.IDs())
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	editorUnread, err := svc.UnreadCount(ctx, f.editor.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, editorUnread)

	require.Equal(t, 1, pusher.count(MsgBadge))
	assert.Equal(t, BadgePayload{Notifications: 0}, pusher.pushes[0].payload)

	changed, err = svc.MarkRead(ctx, f.viewer.ID, result.IDs())
	require.NoError(t, err)
	assert.Zero(t, changed)
	assert.Equal(t, 1, pusher.count(MsgBadge))

	page, err := svc.List(ctx, f.editor.ID, ListInput{UnreadOnly: true})
	require.NoError(t, err)
	assert.Len(t, page.Notifications, 1)
	assert.Equal(t, 1, page.Unread)

	changed, err = svc.MarkAllRead(ctx, f.editor.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	_, err = svc.MarkRead(ctx, f.editor.ID, nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalid)
}

type flakySender struct {
	err   error
	calls int
}

func (s *flakySender) Send(ctx context.Context, from string, job EmailJob) error {
	s.calls++
	return s.err
}

func TestWorker_HandleEmail(t *testing.T) {
	ctx := context.Background()
	job := EmailJob{To: "a@x.com", Subject: "Hi", Body: "Hello", DedupeKey: "evt"}
	payload, err := json.Marshal(job)
	require.NoError(t, err)

	t.Run("sends valid job", func(t *testing.T) {
		sender := &flakySender{}
		w := NewWorker(nil, WorkerConfig{From: "noreply@x.com"}, sender, metrics.NewNop(), zap.NewNop())
		require.NoError(t, w.HandleEmail(ctx, asynq.NewTask(TypeEmailDelivery, payload)))
		assert.Equal(t, 1, sender.calls)
	})

	t.Run("malformed payload is not retried", func(t *testing.T) {
		w := NewWorker(nil, WorkerConfig{}, &flakySender{}, metrics.NewNop(), zap.NewNop())
		err := w.HandleEmail(ctx, asynq.NewTask(TypeEmailDelivery, []byte("{")))
		assert.ErrorIs(t, err, asynq.SkipRetry)
	})

	t.Run("send failure is retried", func(t *testing.T) {
		w := NewWorker(nil, WorkerConfig{}, &flakySender{err: errors.New("smtp")}, metrics.NewNop(), zap.NewNop())
		err := w.HandleEmail(ctx, asynq.NewTask(TypeEmailDelivery, payload))
		require.Error(t, err)
		assert.NotErrorIs(t, err, asynq.SkipRetry)
	})
}

func TestBreakerSender_OpensAfterConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	next := &flakySender{err: errors.New("smtp down")}
	sender := NewBreakerSender(next, 0, zap.NewNop())

	for i := 0; i < 5; i++ {
		assert.Error(t, sender.Send(ctx, "", EmailJob{To: "a@x.com"}))
	}
	assert.True(t, sender.Open())

	// Open breaker short-circuits without calling the sender.
	assert.Error(t, sender.Send(ctx, "", EmailJob{To: "a@x.com"}))
	assert.Equal(t, 5, next.calls)
}

func TestEmailJob_TaskID(t *testing.T) {
	a := EmailJob{To: "A@X.com ", DedupeKey: "evt"}
	b := EmailJob{To: "a@x.com", DedupeKey: "evt"}
	assert.Equal(t, a.TaskID(), b.TaskID())
}
