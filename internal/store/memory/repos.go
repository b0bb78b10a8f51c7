package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/taskhub/server/internal/model"
	"github.com/taskhub/server/internal/store"
)

// --- users ---

type userRepo struct{ r *repos }

func (u userRepo) Create(ctx context.Context, user *model.User) error {
	return u.r.do(ctx, func(d *data, now time.Time) error {
		if _, ok := d.users[user.ID]; ok {
			return store.ErrDuplicate
		}
		for _, existing := range d.users {
			if existing.Email == user.Email {
				return store.ErrDuplicate
			}
		}
		stamp(&user.CreatedAt, now)
		user.UpdatedAt = user.CreatedAt
		d.users[user.ID] = *user
		return nil
	})
}

func (u userRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	var out *model.User
	err := u.r.do(ctx, func(d *data, _ time.Time) error {
		user, ok := d.users[id]
		if !ok {
			return store.ErrNotFound
		}
		out = &user
		return nil
	})
	return out, err
}

func (u userRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	var out *model.User
	err := u.r.do(ctx, func(d *data, _ time.Time) error {
		for _, user := range d.users {
			if user.Email == email {
				out = &user
				return nil
			}
		}
		return store.ErrNotFound
	})
	return out, err
}

func (u userRepo) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*model.User, error) {
	var out []*model.User
	err := u.r.do(ctx, func(d *data, _ time.Time) error {
		for _, id := range ids {
			if user, ok := d.users[id]; ok {
				out = append(out, &user)
			}
		}
		return nil
	})
	return out, err
}

func (u userRepo) Update(ctx context.Context, user *model.User) error {
	return u.r.do(ctx, func(d *data, now time.Time) error {
		if _, ok := d.users[user.ID]; !ok {
			return store.ErrNotFound
		}
		for id, existing := range d.users {
			if id != user.ID && existing.Email == user.Email {
				return store.ErrDuplicate
			}
		}
		user.UpdatedAt = now
		d.users[user.ID] = *user
		return nil
	})
}

// --- projects ---

type projectRepo struct{ r *repos }

func (p projectRepo) Create(ctx context.Context, project *model.Project) error {
	return p.r.do(ctx, func(d *data, now time.Time) error {
		if _, ok := d.projects[project.ID]; ok {
			return store.ErrDuplicate
		}
		stamp(&project.CreatedAt, now)
		project.UpdatedAt = project.CreatedAt
		d.projects[project.ID] = *project
		return nil
	})
}

func (p projectRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Project, error) {
	var out *model.Project
	err := p.r.do(ctx, func(d *data, _ time.Time) error {
		project, ok := d.projects[id]
		if !ok {
			return store.ErrNotFound
		}
		out = &project
		return nil
	})
	return out, err
}

func (p projectRepo) ListOwned(ctx context.Context, ownerID uuid.UUID) ([]*model.Project, error) {
	var out []*model.Project
	err := p.r.do(ctx, func(d *data, _ time.Time) error {
		for _, project := range d.projects {
			if project.OwnerID == ownerID {
				out = append(out, &project)
			}
		}
		return nil
	})
	sortProjects(out)
	return out, err
}

func (p projectRepo) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*model.Project, error) {
	var out []*model.Project
	err := p.r.do(ctx, func(d *data, _ time.Time) error {
		for _, id := range ids {
			if project, ok := d.projects[id]; ok {
				out = append(out, &project)
			}
		}
		return nil
	})
	sortProjects(out)
	return out, err
}

func (p projectRepo) Update(ctx context.Context, project *model.Project) error {
	return p.r.do(ctx, func(d *data, now time.Time) error {
		existing, ok := d.projects[project.ID]
		if !ok {
			return store.ErrNotFound
		}
		project.OwnerID = existing.OwnerID
		project.CreatedAt = existing.CreatedAt
		project.UpdatedAt = now
		d.projects[project.ID] = *project
		return nil
	})
}

func (p projectRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return p.r.do(ctx, func(d *data, _ time.Time) error {
		if _, ok := d.projects[id]; !ok {
			return store.ErrNotFound
		}
		delete(d.projects, id)
		for k := range d.shares {
			if k.projectID == id {
				delete(d.shares, k)
			}
		}
		for k, inv := range d.invitations {
			if inv.ProjectID == id {
				delete(d.invitations, k)
			}
		}
		for k, link := range d.links {
			if link.ProjectID == id {
				delete(d.links, k)
			}
		}
		for k, todo := range d.todos {
			if todo.ProjectID == id {
				delete(d.todos, k)
			}
		}
		return nil
	})
}

// LockMembership is a no-op: transactions already hold the store lock.
func (p projectRepo) LockMembership(ctx context.Context, projectID, userID uuid.UUID) error {
	return ctx.Err()
}

func sortProjects(projects []*model.Project) {
	sort.SliceStable(projects, func(i, j int) bool {
		return projects[i].CreatedAt.Before(projects[j].CreatedAt)
	})
}

// --- shares ---

type shareRepo struct{ r *repos }

func (s shareRepo) Create(ctx context.Context, share *model.Share) error {
	return s.r.do(ctx, func(d *data, now time.Time) error {
		key := shareKey{share.ProjectID, share.UserID}
		if _, ok := d.shares[key]; ok {
			return store.ErrDuplicate
		}
		if share.ID == uuid.Nil {
			share.ID = uuid.New()
		}
		stamp(&share.CreatedAt, now)
		share.UpdatedAt = share.CreatedAt
		d.shares[key] = *share
		return nil
	})
}

func (s shareRepo) Get(ctx context.Context, projectID, userID uuid.UUID) (*model.Share, error) {
	var out *model.Share
	err := s.r.do(ctx, func(d *data, _ time.Time) error {
		share, ok := d.shares[shareKey{projectID, userID}]
		if !ok {
			return store.ErrNotFound
		}
		out = &share
		return nil
	})
	return out, err
}

func (s shareRepo) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*model.Share, error) {
	return s.list(ctx, func(sh model.Share) bool { return sh.ProjectID == projectID })
}

func (s shareRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*model.Share, error) {
	return s.list(ctx, func(sh model.Share) bool { return sh.UserID == userID })
}

func (s shareRepo) list(ctx context.Context, match func(model.Share) bool) ([]*model.Share, error) {
	var out []*model.Share
	err := s.r.do(ctx, func(d *data, _ time.Time) error {
		for _, share := range d.shares {
			if match(share) {
				out = append(out, &share)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, err
}

func (s shareRepo) UpdatePermission(ctx context.Context, projectID, userID uuid.UUID, permission model.Capability) error {
	return s.r.do(ctx, func(d *data, now time.Time) error {
		key := shareKey{projectID, userID}
		share, ok := d.shares[key]
		if !ok {
			return store.ErrNotFound
		}
		share.Permission = permission
		share.UpdatedAt = now
		d.shares[key] = share
		return nil
	})
}

func (s shareRepo) Delete(ctx context.Context, projectID, userID uuid.UUID) error {
	return s.r.do(ctx, func(d *data, _ time.Time) error {
		key := shareKey{projectID, userID}
		if _, ok := d.shares[key]; !ok {
			return store.ErrNotFound
		}
		delete(d.shares, key)
		return nil
	})
}

// --- invitations ---

type invitationRepo struct{ r *repos }

func (i invitationRepo) Create(ctx context.Context, invitation *model.Invitation) error {
	return i.r.do(ctx, func(d *data, now time.Time) error {
		if _, ok := d.invitations[invitation.ID]; ok {
			return store.ErrDuplicate
		}
		if invitation.IsPending() {
			for _, existing := range d.invitations {
				if existing.IsPending() && existing.ProjectID == invitation.ProjectID && existing.Email == invitation.Email {
					return store.ErrDuplicate
				}
			}
		}
		stamp(&invitation.CreatedAt, now)
		d.invitations[invitation.ID] = *invitation
		return nil
	})
}

func (i invitationRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Invitation, error) {
	var out *model.Invitation
	err := i.r.do(ctx, func(d *data, _ time.Time) error {
		inv, ok := d.invitations[id]
		if !ok {
			return store.ErrNotFound
		}
		out = &inv
		return nil
	})
	return out, err
}

func (i invitationRepo) GetPending(ctx context.Context, projectID uuid.UUID, email string) (*model.Invitation, error) {
	var out *model.Invitation
	err := i.r.do(ctx, func(d *data, _ time.Time) error {
		for _, inv := range d.invitations {
			if inv.IsPending() && inv.ProjectID == projectID && inv.Email == email {
				out = &inv
				return nil
			}
		}
		return store.ErrNotFound
	})
	return out, err
}

func (i invitationRepo) ListByProject(ctx context.Context, projectID uuid.UUID, status *model.InvitationStatus) ([]*model.Invitation, error) {
	return i.list(ctx, func(inv model.Invitation) bool {
		return inv.ProjectID == projectID && (status == nil || inv.Status == *status)
	})
}

func (i invitationRepo) ListPendingFor(ctx context.Context, userID uuid.UUID, email string) ([]*model.Invitation, error) {
	return i.list(ctx, pendingFor(userID, email))
}

func (i invitationRepo) CountPendingFor(ctx context.Context, userID uuid.UUID, email string) (int, error) {
	list, err := i.list(ctx, pendingFor(userID, email))
	return len(list), err
}

func pendingFor(userID uuid.UUID, email string) func(model.Invitation) bool {
	return func(inv model.Invitation) bool {
		if !inv.IsPending() {
			return false
		}
		if inv.ReceiverID != nil && *inv.ReceiverID == userID {
			return true
		}
		return inv.Email == email
	}
}

func (i invitationRepo) list(ctx context.Context, match func(model.Invitation) bool) ([]*model.Invitation, error) {
	var out []*model.Invitation
	err := i.r.do(ctx, func(d *data, _ time.Time) error {
		for _, inv := range d.invitations {
			if match(inv) {
				out = append(out, &inv)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	return out, err
}

func (i invitationRepo) Resolve(ctx context.Context, id uuid.UUID, status model.InvitationStatus, at time.Time) (*model.Invitation, error) {
	var out *model.Invitation
	err := i.r.do(ctx, func(d *data, _ time.Time) error {
		inv, ok := d.invitations[id]
		if !ok {
			return store.ErrNotFound
		}
		if !inv.IsPending() {
			return store.ErrConditionFailed
		}
		inv.Status = status
		inv.ResolvedAt = &at
		d.invitations[id] = inv
		out = &inv
		return nil
	})
	return out, err
}

func (i invitationRepo) DeletePending(ctx context.Context, id uuid.UUID) error {
	return i.r.do(ctx, func(d *data, _ time.Time) error {
		inv, ok := d.invitations[id]
		if !ok {
			return store.ErrNotFound
		}
		if !inv.IsPending() {
			return store.ErrConditionFailed
		}
		delete(d.invitations, id)
		return nil
	})
}

func (i invitationRepo) AttachReceiver(ctx context.Context, email string, userID uuid.UUID) (int, error) {
	n := 0
	err := i.r.do(ctx, func(d *data, _ time.Time) error {
		for id, inv := range d.invitations {
			if inv.IsPending() && inv.ReceiverID == nil && inv.Email == email {
				uid := userID
				inv.ReceiverID = &uid
				d.invitations[id] = inv
				n++
			}
		}
		return nil
	})
	return n, err
}

// --- share links ---

type linkRepo struct{ r *repos }

func (l linkRepo) Create(ctx context.Context, link *model.ShareLink) error {
	return l.r.do(ctx, func(d *data, now time.Time) error {
		if _, ok := d.links[link.ID]; ok {
			return store.ErrDuplicate
		}
		stamp(&link.CreatedAt, now)
		d.links[link.ID] = *link
		return nil
	})
}

func (l linkRepo) GetByID(ctx context.Context, id string) (*model.ShareLink, error) {
	var out *model.ShareLink
	err := l.r.do(ctx, func(d *data, _ time.Time) error {
		link, ok := d.links[id]
		if !ok {
			return store.ErrNotFound
		}
		out = &link
		return nil
	})
	return out, err
}

func (l linkRepo) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*model.ShareLink, error) {
	var out []*model.ShareLink
	err := l.r.do(ctx, func(d *data, _ time.Time) error {
		for _, link := range d.links {
			if link.ProjectID == projectID {
				out = append(out, &link)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, err
}

func (l linkRepo) ConsumeUse(ctx context.Context, id string, now time.Time) (*model.ShareLink, error) {
	var out *model.ShareLink
	err := l.r.do(ctx, func(d *data, _ time.Time) error {
		link, ok := d.links[id]
		if !ok {
			return store.ErrNotFound
		}
		if !link.IsRedeemable(now) {
			return store.ErrConditionFailed
		}
		link.UsedCount++
		if link.IsExhausted() {
			link.Active = false
			link.DeactivatedAt = &now
		}
		d.links[id] = link
		out = &link
		return nil
	})
	return out, err
}

func (l linkRepo) Deactivate(ctx context.Context, id string, at time.Time) (bool, error) {
	changed := false
	err := l.r.do(ctx, func(d *data, _ time.Time) error {
		link, ok := d.links[id]
		if !ok {
			return store.ErrNotFound
		}
		if !link.Active {
			return nil
		}
		link.Active = false
		link.DeactivatedAt = &at
		d.links[id] = link
		changed = true
		return nil
	})
	return changed, err
}

func (l linkRepo) DeactivateExpired(ctx context.Context, now time.Time) (int, error) {
	n := 0
	err := l.r.do(ctx, func(d *data, _ time.Time) error {
		for id, link := range d.links {
			if link.Active && link.IsExpired(now) {
				link.Active = false
				link.DeactivatedAt = &now
				d.links[id] = link
				n++
			}
		}
		return nil
	})
	return n, err
}

// --- notifications ---

type notificationRepo struct{ r *repos }

func (n notificationRepo) Create(ctx context.Context, notification *model.Notification) (bool, error) {
	created := false
	err := n.r.do(ctx, func(d *data, now time.Time) error {
		if _, ok := d.notifications[notification.ID]; ok {
			return store.ErrDuplicate
		}
		if notification.DedupeKey != "" {
			key := dedupeKey{notification.UserID, notification.DedupeKey}
			if _, ok := d.dedupe[key]; ok {
				return nil
			}
			d.dedupe[key] = notification.ID
		}
		stamp(&notification.CreatedAt, now)
		d.notifications[notification.ID] = *notification
		d.notifOrder = append(d.notifOrder, notification.ID)
		created = true
		return nil
	})
	return created, err
}

func (n notificationRepo) List(ctx context.Context, userID uuid.UUID, filter store.NotificationFilter) ([]*model.Notification, error) {
	var out []*model.Notification
	err := n.r.do(ctx, func(d *data, _ time.Time) error {
		for i := len(d.notifOrder) - 1; i >= 0; i-- {
			item := d.notifications[d.notifOrder[i]]
			if item.UserID != userID {
				continue
			}
			if filter.UnreadOnly && item.Read {
				continue
			}
			if filter.Before != nil && !item.CreatedAt.Before(*filter.Before) {
				continue
			}
			out = append(out, &item)
			if filter.Limit > 0 && len(out) == filter.Limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func (n notificationRepo) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	count := 0
	err := n.r.do(ctx, func(d *data, _ time.Time) error {
		for _, item := range d.notifications {
			if item.UserID == userID && !item.Read {
				count++
			}
		}
		return nil
	})
	return count, err
}

func (n notificationRepo) MarkRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID, at time.Time) (int, error) {
	count := 0
	err := n.r.do(ctx, func(d *data, _ time.Time) error {
		for _, id := range ids {
			item, ok := d.notifications[id]
			if !ok || item.UserID != userID || item.Read {
				continue
			}
			item.Read = true
			item.ReadAt = &at
			d.notifications[id] = item
			count++
		}
		return nil
	})
	return count, err
}

func (n notificationRepo) MarkAllRead(ctx context.Context, userID uuid.UUID, at time.Time) (int, error) {
	count := 0
	err := n.r.do(ctx, func(d *data, _ time.Time) error {
		for id, item := range d.notifications {
			if item.UserID != userID || item.Read {
				continue
			}
			item.Read = true
			item.ReadAt = &at
			d.notifications[id] = item
			count++
		}
		return nil
	})
	return count, err
}

// --- todos ---

type todoRepo struct{ r *repos }

func (t todoRepo) Create(ctx context.Context, todo *model.Todo) error {
	return t.r.do(ctx, func(d *data, now time.Time) error {
		if _, ok := d.todos[todo.ID]; ok {
			return store.ErrDuplicate
		}
		stamp(&todo.CreatedAt, now)
		todo.UpdatedAt = todo.CreatedAt
		stored := *todo
		stored.Tags = slices.Clone(todo.Tags)
		d.todos[todo.ID] = stored
		return nil
	})
}

func (t todoRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Todo, error) {
	var out *model.Todo
	err := t.r.do(ctx, func(d *data, _ time.Time) error {
		todo, ok := d.todos[id]
		if !ok {
			return store.ErrNotFound
		}
		todo.Tags = slices.Clone(todo.Tags)
		out = &todo
		return nil
	})
	return out, err
}

func (t todoRepo) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*model.Todo, error) {
	var out []*model.Todo
	err := t.r.do(ctx, func(d *data, _ time.Time) error {
		for _, todo := range d.todos {
			if todo.ProjectID == projectID {
				todo.Tags = slices.Clone(todo.Tags)
				out = append(out, &todo)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, err
}

func (t todoRepo) Update(ctx context.Context, todo *model.Todo) error {
	return t.r.do(ctx, func(d *data, now time.Time) error {
		existing, ok := d.todos[todo.ID]
		if !ok {
			return store.ErrNotFound
		}
		todo.ProjectID = existing.ProjectID
		todo.CreatorID = existing.CreatorID
		todo.CreatedAt = existing.CreatedAt
		todo.UpdatedAt = now
		stored := *todo
		stored.Tags = slices.Clone(todo.Tags)
		d.todos[todo.ID] = stored
		return nil
	})
}

func (t todoRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return t.r.do(ctx, func(d *data, _ time.Time) error {
		if _, ok := d.todos[id]; !ok {
			return store.ErrNotFound
		}
		delete(d.todos, id)
		return nil
	})
}

// --- friendships ---

type friendshipRepo struct{ r *repos }

func (f friendshipRepo) Upsert(ctx context.Context, friendship model.Friendship) error {
	friendship = model.NewFriendship(friendship.UserLowID, friendship.UserHighID)
	return f.r.do(ctx, func(d *data, now time.Time) error {
		key := friendKey{friendship.UserLowID, friendship.UserHighID}
		if _, ok := d.friendships[key]; ok {
			return nil
		}
		stamp(&friendship.CreatedAt, now)
		d.friendships[key] = friendship
		return nil
	})
}

func (f friendshipRepo) ListFor(ctx context.Context, userID uuid.UUID) ([]model.Friendship, error) {
	var out []model.Friendship
	err := f.r.do(ctx, func(d *data, _ time.Time) error {
		for _, fr := range d.friendships {
			if fr.UserLowID == userID || fr.UserHighID == userID {
				out = append(out, fr)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, err
}

func (f friendshipRepo) Delete(ctx context.Context, friendship model.Friendship) error {
	friendship = model.NewFriendship(friendship.UserLowID, friendship.UserHighID)
	return f.r.do(ctx, func(d *data, _ time.Time) error {
		key := friendKey{friendship.UserLowID, friendship.UserHighID}
		if _, ok := d.friendships[key]; !ok {
			return store.ErrNotFound
		}
		delete(d.friendships, key)
		return nil
	})
}

// --- settings ---

type settingRepo struct{ r *repos }

func (s settingRepo) Get(ctx context.Context, key string) (*model.Setting, error) {
	var out *model.Setting
	err := s.r.do(ctx, func(d *data, _ time.Time) error {
		setting, ok := d.settings[key]
		if !ok {
			return store.ErrNotFound
		}
		out = &setting
		return nil
	})
	return out, err
}

func (s settingRepo) Put(ctx context.Context, key, value string) error {
	return s.r.do(ctx, func(d *data, now time.Time) error {
		d.settings[key] = model.Setting{Key: key, Value: value, UpdatedAt: now}
		return nil
	})
}
