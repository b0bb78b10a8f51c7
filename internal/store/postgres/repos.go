package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/taskhub/server/internal/model"
	"github.com/taskhub/server/internal/store"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// --- users ---

type userRepo struct{ db *gorm.DB }

func (r *userRepo) Create(ctx context.Context, user *model.User) error {
	return mapError(r.db.WithContext(ctx).Create(user).Error)
}

func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, mapError(err)
	}
	return &user, nil
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, mapError(err)
	}
	return &user, nil
}

func (r *userRepo) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*model.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var users []*model.User
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error
	return users, mapError(err)
}

func (r *userRepo) Update(ctx context.Context, user *model.User) error {
	result := r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ?", user.ID).
		Updates(map[string]interface{}{
			"display_name": user.DisplayName,
			"role":         user.Role,
			"updated_at":   time.Now(),
		})
	return affected(result)
}

// --- projects ---

type projectRepo struct{ db *gorm.DB }

func (r *projectRepo) Create(ctx context.Context, project *model.Project) error {
	return mapError(r.db.WithContext(ctx).Create(project).Error)
}

func (r *projectRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Project, error) {
	var project model.Project
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&project).Error; err != nil {
		return nil, mapError(err)
	}
	return &project, nil
}

func (r *projectRepo) ListOwned(ctx context.Context, ownerID uuid.UUID) ([]*model.Project, error) {
	var projects []*model.Project
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC").
		Find(&projects).Error
	return projects, mapError(err)
}

func (r *projectRepo) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*model.Project, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var projects []*model.Project
	err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("created_at ASC").
		Find(&projects).Error
	return projects, mapError(err)
}

func (r *projectRepo) Update(ctx context.Context, project *model.Project) error {
	result := r.db.WithContext(ctx).
		Model(&model.Project{}).
		Where("id = ?", project.ID).
		Updates(map[string]interface{}{
			"name":       project.Name,
			"color":      project.Color,
			"emoji":      project.Emoji,
			"updated_at": time.Now(),
		})
	return affected(result)
}

func (r *projectRepo) Delete(ctx context.Context, id uuid.UUID) error {
	db := r.db.WithContext(ctx)
	for _, dependent := range []interface{}{&model.Share{}, &model.Invitation{}, &model.ShareLink{}, &model.Todo{}} {
		if err := db.Where("project_id = ?", id).Delete(dependent).Error; err != nil {
			return mapError(err)
		}
	}
	return affected(db.Where("id = ?", id).Delete(&model.Project{}))
}

func (r *projectRepo) LockMembership(ctx context.Context, projectID, userID uuid.UUID) error {
	key := projectID.String() + ":" + userID.String()
	return mapError(r.db.WithContext(ctx).
		Exec("SELECT pg_advisory_xact_lock(hashtextextended(?, 0))", key).Error)
}

// --- shares ---

type shareRepo struct{ db *gorm.DB }

func (r *shareRepo) Create(ctx context.Context, share *model.Share) error {
	if share.ID == uuid.Nil {
		share.ID = uuid.New()
	}
	return mapError(r.db.WithContext(ctx).Create(share).Error)
}

func (r *shareRepo) Get(ctx context.Context, projectID, userID uuid.UUID) (*model.Share, error) {
	var share model.Share
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND user_id = ?", projectID, userID).
		First(&share).Error
	if err != nil {
		return nil, mapError(err)
	}
	return &share, nil
}

func (r *shareRepo) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*model.Share, error) {
	var shares []*model.Share
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at ASC").
		Find(&shares).Error
	return shares, mapError(err)
}

func (r *shareRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*model.Share, error) {
	var shares []*model.Share
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&shares).Error
	return shares, mapError(err)
}

func (r *shareRepo) UpdatePermission(ctx context.Context, projectID, userID uuid.UUID, permission model.Capability) error {
	result := r.db.WithContext(ctx).
		Model(&model.Share{}).
		Where("project_id = ? AND user_id = ?", projectID, userID).
		Updates(map[string]interface{}{"permission": permission, "updated_at": time.Now()})
	return affected(result)
}

func (r *shareRepo) Delete(ctx context.Context, projectID, userID uuid.UUID) error {
	return affected(r.db.WithContext(ctx).
		Where("project_id = ? AND user_id = ?", projectID, userID).
		Delete(&model.Share{}))
}

// --- invitations ---

type invitationRepo struct{ db *gorm.DB }

func (r *invitationRepo) Create(ctx context.Context, invitation *model.Invitation) error {
	return mapError(r.db.WithContext(ctx).Create(invitation).Error)
}

func (r *invitationRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Invitation, error) {
	var inv model.Invitation
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&inv).Error; err != nil {
		return nil, mapError(err)
	}
	return &inv, nil
}

func (r *invitationRepo) GetPending(ctx context.Context, projectID uuid.UUID, email string) (*model.Invitation, error) {
	var inv model.Invitation
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND email = ? AND status = ?", projectID, email, model.InvitationStatusPending).
		First(&inv).Error
	if err != nil {
		return nil, mapError(err)
	}
	return &inv, nil
}

func (r *invitationRepo) ListByProject(ctx context.Context, projectID uuid.UUID, status *model.InvitationStatus) ([]*model.Invitation, error) {
	query := r.db.WithContext(ctx).Where("project_id = ?", projectID)
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	var invitations []*model.Invitation
	err := query.Order("created_at DESC").Find(&invitations).Error
	return invitations, mapError(err)
}

func (r *invitationRepo) pendingFor(ctx context.Context, userID uuid.UUID, email string) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&model.Invitation{}).
		Where("status = ?", model.InvitationStatusPending).
		Where("receiver_id = ? OR email = ?", userID, email)
}

func (r *invitationRepo) ListPendingFor(ctx context.Context, userID uuid.UUID, email string) ([]*model.Invitation, error) {
	var invitations []*model.Invitation
	err := r.pendingFor(ctx, userID, email).Order("created_at DESC").Find(&invitations).Error
	return invitations, mapError(err)
}

func (r *invitationRepo) CountPendingFor(ctx context.Context, userID uuid.UUID, email string) (int, error) {
	var count int64
	err := r.pendingFor(ctx, userID, email).Count(&count).Error
	return int(count), mapError(err)
}

func (r *invitationRepo) Resolve(ctx context.Context, id uuid.UUID, status model.InvitationStatus, at time.Time) (*model.Invitation, error) {
	var inv model.Invitation
	result := r.db.WithContext(ctx).
		Model(&inv).
		Clauses(clause.Returning{}).
		Where("id = ? AND status = ?", id, model.InvitationStatusPending).
		Updates(map[string]interface{}{"status": status, "resolved_at": at})
	if result.Error != nil {
		return nil, mapError(result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, r.missOrCondition(ctx, id)
	}
	return &inv, nil
}

func (r *invitationRepo) DeletePending(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Where("id = ? AND status = ?", id, model.InvitationStatusPending).
		Delete(&model.Invitation{})
	if result.Error != nil {
		return mapError(result.Error)
	}
	if result.RowsAffected == 0 {
		return r.missOrCondition(ctx, id)
	}
	return nil
}

func (r *invitationRepo) missOrCondition(ctx context.Context, id uuid.UUID) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.Invitation{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return mapError(err)
	}
	if count == 0 {
		return store.ErrNotFound
	}
	return store.ErrConditionFailed
}

func (r *invitationRepo) AttachReceiver(ctx context.Context, email string, userID uuid.UUID) (int, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Invitation{}).
		Where("email = ? AND status = ? AND receiver_id IS NULL", email, model.InvitationStatusPending).
		Update("receiver_id", userID)
	return int(result.RowsAffected), mapError(result.Error)
}

// --- share links ---

type linkRepo struct{ db *gorm.DB }

func (r *linkRepo) Create(ctx context.Context, link *model.ShareLink) error {
	return mapError(r.db.WithContext(ctx).Create(link).Error)
}

func (r *linkRepo) GetByID(ctx context.Context, id string) (*model.ShareLink, error) {
	var link model.ShareLink
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&link).Error; err != nil {
		return nil, mapError(err)
	}
	return &link, nil
}

func (r *linkRepo) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*model.ShareLink, error) {
	var links []*model.ShareLink
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at DESC").
		Find(&links).Error
	return links, mapError(err)
}

const consumeUseSQL = `
UPDATE share_links
SET used_count = used_count + 1,
    active = CASE WHEN max_uses IS NOT NULL AND used_count + 1 >= max_uses THEN FALSE ELSE active END,
    deactivated_at = CASE WHEN max_uses IS NOT NULL AND used_count + 1 >= max_uses THEN ? ELSE deactivated_at END
WHERE id = ?
  AND active
  AND (expires_at IS NULL OR expires_at > ?)
  AND (max_uses IS NULL OR used_count < max_uses)
RETURNING *`

func (r *linkRepo) ConsumeUse(ctx context.Context, id string, now time.Time) (*model.ShareLink, error) {
	var links []model.ShareLink
	result := r.db.WithContext(ctx).Raw(consumeUseSQL, now, id, now).Scan(&links)
	if result.Error != nil {
		return nil, mapError(result.Error)
	}
	if len(links) == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&model.ShareLink{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return nil, mapError(err)
		}
		if count == 0 {
			return nil, store.ErrNotFound
		}
		return nil, store.ErrConditionFailed
	}
	return &links[0], nil
}

func (r *linkRepo) Deactivate(ctx context.Context, id string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.ShareLink{}).
		Where("id = ? AND active", id).
		Updates(map[string]interface{}{"active": false, "deactivated_at": at})
	if result.Error != nil {
		return false, mapError(result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (r *linkRepo) DeactivateExpired(ctx context.Context, now time.Time) (int, error) {
	result := r.db.WithContext(ctx).
		Model(&model.ShareLink{}).
		Where("active AND expires_at IS NOT NULL AND expires_at <= ?", now).
		Updates(map[string]interface{}{"active": false, "deactivated_at": now})
	return int(result.RowsAffected), mapError(result.Error)
}

// --- notifications ---

type notificationRepo struct{ db *gorm.DB }

func (r *notificationRepo) Create(ctx context.Context, notification *model.Notification) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(notification)
	if result.Error != nil {
		return false, mapError(result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *notificationRepo) List(ctx context.Context, userID uuid.UUID, filter store.NotificationFilter) ([]*model.Notification, error) {
	query := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if filter.UnreadOnly {
		query = query.Where("NOT read")
	}
	if filter.Before != nil {
		query = query.Where("created_at < ?", *filter.Before)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var notifications []*model.Notification
	err := query.Order("created_at DESC").Find(&notifications).Error
	return notifications, mapError(err)
}

func (r *notificationRepo) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("user_id = ? AND NOT read", userID).
		Count(&count).Error
	return int(count), mapError(err)
}

func (r *notificationRepo) MarkRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID, at time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("user_id = ? AND id IN ? AND NOT read", userID, ids).
		Updates(map[string]interface{}{"read": true, "read_at": at})
	return int(result.RowsAffected), mapError(result.Error)
}

func (r *notificationRepo) MarkAllRead(ctx context.Context, userID uuid.UUID, at time.Time) (int, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("user_id = ? AND NOT read", userID).
		Updates(map[string]interface{}{"read": true, "read_at": at})
	return int(result.RowsAffected), mapError(result.Error)
}

// --- todos ---

type todoRepo struct{ db *gorm.DB }

func (r *todoRepo) Create(ctx context.Context, todo *model.Todo) error {
	return mapError(r.db.WithContext(ctx).Create(todo).Error)
}

func (r *todoRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Todo, error) {
	var todo model.Todo
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&todo).Error; err != nil {
		return nil, mapError(err)
	}
	return &todo, nil
}

func (r *todoRepo) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*model.Todo, error) {
	var todos []*model.Todo
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at ASC").
		Find(&todos).Error
	return todos, mapError(err)
}

func (r *todoRepo) Update(ctx context.Context, todo *model.Todo) error {
	result := r.db.WithContext(ctx).
		Model(&model.Todo{}).
		Where("id = ?", todo.ID).
		Updates(map[string]interface{}{
			"title":      todo.Title,
			"notes":      todo.Notes,
			"done":       todo.Done,
			"due_at":     todo.DueAt,
			"tags":       todo.Tags,
			"updated_at": time.Now(),
		})
	return affected(result)
}

func (r *todoRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return affected(r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Todo{}))
}

// --- friendships ---

type friendshipRepo struct{ db *gorm.DB }

func (r *friendshipRepo) Upsert(ctx context.Context, friendship model.Friendship) error {
	f := model.NewFriendship(friendship.UserLowID, friendship.UserHighID)
	return mapError(r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&f).Error)
}

func (r *friendshipRepo) ListFor(ctx context.Context, userID uuid.UUID) ([]model.Friendship, error) {
	var friendships []model.Friendship
	err := r.db.WithContext(ctx).
		Where("user_low_id = ? OR user_high_id = ?", userID, userID).
		Order("created_at ASC").
		Find(&friendships).Error
	return friendships, mapError(err)
}

func (r *friendshipRepo) Delete(ctx context.Context, friendship model.Friendship) error {
	f := model.NewFriendship(friendship.UserLowID, friendship.UserHighID)
	return affected(r.db.WithContext(ctx).
		Where("user_low_id = ? AND user_high_id = ?", f.UserLowID, f.UserHighID).
		Delete(&model.Friendship{}))
}

// --- settings ---

type settingRepo struct{ db *gorm.DB }

func (r *settingRepo) Get(ctx context.Context, key string) (*model.Setting, error) {
	var setting model.Setting
	if err := r.db.WithContext(ctx).Where("key = ?", key).First(&setting).Error; err != nil {
		return nil, mapError(err)
	}
	return &setting, nil
}

func (r *settingRepo) Put(ctx context.Context, key, value string) error {
	setting := model.Setting{Key: key, Value: value, UpdatedAt: time.Now()}
	return mapError(r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&setting).Error)
}

// affected maps a zero-row write to store.ErrNotFound.
func affected(result *gorm.DB) error {
	if result.Error != nil {
		return mapError(result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}
