package project

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/taskhub/server/internal/infra/events"
	"github.com/taskhub/server/internal/model"
	"github.com/taskhub/server/internal/module/access"
	"github.com/taskhub/server/internal/module/notification"
	apperrors "github.com/taskhub/server/internal/shared/errors"
	"github.com/taskhub/server/internal/store"
)

// TodoInput is the request to create a todo.
type TodoInput struct {
	Title string
	Notes string
	DueAt *time.Time
	Tags  []string
}

// TodoPatch changes a todo. Nil fields are left alone.
type TodoPatch struct {
	Title *string
	Notes *string
	Done  *bool
	DueAt *time.Time
	Tags  *[]string
}

// ListTodos returns the project's todos. Requires view.
func (s *Service) ListTodos(ctx context.Context, actorID, projectID uuid.UUID) ([]*model.Todo, error) {
	if _, _, err := s.resolver.Require(ctx, s.store, actorID, projectID, model.CapabilityView); err != nil {
		return nil, err
	}
	todos, err := s.store.Todos().ListByProject(ctx, projectID)
	if err != nil {
		return nil, apperrors.Internal("failed to list todos", err)
	}
	return todos, nil
}

// GetTodo returns one todo. Requires view.
func (s *Service) GetTodo(ctx context.Context, actorID, projectID, todoID uuid.UUID) (*model.Todo, error) {
	if _, _, err := s.resolver.Require(ctx, s.store, actorID, projectID, model.CapabilityView); err != nil {
		return nil, err
	}
	return loadTodo(ctx, s.store, projectID, todoID)
}

// CreateTodo adds a todo. Requires edit.
func (s *Service) CreateTodo(ctx context.Context, actorID, projectID uuid.UUID, in TodoInput) (*model.Todo, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, apperrors.Invalid("title is required")
	}

	todo := &model.Todo{
		ID:        uuid.New(),
		ProjectID: projectID,
		CreatorID: actorID,
		Title:     title,
		Notes:     in.Notes,
		DueAt:     in.DueAt,
		Tags:      pq.StringArray(normalizeTags(in.Tags)),
	}
	err := s.uow.Run(ctx, func(tx store.Repos, emit notification.Emit) error {
		if _, _, err := s.resolver.Require(ctx, tx, actorID, projectID, model.CapabilityEdit); err != nil {
			return err
		}
		if err := tx.Todos().Create(ctx, todo); err != nil {
			return err
		}
		emit(events.NewTodoChanged(events.OpCreated, *todo, actorID))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return todo, nil
}

// UpdateTodo changes a todo. Editors may change any todo; viewers only
// their own.
func (s *Service) UpdateTodo(ctx context.Context, actorID, projectID, todoID uuid.UUID, patch TodoPatch) (*model.Todo, error) {
	var todo *model.Todo
	err := s.uow.Run(ctx, func(tx store.Repos, emit notification.Emit) error {
		capability, _, err := s.resolver.Require(ctx, tx, actorID, projectID, model.CapabilityView)
		if err != nil {
			return err
		}
		todo, err = loadTodo(ctx, tx, projectID, todoID)
		if err != nil {
			return err
		}
		if !access.CanEdit(capability, todo.IsCreator(actorID)) {
			return apperrors.ErrForbidden
		}

		if patch.Title != nil {
			title := strings.TrimSpace(*patch.Title)
			if title == "" {
				return apperrors.Invalid("title is required")
			}
			todo.Title = title
		}
		if patch.Notes != nil {
			todo.Notes = *patch.Notes
		}
		if patch.Done != nil {
			todo.Done = *patch.Done
		}
		if patch.DueAt != nil {
			todo.DueAt = patch.DueAt
		}
		if patch.Tags != nil {
			todo.Tags = pq.StringArray(normalizeTags(*patch.Tags))
		}
		if err := tx.Todos().Update(ctx, todo); err != nil {
			return notFound(err, "todo")
		}
		emit(events.NewTodoChanged(events.OpUpdated, *todo, actorID))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return todo, nil
}

// DeleteTodo removes a todo. Admins may delete any todo; editors only
// their own.
func (s *Service) DeleteTodo(ctx context.Context, actorID, projectID, todoID uuid.UUID) error {
	return s.uow.Run(ctx, func(tx store.Repos, emit notification.Emit) error {
		capability, _, err := s.resolver.Require(ctx, tx, actorID, projectID, model.CapabilityView)
		if err != nil {
			return err
		}
		todo, err := loadTodo(ctx, tx, projectID, todoID)
		if err != nil {
			return err
		}
		if !access.CanDelete(capability, todo.IsCreator(actorID)) {
			return apperrors.ErrForbidden
		}
		if err := tx.Todos().Delete(ctx, todo.ID); err != nil {
			return notFound(err, "todo")
		}
		emit(events.NewTodoChanged(events.OpDeleted, *todo, actorID))
		return nil
	})
}

// loadTodo reads a todo and checks it belongs to projectID.
func loadTodo(ctx context.Context, r store.Repos, projectID, todoID uuid.UUID) (*model.Todo, error) {
	todo, err := r.Todos().GetByID(ctx, todoID)
	if err != nil {
		return nil, notFound(err, "todo")
	}
	if todo.ProjectID != projectID {
		return nil, apperrors.NotFound("todo")
	}
	return todo, nil
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
