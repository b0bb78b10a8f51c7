package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/taskhub/server/internal/store"
	"gorm.io/gorm"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"record not found", gorm.ErrRecordNotFound, store.ErrNotFound},
		{"wrapped not found", fmt.Errorf("query: %w", gorm.ErrRecordNotFound), store.ErrNotFound},
		{"unique violation", &pgconn.PgError{Code: "23505", ConstraintName: "idx_shares_project_user"}, store.ErrDuplicate},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, store.ErrConflict},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, store.ErrConflict},
		{"gorm duplicated key", gorm.ErrDuplicatedKey, store.ErrDuplicate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapError(tt.err), tt.want)
		})
	}

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, mapError(nil))
	})

	t.Run("unknown passes through", func(t *testing.T) {
		other := errors.New("connection refused")
		assert.Equal(t, other, mapError(other))
	})
}
