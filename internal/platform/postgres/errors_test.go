package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/fieldlens/analysis-queue/internal/store"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

// newPgError builds a PgError carrying code.
func newPgError(code string) *pgconn.PgError {
	return &pgconn.PgError{
		Code:           code,
		Message:        "error message",
		TableName:      "analysis_jobs",
		ColumnName:     "status",
		ConstraintName: "analysis_jobs_status_check",
	}
}

// fakeResult implements sql.Result for testing
type fakeResult struct {
	rowsAffected int64
	err          error
}

func (r fakeResult) LastInsertId() (int64, error) { return 0, r.err }
func (r fakeResult) RowsAffected() (int64, error) { return r.rowsAffected, r.err }

func TestMapError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		err         error
		want        error
		persistence bool
	}{
		{name: "no rows", err: sql.ErrNoRows, want: store.ErrNotFound},
		{name: "unique violation", err: newPgError(uniqueViolationCode), want: store.ErrDuplicate},
		{name: "check violation", err: newPgError(checkViolationCode), want: store.ErrInvalidEntity},
		{name: "foreign key violation", err: newPgError(foreignKeyViolationCode), want: store.ErrInvalidEntity},
		{name: "not null violation", err: newPgError(notNullViolationCode), want: store.ErrInvalidEntity},
		{name: "wrapped unique violation", err: fmt.Errorf("exec: %w", newPgError(uniqueViolationCode)), want: store.ErrDuplicate},
		{name: "connection failure", err: errors.New("dial tcp: connection refused"), persistence: true},
		{name: "other pg error", err: newPgError("57P01"), persistence: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := MapError("claim job", tt.err)
			if tt.persistence {
				var pe *store.PersistenceError
				assert.ErrorAs(t, got, &pe)
				assert.Equal(t, "claim job", pe.Op)
				return
			}
			assert.ErrorIs(t, got, tt.want)
		})
	}

	assert.NoError(t, MapError("noop", nil))
}

func TestConstraintHelpers(t *testing.T) {
	t.Parallel()

	assert.True(t, IsUniqueViolation(newPgError(uniqueViolationCode)))
	assert.False(t, IsUniqueViolation(newPgError(checkViolationCode)))
	assert.False(t, IsUniqueViolation(errors.New("generic error")))
	assert.False(t, IsUniqueViolation(nil))

	assert.True(t, IsCheckConstraintViolation(fmt.Errorf("wrapped: %w", newPgError(checkViolationCode))))
	assert.False(t, IsCheckConstraintViolation(newPgError(uniqueViolationCode)))
}

func TestCheckFenced(t *testing.T) {
	t.Parallel()

	assert.NoError(t, checkFenced("heartbeat", fakeResult{rowsAffected: 1}))
	assert.ErrorIs(t, checkFenced("heartbeat", fakeResult{}), store.ErrClaimLost)
	assert.Error(t, checkFenced("heartbeat", nil))

	err := checkFenced("heartbeat", fakeResult{err: errors.New("driver gone")})
	assert.True(t, store.IsPersistenceError(err))
}

func TestLimitOrAll(t *testing.T) {
	t.Parallel()

	assert.Nil(t, limitOrAll(0))
	assert.Nil(t, limitOrAll(-1))
	assert.Equal(t, 25, limitOrAll(25))
}
