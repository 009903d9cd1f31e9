package repositories

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/octorules/engine/pkg/apperrors"
)

func TestPersistError_ClassifiesIntegrityViolations(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		consistency bool
	}{
		{"foreign key violation", &pgconn.PgError{Code: "23503", Message: "violates foreign key constraint"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505", Message: "duplicate key value"}, true},
		{"not-null violation", &pgconn.PgError{Code: "23502", Message: "null value in column"}, true},
		{"wrapped integrity violation", fmt.Errorf("scan: %w", &pgconn.PgError{Code: "23503"}), true},
		{"serialization failure", &pgconn.PgError{Code: "40001", Message: "could not serialize"}, false},
		{"plain transport error", errors.New("connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := persistError(tt.err, "failed to upsert pull request")
			assert.Equal(t, tt.consistency, errors.Is(got, apperrors.ErrConsistency))
			assert.Contains(t, got.Error(), "failed to upsert pull request")
		})
	}
}
