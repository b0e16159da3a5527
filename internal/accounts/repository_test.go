package accounts

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestUniqueViolationDetection(t *testing.T) {
	dup := &pgconn.PgError{Code: "23505", ConstraintName: "accounts_tenant_id_code_key"}
	require.True(t, isUniqueViolation(dup))
	require.True(t, isUniqueViolation(fmt.Errorf("accounts: seed account 1000: %w", dup)))

	require.False(t, isUniqueViolation(errors.New("connection refused")))
	require.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
}
