package postgres

import (
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
)

func TestDefaultTxOptions(t *testing.T) {
	opts := DefaultTxOptions()

	assert.Equal(t, pgx.ReadCommitted, opts.IsolationLevel)
	assert.Equal(t, pgx.ReadWrite, opts.AccessMode)
	assert.False(t, opts.UseSavepoint)
	assert.Positive(t, opts.StatementTimeout)
}

func TestSerializableTxOptions(t *testing.T) {
	opts := SerializableTxOptions()

	assert.Equal(t, pgx.Serializable, opts.IsolationLevel)
	assert.Equal(t, pgx.ReadWrite, opts.AccessMode)
}

func TestReadOnlyTxOptions(t *testing.T) {
	// Reconciliation sums lots and ledger movements in separate statements;
	// repeatable read keeps both on one snapshot so a sale committing in
	// between cannot make the two totals disagree.
	opts := ReadOnlyTxOptions()

	assert.Equal(t, pgx.RepeatableRead, opts.IsolationLevel)
	assert.Equal(t, pgx.ReadOnly, opts.AccessMode)
}
