package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/storetest"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-bank-ledger/pkg/postgres"
)

func TestTranslateError(t *testing.T) {
	other := errors.New("connection reset")
	unknownUnique := &pgconn.PgError{Code: "23505", ConstraintName: "something_else"}

	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "nil", err: nil, want: nil},
		{name: "serialization failure", err: &pgconn.PgError{Code: "40001"}, want: domain.ErrConcurrencyConflict},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, want: domain.ErrConcurrencyConflict},
		{name: "lock timeout", err: fmt.Errorf("query: %w", &pgconn.PgError{Code: "55P03"}), want: domain.ErrConcurrencyConflict},
		{name: "duplicate account number", err: &pgconn.PgError{Code: "23505", ConstraintName: constraintAccountNumber}, want: domain.ErrDuplicateAccountNumber},
		{name: "duplicate ref id", err: &pgconn.PgError{Code: "23505", ConstraintName: constraintRefID}, want: domain.ErrTransactionAlreadyProcessed},
		{name: "unknown unique constraint passes through", err: unknownUnique, want: unknownUnique},
		{name: "non pg error passes through", err: other, want: other},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translateError(tt.err)
			if tt.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestStore_Conformance 需要真實 PostgreSQL：設定 LEDGER_TEST_POSTGRES_URL 才會執行
func TestStore_Conformance(t *testing.T) {
	url := os.Getenv("LEDGER_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("LEDGER_TEST_POSTGRES_URL not set")
	}

	ctx := context.Background()
	client, err := postgres.NewClient(ctx, postgres.Config{URL: url, MaxConns: 30}, nil)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	store := NewStore(client, WithLockTimeout(2*time.Second))
	require.NoError(t, store.Migrate(ctx))

	storetest.Run(t, func(t *testing.T) usecase.Store { return store })
}
