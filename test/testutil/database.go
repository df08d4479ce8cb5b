// Package testutil provides shared database test scaffolding for every
// internal package's integration tests, grounded on the teacher's
// test/util helper: one shared testcontainer per local test run (or the
// CI_DATABASE_URL service container), isolated per test by schema.
package testutil

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dropshiptriage/triage/internal/store"
)

var (
	sharedConnStr string
	containerOnce sync.Once
	containerErr  error
)

// NewStore starts (or reuses) a Postgres instance, creates an isolated
// schema for this test, migrates it, and returns a ready *store.Store. The
// schema is dropped on test cleanup.
func NewStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()

	base := sharedDatabase(t)
	schema := schemaName(t)

	admin, err := pgxpool.New(ctx, base)
	require.NoError(t, err)
	_, err = admin.Exec(ctx, fmt.Sprintf("CREATE SCHEMA %s", schema))
	require.NoError(t, err)
	admin.Close()

	t.Cleanup(func() {
		cleanup, err := pgxpool.New(context.Background(), base)
		if err != nil {
			t.Logf("testutil: failed to reconnect for schema cleanup: %v", err)
			return
		}
		defer cleanup.Close()
		if _, err := cleanup.Exec(context.Background(), fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema)); err != nil {
			t.Logf("testutil: failed to drop schema %s: %v", schema, err)
		}
	})

	st, err := store.New(ctx, store.Config{DSN: withSearchPath(base, schema)})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func sharedDatabase(t *testing.T) string {
	t.Helper()
	if url := os.Getenv("CI_DATABASE_URL"); url != "" {
		return url
	}

	containerOnce.Do(func() {
		ctx := context.Background()
		pgContainer, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("triage_test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			containerErr = fmt.Errorf("starting postgres container: %w", err)
			return
		}
		sharedConnStr, containerErr = pgContainer.ConnectionString(ctx, "sslmode=disable")
	})
	require.NoError(t, containerErr)
	return sharedConnStr
}

func schemaName(t *testing.T) string {
	t.Helper()
	name := strings.ToLower(t.Name())
	name = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, name)
	if len(name) > 40 {
		name = name[:40]
	}
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("test_%s_%s", name, hex.EncodeToString(buf))
}

func withSearchPath(dsn, schema string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%ssearch_path=%s", dsn, sep, schema)
}
