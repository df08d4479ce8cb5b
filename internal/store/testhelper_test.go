package store_test

import (
	"testing"

	"github.com/dropshiptriage/triage/internal/store"
	"github.com/dropshiptriage/triage/test/testutil"
)

// newTestStore spins up (or reuses) a disposable Postgres schema and
// returns a migrated Store, isolated from every other test's schema.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	return testutil.NewStore(t)
}
