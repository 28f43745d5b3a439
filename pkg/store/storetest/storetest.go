package storetest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/getsolus/eopkg2stone/pkg/store"
)

// InitStore opens an initialized store in a test temp dir, optionally
// pre-populated with fetches.
func InitStore(t *testing.T, fetches []store.Fetch) *store.Store {
	t.Helper()

	s, err := store.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Init())

	if len(fetches) > 0 {
		require.NoError(t, s.RecordAll(fetches))
	}
	return s
}
