package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ranking-agent/trapi-throttle/internal/throttle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoStoreIsInert(t *testing.T) {
	t.Parallel()

	s := NewNoStore()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "kp1", throttle.KPInfo{URL: "http://example.org"}))
	require.NoError(t, s.Delete(ctx, "kp1"))

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestSQLiteStoreSaveLoadDelete(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "registrations.db")
	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	info := throttle.KPInfo{URL: "http://kp1.example.org/query", RequestQty: 3, RequestDuration: time.Second}
	require.NoError(t, s.Save(ctx, "kp1", info))

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	require.Contains(t, loaded, "kp1")
	assert.Equal(t, info, loaded["kp1"])

	// Re-saving the same kp_id upserts rather than duplicating.
	updated := throttle.KPInfo{URL: "http://kp1.example.org/query", RequestQty: 5, RequestDuration: 2 * time.Second}
	require.NoError(t, s.Save(ctx, "kp1", updated))

	loaded, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
	assert.Equal(t, updated, loaded["kp1"])

	require.NoError(t, s.Delete(ctx, "kp1"))
	loaded, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "registrations.db")

	s1, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s1.Save(ctx, "kp1", throttle.KPInfo{URL: "http://kp1.example.org", RequestQty: 1, RequestDuration: time.Minute}))
	require.NoError(t, s1.Close())

	s2, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s2.Close()

	loaded, err := s2.Load(ctx)
	require.NoError(t, err)
	require.Contains(t, loaded, "kp1")
}
