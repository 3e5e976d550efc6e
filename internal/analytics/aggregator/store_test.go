package aggregator

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pucknotes/note-discovery/internal/analytics"
	"github.com/pucknotes/note-discovery/pkg/config"
	"github.com/pucknotes/note-discovery/pkg/postgres"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	host := os.Getenv("TEST_POSTGRES_HOST")
	if host == "" {
		t.Skip("TEST_POSTGRES_HOST not set")
	}
	port := 5432
	if v := os.Getenv("TEST_POSTGRES_PORT"); v != "" {
		port, _ = strconv.Atoi(v)
	}
	db, err := postgres.New(config.PostgresConfig{
		Host:         host,
		Port:         port,
		Database:     os.Getenv("TEST_POSTGRES_DB"),
		User:         os.Getenv("TEST_POSTGRES_USER"),
		Password:     os.Getenv("TEST_POSTGRES_PASSWORD"),
		SSLMode:      "disable",
		MaxOpenConns: 2,
		MaxIdleConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := NewStore(db)
	require.NoError(t, s.Migrate(context.Background()))
	_, err = db.DB.Exec(`TRUNCATE discovery_snapshots`)
	require.NoError(t, err)
	return s
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	latest, err := s.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveSnapshot(ctx, analytics.Stats{TotalPasses: 1}, base))
	require.NoError(t, s.SaveSnapshot(ctx, analytics.Stats{TotalPasses: 2, TopQueries: []analytics.QueryCount{{Query: "heaps", Count: 2}}}, base.Add(time.Minute)))

	latest, err = s.LatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.EqualValues(t, 2, latest.Stats.TotalPasses)
	assert.True(t, latest.CapturedAt.Equal(base.Add(time.Minute)))

	list, err := s.ListSnapshots(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.EqualValues(t, 1, list[1].Stats.TotalPasses)
}
