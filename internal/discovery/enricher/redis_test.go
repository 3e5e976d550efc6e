package enricher

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pucknotes/note-discovery/internal/notes"
	"github.com/pucknotes/note-discovery/pkg/config"
	pkgredis "github.com/pucknotes/note-discovery/pkg/redis"
)

func TestRedisCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client, err := pkgredis.NewClient(config.RedisConfig{Addr: addr, PoolSize: 2})
	if err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	defer client.Close()

	ctx := context.Background()
	rc := NewRedisCache(client, time.Minute)
	_, err = rc.Invalidate(ctx)
	require.NoError(t, err)

	_, ok := rc.Get(ctx, "S1")
	assert.False(t, ok)

	rc.Set(ctx, notes.Section{ID: "S1", Number: "01", Professors: []string{"Smith, J"}})
	sec, ok := rc.Get(ctx, "S1")
	require.True(t, ok)
	assert.Equal(t, "01", sec.Number)
	assert.Equal(t, "Smith", sec.PrimaryProfessor())
}
