package state

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/prp-orchestrator/internal/models"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStoreWithClient(client, ""), mr
}

func TestRedisStoreEmptyKey(t *testing.T) {
	store, _ := newTestRedisStore(t)

	rec, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rec.SubmissionWindow)
}

func TestRedisStoreUpdateRoundTrip(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	err := store.Update(ctx, func(r *Record) error {
		r.SubmissionWindow = append(r.SubmissionWindow, t0)
		r.LastBatchTime = &t0
		r.SetCursor(models.Cursor{Item: "b.md", Phase: models.PhaseMaterializeGenerate, Status: models.CursorProcessing})
		return nil
	})
	require.NoError(t, err)
	assert.True(t, mr.Exists(DefaultRedisKey))

	rec, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, rec.SubmissionWindow, 1)
	assert.True(t, rec.SubmissionWindow[0].Equal(t0))
	cur, ok := rec.Cursor()
	require.True(t, ok)
	assert.Equal(t, models.PhaseMaterializeGenerate, cur.Phase)
}

func TestNewRedisStoreFailsWithoutServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewRedisStore(ctx, RedisConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
