package sessioncache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jpkontreras/orderflow/catalog"
	"github.com/jpkontreras/orderflow/event"
	"github.com/jpkontreras/orderflow/ordersession"
	"github.com/jpkontreras/orderflow/sessioncache"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, opts ...sessioncache.Option) (*sessioncache.Cache, *miniredis.Miniredis) {
	t.Helper()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})

	opts = append([]sessioncache.Option{sessioncache.Client(client)}, opts...)
	cache, err := sessioncache.New(opts...)
	require.NoError(t, err)

	return cache, srv
}

func TestCache_PutGet(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	entry := sessioncache.Entry{
		SessionID:      uuid.New(),
		Status:         "cart_building",
		ItemCount:      3,
		Subtotal:       6500,
		LastActivityAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	require.NoError(t, cache.Put(ctx, entry))

	got, err := cache.Get(ctx, entry.SessionID)
	require.NoError(t, err)
	assert.Equal(t, entry, got)
}

func TestCache_Get_miss(t *testing.T) {
	cache, _ := newTestCache(t)

	_, err := cache.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, sessioncache.ErrMiss)
}

func TestCache_ttlExpiry(t *testing.T) {
	cache, srv := newTestCache(t, sessioncache.TTL(time.Minute))
	ctx := context.Background()

	entry := sessioncache.Entry{SessionID: uuid.New(), Status: "initiated"}
	require.NoError(t, cache.Put(ctx, entry))

	_, err := cache.Get(ctx, entry.SessionID)
	require.NoError(t, err)

	srv.FastForward(2 * time.Minute)

	_, err = cache.Get(ctx, entry.SessionID)
	assert.ErrorIs(t, err, sessioncache.ErrMiss, "expired entries should read as misses")
}

func TestCache_Touch(t *testing.T) {
	cache, srv := newTestCache(t, sessioncache.TTL(time.Minute))
	ctx := context.Background()

	entry := sessioncache.Entry{SessionID: uuid.New(), Status: "initiated"}
	require.NoError(t, cache.Put(ctx, entry))

	srv.FastForward(45 * time.Second)
	require.NoError(t, cache.Touch(ctx, entry.SessionID))
	srv.FastForward(45 * time.Second)

	_, err := cache.Get(ctx, entry.SessionID)
	assert.NoError(t, err, "a touched entry should survive past its original TTL")

	assert.ErrorIs(t, cache.Touch(ctx, uuid.New()), sessioncache.ErrMiss)
}

func TestCache_Delete(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	entry := sessioncache.Entry{SessionID: uuid.New()}
	require.NoError(t, cache.Put(ctx, entry))
	require.NoError(t, cache.Delete(ctx, entry.SessionID))

	_, err := cache.Get(ctx, entry.SessionID)
	assert.ErrorIs(t, err, sessioncache.ErrMiss)
}

func TestCache_RecordActivity(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	item := catalog.Item{ID: "empanada", Name: "Empanada", CurrentPrice: 2500, IsActive: true}

	sess := ordersession.New(uuid.New())
	require.NoError(t, sess.Start(event.Metadata{}))
	require.NoError(t, sess.AddItem(item, 2, nil, "", event.Metadata{}))

	require.NoError(t, cache.RecordActivity(ctx, sess))

	entry, err := cache.Get(ctx, sess.AggregateID())
	require.NoError(t, err)
	assert.Equal(t, "cart_building", entry.Status)
	assert.Equal(t, 2, entry.ItemCount)
	assert.Equal(t, int64(5000), entry.Subtotal)

	// Terminal sessions are evicted instead of cached.
	require.NoError(t, sess.Abandon("done", event.Metadata{}))
	require.NoError(t, cache.RecordActivity(ctx, sess))

	_, err = cache.Get(ctx, sess.AggregateID())
	assert.ErrorIs(t, err, sessioncache.ErrMiss)
}
