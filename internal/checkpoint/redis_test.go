package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis implements the handful of commands the store uses
type fakeRedis struct {
	redis.Cmdable
	data map[string]string
	err  error
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.data[key] = value.(string)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, k := range keys {
		delete(f.data, k)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func TestCursorRoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := &fakeRedis{data: map[string]string{}}
	store := NewRedisCursorStore(fake, "ven-simulator:", time.Second)

	assert.Equal(t, "ven-simulator:cursor", store.Key())

	_, ok, err := store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Save(ctx, 17))
	assert.Equal(t, "17", fake.data["ven-simulator:cursor"])

	index, ok, err := store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 17, index)

	require.NoError(t, store.Clear(ctx))
	_, ok, err = store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCursorCorruptValue(t *testing.T) {
	fake := &fakeRedis{data: map[string]string{"p:cursor": "abc"}}
	store := NewRedisCursorStore(fake, "p:", time.Second)

	_, _, err := store.Load(context.Background())
	assert.ErrorContains(t, err, "corrupt cursor")
}

func TestCursorBackendError(t *testing.T) {
	fake := &fakeRedis{data: map[string]string{}, err: errors.New("connection refused")}
	store := NewRedisCursorStore(fake, "p:", time.Second)

	_, _, err := store.Load(context.Background())
	assert.ErrorContains(t, err, "connection refused")
	assert.Error(t, store.Save(context.Background(), 1))
}
