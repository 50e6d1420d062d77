package llm

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientCacheReusesClients(t *testing.T) {
	var built atomic.Int32
	cache := NewClientCache(time.Minute, func(token string) (Client, error) {
		built.Add(1)
		return &ClientFunc{}, nil
	})

	a, err := cache.Get("token-a")
	require.NoError(t, err)
	again, err := cache.Get("token-a")
	require.NoError(t, err)
	b, err := cache.Get("token-b")
	require.NoError(t, err)

	assert.Same(t, a, again)
	assert.NotSame(t, a, b)
	assert.Equal(t, int32(2), built.Load())
	assert.Equal(t, 2, cache.Len())
}

func TestClientCacheConcurrentMiss(t *testing.T) {
	var built atomic.Int32
	cache := NewClientCache(time.Minute, func(token string) (Client, error) {
		built.Add(1)
		time.Sleep(time.Millisecond)
		return &ClientFunc{}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Get("shared")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), built.Load())
}

func TestClientCacheFactoryError(t *testing.T) {
	cache := NewClientCache(time.Minute, func(token string) (Client, error) {
		return nil, errors.New("bad token")
	})

	_, err := cache.Get("x")
	require.Error(t, err)
	assert.Zero(t, cache.Len())
}

func TestClientCacheExpiry(t *testing.T) {
	var built atomic.Int32
	cache := NewClientCache(20*time.Millisecond, func(token string) (Client, error) {
		built.Add(1)
		return &ClientFunc{}, nil
	})

	_, err := cache.Get("t")
	require.NoError(t, err)
	time.Sleep(40 * time.Millisecond)
	_, err = cache.Get("t")
	require.NoError(t, err)

	assert.Equal(t, int32(2), built.Load())
}
