package cache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/airouter/airouter/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_PutThenGetHits(t *testing.T) {
	c := New(DefaultConfig())
	v := types.CacheValue{EndpointUsed: "local", Response: types.ChatMessage{Content: "hi"}}
	c.Put("k1", v)

	got, ok := c.Get("k1")
	require.True(t, ok)
	assert.Equal(t, "local", got.EndpointUsed)
}

func TestCache_ExpiredEntryIsMiss(t *testing.T) {
	c := New(Config{TTL: 5 * time.Millisecond, MaxBytes: 1 << 20, MaxEntries: 100})
	c.Put("k1", types.CacheValue{EndpointUsed: "local"})

	time.Sleep(15 * time.Millisecond)
	_, ok := c.Get("k1")
	assert.False(t, ok)
}

func TestCache_EvictsLRUWhenOverEntryCap(t *testing.T) {
	c := New(Config{TTL: time.Minute, MaxBytes: 1 << 30, MaxEntries: 2})
	c.Put("a", types.CacheValue{EndpointUsed: "a"})
	c.Put("b", types.CacheValue{EndpointUsed: "b"})
	c.Get("a") // touch a, making b the LRU victim
	c.Put("c", types.CacheValue{EndpointUsed: "c"})

	_, aOK := c.Get("a")
	_, bOK := c.Get("b")
	_, cOK := c.Get("c")
	assert.True(t, aOK)
	assert.False(t, bOK)
	assert.True(t, cOK)
	assert.Equal(t, 2, c.Len())
}

func TestCache_GetOrComputeCoalescesConcurrentProducers(t *testing.T) {
	c := New(DefaultConfig())
	var calls int32

	var wg sync.WaitGroup
	results := make([]types.CacheValue, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			v, err := c.GetOrCompute("shared-key", func() (types.CacheValue, error) {
				atomic.AddInt32(&calls, 1)
				time.Sleep(10 * time.Millisecond)
				return types.CacheValue{EndpointUsed: "produced"}, nil
			})
			require.NoError(t, err)
			results[idx] = v
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, r := range results {
		assert.Equal(t, "produced", r.EndpointUsed)
	}
}

func TestCache_GetOrComputeDoesNotCacheProducerError(t *testing.T) {
	c := New(DefaultConfig())
	wantErr := assert.AnError

	_, err := c.GetOrCompute("k", func() (types.CacheValue, error) {
		return types.CacheValue{}, wantErr
	})
	assert.Error(t, err)

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestCache_InvalidateRemovesEntry(t *testing.T) {
	c := New(DefaultConfig())
	c.Put("k", types.CacheValue{EndpointUsed: "x"})
	c.Invalidate("k")

	_, ok := c.Get("k")
	assert.False(t, ok)
}
