package idempotency

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoRunsOncePerKey(t *testing.T) {
	idx := New(time.Minute)
	var calls int32

	fn := func() (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return "result", nil
	}

	v1, replay1, err := idx.Do(ScopeSessionCreate, "k1", fn)
	require.NoError(t, err)
	assert.False(t, replay1)
	assert.Equal(t, "result", v1)

	v2, replay2, err := idx.Do(ScopeSessionCreate, "k1", fn)
	require.NoError(t, err)
	assert.True(t, replay2)
	assert.Equal(t, "result", v2)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDoCoalescesConcurrentCallers(t *testing.T) {
	idx := New(time.Minute)
	var calls int32
	release := make(chan struct{})

	fn := func() (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "winner", nil
	}

	const n = 8
	results := make([]interface{}, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			v, _, err := idx.Do(ScopeTurnSubmit, "shared", fn)
			require.NoError(t, err)
			results[i] = v
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, r := range results {
		assert.Equal(t, "winner", r)
	}
}

func TestDoNeverCachesFailure(t *testing.T) {
	idx := New(time.Minute)
	var calls int32

	fn := func() (interface{}, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return nil, errors.New("transient failure")
		}
		return "eventually ok", nil
	}

	_, _, err := idx.Do(ScopeSessionCreate, "k", fn)
	assert.Error(t, err)

	v, replay, err := idx.Do(ScopeSessionCreate, "k", fn)
	require.NoError(t, err)
	assert.False(t, replay)
	assert.Equal(t, "eventually ok", v)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSweepEvictsExpiredSuccesses(t *testing.T) {
	idx := New(time.Millisecond)
	idx.now = time.Now

	_, _, err := idx.Do(ScopeSessionCreate, "k", func() (interface{}, error) { return "v", nil })
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	idx.Sweep()

	var calls int32
	_, replay, err := idx.Do(ScopeSessionCreate, "k", func() (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return "v2", nil
	})
	require.NoError(t, err)
	assert.False(t, replay)
	assert.Equal(t, int32(1), calls)
}

func TestDifferentScopesAreIndependent(t *testing.T) {
	idx := New(time.Minute)
	v1, _, err := idx.Do(ScopeSessionCreate, "same-key", func() (interface{}, error) { return "a", nil })
	require.NoError(t, err)
	v2, _, err := idx.Do(ScopeTurnSubmit, "same-key", func() (interface{}, error) { return "b", nil })
	require.NoError(t, err)

	assert.Equal(t, "a", v1)
	assert.Equal(t, "b", v2)
}
