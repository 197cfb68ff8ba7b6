package storage

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreWriteRead(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close()

	require.NoError(t, s.Write("a", []byte("1"), 0))
	v, err := s.Read("a", false)
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	// Non-popping read leaves the key in place.
	v, err = s.Read("a", false)
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)
}

func TestMemoryStorePop(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close()

	require.NoError(t, s.Write("a", []byte("1"), 0))
	v, err := s.Read("a", true)
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	_, err = s.Read("a", false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreTTLPassiveExpiry(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close()

	require.NoError(t, s.Write("a", []byte("1"), 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	_, err := s.Read("a", false)
	assert.ErrorIs(t, err, ErrNotFound)

	keys, err := s.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestMemoryStoreActiveSweep(t *testing.T) {
	s := NewMemoryStore(5 * time.Millisecond)
	defer s.Close()

	require.NoError(t, s.Write("a", []byte("1"), 10*time.Millisecond))
	time.Sleep(40 * time.Millisecond)

	s.mu.RLock()
	_, present := s.data["a"]
	s.mu.RUnlock()
	assert.False(t, present, "sweep should have removed the expired key")
}

func TestMemoryStoreNextRotatesAndPops(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close()

	require.NoError(t, s.Write("a", []byte("1"), 0))
	require.NoError(t, s.Write("b", []byte("2"), 0))

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		e, err := s.Next(true)
		require.NoError(t, err)
		seen[e.Key] = true
	}
	assert.True(t, seen["a"] && seen["b"])

	_, err := s.Next(false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreCompareAndSwap(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close()

	ok, err := s.CompareAndSwap("a", nil, []byte("1"), 0)
	require.NoError(t, err)
	assert.True(t, ok, "nil oldValue must match an absent key")

	ok, err = s.CompareAndSwap("a", []byte("wrong"), []byte("2"), 0)
	require.NoError(t, err)
	assert.False(t, ok)
	v, _ := s.Read("a", false)
	assert.Equal(t, []byte("1"), v, "a failed swap must not touch the stored value")

	ok, err = s.CompareAndSwap("a", []byte("1"), []byte("2"), 0)
	require.NoError(t, err)
	assert.True(t, ok)
	v, _ = s.Read("a", false)
	assert.Equal(t, []byte("2"), v)
}

func TestMemoryStoreCompareAndSwapConcurrentRaceHasOneWinner(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close()
	require.NoError(t, s.Write("a", []byte("seed"), 0))

	const racers = 20
	wins := make(chan bool, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.CompareAndSwap("a", []byte("seed"), []byte{byte(i)}, 0)
			require.NoError(t, err)
			wins <- ok
		}(i)
	}
	wg.Wait()
	close(wins)

	winCount := 0
	for ok := range wins {
		if ok {
			winCount++
		}
	}
	assert.Equal(t, 1, winCount, "exactly one of N racers claiming the same old value must succeed")
}

func TestMemoryStoreDeleteIsIdempotent(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close()

	assert.NoError(t, s.Delete("missing"))
	require.NoError(t, s.Write("a", []byte("1"), 0))
	require.NoError(t, s.Delete("a"))
	assert.NoError(t, s.Delete("a"))
}
