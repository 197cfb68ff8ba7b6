package storage

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "kv.sqlite")
	s, err := NewSQLStore("", dsn, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLStoreWriteRead(t *testing.T) {
	s := newSQLStore(t)

	require.NoError(t, s.Write("a", []byte("1"), 0))
	v, err := s.Read("a", false)
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)
}

func TestSQLStoreUpsert(t *testing.T) {
	s := newSQLStore(t)

	require.NoError(t, s.Write("a", []byte("1"), 0))
	require.NoError(t, s.Write("a", []byte("2"), 0))

	v, err := s.Read("a", false)
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v)
}

func TestSQLStorePop(t *testing.T) {
	s := newSQLStore(t)

	require.NoError(t, s.Write("a", []byte("1"), 0))
	v, err := s.Read("a", true)
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	_, err = s.Read("a", false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLStoreTTLExpiry(t *testing.T) {
	s := newSQLStore(t)

	require.NoError(t, s.Write("a", []byte("1"), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, err := s.Read("a", false)
	assert.ErrorIs(t, err, ErrNotFound)

	keys, err := s.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestSQLStoreKeysAndNext(t *testing.T) {
	s := newSQLStore(t)

	require.NoError(t, s.Write("a", []byte("1"), 0))
	require.NoError(t, s.Write("b", []byte("2"), 0))

	keys, err := s.Keys()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, keys)

	e, err := s.Next(false)
	require.NoError(t, err)
	assert.Contains(t, []string{"a", "b"}, e.Key)
}

func TestSQLStoreCompareAndSwap(t *testing.T) {
	s := newSQLStore(t)

	ok, err := s.CompareAndSwap("a", nil, []byte("1"), 0)
	require.NoError(t, err)
	assert.True(t, ok, "nil oldValue must match an absent key")

	ok, err = s.CompareAndSwap("a", []byte("wrong"), []byte("2"), 0)
	require.NoError(t, err)
	assert.False(t, ok)
	v, _ := s.Read("a", false)
	assert.Equal(t, []byte("1"), v, "a failed swap must not touch the stored row")

	ok, err = s.CompareAndSwap("a", []byte("1"), []byte("2"), 0)
	require.NoError(t, err)
	assert.True(t, ok)
	v, _ = s.Read("a", false)
	assert.Equal(t, []byte("2"), v)
}

func TestSQLStoreCompareAndSwapConcurrentRaceHasOneWinner(t *testing.T) {
	s := newSQLStore(t)
	require.NoError(t, s.Write("a", []byte("seed"), 0))

	const racers = 10
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
	assert.Equal(t, 1, winCount, "exactly one of N racers claiming the same old row must succeed")
}

func TestSQLStoreCustomTableName(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "kv.sqlite")
	s, err := NewSQLStore("sqlite3", dsn, "custom_kv")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Write("a", []byte("1"), 0))
	v, err := s.Read("a", false)
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)
	assert.Equal(t, "custom_kv", s.tableName)
}
