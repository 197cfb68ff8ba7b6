package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDiskStore(t *testing.T) *DiskStore {
	t.Helper()
	s, err := NewDiskStore(t.TempDir(), "kv.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDiskStoreWriteRead(t *testing.T) {
	s := newDiskStore(t)

	require.NoError(t, s.Write("a", []byte("1"), 0))
	v, err := s.Read("a", false)
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)
}

func TestDiskStorePop(t *testing.T) {
	s := newDiskStore(t)

	require.NoError(t, s.Write("a", []byte("1"), 0))
	v, err := s.Read("a", true)
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	_, err = s.Read("a", false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDiskStoreTTLExpiry(t *testing.T) {
	s := newDiskStore(t)

	require.NoError(t, s.Write("a", []byte("1"), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, err := s.Read("a", false)
	assert.ErrorIs(t, err, ErrNotFound)

	keys, err := s.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestDiskStoreKeysAndNext(t *testing.T) {
	s := newDiskStore(t)

	require.NoError(t, s.Write("a", []byte("1"), 0))
	require.NoError(t, s.Write("b", []byte("2"), 0))

	keys, err := s.Keys()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, keys)

	e, err := s.Next(false)
	require.NoError(t, err)
	assert.Contains(t, []string{"a", "b"}, e.Key)

	keys, err = s.Keys()
	require.NoError(t, err)
	assert.Len(t, keys, 2, "non-popping Next must not remove the entry")
}

func TestDiskStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s1, err := NewDiskStore(dir, "kv.db")
	require.NoError(t, err)
	require.NoError(t, s1.Write("a", []byte("1"), 0))
	require.NoError(t, s1.Close())

	s2, err := NewDiskStore(dir, "kv.db")
	require.NoError(t, err)
	defer s2.Close()

	v, err := s2.Read("a", false)
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)
}
