package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spacemeshos/mbf/mbf"
	"github.com/spacemeshos/mbf/store"
	"github.com/spacemeshos/mbf/vote"
)

func record(unit string, nonce byte) *store.Record {
	return &store.Record{
		UnitID:  unit,
		Variant: mbf.MBF2,
		Vote: &vote.Vote{
			Nonce:  []byte{nonce, 0xab},
			Effort: 16,
			Blocks: []vote.Block{
				{Proof: mbf.Proof{0, 3, 9}, Hash: []byte{1, 2, 3}},
				{Proof: mbf.Proof{1}, Hash: []byte{4, 5, 6}},
			},
		},
	}
}

func TestPutGetDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })

	rec := record("unit-a", 1)
	key, err := s.Put(ctx, rec)
	require.NoError(t, err)
	require.Equal(t, "unit-a/01ab", key)
	require.Equal(t, store.Key("unit-a", rec.Vote.Nonce), key)

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, rec, got)

	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Get(ctx, key)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestKeys(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })

	for _, rec := range []*store.Record{record("b", 1), record("a", 2), record("a", 1), record("ab", 1)} {
		_, err := s.Put(ctx, rec)
		require.NoError(t, err)
	}

	keys, err := s.Keys(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{"a/01ab", "a/02ab", "ab/01ab", "b/01ab"}, keys)

	keys, err = s.Keys(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, []string{"a/01ab", "a/02ab"}, keys)

	keys, err = s.Keys(ctx, "missing")
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestPersistsAcrossReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	s, err := store.Open(dir)
	require.NoError(t, err)
	key, err := s.Put(ctx, record("unit", 7))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = store.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, record("unit", 7), got)
}

func TestPutRejectsInvalidRecords(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })

	_, err = s.Put(ctx, &store.Record{UnitID: "a"})
	require.Error(t, err)
	_, err = s.Put(ctx, record("a/b", 1))
	require.Error(t, err)
}
