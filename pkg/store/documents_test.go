package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skilltrace/lrs/pkg/statement"
)

func stateKey(id string) DocumentKey {
	return DocumentKey{
		Kind:        DocState,
		ActivityIRI: "http://example.org/course",
		AgentKey:    AgentKey(&statement.Actor{Mbox: "mailto:sam@example.org"}),
		ID:          id,
	}
}

func TestDocumentPutGetReplace(t *testing.T) {
	s := NewDocumentStore(newTestDB(t))
	ctx := context.Background()
	key := stateKey("bookmark")

	_, err := s.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	put, err := s.Put(ctx, key, []byte(`{"page": 3}`), "application/json")
	require.NoError(t, err)
	assert.NotEmpty(t, put.ETag)

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"page": 3}`, string(got.Content))
	assert.Equal(t, put.ETag, got.ETag)

	replaced, err := s.Put(ctx, key, []byte(`{"page": 9}`), "application/json")
	require.NoError(t, err)
	assert.NotEqual(t, put.ETag, replaced.ETag)
}

func TestDocumentMerge(t *testing.T) {
	s := NewDocumentStore(newTestDB(t))
	ctx := context.Background()
	key := stateKey("prefs")

	_, err := s.Put(ctx, key, []byte(`{"lang": "en", "volume": 5}`), "application/json")
	require.NoError(t, err)
	_, err = s.Merge(ctx, key, []byte(`{"volume": 7, "muted": false}`), "application/json")
	require.NoError(t, err)

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"lang": "en", "volume": 7, "muted": false}`, string(got.Content))
}

func TestDocumentMergeNonJSONReplaces(t *testing.T) {
	s := NewDocumentStore(newTestDB(t))
	ctx := context.Background()
	key := stateKey("blob")

	_, err := s.Put(ctx, key, []byte("plain"), "text/plain")
	require.NoError(t, err)
	_, err = s.Merge(ctx, key, []byte("other"), "text/plain")
	require.NoError(t, err)

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "other", string(got.Content))
}

func TestDocumentMergeIntoAbsent(t *testing.T) {
	s := NewDocumentStore(newTestDB(t))
	ctx := context.Background()
	key := stateKey("fresh")

	_, err := s.Merge(ctx, key, []byte(`{"a": 1}`), "application/json")
	require.NoError(t, err)
	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": 1}`, string(got.Content))
}

func TestDocumentDelete(t *testing.T) {
	s := NewDocumentStore(newTestDB(t))
	ctx := context.Background()
	key := stateKey("gone")

	_, err := s.Put(ctx, key, []byte("x"), "text/plain")
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting an absent document is not an error.
	assert.NoError(t, s.Delete(ctx, key))
}

func TestDocumentDeleteAllAndList(t *testing.T) {
	s := NewDocumentStore(newTestDB(t))
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := s.Put(ctx, stateKey(id), []byte("x"), "text/plain")
		require.NoError(t, err)
	}
	// A different owner's documents are untouched by DeleteAll.
	otherKey := stateKey("a")
	otherKey.AgentKey = AgentKey(&statement.Actor{Mbox: "mailto:kim@example.org"})
	_, err := s.Put(ctx, otherKey, []byte("x"), "text/plain")
	require.NoError(t, err)

	ids, err := s.List(ctx, stateKey(""), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	require.NoError(t, s.DeleteAll(ctx, stateKey("")))
	ids, err = s.List(ctx, stateKey(""), nil)
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = s.Get(ctx, otherKey)
	assert.NoError(t, err)
}

func TestDocumentListSince(t *testing.T) {
	s := NewDocumentStore(newTestDB(t))
	ctx := context.Background()

	first, err := s.Put(ctx, stateKey("old"), []byte("x"), "text/plain")
	require.NoError(t, err)
	_, err = s.Put(ctx, stateKey("new"), []byte("x"), "text/plain")
	require.NoError(t, err)

	since := first.Updated
	ids, err := s.List(ctx, stateKey(""), &since)
	require.NoError(t, err)
	for _, id := range ids {
		assert.NotEqual(t, "old", id)
	}
}
