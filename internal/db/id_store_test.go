package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openIdentifierStore(t *testing.T) *IdentifierStore {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "ids.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewIdentifierStore(store)
}

func TestNewIdentifierStore_Nil(t *testing.T) {
	assert.Nil(t, NewIdentifierStore(nil))
}

func TestIdentifierStore_Uninitialized(t *testing.T) {
	ctx := context.Background()
	for _, is := range []*IdentifierStore{nil, {db: nil}} {
		assert.ErrorContains(t, is.SaveMapping(ctx, "abc", "<m@x>"), "identifier store not initialized")
		_, found, err := is.LoadMessageID(ctx, "abc")
		assert.False(t, found)
		assert.Error(t, err)
		_, found, err = is.LoadLegacyID(ctx, "<m@x>")
		assert.False(t, found)
		assert.Error(t, err)
		_, err = is.PruneOlderThan(ctx, time.Now())
		assert.Error(t, err)
	}
}

func TestIdentifierStore_SaveMapping_ValidationErrors(t *testing.T) {
	is := openIdentifierStore(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		legacyID  string
		messageID string
	}{
		{"empty_legacy", "", "<m@x>"},
		{"empty_message", "abc", ""},
		{"whitespace_legacy", "  ", "<m@x>"},
		{"whitespace_message", "abc", "\t"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := is.SaveMapping(ctx, tt.legacyID, tt.messageID)
			assert.ErrorContains(t, err, "invalid mapping inputs")
		})
	}
}

func TestIdentifierStore_RoundTrip(t *testing.T) {
	is := openIdentifierStore(t)
	ctx := context.Background()

	_, found, err := is.LoadMessageID(ctx, "112210f47de98115")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, is.SaveMapping(ctx, "112210f47de98115", "<a@mail.example.com>"))

	msgID, found, err := is.LoadMessageID(ctx, "112210f47de98115")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "<a@mail.example.com>", msgID)

	legacy, found, err := is.LoadLegacyID(ctx, "<a@mail.example.com>")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "112210f47de98115", legacy)
}

func TestIdentifierStore_Upsert(t *testing.T) {
	is := openIdentifierStore(t)
	ctx := context.Background()

	require.NoError(t, is.SaveMapping(ctx, "c0ffee", "<old@x>"))
	require.NoError(t, is.SaveMapping(ctx, "c0ffee", "<new@x>"))

	var count int
	require.NoError(t, is.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM identifier_map WHERE legacy_id = ?", "c0ffee").Scan(&count))
	assert.Equal(t, 1, count)

	msgID, _, err := is.LoadMessageID(ctx, "c0ffee")
	require.NoError(t, err)
	assert.Equal(t, "<new@x>", msgID)
}

func TestIdentifierStore_LoadLegacyID_PrefersNewest(t *testing.T) {
	is := openIdentifierStore(t)
	ctx := context.Background()

	base := time.Unix(1_700_000_000, 0)
	is.now = func() time.Time { return base }
	require.NoError(t, is.SaveMapping(ctx, "aaa", "<shared@x>"))
	is.now = func() time.Time { return base.Add(time.Hour) }
	require.NoError(t, is.SaveMapping(ctx, "bbb", "<shared@x>"))

	legacy, found, err := is.LoadLegacyID(ctx, "<shared@x>")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "bbb", legacy)
}

func TestIdentifierStore_PruneOlderThan(t *testing.T) {
	is := openIdentifierStore(t)
	ctx := context.Background()

	base := time.Unix(1_700_000_000, 0)
	is.now = func() time.Time { return base }
	require.NoError(t, is.SaveMapping(ctx, "old", "<old@x>"))
	is.now = func() time.Time { return base.Add(48 * time.Hour) }
	require.NoError(t, is.SaveMapping(ctx, "fresh", "<fresh@x>"))

	n, err := is.PruneOlderThan(ctx, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, found, err := is.LoadMessageID(ctx, "old")
	require.NoError(t, err)
	assert.False(t, found)
	_, found, err = is.LoadMessageID(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, found)
}
