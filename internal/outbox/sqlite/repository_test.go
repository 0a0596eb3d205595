package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/anonchat/edgeworker/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) (*Repository, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "outbox.db")
	repo, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo, path
}

func TestRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo, _ := openTemp(t)

	msg := &domain.QueuedMessage{
		ID:        "1700000000000-abc",
		Content:   "hi",
		SessionID: "s1",
		Extra:     map[string]json.RawMessage{"kind": json.RawMessage(`"text"`)},
		Timestamp: 1700000000000,
	}
	require.NoError(t, repo.Save(ctx, msg))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, msg.ID, list[0].ID)
	assert.Equal(t, "hi", list[0].Content)
	assert.Equal(t, "s1", list[0].SessionID)
	assert.Equal(t, 0, list[0].RetryCount)
	assert.JSONEq(t, `"text"`, string(list[0].Extra["kind"]))
}

func TestRepository_UpsertAndDelete(t *testing.T) {
	ctx := context.Background()
	repo, _ := openTemp(t)

	msg := &domain.QueuedMessage{ID: "m1", Timestamp: 10}
	require.NoError(t, repo.Save(ctx, msg))
	msg.RetryCount = 2
	require.NoError(t, repo.Save(ctx, msg))
	require.NoError(t, repo.Save(ctx, &domain.QueuedMessage{ID: "m0", Timestamp: 5}))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "m0", list[0].ID)
	assert.Equal(t, 2, list[1].RetryCount)

	require.NoError(t, repo.Delete(ctx, "m1"))
	require.NoError(t, repo.Delete(ctx, "m1"))

	list, err = repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRepository_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	repo, path := openTemp(t)

	require.NoError(t, repo.Save(ctx, &domain.QueuedMessage{ID: "keep", Content: "c", Timestamp: 1}))
	require.NoError(t, repo.Close())

	reopened, err := Open(ctx, path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	list, err := reopened.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "keep", list[0].ID)
	require.NoError(t, reopened.Ping(ctx))
}
