//go:build integration

package postgres

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/anonchat/edgeworker/internal/domain"
	"github.com/anonchat/edgeworker/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	pool := testutil.NewMigratedPool(t, ctx)
	repo := NewRepository(pool)

	msg := &domain.QueuedMessage{
		ID:        "1700000000000-abc",
		Content:   "hi",
		SessionID: "s1",
		Extra:     map[string]json.RawMessage{"kind": json.RawMessage(`"text"`)},
		Timestamp: 1700000000000,
	}
	require.NoError(t, repo.Save(ctx, msg))
	require.NoError(t, repo.Save(ctx, &domain.QueuedMessage{ID: "older", Timestamp: 1}))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "older", list[0].ID)

	got := list[1]
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, "hi", got.Content)
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, 0, got.RetryCount)
	assert.JSONEq(t, `"text"`, string(got.Extra["kind"]))

	msg.RetryCount = 2
	require.NoError(t, repo.Save(ctx, msg))
	list, err = repo.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, list[1].RetryCount)

	require.NoError(t, repo.Delete(ctx, msg.ID))
	require.NoError(t, repo.Delete(ctx, msg.ID))
	list, err = repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
