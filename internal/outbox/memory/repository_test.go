package memory

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/anonchat/edgeworker/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepository_SaveListDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()

	require.NoError(t, repo.Save(ctx, &domain.QueuedMessage{ID: "b", Timestamp: 2}))
	require.NoError(t, repo.Save(ctx, &domain.QueuedMessage{ID: "a", Timestamp: 1}))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)

	require.NoError(t, repo.Delete(ctx, "a"))
	require.NoError(t, repo.Delete(ctx, "missing"))
	assert.Equal(t, 1, repo.Len())
}

func TestRepository_StoresCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()

	msg := &domain.QueuedMessage{
		ID:    "m",
		Extra: map[string]json.RawMessage{"k": json.RawMessage(`1`)},
	}
	require.NoError(t, repo.Save(ctx, msg))

	msg.RetryCount = 5
	msg.Extra["k"] = json.RawMessage(`2`)

	stored, ok := repo.Get("m")
	require.True(t, ok)
	assert.Zero(t, stored.RetryCount)
	assert.JSONEq(t, `1`, string(stored.Extra["k"]))
}
