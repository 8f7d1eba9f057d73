package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arthouse/internal/models"
	"arthouse/internal/store"
)

func TestMemory_MatchesCollectionSemantics(t *testing.T) {
	ctx := context.Background()
	apps := NewMemory[models.Application]("submittedAt")

	older := &models.Application{ID: "old", Email: "a@b.com", SubmittedAt: time.Now().Add(-time.Hour)}
	newer := &models.Application{ID: "new", Email: "a@b.com", SubmittedAt: time.Now()}
	require.NoError(t, apps.Create(ctx, older.ID, older))
	require.NoError(t, apps.Create(ctx, newer.ID, newer))
	assert.ErrorIs(t, apps.Create(ctx, older.ID, older), store.ErrAlreadyExists)

	list, err := apps.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].ID)

	found, err := apps.FindOneBy(ctx, "email", "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, "new", found.ID)

	require.NoError(t, apps.Merge(ctx, "old", map[string]interface{}{"status": "approved"}))
	got, err := apps.Get(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, "approved", got.Status)
	assert.Equal(t, "a@b.com", got.Email)

	assert.ErrorIs(t, apps.Merge(ctx, "none", map[string]interface{}{}), store.ErrNotFound)
	require.NoError(t, apps.Delete(ctx, "old"))
	assert.ErrorIs(t, apps.Delete(ctx, "old"), store.ErrNotFound)
	assert.Equal(t, 1, apps.Len())
}

func TestMemory_Increment(t *testing.T) {
	ctx := context.Background()
	counts := NewMemory[models.ReferralCount]("updatedAt")

	for i := 1; i <= 3; i++ {
		n, err := counts.Increment(ctx, "r@b.com", "count", map[string]interface{}{"email": "r@b.com"})
		require.NoError(t, err)
		assert.Equal(t, int64(i), n)
	}

	rc, err := counts.Get(ctx, "r@b.com")
	require.NoError(t, err)
	assert.Equal(t, int64(3), rc.Count)
	assert.Equal(t, "r@b.com", rc.Email)
}
