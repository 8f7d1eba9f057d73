package referral

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "arthouse/internal/common/errors"
	"arthouse/internal/common/logger"
	"arthouse/internal/models"
	"arthouse/internal/store"
	"arthouse/internal/store/storetest"
)

func newService(t *testing.T) (*Service, *storetest.Memory[models.Referral], *storetest.Memory[models.ReferralCount]) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	refs := storetest.NewMemory[models.Referral]("createdAt")
	counts := storetest.NewMemory[models.ReferralCount]("updatedAt")
	return NewService(refs, counts, store.NewLeaderboard(rdb), logger.NewTestLogger(t)), refs, counts
}

func TestRecord_CountsAndRanks(t *testing.T) {
	svc, refs, counts := newService(t)
	ctx := context.Background()

	_, n, err := svc.Record(ctx, "Top@b.com", "one@b.com", "application")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, n, err = svc.Record(ctx, "top@b.com", "two@b.com", "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	_, _, err = svc.Record(ctx, "other@b.com", "three@b.com", "")
	require.NoError(t, err)

	assert.Equal(t, 3, refs.Len())
	rc, err := counts.Get(ctx, "top@b.com")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rc.Count)

	board, err := svc.Leaderboard(ctx, 0)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, "top@b.com", board[0].Email)
	assert.Equal(t, int64(2), board[0].Count)
}

func TestRecord_SelfReferral(t *testing.T) {
	svc, refs, _ := newService(t)

	_, _, err := svc.Record(context.Background(), "a@b.com", " A@B.com", "")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))
	assert.Equal(t, 0, refs.Len())
}

func TestCreatePayload_Validation(t *testing.T) {
	svc, _, _ := newService(t)

	_, _, err := svc.CreatePayload(context.Background(), map[string]interface{}{"referrerEmail": "a@b.com"})
	stdErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Contains(t, stdErr.FieldErrors, "referredEmail")

	ref, n, err := svc.CreatePayload(context.Background(), map[string]interface{}{
		"referrerEmail": " a@b.com ",
		"referredEmail": "c@d.com",
		"source":        "instagram",
	})
	require.NoError(t, err)
	assert.Equal(t, "instagram", ref.Source)
	assert.Equal(t, int64(1), n)
}

func TestRecord_LeaderboardFailureIsNotFatal(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	mock.ExpectZAdd("arthouse:referrals:leaderboard", redis.Z{Score: 1, Member: "a@b.com"}).SetErr(errors.New("READONLY"))

	svc := NewService(
		storetest.NewMemory[models.Referral]("createdAt"),
		storetest.NewMemory[models.ReferralCount]("updatedAt"),
		store.NewLeaderboard(rdb),
		logger.NewNoOpLogger(),
	)
	_, n, err := svc.Record(context.Background(), "a@b.com", "c@d.com", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecord_StoreFailure(t *testing.T) {
	svc, refs, _ := newService(t)
	refs.Err = errors.New("connection refused")

	_, _, err := svc.Record(context.Background(), "a@b.com", "c@d.com", "")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDatabaseInsertFailed))
}

func TestRecord_OneCreditPerReferredPerson(t *testing.T) {
	svc, refs, counts := newService(t)
	ctx := context.Background()

	_, n, err := svc.Record(ctx, "ref@x.com", "same@x.com", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	for _, referrer := range []string{"ref@x.com", "ref@x.com", "Other@x.com"} {
		_, _, err = svc.Record(ctx, referrer, " SAME@x.com", "")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))
	}

	assert.Equal(t, 1, refs.Len())
	rc, err := counts.Get(ctx, "ref@x.com")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rc.Count)
	_, err = counts.Get(ctx, "other@x.com")
	assert.ErrorIs(t, err, store.ErrNotFound)

	board, err := svc.Leaderboard(ctx, 0)
	require.NoError(t, err)
	require.Len(t, board, 1)
	assert.Equal(t, int64(1), board[0].Count)
}
