package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arthouse/internal/models"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

func newApplications(db *sql.DB) *Collection[models.Application] {
	return NewCollection[models.Application](db, TableApplications, "submittedAt")
}

func TestEnsureSchema(t *testing.T) {
	db, mock := newMock(t)

	for _, table := range Tables {
		mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS " + table)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX IF NOT EXISTS " + table + "_email_idx")).
			WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, EnsureSchema(context.Background(), db))
}

func TestEnsureSchema_Error(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS applications").WillReturnError(errors.New("permission denied"))

	err := EnsureSchema(context.Background(), db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create table applications")
}

func TestCollection_Create(t *testing.T) {
	db, mock := newMock(t)
	apps := newApplications(db)
	insert := regexp.QuoteMeta(`INSERT INTO applications (id, data, created_at, updated_at) VALUES ($1, $2, now(), now()) ON CONFLICT (id) DO NOTHING`)

	mock.ExpectExec(insert).WithArgs("a@b.com", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insert).WithArgs("a@b.com", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 0))

	doc := &models.Application{ID: "a@b.com", Email: "a@b.com", Status: models.StatusPending}
	require.NoError(t, apps.Create(context.Background(), doc.ID, doc))

	err := apps.Create(context.Background(), doc.ID, doc)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestCollection_Get(t *testing.T) {
	db, mock := newMock(t)
	apps := newApplications(db)
	sel := regexp.QuoteMeta(`SELECT data FROM applications WHERE id = $1`)

	mock.ExpectQuery(sel).WithArgs("a@b.com").
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow([]byte(`{"id":"a@b.com","email":"a@b.com","status":"approved"}`)))
	mock.ExpectQuery(sel).WithArgs("missing@b.com").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(sel).WithArgs("broken@b.com").WillReturnError(errors.New("connection reset"))

	app, err := apps.Get(context.Background(), "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, app.Status)

	_, err = apps.Get(context.Background(), "missing@b.com")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = apps.Get(context.Background(), "broken@b.com")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestCollection_Merge(t *testing.T) {
	db, mock := newMock(t)
	apps := newApplications(db)
	update := regexp.QuoteMeta(`UPDATE applications SET data = data || $2::jsonb, updated_at = now() WHERE id = $1`)

	mock.ExpectExec(update).WithArgs("a@b.com", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(update).WithArgs("nobody@b.com", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 0))

	patch := models.Review{Status: models.StatusApproved, ReviewedBy: "admin", ReviewedAt: time.Now()}
	require.NoError(t, apps.Merge(context.Background(), "a@b.com", patch))
	assert.ErrorIs(t, apps.Merge(context.Background(), "nobody@b.com", patch), ErrNotFound)
}

func TestCollection_ListOrdersNewestFirst(t *testing.T) {
	db, mock := newMock(t)
	apps := newApplications(db)

	rows := sqlmock.NewRows([]string{"data"}).
		AddRow([]byte(`{"id":"new@b.com","email":"new@b.com","submittedAt":"2026-02-01T00:00:00Z"}`)).
		AddRow([]byte(`{"id":"old@b.com","email":"old@b.com","submittedAt":"2026-01-01T00:00:00Z"}`))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT data FROM applications ORDER BY (data->>'submittedAt')::timestamptz DESC NULLS LAST`)).
		WillReturnRows(rows)

	list, err := apps.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new@b.com", list[0].ID)
}

func TestCollection_ListEmptyIsNotNil(t *testing.T) {
	db, mock := newMock(t)
	apps := newApplications(db)
	mock.ExpectQuery("SELECT data FROM applications").WillReturnRows(sqlmock.NewRows([]string{"data"}))

	list, err := apps.List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestCollection_FindOneBy(t *testing.T) {
	db, mock := newMock(t)
	apps := newApplications(db)
	find := regexp.QuoteMeta(`SELECT data FROM applications WHERE data->>'email' = $1 ORDER BY (data->>'submittedAt')::timestamptz DESC NULLS LAST LIMIT 1`)

	mock.ExpectQuery(find).WithArgs("a@b.com").
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow([]byte(`{"id":"imported-1","email":"a@b.com"}`)))
	mock.ExpectQuery(find).WithArgs("z@b.com").WillReturnRows(sqlmock.NewRows([]string{"data"}))

	app, err := apps.FindOneBy(context.Background(), "email", "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, "imported-1", app.ID)

	_, err = apps.FindOneBy(context.Background(), "email", "z@b.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCollection_Delete(t *testing.T) {
	db, mock := newMock(t)
	events := NewCollection[models.Event](db, TableEvents, "createdAt")
	del := regexp.QuoteMeta(`DELETE FROM events WHERE id = $1`)

	mock.ExpectExec(del).WithArgs("e-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(del).WithArgs("e-2").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, events.Delete(context.Background(), "e-1"))
	assert.ErrorIs(t, events.Delete(context.Background(), "e-2"), ErrNotFound)
}

func TestCollection_Put(t *testing.T) {
	db, mock := newMock(t)
	waitlist := NewCollection[models.WaitlistSignup](db, TableWaitlistSignups, "createdAt")

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO waitlist_signups (id, data, created_at, updated_at) VALUES ($1, $2, now(), now())
ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`)).
		WithArgs("w@b.com", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, waitlist.Put(context.Background(), "w@b.com", &models.WaitlistSignup{Email: "w@b.com"}))
}

func TestCollection_Increment(t *testing.T) {
	db, mock := newMock(t)
	counts := NewCollection[models.ReferralCount](db, TableReferralCounts, "updatedAt")

	mock.ExpectQuery(`INSERT INTO referral_counts .* ON CONFLICT \(id\) DO UPDATE SET .* RETURNING \(data->>'count'\)::bigint`).
		WithArgs("r@b.com", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))

	n, err := counts.Increment(context.Background(), "r@b.com", "count", map[string]interface{}{"email": "r@b.com"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
