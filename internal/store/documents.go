// Package store persists documents as JSONB rows, one table per collection,
// and mirrors the searchable and ranked views into Elasticsearch and Redis.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("document not found")
	ErrAlreadyExists = errors.New("document already exists")
)

// Collection tables.
const (
	TableApplications    = "applications"
	TableEvents          = "events"
	TableCollectives     = "collectives"
	TableReferrals       = "referrals"
	TableReferralCounts  = "referral_counts"
	TableWaitlistSignups = "waitlist_signups"
	TableSubscriptionLog = "subscription_log"
)

// Tables lists every collection created by EnsureSchema.
var Tables = []string{
	TableApplications,
	TableEvents,
	TableCollectives,
	TableReferrals,
	TableReferralCounts,
	TableWaitlistSignups,
	TableSubscriptionLog,
}

// DBTX is the subset of *sql.DB the store needs.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// EnsureSchema creates the collection tables and their email lookup index.
func EnsureSchema(ctx context.Context, db DBTX) error {
	for _, table := range Tables {
		ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	data JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, table)
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", table, err)
		}

		idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_email_idx ON %s ((data->>'email'))`, table, table)
		if _, err := db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("create index on %s: %w", table, err)
		}
	}
	return nil
}

// Documents is the document API services depend on. Collection implements it
// over Postgres; storetest.Memory implements it in memory.
type Documents[T any] interface {
	Create(ctx context.Context, id string, doc *T) error
	Put(ctx context.Context, id string, doc *T) error
	Get(ctx context.Context, id string) (*T, error)
	Merge(ctx context.Context, id string, patch interface{}) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*T, error)
	FindOneBy(ctx context.Context, field, value string) (*T, error)
	Increment(ctx context.Context, id, field string, seed map[string]interface{}) (int64, error)
}

var _ Documents[struct{}] = (*Collection[struct{}])(nil)

// Collection is a typed view over one document table. orderField names the
// timestamp field lists are sorted on, newest first.
type Collection[T any] struct {
	db         DBTX
	table      string
	orderField string
}

func NewCollection[T any](db DBTX, table, orderField string) *Collection[T] {
	return &Collection[T]{db: db, table: table, orderField: orderField}
}

// Create inserts doc under id. It returns ErrAlreadyExists when the id is taken,
// in a single statement so concurrent creates cannot both succeed.
func (c *Collection[T]) Create(ctx context.Context, id string, doc *T) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s document: %w", c.table, err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, data, created_at, updated_at) VALUES ($1, $2, now(), now()) ON CONFLICT (id) DO NOTHING`, c.table)
	res, err := c.db.ExecContext(ctx, query, id, data)
	if err != nil {
		return fmt.Errorf("insert into %s: %w", c.table, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert into %s: %w", c.table, err)
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// Put writes doc under id, replacing any existing document.
func (c *Collection[T]) Put(ctx context.Context, id string, doc *T) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s document: %w", c.table, err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, data, created_at, updated_at) VALUES ($1, $2, now(), now())
ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`, c.table)
	if _, err := c.db.ExecContext(ctx, query, id, data); err != nil {
		return fmt.Errorf("upsert into %s: %w", c.table, err)
	}
	return nil
}

func (c *Collection[T]) Get(ctx context.Context, id string) (*T, error) {
	query := fmt.Sprintf(`SELECT data FROM %s WHERE id = $1`, c.table)

	var raw []byte
	if err := c.db.QueryRowContext(ctx, query, id).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select from %s: %w", c.table, err)
	}
	return c.decode(raw)
}

// Merge applies patch as a shallow JSONB merge. Fields absent from patch keep their values.
func (c *Collection[T]) Merge(ctx context.Context, id string, patch interface{}) error {
	data, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshal %s patch: %w", c.table, err)
	}

	query := fmt.Sprintf(`UPDATE %s SET data = data || $2::jsonb, updated_at = now() WHERE id = $1`, c.table)
	res, err := c.db.ExecContext(ctx, query, id, data)
	if err != nil {
		return fmt.Errorf("update %s: %w", c.table, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s: %w", c.table, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, c.table)
	res, err := c.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", c.table, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete from %s: %w", c.table, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns every document, newest first.
func (c *Collection[T]) List(ctx context.Context) ([]*T, error) {
	query := fmt.Sprintf(`SELECT data FROM %s ORDER BY (data->>'%s')::timestamptz DESC NULLS LAST`, c.table, c.orderField)
	return c.query(ctx, query)
}

// FindOneBy returns the newest document whose top-level field equals value.
// It returns ErrNotFound when nothing matches.
func (c *Collection[T]) FindOneBy(ctx context.Context, field, value string) (*T, error) {
	query := fmt.Sprintf(`SELECT data FROM %s WHERE data->>'%s' = $1 ORDER BY (data->>'%s')::timestamptz DESC NULLS LAST LIMIT 1`,
		c.table, field, c.orderField)

	docs, err := c.query(ctx, query, value)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return docs[0], nil
}

// Increment adds one to an integer field, creating the document from seed when
// it does not exist yet, and returns the new value.
func (c *Collection[T]) Increment(ctx context.Context, id, field string, seed map[string]interface{}) (int64, error) {
	initial := make(map[string]interface{}, len(seed)+1)
	for k, v := range seed {
		initial[k] = v
	}
	initial[field] = 1

	data, err := json.Marshal(initial)
	if err != nil {
		return 0, fmt.Errorf("marshal %s seed: %w", c.table, err)
	}

	query := fmt.Sprintf(`INSERT INTO %[1]s (id, data, created_at, updated_at) VALUES ($1, $2::jsonb, now(), now())
ON CONFLICT (id) DO UPDATE SET
	data = %[1]s.data || $2::jsonb || jsonb_build_object('%[2]s', COALESCE((%[1]s.data->>'%[2]s')::bigint, 0) + 1),
	updated_at = now()
RETURNING (data->>'%[2]s')::bigint`, c.table, field)

	var count int64
	if err := c.db.QueryRowContext(ctx, query, id, data).Scan(&count); err != nil {
		return 0, fmt.Errorf("increment %s.%s: %w", c.table, field, err)
	}
	return count, nil
}

func (c *Collection[T]) query(ctx context.Context, query string, args ...interface{}) ([]*T, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", c.table, err)
	}
	defer rows.Close()

	docs := make([]*T, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", c.table, err)
		}
		doc, err := c.decode(raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", c.table, err)
	}
	return docs, nil
}

func (c *Collection[T]) decode(raw []byte) (*T, error) {
	var doc T
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode %s document: %w", c.table, err)
	}
	return &doc, nil
}
