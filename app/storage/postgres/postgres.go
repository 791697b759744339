/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

// Package postgres is the PostgreSQL storage provider: aggregate bodies
// in jsonb data columns, filter columns alongside, cascade delete from
// captures down to owned rows.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/Robert-Freire/epcis/app/epcis"
	"github.com/Robert-Freire/epcis/app/storage"
	"github.com/Robert-Freire/epcis/pkg/web"
)

// DB implements storage.Store over database/sql with the postgres
// driver.
type DB struct {
	db *sql.DB
	// Per-statement deadline applied around every transaction
	commandTimeout time.Duration
}

// NewSession connects, pings, and prepares the schema.
func NewSession(connectionString string, commandTimeout time.Duration) (*DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, errors.Wrap(err, "opening postgres connection")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "pinging postgres")
	}

	store := &DB{db: db, commandTimeout: commandTimeout}
	if err := store.prepare(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (store *DB) prepare() error {
	for _, statement := range schemaStatements {
		if _, err := store.db.Exec(statement); err != nil {
			return errors.Wrap(err, "preparing schema")
		}
	}
	return nil
}

// Close implements storage.Store.
func (store *DB) Close() error { return store.db.Close() }

// Tx implements storage.Store: one database transaction per closure,
// rolled back on error or panic.
func (store *DB) Tx(ctx context.Context, fn func(tx storage.Tx) error) (err error) {
	if store.commandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, store.commandTimeout)
		defer cancel()
	}

	dbTx, err := store.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			dbTx.Rollback()
			panic(recovered)
		}
	}()

	if err := fn(&pgTx{tx: dbTx}); err != nil {
		dbTx.Rollback()
		return err
	}
	if err := dbTx.Commit(); err != nil {
		return errors.Wrap(err, "committing transaction")
	}
	return nil
}

type pgTx struct {
	tx *sql.Tx
}

// InsertCapture implements storage.Tx. Events and masterdata go to their
// own rows; the capture row keeps only the header portion.
func (tx *pgTx) InsertCapture(ctx context.Context, capture *epcis.Capture) error {
	header := *capture
	header.Events = nil
	header.MasterData = nil

	row := tx.tx.QueryRowContext(ctx,
		`INSERT INTO captures (capture_id, tenant_id, record_time, data) VALUES ($1, $2, $3, $4) RETURNING id`,
		capture.CaptureID, capture.TenantID, capture.RecordTime, header)
	if err := row.Scan(&capture.ID); err != nil {
		return errors.Wrap(err, "inserting capture")
	}

	for i := range capture.Events {
		event := &capture.Events[i]
		event.TenantID = capture.TenantID
		event.RecordTime = capture.RecordTime

		row := tx.tx.QueryRowContext(ctx,
			`INSERT INTO events (capture_id, tenant_id, event_type, event_time, record_time, data)
			 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			capture.ID, capture.TenantID, event.Type, event.EventTime, event.RecordTime, event)
		if err := row.Scan(&event.ID); err != nil {
			return errors.Wrap(err, "inserting event")
		}
	}

	for i := range capture.MasterData {
		entry := &capture.MasterData[i]
		encoded, err := json.Marshal(entry)
		if err != nil {
			return errors.Wrap(err, "marshaling masterdata")
		}
		if _, err := tx.tx.ExecContext(ctx,
			`INSERT INTO masterdata (capture_id, tenant_id, vocab_type, uri, data) VALUES ($1, $2, $3, $4, $5)`,
			capture.ID, capture.TenantID, entry.Type, entry.ID, encoded); err != nil {
			return errors.Wrap(err, "inserting masterdata")
		}
	}

	return nil
}

// CaptureByID implements storage.Tx.
func (tx *pgTx) CaptureByID(ctx context.Context, tenantID, captureID string) (*epcis.Capture, error) {
	var capture epcis.Capture
	row := tx.tx.QueryRowContext(ctx,
		`SELECT id, data FROM captures WHERE tenant_id = $1 AND capture_id = $2`,
		tenantID, captureID)
	if err := row.Scan(&capture.ID, &capture); err != nil {
		if err == sql.ErrNoRows {
			return nil, web.ErrNotFound
		}
		return nil, errors.Wrap(err, "loading capture")
	}
	capture.TenantID = tenantID

	rows, err := tx.tx.QueryContext(ctx,
		`SELECT id, data FROM events WHERE capture_id = $1 ORDER BY id`, capture.ID)
	if err != nil {
		return nil, errors.Wrap(err, "loading capture events")
	}
	defer rows.Close()
	for rows.Next() {
		var event epcis.Event
		if err := rows.Scan(&event.ID, &event); err != nil {
			return nil, errors.Wrap(err, "scanning capture event")
		}
		event.TenantID = tenantID
		capture.Events = append(capture.Events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	mdRows, err := tx.tx.QueryContext(ctx,
		`SELECT data FROM masterdata WHERE capture_id = $1 ORDER BY id`, capture.ID)
	if err != nil {
		return nil, errors.Wrap(err, "loading capture masterdata")
	}
	defer mdRows.Close()
	for mdRows.Next() {
		var raw []byte
		if err := mdRows.Scan(&raw); err != nil {
			return nil, errors.Wrap(err, "scanning masterdata")
		}
		var entry epcis.MasterData
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, errors.Wrap(err, "unmarshaling masterdata")
		}
		capture.MasterData = append(capture.MasterData, entry)
	}
	return &capture, mdRows.Err()
}

// Captures implements storage.Tx, newest first.
func (tx *pgTx) Captures(ctx context.Context, tenantID string, limit, offset int) ([]epcis.Capture, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := tx.tx.QueryContext(ctx,
		`SELECT id, data FROM captures WHERE tenant_id = $1 ORDER BY id DESC LIMIT $2 OFFSET $3`,
		tenantID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "listing captures")
	}
	defer rows.Close()

	var captures []epcis.Capture
	for rows.Next() {
		var capture epcis.Capture
		if err := rows.Scan(&capture.ID, &capture); err != nil {
			return nil, errors.Wrap(err, "scanning capture")
		}
		capture.TenantID = tenantID
		captures = append(captures, capture)
	}
	return captures, rows.Err()
}

// EventIDsMatching implements storage.Tx: the filter chain translates to
// one SELECT over the events table projecting only primary keys.
func (tx *pgTx) EventIDsMatching(ctx context.Context, filters storage.Filters) ([]int64, error) {
	statement, args, err := buildIDSelect(filters)
	if err != nil {
		return nil, err
	}

	rows, err := tx.tx.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, errors.Wrap(err, "selecting event ids")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scanning event id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// HydrateEvents implements storage.Tx. Row order from the database is
// not trusted; the rows are put back into the order of ids.
func (tx *pgTx) HydrateEvents(ctx context.Context, ids []int64) ([]epcis.Event, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := tx.tx.QueryContext(ctx,
		`SELECT id, tenant_id, data FROM events WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, errors.Wrap(err, "hydrating events")
	}
	defer rows.Close()

	var events []epcis.Event
	for rows.Next() {
		var event epcis.Event
		var tenantID string
		if err := rows.Scan(&event.ID, &tenantID, &event); err != nil {
			return nil, errors.Wrap(err, "scanning event")
		}
		event.TenantID = tenantID
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	position := make(map[int64]int, len(ids))
	for i, id := range ids {
		position[id] = i
	}
	sort.Slice(events, func(a, b int) bool { return position[events[a].ID] < position[events[b].ID] })
	return events, nil
}

// DistinctEventValues implements storage.Tx.
func (tx *pgTx) DistinctEventValues(ctx context.Context, tenantID, field string, limit, offset int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}

	var statement string
	switch field {
	case storage.FieldEventType:
		statement = `SELECT DISTINCT event_type AS v FROM events WHERE tenant_id = $1 ORDER BY v LIMIT $2 OFFSET $3`
	case storage.FieldEpc:
		statement = `SELECT DISTINCT epc->>'id' AS v
			FROM events, jsonb_array_elements(COALESCE(data->'epcs', '[]'::jsonb)) AS epc
			WHERE tenant_id = $1 ORDER BY v LIMIT $2 OFFSET $3`
	default:
		column, ok := scalarJSONKeys[field]
		if !ok {
			return nil, errors.Wrapf(web.ErrInvalidInput, "no distinct listing for field %q", field)
		}
		statement = `SELECT DISTINCT data->>'` + column + `' AS v FROM events
			WHERE tenant_id = $1 AND data->>'` + column + `' IS NOT NULL ORDER BY v LIMIT $2 OFFSET $3`
	}

	rows, err := tx.tx.QueryContext(ctx, statement, tenantID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "listing distinct values")
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, errors.Wrap(err, "scanning distinct value")
		}
		values = append(values, value)
	}
	return values, rows.Err()
}

// VocabularyDescendants implements storage.Tx with a recursive walk over
// the masterdata children arrays.
func (tx *pgTx) VocabularyDescendants(ctx context.Context, tenantID, id string) ([]string, error) {
	rows, err := tx.tx.QueryContext(ctx,
		`WITH RECURSIVE descendants(uri) AS (
			SELECT child.value
			FROM masterdata m,
			     jsonb_array_elements_text(COALESCE(m.data->'children', '[]'::jsonb)) AS child
			WHERE m.tenant_id = $1 AND m.uri = $2
			UNION
			SELECT child.value
			FROM descendants d
			JOIN masterdata m ON m.tenant_id = $1 AND m.uri = d.uri,
			     jsonb_array_elements_text(COALESCE(m.data->'children', '[]'::jsonb)) AS child
		)
		SELECT DISTINCT uri FROM descendants ORDER BY uri`,
		tenantID, id)
	if err != nil {
		return nil, errors.Wrap(err, "resolving descendants")
	}
	defer rows.Close()

	var descendants []string
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, errors.Wrap(err, "scanning descendant")
		}
		descendants = append(descendants, uri)
	}
	return descendants, rows.Err()
}

// VocabularyIDsWithAttribute implements storage.Tx.
func (tx *pgTx) VocabularyIDsWithAttribute(ctx context.Context, tenantID, vocabType, attribute string, value *string) ([]string, error) {
	rows, err := tx.tx.QueryContext(ctx,
		`SELECT DISTINCT m.uri
		 FROM masterdata m,
		      jsonb_array_elements(COALESCE(m.data->'attributes', '[]'::jsonb)) AS a
		 WHERE m.tenant_id = $1
		   AND ($2 = '' OR m.vocab_type = $2)
		   AND a->>'id' = $3
		   AND ($4::text IS NULL OR a->>'value' = $4)
		 ORDER BY m.uri`,
		tenantID, vocabType, attribute, value)
	if err != nil {
		return nil, errors.Wrap(err, "resolving attribute vocabulary")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scanning vocabulary id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpsertQuery implements storage.Tx.
func (tx *pgTx) UpsertQuery(ctx context.Context, storedQuery *epcis.StoredQuery) error {
	row := tx.tx.QueryRowContext(ctx,
		`INSERT INTO queries (tenant_id, name, data) VALUES ($1, $2, $3)
		 ON CONFLICT (tenant_id, name) DO UPDATE SET data = EXCLUDED.data
		 RETURNING id`,
		storedQuery.TenantID, storedQuery.Name, *storedQuery)
	return errors.Wrap(row.Scan(&storedQuery.ID), "upserting query")
}

// QueryByName implements storage.Tx.
func (tx *pgTx) QueryByName(ctx context.Context, tenantID, name string) (*epcis.StoredQuery, error) {
	var storedQuery epcis.StoredQuery
	row := tx.tx.QueryRowContext(ctx,
		`SELECT id, data FROM queries WHERE tenant_id = $1 AND name = $2`, tenantID, name)
	if err := row.Scan(&storedQuery.ID, &storedQuery); err != nil {
		if err == sql.ErrNoRows {
			return nil, web.ErrNotFound
		}
		return nil, errors.Wrap(err, "loading query")
	}
	storedQuery.TenantID = tenantID
	return &storedQuery, nil
}

// ListQueries implements storage.Tx.
func (tx *pgTx) ListQueries(ctx context.Context, tenantID string) ([]epcis.StoredQuery, error) {
	rows, err := tx.tx.QueryContext(ctx,
		`SELECT id, data FROM queries WHERE tenant_id = $1 ORDER BY name`, tenantID)
	if err != nil {
		return nil, errors.Wrap(err, "listing queries")
	}
	defer rows.Close()

	var queries []epcis.StoredQuery
	for rows.Next() {
		var storedQuery epcis.StoredQuery
		if err := rows.Scan(&storedQuery.ID, &storedQuery); err != nil {
			return nil, errors.Wrap(err, "scanning query")
		}
		storedQuery.TenantID = tenantID
		queries = append(queries, storedQuery)
	}
	return queries, rows.Err()
}

// DeleteQuery implements storage.Tx.
func (tx *pgTx) DeleteQuery(ctx context.Context, tenantID, name string) error {
	result, err := tx.tx.ExecContext(ctx,
		`DELETE FROM queries WHERE tenant_id = $1 AND name = $2`, tenantID, name)
	if err != nil {
		return errors.Wrap(err, "deleting query")
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return web.ErrNotFound
	}
	return nil
}

// UpsertSubscription implements storage.Tx. Creating a name that already
// exists under another subscription id conflicts.
func (tx *pgTx) UpsertSubscription(ctx context.Context, subscription *epcis.Subscription) error {
	var existingID string
	row := tx.tx.QueryRowContext(ctx,
		`SELECT subscription_id FROM subscriptions WHERE tenant_id = $1 AND name = $2`,
		subscription.TenantID, subscription.Name)
	switch err := row.Scan(&existingID); err {
	case nil:
		if existingID != subscription.SubscriptionID {
			return errors.Wrapf(web.ErrDuplicate, "subscription %q already exists", subscription.Name)
		}
	case sql.ErrNoRows:
	default:
		return errors.Wrap(err, "checking subscription")
	}

	idRow := tx.tx.QueryRowContext(ctx,
		`INSERT INTO subscriptions (tenant_id, name, subscription_id, active, last_executed, data)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (tenant_id, name) DO UPDATE
		 SET subscription_id = EXCLUDED.subscription_id, active = EXCLUDED.active, data = EXCLUDED.data
		 RETURNING id`,
		subscription.TenantID, subscription.Name, subscription.SubscriptionID,
		subscription.Active, subscription.LastExecutedTime, *subscription)
	return errors.Wrap(idRow.Scan(&subscription.ID), "upserting subscription")
}

// ListSubscriptions implements storage.Tx. Delivery accounting lives in
// columns; the data blob carries the static definition.
func (tx *pgTx) ListSubscriptions(ctx context.Context, tenantID string) ([]epcis.Subscription, error) {
	rows, err := tx.tx.QueryContext(ctx,
		`SELECT id, active, COALESCE(last_executed, 'epoch'::timestamptz), attempts, failures, last_error, data
		 FROM subscriptions WHERE tenant_id = $1 ORDER BY name`, tenantID)
	if err != nil {
		return nil, errors.Wrap(err, "listing subscriptions")
	}
	defer rows.Close()
	return scanSubscriptions(rows, tenantID)
}

// ActiveSubscriptions implements storage.Tx.
func (tx *pgTx) ActiveSubscriptions(ctx context.Context) ([]epcis.Subscription, error) {
	rows, err := tx.tx.QueryContext(ctx,
		`SELECT id, active, COALESCE(last_executed, 'epoch'::timestamptz), attempts, failures, last_error, data, tenant_id
		 FROM subscriptions WHERE active ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "listing active subscriptions")
	}
	defer rows.Close()

	var subscriptions []epcis.Subscription
	for rows.Next() {
		var subscription epcis.Subscription
		var columns subscriptionColumns
		var tenantID string
		if err := rows.Scan(&columns.id, &columns.active, &columns.lastExecuted,
			&columns.attempts, &columns.failures, &columns.lastError,
			&subscription, &tenantID); err != nil {
			return nil, errors.Wrap(err, "scanning subscription")
		}
		subscription.TenantID = tenantID
		columns.apply(&subscription)
		subscriptions = append(subscriptions, subscription)
	}
	return subscriptions, rows.Err()
}

// DeleteSubscription implements storage.Tx.
func (tx *pgTx) DeleteSubscription(ctx context.Context, tenantID, name string) error {
	result, err := tx.tx.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE tenant_id = $1 AND name = $2`, tenantID, name)
	if err != nil {
		return errors.Wrap(err, "deleting subscription")
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return web.ErrNotFound
	}
	return nil
}

// RecordSubscriptionRun implements storage.Tx: the cursor only moves
// forward, accounting accumulates.
func (tx *pgTx) RecordSubscriptionRun(ctx context.Context, tenantID, name string, cursor time.Time, attempts, failures int64, lastError string) error {
	result, err := tx.tx.ExecContext(ctx,
		`UPDATE subscriptions
		 SET last_executed = GREATEST(COALESCE(last_executed, 'epoch'::timestamptz), $3),
		     attempts = attempts + $4,
		     failures = failures + $5,
		     last_error = $6
		 WHERE tenant_id = $1 AND name = $2`,
		tenantID, name, cursor, attempts, failures, lastError)
	if err != nil {
		return errors.Wrap(err, "recording subscription run")
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return web.ErrNotFound
	}
	return nil
}

// subscriptionColumns carries the row columns that take precedence over
// the data blob: the blob holds the definition as created, the columns
// hold the live accounting.
type subscriptionColumns struct {
	id           int64
	active       bool
	lastExecuted time.Time
	attempts     int64
	failures     int64
	lastError    string
}

func (columns *subscriptionColumns) apply(subscription *epcis.Subscription) {
	subscription.ID = columns.id
	subscription.Active = columns.active
	subscription.Attempts = columns.attempts
	subscription.Failures = columns.failures
	subscription.LastError = columns.lastError
	if columns.lastExecuted.Unix() > 0 && columns.lastExecuted.After(subscription.LastExecutedTime) {
		subscription.LastExecutedTime = columns.lastExecuted
	}
}

func scanSubscriptions(rows *sql.Rows, tenantID string) ([]epcis.Subscription, error) {
	var subscriptions []epcis.Subscription
	for rows.Next() {
		var subscription epcis.Subscription
		var columns subscriptionColumns
		if err := rows.Scan(&columns.id, &columns.active, &columns.lastExecuted,
			&columns.attempts, &columns.failures, &columns.lastError,
			&subscription); err != nil {
			return nil, errors.Wrap(err, "scanning subscription")
		}
		subscription.TenantID = tenantID
		columns.apply(&subscription)
		subscriptions = append(subscriptions, subscription)
	}
	return subscriptions, rows.Err()
}
