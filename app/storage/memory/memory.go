/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

// Package memory is the in-process storage provider. It backs the unit
// tests and the "memory" storageProvider option; the evaluation here is
// the reference semantics of the predicate chain.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/Robert-Freire/epcis/app/epcis"
	"github.com/Robert-Freire/epcis/app/storage"
	"github.com/Robert-Freire/epcis/pkg/web"
)

// DB holds everything under one mutex; transactions stage their capture
// inserts and apply them on commit so a failed closure leaves no partial
// capture. Query and subscription writes apply at once and are not
// undone when the closure fails.
type DB struct {
	mu sync.Mutex

	nextCaptureID int64
	nextEventID   int64
	nextNamedID   int64

	captures []*epcis.Capture
	// flat view over all capture events, keyed by assigned id
	events map[int64]*eventRecord

	queries       map[string]map[string]*epcis.StoredQuery
	subscriptions map[string]map[string]*epcis.Subscription
}

type eventRecord struct {
	tenantID string
	event    *epcis.Event
}

// NewDB returns an empty store.
func NewDB() *DB {
	return &DB{
		events:        map[int64]*eventRecord{},
		queries:       map[string]map[string]*epcis.StoredQuery{},
		subscriptions: map[string]map[string]*epcis.Subscription{},
	}
}

// Close implements storage.Store.
func (db *DB) Close() error { return nil }

// Tx implements storage.Store. The closure's staged inserts apply only
// when it returns nil.
func (db *DB) Tx(ctx context.Context, fn func(tx storage.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx := &memTx{db: db}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

type memTx struct {
	db             *DB
	stagedCaptures []*epcis.Capture
}

func (tx *memTx) commit() {
	for _, capture := range tx.stagedCaptures {
		tx.db.captures = append(tx.db.captures, capture)
		for i := range capture.Events {
			event := &capture.Events[i]
			tx.db.events[event.ID] = &eventRecord{tenantID: capture.TenantID, event: event}
		}
	}
	tx.stagedCaptures = nil
}

// InsertCapture implements storage.Tx.
func (tx *memTx) InsertCapture(ctx context.Context, capture *epcis.Capture) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	stored := cloneCapture(capture)
	tx.db.nextCaptureID++
	stored.ID = tx.db.nextCaptureID
	for i := range stored.Events {
		tx.db.nextEventID++
		stored.Events[i].ID = tx.db.nextEventID
		stored.Events[i].TenantID = stored.TenantID
		stored.Events[i].RecordTime = stored.RecordTime
	}
	tx.stagedCaptures = append(tx.stagedCaptures, stored)

	// reflect assigned ids back to the caller's aggregate
	capture.ID = stored.ID
	for i := range capture.Events {
		capture.Events[i].ID = stored.Events[i].ID
		capture.Events[i].TenantID = stored.Events[i].TenantID
		capture.Events[i].RecordTime = stored.Events[i].RecordTime
	}
	return nil
}

// CaptureByID implements storage.Tx.
func (tx *memTx) CaptureByID(ctx context.Context, tenantID, captureID string) (*epcis.Capture, error) {
	for _, capture := range tx.db.captures {
		if capture.TenantID == tenantID && capture.CaptureID == captureID {
			return cloneCapture(capture), nil
		}
	}
	return nil, web.ErrNotFound
}

// Captures implements storage.Tx, newest first.
func (tx *memTx) Captures(ctx context.Context, tenantID string, limit, offset int) ([]epcis.Capture, error) {
	var matched []*epcis.Capture
	for _, capture := range tx.db.captures {
		if capture.TenantID == tenantID {
			matched = append(matched, capture)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	matched = window(matched, limit, offset)
	out := make([]epcis.Capture, 0, len(matched))
	for _, capture := range matched {
		out = append(out, *cloneCapture(capture))
	}
	return out, nil
}

// EventIDsMatching implements storage.Tx.
func (tx *memTx) EventIDsMatching(ctx context.Context, filters storage.Filters) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var matched []*eventRecord
	for _, record := range tx.db.events {
		if !filters.AllTenants && record.tenantID != filters.TenantID {
			continue
		}
		if matchesAll(record.event, filters.Predicates) {
			matched = append(matched, record)
		}
	}

	descending := filters.Order.Descending
	key := orderValue(filters.Order.Key)
	sort.Slice(matched, func(i, j int) bool {
		a, b := key(matched[i].event), key(matched[j].event)
		if !a.Equal(b) {
			if descending {
				return a.After(b)
			}
			return a.Before(b)
		}
		if descending {
			return matched[i].event.ID > matched[j].event.ID
		}
		return matched[i].event.ID < matched[j].event.ID
	})

	matched = window(matched, filters.Limit.Count, filters.Limit.Offset)
	ids := make([]int64, 0, len(matched))
	for _, record := range matched {
		ids = append(ids, record.event.ID)
	}
	return ids, nil
}

// HydrateEvents implements storage.Tx, preserving the given order.
func (tx *memTx) HydrateEvents(ctx context.Context, ids []int64) ([]epcis.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]epcis.Event, 0, len(ids))
	for _, id := range ids {
		if record, ok := tx.db.events[id]; ok {
			out = append(out, *cloneEvent(record.event))
		}
	}
	return out, nil
}

// DistinctEventValues implements storage.Tx.
func (tx *memTx) DistinctEventValues(ctx context.Context, tenantID, field string, limit, offset int) ([]string, error) {
	set := map[string]bool{}
	for _, record := range tx.db.events {
		if record.tenantID != tenantID {
			continue
		}
		if field == storage.FieldEpc {
			for _, epc := range record.event.Epcs {
				set[epc.ID] = true
			}
			continue
		}
		if value, ok := scalarString(record.event, field); ok && value != "" {
			set[value] = true
		}
	}

	values := make([]string, 0, len(set))
	for value := range set {
		values = append(values, value)
	}
	sort.Strings(values)
	return window(values, limit, offset), nil
}

// VocabularyDescendants implements storage.Tx.
func (tx *memTx) VocabularyDescendants(ctx context.Context, tenantID, id string) ([]string, error) {
	children := map[string][]string{}
	for _, capture := range tx.db.captures {
		if capture.TenantID != tenantID {
			continue
		}
		for _, entry := range capture.MasterData {
			children[entry.ID] = append(children[entry.ID], entry.Children...)
		}
	}

	var out []string
	seen := map[string]bool{id: true}
	frontier := []string{id}
	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]
		for _, child := range children[next] {
			if seen[child] {
				continue
			}
			seen[child] = true
			out = append(out, child)
			frontier = append(frontier, child)
		}
	}
	sort.Strings(out)
	return out, nil
}

// VocabularyIDsWithAttribute implements storage.Tx.
func (tx *memTx) VocabularyIDsWithAttribute(ctx context.Context, tenantID, vocabType, attribute string, value *string) ([]string, error) {
	set := map[string]bool{}
	for _, capture := range tx.db.captures {
		if capture.TenantID != tenantID {
			continue
		}
		for _, entry := range capture.MasterData {
			if vocabType != "" && entry.Type != vocabType {
				continue
			}
			for _, attr := range entry.Attributes {
				if attr.ID != attribute {
					continue
				}
				if value != nil && attr.Value != *value {
					continue
				}
				set[entry.ID] = true
			}
		}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// UpsertQuery implements storage.Tx.
func (tx *memTx) UpsertQuery(ctx context.Context, storedQuery *epcis.StoredQuery) error {
	byName := tx.db.queries[storedQuery.TenantID]
	if byName == nil {
		byName = map[string]*epcis.StoredQuery{}
		tx.db.queries[storedQuery.TenantID] = byName
	}
	if storedQuery.ID == 0 {
		tx.db.nextNamedID++
		storedQuery.ID = tx.db.nextNamedID
	}
	clone := *storedQuery
	byName[storedQuery.Name] = &clone
	return nil
}

// QueryByName implements storage.Tx.
func (tx *memTx) QueryByName(ctx context.Context, tenantID, name string) (*epcis.StoredQuery, error) {
	if stored, ok := tx.db.queries[tenantID][name]; ok {
		clone := *stored
		return &clone, nil
	}
	return nil, web.ErrNotFound
}

// ListQueries implements storage.Tx.
func (tx *memTx) ListQueries(ctx context.Context, tenantID string) ([]epcis.StoredQuery, error) {
	var out []epcis.StoredQuery
	for _, stored := range tx.db.queries[tenantID] {
		out = append(out, *stored)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DeleteQuery implements storage.Tx.
func (tx *memTx) DeleteQuery(ctx context.Context, tenantID, name string) error {
	if _, ok := tx.db.queries[tenantID][name]; !ok {
		return web.ErrNotFound
	}
	delete(tx.db.queries[tenantID], name)
	return nil
}

// UpsertSubscription implements storage.Tx.
func (tx *memTx) UpsertSubscription(ctx context.Context, subscription *epcis.Subscription) error {
	byName := tx.db.subscriptions[subscription.TenantID]
	if byName == nil {
		byName = map[string]*epcis.Subscription{}
		tx.db.subscriptions[subscription.TenantID] = byName
	}
	if existing, ok := byName[subscription.Name]; ok && existing.SubscriptionID != subscription.SubscriptionID {
		return errors.Wrapf(web.ErrDuplicate, "subscription %q already exists", subscription.Name)
	}
	if subscription.ID == 0 {
		tx.db.nextNamedID++
		subscription.ID = tx.db.nextNamedID
	}
	clone := *subscription
	byName[subscription.Name] = &clone
	return nil
}

// ListSubscriptions implements storage.Tx.
func (tx *memTx) ListSubscriptions(ctx context.Context, tenantID string) ([]epcis.Subscription, error) {
	var out []epcis.Subscription
	for _, subscription := range tx.db.subscriptions[tenantID] {
		out = append(out, *subscription)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ActiveSubscriptions implements storage.Tx.
func (tx *memTx) ActiveSubscriptions(ctx context.Context) ([]epcis.Subscription, error) {
	var out []epcis.Subscription
	for _, byName := range tx.db.subscriptions {
		for _, subscription := range byName {
			if subscription.Active {
				out = append(out, *subscription)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DeleteSubscription implements storage.Tx.
func (tx *memTx) DeleteSubscription(ctx context.Context, tenantID, name string) error {
	if _, ok := tx.db.subscriptions[tenantID][name]; !ok {
		return web.ErrNotFound
	}
	delete(tx.db.subscriptions[tenantID], name)
	return nil
}

// RecordSubscriptionRun implements storage.Tx. The watermark only moves
// forward.
func (tx *memTx) RecordSubscriptionRun(ctx context.Context, tenantID, name string, cursor time.Time, attempts, failures int64, lastError string) error {
	subscription, ok := tx.db.subscriptions[tenantID][name]
	if !ok {
		return web.ErrNotFound
	}
	if cursor.After(subscription.LastExecutedTime) {
		subscription.LastExecutedTime = cursor
	}
	subscription.Attempts += attempts
	subscription.Failures += failures
	subscription.LastError = lastError
	return nil
}

func window[T any](values []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(values) {
			return nil
		}
		values = values[offset:]
	}
	if limit > 0 && len(values) > limit {
		values = values[:limit]
	}
	return values
}

func orderValue(key string) func(*epcis.Event) time.Time {
	if key == storage.FieldRecordTime {
		return func(event *epcis.Event) time.Time { return event.RecordTime }
	}
	return func(event *epcis.Event) time.Time { return event.EventTime }
}

func cloneCapture(capture *epcis.Capture) *epcis.Capture {
	clone := *capture
	clone.Events = append([]epcis.Event(nil), capture.Events...)
	for i := range clone.Events {
		clone.Events[i] = *cloneEvent(&capture.Events[i])
	}
	clone.MasterData = append([]epcis.MasterData(nil), capture.MasterData...)
	return &clone
}

func cloneEvent(event *epcis.Event) *epcis.Event {
	clone := *event
	clone.Epcs = append([]epcis.Epc(nil), event.Epcs...)
	clone.Transactions = append([]epcis.BusinessTransaction(nil), event.Transactions...)
	clone.Sources = append([]epcis.Source(nil), event.Sources...)
	clone.Destinations = append([]epcis.Destination(nil), event.Destinations...)
	clone.PersistentDispositions = append([]epcis.PersistentDisposition(nil), event.PersistentDispositions...)
	clone.SensorElements = append([]epcis.SensorElement(nil), event.SensorElements...)
	clone.Reports = append([]epcis.SensorReport(nil), event.Reports...)
	clone.Fields = append([]epcis.Field(nil), event.Fields...)
	clone.CorrectiveEventIDs = append([]string(nil), event.CorrectiveEventIDs...)
	return &clone
}
