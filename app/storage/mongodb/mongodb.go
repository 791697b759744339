/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

// Package mongodb is the MongoDB storage provider, retained for the
// deployments running the document store. Aggregates persist as
// embedded documents; child predicates translate to $elemMatch, which
// gives the per-report conjunction its semantics directly. MongoDB has
// no multi-document transaction here: a failed capture insert cleans up
// the rows it managed to write.
package mongodb

import (
	"context"
	"sort"
	"time"

	"github.com/globalsign/mgo"
	"github.com/globalsign/mgo/bson"
	db "github.com/intel/rsp-sw-toolkit-im-suite-go-dbWrapper"
	"github.com/pkg/errors"

	"github.com/Robert-Freire/epcis/app/epcis"
	"github.com/Robert-Freire/epcis/app/storage"
	"github.com/Robert-Freire/epcis/pkg/web"
)

const (
	captureCollection      = "captures"
	eventCollection        = "events"
	masterDataCollection   = "masterdata"
	queryCollection        = "queries"
	subscriptionCollection = "subscriptions"
	counterCollection      = "counters"
)

// DB implements storage.Store over the mongo session wrapper.
type DB struct {
	masterDB *db.DB
}

// NewSession connects to the database named in the host string.
func NewSession(dbHost string, timeout time.Duration) (*DB, error) {
	masterDB, err := db.NewSession(dbHost, timeout)
	if err != nil {
		return nil, errors.Wrap(err, "registering mongo session")
	}
	store := &DB{masterDB: masterDB}
	if err := store.prepare(); err != nil {
		masterDB.Close()
		return nil, err
	}
	return store, nil
}

func (store *DB) prepare() error {
	indexes := map[string][]mgo.Index{
		eventCollection: {
			{Key: []string{"tenantId", "eventTime", "id"}},
			{Key: []string{"tenantId", "recordTime", "id"}},
			{Key: []string{"id"}, Unique: true},
		},
		captureCollection:      {{Key: []string{"tenantId", "captureId"}}},
		masterDataCollection:   {{Key: []string{"tenantId", "id"}}},
		queryCollection:        {{Key: []string{"tenantId", "name"}, Unique: true}},
		subscriptionCollection: {{Key: []string{"tenantId", "name"}, Unique: true}},
	}

	for collection, defs := range indexes {
		for _, index := range defs {
			execFunc := func(c *mgo.Collection) error { return c.EnsureIndex(index) }
			if err := store.masterDB.Execute(collection, execFunc); err != nil {
				return errors.Wrapf(err, "ensuring index on %s", collection)
			}
		}
	}
	return nil
}

// Close implements storage.Store.
func (store *DB) Close() error {
	store.masterDB.Close()
	return nil
}

// Tx implements storage.Store. The closure runs against a copied
// session; mongo gives no cross-document atomicity, so InsertCapture
// cleans up after itself on failure.
func (store *DB) Tx(ctx context.Context, fn func(tx storage.Tx) error) error {
	session := store.masterDB.CopySession()
	defer session.Close()

	if err := fn(&mongoTx{dbs: session}); err != nil {
		return err
	}
	return ctx.Err()
}

type mongoTx struct {
	dbs *db.DB
}

// nextSequence reserves n ids from the named counter.
func (tx *mongoTx) nextSequence(name string, n int) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	execFunc := func(c *mgo.Collection) error {
		_, err := c.Find(bson.M{"_id": name}).Apply(mgo.Change{
			Update:    bson.M{"$inc": bson.M{"seq": int64(n)}},
			Upsert:    true,
			ReturnNew: true,
		}, &counter)
		return err
	}
	if err := tx.dbs.Execute(counterCollection, execFunc); err != nil {
		return 0, errors.Wrapf(err, "reserving %s ids", name)
	}
	return counter.Seq - int64(n) + 1, nil
}

// InsertCapture implements storage.Tx.
func (tx *mongoTx) InsertCapture(ctx context.Context, capture *epcis.Capture) error {
	captureID, err := tx.nextSequence("captures", 1)
	if err != nil {
		return err
	}
	capture.ID = captureID

	firstEventID := int64(0)
	if len(capture.Events) > 0 {
		firstEventID, err = tx.nextSequence("events", len(capture.Events))
		if err != nil {
			return err
		}
	}
	for i := range capture.Events {
		capture.Events[i].ID = firstEventID + int64(i)
		capture.Events[i].TenantID = capture.TenantID
		capture.Events[i].RecordTime = capture.RecordTime
	}

	header := *capture
	header.Events = nil
	header.MasterData = nil

	cleanup := func() {
		tx.dbs.Execute(eventCollection, func(c *mgo.Collection) error {
			_, err := c.RemoveAll(bson.M{"captureRef": capture.ID})
			return err
		})
		tx.dbs.Execute(masterDataCollection, func(c *mgo.Collection) error {
			_, err := c.RemoveAll(bson.M{"captureRef": capture.ID})
			return err
		})
		tx.dbs.Execute(captureCollection, func(c *mgo.Collection) error {
			return c.Remove(bson.M{"id": capture.ID})
		})
	}

	if err := tx.dbs.Execute(captureCollection, func(c *mgo.Collection) error {
		return c.Insert(&header)
	}); err != nil {
		return errors.Wrap(err, "inserting capture")
	}

	for i := range capture.Events {
		event := &capture.Events[i]
		document := struct {
			epcis.Event `bson:",inline"`
			CaptureRef  int64 `bson:"captureRef"`
		}{Event: *event, CaptureRef: capture.ID}

		if err := tx.dbs.Execute(eventCollection, func(c *mgo.Collection) error {
			return c.Insert(&document)
		}); err != nil {
			cleanup()
			return errors.Wrap(err, "inserting event")
		}
	}

	for i := range capture.MasterData {
		entry := capture.MasterData[i]
		document := struct {
			epcis.MasterData `bson:",inline"`
			TenantID         string `bson:"tenantId"`
			CaptureRef       int64  `bson:"captureRef"`
		}{MasterData: entry, TenantID: capture.TenantID, CaptureRef: capture.ID}

		if err := tx.dbs.Execute(masterDataCollection, func(c *mgo.Collection) error {
			return c.Insert(&document)
		}); err != nil {
			cleanup()
			return errors.Wrap(err, "inserting masterdata")
		}
	}

	if err := ctx.Err(); err != nil {
		cleanup()
		return err
	}
	return nil
}

// CaptureByID implements storage.Tx.
func (tx *mongoTx) CaptureByID(ctx context.Context, tenantID, captureID string) (*epcis.Capture, error) {
	var capture epcis.Capture
	err := tx.dbs.Execute(captureCollection, func(c *mgo.Collection) error {
		return c.Find(bson.M{"tenantId": tenantID, "captureId": captureID}).One(&capture)
	})
	if err != nil {
		if err == mgo.ErrNotFound {
			return nil, web.ErrNotFound
		}
		return nil, errors.Wrap(err, "db.captures.find()")
	}

	err = tx.dbs.Execute(eventCollection, func(c *mgo.Collection) error {
		return c.Find(bson.M{"captureRef": capture.ID}).Sort("id").All(&capture.Events)
	})
	if err != nil {
		return nil, errors.Wrap(err, "db.events.find()")
	}

	err = tx.dbs.Execute(masterDataCollection, func(c *mgo.Collection) error {
		return c.Find(bson.M{"captureRef": capture.ID}).All(&capture.MasterData)
	})
	if err != nil {
		return nil, errors.Wrap(err, "db.masterdata.find()")
	}
	return &capture, nil
}

// Captures implements storage.Tx.
func (tx *mongoTx) Captures(ctx context.Context, tenantID string, limit, offset int) ([]epcis.Capture, error) {
	if limit <= 0 {
		limit = 100
	}
	var captures []epcis.Capture
	err := tx.dbs.Execute(captureCollection, func(c *mgo.Collection) error {
		return c.Find(bson.M{"tenantId": tenantID}).Sort("-id").Skip(offset).Limit(limit).All(&captures)
	})
	if err != nil {
		return nil, errors.Wrap(err, "db.captures.find()")
	}
	return captures, nil
}

// EventIDsMatching implements storage.Tx.
func (tx *mongoTx) EventIDsMatching(ctx context.Context, filters storage.Filters) ([]int64, error) {
	selector, err := buildSelector(filters)
	if err != nil {
		return nil, err
	}

	sortKeys := sortSpec(filters.Order)

	var rows []struct {
		ID int64 `bson:"id"`
	}
	err = tx.dbs.Execute(eventCollection, func(c *mgo.Collection) error {
		query := c.Find(selector).Sort(sortKeys...).Select(bson.M{"id": 1})
		if filters.Limit.Offset > 0 {
			query = query.Skip(filters.Limit.Offset)
		}
		if filters.Limit.Count > 0 {
			query = query.Limit(filters.Limit.Count)
		}
		return query.All(&rows)
	})
	if err != nil {
		return nil, errors.Wrap(err, "db.events.find()")
	}

	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	return ids, nil
}

// HydrateEvents implements storage.Tx, returning the events in the order
// of ids.
func (tx *mongoTx) HydrateEvents(ctx context.Context, ids []int64) ([]epcis.Event, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var events []epcis.Event
	err := tx.dbs.Execute(eventCollection, func(c *mgo.Collection) error {
		return c.Find(bson.M{"id": bson.M{"$in": ids}}).All(&events)
	})
	if err != nil {
		return nil, errors.Wrap(err, "db.events.find()")
	}
	position := make(map[int64]int, len(ids))
	for i, id := range ids {
		position[id] = i
	}
	sort.Slice(events, func(a, b int) bool { return position[events[a].ID] < position[events[b].ID] })
	return events, nil
}

// DistinctEventValues implements storage.Tx.
func (tx *mongoTx) DistinctEventValues(ctx context.Context, tenantID, field string, limit, offset int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}

	key := ""
	switch field {
	case storage.FieldEventType:
		key = "eventType"
	case storage.FieldEpc:
		key = "epcs.id"
	default:
		var ok bool
		key, ok = scalarBsonKeys[field]
		if !ok {
			return nil, errors.Wrapf(web.ErrInvalidInput, "no distinct listing for field %q", field)
		}
	}

	var values []string
	err := tx.dbs.Execute(eventCollection, func(c *mgo.Collection) error {
		return c.Find(bson.M{"tenantId": tenantID}).Distinct(key, &values)
	})
	if err != nil {
		return nil, errors.Wrap(err, "db.events.distinct()")
	}

	sort.Strings(values)
	if offset >= len(values) {
		return nil, nil
	}
	values = values[offset:]
	if len(values) > limit {
		values = values[:limit]
	}
	return values, nil
}

// VocabularyDescendants implements storage.Tx with an iterative breadth
// first walk.
func (tx *mongoTx) VocabularyDescendants(ctx context.Context, tenantID, id string) ([]string, error) {
	seen := map[string]bool{id: true}
	frontier := []string{id}
	var out []string

	for len(frontier) > 0 {
		var entries []epcis.MasterData
		err := tx.dbs.Execute(masterDataCollection, func(c *mgo.Collection) error {
			return c.Find(bson.M{"tenantId": tenantID, "id": bson.M{"$in": frontier}}).All(&entries)
		})
		if err != nil {
			return nil, errors.Wrap(err, "db.masterdata.find()")
		}

		frontier = nil
		for _, entry := range entries {
			for _, child := range entry.Children {
				if seen[child] {
					continue
				}
				seen[child] = true
				out = append(out, child)
				frontier = append(frontier, child)
			}
		}
	}

	sort.Strings(out)
	return out, nil
}

// VocabularyIDsWithAttribute implements storage.Tx.
func (tx *mongoTx) VocabularyIDsWithAttribute(ctx context.Context, tenantID, vocabType, attribute string, value *string) ([]string, error) {
	attrMatch := bson.M{"id": attribute}
	if value != nil {
		attrMatch["value"] = *value
	}
	selector := bson.M{
		"tenantId":   tenantID,
		"attributes": bson.M{"$elemMatch": attrMatch},
	}
	if vocabType != "" {
		selector["type"] = vocabType
	}

	var ids []string
	err := tx.dbs.Execute(masterDataCollection, func(c *mgo.Collection) error {
		return c.Find(selector).Distinct("id", &ids)
	})
	if err != nil {
		return nil, errors.Wrap(err, "db.masterdata.distinct()")
	}
	sort.Strings(ids)
	return ids, nil
}

// UpsertQuery implements storage.Tx.
func (tx *mongoTx) UpsertQuery(ctx context.Context, storedQuery *epcis.StoredQuery) error {
	if storedQuery.ID == 0 {
		id, err := tx.nextSequence("named", 1)
		if err != nil {
			return err
		}
		storedQuery.ID = id
	}
	return tx.dbs.Execute(queryCollection, func(c *mgo.Collection) error {
		_, err := c.Upsert(bson.M{"tenantId": storedQuery.TenantID, "name": storedQuery.Name}, storedQuery)
		return err
	})
}

// QueryByName implements storage.Tx.
func (tx *mongoTx) QueryByName(ctx context.Context, tenantID, name string) (*epcis.StoredQuery, error) {
	var storedQuery epcis.StoredQuery
	err := tx.dbs.Execute(queryCollection, func(c *mgo.Collection) error {
		return c.Find(bson.M{"tenantId": tenantID, "name": name}).One(&storedQuery)
	})
	if err != nil {
		if err == mgo.ErrNotFound {
			return nil, web.ErrNotFound
		}
		return nil, errors.Wrap(err, "db.queries.find()")
	}
	return &storedQuery, nil
}

// ListQueries implements storage.Tx.
func (tx *mongoTx) ListQueries(ctx context.Context, tenantID string) ([]epcis.StoredQuery, error) {
	var queries []epcis.StoredQuery
	err := tx.dbs.Execute(queryCollection, func(c *mgo.Collection) error {
		return c.Find(bson.M{"tenantId": tenantID}).Sort("name").All(&queries)
	})
	if err != nil {
		return nil, errors.Wrap(err, "db.queries.find()")
	}
	return queries, nil
}

// DeleteQuery implements storage.Tx.
func (tx *mongoTx) DeleteQuery(ctx context.Context, tenantID, name string) error {
	err := tx.dbs.Execute(queryCollection, func(c *mgo.Collection) error {
		return c.Remove(bson.M{"tenantId": tenantID, "name": name})
	})
	if err == mgo.ErrNotFound {
		return web.ErrNotFound
	}
	return err
}

// UpsertSubscription implements storage.Tx.
func (tx *mongoTx) UpsertSubscription(ctx context.Context, subscription *epcis.Subscription) error {
	var existing epcis.Subscription
	err := tx.dbs.Execute(subscriptionCollection, func(c *mgo.Collection) error {
		return c.Find(bson.M{"tenantId": subscription.TenantID, "name": subscription.Name}).One(&existing)
	})
	switch err {
	case nil:
		if existing.SubscriptionID != subscription.SubscriptionID {
			return errors.Wrapf(web.ErrDuplicate, "subscription %q already exists", subscription.Name)
		}
	case mgo.ErrNotFound:
	default:
		return errors.Wrap(err, "db.subscriptions.find()")
	}

	if subscription.ID == 0 {
		id, err := tx.nextSequence("named", 1)
		if err != nil {
			return err
		}
		subscription.ID = id
	}
	return tx.dbs.Execute(subscriptionCollection, func(c *mgo.Collection) error {
		_, err := c.Upsert(bson.M{"tenantId": subscription.TenantID, "name": subscription.Name}, subscription)
		return err
	})
}

// ListSubscriptions implements storage.Tx.
func (tx *mongoTx) ListSubscriptions(ctx context.Context, tenantID string) ([]epcis.Subscription, error) {
	var subscriptions []epcis.Subscription
	err := tx.dbs.Execute(subscriptionCollection, func(c *mgo.Collection) error {
		return c.Find(bson.M{"tenantId": tenantID}).Sort("name").All(&subscriptions)
	})
	if err != nil {
		return nil, errors.Wrap(err, "db.subscriptions.find()")
	}
	return subscriptions, nil
}

// ActiveSubscriptions implements storage.Tx.
func (tx *mongoTx) ActiveSubscriptions(ctx context.Context) ([]epcis.Subscription, error) {
	var subscriptions []epcis.Subscription
	err := tx.dbs.Execute(subscriptionCollection, func(c *mgo.Collection) error {
		return c.Find(bson.M{"active": true}).Sort("name").All(&subscriptions)
	})
	if err != nil {
		return nil, errors.Wrap(err, "db.subscriptions.find()")
	}
	return subscriptions, nil
}

// DeleteSubscription implements storage.Tx.
func (tx *mongoTx) DeleteSubscription(ctx context.Context, tenantID, name string) error {
	err := tx.dbs.Execute(subscriptionCollection, func(c *mgo.Collection) error {
		return c.Remove(bson.M{"tenantId": tenantID, "name": name})
	})
	if err == mgo.ErrNotFound {
		return web.ErrNotFound
	}
	return err
}

// RecordSubscriptionRun implements storage.Tx.
func (tx *mongoTx) RecordSubscriptionRun(ctx context.Context, tenantID, name string, cursor time.Time, attempts, failures int64, lastError string) error {
	update := bson.M{
		"$inc": bson.M{"attempts": attempts, "failures": failures},
		"$set": bson.M{"lastError": lastError},
		"$max": bson.M{"lastExecutedTime": cursor.UTC()},
	}
	err := tx.dbs.Execute(subscriptionCollection, func(c *mgo.Collection) error {
		return c.Update(bson.M{"tenantId": tenantID, "name": name}, update)
	})
	if err == mgo.ErrNotFound {
		return web.ErrNotFound
	}
	return err
}

func sortSpec(order storage.Order) []string {
	key := "eventTime"
	if order.Key == storage.FieldRecordTime {
		key = "recordTime"
	}
	if order.Descending {
		return []string{"-" + key, "-id"}
	}
	return []string{key, "id"}
}
