/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

// Package storage defines the engine-agnostic persistence surface the
// capture handler, query engine and subscription engine rely on.
// Providers live in the subpackages postgres, mongodb and memory.
package storage

import (
	"context"
	"time"

	"github.com/Robert-Freire/epcis/app/epcis"
)

// Order names the sort key of a query. The secondary sort is always the
// persisted event id, so equal keys keep submission order.
type Order struct {
	// "eventTime" or "recordTime"
	Key        string
	Descending bool
}

// Limit bounds a result set.
type Limit struct {
	// Maximum rows; zero means unbounded
	Count int
	// Rows to skip before the first returned
	Offset int
}

// Filters is the executable form of one query: an implicit tenant
// predicate plus the ordered filter chain, order and bounds.
type Filters struct {
	TenantID string
	// Explicit super-user bypass of the tenant predicate
	AllTenants bool

	Predicates []Predicate

	Order Order
	Limit Limit
}

// Tx is the transactional surface. Hydrated aggregates are snapshots;
// they never track changes back to the store.
type Tx interface {
	// InsertCapture persists the capture aggregate and all owned
	// children, assigning storage ids. RecordTime must already be set by
	// the caller.
	InsertCapture(ctx context.Context, capture *epcis.Capture) error

	// CaptureByID loads one capture aggregate of the tenant.
	CaptureByID(ctx context.Context, tenantID, captureID string) (*epcis.Capture, error)

	// Captures lists the tenant's captures, newest first.
	Captures(ctx context.Context, tenantID string, limit, offset int) ([]epcis.Capture, error)

	// EventIDsMatching returns the primary keys of the events matching
	// the filter chain, in the requested order.
	EventIDsMatching(ctx context.Context, filters Filters) ([]int64, error)

	// HydrateEvents loads the full event aggregates for exactly the
	// given ids, in the order given.
	HydrateEvents(ctx context.Context, ids []int64) ([]epcis.Event, error)

	// DistinctEventValues returns the distinct values of one scalar
	// event field (or the distinct EPC ids for field "epc") over the
	// tenant's events, sorted.
	DistinctEventValues(ctx context.Context, tenantID, field string, limit, offset int) ([]string, error)

	// VocabularyDescendants returns the ids reachable from the given
	// vocabulary entry through children references, the entry excluded.
	VocabularyDescendants(ctx context.Context, tenantID, id string) ([]string, error)

	// VocabularyIDsWithAttribute returns the ids of vocabulary entries
	// of the given type carrying the attribute; a non-nil value also
	// requires the attribute value to match.
	VocabularyIDsWithAttribute(ctx context.Context, tenantID, vocabType, attribute string, value *string) ([]string, error)

	UpsertQuery(ctx context.Context, storedQuery *epcis.StoredQuery) error
	QueryByName(ctx context.Context, tenantID, name string) (*epcis.StoredQuery, error)
	ListQueries(ctx context.Context, tenantID string) ([]epcis.StoredQuery, error)
	DeleteQuery(ctx context.Context, tenantID, name string) error

	UpsertSubscription(ctx context.Context, subscription *epcis.Subscription) error
	ListSubscriptions(ctx context.Context, tenantID string) ([]epcis.Subscription, error)
	// ActiveSubscriptions spans all tenants; the subscription engine
	// loads its work list with it at startup.
	ActiveSubscriptions(ctx context.Context) ([]epcis.Subscription, error)
	DeleteSubscription(ctx context.Context, tenantID, name string) error

	// RecordSubscriptionRun advances the cursor and delivery accounting
	// of one subscription. The cursor never moves backwards.
	RecordSubscriptionRun(ctx context.Context, tenantID, name string, cursor time.Time, attempts, failures int64, lastError string) error
}

// Store runs closures inside one transaction, rolling back on error.
type Store interface {
	Tx(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Scalar event fields addressable by predicates and by
// DistinctEventValues.
const (
	FieldEventTime        = "eventTime"
	FieldRecordTime       = "recordTime"
	FieldEventType        = "eventType"
	FieldEventID          = "eventId"
	FieldAction           = "action"
	FieldBizStep          = "bizStep"
	FieldDisposition      = "disposition"
	FieldReadPoint        = "readPoint"
	FieldBizLocation      = "bizLocation"
	FieldTransformationID = "transformationId"
	FieldEpc              = "epc"
)
