/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package query

import (
	"context"
	"time"

	"github.com/pkg/errors"

	metrics "github.com/intel/rsp-sw-toolkit-im-suite-utilities/go-metrics"

	"github.com/Robert-Freire/epcis/app/epcis"
	"github.com/Robert-Freire/epcis/app/storage"
	"github.com/Robert-Freire/epcis/pkg/web"
)

const defaultMaxEventsReturned = 20000

// Engine runs parsed parameter sets against the store. It is stateless
// between requests; one instance serves all of them.
type Engine struct {
	DB storage.Store

	// Hard cap on events returned by any query
	MaxEventsReturned int
	// HMAC key for nextPageToken
	PaginationSecret []byte
	// Tenants allowed to bypass the implicit tenant predicate
	SuperUsers map[string]bool
}

// Results is one query response: the hydrated events plus the cursor for
// the next page when one exists.
type Results struct {
	Events        []epcis.Event
	NextPageToken string
}

// Execute parses the parameters, prepends the tenant predicate, runs the
// two-phase retrieval and applies the result caps.
func (engine *Engine) Execute(ctx context.Context, tenantID string, params []epcis.Parameter) (*Results, error) {

	// Metrics
	metrics.GetOrRegisterGauge(`Epcis.Query.Attempt`, nil).Update(1)
	mSuccess := metrics.GetOrRegisterGauge(`Epcis.Query.Success`, nil)
	mParseErr := metrics.GetOrRegisterGauge(`Epcis.Query.Parse-Error`, nil)
	mFindErr := metrics.GetOrRegisterGauge(`Epcis.Query.Find-Error`, nil)
	mFindLatency := metrics.GetOrRegisterTimer(`Epcis.Query.Find-Latency`, nil)

	parsed, err := Parse(params)
	if err != nil {
		mParseErr.Update(1)
		return nil, err
	}

	var pageAfter *storage.PageAfter
	if parsed.PageToken != "" {
		pageAfter, err = decodeCursor(parsed.PageToken, engine.PaginationSecret)
		if err != nil {
			mParseErr.Update(1)
			return nil, err
		}
		if pageAfter.Order != parsed.Order {
			mParseErr.Update(1)
			return nil, errors.Wrap(web.ErrInvalidInput, "nextPageToken was issued for a different ordering")
		}
	}

	hardCap := engine.MaxEventsReturned
	if hardCap <= 0 {
		hardCap = defaultMaxEventsReturned
	}

	results := &Results{}

	queryTimer := time.Now()
	err = engine.DB.Tx(ctx, func(tx storage.Tx) error {

		predicates, err := engine.resolvePredicates(ctx, tx, tenantID, parsed)
		if err != nil {
			return err
		}
		if pageAfter != nil {
			predicates = append(predicates, *pageAfter)
		}

		pageSize := 0
		if parsed.PerPage > 0 {
			pageSize = minInt(parsed.PerPage, hardCap)
		}

		fetch := hardCap + 1
		switch {
		case parsed.EventCountLimit > 0:
			fetch = minInt(parsed.EventCountLimit, hardCap) + 1
		case parsed.MaxEventCount > 0:
			fetch = minInt(parsed.MaxEventCount, hardCap)
		case pageSize > 0:
			fetch = pageSize + 1
		}

		filters := storage.Filters{
			TenantID:   tenantID,
			AllTenants: engine.SuperUsers[tenantID],
			Predicates: predicates,
			Order:      parsed.Order,
			Limit:      storage.Limit{Count: fetch},
		}

		// Phase 1: id selection
		ids, err := tx.EventIDsMatching(ctx, filters)
		if err != nil {
			return errors.Wrap(err, "selecting event ids")
		}

		if parsed.EventCountLimit > 0 {
			if len(ids) > parsed.EventCountLimit {
				return errors.Wrapf(web.ErrQueryTooLarge, "query matches more than eventCountLimit=%d events", parsed.EventCountLimit)
			}
			if len(ids) > hardCap {
				return errors.Wrapf(web.ErrQueryTooLarge, "query matches more than the configured cap of %d events", hardCap)
			}
		}
		if parsed.EventCountLimit == 0 && parsed.MaxEventCount == 0 && pageSize == 0 && len(ids) > hardCap {
			return errors.Wrapf(web.ErrQueryTooLarge, "query matches more than the configured cap of %d events", hardCap)
		}

		hasMore := false
		if pageSize > 0 && len(ids) > pageSize {
			hasMore = true
			ids = ids[:pageSize]
		}

		// Phase 2: hydration, preserving phase-1 order via an
		// id-to-position map
		hydrated, err := tx.HydrateEvents(ctx, ids)
		if err != nil {
			return errors.Wrap(err, "hydrating events")
		}
		results.Events = reorder(ids, hydrated)

		if hasMore && len(results.Events) > 0 {
			last := &results.Events[len(results.Events)-1]
			orderValue := last.EventTime
			if parsed.Order.Key == storage.FieldRecordTime {
				orderValue = last.RecordTime
			}
			results.NextPageToken = encodeCursor(parsed.Order, orderValue, last.ID, engine.PaginationSecret)
		}
		return nil
	})

	if err != nil {
		mFindErr.Update(1)
		return nil, err
	}
	mFindLatency.Update(time.Since(queryTimer))

	mSuccess.Update(1)
	return results, nil
}

// resolvePredicates folds the masterdata-dependent parameters into plain
// predicates: WD_ expands to the location plus its vocabulary
// descendants, HASATTR_/EQATTR_ to the locations carrying the attribute.
func (engine *Engine) resolvePredicates(ctx context.Context, tx storage.Tx, tenantID string, parsed *Query) ([]storage.Predicate, error) {
	predicates := append([]storage.Predicate(nil), parsed.Predicates...)

	for _, wd := range parsed.WithDescendants {
		ids := append([]string(nil), wd.IDs...)
		for _, id := range wd.IDs {
			descendants, err := tx.VocabularyDescendants(ctx, tenantID, id)
			if err != nil {
				return nil, errors.Wrap(err, "resolving vocabulary descendants")
			}
			ids = append(ids, descendants...)
		}
		predicates = append(predicates, storage.LocationIn{Field: wd.Field, IDs: ids})
	}

	for _, attribute := range parsed.Attributes {
		vocabType := epcis.VocabBusinessLocation
		if attribute.Field == storage.FieldReadPoint {
			vocabType = epcis.VocabReadPoint
		}
		ids, err := tx.VocabularyIDsWithAttribute(ctx, tenantID, vocabType, attribute.Attribute, attribute.Value)
		if err != nil {
			return nil, errors.Wrap(err, "resolving vocabulary attributes")
		}
		predicates = append(predicates, storage.LocationIn{Field: attribute.Field, IDs: ids})
	}

	return predicates, nil
}

// reorder arranges hydrated events into phase-1 id order in O(n).
func reorder(ids []int64, events []epcis.Event) []epcis.Event {
	position := make(map[int64]int, len(ids))
	for i, id := range ids {
		position[id] = i
	}

	out := make([]epcis.Event, len(events))
	missing := false
	for i := range events {
		pos, ok := position[events[i].ID]
		if !ok || pos >= len(out) {
			missing = true
			break
		}
		out[pos] = events[i]
	}
	if missing {
		return events
	}

	// compact in case hydration returned fewer rows than ids
	if len(events) < len(ids) {
		compacted := make([]epcis.Event, 0, len(events))
		for i := range out {
			if out[i].ID != 0 {
				compacted = append(compacted, out[i])
			}
		}
		return compacted
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
