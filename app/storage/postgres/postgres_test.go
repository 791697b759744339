/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/Robert-Freire/epcis/app/epcis"
	"github.com/Robert-Freire/epcis/app/storage"
	"github.com/Robert-Freire/epcis/pkg/integrationtest"
)

// The translation layer is covered by the unit tests alongside it; this
// exercises the provider against a live engine and is skipped under
// -test.short.
func TestInsertAndQueryRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	dbHost := integrationtest.InitHost("postgres_test")
	store := dbHost.CreateDB(t)
	defer store.Close()

	aggregate := &epcis.Capture{
		CaptureID:     "it-capture-" + t.Name(),
		TenantID:      "tenant-it",
		SchemaVersion: epcis.Version20,
		RecordTime:    time.Now().UTC(),
		DocumentTime:  time.Now().UTC(),
		Events: []epcis.Event{{
			Type:                epcis.ObjectEvent,
			Action:              epcis.ActionObserve,
			EventTime:           time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC),
			EventTimeZoneOffset: "+00:00",
			BusinessStep:        "urn:epcglobal:cbv:bizstep:receiving",
			Epcs:                []epcis.Epc{{Type: epcis.EpcList, ID: "urn:epc:id:sgtin:8901213.105919.000000"}},
		}},
	}

	err := store.Tx(context.Background(), func(tx storage.Tx) error {
		return tx.InsertCapture(context.Background(), aggregate)
	})
	if err != nil {
		t.Fatalf("inserting capture: %+v", err)
	}
	if aggregate.Events[0].ID == 0 {
		t.Fatal("event id not assigned")
	}

	err = store.Tx(context.Background(), func(tx storage.Tx) error {
		ids, err := tx.EventIDsMatching(context.Background(), storage.Filters{
			TenantID: "tenant-it",
			Predicates: []storage.Predicate{
				storage.EpcMatch{
					Types:    []epcis.EpcType{epcis.EpcList},
					Patterns: []string{"urn:epc:id:sgtin:8901213.105919.*"},
				},
			},
			Order: storage.Order{Key: storage.FieldEventTime},
		})
		if err != nil {
			return err
		}
		if len(ids) != 1 || ids[0] != aggregate.Events[0].ID {
			t.Errorf("ids = %v", ids)
		}

		events, err := tx.HydrateEvents(context.Background(), ids)
		if err != nil {
			return err
		}
		if len(events) != 1 || events[0].EventID != aggregate.Events[0].EventID {
			t.Errorf("events = %+v", events)
		}

		// the other tenant sees nothing
		foreign, err := tx.EventIDsMatching(context.Background(), storage.Filters{
			TenantID: "tenant-other",
			Order:    storage.Order{Key: storage.FieldEventTime},
		})
		if err != nil {
			return err
		}
		if len(foreign) != 0 {
			t.Errorf("foreign ids = %v", foreign)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("querying: %+v", err)
	}
}
