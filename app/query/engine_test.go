/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package query

import (
	"context"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/Robert-Freire/epcis/app/epcis"
	"github.com/Robert-Freire/epcis/app/storage"
	"github.com/Robert-Freire/epcis/app/storage/memory"
	"github.com/Robert-Freire/epcis/pkg/web"
)

func seedCapture(t *testing.T, db *memory.DB, tenantID string, events ...epcis.Event) {
	t.Helper()
	aggregate := &epcis.Capture{
		CaptureID:     fmt.Sprintf("capture-%d", time.Now().UnixNano()),
		TenantID:      tenantID,
		SchemaVersion: epcis.Version20,
		RecordTime:    time.Now().UTC(),
		DocumentTime:  time.Now().UTC(),
		Events:        events,
	}
	err := db.Tx(context.Background(), func(tx storage.Tx) error {
		return tx.InsertCapture(context.Background(), aggregate)
	})
	if err != nil {
		t.Fatalf("seeding capture: %+v", err)
	}
}

func newEngine(db *memory.DB) *Engine {
	return &Engine{
		DB:                db,
		MaxEventsReturned: 20000,
		PaginationSecret:  []byte("test-secret"),
	}
}

func simpleEvent(id string, eventTime time.Time, epc string) epcis.Event {
	return epcis.Event{
		EventID:             id,
		Type:                epcis.ObjectEvent,
		Action:              epcis.ActionObserve,
		EventTime:           eventTime,
		EventTimeZoneOffset: "+00:00",
		BusinessStep:        "urn:epcglobal:cbv:bizstep:receiving",
		Epcs:                []epcis.Epc{{Type: epcis.EpcList, ID: epc}},
	}
}

func execute(t *testing.T, engine *Engine, tenantID, raw string) *Results {
	t.Helper()
	results, err := executeErr(engine, tenantID, raw)
	if err != nil {
		t.Fatalf("query %q failed: %+v", raw, err)
	}
	return results
}

func executeErr(engine *Engine, tenantID, raw string) (*Results, error) {
	params, err := paramsFromRaw(raw)
	if err != nil {
		return nil, err
	}
	return engine.Execute(context.Background(), tenantID, params)
}

func paramsFromRaw(raw string) ([]epcis.Parameter, error) {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, err
	}
	return ParamsFromURL(values), nil
}

func TestTenantIsolation(t *testing.T) {
	db := memory.NewDB()
	engine := newEngine(db)

	eventTime := time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)
	seedCapture(t, db, "tenant-a", simpleEvent("e1", eventTime, "urn:epc:id:sgtin:8901213.105919.000000"))

	matched := execute(t, engine, "tenant-a", "MATCH_anyEPC=urn:epc:id:sgtin:8901213.105919.*")
	if len(matched.Events) != 1 {
		t.Fatalf("tenant-a expected 1 event, got %d", len(matched.Events))
	}

	foreign := execute(t, engine, "tenant-b", "MATCH_anyEPC=urn:epc:id:sgtin:8901213.105919.*")
	if len(foreign.Events) != 0 {
		t.Fatalf("tenant-b must see nothing, got %d events", len(foreign.Events))
	}
}

func TestSuperUserBypass(t *testing.T) {
	db := memory.NewDB()
	engine := newEngine(db)
	engine.SuperUsers = map[string]bool{"admin": true}

	eventTime := time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)
	seedCapture(t, db, "tenant-a", simpleEvent("e1", eventTime, "urn:epc:id:sgtin:8901213.105919.000000"))
	seedCapture(t, db, "tenant-b", simpleEvent("e2", eventTime, "urn:epc:id:sgtin:8901213.105919.000001"))

	all := execute(t, engine, "admin", "")
	if len(all.Events) != 2 {
		t.Errorf("super user expected 2 events, got %d", len(all.Events))
	}
}

func TestSensorConjunctionBindsPerReport(t *testing.T) {
	db := memory.NewDB()
	engine := newEngine(db)

	eventTime := time.Date(2025, 4, 1, 6, 0, 0, 0, time.UTC)
	temperature6 := 6.0
	temperature12 := 12.0
	humidity6 := 6.0

	first := simpleEvent("e1", eventTime, "urn:epc:id:sgtin:1.1.1")
	first.SensorElements = []epcis.SensorElement{{Index: 0}}
	first.Reports = []epcis.SensorReport{
		{Index: 0, SensorIndex: 0, Type: "Temperature", Value: &temperature6},
	}

	second := simpleEvent("e2", eventTime.Add(time.Minute), "urn:epc:id:sgtin:1.1.2")
	second.SensorElements = []epcis.SensorElement{{Index: 0}}
	second.Reports = []epcis.SensorReport{
		{Index: 0, SensorIndex: 0, Type: "Temperature", Value: &temperature12},
		{Index: 1, SensorIndex: 0, Type: "Humidity", Value: &humidity6},
	}

	seedCapture(t, db, "tenant-a", first, second)

	results := execute(t, engine, "tenant-a", "EQ_type=Temperature&GE_value=5&LT_value=10")
	if len(results.Events) != 1 || results.Events[0].EventID != "e1" {
		ids := []string{}
		for _, event := range results.Events {
			ids = append(ids, event.EventID)
		}
		t.Fatalf("expected exactly e1, got %v", ids)
	}
}

func TestPaginationStability(t *testing.T) {
	db := memory.NewDB()
	engine := newEngine(db)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var seed []epcis.Event
	for i := 0; i < 250; i++ {
		seed = append(seed, simpleEvent(fmt.Sprintf("e%03d", i), base.Add(time.Duration(i)*time.Minute),
			fmt.Sprintf("urn:epc:id:sgtin:1.1.%d", i)))
	}
	seedCapture(t, db, "tenant-a", seed...)

	unpaginated := execute(t, engine, "tenant-a", "orderBy=eventTime&orderDirection=asc&maxEventCount=250")
	if len(unpaginated.Events) != 250 {
		t.Fatalf("unpaginated run returned %d events", len(unpaginated.Events))
	}

	var paged []epcis.Event
	token := ""
	pages := 0
	for {
		raw := "orderBy=eventTime&orderDirection=asc&perPage=50"
		if token != "" {
			raw += "&nextPageToken=" + token
		}
		page := execute(t, engine, "tenant-a", raw)
		paged = append(paged, page.Events...)
		pages++
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
		if pages > 10 {
			t.Fatal("pagination did not terminate")
		}
	}

	if pages != 5 {
		t.Errorf("expected 5 pages, walked %d", pages)
	}
	if len(paged) != len(unpaginated.Events) {
		t.Fatalf("paged total %d != unpaginated %d", len(paged), len(unpaginated.Events))
	}
	for i := range paged {
		if paged[i].EventID != unpaginated.Events[i].EventID {
			t.Fatalf("order diverged at %d: %s != %s", i, paged[i].EventID, unpaginated.Events[i].EventID)
		}
	}
}

func TestForgedPageTokenRejected(t *testing.T) {
	db := memory.NewDB()
	engine := newEngine(db)
	seedCapture(t, db, "tenant-a", simpleEvent("e1", time.Now().UTC(), "urn:epc:id:sgtin:1.1.1"))

	other := newEngine(db)
	other.PaginationSecret = []byte("different-secret")

	// a token minted under another secret must not verify
	token := encodeCursor(storage.Order{Key: storage.FieldEventTime}, time.Now().UTC(), 1, other.PaginationSecret)
	_, err := executeErr(engine, "tenant-a", "nextPageToken="+token)
	if errors.Cause(err) != web.ErrInvalidInput {
		t.Errorf("cause = %v", errors.Cause(err))
	}
}

func TestEventCountLimitFailsWhenExceeded(t *testing.T) {
	db := memory.NewDB()
	engine := newEngine(db)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var seed []epcis.Event
	for i := 0; i < 5; i++ {
		seed = append(seed, simpleEvent(fmt.Sprintf("e%d", i), base.Add(time.Duration(i)*time.Minute),
			fmt.Sprintf("urn:epc:id:sgtin:1.1.%d", i)))
	}
	seedCapture(t, db, "tenant-a", seed...)

	_, err := executeErr(engine, "tenant-a", "eventCountLimit=3")
	if errors.Cause(err) != web.ErrQueryTooLarge {
		t.Errorf("cause = %v", errors.Cause(err))
	}

	within := execute(t, engine, "tenant-a", "eventCountLimit=5")
	if len(within.Events) != 5 {
		t.Errorf("expected 5 events, got %d", len(within.Events))
	}
}

func TestMaxEventCountTruncates(t *testing.T) {
	db := memory.NewDB()
	engine := newEngine(db)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var seed []epcis.Event
	for i := 0; i < 5; i++ {
		seed = append(seed, simpleEvent(fmt.Sprintf("e%d", i), base.Add(time.Duration(i)*time.Minute),
			fmt.Sprintf("urn:epc:id:sgtin:1.1.%d", i)))
	}
	seedCapture(t, db, "tenant-a", seed...)

	truncated := execute(t, engine, "tenant-a", "maxEventCount=3")
	if len(truncated.Events) != 3 {
		t.Errorf("expected 3 events, got %d", len(truncated.Events))
	}
}

func TestHardCapWithoutClientCap(t *testing.T) {
	db := memory.NewDB()
	engine := newEngine(db)
	engine.MaxEventsReturned = 3

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var seed []epcis.Event
	for i := 0; i < 5; i++ {
		seed = append(seed, simpleEvent(fmt.Sprintf("e%d", i), base.Add(time.Duration(i)*time.Minute),
			fmt.Sprintf("urn:epc:id:sgtin:1.1.%d", i)))
	}
	seedCapture(t, db, "tenant-a", seed...)

	_, err := executeErr(engine, "tenant-a", "")
	if errors.Cause(err) != web.ErrQueryTooLarge {
		t.Errorf("cause = %v", errors.Cause(err))
	}
}

func TestWithDescendantsResolvesMasterData(t *testing.T) {
	db := memory.NewDB()
	engine := newEngine(db)

	parentLocation := "urn:epc:id:sgln:0037000.00729.0"
	childLocation := "urn:epc:id:sgln:0037000.00729.8201"

	aggregate := &epcis.Capture{
		CaptureID:     "capture-md",
		TenantID:      "tenant-a",
		SchemaVersion: epcis.Version20,
		RecordTime:    time.Now().UTC(),
		MasterData: []epcis.MasterData{
			{Type: epcis.VocabBusinessLocation, ID: parentLocation, Children: []string{childLocation}},
		},
	}
	if err := db.Tx(context.Background(), func(tx storage.Tx) error {
		return tx.InsertCapture(context.Background(), aggregate)
	}); err != nil {
		t.Fatalf("seeding masterdata: %+v", err)
	}

	event := simpleEvent("e1", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), "urn:epc:id:sgtin:1.1.1")
	event.BusinessLocation = childLocation
	seedCapture(t, db, "tenant-a", event)

	results := execute(t, engine, "tenant-a", "WD_bizLocation="+parentLocation)
	if len(results.Events) != 1 {
		t.Fatalf("expected descendant match, got %d events", len(results.Events))
	}

	direct := execute(t, engine, "tenant-a", "EQ_bizLocation="+parentLocation)
	if len(direct.Events) != 0 {
		t.Errorf("plain equality must not match the child, got %d", len(direct.Events))
	}
}

func TestIlmdPredicates(t *testing.T) {
	db := memory.NewDB()
	engine := newEngine(db)

	lot := "LOT-42"
	score := 97.5
	event := simpleEvent("e1", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), "urn:epc:id:sgtin:1.1.1")
	event.Fields = []epcis.Field{
		{Type: epcis.FieldIlmd, Namespace: "https://ns.example.com/epcis", Name: "lot", TextValue: &lot, Index: 0},
		{Type: epcis.FieldIlmd, Namespace: "https://ns.example.com/epcis", Name: "score", NumericValue: &score, Index: 1},
	}
	seedCapture(t, db, "tenant-a", event)

	matched := execute(t, engine, "tenant-a", "EQ_ILMD_https://ns.example.com/epcis#lot=LOT-42")
	if len(matched.Events) != 1 {
		t.Errorf("EQ_ILMD expected 1 event, got %d", len(matched.Events))
	}

	ranged := execute(t, engine, "tenant-a", "GE_ILMD_https://ns.example.com/epcis#score=90")
	if len(ranged.Events) != 1 {
		t.Errorf("GE_ILMD expected 1 event, got %d", len(ranged.Events))
	}

	missed := execute(t, engine, "tenant-a", "GE_ILMD_https://ns.example.com/epcis#lot=90")
	if len(missed.Events) != 0 {
		t.Errorf("GE over a text-only field must match nothing, got %d", len(missed.Events))
	}
}
