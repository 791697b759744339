/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package subscription

import (
	"container/heap"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/Robert-Freire/epcis/app/capture"
	"github.com/Robert-Freire/epcis/app/epcis"
	"github.com/Robert-Freire/epcis/app/eventbus"
	"github.com/Robert-Freire/epcis/app/query"
	"github.com/Robert-Freire/epcis/app/storage/memory"
)

type testDelivery struct {
	payload []byte
}

type testHarness struct {
	db         *memory.DB
	bus        *eventbus.Bus
	captures   *capture.Handler
	engine     *Engine
	controller *Controller
	deliveries chan testDelivery

	mu           sync.Mutex
	failuresLeft int
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	db := memory.NewDB()
	bus := eventbus.New(16)

	harness := &testHarness{
		db:         db,
		bus:        bus,
		captures:   &capture.Handler{DB: db, Bus: bus, MaxEventsPerCall: 500},
		deliveries: make(chan testDelivery, 16),
	}

	harness.engine = &Engine{
		DB:       db,
		Query:    &query.Engine{DB: db, MaxEventsReturned: 20000, PaginationSecret: []byte("secret")},
		Bus:      bus,
		Hub:      NewSocketHub(),
		Debounce: 10 * time.Millisecond,
		deliver: func(ctx context.Context, destination string, payload []byte) (int64, error) {
			harness.mu.Lock()
			fail := harness.failuresLeft > 0
			if fail {
				harness.failuresLeft--
			}
			harness.mu.Unlock()
			if fail {
				return 1, errors.New("delivery returned status 503")
			}
			harness.deliveries <- testDelivery{payload: payload}
			return 1, nil
		},
	}
	if err := harness.engine.Start(context.Background()); err != nil {
		t.Fatalf("starting engine: %+v", err)
	}
	t.Cleanup(harness.engine.Stop)
	t.Cleanup(bus.Close)

	harness.controller = &Controller{DB: db, Engine: harness.engine}
	return harness
}

func (harness *testHarness) subscribe(t *testing.T, name string) {
	t.Helper()
	err := harness.controller.Create(context.Background(), &epcis.Subscription{
		Name:        name,
		QueryName:   epcis.SimpleEventQuery,
		TenantID:    "tenant-a",
		Parameters:  []epcis.Parameter{{Name: "MATCH_anyEPC", Values: []string{"urn:epc:id:sgtin:*"}}},
		Destination: "https://example.com/hook",
		Stream:      true,
		// deliveries must include everything captured after this point
		InitialRecordTime: time.Now().UTC().Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("creating subscription: %+v", err)
	}
}

func (harness *testHarness) captureEvents(t *testing.T, count int) *epcis.Capture {
	t.Helper()
	aggregate := &epcis.Capture{TenantID: "tenant-a", SchemaVersion: epcis.Version20}
	for i := 0; i < count; i++ {
		aggregate.Events = append(aggregate.Events, epcis.Event{
			Type:                epcis.ObjectEvent,
			Action:              epcis.ActionObserve,
			EventTime:           time.Now().UTC(),
			EventTimeZoneOffset: "+00:00",
			Epcs: []epcis.Epc{{
				Type: epcis.EpcList,
				ID:   fmt.Sprintf("urn:epc:id:sgtin:1.1.%d.%d", time.Now().UnixNano(), i),
			}},
		})
	}
	stored, err := harness.captures.Store(context.Background(), aggregate)
	if err != nil {
		t.Fatalf("capturing: %+v", err)
	}
	return stored
}

func eventCount(t *testing.T, payload []byte) int {
	t.Helper()
	var document struct {
		EpcisBody struct {
			QueryResults struct {
				ResultsBody struct {
					EventList []interface{} `json:"eventList"`
				} `json:"resultsBody"`
			} `json:"queryResults"`
		} `json:"epcisBody"`
	}
	if err := json.Unmarshal(payload, &document); err != nil {
		t.Fatalf("bad delivery payload: %s", payload)
	}
	return len(document.EpcisBody.QueryResults.ResultsBody.EventList)
}

func (harness *testHarness) awaitDelivery(t *testing.T) testDelivery {
	t.Helper()
	select {
	case delivery := <-harness.deliveries:
		return delivery
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery arrived")
		return testDelivery{}
	}
}

func (harness *testHarness) cursorOf(t *testing.T, name string) time.Time {
	t.Helper()
	subscriptions, err := harness.controller.List(context.Background(), "tenant-a")
	if err != nil {
		t.Fatalf("listing subscriptions: %+v", err)
	}
	for _, subscription := range subscriptions {
		if subscription.Name == name {
			return subscription.LastExecutedTime
		}
	}
	t.Fatalf("subscription %q not found", name)
	return time.Time{}
}

func TestStreamSubscriptionDeliversCapturedEvents(t *testing.T) {
	harness := newHarness(t)
	harness.subscribe(t, "receiving-watch")

	stored := harness.captureEvents(t, 3)

	delivery := harness.awaitDelivery(t)
	if count := eventCount(t, delivery.payload); count != 3 {
		t.Errorf("delivery carried %d events, want 3", count)
	}

	// the cursor lands on the max recordTime of the delivered batch
	deadline := time.Now().Add(time.Second)
	for {
		if cursor := harness.cursorOf(t, "receiving-watch"); cursor.Equal(stored.RecordTime) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("cursor = %v, want %v", harness.cursorOf(t, "receiving-watch"), stored.RecordTime)
		}
		time.Sleep(10 * time.Millisecond)
	}

	// a later capture delivers only the new events
	harness.captureEvents(t, 2)
	second := harness.awaitDelivery(t)
	if count := eventCount(t, second.payload); count != 2 {
		t.Errorf("second delivery carried %d events, want 2", count)
	}
}

func TestFailedDeliveryDoesNotAdvanceCursor(t *testing.T) {
	harness := newHarness(t)
	harness.subscribe(t, "flaky-hook")

	before := harness.cursorOf(t, "flaky-hook")

	harness.mu.Lock()
	harness.failuresLeft = 1
	harness.mu.Unlock()

	harness.captureEvents(t, 1)

	// wait for the failed run to be recorded
	deadline := time.Now().Add(2 * time.Second)
	for {
		subscriptions, err := harness.controller.List(context.Background(), "tenant-a")
		if err != nil {
			t.Fatalf("listing subscriptions: %+v", err)
		}
		if subscriptions[0].Failures > 0 {
			if !subscriptions[0].LastExecutedTime.Equal(before) {
				t.Errorf("cursor moved on failure: %v", subscriptions[0].LastExecutedTime)
			}
			if subscriptions[0].LastError == "" {
				t.Error("last error not recorded")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("failure never recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// the next capture retriggers the run; the cursor advances exactly
	// once, to the new batch
	stored := harness.captureEvents(t, 1)
	delivery := harness.awaitDelivery(t)
	if count := eventCount(t, delivery.payload); count != 2 {
		t.Errorf("recovery delivery carried %d events, want the failed and the new one", count)
	}

	deadline = time.Now().Add(time.Second)
	for {
		if cursor := harness.cursorOf(t, "flaky-hook"); cursor.Equal(stored.RecordTime) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("cursor = %v, want %v", harness.cursorOf(t, "flaky-hook"), stored.RecordTime)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTriggersCoalesceWhileRunning(t *testing.T) {
	harness := newHarness(t)
	harness.subscribe(t, "burst-watch")

	// one debounce window swallowing a burst of captures produces far
	// fewer runs than captures
	for i := 0; i < 5; i++ {
		harness.captureEvents(t, 1)
	}

	total := 0
	deadline := time.After(2 * time.Second)
	for {
		select {
		case delivery := <-harness.deliveries:
			total += eventCount(t, delivery.payload)
			if total == 5 {
				return
			}
		case <-deadline:
			t.Fatalf("only %d of 5 events delivered", total)
		}
	}
}

func TestSubscriptionsOfOtherTenantsDoNotFire(t *testing.T) {
	harness := newHarness(t)
	harness.subscribe(t, "tenant-a-watch")

	aggregate := &epcis.Capture{TenantID: "tenant-b", SchemaVersion: epcis.Version20,
		Events: []epcis.Event{{
			Type:                epcis.ObjectEvent,
			Action:              epcis.ActionObserve,
			EventTime:           time.Now().UTC(),
			EventTimeZoneOffset: "+00:00",
			Epcs:                []epcis.Epc{{Type: epcis.EpcList, ID: "urn:epc:id:sgtin:9.9.9"}},
		}}}
	if _, err := harness.captures.Store(context.Background(), aggregate); err != nil {
		t.Fatalf("capturing: %+v", err)
	}

	select {
	case <-harness.deliveries:
		t.Fatal("a tenant-b capture fired a tenant-a subscription")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestFireQueueOrdersByNextInstant(t *testing.T) {
	queue := fireQueue{}
	base := time.Now()

	heap.Push(&queue, &scheduledEntry{key: "third", next: base.Add(3 * time.Hour)})
	heap.Push(&queue, &scheduledEntry{key: "first", next: base.Add(time.Hour)})
	heap.Push(&queue, &scheduledEntry{key: "second", next: base.Add(2 * time.Hour)})

	for _, want := range []string{"first", "second", "third"} {
		entry := heap.Pop(&queue).(*scheduledEntry)
		if entry.key != want {
			t.Errorf("popped %q, want %q", entry.key, want)
		}
	}
}

func TestSchedulerRejectsBadExpressions(t *testing.T) {
	scheduler := newScheduler(func(string) {})
	if err := scheduler.add("k", "not-cron"); err == nil {
		t.Error("bad cron expression accepted")
	}
	if err := scheduler.add("k", "*/5 * * * *"); err != nil {
		t.Errorf("valid cron expression rejected: %v", err)
	}
	scheduler.remove("k")
}
