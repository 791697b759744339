/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package subscription

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func fastDeliverer() *webhookDeliverer {
	return &webhookDeliverer{
		Timeout:     2 * time.Second,
		MaxAttempts: 10,
		BackoffBase: 10 * time.Millisecond,
		BackoffMax:  50 * time.Millisecond,
	}
}

func TestDeliverRetriesTransientFailures(t *testing.T) {
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if atomic.AddInt64(&calls, 1) == 1 {
			writer.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writer.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	started := time.Now()
	attempts, err := fastDeliverer().deliver(context.Background(), server.URL, []byte(`{}`))
	if err != nil {
		t.Fatalf("delivery failed: %+v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
	if elapsed := time.Since(started); elapsed > 2*time.Second {
		t.Errorf("retry took %v, want under 2s", elapsed)
	}
}

func TestDeliverStopsOnPermanentFailure(t *testing.T) {
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		atomic.AddInt64(&calls, 1)
		writer.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	attempts, err := fastDeliverer().deliver(context.Background(), server.URL, []byte(`{}`))
	if err == nil {
		t.Fatal("404 delivery reported success")
	}
	if attempts != 1 || atomic.LoadInt64(&calls) != 1 {
		t.Errorf("4xx must not retry: attempts=%d calls=%d", attempts, calls)
	}
}

func TestDeliverGivesUpAfterMaxAttempts(t *testing.T) {
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		atomic.AddInt64(&calls, 1)
		writer.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	deliverer := fastDeliverer()
	deliverer.MaxAttempts = 3

	attempts, err := deliverer.deliver(context.Background(), server.URL, []byte(`{}`))
	if err == nil {
		t.Fatal("persistent 5xx reported success")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestJitterStaysWithinQuarter(t *testing.T) {
	base := time.Second
	for i := 0; i < 100; i++ {
		spread := jitter(base)
		if spread < 750*time.Millisecond || spread > 1250*time.Millisecond {
			t.Fatalf("jitter %v outside +/-25%% of %v", spread, base)
		}
	}
}
