/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package epcis

import (
	"strings"
	"testing"
	"time"
)

func testEvent() Event {
	eventTime := time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)
	quantity := 12.5
	return Event{
		Type:                ObjectEvent,
		Action:              ActionObserve,
		EventTime:           eventTime,
		EventTimeZoneOffset: "+00:00",
		BusinessStep:        "urn:epcglobal:cbv:bizstep:receiving",
		ReadPoint:           "urn:epc:id:sgln:0614141.00777.0",
		Epcs: []Epc{
			{Type: EpcList, ID: "urn:epc:id:sgtin:8901213.105919.000000"},
			{Type: EpcQuantity, ID: "urn:epc:class:lgtin:4012345.012345.998877", Quantity: &quantity, UnitOfMeasure: "KGM"},
		},
	}
}

func TestHashEventShape(t *testing.T) {
	event := testEvent()
	id := HashEvent(&event)

	if !strings.HasPrefix(id, "ni:///sha-256;") {
		t.Errorf("hash uri has wrong prefix: %s", id)
	}
	if !strings.HasSuffix(id, "?ver=CBV2.0") {
		t.Errorf("hash uri has wrong suffix: %s", id)
	}
	if strings.Contains(id, "=?") || strings.Contains(strings.TrimSuffix(strings.TrimPrefix(id, "ni:///sha-256;"), "?ver=CBV2.0"), "=") {
		t.Errorf("digest must be base64url without padding: %s", id)
	}
}

func TestHashEventStableAcrossEpcOrder(t *testing.T) {
	first := testEvent()
	second := testEvent()
	second.Epcs[0], second.Epcs[1] = second.Epcs[1], second.Epcs[0]

	if HashEvent(&first) != HashEvent(&second) {
		t.Error("reordering set-valued EPC list changed the hash")
	}
}

func TestHashEventStableAcrossTimeZoneRendering(t *testing.T) {
	first := testEvent()
	second := testEvent()

	// Same instant expressed in a non-UTC zone must hash identically
	zone := time.FixedZone("CET", 3600)
	second.EventTime = second.EventTime.In(zone)

	if HashEvent(&first) != HashEvent(&second) {
		t.Error("timezone rendering of the same instant changed the hash")
	}
}

func TestHashEventSensitiveToContent(t *testing.T) {
	first := testEvent()
	second := testEvent()
	second.Disposition = "urn:epcglobal:cbv:disp:in_progress"

	if HashEvent(&first) == HashEvent(&second) {
		t.Error("different events produced the same hash")
	}
}

func TestHashEventIgnoresRecordTimeAndIDs(t *testing.T) {
	first := testEvent()
	second := testEvent()
	second.ID = 42
	second.TenantID = "tenant-b"
	second.RecordTime = time.Now().UTC()
	second.EventID = "urn:uuid:0e871c6e-94c3-455d-9e09-04c4c57d60c2"

	if HashEvent(&first) != HashEvent(&second) {
		t.Error("non-content attributes changed the hash")
	}
}

func TestCanonicalNumberRendering(t *testing.T) {
	cases := map[float64]string{
		5:       "5",
		5.10:    "5.1",
		0.5:     "0.5",
		1200000: "1200000",
		-0.25:   "-0.25",
	}
	for in, want := range cases {
		if got := canonicalNumber(in); got != want {
			t.Errorf("canonicalNumber(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestCanonicalTimeRendering(t *testing.T) {
	instant := time.Date(2025, 1, 15, 11, 30, 0, 250_000_000, time.FixedZone("CET", 3600))
	if got, want := canonicalTime(instant), "2025-01-15T10:30:00.250Z"; got != want {
		t.Errorf("canonicalTime = %q, want %q", got, want)
	}
}
