/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package epcis

import (
	"testing"
	"time"

	expect "github.com/intel/rsp-sw-toolkit-im-suite-expect"
)

func TestEventValueScan(t *testing.T) {
	w := expect.WrapT(t).StopOnMismatch()

	quantity := 12.5
	event := Event{
		EventID:             "urn:uuid:5a8f7ab1-7c07-4bc6-8a07-e1b9bc1d6c81",
		Type:                ObjectEvent,
		Action:              ActionObserve,
		EventTime:           time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC),
		EventTimeZoneOffset: "+00:00",
		Epcs: []Epc{
			{Type: EpcList, ID: "urn:epc:id:sgtin:8901213.105919.000000"},
			{Type: EpcQuantity, ID: "urn:epc:class:lgtin:4012345.012345.998877", Quantity: &quantity},
		},
		// storage-only attributes must not survive the data column
		ID:       42,
		TenantID: "tenant-a",
	}

	encoded := w.ShouldHaveResult(event.Value()).([]byte)

	var decoded Event
	w.ShouldSucceed(decoded.Scan(encoded))

	w = w.As(decoded)
	w.ShouldBeEqual(decoded.EventID, event.EventID)
	w.ShouldBeEqual(decoded.Type, event.Type)
	w.ShouldBeEqual(len(decoded.Epcs), 2)
	w.ShouldBeEqual(decoded.ID, int64(0))
	w.ShouldBeEqual(decoded.TenantID, "")

	w.ShouldHaveError(nil, decoded.Scan("not bytes"))
}

func TestSubscriptionValueScan(t *testing.T) {
	w := expect.WrapT(t).StopOnMismatch()

	subscription := Subscription{
		SubscriptionID: "0e871c6e-94c3-455d-9e09-04c4c57d60c2",
		Name:           "receiving-watch",
		QueryName:      SimpleEventQuery,
		Destination:    "https://example.com/hook",
		Stream:         true,
		ReportIfEmpty:  false,
		Active:         true,
	}

	encoded := w.ShouldHaveResult(subscription.Value()).([]byte)

	var decoded Subscription
	w.ShouldSucceed(decoded.Scan(encoded))
	w.ShouldBeEqual(decoded.Name, subscription.Name)
	w.ShouldBeEqual(decoded.Stream, true)
}

func TestEpcsOfType(t *testing.T) {
	event := Event{Epcs: []Epc{
		{Type: EpcParentID, ID: "urn:epc:id:sscc:0614141.1234567890"},
		{Type: EpcChild, ID: "urn:epc:id:sgtin:8901213.105919.000001"},
		{Type: EpcChild, ID: "urn:epc:id:sgtin:8901213.105919.000002"},
	}}

	if parents := event.EpcsOfType(EpcParentID); len(parents) != 1 {
		t.Errorf("parents = %+v", parents)
	}
	if children := event.EpcsOfType(EpcChild); len(children) != 2 {
		t.Errorf("children = %+v", children)
	}
	if inputs := event.EpcsOfType(EpcInput); inputs != nil {
		t.Errorf("inputs = %+v", inputs)
	}
}
