/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package epcis

import (
	"testing"
	"time"
)

func validCapture() *Capture {
	return &Capture{
		SchemaVersion: Version20,
		Events: []Event{
			{
				Type:                ObjectEvent,
				Action:              ActionObserve,
				EventTime:           time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC),
				EventTimeZoneOffset: "+00:00",
				Epcs:                []Epc{{Type: EpcList, ID: "urn:epc:id:sgtin:8901213.105919.000000"}},
			},
		},
	}
}

func hasRule(violations []RuleViolation, rule string) bool {
	for _, v := range violations {
		if v.Rule == rule {
			return true
		}
	}
	return false
}

func TestValidCapturePasses(t *testing.T) {
	if violations := ValidateCapture(validCapture()); violations != nil {
		t.Fatalf("expected no violations, got %+v", violations)
	}
}

func TestUnsupportedSchemaVersion(t *testing.T) {
	capture := validCapture()
	capture.SchemaVersion = "3.0"
	if !hasRule(ValidateCapture(capture), RuleUnsupportedSchemaVersion) {
		t.Error("expected UnsupportedSchemaVersion")
	}
}

func TestEventTimeRequired(t *testing.T) {
	capture := validCapture()
	capture.Events[0].EventTime = time.Time{}
	if !hasRule(ValidateCapture(capture), RuleEventTimeRequired) {
		t.Error("expected EventTimeRequired")
	}
}

func TestTimeZoneOffsetPattern(t *testing.T) {
	good := []string{"+00:00", "-05:00", "+14:00"}
	bad := []string{"", "00:00", "+0:00", "+00.00", "Z"}

	for _, offset := range good {
		capture := validCapture()
		capture.Events[0].EventTimeZoneOffset = offset
		if hasRule(ValidateCapture(capture), RuleInvalidTimeZoneOffset) {
			t.Errorf("offset %q rejected", offset)
		}
	}
	for _, offset := range bad {
		capture := validCapture()
		capture.Events[0].EventTimeZoneOffset = offset
		if !hasRule(ValidateCapture(capture), RuleInvalidTimeZoneOffset) {
			t.Errorf("offset %q accepted", offset)
		}
	}
}

func TestAggregationAddRequiresParent(t *testing.T) {
	capture := validCapture()
	capture.Events[0].Type = AggregationEvent
	capture.Events[0].Action = ActionAdd
	capture.Events[0].Epcs = []Epc{
		{Type: EpcChild, ID: "urn:epc:id:sgtin:8901213.105919.000001"},
		{Type: EpcChild, ID: "urn:epc:id:sgtin:8901213.105919.000002"},
	}
	if !hasRule(ValidateCapture(capture), RuleAggregationAddRequiresParent) {
		t.Error("expected AggregationAddRequiresParent")
	}

	// Observe does not need the parent
	capture.Events[0].Action = ActionObserve
	if hasRule(ValidateCapture(capture), RuleAggregationAddRequiresParent) {
		t.Error("AggregationEvent with OBSERVE must not require a parent")
	}

	// Add with exactly one parent passes
	capture.Events[0].Action = ActionAdd
	capture.Events[0].Epcs = append(capture.Events[0].Epcs, Epc{Type: EpcParentID, ID: "urn:epc:id:sscc:0614141.1234567890"})
	if hasRule(ValidateCapture(capture), RuleAggregationAddRequiresParent) {
		t.Error("AggregationEvent ADD with one parentID rejected")
	}
}

func TestTransformationRules(t *testing.T) {
	capture := validCapture()
	capture.Events[0].Type = TransformationEvent
	capture.Events[0].Action = ""
	capture.Events[0].Epcs = nil

	if !hasRule(ValidateCapture(capture), RuleTransformationRequiresEpc) {
		t.Error("expected TransformationRequiresEpc")
	}

	capture.Events[0].Epcs = []Epc{{Type: EpcInput, ID: "urn:epc:id:sgtin:8901213.105919.000001"}}
	if hasRule(ValidateCapture(capture), RuleTransformationRequiresEpc) {
		t.Error("TransformationEvent with input EPC rejected")
	}

	capture.Events[0].Action = ActionAdd
	if !hasRule(ValidateCapture(capture), RuleInvalidAction) {
		t.Error("TransformationEvent with an action must be rejected")
	}
}

func TestSensorIndexMustExist(t *testing.T) {
	capture := validCapture()
	capture.Events[0].SensorElements = []SensorElement{{Index: 0}}
	capture.Events[0].Reports = []SensorReport{{Index: 0, SensorIndex: 3}}

	if !hasRule(ValidateCapture(capture), RuleSensorIndexUnknown) {
		t.Error("expected SensorIndexUnknown")
	}

	capture.Events[0].Reports[0].SensorIndex = 0
	if hasRule(ValidateCapture(capture), RuleSensorIndexUnknown) {
		t.Error("valid sensorIndex rejected")
	}
}

func TestDuplicateEventIDWithinCapture(t *testing.T) {
	capture := validCapture()
	second := capture.Events[0]
	capture.Events[0].EventID = "urn:uuid:f7f5c8cb-0b0a-4fbe-a564-161a46872a3f"
	second.EventID = capture.Events[0].EventID
	capture.Events = append(capture.Events, second)

	if !hasRule(ValidateCapture(capture), RuleDuplicateEventID) {
		t.Error("expected DuplicateEventID")
	}
}

func TestFieldIndexInvariant(t *testing.T) {
	parent := 0
	badParent := 5

	capture := validCapture()
	capture.Events[0].Fields = []Field{
		{Type: FieldIlmd, Namespace: "https://example.com/ext", Name: "lot", Index: 0},
		{Type: FieldIlmd, Namespace: "https://example.com/ext", Name: "batch", Index: 1, ParentIndex: &parent},
	}
	if hasRule(ValidateCapture(capture), RuleFieldIndexInvalid) {
		t.Error("well-formed field tree rejected")
	}

	capture.Events[0].Fields[1].ParentIndex = &badParent
	if !hasRule(ValidateCapture(capture), RuleFieldIndexInvalid) {
		t.Error("forward parent reference accepted")
	}
}
