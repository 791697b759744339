/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package epcis

import (
	"fmt"
	"regexp"
)

// Rule identifiers reported on validation failure.
const (
	RuleUnsupportedSchemaVersion     = "UnsupportedSchemaVersion"
	RuleEventTimeRequired            = "EventTimeRequired"
	RuleInvalidTimeZoneOffset        = "InvalidTimeZoneOffset"
	RuleUnknownEventType             = "UnknownEventType"
	RuleActionRequired               = "ActionRequired"
	RuleInvalidAction                = "InvalidAction"
	RuleAggregationAddRequiresParent = "AggregationAddRequiresParent"
	RuleTransformationRequiresEpc    = "TransformationRequiresEpc"
	RuleSensorIndexUnknown           = "SensorIndexUnknown"
	RuleDuplicateEventID             = "DuplicateEventID"
	RuleFieldIndexInvalid            = "FieldIndexInvalid"
)

// RuleViolation is one failed semantic rule, pointing at the offending
// event by document position.
type RuleViolation struct {
	Rule        string `json:"rule"`
	EventIndex  int    `json:"eventIndex"`
	Description string `json:"description"`
}

var timeZoneOffsetPattern = regexp.MustCompile(`^[+-]\d\d:\d\d$`)

var supportedVersions = map[string]bool{
	Version10: true,
	Version11: true,
	Version12: true,
	Version20: true,
}

var knownActions = map[string]bool{
	ActionAdd:     true,
	ActionObserve: true,
	ActionDelete:  true,
}

// ValidateCapture applies the EPCIS semantic rules that the schemas alone
// cannot express. A nil result means the capture is valid.
func ValidateCapture(capture *Capture) []RuleViolation {
	var violations []RuleViolation

	if !supportedVersions[capture.SchemaVersion] {
		violations = append(violations, RuleViolation{
			Rule:        RuleUnsupportedSchemaVersion,
			EventIndex:  -1,
			Description: fmt.Sprintf("schema version %q is not supported", capture.SchemaVersion),
		})
	}

	seenIDs := make(map[string]int, len(capture.Events))
	for i := range capture.Events {
		event := &capture.Events[i]
		violations = append(violations, validateEvent(event, i)...)

		if event.EventID == "" {
			continue
		}
		if first, ok := seenIDs[event.EventID]; ok {
			violations = append(violations, RuleViolation{
				Rule:        RuleDuplicateEventID,
				EventIndex:  i,
				Description: fmt.Sprintf("eventID %q already used by event %d of the same capture", event.EventID, first),
			})
			continue
		}
		seenIDs[event.EventID] = i
	}

	return violations
}

func validateEvent(event *Event, index int) []RuleViolation {
	var violations []RuleViolation

	report := func(rule, format string, args ...interface{}) {
		violations = append(violations, RuleViolation{
			Rule:        rule,
			EventIndex:  index,
			Description: fmt.Sprintf(format, args...),
		})
	}

	if event.EventTime.IsZero() {
		report(RuleEventTimeRequired, "eventTime is required")
	}
	if !timeZoneOffsetPattern.MatchString(event.EventTimeZoneOffset) {
		report(RuleInvalidTimeZoneOffset, "eventTimeZoneOffset %q does not match +/-HH:MM", event.EventTimeZoneOffset)
	}

	switch event.Type {
	case ObjectEvent, AggregationEvent, TransactionEvent, QuantityEvent:
		if event.Action == "" {
			report(RuleActionRequired, "%s requires an action", event.Type)
		} else if !knownActions[event.Action] {
			report(RuleInvalidAction, "unknown action %q", event.Action)
		}
	case TransformationEvent:
		if event.Action != "" {
			report(RuleInvalidAction, "TransformationEvent must not carry an action")
		}
	default:
		report(RuleUnknownEventType, "unknown event type %q", event.Type)
		return violations
	}

	if event.Type == AggregationEvent && (event.Action == ActionAdd || event.Action == ActionDelete) {
		if len(event.EpcsOfType(EpcParentID)) != 1 {
			report(RuleAggregationAddRequiresParent,
				"AggregationEvent with action %s requires exactly one parentID", event.Action)
		}
	}

	if event.Type == TransformationEvent {
		if len(event.EpcsOfType(EpcInput)) == 0 && len(event.EpcsOfType(EpcOutput)) == 0 {
			report(RuleTransformationRequiresEpc, "TransformationEvent requires at least one input or output EPC")
		}
	}

	elementIndexes := make(map[int]bool, len(event.SensorElements))
	for _, element := range event.SensorElements {
		elementIndexes[element.Index] = true
	}
	for _, sensorReport := range event.Reports {
		if !elementIndexes[sensorReport.SensorIndex] {
			report(RuleSensorIndexUnknown,
				"sensor report %d references sensorIndex %d which names no sensor element",
				sensorReport.Index, sensorReport.SensorIndex)
		}
	}

	violations = append(violations, validateFieldIndexes(event, index)...)
	return violations
}

// validateFieldIndexes enforces the flat-tree invariant: indexes unique
// per event, parentIndex nil or referencing a smaller index inside the
// same entityIndex partition.
func validateFieldIndexes(event *Event, index int) []RuleViolation {
	var violations []RuleViolation
	seen := make(map[int]*Field, len(event.Fields))

	for i := range event.Fields {
		field := &event.Fields[i]
		if _, dup := seen[field.Index]; dup {
			violations = append(violations, RuleViolation{
				Rule:        RuleFieldIndexInvalid,
				EventIndex:  index,
				Description: fmt.Sprintf("field index %d used more than once", field.Index),
			})
			continue
		}
		seen[field.Index] = field

		if field.ParentIndex == nil {
			continue
		}
		parent, ok := seen[*field.ParentIndex]
		if !ok || *field.ParentIndex >= field.Index {
			violations = append(violations, RuleViolation{
				Rule:        RuleFieldIndexInvalid,
				EventIndex:  index,
				Description: fmt.Sprintf("field %d references parent %d which is not an earlier field", field.Index, *field.ParentIndex),
			})
			continue
		}
		if !sameEntity(parent.EntityIndex, field.EntityIndex) {
			violations = append(violations, RuleViolation{
				Rule:        RuleFieldIndexInvalid,
				EventIndex:  index,
				Description: fmt.Sprintf("field %d and parent %d belong to different entities", field.Index, *field.ParentIndex),
			})
		}
	}
	return violations
}

func sameEntity(a, b *int) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}
