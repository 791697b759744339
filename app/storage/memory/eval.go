/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package memory

import (
	"strconv"
	"time"

	"github.com/Robert-Freire/epcis/app/epcis"
	"github.com/Robert-Freire/epcis/app/storage"
)

func matchesAll(event *epcis.Event, predicates []storage.Predicate) bool {
	for _, predicate := range predicates {
		if !matches(event, predicate) {
			return false
		}
	}
	return true
}

func matches(event *epcis.Event, predicate storage.Predicate) bool {
	switch p := predicate.(type) {

	case storage.EventTypeIn:
		for _, eventType := range p.Types {
			if event.Type == eventType {
				return true
			}
		}
		return false

	case storage.ScalarIn:
		value, ok := scalarString(event, p.Field)
		if !ok || value == "" {
			return false
		}
		for _, candidate := range p.Values {
			if value == candidate {
				return true
			}
		}
		return false

	case storage.ScalarCmp:
		return scalarCompare(event, p)

	case storage.ScalarExists:
		value, ok := scalarString(event, p.Field)
		return ok && value != ""

	case storage.EpcMatch:
		for _, epc := range event.Epcs {
			if !epcTypeIn(epc.Type, p.Types) {
				continue
			}
			for _, pattern := range p.Patterns {
				if storage.MatchesPattern(epc.ID, pattern) {
					return true
				}
			}
		}
		return false

	case storage.LocationIn:
		value, _ := scalarString(event, p.Field)
		if value == "" {
			return false
		}
		for _, id := range p.IDs {
			if value == id {
				return true
			}
		}
		return false

	case storage.FieldIn:
		for i := range event.Fields {
			field := &event.Fields[i]
			if !fieldMatchesName(field, p.Types, p.Namespace, p.Name) || field.TextValue == nil {
				continue
			}
			for _, candidate := range p.Values {
				if *field.TextValue == candidate {
					return true
				}
			}
		}
		return false

	case storage.FieldCmp:
		for i := range event.Fields {
			field := &event.Fields[i]
			if !fieldMatchesName(field, p.Types, p.Namespace, p.Name) {
				continue
			}
			if p.Value.Num != nil && field.NumericValue != nil &&
				compareFloat(*field.NumericValue, *p.Value.Num, p.Cmp) {
				return true
			}
			if p.Value.Time != nil && field.DateValue != nil &&
				compareTime(*field.DateValue, *p.Value.Time, p.Cmp) {
				return true
			}
		}
		return false

	case storage.FieldExists:
		for i := range event.Fields {
			if fieldMatchesName(&event.Fields[i], p.Types, p.Namespace, p.Name) {
				return true
			}
		}
		return false

	case storage.SensorMatch:
		// conjunction binds within a single report
		for i := range event.Reports {
			if reportMatches(&event.Reports[i], p.Conds) {
				return true
			}
		}
		return false

	case storage.PageAfter:
		value := event.EventTime
		if p.Order.Key == storage.FieldRecordTime {
			value = event.RecordTime
		}
		if p.Order.Descending {
			if !value.Equal(p.Time) {
				return value.Before(p.Time)
			}
			return event.ID < p.ID
		}
		if !value.Equal(p.Time) {
			return value.After(p.Time)
		}
		return event.ID > p.ID
	}

	return false
}

func scalarString(event *epcis.Event, field string) (string, bool) {
	switch field {
	case storage.FieldEventType:
		return event.Type, true
	case storage.FieldEventID:
		return event.EventID, true
	case storage.FieldAction:
		return event.Action, true
	case storage.FieldBizStep:
		return event.BusinessStep, true
	case storage.FieldDisposition:
		return event.Disposition, true
	case storage.FieldReadPoint:
		return event.ReadPoint, true
	case storage.FieldBizLocation:
		return event.BusinessLocation, true
	case storage.FieldTransformationID:
		return event.TransformationID, true
	}
	return "", false
}

func scalarCompare(event *epcis.Event, p storage.ScalarCmp) bool {
	if p.Value.Time != nil {
		var value time.Time
		switch p.Field {
		case storage.FieldEventTime:
			value = event.EventTime
		case storage.FieldRecordTime:
			value = event.RecordTime
		default:
			return false
		}
		return compareTime(value, *p.Value.Time, p.Cmp)
	}
	if p.Value.Str != nil {
		value, ok := scalarString(event, p.Field)
		if !ok || value == "" {
			return false
		}
		return compareString(value, *p.Value.Str, p.Cmp)
	}
	return false
}

func epcTypeIn(epcType epcis.EpcType, types []epcis.EpcType) bool {
	if len(types) == 0 {
		return true
	}
	for _, candidate := range types {
		if epcType == candidate {
			return true
		}
	}
	return false
}

func fieldMatchesName(field *epcis.Field, types []epcis.FieldType, namespace, name string) bool {
	if len(types) > 0 {
		found := false
		for _, fieldType := range types {
			if field.Type == fieldType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if namespace != "" && field.Namespace != namespace {
		return false
	}
	return field.Name == name
}

func reportMatches(report *epcis.SensorReport, conds []storage.SensorCond) bool {
	for _, cond := range conds {
		if !reportCondition(report, cond) {
			return false
		}
	}
	return true
}

func reportCondition(report *epcis.SensorReport, cond storage.SensorCond) bool {
	if len(cond.Values) > 0 {
		value, ok := reportString(report, cond.Attr)
		if !ok || value == "" {
			return false
		}
		for _, candidate := range cond.Values {
			if value == candidate {
				return true
			}
		}
		return false
	}

	if cond.Value.Num != nil {
		value := reportNumber(report, cond.Attr)
		return value != nil && compareFloat(*value, *cond.Value.Num, cond.Cmp)
	}
	if cond.Value.Time != nil {
		if report.Time == nil {
			return false
		}
		return compareTime(*report.Time, *cond.Value.Time, cond.Cmp)
	}
	if cond.Value.Str != nil {
		value, ok := reportString(report, cond.Attr)
		return ok && compareString(value, *cond.Value.Str, cond.Cmp)
	}
	return false
}

func reportString(report *epcis.SensorReport, attr string) (string, bool) {
	switch attr {
	case "type":
		return report.Type, true
	case "deviceID":
		return report.DeviceID, true
	case "deviceMetadata":
		return report.DeviceMetadata, true
	case "rawData":
		return report.RawData, true
	case "dataProcessingMethod":
		return report.DataProcessingMethod, true
	case "microorganism":
		return report.Microorganism, true
	case "chemicalSubstance":
		return report.ChemicalSubstance, true
	case "stringValue":
		return report.StringValue, true
	case "booleanValue":
		if report.BooleanValue == nil {
			return "", true
		}
		return strconv.FormatBool(*report.BooleanValue), true
	case "hexBinaryValue":
		return report.HexBinaryValue, true
	case "uriValue":
		return report.URIValue, true
	case "uom":
		return report.UnitOfMeasure, true
	}
	return "", false
}

func reportNumber(report *epcis.SensorReport, attr string) *float64 {
	switch attr {
	case "value":
		return report.Value
	case "minValue":
		return report.MinValue
	case "maxValue":
		return report.MaxValue
	case "meanValue":
		return report.MeanValue
	case "sDev":
		return report.SDev
	case "percRank":
		return report.PercRank
	case "percValue":
		return report.PercValue
	}
	return nil
}

func compareFloat(a, b float64, cmp storage.Comparator) bool {
	switch cmp {
	case storage.CmpEQ:
		return a == b
	case storage.CmpGT:
		return a > b
	case storage.CmpGE:
		return a >= b
	case storage.CmpLT:
		return a < b
	case storage.CmpLE:
		return a <= b
	}
	return false
}

func compareTime(a, b time.Time, cmp storage.Comparator) bool {
	switch cmp {
	case storage.CmpEQ:
		return a.Equal(b)
	case storage.CmpGT:
		return a.After(b)
	case storage.CmpGE:
		return a.After(b) || a.Equal(b)
	case storage.CmpLT:
		return a.Before(b)
	case storage.CmpLE:
		return a.Before(b) || a.Equal(b)
	}
	return false
}

func compareString(a, b string, cmp storage.Comparator) bool {
	switch cmp {
	case storage.CmpEQ:
		return a == b
	case storage.CmpGT:
		return a > b
	case storage.CmpGE:
		return a >= b
	case storage.CmpLT:
		return a < b
	case storage.CmpLE:
		return a <= b
	}
	return false
}
