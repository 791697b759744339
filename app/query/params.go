/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

// Package query translates the closed EPCIS parameter grammar into the
// storage predicate chain and runs the two-phase retrieval.
package query

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/Robert-Freire/epcis/app/epcis"
	"github.com/Robert-Freire/epcis/app/storage"
	"github.com/Robert-Freire/epcis/pkg/web"
)

// WithDescendantsParam is a WD_ predicate before masterdata resolution.
type WithDescendantsParam struct {
	// storage.FieldReadPoint or storage.FieldBizLocation
	Field string
	IDs   []string
}

// AttributeParam is a HASATTR_/EQATTR_ predicate before masterdata
// resolution.
type AttributeParam struct {
	Field     string
	Attribute string
	// nil for HASATTR_
	Value *string
}

// Query is one parsed parameter set, ready for execution.
type Query struct {
	Predicates []storage.Predicate

	// Sensor conditions form a single per-report conjunction
	SensorConds []storage.SensorCond

	WithDescendants []WithDescendantsParam
	Attributes      []AttributeParam

	Order storage.Order

	// Exact cap: exceeding it fails the query
	EventCountLimit int
	// Silent truncation cap
	MaxEventCount int
	// Page size for cursor paging
	PerPage int
	// Opaque cursor from the previous page, still encoded
	PageToken string
}

// ParamsFromURL converts request query values into the canonical
// parameter list, name-sorted for deterministic processing.
func ParamsFromURL(values url.Values) []epcis.Parameter {
	params := make([]epcis.Parameter, 0, len(values))
	for name, value := range values {
		params = append(params, epcis.Parameter{Name: name, Values: value})
	}
	sort.Slice(params, func(i, j int) bool { return params[i].Name < params[j].Name })
	return params
}

// scalar fields addressable by EQ_ and EXISTS_.
var scalarEqFields = map[string]string{
	"action":           storage.FieldAction,
	"bizStep":          storage.FieldBizStep,
	"disposition":      storage.FieldDisposition,
	"readPoint":        storage.FieldReadPoint,
	"bizLocation":      storage.FieldBizLocation,
	"transformationID": storage.FieldTransformationID,
	"eventID":          storage.FieldEventID,
}

// time fields addressable by the ordered comparators.
var timeCmpFields = map[string]string{
	"eventTime":  storage.FieldEventTime,
	"recordTime": storage.FieldRecordTime,
}

// MATCH_ suffix to EPC roles.
var matchEpcFields = map[string][]epcis.EpcType{
	"epc":           {epcis.EpcList, epcis.EpcChild},
	"parentID":      {epcis.EpcParentID},
	"inputEPC":      {epcis.EpcInput},
	"outputEPC":     {epcis.EpcOutput},
	"anyEPC":        {epcis.EpcList, epcis.EpcChild, epcis.EpcParentID, epcis.EpcInput, epcis.EpcOutput},
	"epcClass":      {epcis.EpcQuantity},
	"anyEPCClass":   {epcis.EpcQuantity},
	"inputEPCClass": {epcis.EpcQuantity},
	"outputEPCClass": {
		epcis.EpcQuantity,
	},
}

// sensor report attributes reachable by EQ_ (string semantics).
var sensorStringAttrs = map[string]bool{
	"type": true, "deviceID": true, "deviceMetadata": true,
	"rawData": true, "dataProcessingMethod": true,
	"microorganism": true, "chemicalSubstance": true,
	"stringValue": true, "booleanValue": true, "hexBinaryValue": true,
	"uriValue": true, "uom": true,
}

// sensor report attributes reachable by the ordered comparators.
var sensorNumericAttrs = map[string]bool{
	"value": true, "minValue": true, "maxValue": true, "meanValue": true,
	"sDev": true, "percRank": true, "percValue": true,
}

var comparators = map[string]storage.Comparator{
	"EQ": storage.CmpEQ,
	"GE": storage.CmpGE,
	"GT": storage.CmpGT,
	"LE": storage.CmpLE,
	"LT": storage.CmpLT,
}

// Parse dispatches every parameter of the closed grammar. Unknown names
// fail as unsupported; malformed values as invalid.
func Parse(params []epcis.Parameter) (*Query, error) {
	parsed := &Query{Order: storage.Order{Key: storage.FieldEventTime}}

	for _, param := range params {
		if err := parseOne(parsed, param); err != nil {
			return nil, err
		}
	}

	if parsed.EventCountLimit > 0 && parsed.PerPage > 0 {
		return nil, errors.Wrap(web.ErrInvalidInput, "eventCountLimit and perPage cannot be combined")
	}
	if len(parsed.SensorConds) > 0 {
		parsed.Predicates = append(parsed.Predicates, storage.SensorMatch{Conds: parsed.SensorConds})
	}
	return parsed, nil
}

func parseOne(parsed *Query, param epcis.Parameter) error {
	name := param.Name
	values := param.Values

	single := func() (string, error) {
		if len(values) != 1 {
			return "", errors.Wrapf(web.ErrInvalidInput, "parameter %s takes exactly one value", name)
		}
		return values[0], nil
	}

	switch name {
	case "eventType":
		known := map[string]bool{}
		for _, eventType := range epcis.EventTypes {
			known[eventType] = true
		}
		for _, value := range values {
			if !known[value] {
				return errors.Wrapf(web.ErrInvalidInput, "unknown eventType %q", value)
			}
		}
		parsed.Predicates = append(parsed.Predicates, storage.EventTypeIn{Types: values})
		return nil

	case "orderBy":
		value, err := single()
		if err != nil {
			return err
		}
		if value != storage.FieldEventTime && value != storage.FieldRecordTime {
			return errors.Wrapf(web.ErrInvalidInput, "orderBy must be eventTime or recordTime, got %q", value)
		}
		parsed.Order.Key = value
		return nil

	case "orderDirection":
		value, err := single()
		if err != nil {
			return err
		}
		switch strings.ToLower(value) {
		case "asc":
			parsed.Order.Descending = false
		case "desc":
			parsed.Order.Descending = true
		default:
			return errors.Wrapf(web.ErrInvalidInput, "orderDirection must be asc or desc, got %q", value)
		}
		return nil

	case "eventCountLimit":
		return parsePositiveInt(name, values, &parsed.EventCountLimit)
	case "maxEventCount":
		return parsePositiveInt(name, values, &parsed.MaxEventCount)
	case "perPage":
		return parsePositiveInt(name, values, &parsed.PerPage)

	case "nextPageToken":
		value, err := single()
		if err != nil {
			return err
		}
		parsed.PageToken = value
		return nil
	}

	if suffix, ok := trimPrefix(name, "MATCH_"); ok {
		epcTypes, known := matchEpcFields[suffix]
		if !known {
			return errors.Wrapf(web.ErrUnsupportedParameter, "unknown parameter %q", name)
		}
		parsed.Predicates = append(parsed.Predicates, storage.EpcMatch{Types: epcTypes, Patterns: values})
		return nil
	}

	if suffix, ok := trimPrefix(name, "WD_"); ok {
		field, err := locationField(name, suffix)
		if err != nil {
			return err
		}
		parsed.WithDescendants = append(parsed.WithDescendants, WithDescendantsParam{Field: field, IDs: values})
		return nil
	}

	if suffix, ok := trimPrefix(name, "HASATTR_"); ok {
		field, err := locationField(name, suffix)
		if err != nil {
			return err
		}
		// each value is one required attribute name
		for _, attribute := range values {
			parsed.Attributes = append(parsed.Attributes, AttributeParam{Field: field, Attribute: attribute})
		}
		return nil
	}
	if suffix, ok := trimPrefix(name, "EQATTR_"); ok {
		location, attribute, found := strings.Cut(suffix, "_")
		if !found || attribute == "" {
			return errors.Wrapf(web.ErrUnsupportedParameter, "unknown parameter %q", name)
		}
		field, err := locationField(name, location)
		if err != nil {
			return err
		}
		value, err := single()
		if err != nil {
			return err
		}
		parsed.Attributes = append(parsed.Attributes, AttributeParam{Field: field, Attribute: attribute, Value: &value})
		return nil
	}

	if suffix, ok := trimPrefix(name, "EXISTS_"); ok {
		return parseExists(parsed, name, suffix)
	}

	for prefix, cmp := range comparators {
		suffix, ok := trimPrefix(name, prefix+"_")
		if !ok {
			continue
		}
		return parseComparator(parsed, name, suffix, cmp, values)
	}

	return errors.Wrapf(web.ErrUnsupportedParameter, "unknown parameter %q", name)
}

func locationField(name, location string) (string, error) {
	field, known := scalarEqFields[location]
	if !known || (field != storage.FieldReadPoint && field != storage.FieldBizLocation) {
		return "", errors.Wrapf(web.ErrUnsupportedParameter, "unknown parameter %q", name)
	}
	return field, nil
}

func parseExists(parsed *Query, name, suffix string) error {
	if field, ok := scalarEqFields[suffix]; ok {
		parsed.Predicates = append(parsed.Predicates, storage.ScalarExists{Field: field})
		return nil
	}
	if fieldTypes, namespace, local, ok := extensionFieldName(suffix); ok {
		parsed.Predicates = append(parsed.Predicates, storage.FieldExists{Types: fieldTypes, Namespace: namespace, Name: local})
		return nil
	}
	return errors.Wrapf(web.ErrUnsupportedParameter, "unknown parameter %q", name)
}

func parseComparator(parsed *Query, name, suffix string, cmp storage.Comparator, values []string) error {

	// time comparisons on eventTime / recordTime
	if field, ok := timeCmpFields[suffix]; ok {
		if len(values) != 1 {
			return errors.Wrapf(web.ErrInvalidInput, "parameter %s takes exactly one value", name)
		}
		instant, err := time.Parse(time.RFC3339, values[0])
		if err != nil {
			return errors.Wrapf(web.ErrInvalidInput, "parameter %s: %q is not an ISO-8601 instant", name, values[0])
		}
		parsed.Predicates = append(parsed.Predicates, storage.ScalarCmp{
			Field: field, Cmp: cmp, Value: storage.TimeValue(instant.UTC()),
		})
		return nil
	}

	// scalar string equality
	if field, ok := scalarEqFields[suffix]; ok {
		if cmp != storage.CmpEQ {
			return errors.Wrapf(web.ErrUnsupportedParameter, "field %s only supports EQ_", suffix)
		}
		parsed.Predicates = append(parsed.Predicates, storage.ScalarIn{Field: field, Values: values})
		return nil
	}

	// sensor report attributes: all conditions join into one per-report
	// conjunction
	if sensorStringAttrs[suffix] {
		if cmp != storage.CmpEQ {
			return errors.Wrapf(web.ErrUnsupportedParameter, "sensor attribute %s only supports EQ_", suffix)
		}
		parsed.SensorConds = append(parsed.SensorConds, storage.SensorCond{Attr: suffix, Cmp: cmp, Values: values})
		return nil
	}
	if sensorNumericAttrs[suffix] {
		if len(values) != 1 {
			return errors.Wrapf(web.ErrInvalidInput, "parameter %s takes exactly one value", name)
		}
		number, err := strconv.ParseFloat(values[0], 64)
		if err != nil {
			return errors.Wrapf(web.ErrInvalidInput, "parameter %s: %q is not numeric", name, values[0])
		}
		parsed.SensorConds = append(parsed.SensorConds, storage.SensorCond{Attr: suffix, Cmp: cmp, Value: storage.NumValue(number)})
		return nil
	}
	if suffix == "time" {
		if len(values) != 1 {
			return errors.Wrapf(web.ErrInvalidInput, "parameter %s takes exactly one value", name)
		}
		instant, err := time.Parse(time.RFC3339, values[0])
		if err != nil {
			return errors.Wrapf(web.ErrInvalidInput, "parameter %s: %q is not an ISO-8601 instant", name, values[0])
		}
		parsed.SensorConds = append(parsed.SensorConds, storage.SensorCond{Attr: suffix, Cmp: cmp, Value: storage.TimeValue(instant.UTC())})
		return nil
	}

	// ILMD and inner extension fields
	if fieldTypes, namespace, local, ok := extensionFieldName(suffix); ok {
		if cmp == storage.CmpEQ {
			parsed.Predicates = append(parsed.Predicates, storage.FieldIn{
				Types: fieldTypes, Namespace: namespace, Name: local, Values: values,
			})
			return nil
		}
		if len(values) != 1 {
			return errors.Wrapf(web.ErrInvalidInput, "parameter %s takes exactly one value", name)
		}
		value, err := typedLiteral(values[0])
		if err != nil {
			return errors.Wrapf(web.ErrInvalidInput, "parameter %s: %s", name, err.Error())
		}
		parsed.Predicates = append(parsed.Predicates, storage.FieldCmp{
			Types: fieldTypes, Namespace: namespace, Name: local, Cmp: cmp, Value: value,
		})
		return nil
	}

	return errors.Wrapf(web.ErrUnsupportedParameter, "unknown parameter %q", name)
}

// extensionFieldName resolves the ILMD_ and INNER_ parameter suffixes to
// the field subtree types plus (namespace, localName). The namespace and
// name are separated by # when the namespace is an IRI, otherwise by the
// last underscore.
func extensionFieldName(suffix string) ([]epcis.FieldType, string, string, bool) {
	fieldTypes := []epcis.FieldType{epcis.FieldCustom}

	if rest, ok := trimPrefix(suffix, "ILMD_"); ok {
		fieldTypes = []epcis.FieldType{epcis.FieldIlmd}
		suffix = rest
	} else if rest, ok := trimPrefix(suffix, "INNER_ILMD_"); ok {
		fieldTypes = []epcis.FieldType{epcis.FieldIlmd}
		suffix = rest
	} else if rest, ok := trimPrefix(suffix, "INNER_"); ok {
		suffix = rest
	}

	if namespace, local, found := strings.Cut(suffix, "#"); found && namespace != "" && local != "" {
		return fieldTypes, namespace, local, true
	}
	if i := strings.LastIndexByte(suffix, '_'); i > 0 && i < len(suffix)-1 {
		return fieldTypes, suffix[:i], suffix[i+1:], true
	}
	return nil, "", "", false
}

// typedLiteral types an ordered-comparison literal: ISO-8601 instants
// compare against the date slot, numbers against the numeric slot.
func typedLiteral(raw string) (storage.Value, error) {
	if instant, err := time.Parse(time.RFC3339, raw); err == nil {
		return storage.TimeValue(instant.UTC()), nil
	}
	if number, err := strconv.ParseFloat(raw, 64); err == nil {
		return storage.NumValue(number), nil
	}
	return storage.Value{}, errors.Errorf("%q is neither numeric nor an ISO-8601 instant", raw)
}

func parsePositiveInt(name string, values []string, out *int) error {
	if len(values) != 1 {
		return errors.Wrapf(web.ErrInvalidInput, "parameter %s takes exactly one value", name)
	}
	parsed, err := strconv.Atoi(values[0])
	if err != nil || parsed <= 0 {
		return errors.Wrapf(web.ErrInvalidInput, "parameter %s must be a positive integer", name)
	}
	*out = parsed
	return nil
}

func trimPrefix(name, prefix string) (string, bool) {
	if strings.HasPrefix(name, prefix) {
		return name[len(prefix):], true
	}
	return "", false
}
