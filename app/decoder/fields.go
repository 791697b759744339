/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package decoder

import (
	"strconv"
	"strings"
	"time"

	"github.com/Robert-Freire/epcis/app/epcis"
)

// fieldBuilder assigns the per-event DFS indexes while custom-namespace
// subtrees are flattened. One builder per event; decoders must not share
// builders across requests.
type fieldBuilder struct {
	next   int
	fields []epcis.Field
}

// addElement appends one element field and returns its index so children
// can reference it.
func (builder *fieldBuilder) addElement(fieldType epcis.FieldType, namespace, name, text string, parentIndex, entityIndex *int) int {
	index := builder.next
	builder.next++

	field := epcis.Field{
		Type:        fieldType,
		Namespace:   namespace,
		Name:        name,
		Index:       index,
		ParentIndex: copyIndex(parentIndex),
		EntityIndex: copyIndex(entityIndex),
	}
	fillValueSlots(&field, text)

	builder.fields = append(builder.fields, field)
	return index
}

// addAttribute appends an attribute field. Attributes share the owning
// element's index as their parentIndex and carry the attribute tag.
func (builder *fieldBuilder) addAttribute(namespace, name, value string, elementIndex int, entityIndex *int) {
	index := builder.next
	builder.next++

	field := epcis.Field{
		Type:        epcis.FieldAttribute,
		Namespace:   namespace,
		Name:        name,
		Index:       index,
		ParentIndex: &elementIndex,
		EntityIndex: copyIndex(entityIndex),
	}
	fillValueSlots(&field, value)

	builder.fields = append(builder.fields, field)
}

// addAttributeRoot appends an attribute field that hangs off an owned
// entity (a sensor element's metadata or a sensor report) rather than off
// another field. The subtree type names the entity kind; EntityIndex
// names the entity.
func (builder *fieldBuilder) addAttributeRoot(namespace, name, value string, fieldType epcis.FieldType, entityIndex *int) {
	index := builder.next
	builder.next++

	field := epcis.Field{
		Type:        fieldType,
		Namespace:   namespace,
		Name:        name,
		Index:       index,
		EntityIndex: copyIndex(entityIndex),
	}
	fillValueSlots(&field, value)

	builder.fields = append(builder.fields, field)
}

// fillValueSlots parses leaf text speculatively: the raw string always,
// plus numeric and date slots when the text parses as either. Any filled
// slot may later satisfy a predicate.
func fillValueSlots(field *epcis.Field, text string) {
	if text == "" {
		return
	}
	field.TextValue = &text

	if numeric, err := strconv.ParseFloat(text, 64); err == nil {
		field.NumericValue = &numeric
	}
	if date, ok := parseISOTime(text); ok {
		utc := date.UTC()
		field.DateValue = &utc
	}
}

// parseISOTime accepts the ISO-8601 renderings EPCIS documents use for
// date-time values.
func parseISOTime(text string) (time.Time, bool) {
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02T15:04:05.000",
	} {
		if parsed, err := time.Parse(layout, text); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

func copyIndex(index *int) *int {
	if index == nil {
		return nil
	}
	value := *index
	return &value
}

// splitQualified splits a prefixed name into prefix and local part.
func splitQualified(name string) (prefix, local string) {
	if i := strings.IndexByte(name, ':'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}
