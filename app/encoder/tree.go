/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

// Package encoder emits canonical events as EPCIS 1.2 XML, EPCIS 2.0
// XML, JSON-LD, or SOAP query results.
package encoder

import (
	"sort"
	"strconv"

	"github.com/Robert-Freire/epcis/app/epcis"
)

// fieldNode is one re-materialized element of a flattened extension
// subtree.
type fieldNode struct {
	field      *epcis.Field
	attributes []*epcis.Field
	children   []*fieldNode
}

// buildFieldTrees reconstructs the DFS trees of the given subtree types
// for one event. Children are pre-bucketed by parentIndex into a map, so
// the whole rebuild is linear in the number of fields; the per-child
// linear scan this replaces degrades quadratically with large ILMD
// payloads.
func buildFieldTrees(fields []epcis.Field, types map[epcis.FieldType]bool, entityIndex *int) []*fieldNode {

	nodes := make(map[int]*fieldNode, len(fields))
	childBuckets := make(map[int][]*epcis.Field, len(fields))
	attrBuckets := make(map[int][]*epcis.Field, len(fields))
	var roots []*epcis.Field

	for i := range fields {
		field := &fields[i]
		if !types[field.Type] && field.Type != epcis.FieldAttribute {
			continue
		}
		if !sameEntity(field.EntityIndex, entityIndex) {
			continue
		}

		if field.Type == epcis.FieldAttribute {
			if field.ParentIndex != nil {
				attrBuckets[*field.ParentIndex] = append(attrBuckets[*field.ParentIndex], field)
			}
			continue
		}

		if field.ParentIndex == nil {
			roots = append(roots, field)
			continue
		}
		childBuckets[*field.ParentIndex] = append(childBuckets[*field.ParentIndex], field)
	}

	var build func(field *epcis.Field) *fieldNode
	build = func(field *epcis.Field) *fieldNode {
		node := &fieldNode{field: field, attributes: attrBuckets[field.Index]}
		nodes[field.Index] = node
		children := childBuckets[field.Index]
		sort.Slice(children, func(i, j int) bool { return children[i].Index < children[j].Index })
		for _, child := range children {
			node.children = append(node.children, build(child))
		}
		return node
	}

	sort.Slice(roots, func(i, j int) bool { return roots[i].Index < roots[j].Index })
	out := make([]*fieldNode, 0, len(roots))
	for _, root := range roots {
		out = append(out, build(root))
	}
	return out
}

// entityAttributes returns the attribute-style extension fields bound to
// one owned entity (sensor metadata or a sensor report).
func entityAttributes(fields []epcis.Field, fieldType epcis.FieldType, entityIndex int) []*epcis.Field {
	var out []*epcis.Field
	for i := range fields {
		field := &fields[i]
		if field.Type == fieldType && field.ParentIndex == nil &&
			field.EntityIndex != nil && *field.EntityIndex == entityIndex {
			out = append(out, field)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
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

// namespacePrefixes allocates one stable prefix per extension namespace
// (ext1, ext2, ...) over every namespace the events reference.
func namespacePrefixes(events []epcis.Event) map[string]string {
	var namespaces []string
	seen := map[string]bool{}
	for i := range events {
		for j := range events[i].Fields {
			namespace := events[i].Fields[j].Namespace
			if namespace == "" || seen[namespace] {
				continue
			}
			seen[namespace] = true
			namespaces = append(namespaces, namespace)
		}
	}
	sort.Strings(namespaces)

	prefixes := make(map[string]string, len(namespaces))
	for i, namespace := range namespaces {
		prefixes[namespace] = "ext" + strconv.Itoa(i+1)
	}
	return prefixes
}
