/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package encoder

import (
	"testing"

	"github.com/Robert-Freire/epcis/app/epcis"
)

func textOf(value string) *string { return &value }

func indexOf(value int) *int { return &value }

func TestBuildFieldTreesRebuildsHierarchy(t *testing.T) {
	// root(0) { attr(1), child(2) { leaf(3) }, child2(4) }, second root(5)
	fields := []epcis.Field{
		{Type: epcis.FieldIlmd, Name: "root", Index: 0},
		{Type: epcis.FieldAttribute, Name: "sealed", TextValue: textOf("true"), Index: 1, ParentIndex: indexOf(0)},
		{Type: epcis.FieldIlmd, Name: "child", Index: 2, ParentIndex: indexOf(0)},
		{Type: epcis.FieldIlmd, Name: "leaf", TextValue: textOf("x"), Index: 3, ParentIndex: indexOf(2)},
		{Type: epcis.FieldIlmd, Name: "child2", TextValue: textOf("y"), Index: 4, ParentIndex: indexOf(0)},
		{Type: epcis.FieldIlmd, Name: "tail", TextValue: textOf("z"), Index: 5},
	}

	trees := buildFieldTrees(fields, map[epcis.FieldType]bool{epcis.FieldIlmd: true}, nil)
	if len(trees) != 2 {
		t.Fatalf("expected 2 roots, got %d", len(trees))
	}

	root := trees[0]
	if root.field.Name != "root" {
		t.Errorf("first root = %q", root.field.Name)
	}
	if len(root.attributes) != 1 || root.attributes[0].Name != "sealed" {
		t.Errorf("attributes = %+v", root.attributes)
	}
	if len(root.children) != 2 || root.children[0].field.Name != "child" || root.children[1].field.Name != "child2" {
		t.Fatalf("children out of order: %+v", root.children)
	}
	if len(root.children[0].children) != 1 || root.children[0].children[0].field.Name != "leaf" {
		t.Errorf("grandchildren = %+v", root.children[0].children)
	}
	if trees[1].field.Name != "tail" {
		t.Errorf("second root = %q", trees[1].field.Name)
	}
}

func TestBuildFieldTreesFiltersByTypeAndEntity(t *testing.T) {
	fields := []epcis.Field{
		{Type: epcis.FieldIlmd, Name: "lot", Index: 0},
		{Type: epcis.FieldCustom, Name: "priority", Index: 1},
		{Type: epcis.FieldSensorElementExt, Name: "probe", Index: 2, EntityIndex: indexOf(0)},
		{Type: epcis.FieldSensorElementExt, Name: "probe", Index: 3, EntityIndex: indexOf(1)},
	}

	ilmd := buildFieldTrees(fields, map[epcis.FieldType]bool{epcis.FieldIlmd: true}, nil)
	if len(ilmd) != 1 || ilmd[0].field.Name != "lot" {
		t.Errorf("ilmd trees = %+v", ilmd)
	}

	custom := buildFieldTrees(fields, map[epcis.FieldType]bool{epcis.FieldCustom: true}, nil)
	if len(custom) != 1 || custom[0].field.Name != "priority" {
		t.Errorf("custom trees = %+v", custom)
	}

	entity := entityAttributes(fields, epcis.FieldSensorElementExt, 1)
	if len(entity) != 1 || entity[0].Index != 3 {
		t.Errorf("entity attributes = %+v", entity)
	}
}

func TestNamespacePrefixesAreStable(t *testing.T) {
	events := []epcis.Event{
		{Fields: []epcis.Field{
			{Type: epcis.FieldCustom, Namespace: "https://b.example.com", Name: "x", Index: 0},
			{Type: epcis.FieldCustom, Namespace: "https://a.example.com", Name: "y", Index: 1},
		}},
	}

	prefixes := namespacePrefixes(events)
	if prefixes["https://a.example.com"] != "ext1" || prefixes["https://b.example.com"] != "ext2" {
		t.Errorf("prefixes = %+v", prefixes)
	}
}
