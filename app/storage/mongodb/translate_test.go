/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package mongodb

import (
	"testing"

	"github.com/globalsign/mgo/bson"

	"github.com/Robert-Freire/epcis/app/epcis"
	"github.com/Robert-Freire/epcis/app/storage"
)

func TestBuildSelectorPrependsTenant(t *testing.T) {
	selector, err := buildSelector(storage.Filters{TenantID: "tenant-a"})
	if err != nil {
		t.Fatalf("build failed: %+v", err)
	}
	if selector["tenantId"] != "tenant-a" {
		t.Errorf("selector = %+v", selector)
	}

	open, err := buildSelector(storage.Filters{TenantID: "admin", AllTenants: true})
	if err != nil {
		t.Fatalf("build failed: %+v", err)
	}
	if len(open) != 0 {
		t.Errorf("super-user selector = %+v", open)
	}
}

func TestSensorConjunctionIsOneElemMatch(t *testing.T) {
	five := 5.0
	ten := 10.0
	selector, err := buildSelector(storage.Filters{
		TenantID: "tenant-a",
		Predicates: []storage.Predicate{
			storage.SensorMatch{Conds: []storage.SensorCond{
				{Attr: "type", Cmp: storage.CmpEQ, Values: []string{"Temperature"}},
				{Attr: "value", Cmp: storage.CmpGE, Value: storage.Value{Num: &five}},
				{Attr: "value", Cmp: storage.CmpLT, Value: storage.Value{Num: &ten}},
			}},
		},
	})
	if err != nil {
		t.Fatalf("build failed: %+v", err)
	}

	clauses := selector["$and"].([]bson.M)
	reports := clauses[1]["sensorReports"].(bson.M)
	match := reports["$elemMatch"].(bson.M)

	if _, ok := match["reportType"]; !ok {
		t.Errorf("elemMatch = %+v", match)
	}
	value := match["value"].(bson.M)
	if value["$gte"] != 5.0 || value["$lt"] != 10.0 {
		t.Errorf("both range bounds must land on the same report attribute: %+v", value)
	}
}

func TestEpcPatternTranslation(t *testing.T) {
	selector, err := buildSelector(storage.Filters{
		TenantID: "tenant-a",
		Predicates: []storage.Predicate{
			storage.EpcMatch{
				Types:    []epcis.EpcType{epcis.EpcList},
				Patterns: []string{"urn:epc:id:sgtin:8901213.105919.*"},
			},
		},
	})
	if err != nil {
		t.Fatalf("build failed: %+v", err)
	}

	clauses := selector["$and"].([]bson.M)
	match := clauses[1]["epcs"].(bson.M)["$elemMatch"].(bson.M)
	idClause := match["$or"].([]bson.M)[0]["id"].(bson.M)
	regex := idClause["$regex"].(bson.RegEx)

	if regex.Pattern != `^urn:epc:id:sgtin:8901213\.105919\.` {
		t.Errorf("pattern = %q", regex.Pattern)
	}
}

func TestPageAfterTranslation(t *testing.T) {
	selector, err := buildSelector(storage.Filters{
		TenantID: "tenant-a",
		Predicates: []storage.Predicate{
			storage.PageAfter{Order: storage.Order{Key: storage.FieldRecordTime, Descending: true}, ID: 7},
		},
	})
	if err != nil {
		t.Fatalf("build failed: %+v", err)
	}

	clauses := selector["$and"].([]bson.M)
	or := clauses[1]["$or"].([]bson.M)
	if _, ok := or[0]["recordTime"].(bson.M)["$lt"]; !ok {
		t.Errorf("descending continuation must use $lt: %+v", or)
	}
}

func TestSortSpec(t *testing.T) {
	ascending := sortSpec(storage.Order{Key: storage.FieldEventTime})
	if ascending[0] != "eventTime" || ascending[1] != "id" {
		t.Errorf("ascending = %v", ascending)
	}
	descending := sortSpec(storage.Order{Key: storage.FieldRecordTime, Descending: true})
	if descending[0] != "-recordTime" || descending[1] != "-id" {
		t.Errorf("descending = %v", descending)
	}
}
