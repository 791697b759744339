/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/Robert-Freire/epcis/app/epcis"
	"github.com/Robert-Freire/epcis/app/storage"
)

func TestBuildIDSelectBasics(t *testing.T) {
	statement, args, err := buildIDSelect(storage.Filters{
		TenantID: "tenant-a",
		Order:    storage.Order{Key: storage.FieldEventTime},
		Limit:    storage.Limit{Count: 10, Offset: 5},
	})
	if err != nil {
		t.Fatalf("build failed: %+v", err)
	}

	for _, fragment := range []string{
		"SELECT id FROM events",
		"tenant_id = $1",
		"ORDER BY event_time ASC, id ASC",
		"LIMIT 10",
		"OFFSET 5",
	} {
		if !strings.Contains(statement, fragment) {
			t.Errorf("statement missing %q:\n%s", fragment, statement)
		}
	}
	if len(args) != 1 || args[0] != "tenant-a" {
		t.Errorf("args = %+v", args)
	}
}

func TestBuildIDSelectSuperUserSkipsTenant(t *testing.T) {
	statement, args, err := buildIDSelect(storage.Filters{
		TenantID:   "admin",
		AllTenants: true,
		Order:      storage.Order{Key: storage.FieldRecordTime, Descending: true},
	})
	if err != nil {
		t.Fatalf("build failed: %+v", err)
	}
	if strings.Contains(statement, "tenant_id") {
		t.Errorf("super-user statement still filters tenant:\n%s", statement)
	}
	if !strings.Contains(statement, "ORDER BY record_time DESC, id DESC") {
		t.Errorf("statement = %s", statement)
	}
	if len(args) != 0 {
		t.Errorf("args = %+v", args)
	}
}

func TestTranslateEpcMatch(t *testing.T) {
	statement, args, err := buildIDSelect(storage.Filters{
		TenantID: "tenant-a",
		Predicates: []storage.Predicate{
			storage.EpcMatch{
				Types:    []epcis.EpcType{epcis.EpcList, epcis.EpcChild},
				Patterns: []string{"urn:epc:id:sgtin:8901213.105919.*", "urn:epc:id:sscc:1.1"},
			},
		},
		Order: storage.Order{Key: storage.FieldEventTime},
	})
	if err != nil {
		t.Fatalf("build failed: %+v", err)
	}

	if !strings.Contains(statement, "jsonb_array_elements(COALESCE(data->'epcs'") {
		t.Errorf("statement = %s", statement)
	}
	if !strings.Contains(statement, "LIKE") {
		t.Errorf("prefix pattern must render as LIKE:\n%s", statement)
	}

	// tenant + type array + LIKE prefix + exact id
	if len(args) != 4 {
		t.Fatalf("args = %+v", args)
	}
	if args[2] != "urn:epc:id:sgtin:8901213.105919.%" {
		t.Errorf("LIKE arg = %v", args[2])
	}
}

func TestTranslateEscapesLikeMetacharacters(t *testing.T) {
	_, args, err := buildIDSelect(storage.Filters{
		TenantID: "tenant-a",
		Predicates: []storage.Predicate{
			storage.EpcMatch{Types: []epcis.EpcType{epcis.EpcList}, Patterns: []string{"urn:epc:100%_raw.*"}},
		},
		Order: storage.Order{Key: storage.FieldEventTime},
	})
	if err != nil {
		t.Fatalf("build failed: %+v", err)
	}
	if args[2] != `urn:epc:100\%\_raw.%` {
		t.Errorf("escaped LIKE arg = %v", args[2])
	}
}

func TestTranslateSensorMatchIsSingleExists(t *testing.T) {
	five := 5.0
	ten := 10.0
	statement, _, err := buildIDSelect(storage.Filters{
		TenantID: "tenant-a",
		Predicates: []storage.Predicate{
			storage.SensorMatch{Conds: []storage.SensorCond{
				{Attr: "type", Cmp: storage.CmpEQ, Values: []string{"Temperature"}},
				{Attr: "value", Cmp: storage.CmpGE, Value: storage.Value{Num: &five}},
				{Attr: "value", Cmp: storage.CmpLT, Value: storage.Value{Num: &ten}},
			}},
		},
		Order: storage.Order{Key: storage.FieldEventTime},
	})
	if err != nil {
		t.Fatalf("build failed: %+v", err)
	}

	// one EXISTS over the reports array, all conditions inside it
	if count := strings.Count(statement, "jsonb_array_elements(COALESCE(data->'sensorReports'"); count != 1 {
		t.Errorf("expected one reports join, found %d:\n%s", count, statement)
	}
	if !strings.Contains(statement, "r->>'reportType'") {
		t.Errorf("type condition must target the reportType key:\n%s", statement)
	}
}

func TestTranslateFieldPredicates(t *testing.T) {
	statement, args, err := buildIDSelect(storage.Filters{
		TenantID: "tenant-a",
		Predicates: []storage.Predicate{
			storage.FieldIn{
				Types:     []epcis.FieldType{epcis.FieldIlmd},
				Namespace: "https://ns.example.com/epcis",
				Name:      "lot",
				Values:    []string{"LOT-42"},
			},
		},
		Order: storage.Order{Key: storage.FieldEventTime},
	})
	if err != nil {
		t.Fatalf("build failed: %+v", err)
	}
	if !strings.Contains(statement, "jsonb_array_elements(COALESCE(data->'fields'") {
		t.Errorf("statement = %s", statement)
	}
	if len(args) != 5 {
		t.Errorf("args = %+v", args)
	}
}

func TestTranslatePageAfterRowComparison(t *testing.T) {
	statement, _, err := buildIDSelect(storage.Filters{
		TenantID: "tenant-a",
		Predicates: []storage.Predicate{
			storage.PageAfter{
				Order: storage.Order{Key: storage.FieldEventTime},
				Time:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
				ID:    42,
			},
		},
		Order: storage.Order{Key: storage.FieldEventTime},
	})
	if err != nil {
		t.Fatalf("build failed: %+v", err)
	}
	if !strings.Contains(statement, "(event_time, id) >") {
		t.Errorf("statement = %s", statement)
	}
}

func TestTranslateEmptyLocationSetMatchesNothing(t *testing.T) {
	statement, _, err := buildIDSelect(storage.Filters{
		TenantID: "tenant-a",
		Predicates: []storage.Predicate{
			storage.LocationIn{Field: storage.FieldBizLocation, IDs: nil},
		},
		Order: storage.Order{Key: storage.FieldEventTime},
	})
	if err != nil {
		t.Fatalf("build failed: %+v", err)
	}
	if !strings.Contains(statement, "FALSE") {
		t.Errorf("statement = %s", statement)
	}
}
