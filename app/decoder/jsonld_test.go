/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package decoder

import (
	"strings"
	"testing"

	"github.com/Robert-Freire/epcis/app/epcis"
)

const objectEventJSON = `{
  "@context": [
    "https://ref.gs1.org/standards/epcis/2.0.0/epcis-context.jsonld",
    {"example": "https://ns.example.com/epcis"}
  ],
  "type": "EPCISDocument",
  "schemaVersion": "2.0",
  "creationDate": "2025-01-15T10:00:00.000Z",
  "epcisBody": {
    "eventList": [
      {
        "type": "ObjectEvent",
        "eventTime": "2025-01-15T10:30:00.000Z",
        "eventTimeZoneOffset": "+00:00",
        "epcList": ["urn:epc:id:sgtin:8901213.105919.000000"],
        "action": "OBSERVE",
        "bizStep": "receiving",
        "readPoint": {"id": "urn:epc:id:sgln:8901213.00001.0"},
        "example:priority": 7,
        "ilmd": {
          "example:lot": "LOT-42"
        }
      }
    ]
  }
}`

func TestDecodeObjectEventJSON(t *testing.T) {
	capture, err := DecodeDocument("application/ld+json", strings.NewReader(objectEventJSON), 0)
	if err != nil {
		t.Fatalf("decode failed: %+v", err)
	}

	if capture.SchemaVersion != epcis.Version20 {
		t.Errorf("schemaVersion = %q", capture.SchemaVersion)
	}
	if capture.Namespaces["example"] != "https://ns.example.com/epcis" {
		t.Errorf("namespaces = %+v", capture.Namespaces)
	}
	if len(capture.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(capture.Events))
	}

	event := capture.Events[0]
	// bare CBV words expand to the URN form
	if event.BusinessStep != "urn:epcglobal:cbv:bizstep:receiving" {
		t.Errorf("bizStep = %q", event.BusinessStep)
	}
	if event.ReadPoint != "urn:epc:id:sgln:8901213.00001.0" {
		t.Errorf("readPoint = %q", event.ReadPoint)
	}

	var lot, priority *epcis.Field
	for i := range event.Fields {
		switch event.Fields[i].Name {
		case "lot":
			lot = &event.Fields[i]
		case "priority":
			priority = &event.Fields[i]
		}
	}
	if lot == nil || lot.Type != epcis.FieldIlmd || lot.Namespace != "https://ns.example.com/epcis" {
		t.Fatalf("lot field = %+v", lot)
	}
	if priority == nil || priority.Type != epcis.FieldCustom {
		t.Fatalf("priority field = %+v", priority)
	}
	if priority.NumericValue == nil || *priority.NumericValue != 7 {
		t.Errorf("priority numeric = %v", priority.NumericValue)
	}
	if priority.TextValue == nil || *priority.TextValue != "7" {
		t.Errorf("priority text = %v", priority.TextValue)
	}
}

// The same logical event must hash identically whether it arrived as
// 1.2 XML or as 2.0 JSON-LD.
func TestHashStableAcrossFormats(t *testing.T) {
	fromXML, err := DecodeDocument("application/xml", strings.NewReader(objectEventXML), 0)
	if err != nil {
		t.Fatalf("xml decode failed: %+v", err)
	}

	equivalentJSON := `{
	  "@context": ["https://ref.gs1.org/standards/epcis/2.0.0/epcis-context.jsonld"],
	  "type": "EPCISDocument",
	  "schemaVersion": "2.0",
	  "epcisBody": {
	    "eventList": [
	      {
	        "type": "ObjectEvent",
	        "eventTime": "2025-01-15T10:30:00.000Z",
	        "eventTimeZoneOffset": "+00:00",
	        "epcList": ["urn:epc:id:sgtin:8901213.105919.000000"],
	        "action": "OBSERVE",
	        "bizStep": "receiving",
	        "readPoint": {"id": "urn:epc:id:sgln:8901213.00001.0"}
	      }
	    ]
	  }
	}`
	fromJSON, err := DecodeDocument("application/json", strings.NewReader(equivalentJSON), 0)
	if err != nil {
		t.Fatalf("json decode failed: %+v", err)
	}

	xmlHash := epcis.HashEvent(&fromXML.Events[0])
	jsonHash := epcis.HashEvent(&fromJSON.Events[0])
	if xmlHash != jsonHash {
		t.Errorf("hashes differ across formats:\n xml: %s\njson: %s", xmlHash, jsonHash)
	}
}

func TestDecodeJSONSensorReports(t *testing.T) {
	document := `{
	  "type": "EPCISDocument",
	  "schemaVersion": "2.0",
	  "epcisBody": {
	    "eventList": [
	      {
	        "type": "ObjectEvent",
	        "eventTime": "2025-04-01T06:00:00.000Z",
	        "eventTimeZoneOffset": "+00:00",
	        "epcList": ["urn:epc:id:sgtin:4012345.011111.99"],
	        "action": "OBSERVE",
	        "sensorElementList": [
	          {
	            "sensorMetadata": {"deviceID": "urn:epc:id:giai:4000001.111"},
	            "sensorReport": [
	              {"type": "Temperature", "value": 6, "uom": "CEL"},
	              {"type": "Humidity", "value": 51.5, "uom": "A93"}
	            ]
	          }
	        ]
	      }
	    ]
	  }
	}`

	capture, err := DecodeDocument("application/json", strings.NewReader(document), 0)
	if err != nil {
		t.Fatalf("decode failed: %+v", err)
	}

	event := capture.Events[0]
	if len(event.Reports) != 2 {
		t.Fatalf("reports = %+v", event.Reports)
	}
	if event.Reports[0].Type != "Temperature" || event.Reports[0].Value == nil || *event.Reports[0].Value != 6 {
		t.Errorf("first report = %+v", event.Reports[0])
	}
	if event.Reports[1].UnitOfMeasure != "A93" {
		t.Errorf("second report = %+v", event.Reports[1])
	}
}

func TestDecodeJSONRejectsWrongDocumentType(t *testing.T) {
	_, err := DecodeDocument("application/json", strings.NewReader(`{"type":"EPCISQueryDocument"}`), 0)
	if err == nil {
		t.Fatal("wrong document type accepted")
	}
}
