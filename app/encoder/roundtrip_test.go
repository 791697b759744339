/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package encoder

import (
	"bytes"
	"strings"
	"testing"

	"github.com/Robert-Freire/epcis/app/decoder"
	"github.com/Robert-Freire/epcis/app/epcis"
)

const richEventXML = `<?xml version="1.0" encoding="UTF-8"?>
<epcis:EPCISDocument xmlns:epcis="urn:epcglobal:epcis:xsd:1"
    xmlns:example="https://ns.example.com/epcis" schemaVersion="1.2" creationDate="2025-05-01T00:00:00.000Z">
  <EPCISBody><EventList>
    <ObjectEvent>
      <eventTime>2025-05-01T10:30:00.000Z</eventTime>
      <eventTimeZoneOffset>+00:00</eventTimeZoneOffset>
      <epcList><epc>urn:epc:id:sgtin:0614141.107346.2018</epc></epcList>
      <action>ADD</action>
      <bizStep>urn:epcglobal:cbv:bizstep:commissioning</bizStep>
      <disposition>urn:epcglobal:cbv:disp:active</disposition>
      <readPoint><id>urn:epc:id:sgln:0614141.00777.0</id></readPoint>
      <bizLocation><id>urn:epc:id:sgln:0614141.00888.0</id></bizLocation>
      <bizTransactionList>
        <bizTransaction type="urn:epcglobal:cbv:btt:po">urn:epc:id:gdti:0614141.00001.1618034</bizTransaction>
      </bizTransactionList>
      <extension>
        <quantityList>
          <quantityElement>
            <epcClass>urn:epc:class:lgtin:4012345.012345.998877</epcClass>
            <quantity>200.5</quantity>
            <uom>KGM</uom>
          </quantityElement>
        </quantityList>
        <sourceList>
          <source type="urn:epcglobal:cbv:sdt:possessing_party">urn:epc:id:pgln:9520001.11111</source>
        </sourceList>
        <ilmd>
          <example:lot sealed="true">LOT-42</example:lot>
          <example:quality>
            <example:grade>A</example:grade>
            <example:score>97.5</example:score>
          </example:quality>
        </ilmd>
      </extension>
      <example:priority>7</example:priority>
    </ObjectEvent>
  </EventList></EPCISBody>
</epcis:EPCISDocument>`

func decodeFixture(t *testing.T) *epcis.Capture {
	t.Helper()
	capture, err := decoder.DecodeDocument("application/xml", strings.NewReader(richEventXML), 0)
	if err != nil {
		t.Fatalf("decoding fixture: %+v", err)
	}
	return capture
}

// Re-encoding a decoded event and decoding it again must reproduce the
// identical canonical form, in both target formats. The content hash is
// the strictest practical equality: it covers every list, every field
// and the index structure.
func TestRoundTripXML(t *testing.T) {
	original := decodeFixture(t)
	originalHash := epcis.HashEvent(&original.Events[0])

	encoded, err := EncodeDocumentXML(original.Events, epcis.Version12)
	if err != nil {
		t.Fatalf("encode failed: %+v", err)
	}

	decoded, err := decoder.DecodeDocument("application/xml", bytes.NewReader(encoded), 0)
	if err != nil {
		t.Fatalf("re-decode failed: %+v\ndocument:\n%s", err, encoded)
	}
	if len(decoded.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(decoded.Events))
	}

	if roundTripped := epcis.HashEvent(&decoded.Events[0]); roundTripped != originalHash {
		t.Errorf("hash changed across XML round trip:\n was %s\n now %s\ndocument:\n%s",
			originalHash, roundTripped, encoded)
	}
}

func TestRoundTripJSON(t *testing.T) {
	original := decodeFixture(t)
	originalHash := epcis.HashEvent(&original.Events[0])

	encoded, err := EncodeDocumentJSON(original.Events)
	if err != nil {
		t.Fatalf("encode failed: %+v", err)
	}

	decoded, err := decoder.DecodeDocument("application/ld+json", bytes.NewReader(encoded), 0)
	if err != nil {
		t.Fatalf("re-decode failed: %+v\ndocument:\n%s", err, encoded)
	}

	if roundTripped := epcis.HashEvent(&decoded.Events[0]); roundTripped != originalHash {
		t.Errorf("hash changed across JSON round trip:\n was %s\n now %s\ndocument:\n%s",
			originalHash, roundTripped, encoded)
	}
}

func TestRoundTripVersionUpgrade(t *testing.T) {
	original := decodeFixture(t)

	// emitting the same canonical event in 2.0 must keep the content
	// hash stable too
	encoded, err := EncodeDocumentXML(original.Events, epcis.Version20)
	if err != nil {
		t.Fatalf("encode failed: %+v", err)
	}
	decoded, err := decoder.DecodeDocument("application/xml", bytes.NewReader(encoded), 0)
	if err != nil {
		t.Fatalf("re-decode failed: %+v\ndocument:\n%s", err, encoded)
	}

	if epcis.HashEvent(&decoded.Events[0]) != epcis.HashEvent(&original.Events[0]) {
		t.Error("hash changed when re-emitting as 2.0")
	}
}

func TestEncodeQueryResultsXMLShape(t *testing.T) {
	original := decodeFixture(t)
	encoded, err := EncodeQueryResultsXML(original.Events, epcis.SimpleEventQuery, epcis.Version20)
	if err != nil {
		t.Fatalf("encode failed: %+v", err)
	}

	document := string(encoded)
	for _, marker := range []string{"EPCISQueryDocument", "QueryResults", "SimpleEventQuery", "ObjectEvent"} {
		if !strings.Contains(document, marker) {
			t.Errorf("query results missing %q:\n%s", marker, document)
		}
	}
}
