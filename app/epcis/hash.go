/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package epcis

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// HashEvent derives a stable event id from the canonical form of the
// event, so that the same logical event hashes identically no matter
// which input format carried it. The returned URI has the shape
// ni:///sha-256;<base64url-no-pad>?ver=CBV2.0
func HashEvent(event *Event) string {
	canonical := canonicalForm(event)
	sum := sha256.Sum256([]byte(canonical))
	digest := base64.RawURLEncoding.EncodeToString(sum[:])
	return fmt.Sprintf("ni:///sha-256;%s?ver=CBV2.0", digest)
}

// canonicalForm renders the event as one key=value pair per line, keys
// sorted lexicographically, set-valued children sorted by their canonical
// string. recordTime, tenant and storage ids are not content and are
// excluded, as is the eventId itself.
func canonicalForm(event *Event) string {
	lines := make([]string, 0, 16)

	add := func(key, value string) {
		if value == "" {
			return
		}
		lines = append(lines, key+"="+value)
	}

	add("action", event.Action)
	add("bizLocation", event.BusinessLocation)
	add("bizStep", event.BusinessStep)
	add("certificationInfo", event.CertificationInfo)
	if event.CorrectiveDeclarationTime != nil {
		add("correctiveDeclarationTime", canonicalTime(*event.CorrectiveDeclarationTime))
	}
	for i, id := range sortedStrings(event.CorrectiveEventIDs) {
		add("correctiveEventId."+strconv.Itoa(i), id)
	}
	add("correctiveReason", event.CorrectiveReason)
	add("disposition", event.Disposition)
	add("eventTime", canonicalTime(event.EventTime))
	add("eventTimeZoneOffset", event.EventTimeZoneOffset)
	add("readPoint", event.ReadPoint)
	add("transformationId", event.TransformationID)
	add("type", event.Type)

	for i, epc := range sortedCanonical(canonicalEpcs(event.Epcs)) {
		add("epc."+strconv.Itoa(i), epc)
	}
	for i, txn := range sortedCanonical(canonicalPairs("type", "id", transactionPairs(event.Transactions))) {
		add("bizTransaction."+strconv.Itoa(i), txn)
	}
	for i, src := range sortedCanonical(canonicalPairs("type", "id", sourcePairs(event.Sources))) {
		add("source."+strconv.Itoa(i), src)
	}
	for i, dst := range sortedCanonical(canonicalPairs("type", "id", destinationPairs(event.Destinations))) {
		add("destination."+strconv.Itoa(i), dst)
	}
	for i, pd := range sortedCanonical(canonicalPairs("type", "id", dispositionPairs(event.PersistentDispositions))) {
		add("persistentDisposition."+strconv.Itoa(i), pd)
	}

	// Sensor elements and reports keep document order: their index is part
	// of the content
	for _, element := range event.SensorElements {
		add(fmt.Sprintf("sensorElement.%d", element.Index), canonicalSensorElement(element))
	}
	for _, report := range event.Reports {
		add(fmt.Sprintf("sensorReport.%d.%d", report.SensorIndex, report.Index), canonicalSensorReport(report))
	}

	// Fields keep DFS order; index and parentIndex are part of the content
	for _, field := range event.Fields {
		add(fmt.Sprintf("field.%d", field.Index), canonicalField(field))
	}

	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

func canonicalTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// canonicalNumber renders without exponent, without trailing fractional
// zeros and with a leading zero on fractions.
func canonicalNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func canonicalEpcs(epcs []Epc) []string {
	out := make([]string, 0, len(epcs))
	for _, epc := range epcs {
		parts := []string{"type:" + string(epc.Type), "id:" + epc.ID}
		if epc.Quantity != nil {
			parts = append(parts, "quantity:"+canonicalNumber(*epc.Quantity))
		}
		if epc.UnitOfMeasure != "" {
			parts = append(parts, "uom:"+epc.UnitOfMeasure)
		}
		out = append(out, strings.Join(parts, ";"))
	}
	return out
}

func canonicalPairs(typeKey, idKey string, pairs [][2]string) []string {
	out := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		out = append(out, typeKey+":"+pair[0]+";"+idKey+":"+pair[1])
	}
	return out
}

func transactionPairs(txns []BusinessTransaction) [][2]string {
	out := make([][2]string, 0, len(txns))
	for _, txn := range txns {
		out = append(out, [2]string{txn.Type, txn.ID})
	}
	return out
}

func sourcePairs(sources []Source) [][2]string {
	out := make([][2]string, 0, len(sources))
	for _, src := range sources {
		out = append(out, [2]string{src.Type, src.ID})
	}
	return out
}

func destinationPairs(destinations []Destination) [][2]string {
	out := make([][2]string, 0, len(destinations))
	for _, dst := range destinations {
		out = append(out, [2]string{dst.Type, dst.ID})
	}
	return out
}

func dispositionPairs(dispositions []PersistentDisposition) [][2]string {
	out := make([][2]string, 0, len(dispositions))
	for _, pd := range dispositions {
		out = append(out, [2]string{pd.Type, pd.ID})
	}
	return out
}

func canonicalSensorElement(element SensorElement) string {
	parts := make([]string, 0, 8)
	appendPart := func(key, value string) {
		if value != "" {
			parts = append(parts, key+":"+value)
		}
	}
	if element.Time != nil {
		appendPart("time", canonicalTime(*element.Time))
	}
	appendPart("deviceId", element.DeviceID)
	appendPart("deviceMetadata", element.DeviceMetadata)
	appendPart("rawData", element.RawData)
	appendPart("dataProcessingMethod", element.DataProcessingMethod)
	appendPart("bizRules", element.BizRules)
	if element.StartTime != nil {
		appendPart("startTime", canonicalTime(*element.StartTime))
	}
	if element.EndTime != nil {
		appendPart("endTime", canonicalTime(*element.EndTime))
	}
	return strings.Join(parts, ";")
}

func canonicalSensorReport(report SensorReport) string {
	parts := make([]string, 0, 12)
	appendPart := func(key, value string) {
		if value != "" {
			parts = append(parts, key+":"+value)
		}
	}
	appendNumber := func(key string, value *float64) {
		if value != nil {
			appendPart(key, canonicalNumber(*value))
		}
	}
	appendPart("type", report.Type)
	appendPart("deviceId", report.DeviceID)
	appendPart("deviceMetadata", report.DeviceMetadata)
	appendPart("rawData", report.RawData)
	appendPart("dataProcessingMethod", report.DataProcessingMethod)
	if report.Time != nil {
		appendPart("time", canonicalTime(*report.Time))
	}
	appendPart("microorganism", report.Microorganism)
	appendPart("chemicalSubstance", report.ChemicalSubstance)
	appendNumber("value", report.Value)
	appendPart("stringValue", report.StringValue)
	if report.BooleanValue != nil {
		appendPart("booleanValue", strconv.FormatBool(*report.BooleanValue))
	}
	appendPart("hexBinaryValue", report.HexBinaryValue)
	appendPart("uriValue", report.URIValue)
	appendNumber("minValue", report.MinValue)
	appendNumber("maxValue", report.MaxValue)
	appendNumber("meanValue", report.MeanValue)
	appendNumber("sDev", report.SDev)
	appendNumber("percRank", report.PercRank)
	appendNumber("percValue", report.PercValue)
	appendPart("uom", report.UnitOfMeasure)
	appendPart("coordinateReferenceSystem", report.CoordinateReferenceSystem)
	return strings.Join(parts, ";")
}

func canonicalField(field Field) string {
	parts := make([]string, 0, 8)
	parts = append(parts, "type:"+string(field.Type))
	if field.Namespace != "" {
		parts = append(parts, "namespace:"+field.Namespace)
	}
	parts = append(parts, "name:"+field.Name)
	if field.TextValue != nil {
		parts = append(parts, "text:"+*field.TextValue)
	}
	if field.NumericValue != nil {
		parts = append(parts, "numeric:"+canonicalNumber(*field.NumericValue))
	}
	if field.DateValue != nil {
		parts = append(parts, "date:"+canonicalTime(*field.DateValue))
	}
	if field.ParentIndex != nil {
		parts = append(parts, "parent:"+strconv.Itoa(*field.ParentIndex))
	}
	if field.EntityIndex != nil {
		parts = append(parts, "entity:"+strconv.Itoa(*field.EntityIndex))
	}
	return strings.Join(parts, ";")
}

func sortedStrings(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

func sortedCanonical(in []string) []string {
	sort.Strings(in)
	return in
}
