/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package encoder

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/Robert-Freire/epcis/app/epcis"
)

const jsonLdContext = "https://ref.gs1.org/standards/epcis/2.0.0/epcis-context.jsonld"

// EncodeDocumentJSON renders events as an EPCIS 2.0 JSON-LD document.
// Every extension namespace gets one prefix declared in @context.
func EncodeDocumentJSON(events []epcis.Event) ([]byte, error) {
	prefixes := namespacePrefixes(events)

	document := map[string]interface{}{
		"@context":      jsonContext(prefixes),
		"type":          "EPCISDocument",
		"schemaVersion": epcis.Version20,
		"creationDate":  renderTime(time.Now()),
		"epcisBody": map[string]interface{}{
			"eventList": jsonEvents(events, prefixes),
		},
	}

	encoded, err := json.MarshalIndent(document, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encoding JSON-LD document")
	}
	return encoded, nil
}

// EncodeQueryResultsJSON renders the EPCIS 2.0 query results body.
func EncodeQueryResultsJSON(events []epcis.Event, queryName, nextPageToken string) ([]byte, error) {
	prefixes := namespacePrefixes(events)

	results := map[string]interface{}{
		"@context":     jsonContext(prefixes),
		"type":         "EPCISQueryDocument",
		"creationDate": renderTime(time.Now()),
		"epcisBody": map[string]interface{}{
			"queryResults": map[string]interface{}{
				"queryName": queryName,
				"resultsBody": map[string]interface{}{
					"eventList": jsonEvents(events, prefixes),
				},
			},
		},
	}
	if nextPageToken != "" {
		results["nextPageToken"] = nextPageToken
	}

	encoded, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encoding query results")
	}
	return encoded, nil
}

func jsonContext(prefixes map[string]string) []interface{} {
	context := []interface{}{jsonLdContext}
	if len(prefixes) > 0 {
		extension := map[string]interface{}{}
		for namespace, prefix := range prefixes {
			extension[prefix] = namespace
		}
		context = append(context, extension)
	}
	return context
}

func jsonEvents(events []epcis.Event, prefixes map[string]string) []interface{} {
	out := make([]interface{}, 0, len(events))
	for i := range events {
		out = append(out, jsonEvent(&events[i], prefixes))
	}
	return out
}

func jsonEvent(event *epcis.Event, prefixes map[string]string) map[string]interface{} {
	doc := map[string]interface{}{
		"type":                event.Type,
		"eventTime":           renderTime(event.EventTime),
		"eventTimeZoneOffset": event.EventTimeZoneOffset,
	}
	if event.EventID != "" {
		doc["eventID"] = event.EventID
	}
	if !event.RecordTime.IsZero() {
		doc["recordTime"] = renderTime(event.RecordTime)
	}
	if event.Action != "" {
		doc["action"] = event.Action
	}
	if event.BusinessStep != "" {
		doc["bizStep"] = event.BusinessStep
	}
	if event.Disposition != "" {
		doc["disposition"] = event.Disposition
	}
	if event.ReadPoint != "" {
		doc["readPoint"] = map[string]interface{}{"id": event.ReadPoint}
	}
	if event.BusinessLocation != "" {
		doc["bizLocation"] = map[string]interface{}{"id": event.BusinessLocation}
	}
	if event.TransformationID != "" {
		doc["transformationID"] = event.TransformationID
	}
	if event.CertificationInfo != "" {
		doc["certificationInfo"] = event.CertificationInfo
	}

	addEpcList(doc, event, epcis.EpcList, "epcList")
	addEpcList(doc, event, epcis.EpcChild, "childEPCs")
	addEpcList(doc, event, epcis.EpcInput, "inputEPCList")
	addEpcList(doc, event, epcis.EpcOutput, "outputEPCList")
	for _, epc := range event.EpcsOfType(epcis.EpcParentID) {
		doc["parentID"] = epc.ID
		break
	}
	if quantities := event.EpcsOfType(epcis.EpcQuantity); len(quantities) > 0 {
		list := make([]interface{}, 0, len(quantities))
		for _, epc := range quantities {
			element := map[string]interface{}{"epcClass": epc.ID}
			if epc.Quantity != nil {
				element["quantity"] = *epc.Quantity
			}
			if epc.UnitOfMeasure != "" {
				element["uom"] = epc.UnitOfMeasure
			}
			list = append(list, element)
		}
		doc["quantityList"] = list
	}

	if len(event.Transactions) > 0 {
		list := make([]interface{}, 0, len(event.Transactions))
		for _, txn := range event.Transactions {
			list = append(list, map[string]interface{}{"type": txn.Type, "bizTransaction": txn.ID})
		}
		doc["bizTransactionList"] = list
	}
	if len(event.Sources) > 0 {
		list := make([]interface{}, 0, len(event.Sources))
		for _, src := range event.Sources {
			list = append(list, map[string]interface{}{"type": src.Type, "source": src.ID})
		}
		doc["sourceList"] = list
	}
	if len(event.Destinations) > 0 {
		list := make([]interface{}, 0, len(event.Destinations))
		for _, dst := range event.Destinations {
			list = append(list, map[string]interface{}{"type": dst.Type, "destination": dst.ID})
		}
		doc["destinationList"] = list
	}
	if len(event.PersistentDispositions) > 0 {
		persistent := map[string]interface{}{}
		for _, pd := range event.PersistentDispositions {
			ids, _ := persistent[pd.Type].([]interface{})
			persistent[pd.Type] = append(ids, pd.ID)
		}
		doc["persistentDisposition"] = persistent
	}

	if event.CorrectiveDeclarationTime != nil || event.CorrectiveReason != "" || len(event.CorrectiveEventIDs) > 0 {
		declaration := map[string]interface{}{}
		if event.CorrectiveDeclarationTime != nil {
			declaration["declarationTime"] = renderTime(*event.CorrectiveDeclarationTime)
		}
		if event.CorrectiveReason != "" {
			declaration["reason"] = event.CorrectiveReason
		}
		if len(event.CorrectiveEventIDs) > 0 {
			ids := make([]interface{}, 0, len(event.CorrectiveEventIDs))
			for _, id := range event.CorrectiveEventIDs {
				ids = append(ids, id)
			}
			declaration["correctiveEventIDs"] = ids
		}
		doc["errorDeclaration"] = declaration
	}

	if ilmd := jsonFieldObject(buildFieldTrees(event.Fields, map[epcis.FieldType]bool{epcis.FieldIlmd: true}, nil), prefixes); len(ilmd) > 0 {
		doc["ilmd"] = ilmd
	}
	for key, value := range jsonFieldObject(buildFieldTrees(event.Fields, map[epcis.FieldType]bool{epcis.FieldCustom: true}, nil), prefixes) {
		doc[key] = value
	}

	if len(event.SensorElements) > 0 {
		doc["sensorElementList"] = jsonSensorElements(event, prefixes)
	}

	return doc
}

func addEpcList(doc map[string]interface{}, event *epcis.Event, epcType epcis.EpcType, key string) {
	epcs := event.EpcsOfType(epcType)
	if len(epcs) == 0 {
		return
	}
	ids := make([]interface{}, 0, len(epcs))
	for _, epc := range epcs {
		ids = append(ids, epc.ID)
	}
	doc[key] = ids
}

// jsonFieldObject renders reconstructed field trees as a JSON object.
// Repeated sibling names collapse into arrays; attributes re-emerge as
// @-prefixed keys.
func jsonFieldObject(nodes []*fieldNode, prefixes map[string]string) map[string]interface{} {
	out := map[string]interface{}{}
	for _, node := range nodes {
		key := prefixedName(node.field, prefixes)
		value := jsonFieldValue(node, prefixes)
		if existing, ok := out[key]; ok {
			if list, isList := existing.([]interface{}); isList {
				out[key] = append(list, value)
			} else {
				out[key] = []interface{}{existing, value}
			}
			continue
		}
		out[key] = value
	}
	return out
}

func jsonFieldValue(node *fieldNode, prefixes map[string]string) interface{} {
	if len(node.children) == 0 && len(node.attributes) == 0 {
		return fieldText(node.field)
	}

	out := map[string]interface{}{}
	for _, attribute := range node.attributes {
		out["@"+attribute.Name] = fieldText(attribute)
	}
	if len(node.children) > 0 {
		for key, value := range jsonFieldObject(node.children, prefixes) {
			out[key] = value
		}
	} else if text := fieldText(node.field); text != "" {
		out["@value"] = text
	}
	return out
}

func jsonSensorElements(event *epcis.Event, prefixes map[string]string) []interface{} {
	out := make([]interface{}, 0, len(event.SensorElements))

	for _, element := range event.SensorElements {
		elementDoc := map[string]interface{}{}

		metadata := map[string]interface{}{}
		if element.Time != nil {
			metadata["time"] = renderTime(*element.Time)
		}
		if element.StartTime != nil {
			metadata["startTime"] = renderTime(*element.StartTime)
		}
		if element.EndTime != nil {
			metadata["endTime"] = renderTime(*element.EndTime)
		}
		setString(metadata, "deviceID", element.DeviceID)
		setString(metadata, "deviceMetadata", element.DeviceMetadata)
		setString(metadata, "rawData", element.RawData)
		setString(metadata, "dataProcessingMethod", element.DataProcessingMethod)
		setString(metadata, "bizRules", element.BizRules)
		for _, field := range entityAttributes(event.Fields, epcis.FieldSensorElementExt, element.Index) {
			metadata[prefixedName(field, prefixes)] = fieldText(field)
		}
		if len(metadata) > 0 {
			elementDoc["sensorMetadata"] = metadata
		}

		var reports []interface{}
		for _, report := range event.Reports {
			if report.SensorIndex != element.Index {
				continue
			}
			reports = append(reports, jsonSensorReport(event, &report, prefixes))
		}
		if len(reports) > 0 {
			elementDoc["sensorReport"] = reports
		}

		out = append(out, elementDoc)
	}
	return out
}

func jsonSensorReport(event *epcis.Event, report *epcis.SensorReport, prefixes map[string]string) map[string]interface{} {
	doc := map[string]interface{}{}
	setString(doc, "type", report.Type)
	setString(doc, "deviceID", report.DeviceID)
	setString(doc, "deviceMetadata", report.DeviceMetadata)
	setString(doc, "rawData", report.RawData)
	setString(doc, "dataProcessingMethod", report.DataProcessingMethod)
	if report.Time != nil {
		doc["time"] = renderTime(*report.Time)
	}
	setString(doc, "microorganism", report.Microorganism)
	setString(doc, "chemicalSubstance", report.ChemicalSubstance)
	setNumber(doc, "value", report.Value)
	setString(doc, "stringValue", report.StringValue)
	if report.BooleanValue != nil {
		doc["booleanValue"] = *report.BooleanValue
	}
	setString(doc, "hexBinaryValue", report.HexBinaryValue)
	setString(doc, "uriValue", report.URIValue)
	setNumber(doc, "minValue", report.MinValue)
	setNumber(doc, "maxValue", report.MaxValue)
	setNumber(doc, "meanValue", report.MeanValue)
	setNumber(doc, "sDev", report.SDev)
	setNumber(doc, "percRank", report.PercRank)
	setNumber(doc, "percValue", report.PercValue)
	setString(doc, "uom", report.UnitOfMeasure)
	setString(doc, "coordinateReferenceSystem", report.CoordinateReferenceSystem)
	for _, field := range entityAttributes(event.Fields, epcis.FieldSensorReportExt, report.Index) {
		doc[prefixedName(field, prefixes)] = fieldText(field)
	}
	return doc
}

func setString(doc map[string]interface{}, key, value string) {
	if value != "" {
		doc[key] = value
	}
}

func setNumber(doc map[string]interface{}, key string, value *float64) {
	if value != nil {
		doc[key] = *value
	}
}
