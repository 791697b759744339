/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package decoder

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/Robert-Freire/epcis/app/epcis"
	"github.com/Robert-Freire/epcis/pkg/web"
)

// decodeJSON parses an EPCIS 2.0 JSON-LD document. The document's
// @context is consulted to rewrite prefixed custom property names to
// (namespace, localName) pairs before fields are formed.
func decodeJSON(data []byte) (*epcis.Capture, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(web.ErrInvalidInput, "malformed document: %s", err.Error())
	}

	if docType, _ := doc["type"].(string); docType != "EPCISDocument" {
		return nil, errors.Wrapf(web.ErrInvalidInput, "schema invalid: document type is %q, want EPCISDocument", docType)
	}

	namespaces := parseJSONContext(doc["@context"])

	capture := &epcis.Capture{
		SchemaVersion: stringValue(doc["schemaVersion"]),
		Namespaces:    namespaces,
	}
	if capture.SchemaVersion == "" {
		capture.SchemaVersion = epcis.Version20
	}
	if creation := stringValue(doc["creationDate"]); creation != "" {
		if created, ok := parseISOTime(creation); ok {
			capture.DocumentTime = created.UTC()
		}
	}

	if header, ok := doc["epcisHeader"].(map[string]interface{}); ok {
		parseJSONMasterData(header, capture)
	}

	body, ok := doc["epcisBody"].(map[string]interface{})
	if !ok {
		return nil, errors.Wrap(web.ErrInvalidInput, "schema invalid: epcisBody is missing")
	}
	eventList, _ := body["eventList"].([]interface{})

	for _, raw := range eventList {
		eventDoc, ok := raw.(map[string]interface{})
		if !ok {
			return nil, errors.Wrap(web.ErrInvalidInput, "schema invalid: eventList entries must be objects")
		}
		event, err := parseJSONEvent(eventDoc, namespaces)
		if err != nil {
			return nil, err
		}
		capture.Events = append(capture.Events, *event)
	}

	return capture, nil
}

// parseJSONContext collects prefix declarations from the @context, which
// may be a single string, an object, or an array of both.
func parseJSONContext(raw interface{}) map[string]string {
	namespaces := map[string]string{}

	var collect func(entry interface{})
	collect = func(entry interface{}) {
		switch value := entry.(type) {
		case []interface{}:
			for _, item := range value {
				collect(item)
			}
		case map[string]interface{}:
			for prefix, uri := range value {
				if strings.HasPrefix(prefix, "@") {
					continue
				}
				if uriString, ok := uri.(string); ok {
					namespaces[prefix] = uriString
				}
			}
		}
	}
	collect(raw)
	return namespaces
}

func parseJSONMasterData(header map[string]interface{}, capture *epcis.Capture) {
	masterData, ok := header["epcisMasterData"].(map[string]interface{})
	if !ok {
		return
	}
	vocabularyList, _ := masterData["vocabularyList"].([]interface{})
	for _, rawVocabulary := range vocabularyList {
		vocabulary, ok := rawVocabulary.(map[string]interface{})
		if !ok {
			continue
		}
		vocabType := stringValue(vocabulary["type"])
		elements, _ := vocabulary["vocabularyElementList"].([]interface{})
		for _, rawElement := range elements {
			element, ok := rawElement.(map[string]interface{})
			if !ok {
				continue
			}
			entry := epcis.MasterData{Type: vocabType, ID: stringValue(element["id"])}
			if attributes, ok := element["attributes"].([]interface{}); ok {
				for _, rawAttribute := range attributes {
					if attribute, ok := rawAttribute.(map[string]interface{}); ok {
						entry.Attributes = append(entry.Attributes, epcis.MasterDataAttribute{
							ID:    stringValue(attribute["id"]),
							Value: stringValue(attribute["attribute"]),
						})
					}
				}
			}
			if children, ok := element["children"].([]interface{}); ok {
				for _, child := range children {
					entry.Children = append(entry.Children, stringValue(child))
				}
			}
			capture.MasterData = append(capture.MasterData, entry)
		}
	}
}

// standardEventKeys are the JSON property names handled structurally;
// everything else on an event object is an extension field.
var standardEventKeys = map[string]bool{
	"@context": true, "type": true, "eventID": true, "eventId": true,
	"eventTime": true, "eventTimeZoneOffset": true, "recordTime": true,
	"action": true, "bizStep": true, "disposition": true,
	"readPoint": true, "bizLocation": true,
	"epcList": true, "childEPCs": true, "parentID": true,
	"inputEPCList": true, "outputEPCList": true,
	"quantityList": true, "inputQuantityList": true, "outputQuantityList": true,
	"bizTransactionList": true, "sourceList": true, "destinationList": true,
	"persistentDisposition": true, "sensorElementList": true,
	"errorDeclaration": true, "transformationID": true,
	"certificationInfo": true, "ilmd": true,
}

func parseJSONEvent(doc map[string]interface{}, namespaces map[string]string) (*epcis.Event, error) {
	event := &epcis.Event{Type: stringValue(doc["type"])}

	known := false
	for _, eventType := range epcis.EventTypes {
		if event.Type == eventType {
			known = true
			break
		}
	}
	if !known {
		return nil, errors.Wrapf(web.ErrInvalidInput, "schema invalid: unknown event type %q", event.Type)
	}

	builder := &fieldBuilder{}

	if eventID := stringValue(doc["eventID"]); eventID != "" {
		event.EventID = eventID
	} else {
		event.EventID = stringValue(doc["eventId"])
	}
	if eventTime, ok := parseISOTime(stringValue(doc["eventTime"])); ok {
		event.EventTime = eventTime.UTC()
	}
	event.EventTimeZoneOffset = stringValue(doc["eventTimeZoneOffset"])
	event.Action = stringValue(doc["action"])
	event.BusinessStep = expandCbv(cbvBizStep, stringValue(doc["bizStep"]))
	event.Disposition = expandCbv(cbvDisposition, stringValue(doc["disposition"]))
	event.ReadPoint = idValue(doc["readPoint"])
	event.BusinessLocation = idValue(doc["bizLocation"])
	event.TransformationID = stringValue(doc["transformationID"])
	event.CertificationInfo = stringValue(doc["certificationInfo"])

	if parentID := stringValue(doc["parentID"]); parentID != "" {
		event.Epcs = append(event.Epcs, epcis.Epc{Type: epcis.EpcParentID, ID: parentID})
	}
	appendJSONEpcs(event, doc["epcList"], epcis.EpcList)
	appendJSONEpcs(event, doc["childEPCs"], epcis.EpcChild)
	appendJSONEpcs(event, doc["inputEPCList"], epcis.EpcInput)
	appendJSONEpcs(event, doc["outputEPCList"], epcis.EpcOutput)
	appendJSONQuantities(event, doc["quantityList"])
	appendJSONQuantities(event, doc["inputQuantityList"])
	appendJSONQuantities(event, doc["outputQuantityList"])

	if txns, ok := doc["bizTransactionList"].([]interface{}); ok {
		for _, raw := range txns {
			if txn, ok := raw.(map[string]interface{}); ok {
				event.Transactions = append(event.Transactions, epcis.BusinessTransaction{
					Type: expandCbv(cbvBizTransact, stringValue(txn["type"])),
					ID:   stringValue(txn["bizTransaction"]),
				})
			}
		}
	}
	if sources, ok := doc["sourceList"].([]interface{}); ok {
		for _, raw := range sources {
			if src, ok := raw.(map[string]interface{}); ok {
				event.Sources = append(event.Sources, epcis.Source{
					Type: expandCbv(cbvSourceDest, stringValue(src["type"])),
					ID:   stringValue(src["source"]),
				})
			}
		}
	}
	if destinations, ok := doc["destinationList"].([]interface{}); ok {
		for _, raw := range destinations {
			if dst, ok := raw.(map[string]interface{}); ok {
				event.Destinations = append(event.Destinations, epcis.Destination{
					Type: expandCbv(cbvSourceDest, stringValue(dst["type"])),
					ID:   stringValue(dst["destination"]),
				})
			}
		}
	}
	if persistent, ok := doc["persistentDisposition"].(map[string]interface{}); ok {
		for _, kind := range []string{"set", "unset"} {
			if ids, ok := persistent[kind].([]interface{}); ok {
				for _, id := range ids {
					event.PersistentDispositions = append(event.PersistentDispositions, epcis.PersistentDisposition{
						Type: kind,
						ID:   expandCbv(cbvDisposition, stringValue(id)),
					})
				}
			}
		}
	}
	if declaration, ok := doc["errorDeclaration"].(map[string]interface{}); ok {
		if declared, ok := parseISOTime(stringValue(declaration["declarationTime"])); ok {
			utc := declared.UTC()
			event.CorrectiveDeclarationTime = &utc
		}
		event.CorrectiveReason = expandCbv(cbvErrorReason, stringValue(declaration["reason"]))
		if ids, ok := declaration["correctiveEventIDs"].([]interface{}); ok {
			for _, id := range ids {
				event.CorrectiveEventIDs = append(event.CorrectiveEventIDs, stringValue(id))
			}
		}
	}

	if ilmd, ok := doc["ilmd"].(map[string]interface{}); ok {
		for _, key := range sortedKeys(ilmd) {
			namespace, local := resolveJSONName(key, namespaces)
			walkJSONFields(builder, namespaces, namespace, local, ilmd[key], epcis.FieldIlmd, nil, nil)
		}
	}

	if sensorElements, ok := doc["sensorElementList"].([]interface{}); ok {
		parseJSONSensorElements(event, builder, sensorElements, namespaces)
	}

	// Remaining prefixed keys are event-level extension fields
	for _, key := range sortedKeys(doc) {
		if standardEventKeys[key] || strings.HasPrefix(key, "@") {
			continue
		}
		namespace, local := resolveJSONName(key, namespaces)
		if namespace == "" {
			continue
		}
		walkJSONFields(builder, namespaces, namespace, local, doc[key], epcis.FieldCustom, nil, nil)
	}

	event.Fields = builder.fields
	return event, nil
}

func appendJSONEpcs(event *epcis.Event, raw interface{}, epcType epcis.EpcType) {
	list, ok := raw.([]interface{})
	if !ok {
		return
	}
	for _, id := range list {
		event.Epcs = append(event.Epcs, epcis.Epc{Type: epcType, ID: stringValue(id)})
	}
}

func appendJSONQuantities(event *epcis.Event, raw interface{}) {
	list, ok := raw.([]interface{})
	if !ok {
		return
	}
	for _, rawElement := range list {
		element, ok := rawElement.(map[string]interface{})
		if !ok {
			continue
		}
		epc := epcis.Epc{Type: epcis.EpcQuantity, ID: stringValue(element["epcClass"])}
		if quantity, ok := element["quantity"].(float64); ok {
			epc.Quantity = &quantity
		}
		epc.UnitOfMeasure = stringValue(element["uom"])
		event.Epcs = append(event.Epcs, epc)
	}
}

var standardSensorMetadataKeys = map[string]bool{
	"time": true, "startTime": true, "endTime": true,
	"deviceID": true, "deviceMetadata": true, "rawData": true,
	"dataProcessingMethod": true, "bizRules": true,
}

var standardSensorReportKeys = map[string]bool{
	"type": true, "deviceID": true, "deviceMetadata": true, "rawData": true,
	"dataProcessingMethod": true, "time": true, "microorganism": true,
	"chemicalSubstance": true, "value": true, "stringValue": true,
	"booleanValue": true, "hexBinaryValue": true, "uriValue": true,
	"minValue": true, "maxValue": true, "meanValue": true, "sDev": true,
	"percRank": true, "percValue": true, "uom": true,
	"coordinateReferenceSystem": true,
}

func parseJSONSensorElements(event *epcis.Event, builder *fieldBuilder, list []interface{}, namespaces map[string]string) {
	for _, rawElement := range list {
		elementDoc, ok := rawElement.(map[string]interface{})
		if !ok {
			continue
		}

		element := epcis.SensorElement{Index: len(event.SensorElements)}
		entity := element.Index

		if metadata, ok := elementDoc["sensorMetadata"].(map[string]interface{}); ok {
			for _, key := range sortedKeys(metadata) {
				value := metadata[key]
				if !standardSensorMetadataKeys[key] {
					namespace, local := resolveJSONName(key, namespaces)
					if namespace != "" {
						builder.addAttributeRoot(namespace, local, jsonLeafText(value), epcis.FieldSensorElementExt, &entity)
					}
					continue
				}
				switch key {
				case "time":
					element.Time = jsonTime(value)
				case "startTime":
					element.StartTime = jsonTime(value)
				case "endTime":
					element.EndTime = jsonTime(value)
				case "deviceID":
					element.DeviceID = stringValue(value)
				case "deviceMetadata":
					element.DeviceMetadata = stringValue(value)
				case "rawData":
					element.RawData = stringValue(value)
				case "dataProcessingMethod":
					element.DataProcessingMethod = stringValue(value)
				case "bizRules":
					element.BizRules = stringValue(value)
				}
			}
		}

		if reports, ok := elementDoc["sensorReport"].([]interface{}); ok {
			for _, rawReport := range reports {
				reportDoc, ok := rawReport.(map[string]interface{})
				if !ok {
					continue
				}
				report := parseJSONSensorReport(builder, reportDoc, element.Index, len(event.Reports), namespaces)
				event.Reports = append(event.Reports, report)
			}
		}

		event.SensorElements = append(event.SensorElements, element)
	}
}

func parseJSONSensorReport(builder *fieldBuilder, doc map[string]interface{}, elementIndex, index int, namespaces map[string]string) epcis.SensorReport {
	report := epcis.SensorReport{Index: index, SensorIndex: elementIndex}
	entity := index

	number := func(value interface{}) *float64 {
		if parsed, ok := value.(float64); ok {
			return &parsed
		}
		return nil
	}

	for _, key := range sortedKeys(doc) {
		value := doc[key]
		if !standardSensorReportKeys[key] {
			namespace, local := resolveJSONName(key, namespaces)
			if namespace != "" {
				builder.addAttributeRoot(namespace, local, jsonLeafText(value), epcis.FieldSensorReportExt, &entity)
			}
			continue
		}
		switch key {
		case "type":
			report.Type = stringValue(value)
		case "deviceID":
			report.DeviceID = stringValue(value)
		case "deviceMetadata":
			report.DeviceMetadata = stringValue(value)
		case "rawData":
			report.RawData = stringValue(value)
		case "dataProcessingMethod":
			report.DataProcessingMethod = stringValue(value)
		case "time":
			report.Time = jsonTime(value)
		case "microorganism":
			report.Microorganism = stringValue(value)
		case "chemicalSubstance":
			report.ChemicalSubstance = stringValue(value)
		case "value":
			report.Value = number(value)
		case "stringValue":
			report.StringValue = stringValue(value)
		case "booleanValue":
			if parsed, ok := value.(bool); ok {
				report.BooleanValue = &parsed
			}
		case "hexBinaryValue":
			report.HexBinaryValue = stringValue(value)
		case "uriValue":
			report.URIValue = stringValue(value)
		case "minValue":
			report.MinValue = number(value)
		case "maxValue":
			report.MaxValue = number(value)
		case "meanValue":
			report.MeanValue = number(value)
		case "sDev":
			report.SDev = number(value)
		case "percRank":
			report.PercRank = number(value)
		case "percValue":
			report.PercValue = number(value)
		case "uom":
			report.UnitOfMeasure = stringValue(value)
		case "coordinateReferenceSystem":
			report.CoordinateReferenceSystem = stringValue(value)
		}
	}
	return report
}

// walkJSONFields flattens one extension value depth-first. Object keys
// starting with @ become attributes of the element; arrays repeat the
// element name per item. Unprefixed children inherit the parent's
// namespace.
func walkJSONFields(builder *fieldBuilder, namespaces map[string]string, namespace, name string, value interface{}, fieldType epcis.FieldType, parentIndex, entityIndex *int) {
	switch typed := value.(type) {
	case []interface{}:
		for _, item := range typed {
			walkJSONFields(builder, namespaces, namespace, name, item, fieldType, parentIndex, entityIndex)
		}
	case map[string]interface{}:
		// @value carries the element text when attributes forced the
		// scalar into object form
		text := ""
		if raw, ok := typed["@value"]; ok {
			text = jsonLeafText(raw)
		}
		index := builder.addElement(fieldType, namespace, name, text, parentIndex, entityIndex)
		for _, key := range sortedKeys(typed) {
			child := typed[key]
			if key == "@value" {
				continue
			}
			if strings.HasPrefix(key, "@") {
				builder.addAttribute(namespace, strings.TrimPrefix(key, "@"), jsonLeafText(child), index, entityIndex)
				continue
			}
			childNamespace, childName := resolveJSONName(key, namespaces)
			if childNamespace == "" {
				childNamespace = namespace
			}
			walkJSONFields(builder, namespaces, childNamespace, childName, child, fieldType, &index, entityIndex)
		}
	default:
		builder.addElement(fieldType, namespace, name, jsonLeafText(value), parentIndex, entityIndex)
	}
}

// resolveJSONName rewrites a prefixed property to (namespace, local) via
// the document context. Unprefixed names resolve to no namespace.
func resolveJSONName(key string, namespaces map[string]string) (string, string) {
	prefix, local := splitQualified(key)
	if prefix == "" {
		return "", local
	}
	if uri, ok := namespaces[prefix]; ok {
		return uri, local
	}
	return prefix, local
}

func stringValue(raw interface{}) string {
	if value, ok := raw.(string); ok {
		return value
	}
	return ""
}

// idValue accepts both the string and the {"id": ...} renderings used
// for readPoint and bizLocation.
func idValue(raw interface{}) string {
	switch value := raw.(type) {
	case string:
		return value
	case map[string]interface{}:
		return stringValue(value["id"])
	}
	return ""
}

func jsonTime(raw interface{}) *time.Time {
	if parsed, ok := parseISOTime(stringValue(raw)); ok {
		utc := parsed.UTC()
		return &utc
	}
	return nil
}

// jsonLeafText renders a scalar the way the XML decoder would have seen
// it, so value slots fill identically across formats.
func jsonLeafText(raw interface{}) string {
	switch value := raw.(type) {
	case string:
		return value
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(value)
	case nil:
		return ""
	}
	return ""
}

func sortedKeys(doc map[string]interface{}) []string {
	keys := make([]string, 0, len(doc))
	for key := range doc {
		keys = append(keys, key)
	}
	// deterministic field indexes across runs
	sort.Strings(keys)
	return keys
}
