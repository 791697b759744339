/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package encoder

import (
	"bytes"
	"encoding/xml"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/Robert-Freire/epcis/app/epcis"
)

const (
	namespaceEpcis1      = "urn:epcglobal:epcis:xsd:1"
	namespaceEpcis2      = "urn:epcglobal:epcis:xsd:2"
	namespaceEpcisQuery1 = "urn:epcglobal:epcis-query:xsd:1"

	timeLayout = "2006-01-02T15:04:05.000Z"
)

// xmlWriter is a thin token-emitting shim over encoding/xml so element
// text is escaped for free. The first error sticks.
type xmlWriter struct {
	encoder *xml.Encoder
	err     error
}

func newXMLWriter(buffer *bytes.Buffer) *xmlWriter {
	encoder := xml.NewEncoder(buffer)
	encoder.Indent("", "  ")
	return &xmlWriter{encoder: encoder}
}

func (writer *xmlWriter) start(name string, attrs ...xml.Attr) {
	if writer.err != nil {
		return
	}
	writer.err = writer.encoder.EncodeToken(xml.StartElement{Name: xml.Name{Local: name}, Attr: attrs})
}

func (writer *xmlWriter) end(name string) {
	if writer.err != nil {
		return
	}
	writer.err = writer.encoder.EncodeToken(xml.EndElement{Name: xml.Name{Local: name}})
}

func (writer *xmlWriter) text(value string) {
	if writer.err != nil {
		return
	}
	writer.err = writer.encoder.EncodeToken(xml.CharData(value))
}

// element emits <name>text</name>, skipping empty text entirely.
func (writer *xmlWriter) element(name, text string) {
	if text == "" {
		return
	}
	writer.start(name)
	writer.text(text)
	writer.end(name)
}

func (writer *xmlWriter) flush() error {
	if writer.err != nil {
		return writer.err
	}
	return writer.encoder.Flush()
}

func attr(name, value string) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: name}, Value: value}
}

func renderTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func renderNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// EncodeDocumentXML renders events as a full EPCISDocument in the given
// schema version ("1.2" or "2.0").
func EncodeDocumentXML(events []epcis.Event, version string) ([]byte, error) {
	prefixes := namespacePrefixes(events)

	var buffer bytes.Buffer
	writer := newXMLWriter(&buffer)

	namespace := namespaceEpcis2
	if version != epcis.Version20 {
		namespace = namespaceEpcis1
	}

	rootAttrs := []xml.Attr{
		attr("xmlns:epcis", namespace),
		attr("schemaVersion", version),
		attr("creationDate", renderTime(time.Now())),
	}
	for namespaceURI, prefix := range prefixes {
		rootAttrs = append(rootAttrs, attr("xmlns:"+prefix, namespaceURI))
	}

	writer.start("epcis:EPCISDocument", rootAttrs...)
	writer.start("EPCISBody")
	writer.start("EventList")
	for i := range events {
		writeXMLEvent(writer, &events[i], version, prefixes)
	}
	writer.end("EventList")
	writer.end("EPCISBody")
	writer.end("epcis:EPCISDocument")

	if err := writer.flush(); err != nil {
		return nil, errors.Wrap(err, "encoding XML document")
	}
	return buffer.Bytes(), nil
}

// EncodeQueryResultsXML renders an EPCISQueryDocument around the events,
// the body GET /events returns for XML accepts.
func EncodeQueryResultsXML(events []epcis.Event, queryName string, version string) ([]byte, error) {
	prefixes := namespacePrefixes(events)

	var buffer bytes.Buffer
	writer := newXMLWriter(&buffer)

	rootAttrs := []xml.Attr{
		attr("xmlns:epcisq", namespaceEpcisQuery1),
		attr("creationDate", renderTime(time.Now())),
	}
	for namespaceURI, prefix := range prefixes {
		rootAttrs = append(rootAttrs, attr("xmlns:"+prefix, namespaceURI))
	}

	writer.start("epcisq:EPCISQueryDocument", rootAttrs...)
	writer.start("EPCISBody")
	writer.start("epcisq:QueryResults")
	writer.element("queryName", queryName)
	writer.start("resultsBody")
	writer.start("EventList")
	for i := range events {
		writeXMLEvent(writer, &events[i], version, prefixes)
	}
	writer.end("EventList")
	writer.end("resultsBody")
	writer.end("epcisq:QueryResults")
	writer.end("EPCISBody")
	writer.end("epcisq:EPCISQueryDocument")

	if err := writer.flush(); err != nil {
		return nil, errors.Wrap(err, "encoding query results")
	}
	return buffer.Bytes(), nil
}

// writeXMLEvent emits one event. In 1.2, TransformationEvent sits inside
// an extension wrapper and the 2.0-only structures are emitted inside
// extension elements so nothing is lost across versions.
func writeXMLEvent(writer *xmlWriter, event *epcis.Event, version string, prefixes map[string]string) {
	legacy := version != epcis.Version20

	wrapped := legacy && event.Type == epcis.TransformationEvent
	if wrapped {
		writer.start("extension")
	}

	writer.start(event.Type)

	writer.element("eventTime", renderTime(event.EventTime))
	if !event.RecordTime.IsZero() {
		writer.element("recordTime", renderTime(event.RecordTime))
	}
	writer.element("eventTimeZoneOffset", event.EventTimeZoneOffset)

	hasDeclaration := event.CorrectiveDeclarationTime != nil || event.CorrectiveReason != "" || len(event.CorrectiveEventIDs) > 0
	if event.EventID != "" || hasDeclaration {
		if legacy {
			writer.start("baseExtension")
			writer.element("eventID", event.EventID)
			writeErrorDeclaration(writer, event)
			writer.end("baseExtension")
		} else {
			writer.element("eventID", event.EventID)
			writeErrorDeclaration(writer, event)
		}
	}

	switch event.Type {
	case epcis.AggregationEvent:
		writeEpcValue(writer, event, epcis.EpcParentID, "parentID")
		writeEpcList(writer, event, epcis.EpcChild, "childEPCs")
	case epcis.TransformationEvent:
		writeEpcList(writer, event, epcis.EpcInput, "inputEPCList")
		writeEpcList(writer, event, epcis.EpcOutput, "outputEPCList")
	case epcis.QuantityEvent:
		writeQuantityEvent(writer, event)
	default:
		writeEpcList(writer, event, epcis.EpcList, "epcList")
	}

	writer.element("action", event.Action)
	writer.element("bizStep", event.BusinessStep)
	writer.element("disposition", event.Disposition)

	if event.ReadPoint != "" {
		writer.start("readPoint")
		writer.element("id", event.ReadPoint)
		writer.end("readPoint")
	}
	if event.BusinessLocation != "" {
		writer.start("bizLocation")
		writer.element("id", event.BusinessLocation)
		writer.end("bizLocation")
	}

	if len(event.Transactions) > 0 {
		writer.start("bizTransactionList")
		for _, txn := range event.Transactions {
			writer.start("bizTransaction", attr("type", txn.Type))
			writer.text(txn.ID)
			writer.end("bizTransaction")
		}
		writer.end("bizTransactionList")
	}

	writer.element("transformationID", event.TransformationID)

	// structures that 1.2 hosts under the event extension element
	if legacy {
		writer.start("extension")
	}

	writeQuantityList(writer, event)
	writeSourceDest(writer, event)
	writeIlmd(writer, event, prefixes)
	writeSensorElements(writer, event, prefixes)
	writePersistentDisposition(writer, event)
	writer.element("certificationInfo", event.CertificationInfo)

	if legacy {
		writer.end("extension")
	}

	// event-level extension fields
	for _, node := range buildFieldTrees(event.Fields, map[epcis.FieldType]bool{epcis.FieldCustom: true}, nil) {
		writeFieldNode(writer, node, prefixes)
	}

	writer.end(event.Type)
	if wrapped {
		writer.end("extension")
	}
}

func writeErrorDeclaration(writer *xmlWriter, event *epcis.Event) {
	if event.CorrectiveDeclarationTime == nil && event.CorrectiveReason == "" && len(event.CorrectiveEventIDs) == 0 {
		return
	}
	writer.start("errorDeclaration")
	if event.CorrectiveDeclarationTime != nil {
		writer.element("declarationTime", renderTime(*event.CorrectiveDeclarationTime))
	}
	writer.element("reason", event.CorrectiveReason)
	if len(event.CorrectiveEventIDs) > 0 {
		writer.start("correctiveEventIDs")
		for _, id := range event.CorrectiveEventIDs {
			writer.element("correctiveEventID", id)
		}
		writer.end("correctiveEventIDs")
	}
	writer.end("errorDeclaration")
}

func writeEpcList(writer *xmlWriter, event *epcis.Event, epcType epcis.EpcType, element string) {
	epcs := event.EpcsOfType(epcType)
	if len(epcs) == 0 {
		return
	}
	writer.start(element)
	for _, epc := range epcs {
		writer.element("epc", epc.ID)
	}
	writer.end(element)
}

func writeEpcValue(writer *xmlWriter, event *epcis.Event, epcType epcis.EpcType, element string) {
	for _, epc := range event.EpcsOfType(epcType) {
		writer.element(element, epc.ID)
		return
	}
}

func writeQuantityEvent(writer *xmlWriter, event *epcis.Event) {
	for _, epc := range event.EpcsOfType(epcis.EpcQuantity) {
		writer.element("epcClass", epc.ID)
		if epc.Quantity != nil {
			writer.element("quantity", renderNumber(*epc.Quantity))
		}
		return
	}
}

func writeQuantityList(writer *xmlWriter, event *epcis.Event) {
	if event.Type == epcis.QuantityEvent {
		return
	}
	quantities := event.EpcsOfType(epcis.EpcQuantity)
	if len(quantities) == 0 {
		return
	}
	writer.start("quantityList")
	for _, epc := range quantities {
		writer.start("quantityElement")
		writer.element("epcClass", epc.ID)
		if epc.Quantity != nil {
			writer.element("quantity", renderNumber(*epc.Quantity))
		}
		writer.element("uom", epc.UnitOfMeasure)
		writer.end("quantityElement")
	}
	writer.end("quantityList")
}

func writeSourceDest(writer *xmlWriter, event *epcis.Event) {
	if len(event.Sources) > 0 {
		writer.start("sourceList")
		for _, src := range event.Sources {
			writer.start("source", attr("type", src.Type))
			writer.text(src.ID)
			writer.end("source")
		}
		writer.end("sourceList")
	}
	if len(event.Destinations) > 0 {
		writer.start("destinationList")
		for _, dst := range event.Destinations {
			writer.start("destination", attr("type", dst.Type))
			writer.text(dst.ID)
			writer.end("destination")
		}
		writer.end("destinationList")
	}
}

func writePersistentDisposition(writer *xmlWriter, event *epcis.Event) {
	if len(event.PersistentDispositions) == 0 {
		return
	}
	writer.start("persistentDisposition")
	for _, pd := range event.PersistentDispositions {
		writer.element(pd.Type, pd.ID)
	}
	writer.end("persistentDisposition")
}

func writeIlmd(writer *xmlWriter, event *epcis.Event, prefixes map[string]string) {
	trees := buildFieldTrees(event.Fields, map[epcis.FieldType]bool{epcis.FieldIlmd: true}, nil)
	if len(trees) == 0 {
		return
	}
	writer.start("ilmd")
	for _, node := range trees {
		writeFieldNode(writer, node, prefixes)
	}
	writer.end("ilmd")
}

func writeSensorElements(writer *xmlWriter, event *epcis.Event, prefixes map[string]string) {
	if len(event.SensorElements) == 0 {
		return
	}

	writer.start("sensorElementList")
	for _, element := range event.SensorElements {
		writer.start("sensorElement")

		metadataAttrs := sensorMetadataAttrs(&element)
		for _, field := range entityAttributes(event.Fields, epcis.FieldSensorElementExt, element.Index) {
			metadataAttrs = append(metadataAttrs, attr(prefixedName(field, prefixes), fieldText(field)))
		}
		if len(metadataAttrs) > 0 {
			writer.start("sensorMetadata", metadataAttrs...)
			writer.end("sensorMetadata")
		}

		for _, report := range event.Reports {
			if report.SensorIndex != element.Index {
				continue
			}
			reportAttrs := sensorReportAttrs(&report)
			for _, field := range entityAttributes(event.Fields, epcis.FieldSensorReportExt, report.Index) {
				reportAttrs = append(reportAttrs, attr(prefixedName(field, prefixes), fieldText(field)))
			}
			writer.start("sensorReport", reportAttrs...)
			writer.end("sensorReport")
		}

		writer.end("sensorElement")
	}
	writer.end("sensorElementList")
}

func sensorMetadataAttrs(element *epcis.SensorElement) []xml.Attr {
	var attrs []xml.Attr
	appendAttr := func(name, value string) {
		if value != "" {
			attrs = append(attrs, attr(name, value))
		}
	}
	if element.Time != nil {
		appendAttr("time", renderTime(*element.Time))
	}
	appendAttr("deviceID", element.DeviceID)
	appendAttr("deviceMetadata", element.DeviceMetadata)
	appendAttr("rawData", element.RawData)
	appendAttr("dataProcessingMethod", element.DataProcessingMethod)
	appendAttr("bizRules", element.BizRules)
	if element.StartTime != nil {
		appendAttr("startTime", renderTime(*element.StartTime))
	}
	if element.EndTime != nil {
		appendAttr("endTime", renderTime(*element.EndTime))
	}
	return attrs
}

func sensorReportAttrs(report *epcis.SensorReport) []xml.Attr {
	var attrs []xml.Attr
	appendAttr := func(name, value string) {
		if value != "" {
			attrs = append(attrs, attr(name, value))
		}
	}
	appendNumber := func(name string, value *float64) {
		if value != nil {
			appendAttr(name, renderNumber(*value))
		}
	}
	appendAttr("type", report.Type)
	appendAttr("deviceID", report.DeviceID)
	appendAttr("deviceMetadata", report.DeviceMetadata)
	appendAttr("rawData", report.RawData)
	appendAttr("dataProcessingMethod", report.DataProcessingMethod)
	if report.Time != nil {
		appendAttr("time", renderTime(*report.Time))
	}
	appendAttr("microorganism", report.Microorganism)
	appendAttr("chemicalSubstance", report.ChemicalSubstance)
	appendNumber("value", report.Value)
	appendAttr("stringValue", report.StringValue)
	if report.BooleanValue != nil {
		appendAttr("booleanValue", strconv.FormatBool(*report.BooleanValue))
	}
	appendAttr("hexBinaryValue", report.HexBinaryValue)
	appendAttr("uriValue", report.URIValue)
	appendNumber("minValue", report.MinValue)
	appendNumber("maxValue", report.MaxValue)
	appendNumber("meanValue", report.MeanValue)
	appendNumber("sDev", report.SDev)
	appendNumber("percRank", report.PercRank)
	appendNumber("percValue", report.PercValue)
	appendAttr("uom", report.UnitOfMeasure)
	appendAttr("coordinateReferenceSystem", report.CoordinateReferenceSystem)
	return attrs
}

// writeFieldNode re-emits one reconstructed extension element with its
// attributes and children.
func writeFieldNode(writer *xmlWriter, node *fieldNode, prefixes map[string]string) {
	attrs := make([]xml.Attr, 0, len(node.attributes))
	for _, attribute := range node.attributes {
		attrs = append(attrs, attr(attributeName(attribute, node.field, prefixes), fieldText(attribute)))
	}

	name := prefixedName(node.field, prefixes)
	writer.start(name, attrs...)
	if len(node.children) == 0 {
		writer.text(fieldText(node.field))
	}
	for _, child := range node.children {
		writeFieldNode(writer, child, prefixes)
	}
	writer.end(name)
}

func prefixedName(field *epcis.Field, prefixes map[string]string) string {
	if prefix, ok := prefixes[field.Namespace]; ok {
		return prefix + ":" + field.Name
	}
	return field.Name
}

// attributeName leaves off the prefix when the attribute shares its
// element's namespace, the usual rendering for unqualified attributes.
func attributeName(attribute, element *epcis.Field, prefixes map[string]string) string {
	if attribute.Namespace == "" || attribute.Namespace == element.Namespace {
		return attribute.Name
	}
	return prefixedName(attribute, prefixes)
}

func fieldText(field *epcis.Field) string {
	if field.TextValue != nil {
		return *field.TextValue
	}
	return ""
}
