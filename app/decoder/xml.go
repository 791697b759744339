/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package decoder

import (
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/Robert-Freire/epcis/app/epcis"
	"github.com/Robert-Freire/epcis/pkg/web"
)

// xmlNode is a generic element tree. encoding/xml resolves prefixes, so
// XMLName.Space carries the namespace URI of every element and attribute.
type xmlNode struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Nodes   []xmlNode  `xml:",any"`
	Text    string     `xml:",chardata"`
}

func (node *xmlNode) attr(local string) string {
	for _, attr := range node.Attrs {
		if attr.Name.Local == local {
			return attr.Value
		}
	}
	return ""
}

func (node *xmlNode) child(local string) *xmlNode {
	for i := range node.Nodes {
		if node.Nodes[i].XMLName.Local == local {
			return &node.Nodes[i]
		}
	}
	return nil
}

func (node *xmlNode) text() string {
	return strings.TrimSpace(node.Text)
}

// isStandardSpace reports whether the namespace belongs to the EPCIS
// schemas (or is empty, the usual rendering for unprefixed elements).
func isStandardSpace(space string) bool {
	switch space {
	case "", namespaceEpcis1, namespaceEpcis2, namespaceSbdh:
		return true
	}
	return false
}

// decodeXML parses an EPCIS 1.x or 2.0 XML document; the version is
// sniffed from the schemaVersion attribute.
func decodeXML(data []byte) (*epcis.Capture, error) {
	var root xmlNode
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, errors.Wrapf(web.ErrInvalidInput, "malformed document: %s", err.Error())
	}

	if root.XMLName.Local != "EPCISDocument" {
		return nil, errors.Wrapf(web.ErrInvalidInput, "schema invalid: root element is %q, want EPCISDocument", root.XMLName.Local)
	}

	capture := &epcis.Capture{
		SchemaVersion: root.attr("schemaVersion"),
		Namespaces:    map[string]string{},
	}
	if creation := root.attr("creationDate"); creation != "" {
		if created, ok := parseISOTime(creation); ok {
			capture.DocumentTime = created.UTC()
		}
	}

	for _, attr := range root.Attrs {
		// xmlns:prefix declarations; the unprefixed xmlns is not an
		// extension namespace
		if attr.Name.Space == "xmlns" && !isStandardSpace(attr.Value) {
			capture.Namespaces[attr.Name.Local] = attr.Value
		}
	}

	if header := root.child("EPCISHeader"); header != nil {
		parseXMLHeader(header, capture)
	}

	body := root.child("EPCISBody")
	if body == nil {
		return nil, errors.Wrap(web.ErrInvalidInput, "schema invalid: EPCISBody is missing")
	}

	if eventList := body.child("EventList"); eventList != nil {
		for _, eventNode := range hoistWrappers(eventList.Nodes) {
			event, err := parseXMLEvent(&eventNode)
			if err != nil {
				return nil, err
			}
			capture.Events = append(capture.Events, *event)
		}
	}

	return capture, nil
}

// hoistWrappers makes the 1.x extension and baseExtension wrappers
// transparent: their children are lifted by one level. Foreign elements
// named extension are left alone.
func hoistWrappers(nodes []xmlNode) []xmlNode {
	out := make([]xmlNode, 0, len(nodes))
	for _, node := range nodes {
		if (node.XMLName.Local == "extension" || node.XMLName.Local == "baseExtension") &&
			isStandardSpace(node.XMLName.Space) {
			out = append(out, hoistWrappers(node.Nodes)...)
			continue
		}
		out = append(out, node)
	}
	return out
}

func parseXMLHeader(header *xmlNode, capture *epcis.Capture) {
	for _, node := range hoistWrappers(header.Nodes) {
		switch node.XMLName.Local {
		case "StandardBusinessDocumentHeader":
			capture.Header = parseSbdh(&node)
		case "EPCISMasterData":
			parseXMLMasterData(&node, capture)
		}
	}
}

func parseSbdh(node *xmlNode) *epcis.StandardBusinessHeader {
	header := &epcis.StandardBusinessHeader{}

	if sender := node.child("Sender"); sender != nil {
		if id := sender.child("Identifier"); id != nil {
			header.Sender = id.text()
		}
	}
	if receiver := node.child("Receiver"); receiver != nil {
		if id := receiver.child("Identifier"); id != nil {
			header.Receiver = id.text()
		}
	}
	if doc := node.child("DocumentIdentification"); doc != nil {
		if standard := doc.child("Standard"); standard != nil {
			header.Standard = standard.text()
		}
		if version := doc.child("TypeVersion"); version != nil {
			header.TypeVersion = version.text()
		}
		if instance := doc.child("InstanceIdentifier"); instance != nil {
			header.InstanceIdentifier = instance.text()
		}
		if docType := doc.child("Type"); docType != nil {
			header.DocumentType = docType.text()
		}
		if creation := doc.child("CreationDateAndTime"); creation != nil {
			if created, ok := parseISOTime(creation.text()); ok {
				utc := created.UTC()
				header.CreationDateTime = &utc
			}
		}
	}
	return header
}

func parseXMLMasterData(node *xmlNode, capture *epcis.Capture) {
	vocabularyList := node.child("VocabularyList")
	if vocabularyList == nil {
		return
	}
	for _, vocabulary := range vocabularyList.Nodes {
		if vocabulary.XMLName.Local != "Vocabulary" {
			continue
		}
		vocabType := vocabulary.attr("type")
		elementList := vocabulary.child("VocabularyElementList")
		if elementList == nil {
			continue
		}
		for _, element := range elementList.Nodes {
			if element.XMLName.Local != "VocabularyElement" {
				continue
			}
			entry := epcis.MasterData{Type: vocabType, ID: element.attr("id")}
			for _, child := range element.Nodes {
				switch child.XMLName.Local {
				case "attribute":
					entry.Attributes = append(entry.Attributes, epcis.MasterDataAttribute{
						ID:    child.attr("id"),
						Value: child.text(),
					})
				case "children":
					for _, idNode := range child.Nodes {
						if idNode.XMLName.Local == "id" {
							entry.Children = append(entry.Children, idNode.text())
						}
					}
				}
			}
			capture.MasterData = append(capture.MasterData, entry)
		}
	}
}

// parseXMLEvent dispatches on the event element name and walks its
// children. 1.x wrappers have already been hoisted by the caller.
func parseXMLEvent(node *xmlNode) (*epcis.Event, error) {
	event := &epcis.Event{Type: node.XMLName.Local}

	known := map[string]bool{}
	for _, eventType := range epcis.EventTypes {
		known[eventType] = true
	}
	if !known[event.Type] {
		return nil, errors.Wrapf(web.ErrInvalidInput, "schema invalid: unknown event element %q", event.Type)
	}

	builder := &fieldBuilder{}
	var quantityClass string
	var quantityValue *float64

	for _, child := range hoistWrappers(node.Nodes) {
		if !isStandardSpace(child.XMLName.Space) {
			walkXMLFields(builder, &child, epcis.FieldCustom, nil, nil)
			continue
		}

		switch child.XMLName.Local {
		case "eventTime":
			if eventTime, ok := parseISOTime(child.text()); ok {
				event.EventTime = eventTime.UTC()
			}
		case "recordTime":
			// server-assigned; ignored on input
		case "eventTimeZoneOffset":
			event.EventTimeZoneOffset = child.text()
		case "eventID":
			event.EventID = child.text()
		case "certificationInfo":
			event.CertificationInfo = child.text()
		case "action":
			event.Action = child.text()
		case "bizStep":
			event.BusinessStep = expandCbv(cbvBizStep, child.text())
		case "disposition":
			event.Disposition = expandCbv(cbvDisposition, child.text())
		case "readPoint":
			if id := child.child("id"); id != nil {
				event.ReadPoint = id.text()
			}
		case "bizLocation":
			if id := child.child("id"); id != nil {
				event.BusinessLocation = id.text()
			}
		case "transformationID":
			event.TransformationID = child.text()
		case "parentID":
			event.Epcs = append(event.Epcs, epcis.Epc{Type: epcis.EpcParentID, ID: child.text()})
		case "epcList":
			appendEpcList(event, &child, epcis.EpcList)
		case "childEPCs":
			appendEpcList(event, &child, epcis.EpcChild)
		case "inputEPCList":
			appendEpcList(event, &child, epcis.EpcInput)
		case "outputEPCList":
			appendEpcList(event, &child, epcis.EpcOutput)
		case "quantityList", "inputQuantityList", "outputQuantityList":
			appendQuantityList(event, &child)
		case "epcClass":
			quantityClass = child.text()
		case "quantity":
			if value, err := strconv.ParseFloat(child.text(), 64); err == nil {
				quantityValue = &value
			}
		case "bizTransactionList":
			for _, txn := range child.Nodes {
				if txn.XMLName.Local == "bizTransaction" {
					event.Transactions = append(event.Transactions, epcis.BusinessTransaction{
						Type: expandCbv(cbvBizTransact, txn.attr("type")),
						ID:   txn.text(),
					})
				}
			}
		case "sourceList":
			for _, src := range child.Nodes {
				if src.XMLName.Local == "source" {
					event.Sources = append(event.Sources, epcis.Source{
						Type: expandCbv(cbvSourceDest, src.attr("type")),
						ID:   src.text(),
					})
				}
			}
		case "destinationList":
			for _, dst := range child.Nodes {
				if dst.XMLName.Local == "destination" {
					event.Destinations = append(event.Destinations, epcis.Destination{
						Type: expandCbv(cbvSourceDest, dst.attr("type")),
						ID:   dst.text(),
					})
				}
			}
		case "persistentDisposition":
			for _, pd := range child.Nodes {
				switch pd.XMLName.Local {
				case "set", "unset":
					event.PersistentDispositions = append(event.PersistentDispositions, epcis.PersistentDisposition{
						Type: pd.XMLName.Local,
						ID:   expandCbv(cbvDisposition, pd.text()),
					})
				}
			}
		case "errorDeclaration":
			parseErrorDeclaration(event, &child)
		case "ilmd":
			for _, ilmdChild := range child.Nodes {
				walkXMLFields(builder, &ilmdChild, epcis.FieldIlmd, nil, nil)
			}
		case "sensorElementList":
			parseXMLSensorElements(event, builder, &child)
		default:
			// standard-namespace element this version does not know;
			// preserve it as a custom field so round-trips keep it
			walkXMLFields(builder, &child, epcis.FieldCustom, nil, nil)
		}
	}

	if quantityClass != "" {
		event.Epcs = append(event.Epcs, epcis.Epc{Type: epcis.EpcQuantity, ID: quantityClass, Quantity: quantityValue})
	}

	event.Fields = builder.fields
	return event, nil
}

func appendEpcList(event *epcis.Event, node *xmlNode, epcType epcis.EpcType) {
	for _, child := range node.Nodes {
		if child.XMLName.Local == "epc" {
			event.Epcs = append(event.Epcs, epcis.Epc{Type: epcType, ID: child.text()})
		}
	}
}

func appendQuantityList(event *epcis.Event, node *xmlNode) {
	for _, child := range node.Nodes {
		if child.XMLName.Local != "quantityElement" {
			continue
		}
		epc := epcis.Epc{Type: epcis.EpcQuantity}
		if class := child.child("epcClass"); class != nil {
			epc.ID = class.text()
		}
		if quantity := child.child("quantity"); quantity != nil {
			if value, err := strconv.ParseFloat(quantity.text(), 64); err == nil {
				epc.Quantity = &value
			}
		}
		if uom := child.child("uom"); uom != nil {
			epc.UnitOfMeasure = uom.text()
		}
		event.Epcs = append(event.Epcs, epc)
	}
}

func parseErrorDeclaration(event *epcis.Event, node *xmlNode) {
	for _, child := range hoistWrappers(node.Nodes) {
		switch child.XMLName.Local {
		case "declarationTime":
			if declared, ok := parseISOTime(child.text()); ok {
				utc := declared.UTC()
				event.CorrectiveDeclarationTime = &utc
			}
		case "reason":
			event.CorrectiveReason = expandCbv(cbvErrorReason, child.text())
		case "correctiveEventIDs":
			for _, id := range child.Nodes {
				if id.XMLName.Local == "correctiveEventID" {
					event.CorrectiveEventIDs = append(event.CorrectiveEventIDs, id.text())
				}
			}
		}
	}
}

func parseXMLSensorElements(event *epcis.Event, builder *fieldBuilder, list *xmlNode) {
	for _, elementNode := range list.Nodes {
		if elementNode.XMLName.Local != "sensorElement" {
			continue
		}

		element := epcis.SensorElement{Index: len(event.SensorElements)}
		entity := element.Index

		// The sensor extension point is attributes: foreign attributes on
		// sensorMetadata and sensorReport become entity-bound fields
		for _, child := range elementNode.Nodes {
			switch child.XMLName.Local {
			case "sensorMetadata":
				parseSensorMetadata(&element, builder, &child, entity)
			case "sensorReport":
				report := parseSensorReport(builder, &child, entity, len(event.Reports))
				event.Reports = append(event.Reports, report)
			}
		}

		event.SensorElements = append(event.SensorElements, element)
	}
}

func parseSensorMetadata(element *epcis.SensorElement, builder *fieldBuilder, node *xmlNode, entity int) {
	for _, attr := range node.Attrs {
		if !isStandardSpace(attr.Name.Space) {
			builder.addAttributeRoot(attr.Name.Space, attr.Name.Local, attr.Value, epcis.FieldSensorElementExt, &entity)
			continue
		}
		switch attr.Name.Local {
		case "time":
			if parsed, ok := parseISOTime(attr.Value); ok {
				utc := parsed.UTC()
				element.Time = &utc
			}
		case "startTime":
			if parsed, ok := parseISOTime(attr.Value); ok {
				utc := parsed.UTC()
				element.StartTime = &utc
			}
		case "endTime":
			if parsed, ok := parseISOTime(attr.Value); ok {
				utc := parsed.UTC()
				element.EndTime = &utc
			}
		case "deviceID":
			element.DeviceID = attr.Value
		case "deviceMetadata":
			element.DeviceMetadata = attr.Value
		case "rawData":
			element.RawData = attr.Value
		case "dataProcessingMethod":
			element.DataProcessingMethod = attr.Value
		case "bizRules":
			element.BizRules = attr.Value
		}
	}
}

func parseSensorReport(builder *fieldBuilder, node *xmlNode, elementIndex, index int) epcis.SensorReport {
	report := epcis.SensorReport{Index: index, SensorIndex: elementIndex}
	entity := index

	parseNumber := func(value string) *float64 {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return &parsed
		}
		return nil
	}

	for _, attr := range node.Attrs {
		if !isStandardSpace(attr.Name.Space) {
			builder.addAttributeRoot(attr.Name.Space, attr.Name.Local, attr.Value, epcis.FieldSensorReportExt, &entity)
			continue
		}
		switch attr.Name.Local {
		case "type":
			report.Type = attr.Value
		case "deviceID":
			report.DeviceID = attr.Value
		case "deviceMetadata":
			report.DeviceMetadata = attr.Value
		case "rawData":
			report.RawData = attr.Value
		case "dataProcessingMethod":
			report.DataProcessingMethod = attr.Value
		case "time":
			if parsed, ok := parseISOTime(attr.Value); ok {
				utc := parsed.UTC()
				report.Time = &utc
			}
		case "microorganism":
			report.Microorganism = attr.Value
		case "chemicalSubstance":
			report.ChemicalSubstance = attr.Value
		case "value":
			report.Value = parseNumber(attr.Value)
		case "stringValue":
			report.StringValue = attr.Value
		case "booleanValue":
			if parsed, err := strconv.ParseBool(attr.Value); err == nil {
				report.BooleanValue = &parsed
			}
		case "hexBinaryValue":
			report.HexBinaryValue = attr.Value
		case "uriValue":
			report.URIValue = attr.Value
		case "minValue":
			report.MinValue = parseNumber(attr.Value)
		case "maxValue":
			report.MaxValue = parseNumber(attr.Value)
		case "meanValue":
			report.MeanValue = parseNumber(attr.Value)
		case "sDev":
			report.SDev = parseNumber(attr.Value)
		case "percRank":
			report.PercRank = parseNumber(attr.Value)
		case "percValue":
			report.PercValue = parseNumber(attr.Value)
		case "uom":
			report.UnitOfMeasure = attr.Value
		case "coordinateReferenceSystem":
			report.CoordinateReferenceSystem = attr.Value
		}
	}
	return report
}

// walkXMLFields flattens one extension subtree depth-first.
func walkXMLFields(builder *fieldBuilder, node *xmlNode, fieldType epcis.FieldType, parentIndex, entityIndex *int) {
	text := ""
	if len(node.Nodes) == 0 {
		text = node.text()
	}

	index := builder.addElement(fieldType, node.XMLName.Space, node.XMLName.Local, text, parentIndex, entityIndex)

	for _, attr := range node.Attrs {
		if attr.Name.Space == "xmlns" || attr.Name.Local == "xmlns" {
			continue
		}
		// unprefixed attributes belong to their element's namespace in
		// the canonical model, matching the JSON-LD rendering
		namespace := attr.Name.Space
		if namespace == "" {
			namespace = node.XMLName.Space
		}
		builder.addAttribute(namespace, attr.Name.Local, attr.Value, index, entityIndex)
	}

	for i := range node.Nodes {
		walkXMLFields(builder, &node.Nodes[i], fieldType, &index, entityIndex)
	}
}
