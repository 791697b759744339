/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package encoder

import (
	"bytes"
	"encoding/xml"

	"github.com/pkg/errors"

	"github.com/Robert-Freire/epcis/app/epcis"
)

const (
	namespaceSoapEnv = "http://schemas.xmlsoap.org/soap/envelope/"
)

func soapStart(writer *xmlWriter, extraAttrs ...xml.Attr) {
	attrs := append([]xml.Attr{
		attr("xmlns:soapenv", namespaceSoapEnv),
		attr("xmlns:epcisq", namespaceEpcisQuery1),
	}, extraAttrs...)
	writer.start("soapenv:Envelope", attrs...)
	writer.start("soapenv:Body")
}

func soapEnd(writer *xmlWriter) {
	writer.end("soapenv:Body")
	writer.end("soapenv:Envelope")
}

// EncodePollResultsSOAP renders a Poll response: QueryResults in EPCIS
// 1.2 shape inside a SOAP envelope.
func EncodePollResultsSOAP(events []epcis.Event, queryName string) ([]byte, error) {
	prefixes := namespacePrefixes(events)

	var buffer bytes.Buffer
	writer := newXMLWriter(&buffer)

	var namespaceAttrs []xml.Attr
	for namespaceURI, prefix := range prefixes {
		namespaceAttrs = append(namespaceAttrs, attr("xmlns:"+prefix, namespaceURI))
	}

	soapStart(writer, namespaceAttrs...)
	writer.start("epcisq:QueryResults")
	writer.element("queryName", queryName)
	writer.start("resultsBody")
	writer.start("EventList")
	for i := range events {
		writeXMLEvent(writer, &events[i], epcis.Version12, prefixes)
	}
	writer.end("EventList")
	writer.end("resultsBody")
	writer.end("epcisq:QueryResults")
	soapEnd(writer)

	if err := writer.flush(); err != nil {
		return nil, errors.Wrap(err, "encoding SOAP poll results")
	}
	return buffer.Bytes(), nil
}

// EncodeSOAPStringResponse renders a single-valued operation result,
// e.g. GetStandardVersionResult.
func EncodeSOAPStringResponse(operation, value string) ([]byte, error) {
	var buffer bytes.Buffer
	writer := newXMLWriter(&buffer)

	soapStart(writer)
	writer.start("epcisq:" + operation + "Result")
	writer.text(value)
	writer.end("epcisq:" + operation + "Result")
	soapEnd(writer)

	if err := writer.flush(); err != nil {
		return nil, errors.Wrapf(err, "encoding SOAP %s response", operation)
	}
	return buffer.Bytes(), nil
}

// EncodeSOAPStringListResponse renders a list-valued operation result,
// e.g. GetQueryNamesResult or GetSubscriptionIDsResult.
func EncodeSOAPStringListResponse(operation string, values []string) ([]byte, error) {
	var buffer bytes.Buffer
	writer := newXMLWriter(&buffer)

	soapStart(writer)
	writer.start("epcisq:" + operation + "Result")
	for _, value := range values {
		writer.element("string", value)
	}
	writer.end("epcisq:" + operation + "Result")
	soapEnd(writer)

	if err := writer.flush(); err != nil {
		return nil, errors.Wrapf(err, "encoding SOAP %s response", operation)
	}
	return buffer.Bytes(), nil
}

// EncodeSOAPVoidResponse renders an empty operation result, used by
// Subscribe and Unsubscribe.
func EncodeSOAPVoidResponse(operation string) ([]byte, error) {
	var buffer bytes.Buffer
	writer := newXMLWriter(&buffer)

	soapStart(writer)
	writer.start("epcisq:" + operation + "Result")
	writer.end("epcisq:" + operation + "Result")
	soapEnd(writer)

	if err := writer.flush(); err != nil {
		return nil, errors.Wrapf(err, "encoding SOAP %s response", operation)
	}
	return buffer.Bytes(), nil
}

// EncodeSOAPFault renders an EPCISException fault with the exception
// type the 1.2 query schema defines.
func EncodeSOAPFault(exceptionType, reason string) ([]byte, error) {
	var buffer bytes.Buffer
	writer := newXMLWriter(&buffer)

	soapStart(writer)
	writer.start("soapenv:Fault")
	writer.element("faultcode", "soapenv:Client")
	writer.element("faultstring", reason)
	writer.start("detail")
	writer.start("epcisq:" + exceptionType)
	writer.element("reason", reason)
	writer.end("epcisq:" + exceptionType)
	writer.end("detail")
	writer.end("soapenv:Fault")
	soapEnd(writer)

	if err := writer.flush(); err != nil {
		return nil, errors.Wrap(err, "encoding SOAP fault")
	}
	return buffer.Bytes(), nil
}
