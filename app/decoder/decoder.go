/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

// Package decoder turns EPCIS 1.x XML, EPCIS 2.0 XML and EPCIS 2.0
// JSON-LD documents into the canonical capture aggregate. Decoders hold
// no state across requests.
package decoder

import (
	"io"
	"io/ioutil"
	"mime"
	"strings"

	"github.com/pkg/errors"

	"github.com/Robert-Freire/epcis/app/epcis"
	"github.com/Robert-Freire/epcis/pkg/web"
)

// Namespace URIs of the EPCIS schemas themselves. Anything outside this
// set (and the empty namespace) is an extension namespace.
const (
	namespaceEpcis1 = "urn:epcglobal:epcis:xsd:1"
	namespaceEpcis2 = "urn:epcglobal:epcis:xsd:2"
	namespaceSbdh   = "http://www.unece.org/cefact/namespaces/StandardBusinessDocumentHeader"
)

// DecodeDocument selects a decoder by content type and parses the body
// into a capture aggregate. The reader is consumed up to sizeLimit bytes;
// one byte more fails the capture as oversized.
func DecodeDocument(contentType string, body io.Reader, sizeLimit int64) (*epcis.Capture, error) {

	mediaType := contentType
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = parsed
	}

	data, err := readBounded(body, sizeLimit)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(mediaType) {
	case "application/xml", "text/xml":
		return decodeXML(data)
	case "application/json", "application/ld+json":
		return decodeJSON(data)
	}
	return nil, errors.Wrapf(web.ErrUnsupportedMediaType, "no decoder for content type %q", contentType)
}

func readBounded(body io.Reader, sizeLimit int64) ([]byte, error) {
	if sizeLimit <= 0 {
		data, err := ioutil.ReadAll(body)
		if err != nil {
			return nil, errors.Wrap(err, "reading capture body")
		}
		return data, nil
	}

	data, err := ioutil.ReadAll(io.LimitReader(body, sizeLimit+1))
	if err != nil {
		return nil, errors.Wrap(err, "reading capture body")
	}
	if int64(len(data)) > sizeLimit {
		return nil, errors.Wrapf(web.ErrEntityTooLarge, "capture body exceeds the %d byte budget", sizeLimit)
	}
	return data, nil
}

// expandCbv turns the bare-word vocabulary values JSON-LD documents use
// into the CBV URNs the canonical model stores, so the same logical event
// hashes identically no matter the input format.
func expandCbv(kind, value string) string {
	if value == "" || strings.Contains(value, ":") {
		return value
	}
	return "urn:epcglobal:cbv:" + kind + ":" + value
}

// CBV vocabulary kinds used by expandCbv.
const (
	cbvBizStep     = "bizstep"
	cbvDisposition = "disp"
	cbvBizTransact = "btt"
	cbvSourceDest  = "sdt"
	cbvErrorReason = "er"
)
