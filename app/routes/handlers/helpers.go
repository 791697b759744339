/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/Robert-Freire/epcis/app/encoder"
	"github.com/Robert-Freire/epcis/app/epcis"
	"github.com/Robert-Freire/epcis/app/query"
	"github.com/Robert-Freire/epcis/pkg/web"
)

// pagingParams reads perPage and page from listing endpoints, clamped to
// the configured default.
func pagingParams(request *http.Request, maxSize int) (limit, offset int) {
	if maxSize <= 0 {
		maxSize = 100
	}
	limit = maxSize

	values := request.URL.Query()
	if perPage := values.Get("perPage"); perPage != "" {
		if parsed, err := strconv.Atoi(perPage); err == nil && parsed > 0 && parsed < limit {
			limit = parsed
		}
	}
	if page := values.Get("page"); page != "" {
		if parsed, err := strconv.Atoi(page); err == nil && parsed > 0 {
			offset = parsed * limit
		}
	}
	return limit, offset
}

// isJSONContent reports whether the content type selects the JSON-LD
// decoder.
func isJSONContent(contentType string) bool {
	lowered := strings.ToLower(contentType)
	return strings.Contains(lowered, "application/json") || strings.Contains(lowered, "application/ld+json")
}

// wantsXML inspects the Accept header; JSON wins when the client takes
// anything.
func wantsXML(request *http.Request) bool {
	accept := strings.ToLower(request.Header.Get("Accept"))
	return strings.Contains(accept, "application/xml") || strings.Contains(accept, "text/xml")
}

// respondQueryResults emits a QueryResults body in the negotiated
// format, carrying the next page token when there is one.
func respondQueryResults(ctx context.Context, writer http.ResponseWriter, request *http.Request, results *query.Results, queryName string) error {
	if wantsXML(request) {
		body, err := encoder.EncodeQueryResultsXML(results.Events, queryName, epcis.Version20)
		if err != nil {
			return err
		}
		if results.NextPageToken != "" {
			writer.Header().Set("GS1-Next-Page-Token", results.NextPageToken)
		}
		web.RespondRaw(ctx, writer, body, "application/xml", http.StatusOK)
		return nil
	}

	body, err := encoder.EncodeQueryResultsJSON(results.Events, queryName, results.NextPageToken)
	if err != nil {
		return err
	}
	web.RespondRaw(ctx, writer, body, "application/ld+json", http.StatusOK)
	return nil
}

// parametersFromBody converts a named-query body into the canonical
// parameter list. Scalars render to one value; arrays to many.
func parametersFromBody(body map[string]interface{}) []epcis.Parameter {
	params := make([]epcis.Parameter, 0, len(body))
	for name, raw := range body {
		var values []string
		switch typed := raw.(type) {
		case []interface{}:
			for _, item := range typed {
				values = append(values, scalarString(item))
			}
		default:
			values = []string{scalarString(raw)}
		}
		params = append(params, epcis.Parameter{Name: name, Values: values})
	}
	return params
}

func scalarString(raw interface{}) string {
	switch value := raw.(type) {
	case string:
		return value
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(value)
	}
	return ""
}
