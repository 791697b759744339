/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package handlers

import (
	"net/http/httptest"
	"testing"
)

func TestPagingParams(t *testing.T) {
	request := httptest.NewRequest("GET", "/epcs?perPage=10&page=2", nil)
	limit, offset := pagingParams(request, 100)
	if limit != 10 || offset != 20 {
		t.Errorf("limit=%d offset=%d", limit, offset)
	}

	// perPage clamps to the configured maximum
	request = httptest.NewRequest("GET", "/epcs?perPage=5000", nil)
	limit, offset = pagingParams(request, 100)
	if limit != 100 || offset != 0 {
		t.Errorf("limit=%d offset=%d", limit, offset)
	}

	request = httptest.NewRequest("GET", "/epcs", nil)
	limit, offset = pagingParams(request, 0)
	if limit != 100 || offset != 0 {
		t.Errorf("defaults: limit=%d offset=%d", limit, offset)
	}
}

func TestWantsXML(t *testing.T) {
	request := httptest.NewRequest("GET", "/events", nil)
	request.Header.Set("Accept", "application/xml")
	if !wantsXML(request) {
		t.Error("application/xml not detected")
	}

	request.Header.Set("Accept", "application/json")
	if wantsXML(request) {
		t.Error("json accept treated as xml")
	}

	request.Header.Del("Accept")
	if wantsXML(request) {
		t.Error("missing accept must default to json")
	}
}

func TestParametersFromBody(t *testing.T) {
	params := parametersFromBody(map[string]interface{}{
		"eventType":     []interface{}{"ObjectEvent", "AggregationEvent"},
		"GE_value":      5.0,
		"MATCH_anyEPC":  "urn:epc:id:sgtin:*",
		"reportIfEmpty": true,
	})

	byName := map[string][]string{}
	for _, param := range params {
		byName[param.Name] = param.Values
	}

	if len(byName["eventType"]) != 2 {
		t.Errorf("eventType = %v", byName["eventType"])
	}
	if len(byName["GE_value"]) != 1 || byName["GE_value"][0] != "5" {
		t.Errorf("GE_value = %v", byName["GE_value"])
	}
	if byName["MATCH_anyEPC"][0] != "urn:epc:id:sgtin:*" {
		t.Errorf("MATCH_anyEPC = %v", byName["MATCH_anyEPC"])
	}
	if byName["reportIfEmpty"][0] != "true" {
		t.Errorf("reportIfEmpty = %v", byName["reportIfEmpty"])
	}
}
