/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package soap

import (
	"context"
	"encoding/xml"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Robert-Freire/epcis/app/epcis"
	"github.com/Robert-Freire/epcis/app/query"
	"github.com/Robert-Freire/epcis/app/storage"
	"github.com/Robert-Freire/epcis/app/storage/memory"
	"github.com/Robert-Freire/epcis/app/subscription"
	"github.com/Robert-Freire/epcis/pkg/web"
)

func soapContext(tenantID string) context.Context {
	values := &web.ContextValues{TraceID: "test", TenantID: tenantID}
	return context.WithValue(context.Background(), web.KeyValues, values)
}

func soapHandler(db *memory.DB) *Handler {
	return &Handler{
		DB:            db,
		Query:         &query.Engine{DB: db, MaxEventsReturned: 20000, PaginationSecret: []byte("secret")},
		Subscriptions: &subscription.Controller{DB: db},
	}
}

func postSOAP(t *testing.T, handler *Handler, tenantID, envelope string) (int, string) {
	t.Helper()
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest("POST", "/Query.svc", strings.NewReader(envelope))
	if err := handler.Post(soapContext(tenantID), recorder, request); err != nil {
		t.Fatalf("post failed: %+v", err)
	}
	return recorder.Code, recorder.Body.String()
}

const envelopeHead = `<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns:epcisq="urn:epcglobal:epcis-query:xsd:1"><soapenv:Body>`
const envelopeTail = `</soapenv:Body></soapenv:Envelope>`

func TestGetStandardVersion(t *testing.T) {
	code, body := postSOAP(t, soapHandler(memory.NewDB()), "tenant-a",
		envelopeHead+`<epcisq:GetStandardVersion/>`+envelopeTail)
	if code != 200 || !strings.Contains(body, "1.2") {
		t.Errorf("code=%d body=%s", code, body)
	}
}

func TestGetQueryNames(t *testing.T) {
	_, body := postSOAP(t, soapHandler(memory.NewDB()), "tenant-a",
		envelopeHead+`<epcisq:GetQueryNames/>`+envelopeTail)
	if !strings.Contains(body, epcis.SimpleEventQuery) {
		t.Errorf("body = %s", body)
	}
}

func TestPollRunsTheQuery(t *testing.T) {
	db := memory.NewDB()

	aggregate := &epcis.Capture{
		CaptureID:     "c1",
		TenantID:      "tenant-a",
		SchemaVersion: epcis.Version12,
		RecordTime:    time.Now().UTC(),
		Events: []epcis.Event{{
			Type:                epcis.ObjectEvent,
			Action:              epcis.ActionObserve,
			EventTime:           time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC),
			EventTimeZoneOffset: "+00:00",
			BusinessStep:        "urn:epcglobal:cbv:bizstep:receiving",
			Epcs:                []epcis.Epc{{Type: epcis.EpcList, ID: "urn:epc:id:sgtin:8901213.105919.000000"}},
		}},
	}
	if err := db.Tx(context.Background(), func(tx storage.Tx) error {
		return tx.InsertCapture(context.Background(), aggregate)
	}); err != nil {
		t.Fatalf("seeding: %+v", err)
	}

	envelope := envelopeHead + `<epcisq:Poll>
		<queryName>SimpleEventQuery</queryName>
		<params>
			<param>
				<name>MATCH_anyEPC</name>
				<value>urn:epc:id:sgtin:8901213.105919.*</value>
			</param>
		</params>
	</epcisq:Poll>` + envelopeTail

	code, body := postSOAP(t, soapHandler(db), "tenant-a", envelope)
	if code != 200 {
		t.Fatalf("code=%d body=%s", code, body)
	}
	if !strings.Contains(body, "QueryResults") || !strings.Contains(body, "ObjectEvent") {
		t.Errorf("body = %s", body)
	}

	// the other tenant polls into emptiness
	_, foreign := postSOAP(t, soapHandler(db), "tenant-b", envelope)
	if strings.Contains(foreign, "ObjectEvent") {
		t.Error("tenant isolation broken over SOAP")
	}
}

func TestPollUnknownParameterFaults(t *testing.T) {
	envelope := envelopeHead + `<epcisq:Poll>
		<queryName>SimpleEventQuery</queryName>
		<params>
			<param><name>EQ_favouriteColor</name><value>blue</value></param>
		</params>
	</epcisq:Poll>` + envelopeTail

	code, body := postSOAP(t, soapHandler(memory.NewDB()), "tenant-a", envelope)
	if code != 500 || !strings.Contains(body, "QueryParameterException") {
		t.Errorf("code=%d body=%s", code, body)
	}
}

func TestSubscribeAndListAndUnsubscribe(t *testing.T) {
	db := memory.NewDB()
	handler := soapHandler(db)

	subscribe := envelopeHead + `<epcisq:Subscribe>
		<queryName>SimpleEventQuery</queryName>
		<params></params>
		<dest>https://example.com/hook</dest>
		<controls>
			<schedule><minute>0</minute><hour>6</hour></schedule>
			<reportIfEmpty>false</reportIfEmpty>
		</controls>
		<subscriptionID>morning-run</subscriptionID>
	</epcisq:Subscribe>` + envelopeTail

	if code, body := postSOAP(t, handler, "tenant-a", subscribe); code != 200 {
		t.Fatalf("subscribe code=%d body=%s", code, body)
	}

	_, listing := postSOAP(t, handler, "tenant-a", envelopeHead+`<epcisq:GetSubscriptionIDs/>`+envelopeTail)
	if !strings.Contains(listing, "morning-run") {
		t.Errorf("listing = %s", listing)
	}

	// duplicate ids fault
	if code, body := postSOAP(t, handler, "tenant-a", subscribe); code != 500 ||
		!strings.Contains(body, "DuplicateSubscriptionException") {
		t.Errorf("duplicate code=%d body=%s", code, body)
	}

	unsubscribe := envelopeHead + `<epcisq:Unsubscribe><subscriptionID>morning-run</subscriptionID></epcisq:Unsubscribe>` + envelopeTail
	if code, body := postSOAP(t, handler, "tenant-a", unsubscribe); code != 200 {
		t.Fatalf("unsubscribe code=%d body=%s", code, body)
	}

	_, after := postSOAP(t, handler, "tenant-a", envelopeHead+`<epcisq:GetSubscriptionIDs/>`+envelopeTail)
	if strings.Contains(after, "morning-run") {
		t.Errorf("subscription survived unsubscribe: %s", after)
	}
}

func TestCronFromQueryScheduleDefaults(t *testing.T) {
	var schedule envelopeNode
	schedule.Nodes = []envelopeNode{
		{XMLName: xml.Name{Local: "minute"}, Text: "30"},
		{XMLName: xml.Name{Local: "hour"}, Text: "6"},
	}
	if expr := cronFromQuerySchedule(&schedule); expr != "30 6 * * *" {
		t.Errorf("cron = %q", expr)
	}
}
