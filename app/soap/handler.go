/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

// Package soap binds the EPCIS 1.2 query operations to the engine:
// GetVendorVersion, GetStandardVersion, GetQueryNames, Poll, Subscribe,
// Unsubscribe and GetSubscriptionIDs over one POST endpoint.
package soap

import (
	"context"
	"encoding/xml"
	"io/ioutil"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/Robert-Freire/epcis/app/encoder"
	"github.com/Robert-Freire/epcis/app/epcis"
	"github.com/Robert-Freire/epcis/app/query"
	"github.com/Robert-Freire/epcis/app/storage"
	"github.com/Robert-Freire/epcis/app/subscription"
	"github.com/Robert-Freire/epcis/pkg/web"
)

const (
	vendorVersion   = "2.0.0"
	standardVersion = "1.2"
)

// Handler serves the 1.2 SOAP query interface.
type Handler struct {
	DB            storage.Store
	Query         *query.Engine
	Subscriptions *subscription.Controller
}

type envelopeNode struct {
	XMLName xml.Name
	Attrs   []xml.Attr     `xml:",any,attr"`
	Nodes   []envelopeNode `xml:",any"`
	Text    string         `xml:",chardata"`
}

func (node *envelopeNode) child(local string) *envelopeNode {
	for i := range node.Nodes {
		if node.Nodes[i].XMLName.Local == local {
			return &node.Nodes[i]
		}
	}
	return nil
}

func (node *envelopeNode) text() string {
	return strings.TrimSpace(node.Text)
}

// Post handles one SOAP request. Operation failures travel back as
// EPCISException faults rather than bare HTTP errors.
func (handler *Handler) Post(ctx context.Context, writer http.ResponseWriter, request *http.Request) error {
	body, err := ioutil.ReadAll(request.Body)
	if err != nil {
		return errors.Wrap(web.ErrInvalidInput, "reading SOAP body")
	}

	var envelope envelopeNode
	if err := xml.Unmarshal(body, &envelope); err != nil {
		return errors.Wrapf(web.ErrInvalidInput, "malformed SOAP envelope: %s", err.Error())
	}
	soapBody := envelope.child("Body")
	if soapBody == nil || len(soapBody.Nodes) == 0 {
		return errors.Wrap(web.ErrInvalidInput, "SOAP envelope has no body")
	}

	operation := &soapBody.Nodes[0]
	response, err := handler.dispatch(ctx, operation)
	if err != nil {
		fault, faultErr := encoder.EncodeSOAPFault(exceptionType(err), err.Error())
		if faultErr != nil {
			return faultErr
		}
		web.RespondRaw(ctx, writer, fault, "text/xml", http.StatusInternalServerError)
		return nil
	}

	web.RespondRaw(ctx, writer, response, "text/xml", http.StatusOK)
	return nil
}

func (handler *Handler) dispatch(ctx context.Context, operation *envelopeNode) ([]byte, error) {
	switch operation.XMLName.Local {

	case "GetVendorVersion":
		return encoder.EncodeSOAPStringResponse("GetVendorVersion", vendorVersion)

	case "GetStandardVersion":
		return encoder.EncodeSOAPStringResponse("GetStandardVersion", standardVersion)

	case "GetQueryNames":
		// only the event query is pollable; masterdata travels inside
		// capture documents
		return encoder.EncodeSOAPStringListResponse("GetQueryNames",
			[]string{epcis.SimpleEventQuery})

	case "Poll":
		return handler.poll(ctx, operation)

	case "Subscribe":
		return handler.subscribe(ctx, operation)

	case "Unsubscribe":
		subscriptionID := ""
		if node := operation.child("subscriptionID"); node != nil {
			subscriptionID = node.text()
		}
		if err := handler.Subscriptions.Delete(ctx, web.TenantID(ctx), subscriptionID); err != nil {
			return nil, err
		}
		return encoder.EncodeSOAPVoidResponse("Unsubscribe")

	case "GetSubscriptionIDs":
		subscriptions, err := handler.Subscriptions.List(ctx, web.TenantID(ctx))
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(subscriptions))
		for _, entry := range subscriptions {
			names = append(names, entry.Name)
		}
		return encoder.EncodeSOAPStringListResponse("GetSubscriptionIDs", names)
	}

	return nil, errors.Wrapf(web.ErrInvalidInput, "unknown operation %q", operation.XMLName.Local)
}

func (handler *Handler) poll(ctx context.Context, operation *envelopeNode) ([]byte, error) {
	queryName := epcis.SimpleEventQuery
	if node := operation.child("queryName"); node != nil && node.text() != "" {
		queryName = node.text()
	}
	if queryName != epcis.SimpleEventQuery {
		return nil, errors.Wrapf(web.ErrNotFound, "no query named %q", queryName)
	}

	params := soapParameters(operation.child("params"))
	results, err := handler.Query.Execute(ctx, web.TenantID(ctx), params)
	if err != nil {
		return nil, err
	}
	return encoder.EncodePollResultsSOAP(results.Events, queryName)
}

func (handler *Handler) subscribe(ctx context.Context, operation *envelopeNode) ([]byte, error) {
	newSubscription := &epcis.Subscription{
		QueryName:  epcis.SimpleEventQuery,
		TenantID:   web.TenantID(ctx),
		Parameters: soapParameters(operation.child("params")),
	}

	if node := operation.child("queryName"); node != nil && node.text() != "" {
		newSubscription.QueryName = node.text()
	}
	if node := operation.child("subscriptionID"); node != nil {
		newSubscription.Name = node.text()
	}
	if node := operation.child("dest"); node != nil {
		newSubscription.Destination = node.text()
	}

	if controls := operation.child("controls"); controls != nil {
		if node := controls.child("reportIfEmpty"); node != nil {
			newSubscription.ReportIfEmpty = node.text() == "true"
		}
		if schedule := controls.child("schedule"); schedule != nil {
			newSubscription.Schedule = cronFromQuerySchedule(schedule)
		}
	}
	newSubscription.Stream = newSubscription.Schedule == ""

	if err := handler.Subscriptions.Create(ctx, newSubscription); err != nil {
		return nil, err
	}
	return encoder.EncodeSOAPVoidResponse("Subscribe")
}

// soapParameters reads the 1.2 params shape: param elements carrying a
// name and one or more values.
func soapParameters(params *envelopeNode) []epcis.Parameter {
	if params == nil {
		return nil
	}

	var out []epcis.Parameter
	for i := range params.Nodes {
		param := &params.Nodes[i]
		if param.XMLName.Local != "param" {
			continue
		}
		nameNode := param.child("name")
		if nameNode == nil {
			continue
		}

		var values []string
		for j := range param.Nodes {
			value := &param.Nodes[j]
			if value.XMLName.Local != "value" {
				continue
			}
			if len(value.Nodes) == 0 {
				values = append(values, value.text())
				continue
			}
			// ArrayOfString rendering
			for k := range value.Nodes {
				values = append(values, value.Nodes[k].text())
			}
		}
		out = append(out, epcis.Parameter{Name: nameNode.text(), Values: values})
	}
	return out
}

// cronFromQuerySchedule converts the 1.2 QuerySchedule fields to a cron
// expression; unset fields default to every instant.
func cronFromQuerySchedule(schedule *envelopeNode) string {
	field := func(local string) string {
		if node := schedule.child(local); node != nil && node.text() != "" {
			return node.text()
		}
		return "*"
	}
	return strings.Join([]string{
		field("minute"),
		field("hour"),
		field("dayOfMonth"),
		field("month"),
		field("dayOfWeek"),
	}, " ")
}

// exceptionType maps engine errors to the EPCISException subtypes the
// 1.2 schema defines.
func exceptionType(err error) string {
	switch errors.Cause(err) {
	case web.ErrUnsupportedParameter, web.ErrInvalidInput:
		return "QueryParameterException"
	case web.ErrQueryTooLarge:
		return "QueryTooLargeException"
	case web.ErrDuplicate:
		return "DuplicateSubscriptionException"
	case web.ErrNotFound:
		return "NoSuchNameException"
	case web.ErrValidation:
		return "ValidationException"
	}
	return "ImplementationException"
}
