/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package handlers

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	metrics "github.com/intel/rsp-sw-toolkit-im-suite-utilities/go-metrics"
	"github.com/pkg/errors"

	"github.com/Robert-Freire/epcis/app/capture"
	"github.com/Robert-Freire/epcis/app/decoder"
	"github.com/Robert-Freire/epcis/app/encoder"
	"github.com/Robert-Freire/epcis/app/epcis"
	"github.com/Robert-Freire/epcis/app/query"
	"github.com/Robert-Freire/epcis/app/routes/schemas"
	"github.com/Robert-Freire/epcis/app/storage"
	"github.com/Robert-Freire/epcis/app/subscription"
	"github.com/Robert-Freire/epcis/pkg/web"
)

// Epcis represents the API method handler set.
type Epcis struct {
	DB            storage.Store
	Capture       *capture.Handler
	Query         *query.Engine
	Subscriptions *subscription.Controller
	Hub           *subscription.SocketHub

	// Default page size for listing endpoints
	MaxSize int
	// Capture body byte budget
	SizeLimit int64
}

// Index is used for Docker Healthcheck commands to indicate
// whether the http server is up and running to take requests
func (api *Epcis) Index(ctx context.Context, writer http.ResponseWriter, request *http.Request) error {
	web.Respond(ctx, writer, "EPCIS Repository", http.StatusOK)
	return nil
}

// PostCapture ingests one EPCIS document.
// 201 Created, 400 Bad Request, 413 Entity Too Large, 415 Unsupported Media Type
func (api *Epcis) PostCapture(ctx context.Context, writer http.ResponseWriter, request *http.Request) error {

	metrics.GetOrRegisterGauge("Epcis.PostCapture.Attempt", nil).Update(1)
	startTime := time.Now()
	defer metrics.GetOrRegisterTimer("Epcis.PostCapture.Latency", nil).Update(time.Since(startTime))
	mDecodeErr := metrics.GetOrRegisterGauge("Epcis.PostCapture.Decode-Error", nil)
	mSuccess := metrics.GetOrRegisterGauge("Epcis.PostCapture.Success", nil)

	contentType := request.Header.Get("Content-Type")

	sizeLimit := api.SizeLimit
	if sizeLimit <= 0 {
		sizeLimit = 16 << 20
	}
	body, err := ioutil.ReadAll(http.MaxBytesReader(writer, request.Body, sizeLimit+1))
	if err != nil {
		return errors.Wrap(web.ErrEntityTooLarge, "capture body exceeds the configured budget")
	}

	if isJSONContent(contentType) {
		validation, err := schemas.ValidateSchemaRequest(body, schemas.CaptureDocumentSchema)
		if err != nil {
			return err
		}
		if !validation.Valid() {
			web.Respond(ctx, writer, schemas.BuildErrorsString(validation.Errors()), http.StatusBadRequest)
			return nil
		}
	}

	aggregate, err := decoder.DecodeDocument(contentType, strings.NewReader(string(body)), sizeLimit)
	if err != nil {
		mDecodeErr.Update(1)
		return err
	}
	aggregate.TenantID = web.TenantID(ctx)

	stored, err := api.Capture.Store(ctx, aggregate)
	if err != nil {
		var validationErr *capture.ValidationError
		if errors.As(err, &validationErr) {
			web.Respond(ctx, writer, struct {
				Error string                `json:"error"`
				Rules []epcis.RuleViolation `json:"rules"`
			}{Error: "validation failed", Rules: validationErr.Violations}, http.StatusBadRequest)
			return nil
		}
		return err
	}

	writer.Header().Set("Location", "/capture/"+stored.CaptureID)
	mSuccess.Update(1)
	web.Respond(ctx, writer, struct {
		CaptureID string `json:"captureId"`
	}{CaptureID: stored.CaptureID}, http.StatusCreated)
	return nil
}

// GetCaptures lists the tenant's captures, newest first.
func (api *Epcis) GetCaptures(ctx context.Context, writer http.ResponseWriter, request *http.Request) error {
	limit, offset := pagingParams(request, api.MaxSize)

	var captures []epcis.Capture
	err := api.DB.Tx(ctx, func(tx storage.Tx) error {
		var err error
		captures, err = tx.Captures(ctx, web.TenantID(ctx), limit, offset)
		return err
	})
	if err != nil {
		return errors.Wrap(err, "listing captures")
	}

	if captures == nil {
		captures = []epcis.Capture{}
	}
	web.Respond(ctx, writer, struct {
		Results []epcis.Capture `json:"results"`
	}{Results: captures}, http.StatusOK)
	return nil
}

// GetCapture returns one capture as an EPCIS document.
func (api *Epcis) GetCapture(ctx context.Context, writer http.ResponseWriter, request *http.Request) error {
	captureID := mux.Vars(request)["id"]

	var aggregate *epcis.Capture
	err := api.DB.Tx(ctx, func(tx storage.Tx) error {
		var err error
		aggregate, err = tx.CaptureByID(ctx, web.TenantID(ctx), captureID)
		return err
	})
	if err != nil {
		return err
	}

	if wantsXML(request) {
		body, err := encoder.EncodeDocumentXML(aggregate.Events, aggregate.SchemaVersion)
		if err != nil {
			return err
		}
		web.RespondRaw(ctx, writer, body, "application/xml", http.StatusOK)
		return nil
	}

	body, err := encoder.EncodeDocumentJSON(aggregate.Events)
	if err != nil {
		return err
	}
	web.RespondRaw(ctx, writer, body, "application/ld+json", http.StatusOK)
	return nil
}

// GetEvents runs an ad-hoc query over the tenant's events.
func (api *Epcis) GetEvents(ctx context.Context, writer http.ResponseWriter, request *http.Request) error {
	params := query.ParamsFromURL(request.URL.Query())
	results, err := api.Query.Execute(ctx, web.TenantID(ctx), params)
	if err != nil {
		return err
	}
	return respondQueryResults(ctx, writer, request, results, epcis.SimpleEventQuery)
}

// PostQuery creates a named query with a frozen parameter set.
func (api *Epcis) PostQuery(ctx context.Context, writer http.ResponseWriter, request *http.Request) error {
	body, err := ioutil.ReadAll(request.Body)
	if err != nil {
		return errors.Wrap(web.ErrInvalidInput, "reading request body")
	}

	validation, err := schemas.ValidateSchemaRequest(body, schemas.NamedQuerySchema)
	if err != nil {
		return err
	}
	if !validation.Valid() {
		web.Respond(ctx, writer, schemas.BuildErrorsString(validation.Errors()), http.StatusBadRequest)
		return nil
	}

	var payload struct {
		Name  string                 `json:"name"`
		Query map[string]interface{} `json:"query"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return errors.Wrap(web.ErrInvalidInput, err.Error())
	}

	parameters := parametersFromBody(payload.Query)
	if _, err := query.Parse(parameters); err != nil {
		return err
	}

	stored := &epcis.StoredQuery{
		Name:       payload.Name,
		QueryName:  epcis.SimpleEventQuery,
		TenantID:   web.TenantID(ctx),
		Parameters: parameters,
		CreatedAt:  time.Now().UTC(),
	}

	err = api.DB.Tx(ctx, func(tx storage.Tx) error {
		if _, err := tx.QueryByName(ctx, stored.TenantID, stored.Name); err == nil {
			return errors.Wrapf(web.ErrDuplicate, "query %q already exists", stored.Name)
		}
		return tx.UpsertQuery(ctx, stored)
	})
	if err != nil {
		return err
	}

	writer.Header().Set("Location", "/queries/"+stored.Name)
	web.Respond(ctx, writer, stored, http.StatusCreated)
	return nil
}

// GetQueries lists the tenant's named queries.
func (api *Epcis) GetQueries(ctx context.Context, writer http.ResponseWriter, request *http.Request) error {
	var queries []epcis.StoredQuery
	err := api.DB.Tx(ctx, func(tx storage.Tx) error {
		var err error
		queries, err = tx.ListQueries(ctx, web.TenantID(ctx))
		return err
	})
	if err != nil {
		return err
	}
	if queries == nil {
		queries = []epcis.StoredQuery{}
	}
	web.Respond(ctx, writer, queries, http.StatusOK)
	return nil
}

// GetQuery returns one named query definition.
func (api *Epcis) GetQuery(ctx context.Context, writer http.ResponseWriter, request *http.Request) error {
	stored, err := api.storedQuery(ctx, mux.Vars(request)["name"])
	if err != nil {
		return err
	}
	web.Respond(ctx, writer, stored, http.StatusOK)
	return nil
}

// DeleteQuery removes a named query.
func (api *Epcis) DeleteQuery(ctx context.Context, writer http.ResponseWriter, request *http.Request) error {
	name := mux.Vars(request)["name"]
	err := api.DB.Tx(ctx, func(tx storage.Tx) error {
		return tx.DeleteQuery(ctx, web.TenantID(ctx), name)
	})
	if err != nil {
		return err
	}
	web.Respond(ctx, writer, nil, http.StatusNoContent)
	return nil
}

// GetQueryEvents executes a named query. The frozen parameters combine
// with the pagination parameters of this request.
func (api *Epcis) GetQueryEvents(ctx context.Context, writer http.ResponseWriter, request *http.Request) error {
	stored, err := api.storedQuery(ctx, mux.Vars(request)["name"])
	if err != nil {
		return err
	}

	params := append([]epcis.Parameter(nil), stored.Parameters...)
	for _, param := range query.ParamsFromURL(request.URL.Query()) {
		switch param.Name {
		case "perPage", "nextPageToken", "maxEventCount", "orderBy", "orderDirection":
			params = append(params, param)
		}
	}

	results, err := api.Query.Execute(ctx, web.TenantID(ctx), params)
	if err != nil {
		return err
	}
	return respondQueryResults(ctx, writer, request, results, stored.Name)
}

// PostSubscription attaches a standing subscription to a named query.
func (api *Epcis) PostSubscription(ctx context.Context, writer http.ResponseWriter, request *http.Request) error {
	stored, err := api.storedQuery(ctx, mux.Vars(request)["name"])
	if err != nil {
		return err
	}

	body, err := ioutil.ReadAll(request.Body)
	if err != nil {
		return errors.Wrap(web.ErrInvalidInput, "reading request body")
	}
	validation, err := schemas.ValidateSchemaRequest(body, schemas.SubscriptionSchema)
	if err != nil {
		return err
	}
	if !validation.Valid() {
		web.Respond(ctx, writer, schemas.BuildErrorsString(validation.Errors()), http.StatusBadRequest)
		return nil
	}

	var payload struct {
		Name              string `json:"name"`
		Destination       string `json:"destination"`
		Schedule          string `json:"schedule"`
		Stream            bool   `json:"stream"`
		ReportIfEmpty     bool   `json:"reportIfEmpty"`
		InitialRecordTime string `json:"initialRecordTime"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return errors.Wrap(web.ErrInvalidInput, err.Error())
	}

	name := payload.Name
	if name == "" {
		name = stored.Name
	}
	newSubscription := &epcis.Subscription{
		Name:          name,
		QueryName:     stored.Name,
		TenantID:      web.TenantID(ctx),
		Parameters:    stored.Parameters,
		Destination:   payload.Destination,
		Stream:        payload.Stream,
		Schedule:      payload.Schedule,
		ReportIfEmpty: payload.ReportIfEmpty,
	}
	if payload.Schedule == "" && !payload.Stream {
		newSubscription.Stream = true
	}
	if payload.InitialRecordTime != "" {
		initial, err := time.Parse(time.RFC3339, payload.InitialRecordTime)
		if err != nil {
			return errors.Wrapf(web.ErrInvalidInput, "bad initialRecordTime %q", payload.InitialRecordTime)
		}
		newSubscription.InitialRecordTime = initial.UTC()
	}

	if err := api.Subscriptions.Create(ctx, newSubscription); err != nil {
		return err
	}

	writer.Header().Set("Location",
		"/queries/"+stored.Name+"/subscriptions/"+newSubscription.SubscriptionID)
	web.Respond(ctx, writer, newSubscription, http.StatusCreated)
	return nil
}

// GetSubscriptions lists the subscriptions of a named query with their
// delivery stats.
func (api *Epcis) GetSubscriptions(ctx context.Context, writer http.ResponseWriter, request *http.Request) error {
	stored, err := api.storedQuery(ctx, mux.Vars(request)["name"])
	if err != nil {
		return err
	}

	all, err := api.Subscriptions.List(ctx, web.TenantID(ctx))
	if err != nil {
		return err
	}

	matching := []epcis.Subscription{}
	for _, candidate := range all {
		if candidate.QueryName == stored.Name {
			matching = append(matching, candidate)
		}
	}
	web.Respond(ctx, writer, matching, http.StatusOK)
	return nil
}

// DeleteSubscription removes one subscription of a named query.
func (api *Epcis) DeleteSubscription(ctx context.Context, writer http.ResponseWriter, request *http.Request) error {
	subscriptionID := mux.Vars(request)["subscriptionId"]

	all, err := api.Subscriptions.List(ctx, web.TenantID(ctx))
	if err != nil {
		return err
	}
	for _, candidate := range all {
		if candidate.SubscriptionID == subscriptionID || candidate.Name == subscriptionID {
			if err := api.Subscriptions.Delete(ctx, web.TenantID(ctx), candidate.Name); err != nil {
				return err
			}
			web.Respond(ctx, writer, nil, http.StatusNoContent)
			return nil
		}
	}
	return web.ErrNotFound
}

// Discovery endpoints: distinct values over the tenant's events.

// GetEventTypes lists the distinct event types.
func (api *Epcis) GetEventTypes(ctx context.Context, writer http.ResponseWriter, request *http.Request) error {
	return api.distinct(ctx, writer, request, storage.FieldEventType)
}

// GetEpcs lists the distinct EPC ids.
func (api *Epcis) GetEpcs(ctx context.Context, writer http.ResponseWriter, request *http.Request) error {
	return api.distinct(ctx, writer, request, storage.FieldEpc)
}

// GetBizSteps lists the distinct business steps.
func (api *Epcis) GetBizSteps(ctx context.Context, writer http.ResponseWriter, request *http.Request) error {
	return api.distinct(ctx, writer, request, storage.FieldBizStep)
}

// GetDispositions lists the distinct dispositions.
func (api *Epcis) GetDispositions(ctx context.Context, writer http.ResponseWriter, request *http.Request) error {
	return api.distinct(ctx, writer, request, storage.FieldDisposition)
}

// GetReadPoints lists the distinct read points.
func (api *Epcis) GetReadPoints(ctx context.Context, writer http.ResponseWriter, request *http.Request) error {
	return api.distinct(ctx, writer, request, storage.FieldReadPoint)
}

// GetBizLocations lists the distinct business locations.
func (api *Epcis) GetBizLocations(ctx context.Context, writer http.ResponseWriter, request *http.Request) error {
	return api.distinct(ctx, writer, request, storage.FieldBizLocation)
}

func (api *Epcis) distinct(ctx context.Context, writer http.ResponseWriter, request *http.Request, field string) error {
	limit, offset := pagingParams(request, api.MaxSize)

	var values []string
	err := api.DB.Tx(ctx, func(tx storage.Tx) error {
		var err error
		values, err = tx.DistinctEventValues(ctx, web.TenantID(ctx), field, limit, offset)
		return err
	})
	if err != nil {
		return err
	}
	if values == nil {
		values = []string{}
	}
	web.Respond(ctx, writer, values, http.StatusOK)
	return nil
}

func (api *Epcis) storedQuery(ctx context.Context, name string) (*epcis.StoredQuery, error) {
	var stored *epcis.StoredQuery
	err := api.DB.Tx(ctx, func(tx storage.Tx) error {
		var err error
		stored, err = tx.QueryByName(ctx, web.TenantID(ctx), name)
		return err
	})
	return stored, err
}
