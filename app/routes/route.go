/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package routes

import (
	"github.com/gorilla/mux"

	"github.com/Robert-Freire/epcis/app/capture"
	"github.com/Robert-Freire/epcis/app/config"
	"github.com/Robert-Freire/epcis/app/query"
	"github.com/Robert-Freire/epcis/app/routes/handlers"
	"github.com/Robert-Freire/epcis/app/soap"
	"github.com/Robert-Freire/epcis/app/storage"
	"github.com/Robert-Freire/epcis/app/subscription"
	"github.com/Robert-Freire/epcis/pkg/middlewares"
	"github.com/Robert-Freire/epcis/pkg/web"
)

// Route struct holds attributes to declare routes
type Route struct {
	Name        string
	Method      string
	Pattern     string
	HandlerFunc web.Handler
}

// NewRouter creates the routes for the EPCIS 2.0 REST surface and the
// 1.2 SOAP endpoint.
func NewRouter(db storage.Store, captureHandler *capture.Handler, queryEngine *query.Engine,
	subscriptions *subscription.Controller, hub *subscription.SocketHub) *mux.Router {

	api := handlers.Epcis{
		DB:            db,
		Capture:       captureHandler,
		Query:         queryEngine,
		Subscriptions: subscriptions,
		Hub:           hub,
		MaxSize:       config.AppConfig.ResponseLimit,
		SizeLimit:     int64(config.AppConfig.CaptureSizeLimitBytes),
	}
	soapAPI := soap.Handler{DB: db, Query: queryEngine, Subscriptions: subscriptions}

	var routes = []Route{
		{
			"Index",
			"GET",
			"/",
			api.Index,
		},
		{
			"PostCapture",
			"POST",
			"/capture",
			api.PostCapture,
		},
		{
			"GetCaptures",
			"GET",
			"/capture",
			api.GetCaptures,
		},
		{
			"GetCapture",
			"GET",
			"/capture/{id}",
			api.GetCapture,
		},
		{
			"GetEvents",
			"GET",
			"/events",
			api.GetEvents,
		},
		{
			"GetEventTypes",
			"GET",
			"/eventTypes",
			api.GetEventTypes,
		},
		{
			"GetEpcs",
			"GET",
			"/epcs",
			api.GetEpcs,
		},
		{
			"GetBizSteps",
			"GET",
			"/bizSteps",
			api.GetBizSteps,
		},
		{
			"GetBizLocations",
			"GET",
			"/bizLocations",
			api.GetBizLocations,
		},
		{
			"GetReadPoints",
			"GET",
			"/readPoints",
			api.GetReadPoints,
		},
		{
			"GetDispositions",
			"GET",
			"/dispositions",
			api.GetDispositions,
		},
		{
			"PostQuery",
			"POST",
			"/queries",
			api.PostQuery,
		},
		{
			"GetQueries",
			"GET",
			"/queries",
			api.GetQueries,
		},
		{
			"GetQuery",
			"GET",
			"/queries/{name}",
			api.GetQuery,
		},
		{
			"DeleteQuery",
			"DELETE",
			"/queries/{name}",
			api.DeleteQuery,
		},
		{
			"GetQueryEvents",
			"GET",
			"/queries/{name}/events",
			api.GetQueryEvents,
		},
		{
			"PostSubscription",
			"POST",
			"/queries/{name}/subscriptions",
			api.PostSubscription,
		},
		{
			"GetSubscriptions",
			"GET",
			"/queries/{name}/subscriptions",
			api.GetSubscriptions,
		},
		{
			"DeleteSubscription",
			"DELETE",
			"/queries/{name}/subscriptions/{subscriptionId}",
			api.DeleteSubscription,
		},
		{
			"SocketSubscriptions",
			"GET",
			"/queries/ws/{topic}",
			hub.Handle,
		},
		{
			"SoapQuery",
			"POST",
			"/Query.svc",
			soapAPI.Post,
		},
	}

	router := mux.NewRouter().StrictSlash(true)
	for _, route := range routes {
		handler := route.HandlerFunc

		// the health endpoint stays open; everything else resolves a
		// tenant first
		if route.Name != "Index" {
			handler = middlewares.Identity(handler)
		}
		handler = middlewares.Bodylimiter(int64(config.AppConfig.CaptureSizeLimitBytes), handler)
		if config.AppConfig.EnableCORS {
			handler = middlewares.CORS(config.AppConfig.CORSOrigin, handler)
		}

		router.
			Methods(route.Method).
			Path(route.Pattern).
			Name(route.Name).
			Handler(handler)
	}
	return router
}
