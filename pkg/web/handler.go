/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package web

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type ctxKey int

// KeyValues is the context key for the per-request ContextValues.
const KeyValues ctxKey = 1

// ContextValues carries request-scoped values every handler and the
// response plumbing can rely on.
type ContextValues struct {
	TraceID    string
	Method     string
	RequestURI string
	// Tenant id resolved by the identity middleware; empty until then
	TenantID string
}

// Handler is the signature all API handlers implement. Returned errors
// are translated to HTTP statuses by web.Error.
type Handler func(ctx context.Context, writer http.ResponseWriter, request *http.Request) error

// ServeHTTP makes Handler satisfy http.Handler, seeding the context with
// the per-request values.
func (handler Handler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {

	values := ContextValues{
		TraceID:    uuid.New().String(),
		Method:     request.Method,
		RequestURI: request.RequestURI,
	}
	ctx := context.WithValue(request.Context(), KeyValues, &values)

	if err := handler(ctx, writer, request.WithContext(ctx)); err != nil {
		Error(ctx, writer, err)
	}
}

// TenantID returns the tenant resolved for the request, or empty when the
// identity middleware has not run.
func TenantID(ctx context.Context) string {
	if values, ok := ctx.Value(KeyValues).(*ContextValues); ok {
		return values.TenantID
	}
	return ""
}
