/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package web

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// JSONError is the response for errors that occur within the API.
type JSONError struct {
	// The error message
	Error string `json:"error"`
}

var (
	// ErrNotAuthorized occurs when the call is not authorized.
	ErrNotAuthorized = errors.New("Not authorized")

	// ErrDBNotConfigured occurs when the DB is not initialized.
	ErrDBNotConfigured = errors.New("DB not initialized")

	// ErrNotFound is abstracting the storage not found error.
	ErrNotFound = errors.New("Entity not found")

	// ErrInvalidID occurs when an ID is not in a valid form.
	ErrInvalidID = errors.New("ID is not in it's proper form")

	// ErrValidation occurs when there are validation errors.
	ErrValidation = errors.New("Validation errors occurred")

	// ErrInvalidInput occurs when the input data is invalid
	ErrInvalidInput = errors.New("Invalid input data")

	// ErrEntityTooLarge occurs when the request body exceeds the size
	// limit.
	ErrEntityTooLarge = errors.New("Request entity too large")

	// ErrUnsupportedParameter occurs when a query parameter name is not
	// part of the closed grammar.
	ErrUnsupportedParameter = errors.New("Unsupported query parameter")

	// ErrQueryTooLarge occurs when a query would exceed the configured
	// result cap under eventCountLimit.
	ErrQueryTooLarge = errors.New("Query result exceeds the configured cap")

	// ErrCaptureLimit occurs when a capture carries more events than the
	// configured per-call cap.
	ErrCaptureLimit = errors.New("Capture exceeds the per-call event cap")

	// ErrUnsupportedMediaType occurs when the request content type maps
	// to no decoder.
	ErrUnsupportedMediaType = errors.New("Unsupported media type")

	// ErrDuplicate occurs when a named entity already exists.
	ErrDuplicate = errors.New("Entity already exists")
)

// Error handles all error responses for the API.
func Error(ctx context.Context, writer http.ResponseWriter, err error) {

	// Handling client errors
	switch errors.Cause(err) {
	case ErrNotFound:
		RespondError(ctx, writer, err, http.StatusNotFound)
		return

	case ErrInvalidID:
		RespondError(ctx, writer, err, http.StatusBadRequest)
		return

	case ErrValidation:
		RespondError(ctx, writer, err, http.StatusBadRequest)
		return

	case ErrNotAuthorized:
		RespondError(ctx, writer, err, http.StatusUnauthorized)
		return

	case ErrInvalidInput:
		RespondError(ctx, writer, err, http.StatusBadRequest)
		return

	case ErrUnsupportedParameter:
		RespondError(ctx, writer, err, http.StatusBadRequest)
		return

	case ErrEntityTooLarge:
		RespondError(ctx, writer, err, http.StatusRequestEntityTooLarge)
		return

	case ErrQueryTooLarge:
		RespondError(ctx, writer, err, http.StatusRequestEntityTooLarge)
		return

	case ErrCaptureLimit:
		RespondError(ctx, writer, err, http.StatusRequestEntityTooLarge)
		return

	case ErrUnsupportedMediaType:
		RespondError(ctx, writer, err, http.StatusUnsupportedMediaType)
		return

	case ErrDuplicate:
		RespondError(ctx, writer, err, http.StatusConflict)
		return

	case context.Canceled:
		// Caller went away; no body
		return
	}

	// Handler server error
	contextValues := ctx.Value(KeyValues).(*ContextValues)
	// Log errors
	log.WithFields(log.Fields{
		"Method":     contextValues.Method,
		"RequestURI": contextValues.RequestURI,
		"TraceID":    contextValues.TraceID,
		"Code":       http.StatusInternalServerError,
		"Error":      err.Error(),
	}).Error("Server error")

	//Send a general error to the client
	serverError := errors.New("an error has occurred. Try again")
	RespondError(ctx, writer, serverError, http.StatusInternalServerError)
}

// RespondError sends JSON describing the error
func RespondError(ctx context.Context, writer http.ResponseWriter, err error, code int) {
	Respond(ctx, writer, JSONError{Error: err.Error()}, code)
}

// Respond sends JSON to the client.
// If code is StatusNoContent, v is expected to be nil.
func Respond(ctx context.Context, writer http.ResponseWriter, data interface{}, code int) {

	contextValues := ctx.Value(KeyValues).(*ContextValues)

	// Just set the status code and we are done.
	if code == http.StatusNoContent || (code == http.StatusOK && data == nil) {
		writer.WriteHeader(code)
		return
	}
	if code == http.StatusCreated && data == nil {
		data = "Successful"
	}

	// Set the content type.
	writer.Header().Set("Content-Type", "application/json")

	// Write the status code to the response
	writer.WriteHeader(code)

	// Marshal the response data
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		log.WithFields(log.Fields{
			"Function": "web.response",
			"Action":   "MarshalIndent",
			"TraceId":  contextValues.TraceID,
			"Error":    err.Error(),
		}).Error("Error Marshalling JSON response")
		jsonData = []byte("{}")
	}

	// Send the result back to the client.
	_, err = writer.Write(jsonData)
	if err != nil {
		log.WithFields(log.Fields{
			"Function":   "web.response",
			"Action":     "ResponseWriter write()",
			"Method":     contextValues.Method,
			"RequestURI": contextValues.RequestURI,
			"TraceId":    contextValues.TraceID,
			"Error":      err.Error(),
		}).Error("Error writing JSON response")
	}
}

// RespondRaw sends pre-encoded bytes (XML or JSON-LD documents) with the
// given content type.
func RespondRaw(ctx context.Context, writer http.ResponseWriter, data []byte, contentType string, code int) {

	contextValues := ctx.Value(KeyValues).(*ContextValues)

	writer.Header().Set("Content-Type", contentType)
	writer.WriteHeader(code)

	if _, err := writer.Write(data); err != nil {
		log.WithFields(log.Fields{
			"Function":   "web.RespondRaw",
			"Method":     contextValues.Method,
			"RequestURI": contextValues.RequestURI,
			"TraceId":    contextValues.TraceID,
			"Error":      err.Error(),
		}).Error("Error writing response")
	}
}
