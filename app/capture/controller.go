/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

// Package capture orchestrates one capture from decoded aggregate to
// durably persisted state, under at most one transaction.
package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	metrics "github.com/intel/rsp-sw-toolkit-im-suite-utilities/go-metrics"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Robert-Freire/epcis/app/epcis"
	"github.com/Robert-Freire/epcis/app/eventbus"
	"github.com/Robert-Freire/epcis/app/storage"
	"github.com/Robert-Freire/epcis/pkg/web"
)

// Handler persists captures and announces them on the bus.
type Handler struct {
	DB  storage.Store
	Bus *eventbus.Bus

	// Captures with more events than this fail outright
	MaxEventsPerCall int
}

// ValidationError carries the full rule-violation list. Its cause is
// web.ErrValidation so the boundary maps it to a 400.
type ValidationError struct {
	Violations []epcis.RuleViolation
}

// Error implements error.
func (validationError *ValidationError) Error() string {
	return fmt.Sprintf("capture failed %d validation rules", len(validationError.Violations))
}

// Cause lets errors.Cause unwrap to the validation sentinel.
func (validationError *ValidationError) Cause() error {
	return web.ErrValidation
}

// Store validates, hashes and persists the capture aggregate. On success
// the returned aggregate carries recordTime and all assigned ids, and a
// notification has been published best-effort.
func (handler *Handler) Store(ctx context.Context, capture *epcis.Capture) (*epcis.Capture, error) {

	// Metrics
	metrics.GetOrRegisterGauge(`Epcis.Capture.Attempt`, nil).Update(1)
	mSuccess := metrics.GetOrRegisterGauge(`Epcis.Capture.Success`, nil)
	mLimitErr := metrics.GetOrRegisterGauge(`Epcis.Capture.Limit-Error`, nil)
	mValidationErr := metrics.GetOrRegisterGauge(`Epcis.Capture.Validation-Error`, nil)
	mInsertErr := metrics.GetOrRegisterGauge(`Epcis.Capture.Insert-Error`, nil)
	mInsertLatency := metrics.GetOrRegisterTimer(`Epcis.Capture.Insert-Latency`, nil)

	if handler.MaxEventsPerCall > 0 && len(capture.Events) > handler.MaxEventsPerCall {
		mLimitErr.Update(1)
		return nil, errors.Wrapf(web.ErrCaptureLimit,
			"capture carries %d events, the cap is %d", len(capture.Events), handler.MaxEventsPerCall)
	}

	if violations := epcis.ValidateCapture(capture); violations != nil {
		mValidationErr.Update(1)
		return nil, &ValidationError{Violations: violations}
	}

	for i := range capture.Events {
		if capture.Events[i].EventID == "" {
			capture.Events[i].EventID = epcis.HashEvent(&capture.Events[i])
		}
	}

	if capture.CaptureID == "" {
		capture.CaptureID = uuid.New().String()
	}

	capture.RecordTime = time.Now().UTC()
	if capture.DocumentTime.IsZero() || capture.DocumentTime.After(capture.RecordTime) {
		capture.DocumentTime = capture.RecordTime
	}

	insertTimer := time.Now()
	err := handler.DB.Tx(ctx, func(tx storage.Tx) error {
		return tx.InsertCapture(ctx, capture)
	})
	if err != nil {
		mInsertErr.Update(1)
		return nil, errors.Wrap(err, "persisting capture")
	}
	mInsertLatency.Update(time.Since(insertTimer))

	// best-effort; delivery never affects the caller's result
	if handler.Bus != nil {
		handler.Bus.Publish(eventbus.CaptureNotification{
			CaptureID:  capture.CaptureID,
			TenantID:   capture.TenantID,
			RecordTime: capture.RecordTime,
			EventCount: len(capture.Events),
		})
	}

	log.WithFields(log.Fields{
		"Method":    "capture.Store",
		"CaptureID": capture.CaptureID,
		"Events":    len(capture.Events),
	}).Info("capture persisted")

	mSuccess.Update(1)
	return capture, nil
}
