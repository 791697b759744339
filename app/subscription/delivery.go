/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package subscription

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"math/rand"
	"net/http"
	"time"

	metrics "github.com/intel/rsp-sw-toolkit-im-suite-utilities/go-metrics"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// webhookDeliverer POSTs subscription results, retrying transient
// failures with exponential backoff.
type webhookDeliverer struct {
	// Per-attempt request timeout
	Timeout time.Duration
	// Attempt cap; beyond it the delivery fails for good
	MaxAttempts int
	// First backoff; doubles per attempt with +/-25% jitter
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func newWebhookDeliverer(timeout time.Duration) *webhookDeliverer {
	return &webhookDeliverer{
		Timeout:     timeout,
		MaxAttempts: 10,
		BackoffBase: time.Second,
		BackoffMax:  5 * time.Minute,
	}
}

// deliver returns the attempts made and the final error, nil on a 2xx.
// 4xx statuses are permanent and do not retry.
func (deliverer *webhookDeliverer) deliver(ctx context.Context, destination string, payload []byte) (int64, error) {

	metrics.GetOrRegisterMeter(`Epcis.Delivery.Attempt`, nil).Mark(1)
	mSuccess := metrics.GetOrRegisterGauge(`Epcis.Delivery.Success`, nil)
	mPostErr := metrics.GetOrRegisterGauge(`Epcis.Delivery.Post-Error`, nil)
	mPostLatency := metrics.GetOrRegisterTimer(`Epcis.Delivery.Post-Latency`, nil)

	var attempts int64
	var lastErr error
	backoff := deliverer.BackoffBase

	for attempt := 0; attempt < deliverer.MaxAttempts; attempt++ {
		attempts++
		log.Debugf("delivery attempt %d of %d to %s", attempt+1, deliverer.MaxAttempts, destination)

		postTimer := time.Now()
		permanent, err := deliverer.post(ctx, destination, payload)
		if err == nil {
			mPostLatency.Update(time.Since(postTimer))
			mSuccess.Update(1)
			return attempts, nil
		}
		lastErr = err
		mPostErr.Update(1)
		if permanent {
			return attempts, err
		}

		select {
		case <-ctx.Done():
			return attempts, ctx.Err()
		case <-time.After(jitter(backoff)):
		}
		backoff *= 2
		if backoff > deliverer.BackoffMax {
			backoff = deliverer.BackoffMax
		}
	}

	return attempts, errors.Wrapf(lastErr, "delivery to %s failed after %d attempts", destination, attempts)
}

// post makes one POST. The bool reports whether the failure is permanent.
func (deliverer *webhookDeliverer) post(ctx context.Context, destination string, payload []byte) (bool, error) {
	client := &http.Client{Timeout: deliverer.Timeout}

	request, err := http.NewRequest(http.MethodPost, destination, bytes.NewReader(payload))
	if err != nil {
		return true, errors.Wrap(err, "building delivery request")
	}
	request = request.WithContext(ctx)
	request.Header.Set("Content-Type", "application/json")

	response, err := client.Do(request)
	if err != nil {
		return false, errors.Wrap(err, "posting delivery")
	}
	defer func() {
		io.Copy(ioutil.Discard, response.Body)
		response.Body.Close()
	}()

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return false, nil
	}
	err = errors.Errorf("delivery returned status %d", response.StatusCode)
	if response.StatusCode >= 400 && response.StatusCode < 500 {
		return true, err
	}
	return false, err
}

// jitter spreads a backoff by +/-25% so retry storms decorrelate.
func jitter(duration time.Duration) time.Duration {
	quarter := int64(duration) / 4
	if quarter <= 0 {
		return duration
	}
	return time.Duration(int64(duration) - quarter + rand.Int63n(2*quarter))
}
