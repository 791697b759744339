/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package subscription

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	metrics "github.com/intel/rsp-sw-toolkit-im-suite-utilities/go-metrics"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/Robert-Freire/epcis/app/epcis"
	"github.com/Robert-Freire/epcis/app/query"
	"github.com/Robert-Freire/epcis/app/storage"
	"github.com/Robert-Freire/epcis/pkg/web"
)

// Controller is the CRUD surface over subscriptions; it keeps the
// engine's dispatch tables in step with the store.
type Controller struct {
	DB     storage.Store
	Engine *Engine
}

// Create validates and persists a subscription, then registers it for
// dispatch.
func (controller *Controller) Create(ctx context.Context, subscription *epcis.Subscription) error {

	metrics.GetOrRegisterGauge(`Epcis.Subscription.Create.Attempt`, nil).Update(1)
	mSuccess := metrics.GetOrRegisterGauge(`Epcis.Subscription.Create.Success`, nil)
	mInputErr := metrics.GetOrRegisterGauge(`Epcis.Subscription.Create.Input-Error`, nil)
	mUpsertErr := metrics.GetOrRegisterGauge(`Epcis.Subscription.Create.Upsert-Error`, nil)

	if subscription.Name == "" {
		mInputErr.Update(1)
		return errors.Wrap(web.ErrInvalidInput, "subscription name is required")
	}
	if err := validateDestination(subscription.Destination); err != nil {
		mInputErr.Update(1)
		return err
	}
	if subscription.Stream && subscription.Schedule != "" {
		mInputErr.Update(1)
		return errors.Wrap(web.ErrInvalidInput, "a subscription is either stream or scheduled, not both")
	}
	if !subscription.Stream {
		if subscription.Schedule == "" {
			mInputErr.Update(1)
			return errors.Wrap(web.ErrInvalidInput, "a non-stream subscription requires a schedule")
		}
		if _, err := cron.ParseStandard(subscription.Schedule); err != nil {
			mInputErr.Update(1)
			return errors.Wrapf(web.ErrInvalidInput, "bad schedule %q: %s", subscription.Schedule, err.Error())
		}
	}

	// the query parameters must parse now, not at first fire
	if _, err := query.Parse(subscription.Parameters); err != nil {
		mInputErr.Update(1)
		return err
	}

	subscription.SubscriptionID = uuid.New().String()
	subscription.Active = true
	if subscription.InitialRecordTime.IsZero() {
		subscription.InitialRecordTime = time.Now().UTC()
	}

	err := controller.DB.Tx(ctx, func(tx storage.Tx) error {
		return tx.UpsertSubscription(ctx, subscription)
	})
	if err != nil {
		mUpsertErr.Update(1)
		return errors.Wrap(err, "persisting subscription")
	}

	if controller.Engine != nil {
		if err := controller.Engine.Register(subscription); err != nil {
			return errors.Wrap(err, "registering subscription")
		}
	}

	mSuccess.Update(1)
	return nil
}

// Delete removes a subscription from the store and the dispatch tables.
func (controller *Controller) Delete(ctx context.Context, tenantID, name string) error {
	err := controller.DB.Tx(ctx, func(tx storage.Tx) error {
		return tx.DeleteSubscription(ctx, tenantID, name)
	})
	if err != nil {
		return err
	}
	if controller.Engine != nil {
		controller.Engine.Unregister(tenantID, name)
	}
	return nil
}

// List returns the tenant's subscriptions with their delivery stats.
func (controller *Controller) List(ctx context.Context, tenantID string) ([]epcis.Subscription, error) {
	var subscriptions []epcis.Subscription
	err := controller.DB.Tx(ctx, func(tx storage.Tx) error {
		var err error
		subscriptions, err = tx.ListSubscriptions(ctx, tenantID)
		return err
	})
	return subscriptions, err
}

func validateDestination(destination string) error {
	if destination == "" {
		return errors.Wrap(web.ErrInvalidInput, "subscription destination is required")
	}
	if strings.HasPrefix(destination, epcis.SocketDestinationPrefix) {
		if len(destination) == len(epcis.SocketDestinationPrefix) {
			return errors.Wrap(web.ErrInvalidInput, "socket destination names no topic")
		}
		return nil
	}
	parsed, err := url.Parse(destination)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return errors.Wrapf(web.ErrInvalidInput, "destination %q is neither a webhook URL nor a socket topic", destination)
	}
	return nil
}
