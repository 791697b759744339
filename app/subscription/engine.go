/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

// Package subscription runs standing queries: it registers them,
// dispatches them on capture notifications or cron instants, delivers
// the results, and advances the per-subscription cursor.
package subscription

import (
	"context"
	"strings"
	"sync"
	"time"

	metrics "github.com/intel/rsp-sw-toolkit-im-suite-utilities/go-metrics"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Robert-Freire/epcis/app/encoder"
	"github.com/Robert-Freire/epcis/app/epcis"
	"github.com/Robert-Freire/epcis/app/eventbus"
	"github.com/Robert-Freire/epcis/app/query"
	"github.com/Robert-Freire/epcis/app/storage"
)

// Engine drives all subscriptions of the process. Delivery work runs on
// its own pool so backpressure there can never stall captures.
type Engine struct {
	DB    storage.Store
	Query *query.Engine
	Bus   *eventbus.Bus
	Hub   *SocketHub

	// Pool sizing; zero values take defaults
	Workers    int
	QueueDepth int

	// Burst coalescing window for capture-triggered runs
	Debounce time.Duration
	// Per-attempt webhook timeout
	DeliveryTimeout time.Duration

	// deliver is swapped by tests; the default dispatches ws: topics to
	// the hub and everything else to the webhook deliverer
	deliver func(ctx context.Context, destination string, payload []byte) (int64, error)

	mu         sync.Mutex
	info       map[string]subscriptionInfo
	states     map[string]*runState
	debouncers map[string]*time.Timer

	jobs      chan string
	scheduler *scheduler
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

type subscriptionInfo struct {
	tenantID string
	stream   bool
}

// runState serializes one subscription: a run never overlaps itself, and
// triggers arriving mid-run coalesce into at most one follow-up run.
type runState struct {
	running bool
	queued  bool
}

const (
	defaultWorkers    = 4
	defaultQueueDepth = 64
	defaultDebounce   = 250 * time.Millisecond
)

// Start loads the active subscriptions and brings up the workers, the
// scheduler and the capture listener.
func (engine *Engine) Start(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	engine.cancel = cancel

	engine.info = map[string]subscriptionInfo{}
	engine.states = map[string]*runState{}
	engine.debouncers = map[string]*time.Timer{}

	if engine.Workers <= 0 {
		engine.Workers = defaultWorkers
	}
	if engine.QueueDepth <= 0 {
		engine.QueueDepth = defaultQueueDepth
	}
	if engine.Debounce <= 0 {
		engine.Debounce = defaultDebounce
	}
	if engine.DeliveryTimeout <= 0 {
		engine.DeliveryTimeout = 30 * time.Second
	}
	if engine.deliver == nil {
		deliverer := newWebhookDeliverer(engine.DeliveryTimeout)
		engine.deliver = func(ctx context.Context, destination string, payload []byte) (int64, error) {
			if topic, ok := socketTopic(destination); ok {
				return 1, engine.Hub.Publish(topic, payload)
			}
			return deliverer.deliver(ctx, destination, payload)
		}
	}

	engine.jobs = make(chan string, engine.QueueDepth)
	engine.scheduler = newScheduler(engine.trigger)

	var active []epcis.Subscription
	err := engine.DB.Tx(ctx, func(tx storage.Tx) error {
		var err error
		active, err = tx.ActiveSubscriptions(ctx)
		return err
	})
	if err != nil {
		cancel()
		return errors.Wrap(err, "loading active subscriptions")
	}
	for i := range active {
		if err := engine.Register(&active[i]); err != nil {
			log.WithFields(log.Fields{
				"Method":       "subscription.Start",
				"Subscription": active[i].Name,
				"Error":        err.Error(),
			}).Error("skipping unloadable subscription")
		}
	}

	for worker := 0; worker < engine.Workers; worker++ {
		engine.wg.Add(1)
		go engine.work(ctx)
	}

	engine.wg.Add(1)
	go func() {
		defer engine.wg.Done()
		engine.scheduler.run(ctx)
	}()

	engine.wg.Add(1)
	go engine.listen(ctx, engine.Bus.Subscribe())

	return nil
}

// Stop cancels the workers and waits for in-flight runs.
func (engine *Engine) Stop() {
	if engine.cancel != nil {
		engine.cancel()
	}
	engine.wg.Wait()
}

// Register adds one subscription to the dispatch tables.
func (engine *Engine) Register(subscription *epcis.Subscription) error {
	key := subscriptionKey(subscription.TenantID, subscription.Name)

	if !subscription.Stream {
		if err := engine.scheduler.add(key, subscription.Schedule); err != nil {
			return errors.Wrapf(err, "bad schedule %q", subscription.Schedule)
		}
	}

	engine.mu.Lock()
	engine.info[key] = subscriptionInfo{tenantID: subscription.TenantID, stream: subscription.Stream}
	engine.mu.Unlock()
	return nil
}

// Unregister removes one subscription from the dispatch tables.
func (engine *Engine) Unregister(tenantID, name string) {
	key := subscriptionKey(tenantID, name)
	engine.scheduler.remove(key)

	engine.mu.Lock()
	delete(engine.info, key)
	if timer, ok := engine.debouncers[key]; ok {
		timer.Stop()
		delete(engine.debouncers, key)
	}
	engine.mu.Unlock()
}

// listen fires the tenant's stream subscriptions on every capture
// notification, behind the debounce window.
func (engine *Engine) listen(ctx context.Context, notifications <-chan eventbus.CaptureNotification) {
	defer engine.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case notification, ok := <-notifications:
			if !ok {
				return
			}
			engine.mu.Lock()
			var due []string
			for key, info := range engine.info {
				if info.stream && info.tenantID == notification.TenantID {
					due = append(due, key)
				}
			}
			engine.mu.Unlock()

			for _, key := range due {
				engine.debounceTrigger(key)
			}
		}
	}
}

// debounceTrigger coalesces capture bursts: the first notification arms
// a timer, later ones inside the window ride along.
func (engine *Engine) debounceTrigger(key string) {
	engine.mu.Lock()
	defer engine.mu.Unlock()

	if _, pending := engine.debouncers[key]; pending {
		return
	}
	engine.debouncers[key] = time.AfterFunc(engine.Debounce, func() {
		engine.mu.Lock()
		delete(engine.debouncers, key)
		engine.mu.Unlock()
		engine.trigger(key)
	})
}

// trigger moves the subscription toward Running, queueing at most one
// follow-up run if it is already busy.
func (engine *Engine) trigger(key string) {
	engine.mu.Lock()
	state := engine.states[key]
	if state == nil {
		state = &runState{}
		engine.states[key] = state
	}
	if state.running {
		state.queued = true
		engine.mu.Unlock()
		return
	}
	state.running = true
	engine.mu.Unlock()

	select {
	case engine.jobs <- key:
	default:
		metrics.GetOrRegisterGauge(`Epcis.Subscription.Queue-Full`, nil).Update(1)
		log.WithFields(log.Fields{
			"Method":       "subscription.trigger",
			"Subscription": key,
		}).Warn("subscription queue full, run dropped")
		engine.mu.Lock()
		state.running = false
		engine.mu.Unlock()
	}
}

func (engine *Engine) work(ctx context.Context) {
	defer engine.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case key := <-engine.jobs:
			engine.runOnce(ctx, key)

			engine.mu.Lock()
			state := engine.states[key]
			state.running = false
			queued := state.queued
			state.queued = false
			engine.mu.Unlock()

			if queued {
				engine.trigger(key)
			}
		}
	}
}

// runOnce executes one subscription run: query from the cursor, deliver,
// advance the cursor on success.
func (engine *Engine) runOnce(ctx context.Context, key string) {
	tenantID, name := splitKey(key)

	metrics.GetOrRegisterGauge(`Epcis.Subscription.Run`, nil).Update(1)
	mRunErr := metrics.GetOrRegisterGauge(`Epcis.Subscription.Run-Error`, nil)

	subscription, err := engine.lookup(ctx, tenantID, name)
	if err != nil || subscription == nil || !subscription.Active {
		return
	}

	cursor := subscription.LastExecutedTime
	if cursor.IsZero() {
		cursor = subscription.InitialRecordTime
	}

	params := append([]epcis.Parameter(nil), subscription.Parameters...)
	params = append(params, epcis.Parameter{
		Name:   "GT_recordTime",
		Values: []string{cursor.UTC().Format(time.RFC3339Nano)},
	})

	results, err := engine.Query.Execute(ctx, tenantID, params)
	if err != nil {
		mRunErr.Update(1)
		engine.record(ctx, tenantID, name, time.Time{}, 0, 1, err.Error())
		log.WithFields(log.Fields{
			"Method":       "subscription.runOnce",
			"Subscription": name,
			"Error":        err.Error(),
		}).Error("subscription query failed")
		return
	}

	if len(results.Events) == 0 && !subscription.ReportIfEmpty {
		return
	}

	payload, err := encoder.EncodeQueryResultsJSON(results.Events, subscription.QueryName, "")
	if err != nil {
		mRunErr.Update(1)
		engine.record(ctx, tenantID, name, time.Time{}, 0, 1, err.Error())
		return
	}

	attempts, err := engine.deliver(ctx, subscription.Destination, payload)
	if err != nil {
		mRunErr.Update(1)
		engine.record(ctx, tenantID, name, time.Time{}, attempts, 1, err.Error())
		log.WithFields(log.Fields{
			"Method":       "subscription.runOnce",
			"Subscription": name,
			"Error":        err.Error(),
		}).Error("subscription delivery failed")
		return
	}

	nextCursor := time.Time{}
	for i := range results.Events {
		if results.Events[i].RecordTime.After(nextCursor) {
			nextCursor = results.Events[i].RecordTime
		}
	}
	engine.record(ctx, tenantID, name, nextCursor, attempts, 0, "")

	log.WithFields(log.Fields{
		"Method":       "subscription.runOnce",
		"Subscription": name,
		"Events":       len(results.Events),
	}).Info("subscription delivered")
}

func (engine *Engine) lookup(ctx context.Context, tenantID, name string) (*epcis.Subscription, error) {
	var found *epcis.Subscription
	err := engine.DB.Tx(ctx, func(tx storage.Tx) error {
		subscriptions, err := tx.ListSubscriptions(ctx, tenantID)
		if err != nil {
			return err
		}
		for i := range subscriptions {
			if subscriptions[i].Name == name {
				found = &subscriptions[i]
				return nil
			}
		}
		return nil
	})
	return found, err
}

func (engine *Engine) record(ctx context.Context, tenantID, name string, cursor time.Time, attempts, failures int64, lastError string) {
	err := engine.DB.Tx(ctx, func(tx storage.Tx) error {
		return tx.RecordSubscriptionRun(ctx, tenantID, name, cursor, attempts, failures, lastError)
	})
	if err != nil {
		log.WithFields(log.Fields{
			"Method":       "subscription.record",
			"Subscription": name,
			"Error":        err.Error(),
		}).Error("recording subscription run failed")
	}
}

func subscriptionKey(tenantID, name string) string {
	return tenantID + "|" + name
}

func splitKey(key string) (string, string) {
	if i := strings.IndexByte(key, '|'); i >= 0 {
		return key[:i], key[i+1:]
	}
	return "", key
}

func socketTopic(destination string) (string, bool) {
	if strings.HasPrefix(destination, epcis.SocketDestinationPrefix) {
		return strings.TrimPrefix(destination, epcis.SocketDestinationPrefix), true
	}
	return "", false
}
