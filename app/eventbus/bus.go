/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

// Package eventbus is the in-process fan-out from the capture handler to
// its listeners. Publish never blocks; slow subscribers drop.
package eventbus

import (
	"sync"
	"time"

	metrics "github.com/intel/rsp-sw-toolkit-im-suite-utilities/go-metrics"
	log "github.com/sirupsen/logrus"
)

// CaptureNotification announces one committed capture. It is published
// strictly after the capture transaction commits, so listeners querying
// back always see a consistent store.
type CaptureNotification struct {
	CaptureID  string
	TenantID   string
	RecordTime time.Time
	EventCount int
}

// Bus is a bounded single-producer/multi-consumer fan-out.
type Bus struct {
	mu          sync.RWMutex
	subscribers []chan CaptureNotification
	buffer      int
	closed      bool
}

// New creates a bus whose subscriber channels buffer up to buffer
// notifications.
func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{buffer: buffer}
}

// Subscribe registers a new listener channel. The channel closes when
// the bus closes.
func (bus *Bus) Subscribe() <-chan CaptureNotification {
	bus.mu.Lock()
	defer bus.mu.Unlock()

	channel := make(chan CaptureNotification, bus.buffer)
	bus.subscribers = append(bus.subscribers, channel)
	return channel
}

// Publish fans the notification out without blocking. A subscriber with
// a full buffer misses the notification.
func (bus *Bus) Publish(notification CaptureNotification) {
	bus.mu.RLock()
	defer bus.mu.RUnlock()

	if bus.closed {
		return
	}

	for _, channel := range bus.subscribers {
		select {
		case channel <- notification:
		default:
			metrics.GetOrRegisterGauge(`Epcis.EventBus.Dropped`, nil).Update(1)
			log.WithFields(log.Fields{
				"Method":    "Bus.Publish",
				"CaptureID": notification.CaptureID,
			}).Warn("subscriber buffer full, notification dropped")
		}
	}
}

// Close closes every subscriber channel.
func (bus *Bus) Close() {
	bus.mu.Lock()
	defer bus.mu.Unlock()

	if bus.closed {
		return
	}
	bus.closed = true
	for _, channel := range bus.subscribers {
		close(channel)
	}
	bus.subscribers = nil
}
