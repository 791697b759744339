/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package subscription

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// SocketHub fans subscription results out to websocket clients grouped
// by topic. Subscriptions with a ws: destination publish to the topic
// named after the prefix.
type SocketHub struct {
	mu       sync.Mutex
	topics   map[string]map[*websocket.Conn]bool
	upgrader websocket.Upgrader
}

// NewSocketHub returns an empty hub.
func NewSocketHub() *SocketHub {
	return &SocketHub{
		topics: map[string]map[*websocket.Conn]bool{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// Handle upgrades a client connection and parks it on the topic from the
// route until it closes.
func (hub *SocketHub) Handle(ctx context.Context, writer http.ResponseWriter, request *http.Request) error {
	topic := mux.Vars(request)["topic"]
	if topic == "" {
		return errors.New("socket topic is required")
	}

	connection, err := hub.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		// Upgrade already wrote the error response
		return nil
	}

	hub.register(topic, connection)
	log.WithFields(log.Fields{
		"Method": "SocketHub.Handle",
		"Topic":  topic,
	}).Info("socket client connected")

	go func() {
		defer hub.unregister(topic, connection)
		for {
			if _, _, err := connection.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return nil
}

func (hub *SocketHub) register(topic string, connection *websocket.Conn) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if hub.topics[topic] == nil {
		hub.topics[topic] = map[*websocket.Conn]bool{}
	}
	hub.topics[topic][connection] = true
}

func (hub *SocketHub) unregister(topic string, connection *websocket.Conn) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	delete(hub.topics[topic], connection)
	connection.Close()
}

// Publish writes the payload to every client on the topic. Clients that
// fail the write are dropped; publishing to an empty topic succeeds.
func (hub *SocketHub) Publish(topic string, payload []byte) error {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	for connection := range hub.topics[topic] {
		if err := connection.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.WithFields(log.Fields{
				"Method": "SocketHub.Publish",
				"Topic":  topic,
				"Error":  err.Error(),
			}).Warn("dropping socket client after failed write")
			delete(hub.topics[topic], connection)
			connection.Close()
		}
	}
	return nil
}
