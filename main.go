/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	metrics "github.com/intel/rsp-sw-toolkit-im-suite-utilities/go-metrics"
	reporter "github.com/intel/rsp-sw-toolkit-im-suite-utilities/go-metrics-influxdb"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Robert-Freire/epcis/app/capture"
	"github.com/Robert-Freire/epcis/app/config"
	"github.com/Robert-Freire/epcis/app/eventbus"
	"github.com/Robert-Freire/epcis/app/query"
	"github.com/Robert-Freire/epcis/app/routes"
	"github.com/Robert-Freire/epcis/app/storage"
	"github.com/Robert-Freire/epcis/app/storage/memory"
	"github.com/Robert-Freire/epcis/app/storage/mongodb"
	"github.com/Robert-Freire/epcis/app/storage/postgres"
	"github.com/Robert-Freire/epcis/app/subscription"
	"github.com/Robert-Freire/epcis/pkg/healthcheck"
)

func main() {

	mConfigurationError := metrics.GetOrRegisterGauge("Epcis.Main.ConfigurationError", nil)
	mDatabaseRegisterError := metrics.GetOrRegisterGauge("Epcis.Main.DatabaseRegisterError", nil)
	mSubscriptionStartError := metrics.GetOrRegisterGauge("Epcis.Main.SubscriptionStartError", nil)

	// Ensure simple text format
	log.SetFormatter(&log.TextFormatter{
		DisableColors: true,
		FullTimestamp: true,
	})

	isHealthyPtr := flag.Bool("isHealthy", false, "a bool, runs the Docker healthcheck probe instead of the service")
	flag.Parse()

	// Load config variables
	err := config.InitConfig()
	fatalErrorHandler("unable to load configuration variables", err, mConfigurationError)

	if *isHealthyPtr {
		os.Exit(healthcheck.Healthcheck(config.AppConfig.Port))
	}

	// Initialize metrics reporting
	initMetrics()

	setLoggingLevel(config.AppConfig.LoggingLevel)

	log.WithFields(log.Fields{
		"Method": "main",
		"Action": "Start",
	}).Info("Starting EPCIS repository...")

	masterDB, err := connectStorage()
	fatalErrorHandler("unable to register the master db", err, mDatabaseRegisterError)
	defer masterDB.Close()

	bus := eventbus.New(config.AppConfig.SubscriptionQueueDepth)
	defer bus.Close()

	captureHandler := &capture.Handler{
		DB:               masterDB,
		Bus:              bus,
		MaxEventsPerCall: config.AppConfig.MaxEventsPerCall,
	}

	superUsers := map[string]bool{}
	for _, tenant := range config.AppConfig.SuperUsers {
		superUsers[tenant] = true
	}
	queryEngine := &query.Engine{
		DB:                masterDB,
		MaxEventsReturned: config.AppConfig.MaxEventsReturnedInQuery,
		PaginationSecret:  []byte(config.AppConfig.PaginationSecret),
		SuperUsers:        superUsers,
	}

	hub := subscription.NewSocketHub()
	subscriptionEngine := &subscription.Engine{
		DB:         masterDB,
		Query:      queryEngine,
		Bus:        bus,
		Hub:        hub,
		Workers:    config.AppConfig.SubscriptionWorkers,
		QueueDepth: config.AppConfig.SubscriptionQueueDepth,
	}
	err = subscriptionEngine.Start(context.Background())
	fatalErrorHandler("unable to start the subscription engine", err, mSubscriptionStartError)
	defer subscriptionEngine.Stop()

	subscriptions := &subscription.Controller{DB: masterDB, Engine: subscriptionEngine}

	startWebServer(masterDB, captureHandler, queryEngine, subscriptions, hub)

	log.WithField("Method", "main").Info("Completed.")
}

// connectStorage selects the provider named by the configuration.
func connectStorage() (storage.Store, error) {
	commandTimeout := time.Duration(config.AppConfig.CommandTimeoutSec) * time.Second

	switch config.AppConfig.StorageProvider {
	case "postgres":
		return postgres.NewSession(config.AppConfig.ConnectionString, commandTimeout)
	case "mongodb":
		dbHost := config.AppConfig.ConnectionString + "/" + config.AppConfig.DatabaseName
		return mongodb.NewSession(dbHost, commandTimeout)
	case "memory":
		return memory.NewDB(), nil
	}
	return nil, errors.Errorf("unknown storage provider %q", config.AppConfig.StorageProvider)
}

func startWebServer(db storage.Store, captureHandler *capture.Handler, queryEngine *query.Engine,
	subscriptions *subscription.Controller, hub *subscription.SocketHub) {

	// Start Webserver and pass additional data
	router := routes.NewRouter(db, captureHandler, queryEngine, subscriptions, hub)

	// Create a new server and set timeout values.
	server := http.Server{
		Addr:           ":" + config.AppConfig.Port,
		Handler:        router,
		ReadTimeout:    time.Duration(config.AppConfig.ServerReadTimeOutSeconds) * time.Second,
		WriteTimeout:   time.Duration(config.AppConfig.ServerWriteTimeOutSeconds) * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	// We want to report the listener is closed.
	var wg sync.WaitGroup
	wg.Add(1)

	// Start the listener.
	go func() {
		log.Infof("%s running!", config.AppConfig.ServiceName)
		log.Infof("Listener closed : %v", server.ListenAndServe())
		wg.Done()
	}()

	// Listen for an interrupt signal from the OS.
	osSignals := make(chan os.Signal, 1)
	signal.Notify(osSignals, os.Interrupt)

	// Wait for a signal to shutdown.
	<-osSignals

	// Create a context to attempt a graceful 5 second shutdown.
	const timeout = 5 * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Attempt the graceful shutdown by closing the listener and
	// completing all inflight requests.
	if err := server.Shutdown(ctx); err != nil {
		log.WithFields(log.Fields{
			"Method":  "main",
			"Action":  "shutdown",
			"Timeout": timeout,
			"Message": err.Error(),
		}).Error("Graceful shutdown did not complete")

		// Looks like we timedout on the graceful shutdown. Kill it hard.
		if err := server.Close(); err != nil {
			log.WithFields(log.Fields{
				"Method": "main",
				"Action": "shutdown",
				"Error":  err.Error(),
			}).Error("Error killing server")
		}
	}

	wg.Wait()
}

func fatalErrorHandler(message string, err error, errorGauge metrics.Gauge) {
	if err != nil {
		errorGauge.Update(1)
		log.WithFields(log.Fields{
			"Method": "main",
			"Error":  err.Error(),
		}).Fatal(message)
	}
}

func setLoggingLevel(loggingLevel string) {
	switch strings.ToLower(loggingLevel) {
	case "error":
		log.SetLevel(log.ErrorLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "debug":
		log.SetLevel(log.DebugLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}

func initMetrics() {
	// setup metrics reporting
	if config.AppConfig.TelemetryEndpoint != "" {
		go reporter.InfluxDBWithTags(
			metrics.DefaultRegistry,
			time.Second*10,
			config.AppConfig.TelemetryEndpoint,
			config.AppConfig.TelemetryDataStoreName,
			"",
			"",
			nil,
		)
	}
}
