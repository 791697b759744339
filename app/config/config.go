/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package config

import (
	"github.com/intel/rsp-sw-toolkit-im-suite-utilities/configuration"
	"github.com/intel/rsp-sw-toolkit-im-suite-utilities/helper"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	maxServerReadTimeoutSeconds  = 1800
	maxServerWriteTimeoutSeconds = 1800
)

type (
	variables struct {
		ServiceName, LoggingLevel, Port string

		// Storage
		StorageProvider   string
		ConnectionString  string
		DatabaseName      string
		CommandTimeoutSec int

		// Capture and query caps
		MaxEventsPerCall         int
		MaxEventsReturnedInQuery int
		CaptureSizeLimitBytes    int

		// Cursor token signing
		PaginationSecret string

		// Tenants exempt from the implicit tenant predicate
		SuperUsers []string

		ServerReadTimeOutSeconds  int
		ServerWriteTimeOutSeconds int
		ResponseLimit             int

		SubscriptionWorkers    int
		SubscriptionQueueDepth int

		TelemetryEndpoint, TelemetryDataStoreName string

		EnableCORS bool
		CORSOrigin string
	}
)

// AppConfig exports all config variables
var AppConfig variables

// InitConfig loads application variables
func InitConfig() error {
	AppConfig = variables{}

	config, err := configuration.NewConfiguration()
	if err != nil {
		return errors.Wrapf(err, "Unable to load config variables: %s", err.Error())
	}

	AppConfig.ServiceName, err = config.GetString("serviceName")
	if err != nil {
		return errors.Wrapf(err, "Unable to load config variables: %s", err.Error())
	}

	AppConfig.LoggingLevel, err = config.GetString("loggingLevel")
	if err != nil {
		return errors.Wrapf(err, "Unable to load config variables: %s", err.Error())
	}

	AppConfig.Port, err = config.GetString("port")
	if err != nil {
		return errors.Wrapf(err, "Unable to load config variables: %s", err.Error())
	}

	AppConfig.StorageProvider, err = config.GetString("storageProvider")
	if err != nil {
		return errors.Wrapf(err, "Unable to load config variables: %s", err.Error())
	}
	switch AppConfig.StorageProvider {
	case "postgres", "mongodb", "memory":
	default:
		return errors.Errorf("storageProvider must be postgres, mongodb or memory, got %q", AppConfig.StorageProvider)
	}

	AppConfig.ConnectionString, err = config.GetString("connectionString")
	if err != nil {
		return errors.Wrapf(err, "Unable to load config variables: %s", err.Error())
	}

	AppConfig.DatabaseName, err = config.GetString("databaseName")
	if err != nil {
		return errors.Wrapf(err, "Unable to load config variables: %s", err.Error())
	}

	AppConfig.CommandTimeoutSec, err = config.GetInt("commandTimeoutSeconds")
	if err != nil {
		return errors.Wrapf(err, "Unable to load config variables: %s", err.Error())
	}

	AppConfig.MaxEventsPerCall, err = config.GetInt("maxEventsPerCall")
	if err != nil {
		return errors.Wrapf(err, "Unable to load config variables: %s", err.Error())
	}
	if AppConfig.MaxEventsPerCall < 1 {
		return errors.New("maxEventsPerCall cannot be lesser than 1")
	}

	AppConfig.MaxEventsReturnedInQuery, err = config.GetInt("maxEventsReturnedInQuery")
	if err != nil {
		return errors.Wrapf(err, "Unable to load config variables: %s", err.Error())
	}
	if AppConfig.MaxEventsReturnedInQuery < 1 {
		return errors.New("maxEventsReturnedInQuery cannot be lesser than 1")
	}

	AppConfig.CaptureSizeLimitBytes, err = config.GetInt("captureSizeLimitBytes")
	if err != nil {
		return errors.Wrapf(err, "Unable to load config variables: %s", err.Error())
	}

	// secret material may arrive through the secrets mount instead of
	// the config file
	AppConfig.PaginationSecret, err = helper.GetSecret("paginationSecret")
	if err != nil {
		AppConfig.PaginationSecret, err = config.GetString("paginationSecret")
		if err != nil {
			return errors.Wrapf(err, "Unable to load config variables: %s", err.Error())
		}
	}

	AppConfig.SuperUsers, err = config.GetStringSlice("superUsers")
	if err != nil {
		return errors.Wrapf(err, "Unable to load config variables: %s", err.Error())
	}

	AppConfig.ServerReadTimeOutSeconds, err = config.GetInt("serverReadTimeOutSeconds")
	if err != nil {
		return errors.Wrapf(err, "Unable to load config variables: %s", err.Error())
	}
	if AppConfig.ServerReadTimeOutSeconds < 1 {
		return errors.New("ServerReadTimeOutSeconds cannot be lesser than 1")
	}
	if AppConfig.ServerReadTimeOutSeconds > maxServerReadTimeoutSeconds {
		// limit to max value
		log.Debugf("serverReadTimeOutSeconds value %d exceeds the max value allowed, set to max value %d",
			AppConfig.ServerReadTimeOutSeconds, maxServerReadTimeoutSeconds)
		AppConfig.ServerReadTimeOutSeconds = maxServerReadTimeoutSeconds
	}

	AppConfig.ServerWriteTimeOutSeconds, err = config.GetInt("serverWriteTimeOutSeconds")
	if err != nil {
		return errors.Wrapf(err, "Unable to load config variables: %s", err.Error())
	}
	if AppConfig.ServerWriteTimeOutSeconds < 1 {
		return errors.New("ServerWriteTimeOutSeconds cannot be lesser than 1")
	}
	if AppConfig.ServerWriteTimeOutSeconds > maxServerWriteTimeoutSeconds {
		// limit to max value
		log.Debugf("serverWriteTimeOutSeconds value %d exceeds the max value allowed, set to max value %d",
			AppConfig.ServerWriteTimeOutSeconds, maxServerWriteTimeoutSeconds)
		AppConfig.ServerWriteTimeOutSeconds = maxServerWriteTimeoutSeconds
	}

	AppConfig.ResponseLimit, err = config.GetInt("responseLimit")
	if err != nil {
		return errors.Wrapf(err, "Unable to load config variables: %s", err.Error())
	}

	AppConfig.SubscriptionWorkers, err = config.GetInt("subscriptionWorkers")
	if err != nil {
		return errors.Wrapf(err, "Unable to load config variables: %s", err.Error())
	}

	AppConfig.SubscriptionQueueDepth, err = config.GetInt("subscriptionQueueDepth")
	if err != nil {
		return errors.Wrapf(err, "Unable to load config variables: %s", err.Error())
	}

	AppConfig.TelemetryEndpoint, err = config.GetString("telemetryEndpoint")
	if err != nil {
		return errors.Wrapf(err, "Unable to load config variables: %s", err.Error())
	}

	AppConfig.TelemetryDataStoreName, err = config.GetString("telemetryDataStoreName")
	if err != nil {
		return errors.Wrapf(err, "Unable to load config variables: %s", err.Error())
	}

	AppConfig.EnableCORS, err = config.GetBool("enableCORS")
	if err != nil {
		return errors.Wrapf(err, "Unable to load config variables: %s", err.Error())
	}

	if AppConfig.EnableCORS {
		AppConfig.CORSOrigin, err = config.GetString("corsOrigin")
		if err != nil {
			return errors.Wrapf(err, "Unable to load config variables: %s", err.Error())
		}
	}

	return nil
}
