/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

// Package integrationtest centralizes database access for the tests
// that need a live engine:
//     1. every session carries an application_name made of the test
//     name and the time of day, so connections of different tests and
//     suite instances can be told apart on the server; all sessions use
//     the one configured database, so their data is not kept apart
//     2. tests that rely on a database instance are separated from those
//     that don't, with -test.short as the escape switch to skip them
package integrationtest

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Robert-Freire/epcis/app/config"
	"github.com/Robert-Freire/epcis/app/storage"
	"github.com/Robert-Freire/epcis/app/storage/postgres"
)

// DBHost is the base connection string tests derive their sessions
// from.
type DBHost string

// InitHost returns the configured connection string with an
// application_name of the given name appended with _HH_MM_SS, which
// labels the connections of parallel suite instances on the server;
// they still share the same database.
func InitHost(name string) DBHost {
	if err := config.InitConfig(); err != nil {
		panic(fmt.Sprintf("unable to initialize config: %+v", err))
	}
	return DBHost(config.AppConfig.ConnectionString + "?application_name=" + name +
		time.Now().Format("_15_04_05"))
}

var instanceLock = sync.Mutex{}
var instances = map[string]int{}

// CreateDB returns a store session for the test, skipped under
// -test.short.
func (dbHost DBHost) CreateDB(t *testing.T) storage.Store {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	instanceLock.Lock()
	instances[t.Name()]++
	instance := instances[t.Name()]
	instanceLock.Unlock()
	t.Logf("using connection %s (instance %02d)", string(dbHost), instance)

	store, err := postgres.NewSession(string(dbHost), 10*time.Second)
	if err != nil {
		t.Fatalf("Unable to connect to db server at %s", string(dbHost))
	}
	return store
}
