/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package postgres

// The aggregate bodies live in jsonb data columns; the columns alongside
// them are the ones phase-1 selection sorts and filters on directly.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS captures (
		id BIGSERIAL PRIMARY KEY,
		capture_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		record_time TIMESTAMPTZ NOT NULL,
		data JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS captures_tenant_idx ON captures (tenant_id, capture_id)`,

	`CREATE TABLE IF NOT EXISTS events (
		id BIGSERIAL PRIMARY KEY,
		capture_id BIGINT NOT NULL REFERENCES captures(id) ON DELETE CASCADE,
		tenant_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		event_time TIMESTAMPTZ NOT NULL,
		record_time TIMESTAMPTZ NOT NULL,
		data JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS events_tenant_event_time_idx ON events (tenant_id, event_time, id)`,
	`CREATE INDEX IF NOT EXISTS events_tenant_record_time_idx ON events (tenant_id, record_time, id)`,
	`CREATE INDEX IF NOT EXISTS events_data_idx ON events USING GIN (data)`,

	`CREATE TABLE IF NOT EXISTS masterdata (
		id BIGSERIAL PRIMARY KEY,
		capture_id BIGINT NOT NULL REFERENCES captures(id) ON DELETE CASCADE,
		tenant_id TEXT NOT NULL,
		vocab_type TEXT NOT NULL,
		uri TEXT NOT NULL,
		data JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS masterdata_tenant_idx ON masterdata (tenant_id, uri)`,

	`CREATE TABLE IF NOT EXISTS queries (
		id BIGSERIAL PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		data JSONB NOT NULL,
		UNIQUE (tenant_id, name)
	)`,

	`CREATE TABLE IF NOT EXISTS subscriptions (
		id BIGSERIAL PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		subscription_id TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		last_executed TIMESTAMPTZ,
		attempts BIGINT NOT NULL DEFAULT 0,
		failures BIGINT NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		data JSONB NOT NULL,
		UNIQUE (tenant_id, name)
	)`,
}
