/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package schemas

// NamedQuerySchema defines the request body for creating a named query.
const NamedQuerySchema = `{
	"type": "object",
	"required": ["name"],
	"properties": {
		"name": {
			"type": "string",
			"minLength": 1,
			"maxLength": 256
		},
		"query": {
			"type": "object",
			"additionalProperties": {
				"type": ["string", "number", "boolean", "array"]
			}
		}
	},
	"additionalProperties": false
}`

// SubscriptionSchema defines the request body for subscribing to a
// named query.
const SubscriptionSchema = `{
	"type": "object",
	"required": ["destination"],
	"properties": {
		"name": {
			"type": "string",
			"minLength": 1,
			"maxLength": 256
		},
		"destination": {
			"type": "string",
			"minLength": 1
		},
		"schedule": {
			"type": "string"
		},
		"stream": {
			"type": "boolean"
		},
		"reportIfEmpty": {
			"type": "boolean"
		},
		"initialRecordTime": {
			"type": "string"
		}
	},
	"additionalProperties": false
}`
