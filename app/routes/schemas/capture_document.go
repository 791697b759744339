/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package schemas

// CaptureDocumentSchema is the structural pre-check applied to JSON-LD
// capture bodies before the decoder runs. Semantic rules live in the
// validators; this only rejects documents whose skeleton is wrong.
const CaptureDocumentSchema = `{
	"type": "object",
	"required": ["type", "epcisBody"],
	"properties": {
		"type": {
			"type": "string",
			"enum": ["EPCISDocument"]
		},
		"schemaVersion": {
			"type": "string"
		},
		"creationDate": {
			"type": "string"
		},
		"epcisHeader": {
			"type": "object"
		},
		"epcisBody": {
			"type": "object",
			"properties": {
				"eventList": {
					"type": "array",
					"items": {
						"type": "object",
						"required": ["type", "eventTime", "eventTimeZoneOffset"]
					}
				}
			}
		}
	}
}`
