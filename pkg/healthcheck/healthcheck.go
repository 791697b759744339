/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package healthcheck

import (
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

var client = &http.Client{Timeout: 5 * time.Second}

// Healthcheck probes the local server's health endpoint and returns the
// process exit code for a container HEALTHCHECK: 0 when the service
// responds, 1 otherwise.
func Healthcheck(port string) int {
	resp, err := client.Get("http://127.0.0.1:" + port)
	if err != nil || resp.StatusCode != http.StatusOK {
		return 1
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.WithFields(log.Fields{
				"Method": "Healthcheck",
			}).Warning("Failed to close response.")
		}
	}()
	return 0
}
