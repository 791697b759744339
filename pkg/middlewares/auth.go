/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package middlewares

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	"github.com/Robert-Freire/epcis/pkg/web"
)

// Identity resolves every request to a tenant id from its HTTP Basic
// credentials: the tenant is the hex of the first 16 bytes of the
// SHA-256 of username:password, so
// the same credentials always land in the same tenant and no credential
// material is ever stored. Requests without credentials get 401.
func Identity(next web.Handler) web.Handler {
	return web.Handler(func(ctx context.Context, writer http.ResponseWriter, request *http.Request) error {
		username, password, ok := request.BasicAuth()
		if !ok || username == "" {
			writer.Header().Set("WWW-Authenticate", `Basic realm="epcis"`)
			return web.ErrNotAuthorized
		}

		sum := sha256.Sum256([]byte(username + ":" + password))
		values := ctx.Value(web.KeyValues).(*web.ContextValues)
		values.TenantID = hex.EncodeToString(sum[:16])

		return next(ctx, writer, request)
	})
}
