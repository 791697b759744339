/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package middlewares

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Robert-Freire/epcis/pkg/web"
)

func resolveTenant(t *testing.T, username, password string, withAuth bool) (string, error) {
	t.Helper()

	var tenantID string
	handler := Identity(func(ctx context.Context, writer http.ResponseWriter, request *http.Request) error {
		tenantID = web.TenantID(ctx)
		return nil
	})

	request := httptest.NewRequest("GET", "/events", nil)
	if withAuth {
		request.SetBasicAuth(username, password)
	}
	values := &web.ContextValues{TraceID: "test"}
	ctx := context.WithValue(request.Context(), web.KeyValues, values)

	err := handler(ctx, httptest.NewRecorder(), request.WithContext(ctx))
	return tenantID, err
}

func TestIdentityStableMapping(t *testing.T) {
	first, err := resolveTenant(t, "alice", "secret", true)
	if err != nil {
		t.Fatalf("auth failed: %+v", err)
	}
	second, err := resolveTenant(t, "alice", "secret", true)
	if err != nil {
		t.Fatalf("auth failed: %+v", err)
	}
	if first == "" || first != second {
		t.Errorf("same credentials mapped to %q then %q", first, second)
	}

	other, err := resolveTenant(t, "alice", "different", true)
	if err != nil {
		t.Fatalf("auth failed: %+v", err)
	}
	if other == first {
		t.Error("different credentials landed in the same tenant")
	}
}

func TestIdentityRejectsMissingCredentials(t *testing.T) {
	_, err := resolveTenant(t, "", "", false)
	if err != web.ErrNotAuthorized {
		t.Errorf("err = %v", err)
	}
}
