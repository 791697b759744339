/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package storage

import "testing"

func TestMatchesPattern(t *testing.T) {
	cases := []struct {
		id      string
		pattern string
		want    bool
	}{
		{"urn:epc:id:sgtin:8901213.105919.000000", "urn:epc:id:sgtin:8901213.105919.*", true},
		{"urn:epc:id:sgtin:8901213.105919.000000", "urn:epc:id:sgtin:8901213.105919.000000", true},
		{"urn:epc:id:sgtin:8901213.105919.000000", "urn:epc:id:sgtin:8901213.99.*", false},
		{"urn:epc:id:sgtin:8901213.105919.000000", "urn:epc:id:sgtin:8901213.105919.000001", false},
		{"urn:epc:id:sgtin:8901213.105919.000000", "*", true},
		{"anything", "", false},
	}
	for _, candidate := range cases {
		if got := MatchesPattern(candidate.id, candidate.pattern); got != candidate.want {
			t.Errorf("MatchesPattern(%q, %q) = %v", candidate.id, candidate.pattern, got)
		}
	}
}
