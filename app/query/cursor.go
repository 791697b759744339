/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package query

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/Robert-Freire/epcis/app/storage"
	"github.com/Robert-Freire/epcis/pkg/web"
)

// cursor is the decoded form of a nextPageToken: the (order key, order
// value, id) of the last emitted row plus an HMAC so clients cannot
// forge or alter tokens.
type cursor struct {
	OrderKey   string    `json:"k"`
	Descending bool      `json:"d"`
	OrderValue time.Time `json:"v"`
	ID         int64     `json:"i"`
	Mac        string    `json:"m"`
}

func (c *cursor) sign(secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%s|%v|%d|%d", c.OrderKey, c.Descending, c.OrderValue.UnixNano(), c.ID)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// encodeCursor renders an opaque base64url token.
func encodeCursor(order storage.Order, orderValue time.Time, id int64, secret []byte) string {
	token := cursor{
		OrderKey:   order.Key,
		Descending: order.Descending,
		OrderValue: orderValue.UTC(),
		ID:         id,
	}
	token.Mac = token.sign(secret)

	encoded, _ := json.Marshal(token)
	return base64.RawURLEncoding.EncodeToString(encoded)
}

// decodeCursor verifies and decodes a token back into the continuation
// predicate.
func decodeCursor(raw string, secret []byte) (*storage.PageAfter, error) {
	encoded, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil, errors.Wrap(web.ErrInvalidInput, "nextPageToken is not valid base64url")
	}

	var token cursor
	if err := json.Unmarshal(encoded, &token); err != nil {
		return nil, errors.Wrap(web.ErrInvalidInput, "nextPageToken is malformed")
	}
	if !hmac.Equal([]byte(token.Mac), []byte(token.sign(secret))) {
		return nil, errors.Wrap(web.ErrInvalidInput, "nextPageToken failed verification")
	}

	return &storage.PageAfter{
		Order: storage.Order{Key: token.OrderKey, Descending: token.Descending},
		Time:  token.OrderValue,
		ID:    token.ID,
	}, nil
}
