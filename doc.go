/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

// EPCIS Repository Service.
//
// A GS1 EPCIS repository: captures supply-chain event documents in
// EPCIS 1.2 XML, 2.0 XML and 2.0 JSON-LD, persists them with
// multi-tenant isolation, and serves the EPCIS 2.0 REST query surface
// plus the 1.2 SOAP query interface, with standing-query subscriptions
// delivered to webhooks and sockets.
//
//     Schemes: http
//     BasePath: /
//     Version: 2.0.0
//
// swagger:meta
package main
