// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package goas2 implements AS2 (Applicability Statement 2, RFC 4130) for
secure business-to-business exchange of EDI documents over HTTP.

# Overview

go-as2 receives S/MIME encrypted and signed messages, verifies them against
the trading partner's certificate, hands the payload to the application and
answers with a signed Message Disposition Notification (MDN) that echoes the
Message Integrity Check (MIC) of the signed content. It also sends files to
partners and verifies their receipts.

# Specifications Implemented

  - RFC 4130: MIME-Based Secure Peer-to-Peer Business Data Interchange Using HTTP (AS2)
  - RFC 3798: Message Disposition Notification
  - RFC 5652: Cryptographic Message Syntax
  - RFC 8551: S/MIME Version 4.0 Message Specification
  - RFC 2045 / RFC 4648: Base64 content transfer encoding

# Package Structure

	github.com/sirosfoundation/go-as2/pkg/as2       - Inbound handler and outbound client
	github.com/sirosfoundation/go-as2/pkg/mdn       - MDN construction, signing and parsing
	github.com/sirosfoundation/go-as2/pkg/security  - CMS encryption, decryption, signing and verification
	github.com/sirosfoundation/go-as2/pkg/mic       - Message Integrity Check digests
	github.com/sirosfoundation/go-as2/pkg/mime      - Byte-preserving MIME parsing and serialization
	github.com/sirosfoundation/go-as2/pkg/codec     - Base64 schemes, header quoting, message ids
	github.com/sirosfoundation/go-as2/pkg/identity  - Local server and partner identities
	github.com/sirosfoundation/go-as2/pkg/transport - HTTPS transport with TLS 1.2/1.3

The cmd/as2-server binary hosts the inbound endpoint with YAML
configuration, MongoDB/GridFS persistence and Prometheus metrics.

# Quick Start

To receive messages:

	h, err := as2.NewHandler(&as2.Config{
	    Server:   bob,
	    Registry: identity.NewStaticRegistry(alice),
	    ContentHandler: func(ctx context.Context, filename string, content []byte) error {
	        return deliver(filename, content)
	    },
	})
	http.Handle("POST /as2", h)

To send a file:

	c, err := as2.NewClient(&as2.ClientConfig{Server: alice, Partner: bob})
	result, err := c.SendFile(ctx, "order.edi", data)

# License

BSD-2-Clause License
*/
package goas2
