// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package transport implements the HTTPS transport layer for AS2.

AS2 relies on HTTP for delivery and on S/MIME for message security, so TLS
is optional from the protocol's point of view. Most trading partners still
require it.

# TLS Configuration

The package recommends TLS 1.3 with fallback to TLS 1.2:

	config := transport.DefaultHTTPSConfig()
	// MinTLSVersion: TLS 1.2
	// MaxTLSVersion: TLS 1.3

For TLS 1.2, the following cipher suites are recommended:
  - TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384
  - TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256
  - TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384
  - TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256

# Client Usage

	client := transport.NewHTTPSClient(&transport.HTTPSConfig{
	    MinTLSVersion: transport.TLS12,
	    RootCAs:       certPool,
	})

	resp, err := client.Send(ctx, "https://bob.example.com/as2", header, body)

Header field names are sent exactly as given. Some AS2 stacks match
"AS2-From" case-sensitively.

# Server Usage

[HTTPSConfig.ServerTLSConfig] produces the tls.Config used by the AS2
server binary.

# References

  - AS2 over HTTP: https://datatracker.ietf.org/doc/html/rfc4130
  - TLS 1.3 RFC 8446: https://datatracker.ietf.org/doc/html/rfc8446
  - TLS 1.2 RFC 5246: https://datatracker.ietf.org/doc/html/rfc5246
*/
package transport
