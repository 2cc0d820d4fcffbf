// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package as2 implements the AS2 (RFC 4130) message exchange.

# Inbound Messages

[Handler] processes a received request in a fixed sequence:

 1. AS2-To must name the local server
 2. AS2-From must name the configured partner (or one found in the registry)
 3. the body is decrypted with the server key
 4. the detached signature is verified against the partner certificate
 5. the payload is handed to the content handler
 6. a signed MDN carrying the MIC of the signed content is returned

Validation and content handler failures are reported inside the MDN; the
HTTP status is 200 whenever an MDN is produced. Decryption failures,
rejected signatures and MDN signing failures are returned as errors and
mapped to 500 by ServeHTTP.

	h, err := as2.NewHandler(&as2.Config{
	    Server:   server,
	    Registry: partners,
	    ContentHandler: func(ctx context.Context, filename string, content []byte) error {
	        return os.WriteFile(filepath.Join(inbox, filepath.Base(filename)), content, 0o600)
	    },
	})
	http.Handle("POST /as2", h)

# Signature Failures

By default a message whose signature does not verify is rejected. Setting
Config.OnSignatureFailure accepts such messages after notifying the
callback, which receives the decrypted content and the verification error.

# Outbound Messages

[Client] signs, encrypts and posts a file, then verifies the signed MDN it
receives and compares the echoed MIC:

	c, err := as2.NewClient(&as2.ClientConfig{Server: alice, Partner: bob})
	result, err := c.SendFile(ctx, "order.edi", data)
	if err == nil && result.Success() {
	    // delivered and acknowledged
	}
*/
package as2
