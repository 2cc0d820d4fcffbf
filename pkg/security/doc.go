// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package security implements the S/MIME layer of AS2.

An AS2 message is a multipart/signed entity (content plus detached PKCS#7
signature) wrapped in a CMS enveloped-data structure addressed to the
receiver's certificate.

# Decryption

	plaintext, err := security.Decrypt(body, serverCert, serverKey)
	if errors.Is(err, security.ErrDecryption) {
	    // wrong recipient, corrupt data or unsupported cipher
	}

DER, PEM and base64-encoded envelopes are accepted.

# Signature Verification

	v := security.VerifySignature(plaintext, partnerCert)
	if !v.Valid {
	    log.Printf("signature: %s", v.Err) // "digest failure", "signer certificate not found", ...
	}

Only the partner's pinned certificate is consulted. A failed verification
still returns the parsed message so that the payload can be inspected.
Decryption does not depend on signature validity.

# Signing and Encryption

	signed, err := security.SignMultipart(part, cert, key, "sha256")
	envelope, err := security.Encrypt(signed.Bytes(), partnerCert, security.CipherAES128CBC)

Content ciphers:
  - aes128-cbc (default)
  - aes256-cbc
  - aes128-gcm
  - aes256-gcm

# References

  - CMS: https://datatracker.ietf.org/doc/html/rfc5652
  - S/MIME 3.2: https://datatracker.ietf.org/doc/html/rfc5751
  - AS2: https://datatracker.ietf.org/doc/html/rfc4130
*/
package security
