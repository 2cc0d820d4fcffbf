// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package mime handles the MIME structures carried by AS2 messages.

AS2 payloads are S/MIME entities: a multipart/signed body wrapping the
business document and a detached PKCS#7 signature, usually encrypted as a
whole. Receipts (MDNs) are multipart/report entities, again wrapped in
multipart/signed.

# MIME Structure

A decrypted AS2 message looks like:

	Content-Type: multipart/signed; protocol="application/pkcs7-signature";
	    micalg=sha-256; boundary="----=_Part_..."

	------=_Part_...
	Content-Type: application/edi-x12
	Content-Disposition: attachment; filename="invoice.edi"

	ISA*00*...~

	------=_Part_...
	Content-Type: application/pkcs7-signature; name="smime.p7s"
	Content-Transfer-Encoding: base64

	MIIG...
	------=_Part_...--

# Writing

Parts keep their header fields in insertion order. Some trading partners
compare MDN fields byte for byte, so the writer never reorders or
canonicalizes header names:

	report := mime.NewMultipart("multipart/report; report-type=disposition-notification",
	    mime.NewPart([]byte("received"), mime.Field{Name: "Content-Type", Value: "text/plain"}),
	)
	data := report.Bytes()

# Parsing

[Parse] splits multipart bodies recursively. Each part keeps the exact bytes
it was read from in Raw, which is what signatures and MICs are computed
over. Leaf bodies are decoded according to Content-Transfer-Encoding.

# Attachments

[ChooseAttachment] selects the business payload among the parts of a signed
message, preferring EDI content types and never returning a signature part.

# References

  - MIME Multipart: https://datatracker.ietf.org/doc/html/rfc2046
  - S/MIME multipart/signed: https://datatracker.ietf.org/doc/html/rfc1847
  - AS2: https://datatracker.ietf.org/doc/html/rfc4130
*/
package mime
