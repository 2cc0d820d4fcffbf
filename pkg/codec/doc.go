// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package codec contains the small encoding helpers shared by the AS2 packages.

# Base64

AS2 partners disagree on how base64 content should be laid out. Some expect
MIME style line wrapping (RFC 2045), others a single unwrapped line
(RFC 4648):

	codec.Base64Encode(data, codec.SchemeRFC2045) // wrapped, CRLF line breaks
	codec.Base64Encode(data, codec.SchemeRFC4648) // one line

# Line endings

Signatures and MICs are computed over canonical MIME text, which uses CRLF
line endings. [CanonicalizeLineEndings] converts bare LF to CRLF and leaves
existing CRLF sequences alone.

# AS2 identifiers

AS2-From and AS2-To values containing whitespace must be quoted (RFC 4130
section 6.2). [Quote] and [Unquote] convert between the two forms.

# Message IDs

[GenerateMessageID] produces RFC 5322 style message ids:

	<BOB-20240131-154502-5f0c1f8e-8a57-4a56-9a4c-3fbd2a1a7e11@bob.example.com>
*/
package codec
