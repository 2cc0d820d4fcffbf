// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package mdn builds and reads AS2 Message Disposition Notifications.

A receipt tells the sender whether its message was processed and echoes the
MIC of the signed content so the sender can prove delivery:

	receipt := mdn.Build(mdn.Processed(), "<msg-id@alice>", &mdn.MIC{
	    Digest:    "u0Mx...",
	    Algorithm: "sha256",
	}, "BOB")

# Field Order

Notification fields are always emitted in this order (RFC 4130 section
7.4.2), since some trading partners compare them literally:

	Reporting-UA
	Original-Recipient
	Final-Recipient
	Original-Message-ID
	Disposition
	Failure               (failed receipts only)
	Received-Content-MIC  (when a MIC was computed)

# Serialization

[Serialize] signs the multipart/report with the server key and returns the
multipart/signed HTTP response headers and body. [Parse] is the sender side
counterpart: it verifies a received receipt against the partner
certificate and extracts its fields.
*/
package mdn
