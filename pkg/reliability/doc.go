// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package reliability provides duplicate detection for received AS2 messages.

Senders retransmit a message when they do not get an MDN back, for example
after a timeout. RFC 4130 section 9 asks the receiver to answer such a
retransmission with a receipt without delivering the payload a second time.

# Duplicate Detector

A [DuplicateDetector] remembers delivered message keys for a time window:

	detector := reliability.NewDuplicateDetector(24 * time.Hour)
	defer detector.Close()

	key := reliability.MessageKey(from, messageID)
	if !detector.Claim(key) {
	    // duplicate: acknowledge without delivering
	}

	if err := deliver(); err != nil {
	    detector.Release(key)
	}

Claim checks and marks a key in one step, so concurrent retransmissions of
the same message are delivered once. Releasing a key after a failed
delivery lets the sender's retry through.
*/
package reliability
