// Copyright 2026 The Glasspane Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire implements the framed protocol spoken on the daemon's
// unix control socket. Every frame is a one-byte type, a four-byte
// big-endian payload length, and a CBOR payload. CBOR keeps PTY output
// as raw bytes on the wire instead of base64-inflating it the way JSON
// would.
package wire
