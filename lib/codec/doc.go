// Copyright 2026 The Glasspane Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides CBOR encoding helpers for glasspane's wire
// protocol. All control payloads on the daemon socket use Core
// Deterministic Encoding (RFC 8949 §4.2) so the same logical message
// always produces identical bytes, which keeps protocol traces and
// test fixtures stable.
package codec
