// Copyright 2026 The Glasspane Authors
// SPDX-License-Identifier: Apache-2.0

// Package daemon serves the session engine over a unix control
// socket. One connection carries request/response control frames and,
// after an attach, an interleaved event stream; all writes to a
// connection are serialized so event frames never tear a response.
package daemon
