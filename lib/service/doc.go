// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

// Package service carries the control-plane protocol over local
// transports and exposes the metrics endpoint.
//
//   - [SocketServer]: one JSON envelope in, one JSON response out, per
//     Unix socket connection. Handler panics become an Internal error
//     response.
//   - [Client]: the matching caller, used by the CLI and tests.
//   - [HTTPServer]: listener lifecycle and graceful shutdown for the
//     Prometheus exposition handler.
//
// Access to the socket is limited by its file mode (0600 by default);
// every request is then authenticated by the control plane itself.
package service
