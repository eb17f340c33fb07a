// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package arrowstream implements incremental decoding of Arrow IPC
// streams as bytes arrive from an HTTP transfer.
//
// The stream format is the standard Arrow IPC streaming format: one
// schema message followed by any number of record batch messages (with
// optional dictionary batches), terminated by an end-of-stream marker.
// Rather than buffering a whole transfer and handing it to an
// [ipc.Reader], the [StreamDecoder] accepts byte chunks of arbitrary
// size and hands each fully decoded unit to a [Listener] as soon as
// enough bytes have arrived. The network read loop is never blocked on
// decode work beyond the synchronous listener call.
//
// # Components
//
//   - [StreamDecoder] parses encapsulated IPC messages incrementally.
//     It implements [io.Writer], so any byte source can drive it
//     directly; this is the manual byte-feeding mode for callers that
//     own their own transport.
//   - [Listener] receives each decoded unit exactly once, in stream
//     order, on the decoding goroutine. [ListenerFuncs] adapts plain
//     functions.
//   - [SchemaHandoff] and [BatchHandoff] wrap decoded units with
//     explicit exactly-once release semantics. A batch handoff can
//     re-export its batch as a self-contained single-batch IPC stream
//     for consumers that want a standard streaming interface.
//   - [Session] owns one HTTP GET lifecycle: it streams the response
//     body through the decoder and reports transport failures
//     distinctly from decode failures in a [TransferResult].
//   - [BatchReader] runs a session on a background goroutine and
//     exposes the decoded batches through a bounded channel as a pull
//     iterator, for consumers that want decode and processing
//     decoupled.
//
// # Error taxonomy
//
// Expected failures are typed errors: [TransportError] for connection,
// DNS, timeout, and non-2xx status problems; [DecodeError] for
// malformed or truncated streams and listener-reported failures;
// [ResourceError] for handoff construction failures. When a decode
// failure aborts a transfer mid-stream, the decode error takes
// precedence over any transport error the abort provokes, since it is
// the more diagnostic of the two. Panics are reserved for contract
// violations such as calling [StreamDecoder.Consume] after a terminal
// failure.
//
// # Observability
//
// Sessions log through log/slog and accept a [TransferHook] that is
// called around each transfer with byte, batch, and row statistics.
// OpenTelemetry and Prometheus hook implementations live in the
// otel and prom subpackages.
package arrowstream
