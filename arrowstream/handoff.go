// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package arrowstream

import (
	"bytes"
	"fmt"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
)

// SchemaHandoff wraps the stream's decoded schema for delivery to the
// consumer. It is produced once per stream and must be released exactly
// once. Accessors panic after release; a second Release returns
// [ErrReleased].
type SchemaHandoff struct {
	schema   *arrow.Schema
	stream   []byte // schema-only IPC stream (schema message + EOS)
	released atomic.Bool
}

func newSchemaHandoff(schema *arrow.Schema, stream []byte) *SchemaHandoff {
	return &SchemaHandoff{schema: schema, stream: stream}
}

// Schema returns the decoded stream schema.
func (h *SchemaHandoff) Schema() *arrow.Schema {
	h.mustLive("Schema")
	return h.schema
}

// StreamBytes returns the schema re-exported as a complete, empty Arrow
// IPC stream. The slice is owned by the handoff; copy it to keep it
// past Release.
func (h *SchemaHandoff) StreamBytes() []byte {
	h.mustLive("StreamBytes")
	return h.stream
}

// Release frees the handoff. The first call returns nil; any further
// call returns [ErrReleased].
func (h *SchemaHandoff) Release() error {
	if !h.released.CompareAndSwap(false, true) {
		return ErrReleased
	}
	h.schema = nil
	h.stream = nil
	return nil
}

// Released reports whether Release has been called.
func (h *SchemaHandoff) Released() bool { return h.released.Load() }

func (h *SchemaHandoff) mustLive(op string) {
	if h.released.Load() {
		panic(fmt.Sprintf("arrowstream: SchemaHandoff.%s called after Release", op))
	}
}

// BatchHandoff wraps one decoded record batch for delivery to the
// consumer. The handoff owns one reference to the batch; Release drops
// it. To keep the batch past Release, call RecordBatch().Retain()
// first. Accessors panic after release; a second Release returns
// [ErrReleased].
type BatchHandoff struct {
	batch    arrow.RecordBatch
	stream   []byte // self-contained single-batch IPC stream
	released atomic.Bool
}

func newBatchHandoff(batch arrow.RecordBatch, stream []byte) *BatchHandoff {
	return &BatchHandoff{batch: batch, stream: stream}
}

// RecordBatch returns the decoded batch. The batch is valid until
// Release unless the caller retains it.
func (h *BatchHandoff) RecordBatch() arrow.RecordBatch {
	h.mustLive("RecordBatch")
	return h.batch
}

// Schema returns the batch's schema.
func (h *BatchHandoff) Schema() *arrow.Schema {
	h.mustLive("Schema")
	return h.batch.Schema()
}

// NumRows returns the batch's row count.
func (h *BatchHandoff) NumRows() int64 {
	h.mustLive("NumRows")
	return h.batch.NumRows()
}

// StreamBytes returns the batch re-exported as a self-contained Arrow
// IPC stream: schema message, any dictionary messages, the batch, and
// the end-of-stream marker. The slice is owned by the handoff; copy it
// to keep it past Release.
func (h *BatchHandoff) StreamBytes() []byte {
	h.mustLive("StreamBytes")
	return h.stream
}

// NewReader opens a standard IPC stream reader over the re-exported
// single-batch stream. The caller owns the returned reader and must
// Release it. The reader stays valid after the handoff is released.
func (h *BatchHandoff) NewReader() (*ipc.Reader, error) {
	h.mustLive("NewReader")
	rdr, err := ipc.NewReader(bytes.NewReader(h.stream))
	if err != nil {
		return nil, &ResourceError{Op: "exporting single-batch stream reader", Err: err}
	}
	return rdr, nil
}

// Release drops the handoff's reference to the batch. The first call
// returns nil; any further call returns [ErrReleased].
func (h *BatchHandoff) Release() error {
	if !h.released.CompareAndSwap(false, true) {
		return ErrReleased
	}
	h.batch.Release()
	h.batch = nil
	h.stream = nil
	return nil
}

// Released reports whether Release has been called.
func (h *BatchHandoff) Released() bool { return h.released.Load() }

func (h *BatchHandoff) mustLive(op string) {
	if h.released.Load() {
		panic(fmt.Sprintf("arrowstream: BatchHandoff.%s called after Release", op))
	}
}
