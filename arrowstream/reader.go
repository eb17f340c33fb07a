// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package arrowstream

import (
	"context"
	"errors"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
)

// readerBuffer bounds the batch channel between the decode goroutine
// and the consumer. A full channel blocks the decoder inside its
// listener call, which in turn stops the session reading the body:
// back-pressure reaches the transport without any extra machinery.
const readerBuffer = 4

var errReaderClosed = errors.New("arrowstream: reader closed")

// BatchReader decouples decoding from consumption: it runs a [Session]
// on a background goroutine and hands decoded batches to the consumer
// through a bounded channel, as a pull iterator in the style of
// [ipc.Reader]. The core stays synchronous; this is an opt-in layer on
// top of it.
//
// A BatchReader is for a single consumer goroutine. Close may be
// called at any point to abandon the transfer.
type BatchReader struct {
	cancel context.CancelFunc

	batches     chan arrow.RecordBatch
	schemaReady chan struct{}
	done        chan struct{}

	schema *arrow.Schema  // set before schemaReady closes
	result TransferResult // set before done closes
	runErr error          // set before done closes

	cur       arrow.RecordBatch
	closed    chan struct{}
	closeOnce sync.Once
}

// FetchStream starts fetching url in the background and returns a
// reader over its batches. Failures surface from [BatchReader.Schema],
// [BatchReader.Err], and [BatchReader.Result].
func FetchStream(ctx context.Context, url string, opts ...SessionOption) *BatchReader {
	runCtx, cancel := context.WithCancel(ctx)
	r := &BatchReader{
		cancel:      cancel,
		batches:     make(chan arrow.RecordBatch, readerBuffer),
		schemaReady: make(chan struct{}),
		done:        make(chan struct{}),
		closed:      make(chan struct{}),
	}

	listener := ListenerFuncs{
		SchemaFn: func(h *SchemaHandoff) error {
			r.schema = h.Schema()
			close(r.schemaReady)
			return h.Release()
		},
		BatchFn: func(h *BatchHandoff) error {
			batch := h.RecordBatch()
			batch.Retain() // keep the batch past the handoff's release
			if err := h.Release(); err != nil {
				batch.Release()
				return err
			}
			select {
			case r.batches <- batch:
				return nil
			case <-r.closed:
				batch.Release()
				return errReaderClosed
			case <-runCtx.Done():
				batch.Release()
				return runCtx.Err()
			}
		},
	}

	sess := NewSession(listener, opts...)
	go func() {
		r.result, r.runErr = sess.Run(runCtx, url)
		close(r.batches)
		close(r.done)
	}()
	return r
}

// Schema blocks until the stream's schema has been decoded, the
// transfer ends, or ctx is done.
func (r *BatchReader) Schema(ctx context.Context) (*arrow.Schema, error) {
	select {
	case <-r.schemaReady:
		return r.schema, nil
	case <-r.done:
		select {
		case <-r.schemaReady:
			return r.schema, nil
		default:
		}
		if r.runErr != nil {
			return nil, r.runErr
		}
		return nil, errors.New("arrowstream: stream ended without a schema")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Next advances to the next batch, releasing the previous one. It
// returns false when the stream ends or fails; check Err afterwards.
func (r *BatchReader) Next() bool {
	if r.cur != nil {
		r.cur.Release()
		r.cur = nil
	}
	batch, ok := <-r.batches
	if !ok {
		return false
	}
	r.cur = batch
	return true
}

// Batch returns the current batch. It is valid until the next call to
// Next or Close; Retain it to keep it longer.
func (r *BatchReader) Batch() arrow.RecordBatch { return r.cur }

// Err returns the transfer's failure once iteration has ended, or nil
// while it is still running or after a successful run. A failure
// caused by Close is reported as nil.
func (r *BatchReader) Err() error {
	select {
	case <-r.done:
	default:
		return nil
	}
	if r.runErr == nil || errors.Is(r.runErr, errReaderClosed) {
		return nil
	}
	select {
	case <-r.closed:
		// Close cancels the transfer; the cancellation fallout is not a
		// consumer-visible failure.
		if errors.Is(r.runErr, context.Canceled) {
			return nil
		}
	default:
	}
	return r.runErr
}

// Result blocks until the transfer finishes and returns its outcome.
func (r *BatchReader) Result() (TransferResult, error) {
	<-r.done
	return r.result, r.runErr
}

// Close abandons the transfer, releases all undelivered batches, and
// waits for the background session to wind down. Safe to call more
// than once.
func (r *BatchReader) Close() error {
	r.closeOnce.Do(func() {
		close(r.closed)
		r.cancel()
		for batch := range r.batches {
			batch.Release()
		}
		<-r.done
		if r.cur != nil {
			r.cur.Release()
			r.cur = nil
		}
	})
	return nil
}
