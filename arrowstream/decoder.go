// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package arrowstream

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// continuationMarker prefixes every encapsulated IPC message since
// Arrow 0.15. Older writers emit the 4-byte metadata length directly.
const continuationMarker = 0xFFFFFFFF

// defaultMaxMessageSize bounds a single framed message. A stream whose
// length prefix exceeds this is treated as malformed rather than
// allocated.
const defaultMaxMessageSize int64 = 1 << 31

// eosMarker terminates a re-exported IPC stream.
var eosMarker = []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x00, 0x00, 0x00, 0x00}

// StreamDecoder is a stateful incremental parser for the Arrow IPC
// streaming format. Feed it byte chunks of arbitrary size via
// [StreamDecoder.Consume]; each fully framed message is decoded and
// handed to the listener before Consume returns. The decoder never
// blocks waiting for bytes: when the buffered tail cannot complete
// another message it returns and keeps the tail for the next call.
//
// A StreamDecoder serves exactly one stream and is not safe for
// concurrent use. After a [DecodeError] it is terminally failed and
// calling Consume again panics.
type StreamDecoder struct {
	listener Listener
	mem      memory.Allocator
	maxMsg   int64

	buf         []byte // unparsed tail
	schemaFrame []byte // raw framed schema message
	dictFrames  []byte // raw framed dictionary messages, in order

	schema     *arrow.Schema
	offset     int64 // stream offset of the front of buf
	numBatches int
	numRows    int64
	batchBytes int64
	eos        bool
	err        error
}

// DecoderOption configures a [StreamDecoder].
type DecoderOption func(*StreamDecoder)

// WithAllocator sets the allocator used for decoded batches.
// The default is memory.NewGoAllocator().
func WithAllocator(mem memory.Allocator) DecoderOption {
	return func(d *StreamDecoder) { d.mem = mem }
}

// WithMaxMessageSize bounds the metadata and body length of a single
// framed message. Streams claiming larger messages fail decoding
// instead of allocating.
func WithMaxMessageSize(n int64) DecoderOption {
	return func(d *StreamDecoder) { d.maxMsg = n }
}

// NewStreamDecoder creates a decoder delivering units to listener.
func NewStreamDecoder(listener Listener, opts ...DecoderOption) *StreamDecoder {
	if listener == nil {
		panic("arrowstream: NewStreamDecoder called with nil listener")
	}
	d := &StreamDecoder{
		listener: listener,
		mem:      memory.NewGoAllocator(),
		maxMsg:   defaultMaxMessageSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Consume appends p to the decoder's buffered tail and parses as many
// complete messages as the tail now holds, invoking the listener for
// each. It returns len(p) on success. On a [DecodeError] it returns 0
// and the decoder must not be used again. On a [ResourceError] the
// failing unit's delivery was lost but the decoder state is intact and
// p was fully absorbed.
//
// The caller keeps ownership of p; it is copied, never retained.
func (d *StreamDecoder) Consume(p []byte) (int, error) {
	if d.err != nil {
		panic("arrowstream: Consume called after terminal decode failure")
	}
	d.buf = append(d.buf, p...)
	if err := d.parseLoop(); err != nil {
		var re *ResourceError
		if errors.As(err, &re) {
			return len(p), err
		}
		d.err = err
		return 0, err
	}
	return len(p), nil
}

// Write makes the decoder an io.Writer so any byte source can drive it
// directly. It is Consume under the standard contract.
func (d *StreamDecoder) Write(p []byte) (int, error) {
	return d.Consume(p)
}

// Finish declares the end of the byte stream. If the stream did not
// terminate cleanly (buffered partial message, or no end-of-stream
// marker) it records and returns an incomplete-stream [DecodeError].
func (d *StreamDecoder) Finish() error {
	if d.err != nil {
		return d.err
	}
	switch {
	case len(d.buf) > 0:
		d.err = d.decodeErrf(nil, "incomplete stream: %d buffered bytes do not form a whole message", len(d.buf))
	case !d.eos:
		d.err = d.decodeErrf(nil, "incomplete stream: missing end-of-stream marker")
	case d.schema == nil:
		d.err = d.decodeErrf(nil, "incomplete stream: ended before a schema message")
	}
	return d.err
}

// Schema returns the decoded stream schema, or nil before the schema
// message has been parsed.
func (d *StreamDecoder) Schema() *arrow.Schema { return d.schema }

// NumBatches returns the number of record batches decoded so far.
func (d *StreamDecoder) NumBatches() int { return d.numBatches }

// NumRows returns the total row count across decoded batches.
func (d *StreamDecoder) NumRows() int64 { return d.numRows }

// Finished reports whether the end-of-stream marker has been parsed.
func (d *StreamDecoder) Finished() bool { return d.eos && d.err == nil }

// Err returns the terminal decode error, if any.
func (d *StreamDecoder) Err() error { return d.err }

// parseLoop parses whole messages from the front of buf until the tail
// is too short to complete another one.
func (d *StreamDecoder) parseLoop() error {
	for {
		n := len(d.buf)
		if n == 0 {
			return nil
		}
		if d.eos {
			return d.decodeErrf(nil, "%d trailing bytes after end-of-stream marker", n)
		}
		if n < 4 {
			return nil
		}
		prefix := binary.LittleEndian.Uint32(d.buf[:4])
		hdr := 4
		metaLen := int64(prefix)
		if prefix == continuationMarker {
			if n < 8 {
				return nil
			}
			metaLen = int64(binary.LittleEndian.Uint32(d.buf[4:8]))
			hdr = 8
		}
		if metaLen == 0 {
			// End-of-stream marker.
			d.eos = true
			d.advance(hdr)
			continue
		}
		if metaLen > d.maxMsg {
			return d.decodeErrf(nil, "frame metadata length %d exceeds limit %d", metaLen, d.maxMsg)
		}
		if int64(n) < int64(hdr)+metaLen {
			return nil
		}
		meta := d.buf[hdr : int64(hdr)+metaLen]
		msgType, bodyLen, err := readMessageHeader(meta)
		if err != nil {
			return d.decodeErrf(err, "malformed frame header")
		}
		if bodyLen < 0 || bodyLen > d.maxMsg {
			return d.decodeErrf(nil, "frame body length %d out of range", bodyLen)
		}
		total := int64(hdr) + metaLen + bodyLen
		if int64(n) < total {
			return nil
		}
		if err := d.dispatch(msgType, d.buf[:total]); err != nil {
			return err
		}
		d.advance(int(total))
	}
}

// advance drops n consumed bytes from the front of buf.
func (d *StreamDecoder) advance(n int) {
	remaining := copy(d.buf, d.buf[n:])
	d.buf = d.buf[:remaining]
	d.offset += int64(n)
}

// dispatch classifies one complete framed message and delivers the
// decoded unit. frame aliases buf, so anything kept is copied.
func (d *StreamDecoder) dispatch(msgType ipc.MessageType, frame []byte) error {
	switch msgType {
	case ipc.MessageSchema:
		return d.dispatchSchema(frame)
	case ipc.MessageDictionaryBatch:
		if d.schema == nil {
			return d.decodeErrf(nil, "dictionary batch before schema message")
		}
		d.dictFrames = append(d.dictFrames, frame...)
		return nil
	case ipc.MessageRecordBatch:
		if d.schema == nil {
			return d.decodeErrf(nil, "record batch before schema message")
		}
		return d.dispatchBatch(frame)
	default:
		return d.decodeErrf(nil, "unsupported message type %v in stream", msgType)
	}
}

func (d *StreamDecoder) dispatchSchema(frame []byte) error {
	if d.schema != nil {
		return d.decodeErrf(nil, "second schema message in stream")
	}
	d.schemaFrame = append([]byte(nil), frame...)

	stream, err := d.assemble(nil)
	if err != nil {
		return err
	}
	rdr, err := ipc.NewReader(bytes.NewReader(stream), ipc.WithAllocator(d.mem))
	if err != nil {
		return d.decodeErrf(err, "invalid schema message")
	}
	d.schema = rdr.Schema()
	rdr.Release()

	if err := d.listener.OnSchema(newSchemaHandoff(d.schema, stream)); err != nil {
		return d.decodeErrf(err, "listener rejected schema")
	}
	return nil
}

func (d *StreamDecoder) dispatchBatch(frame []byte) error {
	stream, err := d.assemble(frame)
	if err != nil {
		return err
	}
	batch, err := d.decodeBatch(stream)
	if err != nil {
		return err
	}

	d.numBatches++
	d.numRows += batch.NumRows()
	d.batchBytes += batchBufferSize(batch)

	if err := d.listener.OnBatch(newBatchHandoff(batch, stream)); err != nil {
		return d.decodeErrf(err, "listener rejected batch %d", d.numBatches-1)
	}
	return nil
}

// decodeBatch decodes the single record batch in a reassembled stream.
// arrow-go panics on some malformed inputs, so the decode runs under a
// recover that resolves to a DecodeError.
func (d *StreamDecoder) decodeBatch(stream []byte) (batch arrow.RecordBatch, err error) {
	defer func() {
		if r := recover(); r != nil {
			batch, err = nil, d.decodeErrf(fmt.Errorf("%v", r), "corrupt record batch message")
		}
	}()
	rdr, err := ipc.NewReader(bytes.NewReader(stream), ipc.WithAllocator(d.mem))
	if err != nil {
		return nil, d.decodeErrf(err, "corrupt record batch message")
	}
	defer rdr.Release()
	if !rdr.Next() {
		cause := rdr.Err()
		if cause == nil {
			cause = io.ErrUnexpectedEOF
		}
		return nil, d.decodeErrf(cause, "corrupt record batch message")
	}
	batch = rdr.RecordBatch()
	batch.Retain() // keep the batch alive after the reader is released
	return batch, nil
}

// assemble builds a self-contained IPC stream from the retained schema
// and dictionary frames, an optional batch frame, and the end-of-stream
// marker. An allocation panic resolves to a ResourceError so the
// decoder survives a failed handoff construction.
func (d *StreamDecoder) assemble(batchFrame []byte) (stream []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			stream, err = nil, &ResourceError{Op: "assembling unit stream", Err: fmt.Errorf("%v", r)}
		}
	}()
	stream = make([]byte, 0, len(d.schemaFrame)+len(d.dictFrames)+len(batchFrame)+len(eosMarker))
	stream = append(stream, d.schemaFrame...)
	stream = append(stream, d.dictFrames...)
	stream = append(stream, batchFrame...)
	stream = append(stream, eosMarker...)
	return stream, nil
}

// decodeErrf builds a DecodeError at the decoder's current offset.
func (d *StreamDecoder) decodeErrf(cause error, format string, args ...interface{}) error {
	return &DecodeError{
		Offset: d.offset,
		Reason: fmt.Sprintf(format, args...),
		Err:    cause,
	}
}

// readMessageHeader extracts the message type and body length from raw
// flatbuffer metadata. Garbage metadata can panic inside the flatbuffer
// accessors, so the parse runs under a recover.
func readMessageHeader(meta []byte) (msgType ipc.MessageType, bodyLen int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("invalid message metadata: %v", r)
		}
	}()
	msg := ipc.NewMessage(memory.NewBufferBytes(meta), memory.NewBufferBytes(nil))
	defer msg.Release()
	return msg.Type(), msg.BodyLen(), nil
}
