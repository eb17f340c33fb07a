package arrowstream_test

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"

	"github.com/anjakefala/AsyncArrowReader/arrowstream"
)

// commitsSchema matches the end-to-end scenario: int32 id, string name.
func commitsSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int32},
		{Name: "name", Type: arrow.BinaryTypes.String},
	}, nil)
}

// makeBatch builds one batch with ids start..start+rows-1.
func makeBatch(t testing.TB, mem memory.Allocator, schema *arrow.Schema, start, rows int) arrow.RecordBatch {
	t.Helper()

	idb := array.NewInt32Builder(mem)
	defer idb.Release()
	nameb := array.NewStringBuilder(mem)
	defer nameb.Release()

	for i := 0; i < rows; i++ {
		idb.Append(int32(start + i))
		nameb.Append(fmt.Sprintf("row-%04d", start+i))
	}

	ids := idb.NewArray()
	defer ids.Release()
	names := nameb.NewArray()
	defer names.Release()

	return array.NewRecordBatch(schema, []arrow.Array{ids, names}, int64(rows))
}

// makeStream serializes a complete IPC stream with the given batch
// shape. Writer options (e.g. ipc.WithZstd()) are appended.
func makeStream(t testing.TB, numBatches, rowsPerBatch int, opts ...ipc.Option) []byte {
	t.Helper()

	mem := memory.NewGoAllocator()
	schema := commitsSchema()

	var buf bytes.Buffer
	wopts := append([]ipc.Option{ipc.WithSchema(schema), ipc.WithAllocator(mem)}, opts...)
	w := ipc.NewWriter(&buf, wopts...)

	for i := 0; i < numBatches; i++ {
		batch := makeBatch(t, mem, schema, i*rowsPerBatch, rowsPerBatch)
		require.NoError(t, w.Write(batch))
		batch.Release()
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// schemaFramePrefix returns the raw framed schema message for the test
// schema, by writing a batchless stream and dropping its end-of-stream
// marker.
func schemaFramePrefix(t testing.TB) []byte {
	t.Helper()
	empty := makeStream(t, 0, 0)
	require.Greater(t, len(empty), 8)
	return empty[:len(empty)-8]
}

// corruptFrame is a well-formed frame header whose flatbuffer metadata
// is garbage, so header interpretation fails deterministically.
func corruptFrame() []byte {
	frame := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x10, 0x00, 0x00, 0x00}
	for i := 0; i < 16; i++ {
		frame = append(frame, 0xFF)
	}
	return frame
}

// collector is a listener that retains everything it is handed.
type collector struct {
	schema       *arrow.Schema
	schemaStream []byte
	batches      []arrow.RecordBatch
	batchStreams [][]byte
	events       []string
}

func (c *collector) Listener() arrowstream.ListenerFuncs {
	return arrowstream.ListenerFuncs{
		SchemaFn: func(h *arrowstream.SchemaHandoff) error {
			c.events = append(c.events, "schema")
			c.schema = h.Schema()
			c.schemaStream = append([]byte(nil), h.StreamBytes()...)
			return h.Release()
		},
		BatchFn: func(h *arrowstream.BatchHandoff) error {
			c.events = append(c.events, "batch")
			batch := h.RecordBatch()
			batch.Retain()
			c.batches = append(c.batches, batch)
			c.batchStreams = append(c.batchStreams, append([]byte(nil), h.StreamBytes()...))
			return h.Release()
		},
	}
}

func (c *collector) release() {
	for _, b := range c.batches {
		b.Release()
	}
	c.batches = nil
}

func (c *collector) totalRows() int64 {
	var n int64
	for _, b := range c.batches {
		n += b.NumRows()
	}
	return n
}

// feedChunks drives stream through the decoder in fragments of size
// bytes and declares end of input.
func feedChunks(dec *arrowstream.StreamDecoder, stream []byte, size int) error {
	for off := 0; off < len(stream); off += size {
		end := min(off+size, len(stream))
		if _, err := dec.Consume(stream[off:end]); err != nil {
			return err
		}
	}
	return dec.Finish()
}
