package arrowstream_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anjakefala/AsyncArrowReader/arrowstream"
)

// decodeOne runs a single-batch stream through a decoder and captures
// the handoffs without releasing them.
func decodeOne(t *testing.T) (*arrowstream.SchemaHandoff, *arrowstream.BatchHandoff) {
	t.Helper()

	var sh *arrowstream.SchemaHandoff
	var bh *arrowstream.BatchHandoff
	dec := arrowstream.NewStreamDecoder(arrowstream.ListenerFuncs{
		SchemaFn: func(h *arrowstream.SchemaHandoff) error {
			sh = h
			return nil
		},
		BatchFn: func(h *arrowstream.BatchHandoff) error {
			bh = h
			return nil
		},
	})

	_, err := dec.Consume(makeStream(t, 1, 10))
	require.NoError(t, err)
	require.NoError(t, dec.Finish())
	require.NotNil(t, sh)
	require.NotNil(t, bh)
	return sh, bh
}

func TestBatchHandoffLifecycle(t *testing.T) {
	_, bh := decodeOne(t)

	assert.False(t, bh.Released())
	assert.Equal(t, int64(10), bh.NumRows())
	assert.Equal(t, 2, bh.Schema().NumFields())
	require.NotNil(t, bh.RecordBatch())
	require.NotEmpty(t, bh.StreamBytes())

	require.NoError(t, bh.Release())
	assert.True(t, bh.Released())

	// Double release is detected, not undefined.
	assert.ErrorIs(t, bh.Release(), arrowstream.ErrReleased)

	// Reading after release fails deterministically.
	assert.Panics(t, func() { bh.RecordBatch() })
	assert.Panics(t, func() { bh.NumRows() })
	assert.Panics(t, func() { bh.StreamBytes() })
	assert.Panics(t, func() { _, _ = bh.NewReader() })
}

func TestSchemaHandoffLifecycle(t *testing.T) {
	sh, bh := decodeOne(t)
	defer func() { _ = bh.Release() }()

	assert.Equal(t, "id", sh.Schema().Field(0).Name)
	require.NotEmpty(t, sh.StreamBytes())

	require.NoError(t, sh.Release())
	assert.ErrorIs(t, sh.Release(), arrowstream.ErrReleased)
	assert.Panics(t, func() { sh.Schema() })
	assert.Panics(t, func() { sh.StreamBytes() })
}

func TestBatchHandoffReExport(t *testing.T) {
	sh, bh := decodeOne(t)
	defer func() { _ = sh.Release() }()

	// The re-exported stream is self-contained: a standard IPC reader
	// over it yields exactly the wrapped batch.
	rdr, err := bh.NewReader()
	require.NoError(t, err)
	defer rdr.Release()

	require.True(t, rdr.Next())
	got := rdr.RecordBatch()
	got.Retain()
	defer got.Release()
	assert.Equal(t, int64(10), got.NumRows())
	assert.True(t, got.Schema().Equal(bh.Schema()))
	assert.False(t, rdr.Next())
	require.NoError(t, rdr.Err())

	// The reader's batch outlives the handoff it was exported from.
	require.NoError(t, bh.Release())
	assert.Equal(t, int64(10), got.NumRows())
}

func TestBatchHandoffRetainOutlivesRelease(t *testing.T) {
	_, bh := decodeOne(t)

	batch := bh.RecordBatch()
	batch.Retain()
	require.NoError(t, bh.Release())

	// The consumer's own reference stays valid past the release.
	assert.Equal(t, int64(10), batch.NumRows())
	batch.Release()
}
