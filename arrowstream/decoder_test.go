package arrowstream_test

import (
	"errors"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anjakefala/AsyncArrowReader/arrowstream"
)

func TestDecoderWholeStream(t *testing.T) {
	stream := makeStream(t, 3, 10)

	c := &collector{}
	dec := arrowstream.NewStreamDecoder(c.Listener())
	defer c.release()

	n, err := dec.Consume(stream)
	require.NoError(t, err)
	require.Equal(t, len(stream), n)
	require.NoError(t, dec.Finish())

	require.Equal(t, []string{"schema", "batch", "batch", "batch"}, c.events)
	require.NotNil(t, c.schema)
	assert.Equal(t, 2, c.schema.NumFields())
	assert.Equal(t, "id", c.schema.Field(0).Name)
	assert.Equal(t, "name", c.schema.Field(1).Name)

	assert.Equal(t, 3, dec.NumBatches())
	assert.Equal(t, int64(30), dec.NumRows())
	assert.Equal(t, int64(30), c.totalRows())
	assert.True(t, dec.Finished())

	// Batches preserve arrival order.
	first := c.batches[0].Column(0).(*array.Int32)
	assert.Equal(t, int32(0), first.Value(0))
	last := c.batches[2].Column(0).(*array.Int32)
	assert.Equal(t, int32(20), last.Value(0))
}

func TestDecoderChunkingInvariance(t *testing.T) {
	stream := makeStream(t, 3, 10)

	whole := &collector{}
	dec := arrowstream.NewStreamDecoder(whole.Listener())
	_, err := dec.Consume(stream)
	require.NoError(t, err)
	require.NoError(t, dec.Finish())
	defer whole.release()

	for _, size := range []int{1, 7, 13, 512, 4096} {
		c := &collector{}
		d := arrowstream.NewStreamDecoder(c.Listener())
		require.NoError(t, feedChunks(d, stream, size), "fragment size %d", size)

		require.Equal(t, whole.events, c.events, "fragment size %d", size)
		require.Equal(t, whole.schemaStream, c.schemaStream, "fragment size %d", size)
		require.Len(t, c.batchStreams, len(whole.batchStreams), "fragment size %d", size)
		for i := range whole.batchStreams {
			assert.Equal(t, whole.batchStreams[i], c.batchStreams[i],
				"fragment size %d, batch %d", size, i)
		}
		assert.Equal(t, whole.totalRows(), c.totalRows(), "fragment size %d", size)
		c.release()
	}
}

func TestDecoderZeroBatches(t *testing.T) {
	stream := makeStream(t, 0, 0)

	c := &collector{}
	dec := arrowstream.NewStreamDecoder(c.Listener())

	_, err := dec.Consume(stream)
	require.NoError(t, err)
	require.NoError(t, dec.Finish())
	assert.Equal(t, []string{"schema"}, c.events)
	assert.True(t, dec.Finished())
}

func TestDecoderZeroLengthChunk(t *testing.T) {
	dec := arrowstream.NewStreamDecoder(arrowstream.ListenerFuncs{})
	n, err := dec.Consume(nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDecoderTruncation(t *testing.T) {
	stream := makeStream(t, 2, 5)

	// Withholding any trailing suffix must fail, never silently succeed
	// with a short batch count.
	for k := 1; k < len(stream); k += 3 {
		c := &collector{}
		dec := arrowstream.NewStreamDecoder(c.Listener())
		err := feedChunks(dec, stream[:len(stream)-k], 64)
		require.Error(t, err, "withheld %d bytes", k)
		require.ErrorIs(t, err, arrowstream.ErrDecode, "withheld %d bytes", k)
		c.release()
	}
}

func TestDecoderCorruptMetadata(t *testing.T) {
	dec := arrowstream.NewStreamDecoder(arrowstream.ListenerFuncs{})
	_, err := dec.Consume(corruptFrame())
	require.Error(t, err)
	require.ErrorIs(t, err, arrowstream.ErrDecode)
	require.Error(t, dec.Err())
}

func TestDecoderBatchBeforeSchema(t *testing.T) {
	stream := makeStream(t, 1, 5)
	prefix := schemaFramePrefix(t)
	require.Equal(t, prefix, stream[:len(prefix)]) // same schema, same frame
	batchesOnly := stream[len(prefix):]

	dec := arrowstream.NewStreamDecoder(arrowstream.ListenerFuncs{})
	_, err := dec.Consume(batchesOnly)
	require.ErrorIs(t, err, arrowstream.ErrDecode)
	assert.Contains(t, err.Error(), "before schema")
}

func TestDecoderSecondSchema(t *testing.T) {
	prefix := schemaFramePrefix(t)
	doubled := append(append([]byte(nil), prefix...), prefix...)

	dec := arrowstream.NewStreamDecoder(arrowstream.ListenerFuncs{})
	_, err := dec.Consume(doubled)
	require.ErrorIs(t, err, arrowstream.ErrDecode)
	assert.Contains(t, err.Error(), "second schema")
}

func TestDecoderTrailingBytesAfterEOS(t *testing.T) {
	stream := makeStream(t, 1, 5)
	trailing := append(append([]byte(nil), stream...), 0xDE, 0xAD, 0xBE, 0xEF)

	dec := arrowstream.NewStreamDecoder(arrowstream.ListenerFuncs{})
	_, err := dec.Consume(trailing)
	require.ErrorIs(t, err, arrowstream.ErrDecode)
	assert.Contains(t, err.Error(), "end-of-stream")
}

func TestDecoderMaxMessageSize(t *testing.T) {
	stream := makeStream(t, 1, 1000)

	dec := arrowstream.NewStreamDecoder(arrowstream.ListenerFuncs{},
		arrowstream.WithMaxMessageSize(64))
	_, err := dec.Consume(stream)
	require.ErrorIs(t, err, arrowstream.ErrDecode)
	assert.Contains(t, err.Error(), "exceeds limit")
}

func TestDecoderConsumeAfterFailurePanics(t *testing.T) {
	dec := arrowstream.NewStreamDecoder(arrowstream.ListenerFuncs{})
	_, err := dec.Consume(corruptFrame())
	require.Error(t, err)

	require.Panics(t, func() {
		_, _ = dec.Consume([]byte{0x00})
	})
}

func TestDecoderListenerAbort(t *testing.T) {
	stream := makeStream(t, 3, 10)
	boom := errors.New("consumer is full")

	var delivered int
	dec := arrowstream.NewStreamDecoder(arrowstream.ListenerFuncs{
		BatchFn: func(h *arrowstream.BatchHandoff) error {
			delivered++
			_ = h.Release()
			return boom
		},
	})

	_, err := dec.Consume(stream)
	require.ErrorIs(t, err, arrowstream.ErrDecode)
	require.ErrorIs(t, err, boom)
	// The abort stops parsing: later batches in the same chunk are
	// never delivered.
	assert.Equal(t, 1, delivered)
}

func TestDecoderCompressedBodies(t *testing.T) {
	stream := makeStream(t, 3, 10, ipc.WithZstd())

	c := &collector{}
	dec := arrowstream.NewStreamDecoder(c.Listener())
	defer c.release()

	require.NoError(t, feedChunks(dec, stream, 256))
	assert.Equal(t, 3, dec.NumBatches())
	assert.Equal(t, int64(30), c.totalRows())
}

func TestDecoderAsWriter(t *testing.T) {
	stream := makeStream(t, 2, 4)

	c := &collector{}
	dec := arrowstream.NewStreamDecoder(c.Listener())
	defer c.release()

	n, err := dec.Write(stream)
	require.NoError(t, err)
	assert.Equal(t, len(stream), n)
	require.NoError(t, dec.Finish())
	assert.Equal(t, 2, dec.NumBatches())
}

func BenchmarkDecoderConsume(b *testing.B) {
	stream := makeStream(b, 10, 1000)

	b.SetBytes(int64(len(stream)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		dec := arrowstream.NewStreamDecoder(arrowstream.ListenerFuncs{})
		if _, err := dec.Consume(stream); err != nil {
			b.Fatal(err)
		}
		if err := dec.Finish(); err != nil {
			b.Fatal(err)
		}
	}
}
