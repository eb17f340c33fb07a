// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package arrowstream

import (
	"errors"
	"io"
)

// defaultChunkSize is the scratch buffer size used to read the transfer
// body. The decoder accepts any chunk size; this only bounds one read.
const defaultChunkSize = 64 * 1024

// pump drives bytes from a transfer body into a decoder, honoring the
// transport's natural chunk boundaries. It stops reading the moment the
// decoder refuses bytes, which aborts the transfer.
type pump struct {
	dec     *StreamDecoder
	scratch []byte
}

func newPump(dec *StreamDecoder, chunkSize int) *pump {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &pump{dec: dec, scratch: make([]byte, chunkSize)}
}

// run copies body into the decoder chunk by chunk and returns the
// number of bytes pumped. A decode failure is returned as-is; a body
// read failure is returned wrapped so the session can classify it as a
// transport fault. The scratch buffer is reused across reads; the
// decoder copies any tail it keeps.
func (p *pump) run(body io.Reader) (int64, error) {
	var total int64
	for {
		n, readErr := body.Read(p.scratch)
		if n > 0 {
			accepted, decErr := p.dec.Consume(p.scratch[:n])
			total += int64(accepted)
			if decErr != nil {
				return total, decErr
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return total, nil
			}
			return total, &bodyReadError{err: readErr}
		}
	}
}

// bodyReadError marks a failure reading the transfer body, so the
// session can tell it apart from decoder errors surfaced by run.
type bodyReadError struct {
	err error
}

func (e *bodyReadError) Error() string { return e.err.Error() }
func (e *bodyReadError) Unwrap() error { return e.err }
