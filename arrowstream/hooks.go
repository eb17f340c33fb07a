// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package arrowstream

import (
	"context"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
)

// TransferHook provides observability callpoints around one transfer.
// Implementations must be safe for concurrent use when sessions run
// concurrently.
type TransferHook interface {
	OnTransferStart(ctx context.Context, info TransferInfo) (context.Context, HookToken)
	OnTransferEnd(ctx context.Context, token HookToken, info TransferInfo, stats *TransferStats, err error)
}

// HookToken is an opaque value returned by OnTransferStart and passed
// back to OnTransferEnd. Only meaningful to the TransferHook that
// created it.
type HookToken interface{}

// TransferInfo carries transfer metadata passed to hooks.
type TransferInfo struct {
	URL        string // requested URL
	TransferID string // per-transfer identifier
	UserAgent  string // User-Agent header sent with the request
	StatusCode int    // response status; 0 at transfer start
}

// TransferStats holds per-transfer counters.
type TransferStats struct {
	BytesRead  int64 // body bytes pumped into the decoder
	Batches    int64
	Rows       int64
	BatchBytes int64 // total top-level buffer bytes across batches
	Duration   time.Duration
}

// batchBufferSize returns the total top-level buffer size in bytes
// across all columns in a record batch.
func batchBufferSize(batch arrow.RecordBatch) int64 {
	var total int64
	for i := int64(0); i < batch.NumCols(); i++ {
		col := batch.Column(int(i))
		for _, buf := range col.Data().Buffers() {
			if buf != nil {
				total += int64(buf.Len())
			}
		}
	}
	return total
}
