// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package arrowprom provides Prometheus instrumentation for Arrow
// stream transfers. It implements the [arrowstream.TransferHook]
// interface.
package arrowprom

import (
	"context"
	"errors"
	"time"

	"github.com/anjakefala/AsyncArrowReader/arrowstream"
	"github.com/prometheus/client_golang/prometheus"
)

// Hook implements arrowstream.TransferHook with Prometheus metrics.
type Hook struct {
	transfersTotal   *prometheus.CounterVec
	transferDuration prometheus.Histogram
	bytesTotal       prometheus.Counter
	batchesTotal     prometheus.Counter
	rowsTotal        prometheus.Counter
}

// NewHook creates a transfer hook and registers its collectors with
// reg. Pass prometheus.DefaultRegisterer to use the default registry.
func NewHook(reg prometheus.Registerer) (*Hook, error) {
	h := &Hook{
		transfersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "arrowstream",
				Subsystem: "transfer",
				Name:      "total",
				Help:      "Total number of stream transfers by outcome",
			},
			[]string{"status"},
		),
		transferDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "arrowstream",
				Subsystem: "transfer",
				Name:      "duration_seconds",
				Help:      "Stream transfer duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		bytesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "arrowstream",
				Subsystem: "transfer",
				Name:      "bytes_total",
				Help:      "Total body bytes decoded",
			},
		),
		batchesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "arrowstream",
				Subsystem: "transfer",
				Name:      "batches_total",
				Help:      "Total record batches decoded",
			},
		),
		rowsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "arrowstream",
				Subsystem: "transfer",
				Name:      "rows_total",
				Help:      "Total rows decoded",
			},
		),
	}

	for _, c := range []prometheus.Collector{
		h.transfersTotal, h.transferDuration, h.bytesTotal, h.batchesTotal, h.rowsTotal,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return h, nil
}

type token struct {
	start time.Time
}

// OnTransferStart records the transfer start time.
func (h *Hook) OnTransferStart(ctx context.Context, _ arrowstream.TransferInfo) (context.Context, arrowstream.HookToken) {
	return ctx, &token{start: time.Now()}
}

// OnTransferEnd records the transfer's counters.
func (h *Hook) OnTransferEnd(_ context.Context, tok arrowstream.HookToken, _ arrowstream.TransferInfo, stats *arrowstream.TransferStats, err error) {
	t, ok := tok.(*token)
	if !ok {
		return
	}

	h.transfersTotal.WithLabelValues(statusLabel(err)).Inc()
	h.transferDuration.Observe(time.Since(t.start).Seconds())
	if stats != nil {
		h.bytesTotal.Add(float64(stats.BytesRead))
		h.batchesTotal.Add(float64(stats.Batches))
		h.rowsTotal.Add(float64(stats.Rows))
	}
}

func statusLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, arrowstream.ErrDecode):
		return "decode_error"
	case errors.Is(err, arrowstream.ErrTransport):
		return "transport_error"
	case errors.Is(err, arrowstream.ErrResource):
		return "resource_error"
	default:
		return "error"
	}
}
