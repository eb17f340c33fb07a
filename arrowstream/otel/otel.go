// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package arrowotel provides OpenTelemetry instrumentation for Arrow
// stream transfers. It implements the [arrowstream.TransferHook]
// interface to add tracing and metrics around each transfer.
//
// Usage:
//
//	sess := arrowstream.NewSession(listener,
//		arrowstream.WithTransferHook(arrowotel.NewHook(arrowotel.DefaultConfig())))
package arrowotel

import (
	"context"
	"errors"
	"time"

	"github.com/anjakefala/AsyncArrowReader/arrowstream"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "arrowstream"

// Config configures OpenTelemetry instrumentation for transfers.
type Config struct {
	// TracerProvider supplies the tracer. Defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider
	// MeterProvider supplies the meter. Defaults to otel.GetMeterProvider().
	MeterProvider metric.MeterProvider
	// EnableTracing enables span creation. Default true.
	EnableTracing bool
	// EnableMetrics enables counter and histogram recording. Default true.
	EnableMetrics bool
	// RecordExceptions calls RecordError on the span for failed transfers.
	// Default true.
	RecordExceptions bool
	// CustomAttributes are added to every span.
	CustomAttributes []attribute.KeyValue
}

// DefaultConfig returns a Config with sensible defaults. Providers are
// resolved from the global OTel SDK when the hook is constructed.
func DefaultConfig() Config {
	return Config{
		EnableTracing:    true,
		EnableMetrics:    true,
		RecordExceptions: true,
	}
}

// Hook implements arrowstream.TransferHook with OpenTelemetry tracing
// and metrics.
type Hook struct {
	cfg               Config
	tracer            trace.Tracer
	transferCounter   metric.Int64Counter
	durationHistogram metric.Float64Histogram
	bytesCounter      metric.Int64Counter
	rowsCounter       metric.Int64Counter
}

// NewHook creates a transfer hook from cfg.
func NewHook(cfg Config) *Hook {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}

	h := &Hook{
		cfg:    cfg,
		tracer: cfg.TracerProvider.Tracer(instrumentationName),
	}

	if cfg.EnableMetrics {
		meter := cfg.MeterProvider.Meter(instrumentationName)
		h.transferCounter, _ = meter.Int64Counter("arrow.stream.transfers",
			metric.WithUnit("{transfer}"),
			metric.WithDescription("Number of stream transfers"),
		)
		h.durationHistogram, _ = meter.Float64Histogram("arrow.stream.duration",
			metric.WithUnit("s"),
			metric.WithDescription("Duration of stream transfers"),
		)
		h.bytesCounter, _ = meter.Int64Counter("arrow.stream.bytes",
			metric.WithUnit("By"),
			metric.WithDescription("Body bytes decoded"),
		)
		h.rowsCounter, _ = meter.Int64Counter("arrow.stream.rows",
			metric.WithUnit("{row}"),
			metric.WithDescription("Rows decoded"),
		)
	}
	return h
}

// spanToken is the HookToken returned by OnTransferStart.
type spanToken struct {
	span      trace.Span
	startTime time.Time
}

// OnTransferStart starts a client span for the transfer.
func (h *Hook) OnTransferStart(ctx context.Context, info arrowstream.TransferInfo) (context.Context, arrowstream.HookToken) {
	if !h.cfg.EnableTracing {
		return ctx, &spanToken{startTime: time.Now()}
	}

	attrs := []attribute.KeyValue{
		attribute.String("url.full", info.URL),
		attribute.String("arrow.stream.transfer_id", info.TransferID),
		attribute.String("user_agent.original", info.UserAgent),
	}
	attrs = append(attrs, h.cfg.CustomAttributes...)

	ctx, span := h.tracer.Start(ctx, "arrow_stream/fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	return ctx, &spanToken{span: span, startTime: time.Now()}
}

// OnTransferEnd records span attributes and metrics and ends the span.
func (h *Hook) OnTransferEnd(ctx context.Context, token arrowstream.HookToken, info arrowstream.TransferInfo, stats *arrowstream.TransferStats, err error) {
	st, ok := token.(*spanToken)
	if !ok {
		return
	}

	duration := time.Since(st.startTime)

	status := "ok"
	if err != nil {
		status = errorClass(err)
	}

	if h.cfg.EnableMetrics {
		metricAttrs := metric.WithAttributes(
			attribute.String("status", status),
		)
		if h.transferCounter != nil {
			h.transferCounter.Add(ctx, 1, metricAttrs)
		}
		if h.durationHistogram != nil {
			h.durationHistogram.Record(ctx, duration.Seconds(), metricAttrs)
		}
		if stats != nil {
			if h.bytesCounter != nil {
				h.bytesCounter.Add(ctx, stats.BytesRead, metricAttrs)
			}
			if h.rowsCounter != nil {
				h.rowsCounter.Add(ctx, stats.Rows, metricAttrs)
			}
		}
	}

	if st.span != nil && st.span.IsRecording() {
		if info.StatusCode != 0 {
			st.span.SetAttributes(attribute.Int("http.response.status_code", info.StatusCode))
		}
		if stats != nil {
			st.span.SetAttributes(
				attribute.Int64("arrow.stream.bytes", stats.BytesRead),
				attribute.Int64("arrow.stream.batches", stats.Batches),
				attribute.Int64("arrow.stream.rows", stats.Rows),
				attribute.Int64("arrow.stream.batch_bytes", stats.BatchBytes),
			)
		}

		if err != nil {
			st.span.SetStatus(codes.Error, err.Error())
			if h.cfg.RecordExceptions {
				st.span.RecordError(err)
			}
			st.span.SetAttributes(attribute.String("arrow.stream.error_class", errorClass(err)))
		} else {
			st.span.SetStatus(codes.Ok, "")
		}

		st.span.End()
	}
}

// errorClass maps a transfer failure to its taxonomy bucket.
func errorClass(err error) string {
	switch {
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
