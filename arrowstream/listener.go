// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package arrowstream

// Listener receives decoded units from a [StreamDecoder]. Both hooks
// are invoked synchronously on the goroutine driving Consume, exactly
// once per unit, in stream order: OnSchema once, strictly before any
// OnBatch.
//
// Ownership of the handoff transfers to the listener. The listener (or
// whoever it forwards the handoff to) must call Release exactly once;
// to keep a batch beyond the release, Retain the underlying record
// batch first.
//
// A non-nil return aborts the in-flight Consume call without parsing
// further messages and surfaces as a [DecodeError] wrapping the
// returned error.
type Listener interface {
	OnSchema(h *SchemaHandoff) error
	OnBatch(h *BatchHandoff) error
}

// ListenerFuncs adapts plain functions to the [Listener] interface.
// A nil field accepts the unit and releases it immediately.
type ListenerFuncs struct {
	SchemaFn func(h *SchemaHandoff) error
	BatchFn  func(h *BatchHandoff) error
}

func (l ListenerFuncs) OnSchema(h *SchemaHandoff) error {
	if l.SchemaFn == nil {
		return h.Release()
	}
	return l.SchemaFn(h)
}

func (l ListenerFuncs) OnBatch(h *BatchHandoff) error {
	if l.BatchFn == nil {
		return h.Release()
	}
	return l.BatchFn(h)
}
