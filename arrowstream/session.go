// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package arrowstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const arrowContentType = "application/vnd.apache.arrow.stream"

const defaultUserAgent = "arrowstream-go"

// SessionState is the lifecycle state of a transfer session.
type SessionState int32

const (
	StateIdle SessionState = iota
	StateConnecting
	StateStreaming
	StateCompleted
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("SessionState(%d)", int32(s))
	}
}

// TransferResult is the observable outcome of one transfer: counters
// and final state. The success/failure outcome itself is the error
// returned alongside it: nil, *TransportError, *DecodeError, or
// *ResourceError, mutually exclusive.
type TransferResult struct {
	URL        string
	TransferID string
	StatusCode int // 0 when the request never produced a response
	BytesRead  int64
	Batches    int
	Rows       int64
	Duration   time.Duration
	State      SessionState
}

// Session owns one HTTP GET lifecycle at a time: open, stream the body
// through a fresh [StreamDecoder], close. Decoded units go to the
// configured listener synchronously, on the goroutine calling Run.
//
// A Session may be reused for sequential transfers but must not run
// two transfers concurrently.
type Session struct {
	listener  Listener
	client    *http.Client
	chunkSize int
	userAgent string
	timeout   time.Duration
	hook      TransferHook
	logger    *slog.Logger
	decOpts   []DecoderOption
	state     atomic.Int32
}

// SessionOption configures a [Session].
type SessionOption func(*Session)

// WithHTTPClient sets the HTTP client for this session. The default is
// a process-wide shared client.
func WithHTTPClient(c *http.Client) SessionOption {
	return func(s *Session) { s.client = c }
}

// WithTimeout bounds the whole transfer, connection through last byte.
func WithTimeout(d time.Duration) SessionOption {
	return func(s *Session) { s.timeout = d }
}

// WithChunkSize sets the read buffer size for pumping the body.
func WithChunkSize(n int) SessionOption {
	return func(s *Session) { s.chunkSize = n }
}

// WithUserAgent sets the User-Agent header sent with the request.
func WithUserAgent(ua string) SessionOption {
	return func(s *Session) { s.userAgent = ua }
}

// WithTransferHook installs an observability hook called around each
// transfer.
func WithTransferHook(h TransferHook) SessionOption {
	return func(s *Session) { s.hook = h }
}

// WithLogger sets the structured logger. The default is slog.Default().
func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// WithDecoderOptions forwards options to the per-transfer decoder.
func WithDecoderOptions(opts ...DecoderOption) SessionOption {
	return func(s *Session) { s.decOpts = append(s.decOpts, opts...) }
}

// NewSession creates a session delivering decoded units to listener.
func NewSession(listener Listener, opts ...SessionOption) *Session {
	if listener == nil {
		panic("arrowstream: NewSession called with nil listener")
	}
	s := &Session{
		listener:  listener,
		chunkSize: defaultChunkSize,
		userAgent: defaultUserAgent,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *Session) setState(st SessionState) {
	s.state.Store(int32(st))
}

// Run fetches url and streams its body through the decoder. It returns
// when the stream is fully decoded or the transfer fails. All decoded
// units have been delivered to the listener, in order, before Run
// returns. Transport resources are released on every exit path.
//
// Failures are typed: *TransportError for connection, timeout, and
// non-2xx status problems; *DecodeError for malformed or truncated
// streams (including listener-reported failures); *ResourceError for a
// failed handoff construction. When a decode failure aborts the body
// read, the decode error is reported.
func (s *Session) Run(ctx context.Context, url string) (TransferResult, error) {
	id := uuid.NewString()
	res := TransferResult{URL: url, TransferID: id, State: StateIdle}
	info := TransferInfo{URL: url, TransferID: id, UserAgent: s.userAgent}
	stats := &TransferStats{}
	start := time.Now()
	log := s.logger.With("transfer_id", id, "url", url)

	var token HookToken
	if s.hook != nil {
		ctx, token = s.hook.OnTransferStart(ctx, info)
	}
	finish := func(err error) (TransferResult, error) {
		res.Duration = time.Since(start)
		stats.Duration = res.Duration
		if err != nil {
			s.setState(StateFailed)
			log.Error("transfer failed", "state", s.State(), "err", err,
				"bytes", res.BytesRead, "batches", res.Batches)
		} else {
			s.setState(StateCompleted)
			log.Debug("transfer completed",
				"bytes", res.BytesRead, "batches", res.Batches,
				"rows", res.Rows, "duration", res.Duration)
		}
		res.State = s.State()
		if s.hook != nil {
			s.hook.OnTransferEnd(ctx, token, info, stats, err)
		}
		return res, err
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	s.setState(StateConnecting)
	log.Debug("transfer starting")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return finish(&TransportError{URL: url, Err: err})
	}
	req.Header.Set("Accept", arrowContentType)
	req.Header.Set("Accept-Encoding", "zstd, gzip")
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.httpClient().Do(req)
	if err != nil {
		return finish(&TransportError{URL: url, Err: err})
	}
	defer resp.Body.Close()

	res.StatusCode = resp.StatusCode
	info.StatusCode = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return finish(&TransportError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status})
	}

	body, closeBody, err := decodeBody(resp)
	if err != nil {
		return finish(&TransportError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status, Err: err})
	}
	defer closeBody()

	s.setState(StateStreaming)
	dec := NewStreamDecoder(s.listener, s.decOpts...)
	n, pumpErr := newPump(dec, s.chunkSize).run(body)
	if pumpErr == nil {
		pumpErr = dec.Finish() // truncation is a decode failure, not success
	}

	res.BytesRead = n
	res.Batches = dec.NumBatches()
	res.Rows = dec.NumRows()
	stats.BytesRead = n
	stats.Batches = int64(dec.NumBatches())
	stats.Rows = dec.NumRows()
	stats.BatchBytes = dec.batchBytes

	if pumpErr != nil {
		var readErr *bodyReadError
		if errors.As(pumpErr, &readErr) {
			// Decode failures win over transport faults when both are
			// present, being the more diagnostic of the two.
			if dec.Err() != nil {
				return finish(dec.Err())
			}
			return finish(&TransportError{
				URL: url, StatusCode: resp.StatusCode, Status: resp.Status, Err: readErr.err,
			})
		}
		return finish(pumpErr)
	}
	return finish(nil)
}

func (s *Session) httpClient() *http.Client {
	if s.client != nil {
		return s.client
	}
	return sharedClient()
}

// decodeBody unwraps the response's content encoding. Setting
// Accept-Encoding explicitly disables net/http's transparent gzip
// handling, so both encodings are decoded here.
func decodeBody(resp *http.Response) (io.Reader, func(), error) {
	enc := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch enc {
	case "", "identity":
		return resp.Body, func() {}, nil
	case "gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, nil, fmt.Errorf("opening gzip body: %w", err)
		}
		return zr, func() { _ = zr.Close() }, nil
	case "zstd":
		zr, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, nil, fmt.Errorf("opening zstd body: %w", err)
		}
		return zr, zr.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported content encoding %q", enc)
	}
}

// The shared client is built once for the whole process; sessions that
// need their own transport configuration pass WithHTTPClient.
var (
	sharedClientOnce sync.Once
	sharedClientInst *http.Client
)

func sharedClient() *http.Client {
	sharedClientOnce.Do(func() {
		sharedClientInst = &http.Client{}
	})
	return sharedClientInst
}
