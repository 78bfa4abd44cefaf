// Package bulk provides the batching writer that sends WriteOperations to an
// Elasticsearch-compatible _bulk endpoint. Operations are buffered and
// flushed when the buffer reaches a configurable size or after a time
// interval; each flush is reported through an OnFlush callback.
package bulk

import (
	"bytes"
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

	"github.com/Adithya-Monish-Kumar-K/es-push/internal/action"
	apperrors "github.com/Adithya-Monish-Kumar-K/es-push/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/es-push/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/es-push/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/es-push/pkg/tracing"
)

// Config controls batching and the HTTP client.
type Config struct {
	URL        string
	MaxActions int
	// MaxBuffered is the buffer size at which Add starts waiting for a flush.
	// Defaults to three batches.
	MaxBuffered    int
	FlushInterval  time.Duration
	RequestTimeout time.Duration
	Retry          resilience.RetryConfig
	Breaker        resilience.CircuitBreakerConfig
	// HTTPClient overrides the default client built from RequestTimeout.
	HTTPClient *http.Client
	// OnFlush is called after every flush attempt, successful or not.
	OnFlush func(Report)
	// OnReject receives each operation the endpoint refused outright. Such
	// operations are never resent. When OnReject is nil or returns an error
	// the loader fails and every later Add returns that error.
	OnReject func(ctx context.Context, op *action.WriteOperation, err error) error
}

// Report summarizes one flush.
type Report struct {
	Actions   int
	Succeeded int
	Conflicts int
	Failed    int
	// Rejected counts failed operations that will not be resent.
	Rejected int
	// Took is the server-side processing time.
	Took time.Duration
	// Latency is the wall time of the flush including retries.
	Latency      time.Duration
	BreakerState resilience.State
	// Errors holds the first item errors, keyed by document id.
	Errors map[string]string
	Err    error
}

const maxReportedErrors = 10

// Loader buffers operations and writes them in bulk. Add is safe for
// concurrent use; operations are sent in the order they were added.
type Loader struct {
	cfg     Config
	client  *http.Client
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger

	mu     sync.Mutex
	buffer []*action.WriteOperation
	// space is closed and replaced whenever the buffer shrinks.
	space  chan struct{}
	failed error

	// flushReq holds at most one pending size-triggered flush for Run.
	flushReq chan struct{}
	// flushMu orders flushes so batches leave in arrival order.
	flushMu sync.Mutex
	seq     atomic.Uint64
}

// New creates a Loader, filling defaults for zero values.
func New(cfg Config) *Loader {
	if cfg.MaxActions <= 0 {
		cfg.MaxActions = 1000
	}
	if cfg.MaxBuffered < cfg.MaxActions {
		cfg.MaxBuffered = 3 * cfg.MaxActions
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	cfg.URL = strings.TrimSuffix(cfg.URL, "/")
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &Loader{
		cfg:      cfg,
		client:   client,
		breaker:  resilience.NewCircuitBreaker("elasticsearch-bulk", cfg.Breaker),
		logger:   logger.WithComponent("bulk-loader"),
		buffer:   make([]*action.WriteOperation, 0, cfg.MaxActions),
		space:    make(chan struct{}),
		flushReq: make(chan struct{}, 1),
	}
}

// Add buffers op. Reaching MaxActions asks Run for a flush so the caller
// never waits on the network. While MaxBuffered operations are pending Add
// waits for a flush to drain them, returning early if ctx is done. Nothing
// is buffered when Add returns an error.
func (l *Loader) Add(ctx context.Context, op *action.WriteOperation) error {
	l.mu.Lock()
	for len(l.buffer) >= l.cfg.MaxBuffered && l.failed == nil {
		space := l.space
		l.mu.Unlock()
		l.requestFlush()
		select {
		case <-space:
		case <-ctx.Done():
			return fmt.Errorf("waiting for bulk buffer space: %w", ctx.Err())
		}
		l.mu.Lock()
	}
	if l.failed != nil {
		err := l.failed
		l.mu.Unlock()
		return err
	}
	l.buffer = append(l.buffer, op)
	full := len(l.buffer) >= l.cfg.MaxActions
	l.mu.Unlock()

	if full {
		l.requestFlush()
	}
	return nil
}

func (l *Loader) requestFlush() {
	select {
	case l.flushReq <- struct{}{}:
	default:
	}
}

// BufferLen returns the current number of buffered operations.
func (l *Loader) BufferLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buffer)
}

// Err returns the error that failed the loader, if any.
func (l *Loader) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failed
}

// Run flushes every FlushInterval and whenever the buffer fills, until ctx
// is cancelled or the loader fails. It then performs a final bounded flush.
// After a failure Run returns the failure.
func (l *Loader) Run(ctx context.Context) error {
	l.logger.Info("bulk loader started",
		"max_actions", l.cfg.MaxActions,
		"max_buffered", l.cfg.MaxBuffered,
		"flush_interval", l.cfg.FlushInterval,
	)
	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := l.Flush(ctx); err != nil {
				l.logger.Error("interval flush failed", "error", err)
			}
		case <-l.flushReq:
			if err := l.Flush(ctx); err != nil {
				l.logger.Error("size-triggered flush failed", "error", err)
			}
		case <-ctx.Done():
			return l.finalFlush()
		}
		if failed := l.Err(); failed != nil {
			l.finalFlush()
			return failed
		}
	}
}

func (l *Loader) finalFlush() error {
	err := resilience.WithTimeout(context.Background(), 5*time.Second, "final bulk flush", l.Flush)
	if err != nil {
		l.logger.Error("final flush failed", "pending", l.BufferLen(), "error", err)
		return err
	}
	l.logger.Info("bulk loader stopped")
	return nil
}

// Flush sends everything buffered. If the request fails with a retryable
// error the batch is put back at the front of the buffer. Operations the
// endpoint refused are handed to OnReject instead.
func (l *Loader) Flush(ctx context.Context) error {
	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	l.mu.Lock()
	if len(l.buffer) == 0 {
		l.mu.Unlock()
		return nil
	}
	batch := l.buffer
	l.buffer = make([]*action.WriteOperation, 0, l.cfg.MaxActions)
	l.freed()
	l.mu.Unlock()

	report, out := l.send(ctx, batch)
	if l.cfg.OnFlush != nil {
		l.cfg.OnFlush(report)
	}
	if len(out.retry) > 0 {
		l.requeue(out.retry)
	}
	for _, r := range out.reject {
		l.reject(ctx, r.op, r.err)
	}
	if report.Err != nil {
		return report.Err
	}

	l.logger.Debug("batch flushed",
		"actions", report.Actions,
		"failed", report.Failed,
		"conflicts", report.Conflicts,
		"latency", report.Latency,
	)
	if report.Failed > 0 {
		l.logger.Warn("bulk items failed", "failed", report.Failed, "rejected", report.Rejected, "errors", report.Errors)
	}
	return nil
}

// freed wakes Adds waiting for space. Callers hold mu.
func (l *Loader) freed() {
	close(l.space)
	l.space = make(chan struct{})
}

func (l *Loader) requeue(ops []*action.WriteOperation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buffer = append(ops, l.buffer...)
}

func (l *Loader) reject(ctx context.Context, op *action.WriteOperation, cause error) {
	err := cause
	if l.cfg.OnReject != nil {
		err = l.cfg.OnReject(ctx, op, cause)
	}
	if err == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failed == nil {
		l.failed = err
		l.freed()
		l.logger.Error("bulk loader failed, refusing new operations", "error", err)
	}
}

type rejection struct {
	op  *action.WriteOperation
	err error
}

// outcome splits a batch's unsuccessful operations by what happens next.
type outcome struct {
	retry  []*action.WriteOperation
	reject []rejection
}

func (l *Loader) send(ctx context.Context, batch []*action.WriteOperation) (Report, outcome) {
	start := time.Now()
	report := Report{Actions: len(batch)}
	var out outcome
	ctx, span := tracing.StartSpan(ctx, "bulk-flush", fmt.Sprintf("flush-%d", l.seq.Add(1)))
	span.SetAttr("actions", len(batch))
	defer func() {
		span.End()
		span.Log(l.logger)
	}()

	_, renderSpan := tracing.StartChildSpan(ctx, "render")
	body, err := Render(batch)
	renderSpan.SetAttr("bytes", len(body))
	renderSpan.End()
	if err != nil {
		report.Err = fmt.Errorf("%w: %v", apperrors.ErrBulkRejected, err)
		out.rejectAll(batch, report.Err)
		report.Failed, report.Rejected = len(batch), len(batch)
		return report, out
	}

	_, requestSpan := tracing.StartChildSpan(ctx, "request")
	attempts := 0
	var resp *Response
	err = resilience.Retry(ctx, "elasticsearch-bulk", l.cfg.Retry, func() error {
		attempts++
		return l.breaker.Execute(func() error {
			var postErr error
			resp, postErr = l.post(ctx, body)
			return postErr
		})
	})
	requestSpan.SetAttr("attempts", attempts)
	requestSpan.End()

	report.Latency = time.Since(start)
	report.BreakerState = l.breaker.GetState()
	switch {
	case err != nil && resilience.IsPermanent(err):
		report.Err = fmt.Errorf("%w: %v", apperrors.ErrBulkRejected, err)
		out.rejectAll(batch, report.Err)
		report.Failed, report.Rejected = len(batch), len(batch)
	case err != nil:
		report.Err = fmt.Errorf("%w: %v", apperrors.ErrBulkRequest, err)
		out.retry = batch
	default:
		resp.summarize(&report, batch, &out)
	}
	return report, out
}

func (o *outcome) rejectAll(batch []*action.WriteOperation, err error) {
	for _, op := range batch {
		o.reject = append(o.reject, rejection{op: op, err: err})
	}
}

func (l *Loader) post(ctx context.Context, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.cfg.URL+"/_bulk", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building bulk request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-ndjson")

	httpResp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending bulk request: %w", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading bulk response: %w", err)
	}
	if httpResp.StatusCode >= 300 {
		err := fmt.Errorf("bulk endpoint returned %d: %s", httpResp.StatusCode, truncate(data, 512))
		if httpResp.StatusCode < 500 && httpResp.StatusCode != http.StatusTooManyRequests {
			return nil, resilience.Permanent(err)
		}
		return nil, err
	}
	return ParseResponse(data)
}

// Ping checks that the endpoint answers.
func (l *Loader) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.cfg.URL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.New(resp.Status)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
