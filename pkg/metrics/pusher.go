package metrics

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gogo/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/mjasion/balena-home/victron-monitor/pkg/buffer"
	"github.com/prometheus/prometheus/prompb"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// TimeSeriesBuilder converts a batch of buffered items into remote-write series
type TimeSeriesBuilder[T any] func(ctx context.Context, items []T) ([]prompb.TimeSeries, error)

// Config contains configuration for the Prometheus pusher
type Config struct {
	URL          string
	Username     string
	Password     string
	PushInterval time.Duration
	BatchSize    int
	// MaxAttempts per batch, default 3
	MaxAttempts int
	// InitialBackoff doubles after every failed attempt, default 1s
	InitialBackoff time.Duration
}

// Pusher periodically drains a ring buffer and sends its contents to a
// Prometheus remote_write endpoint
type Pusher[T any] struct {
	cfg     Config
	client  *http.Client
	buffer  *buffer.RingBuffer[T]
	builder TimeSeriesBuilder[T]
	logger  *zap.Logger

	mu       sync.RWMutex
	lastPush time.Time
}

// New creates a new Prometheus pusher with OpenTelemetry instrumentation
func New[T any](cfg Config, buf *buffer.RingBuffer[T], builder TimeSeriesBuilder[T], logger *zap.Logger) *Pusher[T] {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 100
	}

	httpClient := &http.Client{
		Timeout: 30 * time.Second,
		Transport: otelhttp.NewTransport(
			http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return "prometheus.remote_write"
			}),
		),
	}

	return &Pusher[T]{
		cfg:     cfg,
		client:  httpClient,
		buffer:  buf,
		builder: builder,
		logger:  logger,
	}
}

// Start pushes buffered items every push interval until ctx is cancelled
func (p *Pusher[T]) Start(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PushInterval)
	defer ticker.Stop()

	p.logger.Info("prometheus pusher started",
		zap.Duration("push_interval", p.cfg.PushInterval),
		zap.Int("batch_size", p.cfg.BatchSize),
	)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("prometheus pusher stopping")
			return
		case <-ticker.C:
			p.Flush(ctx)
		}
	}
}

// Flush drains the buffer and pushes it in batches. On the first failing
// batch, that batch and everything after it go back into the buffer.
// It returns the number of items delivered.
func (p *Pusher[T]) Flush(ctx context.Context) int {
	items := p.buffer.Drain()
	if len(items) == 0 {
		p.logger.Debug("no readings to push")
		return 0
	}

	delivered := 0
	for start := 0; start < len(items); start += p.cfg.BatchSize {
		end := min(start+p.cfg.BatchSize, len(items))

		if err := p.Push(ctx, items[start:end]); err != nil {
			p.logger.Error("failed to push batch, re-queueing remaining readings",
				zap.Error(err),
				zap.Int("failed_readings", len(items)-start),
			)
			p.buffer.PutBack(items[start:])
			break
		}
		delivered += end - start
	}

	return delivered
}

// Push sends one batch, retrying with exponential backoff
func (p *Pusher[T]) Push(ctx context.Context, items []T) error {
	ctx, span := otel.Tracer("metrics").Start(ctx, "metrics.Push",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int("metrics.items", len(items)),
		),
	)
	defer span.End()

	if len(items) == 0 {
		span.SetStatus(codes.Ok, "nothing to push")
		return nil
	}

	if p.builder == nil {
		err := fmt.Errorf("no TimeSeriesBuilder configured")
		span.RecordError(err)
		span.SetStatus(codes.Error, "no builder configured")
		return err
	}

	series, err := p.builder(ctx, items)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "builder failed")
		return fmt.Errorf("failed to build time series: %w", err)
	}
	if len(series) == 0 {
		span.SetStatus(codes.Ok, "no time series")
		return nil
	}

	writeReq := &prompb.WriteRequest{Timeseries: series}
	span.SetAttributes(attribute.Int("metrics.time_series_count", len(series)))

	backoff := p.cfg.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		err := p.pushOnce(ctx, writeReq)
		if err == nil {
			p.mu.Lock()
			p.lastPush = time.Now()
			p.mu.Unlock()

			p.logger.Info("successfully pushed metrics",
				zap.Int("readings", len(items)),
				zap.Int("time_series", len(series)),
				zap.Int("attempt", attempt),
			)
			span.SetAttributes(attribute.Int("metrics.successful_attempt", attempt))
			span.SetStatus(codes.Ok, "metrics pushed successfully")
			return nil
		}

		lastErr = err
		p.logger.Warn("failed to push metrics, will retry",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		span.AddEvent("push attempt failed",
			trace.WithAttributes(
				attribute.Int("metrics.attempt", attempt),
				attribute.String("error", err.Error()),
			),
		)

		if attempt < p.cfg.MaxAttempts {
			select {
			case <-ctx.Done():
				span.RecordError(ctx.Err())
				span.SetStatus(codes.Error, "context cancelled")
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "all attempts failed")
	return fmt.Errorf("failed to push metrics after %d attempts: %w", p.cfg.MaxAttempts, lastErr)
}

// pushOnce performs a single push attempt to Prometheus
func (p *Pusher[T]) pushOnce(ctx context.Context, writeReq *prompb.WriteRequest) error {
	data, err := proto.Marshal(writeReq)
	if err != nil {
		return fmt.Errorf("failed to marshal protobuf: %w", err)
	}

	compressed := snappy.Encode(nil, data)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-protobuf")
	req.Header.Set("Content-Encoding", "snappy")
	req.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")

	if p.cfg.Username != "" && p.cfg.Password != "" {
		req.SetBasicAuth(p.cfg.Username, p.cfg.Password)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("received non-2xx status code: %d, body: %s", resp.StatusCode, string(body))
	}

	return nil
}

// LastPushTime returns the time of the last successful push
func (p *Pusher[T]) LastPushTime() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastPush
}

// Buffered returns the number of items waiting for the next push
func (p *Pusher[T]) Buffered() int {
	return p.buffer.Size()
}
