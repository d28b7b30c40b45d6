package service

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/kirogate/kirogate/internal/domain/chat"
	"github.com/kirogate/kirogate/internal/infrastructure/upstream"
	apperrors "github.com/kirogate/kirogate/pkg/errors"
)

// --- Translation pipeline ---
// Reads the upstream body under adaptive timeouts, feeds the event parser,
// and forwards events to a dialect-specific emitter. Dialect framing lives in
// the protocol packages; this layer owns timing, retry and accumulation.

// maxConsecutiveReadTimeouts is how many quiet read windows in a row are
// tolerated mid-stream. Models emitting one large block can legitimately
// stall between flushes.
const maxConsecutiveReadTimeouts = 3

// PipelineConfig tunes stream timing.
type PipelineConfig struct {
	FirstTokenTimeout    time.Duration
	StreamReadTimeout    time.Duration
	FirstTokenMaxRetries int
	RetrySpacing         time.Duration
	SlowMultiplier       float64
}

// Emit receives each parsed event as it arrives. A non-nil error aborts the
// stream (typically: the client hung up).
type Emit func(upstream.Event) error

// MakeRequest opens one upstream attempt and returns its body stream.
type MakeRequest func(ctx context.Context) (io.ReadCloser, error)

// Result is the accumulated outcome of one completed stream.
type Result struct {
	Text       string
	ToolCalls  []chat.ToolCall
	ContextPct float64
	Credits    *float64
}

// Pipeline drives upstream streams. Stateless; safe for concurrent use.
type Pipeline struct {
	cfg    PipelineConfig
	logger *zap.Logger
}

// NewPipeline builds a pipeline with defaults filled in.
func NewPipeline(cfg PipelineConfig, log *zap.Logger) *Pipeline {
	if cfg.FirstTokenTimeout <= 0 {
		cfg.FirstTokenTimeout = 120 * time.Second
	}
	if cfg.StreamReadTimeout <= 0 {
		cfg.StreamReadTimeout = 300 * time.Second
	}
	if cfg.FirstTokenMaxRetries <= 0 {
		cfg.FirstTokenMaxRetries = 3
	}
	if cfg.RetrySpacing <= 0 {
		cfg.RetrySpacing = time.Second
	}
	if cfg.SlowMultiplier < 1 {
		cfg.SlowMultiplier = 1
	}
	return &Pipeline{cfg: cfg, logger: log.With(zap.String("component", "pipeline"))}
}

// StreamWithRetry runs the whole attempt loop: when no byte arrives within
// the first-token window the entire HTTP attempt is retried, up to the retry
// budget with fixed spacing. Once any byte has been seen the stream is never
// restarted, so the client cannot receive duplicate content.
func (p *Pipeline) StreamWithRetry(ctx context.Context, makeRequest MakeRequest, slow bool, emit Emit) (*Result, error) {
	for attempt := 1; attempt <= p.cfg.FirstTokenMaxRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(p.cfg.RetrySpacing):
			case <-ctx.Done():
				return nil, apperrors.NewTimeoutError("request cancelled")
			}
		}

		body, err := makeRequest(ctx)
		if err != nil {
			if errors.Is(err, apperrors.ErrFirstTokenTimeout) {
				p.logger.Warn("No first token from upstream, retrying attempt",
					zap.Int("attempt", attempt))
				continue
			}
			return nil, err
		}

		result, err := p.Run(ctx, body, slow, emit)
		if err != nil {
			if errors.Is(err, apperrors.ErrFirstTokenTimeout) {
				p.logger.Warn("Stream produced no bytes, retrying attempt",
					zap.Int("attempt", attempt))
				continue
			}
			return nil, err
		}
		return result, nil
	}
	return nil, apperrors.NewTimeoutError("upstream produced no output within the retry budget")
}

type readChunk struct {
	data []byte
	err  error
}

// Run consumes one upstream body to completion. The first read is bounded by
// the first-token window; later reads by the stream-read window, tolerating a
// few consecutive quiet windows. Returns ErrFirstTokenTimeout only when zero
// bytes arrived, so callers can safely retry the whole attempt.
func (p *Pipeline) Run(ctx context.Context, body io.ReadCloser, slow bool, emit Emit) (*Result, error) {
	defer body.Close()

	mult := 1.0
	if slow {
		mult = p.cfg.SlowMultiplier
	}
	firstTimeout := time.Duration(float64(p.cfg.FirstTokenTimeout) * mult)
	readTimeout := time.Duration(float64(p.cfg.StreamReadTimeout) * mult)

	done := make(chan struct{})
	defer close(done)
	chunks := make(chan readChunk)
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := body.Read(buf)
			chunk := readChunk{err: err}
			if n > 0 {
				chunk.data = append([]byte(nil), buf[:n]...)
			}
			select {
			case chunks <- chunk:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	parser := upstream.NewParser(p.logger)
	result := &Result{}
	var lastContent string
	first := true
	quietWindows := 0

	for {
		timeout := readTimeout
		if first {
			timeout = firstTimeout
		}

		select {
		case <-ctx.Done():
			return nil, apperrors.NewTimeoutError("request cancelled")

		case <-time.After(timeout):
			if first {
				return nil, apperrors.ErrFirstTokenTimeout
			}
			quietWindows++
			if quietWindows > maxConsecutiveReadTimeouts {
				p.logger.Warn("Stream stalled past tolerance, finishing with partial output",
					zap.Int("quiet_windows", quietWindows))
				result.ToolCalls = parser.Finalize()
				return result, nil
			}
			p.logger.Warn("Stream read window elapsed without data",
				zap.Int("quiet_windows", quietWindows))

		case chunk := <-chunks:
			if len(chunk.data) > 0 {
				first = false
				quietWindows = 0
				for _, ev := range parser.Feed(chunk.data) {
					if err := p.handleEvent(ev, result, &lastContent, emit); err != nil {
						return nil, err
					}
				}
			}
			if chunk.err != nil {
				if chunk.err != io.EOF {
					p.logger.Warn("Upstream body read error, finishing with partial output",
						zap.Error(chunk.err))
				}
				if first {
					return nil, apperrors.ErrFirstTokenTimeout
				}
				result.ToolCalls = parser.Finalize()
				return result, nil
			}
		}
	}
}

func (p *Pipeline) handleEvent(ev upstream.Event, result *Result, lastContent *string, emit Emit) error {
	switch ev.Kind {
	case upstream.EventContent:
		// Consecutive identical content events are an upstream quirk; drop
		// the repeat.
		if ev.Content == "" || ev.Content == *lastContent {
			*lastContent = ev.Content
			return nil
		}
		*lastContent = ev.Content
		result.Text += ev.Content
		if emit != nil {
			return emit(ev)
		}
	case upstream.EventUsage:
		credits := ev.Usage
		result.Credits = &credits
	case upstream.EventContextUsage:
		result.ContextPct = ev.ContextPercent
	}
	// Tool start/input/stop are accumulated inside the parser and surface
	// from Finalize; nothing is emitted mid-stream for them.
	return nil
}
