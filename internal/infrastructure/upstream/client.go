package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kirogate/kirogate/internal/infrastructure/auth"
	apperrors "github.com/kirogate/kirogate/pkg/errors"
)

const generatePath = "/generateAssistantResponse"

// ClientConfig tunes the upstream call policy.
type ClientConfig struct {
	MaxRetries        int
	BaseDelay         time.Duration
	FirstTokenTimeout time.Duration
	NonStreamTimeout  time.Duration
	SlowMultiplier    float64

	// Slow marks the request's model as a slow family. The caller decides
	// this from the external model name; the payload only carries the
	// resolved internal id, which the slow-family table does not cover.
	Slow bool
}

// Client issues generation calls against the upstream for one credential
// manager. Construction is cheap; handlers build one per request.
type Client struct {
	creds  *auth.Manager
	cfg    ClientConfig
	http   *http.Client
	logger *zap.Logger
}

// NewClient builds an upstream client bound to a credential manager.
func NewClient(creds *auth.Manager, cfg ClientConfig, log *zap.Logger) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.FirstTokenTimeout <= 0 {
		cfg.FirstTokenTimeout = 120 * time.Second
	}
	if cfg.NonStreamTimeout <= 0 {
		cfg.NonStreamTimeout = 900 * time.Second
	}
	if cfg.SlowMultiplier < 1 {
		cfg.SlowMultiplier = 1
	}
	return &Client{
		creds: creds,
		cfg:   cfg,
		// No overall client timeout: streamed bodies outlive any fixed
		// deadline. Per-attempt deadlines are managed below.
		http:   &http.Client{},
		logger: log.With(zap.String("component", "upstream-client")),
	}
}

// Send POSTs the payload and returns the streaming response. Retriable
// failures (403 via forced token refresh, 429, 5xx, network errors) are
// absorbed up to the retry budget; other 4xx return the upstream body
// verbatim inside an upstream error. A timeout on a streaming call surfaces
// as ErrFirstTokenTimeout so the pipeline can retry the whole attempt.
func (c *Client) Send(ctx context.Context, payload *Payload, streaming bool) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.NewInternalError("marshal upstream payload", err)
	}

	timeout := c.attemptTimeout(streaming, c.cfg.Slow)

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			delay := c.cfg.BaseDelay * time.Duration(1<<(attempt-2))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, apperrors.NewTimeoutError("request cancelled")
			}
		}

		resp, err := c.attempt(ctx, body, attempt, timeout)
		if err != nil {
			if isTimeoutErr(err) {
				if streaming {
					// Hand first-token retry control to the pipeline.
					return nil, apperrors.ErrFirstTokenTimeout
				}
				c.logger.Warn("Upstream attempt timed out", zap.Int("attempt", attempt))
				lastErr = err
				continue
			}
			if ctx.Err() != nil {
				return nil, apperrors.NewTimeoutError("request cancelled")
			}
			c.logger.Warn("Upstream attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			lastErr = err
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return resp, nil

		case resp.StatusCode == http.StatusForbidden:
			// Expired or revoked access token: refresh and go again without
			// consuming backoff time.
			drainClose(resp)
			c.logger.Info("Upstream returned 403, refreshing token", zap.Int("attempt", attempt))
			if _, err := c.creds.ForceRefresh(ctx); err != nil {
				return nil, err
			}
			lastErr = fmt.Errorf("upstream returned 403")

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			msg := readBodyPrefix(resp)
			drainClose(resp)
			c.logger.Warn("Upstream returned retriable status",
				zap.Int("status", resp.StatusCode), zap.Int("attempt", attempt))
			lastErr = fmt.Errorf("upstream returned %d: %s", resp.StatusCode, msg)

		default:
			// Non-retriable 4xx: surface the upstream body verbatim.
			msg := readBodyPrefix(resp)
			drainClose(resp)
			return nil, apperrors.NewUpstreamError(resp.StatusCode, msg)
		}
	}

	if streaming {
		return nil, apperrors.NewTimeoutError("upstream attempts exhausted")
	}
	return nil, apperrors.NewUpstreamError(http.StatusBadGateway,
		fmt.Sprintf("upstream attempts exhausted: %v", lastErr))
}

func (c *Client) attemptTimeout(streaming bool, slow bool) time.Duration {
	base := c.cfg.FirstTokenTimeout
	if !streaming {
		base = c.cfg.NonStreamTimeout
	}
	if slow {
		base = time.Duration(float64(base) * c.cfg.SlowMultiplier)
	}
	return base
}

func (c *Client) attempt(ctx context.Context, body []byte, attempt int, timeout time.Duration) (*http.Response, error) {
	token, err := c.creds.GetAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	// The deadline covers dialing and response headers; once headers arrive
	// the timer stops and the body lives until Close, still cancellable via
	// the caller's context.
	attemptCtx, cancel := context.WithCancel(ctx)
	timer := time.AfterFunc(timeout, cancel)

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost,
		c.creds.APIHost()+generatePath, bytes.NewReader(body))
	if err != nil {
		timer.Stop()
		cancel()
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("amz-sdk-invocation-id", uuid.New().String())
	req.Header.Set("amz-sdk-request", fmt.Sprintf("attempt=%d; max=%d", attempt, c.cfg.MaxRetries))
	req.Header.Set("User-Agent",
		fmt.Sprintf("aws-sdk-js/1.0.7 KiroIDE-%s", c.creds.Fingerprint()[:16]))

	resp, err := c.http.Do(req)
	if err != nil {
		timer.Stop()
		cancel()
		if attemptCtx.Err() != nil && ctx.Err() == nil {
			return nil, context.DeadlineExceeded
		}
		return nil, err
	}
	timer.Stop()
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelOnClose releases the per-attempt context when the body is closed so
// the transport connection is returned or torn down promptly.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func isTimeoutErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func readBodyPrefix(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return string(data)
}

func drainClose(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}
