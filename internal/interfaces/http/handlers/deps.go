package handlers

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kirogate/kirogate/internal/domain/chat"
	"github.com/kirogate/kirogate/internal/domain/service"
	"github.com/kirogate/kirogate/internal/infrastructure/auth"
	"github.com/kirogate/kirogate/internal/infrastructure/config"
	"github.com/kirogate/kirogate/internal/infrastructure/monitoring"
	"github.com/kirogate/kirogate/internal/infrastructure/upstream"
	apperrors "github.com/kirogate/kirogate/pkg/errors"
)

// Deps is the shared wiring every dialect handler needs.
type Deps struct {
	Cfg      *config.Config
	Global   *auth.Manager // nil when no global refresh token is configured
	Cache    *auth.Cache
	Pipeline *service.Pipeline
	Monitor  *monitoring.Monitor
	Logger   *zap.Logger
}

// Authenticate resolves the raw client token to a credential manager. Two
// shapes are accepted: the proxy key alone (global manager) or
// "key:refreshToken" (per-tenant manager from the cache).
func (d *Deps) Authenticate(token string) (*auth.Manager, error) {
	if token == "" {
		return nil, apperrors.NewAuthenticationError("missing API key")
	}
	key, refreshToken, hasTenant := strings.Cut(token, ":")
	if key != d.Cfg.ProxyAPIKey {
		return nil, apperrors.NewAuthenticationError("invalid API key")
	}
	if hasTenant && refreshToken != "" {
		return d.Cache.GetOrCreate(refreshToken, "", "")
	}
	if d.Global == nil {
		return nil, apperrors.NewAuthenticationError("no upstream credentials configured for this key")
	}
	return d.Global, nil
}

// MakeRequest builds the per-attempt upstream call for one canonical request.
// Each invocation issues a fresh POST; the pipeline may call it several times
// when the first token never arrives.
func (d *Deps) MakeRequest(mgr *auth.Manager, canonical *chat.Request, streaming bool) service.MakeRequest {
	payload := upstream.BuildPayload(canonical, uuid.New().String(), mgr.ProfileArn())
	client := upstream.NewClient(mgr, upstream.ClientConfig{
		MaxRetries:        d.Cfg.MaxRetries,
		BaseDelay:         d.Cfg.BaseRetryDelay,
		FirstTokenTimeout: d.Cfg.FirstTokenTimeout,
		NonStreamTimeout:  d.Cfg.NonStreamTimeout,
		SlowMultiplier:    d.Cfg.SlowModelMultiplier,
		Slow:              chat.IsSlowModel(canonical.Model),
	}, d.Logger)

	return func(ctx context.Context) (io.ReadCloser, error) {
		resp, err := client.Send(ctx, payload, streaming)
		if err != nil {
			return nil, err
		}
		return resp.Body, nil
	}
}

// Usage computes the final token accounting for a finished stream.
func (d *Deps) Usage(canonical *chat.Request, result *service.Result) service.Usage {
	usage := service.ComputeUsage(canonical, result.Text, result.ContextPct,
		d.Cfg.DefaultMaxInputTokens, result.Credits)
	d.Monitor.AddPromptTokens(usage.PromptTokens)
	d.Monitor.AddCompletionTokens(usage.CompletionTokens)
	d.Monitor.AddToolCalls(len(result.ToolCalls))
	return usage
}

// Observe wraps one request for counters and latency.
func (d *Deps) Observe(start time.Time, err error) {
	d.Monitor.RecordRequestLatency(time.Since(start))
	if err != nil {
		d.Monitor.IncRequestFailed()
		return
	}
	d.Monitor.IncRequestSuccess()
}

// SetStreamHeaders prepares the response for SSE output.
func SetStreamHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeaderNow()
}

// BearerToken extracts a bearer credential from the Authorization header.
func BearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(header[len("Bearer "):])
	}
	return ""
}

// HTTPStatus maps any error to its client-facing status.
func HTTPStatus(err error) int {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus()
	}
	return 500
}
