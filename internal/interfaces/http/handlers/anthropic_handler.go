package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kirogate/kirogate/internal/domain/chat"
	"github.com/kirogate/kirogate/internal/domain/service"
	"github.com/kirogate/kirogate/internal/protocol/anthropic"
)

// AnthropicHandler serves the /v1/messages dialect.
type AnthropicHandler struct {
	deps   *Deps
	logger *zap.Logger
}

// NewAnthropicHandler builds the handler.
func NewAnthropicHandler(deps *Deps) *AnthropicHandler {
	return &AnthropicHandler{deps: deps, logger: deps.Logger.With(zap.String("handler", "anthropic"))}
}

// Messages handles POST /v1/messages. Auth accepts x-api-key or a bearer
// token.
func (h *AnthropicHandler) Messages(c *gin.Context) {
	start := time.Now()
	h.deps.Monitor.IncRequestTotal()

	token := c.GetHeader("x-api-key")
	if token == "" {
		token = BearerToken(c)
	}
	mgr, err := h.deps.Authenticate(token)
	if err != nil {
		h.deps.Observe(start, err)
		c.JSON(HTTPStatus(err), anthropic.FormatError(err))
		return
	}

	var req anthropic.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		h.deps.Observe(start, err)
		c.JSON(http.StatusBadRequest, anthropic.ErrorBody{
			Type: "error",
			Error: anthropic.ErrorDetail{
				Type:    "invalid_request_error",
				Message: "invalid request body: " + err.Error(),
			},
		})
		return
	}

	canonical, err := anthropic.ToCanonical(&req, h.deps.Cfg.ToolDescriptionMaxLength, h.logger)
	if err != nil {
		h.deps.Observe(start, err)
		c.JSON(HTTPStatus(err), anthropic.FormatError(err))
		return
	}

	makeRequest := h.deps.MakeRequest(mgr, canonical, req.Stream)
	slow := chat.IsSlowModel(canonical.Model)

	if !req.Stream {
		result, err := h.deps.Pipeline.StreamWithRetry(c.Request.Context(), makeRequest, slow, nil)
		h.deps.Observe(start, err)
		if err != nil {
			h.logger.Error("Completion failed", zap.Error(err))
			c.JSON(HTTPStatus(err), anthropic.FormatError(err))
			return
		}
		usage := h.deps.Usage(canonical, result)
		c.JSON(http.StatusOK, anthropic.BuildResponse(req.Model, result, usage))
		return
	}

	SetStreamHeaders(c)
	h.deps.Monitor.StreamStarted()
	defer h.deps.Monitor.StreamEnded()

	inputEstimate := service.EstimateRequestTokens(canonical)
	writer := anthropic.NewStreamWriter(c.Writer, req.Model, inputEstimate)
	result, err := h.deps.Pipeline.StreamWithRetry(c.Request.Context(), makeRequest, slow, writer.OnEvent)
	h.deps.Observe(start, err)
	if err != nil {
		h.logger.Error("Stream failed", zap.Error(err))
		writer.WriteError(err)
		return
	}
	usage := h.deps.Usage(canonical, result)
	if err := writer.Finish(result, usage); err != nil {
		h.logger.Warn("Client went away before stream finished", zap.Error(err))
	}
}
