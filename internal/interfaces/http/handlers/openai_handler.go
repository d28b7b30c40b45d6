package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kirogate/kirogate/internal/domain/chat"
	"github.com/kirogate/kirogate/internal/protocol/openai"
)

// OpenAIHandler serves the /v1/chat/completions dialect.
type OpenAIHandler struct {
	deps   *Deps
	logger *zap.Logger
}

// NewOpenAIHandler builds the handler.
func NewOpenAIHandler(deps *Deps) *OpenAIHandler {
	return &OpenAIHandler{deps: deps, logger: deps.Logger.With(zap.String("handler", "openai"))}
}

// ChatCompletions handles POST /v1/chat/completions.
func (h *OpenAIHandler) ChatCompletions(c *gin.Context) {
	start := time.Now()
	h.deps.Monitor.IncRequestTotal()

	mgr, err := h.deps.Authenticate(BearerToken(c))
	if err != nil {
		h.deps.Observe(start, err)
		c.JSON(HTTPStatus(err), openai.FormatError(err))
		return
	}

	var req openai.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.deps.Observe(start, err)
		c.JSON(http.StatusBadRequest, openai.ErrorBody{Error: openai.ErrorDetail{
			Message: "invalid request body: " + err.Error(),
			Type:    "invalid_request_error",
		}})
		return
	}

	canonical, err := openai.ToCanonical(&req, h.deps.Cfg.ToolDescriptionMaxLength, h.logger)
	if err != nil {
		h.deps.Observe(start, err)
		c.JSON(HTTPStatus(err), openai.FormatError(err))
		return
	}

	makeRequest := h.deps.MakeRequest(mgr, canonical, req.Stream)
	slow := chat.IsSlowModel(canonical.Model)

	if !req.Stream {
		result, err := h.deps.Pipeline.StreamWithRetry(c.Request.Context(), makeRequest, slow, nil)
		h.deps.Observe(start, err)
		if err != nil {
			h.logger.Error("Completion failed", zap.Error(err))
			c.JSON(HTTPStatus(err), openai.FormatError(err))
			return
		}
		usage := h.deps.Usage(canonical, result)
		c.JSON(http.StatusOK, openai.BuildResponse(req.Model, result, usage))
		return
	}

	SetStreamHeaders(c)
	h.deps.Monitor.StreamStarted()
	defer h.deps.Monitor.StreamEnded()

	writer := openai.NewStreamWriter(c.Writer, req.Model)
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

// ListModels handles GET /v1/models.
func (h *OpenAIHandler) ListModels(c *gin.Context) {
	c.JSON(http.StatusOK, openai.BuildModelList(chat.Catalog()))
}
