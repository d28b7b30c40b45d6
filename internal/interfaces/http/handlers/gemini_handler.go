package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kirogate/kirogate/internal/domain/chat"
	"github.com/kirogate/kirogate/internal/protocol/gemini"
	apperrors "github.com/kirogate/kirogate/pkg/errors"
)

// GeminiHandler serves the v1beta generateContent dialect. Gin cannot route
// on the literal colon in "{model}:generateContent", so the whole last
// segment arrives as one parameter and is split here.
type GeminiHandler struct {
	deps   *Deps
	logger *zap.Logger
}

// NewGeminiHandler builds the handler.
func NewGeminiHandler(deps *Deps) *GeminiHandler {
	return &GeminiHandler{deps: deps, logger: deps.Logger.With(zap.String("handler", "gemini"))}
}

// Generate handles POST /v1beta/models/{model}:generateContent and
// {model}:streamGenerateContent. Auth accepts ?key= or a bearer token.
func (h *GeminiHandler) Generate(c *gin.Context) {
	start := time.Now()
	h.deps.Monitor.IncRequestTotal()

	model, action, ok := strings.Cut(c.Param("action"), ":")
	var stream bool
	switch {
	case !ok:
		h.respondError(c, start, apperrors.NewValidationError("expected {model}:generateContent"))
		return
	case action == "generateContent":
		stream = c.Query("alt") == "sse"
	case action == "streamGenerateContent":
		stream = true
	default:
		h.respondError(c, start, apperrors.NewValidationError("unsupported action "+action))
		return
	}

	token := c.Query("key")
	if token == "" {
		token = BearerToken(c)
	}
	mgr, err := h.deps.Authenticate(token)
	if err != nil {
		h.respondError(c, start, err)
		return
	}

	var req gemini.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, start, apperrors.NewValidationError("invalid request body: "+err.Error()))
		return
	}

	canonical, err := gemini.ToCanonical(model, &req, stream, h.deps.Cfg.ToolDescriptionMaxLength, h.logger)
	if err != nil {
		h.respondError(c, start, err)
		return
	}

	makeRequest := h.deps.MakeRequest(mgr, canonical, stream)
	slow := chat.IsSlowModel(canonical.Model)

	if !stream {
		result, err := h.deps.Pipeline.StreamWithRetry(c.Request.Context(), makeRequest, slow, nil)
		h.deps.Observe(start, err)
		if err != nil {
			h.logger.Error("Completion failed", zap.Error(err))
			c.JSON(HTTPStatus(err), gemini.FormatError(err))
			return
		}
		usage := h.deps.Usage(canonical, result)
		c.JSON(http.StatusOK, gemini.BuildResponse(result, usage))
		return
	}

	SetStreamHeaders(c)
	h.deps.Monitor.StreamStarted()
	defer h.deps.Monitor.StreamEnded()

	writer := gemini.NewStreamWriter(c.Writer)
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

func (h *GeminiHandler) respondError(c *gin.Context, start time.Time, err error) {
	h.deps.Observe(start, err)
	c.JSON(HTTPStatus(err), gemini.FormatError(err))
}
