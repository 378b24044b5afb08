package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ogulcanaydogan/bi-sentinel/internal/auth"
	"github.com/ogulcanaydogan/bi-sentinel/internal/prompts"
	"github.com/ogulcanaydogan/bi-sentinel/pkg/gateway"
	"github.com/ogulcanaydogan/bi-sentinel/pkg/model"
	"github.com/ogulcanaydogan/bi-sentinel/pkg/tokenizer"
)

// CallRecorder persists one row per proxied call.
type CallRecorder interface {
	RecordCall(ctx context.Context, call *model.LLMCall) error
}

// Options tunes the function handler.
type Options struct {
	MaxBodySize     int64
	MaxPromptTokens int64
	Timeout         time.Duration
	Temperature     float64
}

// FunctionRequest is the body of POST /functions/v1/{function}.
type FunctionRequest struct {
	Module string `json:"module"`
	Action string `json:"action"`
	Data   any    `json:"data"`
}

// FunctionResponse is the success envelope.
type FunctionResponse struct {
	Success   bool      `json:"success"`
	Module    string    `json:"module"`
	Action    string    `json:"action"`
	Result    any       `json:"result"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler serves the LLM-proxy functions: catalog lookup, prompt rendering,
// gateway call and JSON-or-narrative result parsing.
type Handler struct {
	catalog  *prompts.Catalog
	gateway  gateway.Gateway
	counter  *tokenizer.Counter
	recorder CallRecorder
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

// NewHandler creates a function handler. recorder may be nil.
func NewHandler(catalog *prompts.Catalog, gw gateway.Gateway, counter *tokenizer.Counter, recorder CallRecorder, opts Options, logger *slog.Logger) *Handler {
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = 1 << 20
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &Handler{
		catalog:  catalog,
		gateway:  gw,
		counter:  counter,
		recorder: recorder,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// ServeHTTP handles POST /functions/v1/{function}.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	function := r.PathValue("function")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.opts.MaxBodySize))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req FunctionRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	prompt, entry, err := h.catalog.Lookup(function, req.Module, req.Action)
	switch {
	case errors.Is(err, prompts.ErrUnknownFunction):
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown function %q", function))
		return
	case errors.Is(err, prompts.ErrUnknownAction):
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown module or action: %s/%s", entry.Module, entry.Action))
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "prompt lookup failed")
		return
	}

	call := &model.LLMCall{
		Function: entry.Function,
		Module:   entry.Module,
		Action:   entry.Action,
		Backend:  h.gateway.Name(),
		Model:    h.gateway.Model(),
	}
	if userID, ok := auth.UserIDFromContext(r.Context()); ok {
		call.UserID = userID
	}
	defer func() {
		call.LatencyMS = time.Since(start).Milliseconds()
		h.record(call)
	}()

	data := req.Data
	if data == nil {
		data = map[string]any{}
	}
	userPrompt, err := prompt.Render(data)
	if err != nil {
		call.Status = http.StatusBadRequest
		writeError(w, call.Status, "invalid data: "+err.Error())
		return
	}

	if h.counter != nil {
		tokens, err := h.counter.CountPrompt(prompt.System, userPrompt, call.Backend, call.Model)
		if err != nil {
			h.logger.Warn("count prompt tokens", "function", function, "error", err)
		} else {
			call.PromptTokens = tokens
			w.Header().Set("X-Prompt-Tokens", strconv.FormatInt(tokens, 10))
		}
	}
	if h.opts.MaxPromptTokens > 0 && call.PromptTokens > h.opts.MaxPromptTokens {
		call.Status = http.StatusRequestEntityTooLarge
		writeError(w, call.Status, fmt.Sprintf("prompt has %d tokens, limit is %d", call.PromptTokens, h.opts.MaxPromptTokens))
		return
	}

	temperature := prompt.Temperature
	if temperature == 0 {
		temperature = h.opts.Temperature
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.Timeout)
	defer cancel()

	reply, err := h.gateway.Complete(ctx, gateway.ChatRequest{
		System:      prompt.System,
		User:        userPrompt,
		Temperature: temperature,
		MaxTokens:   prompt.MaxTokens,
	})
	if err != nil {
		call.Status = statusForGatewayError(err)
		h.logger.Error("gateway call failed",
			"function", entry.Function,
			"module", entry.Module,
			"action", entry.Action,
			"status", call.Status,
			"error", err,
		)
		writeError(w, call.Status, messageForStatus(call.Status))
		return
	}

	call.Status = http.StatusOK
	writeJSON(w, http.StatusOK, FunctionResponse{
		Success:   true,
		Module:    entry.Module,
		Action:    entry.Action,
		Result:    ExtractResult(reply),
		Timestamp: h.now().UTC(),
	})
}

// record writes the usage row. Failures never affect the response.
func (h *Handler) record(call *model.LLMCall) {
	if h.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.recorder.RecordCall(ctx, call); err != nil {
		h.logger.Error("failed to record llm call", "function", call.Function, "error", err)
	}
}

func statusForGatewayError(err error) int {
	switch {
	case errors.Is(err, gateway.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, gateway.ErrQuotaExceeded):
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

func messageForStatus(status int) string {
	switch status {
	case http.StatusTooManyRequests:
		return "Rate limit exceeded. Please try again later."
	case http.StatusPaymentRequired:
		return "AI credits exhausted. Please add credits to continue."
	default:
		return "AI gateway error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
