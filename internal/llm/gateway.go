// Package llm is the gateway between the pipeline and the OpenAI client.
// It owns retry policy, JSON response cleanup, and the mapping of transport
// failures onto the coded error taxonomy; the client itself stays dumb.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/brandintel/internal/apperr"
	"github.com/sells-group/brandintel/internal/metrics"
	"github.com/sells-group/brandintel/internal/model"
	"github.com/sells-group/brandintel/internal/prompt"
	"github.com/sells-group/brandintel/internal/resilience"
	"github.com/sells-group/brandintel/pkg/openai"
)

// jsonOnly is appended to every system prompt so replies stay parseable
// even when a prompt override forgets to ask for JSON.
const jsonOnly = "Respond with a single valid JSON object and nothing else."

const defaultTemperature = 0.7

// Gateway wraps an OpenAI-compatible client with retries, response cleanup,
// and error classification.
type Gateway struct {
	client  openai.Client
	metrics *metrics.Metrics
	retry   resilience.RetryConfig
}

// NewGateway builds a Gateway with the standard OpenAI retry policy:
// three attempts, 2s then 4s between them.
func NewGateway(client openai.Client, m *metrics.Metrics) *Gateway {
	return &Gateway{
		client:  client,
		metrics: m,
		retry:   resilience.DefaultRetryConfig(),
	}
}

// NewGatewayWithRetry builds a Gateway with a custom retry policy.
func NewGatewayWithRetry(client openai.Client, m *metrics.Metrics, retry resilience.RetryConfig) *Gateway {
	g := NewGateway(client, m)
	g.retry = retry
	return g
}

// Call sends one JSON-mode chat completion for the given endpoint tag and
// returns the JSON object the model produced, cleaned of markdown fences.
// Errors carry an apperr code: OPENAI_TIMEOUT on deadline, OPENAI_ERROR
// for everything else.
func (g *Gateway) Call(ctx context.Context, endpoint string, p prompt.Prompt) (json.RawMessage, model.TokenUsage, error) {
	start := time.Now()
	req := g.buildRequest(p)

	cfg := g.retry
	cfg.OnRetry = resilience.RetryLogger("openai", endpoint)

	resp, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*openai.ChatCompletionResponse, error) {
		resp, callErr := g.client.ChatCompletion(ctx, req)
		g.metrics.RecordAPICall(g.client.Model(), endpoint, callStatus(callErr))
		if callErr != nil {
			return nil, classifyTransport(callErr)
		}
		return resp, nil
	})
	if err != nil {
		return nil, model.TokenUsage{}, toAppError(err)
	}

	usage := model.TokenUsage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	g.metrics.AddTokens(g.client.Model(), endpoint, usage.TotalTokens)

	if len(resp.Choices) == 0 {
		return nil, usage, apperr.New(apperr.CodeOpenAIError, "openai returned no choices")
	}

	cleaned := cleanJSON(resp.Choices[0].Message.Content)
	if !isJSONObject(cleaned) {
		zap.L().Warn("llm: response is not a JSON object",
			zap.String("endpoint", endpoint),
			zap.Int("contentLen", len(resp.Choices[0].Message.Content)),
		)
		return nil, usage, apperr.New(apperr.CodeOpenAIError, "openai returned non-JSON content")
	}

	zap.L().Debug("llm: call complete",
		zap.String("endpoint", endpoint),
		zap.Int("totalTokens", usage.TotalTokens),
		zap.Duration("duration", time.Since(start)),
	)

	return json.RawMessage(cleaned), usage, nil
}

func (g *Gateway) buildRequest(p prompt.Prompt) openai.ChatCompletionRequest {
	system := jsonOnly
	if p.System != "" {
		system = strings.TrimSpace(p.System) + "\n\n" + jsonOnly
	}

	temp := defaultTemperature
	if p.Temperature != nil {
		temp = *p.Temperature
	}

	return openai.ChatCompletionRequest{
		Messages: []openai.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: p.User},
		},
		Temperature:    &temp,
		MaxTokens:      p.MaxTokens,
		ResponseFormat: openai.JSONObject(),
	}
}

// callStatus maps one attempt's outcome to the api-calls metric label.
func callStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case isTimeout(err):
		return "timeout"
	default:
		return "error"
	}
}

// classifyTransport marks retryable HTTP failures (429, 5xx) as transient so
// the retry loop takes another attempt. Auth failures and other 4xx pass
// through untouched and fail immediately.
func classifyTransport(err error) error {
	var se *openai.StatusError
	if errors.As(err, &se) && resilience.IsRetryableHTTPStatus(se.Code) {
		return resilience.NewTransientError(err, se.Code)
	}
	return err
}

// toAppError maps a final transport failure onto the coded taxonomy.
func toAppError(err error) error {
	if isTimeout(err) {
		return apperr.Wrap(err, apperr.CodeOpenAITimeout, "openai request timed out")
	}
	var se *openai.StatusError
	if errors.As(err, &se) && resilience.IsAuthHTTPStatus(se.Code) {
		return apperr.Wrap(err, apperr.CodeOpenAIError, "openai authentication failed")
	}
	return apperr.Wrap(err, apperr.CodeOpenAIError, "openai request failed")
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// cleanJSON extracts a JSON object from text that may carry markdown code
// fences or surrounding prose.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	// Keep the outermost object only.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}

func isJSONObject(s string) bool {
	return strings.HasPrefix(s, "{") && json.Valid([]byte(s))
}
