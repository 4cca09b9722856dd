package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/issuepilot/issuepilot/internal/telemetry"
	"github.com/issuepilot/issuepilot/internal/types"
)

const (
	maxRetries     = 3
	initialBackoff = 1 * time.Second

	// DefaultClaudeModel is the model used for classification. Analysis is
	// a cheap structured-output task; the fast tier is sufficient.
	DefaultClaudeModel = "claude-haiku-4-5"
)

// errAPIKeyRequired is returned when an API key is needed but not provided.
var errAPIKeyRequired = errors.New("API key required")

// Claude is an Anthropic-backed classifier. It asks the model for a
// structured assessment and merges it over the rule-based baseline; any
// API failure falls back to the baseline so classification never blocks
// the pipeline on API availability.
type Claude struct {
	client         anthropic.Client
	model          anthropic.Model
	rules          *Rules
	maxRetries     int
	initialBackoff time.Duration
}

// NewClaude creates the Claude classifier. Env var ANTHROPIC_API_KEY takes
// precedence over the explicit apiKey.
func NewClaude(apiKey, model string) (*Claude, error) {
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		apiKey = envKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY or provide via config", errAPIKeyRequired)
	}
	if model == "" {
		model = DefaultClaudeModel
	}

	aiMetricsOnce.Do(initAIMetrics)

	return &Claude{
		client:         anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:          anthropic.Model(model),
		rules:          NewRules(),
		maxRetries:     maxRetries,
		initialBackoff: initialBackoff,
	}, nil
}

const classifyPrompt = `You are triaging a GitHub issue for automated remediation.

Title: %s

Body:
%s

Labels: %s

Respond with a single JSON object and nothing else:
{"issue_type": "bug|feature|documentation|security|general",
 "priority": "critical|high|medium|low",
 "complexity_score": 0.0-1.0,
 "confidence_score": 0.0-1.0}
confidence_score is your confidence that an automated coding agent can
resolve this issue without human help.`

// claudeAssessment is the JSON shape the model is asked to return.
type claudeAssessment struct {
	IssueType       string  `json:"issue_type"`
	Priority        string  `json:"priority"`
	ComplexityScore float64 `json:"complexity_score"`
	ConfidenceScore float64 `json:"confidence_score"`
}

// Analyze runs the rule baseline, then refines it with the model's
// assessment. On any API or parse error the baseline is returned as-is.
func (c *Claude) Analyze(ctx context.Context, payload types.IssuePayload) (*types.Classification, error) {
	base, _ := c.rules.Analyze(ctx, payload)

	prompt := fmt.Sprintf(classifyPrompt, payload.Title, payload.Body, strings.Join(payload.Labels, ", "))
	raw, err := c.callWithRetry(ctx, prompt)
	if err != nil {
		return base, nil // Baseline stands; the API is advisory
	}

	var a claudeAssessment
	if err := json.Unmarshal([]byte(extractJSON(raw)), &a); err != nil {
		return base, nil
	}

	if a.IssueType != "" {
		base.IssueType = a.IssueType
	}
	if a.Priority != "" {
		base.Priority = a.Priority
	}
	if a.ComplexityScore > 0 && a.ComplexityScore <= 1 {
		base.ComplexityScore = a.ComplexityScore
	}
	if a.ConfidenceScore > 0 && a.ConfidenceScore <= 1 {
		base.ConfidenceScore = a.ConfidenceScore
	}
	return base, nil
}

// aiMetrics holds lazily-initialized OTel instruments for Anthropic API
// calls.
var aiMetrics struct {
	inputTokens  metric.Int64Counter
	outputTokens metric.Int64Counter
	duration     metric.Float64Histogram
}

var aiMetricsOnce sync.Once

func initAIMetrics() {
	m := telemetry.Meter("github.com/issuepilot/issuepilot/ai")
	aiMetrics.inputTokens, _ = m.Int64Counter("pilot.ai.input_tokens",
		metric.WithDescription("Anthropic API input tokens consumed"),
		metric.WithUnit("{token}"),
	)
	aiMetrics.outputTokens, _ = m.Int64Counter("pilot.ai.output_tokens",
		metric.WithDescription("Anthropic API output tokens generated"),
		metric.WithUnit("{token}"),
	)
	aiMetrics.duration, _ = m.Float64Histogram("pilot.ai.request.duration",
		metric.WithDescription("Anthropic API request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
}

func (c *Claude) callWithRetry(ctx context.Context, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 512,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.initialBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		t0 := time.Now()
		message, err := c.client.Messages.New(ctx, params)
		ms := float64(time.Since(t0).Milliseconds())

		if err == nil {
			modelAttr := attribute.String("pilot.ai.model", string(c.model))
			if aiMetrics.inputTokens != nil {
				aiMetrics.inputTokens.Add(ctx, message.Usage.InputTokens, metric.WithAttributes(modelAttr))
				aiMetrics.outputTokens.Add(ctx, message.Usage.OutputTokens, metric.WithAttributes(modelAttr))
				aiMetrics.duration.Record(ctx, ms, metric.WithAttributes(modelAttr))
			}
			if len(message.Content) > 0 && message.Content[0].Type == "text" {
				return message.Content[0].Text, nil
			}
			return "", fmt.Errorf("unexpected response format: no text block")
		}

		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !isRetryable(err) {
			return "", fmt.Errorf("non-retryable error: %w", err)
		}
	}
	return "", fmt.Errorf("failed after %d retries: %w", c.maxRetries+1, lastErr)
}

// isRetryable reports whether the API error is transient (network faults,
// rate limits, 5xx).
func isRetryable(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

// extractJSON strips any prose or code fencing around the first JSON object
// in the model output.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
