// Package coach generates structured coaching feedback for runs via an
// OpenAI-compatible chat completion API.
package coach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"stridecoach/internal/config"
	"stridecoach/internal/database"
	"stridecoach/internal/metrics"
)

const (
	analysisSystemPrompt = "You are an expert running coach focused on injury prevention and performance. Always respond with valid JSON only."
	chatSystemPrompt     = "You are an expert running coach. Be concise, actionable, and focus on injury prevention. Keep responses under 150 words."

	temperature   = 0.7
	chatMaxTokens = 300
)

// ErrMalformedResponse indicates the model returned output that does
// not parse into the expected analysis shape. Never retried.
var ErrMalformedResponse = errors.New("malformed model response")

// RunMetrics is the structured input handed to the model
type RunMetrics struct {
	DistanceMeters  int64
	DurationSeconds int64
	Pace            float64
	AvgHeartRate    int64
	Cadence         int64 // 0 when unknown
	ElevationGain   int64
}

// MetricsForRun extracts model input from a stored run
func MetricsForRun(run *database.Run) RunMetrics {
	m := RunMetrics{
		DistanceMeters:  run.DistanceMeters,
		DurationSeconds: run.DurationSeconds,
		Pace:            run.Pace,
		AvgHeartRate:    run.AvgHeartRate,
		ElevationGain:   run.ElevationGain,
	}
	if run.Cadence != nil {
		m.Cadence = *run.Cadence
	}
	return m
}

// RunAnalysis is the structured result the model must produce
type RunAnalysis struct {
	Summary         string                    `json:"summary"`
	Insights        []database.Insight        `json:"insights"`
	Recommendations []database.Recommendation `json:"recommendations"`
}

// Client wraps a chat completion model
type Client struct {
	llm    llms.Model
	logger *slog.Logger
}

// NewClient creates a coaching client backed by the configured
// OpenAI-compatible endpoint
func NewClient(cfg *config.Config) (*Client, error) {
	opts := []openai.Option{
		openai.WithToken(cfg.OpenAIAPIKey),
		openai.WithModel(cfg.OpenAIModel),
	}
	if cfg.OpenAIBaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}

	return NewClientWithModel(llm), nil
}

// NewClientWithModel creates a coaching client over an existing model.
// Used to substitute fakes in tests.
func NewClientWithModel(llm llms.Model) *Client {
	return &Client{
		llm:    llm,
		logger: slog.Default(),
	}
}

// AnalyzeRun asks the model for coaching feedback on one run. A single
// attempt is made; output that does not parse into the expected shape
// fails with ErrMalformedResponse.
func (c *Client) AnalyzeRun(ctx context.Context, m RunMetrics) (*RunAnalysis, error) {
	content, err := c.complete(ctx, metrics.AIOpAnalyze,
		[]llms.MessageContent{
			llms.TextParts(schema.ChatMessageTypeSystem, analysisSystemPrompt),
			llms.TextParts(schema.ChatMessageTypeHuman, buildAnalysisPrompt(m)),
		},
		llms.WithTemperature(temperature),
	)
	if err != nil {
		return nil, err
	}

	var analysis RunAnalysis
	if err := json.Unmarshal([]byte(content), &analysis); err != nil {
		c.logger.Error("model returned unparseable analysis", "error", err)
		metrics.AIRequestsTotal.WithLabelValues(metrics.AIOpAnalyze, metrics.ResultFailure).Inc()
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if analysis.Summary == "" {
		metrics.AIRequestsTotal.WithLabelValues(metrics.AIOpAnalyze, metrics.ResultFailure).Inc()
		return nil, fmt.Errorf("%w: missing summary", ErrMalformedResponse)
	}

	metrics.AIRequestsTotal.WithLabelValues(metrics.AIOpAnalyze, metrics.ResultSuccess).Inc()
	return &analysis, nil
}

// Chat answers a free-form question about one run
func (c *Client) Chat(ctx context.Context, question string, m RunMetrics) (string, error) {
	runContext := fmt.Sprintf("Run context: %.1fkm, %.2f pace, %s HR, %s cadence",
		float64(m.DistanceMeters)/1000, m.Pace,
		orNA(m.AvgHeartRate), orNA(m.Cadence))

	content, err := c.complete(ctx, metrics.AIOpChat,
		[]llms.MessageContent{
			llms.TextParts(schema.ChatMessageTypeSystem, chatSystemPrompt),
			llms.TextParts(schema.ChatMessageTypeHuman, fmt.Sprintf("%s\n\nRunner's question: %s", runContext, question)),
		},
		llms.WithTemperature(temperature),
		llms.WithMaxTokens(chatMaxTokens),
	)
	if err != nil {
		return "", err
	}

	metrics.AIRequestsTotal.WithLabelValues(metrics.AIOpChat, metrics.ResultSuccess).Inc()
	return content, nil
}

// complete performs one chat completion call and returns the first
// choice's content
func (c *Client) complete(ctx context.Context, op string, messages []llms.MessageContent, options ...llms.CallOption) (string, error) {
	start := time.Now()
	resp, err := c.llm.GenerateContent(ctx, messages, options...)
	duration := time.Since(start)

	if err != nil {
		c.logger.Error("model request failed", "operation", op, "error", err, "duration_ms", duration.Milliseconds())
		metrics.AIRequestsTotal.WithLabelValues(op, metrics.ResultFailure).Inc()
		return "", fmt.Errorf("model request failed: %w", err)
	}

	c.logger.Info("ai_request", "operation", op, "duration_ms", duration.Milliseconds())

	if len(resp.Choices) == 0 {
		metrics.AIRequestsTotal.WithLabelValues(op, metrics.ResultFailure).Inc()
		return "", fmt.Errorf("%w: no choices returned", ErrMalformedResponse)
	}

	return resp.Choices[0].Content, nil
}

func buildAnalysisPrompt(m RunMetrics) string {
	hrLine := "Note: Heart rate data not available for this run."
	if m.AvgHeartRate > 0 {
		hrLine = "Include heart rate zone analysis."
	}
	cadenceLine := "Note: Cadence data not available for this run."
	if m.Cadence > 0 {
		cadenceLine = "Include cadence analysis for running form."
	}

	return fmt.Sprintf(`Analyze this running activity and provide coaching insights:

Distance: %.1f km
Duration: %d:%02d
Pace: %.2f min/km
Average Heart Rate: %s bpm
Cadence: %s spm
Elevation Gain: %dm

Provide a JSON response with:
1. "summary": A brief 2-3 sentence summary of the run quality and performance
2. "insights": Array of 2-3 insights with "title", "detail", and "type" (tip/positive/warning)
3. "recommendations": Array of 2-3 actionable recommendations with "title" and "detail"

Focus on: injury prevention, training load, pace management, and form optimization.
%s
%s

Return ONLY valid JSON, no other text.`,
		float64(m.DistanceMeters)/1000,
		m.DurationSeconds/60, m.DurationSeconds%60,
		m.Pace,
		orNA(m.AvgHeartRate), orNA(m.Cadence),
		m.ElevationGain,
		hrLine, cadenceLine)
}

func orNA(v int64) string {
	if v <= 0 {
		return "N/A"
	}
	return fmt.Sprintf("%d", v)
}
