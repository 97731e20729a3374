// Package classifier asks an LLM to sort board records into categories and
// tag their sentiment.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/starford/sift/internal/models"
	"github.com/starford/sift/internal/reconcile"
)

const (
	defaultModel     = "claude-sonnet-4-5"
	defaultMaxTokens = 4096
	defaultBatchSize = 50
)

// Config configures the Anthropic classifier.
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int
	BaseURL   string
	BatchSize int
}

// messages is the part of the SDK client the classifier calls.
type messages interface {
	New(ctx context.Context, params anthropicsdk.MessageNewParams, opts ...option.RequestOption) (*anthropicsdk.Message, error)
}

// Anthropic classifies records with the Messages API.
type Anthropic struct {
	msgs      messages
	model     anthropicsdk.Model
	maxTokens int64
	batchSize int
	logger    *slog.Logger
}

// NewAnthropic builds a classifier from cfg. An API key is required.
func NewAnthropic(cfg Config, logger *slog.Logger) (*Anthropic, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("classifier: api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropicsdk.NewClient(opts...)
	return newAnthropic(&client.Messages, cfg, logger), nil
}

func newAnthropic(msgs messages, cfg Config, logger *slog.Logger) *Anthropic {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Anthropic{
		msgs:      msgs,
		model:     anthropicsdk.Model(cfg.Model),
		maxTokens: int64(cfg.MaxTokens),
		batchSize: cfg.BatchSize,
		logger:    logger,
	}
	if a.model == "" {
		a.model = defaultModel
	}
	if a.maxTokens <= 0 {
		a.maxTokens = defaultMaxTokens
	}
	if a.batchSize <= 0 {
		a.batchSize = defaultBatchSize
	}
	return a
}

// Classify sends items in batches and merges the per-batch mappings.
// A batch whose reply is not a JSON object fails the whole call.
func (a *Anthropic) Classify(ctx context.Context, items []models.PendingItem, categories []string) (map[int]models.Classification, error) {
	out := make(map[int]models.Classification, len(items))
	system := systemPrompt(categories)
	for start := 0; start < len(items); start += a.batchSize {
		batch := items[start:min(start+a.batchSize, len(items))]
		got, err := a.classifyBatch(ctx, system, batch)
		if err != nil {
			return nil, err
		}
		maps.Copy(out, got)
	}
	return out, nil
}

func (a *Anthropic) classifyBatch(ctx context.Context, system string, batch []models.PendingItem) (map[int]models.Classification, error) {
	payload, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("classifier: encode batch: %w", err)
	}
	msg, err := a.msgs.New(ctx, anthropicsdk.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System:    []anthropicsdk.TextBlockParam{{Text: system}},
		Messages: []anthropicsdk.MessageParam{{
			Role:    anthropicsdk.MessageParamRoleUser,
			Content: []anthropicsdk.ContentBlockParamUnion{anthropicsdk.NewTextBlock(string(payload))},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("classifier: request: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	got, err := reconcile.ParseClassification([]byte(reconcile.ExtractJSONObject(text.String())))
	if err != nil {
		a.logger.Error("classifier: unusable reply",
			slog.Int("batch", len(batch)),
			slog.String("stop_reason", string(msg.StopReason)),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("classifier: %w", err)
	}
	a.logger.Debug("classifier: batch classified",
		slog.Int("batch", len(batch)),
		slog.Int("entries", len(got)))
	return got, nil
}

func systemPrompt(categories []string) string {
	sentiments := make([]string, len(models.Sentiments))
	for i, s := range models.Sentiments {
		sentiments[i] = string(s)
	}
	var b strings.Builder
	b.WriteString("You sort community messages. The user sends a JSON array of {id, text}.\n")
	b.WriteString("Reply with one JSON object and nothing else, keyed by id as a string:\n")
	b.WriteString(`{"<id>": {"category": "<category>", "sentiment": "<sentiment>"}}` + "\n")
	fmt.Fprintf(&b, "Categories: %s. Use %s when nothing fits.\n", strings.Join(categories, ", "), models.UncategorizedID)
	fmt.Fprintf(&b, "Sentiments: %s.\n", strings.Join(sentiments, ", "))
	return b.String()
}
