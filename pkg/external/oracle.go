package external

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"github.com/supplement-advisor-server/internal/domain"
)

// contentGenerator is the chat half of a langchaingo model.
type contentGenerator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// embeddingCreator is the embedding half of a langchaingo OpenAI client.
type embeddingCreator interface {
	CreateEmbedding(ctx context.Context, inputTexts []string) ([][]float32, error)
}

// OpenAIOracle implements domain.TextOracle with langchaingo's OpenAI client.
// Any OpenAI-compatible endpoint works through BaseURL.
type OpenAIOracle struct {
	chat        contentGenerator
	embedder    embeddingCreator
	temperature float64
	timeout     time.Duration
	logger      *logrus.Logger
}

var _ domain.TextOracle = (*OpenAIOracle)(nil)

// NewOpenAIOracle creates an oracle from the oracle configuration.
func NewOpenAIOracle(config domain.OracleConfig, logger *logrus.Logger) (*OpenAIOracle, error) {
	token := config.APIKey
	if token == "" {
		// langchaingo requires a token even for local OpenAI-compatible servers
		token = "placeholder"
	}

	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithModel(config.ChatModel),
		openai.WithEmbeddingModel(config.EmbeddingModel),
	}
	if config.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(config.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}
	return newOracle(llm, llm, config, logger), nil
}

func newOracle(chat contentGenerator, embedder embeddingCreator, config domain.OracleConfig, logger *logrus.Logger) *OpenAIOracle {
	return &OpenAIOracle{
		chat:        chat,
		embedder:    embedder,
		temperature: config.Temperature,
		timeout:     config.Timeout,
		logger:      logger,
	}
}

// Complete sends a system and a user message and returns the first choice.
func (o *OpenAIOracle) Complete(ctx context.Context, prompt, system string) (string, error) {
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	messages := make([]llms.MessageContent, 0, 2)
	if system != "" {
		messages = append(messages, llms.TextParts(schema.ChatMessageTypeSystem, system))
	}
	messages = append(messages, llms.TextParts(schema.ChatMessageTypeHuman, prompt))

	resp, err := o.chat.GenerateContent(ctx, messages, llms.WithTemperature(o.temperature))
	if err != nil {
		return "", classifyProviderError("completion", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}

	o.logger.WithField("prompt_chars", len(prompt)).Debug("Oracle completion succeeded")
	return resp.Choices[0].Content, nil
}

// Embed returns the embedding vector of text.
func (o *OpenAIOracle) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	vectors, err := o.embedder.CreateEmbedding(ctx, []string{text})
	if err != nil {
		return nil, classifyProviderError("embedding", err)
	}
	if len(vectors) == 0 {
		return nil, errors.New("embedding returned no vectors")
	}
	return vectors[0], nil
}

func (o *OpenAIOracle) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.timeout)
}

// quotaMarkers are substrings providers use for rate-limit and quota failures.
var quotaMarkers = []string{"429", "insufficient_quota", "rate limit", "rate_limit", "quota"}

// classifyProviderError wraps quota failures with domain.ErrQuotaExhausted.
func classifyProviderError(op string, err error) error {
	if errors.Is(err, domain.ErrQuotaExhausted) {
		return fmt.Errorf("%s: %w", op, err)
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range quotaMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%s: %v: %w", op, err, domain.ErrQuotaExhausted)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
