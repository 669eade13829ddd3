package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	sdk "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/spigell/jobmail/internal/ai"
	"github.com/spigell/jobmail/internal/logger"
	"github.com/spigell/jobmail/internal/utils"
)

const (
	DefaultModel          = "gpt-4o-mini"
	DefaultEmbeddingModel = "text-embedding-3-small"

	defaultTemperature  = 0.1
	defaultMaxLogLength = 200
)

type api interface {
	CreateChatCompletion(ctx context.Context, req sdk.ChatCompletionRequest) (sdk.ChatCompletionResponse, error)
	CreateEmbeddings(ctx context.Context, conv sdk.EmbeddingRequestConverter) (sdk.EmbeddingResponse, error)
}

type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	Dimension      int
	MaxRetries     int
	Temperature    float32
	MaxLogLength   int
}

// Client implements both oracle contracts on top of the OpenAI API.
type Client struct {
	api            api
	model          string
	embeddingModel string
	dimension      int
	temperature    float32
	maxRetries     int
	retryDelay     time.Duration
	maxLogLen      int
	logger         *zap.Logger
}

func NewClient(cfg Config, log *zap.Logger) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}

	sdkCfg := sdk.DefaultConfig(apiKey)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		sdkCfg.BaseURL = base
	}

	return newClient(sdk.NewClientWithConfig(sdkCfg), cfg, log), nil
}

func newClient(a api, cfg Config, log *zap.Logger) *Client {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}

	embeddingModel := strings.TrimSpace(cfg.EmbeddingModel)
	if embeddingModel == "" {
		embeddingModel = DefaultEmbeddingModel
	}

	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}

	maxLogLen := cfg.MaxLogLength
	if maxLogLen <= 0 {
		maxLogLen = defaultMaxLogLength
	}

	return &Client{
		api:            a,
		model:          model,
		embeddingModel: embeddingModel,
		dimension:      cfg.Dimension,
		temperature:    temperature,
		maxRetries:     cfg.MaxRetries,
		retryDelay:     time.Second,
		maxLogLen:      maxLogLen,
		logger:         logger.WithOracle(log, "openai", model),
	}
}

func (c *Client) Model() string {
	return c.model
}

// Classify asks the chat model for a JSON object describing the message.
func (c *Client) Classify(ctx context.Context, req ai.ClassifyRequest) (string, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return "", errors.New("message must not be empty")
	}

	c.logger.Debug("openai classify request",
		zap.String("reference_date", req.ReferenceDate.Format("2006-01-02")),
		zap.Int("content_length", utf8.RuneCountInString(content)),
		zap.String("content_preview", utils.TruncateForLog(content, c.maxLogLen)),
	)

	request := sdk.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []sdk.ChatCompletionMessage{
			{Role: sdk.ChatMessageRoleSystem, Content: req.Instructions},
			{Role: sdk.ChatMessageRoleUser, Content: content},
		},
		ResponseFormat: &sdk.ChatCompletionResponseFormat{
			Type: sdk.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	var output string
	err := c.retryPolicy().Do(ctx, c.logger, func(ctx context.Context) error {
		resp, err := c.api.CreateChatCompletion(ctx, request)
		if err != nil {
			return fmt.Errorf("create chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return errors.New("openai api returned no choices")
		}

		output = strings.TrimSpace(resp.Choices[0].Message.Content)
		if output == "" {
			return errors.New("openai api returned empty response")
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	c.logger.Debug("openai classify response",
		zap.Int("response_length", utf8.RuneCountInString(output)),
		zap.String("response_preview", utils.TruncateForLog(output, c.maxLogLen)),
	)

	return output, nil
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	request := sdk.EmbeddingRequest{
		Input:      []string{text},
		Model:      sdk.EmbeddingModel(c.embeddingModel),
		Dimensions: c.dimension,
	}

	var values []float32
	err := c.retryPolicy().Do(ctx, c.logger, func(ctx context.Context) error {
		resp, err := c.api.CreateEmbeddings(ctx, request)
		if err != nil {
			return fmt.Errorf("create embeddings: %w", err)
		}
		if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
			return errors.New("openai api returned empty embedding")
		}
		values = resp.Data[0].Embedding
		return nil
	})
	if err != nil {
		return nil, err
	}

	return values, nil
}

func (c *Client) retryPolicy() ai.RetryPolicy {
	return ai.RetryPolicy{
		Attempts:  c.maxRetries,
		BaseDelay: c.retryDelay,
		Retryable: retryable,
	}
}

func retryable(err error) (time.Duration, bool) {
	var apiErr *sdk.APIError
	if errors.As(err, &apiErr) {
		return 0, transientStatus(apiErr.HTTPStatusCode)
	}

	var reqErr *sdk.RequestError
	if errors.As(err, &reqErr) {
		return 0, transientStatus(reqErr.HTTPStatusCode)
	}

	return 0, false
}

func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
