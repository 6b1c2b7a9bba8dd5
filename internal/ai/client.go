package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/cvbuilder/cvbuilder-api/internal/jobs"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	DefaultTimeout = 2 * time.Minute
	MaxRetries     = 3
	BaseBackoff    = 2 * time.Second
	MaxBackoff     = 32 * time.Second
)

// Client talks to any OpenAI compatible chat completion endpoint.
type Client struct {
	client      openai.Client
	model       string
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
}

var _ Orchestrator = (*Client)(nil)

type ClientOption func(*Client)

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

func WithMaxRetries(retries int) ClientOption {
	return func(c *Client) {
		if retries >= 0 {
			c.maxRetries = retries
		}
	}
}

func WithBaseBackoff(backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.baseBackoff = backoff
	}
}

func NewClient(baseURL, apiKey, model string, opts ...ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	c := &Client{
		model:       model,
		timeout:     DefaultTimeout,
		maxRetries:  MaxRetries,
		baseBackoff: BaseBackoff,
	}
	c.client = openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		// backoff on rate limits is handled here
		option.WithMaxRetries(0),
	)
	for _, o := range opts {
		o(c)
	}

	return c, nil
}

func (c *Client) ReviewCvAgainstJd(ctx context.Context, cvText, jdText string) (string, error) {
	content, err := c.complete(ctx, reviewSystemPrompt, reviewPrompt(cvText, jdText), false)
	if err != nil {
		return "", err
	}
	return content, nil
}

func (c *Client) BuildSectionRubric(ctx context.Context, input jobs.BuildRubricInput) (jobs.SectionRubric, error) {
	content, err := c.complete(ctx, rubricSystemPrompt, rubricPrompt(input), true)
	if err != nil {
		return jobs.SectionRubric{}, err
	}

	var rubric jobs.SectionRubric
	if err := json.Unmarshal([]byte(content), &rubric); err != nil {
		return jobs.SectionRubric{}, fmt.Errorf("%w: decoding rubric: %v", jobs.ErrInvalidOutput, err)
	}
	return rubric, nil
}

func (c *Client) complete(ctx context.Context, system, prompt string, jsonOutput bool) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(0.2),
	}
	if jsonOutput {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{
				Type: "json_object",
			},
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * c.baseBackoff
			if backoff > MaxBackoff {
				backoff = MaxBackoff
			}
			zap.S().Named("ai_client").Debugw("rate limited, retrying", "attempt", attempt, "backoff", backoff)

			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		completion, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = err
			if isRateLimitError(err) {
				continue
			}
			return "", errors.Wrap(err, "chat completion failed")
		}

		if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
			return "", ErrEmptyResponse
		}

		return completion.Choices[0].Message.Content, nil
	}

	return "", fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, lastErr)
}

func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}
