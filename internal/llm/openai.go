package llm

import (
	"context"
	"errors"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/talentlane/backend/internal/apperr"
	"github.com/talentlane/backend/internal/circuitbreaker"
)

const chatTimeout = 60 * time.Second

// OpenAI implements Client over the OpenAI chat-completions API.
type OpenAI struct {
	client  *openai.Client
	model   string
	breaker *circuitbreaker.Breaker
}

// NewOpenAI builds the production LLM client. A circuit breaker fails
// chat calls fast during model backend outages; rate limits and caller
// errors never trip it.
func NewOpenAI(apiKey, model string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	cfg.HTTPClient = &http.Client{Timeout: chatTimeout}
	return &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:     "openai",
			Cooldown: 30 * time.Second,
			TripAfter: func(c circuitbreaker.Counts) bool {
				return c.ConsecutiveFailures >= 3
			},
			Failure: func(err error) bool {
				return apperr.KindOf(err) == apperr.KindUnavailable
			},
		}),
	}
}

func (o *OpenAI) Chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	content, err := circuitbreaker.Do(o.breaker, ctx, func(ctx context.Context) (string, error) {
		return o.chat(ctx, messages, opts)
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return "", apperr.Unavailable("model backend unavailable")
	}
	return content, err
}

func (o *OpenAI) chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: opts.Temperature,
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.HTTPStatusCode {
			case http.StatusTooManyRequests:
				return "", apperr.RateLimited(30*time.Second, "model rate limit reached")
			case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
				return "", apperr.Unavailable("model backend unavailable")
			}
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return "", apperr.Unavailable("model call timed out")
		}
		return "", apperr.Internal(err, "chat completion failed")
	}
	if len(resp.Choices) == 0 {
		return "", apperr.Internal(nil, "chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
