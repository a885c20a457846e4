// internal/llmclient/openai_client.go
package llmclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/droidpilot/droidpilot/api/schemas"
	"github.com/droidpilot/droidpilot/internal/config"
)

// OpenAIClient implements schemas.ModelGateway for OpenAI-compatible chat
// completion endpoints, including self-hosted gateways that speak the same
// wire format.
type OpenAIClient struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
	config     config.LLMModelConfig
}

// -- OpenAI API Request/Response Structures (Internal to this file) --

type openAIMessage struct {
	Role    string              `json:"role"`
	Content []openAIContentItem `json:"content"`
}

type openAIContentItem struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIRequestPayload struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float32         `json:"temperature,omitempty"`
	TopP        float32         `json:"top_p,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openAIResponsePayload struct {
	Choices []struct {
		Message struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// NewOpenAIClient initializes the client.
func NewOpenAIClient(cfg config.LLMModelConfig, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API Key is required")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1/chat/completions"
	}

	return &OpenAIClient{
		apiKey:   cfg.APIKey,
		endpoint: endpoint,
		config:   cfg,
		httpClient: &http.Client{
			Timeout: cfg.APITimeout,
		},
		logger: logger.Named("llm_client.openai"),
	}, nil
}

// Request sends the conversation to the chat completions endpoint and
// returns the reply with retries. reasoning_content, when the upstream
// model exposes it, lands in Thinking.
func (c *OpenAIClient) Request(ctx context.Context, msgs []schemas.Message) (schemas.ModelReply, error) {
	payload := c.buildRequestPayload(msgs)

	body, err := json.Marshal(payload)
	if err != nil {
		return schemas.ModelReply{}, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Minute
	b.MaxInterval = 30 * time.Second

	var reply schemas.ModelReply

	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}

		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

		startTime := time.Now()
		resp, err := c.httpClient.Do(httpReq)
		duration := time.Since(startTime)

		if err != nil {
			c.logger.Warn("Network error during LLM request, retrying...", zap.Error(err))
			return fmt.Errorf("failed to execute HTTP request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			return c.handleAPIError(resp.StatusCode, respBody)
		}

		var responsePayload openAIResponsePayload
		if err := json.Unmarshal(respBody, &responsePayload); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response payload: %w", err))
		}

		if len(responsePayload.Choices) == 0 {
			return backoff.Permanent(fmt.Errorf("openAI API returned no choices"))
		}

		choice := responsePayload.Choices[0]
		if choice.Message.Content == "" && choice.Message.ReasoningContent == "" {
			return fmt.Errorf("openAI API returned empty content (finish_reason: %s)", choice.FinishReason)
		}

		c.logger.Info("LLM generation complete (OpenAI)",
			zap.Duration("duration", duration),
			zap.Int("prompt_tokens", responsePayload.Usage.PromptTokens),
			zap.Int("completion_tokens", responsePayload.Usage.CompletionTokens),
			zap.Int("total_tokens", responsePayload.Usage.TotalTokens),
		)

		reply = schemas.ModelReply{
			Thinking: strings.TrimSpace(choice.Message.ReasoningContent),
			Action:   strings.TrimSpace(choice.Message.Content),
			Raw:      choice.Message.Content,
		}
		return nil
	}

	if err = backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return schemas.ModelReply{}, err
	}

	return reply, nil
}

func (c *OpenAIClient) buildRequestPayload(msgs []schemas.Message) openAIRequestPayload {
	payload := openAIRequestPayload{
		Model:       c.config.Model,
		Temperature: c.config.Temperature,
		TopP:        c.config.TopP,
		MaxTokens:   c.config.MaxTokens,
	}

	for _, m := range msgs {
		content := openAIContent(m)
		if len(content) == 0 {
			continue
		}
		payload.Messages = append(payload.Messages, openAIMessage{
			Role:    string(m.Role),
			Content: content,
		})
	}
	return payload
}

// openAIContent converts one message into wire content items. Images travel
// as base64 data URIs.
func openAIContent(m schemas.Message) []openAIContentItem {
	if len(m.Parts) == 0 {
		if m.Text == "" {
			return nil
		}
		return []openAIContentItem{{Type: "text", Text: m.Text}}
	}

	items := make([]openAIContentItem, 0, len(m.Parts))
	for _, item := range m.Parts {
		switch item.Kind {
		case schemas.ContentText:
			if item.Text != "" {
				items = append(items, openAIContentItem{Type: "text", Text: item.Text})
			}
		case schemas.ContentImage:
			if len(item.Image) > 0 {
				items = append(items, openAIContentItem{
					Type: "image_url",
					ImageURL: &openAIImageURL{
						URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(item.Image),
					},
				})
			}
		}
	}
	return items
}

func (c *OpenAIClient) handleAPIError(statusCode int, body []byte) error {
	c.logger.Error("OpenAI API returned error status", zap.Int("status", statusCode), zap.String("response", string(body)))
	err := fmt.Errorf("openAI API error: status %d, body: %s", statusCode, string(body))

	switch statusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusInternalServerError:
		return err // Transient errors, retry.
	default:
		return backoff.Permanent(err) // Permanent errors.
	}
}
