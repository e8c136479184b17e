package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Message represents a chat message.
type Message struct {
	Role    string // system, user, assistant
	Content string
}

// Service is the model provider interface.
//
// The model parameter is an opaque identifier forwarded to the provider;
// when empty the configured default model is used.
type Service interface {
	// Chat performs a single synchronous completion and returns the text.
	Chat(ctx context.Context, model string, messages []Message) (string, error)

	// ChatStream opens a token stream. The content channel yields text
	// fragments in emission order and is closed on stream end; a stream
	// failure is delivered on the error channel instead.
	ChatStream(ctx context.Context, model string, messages []Message) (<-chan string, <-chan error)
}

// Config represents provider client configuration.
type Config struct {
	Provider    string // openai, groq, gemini, deepseek, openrouter, ollama
	Model       string // default model when a call does not name one
	APIKey      string
	BaseURL     string
	MaxTokens   int     // default: 2048
	Temperature float32 // default: 0.7
	Timeout     int     // request timeout in seconds (default: 120)
}

type service struct {
	client       *openai.Client
	defaultModel string
	provider     string
	maxTokens    int
	temperature  float32
	timeout      int
}

// NewService creates a new provider client. All supported providers speak the
// OpenAI-compatible protocol, so the only per-provider variation is the base URL.
func NewService(cfg *Config) (Service, error) {
	if cfg.APIKey == "" && cfg.Provider != "ollama" {
		return nil, fmt.Errorf("provider %q requires an API key", cfg.Provider)
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = newHTTPClient()

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = 0.7
	}

	return &service{
		client:       openai.NewClientWithConfig(clientConfig),
		defaultModel: cfg.Model,
		provider:     cfg.Provider,
		maxTokens:    maxTokens,
		temperature:  temperature,
		timeout:      timeout,
	}, nil
}

func (s *service) resolveModel(model string) string {
	if model == "" {
		return s.defaultModel
	}
	return model
}

func (s *service) Chat(ctx context.Context, model string, messages []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.timeout)*time.Second)
	defer cancel()

	model = s.resolveModel(model)
	slog.Debug("LLM: chat request",
		"provider", s.provider,
		"model", model,
		"messages_count", len(messages),
	)

	req := openai.ChatCompletionRequest{
		Model:       model,
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
		Messages:    convertMessages(messages),
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("LLM: chat request failed", "model", model, "error", err)
		return "", fmt.Errorf("LLM chat failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from LLM")
	}

	return resp.Choices[0].Message.Content, nil
}

func (s *service) ChatStream(ctx context.Context, model string, messages []Message) (<-chan string, <-chan error) {
	contentChan := make(chan string, 10)
	errChan := make(chan error, 1)
	model = s.resolveModel(model)

	go func() {
		defer close(contentChan)
		defer close(errChan)

		slog.Debug("LLM: stream starting", "provider", s.provider, "model", model, "messages", len(messages))

		req := openai.ChatCompletionRequest{
			Model:       model,
			MaxTokens:   s.maxTokens,
			Temperature: s.temperature,
			Messages:    convertMessages(messages),
		}

		stream, err := s.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			slog.Error("LLM: stream failed to open", "model", model, "error", err)
			select {
			case errChan <- fmt.Errorf("create stream failed: %w", err):
			case <-ctx.Done():
			}
			return
		}
		defer func() { _ = stream.Close() }()

		chunkCount := 0
		for {
			response, err := stream.Recv()
			if err != nil {
				if strings.Contains(err.Error(), "EOF") {
					slog.Debug("LLM: stream completed", "model", model, "chunks", chunkCount)
					return
				}
				slog.Error("LLM: stream receive error", "model", model, "error", err, "chunks_so_far", chunkCount)
				select {
				case errChan <- fmt.Errorf("stream recv failed: %w", err):
				case <-ctx.Done():
				}
				return
			}

			if len(response.Choices) == 0 {
				continue
			}
			delta := response.Choices[0].Delta.Content
			if delta != "" {
				chunkCount++
				select {
				case contentChan <- delta:
				case <-ctx.Done():
					slog.Warn("LLM: stream context cancelled during send", "model", model, "chunks", chunkCount)
					return
				}
			}
			if response.Choices[0].FinishReason != "" {
				slog.Debug("LLM: stream finished",
					"model", model,
					"reason", response.Choices[0].FinishReason,
					"chunks", chunkCount,
				)
				return
			}
		}
	}()

	return contentChan, errChan
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	llmMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		role := m.Role
		switch role {
		case "system", "user", "assistant":
		default:
			role = openai.ChatMessageRoleUser
		}
		llmMessages[i] = openai.ChatCompletionMessage{
			Role:    role,
			Content: m.Content,
		}
	}
	return llmMessages
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// SystemPrompt creates a system message.
func SystemPrompt(content string) Message {
	return Message{Role: "system", Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}
