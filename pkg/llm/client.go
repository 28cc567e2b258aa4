// Package llm provides a client for interacting with Large Language Models.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Pasterwitz/Quorial-SoftwareDev/internal/config"
	"github.com/gorilla/websocket"
)

// ErrEmptyCompletion 表示 LLM 返回了空内容。
// 调用方（RAG 服务）负责把该错误映射为固定的降级回答，这里只如实返回。
var ErrEmptyCompletion = errors.New("llm returned an empty completion")

// MessageWriter defines an interface for writing WebSocket messages.
// This allows both a standard websocket.Conn and our interceptor to be used.
type MessageWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams 控制生成行为
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Client defines the interface for an LLM client.
// provider / model 为空时回落到配置的默认值。
type Client interface {
	// ChatCompletion 以阻塞方式调用聊天接口，返回完整回答或错误。
	ChatCompletion(ctx context.Context, provider, model string, messages []Message, gen *GenerationParams) (string, error)
	// StreamChatMessages 调用聊天接口并将流式分块写入 writer。
	StreamChatMessages(ctx context.Context, provider, model string, messages []Message, gen *GenerationParams, writer MessageWriter) error
}

type openAICompatibleClient struct {
	cfg    config.LLMConfig
	client *http.Client
}

// NewClient creates a new LLM client. OpenAI 与 Mistral 共用同一套
// /chat/completions 协议，只是 base_url / api_key / 默认模型不同。
func NewClient(cfg config.LLMConfig) Client {
	return &openAICompatibleClient{
		cfg:    cfg,
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatStreamResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// resolveProvider 选出 provider 对应的连接配置与模型名。
func (c *openAICompatibleClient) resolveProvider(provider, model string) (config.LLMProviderConfig, string, error) {
	if provider == "" {
		provider = c.cfg.DefaultProvider
	}
	pcfg, ok := c.cfg.Providers[strings.ToLower(provider)]
	if !ok {
		return config.LLMProviderConfig{}, "", fmt.Errorf("unknown llm provider: %s", provider)
	}
	if model == "" {
		model = pcfg.Model
	}
	return pcfg, model, nil
}

func (c *openAICompatibleClient) buildRequest(model string, messages []Message, gen *GenerationParams, stream bool) chatRequest {
	reqBody := chatRequest{
		Model:    model,
		Messages: messages,
		Stream:   stream,
	}
	// 传参优先生效，否则从全局配置注入非零值
	if gen != nil {
		reqBody.Temperature = gen.Temperature
		reqBody.TopP = gen.TopP
		reqBody.MaxTokens = gen.MaxTokens
	} else {
		if c.cfg.Generation.Temperature != 0 {
			t := c.cfg.Generation.Temperature
			reqBody.Temperature = &t
		}
		if c.cfg.Generation.TopP != 0 {
			p := c.cfg.Generation.TopP
			reqBody.TopP = &p
		}
		if c.cfg.Generation.MaxTokens != 0 {
			m := c.cfg.Generation.MaxTokens
			reqBody.MaxTokens = &m
		}
	}
	return reqBody
}

func (c *openAICompatibleClient) doRequest(ctx context.Context, pcfg config.LLMProviderConfig, reqBody chatRequest, accept string) (*http.Response, error) {
	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", pcfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+pcfg.APIKey)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call chat api: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("chat api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}
	return resp, nil
}

// ChatCompletion calls the chat completions API and returns the full answer.
func (c *openAICompatibleClient) ChatCompletion(ctx context.Context, provider, model string, messages []Message, gen *GenerationParams) (string, error) {
	pcfg, resolvedModel, err := c.resolveProvider(provider, model)
	if err != nil {
		return "", err
	}

	resp, err := c.doRequest(ctx, pcfg, c.buildRequest(resolvedModel, messages, gen, false), "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var completion chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}

	if len(completion.Choices) == 0 || strings.TrimSpace(completion.Choices[0].Message.Content) == "" {
		return "", ErrEmptyCompletion
	}
	return completion.Choices[0].Message.Content, nil
}

// StreamChatMessages calls the chat completions API with streaming enabled and
// writes each content delta to the writer.
func (c *openAICompatibleClient) StreamChatMessages(ctx context.Context, provider, model string, messages []Message, gen *GenerationParams, writer MessageWriter) error {
	pcfg, resolvedModel, err := c.resolveProvider(provider, model)
	if err != nil {
		return err
	}

	resp, err := c.doRequest(ctx, pcfg, c.buildRequest(resolvedModel, messages, gen, true), "text/event-stream")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("failed to read from stream: %w", err)
		}

		if strings.HasPrefix(line, "data: ") {
			data := strings.TrimPrefix(line, "data: ")
			if strings.TrimSpace(data) == "[DONE]" {
				break
			}

			var chunk chatStreamResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}

			if len(chunk.Choices) > 0 {
				content := chunk.Choices[0].Delta.Content
				if err := writer.WriteMessage(websocket.TextMessage, []byte(content)); err != nil {
					return fmt.Errorf("failed to write message to websocket: %w", err)
				}
			}
		}
	}
	return nil
}
