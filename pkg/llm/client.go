// Package llm provides a client for interacting with Large Language Models.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"lingua-chat-go/internal/config"

	"github.com/sashabaranov/go-openai"
)

// ErrEmptyResponse 表示模型没有返回任何内容。
var ErrEmptyResponse = errors.New("llm returned empty response")

// ChunkWriter 接收流式生成的文本分块。
type ChunkWriter interface {
	WriteChunk(chunk string) error
}

// ChunkWriterFunc 让普通函数实现 ChunkWriter。
type ChunkWriterFunc func(chunk string) error

func (f ChunkWriterFunc) WriteChunk(chunk string) error { return f(chunk) }

// Client defines the interface for an LLM client.
type Client interface {
	// StreamChatMessages 以 role-based 消息与可选生成参数调用聊天接口，并将流式分块写入 writer。
	StreamChatMessages(ctx context.Context, messages []Message, gen *GenerationParams, writer ChunkWriter) error
	// CompleteJSON 以 JSON 模式完成一次非流式调用，返回模型输出的原始文本。
	CompleteJSON(ctx context.Context, messages []Message, gen *GenerationParams) (string, error)
	Model() string
}

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

// GenerationParams 控制生成行为
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// ParamsFromConfig 把配置中的非零项转换为生成参数。
func ParamsFromConfig(c config.LLMGenerationConfig) *GenerationParams {
	p := &GenerationParams{}
	if c.Temperature != 0 {
		t := c.Temperature
		p.Temperature = &t
	}
	if c.TopP != 0 {
		tp := c.TopP
		p.TopP = &tp
	}
	if c.MaxTokens != 0 {
		m := c.MaxTokens
		p.MaxTokens = &m
	}
	return p
}

type openAIClient struct {
	cfg    config.LLMConfig
	client *openai.Client
}

// NewClient creates a new LLM client for any OpenAI-compatible endpoint.
func NewClient(cfg config.LLMConfig) Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &openAIClient{
		cfg:    cfg,
		client: openai.NewClientWithConfig(oc),
	}
}

func (c *openAIClient) Model() string { return c.cfg.Model }

func (c *openAIClient) analysisModel() string {
	if c.cfg.AnalysisModel != "" {
		return c.cfg.AnalysisModel
	}
	return c.cfg.Model
}

func (c *openAIClient) buildRequest(model string, messages []Message, gen *GenerationParams, fallback config.LLMGenerationConfig) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{Model: model}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	// 传参优先，未传时使用全局配置
	if gen == nil {
		gen = ParamsFromConfig(fallback)
	}
	if gen.Temperature != nil {
		req.Temperature = float32(*gen.Temperature)
	}
	if gen.TopP != nil {
		req.TopP = float32(*gen.TopP)
	}
	if gen.MaxTokens != nil {
		req.MaxTokens = *gen.MaxTokens
	}
	return req
}

func (c *openAIClient) StreamChatMessages(ctx context.Context, messages []Message, gen *GenerationParams, writer ChunkWriter) error {
	req := c.buildRequest(c.cfg.Model, messages, gen, c.cfg.Generation)
	req.Stream = true

	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to call chat api: %w", err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read from stream: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		content := resp.Choices[0].Delta.Content
		if content == "" {
			continue
		}
		if err := writer.WriteChunk(content); err != nil {
			return fmt.Errorf("failed to write chunk: %w", err)
		}
	}
}

func (c *openAIClient) CompleteJSON(ctx context.Context, messages []Message, gen *GenerationParams) (string, error) {
	req := c.buildRequest(c.analysisModel(), messages, gen, c.cfg.Analysis)
	req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}
