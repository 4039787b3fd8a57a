// Package llm 定义统一的 LLM 原生调用接口与流式序列抽象。
// 具体的 Provider 实现（HTTP 适配、SSE 解析）由上层应用注入，
// 本库只消费其契约：一次请求返回完整响应或 chunk 序列。
package llm

import (
	"context"
	"time"

	"github.com/BaSui01/streamflow/types"
)

// ChatRequest 统一的聊天请求。ctx 承载取消信号，不在此结构中重复。
type ChatRequest struct {
	TraceID     string            `json:"trace_id,omitempty"`
	Model       string            `json:"model"`
	Messages    []types.Message   `json:"messages"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature float32           `json:"temperature,omitempty"`
	TopP        float32           `json:"top_p,omitempty"`
	Stop        []string          `json:"stop,omitempty"`
	Tools       []ToolSchema      `json:"tools,omitempty"`
	ToolChoice  string            `json:"tool_choice,omitempty"` // auto/none/<tool name>
	Stream      bool              `json:"stream,omitempty"`
	Timeout     time.Duration     `json:"timeout,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ToolSchema 工具定义（JSON Schema 参数）。
type ToolSchema struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  []byte `json:"parameters"` // JSON Schema
}

// ChatResponse 非流式调用的完整响应。
type ChatResponse struct {
	ID           string           `json:"id,omitempty"`
	Model        string           `json:"model"`
	Content      string           `json:"content"`
	ToolCalls    []types.ToolCall `json:"tool_calls,omitempty"`
	FinishReason string           `json:"finish_reason,omitempty"`
	Usage        *types.Usage     `json:"usage,omitempty"`
	CreatedAt    time.Time        `json:"created_at,omitempty"`
}

// Provider 定义统一的原生调用接口（外部协作者）。
// Stream 返回拉取式 chunk 序列；同步失败（鉴权、参数错误）在返回值中报告，
// 流中途失败以 KindError chunk 体现。
type Provider interface {
	// Completion 发起同步聊天请求，返回完整响应
	Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Stream 发起流式聊天请求，返回拉取式 chunk 序列
	Stream(ctx context.Context, req *ChatRequest) (ChunkStream, error)

	// Name 返回 Provider 的唯一标识
	Name() string
}
