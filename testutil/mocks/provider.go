// MockProvider 的 LLM 提供商测试模拟实现。
//
// 支持固定响应、流式输出、按模型错误脚本与调用记录。
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/streamflow/llm"
	"github.com/BaSui01/streamflow/types"
)

// MockProvider 是 llm.Provider 的模拟实现
type MockProvider struct {
	mu sync.Mutex

	// 响应配置
	response     string
	streamChunks []string
	toolCalls    []types.ToolCall
	usage        *types.Usage

	// 错误脚本：按模型 ID 返回一串错误，耗尽后成功
	errScripts map[string][]error
	err        error // 全局错误（优先级低于脚本）

	// 调用记录
	calls []MockProviderCall

	// 行为控制
	delay time.Duration

	completionFunc func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)
	streamFunc     func(ctx context.Context, req *llm.ChatRequest) (llm.ChunkStream, error)
}

// MockProviderCall 记录单次调用
type MockProviderCall struct {
	Model  string
	Stream bool
}

// NewMockProvider 创建新的 MockProvider
func NewMockProvider() *MockProvider {
	return &MockProvider{
		response:   "Mock response",
		usage:      &types.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
		errScripts: make(map[string][]error),
	}
}

// WithResponse 设置固定响应内容
func (m *MockProvider) WithResponse(response string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = response
	return m
}

// WithStreamChunks 设置流式响应的文本分片
func (m *MockProvider) WithStreamChunks(chunks ...string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamChunks = chunks
	return m
}

// WithToolCalls 设置工具调用响应
func (m *MockProvider) WithToolCalls(toolCalls []types.ToolCall) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toolCalls = toolCalls
	return m
}

// WithUsage 设置响应中的 token 使用量
func (m *MockProvider) WithUsage(usage *types.Usage) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = usage
	return m
}

// WithError 设置所有调用返回的错误
func (m *MockProvider) WithError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithErrorScript 为指定模型设置错误序列：前 len(errs) 次调用依次返回
// 对应错误，之后成功。传入 nil 元素表示该次调用成功。
func (m *MockProvider) WithErrorScript(model string, errs ...error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errScripts[model] = errs
	return m
}

// WithDelay 设置每次调用前的模拟延迟
func (m *MockProvider) WithDelay(d time.Duration) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithCompletionFunc 完全接管 Completion 行为
func (m *MockProvider) WithCompletionFunc(fn func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completionFunc = fn
	return m
}

// WithStreamFunc 完全接管 Stream 行为
func (m *MockProvider) WithStreamFunc(fn func(ctx context.Context, req *llm.ChatRequest) (llm.ChunkStream, error)) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamFunc = fn
	return m
}

// Completion 实现 llm.Provider
func (m *MockProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if err := m.before(ctx, req, false); err != nil {
		return nil, err
	}

	m.mu.Lock()
	fn := m.completionFunc
	resp := &llm.ChatResponse{
		ID:           "mock-" + req.Model,
		Model:        req.Model,
		Content:      m.response,
		ToolCalls:    m.toolCalls,
		FinishReason: "stop",
		Usage:        m.usage,
		CreatedAt:    time.Now(),
	}
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return resp, nil
}

// Stream 实现 llm.Provider
func (m *MockProvider) Stream(ctx context.Context, req *llm.ChatRequest) (llm.ChunkStream, error) {
	if err := m.before(ctx, req, true); err != nil {
		return nil, err
	}

	m.mu.Lock()
	fn := m.streamFunc
	pieces := m.streamChunks
	if len(pieces) == 0 {
		pieces = []string{m.response}
	}
	usage := m.usage
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}

	chunks := make([]types.StreamChunk, 0, len(pieces)+1)
	for _, p := range pieces {
		chunks = append(chunks, types.NewDeltaChunk(p))
	}
	chunks = append(chunks, types.NewFinishChunk("stop", usage))
	return llm.StreamFromSlice(chunks), nil
}

// Name 实现 llm.Provider
func (m *MockProvider) Name() string { return "mock" }

// before 记录调用、执行延迟并按脚本注入错误
func (m *MockProvider) before(ctx context.Context, req *llm.ChatRequest, stream bool) error {
	m.mu.Lock()
	m.calls = append(m.calls, MockProviderCall{Model: req.Model, Stream: stream})

	var scripted error
	hasScript := false
	if script, ok := m.errScripts[req.Model]; ok && len(script) > 0 {
		scripted = script[0]
		m.errScripts[req.Model] = script[1:]
		hasScript = true
	}
	globalErr := m.err
	delay := m.delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if hasScript {
		return scripted // nil 表示本次成功
	}
	return globalErr
}

// Calls 返回调用记录副本
func (m *MockProvider) Calls() []MockProviderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockProviderCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount 返回指定模型 ID 的调用次数；空字符串统计全部
func (m *MockProvider) CallCount(model string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if model == "" {
		return len(m.calls)
	}
	n := 0
	for _, c := range m.calls {
		if c.Model == model {
			n++
		}
	}
	return n
}

// Reset 清空调用记录与错误脚本
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.errScripts = make(map[string][]error)
	m.err = nil
}
