package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/streamflow/llm"
	"github.com/BaSui01/streamflow/llm/config"
	"github.com/BaSui01/streamflow/llm/streaming"
	"github.com/BaSui01/streamflow/testutil/mocks"
	"github.com/BaSui01/streamflow/types"
)

// fastPolicy 退避毫秒级，避免拖慢测试
func fastPolicy(maxRetries int) *config.RetryPolicy {
	return &config.RetryPolicy{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   1.5,
		Jitter:       false,
	}
}

func twoModels() []config.NamedModel {
	return []config.NamedModel{
		{Name: "default", Config: config.ModelConfig{Model: "model-a"}},
		{Name: "fallback", Config: config.ModelConfig{Model: "model-b"}},
	}
}

func testRequest() *llm.ChatRequest {
	return &llm.ChatRequest{
		Model: "default",
		Messages: []types.Message{
			types.NewSystemMessage("you are terse"),
			types.NewUserMessage("hi"),
		},
	}
}

func retryableErr() error {
	return types.NewError(types.ErrModelOverloaded, "overloaded").WithRetryable(true)
}

func TestRouterCallSuccess(t *testing.T) {
	p := mocks.NewMockProvider().WithResponse("hello")
	r, err := New(p, twoModels(), fastPolicy(3))
	require.NoError(t, err)

	resp, err := r.Call(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, 1, p.CallCount(""))
	assert.Empty(t, r.RetryStats())
}

func TestRouterRetriesThenFailsOver(t *testing.T) {
	// model-a 连续可重试失败：maxRetries=2 → 恰好 3 次调用后切换
	p := mocks.NewMockProvider().
		WithResponse("from b").
		WithErrorScript("model-a", retryableErr(), retryableErr(), retryableErr(), retryableErr())
	r, err := New(p, twoModels(), fastPolicy(2))
	require.NoError(t, err)

	resp, err := r.Call(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "from b", resp.Content)
	assert.Equal(t, 3, p.CallCount("model-a"))
	assert.Equal(t, 1, p.CallCount("model-b"))

	// 每次失败的调用都计入：3 次调用 → 3 次失败；成功模型无记录
	stats := r.RetryStats()
	assert.Equal(t, 3, stats["default"].Failures)
	_, ok := stats["fallback"]
	assert.False(t, ok)
}

func TestRouterFailureCountAccruesPerAttempt(t *testing.T) {
	// 单次 Call 内连续失败即可触发熔断阈值，而非按 Call 粒度计数
	p := mocks.NewMockProvider().
		WithResponse("ok").
		WithErrorScript("model-a",
			retryableErr(), retryableErr(), retryableErr(),
			retryableErr(), retryableErr(), retryableErr())
	r, err := New(p, twoModels(), fastPolicy(5))
	require.NoError(t, err)

	_, err = r.Call(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, 6, p.CallCount("model-a"))
	assert.Equal(t, 6, r.RetryStats()["default"].Failures)

	// 6 次失败已超过 disableThreshold：下一轮候选应跳过 default
	eligible, skipped := r.candidates()
	require.Len(t, eligible, 1)
	assert.Equal(t, "fallback", eligible[0].Name)
	assert.Equal(t, []string{"default"}, skipped)
}

func TestRouterSwitchesImmediatelyOnNonRetryable(t *testing.T) {
	p := mocks.NewMockProvider().
		WithResponse("ok").
		WithErrorScript("model-a", types.NewError(types.ErrAuthentication, "bad key"))
	r, err := New(p, twoModels(), fastPolicy(3))
	require.NoError(t, err)

	resp, err := r.Call(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	// 鉴权失败不在同模型上重试
	assert.Equal(t, 1, p.CallCount("model-a"))
	assert.Equal(t, 1, p.CallCount("model-b"))
}

func TestRouterExhaustedAggregatesAttempts(t *testing.T) {
	p := mocks.NewMockProvider().WithError(types.NewError(types.ErrInvalidRequest, "bad request"))
	r, err := New(p, twoModels(), fastPolicy(3))
	require.NoError(t, err)

	_, err = r.Call(context.Background(), testRequest())
	require.Error(t, err)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Len(t, exhausted.Attempts, 2)
	assert.Equal(t, "default", exhausted.Attempts[0].Model)
	assert.Equal(t, types.ErrInvalidRequest, exhausted.Attempts[0].Code)
	assert.Equal(t, 1, exhausted.Attempts[0].Attempts)
	assert.Contains(t, err.Error(), "all models exhausted")

	code, ok := exhausted.LastError()
	require.True(t, ok)
	assert.Equal(t, types.ErrInvalidRequest, code)
}

func TestRouterHealthOrdering(t *testing.T) {
	p := mocks.NewMockProvider().WithResponse("ok")
	r, err := New(p, twoModels(), fastPolicy(0))
	require.NoError(t, err)

	// default 带 3 次失败记录：健康的 fallback 应排在前面
	r.failures["default"] = &failureRecord{count: 3, lastFailure: r.now()}

	_, err = r.Call(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, 0, p.CallCount("model-a"))
	assert.Equal(t, 1, p.CallCount("model-b"))
}

func TestRouterCircuitSkipAndLazyRecovery(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := mocks.NewMockProvider().WithResponse("ok")
	r, err := New(p, twoModels(), fastPolicy(0))
	require.NoError(t, err)
	r.now = func() time.Time { return clock }

	// 5 次失败 → 60s 冷却
	r.failures["default"] = &failureRecord{count: disableThreshold, lastFailure: clock}

	clock = clock.Add(30 * time.Second)
	eligible, skipped := r.candidates()
	require.Len(t, eligible, 1)
	assert.Equal(t, "fallback", eligible[0].Name)
	assert.Equal(t, []string{"default"}, skipped)

	// 冷却期满后惰性恢复参选，失败记录一并清除
	clock = clock.Add(31 * time.Second)
	eligible, skipped = r.candidates()
	assert.Len(t, eligible, 2)
	assert.Empty(t, skipped)
	_, tracked := r.RetryStats()["default"]
	assert.False(t, tracked)
}

func TestRouterAllModelsCircuitOpen(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := mocks.NewMockProvider().WithResponse("ok")
	r, err := New(p, twoModels(), fastPolicy(0))
	require.NoError(t, err)
	r.now = func() time.Time { return clock }

	r.failures["default"] = &failureRecord{count: 6, lastFailure: clock}
	r.failures["fallback"] = &failureRecord{count: 6, lastFailure: clock}

	_, err = r.Call(context.Background(), testRequest())
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Empty(t, exhausted.Attempts)
	assert.ElementsMatch(t, []string{"default", "fallback"}, exhausted.Skipped)
	assert.Equal(t, 0, p.CallCount(""))
}

func TestRouterSuccessClearsFailureRecord(t *testing.T) {
	p := mocks.NewMockProvider().WithResponse("ok")
	r, err := New(p, twoModels(), fastPolicy(0))
	require.NoError(t, err)

	r.failures["default"] = &failureRecord{count: 2, lastFailure: r.now()}
	r.failures["fallback"] = &failureRecord{count: 4, lastFailure: r.now()}

	// default 失败次数更少，先被尝试并成功
	_, err = r.Call(context.Background(), testRequest())
	require.NoError(t, err)

	stats := r.RetryStats()
	_, ok := stats["default"]
	assert.False(t, ok, "success should clear the failure record")
	assert.Equal(t, 4, stats["fallback"].Failures)
}

func TestRouterCancellationStopsFailover(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := mocks.NewMockProvider().WithResponse("ok")
	r, err := New(p, twoModels(), fastPolicy(3))
	require.NoError(t, err)

	_, err = r.Call(ctx, testRequest())
	require.Error(t, err)
	var typed *types.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, types.ErrCanceled, typed.Code)
	// 取消不会把失败记到模型头上
	assert.Empty(t, r.RetryStats())
}

func TestRouterDeadlineDuringBackoffStopsFailover(t *testing.T) {
	p := mocks.NewMockProvider().
		WithResponse("ok").
		WithErrorScript("model-a", retryableErr(), retryableErr())
	// 退避 300ms 远大于 50ms 的截止时间：超时必然落在退避等待中
	policy := &config.RetryPolicy{
		MaxRetries:   2,
		InitialDelay: 300 * time.Millisecond,
		MaxDelay:     300 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
	}
	r, err := New(p, twoModels(), policy)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = r.Call(ctx, testRequest())
	require.Error(t, err)
	var typed *types.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, types.ErrCanceled, typed.Code)

	// 退避途中超时：不再发起新调用，也不向下一个候选切换
	assert.Equal(t, 1, p.CallCount("model-a"))
	assert.Equal(t, 0, p.CallCount("model-b"))
	// 只有真实失败的那一次调用被计数，超时本身不算失败
	assert.Equal(t, 1, r.RetryStats()["default"].Failures)
}

func TestRouterCallStreamFailsOver(t *testing.T) {
	p := mocks.NewMockProvider().
		WithStreamChunks("Hello", " ", "world").
		WithErrorScript("model-a", retryableErr(), retryableErr())
	r, err := New(p, twoModels(), fastPolicy(1))
	require.NoError(t, err)

	s, err := r.CallStream(context.Background(), testRequest())
	require.NoError(t, err)
	defer s.Close()

	res, err := streaming.AccumulateText(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, "Hello world", res.Content)
	assert.Equal(t, 2, p.CallCount("model-a"))
	assert.Equal(t, 1, p.CallCount("model-b"))
}

func TestRouterBuildRequestAppliesModelConfig(t *testing.T) {
	temp := float32(0.2)
	models := []config.NamedModel{{
		Name: "default",
		Config: config.ModelConfig{
			Model:       "model-a",
			Temperature: &temp,
			MaxTokens:   512,
			Stop:        []string{"END"},
		},
	}}

	var got *llm.ChatRequest
	p := mocks.NewMockProvider().WithCompletionFunc(
		func(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
			got = req
			return &llm.ChatResponse{Model: req.Model, Content: "ok"}, nil
		})
	r, err := New(p, models, fastPolicy(0))
	require.NoError(t, err)

	_, err = r.Call(context.Background(), testRequest())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "model-a", got.Model)
	assert.Equal(t, float32(0.2), got.Temperature)
	assert.Equal(t, 512, got.MaxTokens)
	assert.Equal(t, []string{"END"}, got.Stop)
	assert.NotEmpty(t, got.TraceID)
}

func TestRouterUpdateRetryPolicy(t *testing.T) {
	p := mocks.NewMockProvider().
		WithError(retryableErr())
	r, err := New(p, twoModels(), fastPolicy(3))
	require.NoError(t, err)

	r.UpdateRetryPolicy(fastPolicy(0))

	_, err = r.Call(context.Background(), testRequest())
	require.Error(t, err)
	// 每个模型只尝试一次
	assert.Equal(t, 1, p.CallCount("model-a"))
	assert.Equal(t, 1, p.CallCount("model-b"))
}

func TestRouterResetFailureTracking(t *testing.T) {
	p := mocks.NewMockProvider()
	r, err := New(p, twoModels(), fastPolicy(0))
	require.NoError(t, err)

	r.failures["default"] = &failureRecord{count: 9}
	r.failures["fallback"] = &failureRecord{count: 9}

	r.ResetFailureTracking("default")
	stats := r.RetryStats()
	_, ok := stats["default"]
	assert.False(t, ok)
	assert.Equal(t, 9, stats["fallback"].Failures)

	r.ResetFailureTracking()
	assert.Empty(t, r.RetryStats())
}

func TestRouterRequiresValidModels(t *testing.T) {
	p := mocks.NewMockProvider()
	_, err := New(p, nil, nil)
	assert.Error(t, err)

	_, err = New(p, []config.NamedModel{{Name: "a"}}, nil)
	assert.Error(t, err) // model ID 缺失
}

func TestCooldownFor(t *testing.T) {
	assert.Equal(t, time.Duration(0), cooldownFor(0))
	assert.Equal(t, time.Duration(0), cooldownFor(4))
	assert.Equal(t, time.Minute, cooldownFor(5))
	assert.Equal(t, 2*time.Minute, cooldownFor(6))
	assert.Equal(t, 4*time.Minute, cooldownFor(7))
	assert.Equal(t, 5*time.Minute, cooldownFor(8)) // 8 分钟被封顶
	assert.Equal(t, 5*time.Minute, cooldownFor(100))
}
