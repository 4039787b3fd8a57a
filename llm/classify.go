package llm

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/BaSui01/streamflow/llm/config"
	"github.com/BaSui01/streamflow/types"
)

// Classify 将任意错误归一化为结构化的 *types.Error。
// Provider 返回的 *types.Error 原样透传；context 取消/超时映射为专用错误码；
// 其余未知错误保守地视为可重试的上游错误。
func Classify(err error) *types.Error {
	if err == nil {
		return nil
	}

	var typed *types.Error
	if errors.As(err, &typed) {
		return typed
	}

	if errors.Is(err, context.Canceled) {
		return types.NewError(types.ErrCanceled, "request canceled").WithCause(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrTimeout, "request timed out").
			WithRetryable(true).
			WithCause(err)
	}

	return types.NewError(types.ErrUpstreamError, err.Error()).
		WithRetryable(true).
		WithCause(err)
}

// switchCodes 遇到这些错误码时重试同一模型没有意义，应立即切换候选模型。
// 对齐客户端错误口径：鉴权、配额、内容策略、请求本身不合法。
var switchCodes = map[types.ErrorCode]bool{
	types.ErrAuthentication:  true,
	types.ErrUnauthorized:    true,
	types.ErrForbidden:       true,
	types.ErrQuotaExceeded:   true,
	types.ErrContentFiltered: true,
	types.ErrInvalidRequest:  true,
	types.ErrModelNotFound:   true,
	types.ErrContextTooLong:  true,
	types.ErrCanceled:        true,
}

// ShouldSwitchModel 判断分类后的错误是否应触发模型切换而非同模型重试。
func ShouldSwitchModel(err *types.Error) bool {
	if err == nil {
		return false
	}
	return switchCodes[err.Code]
}

// RetryDelay 计算第 attempt 次重试前的等待时间（attempt 从 1 开始）。
// 指数退避 + 可选 ±25% 抖动；错误码级别的基准延迟覆盖（如限流给更长基准）。
func RetryDelay(attempt int, policy *config.RetryPolicy, code types.ErrorCode) time.Duration {
	if policy == nil {
		policy = config.DefaultRetryPolicy()
	}
	if attempt < 1 {
		attempt = 1
	}

	base := policy.InitialDelay
	if override, ok := policy.CodeDelays[code]; ok && override > 0 {
		base = override
	}

	delay := float64(base) * math.Pow(policy.Multiplier, float64(attempt-1))
	if delay > float64(policy.MaxDelay) {
		delay = float64(policy.MaxDelay)
	}

	// 抖动防止多客户端同时重试导致的雪崩
	if policy.Jitter {
		jitter := delay * 0.25
		delay = delay + (rand.Float64()*2-1)*jitter
	}

	if delay < float64(base) {
		delay = float64(base)
	}

	return time.Duration(delay)
}
