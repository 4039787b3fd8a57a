// Package router 实现带故障切换的重试路由：按健康度排序候选模型，
// 单模型内指数退避重试，跨模型故障转移，并内置熔断冷却。
package router

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/streamflow/internal/metrics"
	"github.com/BaSui01/streamflow/llm"
	"github.com/BaSui01/streamflow/llm/config"
	"github.com/BaSui01/streamflow/llm/observability"
	"github.com/BaSui01/streamflow/types"
)

// 熔断参数：失败 disableThreshold 次后进入冷却，
// 冷却时长按超出次数指数增长，封顶 maxCooldown。
const (
	disableThreshold = 5
	baseCooldown     = time.Minute
	maxCooldown      = 5 * time.Minute
)

// cooldownFor 计算给定失败次数对应的冷却时长。
func cooldownFor(count int) time.Duration {
	if count < disableThreshold {
		return 0
	}
	over := count - disableThreshold
	if over >= 10 { // 位移上限保护
		return maxCooldown
	}
	d := baseCooldown << uint(over)
	if d > maxCooldown {
		d = maxCooldown
	}
	return d
}

type failureRecord struct {
	count       int
	lastFailure time.Time
}

// RetryRouter 在一组逻辑模型之上提供统一的 Call/CallStream 入口。
// 并发安全；失败计数与策略更新由内部互斥量保护。
type RetryRouter struct {
	provider llm.Provider
	logger   *zap.Logger

	collector *metrics.Collector
	obs       *observability.Metrics

	mu       sync.Mutex
	models   []config.NamedModel
	policy   *config.RetryPolicy
	failures map[string]*failureRecord

	now func() time.Time // 测试钩子
}

// Option 配置 RetryRouter。
type Option func(*RetryRouter)

// WithLogger 设置日志器。
func WithLogger(l *zap.Logger) Option {
	return func(r *RetryRouter) { r.logger = l }
}

// WithCollector 接入 prometheus 指标收集器。
func WithCollector(c *metrics.Collector) Option {
	return func(r *RetryRouter) { r.collector = c }
}

// WithObservability 接入 OpenTelemetry 追踪与指标。
func WithObservability(o *observability.Metrics) Option {
	return func(r *RetryRouter) { r.obs = o }
}

// New 创建路由器。models 至少一个条目且名称唯一；policy 为 nil 时使用默认策略。
func New(provider llm.Provider, models []config.NamedModel, policy *config.RetryPolicy, opts ...Option) (*RetryRouter, error) {
	if err := config.Validate(models); err != nil {
		return nil, err
	}
	if policy == nil {
		policy = config.DefaultRetryPolicy()
	}

	r := &RetryRouter{
		provider: provider,
		logger:   zap.NewNop(),
		models:   config.EnsureDefault(models),
		policy:   policy.Normalize(),
		failures: make(map[string]*failureRecord),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Call 发起非流式调用，失败时按策略重试并在候选模型间故障转移。
func (r *RetryRouter) Call(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	var resp *llm.ChatResponse
	err := r.route(ctx, req, func(ctx context.Context, attempt *llm.ChatRequest) error {
		got, err := r.provider.Completion(ctx, attempt)
		if err != nil {
			return err
		}
		resp = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// CallStream 发起流式调用。重试与故障转移只覆盖建连阶段：
// 序列一旦开始产出 chunk，中途错误以 KindError chunk 交给消费方处理。
func (r *RetryRouter) CallStream(ctx context.Context, req *llm.ChatRequest) (llm.ChunkStream, error) {
	var stream llm.ChunkStream
	streamReq := *req
	streamReq.Stream = true
	err := r.route(ctx, &streamReq, func(ctx context.Context, attempt *llm.ChatRequest) error {
		got, err := r.provider.Stream(ctx, attempt)
		if err != nil {
			return err
		}
		stream = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// route 按健康度遍历候选模型执行 exec，全部失败时返回聚合错误。
func (r *RetryRouter) route(ctx context.Context, req *llm.ChatRequest, exec func(context.Context, *llm.ChatRequest) error) error {
	candidates, skipped := r.candidates()
	if len(candidates) == 0 {
		return &ExhaustedError{Skipped: skipped}
	}

	var attempts []ModelAttempt
	for _, m := range candidates {
		cerr, tried := r.tryModel(ctx, m, req, exec)
		if cerr == nil {
			r.clearFailure(m.Name)
			return nil
		}
		if cerr.Code == types.ErrCanceled {
			// 取消既不计入失败也不再尝试后续模型
			return cerr
		}

		attempts = append(attempts, ModelAttempt{
			Model:    m.Name,
			Code:     cerr.Code,
			Message:  cerr.Message,
			Attempts: tried,
		})
		r.logger.Warn("model failed, trying next candidate",
			zap.String("model", m.Name),
			zap.String("code", string(cerr.Code)),
			zap.Int("attempts", tried),
		)
	}

	return &ExhaustedError{Attempts: attempts, Skipped: skipped}
}

// tryModel 对单个模型最多执行 MaxRetries+1 次调用。
// 返回最终分类错误（成功为 nil）与实际发起的调用次数。
func (r *RetryRouter) tryModel(ctx context.Context, m config.NamedModel, base *llm.ChatRequest, exec func(context.Context, *llm.ChatRequest) error) (*types.Error, int) {
	policy := r.currentPolicy()
	req := r.buildRequest(base, m)

	var last *types.Error
	tried := 0
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			if r.collector != nil {
				r.collector.RecordRetry(m.Name)
			}
			if r.obs != nil {
				r.obs.RecordRetry(ctx, m.Name)
			}
			if err := r.sleep(ctx, llm.RetryDelay(attempt, policy, last.Code)); err != nil {
				return err, tried
			}
		}

		tried++
		start := r.now()
		callCtx, span := r.startSpan(ctx, m.Name, attempt)
		err := exec(callCtx, req)
		elapsed := r.now().Sub(start)
		r.endSpan(span, err)

		if r.collector != nil {
			r.collector.ObserveCallDuration(m.Name, elapsed)
		}

		if err == nil {
			if r.collector != nil {
				r.collector.RecordModelCall(m.Name, "success")
			}
			if r.obs != nil {
				r.obs.RecordCall(ctx, m.Name, "success", elapsed)
			}
			return nil, tried
		}

		last = llm.Classify(err)
		if r.collector != nil {
			r.collector.RecordModelCall(m.Name, "error")
		}
		if r.obs != nil {
			r.obs.RecordCall(ctx, m.Name, string(last.Code), elapsed)
		}

		if last.Code == types.ErrCanceled || ctx.Err() != nil {
			return types.NewError(types.ErrCanceled, "request canceled").WithCause(err), tried
		}

		// 每一次失败的真实调用都计入失败记录，不区分错误类别
		r.recordFailure(m.Name)

		// 不可重试或应切换类别的错误：立即换下一个候选
		if !last.Retryable || llm.ShouldSwitchModel(last) {
			return last, tried
		}

		r.logger.Debug("retryable failure, backing off",
			zap.String("model", m.Name),
			zap.String("code", string(last.Code)),
			zap.Int("attempt", attempt+1),
		)
	}
	return last, tried
}

// candidates 返回按失败次数升序（稳定）排序的可用模型，
// 以及当前处于熔断冷却中的模型名。冷却到期的模型自动恢复参选。
func (r *RetryRouter) candidates() ([]config.NamedModel, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	eligible := make([]config.NamedModel, 0, len(r.models))
	var skipped []string

	for _, m := range r.models {
		if rec := r.failures[m.Name]; rec != nil {
			if cd := cooldownFor(rec.count); cd > 0 {
				if now.Sub(rec.lastFailure) < cd {
					skipped = append(skipped, m.Name)
					if r.collector != nil {
						r.collector.RecordCircuitSkip(m.Name)
					}
					continue
				}
				// 冷却期满：惰性恢复，失败计数清零重新参选
				delete(r.failures, m.Name)
			}
		}
		eligible = append(eligible, m)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return r.failureCountLocked(eligible[i].Name) < r.failureCountLocked(eligible[j].Name)
	})
	return eligible, skipped
}

func (r *RetryRouter) failureCountLocked(name string) int {
	if rec := r.failures[name]; rec != nil {
		return rec.count
	}
	return 0
}

// buildRequest 以模型配置补全请求副本：逻辑模型名替换为 Provider 侧模型 ID，
// 请求未显式设置的字段由配置兜底，并保证 TraceID 存在。
func (r *RetryRouter) buildRequest(base *llm.ChatRequest, m config.NamedModel) *llm.ChatRequest {
	req := *base
	req.Model = m.Config.Model

	if req.Temperature == 0 && m.Config.Temperature != nil {
		req.Temperature = *m.Config.Temperature
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = m.Config.MaxTokens
	}
	if req.TopP == 0 {
		req.TopP = m.Config.TopP
	}
	if len(req.Stop) == 0 {
		req.Stop = m.Config.Stop
	}
	if req.TraceID == "" {
		req.TraceID = uuid.NewString()
	}
	return &req
}

func (r *RetryRouter) startSpan(ctx context.Context, model string, attempt int) (context.Context, trace.Span) {
	if r.obs == nil {
		return ctx, nil
	}
	return r.obs.StartCall(ctx, model, attempt)
}

func (r *RetryRouter) endSpan(span trace.Span, err error) {
	if r.obs != nil {
		r.obs.EndCall(span, err)
	}
}

// sleep 可被 ctx 打断的退避等待。退避期间 ctx 终止（无论取消还是超时）
// 一律按取消处理：不再发起新的调用，也不向后续候选切换。
func (r *RetryRouter) sleep(ctx context.Context, d time.Duration) *types.Error {
	select {
	case <-ctx.Done():
		return types.NewError(types.ErrCanceled, "request canceled").WithCause(ctx.Err())
	case <-time.After(d):
		return nil
	}
}

func (r *RetryRouter) currentPolicy() *config.RetryPolicy {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.policy
}

func (r *RetryRouter) recordFailure(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.failures[name]
	if rec == nil {
		rec = &failureRecord{}
		r.failures[name] = rec
	}
	rec.count++
	rec.lastFailure = r.now()
}

func (r *RetryRouter) clearFailure(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.failures, name)
}

// ModelHealth 单个模型的失败跟踪快照。
type ModelHealth struct {
	Failures      int       `json:"failures"`
	LastFailure   time.Time `json:"last_failure,omitempty"`
	DisabledUntil time.Time `json:"disabled_until,omitempty"`
}

// RetryStats 返回所有有失败记录的模型的健康快照。
func (r *RetryRouter) RetryStats() map[string]ModelHealth {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]ModelHealth, len(r.failures))
	for name, rec := range r.failures {
		h := ModelHealth{Failures: rec.count, LastFailure: rec.lastFailure}
		if cd := cooldownFor(rec.count); cd > 0 {
			h.DisabledUntil = rec.lastFailure.Add(cd)
		}
		out[name] = h
	}
	return out
}

// ResetFailureTracking 清除指定模型的失败记录；不带参数时清除全部。
func (r *RetryRouter) ResetFailureTracking(names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(names) == 0 {
		r.failures = make(map[string]*failureRecord)
		return
	}
	for _, n := range names {
		delete(r.failures, n)
	}
}

// UpdateRetryPolicy 原子替换重试策略，对后续调用生效。
func (r *RetryRouter) UpdateRetryPolicy(p *config.RetryPolicy) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy = p.Normalize()
}

// Models 返回当前模型列表的副本。
func (r *RetryRouter) Models() []config.NamedModel {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]config.NamedModel, len(r.models))
	copy(out, r.models)
	return out
}
