// Package config 提供模型集合与重试策略的配置结构及 YAML 加载。
package config

import (
	"fmt"
	"time"

	"github.com/BaSui01/streamflow/types"
)

// DefaultModelName 路由器保证始终存在的逻辑模型名。
const DefaultModelName = "default"

// ModelConfig 单个逻辑模型的调用配置。加载后不可变。
type ModelConfig struct {
	// Model 是 Provider 侧的模型 ID（如 gpt-4o、claude-sonnet-4）
	Model       string            `yaml:"model" json:"model"`
	Temperature *float32          `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	MaxTokens   int               `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	TopP        float32           `yaml:"top_p,omitempty" json:"top_p,omitempty"`
	Stop        []string          `yaml:"stop,omitempty" json:"stop,omitempty"`
	// Options 承载 Provider 特有字段，本库不解释
	Options map[string]string `yaml:"options,omitempty" json:"options,omitempty"`
}

// NamedModel 带逻辑名的模型配置。列表顺序即插入顺序，
// 失败计数相同时按此顺序决定候选次序。
type NamedModel struct {
	Name   string      `yaml:"name" json:"name"`
	Config ModelConfig `yaml:",inline" json:"config"`
}

// Validate 校验模型列表：名称/模型 ID 非空且名称唯一。
func Validate(models []NamedModel) error {
	if len(models) == 0 {
		return fmt.Errorf("at least one model is required")
	}
	seen := make(map[string]bool, len(models))
	for i, m := range models {
		if m.Name == "" {
			return fmt.Errorf("model #%d: name is required", i)
		}
		if m.Config.Model == "" {
			return fmt.Errorf("model %q: model id is required", m.Name)
		}
		if seen[m.Name] {
			return fmt.Errorf("model %q: duplicate name", m.Name)
		}
		seen[m.Name] = true
	}
	return nil
}

// EnsureDefault 保证列表中存在 "default"：缺失时以第一个条目的配置
// 追加一个 default 别名。不修改入参。
func EnsureDefault(models []NamedModel) []NamedModel {
	for _, m := range models {
		if m.Name == DefaultModelName {
			return models
		}
	}
	out := make([]NamedModel, 0, len(models)+1)
	out = append(out, models...)
	if len(models) > 0 {
		out = append(out, NamedModel{Name: DefaultModelName, Config: models[0].Config})
	}
	return out
}

// RetryPolicy 重试策略，所有模型共享。可通过 Router.UpdateRetryPolicy 更新。
type RetryPolicy struct {
	MaxRetries   int           // 单模型最大重试次数（0 表示只尝试一次）
	InitialDelay time.Duration // 初始退避
	MaxDelay     time.Duration // 退避上限
	Multiplier   float64       // 指数倍增因子
	Jitter       bool          // 是否加 ±25% 随机抖动
	// CodeDelays 按错误码覆盖基准延迟（如限流给更长基准）
	CodeDelays map[types.ErrorCode]time.Duration
}

// DefaultRetryPolicy 返回适用于大部分 LLM API 场景的默认策略。
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		CodeDelays: map[types.ErrorCode]time.Duration{
			types.ErrRateLimited:        5 * time.Second,
			types.ErrModelOverloaded:    2 * time.Second,
			types.ErrServiceUnavailable: 5 * time.Second,
		},
	}
}

// Normalize 修正非法字段为默认值，返回自身便于链式调用。
func (p *RetryPolicy) Normalize() *RetryPolicy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 1 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 2.0
	}
	return p
}
