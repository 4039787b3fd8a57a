package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/streamflow/types"
)

// File 是 YAML 配置文件的顶层结构。
//
//	models:
//	  - name: fast
//	    model: gpt-4o-mini
//	    temperature: 0.2
//	  - name: fallback
//	    model: claude-sonnet-4
//	retry:
//	  max_retries: 3
//	  initial_delay_ms: 1000
//	  max_delay_ms: 30000
//	  multiplier: 2.0
//	  jitter: true
//	  code_delays_ms:
//	    RATE_LIMITED: 5000
type File struct {
	Models []NamedModel `yaml:"models"`
	Retry  *retryYAML   `yaml:"retry,omitempty"`
}

// retryYAML 以毫秒整数表达延迟，避免 YAML duration 解析歧义。
type retryYAML struct {
	MaxRetries     int            `yaml:"max_retries"`
	InitialDelayMs int            `yaml:"initial_delay_ms"`
	MaxDelayMs     int            `yaml:"max_delay_ms"`
	Multiplier     float64        `yaml:"multiplier"`
	Jitter         bool           `yaml:"jitter"`
	CodeDelaysMs   map[string]int `yaml:"code_delays_ms,omitempty"`
}

func (r *retryYAML) toPolicy() *RetryPolicy {
	p := &RetryPolicy{
		MaxRetries:   r.MaxRetries,
		InitialDelay: time.Duration(r.InitialDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(r.MaxDelayMs) * time.Millisecond,
		Multiplier:   r.Multiplier,
		Jitter:       r.Jitter,
	}
	if len(r.CodeDelaysMs) > 0 {
		p.CodeDelays = make(map[types.ErrorCode]time.Duration, len(r.CodeDelaysMs))
		for code, ms := range r.CodeDelaysMs {
			p.CodeDelays[types.ErrorCode(code)] = time.Duration(ms) * time.Millisecond
		}
	}
	return p.Normalize()
}

// Load 从 YAML 文件加载模型列表与重试策略。
// 模型列表经过校验并保证含 "default"；retry 段缺省时返回默认策略。
func Load(path string) ([]NamedModel, *RetryPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse 解析 YAML 字节内容，语义同 Load。
func Parse(data []byte) ([]NamedModel, *RetryPolicy, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("parse config: %w", err)
	}

	if err := Validate(f.Models); err != nil {
		return nil, nil, fmt.Errorf("invalid models: %w", err)
	}
	models := EnsureDefault(f.Models)

	policy := DefaultRetryPolicy()
	if f.Retry != nil {
		policy = f.Retry.toPolicy()
	}
	return models, policy, nil
}
