package router

import (
	"fmt"
	"strings"

	"github.com/BaSui01/streamflow/types"
)

// ModelAttempt 记录单个模型在一次路由中的最终失败情况。
type ModelAttempt struct {
	Model    string          `json:"model"`
	Code     types.ErrorCode `json:"code"`
	Message  string          `json:"message"`
	Attempts int             `json:"attempts"` // 该模型实际发起的调用次数
}

// ExhaustedError 所有候选模型均失败时返回的聚合错误。
// Attempts 仅包含实际被调用过的模型；熔断中被跳过的模型记录在 Skipped。
type ExhaustedError struct {
	Attempts []ModelAttempt `json:"attempts"`
	Skipped  []string       `json:"skipped,omitempty"`
}

func (e *ExhaustedError) Error() string {
	var b strings.Builder
	b.WriteString("all models exhausted")
	if len(e.Attempts) > 0 {
		parts := make([]string, 0, len(e.Attempts))
		for _, a := range e.Attempts {
			parts = append(parts, fmt.Sprintf("%s (%s after %d attempt(s))", a.Model, a.Code, a.Attempts))
		}
		b.WriteString(": ")
		b.WriteString(strings.Join(parts, "; "))
	}
	if len(e.Skipped) > 0 {
		b.WriteString(fmt.Sprintf("; skipped (circuit open): %s", strings.Join(e.Skipped, ", ")))
	}
	return b.String()
}

// LastError 返回最后一个被调用模型的错误码，便于调用方粗粒度判断。
func (e *ExhaustedError) LastError() (types.ErrorCode, bool) {
	if len(e.Attempts) == 0 {
		return "", false
	}
	return e.Attempts[len(e.Attempts)-1].Code, true
}
