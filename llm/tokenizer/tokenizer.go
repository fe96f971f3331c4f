// Package tokenizer 提供统一的 Token 计数接口：tiktoken 精确计数用于
// OpenAI 系模型，CJK 感知估算器用于其余模型。成本估算与 token 预算
// 记账都以此为准。
package tokenizer

import (
	"github.com/BaSui01/gateflow/llm"
)

// Tokenizer 统一计数接口。
type Tokenizer interface {
	// CountTokens 统计纯文本的 token 数。
	CountTokens(text string) (int, error)

	// CountMessages 统计对话消息的 token 数（含角色标记等开销）。
	CountMessages(messages []llm.Message) (int, error)

	// Name 返回实现名称。
	Name() string
}

// ForModel 为模型选择计数器：OpenAI 系模型走 tiktoken，其余用估算器。
// tiktoken 初始化失败时静默退回估算器，计数宁可粗糙不可中断请求。
func ForModel(model string) Tokenizer {
	if t, err := NewTiktoken(model); err == nil {
		return t
	}
	return NewEstimator()
}

// countMessages 通用的消息级计数：逐条正文加固定角色开销。
func countMessages(t Tokenizer, messages []llm.Message) (int, error) {
	total := 0
	for _, msg := range messages {
		// 每条消息约 4 个 token 的角色标记与分隔符开销
		n, err := t.CountTokens(msg.Content)
		if err != nil {
			return 0, err
		}
		total += n + 4
	}
	// 会话收尾开销
	return total + 3, nil
}
