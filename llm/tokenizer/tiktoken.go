package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/BaSui01/gateflow/llm"
)

// Tiktoken OpenAI 系模型的精确计数器。编码数据惰性初始化
// （首次使用可能触发下载）。
type Tiktoken struct {
	model    string
	encoding string

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

// modelEncodings 模型名到 tiktoken 编码的映射，未命中按前缀匹配。
var modelEncodings = map[string]string{
	"gpt-4o":        "o200k_base",
	"gpt-4o-mini":   "o200k_base",
	"gpt-4-turbo":   "cl100k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
}

// NewTiktoken 为模型创建 tiktoken 计数器。非 OpenAI 系模型返回错误，
// 调用方应退回估算器。
func NewTiktoken(model string) (*Tiktoken, error) {
	encoding, ok := modelEncodings[model]
	if !ok {
		for prefix, e := range modelEncodings {
			if strings.HasPrefix(model, prefix) {
				encoding, ok = e, true
				break
			}
		}
	}
	if !ok {
		return nil, fmt.Errorf("no tiktoken encoding for model %q", model)
	}
	return &Tiktoken{model: model, encoding: encoding}, nil
}

func (t *Tiktoken) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

func (t *Tiktoken) CountTokens(text string) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

func (t *Tiktoken) CountMessages(messages []llm.Message) (int, error) {
	return countMessages(t, messages)
}

func (t *Tiktoken) Name() string { return "tiktoken:" + t.encoding }
