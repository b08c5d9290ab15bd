package llm

import (
	"fmt"

	"docsearch/internal/config"
	"docsearch/internal/rag/interfaces"
)

// NewClient 是一个工厂函数，根据配置创建并返回一个生成模型客户端。
// 返回的客户端以增量文本流的形式产出内容（见 interfaces.LLM）。
func NewClient(cfg config.LLMConfig) (interfaces.LLM, error) {
	switch cfg.Provider {
	case "gemini":
		return NewGemini(cfg.Gemini.APIKey, cfg.Gemini.Model)
	case "openai":
		return NewOpenAI(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
