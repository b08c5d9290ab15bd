package llm

import (
	"context"
	"errors"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"docsearch/internal/rag/interfaces"
)

// Gemini 是一个用于 Google Gemini API 的流式生成客户端。
type Gemini struct {
	model *genai.GenerativeModel
}

// NewGemini 创建一个新的 Gemini 客户端。
func NewGemini(apiKey, modelName string) (*Gemini, error) {
	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &Gemini{model: client.GenerativeModel(modelName)}, nil
}

// GenerateStream 向 Gemini API 发送请求并返回增量文本流。
// 流在生成结束或出错时关闭；取消 ctx 会终止底层网络请求。
func (g *Gemini) GenerateStream(ctx context.Context, prompt string) (<-chan interfaces.StreamDelta, error) {
	iter := g.model.GenerateContentStream(ctx, genai.Text(prompt))

	ch := make(chan interfaces.StreamDelta)
	go func() {
		defer close(ch)
		for {
			resp, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				// 将错误作为最后一个增量传出，已生成的部分文本仍然有效。
				select {
				case ch <- interfaces.StreamDelta{Err: err}:
				case <-ctx.Done():
				}
				return
			}
			select {
			case ch <- interfaces.StreamDelta{Text: responseText(resp)}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

// responseText 从一个流式响应片段中取出纯文本部分。
func responseText(resp *genai.GenerateContentResponse) string {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var out string
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			out += string(text)
		}
	}
	return out
}

var _ interfaces.LLM = (*Gemini)(nil)
