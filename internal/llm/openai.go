package llm

import (
	"context"
	"errors"
	"io"

	openai "github.com/meguminnnnnnnnn/go-openai"

	"docsearch/internal/rag/interfaces"
)

// OpenAI 是一个用于 OpenAI Chat Completions API 的流式生成客户端。
type OpenAI struct {
	client *openai.Client // OpenAI 客户端实例。
	model  string         // 要使用的模型名称。
}

// NewOpenAI 创建一个新的 OpenAI 客户端。
func NewOpenAI(apiKey, model string) (*OpenAI, error) {
	config := openai.DefaultConfig(apiKey)
	client := openai.NewClientWithConfig(config)
	return &OpenAI{client: client, model: model}, nil
}

// GenerateStream 使用 OpenAI API 以流式方式生成内容。
func (o *OpenAI) GenerateStream(ctx context.Context, prompt string) (<-chan interfaces.StreamDelta, error) {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}

	stream, err := o.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, err
	}

	ch := make(chan interfaces.StreamDelta)
	go func() {
		defer close(ch)
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				select {
				case ch <- interfaces.StreamDelta{Err: err}:
				case <-ctx.Done():
				}
				return
			}
			var text string
			for _, choice := range resp.Choices {
				text += choice.Delta.Content
			}
			select {
			case ch <- interfaces.StreamDelta{Text: text}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

var _ interfaces.LLM = (*OpenAI)(nil)
