package embedding

import (
	"context"

	"docsearch/internal/rag/interfaces"
)

// batchAdapter 将 Embedding 适配为检索管线使用的批量接口。
type batchAdapter struct {
	model Embedding
}

// AsModel 返回实现 interfaces.EmbeddingModel 的适配器。
func AsModel(m Embedding) interfaces.EmbeddingModel {
	return &batchAdapter{model: m}
}

func (a *batchAdapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return a.model.EmbedBatch(ctx, texts)
}
