package embedding

import (
	"context"
	"time"

	"docsearch/internal/rag/interfaces"
	"docsearch/pkg/util"
)

// cachedModel 在 EmbeddingModel 外层加一个按文本键控的LRU缓存。
// 重复的查询文本 (典型的即热门搜索词) 不再触发网络调用。
type cachedModel struct {
	model interfaces.EmbeddingModel
	cache *util.LRUCache[string, []float32]
}

// WithCache 包装模型，缓存最近 capacity 条文本的向量，ttl 为过期时间。
func WithCache(model interfaces.EmbeddingModel, capacity int, ttl time.Duration) (interfaces.EmbeddingModel, error) {
	cache, err := util.NewLRU[string, []float32](capacity, ttl)
	if err != nil {
		return nil, err
	}
	return &cachedModel{model: model, cache: cache}, nil
}

func (c *cachedModel) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var misses []string
	var missIdx []int
	for i, text := range texts {
		if vec, ok := c.cache.Get(text); ok {
			out[i] = vec
			continue
		}
		misses = append(misses, text)
		missIdx = append(missIdx, i)
	}
	if len(misses) == 0 {
		return out, nil
	}

	fresh, err := c.model.Embed(ctx, misses)
	if err != nil {
		return nil, err
	}
	for j, vec := range fresh {
		out[missIdx[j]] = vec
		c.cache.Put(misses[j], vec)
	}
	return out, nil
}
