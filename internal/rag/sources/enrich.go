package sources

import (
	"docsearch/internal/rag/schema"
)

// Enricher stamps product metadata onto chunks before indexing, keyed by the
// chunk's source file name. Chunks are treated as read-only: enrichment
// returns new chunks that reuse the original ids.
type Enricher struct {
	byFile map[string]schema.Product
}

// NewEnricher builds an enricher from the product catalog.
func NewEnricher(products []schema.Product) *Enricher {
	byFile := make(map[string]schema.Product, len(products))
	for _, p := range products {
		byFile[p.Filename] = p
	}
	return &Enricher{byFile: byFile}
}

// Apply returns enriched copies of the given chunks. Chunks from files absent
// from the catalog pass through with their metadata copied unchanged.
func (e *Enricher) Apply(chunks []*schema.Chunk) []*schema.Chunk {
	out := make([]*schema.Chunk, len(chunks))
	for i, c := range chunks {
		meta := make(map[string]interface{}, len(c.Metadata)+3)
		for k, v := range c.Metadata {
			meta[k] = v
		}
		if p, ok := e.byFile[c.FileName()]; ok {
			meta[schema.MetadataKeyProductCategory] = p.ProductCategory
			meta[schema.MetadataKeyProductID] = p.ProductID
			if p.ProductName != "" {
				meta[schema.MetadataKeyProductName] = p.ProductName
			}
		}
		out[i] = &schema.Chunk{ID: c.ID, Text: c.Text, Metadata: meta}
	}
	return out
}

// Catalog derives catalog entries from chunks that already carry product
// metadata, one entry per source file. It lets the catalog store be populated
// from the ingested corpus itself.
func Catalog(chunks []*schema.Chunk) []schema.Product {
	seen := make(map[string]struct{})
	var products []schema.Product
	for _, c := range chunks {
		file := c.FileName()
		if file == "" {
			continue
		}
		if _, ok := seen[file]; ok {
			continue
		}
		category, _ := c.Metadata[schema.MetadataKeyProductCategory].(string)
		id, _ := c.Metadata[schema.MetadataKeyProductID].(string)
		if category == "" && id == "" {
			continue
		}
		name, _ := c.Metadata[schema.MetadataKeyProductName].(string)
		seen[file] = struct{}{}
		products = append(products, schema.Product{
			Filename:        file,
			ProductCategory: category,
			ProductID:       id,
			ProductName:     name,
		})
	}
	return products
}
