package embedding

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/simsync/internal/core"
	"github.com/JonMunkholm/simsync/internal/schema"
)

// EmbedCatalog embeds every field's name and synonyms and returns a copy of
// c carrying the vectors. Fields that already have a vector are skipped.
func EmbedCatalog(ctx context.Context, c *schema.Catalog, e core.Embedder) (*schema.Catalog, error) {
	var (
		ids   []string
		texts []string
	)
	for _, f := range c.Fields() {
		if len(f.Embedding) > 0 {
			continue
		}
		ids = append(ids, f.ID)
		texts = append(texts, f.EmbeddingText())
	}
	if len(texts) == 0 {
		return c, nil
	}

	vecs, err := e.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed catalog: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embed catalog: got %d vectors for %d fields", len(vecs), len(texts))
	}

	byID := make(map[string][]float32, len(ids))
	for i, id := range ids {
		byID[id] = vecs[i]
	}
	return c.WithEmbeddings(byID), nil
}
