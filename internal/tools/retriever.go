package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/convrag/internal/rag"
)

// Retriever adapts the retrieval engine to Eino's retriever.Retriever so it
// can be composed into Eino chains and graphs. It is bound to one
// conversation at construction.
//
// Supported options: retriever.WithTopK, retriever.WithScoreThreshold (a
// maximum cosine distance), and retriever.WithEmbedding, which overrides the
// query embedder for one call.
type Retriever struct {
	// searcher performs the cached retrieval.
	searcher Searcher

	// conversationID scopes every retrieval.
	conversationID string
}

// NewRetriever constructs a Retriever bound to conversationID.
func NewRetriever(searcher Searcher, conversationID string) *Retriever {
	return &Retriever{searcher: searcher, conversationID: conversationID}
}

// Retrieve returns the matching chunks as Eino documents, closest first.
// Each document carries its distance as the Eino score and the chunk
// metadata plus file_name.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("retriever: query is required")
	}

	o := retriever.GetCommonOptions(&retriever.Options{}, opts...)
	req := rag.SearchRequest{Query: query, ConversationID: r.conversationID}
	if o.TopK != nil {
		req.TopK = *o.TopK
	}
	if o.ScoreThreshold != nil {
		req.ScoreThreshold = rag.Threshold(float32(*o.ScoreThreshold))
	}
	if o.Embedding != nil {
		req.Embedder = &einoEmbedder{inner: o.Embedding}
	}

	return ToDocuments(r.searcher.Search(ctx, req)), nil
}

// ToDocuments converts search results to Eino documents. The document ID
// is "<file_id>#<chunk_index>" when both are known.
func ToDocuments(results []rag.SearchResult) []*schema.Document {
	docs := make([]*schema.Document, 0, len(results))
	for _, res := range results {
		md := make(map[string]any, len(res.Metadata)+1)
		for k, v := range res.Metadata {
			md[k] = v
		}
		md[rag.MetaFileName] = res.FileName

		doc := &schema.Document{
			ID:       documentID(res),
			Content:  res.Content,
			MetaData: md,
		}
		docs = append(docs, doc.WithScore(float64(res.Score)))
	}
	return docs
}

func documentID(res rag.SearchResult) string {
	idx, ok := res.Metadata[rag.MetaChunkIndex]
	if res.FileID == "" || !ok {
		return res.FileID
	}
	return fmt.Sprintf("%s#%v", res.FileID, idx)
}

// einoEmbedder adapts an Eino embedding.Embedder to rag.Embedder.
type einoEmbedder struct {
	inner embedding.Embedder
}

func (e *einoEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := e.inner.EmbedStrings(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("retriever: embed: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("retriever: embedder returned %d vectors for %d texts", len(vecs), len(texts))
	}
	out := make([][]float32, len(vecs))
	for i, v := range vecs {
		out[i] = make([]float32, len(v))
		for j, x := range v {
			out[i][j] = float32(x)
		}
	}
	return out, nil
}

func (e *einoEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}
