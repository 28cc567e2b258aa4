// Package service 提供了语义检索相关的业务逻辑。
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/Pasterwitz/Quorial-SoftwareDev/internal/model"
	"github.com/Pasterwitz/Quorial-SoftwareDev/pkg/embedding"
	"github.com/Pasterwitz/Quorial-SoftwareDev/pkg/log"
	"github.com/elastic/go-elasticsearch/v8"
)

// SearchService 接口定义了向量索引上的相似度检索。
// 返回的命中按分数降序排列，数量不超过 topK。
type SearchService interface {
	Search(ctx context.Context, query string, topK int, filter *model.SearchFilter) ([]model.RawHit, error)
}

type searchService struct {
	embeddingClient embedding.Client
	esClient        *elasticsearch.Client
	indexName       string
}

// NewSearchService 创建一个新的 SearchService 实例。
// esClient 在进程启动时构建一次并注入，这里不会重新建连。
func NewSearchService(embeddingClient embedding.Client, esClient *elasticsearch.Client, indexName string) SearchService {
	return &searchService{
		embeddingClient: embeddingClient,
		esClient:        esClient,
		indexName:       indexName,
	}
}

// Search 执行一次 knn 相似度检索并把命中映射为 RawHit。
func (s *searchService) Search(ctx context.Context, query string, topK int, filter *model.SearchFilter) ([]model.RawHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidQuery)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", ErrInvalidQuery, topK)
	}
	log.Infof("[SearchService] 开始执行相似度检索, query: '%s', topK: %d", query, topK)

	// 1. 向量化查询
	queryVector, err := s.embeddingClient.CreateEmbedding(ctx, query)
	if err != nil {
		log.Errorf("[SearchService] 向量化查询失败: %v", err)
		return nil, fmt.Errorf("failed to create query embedding: %w", err)
	}
	log.Infof("[SearchService] 向量化查询成功, 向量维度: %d", len(queryVector))

	// 2. 构建 knn 查询
	knn := map[string]interface{}{
		"field":          "vector",
		"query_vector":   queryVector,
		"k":              topK,
		"num_candidates": topK * 10,
	}
	if filter != nil && filter.Language != "" {
		knn["filter"] = map[string]interface{}{
			"term": map[string]interface{}{"language": filter.Language},
		}
	}
	esQuery := map[string]interface{}{
		"knn":     knn,
		"size":    topK,
		"_source": []string{"chunk_id", "article_id", "chunk_idx", "title", "summary", "content", "language"},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		log.Errorf("[SearchService] 序列化 Elasticsearch 查询失败: %v", err)
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	// 3. 执行检索
	res, err := s.esClient.Search(
		s.esClient.Search.WithContext(ctx),
		s.esClient.Search.WithIndex(s.indexName),
		s.esClient.Search.WithBody(&buf),
	)
	if err != nil {
		log.Errorf("[SearchService] 向 Elasticsearch 发送检索请求失败: %v", err)
		return nil, fmt.Errorf("%w: elasticsearch search failed: %v", ErrBackendUnavailable, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("[SearchService] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(bodyBytes))
		return nil, fmt.Errorf("%w: elasticsearch returned an error: %s", ErrBackendUnavailable, res.Status())
	}

	// 4. 解析响应
	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.EsChunk `json:"_source"`
				Score  *float64      `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		log.Errorf("[SearchService] 解析 Elasticsearch 响应失败: %v", err)
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	// 5. 映射为 RawHit。cosine 索引下 _score 即归一化相似度，
	// 后端距离 = 1 - _score，相似度分数按 1 - 距离 还原；
	// 后端未返回 _score 时整组命中的分数统一置空。
	hits := make([]model.RawHit, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		src := hit.Source
		raw := model.RawHit{
			Chunk: model.Chunk{
				ID:   src.ChunkID,
				Text: src.Content,
				Meta: model.ChunkMetadata{
					// 文档缺失归属字段时保持 nil，交由上游跳过
					ArticleID: src.ArticleID,
					ChunkIdx:  src.ChunkIdx,
					Title:     src.Title,
					Summary:   src.Summary,
					Language:  src.Language,
				},
			},
		}
		if hit.Score != nil {
			distance := 1 - *hit.Score
			score := 1 - distance
			raw.Score = &score
		}
		hits = append(hits, raw)
	}

	log.Infof("[SearchService] 相似度检索完成, query: '%s', 命中 %d 条", query, len(hits))
	return hits, nil
}
