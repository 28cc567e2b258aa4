// Package service 提供了窗口展开与去重排序的检索核心逻辑。
package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Pasterwitz/Quorial-SoftwareDev/internal/model"
	"github.com/Pasterwitz/Quorial-SoftwareDev/internal/repository"
	"github.com/Pasterwitz/Quorial-SoftwareDev/pkg/log"
)

// maxChunkPages 是单篇文章分页拉取的迭代上限。
// 正常情况下末页行数不足 pageSize 自然终止；该上限只在后端行为异常、
// 永远返回整页时防止死循环（40 页 * 500 行远超任何一篇文章的分块数）。
const maxChunkPages = 40

// RetrievalService 是检索编排器的公开接口。
// Retrieve 返回按原始命中顺序排列的展开结果，不做文章去重——
// 是否去重由调用方决定（RAG 服务在此之上套用 DedupeAndRank）。
type RetrievalService interface {
	Retrieve(ctx context.Context, query string, topK, contextSize int, filter *model.SearchFilter) ([]*model.ExpandedResult, error)
}

type retrievalService struct {
	searchService SearchService
	chunkRepo     repository.ChunkRepository
	pageSize      int
}

// NewRetrievalService 创建一个新的 RetrievalService 实例。
func NewRetrievalService(searchService SearchService, chunkRepo repository.ChunkRepository, pageSize int) RetrievalService {
	if pageSize <= 0 {
		pageSize = 500
	}
	return &retrievalService{
		searchService: searchService,
		chunkRepo:     chunkRepo,
		pageSize:      pageSize,
	}
}

// Retrieve 执行相似度检索并围绕每个命中展开文章上下文窗口。
// 无法展开的命中（缺少定位元数据、文章分块已被删除）被静默跳过，
// 只有后端不可达才返回错误。
func (s *retrievalService) Retrieve(ctx context.Context, query string, topK, contextSize int, filter *model.SearchFilter) ([]*model.ExpandedResult, error) {
	hits, err := s.searchService.Search(ctx, query, topK, filter)
	if err != nil {
		return nil, err
	}

	expanded := make([]*model.ExpandedResult, 0, len(hits))
	for _, hit := range hits {
		result, err := s.expandAroundPrimary(ctx, hit, contextSize)
		if err != nil {
			return nil, err
		}
		if result != nil {
			expanded = append(expanded, result)
		}
	}

	log.Infof("[RetrievalService] 检索完成, query: '%s', 命中 %d 条, 展开 %d 条", query, len(hits), len(expanded))
	return expanded, nil
}

// fetchArticleChunks 分页拉取一篇文章的全部分块，按 chunk_idx 升序返回。
// 单页行数不足 pageSize 即为末页；分页循环带硬性迭代上限。
func (s *retrievalService) fetchArticleChunks(ctx context.Context, articleID int64) ([]*model.ArticleChunk, error) {
	var collected []*model.ArticleChunk
	for page := 0; page < maxChunkPages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch, err := s.chunkRepo.FindByArticlePage(articleID, s.pageSize, page*s.pageSize)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to fetch chunks for article %d: %v", ErrBackendUnavailable, articleID, err)
		}
		collected = append(collected, batch...)
		if len(batch) < s.pageSize {
			return collected, nil
		}
	}
	log.Warnf("[RetrievalService] 文章 %d 的分块分页达到迭代上限 %d, 截断返回", articleID, maxChunkPages)
	return collected, nil
}

// expandAroundPrimary 围绕命中分块构建文章上下文窗口。
// 返回 nil 表示该命中被优雅跳过，不是错误。
func (s *retrievalService) expandAroundPrimary(ctx context.Context, hit model.RawHit, contextSize int) (*model.ExpandedResult, error) {
	meta := hit.Meta
	// 1. 缺少归属元数据的命中无法定位到文章内的位置，跳过
	if meta.ArticleID == nil || meta.ChunkIdx == nil {
		log.Warnf("[RetrievalService] 命中 '%s' 缺少 article_id 或 chunk_idx, 跳过展开", hit.ID)
		return nil, nil
	}
	articleID := *meta.ArticleID
	centerIdx := *meta.ChunkIdx

	// 2. 拉取文章全部分块
	articleChunks, err := s.fetchArticleChunks(ctx, articleID)
	if err != nil {
		return nil, err
	}
	// 3. 索引与存储漂移：文章分块已不存在，跳过
	if len(articleChunks) == 0 {
		log.Warnf("[RetrievalService] 文章 %d 没有任何分块 (索引与存储不一致?), 跳过命中 '%s'", articleID, hit.ID)
		return nil, nil
	}

	// 4. 窗口 [max(0, center-contextSize), center+contextSize]，两端闭区间。
	// 上界有意不按文章实际长度收口：超出末尾的位置不存在对应分块，自然落选。
	start := centerIdx - contextSize
	if start < 0 {
		start = 0
	}
	end := centerIdx + contextSize

	// 5. 过滤窗口内的分块，标记主分块；同一 chunk_idx 只保留首个
	window := make([]model.ChunkDetail, 0, 2*contextSize+1)
	seen := make(map[int]bool)
	for _, ch := range articleChunks {
		if ch.ChunkIdx < start || ch.ChunkIdx > end || seen[ch.ChunkIdx] {
			continue
		}
		seen[ch.ChunkIdx] = true
		window = append(window, model.ChunkDetail{
			ChunkIdx:  ch.ChunkIdx,
			ChunkID:   ch.ChunkID,
			Content:   ch.Content,
			IsPrimary: ch.ChunkIdx == centerIdx,
		})
	}

	// 6. 窗口为空（理论上步骤 3 已排除，防御性处理）
	if len(window) == 0 {
		return nil, nil
	}

	// 7. 升序排列并拼接正文；元数据沿用命中分块自身携带的值
	sort.Slice(window, func(i, j int) bool {
		return window[i].ChunkIdx < window[j].ChunkIdx
	})
	parts := make([]string, len(window))
	for i, w := range window {
		parts[i] = w.Content
	}

	return &model.ExpandedResult{
		ArticleID:       meta.ArticleID,
		PrimaryChunkIdx: centerIdx,
		Title:           meta.Title,
		Summary:         meta.Summary,
		Score:           hit.Score,
		CombinedContent: strings.Join(parts, "\n\n"),
		ChunkDetails:    window,
		TotalChunks:     len(window),
	}, nil
}

// DedupeAndRank 把同一篇文章的多个命中折叠为得分最高的一条，
// 再按分数降序稳定排序并截断到 limit。
// 去重键依次取 article_id、标题；二者皆缺时该条目永远视为唯一
// （沿用原型对无法识别条目的处理，实际上对它们关闭了去重）。
func DedupeAndRank(results []*model.ExpandedResult, limit int) []*model.ExpandedResult {
	if limit <= 0 || len(results) == 0 {
		return []*model.ExpandedResult{}
	}

	scoreOf := func(r *model.ExpandedResult) float64 {
		if r.Score == nil {
			return 0
		}
		return *r.Score
	}

	kept := make([]*model.ExpandedResult, 0, len(results))
	index := make(map[string]int)
	for i, r := range results {
		var key string
		switch {
		case r.ArticleID != nil:
			key = fmt.Sprintf("id:%d", *r.ArticleID)
		case r.Title != "":
			key = "title:" + r.Title
		default:
			key = fmt.Sprintf("anon:%d", i)
		}

		at, exists := index[key]
		if !exists {
			index[key] = len(kept)
			kept = append(kept, r)
			continue
		}
		// 重复文章：仅当新条目分数严格更高时替换
		if scoreOf(r) > scoreOf(kept[at]) {
			kept[at] = r
		}
	}

	// 分数降序，同分保持首次出现的先后顺序
	sort.SliceStable(kept, func(i, j int) bool {
		return scoreOf(kept[i]) > scoreOf(kept[j])
	})

	if len(kept) > limit {
		kept = kept[:limit]
	}
	return kept
}
