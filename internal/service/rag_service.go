// Package service 提供了完整 RAG 问答管线的业务逻辑。
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Pasterwitz/Quorial-SoftwareDev/internal/config"
	"github.com/Pasterwitz/Quorial-SoftwareDev/internal/model"
	"github.com/Pasterwitz/Quorial-SoftwareDev/pkg/llm"
	"github.com/Pasterwitz/Quorial-SoftwareDev/pkg/log"
)

// 固定的用户可见回答文案。检索为空时不调用 LLM，直接返回 noResultsAnswer；
// LLM 出错或返回空时降级为对应文案，sources 照常返回。
const (
	noResultsAnswer = "I could not find any relevant articles in the collection."
	llmErrorAnswer  = "I encountered an error while generating an answer with the knowledge base."
	emptyLLMAnswer  = "I could not generate an answer from the retrieved articles."
)

// systemPrompt 约束模型只使用给定上下文、标注引用来源、承认信息缺失。
const systemPrompt = "You are a careful assistant answering questions about news articles. " +
	"Use only the information in the provided CONTEXT. " +
	"If the answer is not in the context, say that you do not know. " +
	"Cite which sources you used (e.g. [Source 1], [Source 2]) in your answer."

// CompleteRequest 是一次完整 RAG 问答的入参。
// TopK / MaxArticles 为零时回落到配置的默认值；ContextSize 为 nil 时
// 回落默认值，显式传 0 表示只取命中分块、不扩展窗口。
// RedactArticleIDs 为 true 时返回的来源投影不携带内部文章标识。
type CompleteRequest struct {
	Query            string
	TopK             int
	ContextSize      *int
	MaxArticles      int
	Filter           *model.SearchFilter
	Provider         string
	Model            string
	RedactArticleIDs bool
}

// Preparation 是一次问答在调用 LLM 之前的准备产物。
// NoResults 为 true 时 Messages 为空，调用方直接使用固定的无结果文案。
type Preparation struct {
	Messages  []llm.Message
	Sources   []model.SourceInfo
	NoResults bool
}

// RAGService 定义了完整问答管线的接口。
// Prepare 产出 LLM 就绪的消息与来源，流式与阻塞两条问答路径共用；
// Complete 在此之上完成阻塞式 LLM 调用。
type RAGService interface {
	Prepare(ctx context.Context, req CompleteRequest) (*Preparation, error)
	Complete(ctx context.Context, req CompleteRequest) (*model.CompleteResponse, error)
}

type ragService struct {
	retrievalService RetrievalService
	llmClient        llm.Client
	defaults         config.RetrievalConfig
}

// NewRAGService 创建一个新的 RAGService 实例。
func NewRAGService(retrievalService RetrievalService, llmClient llm.Client, defaults config.RetrievalConfig) RAGService {
	return &ragService{
		retrievalService: retrievalService,
		llmClient:        llmClient,
		defaults:         defaults,
	}
}

// Prepare 执行 检索 -> 去重排序 -> 组装上下文 的前半段管线。
func (s *ragService) Prepare(ctx context.Context, req CompleteRequest) (*Preparation, error) {
	topK := req.TopK
	if topK <= 0 {
		topK = s.defaults.TopK
	}
	contextSize := s.defaults.ContextSize
	if req.ContextSize != nil && *req.ContextSize >= 0 {
		contextSize = *req.ContextSize
	}
	maxArticles := req.MaxArticles
	if maxArticles <= 0 {
		maxArticles = s.defaults.MaxArticles
	}

	// 1. 检索候选并展开窗口
	results, err := s.retrievalService.Retrieve(ctx, req.Query, topK, contextSize, req.Filter)
	if err != nil {
		return nil, err
	}

	// 2. 无结果时短路：不组装提示词，调用方据此跳过 LLM
	if len(results) == 0 {
		log.Infof("[RAGService] 检索无结果, query: '%s'", req.Query)
		return &Preparation{Sources: []model.SourceInfo{}, NoResults: true}, nil
	}

	// 3. 按文章去重排序，只保留 maxArticles 篇作为上下文
	topSources := DedupeAndRank(results, maxArticles)

	// 4. 组装上下文与提示词
	contextText := buildContext(topSources)
	userPrompt := fmt.Sprintf(
		"Question:\n%s\n\nCONTEXT:\n%s\n\n"+
			"Answer the question based only on the CONTEXT above. "+
			"If something is unclear or missing, explicitly say that it is not covered.",
		req.Query, contextText,
	)
	return &Preparation{
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Sources: buildSourceInfos(topSources, req.RedactArticleIDs),
	}, nil
}

// Complete 执行 检索 -> 去重排序 -> 组装上下文 -> LLM 的完整管线。
func (s *ragService) Complete(ctx context.Context, req CompleteRequest) (*model.CompleteResponse, error) {
	prep, err := s.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	// 无结果时短路：不调用 LLM，省下成本也避免模型对着空上下文瞎编
	if prep.NoResults {
		log.Infof("[RAGService] 跳过 LLM 调用, query: '%s'", req.Query)
		return &model.CompleteResponse{
			Query:   req.Query,
			Answer:  noResultsAnswer,
			Sources: prep.Sources,
		}, nil
	}

	// 调用 LLM。出错不向上抛：映射为固定降级文案，保证调用方总能拿到
	// 结构完整的 {answer, sources}
	answer, err := s.llmClient.ChatCompletion(ctx, req.Provider, req.Model, prep.Messages, nil)
	if err != nil {
		log.Errorf("[RAGService] LLM 调用失败, query: '%s', error: %v", req.Query, err)
		if errors.Is(err, llm.ErrEmptyCompletion) {
			answer = emptyLLMAnswer
		} else {
			answer = llmErrorAnswer
		}
	}

	return &model.CompleteResponse{
		Query:   req.Query,
		Answer:  answer,
		Sources: prep.Sources,
	}, nil
}

// buildContext 把展开结果序列化为一个提示词就绪的上下文文本。
// 每个来源一个块：带 1 起始序号的标题行、可选的摘要行、空行、合并正文；
// 块之间用水平分隔符隔开，便于模型按来源切分。不截断正文——
// 上游的 maxArticles 才是内容量的闸门。
func buildContext(results []*model.ExpandedResult) string {
	blocks := make([]string, 0, len(results))
	for i, r := range results {
		title := r.Title
		if title == "" {
			title = "Unknown title"
		}
		articleID := "N/A"
		if r.ArticleID != nil {
			articleID = fmt.Sprintf("%d", *r.ArticleID)
		}
		header := fmt.Sprintf("[Source %d] %s (article_id=%s)", i+1, title, articleID)
		if r.Summary != "" {
			header += "\nSummary: " + r.Summary
		}
		blocks = append(blocks, header+"\n\n"+strings.TrimSpace(r.CombinedContent))
	}
	return strings.Join(blocks, "\n\n---\n\n")
}

// buildSourceInfos 把展开结果投影为展示层的来源列表（1 起始序号）。
func buildSourceInfos(results []*model.ExpandedResult, redact bool) []model.SourceInfo {
	sources := make([]model.SourceInfo, 0, len(results))
	for i, r := range results {
		indices := make([]int, 0, len(r.ChunkDetails))
		for _, d := range r.ChunkDetails {
			indices = append(indices, d.ChunkIdx)
		}
		info := model.SourceInfo{
			SourceIndex:  i + 1,
			Title:        r.Title,
			Summary:      r.Summary,
			Score:        r.Score,
			ChunkIndices: indices,
		}
		if !redact {
			info.ArticleID = r.ArticleID
		}
		sources = append(sources, info)
	}
	return sources
}
