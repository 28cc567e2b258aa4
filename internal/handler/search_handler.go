// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/Pasterwitz/Quorial-SoftwareDev/internal/config"
	"github.com/Pasterwitz/Quorial-SoftwareDev/internal/model"
	"github.com/Pasterwitz/Quorial-SoftwareDev/internal/service"
	"github.com/Pasterwitz/Quorial-SoftwareDev/pkg/log"
	"github.com/gin-gonic/gin"
)

// SearchHandler 负责处理检索相关的 API 请求。
type SearchHandler struct {
	retrievalService service.RetrievalService
	ragService       service.RAGService
	defaults         config.RetrievalConfig
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(retrievalService service.RetrievalService, ragService service.RAGService, defaults config.RetrievalConfig) *SearchHandler {
	return &SearchHandler{
		retrievalService: retrievalService,
		ragService:       ragService,
		defaults:         defaults,
	}
}

// intQuery 读取正整数查询参数，非法或缺省时返回 fallback。
func intQuery(c *gin.Context, name string, fallback int) int {
	v, err := strconv.Atoi(c.DefaultQuery(name, strconv.Itoa(fallback)))
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

// Retrieve 是检索接口的 Gin 处理函数：相似度检索 -> 上下文扩展 -> 按文章去重排序。
func (h *SearchHandler) Retrieve(c *gin.Context) {
	query := c.Query("query")
	log.Infof("[SearchHandler] 收到检索请求, query: %s", query)

	topK := intQuery(c, "topK", h.defaults.TopK)
	contextSize := intQuery(c, "contextSize", h.defaults.ContextSize)
	maxArticles := intQuery(c, "maxArticles", h.defaults.MaxArticles)

	var filter *model.SearchFilter
	if lang := c.Query("language"); lang != "" {
		filter = &model.SearchFilter{Language: lang}
	}

	results, err := h.retrievalService.Retrieve(c.Request.Context(), query, topK, contextSize, filter)
	if err != nil {
		if errors.Is(err, service.ErrInvalidQuery) {
			log.Warnf("[SearchHandler] 检索请求参数无效: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的查询参数"})
			return
		}
		if errors.Is(err, service.ErrBackendUnavailable) {
			log.Errorf("[SearchHandler] 检索后端不可用: %v", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "检索服务暂时不可用"})
			return
		}
		log.Errorf("[SearchHandler] 检索服务返回错误: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "检索失败"})
		return
	}

	ranked := service.DedupeAndRank(results, maxArticles)
	log.Infof("[SearchHandler] 检索成功, query: '%s', 返回 %d 篇文章", query, len(ranked))
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": ranked, "message": "success"})
}

// CompleteRequest 定义了问答接口的请求体结构。
// contextSize 用指针区分缺省与显式 0：缺省回落配置默认值，0 表示不扩展窗口。
type CompleteRequest struct {
	Query       string `json:"query" binding:"required"`
	TopK        int    `json:"topK"`
	ContextSize *int   `json:"contextSize"`
	MaxArticles int    `json:"maxArticles"`
	Language    string `json:"language"`
	Provider    string `json:"provider"`
	Model       string `json:"model"`
}

// Complete 是问答接口的 Gin 处理函数：检索 -> 组装上下文 -> LLM 生成答案。
func (h *SearchHandler) Complete(c *gin.Context) {
	var req CompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("[SearchHandler] 问答请求负载无效: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载：query 不能为空"})
		return
	}

	var filter *model.SearchFilter
	if req.Language != "" {
		filter = &model.SearchFilter{Language: req.Language}
	}

	resp, err := h.ragService.Complete(c.Request.Context(), service.CompleteRequest{
		Query:       req.Query,
		TopK:        req.TopK,
		ContextSize: req.ContextSize,
		MaxArticles: req.MaxArticles,
		Filter:      filter,
		Provider:    req.Provider,
		Model:       req.Model,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidQuery) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的查询参数"})
			return
		}
		if errors.Is(err, service.ErrBackendUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "检索服务暂时不可用"})
			return
		}
		log.Errorf("[SearchHandler] 问答服务返回错误: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "问答失败"})
		return
	}

	log.Infof("[SearchHandler] 问答成功, query: '%s', 引用 %d 篇文章", req.Query, len(resp.Sources))
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": resp, "message": "success"})
}
