package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Pasterwitz/Quorial-SoftwareDev/internal/config"
	"github.com/Pasterwitz/Quorial-SoftwareDev/internal/model"
	"github.com/Pasterwitz/Quorial-SoftwareDev/internal/repository"
	"github.com/Pasterwitz/Quorial-SoftwareDev/pkg/embedding"
	"github.com/Pasterwitz/Quorial-SoftwareDev/pkg/es"
	"github.com/Pasterwitz/Quorial-SoftwareDev/pkg/log"
	"github.com/Pasterwitz/Quorial-SoftwareDev/pkg/storage"
	"github.com/Pasterwitz/Quorial-SoftwareDev/pkg/tasks"
	"github.com/elastic/go-elasticsearch/v8"
)

// rawArticle 对应清洗后语料文件中的单篇文章。
type rawArticle struct {
	ArticleID *int64 `json:"article_id"`
	Title     string `json:"title"`
	Summary   string `json:"summary"`
	Content   string `json:"content"`
	Language  string `json:"language"`
}

// Processor 封装了文章入库的所有依赖和逻辑。
// 入库与检索是互不重叠的两条操作路径：消费者串行处理任务，检索只读。
type Processor struct {
	embeddingClient embedding.Client
	esClient        *elasticsearch.Client
	esCfg           config.ElasticsearchConfig
	minioCfg        config.MinIOConfig
	embeddingCfg    config.EmbeddingConfig
	chunkRepo       repository.ChunkRepository
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	embeddingClient embedding.Client,
	esClient *elasticsearch.Client,
	esCfg config.ElasticsearchConfig,
	minioCfg config.MinIOConfig,
	embeddingCfg config.EmbeddingConfig,
	chunkRepo repository.ChunkRepository,
) *Processor {
	return &Processor{
		embeddingClient: embeddingClient,
		esClient:        esClient,
		esCfg:           esCfg,
		minioCfg:        minioCfg,
		embeddingCfg:    embeddingCfg,
		chunkRepo:       chunkRepo,
	}
}

// Process 是文章入库任务的主函数。
func (p *Processor) Process(ctx context.Context, task tasks.ArticleIngestTask) error {
	log.Infof("[Processor] 开始处理语料文件, Object: %s, Rebuild: %v", task.ObjectName, task.Rebuild)

	// 1. 从 MinIO 读取清洗后的文章 JSON
	data, err := storage.ReadObject(ctx, p.minioCfg.BucketName, task.ObjectName)
	if err != nil {
		log.Errorf("[Processor] 从MinIO读取语料文件失败, Object: %s, Error: %v", task.ObjectName, err)
		return fmt.Errorf("从 MinIO 读取语料文件失败: %w", err)
	}
	if len(data) == 0 {
		log.Warnf("[Processor] 语料文件 '%s' 内容为空, 处理中止", task.ObjectName)
		return errors.New("语料文件内容为空")
	}

	articles, err := parseArticles(data)
	if err != nil {
		log.Errorf("[Processor] 解析语料文件失败, Object: %s, Error: %v", task.ObjectName, err)
		return fmt.Errorf("解析语料文件失败: %w", err)
	}
	log.Infof("[Processor] 步骤1: 语料文件解析成功, 共 %d 篇文章", len(articles))

	for idx, article := range articles {
		// article_id 缺省时用文件内的序号，与原始语料管线一致
		articleID := int64(idx)
		if article.ArticleID != nil {
			articleID = *article.ArticleID
		}
		if err := p.processArticle(ctx, articleID, article, task.Rebuild); err != nil {
			return fmt.Errorf("处理文章 %d 失败: %w", articleID, err)
		}
	}

	log.Infof("[Processor] 语料文件处理完成, Object: %s, 共 %d 篇文章", task.ObjectName, len(articles))
	return nil
}

// processArticle 完成单篇文章的 清理 -> 分块 -> 入库 -> 向量化 -> 索引。
func (p *Processor) processArticle(ctx context.Context, articleID int64, article rawArticle, rebuild bool) error {
	content := strings.TrimSpace(article.Content)
	if content == "" {
		log.Warnf("[Processor] 文章 %d 正文为空, 跳过", articleID)
		return nil
	}

	// 2. 文本分块
	chunks := splitArticle(content, defaultChunkSize, defaultChunkOverlap)
	if len(chunks) == 0 {
		log.Warnf("[Processor] 文章 %d 未生成任何分块, 跳过", articleID)
		return nil
	}
	log.Infof("[Processor] 文章 %d 分块完成, 共 %d 个分块", articleID, len(chunks))

	// 3. 幂等清理：删除该文章既有的分块记录与索引文档
	if rebuild {
		if err := p.chunkRepo.DeleteByArticle(articleID); err != nil {
			log.Warnf("[Processor] 清理 article_chunks 旧记录失败 (article_id=%d): %v", articleID, err)
		}
		if err := es.DeleteByArticleID(ctx, p.esClient, p.esCfg.IndexName, articleID); err != nil {
			log.Warnf("[Processor] 清理索引旧文档失败 (article_id=%d): %v", articleID, err)
		}
	}

	// 4. 阶段一：分块文本与元数据存入数据库
	rows := make([]*model.ArticleChunk, 0, len(chunks))
	for i, chunk := range chunks {
		rows = append(rows, &model.ArticleChunk{
			ChunkID:   fmt.Sprintf("%d_%d", articleID, i),
			ArticleID: articleID,
			ChunkIdx:  i,
			Title:     article.Title,
			Summary:   article.Summary,
			Content:   chunk,
			Language:  article.Language,
		})
	}
	if err := p.chunkRepo.BatchCreate(rows); err != nil {
		log.Errorf("[Processor] 批量保存文章 %d 的分块失败, Error: %v", articleID, err)
		return fmt.Errorf("批量保存分块失败: %w", err)
	}

	// 5. 阶段二：批量向量化并索引到 ES
	texts := make([]string, len(chunks))
	copy(texts, chunks)
	vectors, err := p.embeddingClient.CreateEmbeddings(ctx, texts)
	if err != nil {
		log.Errorf("[Processor] 文章 %d 向量化失败, Error: %v", articleID, err)
		return fmt.Errorf("向量化失败: %w", err)
	}

	for i, row := range rows {
		doc := model.EsChunk{
			ChunkID:      row.ChunkID,
			ArticleID:    &row.ArticleID,
			ChunkIdx:     &row.ChunkIdx,
			Title:        row.Title,
			Summary:      row.Summary,
			Content:      row.Content,
			Vector:       vectors[i],
			Language:     row.Language,
			ModelVersion: p.embeddingCfg.Model,
		}
		if err := es.IndexChunk(ctx, p.esClient, p.esCfg.IndexName, doc); err != nil {
			log.Errorf("[Processor] 索引分块 %s 失败, Error: %v", row.ChunkID, err)
			return fmt.Errorf("索引分块 %s 失败: %w", row.ChunkID, err)
		}
	}

	log.Infof("[Processor] 文章 %d 入库完成, 分块 %d 个", articleID, len(rows))
	return nil
}

// parseArticles 兼容 JSON 数组与 JSON Lines 两种语料格式。
func parseArticles(data []byte) ([]rawArticle, error) {
	var articles []rawArticle
	if err := json.Unmarshal(data, &articles); err == nil {
		return articles, nil
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var a rawArticle
		if err := json.Unmarshal([]byte(line), &a); err != nil {
			return nil, err
		}
		articles = append(articles, a)
	}
	if len(articles) == 0 {
		return nil, errors.New("no articles found in corpus file")
	}
	return articles, nil
}
