// Package repository 提供了数据访问层的实现。
package repository

import (
	"github.com/Pasterwitz/Quorial-SoftwareDev/internal/model"
	"gorm.io/gorm"
)

// ChunkRepository 定义了对 article_chunks 表的数据操作接口。
// FindByArticlePage 是检索引擎分页拉取文章全部分块的单页查询。
type ChunkRepository interface {
	FindByArticlePage(articleID int64, limit, offset int) ([]*model.ArticleChunk, error)
	BatchCreate(chunks []*model.ArticleChunk) error
	DeleteByArticle(articleID int64) error
	CountByArticle(articleID int64) (int64, error)
}

type chunkRepository struct {
	db *gorm.DB
}

// NewChunkRepository 创建一个新的 ChunkRepository 实例。
func NewChunkRepository(db *gorm.DB) ChunkRepository {
	return &chunkRepository{db: db}
}

// FindByArticlePage 按 chunk_idx 升序返回指定文章的一页分块。
// 行数少于 limit 即表示已到末页；文章不存在时返回空切片而不是错误。
func (r *chunkRepository) FindByArticlePage(articleID int64, limit, offset int) ([]*model.ArticleChunk, error) {
	var chunks []*model.ArticleChunk
	err := r.db.
		Where("article_id = ?", articleID).
		Order("chunk_idx ASC, id ASC").
		Limit(limit).
		Offset(offset).
		Find(&chunks).Error
	return chunks, err
}

// BatchCreate 批量创建分块记录。
func (r *chunkRepository) BatchCreate(chunks []*model.ArticleChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return r.db.CreateInBatches(chunks, 100).Error // 每100条记录一批
}

// DeleteByArticle 删除某篇文章的所有分块记录。
func (r *chunkRepository) DeleteByArticle(articleID int64) error {
	return r.db.Where("article_id = ?", articleID).Delete(&model.ArticleChunk{}).Error
}

// CountByArticle 返回某篇文章的分块总数。
func (r *chunkRepository) CountByArticle(articleID int64) (int64, error) {
	var count int64
	err := r.db.Model(&model.ArticleChunk{}).Where("article_id = ?", articleID).Count(&count).Error
	return count, err
}
