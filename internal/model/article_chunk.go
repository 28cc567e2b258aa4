package model

// ArticleChunk 对应于数据库中的 article_chunks 表。
// 文章分块的权威存储：向量索引只保存检索需要的字段，正文窗口展开从这里分页读取。
type ArticleChunk struct {
	ID        uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	ChunkID   string `gorm:"type:varchar(64);not null;uniqueIndex;column:chunk_id" json:"chunkId"`
	ArticleID int64  `gorm:"not null;index;column:article_id" json:"articleId"`
	ChunkIdx  int    `gorm:"not null;column:chunk_idx" json:"chunkIdx"`
	Title     string `gorm:"type:varchar(512);column:title" json:"title"`
	Summary   string `gorm:"type:text;column:summary" json:"summary"`
	Content   string `gorm:"type:text;column:content" json:"content"`
	Language  string `gorm:"type:varchar(8);column:language" json:"language"`
}

func (ArticleChunk) TableName() string {
	return "article_chunks"
}
