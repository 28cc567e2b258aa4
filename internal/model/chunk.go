// Package model 定义了检索引擎与数据库表对应的 Go 结构体。
package model

// ChunkMetadata 是分块的定位元数据。
// 以显式可选字段建模，而不是松散的 map：ArticleID 与 ChunkIdx 缺失时为 nil，
// 表示该命中无法归属到文章内的具体位置。
type ChunkMetadata struct {
	ArticleID *int64 `json:"articleId"`
	ChunkIdx  *int   `json:"chunkIdx"`
	Title     string `json:"title"`
	Summary   string `json:"summary,omitempty"`
	Language  string `json:"language,omitempty"`
}

// Chunk 是索引中的最小文本单元，属于某篇文章的某个位置。
// 构建索引时一次性写入，检索路径上只读。
type Chunk struct {
	ID   string        `json:"id"`
	Text string        `json:"text"`
	Meta ChunkMetadata `json:"metadata"`
}

// RawHit 是一次相似度检索返回的原始命中：分块加上相似度分数。
// Score 取值 [0,1]，由 1 - 距离 得到；后端未返回距离时为 nil。
// RawHit 只在单次检索调用内存活。
type RawHit struct {
	Chunk
	Score *float64 `json:"score"`
}

// SearchFilter 限定相似度检索的元数据条件。
type SearchFilter struct {
	Language string `json:"language,omitempty"`
}
