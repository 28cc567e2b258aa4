package model

// EsChunk 定义了存储在 Elasticsearch 向量索引中的分块文档结构。
// 归属字段用指针：索引文档缺失 article_id/chunk_idx 时解码为 nil，
// 而不是被零值冒充成合法归属。
type EsChunk struct {
	ChunkID      string    `json:"chunk_id"` // 唯一标识，例如 articleID_chunkIdx
	ArticleID    *int64    `json:"article_id"`
	ChunkIdx     *int      `json:"chunk_idx"`
	Title        string    `json:"title"`
	Summary      string    `json:"summary,omitempty"`
	Content      string    `json:"content"`
	Vector       []float32 `json:"vector,omitempty"` // 分块正文的向量表示
	Language     string    `json:"language,omitempty"`
	ModelVersion string    `json:"model_version,omitempty"`
}
