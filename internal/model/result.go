package model

// ChunkDetail 是窗口内单个分块的明细。
type ChunkDetail struct {
	ChunkIdx  int    `json:"chunkIdx"`
	ChunkID   string `json:"chunkId"`
	Content   string `json:"content"`
	IsPrimary bool   `json:"isPrimary"`
}

// ExpandedResult 是围绕一个命中分块展开的文章上下文窗口。
// ChunkDetails 按 chunkIdx 升序排列且不含重复；至多一条 IsPrimary 为 true。
type ExpandedResult struct {
	ArticleID       *int64        `json:"articleId"`
	PrimaryChunkIdx int           `json:"primaryChunkIdx"`
	Title           string        `json:"title"`
	Summary         string        `json:"summary,omitempty"`
	Score           *float64      `json:"score"`
	CombinedContent string        `json:"combinedContent"`
	ChunkDetails    []ChunkDetail `json:"chunkDetails"`
	TotalChunks     int           `json:"totalChunks"`
}

// SourceInfo 是 ExpandedResult 面向展示层的投影，不携带正文内容。
// 脱敏投影时 ArticleID 为 nil。
type SourceInfo struct {
	SourceIndex  int      `json:"sourceIndex"`
	ArticleID    *int64   `json:"articleId,omitempty"`
	Title        string   `json:"title"`
	Summary      string   `json:"summary,omitempty"`
	Score        *float64 `json:"score"`
	ChunkIndices []int    `json:"chunkIndices"`
}

// CompleteResponse 是一次完整 RAG 问答的返回结构。
type CompleteResponse struct {
	Query   string       `json:"query"`
	Answer  string       `json:"answer"`
	Sources []SourceInfo `json:"sources"`
}
