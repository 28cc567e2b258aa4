package model

import (
	"encoding/json"
	"testing"
)

func TestEsChunkDecodeMissingAttribution(t *testing.T) {
	// 旧索引或手工写入的文档可能缺失归属字段，
	// 解码结果必须是 nil 而不是零值，上游才能识别并跳过
	doc := []byte(`{"chunk_id":"orphan","title":"T","content":"body"}`)
	var c EsChunk
	if err := json.Unmarshal(doc, &c); err != nil {
		t.Fatalf("unmarshal returned error: %v", err)
	}
	if c.ArticleID != nil {
		t.Errorf("ArticleID = %v, want nil for missing field", *c.ArticleID)
	}
	if c.ChunkIdx != nil {
		t.Errorf("ChunkIdx = %v, want nil for missing field", *c.ChunkIdx)
	}
}

func TestEsChunkDecodeFullDocument(t *testing.T) {
	doc := []byte(`{"chunk_id":"3_1","article_id":3,"chunk_idx":1,"title":"T","content":"body","language":"en"}`)
	var c EsChunk
	if err := json.Unmarshal(doc, &c); err != nil {
		t.Fatalf("unmarshal returned error: %v", err)
	}
	if c.ArticleID == nil || *c.ArticleID != 3 {
		t.Errorf("ArticleID = %v, want 3", c.ArticleID)
	}
	if c.ChunkIdx == nil || *c.ChunkIdx != 1 {
		t.Errorf("ChunkIdx = %v, want 1", c.ChunkIdx)
	}
}
