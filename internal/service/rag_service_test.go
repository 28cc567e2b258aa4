package service

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/Pasterwitz/Quorial-SoftwareDev/internal/config"
	"github.com/Pasterwitz/Quorial-SoftwareDev/internal/model"
	"github.com/Pasterwitz/Quorial-SoftwareDev/pkg/llm"
)

// fakeRetrievalService 返回预设的展开结果并记录实际传入的参数。
type fakeRetrievalService struct {
	results         []*model.ExpandedResult
	err             error
	lastTopK        int
	lastContextSize int
}

func (f *fakeRetrievalService) Retrieve(ctx context.Context, query string, topK, contextSize int, filter *model.SearchFilter) ([]*model.ExpandedResult, error) {
	f.lastTopK = topK
	f.lastContextSize = contextSize
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

// fakeLLMClient 记录调用并返回预设的回答或错误。
// streamFn 非空时 StreamChatMessages 交由其驱动 writer。
type fakeLLMClient struct {
	answer       string
	err          error
	called       bool
	lastPrompt   string
	streamCalled bool
	streamFn     func(writer llm.MessageWriter) error
}

func (f *fakeLLMClient) ChatCompletion(ctx context.Context, provider, model string, messages []llm.Message, gen *llm.GenerationParams) (string, error) {
	f.called = true
	if len(messages) > 0 {
		f.lastPrompt = messages[len(messages)-1].Content
	}
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func (f *fakeLLMClient) StreamChatMessages(ctx context.Context, provider, model string, messages []llm.Message, gen *llm.GenerationParams, writer llm.MessageWriter) error {
	f.streamCalled = true
	if len(messages) > 0 {
		f.lastPrompt = messages[len(messages)-1].Content
	}
	if f.streamFn != nil {
		return f.streamFn(writer)
	}
	return f.err
}

func testDefaults() config.RetrievalConfig {
	return config.RetrievalConfig{TopK: 10, ContextSize: 2, MaxArticles: 2, PageSize: 500}
}

func fullResult(articleID int64, title, summary, content string, score float64, chunkIdx int) *model.ExpandedResult {
	return &model.ExpandedResult{
		ArticleID:       int64Ptr(articleID),
		PrimaryChunkIdx: chunkIdx,
		Title:           title,
		Summary:         summary,
		Score:           floatPtr(score),
		CombinedContent: content,
		ChunkDetails: []model.ChunkDetail{
			{ChunkIdx: chunkIdx, ChunkID: "c", Content: content, IsPrimary: true},
		},
		TotalChunks: 1,
	}
}

func TestCompleteAppliesDefaultsWhenUnset(t *testing.T) {
	retrieval := &fakeRetrievalService{}
	svc := NewRAGService(retrieval, &fakeLLMClient{answer: "ok"}, testDefaults())

	if _, err := svc.Complete(context.Background(), CompleteRequest{Query: "q"}); err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if retrieval.lastTopK != 10 {
		t.Errorf("topK = %d, want configured default 10", retrieval.lastTopK)
	}
	// contextSize 缺省时必须回落到配置的默认值，否则聊天路径永远拿不到扩展窗口
	if retrieval.lastContextSize != 2 {
		t.Errorf("contextSize = %d, want configured default 2", retrieval.lastContextSize)
	}
}

func TestCompleteExplicitZeroContextSize(t *testing.T) {
	retrieval := &fakeRetrievalService{}
	svc := NewRAGService(retrieval, &fakeLLMClient{answer: "ok"}, testDefaults())

	req := CompleteRequest{Query: "q", ContextSize: intPtr(0)}
	if _, err := svc.Complete(context.Background(), req); err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if retrieval.lastContextSize != 0 {
		t.Errorf("contextSize = %d, want explicit 0 (no window expansion)", retrieval.lastContextSize)
	}
}

func TestCompleteNoResultsSkipsLLM(t *testing.T) {
	llmFake := &fakeLLMClient{answer: "should not be used"}
	svc := NewRAGService(&fakeRetrievalService{}, llmFake, testDefaults())

	resp, err := svc.Complete(context.Background(), CompleteRequest{Query: "unanswerable"})
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if llmFake.called {
		t.Error("LLM must not be called when retrieval returns nothing")
	}
	if resp.Answer != noResultsAnswer {
		t.Errorf("Answer = %q, want fixed no-results answer", resp.Answer)
	}
	if resp.Sources == nil || len(resp.Sources) != 0 {
		t.Errorf("Sources = %v, want empty non-nil slice", resp.Sources)
	}
}

func TestCompleteDegradesOnLLMError(t *testing.T) {
	retrieval := &fakeRetrievalService{results: []*model.ExpandedResult{
		fullResult(1, "Title", "", "content", 0.9, 0),
	}}
	llmFake := &fakeLLMClient{err: context.DeadlineExceeded}
	svc := NewRAGService(retrieval, llmFake, testDefaults())

	resp, err := svc.Complete(context.Background(), CompleteRequest{Query: "q"})
	if err != nil {
		t.Fatalf("LLM errors must not propagate, got: %v", err)
	}
	if resp.Answer != llmErrorAnswer {
		t.Errorf("Answer = %q, want fixed error answer", resp.Answer)
	}
	if len(resp.Sources) != 1 {
		t.Errorf("Sources must still be returned on LLM failure, got %d", len(resp.Sources))
	}
}

func TestCompleteDegradesOnEmptyCompletion(t *testing.T) {
	retrieval := &fakeRetrievalService{results: []*model.ExpandedResult{
		fullResult(1, "Title", "", "content", 0.9, 0),
	}}
	// 客户端会把哨兵错误包一层上下文，必须仍被识别为空补全
	llmFake := &fakeLLMClient{err: fmt.Errorf("provider openai: %w", llm.ErrEmptyCompletion)}
	svc := NewRAGService(retrieval, llmFake, testDefaults())

	resp, err := svc.Complete(context.Background(), CompleteRequest{Query: "q"})
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if resp.Answer != emptyLLMAnswer {
		t.Errorf("Answer = %q, want fixed empty-completion answer", resp.Answer)
	}
}

func TestCompleteDedupesAndLimitsSources(t *testing.T) {
	retrieval := &fakeRetrievalService{results: []*model.ExpandedResult{
		fullResult(1, "A", "", "a low", 0.75, 0),
		fullResult(2, "B", "", "b", 0.80, 0),
		fullResult(1, "A", "", "a high", 0.91, 3),
		fullResult(3, "C", "", "c", 0.60, 0),
	}}
	llmFake := &fakeLLMClient{answer: "ok"}
	svc := NewRAGService(retrieval, llmFake, testDefaults())

	resp, err := svc.Complete(context.Background(), CompleteRequest{Query: "q", MaxArticles: 2})
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if len(resp.Sources) != 2 {
		t.Fatalf("Sources = %d, want 2 after dedup and limit", len(resp.Sources))
	}
	if *resp.Sources[0].ArticleID != 1 || *resp.Sources[0].Score != 0.91 {
		t.Errorf("Sources[0] = article %d score %v, want best hit of article 1", *resp.Sources[0].ArticleID, *resp.Sources[0].Score)
	}
	if resp.Sources[0].SourceIndex != 1 || resp.Sources[1].SourceIndex != 2 {
		t.Errorf("SourceIndex must be 1-based sequential, got %d and %d", resp.Sources[0].SourceIndex, resp.Sources[1].SourceIndex)
	}
}

func TestCompleteRedactsArticleIDs(t *testing.T) {
	retrieval := &fakeRetrievalService{results: []*model.ExpandedResult{
		fullResult(9, "Title", "", "content", 0.5, 0),
	}}
	svc := NewRAGService(retrieval, &fakeLLMClient{answer: "ok"}, testDefaults())

	resp, err := svc.Complete(context.Background(), CompleteRequest{Query: "q", RedactArticleIDs: true})
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if resp.Sources[0].ArticleID != nil {
		t.Errorf("ArticleID = %v, want nil when redacted", resp.Sources[0].ArticleID)
	}
}

func TestCompletePromptContainsQueryAndContext(t *testing.T) {
	retrieval := &fakeRetrievalService{results: []*model.ExpandedResult{
		fullResult(1, "Euro adoption", "Summary line", "Body of article one.", 0.9, 2),
	}}
	llmFake := &fakeLLMClient{answer: "ok"}
	svc := NewRAGService(retrieval, llmFake, testDefaults())

	if _, err := svc.Complete(context.Background(), CompleteRequest{Query: "when did it happen?"}); err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	prompt := llmFake.lastPrompt
	if !strings.Contains(prompt, "Question:\nwhen did it happen?") {
		t.Errorf("prompt missing question block: %q", prompt)
	}
	if !strings.Contains(prompt, "[Source 1] Euro adoption (article_id=1)") {
		t.Errorf("prompt missing source header: %q", prompt)
	}
	if !strings.Contains(prompt, "Summary: Summary line") {
		t.Errorf("prompt missing summary line: %q", prompt)
	}
}

func TestBuildContextFormat(t *testing.T) {
	results := []*model.ExpandedResult{
		fullResult(1, "First", "S1", "body one", 0.9, 0),
		fullResult(2, "", "", "  body two  ", 0.8, 0),
	}

	got := buildContext(results)
	blocks := strings.Split(got, "\n\n---\n\n")
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks separated by divider, got %d", len(blocks))
	}
	if !strings.HasPrefix(blocks[0], "[Source 1] First (article_id=1)\nSummary: S1\n\nbody one") {
		t.Errorf("block 0 = %q", blocks[0])
	}
	// 标题缺失回落到 Unknown title，正文去除首尾空白
	if blocks[1] != "[Source 2] Unknown title (article_id=2)\n\nbody two" {
		t.Errorf("block 1 = %q", blocks[1])
	}
}

func TestBuildContextMissingArticleID(t *testing.T) {
	results := []*model.ExpandedResult{
		{Title: "T", CombinedContent: "body"},
	}
	got := buildContext(results)
	if !strings.Contains(got, "(article_id=N/A)") {
		t.Errorf("missing article id must render as N/A, got %q", got)
	}
}
