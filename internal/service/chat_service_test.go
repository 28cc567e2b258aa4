package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/Pasterwitz/Quorial-SoftwareDev/internal/model"
	"github.com/Pasterwitz/Quorial-SoftwareDev/internal/repository"
	"github.com/Pasterwitz/Quorial-SoftwareDev/pkg/llm"
	"github.com/gorilla/websocket"
)

func TestDeriveSessionTitle(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    string
	}{
		{"empty message", "", "New Chat"},
		{"whitespace only", "   \n\t ", "New Chat"},
		{"short message", "What happened in Bulgaria?", "What happened in Bulgaria?"},
		{
			"truncates to eight words",
			"one two three four five six seven eight nine ten",
			"one two three four five six seven eight...",
		},
		{
			"caps at sixty characters",
			"supercalifragilisticexpialidocious antidisestablishmentarianism floccinaucinihilipilification words",
			"supercalifragilisticexpialidocious antidisestablishmentar...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := deriveSessionTitle(tt.message); got != tt.want {
				t.Errorf("deriveSessionTitle(%q) = %q, want %q", tt.message, got, tt.want)
			}
		})
	}
}

func TestDeriveSessionTitleNeverExceedsSixtyRunes(t *testing.T) {
	long := strings.Repeat("дума ", 20)
	got := deriveSessionTitle(long)
	if n := len([]rune(got)); n > 60 {
		t.Errorf("title length = %d runes, must not exceed 60: %q", n, got)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("truncated title must end with ellipsis, got %q", got)
	}
}

// fakeRAGService 返回预设的问答结果与准备产物。
type fakeRAGService struct {
	resp    *model.CompleteResponse
	prep    *Preparation
	err     error
	lastReq CompleteRequest
}

func (f *fakeRAGService) Complete(ctx context.Context, req CompleteRequest) (*model.CompleteResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeRAGService) Prepare(ctx context.Context, req CompleteRequest) (*Preparation, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.prep, nil
}

// fakeSessionRepo 用内存 map 模拟 Redis 会话存储。
type fakeSessionRepo struct {
	sessions map[string]*model.ChatSession
	messages map[string][]model.ChatMessage
	nextID   int
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{
		sessions: make(map[string]*model.ChatSession),
		messages: make(map[string][]model.ChatMessage),
	}
}

func (f *fakeSessionRepo) CreateSession(ctx context.Context, userID uint, title string) (*model.ChatSession, error) {
	f.nextID++
	s := &model.ChatSession{
		ID:     strings.Repeat("s", f.nextID),
		UserID: userID,
		Title:  title,
	}
	f.sessions[s.ID] = s
	return s, nil
}

func (f *fakeSessionRepo) ListSessions(ctx context.Context, userID uint) ([]model.ChatSession, error) {
	var out []model.ChatSession
	for _, s := range f.sessions {
		out = append(out, *s)
	}
	return out, nil
}

func (f *fakeSessionRepo) GetSession(ctx context.Context, userID uint, sessionID string) (*model.ChatSession, error) {
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	return s, nil
}

func (f *fakeSessionRepo) DeleteSession(ctx context.Context, userID uint, sessionID string) error {
	delete(f.sessions, sessionID)
	delete(f.messages, sessionID)
	return nil
}

func (f *fakeSessionRepo) GetMessages(ctx context.Context, userID uint, sessionID string) ([]model.ChatMessage, error) {
	return f.messages[sessionID], nil
}

func (f *fakeSessionRepo) AppendMessages(ctx context.Context, userID uint, sessionID string, messages []model.ChatMessage) error {
	f.messages[sessionID] = append(f.messages[sessionID], messages...)
	return nil
}

func TestAskCreatesSessionAndPersistsExchange(t *testing.T) {
	rag := &fakeRAGService{resp: &model.CompleteResponse{
		Query:   "q",
		Answer:  "the answer",
		Sources: []model.SourceInfo{{SourceIndex: 1, Title: "T"}},
	}}
	repo := newFakeSessionRepo()
	svc := NewChatService(rag, &fakeLLMClient{}, repo)
	user := &model.User{ID: 5, Username: "alice"}

	result, err := svc.Ask(context.Background(), user, "", "What happened in Bulgaria?")
	if err != nil {
		t.Fatalf("Ask returned error: %v", err)
	}
	if result.SessionID == "" {
		t.Fatal("Ask with empty sessionID must create a session")
	}
	if result.Title != "What happened in Bulgaria?" {
		t.Errorf("Title = %q, want derived from message", result.Title)
	}
	if result.Answer != "the answer" {
		t.Errorf("Answer = %q", result.Answer)
	}
	if !rag.lastReq.RedactArticleIDs {
		t.Error("chat path must request redacted source projection")
	}

	msgs := repo.messages[result.SessionID]
	if len(msgs) != 2 {
		t.Fatalf("persisted messages = %d, want 2", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Errorf("roles = [%s %s], want [user assistant]", msgs[0].Role, msgs[1].Role)
	}
	if len(msgs[1].Sources) != 1 {
		t.Errorf("assistant message must carry sources, got %d", len(msgs[1].Sources))
	}
}

func TestAskUnknownSessionReturnsNotFound(t *testing.T) {
	rag := &fakeRAGService{resp: &model.CompleteResponse{}}
	svc := NewChatService(rag, &fakeLLMClient{}, newFakeSessionRepo())
	user := &model.User{ID: 5}

	_, err := svc.Ask(context.Background(), user, "missing", "hello")
	if err != repository.ErrSessionNotFound {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

// captureWriter 记录写入的消息体。
type captureWriter struct {
	payloads []string
}

func (c *captureWriter) WriteMessage(messageType int, data []byte) error {
	c.payloads = append(c.payloads, string(data))
	return nil
}

func TestWriteAnswerChunksSplitsByLine(t *testing.T) {
	w := &captureWriter{}
	if err := writeAnswerChunks(w, "line one\nline two\nlast"); err != nil {
		t.Fatalf("writeAnswerChunks returned error: %v", err)
	}
	want := []string{"line one\n", "line two\n", "last"}
	if len(w.payloads) != len(want) {
		t.Fatalf("chunks = %d, want %d", len(w.payloads), len(want))
	}
	for i := range want {
		if w.payloads[i] != want[i] {
			t.Errorf("chunk[%d] = %q, want %q", i, w.payloads[i], want[i])
		}
	}
}

func TestStreamResponseStreamsLLMDeltas(t *testing.T) {
	rag := &fakeRAGService{prep: &Preparation{
		Messages: []llm.Message{{Role: "user", Content: "prompt"}},
		Sources:  []model.SourceInfo{{SourceIndex: 1, Title: "T"}},
	}}
	llmFake := &fakeLLMClient{streamFn: func(w llm.MessageWriter) error {
		for _, delta := range []string{"Bul", "garia ", "adopted the euro."} {
			if err := w.WriteMessage(websocket.TextMessage, []byte(delta)); err != nil {
				return err
			}
		}
		return nil
	}}
	repo := newFakeSessionRepo()
	svc := NewChatService(rag, llmFake, repo)
	ws := &captureWriter{}

	err := svc.StreamResponse(context.Background(), "What about the euro?", &model.User{ID: 7}, ws, func() bool { return false })
	if err != nil {
		t.Fatalf("StreamResponse returned error: %v", err)
	}
	if !llmFake.streamCalled {
		t.Fatal("streaming path must call StreamChatMessages")
	}
	// 每个增量包装为 {"chunk":...} 后原样下发，最后一条是完成通知
	if len(ws.payloads) != 4 {
		t.Fatalf("payloads = %d, want 3 chunks plus completion", len(ws.payloads))
	}
	if ws.payloads[0] != `{"chunk":"Bul"}` {
		t.Errorf("payload[0] = %s", ws.payloads[0])
	}
	final := ws.payloads[len(ws.payloads)-1]
	if !strings.Contains(final, `"type":"completion"`) || !strings.Contains(final, `"sources"`) {
		t.Errorf("final payload must be a completion notification with sources, got %s", final)
	}

	// 完整答案由各增量拼接落库
	var saved []model.ChatMessage
	for _, msgs := range repo.messages {
		saved = msgs
	}
	if len(saved) != 2 {
		t.Fatalf("persisted messages = %d, want 2", len(saved))
	}
	if saved[1].Content != "Bulgaria adopted the euro." {
		t.Errorf("assistant content = %q", saved[1].Content)
	}
	if !rag.lastReq.RedactArticleIDs {
		t.Error("streaming path must request redacted source projection")
	}
}

func TestStreamResponseStopHaltsForwarding(t *testing.T) {
	stopped := false
	rag := &fakeRAGService{prep: &Preparation{
		Messages: []llm.Message{{Role: "user", Content: "prompt"}},
		Sources:  []model.SourceInfo{},
	}}
	llmFake := &fakeLLMClient{streamFn: func(w llm.MessageWriter) error {
		_ = w.WriteMessage(websocket.TextMessage, []byte("first"))
		stopped = true
		_ = w.WriteMessage(websocket.TextMessage, []byte("second"))
		_ = w.WriteMessage(websocket.TextMessage, []byte("third"))
		return nil
	}}
	repo := newFakeSessionRepo()
	svc := NewChatService(rag, llmFake, repo)
	ws := &captureWriter{}

	err := svc.StreamResponse(context.Background(), "q", &model.User{ID: 7}, ws, func() bool { return stopped })
	if err != nil {
		t.Fatalf("StreamResponse returned error: %v", err)
	}
	// 停止后的增量不再下发，只剩首个分块和完成通知
	if len(ws.payloads) != 2 {
		t.Fatalf("payloads = %d, want first chunk plus completion", len(ws.payloads))
	}
	if ws.payloads[0] != `{"chunk":"first"}` {
		t.Errorf("payload[0] = %s", ws.payloads[0])
	}
	var saved []model.ChatMessage
	for _, msgs := range repo.messages {
		saved = msgs
	}
	if len(saved) != 2 || saved[1].Content != "first" {
		t.Errorf("saved assistant content must only contain forwarded deltas, got %v", saved)
	}
}

func TestStreamResponseNoResultsSkipsLLM(t *testing.T) {
	rag := &fakeRAGService{prep: &Preparation{Sources: []model.SourceInfo{}, NoResults: true}}
	llmFake := &fakeLLMClient{}
	svc := NewChatService(rag, llmFake, newFakeSessionRepo())
	ws := &captureWriter{}

	err := svc.StreamResponse(context.Background(), "unanswerable", &model.User{ID: 7}, ws, func() bool { return false })
	if err != nil {
		t.Fatalf("StreamResponse returned error: %v", err)
	}
	if llmFake.streamCalled {
		t.Error("LLM must not be called when retrieval returns nothing")
	}
	if len(ws.payloads) != 2 {
		t.Fatalf("payloads = %d, want fixed answer chunk plus completion", len(ws.payloads))
	}
	var chunk struct {
		Chunk string `json:"chunk"`
	}
	if err := json.Unmarshal([]byte(ws.payloads[0]), &chunk); err != nil {
		t.Fatalf("payload[0] is not a chunk envelope: %v", err)
	}
	if chunk.Chunk != noResultsAnswer {
		t.Errorf("chunk = %q, want fixed no-results answer", chunk.Chunk)
	}
}

func TestAskTimestampsAreSet(t *testing.T) {
	rag := &fakeRAGService{resp: &model.CompleteResponse{Answer: "a"}}
	repo := newFakeSessionRepo()
	svc := NewChatService(rag, &fakeLLMClient{}, repo)

	before := time.Now().Add(-time.Second)
	result, err := svc.Ask(context.Background(), &model.User{ID: 1}, "", "hi")
	if err != nil {
		t.Fatalf("Ask returned error: %v", err)
	}
	for _, m := range repo.messages[result.SessionID] {
		if m.Timestamp.Before(before) {
			t.Errorf("message timestamp %v not set", m.Timestamp)
		}
	}
}
