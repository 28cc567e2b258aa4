// Package service 包含了聊天会话层的业务逻辑。
package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/Pasterwitz/Quorial-SoftwareDev/internal/model"
	"github.com/Pasterwitz/Quorial-SoftwareDev/internal/repository"
	"github.com/Pasterwitz/Quorial-SoftwareDev/pkg/llm"
	"github.com/Pasterwitz/Quorial-SoftwareDev/pkg/log"
	"github.com/gorilla/websocket"
)

// AskResult 是一次会话问答的返回。
type AskResult struct {
	SessionID string             `json:"sessionId"`
	Title     string             `json:"title"`
	Answer    string             `json:"answer"`
	Sources   []model.SourceInfo `json:"sources"`
}

// ChatService 定义了聊天会话层的操作接口。
type ChatService interface {
	Ask(ctx context.Context, user *model.User, sessionID, message string) (*AskResult, error)
	ListSessions(ctx context.Context, user *model.User) ([]model.ChatSession, error)
	GetSessionMessages(ctx context.Context, user *model.User, sessionID string) ([]model.ChatMessage, error)
	DeleteSession(ctx context.Context, user *model.User, sessionID string) error
	StreamResponse(ctx context.Context, query string, user *model.User, ws llm.MessageWriter, shouldStop func() bool) error
}

type chatService struct {
	ragService  RAGService
	llmClient   llm.Client
	sessionRepo repository.SessionRepository
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(ragService RAGService, llmClient llm.Client, sessionRepo repository.SessionRepository) ChatService {
	return &chatService{
		ragService:  ragService,
		llmClient:   llmClient,
		sessionRepo: sessionRepo,
	}
}

// Ask 在指定会话中执行一次 RAG 问答并持久化问答记录。
// sessionID 为空时新建会话，标题由第一条用户消息派生。
// 聊天界面使用脱敏的来源投影，不暴露内部文章标识。
func (s *chatService) Ask(ctx context.Context, user *model.User, sessionID, message string) (*AskResult, error) {
	var session *model.ChatSession
	var err error
	if sessionID == "" {
		session, err = s.sessionRepo.CreateSession(ctx, user.ID, deriveSessionTitle(message))
	} else {
		session, err = s.sessionRepo.GetSession(ctx, user.ID, sessionID)
	}
	if err != nil {
		return nil, err
	}

	result, err := s.ragService.Complete(ctx, CompleteRequest{
		Query:            message,
		RedactArticleIDs: true,
	})
	if err != nil {
		return nil, err
	}

	// 使用后台上下文保存：即使原始请求被取消，成功生成的回答也应落库
	now := time.Now()
	saveErr := s.sessionRepo.AppendMessages(context.Background(), user.ID, session.ID, []model.ChatMessage{
		{Role: "user", Content: message, Timestamp: now},
		{Role: "assistant", Content: result.Answer, Sources: result.Sources, Timestamp: now},
	})
	if saveErr != nil {
		// 只记录错误，不影响已经生成的回答
		log.Errorf("[ChatService] 保存会话消息失败, session: %s, error: %v", session.ID, saveErr)
	}

	return &AskResult{
		SessionID: session.ID,
		Title:     session.Title,
		Answer:    result.Answer,
		Sources:   result.Sources,
	}, nil
}

// ListSessions 返回当前用户的会话列表。
func (s *chatService) ListSessions(ctx context.Context, user *model.User) ([]model.ChatSession, error) {
	return s.sessionRepo.ListSessions(ctx, user.ID)
}

// GetSessionMessages 返回指定会话的消息历史。
func (s *chatService) GetSessionMessages(ctx context.Context, user *model.User, sessionID string) ([]model.ChatMessage, error) {
	return s.sessionRepo.GetMessages(ctx, user.ID, sessionID)
}

// DeleteSession 删除指定会话。
func (s *chatService) DeleteSession(ctx context.Context, user *model.User, sessionID string) error {
	return s.sessionRepo.DeleteSession(ctx, user.ID, sessionID)
}

// StreamResponse 协调 RAG 流程并通过 websocket 流式传输 LLM 响应。
func (s *chatService) StreamResponse(ctx context.Context, query string, user *model.User, ws llm.MessageWriter, shouldStop func() bool) error {
	// 复用 Prepare 的管线获得去重后的上下文；流式路径自行调用 LLM
	prep, err := s.ragService.Prepare(ctx, CompleteRequest{
		Query:            query,
		RedactArticleIDs: true,
	})
	if err != nil {
		return err
	}

	// 拦截 websocket writer 以捕获完整答案，并包装为 JSON 分块
	answerBuilder := &strings.Builder{}
	interceptor := &wsWriterInterceptor{conn: ws, writer: answerBuilder, shouldStop: shouldStop}

	if prep.NoResults {
		// 无结果不调用 LLM，直接下发固定文案
		if err := writeAnswerChunks(interceptor, noResultsAnswer); err != nil {
			return err
		}
	} else {
		// LLM 的每个增量经拦截器包装后直接下发
		if err := s.llmClient.StreamChatMessages(ctx, "", "", prep.Messages, nil, interceptor); err != nil {
			return err
		}
		if answerBuilder.Len() == 0 {
			if err := writeAnswerChunks(interceptor, emptyLLMAnswer); err != nil {
				return err
			}
		}
	}
	sendCompletion(ws, prep.Sources)

	// 保存到新会话
	session, err := s.sessionRepo.CreateSession(context.Background(), user.ID, deriveSessionTitle(query))
	if err != nil {
		log.Errorf("[ChatService] 创建流式会话失败: %v", err)
		return nil
	}
	now := time.Now()
	if err := s.sessionRepo.AppendMessages(context.Background(), user.ID, session.ID, []model.ChatMessage{
		{Role: "user", Content: query, Timestamp: now},
		{Role: "assistant", Content: answerBuilder.String(), Sources: prep.Sources, Timestamp: now},
	}); err != nil {
		log.Errorf("[ChatService] 保存流式会话消息失败: %v", err)
	}
	return nil
}

// writeAnswerChunks 把固定文案按行下发，使降级路径与流式路径的消息形态一致。
func writeAnswerChunks(w llm.MessageWriter, answer string) error {
	for _, line := range strings.SplitAfter(answer, "\n") {
		if line == "" {
			continue
		}
		if err := w.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			return err
		}
	}
	return nil
}

// deriveSessionTitle 根据会话的第一条用户消息生成简洁的标题。
// 取前 8 个词；超过 60 字符时截到 57 并加省略号，保证侧边栏整洁。
func deriveSessionTitle(message string) string {
	words := strings.Fields(message)
	if len(words) == 0 {
		return "New Chat"
	}

	take := words
	if len(take) > 8 {
		take = take[:8]
	}
	snippet := strings.Join(take, " ")

	if runes := []rune(snippet); len(runes) > 60 {
		snippet = strings.TrimRight(string(runes[:57]), " ") + "..."
	} else if len(words) > 8 {
		snippet += "..."
	}
	return snippet
}

// wsWriterInterceptor 封装下游 writer，捕获写入的消息以便落库。
type wsWriterInterceptor struct {
	conn       llm.MessageWriter
	writer     *strings.Builder
	shouldStop func() bool
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (w *wsWriterInterceptor) WriteMessage(messageType int, data []byte) error {
	if w.shouldStop != nil && w.shouldStop() {
		// 停止标志生效：跳过下发
		return nil
	}
	w.writer.Write(data)
	// 将原始分块包装成 {"chunk":"..."}
	payload := map[string]string{"chunk": string(data)}
	b, _ := json.Marshal(payload)
	return w.conn.WriteMessage(messageType, b)
}

// sendCompletion 发送完成通知 JSON，附带本轮引用的来源。
func sendCompletion(ws llm.MessageWriter, sources []model.SourceInfo) {
	notif := map[string]interface{}{
		"type":      "completion",
		"status":    "finished",
		"sources":   sources,
		"timestamp": time.Now().UnixMilli(),
	}
	b, _ := json.Marshal(notif)
	_ = ws.WriteMessage(websocket.TextMessage, b)
}
