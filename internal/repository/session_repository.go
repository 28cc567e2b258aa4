package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Pasterwitz/Quorial-SoftwareDev/internal/model"
	"github.com/go-redis/redis/v8"
)

// ErrSessionNotFound 表示请求的会话不存在或不属于该用户。
var ErrSessionNotFound = errors.New("chat session not found")

// 会话与消息的保留时长。
const sessionTTL = 7 * 24 * time.Hour

// 每个会话保留的最近消息条数。
const maxSessionMessages = 40

// SessionRepository 定义了聊天会话的操作接口。
// 会话元数据存为 user:{uid}:sessions 哈希，消息存为独立的 JSON 列表键。
type SessionRepository interface {
	CreateSession(ctx context.Context, userID uint, title string) (*model.ChatSession, error)
	ListSessions(ctx context.Context, userID uint) ([]model.ChatSession, error)
	GetSession(ctx context.Context, userID uint, sessionID string) (*model.ChatSession, error)
	DeleteSession(ctx context.Context, userID uint, sessionID string) error
	GetMessages(ctx context.Context, userID uint, sessionID string) ([]model.ChatMessage, error)
	AppendMessages(ctx context.Context, userID uint, sessionID string, messages []model.ChatMessage) error
}

type redisSessionRepository struct {
	redisClient *redis.Client
}

// NewSessionRepository 创建一个新的 SessionRepository 实例。
func NewSessionRepository(redisClient *redis.Client) SessionRepository {
	return &redisSessionRepository{redisClient: redisClient}
}

func sessionsKey(userID uint) string {
	return fmt.Sprintf("user:%d:sessions", userID)
}

func messagesKey(sessionID string) string {
	return fmt.Sprintf("session:%s:messages", sessionID)
}

// CreateSession 创建一个新会话并写入用户的会话哈希。
func (r *redisSessionRepository) CreateSession(ctx context.Context, userID uint, title string) (*model.ChatSession, error) {
	now := time.Now()
	session := &model.ChatSession{
		// 纳秒时间戳 + 用户 ID 作为会话标识
		ID:        fmt.Sprintf("%d-%d", now.UnixNano(), userID),
		UserID:    userID,
		Title:     title,
		CreatedAt: model.LocalTime(now),
		UpdatedAt: model.LocalTime(now),
	}
	if err := r.writeSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (r *redisSessionRepository) writeSession(ctx context.Context, session *model.ChatSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	key := sessionsKey(session.UserID)
	if err := r.redisClient.HSet(ctx, key, session.ID, data).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return r.redisClient.Expire(ctx, key, sessionTTL).Err()
}

// ListSessions 返回用户的所有会话，按更新时间倒序。
func (r *redisSessionRepository) ListSessions(ctx context.Context, userID uint) ([]model.ChatSession, error) {
	values, err := r.redisClient.HGetAll(ctx, sessionsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	sessions := make([]model.ChatSession, 0, len(values))
	for _, raw := range values {
		var s model.ChatSession
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			continue // 跳过损坏的条目
		}
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return time.Time(sessions[i].UpdatedAt).After(time.Time(sessions[j].UpdatedAt))
	})
	return sessions, nil
}

// GetSession 获取用户的单个会话。
func (r *redisSessionRepository) GetSession(ctx context.Context, userID uint, sessionID string) (*model.ChatSession, error) {
	raw, err := r.redisClient.HGet(ctx, sessionsKey(userID), sessionID).Result()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	var s model.ChatSession
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &s, nil
}

// DeleteSession 删除会话及其全部消息。
func (r *redisSessionRepository) DeleteSession(ctx context.Context, userID uint, sessionID string) error {
	removed, err := r.redisClient.HDel(ctx, sessionsKey(userID), sessionID).Result()
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if removed == 0 {
		return ErrSessionNotFound
	}
	return r.redisClient.Del(ctx, messagesKey(sessionID)).Err()
}

// GetMessages 返回会话的消息历史，尚无消息时返回空切片。
func (r *redisSessionRepository) GetMessages(ctx context.Context, userID uint, sessionID string) ([]model.ChatMessage, error) {
	if _, err := r.GetSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	jsonData, err := r.redisClient.Get(ctx, messagesKey(sessionID)).Result()
	if err == redis.Nil {
		return []model.ChatMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session messages: %w", err)
	}
	var messages []model.ChatMessage
	if err := json.Unmarshal([]byte(jsonData), &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session messages: %w", err)
	}
	return messages, nil
}

// AppendMessages 追加消息并刷新会话的更新时间。
func (r *redisSessionRepository) AppendMessages(ctx context.Context, userID uint, sessionID string, messages []model.ChatMessage) error {
	session, err := r.GetSession(ctx, userID, sessionID)
	if err != nil {
		return err
	}

	history, err := r.GetMessages(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	history = append(history, messages...)
	// 保留最近 maxSessionMessages 条
	if len(history) > maxSessionMessages {
		history = history[len(history)-maxSessionMessages:]
	}

	jsonData, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to marshal session messages: %w", err)
	}
	if err := r.redisClient.Set(ctx, messagesKey(sessionID), jsonData, sessionTTL).Err(); err != nil {
		return fmt.Errorf("failed to set session messages: %w", err)
	}

	session.UpdatedAt = model.LocalTime(time.Now())
	return r.writeSession(ctx, session)
}
