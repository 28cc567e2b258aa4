package model

import "time"

// ChatSession 代表某个用户的一个问答会话。
// 标题由会话中第一条用户消息派生，存储在 Redis 中。
type ChatSession struct {
	ID        string    `json:"id"`
	UserID    uint      `json:"userId"`
	Title     string    `json:"title"`
	CreatedAt LocalTime `json:"createdAt"`
	UpdatedAt LocalTime `json:"updatedAt"`
}

// ChatMessage 代表会话中的单条消息。
// 助手消息附带回答引用的来源投影。
type ChatMessage struct {
	Role      string       `json:"role"` // "user" 或 "assistant"
	Content   string       `json:"content"`
	Sources   []SourceInfo `json:"sources,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}
