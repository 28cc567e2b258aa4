// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Pasterwitz/Quorial-SoftwareDev/internal/model"
	"github.com/Pasterwitz/Quorial-SoftwareDev/internal/repository"
	"github.com/Pasterwitz/Quorial-SoftwareDev/internal/service"
	"github.com/Pasterwitz/Quorial-SoftwareDev/pkg/log"
	"github.com/Pasterwitz/Quorial-SoftwareDev/pkg/token"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责处理聊天会话和 WebSocket 流式问答。
type ChatHandler struct {
	chatService   service.ChatService
	userService   service.UserService
	jwtManager    *token.JWTManager
	stopToken     string
	stopTokenLock sync.Mutex
	// 每连接停止标志
	stopFlags sync.Map // key: conn pointer string, value: bool
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, userService service.UserService, jwtManager *token.JWTManager) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		userService: userService,
		jwtManager:  jwtManager,
	}
}

// currentUser 从 Gin 上下文中取出 AuthMiddleware 注入的用户。
func currentUser(c *gin.Context) (*model.User, bool) {
	v, exists := c.Get("user")
	if !exists {
		return nil, false
	}
	user, ok := v.(*model.User)
	return user, ok
}

// AskRequest 定义了会话内问答 API 的请求体结构。
type AskRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message" binding:"required"`
}

// Ask 在指定会话内执行一次问答，sessionId 为空时创建新会话。
func (h *ChatHandler) Ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("[ChatHandler] 问答请求负载无效: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载：message 不能为空"})
		return
	}

	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}

	result, err := h.chatService.Ask(c.Request.Context(), user, req.SessionID, req.Message)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "会话不存在"})
			return
		}
		if errors.Is(err, service.ErrInvalidQuery) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的查询参数"})
			return
		}
		log.Errorf("[ChatHandler] 问答失败, 用户: %s, error: %v", user.Username, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "问答失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": 200, "data": result, "message": "success"})
}

// ListSessions 返回当前用户的会话列表，按更新时间倒序。
func (h *ChatHandler) ListSessions(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}

	sessions, err := h.chatService.ListSessions(c.Request.Context(), user)
	if err != nil {
		log.Errorf("[ChatHandler] 获取会话列表失败, 用户: %s, error: %v", user.Username, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取会话列表失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": 200, "data": sessions, "message": "success"})
}

// GetSessionMessages 返回某个会话内的全部消息。
func (h *ChatHandler) GetSessionMessages(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}

	sessionID := c.Param("sessionId")
	messages, err := h.chatService.GetSessionMessages(c.Request.Context(), user, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "会话不存在"})
			return
		}
		log.Errorf("[ChatHandler] 获取会话消息失败, session: %s, error: %v", sessionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取会话消息失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": 200, "data": messages, "message": "success"})
}

// DeleteSession 删除当前用户的一个会话及其全部消息。
func (h *ChatHandler) DeleteSession(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}

	sessionID := c.Param("sessionId")
	if err := h.chatService.DeleteSession(c.Request.Context(), user, sessionID); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "会话不存在"})
			return
		}
		log.Errorf("[ChatHandler] 删除会话失败, session: %s, error: %v", sessionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "删除会话失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": 200, "message": "会话已删除"})
}

// GetWebsocketStopToken 返回一个可用于停止流式响应的令牌。
func (h *ChatHandler) GetWebsocketStopToken(c *gin.Context) {
	h.stopTokenLock.Lock()
	defer h.stopTokenLock.Unlock()
	// 多实例部署时该令牌应生成并存储在 Redis 中，这里使用单一轮换令牌
	h.stopToken = "WSS_STOP_CMD_" + token.GenerateRandomString(16)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"cmdToken": h.stopToken}})
}

// Handle 处理一个传入的 WebSocket 连接，每条文本消息触发一轮流式问答。
func (h *ChatHandler) Handle(c *gin.Context) {
	tokenString := c.Param("token")
	claims, err := h.jwtManager.VerifyToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}

	user, err := h.userService.GetProfile(claims.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取用户信息", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立，用户: %s", claims.Username)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}

		// JSON 停止指令: {"type":"stop","_internal_cmd_token":"..."}
		if h.handleStopCommand(conn, message) {
			continue
		}

		shouldStop := func() bool {
			v, ok := h.stopFlags.Load(connKey(conn))
			return ok && v.(bool)
		}
		h.stopFlags.Delete(connKey(conn))

		err = h.chatService.StreamResponse(c.Request.Context(), string(message), user, conn, shouldStop)
		if err != nil {
			log.Errorf("处理流式响应失败: %v", err)
			errResp := map[string]string{"error": "AI服务暂时不可用，请稍后重试"}
			b, _ := json.Marshal(errResp)
			_ = conn.WriteMessage(websocket.TextMessage, b)
			break
		}
	}
}

// handleStopCommand 识别并处理停止指令，返回 true 表示该消息已被消费。
func (h *ChatHandler) handleStopCommand(conn *websocket.Conn, message []byte) bool {
	if len(message) == 0 || message[0] != '{' {
		return false
	}
	var ctrl map[string]interface{}
	if err := json.Unmarshal(message, &ctrl); err != nil {
		return false
	}
	t, ok := ctrl["type"].(string)
	if !ok || t != "stop" {
		return false
	}
	tok, _ := ctrl["_internal_cmd_token"].(string)

	h.stopTokenLock.Lock()
	valid := tok != "" && tok == h.stopToken
	h.stopTokenLock.Unlock()
	if !valid {
		return true
	}

	h.stopFlags.Store(connKey(conn), true)
	resp := map[string]interface{}{
		"type":      "stop",
		"message":   "响应已停止",
		"timestamp": time.Now().UnixMilli(),
		"date":      time.Now().Format("2006-01-02T15:04:05"),
	}
	b, _ := json.Marshal(resp)
	_ = conn.WriteMessage(websocket.TextMessage, b)
	return true
}

func connKey(conn *websocket.Conn) string {
	return fmt.Sprintf("%p", conn)
}
