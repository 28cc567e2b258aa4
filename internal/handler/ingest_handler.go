// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"

	"github.com/Pasterwitz/Quorial-SoftwareDev/internal/model"
	"github.com/Pasterwitz/Quorial-SoftwareDev/pkg/kafka"
	"github.com/Pasterwitz/Quorial-SoftwareDev/pkg/log"
	"github.com/Pasterwitz/Quorial-SoftwareDev/pkg/tasks"
	"github.com/gin-gonic/gin"
)

// IngestHandler 负责触发语料入库任务，仅管理员可用。
type IngestHandler struct{}

// NewIngestHandler 创建一个新的 IngestHandler 实例。
func NewIngestHandler() *IngestHandler {
	return &IngestHandler{}
}

// IngestRequest 定义了触发语料入库 API 的请求体结构。
// ObjectName 是 MinIO 中清洗后语料文件的对象名。
type IngestRequest struct {
	ObjectName string `json:"objectName" binding:"required"`
	Rebuild    bool   `json:"rebuild"`
}

// Ingest 将一个语料入库任务投递到 Kafka，由后台消费者异步处理。
func (h *IngestHandler) Ingest(c *gin.Context) {
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Ingest: 请求负载无效, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载：objectName 不能为空"})
		return
	}

	userValue, _ := c.Get("user")
	user, ok := userValue.(*model.User)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}

	task := tasks.ArticleIngestTask{
		ObjectName: req.ObjectName,
		Rebuild:    req.Rebuild,
		UserID:     user.ID,
	}
	if err := kafka.ProduceIngestTask(task); err != nil {
		log.Errorf("Ingest: 投递入库任务失败, Object: %s, error: %v", req.ObjectName, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "任务投递失败"})
		return
	}

	log.Infof("Ingest: 入库任务已投递, Object: %s, Rebuild: %v, 操作人: %s", req.ObjectName, req.Rebuild, user.Username)
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "入库任务已提交",
		"data":    gin.H{"objectName": req.ObjectName},
	})
}
