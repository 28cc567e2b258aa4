// Package tasks 定义了通过消息队列传递的后台任务结构。
package tasks

// ArticleIngestTask 描述一次文章语料的入库任务。
// ObjectName 指向 MinIO 中清洗后的文章 JSON 文件；Rebuild 为 true 时
// 先清理涉及文章的既有分块再重建。入库与检索是互不重叠的两条操作路径。
type ArticleIngestTask struct {
	ObjectName string `json:"objectName"`
	Rebuild    bool   `json:"rebuild"`
	UserID     uint   `json:"userId"` // 触发任务的管理员，仅用于审计日志
}
