package api

import (
	"FestSync/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RegisterRoutes 注册同步与记录接口
func RegisterRoutes(r *gin.Engine, svc *service.SheetsSyncService, logger *logrus.Logger) {
	syncHandler := NewSyncHandler(svc, logger)
	r.POST("/sync/sheets/:type/push", syncHandler.PushHandler)
	r.POST("/sync/sheets/:type/pull", syncHandler.PullHandler)
	r.GET("/sync/sheets/quota", syncHandler.QuotaHandler)

	// 记录增删改查（给前端管理页面用）
	recordHandler := NewRecordHandler(svc, logger)
	records := r.Group("/api/records")
	records.GET("/:type", recordHandler.ListRecords)
	records.POST("/:type", recordHandler.CreateRecord)
	records.GET("/:type/:id", recordHandler.GetRecord)
	records.PUT("/:type/:id", recordHandler.UpdateRecord)
	records.DELETE("/:type/:id", recordHandler.DeleteRecord)
}
