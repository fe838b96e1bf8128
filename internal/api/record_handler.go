package api

import (
	"net/http"

	"FestSync/internal/model"
	"FestSync/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RecordHandler 队伍/选手/节目的增删改查，写操作同步到表格
type RecordHandler struct {
	syncService *service.SheetsSyncService
	logger      *logrus.Logger
}

// NewRecordHandler 创建 RecordHandler
func NewRecordHandler(svc *service.SheetsSyncService, logger *logrus.Logger) *RecordHandler {
	return &RecordHandler{
		syncService: svc,
		logger:      logger,
	}
}

// ListRecords 列表
// GET /api/records/:type
func (h *RecordHandler) ListRecords(c *gin.Context) {
	t, ok := parseType(c)
	if !ok {
		return
	}
	records, err := h.syncService.ListRecords(c.Request.Context(), t)
	if err != nil {
		h.logger.WithError(err).Error("ListRecords failed")
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": records})
}

// GetRecord 详情
// GET /api/records/:type/:id
func (h *RecordHandler) GetRecord(c *gin.Context) {
	t, ok := parseType(c)
	if !ok {
		return
	}
	rec, err := h.syncService.GetRecord(c.Request.Context(), t, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": rec})
}

// CreateRecord 新增；主库ID由服务端生成
// POST /api/records/:type
func (h *RecordHandler) CreateRecord(c *gin.Context) {
	t, ok := parseType(c)
	if !ok {
		return
	}
	var fields map[string]interface{}
	if err := c.ShouldBindJSON(&fields); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request: " + err.Error()})
		return
	}
	res, err := h.syncService.AddRecord(c.Request.Context(), t, fields)
	if err != nil {
		h.logger.WithError(err).WithField("type", t).Warn("CreateRecord failed")
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, writeBody("已创建", res))
}

// UpdateRecord 整条替换
// PUT /api/records/:type/:id
func (h *RecordHandler) UpdateRecord(c *gin.Context) {
	t, ok := parseType(c)
	if !ok {
		return
	}
	var fields map[string]interface{}
	if err := c.ShouldBindJSON(&fields); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request: " + err.Error()})
		return
	}
	res, err := h.syncService.UpdateRecord(c.Request.Context(), t, c.Param("id"), fields)
	if err != nil {
		h.logger.WithError(err).WithField("type", t).Warn("UpdateRecord failed")
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, writeBody("已更新", res))
}

// DeleteRecord 删除
// DELETE /api/records/:type/:id
func (h *RecordHandler) DeleteRecord(c *gin.Context) {
	t, ok := parseType(c)
	if !ok {
		return
	}
	res, err := h.syncService.DeleteRecord(c.Request.Context(), t, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, writeBody("已删除", res))
}

func parseType(c *gin.Context) (model.SyncType, bool) {
	t, err := model.ParseSyncType(c.Param("type"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return "", false
	}
	return t, true
}

func writeBody(message string, res *service.WriteResult) gin.H {
	body := gin.H{
		"success":       true,
		"message":       message,
		"id":            res.ID,
		"mirror_synced": res.MirrorSynced,
	}
	if res.Warning != "" {
		body["warning"] = res.Warning
	}
	return body
}

// statusFor 错误分类 → HTTP 状态码
func statusFor(err error) int {
	switch {
	case service.IsConflict(err):
		return http.StatusConflict
	case service.IsValidation(err):
		return http.StatusBadRequest
	case service.IsNotFound(err):
		return http.StatusNotFound
	case service.IsRateLimit(err):
		return http.StatusTooManyRequests
	case service.IsRemoteUnavailable(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{
		"success": false,
		"message": err.Error(),
		"kind":    service.KindOf(err),
	})
}
