package api

import (
	"fmt"
	"net/http"
	"strings"

	"FestSync/internal/model"
	"FestSync/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type SyncHandler struct {
	syncService *service.SheetsSyncService
	logger      *logrus.Logger
}

func NewSyncHandler(svc *service.SheetsSyncService, logger *logrus.Logger) *SyncHandler {
	return &SyncHandler{
		syncService: svc,
		logger:      logger,
	}
}

// PushHandler 主库全量覆盖到表格
// @Summary 主库 → 表格
// @Param type path string true "teams/candidates/programmes/all"
// @Router /sync/sheets/{type}/push [post]
func (h *SyncHandler) PushHandler(c *gin.Context) {
	h.run(c, service.DirectionPush)
}

// PullHandler 表格合并回主库；表格侧 webhook 也调用该接口
// @Summary 表格 → 主库
// @Param type path string true "teams/candidates/programmes/all"
// @Router /sync/sheets/{type}/pull [post]
func (h *SyncHandler) PullHandler(c *gin.Context) {
	h.run(c, service.DirectionPull)
}

// QuotaHandler 当前表格接口限流窗口
// GET /sync/sheets/quota
func (h *SyncHandler) QuotaHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"quota":   h.syncService.Quota(),
	})
}

func (h *SyncHandler) run(c *gin.Context, dir service.Direction) {
	raw := c.Param("type")
	ctx := c.Request.Context()

	if strings.EqualFold(raw, "all") {
		results, err := h.syncService.SyncAll(ctx, dir, nil)
		if err != nil {
			h.logger.WithError(err).Errorf("批量%s同步失败", dir)
			c.JSON(statusFor(err), gin.H{
				"success": false,
				"message": err.Error(),
				"results": results,
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": fmt.Sprintf("全部类型%s同步完成", dir),
			"results": results,
		})
		return
	}

	t, err := model.ParseSyncType(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	var result interface{}
	switch dir {
	case service.DirectionPush:
		result, err = h.syncService.SyncToSheets(ctx, t)
	default:
		result, err = h.syncService.SyncFromSheets(ctx, t)
	}
	if err != nil {
		h.logger.WithError(err).Errorf("%s %s同步失败", t, dir)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": fmt.Sprintf("%s %s同步成功", t, dir),
		"result":  result,
	})
}
