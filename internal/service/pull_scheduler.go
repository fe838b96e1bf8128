package service

import (
	"context"
	"time"

	"FestSync/internal/model"

	"github.com/sirupsen/logrus"
)

// PullScheduler 定时把表格中的人工修改合并回主库
type PullScheduler struct {
	svc      *SheetsSyncService
	interval time.Duration
	types    []model.SyncType
	logger   *logrus.Logger
}

func NewPullScheduler(svc *SheetsSyncService, interval time.Duration, types []model.SyncType, logger *logrus.Logger) *PullScheduler {
	return &PullScheduler{svc: svc, interval: interval, types: types, logger: logger}
}

// Run 阻塞直到 ctx 取消；interval <= 0 时直接返回
func (p *PullScheduler) Run(ctx context.Context) {
	if p.interval <= 0 {
		p.logger.Info("未配置定时拉取，跳过")
		return
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Infof("定时拉取已启动，间隔 %s", p.interval)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("定时拉取已停止")
			return
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce 执行一轮拉取，结果只记录日志
func (p *PullScheduler) RunOnce(ctx context.Context) []*TypeResult {
	results, err := p.svc.SyncAll(ctx, DirectionPull, p.types)
	for _, r := range results {
		entry := p.logger.WithField("type", r.Type)
		switch {
		case r.Error != "":
			entry.Errorf("定时拉取失败: %s", r.Error)
		case r.Pull != nil:
			entry.WithFields(logrus.Fields{
				"inserted": r.Pull.Inserted,
				"updated":  r.Pull.Updated,
				"skipped":  r.Pull.Skipped,
				"warnings": len(r.Pull.Warnings),
			}).Info("定时拉取完成")
		}
	}
	if err != nil {
		p.logger.WithError(err).Warn("本轮定时拉取存在失败的类型")
	}
	return results
}
