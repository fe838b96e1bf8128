package service

import (
	"context"
	"errors"
	"fmt"

	"FestSync/internal/codec"
	"FestSync/internal/interfaces"
	"FestSync/internal/model"
	"FestSync/internal/quota"

	"github.com/sirupsen/logrus"
)

// governedMirror 所有表格调用先过限流器；出错先交给限流器判定，限流则冷却后重试。
// 客户端已按 HTTP 请求取配额时（selfGoverned）这里只负责冷却重试。
type governedMirror struct {
	client       interfaces.MirrorClient
	gov          *quota.Governor
	maxRetries   int
	selfGoverned bool
	logger       *logrus.Logger
}

func newGovernedMirror(client interfaces.MirrorClient, gov *quota.Governor, maxRetries int, logger *logrus.Logger) *governedMirror {
	g := &governedMirror{client: client, gov: gov, maxRetries: maxRetries, logger: logger}
	if qg, ok := client.(interfaces.QuotaGoverned); ok {
		g.selfGoverned = qg.GovernsQuota()
	}
	return g
}

var _ interfaces.MirrorClient = (*governedMirror)(nil)

func (g *governedMirror) call(ctx context.Context, op, sheet string, fn func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		if !g.selfGoverned {
			if err := g.gov.Acquire(ctx); err != nil {
				return fmt.Errorf("等待表格调用配额失败: %w", err)
			}
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !g.gov.ReportError(ctx, err) {
			return err
		}
		if attempt >= g.maxRetries {
			return fmt.Errorf("限流重试 %d 次后仍失败: %w", attempt, err)
		}
		g.logger.WithFields(logrus.Fields{
			"op":      op,
			"sheet":   sheet,
			"attempt": attempt + 1,
		}).Warn("表格接口限流，冷却后重试")
	}
}

func (g *governedMirror) ReadRange(ctx context.Context, sheet string) ([][]string, error) {
	var rows [][]string
	err := g.call(ctx, "read", sheet, func(ctx context.Context) error {
		var err error
		rows, err = g.client.ReadRange(ctx, sheet)
		return err
	})
	return rows, err
}

func (g *governedMirror) WriteRange(ctx context.Context, sheet string, rows [][]string) error {
	return g.call(ctx, "write", sheet, func(ctx context.Context) error {
		return g.client.WriteRange(ctx, sheet, rows)
	})
}

func (g *governedMirror) AppendRow(ctx context.Context, sheet string, row []string) error {
	return g.call(ctx, "append", sheet, func(ctx context.Context) error {
		return g.client.AppendRow(ctx, sheet, row)
	})
}

func (g *governedMirror) WriteRow(ctx context.Context, sheet string, rowIndex int, row []string) error {
	return g.call(ctx, "write row", sheet, func(ctx context.Context) error {
		return g.client.WriteRow(ctx, sheet, rowIndex, row)
	})
}

func (g *governedMirror) DeleteRow(ctx context.Context, sheet string, rowIndex int) error {
	return g.call(ctx, "delete row", sheet, func(ctx context.Context) error {
		return g.client.DeleteRow(ctx, sheet, rowIndex)
	})
}

// remoteError 表格侧错误归类：表头不符 / 限流耗尽 / 通信失败
func remoteError(op string, t model.SyncType, id string, err error) *SyncError {
	if errors.Is(err, codec.ErrHeaderMismatch) {
		return newError(KindValidation, op, t, id, "表格表头与当前字段定义不一致，未写入表格", err)
	}
	if quota.IsRateLimit(err) {
		return newError(KindRateLimit, op, t, id, "表格接口限流", err)
	}
	return newError(KindRemoteUnavailable, op, t, id, "表格服务不可用", err)
}
