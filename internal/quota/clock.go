package quota

import (
	"context"
	"time"
)

// Clock 为限流器提供时间源与挂起能力，测试中可替换为假时钟
type Clock interface {
	Now() time.Time
	// Sleep 挂起当前调用方 d 时长；ctx 取消时提前返回 ctx.Err()
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

// RealClock 基于系统时间的时钟
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
