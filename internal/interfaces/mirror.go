package interfaces

import "context"

// MirrorClient 表格镜像操作接口；行号从 1 开始，第 1 行为表头
type MirrorClient interface {
	// ReadRange 读取整张工作表（含表头）
	ReadRange(ctx context.Context, sheet string) ([][]string, error)
	// WriteRange 整体替换工作表内容，失败时原内容不变
	WriteRange(ctx context.Context, sheet string, rows [][]string) error
	// AppendRow 在表尾追加一行
	AppendRow(ctx context.Context, sheet string, row []string) error
	// WriteRow 覆盖指定行
	WriteRow(ctx context.Context, sheet string, rowIndex int, row []string) error
	// DeleteRow 删除指定行，后续行上移
	DeleteRow(ctx context.Context, sheet string, rowIndex int) error
}

// QuotaGoverned 客户端自己按 HTTP 请求向限流器取配额时实现此接口
type QuotaGoverned interface {
	GovernsQuota() bool
}
