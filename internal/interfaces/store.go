package interfaces

import (
	"context"

	"FestSync/internal/model"
)

// RecordStore 主库（文档库）操作接口，单条记录粒度原子
type RecordStore interface {
	// FindAll 按类型取全部记录，顺序稳定
	FindAll(ctx context.Context, t model.SyncType) ([]*model.Record, error)
	// FindByID 按主库ID查询
	FindByID(ctx context.Context, t model.SyncType, id string) (*model.Record, error)
	// FindByKey 按业务主键（队伍编号/胸牌号/节目编号）查询
	FindByKey(ctx context.Context, t model.SyncType, naturalKey string) (*model.Record, error)
	// Insert 新增记录并由主库生成ID，返回落库后的记录
	Insert(ctx context.Context, rec *model.Record) (*model.Record, error)
	// Update 整体替换业务字段，ID 不变
	Update(ctx context.Context, t model.SyncType, id string, fields model.Fields) (*model.Record, error)
	// Delete 按ID删除
	Delete(ctx context.Context, t model.SyncType, id string) error
}
