package model

import (
	"time"

	"gorm.io/datatypes"
)

// RecordDocument 主库文档表：每条记录一行，业务字段整体存为 jsonb 文档
type RecordDocument struct {
	ID         string         `gorm:"column:id;primaryKey;type:varchar(64);comment:主库唯一ID"`
	Type       string         `gorm:"column:type;type:varchar(16);not null;uniqueIndex:uk_record_type_key;comment:记录类型：teams/candidates/programmes"`
	NaturalKey string         `gorm:"column:natural_key;type:varchar(64);not null;uniqueIndex:uk_record_type_key;comment:业务主键（大写）"`
	Fields     datatypes.JSON `gorm:"column:fields;type:jsonb;not null;comment:业务字段文档"`
	CreatedAt  time.Time      `gorm:"column:created_at;autoCreateTime;comment:创建时间"`
	UpdatedAt  time.Time      `gorm:"column:updated_at;autoUpdateTime;comment:更新时间"`
}

func (RecordDocument) TableName() string { return "records" }
