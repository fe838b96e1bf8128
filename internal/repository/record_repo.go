package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"FestSync/internal/interfaces"
	"FestSync/internal/model"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	// ErrRecordNotFound 主库中不存在该记录
	ErrRecordNotFound = errors.New("record not found")
	// ErrDuplicateKey 同类型下业务主键重复（唯一索引 uk_record_type_key）
	ErrDuplicateKey = errors.New("duplicate natural key")
)

type RecordRepository struct {
	db *gorm.DB
}

func NewRecordRepository(db *gorm.DB) interfaces.RecordStore {
	return &RecordRepository{db: db}
}

// FindAll 按创建时间顺序返回某类型全部记录
func (r *RecordRepository) FindAll(ctx context.Context, t model.SyncType) ([]*model.Record, error) {
	var docs []*model.RecordDocument
	if err := r.db.WithContext(ctx).
		Where("type = ?", string(t)).
		Order("created_at ASC").
		Order("id ASC").
		Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("查询%s记录失败: %w", t, err)
	}
	records := make([]*model.Record, 0, len(docs))
	for _, d := range docs {
		rec, err := toRecord(d)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// FindByID 按主库ID查询
func (r *RecordRepository) FindByID(ctx context.Context, t model.SyncType, id string) (*model.Record, error) {
	var doc model.RecordDocument
	if err := r.db.WithContext(ctx).
		Where("type = ? AND id = ?", string(t), id).
		First(&doc).Error; err != nil {
		return nil, notFound(err)
	}
	return toRecord(&doc)
}

// FindByKey 按业务主键查询（不区分大小写）
func (r *RecordRepository) FindByKey(ctx context.Context, t model.SyncType, naturalKey string) (*model.Record, error) {
	var doc model.RecordDocument
	if err := r.db.WithContext(ctx).
		Where("type = ? AND natural_key = ?", string(t), model.NormalizeKey(naturalKey)).
		First(&doc).Error; err != nil {
		return nil, notFound(err)
	}
	return toRecord(&doc)
}

// Insert 生成主库ID并落库
func (r *RecordRepository) Insert(ctx context.Context, rec *model.Record) (*model.Record, error) {
	key := rec.NaturalKey()
	if key == "" {
		return nil, fmt.Errorf("%s记录缺少业务主键 %s", rec.Type, rec.Type.NaturalKeyField())
	}
	payload, err := json.Marshal(rec.Fields)
	if err != nil {
		return nil, fmt.Errorf("序列化字段失败: %w", err)
	}
	doc := &model.RecordDocument{
		ID:         uuid.NewString(),
		Type:       string(rec.Type),
		NaturalKey: key,
		Fields:     datatypes.JSON(payload),
	}
	if err := r.db.WithContext(ctx).Create(doc).Error; err != nil {
		if isDuplicate(err) {
			return nil, fmt.Errorf("%w: %s %s", ErrDuplicateKey, rec.Type, key)
		}
		return nil, fmt.Errorf("保存%s记录失败: %w", rec.Type, err)
	}
	return toRecord(doc)
}

// Update 整体替换业务字段；业务主键随字段一起更新
func (r *RecordRepository) Update(ctx context.Context, t model.SyncType, id string, fields model.Fields) (*model.Record, error) {
	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("序列化字段失败: %w", err)
	}
	rec := &model.Record{Type: t, Fields: fields}
	key := rec.NaturalKey()
	if key == "" {
		return nil, fmt.Errorf("%s记录缺少业务主键 %s", t, t.NaturalKeyField())
	}

	res := r.db.WithContext(ctx).Model(&model.RecordDocument{}).
		Where("type = ? AND id = ?", string(t), id).
		Updates(map[string]interface{}{
			"fields":      datatypes.JSON(payload),
			"natural_key": key,
			"updated_at":  time.Now(),
		})
	if res.Error != nil {
		if isDuplicate(res.Error) {
			return nil, fmt.Errorf("%w: %s %s", ErrDuplicateKey, t, key)
		}
		return nil, fmt.Errorf("更新%s记录失败: %w, id: %s", t, res.Error, id)
	}
	if res.RowsAffected == 0 {
		return nil, ErrRecordNotFound
	}
	return r.FindByID(ctx, t, id)
}

// Delete 物理删除
func (r *RecordRepository) Delete(ctx context.Context, t model.SyncType, id string) error {
	res := r.db.WithContext(ctx).
		Where("type = ? AND id = ?", string(t), id).
		Delete(&model.RecordDocument{})
	if res.Error != nil {
		return fmt.Errorf("删除%s记录失败: %w, id: %s", t, res.Error, id)
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func toRecord(d *model.RecordDocument) (*model.Record, error) {
	fields := model.Fields{}
	if len(d.Fields) > 0 {
		if err := json.Unmarshal(d.Fields, &fields); err != nil {
			return nil, fmt.Errorf("解析记录%s字段失败: %w", d.ID, err)
		}
	}
	return &model.Record{
		ID:        d.ID,
		Type:      model.SyncType(d.Type),
		Fields:    fields,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrRecordNotFound
	}
	return err
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "uk_record_type_key") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
