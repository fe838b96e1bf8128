package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"FestSync/internal/codec"
	"FestSync/internal/identity"
	"FestSync/internal/interfaces"
	"FestSync/internal/model"
	"FestSync/internal/quota"
	"FestSync/internal/repository"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxRetries 表格接口限流后的默认重试次数
const DefaultMaxRetries = 3

// WriteResult 单条记录写操作结果。主库写入成功但表格同步失败时 Warning 非空
type WriteResult struct {
	ID           string `json:"id"`
	MirrorSynced bool   `json:"mirror_synced"`
	Warning      string `json:"warning,omitempty"`
}

// PushResult 主库 → 表格 全量覆盖结果
type PushResult struct {
	Type  model.SyncType `json:"type"`
	Count int            `json:"count"`
}

// PullResult 表格 → 主库 合并结果
type PullResult struct {
	Type     model.SyncType `json:"type"`
	Inserted int            `json:"inserted"`
	Updated  int            `json:"updated"`
	Skipped  int            `json:"skipped"`
	Warnings []string       `json:"warnings,omitempty"`
}

// Direction 批量同步方向
type Direction string

const (
	DirectionPush Direction = "push"
	DirectionPull Direction = "pull"
)

// TypeResult SyncAll 中单个类型的结果
type TypeResult struct {
	Type  model.SyncType `json:"type"`
	Push  *PushResult    `json:"push,omitempty"`
	Pull  *PullResult    `json:"pull,omitempty"`
	Error string         `json:"error,omitempty"`
}

// SheetsSyncService 主库与表格镜像之间的双向同步。
// 主库是唯一事实来源：所有写操作先写主库再写表格，表格失败只降级为警告。
// 冲突策略为整条记录“后写者胜”，没有字段级合并。
type SheetsSyncService struct {
	store  interfaces.RecordStore
	mirror *governedMirror
	mapper *identity.Mapper
	codec  *codec.Codec
	logger *logrus.Logger
}

// Option 构造参数
type Option func(*SheetsSyncService)

// WithMaxRetries 限流重试次数
func WithMaxRetries(n int) Option {
	return func(s *SheetsSyncService) {
		if n >= 0 {
			s.mirror.maxRetries = n
		}
	}
}

// WithListDelimiter 列表字段在单元格中的分隔符
func WithListDelimiter(delimiter string) Option {
	return func(s *SheetsSyncService) {
		s.codec = codec.New(delimiter)
	}
}

func NewSheetsSyncService(store interfaces.RecordStore, mirror interfaces.MirrorClient, gov *quota.Governor, logger *logrus.Logger, opts ...Option) *SheetsSyncService {
	gm := newGovernedMirror(mirror, gov, DefaultMaxRetries, logger)
	s := &SheetsSyncService{
		store:  store,
		mirror: gm,
		mapper: identity.NewMapper(gm),
		codec:  codec.New(codec.DefaultDelimiter),
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddRecord 写主库（生成ID）后向表格追加一行；表格失败不回滚主库。空工作表先补表头
func (s *SheetsSyncService) AddRecord(ctx context.Context, t model.SyncType, fields map[string]interface{}) (*WriteResult, error) {
	const op = "addRecord"
	clean, err := s.validate(op, t, "", fields)
	if err != nil {
		return nil, err
	}

	rec, err := s.store.Insert(ctx, &model.Record{Type: t, Fields: clean})
	if err != nil {
		return nil, storeError(op, t, "", err)
	}
	res := &WriteResult{ID: rec.ID}

	row, err := s.codec.Encode(rec)
	if err == nil {
		err = s.appendRow(ctx, t, row)
	}
	if err != nil {
		s.mirrorWarning(res, op, t, rec.ID, err)
		return res, nil
	}
	res.MirrorSynced = true
	s.logger.WithFields(logrus.Fields{"type": t, "id": rec.ID}).Info("新增记录并已追加到表格")
	return res, nil
}

// UpdateRecord 按ID更新主库，再整行覆盖表格中对应行；找不到行则追加
func (s *SheetsSyncService) UpdateRecord(ctx context.Context, t model.SyncType, id string, fields map[string]interface{}) (*WriteResult, error) {
	const op = "updateRecord"
	clean, err := s.validate(op, t, id, fields)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.FindByID(ctx, t, id)
	if err != nil {
		return nil, storeError(op, t, id, err)
	}
	updated, err := s.store.Update(ctx, t, id, clean)
	if err != nil {
		return nil, storeError(op, t, id, err)
	}
	res := &WriteResult{ID: updated.ID}

	row, err := s.codec.Encode(updated)
	if err != nil {
		s.mirrorWarning(res, op, t, id, err)
		return res, nil
	}
	// 表格里还是旧的业务主键，按旧键定位
	ref, err := s.mapper.Locate(ctx, t, id, existing.NaturalKey())
	switch {
	case err == nil:
		err = s.mirror.WriteRow(ctx, ref.Sheet, ref.Row, row)
	case errors.Is(err, identity.ErrRowNotFound):
		s.logger.WithFields(logrus.Fields{"type": t, "id": id}).Info("表格中未找到对应行，追加新行")
		err = s.appendRow(ctx, t, row)
	}
	if err != nil {
		s.mirrorWarning(res, op, t, id, err)
		return res, nil
	}
	res.MirrorSynced = true
	return res, nil
}

// DeleteRecord 删除主库记录并移除表格中对应行；行不存在时只记录日志
func (s *SheetsSyncService) DeleteRecord(ctx context.Context, t model.SyncType, id string) (*WriteResult, error) {
	const op = "deleteRecord"
	if _, err := codec.SchemaFor(t); err != nil {
		return nil, newError(KindValidation, op, t, id, "", err)
	}

	existing, err := s.store.FindByID(ctx, t, id)
	if err != nil {
		return nil, storeError(op, t, id, err)
	}
	if err := s.store.Delete(ctx, t, id); err != nil {
		return nil, storeError(op, t, id, err)
	}
	res := &WriteResult{ID: id}

	ref, err := s.mapper.Locate(ctx, t, id, existing.NaturalKey())
	if errors.Is(err, identity.ErrRowNotFound) {
		s.logger.WithFields(logrus.Fields{
			"op":          op,
			"type":        t,
			"id":          id,
			"natural_key": existing.NaturalKey(),
		}).Warn("表格中未找到对应行，主库删除已生效")
		res.Warning = "表格中未找到对应行，未删除任何表格数据"
		return res, nil
	}
	if err == nil {
		err = s.mirror.DeleteRow(ctx, ref.Sheet, ref.Row)
	}
	if err != nil {
		s.mirrorWarning(res, op, t, id, err)
		return res, nil
	}
	res.MirrorSynced = true
	return res, nil
}

// SyncToSheets 用主库全量快照覆盖工作表（表头 + 全部记录）
func (s *SheetsSyncService) SyncToSheets(ctx context.Context, t model.SyncType) (*PushResult, error) {
	const op = "syncToSheets"
	schema, err := codec.SchemaFor(t)
	if err != nil {
		return nil, newError(KindValidation, op, t, "", "", err)
	}

	records, err := s.store.FindAll(ctx, t)
	if err != nil {
		return nil, storeError(op, t, "", err)
	}
	rows := make([][]string, 0, len(records)+1)
	rows = append(rows, schema.Header())
	for _, rec := range records {
		row, err := s.codec.Encode(rec)
		if err != nil {
			return nil, newError(KindValidation, op, t, rec.ID, "编码失败", err)
		}
		rows = append(rows, row)
	}

	if err := s.mirror.WriteRange(ctx, t.SheetName(), rows); err != nil {
		serr := remoteError(op, t, "", err)
		s.logger.WithError(err).WithFields(logrus.Fields{"op": op, "type": t}).Error("全量写入表格失败")
		return nil, serr
	}
	s.logger.Infof("%s 已全量同步到表格，共%d行", t, len(records))
	return &PushResult{Type: t, Count: len(records)}, nil
}

// SyncFromSheets 读取工作表，按业务主键合并进主库；新建记录的ID回写到表格行
func (s *SheetsSyncService) SyncFromSheets(ctx context.Context, t model.SyncType) (*PullResult, error) {
	const op = "syncFromSheets"
	schema, err := codec.SchemaFor(t)
	if err != nil {
		return nil, newError(KindValidation, op, t, "", "", err)
	}
	sheet := t.SheetName()

	rows, err := s.mirror.ReadRange(ctx, sheet)
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{"op": op, "type": t}).Error("读取表格失败")
		return nil, remoteError(op, t, "", err)
	}
	res := &PullResult{Type: t}
	if len(rows) == 0 {
		s.logger.Warnf("工作表 %s 为空，跳过", sheet)
		return res, nil
	}
	header := rows[0]
	if err := codec.ValidateHeader(schema, header); err != nil {
		return nil, newError(KindValidation, op, t, "", "表头与当前字段定义不兼容", err)
	}

	for i, cells := range rows[1:] {
		rowIndex := i + 2
		if blankRow(cells) {
			continue
		}
		decoded, problems, err := s.codec.Decode(t, cells, header)
		if err != nil {
			return res, newError(KindValidation, op, t, "", "", err)
		}
		for _, p := range problems {
			derr := newError(KindDecode, op, t, decoded.ID, fmt.Sprintf("第%d行", rowIndex), p)
			s.logger.WithFields(logrus.Fields{"type": t, "row": rowIndex, "field": p.Column}).Warn(derr.Error())
			res.Warnings = append(res.Warnings, derr.Error())
		}

		key := decoded.NaturalKey()
		if key == "" {
			msg := fmt.Sprintf("%s 第%d行缺少 %s，已跳过", sheet, rowIndex, t.NaturalKeyField())
			s.logger.Warn(msg)
			res.Warnings = append(res.Warnings, msg)
			res.Skipped++
			continue
		}

		saved, err := s.upsert(ctx, t, key, decoded.Fields, res)
		if err != nil {
			return res, storeError(op, t, decoded.ID, err)
		}

		if decoded.ID != saved.ID {
			backfill := append([]string(nil), cells...)
			backfill[0] = saved.ID
			if err := s.mirror.WriteRow(ctx, sheet, rowIndex, backfill); err != nil {
				serr := remoteError(op, t, saved.ID, err)
				s.logger.WithError(err).WithFields(logrus.Fields{"type": t, "id": saved.ID, "row": rowIndex}).Warn("回写主库ID失败")
				res.Warnings = append(res.Warnings, serr.Error())
			}
		}
	}

	s.logger.Infof("%s 表格合并完成：新增%d，更新%d，跳过%d", t, res.Inserted, res.Updated, res.Skipped)
	return res, nil
}

func (s *SheetsSyncService) upsert(ctx context.Context, t model.SyncType, key string, fields model.Fields, res *PullResult) (*model.Record, error) {
	existing, err := s.store.FindByKey(ctx, t, key)
	switch {
	case err == nil:
		saved, err := s.store.Update(ctx, t, existing.ID, fields)
		if err != nil {
			return nil, err
		}
		res.Updated++
		return saved, nil
	case errors.Is(err, repository.ErrRecordNotFound):
		saved, err := s.store.Insert(ctx, &model.Record{Type: t, Fields: fields})
		if err != nil {
			return nil, err
		}
		res.Inserted++
		return saved, nil
	default:
		return nil, err
	}
}

// SyncAll 每个类型一个任务并发执行，等待全部完成；单个类型失败不影响其它类型
func (s *SheetsSyncService) SyncAll(ctx context.Context, dir Direction, types []model.SyncType) ([]*TypeResult, error) {
	if len(types) == 0 {
		types = model.SyncTypes()
	}
	results := make([]*TypeResult, len(types))
	var g errgroup.Group
	for i, t := range types {
		r := &TypeResult{Type: t}
		results[i] = r
		g.Go(func() error {
			var err error
			switch dir {
			case DirectionPush:
				r.Push, err = s.SyncToSheets(ctx, t)
			case DirectionPull:
				r.Pull, err = s.SyncFromSheets(ctx, t)
			default:
				err = newError(KindValidation, "syncAll", t, "", fmt.Sprintf("未知的同步方向: %s", dir), nil)
			}
			if err != nil {
				r.Error = err.Error()
			}
			return err
		})
	}
	return results, g.Wait()
}

// ListRecords 主库中某类型的全部记录（字段按 schema 规范化）
func (s *SheetsSyncService) ListRecords(ctx context.Context, t model.SyncType) ([]*model.Record, error) {
	const op = "listRecords"
	if _, err := codec.SchemaFor(t); err != nil {
		return nil, newError(KindValidation, op, t, "", "", err)
	}
	records, err := s.store.FindAll(ctx, t)
	if err != nil {
		return nil, storeError(op, t, "", err)
	}
	for _, rec := range records {
		s.normalizeStored(rec)
	}
	return records, nil
}

// GetRecord 按主库ID取单条记录
func (s *SheetsSyncService) GetRecord(ctx context.Context, t model.SyncType, id string) (*model.Record, error) {
	const op = "getRecord"
	if _, err := codec.SchemaFor(t); err != nil {
		return nil, newError(KindValidation, op, t, id, "", err)
	}
	rec, err := s.store.FindByID(ctx, t, id)
	if err != nil {
		return nil, storeError(op, t, id, err)
	}
	s.normalizeStored(rec)
	return rec, nil
}

// Quota 当前限流窗口状态
func (s *SheetsSyncService) Quota() quota.Snapshot {
	return s.mirror.gov.Snapshot()
}

func (s *SheetsSyncService) validate(op string, t model.SyncType, id string, fields map[string]interface{}) (model.Fields, error) {
	clean, problems, err := s.codec.Normalize(t, fields)
	if err != nil {
		return nil, newError(KindValidation, op, t, id, "", err)
	}
	if len(problems) > 0 {
		msgs := make([]string, len(problems))
		for i, p := range problems {
			msgs[i] = p.Error()
		}
		return nil, newError(KindValidation, op, t, id, strings.Join(msgs, "; "), problems[0])
	}
	return clean, nil
}

// normalizeStored 文档库取出的字段（JSON 反序列化）转回类型化取值
func (s *SheetsSyncService) normalizeStored(rec *model.Record) {
	fields, _, err := s.codec.Normalize(rec.Type, rec.Fields)
	if err == nil {
		rec.Fields = fields
	}
}

func (s *SheetsSyncService) mirrorWarning(res *WriteResult, op string, t model.SyncType, id string, err error) {
	serr := remoteError(op, t, id, err)
	s.logger.WithError(err).WithFields(logrus.Fields{
		"op":   op,
		"type": t,
		"id":   id,
		"kind": serr.Kind,
	}).Warn("主库已写入，表格同步失败，需稍后重新同步")
	res.Warning = serr.Error()
}

// appendRow 追加一行；工作表为空时连同表头一起写入，保证第一行始终是表头；
// 表头与 schema 不一致时不写入
func (s *SheetsSyncService) appendRow(ctx context.Context, t model.SyncType, row []string) error {
	sheet := t.SheetName()
	rows, err := s.mirror.ReadRange(ctx, sheet)
	if err != nil {
		return err
	}
	schema, err := codec.SchemaFor(t)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return s.mirror.WriteRange(ctx, sheet, [][]string{schema.Header(), row})
	}
	// 表头被改过时按列位置追加会错位
	if err := codec.ValidateHeader(schema, rows[0]); err != nil {
		return err
	}
	return s.mirror.AppendRow(ctx, sheet, row)
}

func blankRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
