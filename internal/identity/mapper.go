// Package identity finds the mirror row that currently holds a primary-store
// record. Row positions are never persisted: every lookup scans the sheet,
// matching the id column first and the record type's natural key second.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"FestSync/internal/codec"
	"FestSync/internal/model"
)

// ErrRowNotFound 表格中找不到对应记录
var ErrRowNotFound = errors.New("mirror row not found")

// ErrHeaderMismatch 表头与 schema 不一致，按列位置写行会错位，拒绝定位
var ErrHeaderMismatch = codec.ErrHeaderMismatch

// RowRef 表格侧的位置引用（工作表 + 从 1 开始的行号），不是标识符
type RowRef struct {
	Sheet string
	Row   int
}

func (r RowRef) String() string {
	return fmt.Sprintf("%s!%d", r.Sheet, r.Row)
}

// RowReader 读取整张工作表（含表头）
type RowReader interface {
	ReadRange(ctx context.Context, sheet string) ([][]string, error)
}

// Mapper 主库 ID ↔ 表格行 的定位器，无跨调用缓存
type Mapper struct {
	reader RowReader
}

func NewMapper(reader RowReader) *Mapper {
	return &Mapper{reader: reader}
}

// SheetName 同步类型对应的工作表名
func SheetName(t model.SyncType) string {
	return t.SheetName()
}

// Locate returns the current row of the record identified by primaryID,
// falling back to naturalKey when no row carries the id. A non-empty sheet
// whose header does not match the schema yields ErrHeaderMismatch.
func (m *Mapper) Locate(ctx context.Context, t model.SyncType, primaryID, naturalKey string) (RowRef, error) {
	s, err := codec.SchemaFor(t)
	if err != nil {
		return RowRef{}, err
	}
	sheet := SheetName(t)
	rows, err := m.reader.ReadRange(ctx, sheet)
	if err != nil {
		return RowRef{}, fmt.Errorf("读取工作表 %s 失败: %w", sheet, err)
	}
	if len(rows) > 0 {
		if err := codec.ValidateHeader(s, rows[0]); err != nil {
			return RowRef{}, err
		}
	}
	row, ok := FindRow(s, rows, primaryID, naturalKey)
	if !ok {
		return RowRef{}, ErrRowNotFound
	}
	return RowRef{Sheet: sheet, Row: row}, nil
}

// FindRow scans rows (header first) and returns the 1-based row index.
// An id match wins over a natural key match; among key matches the first
// one is taken.
func FindRow(s codec.Schema, rows [][]string, primaryID, naturalKey string) (int, bool) {
	if len(rows) < 2 {
		return 0, false
	}
	header := rows[0]
	idCol := columnIndex(header, codec.ColumnID)
	keyCol := columnIndex(header, s.Type.NaturalKeyField())
	key := model.NormalizeKey(naturalKey)
	primaryID = strings.TrimSpace(primaryID)

	keyMatch := 0
	for i, cells := range rows[1:] {
		if primaryID != "" && cell(cells, idCol) == primaryID {
			return i + 2, true
		}
		if keyMatch == 0 && key != "" && model.NormalizeKey(cell(cells, keyCol)) == key {
			keyMatch = i + 2
		}
	}
	return keyMatch, keyMatch != 0
}

func columnIndex(header []string, name string) int {
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}
	return -1
}

func cell(cells []string, i int) string {
	if i < 0 || i >= len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[i])
}
