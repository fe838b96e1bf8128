package codec

import (
	"errors"
	"fmt"
	"strings"

	"FestSync/internal/model"
)

// Kind 列的取值类型
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindDate
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindDate:
		return "date"
	case KindList:
		return "list"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// 元数据列：不属于 Fields，由主库维护
const (
	ColumnID        = "id"
	ColumnCreatedAt = "createdAt"
	ColumnUpdatedAt = "updatedAt"
)

// ErrHeaderMismatch 表头与当前 schema 不兼容
var ErrHeaderMismatch = errors.New("sheet header does not match schema")

// Column 表格中的一列
type Column struct {
	Name     string
	Kind     Kind
	Required bool
}

// Schema 某个同步类型在表格中的固定列定义
type Schema struct {
	Type    model.SyncType
	Columns []Column
}

func metaColumns(fields ...Column) []Column {
	cols := make([]Column, 0, len(fields)+3)
	cols = append(cols, Column{Name: ColumnID, Kind: KindString})
	cols = append(cols, fields...)
	cols = append(cols,
		Column{Name: ColumnCreatedAt, Kind: KindDate},
		Column{Name: ColumnUpdatedAt, Kind: KindDate},
	)
	return cols
}

var (
	teamSchema = Schema{
		Type: model.SyncTeams,
		Columns: metaColumns(
			Column{Name: "code", Kind: KindString, Required: true},
			Column{Name: "name", Kind: KindString, Required: true},
			Column{Name: "color", Kind: KindString},
			Column{Name: "description", Kind: KindString},
			Column{Name: "leaders", Kind: KindList},
			Column{Name: "points", Kind: KindNumber},
		),
	}
	candidateSchema = Schema{
		Type: model.SyncCandidates,
		Columns: metaColumns(
			Column{Name: "chestNumber", Kind: KindString, Required: true},
			Column{Name: "name", Kind: KindString, Required: true},
			Column{Name: "team", Kind: KindString},
			Column{Name: "section", Kind: KindString},
			Column{Name: "programmes", Kind: KindList},
			Column{Name: "points", Kind: KindNumber},
		),
	}
	programmeSchema = Schema{
		Type: model.SyncProgrammes,
		Columns: metaColumns(
			Column{Name: "code", Kind: KindString, Required: true},
			Column{Name: "name", Kind: KindString, Required: true},
			Column{Name: "category", Kind: KindString},
			Column{Name: "section", Kind: KindString},
			Column{Name: "positionType", Kind: KindString},
			Column{Name: "requiredParticipants", Kind: KindNumber},
			Column{Name: "status", Kind: KindString},
			Column{Name: "scheduledAt", Kind: KindDate},
		),
	}
)

// SchemaFor 返回同步类型对应的 schema
func SchemaFor(t model.SyncType) (Schema, error) {
	switch t {
	case model.SyncTeams:
		return teamSchema, nil
	case model.SyncCandidates:
		return candidateSchema, nil
	case model.SyncProgrammes:
		return programmeSchema, nil
	}
	return Schema{}, fmt.Errorf("类型 %q 没有表格 schema", t)
}

// Header 表头（第一行）
func (s Schema) Header() []string {
	header := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		header[i] = c.Name
	}
	return header
}

// Column 按名称查找列
func (s Schema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// FieldColumns 业务字段列（不含 id 与时间戳）
func (s Schema) FieldColumns() []Column {
	out := make([]Column, 0, len(s.Columns))
	for _, c := range s.Columns {
		if isMeta(c.Name) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func isMeta(name string) bool {
	return name == ColumnID || name == ColumnCreatedAt || name == ColumnUpdatedAt
}

// ValidateHeader 表头必须以 schema 列按顺序开头，其后多余的列忽略
func ValidateHeader(s Schema, header []string) error {
	if len(header) < len(s.Columns) {
		return fmt.Errorf("%w: %s 表头只有 %d 列，需要 %d 列", ErrHeaderMismatch, s.Type, len(header), len(s.Columns))
	}
	for i, c := range s.Columns {
		if !strings.EqualFold(strings.TrimSpace(header[i]), c.Name) {
			return fmt.Errorf("%w: %s 第 %d 列应为 %q，实际为 %q", ErrHeaderMismatch, s.Type, i+1, c.Name, header[i])
		}
	}
	return nil
}
