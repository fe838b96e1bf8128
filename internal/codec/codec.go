// Package codec converts typed records to and from flat spreadsheet rows.
package codec

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"FestSync/internal/model"

	"github.com/spf13/cast"
)

// DefaultDelimiter joins list-valued fields inside a single cell.
const DefaultDelimiter = ";"

var (
	ErrRequired     = errors.New("required field is empty")
	ErrUnknownField = errors.New("unknown field")
	ErrInvalidValue = errors.New("invalid value")
)

// FieldError 单个字段的解析问题；不会中断整行
type FieldError struct {
	Column string
	Value  string
	Err    error
}

func (e *FieldError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("field %s: %v", e.Column, e.Err)
	}
	return fmt.Sprintf("field %s (%q): %v", e.Column, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// Codec 行编解码器
type Codec struct {
	delimiter string
}

// New 创建编解码器，delimiter 为空时使用 DefaultDelimiter
func New(delimiter string) *Codec {
	if delimiter == "" {
		delimiter = DefaultDelimiter
	}
	return &Codec{delimiter: delimiter}
}

// Encode renders rec as cells in header order. Values that cannot be coerced
// to their column kind are written as the kind's empty value.
func (c *Codec) Encode(rec *model.Record) ([]string, error) {
	s, err := SchemaFor(rec.Type)
	if err != nil {
		return nil, err
	}
	row := make([]string, len(s.Columns))
	for i, col := range s.Columns {
		switch col.Name {
		case ColumnID:
			row[i] = rec.ID
		case ColumnCreatedAt:
			row[i] = formatDate(rec.CreatedAt)
		case ColumnUpdatedAt:
			row[i] = formatDate(rec.UpdatedAt)
		default:
			v, err := c.coerce(col, rec.Fields[col.Name])
			if err != nil {
				v = emptyValue(col.Kind)
			}
			row[i] = c.format(col.Kind, v)
		}
	}
	return row, nil
}

// Decode builds a record from one sheet row. header maps column names to
// positions; cells past the header are ignored and missing trailing cells
// decode to empty values. Field problems are returned, not fatal.
func (c *Codec) Decode(t model.SyncType, cells, header []string) (*model.Record, []*FieldError, error) {
	s, err := SchemaFor(t)
	if err != nil {
		return nil, nil, err
	}
	if len(cells) > len(header) {
		cells = cells[:len(header)]
	}
	pos := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if _, dup := pos[key]; !dup {
			pos[key] = i
		}
	}

	rec := &model.Record{Type: t, Fields: make(model.Fields, len(s.Columns))}
	var problems []*FieldError
	for _, col := range s.Columns {
		raw := ""
		if i, ok := pos[strings.ToLower(col.Name)]; ok && i < len(cells) {
			raw = cells[i]
		}
		switch col.Name {
		case ColumnID:
			rec.ID = strings.TrimSpace(raw)
		case ColumnCreatedAt, ColumnUpdatedAt:
			ts, err := parseDate(raw)
			if err != nil {
				problems = append(problems, &FieldError{Column: col.Name, Value: raw, Err: err})
			}
			if col.Name == ColumnCreatedAt {
				rec.CreatedAt = ts
			} else {
				rec.UpdatedAt = ts
			}
		default:
			v, err := c.coerce(col, raw)
			if err != nil {
				problems = append(problems, &FieldError{Column: col.Name, Value: raw, Err: err})
				v = emptyValue(col.Kind)
			}
			rec.Fields[col.Name] = v
		}
	}
	return rec, problems, nil
}

// Normalize coerces loosely typed input (JSON bodies, stored documents) to
// the schema. The result always holds every field column. Unknown keys,
// invalid values and empty required fields are reported.
func (c *Codec) Normalize(t model.SyncType, in map[string]interface{}) (model.Fields, []*FieldError, error) {
	s, err := SchemaFor(t)
	if err != nil {
		return nil, nil, err
	}
	out := make(model.Fields, len(s.Columns))
	var problems []*FieldError
	for _, col := range s.FieldColumns() {
		raw := in[col.Name]
		v, err := c.coerce(col, raw)
		if err != nil {
			problems = append(problems, &FieldError{Column: col.Name, Value: cast.ToString(raw), Err: err})
			v = emptyValue(col.Kind)
		}
		if col.Required && isEmpty(v) && err == nil {
			problems = append(problems, &FieldError{Column: col.Name, Err: ErrRequired})
		}
		out[col.Name] = v
	}

	var unknown []string
	for k := range in {
		if _, ok := s.Column(k); !ok {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	for _, k := range unknown {
		problems = append(problems, &FieldError{Column: k, Err: ErrUnknownField})
	}
	return out, problems, nil
}

func (c *Codec) coerce(col Column, raw interface{}) (interface{}, error) {
	if raw == nil {
		return emptyValue(col.Kind), nil
	}
	switch col.Kind {
	case KindString:
		s, err := cast.ToStringE(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return strings.TrimSpace(s), nil
	case KindNumber:
		if s, ok := raw.(string); ok {
			s = strings.TrimSpace(s)
			if s == "" {
				return float64(0), nil
			}
			raw = s
		}
		f, err := cast.ToFloat64E(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		// NaN/Inf 写回表格后无法原样读回
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: 数值必须是有限数", ErrInvalidValue)
		}
		return f, nil
	case KindDate:
		switch v := raw.(type) {
		case time.Time:
			return v.UTC(), nil
		case string:
			return parseDate(v)
		}
		ts, err := cast.ToTimeE(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return ts.UTC(), nil
	case KindList:
		if s, ok := raw.(string); ok {
			return splitList(s, c.delimiter), nil
		}
		items, err := cast.ToStringSliceE(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return cleanList(items), nil
	}
	return nil, fmt.Errorf("%w: unsupported kind %s", ErrInvalidValue, col.Kind)
}

func (c *Codec) format(k Kind, v interface{}) string {
	switch k {
	case KindNumber:
		f, _ := v.(float64)
		return strconv.FormatFloat(f, 'f', -1, 64)
	case KindDate:
		ts, _ := v.(time.Time)
		return formatDate(ts)
	case KindList:
		list, _ := v.([]string)
		return strings.Join(list, c.delimiter)
	}
	s, _ := v.(string)
	return s
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognised date %q", ErrInvalidValue, s)
}

func formatDate(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339)
}

func splitList(s, delimiter string) []string {
	if strings.TrimSpace(s) == "" {
		return []string{}
	}
	return cleanList(strings.Split(s, delimiter))
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func emptyValue(k Kind) interface{} {
	switch k {
	case KindNumber:
		return float64(0)
	case KindDate:
		return time.Time{}
	case KindList:
		return []string{}
	}
	return ""
}

func isEmpty(v interface{}) bool {
	switch x := v.(type) {
	case string:
		return x == ""
	case []string:
		return len(x) == 0
	case time.Time:
		return x.IsZero()
	case nil:
		return true
	}
	return false
}
