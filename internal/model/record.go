package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// SyncType 参与表格双向同步的记录类型（封闭枚举）
type SyncType string

const (
	SyncTeams      SyncType = "teams"
	SyncCandidates SyncType = "candidates"
	SyncProgrammes SyncType = "programmes"
)

// SyncTypes 返回全部同步类型，顺序固定
func SyncTypes() []SyncType {
	return []SyncType{SyncTeams, SyncCandidates, SyncProgrammes}
}

// ParseSyncType 解析外部传入的类型字符串
func ParseSyncType(s string) (SyncType, error) {
	switch t := SyncType(strings.ToLower(strings.TrimSpace(s))); t {
	case SyncTeams, SyncCandidates, SyncProgrammes:
		return t, nil
	case "results", "schedules":
		return "", fmt.Errorf("%s 仅存在于主库，不参与表格同步", t)
	default:
		return "", fmt.Errorf("未知的记录类型: %q", s)
	}
}

// NaturalKeyField 各类型的业务主键字段（队伍编号 / 胸牌号 / 节目编号）
func (t SyncType) NaturalKeyField() string {
	switch t {
	case SyncTeams:
		return "code"
	case SyncCandidates:
		return "chestNumber"
	case SyncProgrammes:
		return "code"
	}
	return ""
}

// SheetName 表格中对应的工作表名称
func (t SyncType) SheetName() string {
	switch t {
	case SyncTeams:
		return "Teams"
	case SyncCandidates:
		return "Candidates"
	case SyncProgrammes:
		return "Programmes"
	}
	return ""
}

// NormalizeKey 业务主键比较前统一去空格并转大写
func NormalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// Fields 字段名 → 类型化取值（string / float64 / time.Time / []string）
type Fields map[string]interface{}

// Clone 浅拷贝字段表，列表值单独复制
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		if list, ok := v.([]string); ok {
			v = append([]string(nil), list...)
		}
		out[k] = v
	}
	return out
}

// Record 主库中的一条业务记录（队伍/选手/节目）
type Record struct {
	ID        string    `json:"id"`
	Type      SyncType  `json:"type"`
	Fields    Fields    `json:"fields"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NaturalKey 取记录的业务主键（已规范化）
func (r *Record) NaturalKey() string {
	if r == nil || r.Fields == nil {
		return ""
	}
	return NormalizeKey(cast.ToString(r.Fields[r.Type.NaturalKeyField()]))
}
