package sheets

import (
	"context"
	"fmt"
	"sync"

	"FestSync/internal/interfaces"
)

// MemoryMirror 进程内表格镜像：未配置表格ID时的本地开发替身，也用于测试
type MemoryMirror struct {
	mu     sync.Mutex
	sheets map[string][][]string
}

var _ interfaces.MirrorClient = (*MemoryMirror)(nil)

func NewMemoryMirror() *MemoryMirror {
	return &MemoryMirror{sheets: make(map[string][][]string)}
}

func (m *MemoryMirror) ReadRange(_ context.Context, sheet string) ([][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyRows(m.sheets[sheet]), nil
}

func (m *MemoryMirror) WriteRange(_ context.Context, sheet string, rows [][]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sheets[sheet] = copyRows(rows)
	return nil
}

func (m *MemoryMirror) AppendRow(_ context.Context, sheet string, row []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sheets[sheet] = append(m.sheets[sheet], append([]string(nil), row...))
	return nil
}

func (m *MemoryMirror) WriteRow(_ context.Context, sheet string, rowIndex int, row []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rowIndex < 1 {
		return fmt.Errorf("行号必须从 1 开始: %d", rowIndex)
	}
	rows := m.sheets[sheet]
	for len(rows) < rowIndex {
		rows = append(rows, []string{})
	}
	rows[rowIndex-1] = append([]string(nil), row...)
	m.sheets[sheet] = rows
	return nil
}

func (m *MemoryMirror) DeleteRow(_ context.Context, sheet string, rowIndex int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.sheets[sheet]
	if rowIndex < 1 || rowIndex > len(rows) {
		return fmt.Errorf("工作表 %s 没有第 %d 行", sheet, rowIndex)
	}
	m.sheets[sheet] = append(rows[:rowIndex-1], rows[rowIndex:]...)
	return nil
}

// Rows 返回工作表快照（测试与调试用）
func (m *MemoryMirror) Rows(sheet string) [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyRows(m.sheets[sheet])
}

func copyRows(rows [][]string) [][]string {
	if rows == nil {
		return nil
	}
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = append([]string(nil), r...)
	}
	return out
}
