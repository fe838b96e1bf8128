package interfaces

// ToValueRows 行数据转为表格接口使用的 [][]interface{}（行优先）
func ToValueRows[T any](rows [][]T) [][]interface{} {
	values := make([][]interface{}, len(rows))
	for i, row := range rows {
		cells := make([]interface{}, len(row))
		for j, v := range row {
			cells[j] = v
		}
		values[i] = cells
	}
	return values
}
