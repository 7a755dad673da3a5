package ads

import "fmt"

// 文档注释：判断当前小时是否在广告投放时段内
// 约束：小时为闭区间 [0,23]；start==end 视为全天；start>end 表示跨天，如 18-2 即 18..23 与 0..2。
func InWindow(hour, start, end int) bool {
	if start == end {
		return true
	}
	if start < end {
		return start <= hour && hour <= end
	}
	return hour >= start || hour <= end
}

// 文档注释：与 InWindow 等价的 SQL 谓词，用于下推到存储层过滤
// 参数：startCol/endCol 为列名，hourParam 为小时占位符（如 "$1"），可重复引用。
func WindowClause(startCol, endCol, hourParam string) string {
	return fmt.Sprintf("((%[1]s = %[2]s) OR (%[1]s < %[2]s AND %[1]s <= %[3]s AND %[2]s >= %[3]s) OR (%[1]s > %[2]s AND (%[1]s <= %[3]s OR %[2]s >= %[3]s)))",
		startCol, endCol, hourParam)
}
