package domain

import (
	"fmt"
	"strconv"
)

// CellString renders a cell value the way it would appear in a spreadsheet
// cell. Cell comparison during incremental saves uses this same rendering, so
// numeric values decoded from JSON must format stably.
func CellString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}
