package shared

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"text/tabwriter"
)

// FormatValueForDisplay renders one cell the way R prints it: nil as NA,
// whole numbers without a decimal point.
func FormatValueForDisplay(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return "NA"
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1e15 {
			return strconv.FormatFloat(v, 'f', 0, 64)
		}
		return strconv.FormatFloat(v, 'g', 7, 64)
	case string:
		return v
	default:
		return fmt.Sprintf("%v", value)
	}
}

// FormatPreview renders the first maxRows rows as an aligned text table.
// A trailing line notes how many rows were left out.
func FormatPreview(table *RowTable, maxRows int) string {
	if table == nil || table.Width() == 0 {
		return "<empty table>"
	}

	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(table.Columns, "\t"))

	shown := table.Head(maxRows)
	cells := make([]string, len(table.Columns))
	for _, row := range shown.Rows {
		for i, col := range table.Columns {
			cells[i] = FormatValueForDisplay(row[col])
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	_ = w.Flush()

	if rest := table.Len() - shown.Len(); rest > 0 {
		fmt.Fprintf(&b, "... %d more rows\n", rest)
	}
	return b.String()
}
