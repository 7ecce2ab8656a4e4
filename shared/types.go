package shared

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Row maps a column name to a primitive cell: string, float64 or nil.
type Row map[string]interface{}

// RowTable is row-oriented tabular data exchanged at the bridge boundary.
// Columns fixes the column order; every row carries exactly those keys.
type RowTable struct {
	Columns []string `json:"columns" yaml:"columns"`
	Rows    []Row    `json:"rows" yaml:"rows"`
}

// NewRowTable builds a table and normalizes every cell. Rows missing a
// column get nil for it; keys outside columns are dropped.
func NewRowTable(columns []string, rows []Row) *RowTable {
	table := &RowTable{Columns: append([]string(nil), columns...), Rows: make([]Row, 0, len(rows))}
	for _, row := range rows {
		normalized := make(Row, len(columns))
		for _, col := range columns {
			normalized[col] = NormalizeValue(row[col])
		}
		table.Rows = append(table.Rows, normalized)
	}
	return table
}

// Len returns the number of rows
func (t *RowTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Width returns the number of columns
func (t *RowTable) Width() int {
	if t == nil {
		return 0
	}
	return len(t.Columns)
}

// IsEmpty reports whether the table has no rows
func (t *RowTable) IsEmpty() bool {
	return t.Len() == 0
}

// Column returns the values of one column in row order
func (t *RowTable) Column(name string) []interface{} {
	values := make([]interface{}, 0, t.Len())
	for _, row := range t.Rows {
		values = append(values, row[name])
	}
	return values
}

// Head returns a table with at most n rows
func (t *RowTable) Head(n int) *RowTable {
	if n > t.Len() {
		n = t.Len()
	}
	return &RowTable{Columns: t.Columns, Rows: t.Rows[:n]}
}

// Clone returns a copy that shares no rows or column slice with t.
// Cells are scalars, so copying each row map is enough.
func (t *RowTable) Clone() *RowTable {
	if t == nil {
		return nil
	}
	out := &RowTable{Columns: append([]string(nil), t.Columns...), Rows: make([]Row, len(t.Rows))}
	for i, row := range t.Rows {
		copied := make(Row, len(row))
		for k, v := range row {
			copied[k] = v
		}
		out.Rows[i] = copied
	}
	return out
}

// Validate checks that every row carries exactly the declared columns and
// only primitive values.
func (t *RowTable) Validate() error {
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("row %d has %d fields, expected %d", i, len(row), len(t.Columns))
		}
		for _, col := range t.Columns {
			value, ok := row[col]
			if !ok {
				return fmt.Errorf("row %d is missing column %q", i, col)
			}
			switch value.(type) {
			case nil, string, float64:
			default:
				return fmt.Errorf("row %d column %q holds unsupported %T", i, col, value)
			}
		}
	}
	return nil
}

// UnmarshalJSON accepts either {"columns": [...], "rows": [...]} or a bare
// array of objects. For the array form, column order is the first-seen key
// order across all objects.
func (t *RowTable) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		columns, rows, err := decodeRecords(trimmed)
		if err != nil {
			return err
		}
		*t = *NewRowTable(columns, rows)
		return nil
	}

	var raw struct {
		Columns []string        `json:"columns"`
		Rows    json.RawMessage `json:"rows"`
	}
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return err
	}
	var columns []string
	var rows []Row
	if len(raw.Rows) > 0 && string(raw.Rows) != "null" {
		var err error
		columns, rows, err = decodeRecords(raw.Rows)
		if err != nil {
			return err
		}
	}
	if raw.Columns != nil {
		columns = raw.Columns
	}
	*t = *NewRowTable(columns, rows)
	return nil
}

// decodeRecords streams an array of flat objects, keeping key order.
func decodeRecords(data []byte) ([]string, []Row, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	if _, err := dec.Token(); err != nil {
		return nil, nil, err
	}

	var columns []string
	seen := make(map[string]bool)
	var rows []Row
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		if delim, ok := tok.(json.Delim); !ok || delim != '{' {
			return nil, nil, fmt.Errorf("expected object in row array, got %v", tok)
		}
		row := make(Row)
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, nil, err
			}
			key, _ := keyTok.(string)
			var value interface{}
			if err := dec.Decode(&value); err != nil {
				return nil, nil, err
			}
			row[key] = value
			if !seen[key] {
				seen[key] = true
				columns = append(columns, key)
			}
		}
		if _, err := dec.Token(); err != nil {
			return nil, nil, err
		}
		rows = append(rows, row)
	}
	return columns, rows, nil
}

// NormalizeValue maps host values onto the cell primitives. Integers and
// json.Number become float64, booleans become "TRUE"/"FALSE", and
// non-finite floats become nil.
func NormalizeValue(v interface{}) interface{} {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return x
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return x
	case float32:
		return NormalizeValue(float64(x))
	case int:
		return float64(x)
	case int8:
		return float64(x)
	case int16:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case uint:
		return float64(x)
	case uint8:
		return float64(x)
	case uint16:
		return float64(x)
	case uint32:
		return float64(x)
	case uint64:
		return float64(x)
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return NormalizeValue(f)
		}
		return x.String()
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	default:
		return fmt.Sprintf("%v", x)
	}
}

// ParseCell converts text into a cell: empty and NA become nil, numeric
// text becomes float64.
func ParseCell(text string) interface{} {
	if text == "" || text == "NA" {
		return nil
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return text
}

// DatasetDescriptor summarizes a loaded or uploaded dataset
type DatasetDescriptor struct {
	Name        string `json:"name" yaml:"name"`
	RowCount    int    `json:"row_count" yaml:"row_count"`
	ColumnCount int    `json:"column_count" yaml:"column_count"`
	SummaryText string `json:"summary" yaml:"summary"`
}

// Describe builds a descriptor for a table
func Describe(name string, table *RowTable, summary string) DatasetDescriptor {
	return DatasetDescriptor{
		Name:        name,
		RowCount:    table.Len(),
		ColumnCount: table.Width(),
		SummaryText: summary,
	}
}

// DatasetOption is one entry of the dataset catalog
type DatasetOption struct {
	Value string `json:"value" yaml:"value"`
	Label string `json:"label" yaml:"label"`
}
