package shared

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRowTableNormalizes(t *testing.T) {
	table := NewRowTable([]string{"n", "flag", "x"}, []Row{
		{"n": 3, "flag": true, "x": math.NaN()},
		{"n": int64(4), "extra": "dropped"},
	})

	require.Equal(t, 2, table.Len())
	assert.Equal(t, 3, table.Width())
	assert.Equal(t, Row{"n": 3.0, "flag": "TRUE", "x": nil}, table.Rows[0])
	assert.Equal(t, Row{"n": 4.0, "flag": nil, "x": nil}, table.Rows[1])
	assert.NoError(t, table.Validate())
	assert.Equal(t, []interface{}{3.0, 4.0}, table.Column("n"))
}

func TestCloneSharesNothing(t *testing.T) {
	orig := NewRowTable([]string{"x"}, []Row{{"x": 1}, {"x": "a"}})
	c := orig.Clone()
	c.Rows[0]["x"] = 99.0
	c.Rows = c.Rows[:1]
	c.Columns[0] = "y"

	assert.Equal(t, []string{"x"}, orig.Columns)
	assert.Equal(t, []interface{}{1.0, "a"}, orig.Column("x"))

	var empty *RowTable
	assert.Nil(t, empty.Clone())
}

func TestValidateRejectsRaggedRows(t *testing.T) {
	table := &RowTable{Columns: []string{"a", "b"}, Rows: []Row{{"a": 1.0}}}
	assert.Error(t, table.Validate())

	table = &RowTable{Columns: []string{"a"}, Rows: []Row{{"a": []int{1}}}}
	assert.Error(t, table.Validate())
}

func TestUnmarshalRecordArrayKeepsKeyOrder(t *testing.T) {
	var table RowTable
	require.NoError(t, json.Unmarshal([]byte(`[{"b": 1, "a": "x"}, {"a": "y", "c": false}]`), &table))

	assert.Equal(t, []string{"b", "a", "c"}, table.Columns)
	assert.Equal(t, Row{"b": 1.0, "a": "x", "c": nil}, table.Rows[0])
	assert.Equal(t, Row{"b": nil, "a": "y", "c": "FALSE"}, table.Rows[1])
}

func TestUnmarshalColumnsForm(t *testing.T) {
	var table RowTable
	require.NoError(t, json.Unmarshal([]byte(`{"columns": ["a", "b"], "rows": [{"a": 1, "b": null, "z": 3}]}`), &table))

	assert.Equal(t, []string{"a", "b"}, table.Columns)
	assert.Equal(t, []Row{{"a": 1.0, "b": nil}}, table.Rows)

	var empty RowTable
	require.NoError(t, json.Unmarshal([]byte(`{"columns": ["a"], "rows": null}`), &empty))
	assert.True(t, empty.IsEmpty())
	assert.Equal(t, 1, empty.Width())

	assert.Error(t, json.Unmarshal([]byte(`[1, 2]`), &table))
}

func TestParseCell(t *testing.T) {
	assert.Nil(t, ParseCell(""))
	assert.Nil(t, ParseCell("NA"))
	assert.Equal(t, 1.5, ParseCell("1.5"))
	assert.Equal(t, "Inf", ParseCell("Inf"))
	assert.Equal(t, "setosa", ParseCell("setosa"))
}

func TestNormalizeValue(t *testing.T) {
	assert.Equal(t, 2.0, NormalizeValue(json.Number("2")))
	assert.Equal(t, 7.0, NormalizeValue(uint8(7)))
	assert.Nil(t, NormalizeValue(math.Inf(1)))
	assert.Equal(t, "[1 2]", NormalizeValue([]int{1, 2}))
}

func TestFormatPreview(t *testing.T) {
	table := NewRowTable([]string{"name", "score"}, []Row{
		{"name": "a", "score": 1},
		{"name": "b", "score": 2.5},
		{"name": "c"},
	})

	assert.Equal(t, "name  score\na     1\nb     2.5\n... 1 more rows\n", FormatPreview(table, 2))
	assert.Contains(t, FormatPreview(table, 10), "c     NA\n")
	assert.Equal(t, "<empty table>", FormatPreview(nil, 5))
}

func TestDescribe(t *testing.T) {
	table := NewRowTable([]string{"a", "b"}, []Row{{"a": 1}, {"a": 2}})
	d := Describe("upload", table, "2 rows")
	assert.Equal(t, DatasetDescriptor{Name: "upload", RowCount: 2, ColumnCount: 2, SummaryText: "2 rows"}, d)
}
