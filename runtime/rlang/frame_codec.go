package rlang

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"math"
	"strconv"
	"strings"

	"rbridge/runtime"
)

// missingToken stands for NA in exchanged CSV; it matches .rbridge$na
const missingToken = "__RBRIDGE_NA__"

// encodeFrame renders a frame as header-less CSV. Character cells are
// always quoted so that empty strings never collapse into blank lines;
// missing cells are the bare NA token.
func encodeFrame(frame *runtime.Frame) (data []byte, names, types []string, err error) {
	rows := frame.NumRows()
	for _, col := range frame.Columns {
		if len(col.Values) != rows {
			return nil, nil, nil, fmt.Errorf("column %q has %d values, expected %d", col.Name, len(col.Values), rows)
		}
		names = append(names, col.Name)
		types = append(types, string(col.Type))
	}

	var buf bytes.Buffer
	for i := 0; i < rows; i++ {
		for j, col := range frame.Columns {
			if j > 0 {
				buf.WriteByte(',')
			}
			cell, err := encodeCell(col, col.Values[i])
			if err != nil {
				return nil, nil, nil, err
			}
			buf.WriteString(cell)
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes(), names, types, nil
}

func encodeCell(col runtime.Column, value interface{}) (string, error) {
	if value == nil {
		return missingToken, nil
	}
	switch col.Type {
	case runtime.ColumnNumeric:
		f, ok := value.(float64)
		if !ok {
			return "", fmt.Errorf("column %q: numeric cell holds %T", col.Name, value)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return missingToken, nil
		}
		return strconv.FormatFloat(f, 'g', -1, 64), nil
	default:
		s, ok := value.(string)
		if !ok {
			s = fmt.Sprint(value)
		}
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`, nil
	}
}

// decodeFrame parses the CSV written by .rbridge$project_table
func decodeFrame(data []byte, names, types []string, rows int) (*runtime.Frame, error) {
	if len(names) != len(types) {
		return nil, fmt.Errorf("projection has %d names but %d types", len(names), len(types))
	}

	frame := &runtime.Frame{Columns: make([]runtime.Column, len(names))}
	for i, name := range names {
		frame.Columns[i] = runtime.Column{
			Name:   name,
			Type:   runtime.ColumnType(types[i]),
			Values: make([]interface{}, 0, rows),
		}
	}
	if len(names) == 0 || rows == 0 {
		return frame, nil
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = len(names)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse projected table: %w", err)
	}
	if len(records) != rows {
		return nil, fmt.Errorf("projected table has %d rows, R reported %d", len(records), rows)
	}

	for _, record := range records {
		for j, text := range record {
			col := &frame.Columns[j]
			value, err := decodeCell(col.Type, text)
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", col.Name, err)
			}
			col.Values = append(col.Values, value)
		}
	}
	return frame, nil
}

func decodeCell(t runtime.ColumnType, text string) (interface{}, error) {
	if text == missingToken {
		return nil, nil
	}
	if t != runtime.ColumnNumeric {
		return text, nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, nil
	}
	return f, nil
}
