package marshal

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"gopkg.in/yaml.v3"

	"rbridge/errors"
	"rbridge/shared"
)

// CodeInvalidUpload is used for uploads that cannot be parsed
const CodeInvalidUpload = "INVALID_UPLOAD"

// Upload is a user-supplied table and the name it is shown under
type Upload struct {
	Name string          `json:"name" yaml:"name"`
	Data *shared.RowTable `json:"data" yaml:"data"`
}

// ParseDelimited decodes CSV or TSV text into rows. The delimiter is
// sniffed from the header line. A UTF-8 byte order mark is dropped, and
// input that is not valid UTF-8 is read as Latin-1. Empty cells and NA
// become nil, numeric text becomes a number.
func ParseDelimited(data []byte) (*shared.RowTable, error) {
	text, err := decodeText(data)
	if err != nil {
		return nil, errors.WrapError(err, CodeInvalidUpload, "failed to decode upload")
	}
	if strings.TrimSpace(text) == "" {
		return shared.NewRowTable(nil, nil), nil
	}

	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = sniffDelimiter(text)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, errors.WrapError(err, CodeInvalidUpload, "failed to read header")
	}
	columns := uniqueHeader(header)

	var rows []shared.Row
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WrapError(err, CodeInvalidUpload, fmt.Sprintf("failed to read line %d", line))
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		row := make(shared.Row, len(columns))
		for i, col := range columns {
			if i < len(record) {
				row[col] = shared.ParseCell(strings.TrimSpace(record[i]))
			} else {
				row[col] = nil
			}
		}
		rows = append(rows, row)
	}
	return shared.NewRowTable(columns, rows), nil
}

// ReadUploadFile loads a table from disk. The extension selects the
// decoder: .json and .yaml/.yml hold either {columns, rows} or an array
// of records, anything else is read as CSV or TSV. The upload is named
// after the file.
func ReadUploadFile(path string) (*Upload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapError(err, CodeInvalidUpload, fmt.Sprintf("failed to read %s", path))
	}

	ext := strings.ToLower(filepath.Ext(path))
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	var table *shared.RowTable
	switch ext {
	case ".json":
		table = &shared.RowTable{}
		if err := json.Unmarshal(data, table); err != nil {
			return nil, errors.WrapError(err, CodeInvalidUpload, fmt.Sprintf("failed to decode %s", path))
		}
	case ".yaml", ".yml":
		// records decode to maps, so the array form loses its key order
		var doc interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, errors.WrapError(err, CodeInvalidUpload, fmt.Sprintf("failed to decode %s", path))
		}
		encoded, err := json.Marshal(doc)
		if err != nil {
			return nil, errors.WrapError(err, CodeInvalidUpload, fmt.Sprintf("failed to decode %s", path))
		}
		table = &shared.RowTable{}
		if err := json.Unmarshal(encoded, table); err != nil {
			return nil, errors.WrapError(err, CodeInvalidUpload, fmt.Sprintf("failed to decode %s", path))
		}
	default:
		table, err = ParseDelimited(data)
		if err != nil {
			return nil, err
		}
	}
	return &Upload{Name: name, Data: table}, nil
}

func decodeText(data []byte) (string, error) {
	var decoder transform.Transformer = unicode.BOMOverride(unicode.UTF8.NewDecoder())
	if !utf8.Valid(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))) {
		decoder = charmap.ISO8859_1.NewDecoder()
	}
	out, _, err := transform.Bytes(decoder, data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// sniffDelimiter picks the most frequent of tab, semicolon and comma in
// the first line, ignoring quoted text. Comma wins ties.
func sniffDelimiter(text string) rune {
	first := text
	if i := strings.IndexAny(text, "\r\n"); i >= 0 {
		first = text[:i]
	}

	counts := map[rune]int{}
	quoted := false
	for _, r := range first {
		switch {
		case r == '"':
			quoted = !quoted
		case !quoted && (r == ',' || r == '\t' || r == ';'):
			counts[r]++
		}
	}

	best := ','
	for _, r := range []rune{'\t', ';'} {
		if counts[r] > counts[best] {
			best = r
		}
	}
	return best
}

// uniqueHeader keeps header names but suffixes exact duplicates, since
// rows are keyed by column name
func uniqueHeader(header []string) []string {
	seen := make(map[string]bool, len(header))
	columns := make([]string, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		candidate := name
		for n := 2; seen[candidate]; n++ {
			candidate = name + "_" + strconv.Itoa(n)
		}
		seen[candidate] = true
		columns[i] = candidate
	}
	return columns
}
