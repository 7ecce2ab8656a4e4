package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentifier(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain", "Sepal_Length", "Sepal_Length"},
		{"trimmed", "  mpg  ", "mpg"},
		{"empty", "", Placeholder},
		{"whitespace only", "   ", Placeholder},
		{"punctuation", "Sepal.Length", "Sepal_Length"},
		{"spaces inside", "first name", "first_name"},
		{"leading digit", "2020 sales", "_2020_sales"},
		{"non ascii", "température", "temp_rature"},
		{"leading underscore kept", "_id", "_id"},
		{"only symbols", "%%", "__"},
		{"reserved word", "if", "if_"},
		{"reserved literal", "NA", "NA_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Identifier(tt.input))
		})
	}
}

func TestIdentifiersCollisions(t *testing.T) {
	got := Identifiers([]string{"a b", "a.b", "a-b"})
	assert.Equal(t, []string{"a_b", "a_b_2", "a_b_3"}, got)
}

func TestIdentifiersDoNotStealLaterNames(t *testing.T) {
	got := Identifiers([]string{"x", "x", "x_2"})
	assert.Equal(t, []string{"x", "x_3", "x_2"}, got)
}

func TestIdentifiersDeterministic(t *testing.T) {
	input := []string{"", "", "value", "value ", "1x"}
	first := Identifiers(input)
	second := Identifiers(input)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"column", "column_2", "value", "value_2", "_1x"}, first)
}

func TestIdentifiersIdempotent(t *testing.T) {
	inputs := [][]string{
		{"Sepal.Length", "Sepal Length", "Species", ""},
		{"x", "x", "x_2"},
		{"1", "2", "if", "%"},
	}
	for _, input := range inputs {
		once := Identifiers(input)
		twice := Identifiers(once)
		assert.Equal(t, once, twice, "input %v", input)
	}
}

func TestIdentifiersDistinct(t *testing.T) {
	input := []string{"a", "a", "a", "a_2", "A", "a?"}
	got := Identifiers(input)
	seen := make(map[string]bool)
	for _, name := range got {
		assert.False(t, seen[name], "duplicate %s in %v", name, got)
		assert.True(t, IsValid(name))
		seen[name] = true
	}
}

func TestMapping(t *testing.T) {
	m := Mapping([]string{"Petal Width", "Species"})
	assert.Equal(t, "Petal_Width", m["Petal Width"])
	assert.Equal(t, "Species", m["Species"])
}
