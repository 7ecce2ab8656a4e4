package repl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type stubSource struct {
	datasets []string
	columns  []string
	calls    int
}

func (s *stubSource) DatasetNames() []string {
	s.calls++
	return s.datasets
}

func (s *stubSource) CurrentColumns() []string {
	return s.columns
}

func TestCompleterCommands(t *testing.T) {
	c := NewCompleter(&stubSource{}, time.Minute)

	prefix, got := c.Candidates(":pre")
	assert.Equal(t, "pre", prefix)
	assert.Equal(t, []string{"preset", "presets"}, got)

	_, got = c.Candidates(":preset c")
	assert.Equal(t, []string{"correlation"}, got)

	_, got = c.Candidates(":format y")
	assert.Equal(t, []string{"yaml"}, got)
}

func TestCompleterDatasetsAreCached(t *testing.T) {
	source := &stubSource{datasets: []string{"mtcars", "iris", "islands"}}
	c := NewCompleter(source, time.Minute)

	prefix, got := c.Candidates(":use i")
	assert.Equal(t, "i", prefix)
	assert.Equal(t, []string{"iris", "islands"}, got)

	_, got = c.Candidates(":use is")
	assert.Equal(t, []string{"islands"}, got)

	_, got = c.Candidates(":use m")
	assert.Equal(t, []string{"mtcars"}, got)
	assert.Equal(t, 1, source.calls)

	c.Invalidate()
	c.Candidates(":use ")
	assert.Equal(t, 2, source.calls)
}

func TestCompleterColumnsAndVocabulary(t *testing.T) {
	c := NewCompleter(&stubSource{columns: []string{"Sepal.Length", "Sepal.Width", "Species"}}, time.Minute)

	prefix, got := c.Candidates("mean(df$Sepal.")
	assert.Equal(t, "Sepal.", prefix)
	assert.Equal(t, []string{"Sepal.Length", "Sepal.Width"}, got)

	_, got = c.Candidates("x <- summ")
	assert.Equal(t, []string{"summary"}, got)

	newLine, length := c.Do([]rune("x <- summ"), 9)
	assert.Equal(t, 4, length)
	assert.Equal(t, [][]rune{[]rune("ary")}, newLine)
}
