package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderMarkdownTable(t *testing.T) {
	kable := "\n\n|  mpg| cyl|\n|----:|---:|\n| 21.0|   6|\n| 22.8|   4|\n"

	html, err := RenderMarkdown(kable)
	require.NoError(t, err)
	assert.Contains(t, html, "<table>")
	assert.Contains(t, html, "mpg</th>")
	assert.Contains(t, html, "22.8</td>")
}

func TestRenderMarkdownPlainText(t *testing.T) {
	html, err := RenderMarkdown("[1] 42")
	require.NoError(t, err)
	assert.Equal(t, "<p>[1] 42</p>\n", html)
}
