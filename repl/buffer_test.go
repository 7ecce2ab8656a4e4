package repl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNeedsContinuation(t *testing.T) {
	tests := []struct {
		name string
		code string
		want bool
	}{
		{"complete call", "summary(df)", false},
		{"open paren", "summary(df", true},
		{"open brace", "for (i in 1:3) {", true},
		{"closed block", "for (i in 1:3) {\n  print(i)\n}", false},
		{"trailing assignment", "x <-", true},
		{"trailing pipe", "df |>", true},
		{"trailing magrittr", "df %>%", true},
		{"trailing plus", "ggplot(df, aes(x)) +", true},
		{"trailing comma", "c(1,\n2,", true},
		{"bracket in string", `print("(")`, false},
		{"open string", `cat("line one`, true},
		{"escaped quote", `cat("say \"hi\"")`, false},
		{"bracket in comment", "x <- 1 # (", false},
		{"operator in comment", "x <- 1 # +", false},
		{"backtick name", "`my col` <- 1", false},
		{"blank", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NeedsContinuation(tt.code))
		})
	}
}

func TestMultiLineBuffer(t *testing.T) {
	b := NewMultiLineBuffer()
	assert.False(t, b.IsActive())
	assert.True(t, b.IsEmpty())

	b.AddLine("f <- function(x) {")
	assert.True(t, b.IsActive())
	assert.False(t, b.IsComplete())

	b.AddLine("  x * 2")
	b.AddLine("}")
	assert.True(t, b.IsComplete())
	assert.Equal(t, 3, b.GetLineCount())
	assert.Equal(t, "f <- function(x) {\n  x * 2\n}", b.GetContent())

	assert.Equal(t, "}", b.RemoveLastLine())
	assert.False(t, b.IsComplete())

	b.Clear()
	assert.False(t, b.IsActive())
	assert.Equal(t, "", b.RemoveLastLine())
}
