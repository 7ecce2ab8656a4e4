package repl

import (
	"strings"
)

// MultiLineBuffer collects lines until they form a complete R expression
type MultiLineBuffer struct {
	lines    []string
	isActive bool
}

// NewMultiLineBuffer creates a new buffer
func NewMultiLineBuffer() *MultiLineBuffer {
	return &MultiLineBuffer{
		lines:    []string{},
		isActive: false,
	}
}

// AddLine adds a line to the buffer and activates it
func (b *MultiLineBuffer) AddLine(line string) {
	b.lines = append(b.lines, line)
	b.isActive = true
}

// GetContent returns the buffer content as a single string
func (b *MultiLineBuffer) GetContent() string {
	return strings.Join(b.lines, "\n")
}

// Clear clears the buffer and deactivates it
func (b *MultiLineBuffer) Clear() {
	b.lines = []string{}
	b.isActive = false
}

// IsActive returns true if the buffer is active
func (b *MultiLineBuffer) IsActive() bool {
	return b.isActive
}

// IsEmpty returns true if the buffer is empty
func (b *MultiLineBuffer) IsEmpty() bool {
	return len(b.lines) == 0
}

// GetLineCount returns the number of lines in the buffer
func (b *MultiLineBuffer) GetLineCount() int {
	return len(b.lines)
}

// RemoveLastLine removes and returns the last line from the buffer
func (b *MultiLineBuffer) RemoveLastLine() string {
	if len(b.lines) == 0 {
		return ""
	}

	lastIndex := len(b.lines) - 1
	lastLine := b.lines[lastIndex]
	b.lines = b.lines[:lastIndex]

	if len(b.lines) == 0 {
		b.isActive = false
	}

	return lastLine
}

// IsComplete reports whether the buffered source can be sent to R
func (b *MultiLineBuffer) IsComplete() bool {
	return !NeedsContinuation(b.GetContent())
}

// continuationOperators end an R line that continues on the next one
var continuationOperators = []string{
	"<-", "<<-", "=", "+", "-", "*", "/", "^", ",", "|", "&", "||", "&&",
	"~", "|>", "%>%", "%in%", "%%", "==", "!=", "<", ">", "<=", ">=",
}

// NeedsContinuation reports whether code is an unfinished R expression:
// an open bracket or string, or a last line ending in a binary operator.
func NeedsContinuation(code string) bool {
	depth := 0
	var quote rune
	escaped := false
	lastCode := ""

	for _, line := range strings.Split(code, "\n") {
		var kept strings.Builder
		for _, ch := range line {
			if quote != 0 {
				kept.WriteRune(ch)
				switch {
				case escaped:
					escaped = false
				case ch == '\\' && quote != '`':
					escaped = true
				case ch == quote:
					quote = 0
				}
				continue
			}
			if ch == '#' {
				break
			}
			kept.WriteRune(ch)
			switch ch {
			case '"', '\'', '`':
				quote = ch
			case '(', '[', '{':
				depth++
			case ')', ']', '}':
				depth--
			}
		}
		if trimmed := strings.TrimSpace(kept.String()); trimmed != "" {
			lastCode = trimmed
		}
	}

	if quote != 0 || depth > 0 {
		return true
	}
	for _, op := range continuationOperators {
		if strings.HasSuffix(lastCode, op) {
			return true
		}
	}
	return false
}
