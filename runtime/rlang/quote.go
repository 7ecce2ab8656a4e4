package rlang

import (
	"strconv"
	"strings"
)

// QuoteString renders s as an R character literal. Every host value that
// ends up in R source text goes through this function; user code never
// does, it is evaluated from a file.
func QuoteString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case 0:
			// R strings cannot hold NUL
			continue
		default:
			if r < 0x20 || r == 0x7f {
				b.WriteString(`\u{` + strconv.FormatInt(int64(r), 16) + `}`)
				continue
			}
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// QuoteVector renders values as an R character vector, c("a", "b")
func QuoteVector(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = QuoteString(v)
	}
	return "c(" + strings.Join(quoted, ", ") + ")"
}

// Int renders n as an R integer literal
func Int(n int) string {
	return strconv.Itoa(n) + "L"
}

// Call builds `.rbridge$fn(arg1, arg2, ...)` from already rendered args
func Call(fn string, args ...string) string {
	return ".rbridge$" + fn + "(" + strings.Join(args, ", ") + ")"
}
