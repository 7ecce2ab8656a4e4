// Package sanitize turns arbitrary field names into identifiers that are
// safe to bind inside the R session.
package sanitize

import (
	"strconv"
	"strings"
)

// Placeholder replaces names that are empty after trimming.
const Placeholder = "column"

// reserved words cannot be used as bare R names
var reserved = map[string]bool{
	"if": true, "else": true, "repeat": true, "while": true, "function": true,
	"for": true, "next": true, "break": true, "in": true,
	"TRUE": true, "FALSE": true, "NULL": true, "Inf": true, "NaN": true,
	"NA": true, "NA_integer_": true, "NA_real_": true, "NA_character_": true,
}

// Identifier normalizes a single name. It never fails: degenerate input
// yields the placeholder.
func Identifier(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return Placeholder
	}

	var b strings.Builder
	b.Grow(len(name) + 1)
	for _, r := range name {
		if isIdentRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	out := b.String()

	if first := out[0]; !isLetter(rune(first)) && first != '_' {
		out = "_" + out
	}
	if reserved[out] {
		out += "_"
	}
	return out
}

// Identifiers sanitizes a full column set. Collisions get _2, _3, ... in
// first-seen order; a suffixed name never takes a name that another column
// sanitizes to on its own, so the result is deterministic for a fixed
// input order and a no-op on already sanitized, distinct names.
func Identifiers(names []string) []string {
	bases := make([]string, len(names))
	natural := make(map[string]bool, len(names))
	for i, name := range names {
		bases[i] = Identifier(name)
		natural[bases[i]] = true
	}

	used := make(map[string]bool, len(names))
	out := make([]string, len(names))
	for i, base := range bases {
		if !used[base] {
			used[base] = true
			out[i] = base
			continue
		}
		for n := 2; ; n++ {
			candidate := base + "_" + strconv.Itoa(n)
			if used[candidate] || natural[candidate] {
				continue
			}
			used[candidate] = true
			out[i] = candidate
			break
		}
	}
	return out
}

// Mapping pairs each original name with its sanitized form
func Mapping(names []string) map[string]string {
	sanitized := Identifiers(names)
	m := make(map[string]string, len(names))
	for i, name := range names {
		if _, exists := m[name]; !exists {
			m[name] = sanitized[i]
		}
	}
	return m
}

// IsValid reports whether name is already a sanitized identifier
func IsValid(name string) bool {
	return name != "" && Identifier(name) == name
}

func isIdentRune(r rune) bool {
	return isLetter(r) || (r >= '0' && r <= '9') || r == '_'
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
