// Package codegen holds the contract for code-generation collaborators:
// something that turns a question about a dataset into R source.
package codegen

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"rbridge/shared"
)

// Generator produces R source for a prompt. Implementations return plain
// source; CleanSource is applied to whatever they return anyway.
type Generator interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
}

// GeneratorFunc adapts a function to Generator
type GeneratorFunc func(ctx context.Context, prompt Prompt) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt Prompt) (string, error) {
	return f(ctx, prompt)
}

// Prompt is the assembled request for a generator
type Prompt struct {
	System string `json:"system" yaml:"system"`
	User   string `json:"user" yaml:"user"`
}

// PreviewRows is how many rows of the dataset are shown to a generator
const PreviewRows = 5

// SystemPrompt instructs the generator about the execution environment
const SystemPrompt = `You write R code that runs non-interactively.
The data is already loaded in a data frame named df; do not read files or redefine df.
Print results explicitly with print() or cat(). Draw at most one plot; it is captured automatically.
Load any package you need with library(). Prefer base R and ggplot2.
Reply with R source only: no Markdown fences and no explanations outside R comments.`

// DatasetContext describes the data a question is about
type DatasetContext struct {
	Name    string
	Summary string
	Rows    *shared.RowTable
}

// BuildPrompt assembles the prompt for question about data
func BuildPrompt(question string, data DatasetContext) Prompt {
	var b strings.Builder
	name := data.Name
	if name == "" {
		name = "df"
	}
	fmt.Fprintf(&b, "Dataset: %s\n", name)
	if data.Rows != nil {
		fmt.Fprintf(&b, "Shape: %d rows x %d columns\n", data.Rows.Len(), data.Rows.Width())
	}
	if summary := strings.TrimSpace(data.Summary); summary != "" {
		b.WriteString("\nStructure (str(df)):\n")
		b.WriteString(summary)
		b.WriteString("\n")
	}
	if data.Rows != nil && !data.Rows.IsEmpty() {
		fmt.Fprintf(&b, "\nFirst rows:\n%s", shared.FormatPreview(data.Rows.Head(PreviewRows), PreviewRows))
	}
	fmt.Fprintf(&b, "\nRequest: %s\n", strings.TrimSpace(question))

	return Prompt{System: SystemPrompt, User: b.String()}
}

var fencePattern = regexp.MustCompile("(?s)```[ \t]*(?:[rR]|\\{r[^}]*\\})?[ \t]*\r?\n(.*?)```")

// CleanSource strips Markdown code fences. With several fenced blocks
// their bodies are joined; text without fences is returned trimmed.
func CleanSource(text string) string {
	matches := fencePattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		trimmed := strings.TrimSpace(text)
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	blocks := make([]string, 0, len(matches))
	for _, m := range matches {
		if body := strings.TrimSpace(m[1]); body != "" {
			blocks = append(blocks, body)
		}
	}
	return strings.Join(blocks, "\n\n")
}

// Static returns a generator that always answers source. The CLI uses it
// for -ask runs without -generator, where -e or -exec supplies the answer.
func Static(source string) Generator {
	return GeneratorFunc(func(ctx context.Context, prompt Prompt) (string, error) {
		return source, nil
	})
}

// Command returns a generator backed by an external program. The system
// and user prompts are written to its stdin separated by a blank line;
// whatever it prints on stdout is the answer.
func Command(name string, args ...string) Generator {
	return GeneratorFunc(func(ctx context.Context, prompt Prompt) (string, error) {
		cmd := exec.CommandContext(ctx, name, args...)
		cmd.Stdin = strings.NewReader(prompt.System + "\n\n" + prompt.User)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			if detail := strings.TrimSpace(stderr.String()); detail != "" {
				return "", fmt.Errorf("%s: %w: %s", name, err, detail)
			}
			return "", fmt.Errorf("%s: %w", name, err)
		}
		return stdout.String(), nil
	})
}
