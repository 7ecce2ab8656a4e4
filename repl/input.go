package repl

import (
	"bufio"
	"errors"
	"io"
	"strings"

	"github.com/chzyer/readline"
)

// ErrInterrupted is returned by a LineReader when the user presses Ctrl+C
var ErrInterrupted = errors.New("interrupted")

// LineReader yields one line of console input at a time
type LineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
	Close() error
}

// InputConfig configures the readline console
type InputConfig struct {
	Prompt       string
	HistoryFile  string
	HistoryLimit int
	Completer    readline.AutoCompleter
}

// InputReader is the interactive LineReader backed by readline
type InputReader struct {
	rl *readline.Instance
}

// NewInputReader creates a readline reader with history and completion
func NewInputReader(cfg InputConfig) (*InputReader, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          cfg.Prompt,
		HistoryFile:     cfg.HistoryFile,
		HistoryLimit:    cfg.HistoryLimit,
		InterruptPrompt: "^C",
		EOFPrompt:       ":quit",
		AutoComplete:    cfg.Completer,
	})
	if err != nil {
		return nil, err
	}
	return &InputReader{rl: rl}, nil
}

// Readline reads one line
func (ir *InputReader) Readline() (string, error) {
	line, err := ir.rl.Readline()
	if err == readline.ErrInterrupt {
		return line, ErrInterrupted
	}
	return line, err
}

// SetPrompt sets the prompt shown for the next line
func (ir *InputReader) SetPrompt(prompt string) {
	ir.rl.SetPrompt(prompt)
}

// Close closes the input reader and flushes history
func (ir *InputReader) Close() error {
	return ir.rl.Close()
}

// SimpleInputReader reads lines from a pipe or file without echoing prompts
type SimpleInputReader struct {
	scanner *bufio.Scanner
}

// NewSimpleInputReader creates a reader over r
func NewSimpleInputReader(r io.Reader) *SimpleInputReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &SimpleInputReader{scanner: scanner}
}

// Readline returns the next line or io.EOF
func (sir *SimpleInputReader) Readline() (string, error) {
	if !sir.scanner.Scan() {
		if err := sir.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSuffix(sir.scanner.Text(), "\r"), nil
}

// SetPrompt is a no-op for piped input
func (sir *SimpleInputReader) SetPrompt(string) {}

// Close does nothing
func (sir *SimpleInputReader) Close() error { return nil }
