package repl

import (
	"fmt"
	"io"
	"strings"

	"rbridge/serialization"
)

// ANSI color codes keyed by message type
var colors = map[string]string{
	"primary":      "\033[36m",
	"continuation": "\033[90m",
	"reset":        "\033[0m",
	"success":      "\033[32m",
	"error":        "\033[31m",
	"warning":      "\033[33m",
	"info":         "\033[34m",
}

// DisplayManager formats console output
type DisplayManager struct {
	out       io.Writer
	useColors bool
	format    string
	registry  *serialization.SerializerRegistry
}

// NewDisplayManager creates a display manager writing to out
func NewDisplayManager(out io.Writer, useColors bool) *DisplayManager {
	return &DisplayManager{
		out:       out,
		useColors: useColors,
		format:    "text",
		registry:  serialization.NewDefaultSerializerRegistry(),
	}
}

// SetFormat selects the encoder used for results
func (dm *DisplayManager) SetFormat(format string) error {
	if _, err := dm.registry.GetSerializer(format); err != nil {
		return err
	}
	dm.format = strings.ToLower(format)
	return nil
}

// Format returns the current result format
func (dm *DisplayManager) Format() string {
	return dm.format
}

// Prompt returns the primary or continuation prompt
func (dm *DisplayManager) Prompt(prompt, continuation string, buffer *MultiLineBuffer) string {
	if buffer.IsActive() {
		return dm.colorize(continuation, "continuation")
	}
	return dm.colorize(prompt, "primary")
}

func (dm *DisplayManager) colorize(text, kind string) string {
	if !dm.useColors {
		return text
	}
	color, ok := colors[kind]
	if !ok {
		color = colors["primary"]
	}
	return color + text + colors["reset"]
}

// Show encodes v with the current format
func (dm *DisplayManager) Show(v interface{}) {
	serializer, err := dm.registry.GetSerializer(dm.format)
	if err != nil {
		dm.ShowError(err.Error())
		return
	}
	data, err := serializer.Serialize(v)
	if err != nil {
		dm.ShowError(err.Error())
		return
	}
	_, _ = dm.out.Write(data)
}

// ShowError displays an error message
func (dm *DisplayManager) ShowError(message string) {
	fmt.Fprintln(dm.out, dm.colorize(message, "error"))
}

// ShowWarning displays a warning message
func (dm *DisplayManager) ShowWarning(message string) {
	fmt.Fprintln(dm.out, dm.colorize("Warning: "+message, "warning"))
}

// ShowInfo displays an info message
func (dm *DisplayManager) ShowInfo(message string) {
	fmt.Fprintln(dm.out, dm.colorize(message, "info"))
}

// ShowSuccess displays a success message
func (dm *DisplayManager) ShowSuccess(message string) {
	fmt.Fprintln(dm.out, dm.colorize("✓ "+message, "success"))
}

// ShowWelcome displays the welcome message
func (dm *DisplayManager) ShowWelcome(version string) {
	fmt.Fprintf(dm.out, "%s\n", dm.colorize("rbridge "+version+" - R console", "success"))
	fmt.Fprintln(dm.out, "Type ':help' for commands, ':quit' to exit.")
	fmt.Fprintln(dm.out, "Unfinished expressions continue on the next line; the current table is bound to df.")
	fmt.Fprintln(dm.out)
}

// ShowHelp lists the console commands
func (dm *DisplayManager) ShowHelp() {
	fmt.Fprintln(dm.out, dm.colorize("Commands:", "primary"))
	for _, c := range commands {
		fmt.Fprintf(dm.out, "  %-22s %s\n", c.usage, c.help)
	}
}

// ShowBufferContent displays the lines waiting in the buffer
func (dm *DisplayManager) ShowBufferContent(buffer *MultiLineBuffer) {
	if buffer.IsEmpty() {
		dm.ShowInfo("buffer is empty")
		return
	}
	for i, line := range buffer.lines {
		fmt.Fprintf(dm.out, "%s %s\n", dm.colorize(fmt.Sprintf("%3d:", i+1), "continuation"), line)
	}
}

// ShowHistory displays command history
func (dm *DisplayManager) ShowHistory(history []string) {
	if len(history) == 0 {
		dm.ShowInfo("no history")
		return
	}
	for i, cmd := range history {
		fmt.Fprintf(dm.out, "%s %s\n", dm.colorize(fmt.Sprintf("%3d:", i+1), "continuation"), cmd)
	}
}

// ClearScreen clears the terminal screen
func (dm *DisplayManager) ClearScreen() {
	fmt.Fprint(dm.out, "\033[H\033[2J")
}
