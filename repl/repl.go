package repl

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"rbridge/bridge"
	"rbridge/errors"
	"rbridge/logging"
	"rbridge/marshal"
	"rbridge/shared"
)

// command describes one : command for help and completion
type command struct {
	name  string
	usage string
	help  string
}

var commands = []command{
	{"help", ":help", "show this help"},
	{"quit", ":quit", "exit the console"},
	{"datasets", ":datasets [filter]", "list the dataset catalog"},
	{"use", ":use [name]", "bind a catalog dataset to df (no name clears it)"},
	{"load", ":load <file>", "bind a CSV, TSV, JSON or YAML file to df"},
	{"head", ":head [n]", "preview the rows bound to df"},
	{"fetch", ":fetch <name>", "show a catalog dataset and its summary"},
	{"presets", ":presets", "list the preset analyses"},
	{"preset", ":preset <name>", "run a preset analysis on df"},
	{"summary", ":summary", "run summary(df)"},
	{"format", ":format <text|json|yaml>", "choose how results are printed"},
	{"markdown", ":markdown <on|off>", "render output as HTML too"},
	{"plots", ":plots <dir>", "save captured plots under dir"},
	{"buffer", ":buffer", "show the unfinished expression"},
	{"reset", ":reset", "discard the unfinished expression"},
	{"refresh", ":refresh", "drop cached datasets and catalog"},
	{"history", ":history", "show command history"},
	{"clear", ":clear", "clear the screen"},
}

// Config contains configuration for the REPL
type Config struct {
	Prompt         string
	ContinuePrompt string
	HistoryFile    string
	HistorySize    int
	ShowWelcome    bool
	EnableColors   bool
	Version        string
	Format         string
	PlotDir        string
	Dataset        string
	Upload         *bridge.UploadedData
	Out            io.Writer
}

// REPL is an interactive R console over a Bridge
type REPL struct {
	bridge    *bridge.Bridge
	cfg       Config
	display   *DisplayManager
	buffer    *MultiLineBuffer
	completer *Completer
	logger    logging.Logger

	running   bool
	history   []string
	dataset   string
	upload    *bridge.UploadedData
	markdown  bool
	plotDir   string
	plotCount int
}

// New creates a console. Zero config fields get defaults.
func New(b *bridge.Bridge, cfg Config, logger logging.Logger) *REPL {
	if cfg.Prompt == "" {
		cfg.Prompt = "R> "
	}
	if cfg.ContinuePrompt == "" {
		cfg.ContinuePrompt = "+  "
	}
	if cfg.HistorySize == 0 {
		cfg.HistorySize = 1000
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	r := &REPL{
		bridge:  b,
		cfg:     cfg,
		display: NewDisplayManager(cfg.Out, cfg.EnableColors),
		buffer:  NewMultiLineBuffer(),
		logger:  logger.WithComponent("repl"),
		dataset: cfg.Dataset,
		upload:  cfg.Upload,
		plotDir: cfg.PlotDir,
	}
	if cfg.Format != "" {
		if err := r.display.SetFormat(cfg.Format); err != nil {
			r.logger.Warn("ignoring output format", logging.StringField("format", cfg.Format), logging.ErrorField("error", err))
		}
	}
	r.completer = NewCompleter(r, 30*time.Second)
	return r
}

// isInteractive checks if the input is a terminal
func isInteractive() bool {
	fileInfo, err := os.Stdin.Stat()
	return err == nil && (fileInfo.Mode()&os.ModeCharDevice) != 0
}

// Run reads from the terminal with readline, or from stdin when piped
func (r *REPL) Run(ctx context.Context) error {
	if !isInteractive() {
		return r.RunReader(ctx, os.Stdin)
	}

	reader, err := NewInputReader(InputConfig{
		Prompt:       r.cfg.Prompt,
		HistoryFile:  expandHome(r.cfg.HistoryFile),
		HistoryLimit: r.cfg.HistorySize,
		Completer:    r.completer,
	})
	if err != nil {
		return errors.NewSystemError("READLINE_INIT_FAILED", fmt.Sprintf("failed to initialize readline: %v", err))
	}
	if r.cfg.ShowWelcome {
		r.display.ShowWelcome(r.cfg.Version)
	}
	return r.loop(ctx, reader)
}

// RunReader processes every line from in, then returns
func (r *REPL) RunReader(ctx context.Context, in io.Reader) error {
	return r.loop(ctx, NewSimpleInputReader(in))
}

func (r *REPL) loop(ctx context.Context, reader LineReader) error {
	defer func() {
		if err := reader.Close(); err != nil {
			r.logger.Warn("failed to close input", logging.ErrorField("error", err))
		}
	}()

	r.running = true
	for r.running {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		reader.SetPrompt(r.display.Prompt(r.cfg.Prompt, r.cfg.ContinuePrompt, r.buffer))

		line, err := reader.Readline()
		if err == ErrInterrupted {
			if r.buffer.IsActive() || line != "" {
				r.buffer.Clear()
				continue
			}
			break
		}
		if err == io.EOF {
			// an unfinished expression at end of input is still evaluated
			if !r.buffer.IsEmpty() {
				r.execute(ctx, r.buffer.GetContent())
				r.buffer.Clear()
			}
			break
		}
		if err != nil {
			return errors.NewSystemError("READ_ERROR", fmt.Sprintf("read error: %v", err))
		}

		r.HandleLine(ctx, line)
	}
	return nil
}

// HandleLine feeds one line of input. Commands run immediately when no
// expression is pending; R source is buffered until it is complete.
func (r *REPL) HandleLine(ctx context.Context, line string) {
	trimmed := strings.TrimSpace(line)
	if !r.buffer.IsActive() {
		if trimmed == "" {
			return
		}
		if strings.HasPrefix(trimmed, ":") {
			r.addHistory(trimmed)
			if err := r.handleCommand(ctx, trimmed); err != nil {
				r.display.ShowError(err.Error())
			}
			return
		}
	} else if trimmed == ":reset" {
		r.buffer.Clear()
		return
	} else if trimmed == ":buffer" {
		r.display.ShowBufferContent(r.buffer)
		return
	}

	r.buffer.AddLine(line)
	if !r.buffer.IsComplete() {
		return
	}
	code := r.buffer.GetContent()
	r.buffer.Clear()
	r.addHistory(code)
	r.execute(ctx, code)
}

func (r *REPL) addHistory(entry string) {
	r.history = append(r.history, entry)
	if len(r.history) > r.cfg.HistorySize {
		r.history = r.history[len(r.history)-r.cfg.HistorySize:]
	}
}

// execute runs code against the bound data and prints the result
func (r *REPL) execute(ctx context.Context, code string) {
	result := r.bridge.ExecuteRCode(ctx, code, r.dataset, r.upload, bridge.ExecuteOptions{RenderMarkdown: r.markdown})
	r.showResult(result)
}

func (r *REPL) showResult(result *bridge.ExecuteResult) {
	r.display.Show(result)
	if result.Plot == "" || r.plotDir == "" {
		return
	}
	path, err := r.savePlot(result)
	if err != nil {
		r.display.ShowWarning(fmt.Sprintf("plot not saved: %v", err))
		return
	}
	r.display.ShowInfo("plot saved to " + path)
}

func (r *REPL) savePlot(result *bridge.ExecuteResult) (string, error) {
	data, err := result.PlotBytes()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(r.plotDir, 0755); err != nil {
		return "", err
	}
	r.plotCount++
	path := filepath.Join(r.plotDir, fmt.Sprintf("plot-%03d.png", r.plotCount))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}

// handleCommand handles built-in : commands
func (r *REPL) handleCommand(ctx context.Context, input string) error {
	parts := strings.Fields(strings.TrimPrefix(input, ":"))
	if len(parts) == 0 {
		return errors.NewUserError("INVALID_COMMAND", "empty command")
	}
	name, args := parts[0], parts[1:]

	switch name {
	case "help", "h":
		r.display.ShowHelp()
	case "quit", "q", "exit":
		r.running = false
	case "datasets", "ls":
		return r.listDatasets(ctx, args)
	case "use":
		return r.useDataset(ctx, args)
	case "load":
		if len(args) != 1 {
			return errors.NewUserError("INVALID_COMMAND", "usage: :load <file>")
		}
		return r.loadFile(args[0])
	case "head":
		return r.head(ctx, args)
	case "fetch":
		if len(args) != 1 {
			return errors.NewUserError("INVALID_COMMAND", "usage: :fetch <name>")
		}
		ds, err := r.bridge.FetchDataset(ctx, args[0])
		if err != nil {
			return err
		}
		r.display.Show(ds)
	case "presets":
		r.display.Show(bridge.Presets())
	case "preset":
		if len(args) != 1 {
			return errors.NewUserError("INVALID_COMMAND", "usage: :preset <name>")
		}
		result, err := r.bridge.RunPreset(ctx, args[0], r.dataset, r.upload)
		if err != nil {
			return err
		}
		r.showResult(result)
	case "summary":
		result, err := r.bridge.RunPreset(ctx, "summary", r.dataset, r.upload)
		if err != nil {
			return err
		}
		r.showResult(result)
	case "format":
		if len(args) != 1 {
			return errors.NewUserError("INVALID_COMMAND", "usage: :format <text|json|yaml>")
		}
		return r.display.SetFormat(args[0])
	case "markdown":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			return errors.NewUserError("INVALID_COMMAND", "usage: :markdown <on|off>")
		}
		r.markdown = args[0] == "on"
	case "plots":
		if len(args) != 1 {
			return errors.NewUserError("INVALID_COMMAND", "usage: :plots <dir>")
		}
		r.plotDir = expandHome(args[0])
		r.display.ShowInfo("plots will be saved under " + r.plotDir)
	case "buffer":
		r.display.ShowBufferContent(r.buffer)
	case "reset":
		r.buffer.Clear()
	case "refresh":
		r.bridge.InvalidateCaches()
		r.completer.Invalidate()
		r.display.ShowSuccess("caches cleared")
	case "history", "hist":
		r.display.ShowHistory(r.history)
	case "clear":
		r.display.ClearScreen()
	default:
		return errors.NewUserError("UNKNOWN_COMMAND", fmt.Sprintf("unknown command: :%s (try :help)", name))
	}
	return nil
}

func (r *REPL) listDatasets(ctx context.Context, args []string) error {
	options, err := r.bridge.ListDatasets(ctx)
	if err != nil {
		return err
	}
	if len(args) > 0 {
		filter := strings.ToLower(strings.Join(args, " "))
		kept := options[:0]
		for _, opt := range options {
			if strings.Contains(strings.ToLower(opt.Value), filter) || strings.Contains(strings.ToLower(opt.Label), filter) {
				kept = append(kept, opt)
			}
		}
		options = kept
	}
	r.display.Show(options)
	return nil
}

func (r *REPL) useDataset(ctx context.Context, args []string) error {
	if len(args) == 0 {
		r.dataset, r.upload = "", nil
		r.completer.Invalidate()
		r.display.ShowInfo("df is the synthetic dataset")
		return nil
	}
	ds, err := r.bridge.FetchDataset(ctx, args[0])
	if err != nil {
		return err
	}
	r.dataset, r.upload = args[0], nil
	r.completer.Invalidate()
	r.display.ShowInfo(fmt.Sprintf("df is %s (%d rows x %d columns)", args[0], ds.Rows.Len(), ds.Rows.Width()))
	return nil
}

func (r *REPL) loadFile(path string) error {
	upload, err := marshal.ReadUploadFile(expandHome(path))
	if err != nil {
		return err
	}
	r.dataset = ""
	r.upload = &bridge.UploadedData{Data: upload.Data, Name: upload.Name}
	r.completer.Invalidate()
	r.display.ShowInfo(fmt.Sprintf("df is %s (%d rows x %d columns)", upload.Name, upload.Data.Len(), upload.Data.Width()))
	return nil
}

func (r *REPL) head(ctx context.Context, args []string) error {
	n := 6
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			return errors.NewUserError("INVALID_COMMAND", "usage: :head [n]")
		}
		n = v
	}
	table, err := r.currentTable(ctx)
	if err != nil {
		return err
	}
	if table == nil {
		r.display.ShowInfo("df is the synthetic dataset, nothing to preview")
		return nil
	}
	fmt.Fprint(r.cfg.Out, shared.FormatPreview(table, n))
	return nil
}

func (r *REPL) currentTable(ctx context.Context) (*shared.RowTable, error) {
	switch {
	case r.dataset != "":
		ds, err := r.bridge.FetchDataset(ctx, r.dataset)
		if err != nil {
			return nil, err
		}
		return ds.Rows, nil
	case r.upload != nil:
		return r.upload.Data, nil
	}
	return nil, nil
}

// DatasetNames lists catalog names for completion
func (r *REPL) DatasetNames() []string {
	options, err := r.bridge.ListDatasets(context.Background())
	if err != nil {
		r.logger.Debug("dataset completion unavailable", logging.ErrorField("error", err))
		return nil
	}
	names := make([]string, 0, len(options))
	for _, opt := range options {
		names = append(names, opt.Value)
	}
	return names
}

// CurrentColumns lists the columns of df for completion
func (r *REPL) CurrentColumns() []string {
	table, err := r.currentTable(context.Background())
	if err != nil || table == nil {
		return nil
	}
	return table.Columns
}

// History returns the commands entered so far
func (r *REPL) History() []string {
	return append([]string(nil), r.history...)
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
