package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"rbridge/bridge"
	"rbridge/engine"
	"rbridge/factory"
	"rbridge/logging"
	"rbridge/marshal"
	"rbridge/repl"
	"rbridge/resolver"
	"rbridge/runtime"
	"rbridge/runtime/rlang"
	"rbridge/serialization"
)

const version = "0.1.0"

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file (YAML or JSON)")
		saveConfig  = flag.String("save-config", "", "Write the effective configuration to this path and exit")
		showVersion = flag.Bool("version", false, "Show version information")

		code       = flag.String("e", "", "R code to execute")
		execFile   = flag.String("exec", "", "Execute an R script in batch mode")
		ask        = flag.String("ask", "", "Generate R code for a question and run it")
		generator  = flag.String("generator", "", "Command that answers -ask prompts on stdout (prompt on stdin)")
		dataset    = flag.String("dataset", "", "Catalog dataset bound to df")
		uploadPath = flag.String("upload", "", "CSV, TSV, JSON or YAML file bound to df")
		preset     = flag.String("preset", "", "Run a preset analysis ("+strings.Join(bridge.PresetNames(), ", ")+")")
		listData   = flag.Bool("datasets", false, "List the dataset catalog")
		fetch      = flag.String("fetch", "", "Print a catalog dataset and its summary")
		format     = flag.String("format", "text", "Output format ("+strings.Join(serialization.GetSupportedFormats(), ", ")+")")
		plotOut    = flag.String("plot-out", "", "Write a captured plot to this PNG file")
		markdown   = flag.Bool("markdown", false, "Also render output as HTML")

		mcpMode     = flag.Bool("mcp", false, "Serve list_datasets, fetch_dataset and execute_r_code over MCP stdio")
		metricsAddr = flag.String("metrics", "", "Expose Prometheus metrics on this address")
		doctor      = flag.Bool("doctor", false, "Run environment diagnostics")
		verbose     = flag.Bool("verbose", false, "Enable debug logging")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("rbridge v%s\n", version)
		return
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *verbose {
		cfg.Engine.Verbose = true
		cfg.Logging.Level = "debug"
	}
	if *metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Address = *metricsAddr
	}
	if *markdown {
		cfg.Engine.RenderMarkdown = true
	}
	if *saveConfig != "" {
		if err := SaveConfig(cfg, *saveConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// a positional argument is a script, as in `rbridge analysis.R`
	if *execFile == "" && flag.NArg() > 0 {
		*execFile = flag.Arg(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, cfg, runOptions{
		Doctor:   *doctor,
		MCP:      *mcpMode,
		Datasets: *listData,
		Fetch:    *fetch,
		Batch: BatchOptions{
			Code:       *code,
			File:       *execFile,
			Question:   *ask,
			Generator:  *generator,
			Dataset:    *dataset,
			UploadPath: *uploadPath,
			Preset:     *preset,
			Format:     *format,
			PlotOut:    *plotOut,
			Markdown:   cfg.Engine.RenderMarkdown,
		},
	}))
}

type runOptions struct {
	Doctor   bool
	MCP      bool
	Datasets bool
	Fetch    string
	Batch    BatchOptions
}

// run dispatches to the selected mode and returns the exit code
func run(ctx context.Context, cfg *Config, opts runOptions) int {
	a, err := newApp(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close()

	switch {
	case opts.Doctor:
		report := a.doctor(ctx)
		fmt.Print(report.String())
		if !report.OK() {
			return 1
		}
		return 0

	case opts.MCP:
		if err := runMCPServer(ctx, a.bridge, a.logger); err != nil {
			a.logger.Error("MCP server stopped", logging.ErrorField("error", err))
			return 1
		}
		return 0

	case opts.Datasets:
		options, err := a.bridge.ListDatasets(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return printValue(os.Stdout, options, opts.Batch.Format)

	case opts.Fetch != "":
		ds, err := a.bridge.FetchDataset(ctx, opts.Fetch)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return printValue(os.Stdout, ds, opts.Batch.Format)

	case opts.Batch.HasWork():
		ok, err := RunBatch(ctx, a.bridge, opts.Batch, os.Stdout)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		if !ok {
			return 1
		}
		return 0
	}

	upload, err := loadUpload(opts.Batch.UploadPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	console := repl.New(a.bridge, repl.Config{
		Prompt:       cfg.REPL.Prompt,
		HistoryFile:  cfg.REPL.HistoryFile,
		HistorySize:  cfg.REPL.HistorySize,
		ShowWelcome:  cfg.REPL.ShowWelcome,
		EnableColors: cfg.REPL.Colors,
		Version:      "v" + version,
		Format:       opts.Batch.Format,
		PlotDir:      cfg.REPL.PlotDir,
		Dataset:      opts.Batch.Dataset,
		Upload:       upload,
	}, a.logger)
	if err := console.Run(ctx); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func printValue(w io.Writer, v interface{}, format string) int {
	data, err := serialization.Serialize(v, format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	_, _ = w.Write(data)
	return 0
}

// app holds the wired components
type app struct {
	cfg       *Config
	logger    logging.Logger
	logCloser io.Closer
	factory   *factory.RSessionFactory
	session   runtime.Session
	resolver  *resolver.Resolver
	metrics   *bridge.Metrics
	bridge    *bridge.Bridge
	metricSrv *http.Server
}

// newApp wires factory, session, resolver, marshaler, engine and bridge.
// The R process itself starts on first use.
func newApp(cfg *Config) (*app, error) {
	logger, closer, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	f := factory.NewRSessionFactory(rlang.Options{
		Binary:         cfg.R.Binary,
		Args:           cfg.R.Args,
		WorkDir:        expandHome(cfg.R.WorkDir),
		StartupTimeout: seconds(cfg.R.StartupTimeoutSeconds),
		Verbose:        cfg.Engine.Verbose,
	}, logger)
	session, err := f.CreateSession()
	if err != nil {
		return nil, err
	}

	metrics := bridge.NewMetrics()
	res := resolver.New(session, resolver.Options{
		Baseline:       cfg.Packages.Baseline,
		PrimaryRepo:    cfg.Packages.PrimaryRepo,
		FallbackRepo:   cfg.Packages.FallbackRepo,
		AutoInstall:    cfg.Packages.AutoInstall,
		InstallTimeout: seconds(cfg.Engine.InstallTimeout),
	}, logger)
	res.SetObserver(metrics)

	m := marshal.New(session, logger)
	eng := engine.New(session, res, m, engine.Options{
		MaxExecutionTime: seconds(cfg.Engine.MaxExecutionTime),
		PlotWidth:        cfg.Engine.PlotWidth,
		PlotHeight:       cfg.Engine.PlotHeight,
		PlotResolution:   cfg.Engine.PlotResolution,
		RenderMarkdown:   cfg.Engine.RenderMarkdown,
	}, logger)
	b := bridge.New(session, eng, m, bridge.Options{
		CatalogTTL:  seconds(cfg.Cache.CatalogTTLSeconds),
		DatasetTTL:  seconds(cfg.Cache.DatasetTTLSeconds),
		MaxDatasets: cfg.Cache.MaxDatasets,
	}, metrics, logger)

	a := &app{
		cfg:       cfg,
		logger:    logger,
		logCloser: closer,
		factory:   f,
		session:   session,
		resolver:  res,
		metrics:   metrics,
		bridge:    b,
	}
	if cfg.Metrics.Enabled {
		a.metricSrv = startMetricsServer(cfg.Metrics.Address, metrics, logger)
	}
	return a, nil
}

func (a *app) doctor(ctx context.Context) *factory.Report {
	return factory.Doctor(ctx, factory.DoctorOptions{
		Factory:  a.factory,
		Session:  a.session,
		Resolver: a.resolver,
		Repos:    []string{a.cfg.Packages.PrimaryRepo, a.cfg.Packages.FallbackRepo},
	})
}

// Close stops the bridge, the R process, the metrics listener and the log file
func (a *app) Close() {
	a.bridge.Close()
	if err := a.session.Close(); err != nil {
		a.logger.Warn("failed to stop R session", logging.ErrorField("error", err))
	}
	if a.metricSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.metricSrv.Shutdown(ctx)
	}
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}

// newLogger builds the logrus-backed logger. Logs go to stderr unless a
// file is configured, in which case they rotate by size.
func newLogger(cfg LoggingConfig) (logging.Logger, io.Closer, error) {
	var out io.Writer = os.Stderr
	var closer io.Closer
	if cfg.File != "" {
		w, err := logging.NewRotatingFileWriter(expandHome(cfg.File), int64(cfg.MaxSizeMB)*1024*1024, cfg.MaxBackups, cfg.Compress)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out, closer = w, w
	}
	logger := logging.NewDefaultLoggerWithConfig(logging.LoggerConfig{
		Level:  logging.ParseLevel(cfg.Level),
		Format: cfg.Format,
		Output: out,
	})
	return logger, closer, nil
}

func startMetricsServer(addr string, metrics *bridge.Metrics, logger logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics listener failed", logging.StringField("address", addr), logging.ErrorField("error", err))
		}
	}()
	logger.Info("serving metrics", logging.StringField("address", addr))
	return srv
}
