package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"rbridge/errors"
	"rbridge/logging"
	"rbridge/marshal"
	"rbridge/resolver"
	"rbridge/runtime"
	"rbridge/shared"
)

// DataName is the name the request's table is bound to in the scope
const DataName = "df"

// Options configures evaluation
type Options struct {
	// MaxExecutionTime bounds each evaluation; zero disables the limit.
	MaxExecutionTime time.Duration
	PlotWidth        int
	PlotHeight       int
	PlotResolution   int
	RenderMarkdown   bool
	TempDir          string
}

// DefaultOptions returns a two minute budget and an 800x600 plot
func DefaultOptions() Options {
	return Options{
		MaxExecutionTime: 2 * time.Minute,
		PlotWidth:        800,
		PlotHeight:       600,
		PlotResolution:   96,
	}
}

// Request is one piece of source to run against a dataset. Dataset names
// a catalog entry; otherwise Rows is materialized; when neither is given
// the synthetic dataset is bound.
type Request struct {
	Code       string
	Dataset    string
	Rows       *shared.RowTable
	UploadName string
	// RenderMarkdown asks for OutputHTML even when the engine default is off.
	RenderMarkdown bool
}

// Result is the outcome of one request. Output and Plot are kept when
// Error is set: they hold whatever the failed attempt produced, for
// diagnosis only.
type Result struct {
	Success    bool
	Output     string
	OutputHTML string
	Plot       []byte
	PlotInfo   *PlotInfo
	Error      *errors.ClassifiedError
	Attempts   int
	Installed  []string
	Duration   time.Duration
}

// Engine runs user source in a fresh scope per request
type Engine struct {
	session   runtime.Session
	resolver  *resolver.Resolver
	marshaler *marshal.Marshaler
	handler   errors.ErrorHandler
	opts      Options
	logger    logging.Logger
}

// New creates an engine. The session must be shared with resolver and
// marshaler.
func New(session runtime.Session, res *resolver.Resolver, m *marshal.Marshaler, opts Options, logger logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if opts.PlotWidth <= 0 {
		opts.PlotWidth = 800
	}
	if opts.PlotHeight <= 0 {
		opts.PlotHeight = 600
	}
	if opts.PlotResolution <= 0 {
		opts.PlotResolution = 96
	}
	return &Engine{
		session:   session,
		resolver:  res,
		marshaler: m,
		handler:   errors.NewDefaultErrorHandler(),
		opts:      opts,
		logger:    logger.WithComponent("engine"),
	}
}

// Options returns the engine options
func (e *Engine) Options() Options {
	return e.opts
}

// Execute runs req. It never returns a Go error: every failure is
// classified into Result.Error.
func (e *Engine) Execute(ctx context.Context, req Request) *Result {
	start := time.Now()
	logger := e.logger.WithContext(ctx)
	result := &Result{}
	defer func() {
		result.Duration = time.Since(start)
	}()

	if err := e.session.EnsureInitialized(ctx); err != nil {
		e.fail(ctx, result, err)
		logger.ErrorExecution(err)
		return result
	}

	report, err := e.resolver.Resolve(ctx, req.Code)
	if err != nil {
		e.fail(ctx, result, err)
		return result
	}
	result.Installed = report.Installed

	guard := runtime.NewHandleGuard(e.session)
	defer func() {
		if err := guard.Release(ctx); err != nil {
			logger.Warn("failed to release request handles", logging.ErrorField("error", err))
		}
	}()

	scope, err := guard.Track(e.session.NewScope(ctx))
	if err != nil {
		e.fail(ctx, result, err)
		return result
	}

	data, err := guard.Track(e.bindData(ctx, req))
	if err != nil {
		e.fail(ctx, result, err)
		return result
	}
	if err := e.session.Bind(ctx, scope, DataName, data); err != nil {
		e.fail(ctx, result, err)
		return result
	}

	e.evaluate(ctx, logger, scope, req.Code, result)

	if result.Error == nil {
		result.Success = true
		if (e.opts.RenderMarkdown || req.RenderMarkdown) && result.Output != "" {
			html, err := RenderMarkdown(result.Output)
			if err != nil {
				logger.Warn("markdown rendering failed", logging.ErrorField("error", err))
			} else {
				result.OutputHTML = html
			}
		}
	}

	logger.Info("request executed",
		logging.BoolField("success", result.Success),
		logging.IntField("attempts", result.Attempts),
		logging.BoolField("plot", result.Plot != nil),
		logging.DurationField("elapsed", time.Since(start)))
	return result
}

// bindData produces the table bound to df
func (e *Engine) bindData(ctx context.Context, req Request) (runtime.Handle, error) {
	switch {
	case req.Dataset != "":
		return e.session.LoadDataset(ctx, req.Dataset)
	case req.Rows != nil && !req.Rows.IsEmpty() && req.Rows.Width() > 0:
		e.logger.Debug("materializing upload",
			logging.StringField("upload", req.UploadName),
			logging.IntField("rows", req.Rows.Len()))
		return e.marshaler.MaterializeInline(ctx, req.Rows)
	default:
		return e.session.SyntheticDataset(ctx)
	}
}

// evaluate runs the code, retrying once after installing a missing
// package. Each attempt gets its own capture surface and time budget; the
// install in between is bounded by the resolver's install timeout.
func (e *Engine) evaluate(ctx context.Context, logger logging.Logger, scope runtime.Handle, code string, result *Result) {
	retried := false
	for {
		result.Attempts++
		output, plot, gerr, err := e.attempt(ctx, logger, scope, code)
		result.Output = output
		result.Plot = nil
		result.PlotInfo = nil
		if plot != nil {
			info, perr := InspectPNG(plot)
			if perr != nil {
				logger.Warn("discarding captured plot", logging.ErrorField("error", perr))
			} else {
				result.Plot = plot
				result.PlotInfo = &info
			}
		}

		if err != nil {
			e.fail(ctx, result, err)
			return
		}
		if gerr == nil {
			result.Error = nil
			return
		}

		classified := Classify(gerr).WithOutput(output)
		strategy := e.handler.Recover(ctx, classified)
		if !retried && strategy.ShouldRetry && classified.Kind == errors.KindPackageMissing && classified.Package != "" {
			retried = true
			logger.Info("installing missing package before retry", logging.StringField("package", classified.Package))
			ierr := e.resolver.Install(ctx, classified.Package)
			if ierr == nil {
				continue
			}
			logger.Warn("recovery install failed",
				logging.StringField("package", classified.Package),
				logging.ErrorField("error", ierr))
		}

		result.Error = errors.Classify(classified)
		return
	}
}

// attempt opens the device, evaluates, and always closes the device. The
// returned error is a transport failure; guest errors come back in gerr.
func (e *Engine) attempt(ctx context.Context, logger logging.Logger, scope runtime.Handle, code string) (string, []byte, *runtime.GuestError, error) {
	plotPath, err := e.plotPath()
	if err != nil {
		return "", nil, nil, err
	}
	defer os.Remove(plotPath)

	spec := runtime.DeviceSpec{
		Path:       plotPath,
		Width:      e.opts.PlotWidth,
		Height:     e.opts.PlotHeight,
		Resolution: e.opts.PlotResolution,
	}
	if err := e.session.OpenDevice(ctx, spec); err != nil {
		return "", nil, nil, fmt.Errorf("failed to open graphics device: %w", err)
	}

	evalCtx := ctx
	if e.opts.MaxExecutionTime > 0 {
		var cancel context.CancelFunc
		evalCtx, cancel = context.WithTimeout(ctx, e.opts.MaxExecutionTime)
		defer cancel()
	}

	res, evalErr := e.session.Evaluate(evalCtx, scope, code)
	drew, err := e.session.CloseDevice(context.WithoutCancel(ctx))
	if evalErr != nil {
		// a killed session fails the close at once; nothing was captured
		return "", nil, nil, evalErr
	}
	if err != nil {
		logger.Warn("failed to close graphics device", logging.ErrorField("error", err))
	}

	var plot []byte
	if drew {
		data, readErr := os.ReadFile(plotPath)
		if readErr != nil {
			logger.Warn("plot was drawn but cannot be read", logging.ErrorField("error", readErr))
		} else if len(data) > 0 {
			plot = data
		}
	}
	return res.Output, plot, res.Err, nil
}

func (e *Engine) plotPath() (string, error) {
	dir := e.opts.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	f, err := os.CreateTemp(dir, "rbridge-plot-*.png")
	if err != nil {
		return "", fmt.Errorf("failed to create plot file: %w", err)
	}
	path := f.Name()
	_ = f.Close()
	_ = os.Remove(path)
	return filepath.Clean(path), nil
}

// fail records a failure outside evaluation. A dead session invalidates
// the resolver's view of installed packages.
func (e *Engine) fail(ctx context.Context, result *Result, err error) {
	var execErr *errors.ExecutionError
	var gerr *runtime.GuestError
	if _, ok := errors.AsExecutionError(err); !ok && stderrors.As(err, &gerr) {
		execErr = Classify(gerr)
	} else {
		execErr = e.handler.Handle(ctx, err)
	}
	if execErr.Kind == errors.KindTimeout || execErr.Kind == errors.KindInitialization {
		e.resolver.Invalidate()
	}
	result.Success = false
	result.Error = errors.Classify(execErr)
}
