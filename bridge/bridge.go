// Package bridge is the external surface of the R execution bridge. All
// calls that touch the session go through one FIFO queue, so concurrent
// callers are served one at a time in submission order.
package bridge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"rbridge/codegen"
	"rbridge/engine"
	"rbridge/errors"
	"rbridge/jobmanager"
	"rbridge/logging"
	"rbridge/marshal"
	"rbridge/runtime"
	"rbridge/shared"
)

// Featured datasets are listed first, with these labels
var Featured = []shared.DatasetOption{
	{Value: "attitude", Label: "Attitude Survey"},
	{Value: "iris", Label: "Iris Flower Data"},
	{Value: "mtcars", Label: "Motor Trend Cars"},
	{Value: "diamonds", Label: "Diamonds (ggplot2)"},
	{Value: "ability.cov", Label: "Ability Covariance Matrix"},
	{Value: "Orange", Label: "Orange Trees Growth"},
	{Value: "USArrests", Label: "US Arrests by State"},
	{Value: "airquality", Label: "New York Air Quality"},
	{Value: "faithful", Label: "Old Faithful Geyser"},
	{Value: "ChickWeight", Label: "Chick Weights"},
}

const catalogKey = "catalog"

// Options configures caching and queueing
type Options struct {
	CatalogTTL    time.Duration
	DatasetTTL    time.Duration
	MaxDatasets   uint64
	QueueCapacity int
}

// DefaultOptions caches the catalog for ten minutes and up to 32 datasets
// for five
func DefaultOptions() Options {
	return Options{
		CatalogTTL:    10 * time.Minute,
		DatasetTTL:    5 * time.Minute,
		MaxDatasets:   32,
		QueueCapacity: 64,
	}
}

// Dataset is the result of FetchDataset
type Dataset struct {
	Rows    *shared.RowTable `json:"rows" yaml:"rows"`
	Summary string           `json:"summary" yaml:"summary"`
}

func (d *Dataset) clone() *Dataset {
	return &Dataset{Rows: d.Rows.Clone(), Summary: d.Summary}
}

// UploadedData is caller-supplied rows with a display name
type UploadedData struct {
	Data *shared.RowTable `json:"data" yaml:"data"`
	Name string           `json:"name" yaml:"name"`
}

// ExecuteOptions are per-request switches
type ExecuteOptions struct {
	RenderMarkdown bool `json:"render_markdown,omitempty" yaml:"render_markdown,omitempty"`
}

// ExecuteResult is the outcome of ExecuteRCode. Plot is a PNG data URL.
// Output is kept on failure for diagnosis only.
type ExecuteResult struct {
	Success    bool             `json:"success" yaml:"success"`
	Output     string           `json:"output,omitempty" yaml:"output,omitempty"`
	OutputHTML string           `json:"output_html,omitempty" yaml:"output_html,omitempty"`
	Plot       string           `json:"plot,omitempty" yaml:"plot,omitempty"`
	PlotInfo   *engine.PlotInfo `json:"plot_info,omitempty" yaml:"plot_info,omitempty"`
	Error      string           `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorKind  errors.ErrorKind `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	Attempts   int              `json:"attempts" yaml:"attempts"`
	Installed  []string         `json:"installed,omitempty" yaml:"installed,omitempty"`
	DurationMs int64            `json:"duration_ms" yaml:"duration_ms"`
	RequestID  string           `json:"request_id,omitempty" yaml:"request_id,omitempty"`
}

// PlotBytes decodes Plot, or returns nil when there is none
func (r *ExecuteResult) PlotBytes() ([]byte, error) {
	if r.Plot == "" {
		return nil, nil
	}
	return engine.DecodeDataURL(r.Plot)
}

// AskResult is the generated source and the outcome of running it
type AskResult struct {
	Source string         `json:"source" yaml:"source"`
	Result *ExecuteResult `json:"result" yaml:"result"`
}

// Bridge serves dataset and execution requests against one session
type Bridge struct {
	session   runtime.Session
	engine    *engine.Engine
	marshaler *marshal.Marshaler
	queue     *jobmanager.JobManager
	catalog   *ttlcache.Cache[string, []shared.DatasetOption]
	datasets  *ttlcache.Cache[string, *Dataset]
	handler   errors.ErrorHandler
	metrics   *Metrics
	logger    logging.Logger
}

// New creates a bridge. metrics may be nil.
func New(session runtime.Session, eng *engine.Engine, m *marshal.Marshaler, opts Options, metrics *Metrics, logger logging.Logger) *Bridge {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	defaults := DefaultOptions()
	if opts.CatalogTTL <= 0 {
		opts.CatalogTTL = defaults.CatalogTTL
	}
	if opts.DatasetTTL <= 0 {
		opts.DatasetTTL = defaults.DatasetTTL
	}
	if opts.MaxDatasets == 0 {
		opts.MaxDatasets = defaults.MaxDatasets
	}

	b := &Bridge{
		session:   session,
		engine:    eng,
		marshaler: m,
		queue:     jobmanager.NewJobManager(opts.QueueCapacity, logger),
		catalog: ttlcache.New[string, []shared.DatasetOption](
			ttlcache.WithTTL[string, []shared.DatasetOption](opts.CatalogTTL),
		),
		datasets: ttlcache.New[string, *Dataset](
			ttlcache.WithTTL[string, *Dataset](opts.DatasetTTL),
			ttlcache.WithCapacity[string, *Dataset](opts.MaxDatasets),
		),
		handler: errors.NewDefaultErrorHandler(),
		metrics: metrics,
		logger:  logger.WithComponent("bridge"),
	}
	if metrics != nil {
		b.queue.SetDepthObserver(metrics.SetQueueDepth)
	}
	go b.catalog.Start()
	go b.datasets.Start()
	return b
}

// Close stops the queue and the cache janitors. The session is not
// closed: it belongs to the caller.
func (b *Bridge) Close() {
	b.queue.Shutdown()
	b.catalog.Stop()
	b.datasets.Stop()
}

// Queue exposes the request queue
func (b *Bridge) Queue() *jobmanager.JobManager {
	return b.queue
}

// ListDatasets enumerates the catalog. Featured datasets come first in a
// fixed order; the rest follow by name, labelled with their R title.
func (b *Bridge) ListDatasets(ctx context.Context) ([]shared.DatasetOption, error) {
	if item := b.catalog.Get(catalogKey); item != nil {
		b.cacheLookup("catalog", true)
		return append([]shared.DatasetOption(nil), item.Value()...), nil
	}
	b.cacheLookup("catalog", false)

	out, err := b.queue.Do(ctx, "list_datasets", func(ctx context.Context) (interface{}, error) {
		if err := b.session.EnsureInitialized(ctx); err != nil {
			return nil, err
		}
		return b.session.Catalog(ctx)
	})
	if err != nil {
		return nil, err
	}

	options := catalogOptions(out.([]runtime.CatalogEntry))
	b.catalog.Set(catalogKey, options, ttlcache.DefaultTTL)
	return append([]shared.DatasetOption(nil), options...), nil
}

func catalogOptions(entries []runtime.CatalogEntry) []shared.DatasetOption {
	available := make(map[string]runtime.CatalogEntry, len(entries))
	for _, entry := range entries {
		if _, dup := available[entry.Name]; !dup {
			available[entry.Name] = entry
		}
	}

	options := make([]shared.DatasetOption, 0, len(available))
	featured := make(map[string]bool, len(Featured))
	for _, f := range Featured {
		featured[f.Value] = true
		if _, ok := available[f.Value]; ok {
			options = append(options, f)
		}
	}

	rest := make([]string, 0, len(available))
	for name := range available {
		if !featured[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		label := strings.TrimSpace(available[name].Title)
		if label == "" {
			label = name
		}
		options = append(options, shared.DatasetOption{Value: name, Label: label})
	}
	return options
}

// FetchDataset loads a catalog dataset. It fails with DatasetNotFoundError
// for unknown names and never returns an empty table. The caller owns the
// returned dataset; the cached copy is never handed out.
func (b *Bridge) FetchDataset(ctx context.Context, name string) (*Dataset, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.NewDatasetNotFound(name)
	}
	if item := b.datasets.Get(name); item != nil {
		b.cacheLookup("dataset", true)
		return item.Value().clone(), nil
	}
	b.cacheLookup("dataset", false)

	out, err := b.queue.Do(ctx, "fetch_dataset "+name, func(ctx context.Context) (interface{}, error) {
		if err := b.session.EnsureInitialized(ctx); err != nil {
			return nil, err
		}
		rows, summary, err := b.marshaler.LoadNamedDataset(ctx, name)
		if err != nil {
			return nil, err
		}
		return &Dataset{Rows: rows, Summary: summary}, nil
	})
	if err != nil {
		b.logger.WithContext(ctx).Warn("fetch failed",
			logging.StringField("dataset", name),
			logging.ErrorField("error", err))
		return nil, err
	}

	ds := out.(*Dataset)
	if ds.Rows == nil || ds.Rows.IsEmpty() {
		return nil, errors.NewInterpreterRuntime(fmt.Sprintf("dataset '%s' has no rows", name)).
			WithContext("dataset", name)
	}
	b.datasets.Set(name, ds, ttlcache.DefaultTTL)
	return ds.clone(), nil
}

// ExecuteRCode runs code with df bound to datasetName, else to upload,
// else to the synthetic dataset. Failures are reported in the result.
func (b *Bridge) ExecuteRCode(ctx context.Context, code, datasetName string, upload *UploadedData, opts ExecuteOptions) *ExecuteResult {
	start := time.Now()
	req := engine.Request{
		Code:           code,
		Dataset:        strings.TrimSpace(datasetName),
		RenderMarkdown: opts.RenderMarkdown,
	}
	if upload != nil && req.Dataset == "" {
		req.Rows = upload.Data
		req.UploadName = upload.Name
	}

	requestID, _ := ctx.Value(errors.RequestIDKey).(string)
	if requestID == "" {
		if id, err := jobmanager.NewJobID(); err == nil {
			requestID = string(id)
			ctx = context.WithValue(ctx, errors.RequestIDKey, requestID)
		}
	}
	out, err := b.queue.Do(ctx, "execute", func(ctx context.Context) (interface{}, error) {
		return b.engine.Execute(ctx, req), nil
	})

	var res *ExecuteResult
	if err != nil {
		classified := errors.Classify(b.handler.Handle(ctx, err))
		res = &ExecuteResult{Error: classified.Display(), ErrorKind: classified.Kind}
	} else {
		res = fromEngine(out.(*engine.Result))
	}
	res.RequestID = requestID
	res.DurationMs = time.Since(start).Milliseconds()

	if b.metrics != nil {
		b.metrics.ObserveExecution(res, time.Since(start))
	}
	logger := b.logger.WithRequest(requestID)
	if res.Success {
		logger.Debug("execution succeeded", logging.IntField("attempts", res.Attempts))
	} else {
		logger.Info("execution failed",
			logging.StringField("kind", string(res.ErrorKind)),
			logging.StringField("error", res.Error))
	}
	return res
}

func fromEngine(r *engine.Result) *ExecuteResult {
	res := &ExecuteResult{
		Success:    r.Success,
		Output:     r.Output,
		OutputHTML: r.OutputHTML,
		Plot:       engine.DataURL(r.Plot),
		PlotInfo:   r.PlotInfo,
		Attempts:   r.Attempts,
		Installed:  r.Installed,
	}
	if r.Error != nil {
		res.Success = false
		res.Error = r.Error.Display()
		res.ErrorKind = r.Error.Kind
	}
	return res
}

// Ask has gen write R source for question and executes it. The data
// context is the named dataset, else the upload, else none.
func (b *Bridge) Ask(ctx context.Context, gen codegen.Generator, question, datasetName string, upload *UploadedData) (*AskResult, error) {
	data := codegen.DatasetContext{Name: strings.TrimSpace(datasetName)}
	switch {
	case data.Name != "":
		ds, err := b.FetchDataset(ctx, data.Name)
		if err != nil {
			return nil, err
		}
		data.Rows = ds.Rows
		data.Summary = ds.Summary
	case upload != nil && upload.Data != nil && !upload.Data.IsEmpty():
		desc, err := b.describeUpload(ctx, upload)
		if err != nil {
			return nil, err
		}
		data.Name = upload.Name
		data.Rows = upload.Data
		data.Summary = desc.SummaryText
	}

	raw, err := gen.Generate(ctx, codegen.BuildPrompt(question, data))
	if err != nil {
		return nil, fmt.Errorf("code generation failed: %w", err)
	}
	source := codegen.CleanSource(raw)
	if source == "" {
		return nil, fmt.Errorf("code generation returned no source")
	}

	return &AskResult{
		Source: source,
		Result: b.ExecuteRCode(ctx, source, datasetName, upload, ExecuteOptions{}),
	}, nil
}

func (b *Bridge) describeUpload(ctx context.Context, upload *UploadedData) (shared.DatasetDescriptor, error) {
	out, err := b.queue.Do(ctx, "describe_upload", func(ctx context.Context) (interface{}, error) {
		if err := b.session.EnsureInitialized(ctx); err != nil {
			return nil, err
		}
		return b.marshaler.DescribeInline(ctx, upload.Name, upload.Data)
	})
	if err != nil {
		return shared.DatasetDescriptor{}, err
	}
	return out.(shared.DatasetDescriptor), nil
}

// RunPreset executes a named preset analysis
func (b *Bridge) RunPreset(ctx context.Context, name, datasetName string, upload *UploadedData) (*ExecuteResult, error) {
	preset, ok := LookupPreset(name)
	if !ok {
		return nil, fmt.Errorf("unknown preset %q (available: %s)", name, strings.Join(PresetNames(), ", "))
	}
	return b.ExecuteRCode(ctx, preset.Code, datasetName, upload, ExecuteOptions{}), nil
}

// InvalidateCaches drops the cached catalog and datasets
func (b *Bridge) InvalidateCaches() {
	b.catalog.DeleteAll()
	b.datasets.DeleteAll()
}

func (b *Bridge) cacheLookup(cache string, hit bool) {
	if b.metrics != nil {
		b.metrics.cacheLookup(cache, hit)
	}
}
