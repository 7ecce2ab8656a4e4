package bridge

import (
	"context"
	stderrors "errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rbridge/codegen"
	"rbridge/engine"
	"rbridge/errors"
	"rbridge/marshal"
	"rbridge/resolver"
	"rbridge/runtime"
	"rbridge/runtime/rtest"
	"rbridge/shared"
)

func newTestBridge(t *testing.T, fake *rtest.Session) (*Bridge, *Metrics) {
	t.Helper()
	metrics := NewMetrics()

	resOpts := resolver.DefaultOptions()
	resOpts.PrimaryRepo = "primary"
	resOpts.FallbackRepo = "fallback"
	res := resolver.New(fake, resOpts, nil)
	res.SetObserver(metrics)

	engOpts := engine.DefaultOptions()
	engOpts.TempDir = t.TempDir()
	m := marshal.New(fake, nil)
	eng := engine.New(fake, res, m, engOpts, nil)

	b := New(fake, eng, m, DefaultOptions(), metrics, nil)
	t.Cleanup(b.Close)
	return b, metrics
}

func TestListDatasetsOrdersFeaturedFirst(t *testing.T) {
	fake := rtest.New()
	fake.Datasets["airquality"] = rtest.Iris()
	fake.Datasets["BOD"] = rtest.Iris()
	fake.Datasets["zzz"] = rtest.Iris()
	fake.Titles["BOD"] = "Biochemical Oxygen Demand"
	b, metrics := newTestBridge(t, fake)

	options, err := b.ListDatasets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []shared.DatasetOption{
		{Value: "iris", Label: "Iris Flower Data"},
		{Value: "mtcars", Label: "Motor Trend Cars"},
		{Value: "airquality", Label: "New York Air Quality"},
		{Value: "BOD", Label: "Biochemical Oxygen Demand"},
		{Value: "zzz", Label: "zzz"},
	}, options)

	options[0].Label = "changed"
	again, err := b.ListDatasets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Iris Flower Data", again[0].Label)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.cacheLookups.WithLabelValues("catalog", "hit")))
}

func TestFetchDataset(t *testing.T) {
	fake := rtest.New()
	b, metrics := newTestBridge(t, fake)
	ctx := context.Background()

	ds, err := b.FetchDataset(ctx, "iris")
	require.NoError(t, err)
	assert.Greater(t, ds.Rows.Len(), 0)
	assert.NotEmpty(t, ds.Summary)

	_, err = b.FetchDataset(ctx, "iris")
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.cacheLookups.WithLabelValues("dataset", "hit")))
	assert.Equal(t, 0, fake.LiveHandles())
}

func TestFetchDatasetReturnsPrivateCopy(t *testing.T) {
	b, _ := newTestBridge(t, rtest.New())
	ctx := context.Background()

	first, err := b.FetchDataset(ctx, "iris")
	require.NoError(t, err)
	want := first.Rows.Len()
	head := first.Rows.Rows[0][first.Rows.Columns[0]]

	first.Rows.Rows[0][first.Rows.Columns[0]] = "tampered"
	first.Rows.Rows = first.Rows.Rows[:1]

	again, err := b.FetchDataset(ctx, "iris")
	require.NoError(t, err)
	assert.Equal(t, want, again.Rows.Len())
	assert.Equal(t, head, again.Rows.Rows[0][again.Rows.Columns[0]])

	again.Rows.Columns[0] = "renamed"
	third, err := b.FetchDataset(ctx, "iris")
	require.NoError(t, err)
	assert.NotEqual(t, "renamed", third.Rows.Columns[0])
}

func TestFetchDatasetNotFound(t *testing.T) {
	fake := rtest.New()
	b, _ := newTestBridge(t, fake)

	for _, name := range []string{"not-a-real-name", "   "} {
		_, err := b.FetchDataset(context.Background(), name)
		require.Error(t, err)
		assert.True(t, errors.IsKind(err, errors.KindDatasetNotFound), name)
	}
}

func TestFetchDatasetRejectsEmptyTable(t *testing.T) {
	fake := rtest.New()
	fake.Datasets["empty"] = &runtime.Frame{Columns: []runtime.Column{
		{Name: "x", Type: runtime.ColumnNumeric, Values: []interface{}{}},
	}}
	b, _ := newTestBridge(t, fake)

	_, err := b.FetchDataset(context.Background(), "empty")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no rows")
}

func TestExecuteRCodePlot(t *testing.T) {
	fake := rtest.New()
	b, _ := newTestBridge(t, fake)
	ctx := context.Background()

	drawn := b.ExecuteRCode(ctx, "hist(df$value)", "", nil, ExecuteOptions{})
	require.True(t, drawn.Success, drawn.Error)
	assert.True(t, strings.HasPrefix(drawn.Plot, "data:image/png;base64,"))
	png, err := drawn.PlotBytes()
	require.NoError(t, err)
	info, err := engine.InspectPNG(png)
	require.NoError(t, err)
	assert.Equal(t, 800, info.Width)
	assert.NotEmpty(t, drawn.RequestID)

	plain := b.ExecuteRCode(ctx, `cat("no plot")`, "", nil, ExecuteOptions{})
	require.True(t, plain.Success)
	assert.Equal(t, "", plain.Plot)
	assert.Nil(t, plain.PlotInfo)
	png, err = plain.PlotBytes()
	require.NoError(t, err)
	assert.Nil(t, png)
}

func TestExecuteRCodeUpload(t *testing.T) {
	fake := rtest.New()
	b, _ := newTestBridge(t, fake)

	upload := &UploadedData{
		Name: "scores.csv",
		Data: shared.NewRowTable([]string{"Score %"}, []shared.Row{{"Score %": 1}, {"Score %": 2}, {"Score %": 3}}),
	}
	res := b.ExecuteRCode(context.Background(), "nrow(df)", "", upload, ExecuteOptions{})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "[1] 3\n", res.Output)

	res = b.ExecuteRCode(context.Background(), "nrow(df)", "mtcars", upload, ExecuteOptions{})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "[1] 3\n", res.Output)
}

func TestExecuteRCodeErrors(t *testing.T) {
	fake := rtest.New()
	b, metrics := newTestBridge(t, fake)
	ctx := context.Background()

	res := b.ExecuteRCode(ctx, "cat(\"before\")\nstop(\"Error: Error: failed\")", "iris", nil, ExecuteOptions{})
	assert.False(t, res.Success)
	assert.Equal(t, "Error: failed", res.Error)
	assert.Equal(t, errors.KindInterpreterRuntime, res.ErrorKind)
	assert.Equal(t, "before", res.Output)

	res = b.ExecuteRCode(ctx, "summary(df)", "not-a-real-name", nil, ExecuteOptions{})
	assert.False(t, res.Success)
	assert.Equal(t, errors.KindDatasetNotFound, res.ErrorKind)
	assert.True(t, strings.HasPrefix(res.Error, "Error: "))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.executions.WithLabelValues("failure", string(errors.KindInterpreterRuntime))))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.executions.WithLabelValues("failure", string(errors.KindDatasetNotFound))))
}

func TestExecuteRCodeInstallsAndCountsRetries(t *testing.T) {
	fake := rtest.New()
	fake.Installable["tidyr"] = true
	fake.FailRepos["primary"] = true
	b, metrics := newTestBridge(t, fake)

	res := b.ExecuteRCode(context.Background(), "library(tidyr)\ncat(\"ok\")", "", nil, ExecuteOptions{})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, []string{"tidyr"}, res.Installed)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.installs.WithLabelValues("primary", resolver.ResultFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.installs.WithLabelValues("fallback", resolver.ResultInstalled)))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.retries))
}

func TestConcurrentExecutionsAreIndependent(t *testing.T) {
	fake := rtest.New()
	b, _ := newTestBridge(t, fake)

	codes := []string{"plot(1)\ncat(\"first\")", `cat("second")`, "nrow(df)", `stop("third failed")`}
	results := make([]*ExecuteResult, len(codes))
	var wg sync.WaitGroup
	for i, code := range codes {
		wg.Add(1)
		go func(i int, code string) {
			defer wg.Done()
			results[i] = b.ExecuteRCode(context.Background(), code, "iris", nil, ExecuteOptions{})
		}(i, code)
	}
	wg.Wait()

	assert.Equal(t, "first", results[0].Output)
	assert.NotEmpty(t, results[0].Plot)
	assert.Equal(t, "second", results[1].Output)
	assert.Empty(t, results[1].Plot)
	assert.Equal(t, "[1] 5\n", results[2].Output)
	assert.False(t, results[3].Success)
	assert.Equal(t, "Error: third failed", results[3].Error)
	assert.Equal(t, 0, fake.LiveHandles())
	assert.Equal(t, 0, b.Queue().Depth())
}

func TestExecuteRCodeCancelledWhileQueued(t *testing.T) {
	fake := rtest.New()
	b, _ := newTestBridge(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := b.ExecuteRCode(ctx, `cat("never")`, "", nil, ExecuteOptions{})
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
	assert.Equal(t, 0, fake.EvaluationCount())
}

func TestExecuteRCodeMarkdown(t *testing.T) {
	fake := rtest.New()
	b, _ := newTestBridge(t, fake)

	res := b.ExecuteRCode(context.Background(), `cat("| a |\n|---|\n| 1 |\n")`, "", nil, ExecuteOptions{RenderMarkdown: true})
	require.True(t, res.Success)
	assert.Contains(t, res.OutputHTML, "<table>")
}

func TestAsk(t *testing.T) {
	fake := rtest.New()
	b, _ := newTestBridge(t, fake)

	var prompt codegen.Prompt
	gen := codegen.GeneratorFunc(func(ctx context.Context, p codegen.Prompt) (string, error) {
		prompt = p
		return "```r\nnrow(df)\n```", nil
	})

	answer, err := b.Ask(context.Background(), gen, "how many rows?", "iris", nil)
	require.NoError(t, err)
	assert.Equal(t, "nrow(df)", answer.Source)
	assert.Equal(t, "[1] 5\n", answer.Result.Output)
	assert.Contains(t, prompt.User, "Dataset: iris")
	assert.Contains(t, prompt.User, "Species")
	assert.Contains(t, prompt.User, "Request: how many rows?")
}

func TestAskWithUpload(t *testing.T) {
	fake := rtest.New()
	b, _ := newTestBridge(t, fake)
	upload := &UploadedData{Name: "u.csv", Data: shared.NewRowTable([]string{"v"}, []shared.Row{{"v": 1}})}

	var prompt codegen.Prompt
	gen := codegen.GeneratorFunc(func(ctx context.Context, p codegen.Prompt) (string, error) {
		prompt = p
		return "nrow(df)", nil
	})
	answer, err := b.Ask(context.Background(), gen, "count", "", upload)
	require.NoError(t, err)
	assert.Equal(t, "[1] 1\n", answer.Result.Output)
	assert.Contains(t, prompt.User, "Dataset: u.csv")
	assert.Contains(t, prompt.User, "$ v: num")
}

func TestAskGeneratorFailure(t *testing.T) {
	fake := rtest.New()
	b, _ := newTestBridge(t, fake)

	gen := codegen.GeneratorFunc(func(ctx context.Context, p codegen.Prompt) (string, error) {
		return "", stderrors.New("quota exceeded")
	})
	_, err := b.Ask(context.Background(), gen, "anything", "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")

	_, err = b.Ask(context.Background(), codegen.Static("```r\n```"), "anything", "", nil)
	assert.Error(t, err)
	assert.Equal(t, 0, fake.EvaluationCount())
}

func TestRunPreset(t *testing.T) {
	fake := rtest.New()
	b, _ := newTestBridge(t, fake)

	res, err := b.RunPreset(context.Background(), "summary", "iris", nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"summary(df)"}, fake.Evaluations)

	_, err = b.RunPreset(context.Background(), "nope", "iris", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "correlation")
}

func TestPresets(t *testing.T) {
	names := PresetNames()
	assert.Equal(t, []string{"correlation", "describe", "missing", "structure", "summary"}, names)
	for _, p := range Presets() {
		assert.NotEmpty(t, p.Code, p.Name)
		assert.NotEmpty(t, p.Title, p.Name)
	}
}

func TestMetricsHandler(t *testing.T) {
	fake := rtest.New()
	b, metrics := newTestBridge(t, fake)
	b.ExecuteRCode(context.Background(), `cat("x")`, "", nil, ExecuteOptions{})

	srv := httptest.NewServer(metrics.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `rbridge_executions_total{kind="none",outcome="success"} 1`)
	assert.Contains(t, string(body), "rbridge_queue_depth 0")
	assert.Contains(t, string(body), "rbridge_execution_duration_seconds_count 1")
}
