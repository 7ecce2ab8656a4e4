package engine

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rbridge/errors"
	"rbridge/marshal"
	"rbridge/resolver"
	"rbridge/runtime/rtest"
	"rbridge/shared"
)

func newTestEngine(t *testing.T, fake *rtest.Session, configure func(*Options, *resolver.Options)) *Engine {
	t.Helper()
	opts := DefaultOptions()
	opts.TempDir = t.TempDir()
	resOpts := resolver.DefaultOptions()
	resOpts.PrimaryRepo = "primary"
	resOpts.FallbackRepo = "fallback"
	if configure != nil {
		configure(&opts, &resOpts)
	}
	return New(fake, resolver.New(fake, resOpts, nil), marshal.New(fake, nil), opts, nil)
}

func TestExecuteSuccessWithoutPlot(t *testing.T) {
	fake := rtest.New()
	e := newTestEngine(t, fake, nil)

	res := e.Execute(context.Background(), Request{Code: `print("hello")`, Dataset: "iris"})
	require.Nil(t, res.Error)
	assert.True(t, res.Success)
	assert.Equal(t, "[1] \"hello\"\n", res.Output)
	assert.Nil(t, res.Plot)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 0, fake.LiveHandles())
}

func TestExecuteCapturesPlot(t *testing.T) {
	fake := rtest.New()
	e := newTestEngine(t, fake, func(o *Options, _ *resolver.Options) {
		o.PlotWidth = 320
		o.PlotHeight = 200
	})

	res := e.Execute(context.Background(), Request{Code: "plot(df$mpg)", Dataset: "mtcars"})
	require.Nil(t, res.Error)
	require.NotEmpty(t, res.Plot)
	require.NotNil(t, res.PlotInfo)
	assert.Equal(t, 320, res.PlotInfo.Width)
	assert.Equal(t, 200, res.PlotInfo.Height)
	assert.True(t, strings.HasPrefix(DataURL(res.Plot), "data:image/png;base64,"))
}

func TestExecuteBindsDataFrame(t *testing.T) {
	fake := rtest.New()
	e := newTestEngine(t, fake, nil)
	ctx := context.Background()

	res := e.Execute(ctx, Request{Code: "nrow(df)", Dataset: "iris"})
	require.Nil(t, res.Error)
	assert.Equal(t, "[1] 5\n", res.Output)

	upload := shared.NewRowTable([]string{"a b"}, []shared.Row{{"a b": 1}, {"a b": 2}})
	res = e.Execute(ctx, Request{Code: "nrow(df)\nncol(df)", Rows: upload, UploadName: "data.csv"})
	require.Nil(t, res.Error)
	assert.Equal(t, "[1] 2\n[1] 1\n", res.Output)

	assert.Equal(t, 0, fake.LiveHandles())
}

func TestExecuteFallsBackToSyntheticData(t *testing.T) {
	fake := rtest.New()
	e := newTestEngine(t, fake, nil)
	ctx := context.Background()

	res := e.Execute(ctx, Request{Code: "nrow(df)"})
	require.Nil(t, res.Error)
	assert.Equal(t, "[1] 20\n", res.Output)

	res = e.Execute(ctx, Request{Code: "nrow(df)", Rows: shared.NewRowTable([]string{"x"}, nil)})
	require.Nil(t, res.Error)
	assert.Equal(t, "[1] 20\n", res.Output)
}

func TestExecutePreinstallsDeclaredPackage(t *testing.T) {
	fake := rtest.New()
	fake.Installable["tidyr"] = true
	e := newTestEngine(t, fake, nil)

	res := e.Execute(context.Background(), Request{Code: "library(tidyr)\ncat(\"ok\")"})
	require.Nil(t, res.Error)
	assert.Equal(t, "ok", res.Output)
	assert.Equal(t, []string{"tidyr"}, res.Installed)
	assert.Len(t, fake.InstallAttempts("tidyr"), 1)
	assert.Equal(t, 1, fake.EvaluationCount())
}

func TestExecuteRecoversMissingPackageOnce(t *testing.T) {
	fake := rtest.New()
	fake.Installable["tidyr"] = true
	e := newTestEngine(t, fake, func(_ *Options, r *resolver.Options) {
		r.AutoInstall = false
	})

	res := e.Execute(context.Background(), Request{Code: "library(tidyr)\ncat(\"ok\")"})
	require.Nil(t, res.Error)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 2, fake.EvaluationCount())
	assert.Len(t, fake.InstallAttempts("tidyr"), 1)
	assert.Equal(t, 0, fake.LiveHandles())
}

func TestExecuteGivesUpWhenRecoveryInstallFails(t *testing.T) {
	fake := rtest.New()
	e := newTestEngine(t, fake, func(_ *Options, r *resolver.Options) {
		r.AutoInstall = false
	})

	res := e.Execute(context.Background(), Request{Code: "library(notapkg)"})
	require.NotNil(t, res.Error)
	assert.False(t, res.Success)
	assert.Equal(t, errors.KindPackageMissing, res.Error.Kind)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, fake.EvaluationCount())
	assert.Len(t, fake.InstallAttempts("notapkg"), 2)
}

func TestExecuteRetriesAtMostOnce(t *testing.T) {
	fake := rtest.New()
	fake.Installable["pkgA"] = true
	fake.Installable["pkgB"] = true
	e := newTestEngine(t, fake, func(_ *Options, r *resolver.Options) {
		r.AutoInstall = false
	})

	res := e.Execute(context.Background(), Request{Code: "library(pkgA)\nlibrary(pkgB)"})
	require.NotNil(t, res.Error)
	assert.Equal(t, errors.KindPackageMissing, res.Error.Kind)
	assert.Contains(t, res.Error.Message, "pkgB")
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 2, fake.EvaluationCount())
}

func TestExecuteNonPackageFailureIsNotRetried(t *testing.T) {
	fake := rtest.New()
	e := newTestEngine(t, fake, nil)

	res := e.Execute(context.Background(), Request{Code: "cat(\"partial\")\nstop(\"object 'foo' not found\")"})
	require.NotNil(t, res.Error)
	assert.Equal(t, errors.KindReference, res.Error.Kind)
	assert.Equal(t, "partial", res.Output)
	assert.Equal(t, 1, fake.EvaluationCount())
	assert.Empty(t, fake.InstallCalls)
}

func TestExecuteKeepsPlotDrawnBeforeFailure(t *testing.T) {
	fake := rtest.New()
	e := newTestEngine(t, fake, nil)

	res := e.Execute(context.Background(), Request{Code: "plot(1)\nstop(\"x\")"})
	require.NotNil(t, res.Error)
	assert.False(t, res.Success)
	assert.Equal(t, "Error: x", res.Error.Display())
	require.NotEmpty(t, res.Plot)
	require.NotNil(t, res.PlotInfo)
	assert.Equal(t, 800, res.PlotInfo.Width)
	assert.False(t, fake.DeviceOpen())
}

func TestExecuteClosesDeviceAfterBrokenExchange(t *testing.T) {
	fake := rtest.New()
	fake.EvalErr = stderrors.New("failed to read reply")
	e := newTestEngine(t, fake, nil)

	res := e.Execute(context.Background(), Request{Code: "plot(1)"})
	require.NotNil(t, res.Error)
	assert.Contains(t, res.Error.Message, "failed to read reply")
	assert.Nil(t, res.Plot)
	assert.False(t, fake.DeviceOpen())
	assert.Equal(t, 0, fake.LiveHandles())
}

func TestExecuteNormalizesErrorPrefix(t *testing.T) {
	fake := rtest.New()
	e := newTestEngine(t, fake, nil)

	res := e.Execute(context.Background(), Request{Code: `stop("Error: Error: boom")`})
	require.NotNil(t, res.Error)
	assert.Equal(t, errors.KindInterpreterRuntime, res.Error.Kind)
	assert.Equal(t, "Error: boom", res.Error.Display())
	assert.NotContains(t, res.Error.Display(), "Error: Error:")
}

func TestExecuteDatasetNotFound(t *testing.T) {
	fake := rtest.New()
	e := newTestEngine(t, fake, nil)

	res := e.Execute(context.Background(), Request{Code: "summary(df)", Dataset: "not-a-real-name"})
	require.NotNil(t, res.Error)
	assert.Equal(t, errors.KindDatasetNotFound, res.Error.Kind)
	assert.Equal(t, 0, fake.EvaluationCount())
	assert.Equal(t, 0, fake.LiveHandles())
}

func TestExecuteTimeoutRestartsSession(t *testing.T) {
	fake := rtest.New()
	e := newTestEngine(t, fake, func(o *Options, _ *resolver.Options) {
		o.MaxExecutionTime = 50 * time.Millisecond
	})
	ctx := context.Background()

	res := e.Execute(ctx, Request{Code: "Sys.sleep(5)"})
	require.NotNil(t, res.Error)
	assert.Equal(t, errors.KindTimeout, res.Error.Kind)

	res = e.Execute(ctx, Request{Code: `cat("back")`})
	require.Nil(t, res.Error)
	assert.Equal(t, "back", res.Output)
	assert.Equal(t, 2, fake.InitCount)
}

func TestExecuteInitializationFailure(t *testing.T) {
	fake := rtest.New()
	fake.InitErr = stderrors.New("R executable not found")
	e := newTestEngine(t, fake, nil)

	res := e.Execute(context.Background(), Request{Code: "1"})
	require.NotNil(t, res.Error)
	assert.Equal(t, errors.KindInitialization, res.Error.Kind)
	assert.Contains(t, res.Error.Message, "R executable not found")
}

func TestExecuteRendersMarkdown(t *testing.T) {
	fake := rtest.New()
	e := newTestEngine(t, fake, func(o *Options, _ *resolver.Options) {
		o.RenderMarkdown = true
	})

	res := e.Execute(context.Background(), Request{Code: `cat("| a |\n|---|\n| 1 |\n")`})
	require.Nil(t, res.Error)
	assert.Contains(t, res.OutputHTML, "<table>")
}

func TestExecuteSequentialRequestsAreIndependent(t *testing.T) {
	fake := rtest.New()
	e := newTestEngine(t, fake, nil)
	ctx := context.Background()

	first := e.Execute(ctx, Request{Code: "plot(1)\ncat(\"one\")"})
	second := e.Execute(ctx, Request{Code: `cat("two")`})

	assert.Equal(t, "one", first.Output)
	assert.NotNil(t, first.Plot)
	assert.Equal(t, "two", second.Output)
	assert.Nil(t, second.Plot)
	assert.Equal(t, 0, fake.LiveHandles())
}
