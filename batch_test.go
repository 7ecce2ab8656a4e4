package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rbridge/engine"
)

func TestRunBatchCode(t *testing.T) {
	b, _ := newFakeBridge(t)
	var out bytes.Buffer

	ok, err := RunBatch(context.Background(), b, BatchOptions{Code: `print("hi")`}, &out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "[1] \"hi\"\n", out.String())
}

func TestRunBatchFileWithUploadAndPlot(t *testing.T) {
	b, _ := newFakeBridge(t)
	dir := t.TempDir()

	script := filepath.Join(dir, "analysis.R")
	require.NoError(t, os.WriteFile(script, []byte("nrow(df)\nplot(df)\n"), 0644))
	data := filepath.Join(dir, "data.tsv")
	require.NoError(t, os.WriteFile(data, []byte("x\ty\n1\t2\n3\t4\n"), 0644))
	plotPath := filepath.Join(dir, "out.png")

	var out bytes.Buffer
	ok, err := RunBatch(context.Background(), b, BatchOptions{
		File:       script,
		UploadPath: data,
		Format:     "json",
		PlotOut:    plotPath,
	}, &out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, out.String(), `"output": "[1] 2\n"`)

	png, err := os.ReadFile(plotPath)
	require.NoError(t, err)
	info, err := engine.InspectPNG(png)
	require.NoError(t, err)
	assert.Equal(t, 800, info.Width)
}

func TestRunBatchFailureAndPreset(t *testing.T) {
	b, _ := newFakeBridge(t)
	var out bytes.Buffer

	ok, err := RunBatch(context.Background(), b, BatchOptions{Code: `stop("bad input")`, Format: "yaml"}, &out)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, out.String(), "success: false")
	assert.Contains(t, out.String(), "Error: bad input")

	ok, err = RunBatch(context.Background(), b, BatchOptions{Preset: "summary", Dataset: "iris"}, &out)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = RunBatch(context.Background(), b, BatchOptions{Preset: "nope"}, &out)
	assert.Error(t, err)

	_, err = RunBatch(context.Background(), b, BatchOptions{Code: "1", Format: "xml"}, &out)
	assert.Error(t, err)

	_, err = RunBatch(context.Background(), b, BatchOptions{File: filepath.Join(t.TempDir(), "missing.R")}, &out)
	assert.Error(t, err)
}

func TestBatchOptionsHasWork(t *testing.T) {
	assert.False(t, BatchOptions{Dataset: "iris", Format: "json"}.HasWork())
	assert.True(t, BatchOptions{Code: "1"}.HasWork())
	assert.True(t, BatchOptions{Preset: "summary"}.HasWork())
	assert.True(t, BatchOptions{Question: "how many rows?"}.HasWork())
}

func TestRunBatchAskDryRun(t *testing.T) {
	b, _ := newFakeBridge(t)
	var out bytes.Buffer

	ok, err := RunBatch(context.Background(), b, BatchOptions{
		Question: "print a greeting",
		Code:     "```r\nprint(\"hi\")\n```",
	}, &out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, out.String(), "# generated code\nprint(\"hi\")\n")
	assert.Contains(t, out.String(), "[1] \"hi\"")

	_, err = RunBatch(context.Background(), b, BatchOptions{Question: "print a greeting"}, &out)
	assert.ErrorContains(t, err, "-generator")
}
