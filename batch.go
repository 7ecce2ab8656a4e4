package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"rbridge/bridge"
	"rbridge/codegen"
	"rbridge/marshal"
	"rbridge/serialization"
)

// BatchOptions selects what a non-interactive run executes
type BatchOptions struct {
	Code       string
	File       string
	Question   string
	Generator  string
	Dataset    string
	UploadPath string
	Preset     string
	Format     string
	PlotOut    string
	Markdown   bool
}

// HasWork reports whether the options name something to execute
func (o BatchOptions) HasWork() bool {
	return o.Code != "" || o.File != "" || o.Preset != "" || o.Question != ""
}

// RunBatch executes one request, writes the encoded result to out and
// the plot to PlotOut. It reports whether the R code succeeded; err is
// reserved for problems outside the code itself.
func RunBatch(ctx context.Context, b *bridge.Bridge, opts BatchOptions, out io.Writer) (bool, error) {
	format := opts.Format
	if format == "" {
		format = "text"
	}
	serializer, err := serialization.NewDefaultSerializerRegistry().GetSerializer(format)
	if err != nil {
		return false, err
	}

	upload, err := loadUpload(opts.UploadPath)
	if err != nil {
		return false, err
	}

	code := opts.Code
	if opts.File != "" {
		content, err := os.ReadFile(opts.File)
		if err != nil {
			return false, fmt.Errorf("failed to read script: %w", err)
		}
		code = string(content)
	}

	var (
		result  *bridge.ExecuteResult
		payload interface{}
	)
	switch {
	case opts.Question != "":
		gen, err := batchGenerator(opts.Generator, code)
		if err != nil {
			return false, err
		}
		answer, err := b.Ask(ctx, gen, opts.Question, opts.Dataset, upload)
		if err != nil {
			return false, err
		}
		result, payload = answer.Result, answer
	case opts.Preset != "":
		result, err = b.RunPreset(ctx, opts.Preset, opts.Dataset, upload)
		if err != nil {
			return false, err
		}
		payload = result
	default:
		result = b.ExecuteRCode(ctx, code, opts.Dataset, upload, bridge.ExecuteOptions{RenderMarkdown: opts.Markdown})
		payload = result
	}

	data, err := serializer.Serialize(payload)
	if err != nil {
		return false, err
	}
	if _, err := out.Write(data); err != nil {
		return false, err
	}

	if opts.PlotOut != "" && result.Plot != "" {
		png, err := result.PlotBytes()
		if err != nil {
			return false, err
		}
		if err := os.WriteFile(expandHome(opts.PlotOut), png, 0644); err != nil {
			return false, fmt.Errorf("failed to write plot: %w", err)
		}
	}
	return result.Success, nil
}

// loadUpload reads an upload file; an empty path means no upload
func loadUpload(path string) (*bridge.UploadedData, error) {
	if path == "" {
		return nil, nil
	}
	upload, err := marshal.ReadUploadFile(expandHome(path))
	if err != nil {
		return nil, err
	}
	return &bridge.UploadedData{Data: upload.Data, Name: upload.Name}, nil
}

// batchGenerator picks the generator for -ask: an external command when one
// is named, otherwise the -e or -exec source answered as is.
func batchGenerator(command, fallback string) (codegen.Generator, error) {
	if argv := strings.Fields(command); len(argv) > 0 {
		return codegen.Command(argv[0], argv[1:]...), nil
	}
	if strings.TrimSpace(fallback) == "" {
		return nil, fmt.Errorf("-ask needs -generator, or -e/-exec for a dry run")
	}
	return codegen.Static(fallback), nil
}
