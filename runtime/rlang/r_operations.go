package rlang

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"rbridge/errors"
	"rbridge/logging"
	"rbridge/runtime"
)

// call runs a prelude function whose reply carries no payload and turns
// an error reply into a *runtime.GuestError.
func (rr *RRuntime) call(ctx context.Context, expr string) (*reply, error) {
	rep, err := rr.exchange(ctx, func(request) (string, error) { return expr, nil })
	if err != nil {
		return nil, err
	}
	if gerr := rep.guestError(); gerr != nil {
		return rep, gerr
	}
	return rep, nil
}

// NewScope creates an isolated environment whose parent is the global one
func (rr *RRuntime) NewScope(ctx context.Context) (runtime.Handle, error) {
	h := rr.newHandle(runtime.KindScope)
	if _, err := rr.call(ctx, Call("new_scope", QuoteString(h.ID))); err != nil {
		rr.forgetHandle(h)
		return runtime.Handle{}, err
	}
	return h, nil
}

// Bind assigns value into scope under name
func (rr *RRuntime) Bind(ctx context.Context, scope runtime.Handle, name string, value runtime.Handle) error {
	_, err := rr.call(ctx, Call("bind", QuoteString(scope.ID), QuoteString(name), QuoteString(value.ID)))
	return err
}

// Evaluate writes source to a file and evaluates it expression by
// expression inside scope, printing visible values like the console does.
func (rr *RRuntime) Evaluate(ctx context.Context, scope runtime.Handle, source string) (*runtime.EvalResult, error) {
	start := time.Now()
	rep, err := rr.exchange(ctx, func(req request) (string, error) {
		path := req.input("code.R")
		if err := os.WriteFile(path, []byte(source), 0600); err != nil {
			return "", fmt.Errorf("failed to write source file: %w", err)
		}
		return Call("evaluate", QuoteString(scope.ID), QuoteString(path)), nil
	})
	if err != nil {
		return nil, err
	}

	result := &runtime.EvalResult{
		Output:   rep.get("output"),
		Err:      rep.guestError(),
		Duration: time.Since(start),
	}
	if result.Err != nil {
		rr.logger.Debug("evaluation raised a condition",
			logging.StringField("message", result.Err.Message),
			logging.StringField("classes", strings.Join(result.Err.Classes, ",")))
	}
	return result, nil
}

// Materialize writes frame as CSV and has R read it with explicit column
// classes and names.
func (rr *RRuntime) Materialize(ctx context.Context, frame *runtime.Frame) (runtime.Handle, error) {
	data, names, types, err := encodeFrame(frame)
	if err != nil {
		return runtime.Handle{}, err
	}

	h := rr.newHandle(runtime.KindTable)
	rep, err := rr.exchange(ctx, func(req request) (string, error) {
		path := req.input("frame.csv")
		if err := os.WriteFile(path, data, 0600); err != nil {
			return "", fmt.Errorf("failed to write frame file: %w", err)
		}
		return Call("materialize", QuoteString(h.ID), QuoteString(path), QuoteVector(names), QuoteVector(types)), nil
	})
	if err == nil {
		if gerr := rep.guestError(); gerr != nil {
			err = gerr
		}
	}
	if err != nil {
		rr.forgetHandle(h)
		return runtime.Handle{}, err
	}

	if got, _ := strconv.Atoi(rep.get("rows")); got != frame.NumRows() {
		rr.logger.Warn("materialized row count differs",
			logging.IntField("expected", frame.NumRows()),
			logging.IntField("got", got))
	}
	return h, nil
}

// LoadDataset loads a catalog dataset coerced to a data frame
func (rr *RRuntime) LoadDataset(ctx context.Context, name string) (runtime.Handle, error) {
	h := rr.newHandle(runtime.KindTable)
	if _, err := rr.call(ctx, Call("load_dataset", QuoteString(h.ID), QuoteString(name))); err != nil {
		rr.forgetHandle(h)
		if gerr, ok := err.(*runtime.GuestError); ok && gerr.HasClass("datasetNotFoundError") {
			return runtime.Handle{}, errors.NewDatasetNotFound(name).Wrap(gerr)
		}
		return runtime.Handle{}, err
	}
	return h, nil
}

// SyntheticDataset creates the fallback table: 20 rows of id and a
// normally distributed value.
func (rr *RRuntime) SyntheticDataset(ctx context.Context) (runtime.Handle, error) {
	h := rr.newHandle(runtime.KindTable)
	if _, err := rr.call(ctx, Call("synthetic", QuoteString(h.ID))); err != nil {
		rr.forgetHandle(h)
		return runtime.Handle{}, err
	}
	return h, nil
}

// ProjectTable copies the table behind h into a host frame
func (rr *RRuntime) ProjectTable(ctx context.Context, h runtime.Handle) (*runtime.Frame, error) {
	rep, err := rr.exchange(ctx, func(req request) (string, error) {
		return Call("project_table", QuoteString(h.ID), QuoteString(req.dir)), nil
	})
	if err != nil {
		return nil, err
	}
	if gerr := rep.guestError(); gerr != nil {
		return nil, gerr
	}
	rows, err := strconv.Atoi(rep.get("rows"))
	if err != nil {
		return nil, fmt.Errorf("invalid row count %q: %w", rep.get("rows"), err)
	}
	return decodeFrame(rep.raw("value.csv"), rep.lines("names"), rep.lines("types"), rows)
}

// ProjectSummary returns str() of the value behind h
func (rr *RRuntime) ProjectSummary(ctx context.Context, h runtime.Handle) (string, error) {
	rep, err := rr.call(ctx, Call("project_summary", QuoteString(h.ID)))
	if err != nil {
		return "", err
	}
	return rep.get("summary"), nil
}

// Catalog lists datasets from the datasets package, plus ggplot2 when it
// is installed
func (rr *RRuntime) Catalog(ctx context.Context) ([]runtime.CatalogEntry, error) {
	rep, err := rr.call(ctx, Call("catalog"))
	if err != nil {
		return nil, err
	}
	items := rep.lines("items")
	titles := rep.lines("titles")
	packages := rep.lines("packages")
	if len(titles) != len(items) || len(packages) != len(items) {
		return nil, fmt.Errorf("catalog reply is inconsistent: %d items, %d titles, %d packages", len(items), len(titles), len(packages))
	}

	entries := make([]runtime.CatalogEntry, len(items))
	for i := range items {
		entries[i] = runtime.CatalogEntry{Name: items[i], Title: titles[i], Package: packages[i]}
	}
	return entries, nil
}

// OpenDevice opens a png device writing to spec.Path
func (rr *RRuntime) OpenDevice(ctx context.Context, spec runtime.DeviceSpec) error {
	_, err := rr.call(ctx, Call("open_device",
		QuoteString(spec.Path), Int(spec.Width), Int(spec.Height), Int(spec.Resolution)))
	if err == nil {
		rr.processMutex.Lock()
		rr.devicePath = spec.Path
		rr.processMutex.Unlock()
	}
	return err
}

// CloseDevice closes every open device and reports whether the capture
// surface was drawn on. When R cannot tell, a non-empty file counts.
func (rr *RRuntime) CloseDevice(ctx context.Context) (bool, error) {
	rep, err := rr.call(ctx, Call("close_device"))

	rr.processMutex.Lock()
	path := rr.devicePath
	rr.devicePath = ""
	rr.processMutex.Unlock()

	if err != nil {
		return false, err
	}

	switch rep.get("drew") {
	case "TRUE":
		return true, nil
	case "FALSE":
		return false, nil
	default:
		info, statErr := os.Stat(path)
		return statErr == nil && info.Size() > 0, nil
	}
}

// Destroy releases a handle. Handles from a previous process are void.
func (rr *RRuntime) Destroy(ctx context.Context, h runtime.Handle) error {
	if h.IsZero() {
		return nil
	}
	rr.forgetHandle(h)

	rr.processMutex.Lock()
	stale := !rr.ready || h.Generation != rr.generation
	rr.processMutex.Unlock()
	if stale {
		return nil
	}

	_, err := rr.call(ctx, Call("destroy", QuoteString(h.ID)))
	return err
}

// InstalledPackages lists packages visible in the library paths
func (rr *RRuntime) InstalledPackages(ctx context.Context) ([]string, error) {
	rep, err := rr.call(ctx, Call("installed"))
	if err != nil {
		return nil, err
	}
	return rep.lines("packages"), nil
}

// InstallPackage installs pkg from repo and checks that it loads
func (rr *RRuntime) InstallPackage(ctx context.Context, pkg, repo string) error {
	_, err := rr.call(ctx, Call("install", QuoteString(pkg), QuoteString(repo)))
	return err
}
