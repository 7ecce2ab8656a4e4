// Package rtest provides an in-memory runtime.Session for tests that must
// not depend on an R installation.
package rtest

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"rbridge/errors"
	"rbridge/runtime"
)

// InstallCall records one InstallPackage invocation
type InstallCall struct {
	Package string
	Repo    string
}

type value struct {
	handle runtime.Handle
	frame  *runtime.Frame
	scope  map[string]string
}

// Session is a fake guest. Evaluate understands a handful of line-oriented
// directives:
//
//	library(pkg) / require(pkg)  fails with packageNotFoundError unless installed
//	stop("msg")                  raises msg
//	plot(...) / hist(...)        draws on the open device
//	print("text") / cat("text")  writes output
//	nrow(df) / ncol(df)          prints the shape of a bound table
//	Sys.sleep(n)                 blocks for n seconds or until ctx ends
//
// Every other line is ignored.
type Session struct {
	mu sync.Mutex

	// Datasets is the catalog; Titles labels its entries.
	Datasets map[string]*runtime.Frame
	Titles   map[string]string

	// Installed packages; Installable ones succeed in InstallPackage
	// unless the repo is listed in FailRepos.
	Installed   map[string]bool
	Installable map[string]bool
	FailRepos   map[string]bool

	// InitErr makes EnsureInitialized fail.
	InitErr error

	// EvalErr makes Evaluate fail as a broken exchange would, leaving
	// the session and its device up.
	EvalErr error

	InstallCalls []InstallCall
	Evaluations  []string
	InitCount    int

	values       map[string]*value
	destroyCalls map[string]int
	seq          int
	generation   int
	ready        bool
	device       *runtime.DeviceSpec
	drew         bool
}

var _ runtime.Session = (*Session)(nil)

// New returns a fake with a small iris and mtcars, and the baseline
// packages installed
func New() *Session {
	return &Session{
		Datasets: map[string]*runtime.Frame{
			"iris":   Iris(),
			"mtcars": Mtcars(),
		},
		Titles: map[string]string{
			"iris":   "Edgar Anderson's Iris Data",
			"mtcars": "Motor Trend Car Road Tests",
		},
		Installed: map[string]bool{
			"base": true, "stats": true, "utils": true, "graphics": true,
			"ggplot2": true, "dplyr": true, "base64enc": true, "knitr": true,
		},
		Installable:  map[string]bool{},
		FailRepos:    map[string]bool{},
		values:       map[string]*value{},
		destroyCalls: map[string]int{},
	}
}

// Iris is a five-row excerpt of the iris dataset
func Iris() *runtime.Frame {
	return &runtime.Frame{Columns: []runtime.Column{
		{Name: "Sepal.Length", Type: runtime.ColumnNumeric, Values: []interface{}{5.1, 4.9, 4.7, 7.0, 6.3}},
		{Name: "Sepal.Width", Type: runtime.ColumnNumeric, Values: []interface{}{3.5, 3.0, 3.2, 3.2, 3.3}},
		{Name: "Petal.Length", Type: runtime.ColumnNumeric, Values: []interface{}{1.4, 1.4, 1.3, 4.7, 6.0}},
		{Name: "Petal.Width", Type: runtime.ColumnNumeric, Values: []interface{}{0.2, 0.2, 0.2, 1.4, 2.5}},
		{Name: "Species", Type: runtime.ColumnCharacter, Values: []interface{}{"setosa", "setosa", "setosa", "versicolor", "virginica"}},
	}}
}

// Mtcars is a three-row excerpt of mtcars with its row names as a column
func Mtcars() *runtime.Frame {
	return &runtime.Frame{Columns: []runtime.Column{
		{Name: "rowname", Type: runtime.ColumnCharacter, Values: []interface{}{"Mazda RX4", "Datsun 710", "Valiant"}},
		{Name: "mpg", Type: runtime.ColumnNumeric, Values: []interface{}{21.0, 22.8, 18.1}},
		{Name: "cyl", Type: runtime.ColumnNumeric, Values: []interface{}{6.0, 4.0, 6.0}},
	}}
}

func (s *Session) EnsureInitialized(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	if s.InitErr != nil {
		return errors.NewInitializationError(s.InitErr.Error(), s.InitErr)
	}
	s.InitCount++
	s.generation++
	s.ready = true
	s.values = map[string]*value{}
	return nil
}

// Crash simulates the guest dying, as after a timeout kill
func (s *Session) Crash() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = false
	s.values = map[string]*value{}
	s.device = nil
}

func (s *Session) checkReady() error {
	if !s.ready {
		return errors.NewInitializationError("R session is not initialized", nil)
	}
	return nil
}

func (s *Session) alloc(kind runtime.HandleKind) *value {
	s.seq++
	v := &value{handle: runtime.Handle{ID: fmt.Sprintf("h%d", s.seq), Kind: kind, Generation: s.generation}}
	s.values[v.handle.ID] = v
	return v
}

func (s *Session) lookup(h runtime.Handle) (*value, error) {
	v, ok := s.values[h.ID]
	if !ok || h.Generation != s.generation {
		return nil, &runtime.GuestError{Message: fmt.Sprintf("unknown handle '%s'", h.ID), Classes: []string{"simpleError", "error", "condition"}}
	}
	return v, nil
}

func (s *Session) NewScope(ctx context.Context) (runtime.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkReady(); err != nil {
		return runtime.Handle{}, err
	}
	v := s.alloc(runtime.KindScope)
	v.scope = map[string]string{}
	return v.handle, nil
}

func (s *Session) Bind(ctx context.Context, scope runtime.Handle, name string, val runtime.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, err := s.lookup(scope)
	if err != nil {
		return err
	}
	if _, err := s.lookup(val); err != nil {
		return err
	}
	sc.scope[name] = val.ID
	return nil
}

var (
	libraryCall = regexp.MustCompile(`^(?:library|require)\(\s*["']?([A-Za-z][A-Za-z0-9.]*)["']?\s*\)`)
	stringArg   = regexp.MustCompile(`^(?:stop|print|cat)\(\s*"((?:[^"\\]|\\.)*)"\s*\)`)
	sleepCall   = regexp.MustCompile(`^Sys\.sleep\(\s*([0-9.]+)\s*\)`)
	shapeCall   = regexp.MustCompile(`^(nrow|ncol)\(\s*([A-Za-z_.][A-Za-z0-9_.]*)\s*\)`)
)

func (s *Session) Evaluate(ctx context.Context, scope runtime.Handle, source string) (*runtime.EvalResult, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkReady(); err != nil {
		return nil, err
	}
	sc, err := s.lookup(scope)
	if err != nil {
		return nil, err
	}
	s.Evaluations = append(s.Evaluations, source)
	if s.EvalErr != nil {
		return nil, s.EvalErr
	}

	var out strings.Builder
	result := &runtime.EvalResult{}
	for _, line := range strings.Split(source, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case libraryCall.MatchString(line):
			pkg := libraryCall.FindStringSubmatch(line)[1]
			if !s.Installed[pkg] {
				result.Err = &runtime.GuestError{
					Message: fmt.Sprintf("there is no package called ‘%s’", pkg),
					Classes: []string{"packageNotFoundError", "error", "condition"},
					Package: pkg,
					Call:    fmt.Sprintf("library(%s)", pkg),
				}
			}
		case strings.HasPrefix(line, "stop("):
			msg := "error"
			if m := stringArg.FindStringSubmatch(line); m != nil {
				msg = unescape(m[1])
			}
			result.Err = &runtime.GuestError{Message: msg, Classes: []string{"simpleError", "error", "condition"}}
		case strings.HasPrefix(line, "print("):
			if m := stringArg.FindStringSubmatch(line); m != nil {
				fmt.Fprintf(&out, "[1] %q\n", unescape(m[1]))
			}
		case strings.HasPrefix(line, "cat("):
			if m := stringArg.FindStringSubmatch(line); m != nil {
				out.WriteString(unescape(m[1]))
			}
		case shapeCall.MatchString(line):
			m := shapeCall.FindStringSubmatch(line)
			frame := s.boundFrame(sc, m[2])
			if frame == nil {
				result.Err = &runtime.GuestError{
					Message: fmt.Sprintf("object '%s' not found", m[2]),
					Classes: []string{"simpleError", "error", "condition"},
				}
				break
			}
			n := frame.NumRows()
			if m[1] == "ncol" {
				n = len(frame.Columns)
			}
			fmt.Fprintf(&out, "[1] %d\n", n)
		case strings.HasPrefix(line, "plot(") || strings.HasPrefix(line, "hist("):
			if s.device != nil {
				if err := writePNG(s.device.Path, s.device.Width, s.device.Height); err != nil {
					return nil, err
				}
				s.drew = true
			}
		case sleepCall.MatchString(line):
			secs, _ := strconv.ParseFloat(sleepCall.FindStringSubmatch(line)[1], 64)
			select {
			case <-time.After(time.Duration(secs * float64(time.Second))):
			case <-ctx.Done():
				s.ready = false
				s.values = map[string]*value{}
				s.device = nil
				return nil, errors.NewTimeoutError(time.Since(start).Round(time.Millisecond)).Wrap(ctx.Err())
			}
		}
		if result.Err != nil {
			break
		}
	}
	result.Output = out.String()
	result.Duration = time.Since(start)
	return result, nil
}

func (s *Session) boundFrame(sc *value, name string) *runtime.Frame {
	id, ok := sc.scope[name]
	if !ok {
		return nil
	}
	v, ok := s.values[id]
	if !ok {
		return nil
	}
	return v.frame
}

func unescape(s string) string {
	if u, err := strconv.Unquote(`"` + s + `"`); err == nil {
		return u
	}
	return s
}

func (s *Session) Materialize(ctx context.Context, frame *runtime.Frame) (runtime.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkReady(); err != nil {
		return runtime.Handle{}, err
	}
	v := s.alloc(runtime.KindTable)
	v.frame = cloneFrame(frame)
	return v.handle, nil
}

func (s *Session) LoadDataset(ctx context.Context, name string) (runtime.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkReady(); err != nil {
		return runtime.Handle{}, err
	}
	frame, ok := s.Datasets[name]
	if !ok {
		return runtime.Handle{}, errors.NewDatasetNotFound(name)
	}
	v := s.alloc(runtime.KindTable)
	v.frame = cloneFrame(frame)
	return v.handle, nil
}

func (s *Session) SyntheticDataset(ctx context.Context) (runtime.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkReady(); err != nil {
		return runtime.Handle{}, err
	}
	ids := make([]interface{}, 20)
	values := make([]interface{}, 20)
	for i := range ids {
		ids[i] = float64(i + 1)
		values[i] = float64((i*7)%20) - 5
	}
	v := s.alloc(runtime.KindTable)
	v.frame = &runtime.Frame{Columns: []runtime.Column{
		{Name: "id", Type: runtime.ColumnNumeric, Values: ids},
		{Name: "value", Type: runtime.ColumnNumeric, Values: values},
	}}
	return v.handle, nil
}

func (s *Session) ProjectTable(ctx context.Context, h runtime.Handle) (*runtime.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.lookup(h)
	if err != nil {
		return nil, err
	}
	if v.frame == nil {
		return nil, &runtime.GuestError{Message: "value is not a table", Classes: []string{"simpleError", "error", "condition"}}
	}
	return cloneFrame(v.frame), nil
}

// ProjectSummary imitates str() on a data frame
func (s *Session) ProjectSummary(ctx context.Context, h runtime.Handle) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.lookup(h)
	if err != nil {
		return "", err
	}
	if v.frame == nil {
		return "<environment>", nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "'data.frame':\t%d obs. of  %d variables:\n", v.frame.NumRows(), len(v.frame.Columns))
	for _, col := range v.frame.Columns {
		abbrev := "num"
		if col.Type == runtime.ColumnCharacter {
			abbrev = "chr"
		}
		fmt.Fprintf(&b, " $ %s: %s", col.Name, abbrev)
		for i, cell := range col.Values {
			if i == 4 {
				b.WriteString(" ...")
				break
			}
			fmt.Fprintf(&b, " %v", cell)
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func (s *Session) Catalog(ctx context.Context) ([]runtime.CatalogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkReady(); err != nil {
		return nil, err
	}
	entries := make([]runtime.CatalogEntry, 0, len(s.Datasets))
	for name := range s.Datasets {
		entries = append(entries, runtime.CatalogEntry{Name: name, Title: s.Titles[name], Package: "datasets"})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (s *Session) OpenDevice(ctx context.Context, spec runtime.DeviceSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkReady(); err != nil {
		return err
	}
	s.device = &spec
	s.drew = false
	return nil
}

func (s *Session) CloseDevice(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkReady(); err != nil {
		return false, err
	}
	drew := s.device != nil && s.drew
	s.device = nil
	s.drew = false
	return drew, nil
}

// DeviceOpen reports whether a capture surface is open
func (s *Session) DeviceOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device != nil
}

func (s *Session) Destroy(ctx context.Context, h runtime.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyCalls[h.ID]++
	if h.Generation != s.generation {
		return nil
	}
	delete(s.values, h.ID)
	return nil
}

func (s *Session) InstalledPackages(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkReady(); err != nil {
		return nil, err
	}
	var pkgs []string
	for pkg, ok := range s.Installed {
		if ok {
			pkgs = append(pkgs, pkg)
		}
	}
	sort.Strings(pkgs)
	return pkgs, nil
}

func (s *Session) InstallPackage(ctx context.Context, pkg, repo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.InstallCalls = append(s.InstallCalls, InstallCall{Package: pkg, Repo: repo})
	if s.FailRepos[repo] || !s.Installable[pkg] {
		return &runtime.GuestError{
			Message: fmt.Sprintf("package '%s' is not available from %s", pkg, repo),
			Classes: []string{"simpleError", "error", "condition"},
		}
	}
	s.Installed[pkg] = true
	return nil
}

func (s *Session) Version(ctx context.Context) (string, error) {
	return "R version 4.4.1 (fake)", nil
}

func (s *Session) Close() error {
	s.Crash()
	return nil
}

// LiveHandles counts values not yet destroyed
func (s *Session) LiveHandles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values)
}

// DestroyCalls returns how often Destroy was called for id
func (s *Session) DestroyCalls(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyCalls[id]
}

// EvaluationCount returns how many times Evaluate ran
func (s *Session) EvaluationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Evaluations)
}

// InstallAttempts returns the install calls made for pkg
func (s *Session) InstallAttempts(pkg string) []InstallCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	var calls []InstallCall
	for _, c := range s.InstallCalls {
		if c.Package == pkg {
			calls = append(calls, c)
		}
	}
	return calls
}

func cloneFrame(frame *runtime.Frame) *runtime.Frame {
	if frame == nil {
		return nil
	}
	out := &runtime.Frame{Columns: make([]runtime.Column, len(frame.Columns))}
	for i, col := range frame.Columns {
		out.Columns[i] = runtime.Column{
			Name:   col.Name,
			Type:   col.Type,
			Values: append([]interface{}(nil), col.Values...),
		}
	}
	return out
}

// writePNG draws a blank image of the device size
func writePNG(path string, width, height int) error {
	if width <= 0 {
		width = 8
	}
	if height <= 0 {
		height = 8
	}
	img := image.NewGray(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		img.SetGray(x, height/2, color.Gray{Y: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0600)
}
