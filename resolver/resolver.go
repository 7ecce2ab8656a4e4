package resolver

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"rbridge/errors"
	"rbridge/logging"
	"rbridge/runtime"
)

// Install results reported to the observer
const (
	ResultInstalled = "installed"
	ResultFailed    = "failed"
)

// DefaultBaseline lists the packages every run relies on: plotting,
// data manipulation, base64 encoding, and knitr for markdown tables.
var DefaultBaseline = []string{"ggplot2", "dplyr", "base64enc", "knitr"}

// Options configures package resolution
type Options struct {
	Baseline       []string
	PrimaryRepo    string
	FallbackRepo   string
	AutoInstall    bool
	InstallTimeout time.Duration
}

// DefaultOptions installs from Posit's binary CRAN mirror first and the
// main CRAN cloud mirror second
func DefaultOptions() Options {
	return Options{
		Baseline:       append([]string(nil), DefaultBaseline...),
		PrimaryRepo:    "https://packagemanager.posit.co/cran/latest",
		FallbackRepo:   "https://cloud.r-project.org",
		AutoInstall:    true,
		InstallTimeout: 5 * time.Minute,
	}
}

// Observer is notified of every install attempt
type Observer interface {
	ObserveInstall(pkg, repo, result string, elapsed time.Duration)
}

// Report describes one Resolve pass
type Report struct {
	Requested []string
	Installed []string
	Failed    map[string]error
}

// Resolver makes sure the packages a script declares are present in the
// session before it runs. The installed set is cached after the first
// query and updated by successful installs.
type Resolver struct {
	installer runtime.Installer
	opts      Options
	logger    logging.Logger
	observer  Observer

	mutex     sync.Mutex
	installed map[string]bool
	loaded    bool
}

// New creates a resolver installing through installer
func New(installer runtime.Installer, opts Options, logger logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if opts.InstallTimeout <= 0 {
		opts.InstallTimeout = 5 * time.Minute
	}
	return &Resolver{
		installer: installer,
		opts:      opts,
		logger:    logger.WithComponent("resolver"),
		installed: make(map[string]bool),
	}
}

// SetObserver registers o for install attempts
func (r *Resolver) SetObserver(o Observer) {
	r.observer = o
}

var declaration = regexp.MustCompile(`(library|require|requireNamespace)\s*\(\s*(["']?)([A-Za-z][A-Za-z0-9.]*)["']?`)

// Scan returns the packages declared in source, in first-seen order.
// Declarations inside comments are ignored, and so are bare names passed
// with character.only, which are variables holding the package name.
func Scan(source string) []string {
	seen := make(map[string]bool)
	var pkgs []string
	for _, line := range strings.Split(source, "\n") {
		line = stripComment(line)
		for _, m := range declaration.FindAllStringSubmatchIndex(line, -1) {
			fn, quoted, name := line[m[2]:m[3]], m[4] < m[5], line[m[6]:m[7]]
			if !quoted && (fn == "requireNamespace" || characterOnly(line[m[1]:])) {
				continue
			}
			if !seen[name] {
				seen[name] = true
				pkgs = append(pkgs, name)
			}
		}
	}
	return pkgs
}

// stripComment cuts line at the first # outside a string literal
func stripComment(line string) string {
	var quote byte
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case quote != 0 && c == '\\':
			i++
		case quote != 0 && c == quote:
			quote = 0
		case quote != 0:
		case c == '"' || c == '\'' || c == '`':
			quote = c
		case c == '#':
			return line[:i]
		}
	}
	return line
}

// characterOnly reports whether the rest of a library call sets
// character.only
func characterOnly(rest string) bool {
	call, _, _ := strings.Cut(rest, ")")
	return strings.Contains(call, "character.only")
}

// Resolve installs whatever source declares, plus the baseline, that is
// not yet present. Failed installs are recorded in the report but never
// abort: the code path that needs a package may not run. An error is
// returned only when the session cannot be queried at all.
func (r *Resolver) Resolve(ctx context.Context, source string) (*Report, error) {
	report := &Report{Requested: Scan(source), Failed: make(map[string]error)}

	if err := r.refresh(ctx); err != nil {
		return report, err
	}

	requested := make(map[string]bool, len(report.Requested))
	for _, pkg := range report.Requested {
		requested[pkg] = true
	}

	for _, pkg := range r.union(report.Requested) {
		if r.isInstalled(pkg) {
			continue
		}
		if !r.opts.AutoInstall {
			report.Failed[pkg] = fmt.Errorf("package %s is not installed and auto install is disabled", pkg)
			continue
		}

		if err := r.Install(ctx, pkg); err != nil {
			report.Failed[pkg] = err
			if requested[pkg] {
				r.logger.Warn("declared package could not be installed",
					logging.StringField("package", pkg), logging.ErrorField("error", err))
			} else {
				r.logger.Debug("baseline package could not be installed",
					logging.StringField("package", pkg), logging.ErrorField("error", err))
			}
			continue
		}
		report.Installed = append(report.Installed, pkg)
	}
	return report, nil
}

// Install installs pkg from the primary repository, then the fallback.
// Already installed packages return immediately.
func (r *Resolver) Install(ctx context.Context, pkg string) error {
	if r.isInstalled(pkg) {
		return nil
	}

	var lastErr error
	for _, repo := range r.repos() {
		start := time.Now()
		installCtx, cancel := context.WithTimeout(ctx, r.opts.InstallTimeout)
		err := r.installer.InstallPackage(installCtx, pkg, repo)
		cancel()
		elapsed := time.Since(start)

		if err == nil {
			r.observe(pkg, repo, ResultInstalled, elapsed)
			r.logger.Info("package installed",
				logging.StringField("package", pkg),
				logging.StringField("repo", repo),
				logging.DurationField("elapsed", elapsed))
			r.markInstalled(pkg)
			return nil
		}

		r.observe(pkg, repo, ResultFailed, elapsed)
		r.logger.Warn("package install failed",
			logging.StringField("package", pkg),
			logging.StringField("repo", repo),
			logging.ErrorField("error", err))
		lastErr = err

		// a dead session will not recover by switching repositories
		if errors.IsKind(err, errors.KindTimeout) || errors.IsKind(err, errors.KindInitialization) {
			r.Invalidate()
			return err
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no package repository configured")
	}
	return errors.NewPackageMissing(pkg, fmt.Sprintf("failed to install package '%s': %v", pkg, lastErr)).Wrap(lastErr)
}

// Invalidate drops the cached installed set, e.g. after the session
// restarted
func (r *Resolver) Invalidate() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.installed = make(map[string]bool)
	r.loaded = false
}

// IsInstalled reports whether pkg is known to be installed
func (r *Resolver) IsInstalled(ctx context.Context, pkg string) (bool, error) {
	if err := r.refresh(ctx); err != nil {
		return false, err
	}
	return r.isInstalled(pkg), nil
}

// Baseline returns the configured baseline packages
func (r *Resolver) Baseline() []string {
	return append([]string(nil), r.opts.Baseline...)
}

func (r *Resolver) refresh(ctx context.Context) error {
	r.mutex.Lock()
	loaded := r.loaded
	r.mutex.Unlock()
	if loaded {
		return nil
	}

	pkgs, err := r.installer.InstalledPackages(ctx)
	if err != nil {
		return fmt.Errorf("failed to list installed packages: %w", err)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	for _, pkg := range pkgs {
		r.installed[pkg] = true
	}
	r.loaded = true
	r.logger.Debug("installed packages loaded", logging.IntField("count", len(pkgs)))
	return nil
}

func (r *Resolver) union(requested []string) []string {
	seen := make(map[string]bool)
	var all []string
	for _, list := range [][]string{requested, r.opts.Baseline} {
		for _, pkg := range list {
			if pkg != "" && !seen[pkg] {
				seen[pkg] = true
				all = append(all, pkg)
			}
		}
	}
	return all
}

func (r *Resolver) repos() []string {
	var repos []string
	for _, repo := range []string{r.opts.PrimaryRepo, r.opts.FallbackRepo} {
		if repo != "" {
			repos = append(repos, repo)
		}
	}
	return repos
}

func (r *Resolver) isInstalled(pkg string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.installed[pkg]
}

func (r *Resolver) markInstalled(pkg string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.installed[pkg] = true
}

func (r *Resolver) observe(pkg, repo, result string, elapsed time.Duration) {
	if r.observer != nil {
		r.observer.ObserveInstall(pkg, repo, result, elapsed)
	}
}
