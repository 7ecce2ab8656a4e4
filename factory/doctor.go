package factory

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"rbridge/resolver"
	"rbridge/runtime"
)

// CheckStatus is the outcome of one diagnostic
type CheckStatus string

const (
	CheckOK   CheckStatus = "ok"
	CheckWarn CheckStatus = "warn"
	CheckFail CheckStatus = "fail"
)

// Check is one diagnostic result
type Check struct {
	Name   string      `json:"name" yaml:"name"`
	Status CheckStatus `json:"status" yaml:"status"`
	Detail string      `json:"detail" yaml:"detail"`
}

// Report collects the diagnostics run by Doctor
type Report struct {
	Checks []Check `json:"checks" yaml:"checks"`
}

func (r *Report) add(name string, status CheckStatus, format string, args ...interface{}) {
	r.Checks = append(r.Checks, Check{Name: name, Status: status, Detail: fmt.Sprintf(format, args...)})
}

// OK reports whether no check failed
func (r *Report) OK() bool {
	for _, c := range r.Checks {
		if c.Status == CheckFail {
			return false
		}
	}
	return true
}

func (r *Report) String() string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 2, 2, ' ', 0)
	for _, c := range r.Checks {
		fmt.Fprintf(w, "[%s]\t%s\t%s\n", c.Status, c.Name, c.Detail)
	}
	_ = w.Flush()
	return b.String()
}

// DoctorOptions lists what Doctor looks at. Session and Resolver may be
// nil to skip the checks that need a running interpreter.
type DoctorOptions struct {
	Factory  *RSessionFactory
	Session  runtime.Session
	Resolver *resolver.Resolver
	Repos    []string
	Client   *http.Client
}

// Doctor validates the R installation, the package repositories and the
// baseline packages. Later checks are skipped once R is known to be
// unusable.
func Doctor(ctx context.Context, opts DoctorOptions) *Report {
	report := &Report{}

	if opts.Factory != nil {
		v, err := opts.Factory.DetectVersion(ctx)
		switch {
		case err != nil:
			report.add("r-binary", CheckFail, "%v", err)
			return report
		case !v.AtLeast(MinimumVersion):
			report.add("r-version", CheckFail, "R %s is older than %s", v, MinimumVersion)
			return report
		default:
			report.add("r-version", CheckOK, "R %s (%s)", v, opts.Factory.Binary())
		}
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	for _, repo := range opts.Repos {
		if repo == "" {
			continue
		}
		if err := checkRepository(ctx, client, repo); err != nil {
			report.add("repository", CheckWarn, "%s: %v", repo, err)
		} else {
			report.add("repository", CheckOK, "%s reachable", repo)
		}
	}

	if opts.Session == nil {
		return report
	}
	start := time.Now()
	if err := opts.Session.EnsureInitialized(ctx); err != nil {
		report.add("session", CheckFail, "%v", err)
		return report
	}
	version, _ := opts.Session.Version(ctx)
	report.add("session", CheckOK, "%s started in %s", strings.TrimSpace(version), time.Since(start).Round(time.Millisecond))

	if opts.Resolver == nil {
		return report
	}
	var missing []string
	for _, pkg := range opts.Resolver.Baseline() {
		ok, err := opts.Resolver.IsInstalled(ctx, pkg)
		if err != nil {
			report.add("packages", CheckFail, "cannot list installed packages: %v", err)
			return report
		}
		if !ok {
			missing = append(missing, pkg)
		}
	}
	if len(missing) > 0 {
		report.add("packages", CheckWarn, "baseline packages not installed yet: %s", strings.Join(missing, ", "))
	} else {
		report.add("packages", CheckOK, "baseline packages installed: %s", strings.Join(opts.Resolver.Baseline(), ", "))
	}
	return report
}

// checkRepository fetches the repository's package index headers
func checkRepository(ctx context.Context, client *http.Client, repo string) error {
	url := strings.TrimRight(repo, "/") + "/src/contrib/PACKAGES"
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("HTTP %d for %s", resp.StatusCode, url)
	}
	return nil
}
