package factory

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"rbridge/errors"
	"rbridge/logging"
	"rbridge/runtime"
	"rbridge/runtime/rlang"
)

// SessionFactory defines the interface for creating interpreter sessions
type SessionFactory interface {
	// CreateSession creates a new session. The interpreter is started
	// lazily by EnsureInitialized.
	CreateSession() (runtime.Session, error)

	// ValidateEnvironment checks if the environment is suitable for this runtime
	ValidateEnvironment(ctx context.Context) error

	// GetName returns the name of the session factory
	GetName() string
}

// MinimumVersion is the oldest R the prelude supports
var MinimumVersion = Version{Major: 4, Minor: 0}

// Version is a parsed R version
type Version struct {
	Major, Minor, Patch int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// AtLeast reports whether v is min or newer
func (v Version) AtLeast(min Version) bool {
	if v.Major != min.Major {
		return v.Major > min.Major
	}
	if v.Minor != min.Minor {
		return v.Minor > min.Minor
	}
	return v.Patch >= min.Patch
}

var versionPattern = regexp.MustCompile(`R version (\d+)\.(\d+)\.(\d+)`)

// ParseVersion extracts the version from `R --version` output
func ParseVersion(output string) (Version, error) {
	m := versionPattern.FindStringSubmatch(output)
	if m == nil {
		line, _, _ := strings.Cut(output, "\n")
		return Version{}, fmt.Errorf("no R version in %q", line)
	}
	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	patch, _ := strconv.Atoi(m[3])
	return Version{Major: major, Minor: minor, Patch: patch}, nil
}

// RSessionFactory creates R sessions
type RSessionFactory struct {
	opts   rlang.Options
	logger logging.Logger
}

// NewRSessionFactory creates a factory for sessions with opts
func NewRSessionFactory(opts rlang.Options, logger logging.Logger) *RSessionFactory {
	if opts.Binary == "" {
		opts.Binary = rlang.DefaultOptions().Binary
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &RSessionFactory{opts: opts, logger: logger}
}

// CreateSession creates a new R session
func (f *RSessionFactory) CreateSession() (runtime.Session, error) {
	return rlang.NewRRuntime(f.opts, f.logger), nil
}

// GetName returns the name of the session factory
func (f *RSessionFactory) GetName() string {
	return "r"
}

// Binary returns the configured R executable
func (f *RSessionFactory) Binary() string {
	return f.opts.Binary
}

// DetectVersion runs `R --version`
func (f *RSessionFactory) DetectVersion(ctx context.Context) (Version, error) {
	path, err := exec.LookPath(f.opts.Binary)
	if err != nil {
		return Version{}, errors.NewInitializationError(fmt.Sprintf("R executable %q not found in PATH", f.opts.Binary), err)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, path, "--version").CombinedOutput()
	if err != nil {
		return Version{}, errors.NewInitializationError(fmt.Sprintf("failed to run %s --version: %v", path, err), err)
	}
	v, err := ParseVersion(string(out))
	if err != nil {
		return Version{}, errors.NewInitializationError(err.Error(), err)
	}
	return v, nil
}

// ValidateEnvironment checks that R is installed and recent enough
func (f *RSessionFactory) ValidateEnvironment(ctx context.Context) error {
	v, err := f.DetectVersion(ctx)
	if err != nil {
		return err
	}
	if !v.AtLeast(MinimumVersion) {
		return errors.NewInitializationError(fmt.Sprintf("R %s is too old, need %s or newer", v, MinimumVersion), nil)
	}
	f.logger.Debug("R environment validated",
		logging.StringField("binary", f.opts.Binary),
		logging.StringField("version", v.String()))
	return nil
}
