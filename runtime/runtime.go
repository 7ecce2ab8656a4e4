package runtime

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// HandleKind describes what an interpreter-resident value is
type HandleKind string

const (
	KindScope HandleKind = "scope"
	KindTable HandleKind = "table"
)

// Handle is an opaque reference to a value living inside the interpreter.
// The host cannot garbage-collect it: whoever creates it must release it
// through Session.Destroy, normally via a HandleGuard.
type Handle struct {
	ID         string
	Kind       HandleKind
	Generation int
}

// IsZero reports whether h refers to nothing
func (h Handle) IsZero() bool {
	return h.ID == ""
}

func (h Handle) String() string {
	return fmt.Sprintf("%s:%s@%d", h.Kind, h.ID, h.Generation)
}

// ColumnType is the guest storage class of a column
type ColumnType string

const (
	ColumnNumeric   ColumnType = "numeric"
	ColumnCharacter ColumnType = "character"
)

// Column is one column exchanged with the interpreter. Values hold
// float64 for numeric columns, string for character columns, and nil for
// missing values.
type Column struct {
	Name   string
	Type   ColumnType
	Values []interface{}
}

// Frame is a column-oriented table crossing the host/interpreter boundary
type Frame struct {
	Columns []Column
}

// NumRows returns the number of rows, taken from the first column
func (f *Frame) NumRows() int {
	if f == nil || len(f.Columns) == 0 {
		return 0
	}
	return len(f.Columns[0].Values)
}

// GuestError is a condition raised inside the interpreter. Classes holds
// the condition class chain, most specific first.
type GuestError struct {
	Message string
	Classes []string
	Package string
	Call    string
}

// Error implements the error interface
func (e *GuestError) Error() string {
	if e.Call != "" {
		return fmt.Sprintf("Error in %s: %s", e.Call, e.Message)
	}
	return "Error: " + e.Message
}

// HasClass reports whether the condition inherits from class
func (e *GuestError) HasClass(class string) bool {
	for _, c := range e.Classes {
		if c == class {
			return true
		}
	}
	return false
}

// ParseClasses splits a comma-joined class chain
func ParseClasses(joined string) []string {
	var classes []string
	for _, c := range strings.Split(joined, ",") {
		if c = strings.TrimSpace(c); c != "" {
			classes = append(classes, c)
		}
	}
	return classes
}

// EvalResult is the outcome of evaluating user source in a scope. Output
// holds everything printed before completion or failure; Err is set when
// the source raised an error.
type EvalResult struct {
	Output   string
	Err      *GuestError
	Duration time.Duration
}

// CatalogEntry is one built-in dataset known to the interpreter
type CatalogEntry struct {
	Name    string
	Title   string
	Package string
}

// DeviceSpec describes the raster capture surface opened for one evaluation
type DeviceSpec struct {
	Path       string
	Width      int
	Height     int
	Resolution int
}

// Destroyer releases interpreter-resident values
type Destroyer interface {
	// Destroy releases h. Releasing a handle from an earlier interpreter
	// generation is a no-op.
	Destroy(ctx context.Context, h Handle) error
}

// Installer manages guest packages
type Installer interface {
	// InstalledPackages lists the packages present in the library paths
	InstalledPackages(ctx context.Context) ([]string, error)

	// InstallPackage installs pkg from repo and verifies it loads
	InstallPackage(ctx context.Context, pkg, repo string) error
}

// Session owns the single interpreter instance. It is not re-entrant:
// callers serialize requests (see jobmanager), and implementations also
// serialize individual calls.
type Session interface {
	Destroyer
	Installer

	// EnsureInitialized starts the interpreter once; later calls are no-ops
	// until the interpreter dies.
	EnsureInitialized(ctx context.Context) error

	// NewScope creates an isolated child environment for one request
	NewScope(ctx context.Context) (Handle, error)

	// Bind assigns the value behind value to name inside scope
	Bind(ctx context.Context, scope Handle, name string, value Handle) error

	// Evaluate runs source inside scope. Guest errors are reported in the
	// result; the error return is reserved for transport failures.
	Evaluate(ctx context.Context, scope Handle, source string) (*EvalResult, error)

	// Materialize builds a guest table from a host frame
	Materialize(ctx context.Context, frame *Frame) (Handle, error)

	// LoadDataset loads a catalog dataset coerced to a table
	LoadDataset(ctx context.Context, name string) (Handle, error)

	// SyntheticDataset creates the fallback table bound when a request
	// carries no data
	SyntheticDataset(ctx context.Context) (Handle, error)

	// ProjectTable copies a guest table into a host frame
	ProjectTable(ctx context.Context, h Handle) (*Frame, error)

	// ProjectSummary returns the structural description of a value
	ProjectSummary(ctx context.Context, h Handle) (string, error)

	// Catalog lists the built-in datasets
	Catalog(ctx context.Context) ([]CatalogEntry, error)

	// OpenDevice directs graphics to a raster file
	OpenDevice(ctx context.Context, spec DeviceSpec) error

	// CloseDevice closes the capture surface and reports whether anything
	// was drawn on it
	CloseDevice(ctx context.Context) (bool, error)

	// Version returns the interpreter version string
	Version(ctx context.Context) (string, error)

	// Close shuts the interpreter down
	Close() error
}
