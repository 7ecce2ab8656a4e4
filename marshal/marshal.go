package marshal

import (
	"context"
	"fmt"
	"strconv"

	"rbridge/errors"
	"rbridge/logging"
	"rbridge/runtime"
	"rbridge/sanitize"
	"rbridge/shared"
)

// CodeEmptyTable rejects tables without rows or columns
const CodeEmptyTable = "EMPTY_TABLE"

// Marshaler moves tables across the host/R boundary. It keeps no state
// between requests: every handle it creates for its own use is destroyed
// before it returns, and handles it hands out belong to the caller.
type Marshaler struct {
	session runtime.Session
	logger  logging.Logger
}

// New creates a marshaler over session
func New(session runtime.Session, logger logging.Logger) *Marshaler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Marshaler{session: session, logger: logger.WithComponent("marshal")}
}

// LoadNamedDataset loads a catalog dataset, coerced to a table, and
// returns its rows and its str() summary. Fails with DatasetNotFoundError
// when name is not in the catalog.
func (m *Marshaler) LoadNamedDataset(ctx context.Context, name string) (*shared.RowTable, string, error) {
	guard := runtime.NewHandleGuard(m.session)
	defer func() {
		if err := guard.Release(ctx); err != nil {
			m.logger.Warn("failed to release dataset handle", logging.ErrorField("error", err))
		}
	}()

	h, err := guard.Track(m.session.LoadDataset(ctx, name))
	if err != nil {
		return nil, "", err
	}

	frame, err := m.session.ProjectTable(ctx, h)
	if err != nil {
		return nil, "", fmt.Errorf("failed to project dataset %s: %w", name, err)
	}
	summary, err := m.session.ProjectSummary(ctx, h)
	if err != nil {
		return nil, "", fmt.Errorf("failed to summarize dataset %s: %w", name, err)
	}

	table := FromFrame(frame)
	m.logger.Debug("dataset loaded",
		logging.StringField("dataset", name),
		logging.IntField("rows", table.Len()),
		logging.IntField("columns", table.Width()))
	return table, summary, nil
}

// MaterializeInline builds an R data frame from host rows. Column names
// are sanitized first. Empty tables are rejected: callers substitute the
// synthetic dataset instead. The caller owns the returned handle.
func (m *Marshaler) MaterializeInline(ctx context.Context, table *shared.RowTable) (runtime.Handle, error) {
	if table.Len() == 0 || table.Width() == 0 {
		return runtime.Handle{}, errors.NewValidationError(CodeEmptyTable,
			fmt.Sprintf("cannot materialize a table with %d rows and %d columns", table.Len(), table.Width()))
	}

	frame, err := ToFrame(table)
	if err != nil {
		return runtime.Handle{}, err
	}
	return m.session.Materialize(ctx, frame)
}

// ProjectSummary returns the structural description of the value behind h
func (m *Marshaler) ProjectSummary(ctx context.Context, h runtime.Handle) (string, error) {
	return m.session.ProjectSummary(ctx, h)
}

// ProjectRows copies the table behind h into host rows
func (m *Marshaler) ProjectRows(ctx context.Context, h runtime.Handle) (*shared.RowTable, error) {
	frame, err := m.session.ProjectTable(ctx, h)
	if err != nil {
		return nil, err
	}
	return FromFrame(frame), nil
}

// DescribeInline materializes an uploaded table just long enough to have
// R summarize it
func (m *Marshaler) DescribeInline(ctx context.Context, name string, table *shared.RowTable) (shared.DatasetDescriptor, error) {
	guard := runtime.NewHandleGuard(m.session)
	defer func() { _ = guard.Release(ctx) }()

	h, err := guard.Track(m.MaterializeInline(ctx, table))
	if err != nil {
		return shared.DatasetDescriptor{}, err
	}
	summary, err := m.session.ProjectSummary(ctx, h)
	if err != nil {
		return shared.DatasetDescriptor{}, err
	}
	return shared.Describe(name, table, summary), nil
}

// ToFrame converts rows into columns under sanitized names. A column is
// numeric when every present cell is a number, and character otherwise;
// numbers in a character column become their shortest text form, so they
// come back from the guest as strings.
func ToFrame(table *shared.RowTable) (*runtime.Frame, error) {
	names := sanitize.Identifiers(table.Columns)
	frame := &runtime.Frame{Columns: make([]runtime.Column, len(table.Columns))}

	for j, original := range table.Columns {
		values := make([]interface{}, len(table.Rows))
		numeric := true
		present := 0
		for i, row := range table.Rows {
			v := shared.NormalizeValue(row[original])
			values[i] = v
			if v == nil {
				continue
			}
			present++
			if _, ok := v.(float64); !ok {
				numeric = false
			}
		}

		colType := runtime.ColumnCharacter
		if numeric && present > 0 {
			colType = runtime.ColumnNumeric
		}
		if colType == runtime.ColumnCharacter {
			for i, v := range values {
				if f, ok := v.(float64); ok {
					values[i] = strconv.FormatFloat(f, 'g', -1, 64)
				}
			}
		}
		frame.Columns[j] = runtime.Column{Name: names[j], Type: colType, Values: values}
	}

	if rows := frame.NumRows(); rows != table.Len() {
		return nil, fmt.Errorf("frame has %d rows, table has %d", rows, table.Len())
	}
	return frame, nil
}

// FromFrame converts a projected frame into host rows
func FromFrame(frame *runtime.Frame) *shared.RowTable {
	columns := make([]string, len(frame.Columns))
	for j, col := range frame.Columns {
		columns[j] = col.Name
	}

	rows := make([]shared.Row, frame.NumRows())
	for i := range rows {
		row := make(shared.Row, len(columns))
		for _, col := range frame.Columns {
			if i < len(col.Values) {
				row[col.Name] = col.Values[i]
			} else {
				row[col.Name] = nil
			}
		}
		rows[i] = row
	}
	return &shared.RowTable{Columns: columns, Rows: rows}
}
