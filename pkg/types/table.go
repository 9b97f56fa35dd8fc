// Package types defines the shared data model: the columnar Table that
// flows through the ingest stages, resolved column descriptors, detector
// classes, and product handles.
package types

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrDuplicateColumn is returned when a column name already exists in the table.
	ErrDuplicateColumn = errors.New("duplicate column name")
	// ErrLengthMismatch is returned when a column's length differs from the table's row count.
	ErrLengthMismatch = errors.New("column length mismatch")
	// ErrNoSuchColumn is returned when a named column is not present.
	ErrNoSuchColumn = errors.New("no such column")
	// ErrBadPosition is returned when an insert position is out of range.
	ErrBadPosition = errors.New("position out of range")
)

// ColumnKind identifies the physical representation of a column.
type ColumnKind int

const (
	KindFloat ColumnKind = iota
	KindFlag
	KindString
)

var kindNames = map[ColumnKind]string{
	KindFloat:  "float",
	KindFlag:   "flag",
	KindString: "string",
}

func (k ColumnKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseColumnKind maps a kind name back to its ColumnKind.
func ParseColumnKind(s string) (ColumnKind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("types: unknown column kind %q", s)
}

// Missing returns the float value used for absent measurements.
func Missing() float64 { return math.NaN() }

// IsMissing reports whether a float value denotes an absent measurement.
func IsMissing(v float64) bool { return math.IsNaN(v) }

// Column is a single named column. Exactly one of the value slices is
// populated, selected by Kind.
type Column struct {
	Name    string
	Kind    ColumnKind
	Floats  []float64
	Flags   []Flag
	Strings []string
}

// NewFloatColumn builds a float column. Missing values are NaN.
func NewFloatColumn(name string, vals []float64) Column {
	return Column{Name: name, Kind: KindFloat, Floats: vals}
}

// NewFlagColumn builds a tri-state flag column.
func NewFlagColumn(name string, vals []Flag) Column {
	return Column{Name: name, Kind: KindFlag, Flags: vals}
}

// NewStringColumn builds a string column.
func NewStringColumn(name string, vals []string) Column {
	return Column{Name: name, Kind: KindString, Strings: vals}
}

// Len returns the number of values in the column.
func (c *Column) Len() int {
	switch c.Kind {
	case KindFlag:
		return len(c.Flags)
	case KindString:
		return len(c.Strings)
	default:
		return len(c.Floats)
	}
}

// IsNull reports whether the value at row i is missing. String columns
// have no null representation and always return false.
func (c *Column) IsNull(i int) bool {
	switch c.Kind {
	case KindFloat:
		return math.IsNaN(c.Floats[i])
	case KindFlag:
		return c.Flags[i] == FlagNull
	default:
		return false
	}
}

// Table is an ordered collection of equally-sized named columns. The
// zero value is not usable; construct with NewTable.
type Table struct {
	cols   []Column
	byName map[string]int
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{byName: make(map[string]int)}
}

// NumRows returns the row count (zero for a table with no columns).
func (t *Table) NumRows() int {
	if len(t.cols) == 0 {
		return 0
	}
	return t.cols[0].Len()
}

// NumCols returns the number of columns.
func (t *Table) NumCols() int { return len(t.cols) }

// ColumnNames returns the column names in table order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.cols))
	for i := range t.cols {
		names[i] = t.cols[i].Name
	}
	return names
}

// HasColumn reports whether a column with the given name exists.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.byName[name]
	return ok
}

// Column returns the named column, or false if absent. The pointer
// addresses table storage; callers may mutate values in place.
func (t *Table) Column(name string) (*Column, bool) {
	i, ok := t.byName[name]
	if !ok {
		return nil, false
	}
	return &t.cols[i], true
}

// ColumnAt returns the column at position i in table order.
func (t *Table) ColumnAt(i int) *Column { return &t.cols[i] }

// AddColumn appends a column at the end of the table.
func (t *Table) AddColumn(c Column) error {
	return t.InsertColumn(len(t.cols), c)
}

// InsertColumn places a column at the given 0-indexed position, shifting
// later columns right.
func (t *Table) InsertColumn(pos int, c Column) error {
	if pos < 0 || pos > len(t.cols) {
		return fmt.Errorf("types: insert %q at %d: %w", c.Name, pos, ErrBadPosition)
	}
	if _, ok := t.byName[c.Name]; ok {
		return fmt.Errorf("types: insert %q: %w", c.Name, ErrDuplicateColumn)
	}
	if len(t.cols) > 0 && c.Len() != t.NumRows() {
		return fmt.Errorf("types: insert %q: have %d rows, column has %d: %w",
			c.Name, t.NumRows(), c.Len(), ErrLengthMismatch)
	}
	t.cols = append(t.cols, Column{})
	copy(t.cols[pos+1:], t.cols[pos:])
	t.cols[pos] = c
	t.reindex()
	return nil
}

// Select returns a new table containing the named columns, in the order
// given. Column storage is shared with the receiver.
func (t *Table) Select(names ...string) (*Table, error) {
	out := NewTable()
	for _, name := range names {
		i, ok := t.byName[name]
		if !ok {
			return nil, fmt.Errorf("types: select %q: %w", name, ErrNoSuchColumn)
		}
		if err := out.AddColumn(t.cols[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SelectFunc returns a new table with the columns whose names satisfy
// keep, preserving table order. Column storage is shared.
func (t *Table) SelectFunc(keep func(name string) bool) *Table {
	out := NewTable()
	for i := range t.cols {
		if keep(t.cols[i].Name) {
			out.cols = append(out.cols, t.cols[i])
		}
	}
	out.reindex()
	return out
}

func (t *Table) reindex() {
	t.byName = make(map[string]int, len(t.cols))
	for i := range t.cols {
		t.byName[t.cols[i].Name] = i
	}
}
