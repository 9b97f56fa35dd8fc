package store

import (
	"fmt"
	"strings"

	"github.com/photcat/photcat/pkg/types"
)

// maxNameLen bounds section and column names persisted in the container.
const maxNameLen = 128

// Section kinds recorded in the sections table.
const (
	KindMetadata = "metadata"
	KindCombined = "combined"
	KindFilter   = "filter"
)

var validKinds = map[string]bool{
	KindMetadata: true,
	KindCombined: true,
	KindFilter:   true,
}

// ValidationError describes one rejected section or column name.
type ValidationError struct {
	Section string
	Column  string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("section %q, column %q: %s", e.Section, e.Column, e.Message)
	}
	return fmt.Sprintf("section %q: %s", e.Section, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("  - ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// validateSection checks a section's name, kind, and column names
// before anything is written. Names travel into SQL parameters only,
// but metacharacters are still rejected so section keys stay safe to
// echo in shells, URLs, and log lines.
func validateSection(name, kind string, table *types.Table) ValidationErrors {
	var errs ValidationErrors

	if msg := checkName(name); msg != "" {
		errs = append(errs, &ValidationError{Section: name, Message: msg})
	}
	if !validKinds[kind] {
		errs = append(errs, &ValidationError{Section: name, Message: fmt.Sprintf("unknown section kind %q", kind)})
	}
	for _, col := range table.ColumnNames() {
		if msg := checkName(col); msg != "" {
			errs = append(errs, &ValidationError{Section: name, Column: col, Message: msg})
		}
	}
	return errs
}

func checkName(name string) string {
	if name == "" {
		return "name is empty"
	}
	if len(name) > maxNameLen {
		return fmt.Sprintf("name is %d bytes, limit %d", len(name), maxNameLen)
	}
	if i := strings.IndexAny(name, "'\";`\\\x00\n\r\t "); i >= 0 {
		return fmt.Sprintf("name contains forbidden character %q", name[i])
	}
	return ""
}
