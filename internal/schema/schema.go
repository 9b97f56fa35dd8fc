// Package schema resolves the position-dependent column layout of raw
// DOLPHOT photometry output into named, classified column descriptors.
//
// Raw measurement files are headerless. Column meaning comes from two
// sidecar files: a description file with one free-text entry per raw
// column, and an image manifest whose chip-bearing entries determine the
// width of the leading per-exposure input block. The resolver combines
// both into a Layout that every later pipeline stage consumes.
package schema

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	apperrors "github.com/photcat/photcat/internal/errors"
	"github.com/photcat/photcat/pkg/types"
)

// ManifestEntry is one line of the image-manifest file.
type ManifestEntry struct {
	Name   string
	Number int
}

// Manifest is the ordered list of exposures contributing to a catalog.
// Entry order defines the offsets of the per-exposure input block.
type Manifest struct {
	Entries []ManifestEntry

	names map[string]struct{}
}

// NewManifest builds a Manifest from entries in file order.
func NewManifest(entries []ManifestEntry) *Manifest {
	m := &Manifest{Entries: entries, names: make(map[string]struct{}, len(entries))}
	for _, e := range entries {
		m.names[e.Name] = struct{}{}
	}
	return m
}

// Contains reports whether an image name appears in the manifest.
func (m *Manifest) Contains(name string) bool {
	_, ok := m.names[name]
	return ok
}

// ChipCount returns the number of entries carrying the chip marker.
func (m *Manifest) ChipCount() int {
	n := 0
	for _, e := range m.Entries {
		if strings.Contains(e.Name, chipMarker) {
			n++
		}
	}
	return n
}

// ParseDescriptions reads a column-description stream, one entry per
// line in the form "<integer index>. <free text>". Blank lines are
// skipped; entry order defines the raw column order.
func ParseDescriptions(r io.Reader) ([]types.ColumnDescriptor, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var descs []types.ColumnDescriptor
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		idx, text, ok := strings.Cut(line, ". ")
		if !ok {
			return nil, apperrors.NewSchemaMismatch(
				fmt.Sprintf("description line %d: want \"<index>. <text>\", got %q", lineNo, line))
		}
		if _, err := strconv.Atoi(strings.TrimSpace(idx)); err != nil {
			return nil, apperrors.NewSchemaMismatch(
				fmt.Sprintf("description line %d: non-integer index %q", lineNo, idx))
		}
		descs = append(descs, types.ColumnDescriptor{
			Index: len(descs),
			Desc:  strings.TrimSpace(text),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("schema: reading descriptions: %w", err)
	}
	return descs, nil
}

// ReadDescriptionsFile parses a column-description file from disk.
func ReadDescriptionsFile(path string) ([]types.ColumnDescriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("schema: open descriptions: %w", err)
	}
	defer f.Close()
	return ParseDescriptions(f)
}

// ParseManifest reads an image-manifest stream with whitespace-delimited
// columns "imnames imnumber". Blank lines are skipped.
func ParseManifest(r io.Reader) (*Manifest, error) {
	scanner := bufio.NewScanner(r)

	var entries []ManifestEntry
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, apperrors.NewSchemaMismatch(
				fmt.Sprintf("manifest line %d: want \"<name> <number>\", got %d fields", lineNo, len(fields)))
		}
		num, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, apperrors.NewSchemaMismatch(
				fmt.Sprintf("manifest line %d: non-integer image number %q", lineNo, fields[1]))
		}
		entries = append(entries, ManifestEntry{Name: fields[0], Number: num})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("schema: reading manifest: %w", err)
	}
	return NewManifest(entries), nil
}

// ReadManifestFile parses an image-manifest file from disk.
func ReadManifestFile(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("schema: open manifest: %w", err)
	}
	defer f.Close()
	return ParseManifest(f)
}
