// Package catalog reads raw whitespace-delimited photometry output into
// columnar tables using a resolved schema layout.
package catalog

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/photcat/photcat/internal/errors"
	"github.com/photcat/photcat/internal/schema"
	"github.com/photcat/photcat/pkg/types"
)

// sentinelValue marks a missing measurement in raw output.
const sentinelValue = 99.999

// rowsPerCancelCheck bounds how long a scan worker runs between
// context checks.
const rowsPerCancelCheck = 1024

// ReadOptions control how a raw measurement file is scanned.
type ReadOptions struct {
	// Lite drops per-exposure columns at read time.
	Lite bool

	// Workers sets the number of parallel scan workers; values below 2
	// select a sequential scan. Worker count never changes the produced
	// table, only throughput.
	Workers int
}

// rawLine pairs a non-blank input line with its 1-based line number.
type rawLine struct {
	num  int
	text string
}

// Read scans a raw measurement stream into a table whose columns follow
// the layout (all columns, or the lite subset). Blank lines anywhere in
// the stream are skipped. The literal value 99.999 is stored as missing
// in every column.
func Read(ctx context.Context, r io.Reader, layout *schema.Layout, opts ReadOptions) (*types.Table, error) {
	selected := layout.Columns
	if opts.Lite {
		selected = layout.LiteColumns()
	}
	rawWidth := len(layout.Columns)

	lines, err := collectLines(r)
	if err != nil {
		return nil, err
	}
	nrows := len(lines)

	cols := make([][]float64, len(selected))
	for i := range cols {
		cols[i] = make([]float64, nrows)
	}

	workers := opts.Workers
	if workers < 2 || workers > nrows {
		workers = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	chunk := (nrows + workers - 1) / workers
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > nrows {
			hi = nrows
		}
		if lo >= hi {
			break
		}
		g.Go(func() error {
			return parseRows(ctx, lines[lo:hi], lo, rawWidth, selected, cols)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	table := types.NewTable()
	for i, d := range selected {
		if err := table.AddColumn(types.NewFloatColumn(d.Name, cols[i])); err != nil {
			return nil, apperrors.NewInternalError(fmt.Sprintf("adding column %q", d.Name), err)
		}
	}
	return table, nil
}

// ReadFile scans a raw measurement file from disk.
func ReadFile(ctx context.Context, path string, layout *schema.Layout, opts ReadOptions) (*types.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open measurements: %w", err)
	}
	defer f.Close()
	return Read(ctx, f, layout, opts)
}

func collectLines(r io.Reader) ([]rawLine, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 256*1024), 16*1024*1024)

	var lines []rawLine
	num := 0
	for scanner.Scan() {
		num++
		text := scanner.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		lines = append(lines, rawLine{num: num, text: text})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("catalog: scanning measurements: %w", err)
	}
	return lines, nil
}

// parseRows fills the selected columns for one chunk of rows. Chunks
// cover disjoint row ranges, so workers write without coordination.
func parseRows(ctx context.Context, lines []rawLine, base, rawWidth int, selected []types.ColumnDescriptor, cols [][]float64) error {
	for i, line := range lines {
		if i%rowsPerCancelCheck == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		fields := strings.Fields(line.text)
		if len(fields) != rawWidth {
			return apperrors.NewMalformedRow(
				fmt.Sprintf("line %d: %d fields, want %d", line.num, len(fields), rawWidth))
		}
		row := base + i
		for c, d := range selected {
			v, err := strconv.ParseFloat(fields[d.Index], 64)
			if err != nil {
				return apperrors.NewMalformedRow(
					fmt.Sprintf("line %d: column %d (%s): unparsable value %q", line.num, d.Index, d.Name, fields[d.Index]))
			}
			if v == sentinelValue {
				v = math.NaN()
			}
			cols[c][row] = v
		}
	}
	return nil
}
