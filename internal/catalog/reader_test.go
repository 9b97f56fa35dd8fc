package catalog

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	apperrors "github.com/photcat/photcat/internal/errors"
	"github.com/photcat/photcat/internal/schema"
)

// testLayout resolves a 19-column layout: 4 position, 2 per-image,
// 11 global, and 2 combined columns for WFC3_F814W.
func testLayout(t *testing.T) *schema.Layout {
	t.Helper()
	lines := []string{
		"Extension (zero for base image)",
		"Chip (for three-dimensional FITS image)",
		"Object X position",
		"Object Y position",
		"Input counts, img1.chip1",
		"Input magnitude, img1.chip1",
		"Extension (zero for base image)",
		"Chip (for three-dimensional FITS image)",
		"Object X position",
		"Object Y position",
		"Chi value",
		"Signal-to-noise",
		"Sharpness",
		"Roundness",
		"Major axis",
		"Crowding",
		"Object type",
		"Signal-to-noise, WFC3_F814W",
		"Sharpness, WFC3_F814W",
	}
	var b strings.Builder
	for i, l := range lines {
		fmt.Fprintf(&b, "%d. %s\n", i+1, l)
	}
	descs, err := schema.ParseDescriptions(strings.NewReader(b.String()))
	if err != nil {
		t.Fatalf("ParseDescriptions: %v", err)
	}
	manifest, err := schema.ParseManifest(strings.NewReader("img1.chip1 1\n"))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	layout, err := schema.Resolve(descs, manifest)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return layout
}

func row(vals ...float64) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, " ")
}

func fill(n int, v float64) []float64 {
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = v
	}
	return vals
}

func TestReadBasic(t *testing.T) {
	layout := testLayout(t)
	input := row(fill(19, 1.5)...) + "\n" + row(fill(19, 2.5)...) + "\n"

	table, err := Read(context.Background(), strings.NewReader(input), layout, ReadOptions{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if table.NumRows() != 2 {
		t.Fatalf("rows = %d, want 2", table.NumRows())
	}
	if table.NumCols() != 19 {
		t.Fatalf("cols = %d, want 19", table.NumCols())
	}
	names := table.ColumnNames()
	if names[0] != "ext_in" || names[17] != "wfc3_f814w_snr" || names[18] != "wfc3_f814w_sharp" {
		t.Errorf("names = %v", names)
	}
	col, ok := table.Column("wfc3_f814w_snr")
	if !ok {
		t.Fatal("missing wfc3_f814w_snr")
	}
	if col.Floats[0] != 1.5 || col.Floats[1] != 2.5 {
		t.Errorf("values = %v", col.Floats)
	}
}

func TestReadSentinel(t *testing.T) {
	layout := testLayout(t)
	vals := fill(19, 3.0)
	vals[17] = 99.999
	vals[18] = 99.998
	input := row(vals...) + "\n"

	table, err := Read(context.Background(), strings.NewReader(input), layout, ReadOptions{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	snr, _ := table.Column("wfc3_f814w_snr")
	if !math.IsNaN(snr.Floats[0]) {
		t.Errorf("sentinel read as %v, want missing", snr.Floats[0])
	}
	sharp, _ := table.Column("wfc3_f814w_sharp")
	if math.IsNaN(sharp.Floats[0]) {
		t.Error("99.998 incorrectly treated as missing")
	}
}

func TestReadBlankLines(t *testing.T) {
	layout := testLayout(t)
	input := row(fill(19, 1)...) + "\n\n   \n" + row(fill(19, 2)...) + "\n\n\n"

	table, err := Read(context.Background(), strings.NewReader(input), layout, ReadOptions{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if table.NumRows() != 2 {
		t.Errorf("rows = %d, want 2", table.NumRows())
	}
}

func TestReadMalformedRowCount(t *testing.T) {
	layout := testLayout(t)
	input := row(fill(19, 1)...) + "\n" + row(fill(18, 1)...) + "\n"

	_, err := Read(context.Background(), strings.NewReader(input), layout, ReadOptions{})
	if err == nil {
		t.Fatal("expected error for short row")
	}
	var pe *apperrors.Error
	if !errors.As(err, &pe) || pe.Code != apperrors.CodeMalformedRow {
		t.Fatalf("got %v, want MALFORMED_ROW", err)
	}
	if !strings.Contains(pe.Message, "line 2") {
		t.Errorf("message %q should name line 2", pe.Message)
	}
}

func TestReadUnparsableValue(t *testing.T) {
	layout := testLayout(t)
	fields := strings.Fields(row(fill(19, 1)...))
	fields[5] = "bogus"
	input := strings.Join(fields, " ") + "\n"

	_, err := Read(context.Background(), strings.NewReader(input), layout, ReadOptions{})
	if err == nil {
		t.Fatal("expected error for unparsable value")
	}
	var pe *apperrors.Error
	if !errors.As(err, &pe) || pe.Code != apperrors.CodeMalformedRow {
		t.Errorf("got %v, want MALFORMED_ROW", err)
	}
}

func TestReadLite(t *testing.T) {
	layout := testLayout(t)
	vals := fill(19, 0)
	for i := range vals {
		vals[i] = float64(i)
	}
	input := row(vals...) + "\n"

	table, err := Read(context.Background(), strings.NewReader(input), layout, ReadOptions{Lite: true})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if table.NumCols() != 17 {
		t.Fatalf("cols = %d, want 17", table.NumCols())
	}
	if table.HasColumn("img1.chip1_counts") || table.HasColumn("img1.chip1_mag") {
		t.Error("lite read retained per-exposure columns")
	}
	// Raw indices still address the full-width row.
	snr, _ := table.Column("wfc3_f814w_snr")
	if snr.Floats[0] != 17 {
		t.Errorf("wfc3_f814w_snr = %v, want 17", snr.Floats[0])
	}
}

func TestReadParallelMatchesSequential(t *testing.T) {
	layout := testLayout(t)
	var b strings.Builder
	for r := 0; r < 503; r++ {
		vals := make([]float64, 19)
		for c := range vals {
			vals[c] = float64(r*19+c) / 7.0
		}
		if r%11 == 0 {
			vals[17] = 99.999
		}
		b.WriteString(row(vals...))
		b.WriteByte('\n')
	}
	input := b.String()

	seq, err := Read(context.Background(), strings.NewReader(input), layout, ReadOptions{Workers: 1})
	if err != nil {
		t.Fatalf("sequential Read: %v", err)
	}
	par, err := Read(context.Background(), strings.NewReader(input), layout, ReadOptions{Workers: 4})
	if err != nil {
		t.Fatalf("parallel Read: %v", err)
	}

	if seq.NumRows() != par.NumRows() || seq.NumCols() != par.NumCols() {
		t.Fatalf("shape mismatch: %dx%d vs %dx%d", seq.NumRows(), seq.NumCols(), par.NumRows(), par.NumCols())
	}
	for _, name := range seq.ColumnNames() {
		sc, _ := seq.Column(name)
		pc, _ := par.Column(name)
		for i := range sc.Floats {
			s, p := sc.Floats[i], pc.Floats[i]
			if s != p && !(math.IsNaN(s) && math.IsNaN(p)) {
				t.Fatalf("column %s row %d: %v vs %v", name, i, s, p)
			}
		}
	}
}

func TestReadCancelledContext(t *testing.T) {
	layout := testLayout(t)
	input := row(fill(19, 1)...) + "\n"

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Read(ctx, strings.NewReader(input), layout, ReadOptions{}); err == nil {
		t.Error("expected error after cancellation")
	}
}

func TestReadFileMissing(t *testing.T) {
	layout := testLayout(t)
	if _, err := ReadFile(context.Background(), filepath.Join(t.TempDir(), "absent.phot"), layout, ReadOptions{}); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestConcatFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.fake")
	b := filepath.Join(dir, "b.fake")
	dst := filepath.Join(dir, "all.fake")

	if err := os.WriteFile(a, []byte("1 2 3\n4 5 6\n"), 0644); err != nil {
		t.Fatalf("write a: %v", err)
	}
	// No trailing newline; rows must still not join across files.
	if err := os.WriteFile(b, []byte("7 8 9"), 0644); err != nil {
		t.Fatalf("write b: %v", err)
	}

	if err := ConcatFiles(dst, []string{a, b}); err != nil {
		t.Fatalf("ConcatFiles: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read dst: %v", err)
	}
	want := "1 2 3\n4 5 6\n7 8 9\n"
	if string(got) != want {
		t.Errorf("got %q, want %q", got, want)
	}

	if err := ConcatFiles(dst, []string{a, filepath.Join(dir, "absent")}); err == nil {
		t.Error("expected error for missing source")
	}
}
