package wcs

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	apperrors "github.com/photcat/photcat/internal/errors"
)

func card(key, value string) string {
	return fmt.Sprintf("%-8s= %-70s", key, value)
}

func headerBlock(cards ...string) []byte {
	var b bytes.Buffer
	for _, c := range cards {
		b.WriteString(c)
	}
	fmt.Fprintf(&b, "%-80s", "END")
	for b.Len()%blockSize != 0 {
		b.WriteByte(' ')
	}
	return b.Bytes()
}

func solutionCards() []string {
	return []string{
		card("XTENSION", "'IMAGE   '"),
		card("BITPIX", "-32"),
		card("NAXIS", "0"),
		card("CTYPE1", "'RA---TAN'"),
		card("CTYPE2", "'DEC--TAN'"),
		card("CRVAL1", "150.25 / tangent point RA"),
		card("CRVAL2", "-30.5"),
		card("CRPIX1", "2048"),
		card("CRPIX2", "1024.5"),
		card("CD1_1", "-1.25E-5"),
		card("CD1_2", "2.0D-6 / rotation term"),
		card("CD2_1", "2.0E-6"),
		card("CD2_2", "1.25E-5"),
	}
}

func TestReadSolutionSecondUnit(t *testing.T) {
	var f bytes.Buffer
	f.Write(headerBlock(
		card("SIMPLE", "T"),
		card("BITPIX", "16"),
		card("NAXIS", "0"),
	))
	f.Write(headerBlock(solutionCards()...))

	sol, err := ReadSolution(&f)
	if err != nil {
		t.Fatalf("ReadSolution: %v", err)
	}
	if sol.CRVAL1 != 150.25 || sol.CRVAL2 != -30.5 {
		t.Errorf("CRVAL got (%v, %v), want (150.25, -30.5)", sol.CRVAL1, sol.CRVAL2)
	}
	if sol.CRPIX1 != 2048 || sol.CRPIX2 != 1024.5 {
		t.Errorf("CRPIX got (%v, %v), want (2048, 1024.5)", sol.CRPIX1, sol.CRPIX2)
	}
	want := [2][2]float64{{-1.25e-5, 2.0e-6}, {2.0e-6, 1.25e-5}}
	if sol.CD != want {
		t.Errorf("CD got %v, want %v", sol.CD, want)
	}
}

func TestReadSolutionSkipsImageData(t *testing.T) {
	var f bytes.Buffer
	f.Write(headerBlock(
		card("SIMPLE", "T"),
		card("BITPIX", "8"),
		card("NAXIS", "2"),
		card("NAXIS1", "5"),
		card("NAXIS2", "3"),
	))
	// 15 bytes of pixels pad out to one full block.
	f.Write(make([]byte, blockSize))
	f.Write(headerBlock(solutionCards()...))

	sol, err := ReadSolution(&f)
	if err != nil {
		t.Fatalf("ReadSolution: %v", err)
	}
	if sol.CRVAL1 != 150.25 {
		t.Errorf("CRVAL1 got %v, want 150.25", sol.CRVAL1)
	}
}

func TestReadSolutionCDELTFallback(t *testing.T) {
	var f bytes.Buffer
	f.Write(headerBlock(
		card("SIMPLE", "T"),
		card("BITPIX", "16"),
		card("NAXIS", "0"),
		card("CTYPE1", "'RA---TAN'"),
		card("CRVAL1", "10.0"),
		card("CRVAL2", "20.0"),
		card("CRPIX1", "1.0"),
		card("CRPIX2", "1.0"),
		card("CDELT1", "-2.5E-5"),
		card("CDELT2", "2.5E-5"),
	))

	sol, err := ReadSolution(&f)
	if err != nil {
		t.Fatalf("ReadSolution: %v", err)
	}
	want := [2][2]float64{{-2.5e-5, 0}, {0, 2.5e-5}}
	if sol.CD != want {
		t.Errorf("CD got %v, want %v", sol.CD, want)
	}
}

func TestReadSolutionErrors(t *testing.T) {
	base := []string{
		card("SIMPLE", "T"),
		card("BITPIX", "16"),
		card("NAXIS", "0"),
	}
	tests := []struct {
		name  string
		input []byte
		want  string
	}{
		{
			name:  "truncated stream",
			input: []byte("not a fits file"),
			want:  "header block",
		},
		{
			name:  "missing simple card",
			input: headerBlock(card("XTENSION", "'IMAGE   '"), card("BITPIX", "8"), card("NAXIS", "0")),
			want:  "not a FITS stream",
		},
		{
			name:  "no solution in any unit",
			input: headerBlock(base...),
			want:  "no header unit carries an astrometric solution",
		},
		{
			name: "non tangent projection",
			input: headerBlock(append(base,
				card("CTYPE1", "'RA---SIN'"),
				card("CRVAL1", "10.0"), card("CRVAL2", "20.0"),
				card("CRPIX1", "1.0"), card("CRPIX2", "1.0"),
				card("CDELT1", "1.0E-5"), card("CDELT2", "1.0E-5"))...),
			want: "not tangent-plane",
		},
		{
			name: "missing reference pixel",
			input: headerBlock(append(base,
				card("CTYPE1", "'RA---TAN'"),
				card("CRVAL1", "10.0"), card("CRVAL2", "20.0"),
				card("CDELT1", "1.0E-5"), card("CDELT2", "1.0E-5"))...),
			want: "missing CRPIX1",
		},
		{
			name: "missing scale keywords",
			input: headerBlock(append(base,
				card("CTYPE1", "'RA---TAN'"),
				card("CRVAL1", "10.0"), card("CRVAL2", "20.0"),
				card("CRPIX1", "1.0"), card("CRPIX2", "1.0"))...),
			want: "neither CD matrix nor CDELT",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadSolution(bytes.NewReader(tt.input))
			if err == nil {
				t.Fatal("ReadSolution succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestParseCard(t *testing.T) {
	tests := []struct {
		card  string
		key   string
		value interface{}
	}{
		{card("BITPIX", "-32"), "BITPIX", -32},
		{card("NAXIS1", "4096 / image width"), "NAXIS1", 4096},
		{card("CRVAL1", "150.25"), "CRVAL1", 150.25},
		{card("CD1_1", "-1.25D-5"), "CD1_1", -1.25e-5},
		{card("SIMPLE", "T / conforms"), "SIMPLE", true},
		{card("EXTEND", "F"), "EXTEND", false},
		{card("CTYPE1", "'RA---TAN'"), "CTYPE1", "RA---TAN"},
		{card("OBJECT", "'O''NEIL  ' / quoted quote"), "OBJECT", "O'NEIL"},
		{card("FILTER", "'        '"), "FILTER", ""},
		{fmt.Sprintf("%-80s", "COMMENT plain text"), "COMMENT", nil},
		{card("BLANKVAL", ""), "BLANKVAL", nil},
	}
	for _, tt := range tests {
		key, value := parseCard(tt.card)
		if key != tt.key {
			t.Errorf("parseCard(%q) key got %q, want %q", tt.card[:10], key, tt.key)
		}
		if value != tt.value {
			t.Errorf("parseCard(%q) value got %#v, want %#v", tt.card[:10], value, tt.value)
		}
	}
}

func TestFITSResolver(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ref_drz.fits")
	var f bytes.Buffer
	f.Write(headerBlock(card("SIMPLE", "T"), card("BITPIX", "16"), card("NAXIS", "0")))
	f.Write(headerBlock(solutionCards()...))
	if err := os.WriteFile(path, f.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	sol, err := FITSResolver{}.Resolve(path)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if sol.CRVAL2 != -30.5 {
		t.Errorf("CRVAL2 got %v, want -30.5", sol.CRVAL2)
	}

	_, err = FITSResolver{}.Resolve(filepath.Join(dir, "absent.fits"))
	if !apperrors.IsCode(err, apperrors.CodeReferenceUnreadable) {
		t.Errorf("missing file error got %v, want REFERENCE_UNREADABLE", err)
	}

	garbage := filepath.Join(dir, "garbage.fits")
	if err := os.WriteFile(garbage, []byte("definitely not fits"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = FITSResolver{}.Resolve(garbage)
	if !apperrors.IsCode(err, apperrors.CodeReferenceUnreadable) {
		t.Errorf("garbage file error got %v, want REFERENCE_UNREADABLE", err)
	}
}

func TestPixelToWorldAtReferencePixel(t *testing.T) {
	sol := &Solution{
		CRVAL1: 150.25, CRVAL2: -30.5,
		CRPIX1: 2048, CRPIX2: 1024,
		CD: [2][2]float64{{-1.25e-5, 0}, {0, 1.25e-5}},
	}
	ra, dec := sol.PixelToWorld(2047, 1023)
	if math.Abs(ra-150.25) > 1e-9 || math.Abs(dec+30.5) > 1e-9 {
		t.Errorf("reference pixel got (%v, %v), want (150.25, -30.5)", ra, dec)
	}
}

func TestPixelToWorldEquatorOffsets(t *testing.T) {
	sol := &Solution{
		CRVAL1: 100, CRVAL2: 0,
		CRPIX1: 1, CRPIX2: 1,
		CD: [2][2]float64{{1e-4, 0}, {0, 1e-4}},
	}
	ra, dec := sol.PixelToWorld(1, 0)
	if math.Abs(ra-100.0001) > 1e-8 {
		t.Errorf("ra got %v, want 100.0001", ra)
	}
	if math.Abs(dec) > 1e-8 {
		t.Errorf("dec got %v, want 0", dec)
	}
	ra, dec = sol.PixelToWorld(0, 1)
	if math.Abs(ra-100) > 1e-8 {
		t.Errorf("ra got %v, want 100", ra)
	}
	if math.Abs(dec-0.0001) > 1e-8 {
		t.Errorf("dec got %v, want 0.0001", dec)
	}
}

func TestPixelToWorldRANormalization(t *testing.T) {
	sol := &Solution{
		CRVAL1: 359.9999, CRVAL2: 0,
		CRPIX1: 1, CRPIX2: 1,
		CD: [2][2]float64{{1e-4, 0}, {0, 1e-4}},
	}
	ra, _ := sol.PixelToWorld(2, 0)
	if ra < 0 || ra >= 360 {
		t.Fatalf("ra %v outside [0, 360)", ra)
	}
	if math.Abs(ra-0.0001) > 1e-8 {
		t.Errorf("wrapped ra got %v, want 0.0001", ra)
	}

	sol.CRVAL1 = 0.0001
	ra, _ = sol.PixelToWorld(-2, 0)
	if math.Abs(ra-359.9999) > 1e-8 {
		t.Errorf("wrapped ra got %v, want 359.9999", ra)
	}
}

func TestPixelToWorldMissingInput(t *testing.T) {
	sol := &Solution{
		CRVAL1: 10, CRVAL2: 20,
		CRPIX1: 1, CRPIX2: 1,
		CD: [2][2]float64{{1e-5, 0}, {0, 1e-5}},
	}
	ra, dec := sol.PixelToWorld(math.NaN(), 5)
	if !math.IsNaN(ra) || !math.IsNaN(dec) {
		t.Errorf("missing x got (%v, %v), want NaN for both", ra, dec)
	}
	ra, dec = sol.PixelToWorld(5, math.NaN())
	if !math.IsNaN(ra) || !math.IsNaN(dec) {
		t.Errorf("missing y got (%v, %v), want NaN for both", ra, dec)
	}
}
