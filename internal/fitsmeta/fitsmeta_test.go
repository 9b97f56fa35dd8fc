package fitsmeta

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/photcat/photcat/pkg/types"
)

func card(key, value string) string {
	return fmt.Sprintf("%-8s= %-70s", key, value)
}

func writeFITS(t *testing.T, dir, name string, cards ...string) string {
	t.Helper()
	var raw []byte
	for _, c := range cards {
		raw = append(raw, c...)
	}
	raw = append(raw, fmt.Sprintf("%-80s", "END")...)
	for len(raw)%2880 != 0 {
		raw = append(raw, ' ')
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func hstImage(t *testing.T, dir string) string {
	return writeFITS(t, dir, "j8cd01xyz_f814w_flc.fits",
		card("SIMPLE", "T"),
		card("BITPIX", "16"),
		card("NAXIS", "0"),
		card("TELESCOP", "'HST     '"),
		card("INSTRUME", "'ACS     '"),
		card("DETECTOR", "'WFC     '"),
		card("FILTER1", "'CLEAR1L '"),
		card("FILTER2", "'F814W   '"),
		card("RA_TARG", "10.5"),
		card("DEC_TARG", "41.25"),
		card("PA_V3", "55.0"),
		card("EXPTIME", "430.0"),
		card("EXPFLAG", "'NORMAL  '"),
		card("TARGNAME", "'M31-FIELD'"),
		card("PROPOSID", "13057"),
	)
}

func jwstImage(t *testing.T, dir string) string {
	return writeFITS(t, dir, "jw01234_nrca_i2d.fits",
		card("SIMPLE", "T"),
		card("BITPIX", "8"),
		card("NAXIS", "0"),
		card("TELESCOP", "'JWST    '"),
		card("INSTRUME", "'NIRCAM  '"),
		card("FILTER", "'F150W   '"),
		card("TARG_RA", "10.6"),
		card("TARG_DEC", "41.3"),
		card("GS_V3_PA", "120.0"),
		card("EFFEXPTM", "311.5"),
		card("TARGPROP", "'M31     '"),
		card("PROGRAM", "'01234   '"),
	)
}

func TestBuildTableAndMeta(t *testing.T) {
	dir := t.TempDir()
	hst := hstImage(t, dir)
	jwst := jwstImage(t, dir)

	table, metas, err := Build(context.Background(), []string{hst, jwst})
	if err != nil {
		t.Fatal(err)
	}
	if table.NumRows() != 2 {
		t.Fatalf("rows = %d, want 2", table.NumRows())
	}

	fn, ok := table.Column("filename")
	if !ok || fn.Strings[0] != "j8cd01xyz_f814w_flc.fits" || fn.Strings[1] != "jw01234_nrca_i2d.fits" {
		t.Fatalf("filename column = %+v", fn)
	}

	// EXPTIME appears only in the HST header: a float column with the
	// JWST row missing.
	exp, ok := table.Column("EXPTIME")
	if !ok || exp.Kind != types.KindFloat {
		t.Fatalf("EXPTIME column = %+v", exp)
	}
	if exp.Floats[0] != 430 || !types.IsMissing(exp.Floats[1]) {
		t.Errorf("EXPTIME = %v", exp.Floats)
	}

	tel, ok := table.Column("TELESCOP")
	if !ok || tel.Kind != types.KindString || tel.Strings[1] != "JWST" {
		t.Fatalf("TELESCOP column = %+v", tel)
	}

	simple, ok := table.Column("SIMPLE")
	if !ok || simple.Kind != types.KindFlag || simple.Flags[0] != types.FlagTrue {
		t.Fatalf("SIMPLE column = %+v", simple)
	}

	if len(metas) != 2 {
		t.Fatalf("metas = %d, want 2", len(metas))
	}
	h := metas[0]
	if h.Filter != "F814W" {
		t.Errorf("HST filter = %q, want F814W (from the non-CLEAR wheel)", h.Filter)
	}
	if h.RA != 10.5 || h.Dec != 41.25 || h.Orientation != 55 {
		t.Errorf("HST pointing = %v/%v/%v", h.RA, h.Dec, h.Orientation)
	}
	if h.ProposalID != "13057" || h.Camera != "ACS" || h.Detector != "WFC" {
		t.Errorf("HST meta = %+v", h)
	}
	if h.Kind != KindScience {
		t.Errorf("HST kind = %s, want SCIENCE", h.Kind)
	}

	j := metas[1]
	if j.RA != 10.6 || j.Dec != 41.3 {
		t.Errorf("JWST pointing = %v/%v, want 10.6/41.3", j.RA, j.Dec)
	}
	if j.ExposureFlag != "MANNORMAL" || j.ExposureTime != 311.5 || j.Orientation != 120 {
		t.Errorf("JWST exposure = %+v", j)
	}
	if j.Detector != "NIRCAM" || j.Filter != "F150W" || j.ProposalID != "01234" || j.TargetName != "M31" {
		t.Errorf("JWST meta = %+v", j)
	}
	if j.Kind != KindDrizzled {
		t.Errorf("JWST kind = %s, want DRIZZLED", j.Kind)
	}
}

func TestBuildUnreadableImage(t *testing.T) {
	dir := t.TempDir()
	if _, _, err := Build(context.Background(), []string{filepath.Join(dir, "missing.fits")}); err == nil {
		t.Fatal("expected error for a missing image")
	}

	bad := filepath.Join(dir, "not_fits.fits")
	if err := os.WriteFile(bad, make([]byte, 2880), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Build(context.Background(), []string{bad}); err == nil {
		t.Fatal("expected error for a non-FITS file")
	}
}

func TestBuildCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := Build(ctx, []string{"whatever.fits"}); err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestClassifyProduct(t *testing.T) {
	cases := map[string]ProductKind{
		"jw01234_nrca_i2d.fits":  KindDrizzled,
		"hst_m31_drc.fits":       KindDrizzled,
		"j8cd01_f814w_flc.fits":  KindScience,
		"j8cd01_f814w_flt.fits":  KindScience,
		"jw01234_nrca_crf.fits":  KindScience,
		"jw01234_nrca_cal.fits":  KindScience,
		"reference_catalog.fits": KindUnknown,
	}
	for name, want := range cases {
		if got := ClassifyProduct(name); got != want {
			t.Errorf("ClassifyProduct(%s) = %s, want %s", name, got, want)
		}
	}
}

func TestHSTSingleFilterDetector(t *testing.T) {
	dir := t.TempDir()
	path := writeFITS(t, dir, "ib1f01xyz_f160w_flt.fits",
		card("SIMPLE", "T"),
		card("TELESCOP", "'HST     '"),
		card("INSTRUME", "'WFC3    '"),
		card("DETECTOR", "'IR      '"),
		card("FILTER", "'F160W   '"),
		card("RA_TARG", "10.5"),
		card("DEC_TARG", "41.25"),
	)

	_, metas, err := Build(context.Background(), []string{path})
	if err != nil {
		t.Fatal(err)
	}
	if metas[0].Filter != "F160W" {
		t.Errorf("filter = %q, want F160W", metas[0].Filter)
	}
	if !types.IsMissing(metas[0].ExposureTime) {
		t.Errorf("absent EXPTIME should be missing, got %v", metas[0].ExposureTime)
	}
}
