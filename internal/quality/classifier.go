package quality

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/photcat/photcat/pkg/types"
)

// Outcome records the classification result for one detector-filter.
type Outcome struct {
	Filter   string
	Class    types.DetectorClass
	Rows     int
	STCount  int
	GSTCount int
	Failed   bool
	Reason   string
}

// Report summarizes one classification pass.
type Report struct {
	Outcomes []Outcome

	// DefaultedKeys maps each threshold key that fell back to its class
	// default to the value used. The caller decides whether to persist
	// these into the shared parameter store.
	DefaultedKeys map[string]float64

	SNRCut          float64
	SNRCutDefaulted bool
}

// FailedFilters lists the identifiers whose flags are undefined.
func (r *Report) FailedFilters() []string {
	var failed []string
	for _, o := range r.Outcomes {
		if o.Failed {
			failed = append(failed, o.Filter)
		}
	}
	return failed
}

// Classifier appends ST/GST flag columns to catalogs.
type Classifier struct {
	snap *Snapshot
	log  *slog.Logger
}

// NewClassifier builds a classifier over one parameter snapshot.
func NewClassifier(snap *Snapshot, log *slog.Logger) *Classifier {
	if log == nil {
		log = slog.Default()
	}
	return &Classifier{snap: snap, log: log}
}

// Classify appends <filter>_st and <filter>_gst flag columns to the
// table for every identifier in detFilters (format INSTRUMENT_FILTER,
// e.g. WFC3_F814W). Measurement columns carry the lowercased filter
// token alone (f814w_snr), so the flag columns do too; the instrument
// prefix appears only in the outcome's identifier.
//
// A failure on one filter is isolated: its two flag columns are set to
// null for every row, the outcome records the reason, and the remaining
// filters are processed normally.
func (c *Classifier) Classify(table *types.Table, detFilters []string) (*Report, error) {
	report := &Report{
		DefaultedKeys:   map[string]float64{},
		SNRCut:          c.snap.SNRCut,
		SNRCutDefaulted: c.snap.SNRCutDefaulted,
	}
	if c.snap.SNRCutDefaulted {
		c.log.Warn("no usable snrcut parameter", "default", c.snap.SNRCut)
	}

	for _, filt := range detFilters {
		outcome, err := c.classifyOne(table, filt, report)
		if err != nil {
			return nil, err
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}
	return report, nil
}

func (c *Classifier) classifyOne(table *types.Table, filt string, report *Report) (Outcome, error) {
	lower := strings.ToLower(filt)
	parts := strings.Split(lower, "_")
	token := parts[len(parts)-1]
	nrows := table.NumRows()
	outcome := Outcome{Filter: filt, Rows: nrows}

	fail := func(reason string) (Outcome, error) {
		outcome.Failed = true
		outcome.Reason = reason
		c.log.Warn("could not classify filter", "filter", filt, "reason", reason)
		if err := setFlags(table, token+"_st", nullFlags(nrows)); err != nil {
			return outcome, err
		}
		if err := setFlags(table, token+"_gst", nullFlags(nrows)); err != nil {
			return outcome, err
		}
		return outcome, nil
	}

	if len(parts) != 2 {
		return fail(fmt.Sprintf("identifier %q is not in INSTRUMENT_FILTER form", filt))
	}
	class := DeriveClass(parts[0], parts[1])
	if class == types.DetectorUnknown {
		return fail(fmt.Sprintf("no detector class for instrument %q", parts[0]))
	}
	outcome.Class = class

	// Defaults are recorded as soon as the class is known, before any
	// column lookup can fail, so a later re-run sees stable thresholds.
	sharpThr, crowdThr, defaulted := c.snap.classThresholds(class)
	for key, value := range defaulted {
		report.DefaultedKeys[key] = value
		c.log.Warn("no parameter in store, using class default", "key", key, "value", value)
	}

	snr, ok := table.Column(token + "_snr")
	if !ok || snr.Kind != types.KindFloat {
		return fail(fmt.Sprintf("missing column %s_snr", token))
	}
	sharp, ok := table.Column(token + "_sharp")
	if !ok || sharp.Kind != types.KindFloat {
		return fail(fmt.Sprintf("missing column %s_sharp", token))
	}
	crowd, ok := table.Column(token + "_crowd")
	if !ok || crowd.Kind != types.KindFloat {
		return fail(fmt.Sprintf("missing column %s_crowd", token))
	}

	st := make([]types.Flag, nrows)
	gst := make([]types.Flag, nrows)
	stCount, gstCount := 0, 0
	for i := 0; i < nrows; i++ {
		// NaN comparisons are false, so missing measurements never
		// qualify a star.
		stOK := snr.Floats[i] > c.snap.SNRCut && sharp.Floats[i]*sharp.Floats[i] < sharpThr
		gstOK := stOK && crowd.Floats[i] < crowdThr
		st[i] = types.FlagOf(stOK)
		gst[i] = types.FlagOf(gstOK)
		if stOK {
			stCount++
		}
		if gstOK {
			gstCount++
		}
	}
	if err := setFlags(table, token+"_st", st); err != nil {
		return outcome, err
	}
	if err := setFlags(table, token+"_gst", gst); err != nil {
		return outcome, err
	}

	outcome.STCount = stCount
	outcome.GSTCount = gstCount
	c.log.Info("flagged stars", "filter", filt, "class", class.String(),
		"st", stCount, "gst", gstCount, "rows", nrows)
	return outcome, nil
}

// setFlags adds a flag column, or overwrites it when a column of that
// name already exists.
func setFlags(table *types.Table, name string, flags []types.Flag) error {
	if col, ok := table.Column(name); ok {
		if col.Kind != types.KindFlag {
			return fmt.Errorf("quality: column %s exists with kind %s", name, col.Kind)
		}
		col.Flags = flags
		return nil
	}
	return table.AddColumn(types.NewFlagColumn(name, flags))
}

func nullFlags(n int) []types.Flag {
	flags := make([]types.Flag, n)
	for i := range flags {
		flags[i] = types.FlagNull
	}
	return flags
}
