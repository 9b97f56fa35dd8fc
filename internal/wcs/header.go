package wcs

import (
	"fmt"
	"io"
)

// Header is one parsed FITS header unit, keyed by card keyword. Values
// are string, float64, int, or bool depending on the card; commentary
// cards are not retained.
type Header map[string]interface{}

// ReadPrimaryHeader parses the primary header unit of a FITS stream.
func ReadPrimaryHeader(r io.Reader) (Header, error) {
	h, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	if !h.has("SIMPLE") {
		return nil, fmt.Errorf("wcs: missing SIMPLE card, not a FITS stream")
	}
	return Header(h), nil
}

// Has reports whether the header carries the given keyword.
func (h Header) Has(key string) bool { return header(h).has(key) }

// Float returns the keyword's value as a float64; integer cards promote.
func (h Header) Float(key string) (float64, bool) { return header(h).floatKey(key) }

// Int returns the keyword's integer value.
func (h Header) Int(key string) (int, bool) { return header(h).intKey(key) }

// Str returns the keyword's string value.
func (h Header) Str(key string) (string, bool) { return header(h).stringKey(key) }
