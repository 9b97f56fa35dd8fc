package wcs

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// FITS files are sequences of 2880-byte blocks; header blocks hold 36
// 80-byte cards.
const (
	blockSize     = 2880
	cardSize      = 80
	cardsPerBlock = blockSize / cardSize

	// A header unit larger than this is treated as corrupt rather
	// than scanned to the end of the file.
	maxHeaderBlocks = 1024
)

// header holds the typed key/value cards of one header unit.
type header map[string]interface{}

func (h header) has(key string) bool {
	_, ok := h[key]
	return ok
}

func (h header) floatKey(key string) (float64, bool) {
	switch v := h[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func (h header) intKey(key string) (int, bool) {
	v, ok := h[key].(int)
	return v, ok
}

func (h header) stringKey(key string) (string, bool) {
	v, ok := h[key].(string)
	return v, ok
}

// ReadSolution walks the header units of a FITS stream and derives the
// tangent-plane solution from the first unit that carries CRVAL1.
func ReadSolution(r io.Reader) (*Solution, error) {
	for unit := 0; ; unit++ {
		h, err := readHeader(r)
		if err != nil {
			if unit > 0 && (errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)) {
				return nil, fmt.Errorf("wcs: no header unit carries an astrometric solution")
			}
			return nil, err
		}
		if unit == 0 && !h.has("SIMPLE") {
			return nil, fmt.Errorf("wcs: missing SIMPLE card, not a FITS stream")
		}
		if h.has("CRVAL1") {
			return solutionFromHeader(h)
		}
		if err := skipData(r, h); err != nil {
			return nil, fmt.Errorf("wcs: data section: %w", err)
		}
	}
}

func solutionFromHeader(h header) (*Solution, error) {
	ctype, ok := h.stringKey("CTYPE1")
	if !ok {
		return nil, fmt.Errorf("wcs: header carries CRVAL1 but no CTYPE1")
	}
	if !strings.Contains(ctype, "TAN") {
		return nil, fmt.Errorf("wcs: projection %q is not tangent-plane", ctype)
	}

	var sol Solution
	for _, k := range []struct {
		name string
		dst  *float64
	}{
		{"CRVAL1", &sol.CRVAL1},
		{"CRVAL2", &sol.CRVAL2},
		{"CRPIX1", &sol.CRPIX1},
		{"CRPIX2", &sol.CRPIX2},
	} {
		v, ok := h.floatKey(k.name)
		if !ok {
			return nil, fmt.Errorf("wcs: header missing %s", k.name)
		}
		*k.dst = v
	}

	// When any CD entry is present the absent ones default to zero;
	// otherwise the per-axis CDELT scales form a diagonal matrix.
	if h.has("CD1_1") || h.has("CD1_2") || h.has("CD2_1") || h.has("CD2_2") {
		sol.CD[0][0], _ = h.floatKey("CD1_1")
		sol.CD[0][1], _ = h.floatKey("CD1_2")
		sol.CD[1][0], _ = h.floatKey("CD2_1")
		sol.CD[1][1], _ = h.floatKey("CD2_2")
	} else {
		d1, ok1 := h.floatKey("CDELT1")
		d2, ok2 := h.floatKey("CDELT2")
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("wcs: header has neither CD matrix nor CDELT scales")
		}
		sol.CD[0][0] = d1
		sol.CD[1][1] = d2
	}
	return &sol, nil
}

// readHeader parses one header unit: whole blocks of cards up to and
// including the one holding the END card.
func readHeader(r io.Reader) (header, error) {
	h := make(header, 64)
	block := make([]byte, blockSize)
	for blocks := 0; blocks < maxHeaderBlocks; blocks++ {
		if _, err := io.ReadFull(r, block); err != nil {
			return nil, fmt.Errorf("wcs: header block: %w", err)
		}
		for i := 0; i < cardsPerBlock; i++ {
			card := string(block[i*cardSize : (i+1)*cardSize])
			key, value := parseCard(card)
			switch key {
			case "END":
				return h, nil
			case "", "COMMENT", "HISTORY":
				continue
			}
			if value != nil || !h.has(key) {
				h[key] = value
			}
		}
	}
	return nil, fmt.Errorf("wcs: header unit exceeds %d blocks", maxHeaderBlocks)
}

// parseCard splits one 80-byte card into its key and typed value. Cards
// without the "= " value indicator yield a nil value.
func parseCard(card string) (string, interface{}) {
	key := strings.TrimSpace(card[:8])
	if card[8:10] != "= " {
		return key, nil
	}
	s := strings.TrimSpace(card[10:])
	if s == "" {
		return key, nil
	}
	if s[0] == '\'' {
		if v, err := parseQuoted(s); err == nil {
			return key, v
		}
		return key, nil
	}
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	if s == "" {
		return key, nil
	}
	switch c := s[0]; {
	case c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.':
		if strings.ContainsAny(s, ".DE") {
			// Fortran D exponents appear in older headers.
			if v, err := strconv.ParseFloat(strings.Replace(s, "D", "E", 1), 64); err == nil {
				return key, v
			}
		} else if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			return key, int(v)
		}
	case c == 'T':
		return key, true
	case c == 'F':
		return key, false
	}
	return key, nil
}

// parseQuoted unpacks a FITS string value; a doubled quote inside the
// value is an escaped quote, and trailing blanks are not significant.
func parseQuoted(s string) (string, error) {
	var b strings.Builder
	state := 0
	for _, c := range s {
		quote := c == '\''
		switch state {
		case 0:
			if !quote {
				return "", fmt.Errorf("wcs: string value missing opening quote")
			}
			state = 1
		case 1:
			if quote {
				state = 2
			} else {
				b.WriteRune(c)
			}
		case 2:
			if quote {
				b.WriteRune(c)
				state = 1
			} else {
				return strings.TrimRight(b.String(), " "), nil
			}
		}
	}
	if state == 2 {
		return strings.TrimRight(b.String(), " "), nil
	}
	return "", fmt.Errorf("wcs: unterminated string value")
}

// skipData advances past the data section that follows a header unit.
func skipData(r io.Reader, h header) error {
	bitpix, ok := h.intKey("BITPIX")
	if !ok {
		return nil
	}
	if bitpix < 0 {
		bitpix = -bitpix
	}
	naxis, ok := h.intKey("NAXIS")
	if !ok || naxis <= 0 {
		return nil
	}
	elems := int64(1)
	for i := 1; i <= naxis; i++ {
		n, ok := h.intKey(fmt.Sprintf("NAXIS%d", i))
		if !ok {
			return fmt.Errorf("wcs: NAXIS%d missing from header", i)
		}
		elems *= int64(n)
	}
	pcount, _ := h.intKey("PCOUNT")
	gcount, ok := h.intKey("GCOUNT")
	if !ok || gcount < 1 {
		gcount = 1
	}
	size := int64(bitpix/8) * int64(gcount) * (int64(pcount) + elems)
	if size <= 0 {
		return nil
	}
	padded := (size + blockSize - 1) / blockSize * blockSize
	_, err := io.CopyN(io.Discard, r, padded)
	return err
}
