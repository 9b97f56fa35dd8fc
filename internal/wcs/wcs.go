// Package wcs attaches equatorial coordinates to catalog tables using
// the tangent-plane astrometric solution of a reference image.
package wcs

import (
	"bufio"
	"fmt"
	"math"
	"os"

	apperrors "github.com/photcat/photcat/internal/errors"
)

const degPerRad = 180 / math.Pi

// Solution is a tangent-plane astrometric solution taken from a FITS
// header. Angles are degrees; CRPIX follows the 1-indexed FITS
// convention.
type Solution struct {
	CRVAL1, CRVAL2 float64       // sky position of the reference pixel
	CRPIX1, CRPIX2 float64       // reference pixel position
	CD             [2][2]float64 // pixel-to-sky linear transform, degrees per pixel
}

// PixelToWorld converts a 0-indexed pixel position to right ascension
// and declination in degrees. Right ascension is normalized to
// [0, 360); a missing x or y propagates to missing ra and dec.
func (s *Solution) PixelToWorld(x, y float64) (ra, dec float64) {
	dx := x - (s.CRPIX1 - 1)
	dy := y - (s.CRPIX2 - 1)
	xi := (s.CD[0][0]*dx + s.CD[0][1]*dy) / degPerRad
	eta := (s.CD[1][0]*dx + s.CD[1][1]*dy) / degPerRad

	ra0 := s.CRVAL1 / degPerRad
	dec0 := s.CRVAL2 / degPerRad
	den := math.Cos(dec0) - eta*math.Sin(dec0)
	ra = (ra0 + math.Atan2(xi, den)) * degPerRad
	dec = math.Atan2(math.Sin(dec0)+eta*math.Cos(dec0), math.Hypot(xi, den)) * degPerRad

	ra = math.Mod(ra, 360)
	if ra < 0 {
		ra += 360
	}
	return ra, dec
}

// Resolver derives an astrometric solution from a reference image path.
type Resolver interface {
	Resolve(path string) (*Solution, error)
}

// FITSResolver reads the solution from the header units of a FITS file
// on disk.
type FITSResolver struct{}

func (FITSResolver) Resolve(path string) (*Solution, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.NewReferenceUnreadable(fmt.Sprintf("open reference image %s", path), err)
	}
	defer f.Close()

	sol, err := ReadSolution(bufio.NewReaderSize(f, blockSize))
	if err != nil {
		return nil, apperrors.NewReferenceUnreadable(fmt.Sprintf("reference image %s", path), err)
	}
	return sol, nil
}
