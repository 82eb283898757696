package geo

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
)

var ErrInvalidGeoPackageBlob = errors.New("invalid geopackage geometry blob")

const (
	gpkgHeaderSize = 8

	gpkgFlagLittleEndian = 0x01
	gpkgFlagEnvelopeMask = 0x0e
	gpkgFlagEmpty        = 0x10
)

// DecodeGeoPackageGeometry decodes a GeoPackage binary geometry: the "GP"
// header, an optional envelope and a WKB body. Empty geometries decode to nil.
func DecodeGeoPackageGeometry(blob []byte) (orb.Geometry, error) {
	if len(blob) < gpkgHeaderSize || blob[0] != 'G' || blob[1] != 'P' {
		return nil, ErrInvalidGeoPackageBlob
	}

	flags := blob[3]
	if flags&gpkgFlagEmpty != 0 {
		return nil, nil
	}

	var envelopeSize int
	switch (flags & gpkgFlagEnvelopeMask) >> 1 {
	case 0:
		envelopeSize = 0
	case 1:
		envelopeSize = 32
	case 2, 3:
		envelopeSize = 48
	case 4:
		envelopeSize = 64
	default:
		return nil, fmt.Errorf("%w: bad envelope indicator in flags %#x", ErrInvalidGeoPackageBlob, flags)
	}

	start := gpkgHeaderSize + envelopeSize
	if len(blob) <= start {
		return nil, fmt.Errorf("%w: truncated blob", ErrInvalidGeoPackageBlob)
	}

	geom, err := wkb.Unmarshal(blob[start:])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidGeoPackageBlob, err)
	}
	return geom, nil
}
