package geo

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

const (
	LongitudeColumn = "longitude"
	LatitudeColumn  = "latitude"
	FuelColumn      = "primary_fuel"

	GlobalContinent = "Global"
)

var ErrMissingColumn = errors.New("required column missing")

// Asset is one row of the asset inventory. Index is the row position in the
// source table and is the only identity an asset has.
type Asset struct {
	Index      int
	Longitude  float64
	Latitude   float64
	Attributes map[string]string
	Continent  string
}

func (a Asset) Point() orb.Point {
	return orb.Point{a.Longitude, a.Latitude}
}

func (a Asset) Attr(name string) string {
	return a.Attributes[name]
}

func LoadAssetsCSV(path string) ([]Asset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening asset file %s: %w", path, err)
	}
	defer file.Close()

	assets, err := ReadAssets(file)
	if err != nil {
		return nil, fmt.Errorf("error reading asset file %s: %w", path, err)
	}
	return assets, nil
}

func ReadAssets(r io.Reader) ([]Asset, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("error reading header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	lonIdx, latIdx := -1, -1
	for i, col := range header {
		switch col {
		case LongitudeColumn:
			lonIdx = i
		case LatitudeColumn:
			latIdx = i
		}
	}
	if lonIdx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, LongitudeColumn)
	}
	if latIdx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, LatitudeColumn)
	}

	var assets []Asset
	for row := 0; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading row %d: %w", row, err)
		}

		lon, err := strconv.ParseFloat(strings.TrimSpace(record[lonIdx]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid longitude in row %d: %w", row, err)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(record[latIdx]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid latitude in row %d: %w", row, err)
		}

		attrs := make(map[string]string, len(header))
		for i, col := range header {
			attrs[col] = record[i]
		}

		assets = append(assets, Asset{
			Index:      row,
			Longitude:  lon,
			Latitude:   lat,
			Attributes: attrs,
		})
	}

	return assets, nil
}
