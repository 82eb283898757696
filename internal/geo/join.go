package geo

import (
	"fmt"
	"log/slog"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

type indexedContinent struct {
	Continent
	bound orb.Bound
}

// Join labels every asset with the first continent containing it. Assets
// outside every continent are kept and labelled GlobalContinent. The input
// slice is not modified.
func Join(assets []Asset, continents []Continent) []Asset {
	index := make([]indexedContinent, 0, len(continents))
	for _, c := range continents {
		index = append(index, indexedContinent{Continent: c, bound: c.Geometry.Bound()})
	}

	joined := make([]Asset, len(assets))
	for i, asset := range assets {
		joined[i] = asset
		joined[i].Continent = GlobalContinent

		point := asset.Point()
		for _, c := range index {
			if c.bound.Contains(point) && contains(c.Geometry, point) {
				joined[i].Continent = c.Name
				break
			}
		}
	}

	return joined
}

func contains(g orb.Geometry, p orb.Point) bool {
	switch g := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(g, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(g, p)
	default:
		return false
	}
}

// CreateAssetTable loads the asset inventory and the continent boundaries and
// joins them.
func CreateAssetTable(assetsCSV, continentsPath string, logger *slog.Logger) ([]Asset, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("creating asset table", "assets", assetsCSV, "continents", continentsPath)

	assets, err := LoadAssetsCSV(assetsCSV)
	if err != nil {
		return nil, err
	}

	continents, err := LoadContinents(continentsPath)
	if err != nil {
		return nil, err
	}

	joined := Join(assets, continents)

	global := 0
	for _, a := range joined {
		if a.Continent == GlobalContinent {
			global++
		}
	}
	logger.Info("asset table created", "assets", len(joined), "continents", len(continents), "unmatched", global)

	if len(joined) == 0 {
		return nil, fmt.Errorf("asset file %s contains no rows", assetsCSV)
	}

	return joined, nil
}
