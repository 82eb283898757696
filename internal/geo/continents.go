package geo

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/project"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const ContinentAttribute = "CONTINENT"

var (
	ErrUnsupportedSRS    = errors.New("unsupported spatial reference system")
	ErrUnsupportedFormat = errors.New("unsupported boundary file format")
	ErrNotPolygon        = errors.New("boundary geometry is not a polygon")
)

// Continent is a named boundary in geographic coordinates (EPSG:4326).
type Continent struct {
	Name     string
	Geometry orb.Geometry
}

func LoadContinents(path string) ([]Continent, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("error reading boundary file %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".gpkg":
		return loadGeoPackage(path)
	case ".geojson", ".json":
		return loadGeoJSON(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

func loadGeoJSON(path string) ([]Continent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading boundary file %s: %w", path, err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("error parsing geojson %s: %w", path, err)
	}

	continents := make([]Continent, 0, len(fc.Features))
	for i, f := range fc.Features {
		raw, ok := f.Properties[ContinentAttribute]
		if !ok {
			return nil, fmt.Errorf("%w: %s in feature %d", ErrMissingColumn, ContinentAttribute, i)
		}
		if raw == nil {
			continue
		}
		if err := checkPolygonal(f.Geometry); err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		continents = append(continents, Continent{Name: fmt.Sprint(raw), Geometry: f.Geometry})
	}

	return continents, nil
}

type gpkgGeometryColumn struct {
	TableName  string `gorm:"column:table_name"`
	ColumnName string `gorm:"column:column_name"`
	SrsId      int    `gorm:"column:srs_id"`
}

func openGeoPackage(path string) (*gorm.DB, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for %s: %w", path, err)
	}
	db, err := gorm.Open(sqlite.Open("file:"+abs+"?mode=ro"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("error opening geopackage %s: %w", path, err)
	}
	return db, nil
}

func loadGeoPackage(path string) ([]Continent, error) {
	db, err := openGeoPackage(path)
	if err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	var column gpkgGeometryColumn
	err = db.Raw(`
		SELECT g.table_name, g.column_name, g.srs_id
		FROM gpkg_geometry_columns g
		JOIN gpkg_contents c ON c.table_name = g.table_name
		WHERE c.data_type = 'features'
		ORDER BY g.table_name
		LIMIT 1`).Scan(&column).Error
	if err != nil {
		return nil, fmt.Errorf("error reading geopackage metadata from %s: %w", path, err)
	}
	if column.TableName == "" {
		return nil, fmt.Errorf("geopackage %s has no feature tables", path)
	}

	reproject, err := projectionFor(column.SrsId)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s, %s FROM %s",
		quoteIdent(column.ColumnName), quoteIdent(ContinentAttribute), quoteIdent(column.TableName))
	rows, err := db.Raw(query).Rows()
	if err != nil {
		return nil, fmt.Errorf("error reading %s from geopackage table %s: %w", ContinentAttribute, column.TableName, err)
	}
	defer rows.Close()

	var continents []Continent
	for rows.Next() {
		var (
			blob []byte
			name sql.NullString
		)
		if err := rows.Scan(&blob, &name); err != nil {
			return nil, fmt.Errorf("error scanning geopackage row: %w", err)
		}
		if blob == nil || !name.Valid {
			continue
		}

		geom, err := DecodeGeoPackageGeometry(blob)
		if err != nil {
			return nil, fmt.Errorf("error decoding geometry for %s: %w", name.String, err)
		}
		if geom == nil {
			continue
		}
		if err := checkPolygonal(geom); err != nil {
			return nil, fmt.Errorf("%s: %w", name.String, err)
		}
		if reproject != nil {
			geom = project.Geometry(geom, reproject)
		}

		continents = append(continents, Continent{Name: name.String, Geometry: geom})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating geopackage rows: %w", err)
	}

	return continents, nil
}

// projectionFor returns the projection to EPSG:4326, or nil when the data is
// already geographic. GeoPackage reserves 0 and -1 for undefined systems.
func projectionFor(srsId int) (orb.Projection, error) {
	switch srsId {
	case 4326, 0, -1:
		return nil, nil
	case 3857, 3785, 900913:
		return project.Mercator.ToWGS84, nil
	default:
		return nil, fmt.Errorf("%w: EPSG:%d", ErrUnsupportedSRS, srsId)
	}
}

func checkPolygonal(g orb.Geometry) error {
	switch g.(type) {
	case orb.Polygon, orb.MultiPolygon:
		return nil
	default:
		if g == nil {
			return ErrNotPolygon
		}
		return fmt.Errorf("%w: got %s", ErrNotPolygon, g.GeoJSONType())
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
