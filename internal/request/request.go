package request

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"

	"impact-datagen/internal/sampling"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Parameters are the analysis settings attached to every request.
type Parameters struct {
	IncludeAssetLevel  bool     `json:"include_asset_level"`
	IncludeCalcDetails bool     `json:"include_calc_details"`
	IncludeMeasures    bool     `json:"include_measures"`
	Years              []int    `json:"years"`
	Scenarios          []string `json:"scenarios"`
}

func DefaultParameters() Parameters {
	return Parameters{
		IncludeAssetLevel:  true,
		IncludeCalcDetails: true,
		IncludeMeasures:    true,
		Years:              []int{2030, 2040, 2050},
		Scenarios:          []string{"ssp126", "ssp245", "ssp585"},
	}
}

type Inputs struct {
	Workspace  string `json:"workspace"`
	JSONString string `json:"json_string"`
}

// Envelope is the submission body. The feature collection travels as a JSON
// encoded string, not as a nested object.
type Envelope struct {
	Inputs Inputs `json:"inputs"`
}

func (e Envelope) FeatureCollection() (*geojson.FeatureCollection, error) {
	fc, err := geojson.UnmarshalFeatureCollection([]byte(e.Inputs.JSONString))
	if err != nil {
		return nil, fmt.Errorf("error decoding feature collection: %w", err)
	}
	return fc, nil
}

type Builder struct {
	Workspace string
	// Resample re-draws the sample set with the same count before features are
	// emitted, so feature order is independent of the original draw.
	Resample bool
}

func NewFeatureCollection(sample []sampling.SampledAsset, params Parameters) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.ExtraMembers = geojson.Properties{"properties": params}

	for _, s := range sample {
		f := geojson.NewFeature(orb.Point{s.Longitude, s.Latitude})
		f.Properties["asset_class"] = s.AssetClass
		if s.HasType {
			f.Properties["type"] = s.AssetType
		} else {
			f.Properties["type"] = nil
		}
		f.Properties["location"] = s.Continent
		fc.Append(f)
	}
	return fc
}

// Build serializes the sample into a feature collection, wraps it in an
// envelope and writes the envelope to outputFile, replacing any existing file.
// A nil rng is replaced by a randomly seeded one when resampling.
func (b Builder) Build(sample []sampling.SampledAsset, rng *rand.Rand, outputFile string) (Envelope, error) {
	rows := sample
	if b.Resample {
		if rng == nil {
			rng = sampling.NewRand(nil)
		}
		var err error
		rows, err = sampling.Draw(sample, len(sample), rng)
		if err != nil {
			return Envelope{}, err
		}
	}

	fcJSON, err := json.Marshal(NewFeatureCollection(rows, DefaultParameters()))
	if err != nil {
		return Envelope{}, fmt.Errorf("error encoding feature collection: %w", err)
	}

	envelope := Envelope{Inputs: Inputs{Workspace: b.Workspace, JSONString: string(fcJSON)}}

	data, err := json.Marshal(envelope)
	if err != nil {
		return Envelope{}, fmt.Errorf("error encoding request envelope: %w", err)
	}
	if err := os.WriteFile(outputFile, data, 0o644); err != nil {
		return Envelope{}, fmt.Errorf("error writing request to %s: %w", outputFile, err)
	}

	return envelope, nil
}

func ReadEnvelope(path string) (Envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Envelope{}, fmt.Errorf("error reading request %s: %w", path, err)
	}

	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("error parsing request %s: %w", path, err)
	}
	return envelope, nil
}
