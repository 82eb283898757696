package request_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"impact-datagen/internal/geo"
	"impact-datagen/internal/request"
	"impact-datagen/internal/sampling"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(s uint64) *uint64 { return &s }

func makeSample(t *testing.T, n int, class string) []sampling.SampledAsset {
	t.Helper()
	assets := make([]geo.Asset, n)
	for i := range assets {
		assets[i] = geo.Asset{
			Index:      i,
			Longitude:  float64(i) + 0.5,
			Latitude:   -float64(i),
			Attributes: map[string]string{geo.FuelColumn: "Solar"},
			Continent:  "Europe",
		}
	}
	sample, err := sampling.Sample(assets, n, class, sampling.NewRand(seed(11)))
	require.NoError(t, err)
	return sample
}

func TestBuildWritesEnvelope(t *testing.T) {
	sample := makeSample(t, 10, sampling.PowerGeneratingAsset)
	path := filepath.Join(t.TempDir(), "input.json")

	builder := request.Builder{Workspace: "ws", Resample: true}
	envelope, err := builder.Build(sample, sampling.NewRand(seed(5)), path)
	require.NoError(t, err)
	assert.Equal(t, "ws", envelope.Inputs.Workspace)

	onDisk, err := request.ReadEnvelope(path)
	require.NoError(t, err)
	assert.Equal(t, envelope, onDisk)

	fc, err := onDisk.FeatureCollection()
	require.NoError(t, err)
	require.Len(t, fc.Features, 10)

	var indices []int
	for _, f := range fc.Features {
		assert.Equal(t, sampling.PowerGeneratingAsset, f.Properties["asset_class"])
		assert.Equal(t, "Solar", f.Properties["type"])
		assert.Equal(t, "Europe", f.Properties["location"])

		p, ok := f.Geometry.(orb.Point)
		require.True(t, ok)
		indices = append(indices, int(p.Lon()-0.5))
		assert.Equal(t, -p.Lat(), p.Lon()-0.5)
	}
	sort.Ints(indices)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, indices)
}

func TestBuildParameters(t *testing.T) {
	sample := makeSample(t, 2, sampling.RealEstateAsset)
	path := filepath.Join(t.TempDir(), "input.json")

	envelope, err := request.Builder{Workspace: "ws"}.Build(sample, nil, path)
	require.NoError(t, err)

	var raw struct {
		Type       string             `json:"type"`
		Properties request.Parameters `json:"properties"`
		Features   []struct {
			Type       string         `json:"type"`
			Properties map[string]any `json:"properties"`
			Geometry   struct {
				Type        string    `json:"type"`
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal([]byte(envelope.Inputs.JSONString), &raw))

	assert.Equal(t, "FeatureCollection", raw.Type)
	assert.Equal(t, request.DefaultParameters(), raw.Properties)
	require.Len(t, raw.Features, 2)
	for i, f := range raw.Features {
		assert.Equal(t, "Feature", f.Type)
		assert.Equal(t, "Point", f.Geometry.Type)
		assert.Equal(t, []float64{sample[i].Longitude, sample[i].Latitude}, f.Geometry.Coordinates)
		assert.Equal(t, "Buildings/Industrial", f.Properties["type"])
	}
}

func TestBuildUnsetTypeIsNull(t *testing.T) {
	sample := makeSample(t, 1, "Vessel")
	path := filepath.Join(t.TempDir(), "input.json")

	envelope, err := request.Builder{Workspace: "ws"}.Build(sample, nil, path)
	require.NoError(t, err)

	fc, err := envelope.FeatureCollection()
	require.NoError(t, err)
	v, ok := fc.Features[0].Properties["type"]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestBuildOverwritesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.json")
	require.NoError(t, os.WriteFile(path, []byte("stale content that is longer than nothing"), 0o644))

	envelope, err := request.Builder{Workspace: "ws"}.Build(makeSample(t, 3, sampling.IndustrialActivity), nil, path)
	require.NoError(t, err)

	onDisk, err := request.ReadEnvelope(path)
	require.NoError(t, err)
	assert.Equal(t, envelope, onDisk)
}

func TestBuildUnwritablePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "input.json")
	_, err := request.Builder{Workspace: "ws"}.Build(makeSample(t, 1, sampling.IndustrialActivity), nil, path)
	assert.Error(t, err)
}

func TestBuildResampleWithoutRng(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.json")
	sample := makeSample(t, 4, sampling.PowerGeneratingAsset)

	var envelope request.Envelope
	require.NotPanics(t, func() {
		var err error
		envelope, err = request.Builder{Workspace: "ws", Resample: true}.Build(sample, nil, path)
		require.NoError(t, err)
	})

	fc, err := envelope.FeatureCollection()
	require.NoError(t, err)
	assert.Len(t, fc.Features, 4)
}
