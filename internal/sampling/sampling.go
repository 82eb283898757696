package sampling

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"impact-datagen/internal/geo"
)

const (
	PowerGeneratingAsset        = "PowerGeneratingAsset"
	ThermalPowerGeneratingAsset = "ThermalPowerGeneratingAsset"
	RealEstateAsset             = "RealEstateAsset"
	IndustrialActivity          = "IndustrialActivity"
)

var ErrSampleSize = errors.New("sample size out of range")

type SampledAsset struct {
	geo.Asset

	AssetClass string
	AssetType  string
	HasType    bool
}

// NewRand returns a generator seeded with seed, or with a random seed when
// seed is nil.
func NewRand(seed *uint64) *rand.Rand {
	if seed == nil {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15))
}

// Draw picks n distinct elements of items uniformly at random.
func Draw[T any](items []T, n int, rng *rand.Rand) ([]T, error) {
	if n < 0 || n > len(items) {
		return nil, fmt.Errorf("%w: cannot take %d samples from %d rows", ErrSampleSize, n, len(items))
	}

	out := make([]T, n)
	for i, idx := range rng.Perm(len(items))[:n] {
		out[i] = items[idx]
	}
	return out, nil
}

// AssetTypeFor returns the asset type a class assigns to an asset. The second
// result is false for classes without a type mapping.
func AssetTypeFor(assetClass string, asset geo.Asset) (string, bool) {
	switch assetClass {
	case PowerGeneratingAsset:
		return asset.Attr(geo.FuelColumn), true
	case ThermalPowerGeneratingAsset:
		return "Gas", true
	case RealEstateAsset:
		return "Buildings/Industrial", true
	case IndustrialActivity:
		return "Construction", true
	default:
		return "", false
	}
}

func Sample(assets []geo.Asset, n int, assetClass string, rng *rand.Rand) ([]SampledAsset, error) {
	drawn, err := Draw(assets, n, rng)
	if err != nil {
		return nil, err
	}

	sample := make([]SampledAsset, len(drawn))
	for i, asset := range drawn {
		assetType, ok := AssetTypeFor(assetClass, asset)
		sample[i] = SampledAsset{
			Asset:      asset,
			AssetClass: assetClass,
			AssetType:  assetType,
			HasType:    ok,
		}
	}
	return sample, nil
}
