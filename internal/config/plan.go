package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"
)

// Plan describes one experiment: every asset class is run once per row count.
type Plan struct {
	Experiment   int      `yaml:"experiment" validate:"gte=0"`
	BaseDir      string   `yaml:"base_dir" validate:"required"`
	AssetClasses []string `yaml:"asset_classes" validate:"required,min=1,unique,dive,required"`
	Rows         []int    `yaml:"rows" validate:"required,min=1,unique,dive,gt=0"`
}

var validate = validator.New()

func (p Plan) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid plan: %w", err)
	}
	return nil
}

// LoadPlan reads a YAML plan from path. Keys missing from the file keep the
// values in defaults.
func LoadPlan(path string, defaults Plan) (Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("error reading plan file %s: %w", path, err)
	}

	plan := defaults
	plan.AssetClasses = append([]string(nil), defaults.AssetClasses...)
	plan.Rows = append([]int(nil), defaults.Rows...)

	if err := yaml.UnmarshalStrict(data, &plan); err != nil {
		return Plan{}, fmt.Errorf("error parsing plan file %s: %w", path, err)
	}

	if err := plan.Validate(); err != nil {
		return Plan{}, err
	}
	return plan, nil
}
