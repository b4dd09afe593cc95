package insights

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Weights controls how much each signal contributes to a hotspot score
type Weights struct {
	InDegree   float64 `yaml:"in_degree" json:"in_degree"`
	OutDegree  float64 `yaml:"out_degree" json:"out_degree"`
	Centrality float64 `yaml:"centrality" json:"centrality"`
	Churn      float64 `yaml:"churn" json:"churn"`
	Loc        float64 `yaml:"loc" json:"loc"`
}

// DefaultWeights favors inbound coupling and centrality over raw size
func DefaultWeights() Weights {
	return Weights{
		InDegree:   0.3,
		OutDegree:  0.2,
		Centrality: 0.3,
		Churn:      0.1,
		Loc:        0.1,
	}
}

// LoadWeights reads a YAML weight profile. Fields absent from the file
// keep their default value, so a profile only needs to name the weights
// it changes.
func LoadWeights(path string) (Weights, error) {
	w := DefaultWeights()

	data, err := os.ReadFile(path)
	if err != nil {
		return w, fmt.Errorf("failed to read weight profile: %w", err)
	}
	if err := yaml.Unmarshal(data, &w); err != nil {
		return w, fmt.Errorf("failed to parse weight profile: %w", err)
	}
	return w, nil
}
