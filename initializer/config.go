package initializer

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// Config carries the tunables of the two-view initializer.
type Config struct {
	// Sigma is the per-pixel measurement noise standard deviation used to
	// scale chi-square thresholds in the scorers and CheckRT.
	Sigma float64 `json:"sigma"`
	// MaxIterations bounds the RANSAC sample count for both H and F.
	MaxIterations int `json:"max_iterations"`
	// RHThreshold is the R_H = S_H/(S_H+S_F) cutoff above which the
	// homography model is preferred (spec: strictly greater than).
	RHThreshold float64 `json:"r_h_threshold"`
	// MinParallaxDeg is the minimum accepted parallax angle, in degrees.
	MinParallaxDeg float64 `json:"min_parallax_deg"`
}

// DefaultConfig returns the reference configuration used throughout this
// package's tests: sigma=1, 200 RANSAC iterations, R_H threshold 0.40,
// minimum parallax 1 degree.
func DefaultConfig() *Config {
	return &Config{
		Sigma:          1.0,
		MaxIterations:  200,
		RHThreshold:    0.40,
		MinParallaxDeg: 1.0,
	}
}

// LoadConfig loads an initializer configuration from a JSON file, decoding
// it over DefaultConfig: fields absent from the file keep their default
// values, while fields present in the file (including explicit zeros) take
// the file's values.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path) //nolint:gosec
	if err != nil {
		return nil, errors.Wrap(err, "opening initializer config")
	}
	defer f.Close() //nolint:errcheck

	cfg := DefaultConfig()
	if err := json.NewDecoder(f).Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "decoding initializer config")
	}
	return cfg, nil
}
