package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Greater(t, cfg.Metrics.Tau, 0.0)
}

func TestEvenAdaptiveBlockSizeRejected(t *testing.T) {
	cfg := Default()
	cfg.Extraction.IdealAdaptiveBlockSize = 10
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extraction.ideal_adaptive_block_size")
}

func TestUnknownECCMotionRejected(t *testing.T) {
	cfg := Default()
	cfg.Registration.ECCMotion = "projective"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registration.ecc_motion")
}

func TestLoadRejectsInvalidTau(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invalid_tau.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"metrics": {"tau": 0.0}}`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metrics.tau")
}

func TestLoadRejectsInvalidCannyOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invalid_canny.json")
	payload := `{"registration": {"axes_canny_low": 180, "axes_canny_high": 120}}`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registration.axes_canny_low")
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	payload := "metrics:\n  tau: 0.05\nsampling:\n  step_px: 2.0\n"
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.05, cfg.Metrics.Tau)
	assert.Equal(t, 2.0, cfg.Sampling.StepPx)
	// Untouched sections keep their defaults.
	assert.Equal(t, Default().Extraction, cfg.Extraction)
	assert.Equal(t, Default().Registration, cfg.Registration)
}

func TestLoadRejectsUnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("x = 1"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported config extension")
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
