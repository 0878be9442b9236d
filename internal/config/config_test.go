/*
 * config_test.go
 *
 * Copyright 2026 Benjamin Barenblat
 */
/*
 * This file is part of Scoville.
 *
 * It is licensed under the MIT license. The full license text can be found
 * in the License.txt file at the root of this project.
 */

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scoville.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestLoadEmptyPathYieldsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.False(t, cfg.Metrics.Enabled)
	assert.NotEmpty(t, cfg.Trace.Pattern)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
mount_options:
  - allow_other
  - fsname=scoville
trace:
  verbose: true
metrics:
  enabled: true
  address: "localhost:9999"
  path: /metrics
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"allow_other", "fsname=scoville"}, cfg.MountOptions)
	assert.True(t, cfg.Trace.Verbose)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "localhost:9999", cfg.Metrics.Address)
}

func TestLoadKeepsDefaultsForMissingFields(t *testing.T) {
	path := writeConfig(t, "trace:\n  verbose: true\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default().Metrics.Address, cfg.Metrics.Address)
	assert.Equal(t, Default().Trace.Pattern, cfg.Trace.Pattern)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadBadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "mount_options: [unterminated"))
	assert.Error(t, err)
}

func TestValidateBadMetricsAddress(t *testing.T) {
	_, err := Load(writeConfig(t, "metrics:\n  enabled: true\n  address: nope\n  path: /metrics\n"))
	assert.Error(t, err)
}

func TestValidateBadMetricsPath(t *testing.T) {
	_, err := Load(writeConfig(t, "metrics:\n  enabled: true\n  address: \"localhost:1\"\n  path: metrics\n"))
	assert.Error(t, err)
}

func TestValidateEmptyMountOption(t *testing.T) {
	_, err := Load(writeConfig(t, "mount_options:\n  - \"\"\n"))
	assert.Error(t, err)
}
