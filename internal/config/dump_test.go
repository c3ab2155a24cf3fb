package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDumpDefaults(t *testing.T) {
	out, err := Dump("")
	require.NoError(t, err)

	var settings map[string]interface{}
	require.NoError(t, yaml.Unmarshal(out, &settings))

	server, ok := settings["server"].(map[string]interface{})
	require.True(t, ok, string(out))
	assert.Equal(t, 8080, server["http_port"])

	playback, ok := settings["playback"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "direct", playback["timing_model"])
}

func TestDumpRoundTripsThroughLoad(t *testing.T) {
	out, err := Dump("")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "dumped.yaml")
	require.NoError(t, os.WriteFile(path, out, 0o600))

	fromDump, err := Load(path)
	require.NoError(t, err)
	defaults, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, defaults, fromDump)
}

func TestDumpMissingFile(t *testing.T) {
	_, err := Dump("/does/not/exist.yaml")
	assert.Error(t, err)
}
