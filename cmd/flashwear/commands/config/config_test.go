package config

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/flashwear/internal/cli/output"
	"github.com/marmos91/flashwear/pkg/config"
)

func TestGenerateSchema(t *testing.T) {
	raw, err := json.Marshal(GenerateSchema())
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	props, ok := doc["properties"].(map[string]any)
	require.True(t, ok, "schema has properties")
	for _, key := range []string{"logging", "device", "policy", "maintenance", "snapshot", "journal", "api"} {
		assert.Contains(t, props, key)
	}

	// Durations and sizes are written as strings in YAML.
	timeout, ok := props["shutdown_timeout"].(map[string]any)
	require.True(t, ok, "shutdown_timeout property")
	assert.Equal(t, "string", timeout["type"])
	assert.Equal(t, "duration", timeout["title"])
	assert.Equal(t, durationPattern, timeout["pattern"])
	assert.Contains(t, string(raw), "size with unit")
}

func TestDurationPattern(t *testing.T) {
	re := regexp.MustCompile(durationPattern)
	for _, ok := range []string{"0", "30s", "1h30m", "1.5s", "250ms"} {
		assert.True(t, re.MatchString(ok), ok)
	}
	for _, bad := range []string{"", "30", "-1s", "1d", "s"} {
		assert.False(t, re.MatchString(bad), bad)
	}
}

func TestWarnings(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Device.Type = "memory"
	cfg.Snapshot.Type = "memory"
	cfg.Journal.Enabled = false
	cfg.Maintenance.Interval = 0

	joined := strings.Join(Warnings(cfg), "\n")
	assert.Contains(t, joined, "memory device")
	assert.Contains(t, joined, "memory snapshot store")
	assert.Contains(t, joined, "journal disabled")
	assert.Contains(t, joined, "maintenance interval")
}

func TestPrintConfig(t *testing.T) {
	cfg := config.GetDefaultConfig()

	var buf bytes.Buffer
	require.NoError(t, printConfig(&buf, cfg, output.FormatYAML))
	assert.Contains(t, buf.String(), "device:")

	buf.Reset()
	require.NoError(t, printConfig(&buf, cfg, output.FormatJSON))
	assert.True(t, json.Valid(buf.Bytes()))
}
