package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"github.com/celer/vkcore/hal"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	flags, err := c.Device.QueueFlags()
	require.NoError(t, err)
	assert.Equal(t, []hal.QueueFlags{hal.QueueGraphics | hal.QueueCompute}, flags)
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "vk.toml", `
backend = "vulkan"

[device]
index = 1
queues = ["compute", "transfer"]

[vulkan]
validation = true
extensions = ["VK_KHR_surface"]

[log]
level = "debug"
format = "json"
`)
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendVulkan, c.Backend)
	assert.Equal(t, 1, c.Device.Index)
	assert.Equal(t, []string{"compute", "transfer"}, c.Device.Queues)
	assert.True(t, c.Vulkan.Validation)
	assert.Equal(t, []string{"VK_KHR_surface"}, c.Vulkan.Extensions)
	assert.Equal(t, uint64(64<<20), c.Arena.BlockSize, "unset keys keep their defaults")

	lvl, err := c.Log.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "vk.yml", `
backend: soft
arena:
  block_size: 1048576
soft:
  workers: 2
  device_heap: 8388608
  host_heap: 0
`)
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendSoft, c.Backend)
	assert.Equal(t, uint64(1<<20), c.Arena.BlockSize)
	assert.Equal(t, 2, c.Soft.Workers)
	assert.Equal(t, uint64(8<<20), c.Soft.DeviceHeap)
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
		want error
	}{
		{"unknown backend", "a.toml", `backend = "metal"`, ErrInvalid},
		{"unknown queue", "b.toml", "[device]\nqueues = [\"video\"]", ErrInvalid},
		{"tiny block", "c.yaml", "arena:\n  block_size: 16", ErrInvalid},
		{"bad level", "d.yaml", "log:\n  level: loud", ErrInvalid},
		{"bad format", "e.yaml", "log:\n  format: xml", ErrInvalid},
		{"bad index", "f.toml", "[device]\nindex = -4", ErrInvalid},
		{"unknown extension", "g.ini", "backend=soft", ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.body))
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	_, err := Load(writeFile(t, "h.toml", `colour = "red"`))
	assert.Error(t, err, "unknown keys are rejected")
	_, err = Load(writeFile(t, "i.yaml", "colour: red"))
	assert.Error(t, err)
	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestLoadOrDefault(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	c, err := LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestParseQueue(t *testing.T) {
	f, err := ParseQueue("Graphics + transfer")
	require.NoError(t, err)
	assert.Equal(t, hal.QueueGraphics|hal.QueueTransfer, f)
	_, err = ParseQueue("")
	assert.True(t, errors.Is(err, ErrInvalid))
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Log{Level: "warn", Format: "json"}.Logger(&buf)
	require.NoError(t, err)
	logger.Info("dropped")
	logger.Warn("kept", "n", 1)
	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), `"msg":"kept"`)
}
