package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 9766, cfg.Net.Port)
	assert.Equal(t, 500, cfg.Net.TimeoutMS)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Decoders = nil
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Decoders = make([]DecoderConfig, MaxDecoders+1)
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Net.TimeoutMS = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Depth = &DepthConfig{DepthUnit: 0.0001} // missing focal lengths
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Preview.Enabled = true
	cfg.Preview.Slot = 5
	assert.Error(t, cfg.Validate())
}

func TestValidateChecksPreviewEvenWhenDisabled(t *testing.T) {
	// serve can enable a disabled preview after loading, so a config that
	// validates must never feed the render loop a zero FPS or a slot
	// outside the decoder set
	cfg := DefaultConfig()
	cfg.Preview.Enabled = false
	cfg.Preview.FPS = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Preview.Enabled = false
	cfg.Preview.Slot = len(cfg.Decoders)
	assert.Error(t, cfg.Validate())
}

func TestManagerLoadsYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	doc := `
log_level: debug
net:
  port: 9768
  timeout_ms: 250
decoders:
  - hardware: sim
    codec: hevc
    pixel_format: p010le
  - hardware: sim
    codec: hevc
    pixel_format: rgb0
depth:
  ppx: 421.353
  ppy: 240.93
  fx: 426.768
  fy: 426.768
  depth_unit: 0.0001
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	mgr, err := NewManager(path)
	require.NoError(t, err)

	cfg := mgr.Get()
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9768, cfg.Net.Port)
	assert.Equal(t, 250, cfg.Net.TimeoutMS)
	require.Len(t, cfg.Decoders, 2)
	assert.Equal(t, "p010le", cfg.Decoders[0].PixelFormat)
	require.NotNil(t, cfg.Depth)
	assert.InDelta(t, 426.768, cfg.Depth.FX, 1e-9)
	// file omitted preview settings, defaults must survive the merge
	assert.Equal(t, ":8080", cfg.Preview.Addr)
}

func TestManagerRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("net:\n  timeout_ms: 0\n"), 0o644))

	_, err := NewManager(path)
	assert.Error(t, err)

	_, err = NewManager(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
