package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mastercactapus/gstream/machine/grbl"
	"github.com/mastercactapus/gstream/spjs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, data string) string {
	t.Helper()
	name := filepath.Join(t.TempDir(), "gstream.toml")
	require.NoError(t, os.WriteFile(name, []byte(data), 0644))
	return name
}

func TestLoad(t *testing.T) {
	name := writeFile(t, `
addr = ":8080"

[link]
spjs = "ws://cnc-bridge:8989/ws"
port = "COM4"

[grbl]
response-timeout = "3s"
suppress = ["M6"]
compensation = false

[probe]
feed-rate = 50

[jog]
interval = "100ms"
`)
	cfg, err := Load(name)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, 115200, cfg.Link.Baud)
	assert.Equal(t, 3*time.Second, cfg.Grbl.ResponseTimeout.Duration)
	assert.Equal(t, 50.0, cfg.Probe.FeedRate)
	assert.Equal(t, 10.0, cfg.Probe.MaxTravel)
	assert.Equal(t, 100*time.Millisecond, cfg.Jog.Interval.Duration)

	w := cfg.Writer()
	assert.Equal(t, []string{"M6"}, w.Suppress)
	assert.False(t, w.Compensation)
	assert.True(t, w.CheckMode)
	assert.Equal(t, 5*time.Second, w.BannerTimeout)

	assert.Equal(t, spjs.Opener{URL: "ws://cnc-bridge:8989/ws", Port: "COM4", Baud: 115200}, cfg.Opener())
}

func TestLoad_Missing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
	assert.Equal(t, grbl.SerialOpener{Pattern: "/dev/ttyUSB*", Baud: 115200}, cfg.Opener())
	assert.Equal(t, grbl.DefaultConfig(), cfg.Writer())
}

func TestLoad_Basic(t *testing.T) {
	cfg, err := Load(writeFile(t, "[grbl]\nbasic = true\n"))
	require.NoError(t, err)
	w := cfg.Writer()
	assert.Nil(t, w.Suppress)
	assert.False(t, w.Compensation)
	assert.False(t, w.CheckMode)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load(writeFile(t, "[grbl]\nmotion-timeout = \"soon\"\n"))
	assert.Error(t, err)
}
