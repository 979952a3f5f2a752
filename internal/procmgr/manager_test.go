package procmgr

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoConfig(name string) *ProcessConfig {
	return &ProcessConfig{
		Name:          name,
		Path:          os.Args[0],
		Args:          []string{"-test.run", "TestHelperProcess"},
		MaxRestarts:   2,
		RestartWindow: time.Minute,
		RestartDelay:  10 * time.Millisecond,
	}
}

func TestManagerStartStop(t *testing.T) {
	m := NewManager()
	defer m.StopAll()

	cfg := echoConfig("p1")
	require.NoError(t, m.Start(cfg))
	assert.True(t, m.IsRunning("p1"))

	require.NoError(t, m.Stop("p1"))
}

func TestManagerDuplicateStart(t *testing.T) {
	m := NewManager()
	defer m.StopAll()

	cfg := echoConfig("dup")
	require.NoError(t, m.Start(cfg))
	err := m.Start(cfg)
	assert.Error(t, err)
}

func TestManagerStopUnknown(t *testing.T) {
	m := NewManager()
	err := m.Stop("nope")
	assert.Error(t, err)
}

func TestRestartsWithinWindow(t *testing.T) {
	p := &Process{
		config: &ProcessConfig{RestartWindow: 50 * time.Millisecond},
	}
	p.restarts = []time.Time{time.Now().Add(-time.Hour), time.Now()}
	assert.Equal(t, 1, p.RestartCount())
}

func TestGetHelperPath(t *testing.T) {
	path := GetHelperPath("agent")
	assert.NotEmpty(t, path)
}
