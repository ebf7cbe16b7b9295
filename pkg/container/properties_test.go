package container

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/portod/pkg/types"
)

func TestGetSetCommandProperty(t *testing.T) {
	tr := NewTree()
	c, err := tr.Create("app", types.Cred{Uid: 0})
	require.NoError(t, err)

	require.NoError(t, c.SetProperty("command", "/bin/true"))
	v, err := c.GetProperty("command")
	require.NoError(t, err)
	require.Equal(t, "/bin/true", v)
}

func TestReadOnlyPropertyRejectsSet(t *testing.T) {
	tr := NewTree()
	c, err := tr.Create("app", types.Cred{Uid: 0})
	require.NoError(t, err)

	require.Error(t, c.SetProperty("state", "running"))
}

func TestUnknownPropertyRejected(t *testing.T) {
	tr := NewTree()
	c, err := tr.Create("app", types.Cred{Uid: 0})
	require.NoError(t, err)

	_, err = c.GetProperty("nonsense")
	require.Error(t, err)
	require.Error(t, c.SetProperty("nonsense", "1"))
}

func TestNonDynamicPropertyRejectedWhileRunning(t *testing.T) {
	tr := NewTree()
	c, err := tr.Create("app", types.Cred{Uid: 0})
	require.NoError(t, err)

	c.mu.Lock()
	c.data.State = types.StateRunning
	c.mu.Unlock()

	require.Error(t, c.SetProperty("root", "/srv/app"))
}

func TestDynamicPropertyAllowedWhileRunning(t *testing.T) {
	tr := NewTree()
	c, err := tr.Create("app", types.Cred{Uid: 0})
	require.NoError(t, err)

	c.mu.Lock()
	c.data.State = types.StateRunning
	c.mu.Unlock()

	require.NoError(t, c.SetProperty("memory_limit", "1048576"))
	v, err := c.GetProperty("memory_limit")
	require.NoError(t, err)
	require.Equal(t, "1048576", v)
}

func TestLegacyKnobPassthroughRequiresRunning(t *testing.T) {
	tr := NewTree()
	c, err := tr.Create("app", types.Cred{Uid: 0})
	require.NoError(t, err)

	_, err = c.GetProperty("memory.max")
	require.Error(t, err)
}

func TestPrivatePropertyEnforcesSizeLimit(t *testing.T) {
	tr := NewTree()
	c, err := tr.Create("app", types.Cred{Uid: 0})
	require.NoError(t, err)

	big := make([]byte, 4097)
	require.Error(t, c.SetProperty("private", string(big)))
}
