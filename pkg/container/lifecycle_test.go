package container

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/portod/pkg/types"
)

func TestStartWithoutCommandBecomesMeta(t *testing.T) {
	tr := NewTree()
	c, err := tr.Create("app", types.Cred{Uid: 0})
	require.NoError(t, err)

	require.NoError(t, c.Start())
	require.Equal(t, types.StateMeta, c.Snapshot().State)
}

func TestStartTwiceFromMetaFails(t *testing.T) {
	tr := NewTree()
	c, err := tr.Create("app", types.Cred{Uid: 0})
	require.NoError(t, err)
	require.NoError(t, c.Start())

	err = c.Start()
	require.Error(t, err)
}

func TestStopOnStoppedContainerIsNoop(t *testing.T) {
	tr := NewTree()
	c, err := tr.Create("app", types.Cred{Uid: 0})
	require.NoError(t, err)

	require.NoError(t, c.Stop(time.Second))
	require.Equal(t, types.StateStopped, c.Snapshot().State)
}

func TestStopFromMetaReturnsToStopped(t *testing.T) {
	tr := NewTree()
	c, err := tr.Create("app", types.Cred{Uid: 0})
	require.NoError(t, err)
	require.NoError(t, c.Start())
	require.Equal(t, types.StateMeta, c.Snapshot().State)

	require.NoError(t, c.Stop(time.Second))
	require.Equal(t, types.StateStopped, c.Snapshot().State)
}

func TestKillRejectsNonRunningContainer(t *testing.T) {
	tr := NewTree()
	c, err := tr.Create("app", types.Cred{Uid: 0})
	require.NoError(t, err)

	err = c.Kill(syscall.SIGTERM)
	require.Error(t, err)
}

func TestPauseRejectsStoppedContainer(t *testing.T) {
	tr := NewTree()
	c, err := tr.Create("app", types.Cred{Uid: 0})
	require.NoError(t, err)

	require.Error(t, c.Pause())
}

func TestResumeRejectsNonPausedContainer(t *testing.T) {
	tr := NewTree()
	c, err := tr.Create("app", types.Cred{Uid: 0})
	require.NoError(t, err)

	require.Error(t, c.Resume())
}

func TestReapIsNoopWhenNotRunningOrStarting(t *testing.T) {
	tr := NewTree()
	c, err := tr.Create("app", types.Cred{Uid: 0})
	require.NoError(t, err)

	require.NoError(t, c.Reap(0, false))
	require.Equal(t, types.StateStopped, c.Snapshot().State)
}

func TestReapFromRunningRecordsExitStatus(t *testing.T) {
	tr := NewTree()
	c, err := tr.Create("app", types.Cred{Uid: 0})
	require.NoError(t, err)

	c.mu.Lock()
	c.data.State = types.StateRunning
	c.data.Task = 12345
	c.mu.Unlock()

	require.NoError(t, c.Reap(7, true))
	snap := c.Snapshot()
	require.Equal(t, types.StateDead, snap.State)
	require.Equal(t, 7, snap.ExitStatus)
	require.True(t, snap.OomKilled)
	require.Equal(t, 0, snap.Task)
}

func TestMayRespawnHonorsMaxRespawns(t *testing.T) {
	tr := NewTree()
	c, err := tr.Create("app", types.Cred{Uid: 0})
	require.NoError(t, err)

	c.mu.Lock()
	c.data.State = types.StateRunning
	c.data.Respawn = types.RespawnPolicy{Enabled: true, MaxRespawns: 1, RespawnDelay: time.Second}
	c.mu.Unlock()

	require.NoError(t, c.Reap(0, false))
	delay, ok := c.MayRespawn()
	require.True(t, ok)
	require.Equal(t, time.Second, delay)

	c.mu.Lock()
	c.data.State = types.StateRunning
	c.mu.Unlock()
	require.NoError(t, c.Reap(0, false))

	_, ok = c.MayRespawn()
	require.False(t, ok)
}
