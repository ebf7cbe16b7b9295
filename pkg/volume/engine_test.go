package volume

import (
	"testing"

	"github.com/cuemby/portod/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(t.TempDir(), "/place")
	require.NoError(t, err)
	return e
}

func TestPlaceQuotaClaimAndRelease(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.SetPlaceLimit("/place", "100M"))

	require.NoError(t, e.claim("/place", 60<<20))
	err := e.claim("/place", 60<<20)
	require.Error(t, err, "second claim should exceed the 100M limit")

	e.release("/place", 60<<20)
	require.NoError(t, e.claim("/place", 60<<20))
}

func TestLinkAndUnlinkBookkeeping(t *testing.T) {
	e := newTestEngine(t)
	vol := &types.Volume{Id: "v1", Path: "/place/porto_volumes/v1"}
	e.volumes[vol.Id] = vol
	e.byPath[vol.Path] = vol

	link, err := e.Link("v1", "a/b", "/data", false, true)
	require.NoError(t, err)
	require.Equal(t, "a/b:/data", link.HostTarget)
	require.Equal(t, 1, vol.VolumeMounts)

	_, err = e.Link("v1", "a/b", "/data", false, true)
	require.Error(t, err, "duplicate link at same target should fail")

	require.NoError(t, e.Unlink("a/b", "/data"))
	require.Equal(t, 0, vol.VolumeMounts)

	err = e.Unlink("a/b", "/data")
	require.Error(t, err, "unlinking twice should fail")
}

func TestDestroyRefusesWhileLinked(t *testing.T) {
	e := newTestEngine(t)
	vol := &types.Volume{Id: "v1", Path: "/place/porto_volumes/v1", Backend: types.BackendDir}
	e.volumes[vol.Id] = vol
	e.byPath[vol.Path] = vol
	_, err := e.Link("v1", "a", "/data", false, false)
	require.NoError(t, err)

	err = e.Destroy(nil, "v1", false)
	require.Error(t, err)
	require.Contains(t, err.Error(), "still linked")
}

func TestDependencyCheckRecordsNesting(t *testing.T) {
	outer := &types.Volume{Id: "outer", Path: "/a"}
	inner := &types.Volume{Id: "inner", Path: "/a/b"}

	require.NoError(t, dependencyCheck(inner, []*types.Volume{outer}))
	require.Contains(t, inner.Nested, "outer")
	require.True(t, outer.HasDependentContainer)
}
