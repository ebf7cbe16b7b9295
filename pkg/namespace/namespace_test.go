package namespace

import (
	"testing"

	"github.com/cuemby/portod/pkg/types"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestFlagsReflectsDeclaredIsolation(t *testing.T) {
	plain := &types.Container{}
	require.Equal(t, uintptr(0), Flags(plain))

	isolated := &types.Container{
		Isolate:  true,
		NetMode:  types.NetworkVeth,
		Root:     "/place/porto_volumes/v1",
		Hostname: "box",
	}
	flags := Flags(isolated)
	require.NotEqual(t, uintptr(0), flags&unix.CLONE_NEWPID)
	require.NotEqual(t, uintptr(0), flags&unix.CLONE_NEWNET)
	require.NotEqual(t, uintptr(0), flags&unix.CLONE_NEWNS)
	require.NotEqual(t, uintptr(0), flags&unix.CLONE_NEWUTS)
}

func TestFlagsTreatsInheritedNetAsNoIsolation(t *testing.T) {
	c := &types.Container{NetMode: types.NetworkInherited}
	require.Equal(t, uintptr(0), Flags(c)&unix.CLONE_NEWNET)
}

func TestOpenMissingNamespaceFails(t *testing.T) {
	_, err := Open(-1, "net")
	require.Error(t, err)
}
