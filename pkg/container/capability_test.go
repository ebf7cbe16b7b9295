package container

import (
	"testing"

	"github.com/cuemby/portod/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestSanitizeCapabilitiesRootOwnedUsesHostBound(t *testing.T) {
	self := &types.Container{OwnerCred: types.Cred{Uid: 0}}
	caps := sanitizeCapabilities([]*types.Container{self}, []bool{false})
	require.Equal(t, uint64(hostCapBound), caps.Bound)
	require.Equal(t, caps.Bound, caps.Allowed)
	require.Equal(t, caps.Bound, caps.Limit)
}

func TestSanitizeCapabilitiesRootOwnedHonorsExplicitLimit(t *testing.T) {
	self := &types.Container{OwnerCred: types.Cred{Uid: 0}, Caps: types.Capabilities{Limit: capChown | capKill}}
	caps := sanitizeCapabilities([]*types.Container{self}, []bool{true})
	require.Equal(t, uint64(capChown|capKill), caps.Bound)
	require.Equal(t, caps.Bound, caps.Allowed)
}

func TestSanitizeCapabilitiesNonRootStripsUnisolatedGroups(t *testing.T) {
	self := &types.Container{OwnerCred: types.Cred{Uid: 1000}}
	root := &types.Container{}
	caps := sanitizeCapabilities([]*types.Container{self, root}, []bool{false, false})

	require.Equal(t, uint64(0), caps.Allowed&pidNsCapabilities, "no pid namespace anywhere in chain")
	require.Equal(t, uint64(0), caps.Allowed&memCgCapabilities, "no memory limit anywhere in chain")
	require.Equal(t, uint64(0), caps.Allowed&netNsCapabilities, "no network isolation anywhere in chain")
}

func TestSanitizeCapabilitiesNonRootKeepsGroupsWhenIsolated(t *testing.T) {
	self := &types.Container{
		OwnerCred: types.Cred{Uid: 1000},
		Isolate:   true,
		Limits:    types.ResourceLimits{MemoryLimit: 1 << 20},
		NetMode:   types.NetworkVeth,
	}
	root := &types.Container{}
	caps := sanitizeCapabilities([]*types.Container{self, root}, []bool{false, false})

	require.NotEqual(t, uint64(0), caps.Allowed&pidNsCapabilities)
	require.NotEqual(t, uint64(0), caps.Allowed&memCgCapabilities)
	require.NotEqual(t, uint64(0), caps.Allowed&netNsCapabilities)
}

func TestSanitizeCapabilitiesChrootRestrictsBound(t *testing.T) {
	self := &types.Container{OwnerCred: types.Cred{Uid: 1000}, Root: "/place/root"}
	root := &types.Container{}
	caps := sanitizeCapabilities([]*types.Container{self, root}, []bool{false, false})

	require.Equal(t, uint64(0), caps.Bound&capSysAdmin)
	require.Equal(t, caps.Bound, caps.Allowed)
}

func TestSanitizeCapabilitiesIntersectsAncestorLimit(t *testing.T) {
	self := &types.Container{OwnerCred: types.Cred{Uid: 1000}}
	root := &types.Container{Caps: types.Capabilities{Limit: capChown}}
	caps := sanitizeCapabilities([]*types.Container{self, root}, []bool{false, true})

	require.Equal(t, uint64(0), caps.Bound&^uint64(capChown))
}

func TestValidateAmbientRejectsEscapingBound(t *testing.T) {
	require.True(t, validateAmbient(types.Capabilities{Ambient: capChown, Allowed: capChown, Bound: capChown}))
	require.False(t, validateAmbient(types.Capabilities{Ambient: capKill, Allowed: capChown, Bound: capChown}))
}
