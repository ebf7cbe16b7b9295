package container

import (
	"testing"

	"github.com/cuemby/portod/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestCreateRegistersUnderParent(t *testing.T) {
	tr := NewTree()
	_, err := tr.Create("a", types.Cred{Uid: 1000})
	require.NoError(t, err)

	_, err = tr.Create("a/b", types.Cred{Uid: 1000})
	require.NoError(t, err)

	children, err := tr.ChildrenOf("a")
	require.NoError(t, err)
	require.Equal(t, []string{"a/b"}, children)
}

func TestCreateRejectsDuplicateAndMissingParent(t *testing.T) {
	tr := NewTree()
	_, err := tr.Create("a", types.Cred{})
	require.NoError(t, err)

	_, err = tr.Create("a", types.Cred{})
	require.Error(t, err)

	_, err = tr.Create("missing/child", types.Cred{})
	require.Error(t, err)
}

func TestValidateNameRejectsBadCharacters(t *testing.T) {
	require.NoError(t, ValidateName("/"))
	require.NoError(t, ValidateName("a.b-c_1"))
	require.Error(t, ValidateName(""))
	require.Error(t, ValidateName("a//b"))
	require.Error(t, ValidateName("a b"))
}

func TestDestroyRequiresNoChildren(t *testing.T) {
	tr := NewTree()
	_, err := tr.Create("a", types.Cred{})
	require.NoError(t, err)
	_, err = tr.Create("a/b", types.Cred{})
	require.NoError(t, err)

	err = tr.Destroy("a")
	require.Error(t, err)

	require.NoError(t, tr.Destroy("a/b"))
	require.NoError(t, tr.Destroy("a"))

	_, err = tr.Get("a")
	require.Error(t, err)
}

func TestRootOwnedContainerBoundByHostCapBound(t *testing.T) {
	tr := NewTree()
	c, err := tr.Create("a", types.Cred{Uid: 0})
	require.NoError(t, err)

	snap := c.Snapshot()
	require.Equal(t, uint64(hostCapBound), snap.Caps.Bound)
	require.Equal(t, snap.Caps.Bound, snap.Caps.Allowed)
}

func TestNonRootContainerGetsRestrictedCapabilities(t *testing.T) {
	tr := NewTree()
	c, err := tr.Create("a", types.Cred{Uid: 1000})
	require.NoError(t, err)

	snap := c.Snapshot()
	require.NotEqual(t, uint64(0), snap.Caps.Allowed)
	require.Equal(t, uint64(0), snap.Caps.Allowed&capSysModule)
}

func TestFindTaskContainerFallsBackToRoot(t *testing.T) {
	tr := NewTree()
	name, err := tr.FindTaskContainer(999999)
	require.NoError(t, err)
	require.Equal(t, "/", name)
}

func TestFindTaskContainerMatchesOwningContainer(t *testing.T) {
	tr := NewTree()
	c, err := tr.Create("a", types.Cred{Uid: 0})
	require.NoError(t, err)
	c.mu.Lock()
	c.data.Task = 4242
	c.mu.Unlock()

	name, err := tr.FindTaskContainer(4242)
	require.NoError(t, err)
	require.Equal(t, "a", name)
}

func TestAccessLevelDefaultsToNormal(t *testing.T) {
	tr := NewTree()
	_, err := tr.Create("a", types.Cred{Uid: 1000})
	require.NoError(t, err)

	level, err := tr.AccessLevel("a")
	require.NoError(t, err)
	require.Equal(t, types.AccessNormal, level)
}

func TestAccessLevelIsMinimumAcrossAncestors(t *testing.T) {
	tr := NewTree()
	parent, err := tr.Create("a", types.Cred{Uid: 1000})
	require.NoError(t, err)
	_, err = tr.Create("a/b", types.Cred{Uid: 1000})
	require.NoError(t, err)

	parent.mu.Lock()
	parent.data.AccessLevel = types.AccessReadOnly
	parent.mu.Unlock()

	level, err := tr.AccessLevel("a/b")
	require.NoError(t, err)
	require.Equal(t, types.AccessReadOnly, level)
}

func TestStateReturnsCurrentLifecycleState(t *testing.T) {
	tr := NewTree()
	_, err := tr.Create("a", types.Cred{Uid: 0})
	require.NoError(t, err)

	state, err := tr.State("a")
	require.NoError(t, err)
	require.Equal(t, types.StateStopped, state)
}
