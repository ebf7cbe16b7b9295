package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveNameSelf(t *testing.T) {
	require.Equal(t, "/app", ResolveName("/app", "", "self"))
}

func TestResolveNameParent(t *testing.T) {
	require.Equal(t, "/app", ResolveName("/app/worker", "", "."))
}

func TestResolveNameParentAtTopLevelIsRoot(t *testing.T) {
	require.Equal(t, "/", ResolveName("/app", "", "."))
}

func TestResolveNameAbsoluteIsUnchanged(t *testing.T) {
	require.Equal(t, "/porto/app", ResolveName("/client", "", "/porto/app"))
}

func TestResolveNamePrependsNamespace(t *testing.T) {
	require.Equal(t, "/ns/child", ResolveName("/client", "/ns", "child"))
}

func TestResolveNameWithoutNamespaceIsUnchanged(t *testing.T) {
	require.Equal(t, "child", ResolveName("/client", "", "child"))
}

func TestUnresolveNameStripsNamespace(t *testing.T) {
	require.Equal(t, "child", UnresolveName("/ns", "/ns/child"))
}

func TestUnresolveNameWithoutMatchIsUnchanged(t *testing.T) {
	require.Equal(t, "/other/child", UnresolveName("/ns", "/other/child"))
}

func TestRoundTripResolveUnresolve(t *testing.T) {
	resolved := ResolveName("/client", "/ns", "child")
	require.Equal(t, "child", UnresolveName("/ns", resolved))
}
