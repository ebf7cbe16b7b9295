package framework

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/portod/pkg/rpc"
)

func TestContainerRoundTripThroughDispatcher(t *testing.T) {
	eng := NewEngine(t)

	resp := eng.Dispatch.Dispatch("/", rpc.Request{Method: "Create", Params: map[string]string{"name": "app"}})
	require.Nil(t, resp.Error)

	resp = eng.Dispatch.Dispatch("/", rpc.Request{Method: "Start", Params: map[string]string{"name": "app"}})
	require.Nil(t, resp.Error)

	resp = eng.Dispatch.Dispatch("/", rpc.Request{Method: "List"})
	require.Nil(t, resp.Error)
	require.Contains(t, resp.Result["list"], "app")

	resp = eng.Dispatch.Dispatch("/", rpc.Request{Method: "Destroy", Params: map[string]string{"name": "app"}})
	require.Nil(t, resp.Error)
}

func TestVolumeEngineIsReachableFromHarness(t *testing.T) {
	eng := NewEngine(t)
	require.NotNil(t, eng.Volumes)
	require.Empty(t, eng.Volumes.List())
}
