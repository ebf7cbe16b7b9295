package waiter

import (
	"testing"

	"github.com/cuemby/portod/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestSyncWaiterFiresOnceAndIsRemoved(t *testing.T) {
	r := NewRegistry()
	w := &Waiter{Patterns: []string{"a/b"}, TargetStates: []types.ContainerState{types.StateRunning}}
	r.Register(w)
	require.Equal(t, 1, r.Count())

	r.Notify("a/b", types.StateStarting)
	select {
	case <-w.Result:
		t.Fatal("should not fire on non-target state")
	default:
	}

	r.Notify("a/b", types.StateRunning)
	res := <-w.Result
	require.Equal(t, "a/b", res.Name)
	require.Equal(t, types.StateRunning, res.State)
	require.Equal(t, 0, r.Count(), "sync waiter removed after firing")
}

func TestWildcardPatternMatches(t *testing.T) {
	r := NewRegistry()
	w := &Waiter{Patterns: []string{"app/*"}}
	r.Register(w)

	r.Notify("app/web", types.StateDead)
	res := <-w.Result
	require.Equal(t, "app/web", res.Name)
}

func TestAsyncWaiterPersistsAcrossMultipleFires(t *testing.T) {
	r := NewRegistry()
	w := &Waiter{Patterns: []string{"*"}, Async: true, Result: make(chan Result, 4)}
	r.Register(w)

	r.Notify("x", types.StateRunning)
	r.Notify("y", types.StateDead)
	require.Equal(t, 1, r.Count())

	first := <-w.Result
	second := <-w.Result
	require.Equal(t, "x", first.Name)
	require.Equal(t, "y", second.Name)
}

func TestTimeoutFiresEmptyResultAndRemoves(t *testing.T) {
	r := NewRegistry()
	w := &Waiter{Patterns: []string{"never/matches"}}
	id := r.Register(w)

	r.Timeout(id)
	res := <-w.Result
	require.Equal(t, "", res.Name)
	require.Equal(t, types.ContainerState("timeout"), res.State)
	require.Equal(t, 0, r.Count())
}

func TestRemoveDeactivatesWaiter(t *testing.T) {
	r := NewRegistry()
	w := &Waiter{Patterns: []string{"a"}}
	id := r.Register(w)
	r.Remove(id)

	r.Notify("a", types.StateRunning)
	select {
	case <-w.Result:
		t.Fatal("removed waiter should not fire")
	default:
	}
}
