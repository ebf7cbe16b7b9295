package epollloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestLoopDispatchesEventFdReadiness(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	defer loop.Close()

	fd, err := NewEventFd()
	require.NoError(t, err)
	defer unix.Close(fd)

	fired := make(chan uint32, 1)
	require.NoError(t, loop.Register(int32(fd), unix.EPOLLIN, func(f int32, events uint32) {
		fired <- events
	}))

	stop := make(chan struct{})
	go func() { loop.Run(stop, 8) }()
	defer close(stop)

	require.NoError(t, WriteEventFd(fd, 1))

	select {
	case events := <-fired:
		require.NotZero(t, events&unix.EPOLLIN)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for epoll readiness")
	}
}

func TestEventFdRoundTrip(t *testing.T) {
	fd, err := NewEventFd()
	require.NoError(t, err)
	defer unix.Close(fd)

	require.NoError(t, WriteEventFd(fd, 3))
	v, err := ReadEventFd(fd)
	require.NoError(t, err)
	require.Equal(t, uint64(3), v)
}

func TestUnregisterRemovesHandler(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	defer loop.Close()

	fd, err := NewEventFd()
	require.NoError(t, err)
	defer unix.Close(fd)

	require.NoError(t, loop.Register(int32(fd), unix.EPOLLIN, func(f int32, events uint32) {}))
	require.NoError(t, loop.Unregister(int32(fd)))
}
