package supervisor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/portod/pkg/config"
)

func TestNewBuildsBufferedReapChannel(t *testing.T) {
	s := New(config.Default(), []string{"daemon", "--norespawn"})
	require.NotNil(t, s.Reaped)
	require.Equal(t, 64, cap(s.Reaped))
}

func TestStopClosesStopChannelOnce(t *testing.T) {
	s := New(config.Default(), nil)
	require.NotPanics(t, s.Stop)

	select {
	case _, ok := <-s.stop:
		require.False(t, ok)
	default:
		t.Fatal("expected stop channel to be closed")
	}
}
