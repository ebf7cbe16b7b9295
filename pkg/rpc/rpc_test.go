package rpc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/portod/pkg/portoerr"
)

func TestDispatchRoutesToRegisteredHandler(t *testing.T) {
	d := New()
	d.Handle("List", func(client string, req Request) Response {
		return Response{Result: map[string]string{"client": client}}
	})

	resp := d.Dispatch("/app", Request{Method: "List"})
	require.Nil(t, resp.Error)
	require.Equal(t, "/app", resp.Result["client"])
}

func TestDispatchRejectsUnknownMethod(t *testing.T) {
	d := New()
	resp := d.Dispatch("/app", Request{Method: "Bogus"})
	require.NotNil(t, resp.Error)
	require.Equal(t, portoerr.InvalidMethod, resp.Error.Kind)
}

func TestDispatchRejectsEmptyMethod(t *testing.T) {
	d := New()
	resp := d.Dispatch("/app", Request{})
	require.NotNil(t, resp.Error)
	require.Equal(t, portoerr.InvalidMethod, resp.Error.Kind)
}

func TestLongRequestCountsTrackThresholds(t *testing.T) {
	d := New()
	d.Handle("Slow", func(client string, req Request) Response {
		time.Sleep(10 * time.Millisecond)
		return Response{}
	})
	d.Dispatch("/app", Request{Method: "Slow"})

	over1s, over3s, over30s, over5m := d.LongRequestCounts()
	require.Equal(t, int64(0), over1s)
	require.Equal(t, int64(0), over3s)
	require.Equal(t, int64(0), over30s)
	require.Equal(t, int64(0), over5m)
}
