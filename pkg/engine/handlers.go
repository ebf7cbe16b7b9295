package engine

import (
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/portod/pkg/portoerr"
	"github.com/cuemby/portod/pkg/rpc"
	"github.com/cuemby/portod/pkg/session"
	"github.com/cuemby/portod/pkg/types"
)

// registerHandlers wires the RPC method table onto the container tree
// and volume engine, grounded on the original's per-method handler
// functions in rpc.cpp, one Go closure per method instead of one
// giant switch.
func (c *Context) registerHandlers() {
	c.Dispatch.Handle("Create", c.handleCreate)
	c.Dispatch.Handle("Destroy", c.handleDestroy)
	c.Dispatch.Handle("Start", c.handleStart)
	c.Dispatch.Handle("Stop", c.handleStop)
	c.Dispatch.Handle("Pause", c.handlePause)
	c.Dispatch.Handle("Resume", c.handleResume)
	c.Dispatch.Handle("Kill", c.handleKill)
	c.Dispatch.Handle("List", c.handleList)
	c.Dispatch.Handle("GetProperty", c.handleGetProperty)
	c.Dispatch.Handle("SetProperty", c.handleSetProperty)
}

func resolve(clientContainer, name string) string {
	return session.ResolveName(clientContainer, "", name)
}

func (c *Context) handleCreate(client string, req rpc.Request) rpc.Response {
	name := resolve(client, req.Params["name"])
	if _, err := c.Containers.Create(name, types.Cred{}); err != nil {
		return errResponse(err)
	}
	return rpc.Response{}
}

func (c *Context) handleDestroy(client string, req rpc.Request) rpc.Response {
	name := resolve(client, req.Params["name"])
	ct, err := c.Containers.Get(name)
	if err != nil {
		return errResponse(err)
	}
	if err := ct.Stop(c.Config.StopDeadline); err != nil {
		return errResponse(err)
	}
	if err := c.Containers.Destroy(name); err != nil {
		return errResponse(err)
	}
	return rpc.Response{}
}

func (c *Context) handleStart(client string, req rpc.Request) rpc.Response {
	ct, err := c.Containers.Get(resolve(client, req.Params["name"]))
	if err != nil {
		return errResponse(err)
	}
	if err := ct.Start(); err != nil {
		return errResponse(err)
	}
	return rpc.Response{}
}

func (c *Context) handleStop(client string, req rpc.Request) rpc.Response {
	ct, err := c.Containers.Get(resolve(client, req.Params["name"]))
	if err != nil {
		return errResponse(err)
	}
	deadline := c.Config.StopDeadline
	if d, ok := req.Params["timeout"]; ok {
		if parsed, perr := time.ParseDuration(d); perr == nil {
			deadline = parsed
		}
	}
	if err := ct.Stop(deadline); err != nil {
		return errResponse(err)
	}
	c.Waiters.Notify(ct.Name(), types.StateStopped)
	return rpc.Response{}
}

func (c *Context) handlePause(client string, req rpc.Request) rpc.Response {
	ct, err := c.Containers.Get(resolve(client, req.Params["name"]))
	if err != nil {
		return errResponse(err)
	}
	if err := ct.Pause(); err != nil {
		return errResponse(err)
	}
	return rpc.Response{}
}

func (c *Context) handleResume(client string, req rpc.Request) rpc.Response {
	ct, err := c.Containers.Get(resolve(client, req.Params["name"]))
	if err != nil {
		return errResponse(err)
	}
	if err := ct.Resume(); err != nil {
		return errResponse(err)
	}
	return rpc.Response{}
}

func (c *Context) handleKill(client string, req rpc.Request) rpc.Response {
	ct, err := c.Containers.Get(resolve(client, req.Params["name"]))
	if err != nil {
		return errResponse(err)
	}
	sig := syscall.SIGTERM
	if s, ok := req.Params["signal"]; ok {
		if n, perr := strconv.Atoi(s); perr == nil {
			sig = syscall.Signal(n)
		}
	}
	if err := ct.Kill(sig); err != nil {
		return errResponse(err)
	}
	return rpc.Response{}
}

func (c *Context) handleList(client string, req rpc.Request) rpc.Response {
	names := c.Containers.List()
	return rpc.Response{Result: map[string]string{"list": strings.Join(names, " ")}}
}

func (c *Context) handleGetProperty(client string, req rpc.Request) rpc.Response {
	ct, err := c.Containers.Get(resolve(client, req.Params["name"]))
	if err != nil {
		return errResponse(err)
	}
	v, err := ct.GetProperty(req.Params["property"])
	if err != nil {
		return errResponse(err)
	}
	return rpc.Response{Result: map[string]string{"value": v}}
}

func (c *Context) handleSetProperty(client string, req rpc.Request) rpc.Response {
	ct, err := c.Containers.Get(resolve(client, req.Params["name"]))
	if err != nil {
		return errResponse(err)
	}
	if err := ct.SetProperty(req.Params["property"], req.Params["value"]); err != nil {
		return errResponse(err)
	}
	return rpc.Response{}
}

func errResponse(err error) rpc.Response {
	if pe, ok := err.(*portoerr.Error); ok {
		return rpc.Response{Error: pe}
	}
	return rpc.Response{Error: portoerr.Wrapf(portoerr.Unknown, err, "request failed")}
}
