// Package engine bundles the mutable process-wide state the container
// tree, volume engine, waiters, and RPC handlers all share into one
// explicit context, exactly the grouping §9's design note calls for
// ("containers map, volumes map, ... config, logger") instead of the
// package-level globals the original keeps in TPortoContext
// (porto-context.hpp). Tests build fresh Contexts against temp dirs
// rather than sharing mutable package state.
package engine

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cuemby/portod/pkg/config"
	"github.com/cuemby/portod/pkg/container"
	"github.com/cuemby/portod/pkg/eventqueue"
	"github.com/cuemby/portod/pkg/log"
	"github.com/cuemby/portod/pkg/metrics"
	"github.com/cuemby/portod/pkg/rpc"
	"github.com/cuemby/portod/pkg/types"
	"github.com/cuemby/portod/pkg/volume"
	"github.com/cuemby/portod/pkg/waiter"
)

// Context is the engine-wide shared state, constructed once by the
// daemon subcommand and passed into every session/rpc handler.
type Context struct {
	Config config.Config
	Logger zerolog.Logger

	Containers *container.Tree
	Volumes    *volume.Engine
	Waiters    *waiter.Registry
	Events     *eventqueue.Queue
	Dispatch   *rpc.Dispatcher
	Metrics    *metrics.Collector
}

// New builds a Context rooted at cfg.DefaultPlace for volume state,
// wiring the standard method table onto the dispatcher.
func New(cfg config.Config) (*Context, error) {
	volumes, err := volume.NewEngine(cfg.DefaultPlace, cfg.DefaultPlace)
	if err != nil {
		return nil, fmt.Errorf("init volume engine: %w", err)
	}

	ctx := &Context{
		Config:     cfg,
		Logger:     log.WithComponent("engine"),
		Containers: container.NewTree(),
		Volumes:    volumes,
		Waiters:    waiter.NewRegistry(),
		Events:     eventqueue.New(),
		Dispatch:   rpc.New(),
	}
	ctx.Metrics = metrics.NewCollector(ctx, ctx.Volumes, ctx.Waiters, ctx.Events)
	ctx.registerHandlers()
	ctx.registerEventHandlers()
	return ctx, nil
}

// States implements metrics.ContainerLister against the live tree.
func (c *Context) States() map[string]types.ContainerState {
	return c.Containers.States()
}
