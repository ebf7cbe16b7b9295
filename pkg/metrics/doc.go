/*
Package metrics exposes the daemon's Statistics (§4.6) over Prometheus:
container counts by state, OOM kills, volume counts by backend, RPC
request counts/latency by method, event queue depth, and active
waiter/client counts.

Collector samples the container tree, volume engine, and waiter
registry on a 15s ticker and sets the corresponding gauges; counters
(ContainersOOM, RPCRequestsTotal, ...) are incremented directly by the
subsystems that observe those events.

This package also carries the daemon's HTTP health surface
(/health, /ready, /live), independent of the Prometheus handler,
following the same component-registry pattern regardless of which
metrics are in scope for a given build.
*/
package metrics
