/*
Package types defines the data model shared across the daemon: the
container record, the volume record, and the event and label types that
flow between the container tree, the volume engine, and the dispatch
core.

# Container state machine

	Stopped → Starting → Running ↔ Paused
	              ↓          ↓
	             Dead ──────→ Starting (respawn)
	Meta behaves like Running but has no Task of its own, only children.

Destroy always passes through Stop first; there is no direct
Running/Paused → Destroyed edge.

# Core types

Container carries both declared configuration (Command, Env, Caps,
resource Limits, ...) and runtime state (State, Task, ExitStatus, ...)
in one struct, matching how a container's kv record holds both on disk.
Volume is the equivalent record for the volume engine, keyed by Id
rather than by tree position since a volume can be linked into several
containers (VolumeLink) at once.

AccessLevel controls what a client bound to a given container may do
to containers outside its own subtree; see AccessLevelFromString for
the wire-level names.

Event and EventType are the payloads carried through the dispatch
core's priority queue and delivered to waiters; see pkg/waiter and
pkg/eventqueue.
*/
package types
