// Package types defines the data model shared across the container tree,
// volume engine, and event/dispatch core: containers, volumes, links,
// events and client sessions.
package types

import (
	"time"
)

// ContainerState is a node in the container lifecycle state machine.
type ContainerState string

const (
	StateStopped   ContainerState = "stopped"
	StateStarting  ContainerState = "starting"
	StateRunning   ContainerState = "running"
	StateMeta      ContainerState = "meta"
	StatePaused    ContainerState = "paused"
	StateDead      ContainerState = "dead"
	StateDestroyed ContainerState = "destroyed"
)

// NetworkMode selects how a container's network namespace is configured.
type NetworkMode string

const (
	NetworkInherited NetworkMode = "inherited"
	NetworkNone      NetworkMode = "none"
	NetworkMacvlan   NetworkMode = "macvlan"
	NetworkIpvlan    NetworkMode = "ipvlan"
	NetworkVeth      NetworkMode = "veth"
	NetworkL3        NetworkMode = "l3"
	NetworkIPIP6     NetworkMode = "ipip6"
)

// AccessLevel is a monotone ladder of what a client is permitted to do;
// a non-root client's effective level is the minimum across itself and
// every ancestor container (C7).
type AccessLevel int

const (
	AccessNone AccessLevel = iota
	AccessReadOnly
	AccessReadIsolate
	AccessIsolate
	AccessChildOnly
	AccessNormal
	AccessSuperUser
	AccessInternal
)

// Cred is a (uid, gid) pair.
type Cred struct {
	Uid uint32
	Gid uint32
}

// Capabilities holds the four capability sets from §4.1.1.
type Capabilities struct {
	Ambient uint64
	Allowed uint64
	Limit   uint64 // user-requested cap on Bound, the "CapLimit" of the spec
	Bound   uint64
}

// RespawnPolicy controls automatic restart of a Dead container.
type RespawnPolicy struct {
	Enabled      bool
	MaxRespawns  int // <0 means unlimited
	RespawnDelay time.Duration
	RespawnCount int
}

// ResourceLimits bundles the per-controller numeric limits a container
// may declare; zero means "not set" / inherit.
type ResourceLimits struct {
	MemoryLimit      int64
	MemoryGuarantee  int64
	CPULimit         float64 // cores
	CPUGuarantee     float64
	IOLimit          int64 // bytes/sec, 0 = unlimited
	IOOpsLimit       int64
	NetLimit         int64 // bytes/sec on the container's qdisc class
	NetGuarantee     int64
	ThreadLimit      int64
}

// BindMount is one entry of a container's declared bind-mount list.
type BindMount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// Ulimit is a single rlimit declaration (e.g. "nofile", "nproc").
type Ulimit struct {
	Name string
	Soft uint64
	Hard uint64
}

// Container is a node in the single rooted container tree (§3.1).
type Container struct {
	// Identity
	Id     uint32
	Name   string
	Parent string // name of parent container, "" for the root
	Level  int

	// Credentials
	OwnerCred Cred
	TaskCred  Cred

	// Declared configuration
	Command        string
	Env            []string
	Cwd            string
	Root           string // chroot path or volume-provided root
	RootReadOnly   bool
	Caps           Capabilities
	Isolate        bool // new PID namespace
	VirtMode       string // "app" or "os"
	Hostname       string
	ResolvConf     string
	EtcHosts       string
	BindMounts     []BindMount
	NetMode        NetworkMode
	IPList         []string
	DefaultGateway string
	Ulimits        []Ulimit
	Devices        []string // device whitelist entries, "a *:* rwm" style
	Controllers    []string // controller mask, e.g. {"memory","freezer","cpu"}
	Limits         ResourceLimits
	Respawn        RespawnPolicy
	AgingTime      time.Duration
	PortoNamespace string
	AccessLevel    AccessLevel
	Private        string
	Weak           bool

	// Runtime state
	State         ContainerState
	Task          int // main pid, 0 if none
	WaitTask      int // reaper-observable pid (may differ under nested pidns)
	SeizeTask     int // sidecar pid once Task has been reparented away
	StartTime     time.Time
	RealStartTime time.Time
	DeathTime     time.Time
	ExitStatus    int
	OomKilled     bool
	RespawnCount  int
	OomEventFd    int

	// Derived state
	VolumeLinks    []string // host_target keys of links owned by this container
	OwnedVolumes   []string // volume ids this container owns
	VolumeMounts   int      // count of links rooted at or below this container (V2)
	RunningChildren int
}

// Clone returns a deep-enough copy for safe handoff across the subtree lock
// boundary (slices are copied; nested structs are value types).
func (c *Container) Clone() *Container {
	cp := *c
	cp.Env = append([]string(nil), c.Env...)
	cp.BindMounts = append([]BindMount(nil), c.BindMounts...)
	cp.IPList = append([]string(nil), c.IPList...)
	cp.Ulimits = append([]Ulimit(nil), c.Ulimits...)
	cp.Devices = append([]string(nil), c.Devices...)
	cp.Controllers = append([]string(nil), c.Controllers...)
	cp.VolumeLinks = append([]string(nil), c.VolumeLinks...)
	cp.OwnedVolumes = append([]string(nil), c.OwnedVolumes...)
	return &cp
}

// VolumeState is the volume lifecycle state machine (§3.2).
type VolumeState string

const (
	VolumeInitial    VolumeState = "initial"
	VolumeBuilding   VolumeState = "building"
	VolumeReady      VolumeState = "ready"
	VolumeTuning     VolumeState = "tuning"
	VolumeUnlinked   VolumeState = "unlinked"
	VolumeToDestroy  VolumeState = "to_destroy"
	VolumeDestroying VolumeState = "destroying"
	VolumeDestroyed  VolumeState = "destroyed"
)

// BackendKind enumerates the pluggable storage backends of §4.2.1.
type BackendKind string

const (
	BackendDir      BackendKind = "dir"
	BackendPlain    BackendKind = "plain"
	BackendBind     BackendKind = "bind"
	BackendRBind    BackendKind = "rbind"
	BackendTmpfs    BackendKind = "tmpfs"
	BackendHugeTmpfs BackendKind = "hugetmpfs"
	BackendQuota    BackendKind = "quota"
	BackendNative   BackendKind = "native"
	BackendOverlay  BackendKind = "overlay"
	BackendLoop     BackendKind = "loop"
	BackendSquash   BackendKind = "squash"
	BackendLVM      BackendKind = "lvm"
	BackendRBD      BackendKind = "rbd"
)

// Volume is an independently owned unit of storage exposed as a path
// (§3.2).
type Volume struct {
	Id           string
	Path         string
	InternalPath string
	StoragePath  string
	Place        string
	Backend      BackendKind

	VolumeOwnerContainer string
	VolumeOwner          Cred
	VolumeCred           Cred
	VolumePermissions    string // octal string, e.g. "0775"

	SpaceLimit     uint64
	SpaceGuarantee uint64
	InodeLimit     uint64
	InodeGuarantee uint64
	ReadOnly       bool

	Layers  []string
	Private string

	BuildTime  time.Time
	ChangeTime time.Time
	State      VolumeState

	LoopDeviceIndex int // -1 if not loop-backed
	ClaimedSpace    uint64
	Nested          []string // ids of volumes dependent on this one's path
	HasDependentContainer bool
	VolumeMounts    int // number of links Engine.Link has recorded for this volume
}

// VolumeLink is a tuple (volume, container, target_path_in_container,
// read_only, required, host_target) (§3.2).
type VolumeLink struct {
	VolumeId    string
	Container   string
	Target      string // path inside the container; "" for the common link
	ReadOnly    bool
	Required    bool
	HostTarget  string // "<container>:<target>" as set by volume.Engine.Link, which mounts nothing; not a host path
}

// EventType enumerates the tagged variants of §3.3.
type EventType string

const (
	EventExit                 EventType = "exit"
	EventChildExit            EventType = "child_exit"
	EventOOM                  EventType = "oom"
	EventRespawn              EventType = "respawn"
	EventRotateLogs           EventType = "rotate_logs"
	EventWaitTimeout          EventType = "wait_timeout"
	EventDestroyAgedContainer EventType = "destroy_aged_container"
	EventDestroyWeakContainer EventType = "destroy_weak_container"
	EventNetworkWatchdog      EventType = "network_watchdog"
)

// Event is an enum-tagged variant with a due time, ordered on a min-heap
// by DueMs with ties broken by sequence number (§3.3).
type Event struct {
	Type      EventType
	Container string // target container name, "" if untargeted
	DueMs     int64
	Seq       uint64

	// Exit / ChildExit payload
	Pid    int
	Status int

	// Waiter payload (WaitTimeout)
	WaiterId uint64
}

// AccessLevelFromString maps the wire-level access level name to AccessLevel.
func AccessLevelFromString(s string) AccessLevel {
	switch s {
	case "none":
		return AccessNone
	case "ro":
		return AccessReadOnly
	case "read_isolate":
		return AccessReadIsolate
	case "isolate":
		return AccessIsolate
	case "child_only":
		return AccessChildOnly
	case "super_user":
		return AccessSuperUser
	case "internal":
		return AccessInternal
	default:
		return AccessNormal
	}
}
