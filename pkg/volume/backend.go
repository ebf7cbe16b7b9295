// Package volume implements the volume engine of §4.2: the backend
// contract, the thirteen concrete backends, and the place/quota
// accounting and link bookkeeping around them. It is grounded on
// src/volume.cpp's TVolumeBackend hierarchy (Configure/Build/Destroy/
// Resize/StatFS/Check/ClaimPlace), translated from one abstract base
// class with virtual overrides into a Go interface with one
// implementation per backend kind.
package volume

import (
	"context"
	"fmt"

	"github.com/cuemby/portod/pkg/portoerr"
	"github.com/cuemby/portod/pkg/types"
)

// StatFS mirrors the handful of struct statfs fields the engine reports
// back to clients (§4.2, "StatFS").
type StatFS struct {
	SpaceUsed  uint64
	SpaceAvail uint64
	InodeUsed  uint64
	InodeAvail uint64
}

// Backend is the contract every volume kind implements, grounded 1:1 on
// TVolumeBackend's virtual methods. Volume is passed on every call
// rather than captured at construction time, since the engine may swap
// the *types.Volume a backend operates on when restoring from disk.
type Backend interface {
	// Configure validates the declared volume against this backend's
	// constraints (quota/storage/layers support, required fields) and
	// may fill in derived fields (InternalPath, StoragePath) on vol.
	Configure(vol *types.Volume) error

	// Build creates the on-disk/mount state for vol. Called once, after
	// Configure, for a freshly created (non-restored) volume.
	Build(ctx context.Context, vol *types.Volume) error

	// Destroy tears down whatever Build created. Called during volume
	// removal; must be idempotent against partial Build failures.
	Destroy(ctx context.Context, vol *types.Volume) error

	// Resize changes the space/inode limits of an existing volume.
	// Backends that cannot resize return portoerr.NotSupported.
	Resize(ctx context.Context, vol *types.Volume, spaceLimit, inodeLimit uint64) error

	// StatFS reports current usage for the volume.
	StatFS(vol *types.Volume) (StatFS, error)

	// Check verifies the backend's on-disk state is still consistent,
	// used during restore (§4.2.4).
	Check(vol *types.Volume) error

	// ClaimPlace returns the place path this volume consumes quota
	// against, or "" if it doesn't draw from place accounting (e.g. a
	// volume backed entirely by caller-supplied storage).
	ClaimPlace(vol *types.Volume) string
}

// baseBackend gives every concrete backend the TVolumeBackend defaults:
// Resize unsupported, Check a no-op, ClaimPlace keyed on the place
// unless the volume uses caller storage.
type baseBackend struct{}

func (baseBackend) Resize(ctx context.Context, vol *types.Volume, spaceLimit, inodeLimit uint64) error {
	return portoerr.New(portoerr.NotSupported, "backend %s does not support resize", vol.Backend)
}

func (baseBackend) Check(vol *types.Volume) error { return nil }

func (baseBackend) ClaimPlace(vol *types.Volume) string {
	if vol.StoragePath != "" && vol.StoragePath != vol.Path {
		return ""
	}
	return vol.Place
}

// New returns the Backend implementation for kind, or an error if the
// kind is unknown. The volume engine calls this in Create, in Destroy,
// and for each record in Restore.
func New(kind types.BackendKind) (Backend, error) {
	switch kind {
	case types.BackendDir:
		return &dirBackend{}, nil
	case types.BackendPlain:
		return &plainBackend{}, nil
	case types.BackendBind:
		return &bindBackend{recursive: false}, nil
	case types.BackendRBind:
		return &bindBackend{recursive: true}, nil
	case types.BackendTmpfs:
		return &tmpfsBackend{huge: false}, nil
	case types.BackendHugeTmpfs:
		return &tmpfsBackend{huge: true}, nil
	case types.BackendQuota:
		return &quotaBackend{}, nil
	case types.BackendNative:
		return &nativeBackend{}, nil
	case types.BackendOverlay:
		return &overlayBackend{}, nil
	case types.BackendLoop:
		return &loopBackend{}, nil
	case types.BackendSquash:
		return &squashBackend{}, nil
	case types.BackendLVM:
		return &lvmBackend{}, nil
	case types.BackendRBD:
		return &rbdBackend{}, nil
	default:
		return nil, fmt.Errorf("volume: unknown backend kind %q", kind)
	}
}

func haveQuota(vol *types.Volume) bool    { return vol.SpaceLimit != 0 || vol.InodeLimit != 0 }
func haveStorage(vol *types.Volume) bool  { return vol.StoragePath != "" && vol.StoragePath != vol.Path }
func haveLayers(vol *types.Volume) bool   { return len(vol.Layers) > 0 }
func invalidProp(format string, a ...any) error {
	return portoerr.New(portoerr.InvalidProperty, format, a...)
}
