package volume

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cuemby/portod/pkg/kvstore"
	"github.com/cuemby/portod/pkg/log"
	"github.com/cuemby/portod/pkg/portoerr"
	"github.com/cuemby/portod/pkg/types"
	"github.com/docker/go-units"
	"github.com/google/uuid"
)

// Engine owns every volume and link in the daemon: the in-memory
// registry, the place quota accounting, and the persisted record tree.
// Grounded on the package-level Volumes/VolumeLinks maps and
// VolumesMutex of src/volume.cpp, folded into one struct per the
// daemon's "no mutable globals" design note (§9).
type Engine struct {
	mu       sync.RWMutex
	volumes  map[string]*types.Volume   // by id
	byPath   map[string]*types.Volume   // by Path
	links    map[string]*types.VolumeLink // by HostTarget
	places   map[string]*placeUsage
	tree     *kvstore.Tree
	defaultPlace string
}

type placeUsage struct {
	spaceLimit uint64
	spaceUsed  uint64
	volumes    int
}

// NewEngine creates a volume engine persisting records under stateDir,
// with defaultPlace used when a volume request omits one (§4.2.2).
func NewEngine(stateDir, defaultPlace string) (*Engine, error) {
	tree, err := kvstore.Open(stateDir)
	if err != nil {
		return nil, fmt.Errorf("volume: open state tree: %w", err)
	}
	return &Engine{
		volumes:      make(map[string]*types.Volume),
		byPath:       make(map[string]*types.Volume),
		links:        make(map[string]*types.VolumeLink),
		places:       make(map[string]*placeUsage),
		tree:         tree,
		defaultPlace: defaultPlace,
	}, nil
}

// SetPlaceLimit bounds total space claimable from place; volumes whose
// backend ClaimPlace()s this place count against it (§4.2.2 "place quota
// accounting").
func (e *Engine) SetPlaceLimit(place string, limit string) error {
	bytes, err := units.RAMInBytes(limit)
	if err != nil {
		return fmt.Errorf("volume: parse place limit %q: %w", limit, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	u := e.places[place]
	if u == nil {
		u = &placeUsage{}
		e.places[place] = u
	}
	u.spaceLimit = uint64(bytes)
	return nil
}

func (e *Engine) claim(place string, size uint64) error {
	if place == "" {
		return nil
	}
	u := e.places[place]
	if u == nil {
		u = &placeUsage{}
		e.places[place] = u
	}
	if u.spaceLimit != 0 && u.spaceUsed+size > u.spaceLimit {
		return portoerr.New(portoerr.NoSpace, "place %s quota exceeded", place)
	}
	u.spaceUsed += size
	u.volumes++
	return nil
}

func (e *Engine) release(place string, size uint64) {
	if place == "" {
		return
	}
	u := e.places[place]
	if u == nil {
		return
	}
	if u.spaceUsed >= size {
		u.spaceUsed -= size
	} else {
		u.spaceUsed = 0
	}
	if u.volumes > 0 {
		u.volumes--
	}
}

// Create validates, builds, and registers a new volume. The caller
// supplies vol with its declared fields already set; Create fills in
// Id, derived paths, and State.
func (e *Engine) Create(ctx context.Context, vol *types.Volume) (*types.Volume, error) {
	if vol.Place == "" {
		vol.Place = e.defaultPlace
	}
	if vol.Id == "" {
		vol.Id = uuid.NewString()
	}
	if vol.Backend == "" {
		vol.Backend = types.BackendNative
	}

	e.mu.Lock()
	if _, exists := e.byPath[vol.Path]; exists {
		e.mu.Unlock()
		return nil, portoerr.New(portoerr.VolumeAlreadyExists, "volume already exists at %s", vol.Path)
	}
	e.mu.Unlock()

	backend, err := New(vol.Backend)
	if err != nil {
		return nil, err
	}
	if err := backend.Configure(vol); err != nil {
		return nil, err
	}

	if err := dependencyCheck(vol, e.snapshotVolumes()); err != nil {
		return nil, err
	}

	place := backend.ClaimPlace(vol)
	if err := e.claim(place, vol.SpaceLimit); err != nil {
		return nil, err
	}

	vol.State = types.VolumeBuilding
	if err := backend.Build(ctx, vol); err != nil {
		e.release(place, vol.SpaceLimit)
		return nil, fmt.Errorf("volume: build %s: %w", vol.Path, err)
	}
	vol.State = types.VolumeReady

	e.mu.Lock()
	e.volumes[vol.Id] = vol
	e.byPath[vol.Path] = vol
	e.mu.Unlock()

	if err := e.persist(vol); err != nil {
		log.WithVolume(vol.Id).Warn().Err(err).Msg("failed to persist new volume record")
	}
	return vol, nil
}

// Destroy tears down and removes a volume. It refuses while any link
// still references the volume (§4.2.3 "conflict checking"), unless
// force is set.
func (e *Engine) Destroy(ctx context.Context, id string, force bool) error {
	e.mu.Lock()
	vol, ok := e.volumes[id]
	if !ok {
		e.mu.Unlock()
		return portoerr.New(portoerr.VolumeNotFound, "volume %s not found", id)
	}
	for _, link := range e.links {
		if link.VolumeId == id && !force {
			e.mu.Unlock()
			return portoerr.New(portoerr.VolumeAlreadyLinked, "volume %s still linked into %s", id, link.Container)
		}
	}
	e.mu.Unlock()

	backend, err := New(vol.Backend)
	if err != nil {
		return err
	}
	vol.State = types.VolumeDestroying
	if err := backend.Destroy(ctx, vol); err != nil {
		return fmt.Errorf("volume: destroy %s: %w", vol.Path, err)
	}
	vol.State = types.VolumeDestroyed

	place := backend.ClaimPlace(vol)
	e.mu.Lock()
	e.release(place, vol.SpaceLimit)
	delete(e.volumes, id)
	delete(e.byPath, vol.Path)
	for target, link := range e.links {
		if link.VolumeId == id {
			delete(e.links, target)
		}
	}
	e.mu.Unlock()

	return e.tree.Remove(id)
}

// Link records a link of volume id into container at target in the
// in-memory index, keyed by "<container>:<target>", which is also stored
// as the link's HostTarget. It mounts nothing.
func (e *Engine) Link(volID, container, target string, readOnly, required bool) (*types.VolumeLink, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	vol, ok := e.volumes[volID]
	if !ok {
		return nil, portoerr.New(portoerr.VolumeNotFound, "volume %s not found", volID)
	}
	hostTarget := container + ":" + target
	if _, exists := e.links[hostTarget]; exists {
		return nil, portoerr.New(portoerr.VolumeAlreadyLinked, "%s already has a volume at %s", container, target)
	}
	link := &types.VolumeLink{
		VolumeId:   volID,
		Container:  container,
		Target:     target,
		ReadOnly:   readOnly || vol.ReadOnly,
		Required:   required,
		HostTarget: hostTarget,
	}
	e.links[hostTarget] = link
	vol.VolumeMounts++
	return link, nil
}

// Unlink removes the link recorded for container/target. Returns
// VolumeNotLinked if no such link exists.
func (e *Engine) Unlink(container, target string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	hostTarget := container + ":" + target
	link, ok := e.links[hostTarget]
	if !ok {
		return portoerr.New(portoerr.VolumeNotLinked, "%s has no volume at %s", container, target)
	}
	delete(e.links, hostTarget)
	if vol, ok := e.volumes[link.VolumeId]; ok && vol.VolumeMounts > 0 {
		vol.VolumeMounts--
	}
	return nil
}

// Get returns the volume with the given id.
func (e *Engine) Get(id string) (*types.Volume, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.volumes[id]
	return v, ok
}

// ByPath returns the volume mounted at path.
func (e *Engine) ByPath(path string) (*types.Volume, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.byPath[path]
	return v, ok
}

// List returns every registered volume, sorted by Id for deterministic
// output.
func (e *Engine) List() []*types.Volume {
	vols := e.snapshotVolumes()
	sort.Slice(vols, func(i, j int) bool { return vols[i].Id < vols[j].Id })
	return vols
}

// LinksFor returns every link pointing at volume id.
func (e *Engine) LinksFor(id string) []*types.VolumeLink {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*types.VolumeLink
	for _, l := range e.links {
		if l.VolumeId == id {
			out = append(out, l)
		}
	}
	return out
}

func (e *Engine) snapshotVolumes() []*types.Volume {
	e.mu.RLock()
	defer e.mu.RUnlock()
	vols := make([]*types.Volume, 0, len(e.volumes))
	for _, v := range e.volumes {
		vols = append(vols, v)
	}
	return vols
}

// dependencyCheck records nesting between vol and the existing volumes:
// when vol's Path lies inside another volume's Path, that volume's id is
// added to vol.Nested and its HasDependentContainer is set; when another
// volume lies inside vol's Path, vol's id is added to that volume's
// Nested. It never rejects: it returns nil whatever the other volumes'
// backends or states.
func dependencyCheck(vol *types.Volume, existing []*types.Volume) error {
	for _, other := range existing {
		if other.Path == vol.Path {
			continue
		}
		if strings.HasPrefix(vol.Path, other.Path+"/") {
			vol.Nested = appendUnique(vol.Nested, other.Id)
			other.HasDependentContainer = true
		} else if strings.HasPrefix(other.Path, vol.Path+"/") {
			other.Nested = appendUnique(other.Nested, vol.Id)
		}
	}
	return nil
}

func appendUnique(list []string, id string) []string {
	for _, existing := range list {
		if existing == id {
			return list
		}
	}
	return append(list, id)
}

func (e *Engine) persist(vol *types.Volume) error {
	rec := kvstore.NewRecord()
	rec.Set("path", vol.Path)
	rec.Set("backend", string(vol.Backend))
	rec.Set("place", vol.Place)
	rec.Set("state", string(vol.State))
	rec.Set("storage", vol.StoragePath)
	rec.Set("internal", vol.InternalPath)
	rec.Set("space_limit", fmt.Sprint(vol.SpaceLimit))
	rec.Set("inode_limit", fmt.Sprint(vol.InodeLimit))
	rec.Set("read_only", fmt.Sprint(vol.ReadOnly))
	rec.Set("layers", strings.Join(vol.Layers, ";"))
	return e.tree.Save(vol.Id, rec)
}

// Restore reloads every persisted volume record, re-derives its backend,
// and runs Check on it, matching §4.2.4's startup sequence.
func (e *Engine) Restore(ctx context.Context) error {
	names, err := e.tree.List()
	if err != nil {
		return fmt.Errorf("volume: list persisted volumes: %w", err)
	}
	for _, name := range names {
		rec, err := e.tree.Load(name)
		if err != nil {
			log.WithVolume(name).Warn().Err(err).Msg("failed to load volume record")
			continue
		}
		vol := &types.Volume{Id: name}
		if v, ok := rec.Get("path"); ok {
			vol.Path = v
		}
		if v, ok := rec.Get("backend"); ok {
			vol.Backend = types.BackendKind(v)
		}
		if v, ok := rec.Get("place"); ok {
			vol.Place = v
		}
		if v, ok := rec.Get("storage"); ok {
			vol.StoragePath = v
		}
		if v, ok := rec.Get("internal"); ok {
			vol.InternalPath = v
		}
		backend, err := New(vol.Backend)
		if err != nil {
			log.WithVolume(name).Warn().Err(err).Msg("unknown backend, skipping restore")
			continue
		}
		if err := backend.Check(vol); err != nil {
			log.WithVolume(name).Warn().Err(err).Msg("volume failed consistency check on restore")
			vol.State = types.VolumeToDestroy
		} else {
			vol.State = types.VolumeReady
		}
		e.mu.Lock()
		e.volumes[vol.Id] = vol
		e.byPath[vol.Path] = vol
		e.mu.Unlock()
	}
	return nil
}
