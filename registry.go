package ecs

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// TypeDescriptor is the minimal entry the type index keeps per concrete
// entity type: its name and a zero-value factory, for diagnostics. The
// factory is set only through RegisterType; entries added when a
// snapshot is stored carry the name alone.
type TypeDescriptor struct {
	Name    string
	NewZero func() *Entity
}

// Registry is process-wide state over the cold snapshot store, the
// lineage index, and the live working copies. All mutating operations
// (Register, fork, index updates) are serialized under mu; reads may run
// concurrently with other reads.
type Registry struct {
	mu sync.RWMutex

	snapshots      map[uuid.UUID]*Entity // ecs_id -> cold Entity
	ecsIDToRootID  map[uuid.UUID]uuid.UUID
	lineages       map[uuid.UUID][]uuid.UUID // lineage_id -> ordered ecs_ids
	ecsIDToLineage map[uuid.UUID]uuid.UUID   // reverse index, internal only
	liveIDs        map[uuid.UUID]*Entity     // live_id -> warm Entity
	typeIndex      map[string]TypeDescriptor

	log *logrus.Entry
}

// RegistryOption configures a Registry at construction time.
type RegistryOption func(*Registry)

// WithLogger overrides the registry's logger; by default it uses the
// package default logger (see log.go).
func WithLogger(log *logrus.Entry) RegistryOption {
	return func(r *Registry) { r.log = log }
}

// NewRegistry constructs an empty registry. The default
// process-global instance is DefaultRegistry(), which lazily calls this.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		snapshots:      make(map[uuid.UUID]*Entity),
		ecsIDToRootID:  make(map[uuid.UUID]uuid.UUID),
		lineages:       make(map[uuid.UUID][]uuid.UUID),
		ecsIDToLineage: make(map[uuid.UUID]uuid.UUID),
		liveIDs:        make(map[uuid.UUID]*Entity),
		typeIndex:      make(map[string]TypeDescriptor),
		log:            defaultLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var (
	defaultRegistryOnce sync.Once
	defaultRegistryInst *Registry
)

// DefaultRegistry returns the process-wide singleton registry, created
// lazily on first use. Explicit teardown is Clear(), not a process exit
// hook: a single init on first use, with teardown left to the caller.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistryInst = NewRegistry()
	})
	return defaultRegistryInst
}

// RegisterType adds typeName to the type index.
func (r *Registry) RegisterType(typeName string, newZero func() *Entity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.typeIndex[typeName] = TypeDescriptor{Name: typeName, NewZero: newZero}
}

// TypeOf looks up a previously registered type descriptor.
func (r *Registry) TypeOf(typeName string) (TypeDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.typeIndex[typeName]
	return d, ok
}

// Register stores entity's containment tree in the registry. If
// entity.ECSID is already known and the warm copy has drifted from its
// cold snapshot, the fork algorithm runs first and entity (along with
// every affected dependent) is reassigned a new ecs_id in place.
// Otherwise the whole containment tree is deep-copied into cold
// snapshots and the four indices are updated. entity must be a root
// (entity.RootECSID == entity.ECSID); call PromoteToRoot first
// otherwise.
func (r *Registry) Register(entity *Entity) (*ForkResult, error) {
	if !entity.IsRoot() {
		return nil, &InvariantViolationError{Detail: "Register requires a root entity; call PromoteToRoot first"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, known := r.snapshots[entity.ECSID]; known {
		_, result, err := r.forkTree(entity)
		if err != nil {
			return nil, err
		}
		r.liveIDs[entity.LiveID] = entity
		if r.log != nil {
			r.log.WithField("root_ecs_id", entity.ECSID).Info("registered root via fork")
		}
		return result, nil
	}

	graph := BuildDependencyGraph(entity)
	for _, node := range graph.Nodes {
		r.storeSnapshotLocked(node.EntityRef, entity.ECSID)
	}
	r.liveIDs[entity.LiveID] = entity
	if r.log != nil {
		r.log.WithField("root_ecs_id", entity.ECSID).Info("registered new root")
	}
	return nil, nil
}

// storeSnapshotLocked deep-copies e into the cold store under its
// current ecs_id, extends its lineage, and points ecs_id_to_root_id at
// rootECSID. Callers must hold mu.
func (r *Registry) storeSnapshotLocked(e *Entity, rootECSID uuid.UUID) {
	snapshot := e.DeepCopy()
	snapshot.FromStorage = false
	r.snapshots[e.ECSID] = snapshot
	r.ecsIDToRootID[e.ECSID] = rootECSID
	r.ecsIDToLineage[e.ECSID] = e.LineageID
	r.lineages[e.LineageID] = append(r.lineages[e.LineageID], e.ECSID)
	if _, ok := r.typeIndex[e.TypeName]; !ok && e.TypeName != "" {
		r.typeIndex[e.TypeName] = TypeDescriptor{Name: e.TypeName}
	}
}

// Get returns a deep-copied warm working copy of ecs_id, with a fresh
// live_id and from_storage set to true, so callers may mutate freely
// without touching the snapshot.
func (r *Registry) Get(ecsID uuid.UUID) (*Entity, error) {
	r.mu.RLock()
	snapshot, ok := r.snapshots[ecsID]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownEntityError{ID: ecsID}
	}
	warm := snapshot.DeepCopy()
	warm.LiveID = uuid.New()
	warm.FromStorage = true
	return warm, nil
}

// GetCold returns the immutable cold snapshot for ecs_id, without
// copying it again — callers must treat the result as read-only.
func (r *Registry) GetCold(ecsID uuid.UUID) (*Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot, ok := r.snapshots[ecsID]
	if !ok {
		return nil, &UnknownEntityError{ID: ecsID}
	}
	return snapshot, nil
}

// GetStoredEntity returns the entity with the given ecs_id within the
// tree rooted at rootECSID, failing if ecs_id's recorded root does not
// match.
func (r *Registry) GetStoredEntity(rootECSID, ecsID uuid.UUID) (*Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	actualRoot, ok := r.ecsIDToRootID[ecsID]
	if !ok {
		return nil, &UnknownEntityError{ID: ecsID}
	}
	if actualRoot != rootECSID {
		return nil, &InvariantViolationError{Detail: "entity " + ecsID.String() + " does not belong to root " + rootECSID.String()}
	}
	snapshot, ok := r.snapshots[ecsID]
	if !ok {
		return nil, &UnknownEntityError{ID: ecsID}
	}
	return snapshot, nil
}

// GetLiveEntity returns the warm copy registered under live_id, if any
// is currently tracked.
func (r *Registry) GetLiveEntity(liveID uuid.UUID) (*Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.liveIDs[liveID]
	if !ok {
		return nil, &UnknownEntityError{ID: liveID}
	}
	return e, nil
}

// Has reports whether ecs_id has a cold snapshot.
func (r *Registry) Has(ecsID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.snapshots[ecsID]
	return ok
}

// RootOf returns the root ecs_id that owns ecsID's containment tree.
func (r *Registry) RootOf(ecsID uuid.UUID) (uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	root, ok := r.ecsIDToRootID[ecsID]
	if !ok {
		return uuid.UUID{}, &UnknownEntityError{ID: ecsID}
	}
	return root, nil
}

// LineageOf returns the ordered version history for lineageID, oldest
// first.
func (r *Registry) LineageOf(lineageID uuid.UUID) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions, ok := r.lineages[lineageID]
	if !ok {
		return nil, &UnknownEntityError{ID: lineageID}
	}
	out := make([]uuid.UUID, len(versions))
	copy(out, versions)
	return out, nil
}

// PromoteToRoot detaches target from its owner within the tree rooted at
// currentRootECSID and establishes target as the root of its own
// independent tree. It fails with UnknownEntityError if the live root or
// target is not found, and with InvariantViolationError if the owning
// field cannot be emptied (a direct *Entity field holding target without
// a surrounding slice or map — removing it would leave the field with no
// valid replacement).
func (r *Registry) PromoteToRoot(currentRootECSID uuid.UUID, target *Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	root, ok := r.findLiveRoot(currentRootECSID)
	if !ok {
		return &UnknownEntityError{ID: currentRootECSID}
	}

	graph := BuildDependencyGraph(root)
	if _, found := graph.Nodes[target.ECSID]; !found {
		return &UnknownEntityError{ID: target.ECSID}
	}

	detached := false
	for _, parentID := range graph.DependentsOf(target.ECSID) {
		owner := graph.Nodes[parentID].EntityRef
		ok, err := detachFromOwner(owner, target.ECSID)
		if err != nil {
			return err
		}
		if ok {
			detached = true
		}
	}
	if !detached {
		return &InvariantViolationError{Detail: "owner field does not permit removal of entity " + target.ECSID.String()}
	}

	target.PromoteToRoot()
	return nil
}

func (r *Registry) findLiveRoot(rootECSID uuid.UUID) (*Entity, bool) {
	for _, e := range r.liveIDs {
		if e.ECSID == rootECSID && e.IsRoot() {
			return e, true
		}
	}
	return nil, false
}

// detachFromOwner removes targetID from owner's Fields. A slice element
// or map entry can be removed; a bare direct *Entity field cannot be
// emptied without changing its type, so that case returns an error.
func detachFromOwner(owner *Entity, targetID uuid.UUID) (bool, error) {
	removedAny := false
	for name, value := range owner.Fields {
		switch v := value.(type) {
		case *Entity:
			if v != nil && v.ECSID == targetID {
				return false, &InvariantViolationError{
					Detail: "field " + name + " holds entity " + targetID.String() + " directly and cannot be emptied",
				}
			}
		case []any:
			out := make([]any, 0, len(v))
			changed := false
			for _, elem := range v {
				if child, ok := elem.(*Entity); ok && child != nil && child.ECSID == targetID {
					changed = true
					continue
				}
				out = append(out, elem)
			}
			if changed {
				owner.Fields[name] = out
				removedAny = true
			}
		case map[string]any:
			for key, elem := range v {
				if child, ok := elem.(*Entity); ok && child != nil && child.ECSID == targetID {
					delete(v, key)
					removedAny = true
				}
			}
		}
	}
	return removedAny, nil
}

// Clear discards all state. It is the only explicit teardown the
// registry provides — there is no persistence to invalidate.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = make(map[uuid.UUID]*Entity)
	r.ecsIDToRootID = make(map[uuid.UUID]uuid.UUID)
	r.lineages = make(map[uuid.UUID][]uuid.UUID)
	r.ecsIDToLineage = make(map[uuid.UUID]uuid.UUID)
	r.liveIDs = make(map[uuid.UUID]*Entity)
	r.typeIndex = make(map[string]TypeDescriptor)
	if r.log != nil {
		r.log.Debug("registry cleared")
	}
}

// AllRootIDs returns every currently-registered root ecs_id, sorted for
// deterministic iteration (used by diagnostics and tests).
func (r *Registry) AllRootIDs() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[uuid.UUID]bool)
	for ecsID, root := range r.ecsIDToRootID {
		if ecsID == root {
			seen[root] = true
		}
	}
	out := make([]uuid.UUID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
