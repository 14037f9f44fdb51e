package ecs

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// SourceKind distinguishes the shapes attribute_source can take for a
// single field: unsourced, a single origin entity, an origin per element
// of a list-valued field, or an origin per key of a map-valued field.
type SourceKind int

const (
	// SourceNone means the field's value was produced locally, not
	// borrowed or resolved from another entity.
	SourceNone SourceKind = iota
	// SourceSingle means the whole field traces to one source entity.
	SourceSingle
	// SourceList means the field holds a list and each element has its
	// own (possibly repeated) source entity, aligned by index.
	SourceList
	// SourceMap means the field holds a keyed mapping and each key has
	// its own source entity.
	SourceMap
)

// AttributeSource records where a field's value came from.
type AttributeSource struct {
	Kind   SourceKind
	Single uuid.UUID
	List   []uuid.UUID
	Map    map[string]uuid.UUID
}

// NoSource is the zero-value "locally produced" attribute source.
var NoSource = AttributeSource{Kind: SourceNone}

// SingleSource builds an AttributeSource pointing at one origin entity.
func SingleSource(id uuid.UUID) AttributeSource {
	return AttributeSource{Kind: SourceSingle, Single: id}
}

// Entity is a versioned node in the containment graph. Change detection
// (see Diff) compares Fields only; every other field, TypeName and
// AttributeSource included, is excluded from it.
type Entity struct {
	ECSID       uuid.UUID
	LiveID      uuid.UUID
	LineageID   uuid.UUID
	RootECSID   uuid.UUID
	RootLiveID  uuid.UUID
	ParentID    uuid.UUID
	OldIDs      []uuid.UUID
	CreatedAt   time.Time
	FromStorage bool

	// TypeName is the concrete entity type, used by the type index and
	// function-input assembly; it never changes across a lineage.
	TypeName string

	// AttributeSource maps field name to where its value was sourced
	// from. Every entry in Fields has a corresponding entry here.
	AttributeSource map[string]AttributeSource

	// Fields holds the user (component) data. A value may be a
	// primitive, a *Entity, an ordered []any (sequence, elements may be
	// *Entity), or a map[string]any (keyed mapping, values may be
	// *Entity). Set-valued fields are not handled: Diff, DeepCopy and
	// GetSubEntities recognize only the shapes listed here.
	Fields map[string]any
}

// IsRoot reports whether e owns its own containment tree.
func (e *Entity) IsRoot() bool {
	return e.RootECSID == e.ECSID
}

// IdentityKey is the (ecs_id, live_id) pair that distinguishes cold and
// warm copies of the same version.
type IdentityKey struct {
	ECSID  uuid.UUID
	LiveID uuid.UUID
}

// Identity returns e's identity key.
func (e *Entity) Identity() IdentityKey {
	return IdentityKey{ECSID: e.ECSID, LiveID: e.LiveID}
}

// Equal implements the identity equality rule: e1 == e2 iff both ecs_id
// and live_id match.
func (e *Entity) Equal(other *Entity) bool {
	if e == nil || other == nil {
		return e == other
	}
	return e.ECSID == other.ECSID && e.LiveID == other.LiveID
}

// New constructs an entity with fresh identifiers. Fields not present in
// initial are left absent from both Fields and AttributeSource; callers
// that add fields later must also record their source (see
// SetField/BorrowAttributeFrom).
func New(typeName string, initial map[string]any) *Entity {
	e := &Entity{
		ECSID:           uuid.New(),
		LiveID:          uuid.New(),
		LineageID:       uuid.New(),
		CreatedAt:       time.Now(),
		TypeName:        typeName,
		AttributeSource: make(map[string]AttributeSource),
		Fields:          make(map[string]any),
	}
	for name, value := range initial {
		e.Fields[name] = value
		e.AttributeSource[name] = NoSource
	}
	return e
}

// SetField assigns a locally-produced value, recording no provenance.
// Use BorrowAttributeFrom to set a field while tracking its source.
func (e *Entity) SetField(name string, value any) {
	e.Fields[name] = value
	e.AttributeSource[name] = NoSource
}

// PromoteToRoot marks e as the root of its own containment tree. It does
// not, by itself, detach e from a prior owner; callers that are
// promoting a sub-entity out of a live tree should use
// Registry.PromoteToRoot, which also performs the detach and fails with
// InvariantViolationError when the owner's field cannot be emptied.
func (e *Entity) PromoteToRoot() {
	e.RootECSID = e.ECSID
	e.RootLiveID = e.LiveID
}

// BorrowAttributeFrom copies the value of source.sourceField into
// self.targetField and records provenance. When the borrowed value is a
// sequence or keyed mapping, the recorded source is still one
// SingleSource for the whole field; no per-element SourceList or
// SourceMap entry is built, here or in Create.
func (e *Entity) BorrowAttributeFrom(source *Entity, sourceField, targetField string) error {
	value, ok := source.Fields[sourceField]
	if !ok {
		return &InputAssemblyError{Field: sourceField, Reason: "source has no such field"}
	}
	e.Fields[targetField] = value
	e.AttributeSource[targetField] = SingleSource(source.ECSID)
	return nil
}

// GetSubEntities returns the set of entities directly reachable by one
// field hop: a *Entity value, or a *Entity found inside a []any or
// map[string]any value. It never crosses AttributeSource or the root
// back-link fields, and it does not recurse past the first hop.
func (e *Entity) GetSubEntities() []*Entity {
	seen := make(map[uuid.UUID]*Entity)
	for _, value := range e.Fields {
		collectOneHopEntities(value, seen)
	}
	out := make([]*Entity, 0, len(seen))
	for _, child := range seen {
		out = append(out, child)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ECSID.String() < out[j].ECSID.String() })
	return out
}

func collectOneHopEntities(value any, seen map[uuid.UUID]*Entity) {
	switch v := value.(type) {
	case *Entity:
		if v != nil {
			seen[v.ECSID] = v
		}
	case []any:
		for _, elem := range v {
			if child, ok := elem.(*Entity); ok && child != nil {
				seen[child.ECSID] = child
			}
		}
	case map[string]any:
		for _, elem := range v {
			if child, ok := elem.(*Entity); ok && child != nil {
				seen[child.ECSID] = child
			}
		}
	}
}

// IdentityHashMode selects how deep ComputeIdentityHash folds in state.
type IdentityHashMode int

const (
	// HashDefault hashes only ecs_id.
	HashDefault IdentityHashMode = iota
	// HashAttributes folds in the user-field values.
	HashAttributes
	// HashContainment also folds in child entity hashes (used by change
	// detection); cyclic containment is broken by tracking visited ids.
	HashContainment
)

// ComputeIdentityHash returns a stable hex digest for e under mode.
func (e *Entity) ComputeIdentityHash(mode IdentityHashMode) string {
	h := sha256.New()
	h.Write([]byte(e.ECSID.String()))
	if mode == HashDefault {
		return hex.EncodeToString(h.Sum(nil))
	}
	writeFieldDigest(h, e.Fields)
	if mode == HashContainment {
		visited := map[uuid.UUID]bool{e.ECSID: true}
		for _, child := range e.GetSubEntities() {
			writeContainmentDigest(h, child, visited)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeContainmentDigest(h interface{ Write([]byte) (int, error) }, e *Entity, visited map[uuid.UUID]bool) {
	if visited[e.ECSID] {
		// Cycle: fold in the id only, do not recurse again.
		h.Write([]byte("cycle:" + e.ECSID.String()))
		return
	}
	visited[e.ECSID] = true
	h.Write([]byte(e.ECSID.String()))
	writeFieldDigest(h, e.Fields)
	for _, child := range e.GetSubEntities() {
		writeContainmentDigest(h, child, visited)
	}
}

func writeFieldDigest(h interface{ Write([]byte) (int, error) }, fields map[string]any) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		h.Write([]byte(name))
		h.Write([]byte(fieldValueDigest(fields[name])))
	}
}

func fieldValueDigest(value any) string {
	switch v := value.(type) {
	case *Entity:
		if v == nil {
			return "nil"
		}
		return "entity:" + v.ECSID.String()
	case []any:
		parts := make([]string, len(v))
		for i, elem := range v {
			parts[i] = fieldValueDigest(elem)
		}
		return fmt.Sprintf("list:%v", parts)
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + fieldValueDigest(v[k])
		}
		return fmt.Sprintf("map:%v", parts)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// DeepCopy produces an independent clone of e, including nested entities,
// used when taking a cold snapshot or rehydrating a warm copy. It does
// not assign new identifiers; callers that need a fresh live_id (warm
// rehydration) or a fresh ecs_id (fork) do so after cloning.
func (e *Entity) DeepCopy() *Entity {
	return e.deepCopyWith(make(map[uuid.UUID]*Entity))
}

func (e *Entity) deepCopyWith(cloned map[uuid.UUID]*Entity) *Entity {
	if existing, ok := cloned[e.ECSID]; ok {
		return existing
	}
	clone := &Entity{
		ECSID:           e.ECSID,
		LiveID:          e.LiveID,
		LineageID:       e.LineageID,
		RootECSID:       e.RootECSID,
		RootLiveID:      e.RootLiveID,
		ParentID:        e.ParentID,
		OldIDs:          append([]uuid.UUID(nil), e.OldIDs...),
		CreatedAt:       e.CreatedAt,
		FromStorage:     e.FromStorage,
		TypeName:        e.TypeName,
		AttributeSource: make(map[string]AttributeSource, len(e.AttributeSource)),
		Fields:          make(map[string]any, len(e.Fields)),
	}
	cloned[e.ECSID] = clone
	for k, v := range e.AttributeSource {
		cp := v
		cp.List = append([]uuid.UUID(nil), v.List...)
		if v.Map != nil {
			cp.Map = make(map[string]uuid.UUID, len(v.Map))
			for mk, mv := range v.Map {
				cp.Map[mk] = mv
			}
		}
		clone.AttributeSource[k] = cp
	}
	for k, v := range e.Fields {
		clone.Fields[k] = deepCopyValue(v, cloned)
	}
	return clone
}

func deepCopyValue(value any, cloned map[uuid.UUID]*Entity) any {
	switch v := value.(type) {
	case *Entity:
		if v == nil {
			return v
		}
		return v.deepCopyWith(cloned)
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = deepCopyValue(elem, cloned)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, elem := range v {
			out[k] = deepCopyValue(elem, cloned)
		}
		return out
	default:
		return v
	}
}
