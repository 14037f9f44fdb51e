package ecs

import (
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Classification tags what an address (or a classified kwarg) resolved
// to: the root of its containment tree, a non-root member of one, or a
// plain field value.
type Classification int

const (
	// ClassEntity is a resolved value that is itself a root entity.
	ClassEntity Classification = iota
	// ClassSubEntity is a resolved value that is a non-root entity.
	ClassSubEntity
	// ClassFieldValue is a resolved value that is not an entity at all.
	ClassFieldValue
)

func (c Classification) String() string {
	switch c {
	case ClassEntity:
		return "entity"
	case ClassSubEntity:
		return "sub_entity"
	case ClassFieldValue:
		return "field_value"
	default:
		return "unknown"
	}
}

// Address is the parsed form of "@<uuid>[.<seg>]*". Zero segments
// denotes the whole entity.
type Address struct {
	UUID     uuid.UUID
	Segments []string
}

// String renders addr back into "@uuid.seg.seg..." form.
func (addr Address) String() string {
	var sb strings.Builder
	sb.WriteByte('@')
	sb.WriteString(addr.UUID.String())
	for _, seg := range addr.Segments {
		sb.WriteByte('.')
		sb.WriteString(seg)
	}
	return sb.String()
}

// IsAddress reports whether value has the "@" prefix and a parseable
// UUID; it does not check whether the entity exists.
func IsAddress(value string) bool {
	_, err := Parse(value)
	return err == nil
}

// Parse reads "@<uuid>[.<seg>]*" into an Address, or fails with
// MalformedAddressError for a missing "@" prefix or an invalid UUID.
func Parse(address string) (Address, error) {
	if !strings.HasPrefix(address, "@") {
		return Address{}, &MalformedAddressError{Address: address, Reason: "missing '@' prefix"}
	}
	body := address[1:]
	if body == "" {
		return Address{}, &MalformedAddressError{Address: address, Reason: "empty address body"}
	}

	parts := strings.SplitN(body, ".", 2)
	id, err := uuid.Parse(parts[0])
	if err != nil {
		return Address{}, &MalformedAddressError{Address: address, Reason: "invalid uuid: " + err.Error()}
	}

	var segments []string
	if len(parts) > 1 && parts[1] != "" {
		segments = strings.Split(parts[1], ".")
	}
	return Address{UUID: id, Segments: segments}, nil
}

// Resolve walks addr against registry and returns the plain resolved
// value (an *Entity, a primitive, a []any, or a map[string]any).
func Resolve(registry *Registry, addr Address) (any, error) {
	value, _, err := ResolveAdvanced(registry, addr)
	return value, err
}

// ResolveAdvanced walks addr against registry and additionally reports
// whether the result is a root entity, a non-root entity, or a plain
// field value.
func ResolveAdvanced(registry *Registry, addr Address) (any, Classification, error) {
	root, err := registry.RootOf(addr.UUID)
	if err != nil {
		return nil, 0, &UnknownEntityError{ID: addr.UUID}
	}
	entity, err := registry.GetStoredEntity(root, addr.UUID)
	if err != nil {
		return nil, 0, err
	}

	var current any = entity
	consumed := make([]string, 0, len(addr.Segments))
	for _, seg := range addr.Segments {
		next, err := navigateSegment(current, seg, consumed, addr.String())
		if err != nil {
			return nil, 0, err
		}
		current = next
		consumed = append(consumed, seg)
	}

	return current, classifyResolved(current), nil
}

func navigateSegment(current any, seg string, consumed []string, address string) (any, error) {
	switch v := current.(type) {
	case *Entity:
		if v == nil {
			return nil, &BadPathError{Address: address, ConsumedSegments: consumed, FailedSegment: seg, Reason: "nil entity"}
		}
		if field, ok := v.Fields[seg]; ok {
			return field, nil
		}
		return nil, &BadPathError{Address: address, ConsumedSegments: consumed, FailedSegment: seg, Reason: "entity has no such field"}
	case []any:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= len(v) {
			return nil, &BadPathError{Address: address, ConsumedSegments: consumed, FailedSegment: seg, Reason: "index out of range or not numeric"}
		}
		return v[idx], nil
	case map[string]any:
		value, ok := v[seg]
		if !ok {
			return nil, &BadPathError{Address: address, ConsumedSegments: consumed, FailedSegment: seg, Reason: "no such key"}
		}
		return value, nil
	default:
		return nil, &BadPathError{Address: address, ConsumedSegments: consumed, FailedSegment: seg, Reason: "value is not navigable"}
	}
}

func classifyResolved(value any) Classification {
	if e, ok := value.(*Entity); ok && e != nil {
		if e.IsRoot() {
			return ClassEntity
		}
		return ClassSubEntity
	}
	return ClassFieldValue
}

// BatchResolve traverses a heterogeneous structure (nested []any,
// map[string]any, or primitives) and resolves every string that looks
// like an address in place, returning the resolved structure and the
// set of every ecs_id that was referenced.
func BatchResolve(registry *Registry, data any) (any, map[uuid.UUID]struct{}, error) {
	ids := make(map[uuid.UUID]struct{})
	resolved, err := batchResolveRecursive(registry, data, ids)
	if err != nil {
		return nil, nil, err
	}
	return resolved, ids, nil
}

func batchResolveRecursive(registry *Registry, data any, ids map[uuid.UUID]struct{}) (any, error) {
	switch v := data.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, elem := range v {
			resolved, err := batchResolveRecursive(registry, elem, ids)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			resolved, err := batchResolveRecursive(registry, elem, ids)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case string:
		if !IsAddress(v) {
			return v, nil
		}
		addr, err := Parse(v)
		if err != nil {
			return nil, err
		}
		value, err := Resolve(registry, addr)
		if err != nil {
			return nil, err
		}
		ids[addr.UUID] = struct{}{}
		return value, nil
	default:
		return v, nil
	}
}

// ReferenceResolver wraps BatchResolve with a running diagnostic log of
// address -> resolved ecs_id, for dependency-summary reporting.
type ReferenceResolver struct {
	registry         *Registry
	resolvedEntities map[uuid.UUID]struct{}
	resolutionMap    map[string]uuid.UUID
}

// NewReferenceResolver builds a resolver bound to registry.
func NewReferenceResolver(registry *Registry) *ReferenceResolver {
	return &ReferenceResolver{
		registry:         registry,
		resolvedEntities: make(map[uuid.UUID]struct{}),
		resolutionMap:    make(map[string]uuid.UUID),
	}
}

// ResolveReferences resolves every address found in data, tracking each
// one in the resolver's dependency summary.
func (rr *ReferenceResolver) ResolveReferences(data any) (any, map[uuid.UUID]struct{}, error) {
	rr.resolvedEntities = make(map[uuid.UUID]struct{})
	rr.resolutionMap = make(map[string]uuid.UUID)

	resolved, err := rr.resolveRecursive(data)
	if err != nil {
		return nil, nil, err
	}
	out := make(map[uuid.UUID]struct{}, len(rr.resolvedEntities))
	for id := range rr.resolvedEntities {
		out[id] = struct{}{}
	}
	return resolved, out, nil
}

func (rr *ReferenceResolver) resolveRecursive(data any) (any, error) {
	switch v := data.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, elem := range v {
			resolved, err := rr.resolveRecursive(elem)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			resolved, err := rr.resolveRecursive(elem)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case string:
		if !IsAddress(v) {
			return v, nil
		}
		addr, err := Parse(v)
		if err != nil {
			return nil, err
		}
		value, err := Resolve(rr.registry, addr)
		if err != nil {
			return nil, err
		}
		rr.resolvedEntities[addr.UUID] = struct{}{}
		rr.resolutionMap[v] = addr.UUID
		return value, nil
	default:
		return v, nil
	}
}

// DependencySummary reports resolution statistics and the address ->
// ecs_id mapping built by the most recent ResolveReferences call.
type DependencySummary struct {
	TotalEntitiesReferenced int
	EntityIDs               []uuid.UUID
	ResolutionMapping       map[string]uuid.UUID
}

// DependencySummary returns a snapshot of the resolver's bookkeeping.
func (rr *ReferenceResolver) DependencySummary() DependencySummary {
	ids := make([]uuid.UUID, 0, len(rr.resolvedEntities))
	for id := range rr.resolvedEntities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	mapping := make(map[string]uuid.UUID, len(rr.resolutionMap))
	for k, v := range rr.resolutionMap {
		mapping[k] = v
	}
	return DependencySummary{
		TotalEntitiesReferenced: len(ids),
		EntityIDs:               ids,
		ResolutionMapping:       mapping,
	}
}
