package ecs

import (
	"sort"

	"github.com/google/uuid"
)

// CompositeResult is the outcome of building an entity from a field ->
// value|address|entity mapping: the assembled entity, the per-field
// classification, and the set of every live entity touched while
// resolving it.
type CompositeResult struct {
	Entity         *Entity
	Classification map[string]KwargClassification
	Dependencies   []uuid.UUID
}

// Create builds a new entity of typeName from mapping: each
// value is classified, addresses are resolved, the resolved values
// populate the target's fields, and attribute_source is populated from
// the source id (address-valued kwargs, whether they navigate to an
// entity, a sub-entity, or a bare field value, all record the address's
// leading/root uuid, not the navigated value's own ecs_id; entity/
// sub-entity kwargs record the value's own ecs_id; direct values get
// NoSource).
func Create(registry *Registry, typeName string, mapping map[string]any) (*CompositeResult, error) {
	_, classification, err := ClassifyKwargs(registry, mapping)
	if err != nil {
		return nil, err
	}

	target := New(typeName, nil)
	deps := make(map[uuid.UUID]struct{})

	for name, raw := range mapping {
		label := classification[name].Label
		switch label {
		case LabelDirect:
			target.Fields[name] = raw
			target.AttributeSource[name] = NoSource
		case LabelEntity, LabelSubEntity:
			e := raw.(*Entity)
			target.Fields[name] = e
			target.AttributeSource[name] = SingleSource(e.ECSID)
			deps[e.RootECSID] = struct{}{}
		case LabelEntityAddress, LabelSubEntityAddress, LabelFieldAddress:
			addrStr := raw.(string)
			addr, parseErr := Parse(addrStr)
			if parseErr != nil {
				return nil, parseErr
			}
			value, resolveErr := Resolve(registry, addr)
			if resolveErr != nil {
				return nil, resolveErr
			}
			target.Fields[name] = value
			target.AttributeSource[name] = SingleSource(addr.UUID)
			deps[addr.UUID] = struct{}{}
			if root, rootErr := registry.RootOf(addr.UUID); rootErr == nil {
				deps[root] = struct{}{}
			}
		}
	}

	depList := make([]uuid.UUID, 0, len(deps))
	for id := range deps {
		depList = append(depList, id)
	}
	sort.Slice(depList, func(i, j int) bool { return depList[i].String() < depList[j].String() })

	return &CompositeResult{Entity: target, Classification: classification, Dependencies: depList}, nil
}

// CreateAndRegister builds the composite via Create, then promotes it to
// root and registers it; split out so callers that want an ephemeral
// (unregistered) input entity can call Create alone.
func CreateAndRegister(registry *Registry, typeName string, mapping map[string]any) (*CompositeResult, error) {
	result, err := Create(registry, typeName, mapping)
	if err != nil {
		return nil, err
	}
	result.Entity.PromoteToRoot()
	if _, err := registry.Register(result.Entity); err != nil {
		return nil, err
	}
	return result, nil
}
