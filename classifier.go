package ecs

import "github.com/google/uuid"

// KwargLabel is the per-argument classification used by the callable
// registry's input assembly.
type KwargLabel int

const (
	// LabelEntity is a value that is itself an *Entity whose root_ecs_id
	// equals its own ecs_id.
	LabelEntity KwargLabel = iota
	// LabelSubEntity is an *Entity whose root_ecs_id differs from its
	// own ecs_id.
	LabelSubEntity
	// LabelEntityAddress is a string address that resolves to a root
	// entity.
	LabelEntityAddress
	// LabelSubEntityAddress is a string address that resolves to a
	// non-root entity.
	LabelSubEntityAddress
	// LabelFieldAddress is a string address that resolves to a
	// non-entity value.
	LabelFieldAddress
	// LabelDirect is any other primitive value.
	LabelDirect
)

func (l KwargLabel) String() string {
	switch l {
	case LabelEntity:
		return "entity"
	case LabelSubEntity:
		return "sub_entity"
	case LabelEntityAddress:
		return "entity_address"
	case LabelSubEntityAddress:
		return "sub_entity_address"
	case LabelFieldAddress:
		return "field_address"
	case LabelDirect:
		return "direct"
	default:
		return "unknown"
	}
}

// Pattern is the overall shape of a call's kwargs.
type Pattern string

const (
	PatternDirect                 Pattern = "direct"
	PatternPureTransactional      Pattern = "pure_transactional"
	PatternPureBorrowing          Pattern = "pure_borrowing"
	PatternMixed                  Pattern = "mixed"
	PatternSubEntityTransactional Pattern = "sub_entity_transactional"
)

// KwargClassification carries the coarse label plus resolution metadata
// useful for diagnostics: the resolved root id for entity-typed kwargs,
// or the address string for address-typed ones. Mirrors the original
// implementation's classify_kwargs_advanced.
type KwargClassification struct {
	Label          KwargLabel
	ResolvedRootID uuid.UUID
	Address        string
}

// ClassifyKwargs labels every kwarg and derives the overall call
// pattern. String values that parse as addresses are resolved against
// registry to determine entity vs sub_entity vs field_value; resolution
// failures surface as InputAssemblyError, matching the contract that
// input-assembly failures are raised before any execution entity is
// written.
func ClassifyKwargs(registry *Registry, kwargs map[string]any) (Pattern, map[string]KwargClassification, error) {
	classification := make(map[string]KwargClassification, len(kwargs))

	var entityCount, subEntityCount, addressCount, directCount int

	for name, value := range kwargs {
		switch v := value.(type) {
		case *Entity:
			if v == nil {
				classification[name] = KwargClassification{Label: LabelDirect}
				directCount++
				continue
			}
			if v.IsRoot() {
				entityCount++
				classification[name] = KwargClassification{Label: LabelEntity, ResolvedRootID: v.ECSID}
			} else {
				subEntityCount++
				classification[name] = KwargClassification{Label: LabelSubEntity, ResolvedRootID: v.RootECSID}
			}
		case string:
			if !IsAddress(v) {
				directCount++
				classification[name] = KwargClassification{Label: LabelDirect}
				continue
			}
			addr, err := Parse(v)
			if err != nil {
				return "", nil, &InputAssemblyError{Field: name, Reason: err.Error()}
			}
			_, class, err := ResolveAdvanced(registry, addr)
			if err != nil {
				return "", nil, &InputAssemblyError{Field: name, Reason: err.Error()}
			}
			addressCount++
			switch class {
			case ClassEntity:
				classification[name] = KwargClassification{Label: LabelEntityAddress, Address: v, ResolvedRootID: addr.UUID}
			case ClassSubEntity:
				classification[name] = KwargClassification{Label: LabelSubEntityAddress, Address: v}
			default:
				classification[name] = KwargClassification{Label: LabelFieldAddress, Address: v}
			}
		default:
			directCount++
			classification[name] = KwargClassification{Label: LabelDirect}
		}
	}

	return derivePattern(entityCount, subEntityCount, addressCount, directCount), classification, nil
}

// derivePattern maps the per-kwarg entity/sub_entity/address/direct
// tallies to the overall call pattern: when every kwarg falls
// into the same one of those four kinds the call gets that kind's pure
// label (direct, pure_transactional, pure_borrowing,
// sub_entity_transactional); a call mixing two or more kinds — including
// addresses alongside plain direct values — is mixed.
func derivePattern(entityCount, subEntityCount, addressCount, directCount int) Pattern {
	kinds := 0
	if entityCount > 0 {
		kinds++
	}
	if subEntityCount > 0 {
		kinds++
	}
	if addressCount > 0 {
		kinds++
	}
	if directCount > 0 {
		kinds++
	}
	switch {
	case kinds == 0:
		return PatternDirect
	case kinds > 1:
		return PatternMixed
	case entityCount > 0:
		return PatternPureTransactional
	case addressCount > 0:
		return PatternPureBorrowing
	case subEntityCount > 0:
		return PatternSubEntityTransactional
	default:
		return PatternDirect
	}
}
