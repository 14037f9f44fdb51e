package ecs

import "github.com/google/uuid"

// Put registers entity (a root) against DefaultRegistry and returns its
// current ecs_id, forking in place if it was already known and has
// drifted. This is the package-level convenience form of Registry.Register
// for callers that do not need an explicit Registry value.
func Put(entity *Entity) (uuid.UUID, error) {
	if _, err := DefaultRegistry().Register(entity); err != nil {
		return uuid.UUID{}, err
	}
	return entity.ECSID, nil
}

// Get returns a warm working copy of ecsID from DefaultRegistry.
func Get(ecsID uuid.UUID) (*Entity, error) {
	return DefaultRegistry().Get(ecsID)
}
