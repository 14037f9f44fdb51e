package ecs

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ForkResult summarizes one fork pass: which entities were reassigned a
// new ecs_id, in the topological order they were processed.
type ForkResult struct {
	Forked []ForkedEntity
}

// ForkedEntity records one entity's old/new identity from a single fork
// pass.
type ForkedEntity struct {
	OldECSID uuid.UUID
	NewECSID uuid.UUID
	Entity   *Entity
}

// forkTree runs change detection and forking against warmRoot. Entities
// not yet present in the registry are treated as new
// (stored as-is, no identity reassignment); entities already registered
// whose fields drifted from their cold snapshot are forked: their
// transitive dependents are pulled in too, so parents always see
// already-forked children, and the whole batch is processed leaves
// first. Because containment here is real pointers (not copied ids),
// mutating a forked entity's ECSID in place is visible to every live
// parent immediately; the remaining rewrite work is limited to
// AttributeSource entries, which store plain uuid values.
func (r *Registry) forkTree(warmRoot *Entity) (*Entity, *ForkResult, error) {
	graph := BuildDependencyGraph(warmRoot)

	newEntities := make(map[uuid.UUID]*Entity)
	changed := make(map[uuid.UUID]bool)

	for id, node := range graph.Nodes {
		cold, ok := r.snapshots[id]
		if !ok {
			newEntities[id] = node.EntityRef
			continue
		}
		if Diff(node.EntityRef, cold).Significant {
			changed[id] = true
		}
	}

	// Pull in transitive dependents of every changed entity: a parent
	// whose child forked must itself fork, because its own field value
	// (the child reference) effectively changed identity.
	for id := range changed {
		for _, dep := range graph.TransitiveDependents(id) {
			if _, isNew := newEntities[dep]; isNew {
				continue
			}
			if _, ok := r.snapshots[dep]; ok {
				changed[dep] = true
			}
		}
	}

	order := graph.TopologicalOrder()

	oldToNew := make(map[uuid.UUID]uuid.UUID)
	var result ForkResult

	for _, id := range order {
		if !changed[id] {
			continue
		}
		node := graph.Nodes[id]
		e := node.EntityRef
		old := e.ECSID
		e.OldIDs = append(e.OldIDs, old)
		e.ParentID = old
		e.ECSID = uuid.New()
		e.CreatedAt = time.Now()
		e.FromStorage = false
		oldToNew[old] = e.ECSID
		result.Forked = append(result.Forked, ForkedEntity{OldECSID: old, NewECSID: e.ECSID, Entity: e})

		if r.log != nil {
			r.log.WithFields(logrus.Fields{"old_ecs_id": old, "new_ecs_id": e.ECSID, "type": e.TypeName}).Debug("forked entity")
		}
	}

	// Rewrite AttributeSource references to ids that moved during this
	// pass, across every entity in the subtree (changed, new, and
	// unchanged alike — any of them might record provenance pointing at
	// an entity that just forked).
	allEntities := make([]*Entity, 0, len(graph.Nodes))
	for _, node := range graph.Nodes {
		allEntities = append(allEntities, node.EntityRef)
	}
	for _, e := range allEntities {
		if err := r.rewriteAttributeSources(e, oldToNew); err != nil {
			return nil, nil, err
		}
	}

	// Every entity in the tree that already carries a root back-link
	// points it at the root's current (possibly just forked) identity;
	// entities whose back-link was never set are left without one.
	newRootECSID := warmRoot.ECSID
	newRootLiveID := warmRoot.LiveID
	for _, e := range allEntities {
		if e.RootECSID != (uuid.UUID{}) {
			e.RootECSID = newRootECSID
			e.RootLiveID = newRootLiveID
		}
	}
	if warmRoot.IsRoot() || warmRoot.RootECSID == newRootECSID {
		warmRoot.RootECSID = newRootECSID
		warmRoot.RootLiveID = newRootLiveID
	}

	// Store cold snapshots and extend lineages for everything that
	// forked or is brand new; update ecs_id_to_root_id for every new id.
	for _, fe := range result.Forked {
		r.storeSnapshotLocked(fe.Entity, newRootECSID)
	}
	for _, e := range newEntities {
		r.storeSnapshotLocked(e, newRootECSID)
	}

	return warmRoot, &result, nil
}

// rewriteAttributeSources fixes up e's provenance entries that still
// point at an id which moved during this fork pass (oldToNew), or at an
// id that moved during an earlier pass (resolved via the lineage→latest
// map). An id with no lineage at all is a corrupt reference.
func (r *Registry) rewriteAttributeSources(e *Entity, oldToNew map[uuid.UUID]uuid.UUID) error {
	for field, src := range e.AttributeSource {
		switch src.Kind {
		case SourceSingle:
			resolved, err := r.resolveMovedID(src.Single, oldToNew)
			if err != nil {
				return err
			}
			src.Single = resolved
		case SourceList:
			for i, id := range src.List {
				resolved, err := r.resolveMovedID(id, oldToNew)
				if err != nil {
					return err
				}
				src.List[i] = resolved
			}
		case SourceMap:
			for k, id := range src.Map {
				resolved, err := r.resolveMovedID(id, oldToNew)
				if err != nil {
					return err
				}
				src.Map[k] = resolved
			}
		}
		e.AttributeSource[field] = src
	}
	return nil
}

func (r *Registry) resolveMovedID(id uuid.UUID, oldToNew map[uuid.UUID]uuid.UUID) (uuid.UUID, error) {
	if id == (uuid.UUID{}) {
		return id, nil
	}
	if newer, ok := oldToNew[id]; ok {
		return r.resolveMovedID(newer, oldToNew)
	}
	if _, ok := r.snapshots[id]; ok {
		return id, nil
	}
	// Not live under this id: chase the lineage to its current tip.
	lineageID, ok := r.ecsIDToLineage[id]
	if !ok {
		return uuid.UUID{}, &UnknownVersionError{ECSID: id}
	}
	versions := r.lineages[lineageID]
	if len(versions) == 0 {
		return uuid.UUID{}, &InvariantViolationError{Detail: "lineage " + lineageID.String() + " has no versions"}
	}
	return versions[len(versions)-1], nil
}
