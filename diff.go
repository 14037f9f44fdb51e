package ecs

import (
	"sort"
	"time"
)

// DiffResult reports whether a warm entity differs from its cold
// snapshot, and which fields changed.
type DiffResult struct {
	Significant   bool
	ChangedFields []string
}

// Diff compares warm against its cold snapshot cold, excluding the
// implementation fields (ecs_id, live_id, created_at, parent_id,
// old_ids, lineage_id, from_storage, root_ecs_id, root_live_id). A diff
// is significant iff at least one remaining field differs.
func Diff(warm, cold *Entity) DiffResult {
	var changed []string
	names := make(map[string]bool)
	for name := range warm.Fields {
		names[name] = true
	}
	for name := range cold.Fields {
		names[name] = true
	}
	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	for _, name := range sorted {
		wv, wok := warm.Fields[name]
		cv, cok := cold.Fields[name]
		if wok != cok {
			changed = append(changed, name)
			continue
		}
		if !fieldsEqual(wv, cv) {
			changed = append(changed, name)
		}
	}
	return DiffResult{Significant: len(changed) > 0, ChangedFields: changed}
}

func fieldsEqual(a, b any) bool {
	ae, aIsEntity := a.(*Entity)
	be, bIsEntity := b.(*Entity)
	if aIsEntity || bIsEntity {
		if !aIsEntity || !bIsEntity {
			return false
		}
		if ae == nil || be == nil {
			return ae == be
		}
		return ae.ECSID == be.ECSID
	}

	al, aIsList := a.([]any)
	bl, bIsList := b.([]any)
	if aIsList || bIsList {
		if !aIsList || !bIsList {
			return false
		}
		return listsEqual(al, bl)
	}

	am, aIsMap := a.(map[string]any)
	bm, bIsMap := b.(map[string]any)
	if aIsMap || bIsMap {
		if !aIsMap || !bIsMap {
			return false
		}
		return mapsEqual(am, bm)
	}

	at, aIsTime := a.(time.Time)
	bt, bIsTime := b.(time.Time)
	if aIsTime || bIsTime {
		if !aIsTime || !bIsTime {
			return false
		}
		return normalizeUTC(at).Equal(normalizeUTC(bt))
	}

	return a == b
}

func normalizeUTC(t time.Time) time.Time {
	if t.Location() == nil {
		return t.UTC()
	}
	return t.UTC()
}

// listsEqual treats order changes in a sequence of entities as
// non-modifying: equality is by multiset
// of ecs_id, not by position. Sequences of non-entities compare
// element-wise in order instead, since there is no identity to multiset
// over. A length mismatch is always reported as a difference.
func listsEqual(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	if _, ok := a[0].(*Entity); ok {
		return entityMultisetsEqual(a, b)
	}
	for i := range a {
		if !fieldsEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

func entityMultisetsEqual(a, b []any) bool {
	counts := make(map[string]int, len(a))
	for _, elem := range a {
		e, ok := elem.(*Entity)
		if !ok || e == nil {
			return false
		}
		counts[e.ECSID.String()]++
	}
	for _, elem := range b {
		e, ok := elem.(*Entity)
		if !ok || e == nil {
			return false
		}
		counts[e.ECSID.String()]--
	}
	for _, c := range counts {
		if c != 0 {
			return false
		}
	}
	return true
}

func mapsEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !fieldsEqual(av, bv) {
			return false
		}
	}
	return true
}
