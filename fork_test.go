package ecs

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForkOnInPlaceEditReassignsIDAndExtendsLineage(t *testing.T) {
	r := NewRegistry()
	student := New("Student", map[string]any{"name": "Alice", "age": 20})
	student.PromoteToRoot()
	require.NoError(t, registerOK(r, student))

	oldID := student.ECSID
	student.Fields["age"] = 21
	_, err := r.Register(student)
	require.NoError(t, err)

	assert.NotEqual(t, oldID, student.ECSID)
	assert.Equal(t, oldID, student.ParentID)
	assert.Contains(t, student.OldIDs, oldID)

	lineage, err := r.LineageOf(student.LineageID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{oldID, student.ECSID}, lineage)

	cold, err := r.GetCold(oldID)
	require.NoError(t, err)
	assert.Equal(t, 20, cold.Fields["age"])
}

func TestForkPropagatesThroughNestedContainment(t *testing.T) {
	r := NewRegistry()
	course := New("Course", map[string]any{"value": 1})
	record := New("Record", map[string]any{"course": course})
	record.PromoteToRoot()
	require.NoError(t, registerOK(r, record))

	oldRecordID, oldCourseID := record.ECSID, course.ECSID
	course.Fields["value"] = 2
	_, err := r.Register(record)
	require.NoError(t, err)

	assert.NotEqual(t, oldCourseID, course.ECSID)
	assert.NotEqual(t, oldRecordID, record.ECSID)

	newCourse := record.Fields["course"].(*Entity)
	assert.Equal(t, course.ECSID, newCourse.ECSID)

	oldCold, err := r.GetCold(oldRecordID)
	require.NoError(t, err)
	oldChild := oldCold.Fields["course"].(*Entity)
	assert.Equal(t, oldCourseID, oldChild.ECSID)
}

func TestForkLeavesUnchangedEntitiesAlone(t *testing.T) {
	r := NewRegistry()
	a := New("Course", map[string]any{"value": 1})
	b := New("Course", map[string]any{"value": 2})
	record := New("Record", map[string]any{"a": a, "b": b})
	record.PromoteToRoot()
	require.NoError(t, registerOK(r, record))

	bID := b.ECSID
	a.Fields["value"] = 99
	_, err := r.Register(record)
	require.NoError(t, err)

	assert.Equal(t, bID, b.ECSID, "fork minimality: untouched entity keeps its ecs_id")
}

func registerOK(r *Registry, e *Entity) error {
	_, err := r.Register(e)
	return err
}
