package ecs

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRecordsDirectFieldAsNoSource(t *testing.T) {
	r := NewRegistry()
	result, err := Create(r, "Query", map[string]any{"threshold": 3.5})
	require.NoError(t, err)
	assert.Equal(t, 3.5, result.Entity.Fields["threshold"])
	assert.Equal(t, NoSource, result.Entity.AttributeSource["threshold"])
}

func TestCreateBorrowingRoundTrip(t *testing.T) {
	r := NewRegistry()
	student := New("Student", map[string]any{"name": "Alice", "age": 20})
	student.PromoteToRoot()
	require.NoError(t, registerOK(r, student))

	result, err := Create(r, "Query", map[string]any{
		"name":      fmt.Sprintf("@%s.name", student.ECSID),
		"threshold": 3.5,
	})
	require.NoError(t, err)
	assert.Equal(t, "Alice", result.Entity.Fields["name"])
	assert.Equal(t, SingleSource(student.ECSID), result.Entity.AttributeSource["name"])
	assert.Equal(t, NoSource, result.Entity.AttributeSource["threshold"])
	assert.Contains(t, result.Dependencies, student.ECSID)
}

func TestCreateEntityValueRecordsOwnIDAsSource(t *testing.T) {
	r := NewRegistry()
	student := New("Student", map[string]any{"name": "Alice"})
	student.PromoteToRoot()

	result, err := Create(r, "Query", map[string]any{"student": student})
	require.NoError(t, err)
	resolved := result.Entity.Fields["student"].(*Entity)
	assert.Equal(t, student.ECSID, resolved.ECSID)
	assert.Equal(t, SingleSource(student.ECSID), result.Entity.AttributeSource["student"])
}

func TestCreateSubEntityAddressRecordsRootIDAsSource(t *testing.T) {
	r := NewRegistry()
	course := New("Course", map[string]any{"name": "Math"})
	record := New("Record", map[string]any{"courses": map[string]any{"math": course}})
	record.PromoteToRoot()
	require.NoError(t, registerOK(r, record))

	result, err := Create(r, "Query", map[string]any{
		"course": fmt.Sprintf("@%s.courses.math", record.ECSID),
	})
	require.NoError(t, err)

	resolved := result.Entity.Fields["course"].(*Entity)
	assert.Equal(t, "Math", resolved.Fields["name"])
	assert.NotEqual(t, record.ECSID, resolved.ECSID)
	assert.Equal(t, SingleSource(record.ECSID), result.Entity.AttributeSource["course"])
	assert.Contains(t, result.Dependencies, record.ECSID)
}

func TestCreateAndRegisterPromotesAndStores(t *testing.T) {
	r := NewRegistry()
	student := New("Student", map[string]any{"name": "Alice"})
	student.PromoteToRoot()
	require.NoError(t, registerOK(r, student))

	result, err := CreateAndRegister(r, "Query", map[string]any{
		"name": fmt.Sprintf("@%s.name", student.ECSID),
	})
	require.NoError(t, err)
	assert.True(t, r.Has(result.Entity.ECSID))
}
