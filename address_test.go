package ecs

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTripsThroughString(t *testing.T) {
	id := uuid.New()
	addr, err := Parse(fmt.Sprintf("@%s.grades.1", id))
	require.NoError(t, err)
	assert.Equal(t, id, addr.UUID)
	assert.Equal(t, []string{"grades", "1"}, addr.Segments)
	assert.Equal(t, fmt.Sprintf("@%s.grades.1", id), addr.String())
}

func TestParseRejectsMissingPrefix(t *testing.T) {
	_, err := Parse(uuid.New().String())
	require.Error(t, err)
	var target *MalformedAddressError
	assert.ErrorAs(t, err, &target)
}

func TestParseRejectsInvalidUUID(t *testing.T) {
	_, err := Parse("@not-a-uuid")
	require.Error(t, err)
	var target *MalformedAddressError
	assert.ErrorAs(t, err, &target)
}

func TestIsAddressDistinguishesAddressesFromPlainStrings(t *testing.T) {
	assert.False(t, IsAddress("plain"))
	assert.True(t, IsAddress("@"+uuid.New().String()))
}

func TestResolveAdvancedNavigatesContainers(t *testing.T) {
	r := NewRegistry()
	course := New("Course", map[string]any{"title": "Algebra"})
	record := New("Record", map[string]any{
		"grades":  []any{3.8, 3.9, 4.0},
		"courses": map[string]any{"math": course},
	})
	record.PromoteToRoot()
	require.NoError(t, registerOK(r, record))

	addr, err := Parse(fmt.Sprintf("@%s.grades.1", record.ECSID))
	require.NoError(t, err)
	value, class, err := ResolveAdvanced(r, addr)
	require.NoError(t, err)
	assert.Equal(t, 3.9, value)
	assert.Equal(t, ClassFieldValue, class)

	addr2, err := Parse(fmt.Sprintf("@%s.courses.math", record.ECSID))
	require.NoError(t, err)
	value2, class2, err := ResolveAdvanced(r, addr2)
	require.NoError(t, err)
	resolved, ok := value2.(*Entity)
	require.True(t, ok)
	assert.Equal(t, course.ECSID, resolved.ECSID)
	assert.Equal(t, ClassSubEntity, class2)
}

func TestResolveAdvancedEmptySegmentsClassifiesRoot(t *testing.T) {
	r := NewRegistry()
	e := New("Student", nil)
	e.PromoteToRoot()
	require.NoError(t, registerOK(r, e))

	addr, err := Parse("@" + e.ECSID.String())
	require.NoError(t, err)
	_, class, err := ResolveAdvanced(r, addr)
	require.NoError(t, err)
	assert.Equal(t, ClassEntity, class)
}

func TestResolveFailsWithBadPathOnUnknownField(t *testing.T) {
	r := NewRegistry()
	e := New("Student", map[string]any{"name": "Alice"})
	e.PromoteToRoot()
	require.NoError(t, registerOK(r, e))

	addr, err := Parse(fmt.Sprintf("@%s.gpa", e.ECSID))
	require.NoError(t, err)
	_, err = Resolve(r, addr)
	require.Error(t, err)
	var target *BadPathError
	assert.ErrorAs(t, err, &target)
}

func TestBatchResolveCollectsReferencedIDs(t *testing.T) {
	r := NewRegistry()
	student := New("Student", map[string]any{"name": "Alice"})
	student.PromoteToRoot()
	require.NoError(t, registerOK(r, student))

	data := map[string]any{
		"label": "plain",
		"who":   fmt.Sprintf("@%s.name", student.ECSID),
	}
	resolved, ids, err := BatchResolve(r, data)
	require.NoError(t, err)
	out := resolved.(map[string]any)
	assert.Equal(t, "Alice", out["who"])
	assert.Contains(t, ids, student.ECSID)
}

func TestReferenceResolverDependencySummary(t *testing.T) {
	r := NewRegistry()
	student := New("Student", map[string]any{"name": "Alice"})
	student.PromoteToRoot()
	require.NoError(t, registerOK(r, student))

	rr := NewReferenceResolver(r)
	addr := fmt.Sprintf("@%s.name", student.ECSID)
	_, _, err := rr.ResolveReferences(map[string]any{"who": addr})
	require.NoError(t, err)

	summary := rr.DependencySummary()
	assert.Equal(t, 1, summary.TotalEntitiesReferenced)
	assert.Equal(t, student.ECSID, summary.ResolutionMapping[addr])
}
