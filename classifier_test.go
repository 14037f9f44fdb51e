package ecs

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyKwargsLabelsEntityVsSubEntity(t *testing.T) {
	r := NewRegistry()
	course := New("Course", nil)
	record := New("Record", map[string]any{"course": course})
	record.PromoteToRoot()
	require.NoError(t, registerOK(r, record))

	pattern, classification, err := ClassifyKwargs(r, map[string]any{
		"record": record,
		"course": course,
	})
	require.NoError(t, err)
	assert.Equal(t, LabelEntity, classification["record"].Label)
	assert.Equal(t, LabelSubEntity, classification["course"].Label)
	assert.Equal(t, PatternMixed, pattern) // record is root-entity kwarg, course is sub-entity kwarg
}

func TestClassifyKwargsPureTransactionalWhenOnlyRootEntities(t *testing.T) {
	r := NewRegistry()
	student := New("Student", nil)
	student.PromoteToRoot()
	require.NoError(t, registerOK(r, student))

	pattern, _, err := ClassifyKwargs(r, map[string]any{"student": student})
	require.NoError(t, err)
	assert.Equal(t, PatternPureTransactional, pattern)
}

func TestClassifyKwargsPureBorrowingWhenOnlyAddresses(t *testing.T) {
	r := NewRegistry()
	student := New("Student", map[string]any{"name": "Alice"})
	student.PromoteToRoot()
	require.NoError(t, registerOK(r, student))

	pattern, classification, err := ClassifyKwargs(r, map[string]any{
		"name": fmt.Sprintf("@%s.name", student.ECSID),
	})
	require.NoError(t, err)
	assert.Equal(t, PatternPureBorrowing, pattern)
	assert.Equal(t, LabelFieldAddress, classification["name"].Label)
}

func TestClassifyKwargsDirectForPlainValues(t *testing.T) {
	r := NewRegistry()
	pattern, classification, err := ClassifyKwargs(r, map[string]any{"threshold": 3.5})
	require.NoError(t, err)
	assert.Equal(t, PatternDirect, pattern)
	assert.Equal(t, LabelDirect, classification["threshold"].Label)
}

func TestClassifyKwargsEntityAddressLabel(t *testing.T) {
	r := NewRegistry()
	student := New("Student", nil)
	student.PromoteToRoot()
	require.NoError(t, registerOK(r, student))

	_, classification, err := ClassifyKwargs(r, map[string]any{
		"who": fmt.Sprintf("@%s", student.ECSID),
	})
	require.NoError(t, err)
	assert.Equal(t, LabelEntityAddress, classification["who"].Label)
}

func TestClassifyKwargsMalformedAddressSurfacesAsInputAssemblyError(t *testing.T) {
	r := NewRegistry()
	_, _, err := ClassifyKwargs(r, map[string]any{"who": "@not-a-uuid"})
	require.Error(t, err)
	var target *InputAssemblyError
	assert.ErrorAs(t, err, &target)
}
