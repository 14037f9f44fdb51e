package ecs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAnalyzeRegistry(t *testing.T) (*Registry, *CallableRegistry, *Entity, *Entity) {
	t.Helper()
	storage := NewRegistry()
	student := New("Student", map[string]any{"name": "Alice"})
	student.PromoteToRoot()
	require.NoError(t, registerOK(storage, student))

	record := New("Record", map[string]any{"grades": []any{3.8, 3.9, 4.0}})
	record.PromoteToRoot()
	require.NoError(t, registerOK(storage, record))

	callables := NewCallableRegistry(storage)
	callables.Register("analyze", []string{"name", "grades", "threshold"}, "Result",
		func(_ context.Context, input *Entity) (any, error) {
			grades := input.Fields["grades"].([]any)
			var sum float64
			for _, g := range grades {
				sum += g.(float64)
			}
			result := New("Result", map[string]any{
				"name":    input.Fields["name"],
				"average": sum / float64(len(grades)),
			})
			return result, nil
		})
	return storage, callables, student, record
}

func TestExecuteMixedPatternProducesResultAndExecution(t *testing.T) {
	storage, callables, student, record := newAnalyzeRegistry(t)

	output, exec, err := callables.Execute(context.Background(), "analyze", map[string]any{
		"name":      fmt.Sprintf("@%s.name", student.ECSID),
		"grades":    fmt.Sprintf("@%s.grades", record.ECSID),
		"threshold": 3.5,
	})
	require.NoError(t, err)

	result := output.(*Entity)
	assert.Equal(t, "Alice", result.Fields["name"])
	assert.InDelta(t, 3.9, result.Fields["average"].(float64), 0.001)
	assert.True(t, storage.Has(result.ECSID))

	assert.Equal(t, PatternMixed, exec.Pattern)
	assert.True(t, exec.Success)
	assert.Contains(t, exec.Dependencies, student.ECSID)
	assert.Contains(t, exec.Dependencies, record.ECSID)
	assert.Contains(t, exec.OutputEntityIDs, result.ECSID)
}

func TestExecuteUnknownFunctionFails(t *testing.T) {
	storage := NewRegistry()
	callables := NewCallableRegistry(storage)
	_, _, err := callables.Execute(context.Background(), "missing", nil)
	require.Error(t, err)
	var target *UnknownFunctionError
	assert.ErrorAs(t, err, &target)
}

func TestExecuteWrapsUserFunctionError(t *testing.T) {
	storage := NewRegistry()
	callables := NewCallableRegistry(storage)
	callables.Register("boom", nil, "Result", func(_ context.Context, _ *Entity) (any, error) {
		return nil, errors.New("boom")
	})

	_, exec, err := callables.Execute(context.Background(), "boom", map[string]any{"threshold": 1.0})
	require.Error(t, err)
	var target *UserFunctionError
	require.ErrorAs(t, err, &target)
	assert.False(t, exec.Success)
}

func TestExecuteMaintainsContextBalanceOnError(t *testing.T) {
	storage := NewRegistry()
	callables := NewCallableRegistry(storage)
	callables.Register("boom", nil, "Result", func(_ context.Context, _ *Entity) (any, error) {
		return nil, errors.New("boom")
	})

	ctx := WithFreshExecutionStack(context.Background())
	depthBefore := Depth(ctx)
	_, _, err := callables.Execute(ctx, "boom", nil)
	require.Error(t, err)
	assert.Equal(t, depthBefore, Depth(ctx))
}

func TestNestedExecutionLinksParentID(t *testing.T) {
	storage := NewRegistry()
	callables := NewCallableRegistry(storage)

	callables.Register("inner", nil, "Result", func(_ context.Context, _ *Entity) (any, error) {
		return New("Result", map[string]any{"value": 1}), nil
	})

	var innerExec *FunctionExecution
	callables.Register("outer", nil, "Result", func(ctx context.Context, _ *Entity) (any, error) {
		_, exec, err := callables.Execute(ctx, "inner", nil)
		innerExec = exec
		if err != nil {
			return nil, err
		}
		return New("Result", map[string]any{"value": 2}), nil
	})

	ctx := WithFreshExecutionStack(context.Background())
	_, outerExec, err := callables.Execute(ctx, "outer", nil)
	require.NoError(t, err)
	require.NotNil(t, innerExec)
	assert.Equal(t, outerExec.ECSID, innerExec.ParentExecutionID)
	assert.Equal(t, 0, Depth(ctx))
}

func TestAExecuteRunsOnItsOwnStackAndFutureWaits(t *testing.T) {
	storage, callables, student, record := newAnalyzeRegistry(t)

	future := callables.AExecute(context.Background(), "analyze", map[string]any{
		"name":      fmt.Sprintf("@%s.name", student.ECSID),
		"grades":    fmt.Sprintf("@%s.grades", record.ECSID),
		"threshold": 3.5,
	})
	output, exec, err := future.Wait()
	require.NoError(t, err)
	assert.NotNil(t, output)
	assert.True(t, exec.Success)
	assert.True(t, storage.Has(exec.OutputEntityIDs[0]))
}

func TestExecuteBatchReturnsResultsInRequestOrder(t *testing.T) {
	storage := NewRegistry()
	callables := NewCallableRegistry(storage)
	callables.Register("echo", []string{"value"}, "Result", func(_ context.Context, input *Entity) (any, error) {
		return New("Result", map[string]any{"value": input.Fields["value"]}), nil
	})

	calls := []BatchCall{
		{Name: "echo", Kwargs: map[string]any{"value": 1}},
		{Name: "echo", Kwargs: map[string]any{"value": 2}},
		{Name: "echo", Kwargs: map[string]any{"value": 3}},
	}
	results := callables.ExecuteBatch(context.Background(), calls)
	require.Len(t, results, 3)
	for i, r := range results {
		require.NoError(t, r.Err)
		out := r.Output.(*Entity)
		assert.Equal(t, i+1, out.Fields["value"])
	}
}
