package ecs

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushPopMaintainsDepthAndCurrent(t *testing.T) {
	ctx := WithFreshExecutionStack(context.Background())
	assert.Equal(t, 0, Depth(ctx))

	id1 := uuid.New()
	ctx, pop1 := PushExecution(ctx, id1)
	assert.Equal(t, 1, Depth(ctx))
	current, ok := CurrentExecution(ctx)
	require.True(t, ok)
	assert.Equal(t, id1, current)

	id2 := uuid.New()
	ctx, pop2 := PushExecution(ctx, id2)
	assert.Equal(t, 2, Depth(ctx))
	current, ok = CurrentExecution(ctx)
	require.True(t, ok)
	assert.Equal(t, id2, current)

	root, ok := RootExecution(ctx)
	require.True(t, ok)
	assert.Equal(t, id1, root)

	pop2()
	assert.Equal(t, 1, Depth(ctx))
	pop1()
	assert.Equal(t, 0, Depth(ctx))
}

func TestIndependentStacksNeverObserveEachOther(t *testing.T) {
	base := context.Background()
	ctxA := WithFreshExecutionStack(base)
	ctxB := WithFreshExecutionStack(base)

	ctxA, popA := PushExecution(ctxA, uuid.New())
	defer popA()

	assert.Equal(t, 1, Depth(ctxA))
	assert.Equal(t, 0, Depth(ctxB))
}

func TestValidateBalanceDetectsImbalance(t *testing.T) {
	ctx := WithFreshExecutionStack(context.Background())
	depthBefore := Depth(ctx)
	ctx, pop := PushExecution(ctx, uuid.New())
	assert.False(t, ValidateBalance(ctx, depthBefore))
	pop()
	assert.True(t, ValidateBalance(ctx, depthBefore))
}

func TestStatsReportsCurrentShape(t *testing.T) {
	ctx := WithFreshExecutionStack(context.Background())
	id := uuid.New()
	ctx, pop := PushExecution(ctx, id)
	defer pop()

	stats := Stats(ctx)
	assert.Equal(t, 1, stats.Depth)
	assert.True(t, stats.HasFrame)
	assert.Equal(t, id, stats.Current)
	assert.Equal(t, id, stats.Root)
}
