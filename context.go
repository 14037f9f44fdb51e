package ecs

import (
	"context"

	"github.com/google/uuid"
)

// executionStack is the per-task ordered list of active FunctionExecution
// ids, innermost last. It is carried through context.Context rather than
// a goroutine-local, so separate tasks never observe each other's
// frames: each AExecute call and each ExecuteBatch item installs its own
// fresh stack, shadowing any stack value it may have inherited, and
// Execute installs one when its ctx carries none.
type executionStack struct {
	frames []uuid.UUID
}

type executionStackKey struct{}

// WithFreshExecutionStack returns a context carrying a new, empty
// execution stack, independent of any stack ctx may already carry.
// AExecute and each item of ExecuteBatch always call this, and Execute
// calls it when ctx carries no stack, so concurrent calls never share
// frames.
func WithFreshExecutionStack(ctx context.Context) context.Context {
	return context.WithValue(ctx, executionStackKey{}, &executionStack{})
}

func stackFrom(ctx context.Context) *executionStack {
	if s, ok := ctx.Value(executionStackKey{}).(*executionStack); ok {
		return s
	}
	return nil
}

// PushExecution records executionID as the innermost active frame and
// returns a pop function that must be called exactly once, including on
// error paths, to keep the stack balanced. If ctx
// carries no stack (WithFreshExecutionStack was never called), push is a
// no-op and pop does nothing.
func PushExecution(ctx context.Context, executionID uuid.UUID) (context.Context, func()) {
	s := stackFrom(ctx)
	if s == nil {
		return ctx, func() {}
	}
	s.frames = append(s.frames, executionID)
	return ctx, func() {
		if len(s.frames) == 0 {
			return
		}
		s.frames = s.frames[:len(s.frames)-1]
	}
}

// CurrentExecution returns the innermost active execution id, used to
// link a nested execute call's FunctionExecution as a child of its
// caller.
func CurrentExecution(ctx context.Context) (uuid.UUID, bool) {
	s := stackFrom(ctx)
	if s == nil || len(s.frames) == 0 {
		return uuid.UUID{}, false
	}
	return s.frames[len(s.frames)-1], true
}

// RootExecution returns the outermost active execution id.
func RootExecution(ctx context.Context) (uuid.UUID, bool) {
	s := stackFrom(ctx)
	if s == nil || len(s.frames) == 0 {
		return uuid.UUID{}, false
	}
	return s.frames[0], true
}

// Depth returns the number of active frames, used by tests asserting
// context balance.
func Depth(ctx context.Context) int {
	s := stackFrom(ctx)
	if s == nil {
		return 0
	}
	return len(s.frames)
}

// ContextStats summarizes a stack's current shape for diagnostics.
type ContextStats struct {
	Depth    int
	Root     uuid.UUID
	HasRoot  bool
	Current  uuid.UUID
	HasFrame bool
}

// Stats reports the stack's current depth, root, and innermost frame.
func Stats(ctx context.Context) ContextStats {
	root, hasRoot := RootExecution(ctx)
	current, hasFrame := CurrentExecution(ctx)
	return ContextStats{
		Depth:    Depth(ctx),
		Root:     root,
		HasRoot:  hasRoot,
		Current:  current,
		HasFrame: hasFrame,
	}
}

// ValidateBalance reports whether depthBefore matches the stack's
// current depth, the invariant every Execute call must restore on every
// return path.
func ValidateBalance(ctx context.Context, depthBefore int) bool {
	return Depth(ctx) == depthBefore
}
