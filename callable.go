package ecs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// CallableFunc is a user-registered function. It receives the assembled
// ephemeral input entity and returns either a single *Entity or a
// []*Entity (sibling outputs); any other return type is surfaced as an
// InputAssemblyError during result normalization. ctx carries the
// execution stack frame for this call, for functions that themselves
// call CallableRegistry.Execute.
type CallableFunc func(ctx context.Context, input *Entity) (any, error)

// FunctionInfo is what List/Info expose about a registered function.
type FunctionInfo struct {
	Name        string
	InputFields []string
	OutputType  string
}

type registeredFunction struct {
	info FunctionInfo
	fn   CallableFunc
}

// CallableRegistry executes registered user functions against a storage
// Registry: input assembly, pre/post-call versioning, output
// registration, provenance completion, and execution-entity recording.
type CallableRegistry struct {
	mu        sync.RWMutex
	storage   *Registry
	functions map[string]registeredFunction
	log       *logrus.Entry
}

// NewCallableRegistry binds a callable registry to storage.
func NewCallableRegistry(storage *Registry) *CallableRegistry {
	return &CallableRegistry{
		storage:   storage,
		functions: make(map[string]registeredFunction),
		log:       defaultLogger(),
	}
}

// Register records fn under name with its declared input field names and
// output entity type, for diagnostics via Info/List.
func (cr *CallableRegistry) Register(name string, inputFields []string, outputType string, fn CallableFunc) {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	cr.functions[name] = registeredFunction{
		info: FunctionInfo{Name: name, InputFields: inputFields, OutputType: outputType},
		fn:   fn,
	}
}

// List returns every registered function name, sorted.
func (cr *CallableRegistry) List() []string {
	cr.mu.RLock()
	defer cr.mu.RUnlock()
	names := make([]string, 0, len(cr.functions))
	for name := range cr.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Info returns the declared signature of a registered function.
func (cr *CallableRegistry) Info(name string) (FunctionInfo, bool) {
	cr.mu.RLock()
	defer cr.mu.RUnlock()
	f, ok := cr.functions[name]
	return f.info, ok
}

// FunctionExecution is the materialized form of the entity written by
// step 8 of Execute: function name, resolved input id, output ids,
// pattern label, dependency ids, timing, and outcome.
type FunctionExecution struct {
	ECSID             uuid.UUID
	FunctionName      string
	InputEntityID     uuid.UUID
	OutputEntityIDs   []uuid.UUID
	Pattern           Pattern
	Classification    map[string]KwargClassification
	Dependencies      []uuid.UUID
	StartedAt         time.Time
	EndedAt           time.Time
	Success           bool
	ErrorMessage      string
	ParentExecutionID uuid.UUID
	HasParent         bool
}

func (fe *FunctionExecution) toEntity() *Entity {
	e := New("FunctionExecution", nil)
	e.ECSID = fe.ECSID
	e.SetField("function_name", fe.FunctionName)
	e.SetField("input_entity_id", fe.InputEntityID.String())
	outputIDs := make([]any, len(fe.OutputEntityIDs))
	for i, id := range fe.OutputEntityIDs {
		outputIDs[i] = id.String()
	}
	e.SetField("output_entity_ids", outputIDs)
	e.SetField("pattern", string(fe.Pattern))
	deps := make([]any, len(fe.Dependencies))
	for i, id := range fe.Dependencies {
		deps[i] = id.String()
	}
	e.SetField("dependencies", deps)
	e.SetField("started_at", fe.StartedAt)
	e.SetField("ended_at", fe.EndedAt)
	e.SetField("success", fe.Success)
	e.SetField("error_message", fe.ErrorMessage)
	if fe.HasParent {
		e.SetField("parent_execution_id", fe.ParentExecutionID.String())
	}
	return e
}

// Execute runs name against kwargs: assembles the input entity, forks
// any dirty inputs, runs the user function, registers and forks its
// outputs, completes their provenance, and records a FunctionExecution.
// A ctx that carries no execution stack gets a fresh one; a ctx that
// already carries one is used as is. Nested calls made from inside a
// CallableFunc should pass the ctx they were given, so their execution
// entity links to the caller's as parent.
func (cr *CallableRegistry) Execute(ctx context.Context, name string, kwargs map[string]any) (any, *FunctionExecution, error) {
	if stackFrom(ctx) == nil {
		ctx = WithFreshExecutionStack(ctx)
	}
	depthBefore := Depth(ctx)

	cr.mu.RLock()
	rf, ok := cr.functions[name]
	cr.mu.RUnlock()
	if !ok {
		return nil, nil, &UnknownFunctionError{Name: name}
	}

	// Step 1: input assembly. Failures here surface immediately with no
	// execution entity written, and the stack is untouched.
	composite, err := Create(cr.storage, "__input__", kwargs)
	if err != nil {
		return nil, nil, err
	}

	// Step 2: pre-call versioning of any directly-passed root entities.
	cr.reregisterDirectInputs(kwargs)

	parentID, hasParent := CurrentExecution(ctx)
	executionID := uuid.New()
	childCtx, pop := PushExecution(ctx, executionID)
	defer func() {
		pop()
		// Every path, including errors, must restore the stack depth.
		_ = ValidateBalance(childCtx, depthBefore)
	}()

	exec := &FunctionExecution{
		ECSID:             executionID,
		FunctionName:      name,
		InputEntityID:     composite.Entity.ECSID,
		Pattern:           classifyPattern(composite.Classification),
		Classification:    composite.Classification,
		Dependencies:      composite.Dependencies,
		StartedAt:         time.Now(),
		ParentExecutionID: parentID,
		HasParent:         hasParent,
	}

	// Step 3: call.
	rawOutput, callErr := rf.fn(childCtx, composite.Entity)
	exec.EndedAt = time.Now()

	if callErr != nil {
		exec.Success = false
		exec.ErrorMessage = callErr.Error()
		cr.recordExecution(exec)
		return nil, exec, &UserFunctionError{ExecutionID: executionID, Cause: callErr}
	}

	// Step 4: result normalization.
	outputs, single, normErr := normalizeOutputs(rawOutput)
	if normErr != nil {
		exec.Success = false
		exec.ErrorMessage = normErr.Error()
		cr.recordExecution(exec)
		return nil, exec, normErr
	}

	// Step 5: output registration.
	for _, out := range outputs {
		if !out.IsRoot() {
			out.PromoteToRoot()
		}
		if _, regErr := cr.storage.Register(out); regErr != nil {
			exec.Success = false
			exec.ErrorMessage = regErr.Error()
			cr.recordExecution(exec)
			return nil, exec, regErr
		}
		exec.OutputEntityIDs = append(exec.OutputEntityIDs, out.ECSID)
	}

	// Step 6: post-call versioning of inputs, capturing in-place
	// mutations the function performed on entities it was handed.
	cr.reregisterDirectInputs(kwargs)

	// Step 7: provenance completion, best-effort by matching output
	// field values back to the input entity's fields and propagating
	// whatever provenance the input entity already recorded for them.
	for _, out := range outputs {
		completeProvenance(out, composite.Entity)
	}

	exec.Success = true
	cr.recordExecution(exec)

	if single {
		return outputs[0], exec, nil
	}
	anyOutputs := make([]any, len(outputs))
	for i, out := range outputs {
		anyOutputs[i] = out
	}
	return anyOutputs, exec, nil
}

func (cr *CallableRegistry) reregisterDirectInputs(kwargs map[string]any) {
	for _, value := range kwargs {
		if e, ok := value.(*Entity); ok && e != nil && e.IsRoot() {
			_, _ = cr.storage.Register(e)
		}
	}
}

func (cr *CallableRegistry) recordExecution(exec *FunctionExecution) {
	entity := exec.toEntity()
	entity.PromoteToRoot()
	if _, err := cr.storage.Register(entity); err != nil && cr.log != nil {
		cr.log.WithError(err).Warn("failed to register execution entity")
	}
	exec.ECSID = entity.ECSID
}

func classifyPattern(classification map[string]KwargClassification) Pattern {
	var entityCount, subEntityCount, addressCount, directCount int
	for _, c := range classification {
		switch c.Label {
		case LabelEntity:
			entityCount++
		case LabelSubEntity:
			subEntityCount++
		case LabelEntityAddress, LabelSubEntityAddress, LabelFieldAddress:
			addressCount++
		case LabelDirect:
			directCount++
		}
	}
	return derivePattern(entityCount, subEntityCount, addressCount, directCount)
}

// normalizeOutputs accepts *Entity, []*Entity, or []any of *Entity and
// reports whether the caller supplied a single entity (as opposed to a
// sibling-output sequence).
func normalizeOutputs(raw any) ([]*Entity, bool, error) {
	switch v := raw.(type) {
	case *Entity:
		if v == nil {
			return nil, false, &InputAssemblyError{Field: "<output>", Reason: "function returned a nil entity"}
		}
		return []*Entity{v}, true, nil
	case []*Entity:
		for _, e := range v {
			if e == nil {
				return nil, false, &InputAssemblyError{Field: "<output>", Reason: "function returned a nil entity in sibling output set"}
			}
		}
		return v, false, nil
	case []any:
		out := make([]*Entity, 0, len(v))
		for _, elem := range v {
			e, ok := elem.(*Entity)
			if !ok || e == nil {
				return nil, false, &InputAssemblyError{Field: "<output>", Reason: "function returned a non-entity sibling output"}
			}
			out = append(out, e)
		}
		return out, false, nil
	default:
		return nil, false, &InputAssemblyError{Field: "<output>", Reason: "function must return *Entity or a sequence of entities"}
	}
}

// completeProvenance propagates attribute_source from input's fields to
// out's fields wherever out carries a value equal to one input carried.
// A field the user function already gave explicit provenance via
// BorrowAttributeFrom (anything but the NoSource default New() assigns)
// is left untouched; every other field — including New()'s default
// NoSource, which does not count as "already recorded" for this
// purpose — is matched best-effort against the input entity's fields.
func completeProvenance(out, input *Entity) {
	for name, value := range out.Fields {
		if src, already := out.AttributeSource[name]; already && src.Kind != SourceNone {
			continue
		}
		matched := false
		for inName, inValue := range input.Fields {
			if !fieldsEqual(value, inValue) {
				continue
			}
			if src, ok := input.AttributeSource[inName]; ok {
				out.AttributeSource[name] = src
			} else {
				out.AttributeSource[name] = NoSource
			}
			matched = true
			break
		}
		if !matched {
			out.AttributeSource[name] = NoSource
		}
	}
}

// ExecutionFuture is the handle returned by AExecute.
type ExecutionFuture struct {
	resultCh chan executionOutcome
}

type executionOutcome struct {
	output any
	exec   *FunctionExecution
	err    error
}

// Wait blocks until the asynchronous execution completes.
func (f *ExecutionFuture) Wait() (any, *FunctionExecution, error) {
	outcome := <-f.resultCh
	return outcome.output, outcome.exec, outcome.err
}

// AExecute launches name against kwargs on its own goroutine with a
// fresh execution stack, returning immediately; Go has no async/await,
// so "awaited" becomes an explicit future the caller blocks on when
// ready.
func (cr *CallableRegistry) AExecute(ctx context.Context, name string, kwargs map[string]any) *ExecutionFuture {
	future := &ExecutionFuture{resultCh: make(chan executionOutcome, 1)}
	taskCtx := WithFreshExecutionStack(ctx)
	go func() {
		output, exec, err := cr.Execute(taskCtx, name, kwargs)
		future.resultCh <- executionOutcome{output: output, exec: exec, err: err}
	}()
	return future
}

// BatchCall is one request within ExecuteBatch.
type BatchCall struct {
	Name   string
	Kwargs map[string]any
}

// BatchResult is one outcome within ExecuteBatch, at the same index as
// its BatchCall.
type BatchResult struct {
	Output    any
	Execution *FunctionExecution
	Err       error
}

// ExecuteBatch launches every call cooperatively, each with its own
// execution stack, and returns results in request order once all have
// completed.
func (cr *CallableRegistry) ExecuteBatch(ctx context.Context, calls []BatchCall) []BatchResult {
	results := make([]BatchResult, len(calls))
	var wg sync.WaitGroup
	wg.Add(len(calls))
	for i, call := range calls {
		go func(i int, call BatchCall) {
			defer wg.Done()
			taskCtx := WithFreshExecutionStack(ctx)
			output, exec, err := cr.Execute(taskCtx, call.Name, call.Kwargs)
			results[i] = BatchResult{Output: output, Execution: exec, Err: err}
		}(i, call)
	}
	wg.Wait()
	return results
}
