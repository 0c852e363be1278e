package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bonitasoft/bonita-engine-sub045/pkg/engine/runtime"
	"github.com/bonitasoft/bonita-engine-sub045/pkg/model"
	"github.com/bonitasoft/bonita-engine-sub045/pkg/storage"
)

// handleCompositeActivity suspends the parent token on the activity and
// spawns a child process instance executing the activity's body (embedded
// container) or the called process definition.
func (engine *Engine) handleCompositeActivity(ctx context.Context, batch storage.Batch, instance *runtime.ProcessInstance, node *model.FlowNode, token runtime.ExecutionToken, fni runtime.FlowNodeInstance) ([]command, error) {
	// child work outstanding, the instance is not stable yet
	fni.Stable = false
	batch.SaveFlowNodeInstance(ctx, fni)
	token.NodeID = node.ID
	token.State = runtime.TokenStateWaiting
	batch.SaveToken(ctx, token)

	var child runtime.ProcessInstance
	switch node.Activity.Kind {
	case model.ActivitySubProcess:
		child = engine.newChildInstance(instance, instance.Definition, token, fni.Key, runtime.InstanceKindSubProcess, nil)
		engine.declareBusinessDataOfBody(child.Key, node)
	case model.ActivityCallActivity:
		definition, err := engine.persistence.FindLatestProcessDefinitionByName(ctx, node.Activity.CalledProcess)
		if err != nil {
			return nil, errors.Join(newEngineErrorf("no deployed process %q for call activity %d", node.Activity.CalledProcess, node.ID), err)
		}
		child = engine.newChildInstance(instance, definition, token, fni.Key, runtime.InstanceKindCallActivity, nil)
		engine.declareBusinessData(child.Key, definition.Container)
	default:
		return nil, newEngineErrorf("node %d is not a composite activity", node.ID)
	}
	batch.SaveProcessInstance(ctx, child)
	return []command{spawnInstanceCommand{child: child}}, nil
}

func (engine *Engine) handleLoopActivity(ctx context.Context, batch storage.Batch, instance *runtime.ProcessInstance, node *model.FlowNode, token runtime.ExecutionToken, fni runtime.FlowNodeInstance) ([]command, error) {
	if node.Activity.Container == nil {
		return nil, newEngineErrorf("loop activity %d declares no body container", node.ID)
	}
	fni.Stable = false
	fni.LoopCounter = 1
	batch.SaveFlowNodeInstance(ctx, fni)
	token.NodeID = node.ID
	token.State = runtime.TokenStateWaiting
	batch.SaveToken(ctx, token)

	child := engine.newChildInstance(instance, instance.Definition, token, fni.Key, runtime.InstanceKindSubProcess,
		map[string]any{"loopCounter": 0})
	batch.SaveProcessInstance(ctx, child)
	return []command{spawnInstanceCommand{child: child}}, nil
}

func (engine *Engine) handleMultiInstanceActivity(ctx context.Context, batch storage.Batch, instance *runtime.ProcessInstance, node *model.FlowNode, token runtime.ExecutionToken, fni runtime.FlowNodeInstance) ([]command, error) {
	spec := node.Activity.MultiInstance
	if node.Activity.Container == nil {
		return nil, newEngineErrorf("multi-instance activity %d declares no body container", node.ID)
	}
	items, err := engine.evaluateCollection(spec.InputCollection, instance)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		engine.completeAndArchive(ctx, batch, &fni)
		return engine.advance(ctx, batch, instance, node, token)
	}
	if spec.OutputCollection != "" {
		instance.VariableHolder.SetVariable(spec.OutputCollection, []any{})
	}

	fni.Stable = false
	token.NodeID = node.ID
	token.State = runtime.TokenStateWaiting
	batch.SaveToken(ctx, token)

	count := len(items)
	if spec.Sequential {
		count = 1
	}
	commands := make([]command, 0, count)
	for i := 0; i < count; i++ {
		child := engine.newMultiInstanceChild(instance, node, token, fni.Key, items, i)
		batch.SaveProcessInstance(ctx, child)
		commands = append(commands, spawnInstanceCommand{child: child})
	}
	fni.LoopCounter = int32(count)
	batch.SaveFlowNodeInstance(ctx, fni)
	return commands, nil
}

func (engine *Engine) newMultiInstanceChild(instance *runtime.ProcessInstance, node *model.FlowNode, token runtime.ExecutionToken, activityInstanceKey int64, items []any, index int) runtime.ProcessInstance {
	spec := node.Activity.MultiInstance
	variables := map[string]any{"loopCounter": index}
	if spec.InputElement != "" {
		variables[spec.InputElement] = items[index]
	}
	return engine.newChildInstance(instance, instance.Definition, token, activityInstanceKey, runtime.InstanceKindMultiInstance, variables)
}

func (engine *Engine) newChildInstance(parent *runtime.ProcessInstance, definition *model.ProcessDefinition, parentToken runtime.ExecutionToken, parentActivityInstanceKey int64, kind runtime.InstanceKind, variables map[string]any) runtime.ProcessInstance {
	holder := runtime.NewVariableHolder(&parent.VariableHolder, nil)
	holder.SetVariables(variables)
	token := parentToken
	return runtime.ProcessInstance{
		Definition:                definition,
		DefinitionKey:             definition.Key,
		Key:                       engine.generateKey(),
		State:                     runtime.ActivityStateReady,
		VariableHolder:            holder,
		CreatedAt:                 time.Now(),
		CaughtEvents:              []runtime.CatchEvent{},
		Kind:                      kind,
		ParentToken:               &token,
		ParentActivityInstanceKey: parentActivityInstanceKey,
		RootProcessInstanceKey:    parent.RootKey(),
	}
}

func (engine *Engine) declareBusinessDataOfBody(scopeKey int64, node *model.FlowNode) {
	if node.Activity.Container != nil {
		engine.declareBusinessData(scopeKey, node.Activity.Container)
	}
}

// continueParent resumes the parent instance of a completed child.
func (engine *Engine) continueParent(ctx context.Context, child runtime.ProcessInstance) error {
	if child.ParentToken == nil {
		return nil
	}
	parent, err := engine.loadInstance(ctx, child.ParentToken.ProcessInstanceKey)
	if err != nil {
		return err
	}
	fni, err := engine.persistence.FindFlowNodeInstanceByKey(ctx, child.ParentActivityInstanceKey)
	if err != nil {
		return errors.Join(newEngineErrorf("failed to find parent activity instance %d", child.ParentActivityInstanceKey), err)
	}
	if fni.Terminal() {
		return nil
	}
	return engine.run(ctx, &parent, continueNodeCommand{instance: fni, payload: child.VariableHolder.Variables()})
}

// continueNode resumes a suspended flow node instance after an external
// stimulus: a completed human task, a delivered event, or a finished child
// instance.
func (engine *Engine) continueNode(ctx context.Context, batch storage.Batch, instance *runtime.ProcessInstance, fni runtime.FlowNodeInstance, payload map[string]any) ([]command, error) {
	if fni.Terminal() {
		return nil, newEngineErrorf("flow node instance %d is terminal and cannot be resumed", fni.Key)
	}
	node := instance.Definition.NodeByID(fni.NodeID)
	if node == nil {
		return nil, newEngineErrorf("flow node instance %d references unknown node %d", fni.Key, fni.NodeID)
	}
	token, err := engine.persistence.GetTokenByKey(ctx, fni.TokenKey)
	if err != nil {
		return nil, errors.Join(newEngineErrorf("failed to load token %d of flow node instance %d", fni.TokenKey, fni.Key), err)
	}

	switch {
	case node.IsEvent(model.EventIntermediateCatch):
		instance.VariableHolder.SetVariables(payload)
		engine.completeAndArchive(ctx, batch, &fni)
		return engine.advance(ctx, batch, instance, node, token)
	case node.IsActivity(model.ActivityHuman, model.ActivityManual, model.ActivityReceive):
		instance.VariableHolder.SetVariables(payload)
		variables := runtime.NewVariableHolder(&instance.VariableHolder, nil)
		if err := engine.applyActivityOutputs(ctx, instance, node, &variables); err != nil {
			return nil, err
		}
		if err := engine.runConnectors(ctx, node, model.ConnectorOnFinish, &variables); err != nil {
			return nil, err
		}
		engine.completeAndArchive(ctx, batch, &fni)
		return engine.advance(ctx, batch, instance, node, token)
	case node.IsActivity(model.ActivitySubProcess, model.ActivityCallActivity):
		instance.VariableHolder.SetVariables(payload)
		engine.completeAndArchive(ctx, batch, &fni)
		return engine.advance(ctx, batch, instance, node, token)
	case node.IsActivity(model.ActivityLoop):
		return engine.continueLoop(ctx, batch, instance, node, fni, token, payload)
	case node.IsActivity(model.ActivityMultiInstance):
		return engine.continueMultiInstance(ctx, batch, instance, node, fni, token, payload)
	}
	return nil, newEngineErrorf("flow node instance %d on node %d cannot be resumed", fni.Key, node.ID)
}

func (engine *Engine) continueLoop(ctx context.Context, batch storage.Batch, instance *runtime.ProcessInstance, node *model.FlowNode, fni runtime.FlowNodeInstance, token runtime.ExecutionToken, payload map[string]any) ([]command, error) {
	spec := node.Activity.Loop
	fni.CompletedChildren++
	instance.VariableHolder.SetVariables(payload)

	again := true
	if spec.MaxIterations > 0 && int(fni.LoopCounter) >= spec.MaxIterations {
		again = false
	}
	if again && spec.Condition != "" {
		scope := scopeWith(instance, map[string]any{"loopCounter": int(fni.LoopCounter)})
		ok, err := engine.expressions.UnaryTest(spec.Condition, scope)
		if err != nil {
			return nil, &EvaluationError{
				Msg: fmt.Sprintf("failed to evaluate loop condition of activity %d", node.ID),
				Err: err,
			}
		}
		again = ok
	}
	if again {
		child := engine.newChildInstance(instance, instance.Definition, token, fni.Key, runtime.InstanceKindSubProcess,
			map[string]any{"loopCounter": int(fni.LoopCounter)})
		fni.LoopCounter++
		batch.SaveFlowNodeInstance(ctx, fni)
		batch.SaveProcessInstance(ctx, child)
		return []command{spawnInstanceCommand{child: child}}, nil
	}
	engine.completeAndArchive(ctx, batch, &fni)
	return engine.advance(ctx, batch, instance, node, token)
}

func (engine *Engine) continueMultiInstance(ctx context.Context, batch storage.Batch, instance *runtime.ProcessInstance, node *model.FlowNode, fni runtime.FlowNodeInstance, token runtime.ExecutionToken, payload map[string]any) ([]command, error) {
	spec := node.Activity.MultiInstance
	fni.CompletedChildren++

	if spec.OutputCollection != "" && spec.OutputElement != "" {
		collected, _ := instance.VariableHolder.GetVariable(spec.OutputCollection).([]any)
		instance.VariableHolder.SetVariable(spec.OutputCollection, append(collected, payload[spec.OutputElement]))
	}

	items, err := engine.evaluateCollection(spec.InputCollection, instance)
	if err != nil {
		return nil, err
	}

	done := int(fni.CompletedChildren) >= len(items)
	if !done && spec.CompletionCondition != "" {
		scope := scopeWith(instance, map[string]any{
			"numberOfCompletedInstances": int(fni.CompletedChildren),
			"numberOfInstances":          len(items),
		})
		ok, err := engine.expressions.UnaryTest(spec.CompletionCondition, scope)
		if err != nil {
			return nil, &EvaluationError{
				Msg: fmt.Sprintf("failed to evaluate completion condition of activity %d", node.ID),
				Err: err,
			}
		}
		done = ok
	}

	if done {
		if err := engine.abortRemainingChildren(ctx, batch, fni.Key); err != nil {
			return nil, err
		}
		engine.completeAndArchive(ctx, batch, &fni)
		return engine.advance(ctx, batch, instance, node, token)
	}
	if spec.Sequential && int(fni.LoopCounter) < len(items) {
		child := engine.newMultiInstanceChild(instance, node, token, fni.Key, items, int(fni.LoopCounter))
		fni.LoopCounter++
		batch.SaveFlowNodeInstance(ctx, fni)
		batch.SaveProcessInstance(ctx, child)
		return []command{spawnInstanceCommand{child: child}}, nil
	}
	batch.SaveFlowNodeInstance(ctx, fni)
	return nil, nil
}

// scopeWith copies the instance scope and overlays extra values, leaving
// the instance's own variables untouched.
func scopeWith(instance *runtime.ProcessInstance, extras map[string]any) map[string]any {
	variables := instance.VariableHolder.Variables()
	scope := make(map[string]any, len(variables)+len(extras))
	for k, v := range variables {
		scope[k] = v
	}
	for k, v := range extras {
		scope[k] = v
	}
	return scope
}

func (engine *Engine) evaluateCollection(expression string, instance *runtime.ProcessInstance) ([]any, error) {
	if expression == "" {
		return nil, newEngineErrorf("multi-instance activity declares no input collection")
	}
	value, err := engine.expressions.Evaluate(expression, instance.VariableHolder.Variables())
	if err != nil {
		return nil, &EvaluationError{
			Msg: fmt.Sprintf("failed to evaluate input collection %q", expression),
			Err: err,
		}
	}
	items, ok := value.([]any)
	if !ok {
		return nil, &EvaluationError{
			Msg: fmt.Sprintf("input collection %q evaluated to %T, expected a list", expression, value),
		}
	}
	return items, nil
}
