package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/bonitasoft/bonita-engine-sub045/pkg/bdm"
	"github.com/bonitasoft/bonita-engine-sub045/pkg/engine/runtime"
	"github.com/bonitasoft/bonita-engine-sub045/pkg/model"
	"github.com/bonitasoft/bonita-engine-sub045/pkg/storage"
)

// scriptConnectorName is the built-in connector executing its "source"
// input through the script runtime.
const scriptConnectorName = "script"

func (engine *Engine) handleActivity(ctx context.Context, batch storage.Batch, instance *runtime.ProcessInstance, node *model.FlowNode, token runtime.ExecutionToken) ([]command, error) {
	fni := engine.newFlowNodeInstance(ctx, instance, node, token)
	switch node.Activity.Kind {
	case model.ActivityAutomatic, model.ActivitySend:
		return engine.handleAutomaticActivity(ctx, batch, instance, node, token, fni)
	case model.ActivityHuman, model.ActivityManual:
		return engine.suspendActivity(ctx, batch, instance, node, token, fni)
	case model.ActivityReceive:
		if payload, ok := engine.consumeCaughtEvent(instance, node.Name); ok {
			instance.VariableHolder.SetVariables(payload)
			engine.completeAndArchive(ctx, batch, &fni)
			return engine.advance(ctx, batch, instance, node, token)
		}
		return engine.suspendActivity(ctx, batch, instance, node, token, fni)
	case model.ActivitySubProcess, model.ActivityCallActivity:
		return engine.handleCompositeActivity(ctx, batch, instance, node, token, fni)
	case model.ActivityLoop:
		return engine.handleLoopActivity(ctx, batch, instance, node, token, fni)
	case model.ActivityMultiInstance:
		return engine.handleMultiInstanceActivity(ctx, batch, instance, node, token, fni)
	}
	return nil, newEngineErrorf("unsupported activity kind %s on node %d", node.Activity.Kind, node.ID)
}

func (engine *Engine) handleAutomaticActivity(ctx context.Context, batch storage.Batch, instance *runtime.ProcessInstance, node *model.FlowNode, token runtime.ExecutionToken, fni runtime.FlowNodeInstance) ([]command, error) {
	variables := runtime.NewVariableHolder(&instance.VariableHolder, nil)
	if err := engine.runConnectors(ctx, node, model.ConnectorOnEnter, &variables); err != nil {
		return nil, err
	}
	if handler, ok := engine.taskHandlers[node.Name]; ok {
		if err := handler(ctx, &variables); err != nil {
			return nil, fmt.Errorf("task handler of activity %q failed: %w", node.Name, err)
		}
	}
	if node.Activity.Kind == model.ActivitySend {
		instance.CaughtEvents = append(instance.CaughtEvents, runtime.CatchEvent{
			Name:     node.Name,
			CaughtAt: time.Now(),
		})
	}
	if err := engine.applyActivityOutputs(ctx, instance, node, &variables); err != nil {
		return nil, err
	}
	if err := engine.runConnectors(ctx, node, model.ConnectorOnFinish, &variables); err != nil {
		return nil, err
	}
	engine.completeAndArchive(ctx, batch, &fni)
	return engine.advance(ctx, batch, instance, node, token)
}

// suspendActivity parks the token and leaves a stable, non-terminal
// instance behind; no goroutine blocks while the work is outstanding.
func (engine *Engine) suspendActivity(ctx context.Context, batch storage.Batch, instance *runtime.ProcessInstance, node *model.FlowNode, token runtime.ExecutionToken, fni runtime.FlowNodeInstance) ([]command, error) {
	fni.Stable = true
	batch.SaveFlowNodeInstance(ctx, fni)
	token.NodeID = node.ID
	token.State = runtime.TokenStateWaiting
	batch.SaveToken(ctx, token)
	return nil, nil
}

// applyActivityOutputs runs the activity's business data operations and
// data operations against the instance scope.
func (engine *Engine) applyActivityOutputs(ctx context.Context, instance *runtime.ProcessInstance, node *model.FlowNode, variables *runtime.VariableHolder) error {
	if len(node.Activity.BusinessDataOperations) > 0 {
		operationBatch := engine.binder.NewBatch(instance.Key)
		for _, operation := range node.Activity.BusinessDataOperations {
			if err := engine.applyBusinessDataOperation(ctx, operationBatch, operation, variables); err != nil {
				return err
			}
		}
	}
	for _, operation := range node.Activity.DataOperations {
		value, err := engine.expressions.Evaluate(operation.Expression, variables.Variables())
		if err != nil {
			return &EvaluationError{
				Msg: fmt.Sprintf("failed to evaluate data operation for %q on node %d", operation.Target, node.ID),
				Err: err,
			}
		}
		instance.VariableHolder.SetVariable(operation.Target, value)
	}
	return nil
}

func (engine *Engine) applyBusinessDataOperation(ctx context.Context, operationBatch *bdm.OperationBatch, operation model.BusinessDataOperation, variables *runtime.VariableHolder) error {
	switch operation.Kind {
	case model.BusinessDataAttach:
		value, err := engine.evaluateOperand(operation.Expression, variables)
		if err != nil {
			return err
		}
		return operationBatch.AttachExisting(ctx, operation.Name, value)
	case model.BusinessDataCreateOrUpdate:
		value, err := engine.evaluateOperand(operation.Expression, variables)
		if err != nil {
			return err
		}
		return operationBatch.CreateOrUpdate(ctx, operation.Name, value)
	case model.BusinessDataDelete:
		return operationBatch.Delete(ctx, operation.Name)
	}
	return newEngineErrorf("unsupported business data operation kind %s", operation.Kind)
}

// evaluateOperand resolves a business data operand. A bare variable name
// is taken from the scope directly so entity values survive untouched;
// anything else goes through the expression runtime.
func (engine *Engine) evaluateOperand(expression string, variables *runtime.VariableHolder) (any, error) {
	if value := variables.GetVariable(expression); value != nil {
		return value, nil
	}
	value, err := engine.expressions.Evaluate(expression, variables.Variables())
	if err != nil {
		return nil, &EvaluationError{
			Msg: fmt.Sprintf("failed to evaluate business data operand %q", expression),
			Err: err,
		}
	}
	return value, nil
}

func (engine *Engine) runConnectors(ctx context.Context, node *model.FlowNode, event model.ConnectorEvent, variables *runtime.VariableHolder) error {
	for _, connector := range node.Connectors {
		if connector.Event != event {
			continue
		}
		if connector.Name == scriptConnectorName {
			result, err := engine.scripts.RunScript(connector.Input["source"], variables.Variables())
			if err != nil {
				return fmt.Errorf("script connector %s on node %d failed: %w", connector.ID, node.ID, err)
			}
			if target := connector.Input["resultVariable"]; target != "" {
				variables.PropagateVariable(target, result)
			}
			continue
		}
		handler, ok := engine.connectorHandlers[connector.Name]
		if !ok {
			return newEngineErrorf("no handler registered for connector %q on node %d", connector.Name, node.ID)
		}
		output, err := handler(ctx, connector.Input, variables)
		if err != nil {
			return fmt.Errorf("connector %s on node %d failed: %w", connector.ID, node.ID, err)
		}
		variables.PropagateVariables(output)
	}
	return nil
}
