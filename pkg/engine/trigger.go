package engine

import (
	"context"
	"errors"
	"time"

	"github.com/bonitasoft/bonita-engine-sub045/pkg/engine/runtime"
	"github.com/bonitasoft/bonita-engine-sub045/pkg/model"
)

// DeliverEvent records an asynchronous event (message correlated, signal
// received) on the process instance and resumes every stable waiting
// catcher it matches. Unmatched events stay buffered until a catcher
// reaches them.
func (engine *Engine) DeliverEvent(ctx context.Context, processInstanceKey int64, eventName string, payload map[string]any) error {
	instance, err := engine.loadInstance(ctx, processInstanceKey)
	if err != nil {
		return err
	}
	if instance.State.Terminal() {
		return newEngineErrorf("process instance %d is terminal, cannot deliver event %q", processInstanceKey, eventName)
	}
	instance.CaughtEvents = append(instance.CaughtEvents, runtime.CatchEvent{
		Name:     eventName,
		CaughtAt: time.Now(),
		Payload:  payload,
	})
	return engine.run(ctx, &instance)
}

// DeliverEventToNode targets a specific flow node: a fired timer, a
// triggered boundary event, or any waiting instance addressed by node id.
func (engine *Engine) DeliverEventToNode(ctx context.Context, processInstanceKey int64, nodeID int64, payload map[string]any) error {
	instance, err := engine.loadInstance(ctx, processInstanceKey)
	if err != nil {
		return err
	}
	if instance.State.Terminal() {
		return nil
	}
	node := instance.Definition.NodeByID(nodeID)
	if node == nil {
		return newEngineErrorf("process instance %d has no node %d", processInstanceKey, nodeID)
	}
	if node.IsEvent(model.EventBoundary) {
		return engine.run(ctx, &instance, boundaryEventCommand{node: node, payload: payload})
	}
	fni, found, err := engine.findLiveInstanceAt(ctx, instance.Key, nodeID)
	if err != nil {
		return err
	}
	if !found || !fni.Stable {
		// nothing waiting here; the stimulus is stale
		return nil
	}
	return engine.run(ctx, &instance, continueNodeCommand{instance: fni, payload: payload})
}

// CompleteHumanTask finishes a waiting human or manual task instance with
// the given output variables.
func (engine *Engine) CompleteHumanTask(ctx context.Context, processInstanceKey int64, flowNodeInstanceKey int64, variables map[string]any) error {
	instance, err := engine.loadInstance(ctx, processInstanceKey)
	if err != nil {
		return err
	}
	fni, err := engine.persistence.FindFlowNodeInstanceByKey(ctx, flowNodeInstanceKey)
	if err != nil {
		return errors.Join(newEngineErrorf("failed to find flow node instance %d", flowNodeInstanceKey), err)
	}
	if fni.Terminal() {
		return newEngineErrorf("flow node instance %d is already terminal", flowNodeInstanceKey)
	}
	if !fni.Stable {
		return newEngineErrorf("flow node instance %d is not stable, cannot be completed", flowNodeInstanceKey)
	}
	node := instance.Definition.NodeByID(fni.NodeID)
	if node == nil || !node.IsActivity(model.ActivityHuman, model.ActivityManual) {
		return newEngineErrorf("flow node instance %d is not a human task", flowNodeInstanceKey)
	}
	return engine.run(ctx, &instance, continueNodeCommand{instance: fni, payload: variables})
}

// pendingStimuli collects the follow-up work a flushed pass exposed:
// buffered caught events waking a matching catcher, and inclusive
// gateways whose dead path analysis now proves readiness. Re-running
// this after each pass implements the incremental re-evaluation of
// joins as sibling branches resolve.
func (engine *Engine) pendingStimuli(ctx context.Context, instance *runtime.ProcessInstance) ([]command, error) {
	var commands []command

	if hasUnconsumedEvents(instance) {
		flowNodes, err := engine.persistence.FindFlowNodeInstances(ctx, instance.Key)
		if err != nil {
			return nil, errors.Join(newEngineErrorf("failed to find flow node instances of %d", instance.Key), err)
		}
		for i := range instance.CaughtEvents {
			event := &instance.CaughtEvents[i]
			if event.IsConsumed {
				continue
			}
			for _, fni := range flowNodes {
				if fni.Terminal() || !fni.Stable {
					continue
				}
				node := instance.Definition.NodeByID(fni.NodeID)
				if node == nil || !catcherMatches(node, event.Name) {
					continue
				}
				event.IsConsumed = true
				commands = append(commands, continueNodeCommand{instance: fni, payload: event.Payload})
				break
			}
		}
	}

	if instance.Definition.ContainsInclusiveGateway() {
		gateways, err := engine.persistence.FindActiveGatewayInstances(ctx, instance.Key)
		if err != nil {
			return nil, errors.Join(newEngineErrorf("failed to find gateway instances of %d", instance.Key), err)
		}
		for _, gateway := range gateways {
			node := instance.Definition.NodeByID(gateway.NodeID)
			if node == nil || !node.IsGateway(model.GatewayInclusive, model.GatewayComplex) {
				continue
			}
			if len(gateway.HitBys) == 0 {
				continue
			}
			ready, err := engine.gatewayReady(ctx, instance, node, &gateway)
			if err != nil {
				var ambiguity *ReachabilityAmbiguityError
				if errors.As(err, &ambiguity) {
					continue
				}
				return nil, err
			}
			if ready {
				commands = append(commands, gatewayFireCommand{node: node})
			}
		}
	}
	return commands, nil
}

func hasUnconsumedEvents(instance *runtime.ProcessInstance) bool {
	for _, event := range instance.CaughtEvents {
		if !event.IsConsumed {
			return true
		}
	}
	return false
}
