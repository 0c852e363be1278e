package engine

import (
	"context"
	"errors"
	"time"

	"github.com/senseyeio/duration"

	"github.com/bonitasoft/bonita-engine-sub045/pkg/engine/runtime"
	"github.com/bonitasoft/bonita-engine-sub045/pkg/model"
	"github.com/bonitasoft/bonita-engine-sub045/pkg/storage"
)

func (engine *Engine) handleEvent(ctx context.Context, batch storage.Batch, instance *runtime.ProcessInstance, node *model.FlowNode, token runtime.ExecutionToken) ([]command, error) {
	switch node.Event.Kind {
	case model.EventStart:
		fni := engine.newFlowNodeInstance(ctx, instance, node, token)
		engine.completeAndArchive(ctx, batch, &fni)
		return engine.advance(ctx, batch, instance, node, token)
	case model.EventEnd:
		fni := engine.newFlowNodeInstance(ctx, instance, node, token)
		engine.completeAndArchive(ctx, batch, &fni)
		return engine.retireToken(ctx, batch, instance, token)
	case model.EventIntermediateThrow:
		fni := engine.newFlowNodeInstance(ctx, instance, node, token)
		instance.CaughtEvents = append(instance.CaughtEvents, runtime.CatchEvent{
			Name:     eventName(node),
			CaughtAt: time.Now(),
		})
		engine.completeAndArchive(ctx, batch, &fni)
		return engine.advance(ctx, batch, instance, node, token)
	case model.EventIntermediateCatch:
		return engine.handleIntermediateCatchEvent(ctx, batch, instance, node, token)
	case model.EventBoundary:
		return nil, newEngineErrorf("boundary event %d cannot be reached over a transition", node.ID)
	}
	return nil, newEngineErrorf("unsupported event kind %s on node %d", node.Event.Kind, node.ID)
}

func (engine *Engine) handleIntermediateCatchEvent(ctx context.Context, batch storage.Batch, instance *runtime.ProcessInstance, node *model.FlowNode, token runtime.ExecutionToken) ([]command, error) {
	if payload, ok := engine.consumeCaughtEvent(instance, eventName(node)); ok {
		instance.VariableHolder.SetVariables(payload)
		fni := engine.newFlowNodeInstance(ctx, instance, node, token)
		engine.completeAndArchive(ctx, batch, &fni)
		return engine.advance(ctx, batch, instance, node, token)
	}

	fni := engine.newFlowNodeInstance(ctx, instance, node, token)
	fni.Stable = true
	batch.SaveFlowNodeInstance(ctx, fni)
	token.NodeID = node.ID
	token.State = runtime.TokenStateWaiting
	batch.SaveToken(ctx, token)

	if node.Event.Trigger == model.TriggerTimer && engine.scheduleTimers {
		engine.scheduleTimer(ctx, batch, instance.Key, node)
	}
	return nil, nil
}

// scheduleTimer arms an in-process timer delivering the event once the
// ISO-8601 duration elapsed. The duration was validated at deploy time.
func (engine *Engine) scheduleTimer(ctx context.Context, batch storage.Batch, processInstanceKey int64, node *model.FlowNode) {
	d, err := duration.ParseISO8601(node.Event.TimerDuration)
	if err != nil {
		engine.logger.Error("invalid timer duration slipped past validation",
			"node", node.ID, "duration", node.Event.TimerDuration, "error", err)
		return
	}
	due := d.Shift(time.Now())
	nodeID := node.ID
	batch.AddPostFlushAction(ctx, func() {
		time.AfterFunc(time.Until(due), func() {
			if err := engine.DeliverEventToNode(context.Background(), processInstanceKey, nodeID, nil); err != nil {
				engine.logger.Error("failed to deliver timer event",
					"instance", processInstanceKey, "node", nodeID, "error", err)
			}
		})
	})
}

// handleBoundaryEvent fires a triggered boundary event. An interrupting
// boundary aborts the hosting activity's live subtree before following
// the boundary's outgoing transitions; a non-interrupting one leaves the
// host running and forks a child token.
func (engine *Engine) handleBoundaryEvent(ctx context.Context, batch storage.Batch, instance *runtime.ProcessInstance, node *model.FlowNode, payload map[string]any) ([]command, error) {
	host := instance.Definition.NodeByID(node.Event.AttachedTo)
	if host == nil {
		return nil, newEngineErrorf("boundary event %d is attached to unknown node %d", node.ID, node.Event.AttachedTo)
	}
	hostInstance, found, err := engine.findLiveInstanceAt(ctx, instance.Key, host.ID)
	if err != nil {
		return nil, err
	}
	if !found {
		// the hosting activity already finished, nothing to interrupt
		return nil, nil
	}
	hostToken, err := engine.persistence.GetTokenByKey(ctx, hostInstance.TokenKey)
	if err != nil {
		return nil, errors.Join(newEngineErrorf("failed to load token %d of hosting activity", hostInstance.TokenKey), err)
	}
	instance.VariableHolder.SetVariables(payload)

	fni := engine.newFlowNodeInstance(ctx, instance, node, hostToken)
	engine.completeAndArchive(ctx, batch, &fni)

	if node.Event.Interrupting {
		if err := engine.abortFlowNodeInstance(ctx, batch, instance, &hostInstance, runtime.CategoryAborting); err != nil {
			return nil, err
		}
		token := engine.newToken(instance, node.ID, hostToken.ParentKey)
		batch.SaveToken(ctx, token)
		return engine.advance(ctx, batch, instance, node, token)
	}
	token := engine.newToken(instance, node.ID, hostToken.Key)
	batch.SaveToken(ctx, token)
	return engine.advance(ctx, batch, instance, node, token)
}

func (engine *Engine) findLiveInstanceAt(ctx context.Context, processInstanceKey int64, nodeID int64) (runtime.FlowNodeInstance, bool, error) {
	instances, err := engine.persistence.FindFlowNodeInstances(ctx, processInstanceKey)
	if err != nil {
		return runtime.FlowNodeInstance{}, false, errors.Join(newEngineErrorf("failed to find flow node instances of %d", processInstanceKey), err)
	}
	for _, fni := range instances {
		if fni.NodeID == nodeID && !fni.Terminal() {
			return fni, true, nil
		}
	}
	return runtime.FlowNodeInstance{}, false, nil
}

// consumeCaughtEvent consumes the first unconsumed caught event with the
// given name, if any.
func (engine *Engine) consumeCaughtEvent(instance *runtime.ProcessInstance, name string) (map[string]any, bool) {
	for i := range instance.CaughtEvents {
		event := &instance.CaughtEvents[i]
		if event.IsConsumed || event.Name != name {
			continue
		}
		event.IsConsumed = true
		return event.Payload, true
	}
	return nil, false
}

// eventName is the correlation name of a catch or throw event.
func eventName(node *model.FlowNode) string {
	if node.Event.MessageName != "" {
		return node.Event.MessageName
	}
	if node.Event.SignalName != "" {
		return node.Event.SignalName
	}
	return node.Name
}

// catcherMatches reports whether a waiting node consumes events with the
// given name.
func catcherMatches(node *model.FlowNode, name string) bool {
	if node.IsEvent(model.EventIntermediateCatch) {
		return eventName(node) == name
	}
	if node.IsActivity(model.ActivityReceive) {
		return node.Name == name
	}
	return false
}
