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

// handleGatewayArrival records an inbound token on the gateway's live
// instance and fires the gateway once it is ready. Tokens park in waiting
// state on the gateway node until the firing consumes them.
func (engine *Engine) handleGatewayArrival(ctx context.Context, batch storage.Batch, instance *runtime.ProcessInstance, node *model.FlowNode, token runtime.ExecutionToken, inboundTransition int64) ([]command, error) {
	gateway, found, err := engine.persistence.FindActiveGatewayInstance(ctx, instance.Key, node.ID)
	if err != nil {
		return nil, errors.Join(newEngineErrorf("failed to load gateway instance for node %d", node.ID), err)
	}
	if !found {
		gateway = runtime.GatewayInstance{
			FlowNodeInstance: engine.newFlowNodeInstance(ctx, instance, node, token),
			Phase:            runtime.GatewayWaiting,
		}
	}
	if inboundTransition != 0 {
		gateway.Hit(inboundTransition)
	}
	token.NodeID = node.ID
	token.State = runtime.TokenStateWaiting
	batch.SaveToken(ctx, token)

	if node.IsGateway(model.GatewayInclusive, model.GatewayComplex) {
		// dead path analysis reads token positions from storage
		if err := batch.Flush(ctx); err != nil {
			return nil, errors.Join(newEngineErrorf("failed to flush batch before dead path analysis of gateway %d", node.ID), err)
		}
	}

	ready, err := engine.gatewayReady(ctx, instance, node, &gateway)
	if err != nil {
		var ambiguity *ReachabilityAmbiguityError
		if errors.As(err, &ambiguity) {
			// not yet ready; the analysis re-runs on the next upstream resolution
			engine.logger.Debug("dead path analysis inconclusive, gateway keeps waiting",
				"instance", instance.Key, "gateway", node.ID, "reason", err.Error())
			ready = false
		} else {
			return nil, err
		}
	}
	if !ready {
		gateway.Stable = true
		batch.SaveGatewayInstance(ctx, gateway)
		// later arrivals in this pass must see the recorded hit
		if err := batch.Flush(ctx); err != nil {
			return nil, errors.Join(newEngineErrorf("failed to flush hit-state of gateway %d", node.ID), err)
		}
		return nil, nil
	}
	gateway.Phase = runtime.GatewayReady
	return engine.fireGateway(ctx, batch, instance, node, &gateway, token)
}

// fireReadyGateway re-resolves a live gateway instance and fires it; used
// when a pending-stimulus recheck proved readiness without a new arrival.
func (engine *Engine) fireReadyGateway(ctx context.Context, batch storage.Batch, instance *runtime.ProcessInstance, node *model.FlowNode) ([]command, error) {
	gateway, found, err := engine.persistence.FindActiveGatewayInstance(ctx, instance.Key, node.ID)
	if err != nil {
		return nil, errors.Join(newEngineErrorf("failed to load gateway instance for node %d", node.ID), err)
	}
	if !found {
		return nil, nil
	}
	gateway.Phase = runtime.GatewayReady
	return engine.fireGateway(ctx, batch, instance, node, &gateway, runtime.ExecutionToken{})
}

// gatewayReady resolves the readiness of a waiting gateway instance.
//
// EXCLUSIVE is ready on the first arrival. PARALLEL requires every
// declared inbound transition hit exactly once since the last firing.
// INCLUSIVE additionally accepts an un-hit inbound transition when no
// live token can still deliver over it (dead path elimination).
func (engine *Engine) gatewayReady(ctx context.Context, instance *runtime.ProcessInstance, node *model.FlowNode, gateway *runtime.GatewayInstance) (bool, error) {
	incoming, _ := instance.Definition.TransitionsOf(node.ID)
	switch node.Gateway.Kind {
	case model.GatewayExclusive:
		return true, nil
	case model.GatewayParallel:
		for _, transition := range incoming {
			if gateway.HitCount(transition.ID) != 1 {
				return false, nil
			}
		}
		return true, nil
	case model.GatewayInclusive, model.GatewayComplex:
		for _, transition := range incoming {
			if gateway.HitCount(transition.ID) > 0 {
				continue
			}
			reachable, err := engine.transitionStillReachable(ctx, instance, node, transition)
			if err != nil {
				return false, err
			}
			if reachable {
				return false, nil
			}
		}
		return true, nil
	}
	return false, newEngineErrorf("unsupported gateway kind %s on node %d", node.Gateway.Kind, node.ID)
}

// fireGateway archives the gateway's hit-state, consumes the tokens parked
// on it and hands new tokens to the taken outbound transitions. Exclusive
// gateways pass the arriving token through; parallel and inclusive
// gateways retire the consumed tokens and mint one child per branch.
func (engine *Engine) fireGateway(ctx context.Context, batch storage.Batch, instance *runtime.ProcessInstance, node *model.FlowNode, gateway *runtime.GatewayInstance, arriving runtime.ExecutionToken) ([]command, error) {
	scope := instance.VariableHolder.Variables()
	_, outgoing := instance.Definition.TransitionsOf(node.ID)

	var taken []*model.Transition
	var err error
	switch node.Gateway.Kind {
	case model.GatewayExclusive:
		taken, err = engine.route(node, instance.Definition, scope)
	case model.GatewayInclusive, model.GatewayComplex:
		taken, err = engine.viableTransitions(node, outgoing, scope)
	default:
		taken = outgoing
	}
	if err != nil {
		// guard failure: keep the hit-state so the firing can be retried
		gateway.Stable = true
		batch.SaveGatewayInstance(ctx, *gateway)
		return nil, err
	}
	if len(taken) == 0 {
		return nil, newEngineErrorf("gateway %d fired with no outgoing transition", node.ID)
	}

	// hit-state is archived immediately so a loop re-entry starts clean
	gateway.Phase = runtime.GatewayFired
	gateway.SetState(runtime.ActivityStateCompleted, time.Now())
	gateway.Stable = true
	batch.ArchiveGatewayInstance(ctx, *gateway)
	if err := batch.Flush(ctx); err != nil {
		return nil, errors.Join(newEngineErrorf("failed to flush batch while firing gateway %d", node.ID), err)
	}

	waiting, err := engine.persistence.FindTokens(ctx, instance.Key, runtime.TokenStateWaiting)
	if err != nil {
		return nil, errors.Join(newEngineErrorf("failed to find waiting tokens of instance %d", instance.Key), err)
	}
	var consumed []runtime.ExecutionToken
	for _, token := range waiting {
		if token.NodeID == node.ID {
			consumed = append(consumed, token)
		}
	}
	if len(consumed) == 0 {
		if arriving.Key == 0 {
			return nil, newEngineErrorf("gateway %d fired without a consumable token", node.ID)
		}
		consumed = []runtime.ExecutionToken{arriving}
	}

	if node.Gateway.Kind == model.GatewayExclusive {
		token := consumed[0]
		token.State = runtime.TokenStateRunning
		return []command{flowTransitionCommand{transition: taken[0], token: token, sourceKey: gateway.Key}}, nil
	}

	for _, token := range consumed {
		token.State = runtime.TokenStateCompleted
		batch.SaveToken(ctx, token)
	}
	base := consumed[0]
	commands := make([]command, 0, len(taken))
	for _, transition := range taken {
		child := engine.newToken(instance, node.ID, base.Key)
		if len(taken) == 1 {
			// pure join: the merged token rejoins the pre-fork lineage
			child.ParentKey = base.ParentKey
		}
		batch.SaveToken(ctx, child)
		commands = append(commands, flowTransitionCommand{transition: transition, token: child, sourceKey: gateway.Key})
	}
	return commands, nil
}

// transitionStillReachable reports whether a not-yet-hit inbound
// transition of a gateway can still deliver a token: some live token must
// be able to reach the transition's source through the remaining graph.
// Upstream choices that already resolved are gone from the token
// positions, so a branch dropped by an exclusive gateway is proven dead.
func (engine *Engine) transitionStillReachable(ctx context.Context, instance *runtime.ProcessInstance, gateway *model.FlowNode, transition *model.Transition) (bool, error) {
	tokens, err := engine.persistence.FindTokens(ctx, instance.Key,
		runtime.TokenStateRunning, runtime.TokenStateWaiting, runtime.TokenStateFailed)
	if err != nil {
		return false, errors.Join(newEngineErrorf("failed to find live tokens of instance %d", instance.Key), err)
	}
	for _, token := range tokens {
		if token.NodeID == gateway.ID {
			if token.State == runtime.TokenStateWaiting {
				// parked on this gateway, already counted in hitBys
				continue
			}
			// an arrival in flight, its hit is not recorded yet
			return true, nil
		}
		start := instance.Definition.NodeByID(token.NodeID)
		if start == nil {
			return false, &ReachabilityAmbiguityError{
				GatewayID: gateway.ID,
				Msg:       fmt.Sprintf("token %d rests on unknown node %d", token.Key, token.NodeID),
			}
		}
		if canReach(instance.Definition, start.ID, transition.Source) {
			return true, nil
		}
	}
	return false, nil
}

// canReach walks the definition graph forward from a node. A gateway that
// has not fired yet may take any of its outgoing transitions, so every
// outgoing edge counts; boundary events attached to an activity count as
// departures of that activity.
func canReach(definition *model.ProcessDefinition, fromNodeID int64, targetNodeID int64) bool {
	if fromNodeID == targetNodeID {
		return true
	}
	visited := map[int64]bool{fromNodeID: true}
	queue := []int64{fromNodeID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		next := []int64{}
		_, outgoing := definition.TransitionsOf(current)
		for _, transition := range outgoing {
			next = append(next, transition.Target)
		}
		for _, boundary := range definition.Container.BoundaryEventsOf(current) {
			next = append(next, boundary.ID)
		}
		for _, id := range next {
			if visited[id] {
				continue
			}
			if id == targetNodeID {
				return true
			}
			visited[id] = true
			queue = append(queue, id)
		}
	}
	return false
}
