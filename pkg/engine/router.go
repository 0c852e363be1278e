package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/bonitasoft/bonita-engine-sub045/pkg/engine/runtime"
	"github.com/bonitasoft/bonita-engine-sub045/pkg/model"
	"github.com/bonitasoft/bonita-engine-sub045/pkg/storage"
)

// route returns the outgoing transitions a completed node hands its token
// to. Exclusive gateway sources yield exactly one transition, the first
// whose guard holds, else the declared default. Every other node kind
// yields all outgoing transitions; fan-out semantics are the gateway
// evaluator's job, not the router's. A failing guard expression propagates
// as an EvaluationError, never as a silently skipped transition.
func (engine *Engine) route(node *model.FlowNode, definition *model.ProcessDefinition, scope map[string]any) ([]*model.Transition, error) {
	_, outgoing := definition.TransitionsOf(node.ID)
	if !node.IsGateway(model.GatewayExclusive) {
		return outgoing, nil
	}
	taken, err := engine.firstViableTransition(node, outgoing, scope)
	if err != nil {
		return nil, err
	}
	return []*model.Transition{taken}, nil
}

func (engine *Engine) firstViableTransition(node *model.FlowNode, outgoing []*model.Transition, scope map[string]any) (*model.Transition, error) {
	defaultID := node.Gateway.DefaultTransition
	for _, transition := range outgoing {
		if transition.ID == defaultID {
			continue
		}
		if transition.Condition == "" {
			return transition, nil
		}
		ok, err := engine.expressions.UnaryTest(transition.Condition, scope)
		if err != nil {
			return nil, &EvaluationError{
				Msg: fmt.Sprintf("failed to evaluate guard of transition %d from node %d", transition.ID, node.ID),
				Err: err,
			}
		}
		if ok {
			return transition, nil
		}
	}
	for _, transition := range outgoing {
		if transition.ID == defaultID {
			return transition, nil
		}
	}
	return nil, newEngineErrorf("no viable outgoing transition from exclusive gateway %d", node.ID)
}

// viableTransitions filters an inclusive gateway's outgoing transitions:
// every transition whose guard holds or that carries no guard, else the
// declared default.
func (engine *Engine) viableTransitions(node *model.FlowNode, outgoing []*model.Transition, scope map[string]any) ([]*model.Transition, error) {
	var taken []*model.Transition
	defaultID := node.Gateway.DefaultTransition
	for _, transition := range outgoing {
		if transition.ID == defaultID {
			continue
		}
		if transition.Condition == "" {
			taken = append(taken, transition)
			continue
		}
		ok, err := engine.expressions.UnaryTest(transition.Condition, scope)
		if err != nil {
			return nil, &EvaluationError{
				Msg: fmt.Sprintf("failed to evaluate guard of transition %d from node %d", transition.ID, node.ID),
				Err: err,
			}
		}
		if ok {
			taken = append(taken, transition)
		}
	}
	if len(taken) > 0 {
		return taken, nil
	}
	for _, transition := range outgoing {
		if transition.ID == defaultID {
			return []*model.Transition{transition}, nil
		}
	}
	return nil, newEngineErrorf("no viable outgoing transition from inclusive gateway %d", node.ID)
}

// advance moves the token past a completed non-gateway node. A single
// outgoing transition keeps the token; multiple outgoing transitions are
// an implicit fork minting one child token per branch; none retires the
// token.
func (engine *Engine) advance(ctx context.Context, batch storage.Batch, instance *runtime.ProcessInstance, node *model.FlowNode, token runtime.ExecutionToken) ([]command, error) {
	_, outgoing := instance.Definition.TransitionsOf(node.ID)
	if len(outgoing) == 0 {
		return engine.retireToken(ctx, batch, instance, token)
	}
	if len(outgoing) == 1 {
		token.State = runtime.TokenStateRunning
		return []command{flowTransitionCommand{transition: outgoing[0], token: token}}, nil
	}
	token.State = runtime.TokenStateCompleted
	batch.SaveToken(ctx, token)
	commands := make([]command, 0, len(outgoing))
	for _, transition := range outgoing {
		child := engine.newToken(instance, node.ID, token.Key)
		batch.SaveToken(ctx, child)
		commands = append(commands, flowTransitionCommand{transition: transition, token: child})
	}
	return commands, nil
}

// retireToken completes the token and, once no live token remains, closes
// the instance: Completed when every token finished, Failed when only
// failed tokens remain. Completed child instances schedule their parent
// continuation.
func (engine *Engine) retireToken(ctx context.Context, batch storage.Batch, instance *runtime.ProcessInstance, token runtime.ExecutionToken) ([]command, error) {
	token.State = runtime.TokenStateCompleted
	batch.SaveToken(ctx, token)
	if err := batch.Flush(ctx); err != nil {
		return nil, errors.Join(newEngineErrorf("failed to flush batch before completion check of instance %d", instance.Key), err)
	}
	return engine.checkInstanceCompletion(ctx, instance)
}

func (engine *Engine) checkInstanceCompletion(ctx context.Context, instance *runtime.ProcessInstance) ([]command, error) {
	live, err := engine.persistence.FindTokens(ctx, instance.Key, runtime.TokenStateRunning, runtime.TokenStateWaiting)
	if err != nil {
		return nil, errors.Join(newEngineErrorf("failed to find live tokens of instance %d", instance.Key), err)
	}
	if len(live) > 0 {
		return nil, nil
	}
	failed, err := engine.persistence.FindTokens(ctx, instance.Key, runtime.TokenStateFailed)
	if err != nil {
		return nil, errors.Join(newEngineErrorf("failed to find failed tokens of instance %d", instance.Key), err)
	}
	if len(failed) > 0 {
		instance.State = runtime.ActivityStateFailed
		return nil, nil
	}
	instance.State = runtime.ActivityStateCompleted
	engine.logger.Debug("process instance completed", "instance", instance.Key)
	if instance.Kind != runtime.InstanceKindRoot {
		return []command{continueParentCommand{child: *instance}}, nil
	}
	return nil, nil
}
