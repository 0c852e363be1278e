package engine

import (
	"context"
	"errors"
	"time"

	"github.com/bonitasoft/bonita-engine-sub045/pkg/engine/runtime"
	"github.com/bonitasoft/bonita-engine-sub045/pkg/storage"
)

// abortFlowNodeInstance cascades ABORTING or CANCELLING over the instance
// and every live descendant: child process instances, their flow node
// instances and tokens. All writes ride the caller's batch, so the whole
// cascade becomes visible atomically on flush; a failed flush leaves no
// partially aborted subtree behind.
func (engine *Engine) abortFlowNodeInstance(ctx context.Context, batch storage.Batch, instance *runtime.ProcessInstance, fni *runtime.FlowNodeInstance, category runtime.StateCategory) error {
	fni.Category = category
	fni.SetState(runtime.ActivityStateTerminated, time.Now())
	fni.Stable = true
	batch.ArchiveFlowNodeInstance(ctx, *fni)

	token, err := engine.persistence.GetTokenByKey(ctx, fni.TokenKey)
	if err == nil && token.State != runtime.TokenStateCompleted {
		token.State = runtime.TokenStateCompleted
		batch.SaveToken(ctx, token)
	}

	children, err := engine.persistence.FindChildProcessInstances(ctx, fni.Key)
	if err != nil {
		return errors.Join(newEngineErrorf("failed to find child instances of activity instance %d", fni.Key), err)
	}
	for _, child := range children {
		if child.State.Terminal() {
			continue
		}
		if err := engine.abortProcessInstanceTree(ctx, batch, child, category); err != nil {
			return err
		}
	}
	return nil
}

// abortProcessInstanceTree terminates a whole child process instance:
// every live flow node instance, gateway instance and token, recursing
// into its own children.
func (engine *Engine) abortProcessInstanceTree(ctx context.Context, batch storage.Batch, instance runtime.ProcessInstance, category runtime.StateCategory) error {
	flowNodes, err := engine.persistence.FindFlowNodeInstances(ctx, instance.Key)
	if err != nil {
		return errors.Join(newEngineErrorf("failed to find flow node instances of %d", instance.Key), err)
	}
	for _, fni := range flowNodes {
		if fni.Terminal() {
			continue
		}
		if err := engine.abortFlowNodeInstance(ctx, batch, &instance, &fni, category); err != nil {
			return err
		}
	}

	gateways, err := engine.persistence.FindActiveGatewayInstances(ctx, instance.Key)
	if err != nil {
		return errors.Join(newEngineErrorf("failed to find gateway instances of %d", instance.Key), err)
	}
	for _, gateway := range gateways {
		gateway.Category = category
		gateway.Phase = runtime.GatewayFired
		gateway.SetState(runtime.ActivityStateTerminated, time.Now())
		batch.ArchiveGatewayInstance(ctx, gateway)
	}

	tokens, err := engine.persistence.FindTokens(ctx, instance.Key,
		runtime.TokenStateRunning, runtime.TokenStateWaiting, runtime.TokenStateFailed)
	if err != nil {
		return errors.Join(newEngineErrorf("failed to find tokens of %d", instance.Key), err)
	}
	for _, token := range tokens {
		token.State = runtime.TokenStateCompleted
		batch.SaveToken(ctx, token)
	}

	instance.State = runtime.ActivityStateTerminated
	batch.SaveProcessInstance(ctx, instance)
	return nil
}

// abortRemainingChildren terminates the live child instances a satisfied
// completion condition made redundant.
func (engine *Engine) abortRemainingChildren(ctx context.Context, batch storage.Batch, activityInstanceKey int64) error {
	children, err := engine.persistence.FindChildProcessInstances(ctx, activityInstanceKey)
	if err != nil {
		return errors.Join(newEngineErrorf("failed to find child instances of activity instance %d", activityInstanceKey), err)
	}
	for _, child := range children {
		if child.State.Terminal() {
			continue
		}
		if err := engine.abortProcessInstanceTree(ctx, batch, child, runtime.CategoryAborting); err != nil {
			return err
		}
	}
	return nil
}

// CancelProcessInstance terminates a process instance and its whole live
// subtree. The cancellation applies atomically.
func (engine *Engine) CancelProcessInstance(ctx context.Context, processInstanceKey int64) error {
	instance, err := engine.loadInstance(ctx, processInstanceKey)
	if err != nil {
		return err
	}
	if instance.State.Terminal() {
		return nil
	}
	mu := engine.lockInstance(instance.Key)
	defer mu.Unlock()

	batch := engine.persistence.NewBatch()
	if err := engine.abortProcessInstanceTree(ctx, batch, instance, runtime.CategoryCancelling); err != nil {
		batch.Clear(ctx)
		return err
	}
	if err := batch.Flush(ctx); err != nil {
		return errors.Join(newEngineErrorf("failed to flush cancellation of instance %d", processInstanceKey), err)
	}
	return nil
}
