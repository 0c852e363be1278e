package engine

import (
	"context"
	"errors"
	"time"

	"github.com/bonitasoft/bonita-engine-sub045/pkg/engine/runtime"
	"github.com/bonitasoft/bonita-engine-sub045/pkg/ptr"
	"github.com/bonitasoft/bonita-engine-sub045/pkg/storage"
)

// handleCommandError records a runtime fault as an incident. The failing
// token and instance stay inspectable and retryable, never silently
// dropped; sibling branches keep running.
func (engine *Engine) handleCommandError(ctx context.Context, batch storage.Batch, instance *runtime.ProcessInstance, ec errorCommand) {
	engine.logger.Error("flow node execution failed",
		"instance", instance.Key, "node", ec.node.ID, "name", ec.node.Name, "error", ec.err)

	token := ec.token
	token.State = runtime.TokenStateFailed
	batch.SaveToken(ctx, token)

	incident := runtime.Incident{
		Key:                engine.generateKey(),
		NodeID:             ec.node.ID,
		ProcessInstanceKey: instance.Key,
		Message:            ec.err.Error(),
		CreatedAt:          time.Now(),
		Token:              token,
	}
	if ec.nodeInst != nil {
		ec.nodeInst.SetState(runtime.ActivityStateFailed, time.Now())
		batch.SaveFlowNodeInstance(ctx, *ec.nodeInst)
		incident.NodeInstanceKey = ec.nodeInst.Key
	}
	batch.SaveIncident(ctx, incident)
}

// ResolveIncident marks the incident resolved and retries the failed
// token from its recorded position.
func (engine *Engine) ResolveIncident(ctx context.Context, incidentKey int64) error {
	incident, err := engine.persistence.FindIncidentByKey(ctx, incidentKey)
	if err != nil {
		return errors.Join(newEngineErrorf("failed to find incident with key %d", incidentKey), err)
	}
	if incident.ResolvedAt != nil {
		return nil
	}
	now := time.Now()
	incident.ResolvedAt = ptr.To(now)
	if err := engine.persistence.SaveIncident(ctx, incident); err != nil {
		return errors.Join(newEngineErrorf("failed to store resolved incident %d", incidentKey), err)
	}

	token, err := engine.persistence.GetTokenByKey(ctx, incident.Token.Key)
	if err != nil {
		return errors.Join(newEngineErrorf("failed to load token %d of incident %d", incident.Token.Key, incidentKey), err)
	}
	token.State = runtime.TokenStateRunning
	if err := engine.persistence.SaveToken(ctx, token); err != nil {
		return errors.Join(newEngineErrorf("failed to reset token %d of incident %d", token.Key, incidentKey), err)
	}

	if incident.NodeInstanceKey != 0 {
		// retry creates a fresh instance; the failed one is archived
		failed, err := engine.persistence.FindFlowNodeInstanceByKey(ctx, incident.NodeInstanceKey)
		if err == nil && !failed.Terminal() {
			failed.SetState(runtime.ActivityStateWithdrawn, now)
			if err := engine.persistence.ArchiveFlowNodeInstance(ctx, failed); err != nil {
				return errors.Join(newEngineErrorf("failed to archive failed instance %d", failed.Key), err)
			}
		}
	}

	_, err = engine.RunOrContinueInstance(ctx, incident.ProcessInstanceKey)
	return err
}

// FindIncidents returns the incidents recorded for a process instance.
func (engine *Engine) FindIncidents(ctx context.Context, processInstanceKey int64) ([]runtime.Incident, error) {
	return engine.persistence.FindIncidentsByProcessInstanceKey(ctx, processInstanceKey)
}
