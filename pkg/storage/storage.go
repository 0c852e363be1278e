// Package storage defines the durable store consumed by the process
// engine. Live records (instances that may still advance) are upserted;
// terminal flow node, gateway and transition records are archived
// append-only and never mutated in place.
package storage

import (
	"context"

	"github.com/bonitasoft/bonita-engine-sub045/pkg/engine/runtime"
	"github.com/bonitasoft/bonita-engine-sub045/pkg/model"
)

// Storage is the persistence contract of the engine. Implementations must
// serialize writes per process instance key; the engine already guarantees
// a single writer per live instance.
type Storage interface {
	// SaveProcessDefinition persists a definition and potentially
	// overwrites prior data stored with the same definition key.
	SaveProcessDefinition(ctx context.Context, definition *model.ProcessDefinition) error

	// FindProcessDefinitionsByName returns zero or many deployed
	// definitions with the given name, ordered by version ascending.
	FindProcessDefinitionsByName(ctx context.Context, name string) ([]*model.ProcessDefinition, error)

	// FindLatestProcessDefinitionByName returns the deployed definition
	// with the highest version for the given name.
	FindLatestProcessDefinitionByName(ctx context.Context, name string) (*model.ProcessDefinition, error)

	FindProcessDefinitionByKey(ctx context.Context, key int64) (*model.ProcessDefinition, error)

	SaveProcessInstance(ctx context.Context, instance runtime.ProcessInstance) error
	FindProcessInstanceByKey(ctx context.Context, key int64) (runtime.ProcessInstance, error)
	// FindChildProcessInstances returns the child instances spawned by the
	// given composite activity instance.
	FindChildProcessInstances(ctx context.Context, parentActivityInstanceKey int64) ([]runtime.ProcessInstance, error)

	SaveToken(ctx context.Context, token runtime.ExecutionToken) error
	GetTokenByKey(ctx context.Context, key int64) (runtime.ExecutionToken, error)
	// FindTokens returns the instance's tokens in the given states; all
	// states when none is given.
	FindTokens(ctx context.Context, processInstanceKey int64, states ...runtime.TokenState) ([]runtime.ExecutionToken, error)

	// SaveFlowNodeInstance upserts a live (non-terminal) instance record.
	SaveFlowNodeInstance(ctx context.Context, instance runtime.FlowNodeInstance) error
	FindFlowNodeInstanceByKey(ctx context.Context, key int64) (runtime.FlowNodeInstance, error)
	FindFlowNodeInstances(ctx context.Context, processInstanceKey int64) ([]runtime.FlowNodeInstance, error)

	// SaveGatewayInstance upserts the live hit-state of a gateway.
	SaveGatewayInstance(ctx context.Context, instance runtime.GatewayInstance) error
	// FindActiveGatewayInstance returns the live gateway instance for the
	// given node within the process instance, if one is waiting.
	FindActiveGatewayInstance(ctx context.Context, processInstanceKey int64, nodeID int64) (runtime.GatewayInstance, bool, error)
	// FindActiveGatewayInstances returns every live gateway instance of the
	// process instance that has not fired yet.
	FindActiveGatewayInstances(ctx context.Context, processInstanceKey int64) ([]runtime.GatewayInstance, error)

	// SaveTransitionInstance upserts the live record of a token traversing
	// a transition; the record turns terminal and is archived once the
	// target node instance exists.
	SaveTransitionInstance(ctx context.Context, instance runtime.TransitionInstance) error

	// ArchiveFlowNodeInstance appends a terminal instance record and drops
	// the live record with the same key. Idempotent under the instance key.
	ArchiveFlowNodeInstance(ctx context.Context, instance runtime.FlowNodeInstance) error
	ArchiveGatewayInstance(ctx context.Context, instance runtime.GatewayInstance) error
	ArchiveTransitionInstance(ctx context.Context, instance runtime.TransitionInstance) error
	FindArchivedFlowNodeInstances(ctx context.Context, processInstanceKey int64) ([]runtime.FlowNodeInstance, error)
	FindArchivedTransitionInstances(ctx context.Context, processInstanceKey int64) ([]runtime.TransitionInstance, error)

	SaveIncident(ctx context.Context, incident runtime.Incident) error
	FindIncidentByKey(ctx context.Context, key int64) (runtime.Incident, error)
	FindIncidentsByProcessInstanceKey(ctx context.Context, processInstanceKey int64) ([]runtime.Incident, error)

	// NewBatch opens a write batch; buffered writes become visible
	// atomically on Flush.
	NewBatch() Batch
}

// Batch buffers writes belonging to one engine execution pass. Either
// every buffered write is applied on Flush or none is.
type Batch interface {
	SaveProcessInstance(ctx context.Context, instance runtime.ProcessInstance)
	SaveToken(ctx context.Context, token runtime.ExecutionToken)
	SaveFlowNodeInstance(ctx context.Context, instance runtime.FlowNodeInstance)
	SaveGatewayInstance(ctx context.Context, instance runtime.GatewayInstance)
	SaveTransitionInstance(ctx context.Context, instance runtime.TransitionInstance)
	ArchiveFlowNodeInstance(ctx context.Context, instance runtime.FlowNodeInstance)
	ArchiveGatewayInstance(ctx context.Context, instance runtime.GatewayInstance)
	ArchiveTransitionInstance(ctx context.Context, instance runtime.TransitionInstance)
	SaveIncident(ctx context.Context, incident runtime.Incident)

	// AddPostFlushAction registers a callback to run after a successful
	// Flush, outside the storage lock.
	AddPostFlushAction(ctx context.Context, action func())

	Flush(ctx context.Context) error
	// Clear drops all buffered writes and post-flush actions.
	Clear(ctx context.Context)
}
