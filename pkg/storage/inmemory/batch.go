package inmemory

import (
	"context"

	"github.com/bonitasoft/bonita-engine-sub045/pkg/engine/runtime"
	"github.com/bonitasoft/bonita-engine-sub045/pkg/storage"
)

type batch struct {
	store            *Store
	writes           []func()
	postFlushActions []func()
}

var _ storage.Batch = (*batch)(nil)

func (s *Store) NewBatch() storage.Batch {
	return &batch{store: s}
}

func (b *batch) SaveProcessInstance(ctx context.Context, instance runtime.ProcessInstance) {
	b.writes = append(b.writes, func() {
		b.store.instances[instance.Key] = instance
	})
}

func (b *batch) SaveToken(ctx context.Context, token runtime.ExecutionToken) {
	b.writes = append(b.writes, func() {
		b.store.tokens[token.Key] = token
	})
}

func (b *batch) SaveFlowNodeInstance(ctx context.Context, instance runtime.FlowNodeInstance) {
	b.writes = append(b.writes, func() {
		b.store.flowNodes[instance.Key] = instance
	})
}

func (b *batch) SaveGatewayInstance(ctx context.Context, instance runtime.GatewayInstance) {
	b.writes = append(b.writes, func() {
		b.store.gateways[instance.Key] = instance
	})
}

func (b *batch) SaveTransitionInstance(ctx context.Context, instance runtime.TransitionInstance) {
	b.writes = append(b.writes, func() {
		b.store.transitions[instance.Key] = instance
	})
}

func (b *batch) ArchiveFlowNodeInstance(ctx context.Context, instance runtime.FlowNodeInstance) {
	b.writes = append(b.writes, func() {
		b.store.archiveFlowNodeInstanceLocked(instance)
	})
}

func (b *batch) ArchiveGatewayInstance(ctx context.Context, instance runtime.GatewayInstance) {
	b.writes = append(b.writes, func() {
		b.store.archiveGatewayInstanceLocked(instance)
	})
}

func (b *batch) ArchiveTransitionInstance(ctx context.Context, instance runtime.TransitionInstance) {
	b.writes = append(b.writes, func() {
		b.store.archiveTransitionInstanceLocked(instance)
	})
}

func (b *batch) SaveIncident(ctx context.Context, incident runtime.Incident) {
	b.writes = append(b.writes, func() {
		b.store.incidents[incident.Key] = incident
	})
}

func (b *batch) AddPostFlushAction(ctx context.Context, action func()) {
	b.postFlushActions = append(b.postFlushActions, action)
}

// Flush applies all buffered writes under the store lock, then runs the
// post-flush actions outside of it.
func (b *batch) Flush(ctx context.Context) error {
	b.store.mu.Lock()
	for _, write := range b.writes {
		write()
	}
	b.store.mu.Unlock()
	b.writes = nil

	actions := b.postFlushActions
	b.postFlushActions = nil
	for _, action := range actions {
		action()
	}
	return nil
}

func (b *batch) Clear(ctx context.Context) {
	b.writes = nil
	b.postFlushActions = nil
}
