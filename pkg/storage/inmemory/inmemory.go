// Package inmemory provides an in-process Storage implementation used by
// tests and the demo daemon. All state lives behind one mutex; batches are
// applied atomically under it.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/bonitasoft/bonita-engine-sub045/pkg/engine/runtime"
	"github.com/bonitasoft/bonita-engine-sub045/pkg/model"
	"github.com/bonitasoft/bonita-engine-sub045/pkg/storage"
)

type Store struct {
	mu sync.RWMutex

	definitions         map[int64]*model.ProcessDefinition
	instances           map[int64]runtime.ProcessInstance
	tokens              map[int64]runtime.ExecutionToken
	flowNodes           map[int64]runtime.FlowNodeInstance
	gateways            map[int64]runtime.GatewayInstance
	transitions         map[int64]runtime.TransitionInstance
	archivedFlowNodes   map[int64]runtime.FlowNodeInstance
	archivedGateways    map[int64]runtime.GatewayInstance
	archivedTransitions map[int64]runtime.TransitionInstance
	incidents           map[int64]runtime.Incident
}

var _ storage.Storage = (*Store)(nil)

func New() *Store {
	return &Store{
		definitions:         make(map[int64]*model.ProcessDefinition),
		instances:           make(map[int64]runtime.ProcessInstance),
		tokens:              make(map[int64]runtime.ExecutionToken),
		flowNodes:           make(map[int64]runtime.FlowNodeInstance),
		gateways:            make(map[int64]runtime.GatewayInstance),
		transitions:         make(map[int64]runtime.TransitionInstance),
		archivedFlowNodes:   make(map[int64]runtime.FlowNodeInstance),
		archivedGateways:    make(map[int64]runtime.GatewayInstance),
		archivedTransitions: make(map[int64]runtime.TransitionInstance),
		incidents:           make(map[int64]runtime.Incident),
	}
}

func (s *Store) SaveProcessDefinition(ctx context.Context, definition *model.ProcessDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.definitions[definition.Key] = definition
	return nil
}

func (s *Store) FindProcessDefinitionsByName(ctx context.Context, name string) ([]*model.ProcessDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var definitions []*model.ProcessDefinition
	for _, d := range s.definitions {
		if d.Name == name {
			definitions = append(definitions, d)
		}
	}
	sort.Slice(definitions, func(i, j int) bool {
		return definitions[i].Version < definitions[j].Version
	})
	return definitions, nil
}

func (s *Store) FindLatestProcessDefinitionByName(ctx context.Context, name string) (*model.ProcessDefinition, error) {
	definitions, err := s.FindProcessDefinitionsByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(definitions) == 0 {
		return nil, fmt.Errorf("process definition %s: %w", name, storage.ErrNotFound)
	}
	return definitions[len(definitions)-1], nil
}

func (s *Store) FindProcessDefinitionByKey(ctx context.Context, key int64) (*model.ProcessDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.definitions[key]
	if !ok {
		return nil, fmt.Errorf("process definition %d: %w", key, storage.ErrNotFound)
	}
	return d, nil
}

func (s *Store) SaveProcessInstance(ctx context.Context, instance runtime.ProcessInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[instance.Key] = instance
	return nil
}

func (s *Store) FindProcessInstanceByKey(ctx context.Context, key int64) (runtime.ProcessInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.instances[key]
	if !ok {
		return runtime.ProcessInstance{}, fmt.Errorf("process instance %d: %w", key, storage.ErrNotFound)
	}
	return i, nil
}

func (s *Store) FindChildProcessInstances(ctx context.Context, parentActivityInstanceKey int64) ([]runtime.ProcessInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var children []runtime.ProcessInstance
	for _, i := range s.instances {
		if i.ParentActivityInstanceKey == parentActivityInstanceKey {
			children = append(children, i)
		}
	}
	sort.Slice(children, func(a, b int) bool { return children[a].Key < children[b].Key })
	return children, nil
}

func (s *Store) SaveToken(ctx context.Context, token runtime.ExecutionToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token.Key] = token
	return nil
}

func (s *Store) GetTokenByKey(ctx context.Context, key int64) (runtime.ExecutionToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[key]
	if !ok {
		return runtime.ExecutionToken{}, fmt.Errorf("token %d: %w", key, storage.ErrNotFound)
	}
	return t, nil
}

func (s *Store) FindTokens(ctx context.Context, processInstanceKey int64, states ...runtime.TokenState) ([]runtime.ExecutionToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var tokens []runtime.ExecutionToken
	for _, t := range s.tokens {
		if t.ProcessInstanceKey != processInstanceKey {
			continue
		}
		if len(states) == 0 || containsState(states, t.State) {
			tokens = append(tokens, t)
		}
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].Key < tokens[j].Key })
	return tokens, nil
}

func (s *Store) SaveFlowNodeInstance(ctx context.Context, instance runtime.FlowNodeInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flowNodes[instance.Key] = instance
	return nil
}

func (s *Store) FindFlowNodeInstanceByKey(ctx context.Context, key int64) (runtime.FlowNodeInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i, ok := s.flowNodes[key]; ok {
		return i, nil
	}
	if i, ok := s.archivedFlowNodes[key]; ok {
		return i, nil
	}
	return runtime.FlowNodeInstance{}, fmt.Errorf("flow node instance %d: %w", key, storage.ErrNotFound)
}

func (s *Store) FindFlowNodeInstances(ctx context.Context, processInstanceKey int64) ([]runtime.FlowNodeInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var instances []runtime.FlowNodeInstance
	for _, i := range s.flowNodes {
		if i.ProcessInstanceKey == processInstanceKey {
			instances = append(instances, i)
		}
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].Key < instances[j].Key })
	return instances, nil
}

func (s *Store) SaveGatewayInstance(ctx context.Context, instance runtime.GatewayInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gateways[instance.Key] = instance
	return nil
}

func (s *Store) FindActiveGatewayInstance(ctx context.Context, processInstanceKey int64, nodeID int64) (runtime.GatewayInstance, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.gateways {
		if g.ProcessInstanceKey == processInstanceKey && g.NodeID == nodeID && g.Phase != runtime.GatewayFired {
			return g, true, nil
		}
	}
	return runtime.GatewayInstance{}, false, nil
}

func (s *Store) FindActiveGatewayInstances(ctx context.Context, processInstanceKey int64) ([]runtime.GatewayInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var gateways []runtime.GatewayInstance
	for _, g := range s.gateways {
		if g.ProcessInstanceKey == processInstanceKey && g.Phase != runtime.GatewayFired {
			gateways = append(gateways, g)
		}
	}
	sort.Slice(gateways, func(a, b int) bool { return gateways[a].Key < gateways[b].Key })
	return gateways, nil
}

func (s *Store) ArchiveFlowNodeInstance(ctx context.Context, instance runtime.FlowNodeInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archiveFlowNodeInstanceLocked(instance)
	return nil
}

func (s *Store) ArchiveGatewayInstance(ctx context.Context, instance runtime.GatewayInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archiveGatewayInstanceLocked(instance)
	return nil
}

func (s *Store) SaveTransitionInstance(ctx context.Context, instance runtime.TransitionInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitions[instance.Key] = instance
	return nil
}

func (s *Store) ArchiveTransitionInstance(ctx context.Context, instance runtime.TransitionInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archiveTransitionInstanceLocked(instance)
	return nil
}

// archival is append-only and idempotent under the record key: a repeated
// archive of the same key (crash-and-retry) leaves the first record.
func (s *Store) archiveFlowNodeInstanceLocked(instance runtime.FlowNodeInstance) {
	delete(s.flowNodes, instance.Key)
	if _, done := s.archivedFlowNodes[instance.Key]; !done {
		s.archivedFlowNodes[instance.Key] = instance
	}
}

func (s *Store) archiveGatewayInstanceLocked(instance runtime.GatewayInstance) {
	delete(s.gateways, instance.Key)
	if _, done := s.archivedGateways[instance.Key]; !done {
		s.archivedGateways[instance.Key] = instance
	}
}

func (s *Store) archiveTransitionInstanceLocked(instance runtime.TransitionInstance) {
	delete(s.transitions, instance.Key)
	if _, done := s.archivedTransitions[instance.Key]; !done {
		s.archivedTransitions[instance.Key] = instance
	}
}

func (s *Store) FindArchivedFlowNodeInstances(ctx context.Context, processInstanceKey int64) ([]runtime.FlowNodeInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var instances []runtime.FlowNodeInstance
	for _, i := range s.archivedFlowNodes {
		if i.ProcessInstanceKey == processInstanceKey {
			instances = append(instances, i)
		}
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].Key < instances[j].Key })
	return instances, nil
}

func (s *Store) FindArchivedTransitionInstances(ctx context.Context, processInstanceKey int64) ([]runtime.TransitionInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var instances []runtime.TransitionInstance
	for _, i := range s.archivedTransitions {
		if i.ProcessInstanceKey == processInstanceKey {
			instances = append(instances, i)
		}
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].Key < instances[j].Key })
	return instances, nil
}

func (s *Store) SaveIncident(ctx context.Context, incident runtime.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents[incident.Key] = incident
	return nil
}

func (s *Store) FindIncidentByKey(ctx context.Context, key int64) (runtime.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.incidents[key]
	if !ok {
		return runtime.Incident{}, fmt.Errorf("incident %d: %w", key, storage.ErrNotFound)
	}
	return i, nil
}

func (s *Store) FindIncidentsByProcessInstanceKey(ctx context.Context, processInstanceKey int64) ([]runtime.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var incidents []runtime.Incident
	for _, i := range s.incidents {
		if i.ProcessInstanceKey == processInstanceKey {
			incidents = append(incidents, i)
		}
	}
	sort.Slice(incidents, func(i, j int) bool { return incidents[i].Key < incidents[j].Key })
	return incidents, nil
}

func containsState(states []runtime.TokenState, state runtime.TokenState) bool {
	for _, s := range states {
		if s == state {
			return true
		}
	}
	return false
}
