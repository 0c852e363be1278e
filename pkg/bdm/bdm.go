// Package bdm binds named business data references to externally persisted
// entities. A process instance never owns an entity, it holds a
// RefBusinessDataInstance carrying the entity's persistent identifier.
package bdm

import (
	"context"
	"fmt"
	"sync"

	"github.com/bonitasoft/bonita-engine-sub045/pkg/ptr"
)

// Entity is one business data record. ID is empty until the repository
// persisted the entity for the first time.
type Entity struct {
	ID        string
	ClassName string
	Fields    map[string]any
}

// Clone returns a deep copy of the entity's top level fields.
func (e *Entity) Clone() *Entity {
	fields := make(map[string]any, len(e.Fields))
	for k, v := range e.Fields {
		fields[k] = v
	}
	return &Entity{ID: e.ID, ClassName: e.ClassName, Fields: fields}
}

// Repository is the external persistence collaborator for business data.
type Repository interface {
	// Merge persists the entity and returns the persisted state, assigning
	// an identifier on first persist.
	Merge(ctx context.Context, entity *Entity) (*Entity, error)
	FindByID(ctx context.Context, className string, id string) (*Entity, error)
	Remove(ctx context.Context, entity *Entity) error
}

// RefBusinessDataInstance is the per-scope reference record. DataID is nil
// while the entity has not been created yet or after a delete.
type RefBusinessDataInstance struct {
	Name          string
	ScopeKey      int64
	DataClassName string
	DataID        *string
}

// Declaration registers one business data name within a scope.
type Declaration struct {
	Name      string
	ClassName string
}

// Binder resolves business data operations against the repository. The
// set of known entity classes is explicit per scope, there is no global
// class registry.
type Binder struct {
	repository Repository

	mu   sync.Mutex
	refs map[int64]map[string]*RefBusinessDataInstance
}

func NewBinder(repository Repository) *Binder {
	return &Binder{
		repository: repository,
		refs:       map[int64]map[string]*RefBusinessDataInstance{},
	}
}

// DeclareScope registers the business data names available within the
// given scope, typically a process instance key.
func (b *Binder) DeclareScope(scopeKey int64, declarations []Declaration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	scope := b.refs[scopeKey]
	if scope == nil {
		scope = map[string]*RefBusinessDataInstance{}
		b.refs[scopeKey] = scope
	}
	for _, d := range declarations {
		if _, ok := scope[d.Name]; ok {
			continue
		}
		scope[d.Name] = &RefBusinessDataInstance{
			Name:          d.Name,
			ScopeKey:      scopeKey,
			DataClassName: d.ClassName,
		}
	}
}

// Ref returns the reference record for a declared name.
func (b *Binder) Ref(scopeKey int64, name string) (RefBusinessDataInstance, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ref, ok := b.refs[scopeKey][name]
	if !ok {
		return RefBusinessDataInstance{}, false
	}
	return *ref, true
}

func (b *Binder) ref(scopeKey int64, name string) (*RefBusinessDataInstance, error) {
	ref, ok := b.refs[scopeKey][name]
	if !ok {
		return nil, &InvalidReferenceError{Msg: fmt.Sprintf("business data %q is not declared in scope %d", name, scopeKey)}
	}
	return ref, nil
}

// NewBatch opens a per-operation-batch evaluation context for one flow
// node execution. Retrievals within a batch observe a consistent value.
func (b *Binder) NewBatch(scopeKey int64) *OperationBatch {
	return &OperationBatch{
		binder:   b,
		scopeKey: scopeKey,
		cache:    map[string]*Entity{},
	}
}

// OperationBatch caches resolved entities so that multiple operations
// referencing the same name within one flow node execution avoid
// redundant repository round-trips.
type OperationBatch struct {
	binder   *Binder
	scopeKey int64
	cache    map[string]*Entity
}

// AttachExisting stores the identifier of an already persisted entity in
// the reference record.
func (ob *OperationBatch) AttachExisting(ctx context.Context, name string, value any) error {
	ob.binder.mu.Lock()
	defer ob.binder.mu.Unlock()
	ref, err := ob.binder.ref(ob.scopeKey, name)
	if err != nil {
		return err
	}
	entity, err := entityOf(value, ref.DataClassName)
	if err != nil {
		return &InvalidReferenceError{Msg: fmt.Sprintf("cannot attach business data %q: %s", name, err)}
	}
	if entity.ID == "" {
		return &InvalidReferenceError{Msg: fmt.Sprintf("cannot attach business data %q: entity was never persisted", name)}
	}
	ref.DataID = ptr.To(entity.ID)
	ob.cache[name] = entity.Clone()
	return nil
}

// CreateOrUpdate persists the value through the repository and updates the
// stored identifier when it changed.
func (ob *OperationBatch) CreateOrUpdate(ctx context.Context, name string, value any) error {
	ob.binder.mu.Lock()
	defer ob.binder.mu.Unlock()
	ref, err := ob.binder.ref(ob.scopeKey, name)
	if err != nil {
		return err
	}
	entity, err := entityOf(value, ref.DataClassName)
	if err != nil {
		return &OperationExecutionError{Msg: fmt.Sprintf("cannot persist business data %q: %s", name, err)}
	}
	persisted, err := ob.binder.repository.Merge(ctx, entity)
	if err != nil {
		return &OperationExecutionError{Msg: fmt.Sprintf("failed to persist business data %q", name), Err: err}
	}
	if ref.DataID == nil || *ref.DataID != persisted.ID {
		ref.DataID = ptr.To(persisted.ID)
	}
	ob.cache[name] = persisted.Clone()
	return nil
}

// Retrieve resolves the current entity value. A reference without a stored
// identifier yields a fresh default instance, representing "not yet
// created" lazily.
func (ob *OperationBatch) Retrieve(ctx context.Context, name string) (*Entity, error) {
	if cached, ok := ob.cache[name]; ok {
		return cached, nil
	}
	ob.binder.mu.Lock()
	defer ob.binder.mu.Unlock()
	ref, err := ob.binder.ref(ob.scopeKey, name)
	if err != nil {
		return nil, err
	}
	if ref.DataID == nil {
		entity := &Entity{ClassName: ref.DataClassName, Fields: map[string]any{}}
		ob.cache[name] = entity
		return entity, nil
	}
	entity, err := ob.binder.repository.FindByID(ctx, ref.DataClassName, *ref.DataID)
	if err != nil {
		return nil, &OperationExecutionError{Msg: fmt.Sprintf("failed to load business data %q by id %s", name, *ref.DataID), Err: err}
	}
	ob.cache[name] = entity
	return entity, nil
}

// Delete removes the persisted entity and clears the stored identifier.
// The reference is cleared even when the underlying delete fails, so a
// failed delete can leave an orphaned entity to be reconciled externally,
// but never a dangling live reference.
func (ob *OperationBatch) Delete(ctx context.Context, name string) error {
	ob.binder.mu.Lock()
	defer ob.binder.mu.Unlock()
	ref, err := ob.binder.ref(ob.scopeKey, name)
	if err != nil {
		return err
	}
	delete(ob.cache, name)
	if ref.DataID == nil {
		return nil
	}
	id := *ref.DataID
	ref.DataID = nil
	entity := &Entity{ID: id, ClassName: ref.DataClassName}
	if err := ob.binder.repository.Remove(ctx, entity); err != nil {
		return &OperationExecutionError{Msg: fmt.Sprintf("failed to delete business data %q, reference was cleared", name), Err: err}
	}
	return nil
}

func entityOf(value any, className string) (*Entity, error) {
	if value == nil {
		return nil, fmt.Errorf("value is nil")
	}
	entity, ok := value.(*Entity)
	if !ok {
		return nil, fmt.Errorf("value of type %T is not a business data entity", value)
	}
	if entity.ClassName != className {
		return nil, fmt.Errorf("entity class %q does not match declared class %q", entity.ClassName, className)
	}
	return entity, nil
}
