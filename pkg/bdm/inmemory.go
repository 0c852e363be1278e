package bdm

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// InMemoryRepository keeps business data entities in process memory,
// keyed by class name and identifier.
type InMemoryRepository struct {
	mu       sync.RWMutex
	entities map[string]map[string]*Entity
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		entities: map[string]map[string]*Entity{},
	}
}

func (r *InMemoryRepository) Merge(ctx context.Context, entity *Entity) (*Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := entity.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	class := r.entities[stored.ClassName]
	if class == nil {
		class = map[string]*Entity{}
		r.entities[stored.ClassName] = class
	}
	class[stored.ID] = stored
	return stored.Clone(), nil
}

func (r *InMemoryRepository) FindByID(ctx context.Context, className string, id string) (*Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entity, ok := r.entities[className][id]
	if !ok {
		return nil, fmt.Errorf("no entity of class %q with id %s", className, id)
	}
	return entity.Clone(), nil
}

func (r *InMemoryRepository) Remove(ctx context.Context, entity *Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	class, ok := r.entities[entity.ClassName]
	if !ok {
		return fmt.Errorf("no entity of class %q with id %s", entity.ClassName, entity.ID)
	}
	if _, ok := class[entity.ID]; !ok {
		return fmt.Errorf("no entity of class %q with id %s", entity.ClassName, entity.ID)
	}
	delete(class, entity.ID)
	return nil
}
