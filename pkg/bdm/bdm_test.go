package bdm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOrUpdatePersistsAndStoresIdentifier(t *testing.T) {
	// setup
	binder := NewBinder(NewInMemoryRepository())
	binder.DeclareScope(1, []Declaration{{Name: "employee", ClassName: "com.acme.Employee"}})
	batch := binder.NewBatch(1)

	// when
	err := batch.CreateOrUpdate(context.Background(), "employee", &Entity{
		ClassName: "com.acme.Employee",
		Fields:    map[string]any{"name": "Jorge"},
	})

	// then
	require.NoError(t, err)
	ref, ok := binder.Ref(1, "employee")
	require.True(t, ok)
	require.NotNil(t, ref.DataID)

	loaded, err := batch.Retrieve(context.Background(), "employee")
	require.NoError(t, err)
	assert.Equal(t, *ref.DataID, loaded.ID)
	assert.Equal(t, "Jorge", loaded.Fields["name"])
}

func TestCreateOrUpdateWithNilValueFails(t *testing.T) {
	// setup
	binder := NewBinder(NewInMemoryRepository())
	binder.DeclareScope(1, []Declaration{{Name: "employee", ClassName: "com.acme.Employee"}})
	batch := binder.NewBatch(1)

	// when
	err := batch.CreateOrUpdate(context.Background(), "employee", nil)

	// then
	var opErr *OperationExecutionError
	require.ErrorAs(t, err, &opErr)
	ref, ok := binder.Ref(1, "employee")
	require.True(t, ok)
	assert.Nil(t, ref.DataID, "a failed operation must not touch the stored identifier")
}

func TestAttachExistingRejectsUnpersistedEntity(t *testing.T) {
	binder := NewBinder(NewInMemoryRepository())
	binder.DeclareScope(1, []Declaration{{Name: "employee", ClassName: "com.acme.Employee"}})
	batch := binder.NewBatch(1)

	err := batch.AttachExisting(context.Background(), "employee", &Entity{ClassName: "com.acme.Employee"})

	var refErr *InvalidReferenceError
	assert.ErrorAs(t, err, &refErr)
}

func TestAttachExistingRejectsClassMismatch(t *testing.T) {
	repo := NewInMemoryRepository()
	persisted, err := repo.Merge(context.Background(), &Entity{ClassName: "com.acme.Invoice"})
	require.NoError(t, err)

	binder := NewBinder(repo)
	binder.DeclareScope(1, []Declaration{{Name: "employee", ClassName: "com.acme.Employee"}})
	batch := binder.NewBatch(1)

	err = batch.AttachExisting(context.Background(), "employee", persisted)

	var refErr *InvalidReferenceError
	assert.ErrorAs(t, err, &refErr)
}

func TestRetrieveWithoutIdentifierYieldsDefaultInstance(t *testing.T) {
	binder := NewBinder(NewInMemoryRepository())
	binder.DeclareScope(1, []Declaration{{Name: "employee", ClassName: "com.acme.Employee"}})
	batch := binder.NewBatch(1)

	entity, err := batch.Retrieve(context.Background(), "employee")

	require.NoError(t, err)
	assert.Empty(t, entity.ID)
	assert.Equal(t, "com.acme.Employee", entity.ClassName)
}

func TestRetrieveCachesWithinBatch(t *testing.T) {
	// setup
	repo := &countingRepository{Repository: NewInMemoryRepository()}
	binder := NewBinder(repo)
	binder.DeclareScope(1, []Declaration{{Name: "employee", ClassName: "com.acme.Employee"}})

	setupBatch := binder.NewBatch(1)
	err := setupBatch.CreateOrUpdate(context.Background(), "employee", &Entity{ClassName: "com.acme.Employee"})
	require.NoError(t, err)

	// when
	batch := binder.NewBatch(1)
	_, err = batch.Retrieve(context.Background(), "employee")
	require.NoError(t, err)
	_, err = batch.Retrieve(context.Background(), "employee")
	require.NoError(t, err)

	// then
	assert.Equal(t, 1, repo.finds)
}

func TestDeleteClearsReferenceEvenWhenRemoveFails(t *testing.T) {
	// setup
	repo := &failingRemoveRepository{Repository: NewInMemoryRepository()}
	binder := NewBinder(repo)
	binder.DeclareScope(1, []Declaration{{Name: "employee", ClassName: "com.acme.Employee"}})
	batch := binder.NewBatch(1)
	err := batch.CreateOrUpdate(context.Background(), "employee", &Entity{ClassName: "com.acme.Employee"})
	require.NoError(t, err)

	// when
	err = batch.Delete(context.Background(), "employee")

	// then
	var opErr *OperationExecutionError
	require.ErrorAs(t, err, &opErr)
	ref, ok := binder.Ref(1, "employee")
	require.True(t, ok)
	assert.Nil(t, ref.DataID, "reference must be cleared even when the delete fails")
}

type countingRepository struct {
	Repository
	finds int
}

func (r *countingRepository) FindByID(ctx context.Context, className string, id string) (*Entity, error) {
	r.finds++
	return r.Repository.FindByID(ctx, className, id)
}

type failingRemoveRepository struct {
	Repository
}

func (r *failingRemoveRepository) Remove(ctx context.Context, entity *Entity) error {
	return errors.New("datastore unavailable")
}
