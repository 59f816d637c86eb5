package pharmacy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediset/pharmacy-engine/pharmacy"
	"github.com/mediset/pharmacy-engine/store/sqlite"
)

func newTestRegistry(t *testing.T) *pharmacy.PatientRegistry {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return pharmacy.NewPatientRegistry(store)
}

func TestPatientRegister_RoundTrip(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	p, err := registry.Register(ctx, pharmacy.RegisterPatientRequest{
		Name:    "Rahim Uddin",
		Phone:   "01711-000001",
		Age:     52,
		Gender:  "male",
		Address: "Mirpur, Dhaka",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)

	got, err := registry.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Rahim Uddin", got.Name)
	assert.Equal(t, "01711-000001", got.Phone)
}

func TestPatientRegister_DuplicatePhone_Rejected(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	_, err := registry.Register(ctx, pharmacy.RegisterPatientRequest{Name: "A", Phone: "01711-1"})
	require.NoError(t, err)

	_, err = registry.Register(ctx, pharmacy.RegisterPatientRequest{Name: "B", Phone: "01711-1"})

	require.Error(t, err)
	assert.ErrorIs(t, err, pharmacy.ErrDuplicateIdentity)
	var dup *pharmacy.DuplicateIdentityError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "01711-1", dup.Key)
}

func TestPatientRegister_Validation(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	_, err := registry.Register(ctx, pharmacy.RegisterPatientRequest{Phone: "01711-1"})
	assert.ErrorIs(t, err, pharmacy.ErrValidation)

	_, err = registry.Register(ctx, pharmacy.RegisterPatientRequest{Name: "A"})
	assert.ErrorIs(t, err, pharmacy.ErrValidation)
}

func TestPatientDelete(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	p, err := registry.Register(ctx, pharmacy.RegisterPatientRequest{Name: "A", Phone: "01711-1"})
	require.NoError(t, err)

	require.NoError(t, registry.Delete(ctx, p.ID))

	_, err = registry.Get(ctx, p.ID)
	assert.True(t, pharmacy.IsNotFound(err))

	err = registry.Delete(ctx, p.ID)
	assert.True(t, pharmacy.IsNotFound(err), "double delete reports not found")
}

func TestPatientList_SortedByName(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	_, err := registry.Register(ctx, pharmacy.RegisterPatientRequest{Name: "Zahir", Phone: "01711-2"})
	require.NoError(t, err)
	_, err = registry.Register(ctx, pharmacy.RegisterPatientRequest{Name: "Anika", Phone: "01711-3"})
	require.NoError(t, err)

	patients, err := registry.List(ctx)
	require.NoError(t, err)

	require.Len(t, patients, 2)
	assert.Equal(t, "Anika", patients[0].Name)
	assert.Equal(t, "Zahir", patients[1].Name)
}
