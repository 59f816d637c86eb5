// Catalog queries. Read-only lookups over the medicine list; the name
// lookup also matches "name " variants so "Paracetamol" finds
// "Paracetamol 500mg".
package pharmacy

import (
	"context"
	"sort"
	"strings"
)

// Medicine returns one medicine by id.
func (e *Engine) Medicine(ctx context.Context, id MedicineID) (*Medicine, error) {
	m, err := e.store.GetMedicine(ctx, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, &NotFoundError{Kind: "medicine", ID: string(id)}
	}
	return m, nil
}

// Medicines returns the whole catalog.
func (e *Engine) Medicines(ctx context.Context) ([]Medicine, error) {
	return e.store.ListMedicines(ctx)
}

// MedicinesByName returns exact matches and "name " prefixed variants,
// case-insensitive, sorted by name.
func (e *Engine) MedicinesByName(ctx context.Context, name string) ([]Medicine, error) {
	if name == "" {
		return nil, &ValidationError{Field: "name", Reason: "required"}
	}
	meds, err := e.store.ListMedicines(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(name)
	var out []Medicine
	for i := range meds {
		got := strings.ToLower(meds[i].Name)
		if got == needle || strings.HasPrefix(got, needle+" ") {
			out = append(out, meds[i])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// MedicinesByGeneric returns exact generic-name matches.
func (e *Engine) MedicinesByGeneric(ctx context.Context, generic string) ([]Medicine, error) {
	if generic == "" {
		return nil, &ValidationError{Field: "generic", Reason: "required"}
	}
	meds, err := e.store.ListMedicines(ctx)
	if err != nil {
		return nil, err
	}
	var out []Medicine
	for i := range meds {
		if meds[i].Generic == generic {
			out = append(out, meds[i])
		}
	}
	return out, nil
}

// MedicinesByBrand returns case-insensitive substring matches on brand,
// sorted by brand.
func (e *Engine) MedicinesByBrand(ctx context.Context, brand string) ([]Medicine, error) {
	if brand == "" {
		return nil, &ValidationError{Field: "brand", Reason: "required"}
	}
	meds, err := e.store.ListMedicines(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(brand)
	var out []Medicine
	for i := range meds {
		if strings.Contains(strings.ToLower(meds[i].Brand), needle) {
			out = append(out, meds[i])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Brand < out[j].Brand })
	return out, nil
}
