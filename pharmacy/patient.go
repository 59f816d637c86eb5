// Patient registry. Carried only as far as the stock core needs it:
// receipts reference a patient, and phone numbers are a unique key.
package pharmacy

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RegisterPatientRequest creates a patient record.
type RegisterPatientRequest struct {
	Name    string
	Phone   string
	Age     int
	Gender  string
	Address string
}

// PatientRegistry manages patient records.
type PatientRegistry struct {
	store TxStore
	now   func() time.Time
}

// NewPatientRegistry creates a registry over the given store.
func NewPatientRegistry(store TxStore) *PatientRegistry {
	return &PatientRegistry{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Register creates a patient, rejecting phone number collisions with
// DuplicateIdentityError.
func (pr *PatientRegistry) Register(ctx context.Context, req RegisterPatientRequest) (*Patient, error) {
	if req.Name == "" {
		return nil, &ValidationError{Field: "name", Reason: "required"}
	}
	if req.Phone == "" {
		return nil, &ValidationError{Field: "phone", Reason: "required"}
	}

	var patient *Patient
	err := pr.store.WithTx(ctx, func(s Store) error {
		existing, err := s.FindPatientByPhone(ctx, req.Phone)
		if err != nil {
			return err
		}
		if existing != nil {
			return &DuplicateIdentityError{Kind: "patient_phone", Key: req.Phone}
		}

		patient = &Patient{
			ID:        PatientID(uuid.NewString()),
			Name:      req.Name,
			Phone:     req.Phone,
			Age:       req.Age,
			Gender:    req.Gender,
			Address:   req.Address,
			CreatedAt: pr.now(),
		}
		return s.SavePatient(ctx, patient)
	})
	if err != nil {
		return nil, err
	}
	return patient, nil
}

// Get returns a patient by id.
func (pr *PatientRegistry) Get(ctx context.Context, id PatientID) (*Patient, error) {
	p, err := pr.store.GetPatient(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, &NotFoundError{Kind: "patient", ID: string(id)}
	}
	return p, nil
}

// List returns all patients.
func (pr *PatientRegistry) List(ctx context.Context) ([]Patient, error) {
	return pr.store.ListPatients(ctx)
}

// Delete removes a patient record.
func (pr *PatientRegistry) Delete(ctx context.Context, id PatientID) error {
	return pr.store.WithTx(ctx, func(s Store) error {
		p, err := s.GetPatient(ctx, id)
		if err != nil {
			return err
		}
		if p == nil {
			return &NotFoundError{Kind: "patient", ID: string(id)}
		}
		return s.DeletePatient(ctx, id)
	})
}
