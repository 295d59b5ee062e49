// Package registry is the append-only log of verification outcomes.
//
// Records are created once, when a project is verified, and are never
// updated or removed: the package exposes no such operation and stores must
// not provide one. Position (Sequence) and Timestamp are assigned by the
// store at append time, in commit order.
package registry

import (
	"context"
	"errors"
	"fmt"

	"mrv/models"

	"github.com/google/uuid"
)

// ErrInvalidRecord is returned for records missing a snapshot field.
var ErrInvalidRecord = errors.New("invalid registry record")

// Appender persists one record and returns it with Sequence and Timestamp
// assigned. Implementations must assign Sequence as previous+1 in commit
// order and must never hand out a Timestamp earlier than the last one.
type Appender interface {
	Append(ctx context.Context, record models.RegistryRecord) (models.RegistryRecord, error)
}

// Reader exposes the committed sequence. Readers never observe a record
// whose append has not committed.
type Reader interface {
	ListAll(ctx context.Context) ([]models.RegistryRecord, error)
	Query(ctx context.Context, params models.RegistryQueryParams) ([]models.RegistryRecord, int64, error)
}

type Store interface {
	Appender
	Reader
}

// Registry validates records before they reach the store.
type Registry struct {
	store Store
}

func New(store Store) *Registry {
	return &Registry{store: store}
}

func (r *Registry) Append(ctx context.Context, record models.RegistryRecord) (models.RegistryRecord, error) {
	return Append(ctx, r.store, record)
}

// ListAll returns every record, oldest first.
func (r *Registry) ListAll(ctx context.Context) ([]models.RegistryRecord, error) {
	records, err := r.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list registry: %w", err)
	}
	return records, nil
}

func (r *Registry) Query(ctx context.Context, params models.RegistryQueryParams) ([]models.RegistryRecord, int64, error) {
	records, total, err := r.store.Query(ctx, params)
	if err != nil {
		return nil, 0, fmt.Errorf("query registry: %w", err)
	}
	return records, total, nil
}

// Append validates record and writes it through a. Lifecycle code calls this
// with a transaction-bound appender so the record commits together with the
// project's status change.
func Append(ctx context.Context, a Appender, record models.RegistryRecord) (models.RegistryRecord, error) {
	if err := validate(record); err != nil {
		return models.RegistryRecord{}, err
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	record.Status = models.StatusVerified
	record.Sequence = 0

	stored, err := a.Append(ctx, record)
	if err != nil {
		return models.RegistryRecord{}, fmt.Errorf("append registry record: %w", err)
	}
	return stored, nil
}

// Snapshot copies the identifying fields of p into a new record.
func Snapshot(p *models.Project, verifiedBy string) models.RegistryRecord {
	return models.RegistryRecord{
		ID:          uuid.New(),
		ProjectID:   p.ID,
		ProjectName: p.Name,
		OwnerID:     p.OwnerID,
		VerifiedBy:  verifiedBy,
		Status:      models.StatusVerified,
	}
}

func validate(record models.RegistryRecord) error {
	switch {
	case record.ProjectID == uuid.Nil:
		return fmt.Errorf("%w: missing project id", ErrInvalidRecord)
	case record.OwnerID == "":
		return fmt.Errorf("%w: missing owner id", ErrInvalidRecord)
	case record.ProjectName == "":
		return fmt.Errorf("%w: missing project name", ErrInvalidRecord)
	}
	return nil
}
