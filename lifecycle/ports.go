package lifecycle

import (
	"context"

	"mrv/models"
	"mrv/registry"

	"github.com/google/uuid"
)

// ProjectStore is the slice of the project store the state machine needs.
//
// Get returns an error wrapping sentinel.ErrNotFound for unknown ids.
// Update is an atomic read-modify-write: mutate receives a private copy,
// and if it returns an error nothing is written and Update returns that
// error (wrapped).
type ProjectStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Project, error)
	Update(ctx context.Context, id uuid.UUID, mutate func(*models.Project) error) (*models.Project, error)
}

// ProjectLister pages through projects. Used by the reconciliation sweep.
type ProjectLister interface {
	List(ctx context.Context, filter models.ProjectFilter) ([]models.Project, int64, error)
}

// Stores are the transaction-bound views handed to a RunInTx callback.
type Stores struct {
	Projects ProjectStore
	Registry registry.Appender
}

// TxRunner provides a transactional boundary spanning the project store and
// the registry. If fn returns an error, none of its writes persist and
// RunInTx returns that error (possibly wrapped).
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(stores Stores) error) error
}

// Locker serialises work on a single key. Distinct keys must not contend.
// The returned unlock func is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
