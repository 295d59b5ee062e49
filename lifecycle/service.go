// Package lifecycle owns the project verification state machine.
//
//	Draft ──submit──▶ Submitted
//	Draft | Submitted ──transition──▶ Verified | Rejected
//
// Verified and Rejected are terminal. A transition runs under a per-project
// lock and inside one store transaction, so the status change, the history
// entry and (for Verified) the registry record commit together or not at all.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	dErrors "mrv/domainerrors"
	"mrv/models"
	"mrv/registry"
	"mrv/sentinel"

	"github.com/google/uuid"
)

// errUnchanged aborts a transaction whose request is already satisfied.
var errUnchanged = errors.New("project unchanged")

type Service struct {
	tx       TxRunner
	locker   Locker
	reverify ReverifyPolicy
	now      func() time.Time
	metrics  *Metrics
	logger   *slog.Logger
}

type Option func(*Service)

func WithLocker(l Locker) Option {
	return func(s *Service) { s.locker = l }
}

func WithReverifyPolicy(p ReverifyPolicy) Option {
	return func(s *Service) { s.reverify = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func New(tx TxRunner, opts ...Option) *Service {
	s := &Service{
		tx:       tx,
		locker:   NewKeyedLocker(),
		reverify: ReverifyNoop,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Transition moves a project to Verified or Rejected on behalf of an
// elevated actor. On Verified it appends exactly one registry record built
// from the project as it stands after the change.
//
// Errors carry a domainerrors code: Unauthorized, InvalidTransition,
// NotFound, or StoreFailure. On any error neither the project nor the
// registry has changed.
func (s *Service) Transition(ctx context.Context, projectID uuid.UUID, target models.Status, actor models.Actor) (*models.Project, error) {
	start := time.Now()
	project, appended, err := s.transition(ctx, projectID, target, actor)
	s.metrics.observeTransition(target, err, time.Since(start))

	if err != nil {
		s.logger.WarnContext(ctx, "transition failed",
			"project_id", projectID,
			"target", target,
			"actor", actor.ID,
			"error", err,
		)
		return nil, err
	}

	if appended != nil {
		s.metrics.registryAppended()
		s.logger.InfoContext(ctx, "registry record appended",
			"project_id", projectID,
			"sequence", appended.Sequence,
			"record_id", appended.ID,
		)
	}
	s.logger.InfoContext(ctx, "project transitioned",
		"project_id", projectID,
		"status", project.Status,
		"actor", actor.ID,
		"history_len", len(project.StatusHistory),
	)
	return project, nil
}

func (s *Service) transition(ctx context.Context, projectID uuid.UUID, target models.Status, actor models.Actor) (*models.Project, *models.RegistryRecord, error) {
	if !actor.Elevated() {
		return nil, nil, dErrors.New(dErrors.CodeUnauthorized, "verification requires an elevated actor")
	}
	if _, ok := models.ParseStatus(string(target)); !ok {
		return nil, nil, dErrors.Newf(dErrors.CodeInvalidTransition, "unknown status %q", target)
	}
	if !target.Terminal() {
		return nil, nil, dErrors.Newf(dErrors.CodeInvalidTransition, "cannot transition to %s", target)
	}

	unlock, err := s.locker.Lock(ctx, projectID.String())
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeStoreFailure, "acquire project lock")
	}
	defer unlock()

	var (
		result   *models.Project
		appended *models.RegistryRecord
	)
	err = s.tx.RunInTx(ctx, func(stores Stores) error {
		var current *models.Project
		updated, err := stores.Projects.Update(ctx, projectID, func(p *models.Project) error {
			if err := s.checkEdge(p.Status, target); err != nil {
				current = p.Clone()
				return err
			}
			now := s.now().UTC()
			p.StatusHistory = append(p.StatusHistory, models.StatusChange{
				Status:    target,
				Timestamp: now,
				Actor:     actor.ID,
			})
			p.Status = target
			p.UpdatedAt = now
			if target == models.StatusVerified {
				p.Verifier = actor.ID
			}
			return nil
		})
		if errors.Is(err, errUnchanged) {
			result = current
			return err
		}
		if err != nil {
			return err
		}

		if target == models.StatusVerified {
			record, err := registry.Append(ctx, stores.Registry, registry.Snapshot(updated, actor.ID))
			if err != nil {
				return err
			}
			appended = &record
		}
		result = updated
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return result, nil, nil
	}
	if err != nil {
		return nil, nil, classify(err, projectID)
	}
	return result, appended, nil
}

// Submit moves the owner's Draft project into the verification queue.
// Re-submitting a Submitted project is a no-op.
func (s *Service) Submit(ctx context.Context, projectID uuid.UUID, actor models.Actor) (*models.Project, error) {
	if actor.ID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "submission requires an authenticated actor")
	}

	unlock, err := s.locker.Lock(ctx, projectID.String())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStoreFailure, "acquire project lock")
	}
	defer unlock()

	var result *models.Project
	err = s.tx.RunInTx(ctx, func(stores Stores) error {
		var current *models.Project
		updated, err := stores.Projects.Update(ctx, projectID, func(p *models.Project) error {
			if p.OwnerID != actor.ID {
				return fmt.Errorf("project %s: %w", projectID, sentinel.ErrNotFound)
			}
			switch p.Status {
			case models.StatusDraft:
			case models.StatusSubmitted:
				current = p.Clone()
				return errUnchanged
			default:
				return dErrors.Newf(dErrors.CodeInvalidTransition, "cannot submit a %s project", p.Status)
			}
			now := s.now().UTC()
			p.StatusHistory = append(p.StatusHistory, models.StatusChange{
				Status:    models.StatusSubmitted,
				Timestamp: now,
				Actor:     actor.ID,
			})
			p.Status = models.StatusSubmitted
			p.UpdatedAt = now
			return nil
		})
		if errors.Is(err, errUnchanged) {
			result = current
			return err
		}
		if err != nil {
			return err
		}
		result = updated
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return result, nil
	}
	if err != nil {
		s.logger.WarnContext(ctx, "submit failed", "project_id", projectID, "actor", actor.ID, "error", err)
		return nil, classify(err, projectID)
	}

	s.logger.InfoContext(ctx, "project submitted", "project_id", projectID, "actor", actor.ID)
	return result, nil
}

func (s *Service) checkEdge(current, target models.Status) error {
	if !current.Terminal() {
		return nil
	}
	if current == target && s.reverify == ReverifyRecord {
		return nil
	}
	if current == target {
		return errUnchanged
	}
	return dErrors.Newf(dErrors.CodeInvalidTransition, "project is already %s", current)
}

func classify(err error, projectID uuid.UUID) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Newf(dErrors.CodeNotFound, "project %s not found", projectID)
	}
	if dErrors.CodeOf(err) != "" {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeStoreFailure, "transition aborted")
}
