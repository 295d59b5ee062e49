// Package storage provides the in-memory backend used by tests and by
// STORAGE_DRIVER=memory. It implements the same contracts as the PostgreSQL
// stores in package database.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	dErrors "mrv/domainerrors"
	"mrv/lifecycle"
	"mrv/models"
	"mrv/registry"
	"mrv/search"
	"mrv/sentinel"

	"github.com/google/uuid"
)

const (
	defaultLimit = 50
	maxLimit     = 1000
)

// Memory keeps projects and the registry behind one RWMutex. A transaction
// holds the write lock for its whole callback, stages its writes, and
// publishes them only if the callback succeeds.
//
// The store-wide lock means transitions on different projects run one at a
// time, and a slow or distributed-lock-waiting callback blocks every other
// reader. That is acceptable for tests and single-process development; the
// PostgreSQL backend locks per project row instead.
type Memory struct {
	mu       sync.RWMutex
	projects map[uuid.UUID]*models.Project
	records  []models.RegistryRecord
	clock    *registry.MonotonicClock
	now      func() time.Time
}

type MemoryOption func(*Memory)

// WithNow replaces the wall clock used for created/updated and registry
// timestamps.
func WithNow(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
		m.clock = registry.NewMonotonicClock(now)
	}
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		projects: make(map[uuid.UUID]*models.Project),
		now:      time.Now,
		clock:    registry.NewMonotonicClock(time.Now),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create stores a new project. A zero ID is replaced with a fresh one.
func (m *Memory) Create(_ context.Context, p *models.Project) (*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := p.Clone()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if _, exists := m.projects[c.ID]; exists {
		return nil, fmt.Errorf("project %s: %w", c.ID, sentinel.ErrConflict)
	}
	now := m.now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	if c.StatusHistory == nil {
		c.StatusHistory = []models.StatusChange{}
	}
	if c.Files == nil {
		c.Files = []models.FileRef{}
	}
	m.projects[c.ID] = c
	return c.Clone(), nil
}

func (m *Memory) Get(_ context.Context, id uuid.UUID) (*models.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, sentinel.ErrNotFound)
	}
	return p.Clone(), nil
}

// List returns projects newest first.
func (m *Memory) List(_ context.Context, filter models.ProjectFilter) ([]models.Project, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var query *search.Query
	if filter.Search != "" {
		q, err := search.NewParser().Parse(filter.Search)
		if err != nil {
			return nil, 0, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid search query")
		}
		query = &q
	}

	matched := []models.Project{}
	for _, p := range m.projects {
		if filter.OwnerID != "" && p.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Status != "" && string(p.Status) != filter.Status {
			continue
		}
		if query != nil && !query.Matches(p.Name, p.Species, p.Location) {
			continue
		}
		matched = append(matched, *p.Clone())
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID.String() < matched[j].ID.String()
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	lo, hi := pageBounds(len(matched), filter.Limit, filter.Offset)
	return matched[lo:hi], total, nil
}

func (m *Memory) Update(_ context.Context, id uuid.UUID, mutate func(*models.Project) error) (*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, sentinel.ErrNotFound)
	}
	c := p.Clone()
	if err := mutate(c); err != nil {
		return nil, fmt.Errorf("update project %s: %w", id, err)
	}
	keepIdentity(c, p)
	c.UpdatedAt = m.now().UTC()
	m.projects[id] = c
	return c.Clone(), nil
}

// Delete removes a project. Registry records that reference it are kept.
func (m *Memory) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.projects[id]; !ok {
		return fmt.Errorf("project %s: %w", id, sentinel.ErrNotFound)
	}
	delete(m.projects, id)
	return nil
}

func (m *Memory) Append(_ context.Context, record models.RegistryRecord) (models.RegistryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record.Sequence = int64(len(m.records)) + 1
	record.Timestamp = m.clock.Next()
	m.records = append(m.records, record)
	return record, nil
}

// ListAll returns a copy of the registry, oldest first.
func (m *Memory) ListAll(_ context.Context) ([]models.RegistryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]models.RegistryRecord{}, m.records...), nil
}

func (m *Memory) Query(ctx context.Context, params models.RegistryQueryParams) ([]models.RegistryRecord, int64, error) {
	records, err := m.ListAll(ctx)
	if err != nil {
		return nil, 0, err
	}
	return registry.Filter(records, params)
}

// RunInTx runs fn with exclusive access to the store.
func (m *Memory) RunInTx(ctx context.Context, fn func(stores lifecycle.Stores) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction aborted: %w", err)
	}

	tx := &memTx{m: m, staged: make(map[uuid.UUID]*models.Project)}
	if err := fn(lifecycle.Stores{Projects: tx, Registry: tx}); err != nil {
		return err
	}

	for id, p := range tx.staged {
		m.projects[id] = p
	}
	m.records = append(m.records, tx.pending...)
	return nil
}

// memTx reads through staged writes to committed state. Its methods run
// with m.mu already held by RunInTx.
type memTx struct {
	m       *Memory
	staged  map[uuid.UUID]*models.Project
	pending []models.RegistryRecord
}

func (t *memTx) current(id uuid.UUID) (*models.Project, bool) {
	if p, ok := t.staged[id]; ok {
		return p, true
	}
	p, ok := t.m.projects[id]
	return p, ok
}

func (t *memTx) Get(_ context.Context, id uuid.UUID) (*models.Project, error) {
	p, ok := t.current(id)
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, sentinel.ErrNotFound)
	}
	return p.Clone(), nil
}

func (t *memTx) Update(_ context.Context, id uuid.UUID, mutate func(*models.Project) error) (*models.Project, error) {
	p, ok := t.current(id)
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, sentinel.ErrNotFound)
	}
	c := p.Clone()
	if err := mutate(c); err != nil {
		return nil, fmt.Errorf("update project %s: %w", id, err)
	}
	keepIdentity(c, p)
	c.UpdatedAt = t.m.now().UTC()
	t.staged[id] = c
	return c.Clone(), nil
}

func (t *memTx) Append(_ context.Context, record models.RegistryRecord) (models.RegistryRecord, error) {
	record.Sequence = int64(len(t.m.records)+len(t.pending)) + 1
	record.Timestamp = t.m.clock.Next()
	t.pending = append(t.pending, record)
	return record, nil
}

// keepIdentity undoes any change a mutator made to immutable fields.
func keepIdentity(c, orig *models.Project) {
	c.ID = orig.ID
	c.OwnerID = orig.OwnerID
	c.CreatedAt = orig.CreatedAt
}

func pageBounds(n, limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	if offset > n {
		offset = n
	}
	end := offset + limit
	if end > n {
		end = n
	}
	return offset, end
}
