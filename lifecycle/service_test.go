package lifecycle_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	dErrors "mrv/domainerrors"
	"mrv/lifecycle"
	"mrv/models"
	"mrv/registry"
	"mrv/storage"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var (
	admin = models.Actor{ID: "admin-1", Role: models.RoleAdmin}
	ngo   = models.Actor{ID: "ngo-1", Role: models.RoleNGO}
)

func newProject(t *testing.T, store *storage.Memory, owner string, status models.Status) *models.Project {
	t.Helper()
	p, err := store.Create(context.Background(), &models.Project{
		OwnerID:  owner,
		Name:     "Mangrove Belt",
		Location: "Sundarbans",
		Hectares: 12.5,
		Species:  "Rhizophora",
		Status:   status,
	})
	require.NoError(t, err)
	return p
}

func registryLen(t *testing.T, store *storage.Memory) int {
	t.Helper()
	records, err := store.ListAll(context.Background())
	require.NoError(t, err)
	return len(records)
}

func TestTransition_VerifyAppendsRecord(t *testing.T) {
	store := storage.NewMemory()
	svc := lifecycle.New(store)
	p := newProject(t, store, "U1", models.StatusSubmitted)

	got, err := svc.Transition(context.Background(), p.ID, models.StatusVerified, admin)
	require.NoError(t, err)

	assert.Equal(t, models.StatusVerified, got.Status)
	require.Len(t, got.StatusHistory, 1)
	assert.Equal(t, models.StatusVerified, got.StatusHistory[0].Status)
	assert.Equal(t, admin.ID, got.StatusHistory[0].Actor)
	assert.Equal(t, admin.ID, got.Verifier)

	records, err := store.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, p.ID, records[0].ProjectID)
	assert.Equal(t, "U1", records[0].OwnerID)
	assert.Equal(t, "Mangrove Belt", records[0].ProjectName)
	assert.Equal(t, admin.ID, records[0].VerifiedBy)
	assert.Equal(t, models.StatusVerified, records[0].Status)
}

func TestTransition_RejectAppendsNothing(t *testing.T) {
	store := storage.NewMemory()
	svc := lifecycle.New(store)
	p := newProject(t, store, "U1", models.StatusSubmitted)

	got, err := svc.Transition(context.Background(), p.ID, models.StatusRejected, admin)
	require.NoError(t, err)

	assert.Equal(t, models.StatusRejected, got.Status)
	assert.Len(t, got.StatusHistory, 1)
	assert.Empty(t, got.Verifier)
	assert.Zero(t, registryLen(t, store))
}

func TestTransition_NotFound(t *testing.T) {
	store := storage.NewMemory()
	svc := lifecycle.New(store)

	_, err := svc.Transition(context.Background(), uuid.New(), models.StatusRejected, admin)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	assert.False(t, dErrors.Retryable(err))
	assert.Zero(t, registryLen(t, store))
}

func TestTransition_Unauthorized(t *testing.T) {
	tests := []struct {
		name  string
		actor models.Actor
	}{
		{name: "ngo", actor: ngo},
		{name: "community", actor: models.Actor{ID: "c1", Role: models.RoleCommunity}},
		{name: "admin without id", actor: models.Actor{Role: models.RoleAdmin}},
		{name: "anonymous", actor: models.Actor{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewMemory()
			svc := lifecycle.New(store)
			p := newProject(t, store, "U1", models.StatusSubmitted)

			_, err := svc.Transition(context.Background(), p.ID, models.StatusVerified, tt.actor)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))

			stored, err := store.Get(context.Background(), p.ID)
			require.NoError(t, err)
			assert.Equal(t, models.StatusSubmitted, stored.Status)
			assert.Empty(t, stored.StatusHistory)
			assert.Zero(t, registryLen(t, store))
		})
	}
}

func TestTransition_UnauthorizedBeforeNotFound(t *testing.T) {
	svc := lifecycle.New(storage.NewMemory())

	_, err := svc.Transition(context.Background(), uuid.New(), models.StatusVerified, ngo)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestTransition_InvalidTarget(t *testing.T) {
	targets := []models.Status{"verified", "Approved", "", models.StatusDraft, models.StatusSubmitted}

	for _, target := range targets {
		t.Run(string(target), func(t *testing.T) {
			store := storage.NewMemory()
			svc := lifecycle.New(store)
			p := newProject(t, store, "U1", models.StatusSubmitted)

			_, err := svc.Transition(context.Background(), p.ID, target, admin)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidTransition))

			stored, err := store.Get(context.Background(), p.ID)
			require.NoError(t, err)
			assert.Equal(t, models.StatusSubmitted, stored.Status)
		})
	}
}

func TestTransition_FromDraft(t *testing.T) {
	store := storage.NewMemory()
	svc := lifecycle.New(store)
	p := newProject(t, store, "U1", models.StatusDraft)

	got, err := svc.Transition(context.Background(), p.ID, models.StatusRejected, admin)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, got.Status)
}

func TestTransition_TerminalToOtherTerminal(t *testing.T) {
	store := storage.NewMemory()
	svc := lifecycle.New(store)
	p := newProject(t, store, "U1", models.StatusSubmitted)
	ctx := context.Background()

	_, err := svc.Transition(ctx, p.ID, models.StatusVerified, admin)
	require.NoError(t, err)

	_, err = svc.Transition(ctx, p.ID, models.StatusRejected, admin)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidTransition))

	stored, err := store.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusVerified, stored.Status)
	assert.Len(t, stored.StatusHistory, 1)
	assert.Equal(t, 1, registryLen(t, store))
}

func TestTransition_ReverifyNoop(t *testing.T) {
	store := storage.NewMemory()
	svc := lifecycle.New(store, lifecycle.WithReverifyPolicy(lifecycle.ReverifyNoop))
	p := newProject(t, store, "U1", models.StatusSubmitted)
	ctx := context.Background()

	first, err := svc.Transition(ctx, p.ID, models.StatusVerified, admin)
	require.NoError(t, err)

	again, err := svc.Transition(ctx, p.ID, models.StatusVerified, admin)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, 1, registryLen(t, store))
}

func TestTransition_ReverifyRecord(t *testing.T) {
	store := storage.NewMemory()
	svc := lifecycle.New(store, lifecycle.WithReverifyPolicy(lifecycle.ReverifyRecord))
	p := newProject(t, store, "U1", models.StatusSubmitted)
	ctx := context.Background()

	_, err := svc.Transition(ctx, p.ID, models.StatusVerified, admin)
	require.NoError(t, err)
	again, err := svc.Transition(ctx, p.ID, models.StatusVerified, admin)
	require.NoError(t, err)

	assert.Len(t, again.StatusHistory, 2)
	assert.Equal(t, 2, registryLen(t, store))

	report, err := lifecycle.NewAuditor(store, store).Run(ctx)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Equal(t, []uuid.UUID{p.ID}, report.DuplicateRecords)
}

func TestTransition_HistoryMatchesStatus(t *testing.T) {
	store := storage.NewMemory()
	svc := lifecycle.New(store, lifecycle.WithReverifyPolicy(lifecycle.ReverifyRecord))
	ctx := context.Background()

	sequences := [][]models.Status{
		{models.StatusVerified},
		{models.StatusRejected},
		{models.StatusVerified, models.StatusVerified, models.StatusRejected},
		{models.StatusRejected, models.StatusVerified, models.StatusRejected},
		{"bogus", models.StatusVerified, models.StatusDraft},
	}

	for _, seq := range sequences {
		p := newProject(t, store, "U1", models.StatusSubmitted)
		applied := 0
		for _, target := range seq {
			if _, err := svc.Transition(ctx, p.ID, target, admin); err == nil {
				applied++
			}
		}

		stored, err := store.Get(ctx, p.ID)
		require.NoError(t, err)
		require.Len(t, stored.StatusHistory, applied)
		last, ok := stored.LastChange()
		require.True(t, ok)
		assert.Equal(t, last.Status, stored.Status)
	}
}

func TestTransition_HistoryTimestamps(t *testing.T) {
	at := time.Date(2025, 6, 1, 9, 30, 0, 0, time.FixedZone("IST", 5*3600+1800))
	store := storage.NewMemory()
	svc := lifecycle.New(store, lifecycle.WithClock(func() time.Time { return at }))
	p := newProject(t, store, "U1", models.StatusSubmitted)

	got, err := svc.Transition(context.Background(), p.ID, models.StatusVerified, admin)
	require.NoError(t, err)
	assert.True(t, at.Equal(got.StatusHistory[0].Timestamp))
	assert.Equal(t, time.UTC, got.StatusHistory[0].Timestamp.Location())
}

func TestTransition_ConcurrentSameProject(t *testing.T) {
	store := storage.NewMemory()
	svc := lifecycle.New(store, lifecycle.WithReverifyPolicy(lifecycle.ReverifyRecord))
	p := newProject(t, store, "U1", models.StatusSubmitted)

	const n = 20
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			_, err := svc.Transition(context.Background(), p.ID, models.StatusVerified, admin)
			return err
		})
	}
	require.NoError(t, g.Wait())

	stored, err := store.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Len(t, stored.StatusHistory, n)
	assert.Equal(t, n, registryLen(t, store))
	last, _ := stored.LastChange()
	assert.Equal(t, stored.Status, last.Status)
}

func TestTransition_ConcurrentSameProjectNoop(t *testing.T) {
	store := storage.NewMemory()
	svc := lifecycle.New(store)
	p := newProject(t, store, "U1", models.StatusSubmitted)

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			_, err := svc.Transition(context.Background(), p.ID, models.StatusVerified, admin)
			return err
		})
	}
	require.NoError(t, g.Wait())

	stored, err := store.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Len(t, stored.StatusHistory, 1)
	assert.Equal(t, 1, registryLen(t, store))
}

func TestTransition_ConcurrentDistinctProjects(t *testing.T) {
	store := storage.NewMemory()
	svc := lifecycle.New(store)

	ids := make([]uuid.UUID, 50)
	for i := range ids {
		ids[i] = newProject(t, store, "U1", models.StatusSubmitted).ID
	}

	g, ctx := errgroup.WithContext(context.Background())
	for i, id := range ids {
		target := models.StatusVerified
		if i%2 == 1 {
			target = models.StatusRejected
		}
		g.Go(func() error {
			_, err := svc.Transition(ctx, id, target, admin)
			return err
		})
	}
	require.NoError(t, g.Wait())

	records, err := store.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, len(ids)/2)
	for i, r := range records {
		assert.Equal(t, int64(i+1), r.Sequence)
		if i > 0 {
			assert.False(t, r.Timestamp.Before(records[i-1].Timestamp))
		}
	}
}

// countingLocker counts successful acquisitions.
type countingLocker struct {
	inner   lifecycle.Locker
	entered atomic.Int32
}

func (l *countingLocker) Lock(ctx context.Context, key string) (func(), error) {
	unlock, err := l.inner.Lock(ctx, key)
	if err == nil {
		l.entered.Add(1)
	}
	return unlock, err
}

func TestTransition_LockTimeout(t *testing.T) {
	store := storage.NewMemory()
	locker := lifecycle.NewKeyedLocker()
	svc := lifecycle.New(store, lifecycle.WithLocker(locker))
	p := newProject(t, store, "U1", models.StatusSubmitted)

	unlock, err := locker.Lock(context.Background(), p.ID.String())
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = svc.Transition(ctx, p.ID, models.StatusVerified, admin)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeStoreFailure))
	assert.True(t, dErrors.Retryable(err))
	assert.Zero(t, registryLen(t, store))
}

func TestTransition_UsesInjectedLocker(t *testing.T) {
	store := storage.NewMemory()
	locker := &countingLocker{inner: lifecycle.NewKeyedLocker()}
	svc := lifecycle.New(store, lifecycle.WithLocker(locker))
	p := newProject(t, store, "U1", models.StatusSubmitted)

	_, err := svc.Transition(context.Background(), p.ID, models.StatusVerified, admin)
	require.NoError(t, err)
	assert.Equal(t, int32(1), locker.entered.Load())
}

// failingRegistryTx wraps a TxRunner and makes every registry append fail
// after the project update has been staged.
type failingRegistryTx struct {
	inner lifecycle.TxRunner
	err   error
}

func (f *failingRegistryTx) RunInTx(ctx context.Context, fn func(lifecycle.Stores) error) error {
	return f.inner.RunInTx(ctx, func(stores lifecycle.Stores) error {
		stores.Registry = failingAppender{err: f.err}
		return fn(stores)
	})
}

type failingAppender struct{ err error }

func (a failingAppender) Append(context.Context, models.RegistryRecord) (models.RegistryRecord, error) {
	return models.RegistryRecord{}, a.err
}

func TestTransition_RegistryFailureRollsBack(t *testing.T) {
	store := storage.NewMemory()
	boom := errors.New("registry unavailable")
	svc := lifecycle.New(&failingRegistryTx{inner: store, err: boom})
	p := newProject(t, store, "U1", models.StatusSubmitted)

	_, err := svc.Transition(context.Background(), p.ID, models.StatusVerified, admin)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeStoreFailure))
	assert.ErrorIs(t, err, boom)

	stored, err := store.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, stored.Status)
	assert.Empty(t, stored.StatusHistory)
	assert.Zero(t, registryLen(t, store))

	report, err := lifecycle.NewAuditor(store, store).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Consistent)
}

func TestTransition_RejectSkipsRegistry(t *testing.T) {
	store := storage.NewMemory()
	svc := lifecycle.New(&failingRegistryTx{inner: store, err: errors.New("unused")})
	p := newProject(t, store, "U1", models.StatusSubmitted)

	got, err := svc.Transition(context.Background(), p.ID, models.StatusRejected, admin)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, got.Status)
}

func TestTransition_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	store := storage.NewMemory()
	svc := lifecycle.New(store, lifecycle.WithMetrics(lifecycle.NewMetrics(reg)))
	p := newProject(t, store, "U1", models.StatusSubmitted)
	ctx := context.Background()

	_, err := svc.Transition(ctx, p.ID, models.StatusVerified, admin)
	require.NoError(t, err)
	_, _ = svc.Transition(ctx, p.ID, models.StatusVerified, ngo)

	appends, err := testutil.GatherAndCount(reg, "mrv_registry_appends_total")
	require.NoError(t, err)
	assert.Equal(t, 1, appends)
	count, err := testutil.GatherAndCount(reg, "mrv_project_transitions_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSubmit(t *testing.T) {
	store := storage.NewMemory()
	svc := lifecycle.New(store)
	ctx := context.Background()
	p := newProject(t, store, ngo.ID, models.StatusDraft)

	got, err := svc.Submit(ctx, p.ID, ngo)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, got.Status)
	require.Len(t, got.StatusHistory, 1)
	assert.Equal(t, ngo.ID, got.StatusHistory[0].Actor)

	again, err := svc.Submit(ctx, p.ID, ngo)
	require.NoError(t, err)
	assert.Len(t, again.StatusHistory, 1)
}

func TestSubmit_Errors(t *testing.T) {
	store := storage.NewMemory()
	svc := lifecycle.New(store)
	ctx := context.Background()
	draft := newProject(t, store, ngo.ID, models.StatusDraft)
	verified := newProject(t, store, ngo.ID, models.StatusSubmitted)
	_, err := svc.Transition(ctx, verified.ID, models.StatusVerified, admin)
	require.NoError(t, err)

	_, err = svc.Submit(ctx, draft.ID, models.Actor{ID: "other", Role: models.RoleNGO})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = svc.Submit(ctx, draft.ID, models.Actor{})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))

	_, err = svc.Submit(ctx, uuid.New(), ngo)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = svc.Submit(ctx, verified.ID, ngo)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidTransition))

	stored, err := store.Get(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraft, stored.Status)
}

func TestAuditor_DetectsMismatches(t *testing.T) {
	store := storage.NewMemory()
	ctx := context.Background()

	// Verified without a record.
	missing := newProject(t, store, "U1", models.StatusVerified)
	// Record for a project that is not Verified.
	orphan := newProject(t, store, "U1", models.StatusSubmitted)
	_, err := registry.Append(ctx, store, registry.Snapshot(orphan, admin.ID))
	require.NoError(t, err)
	// Record whose project was deleted.
	gone := newProject(t, store, "U2", models.StatusVerified)
	_, err = registry.Append(ctx, store, registry.Snapshot(gone, admin.ID))
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, gone.ID))

	report, err := lifecycle.NewAuditor(store, store).Run(ctx)
	require.NoError(t, err)

	assert.False(t, report.Consistent)
	assert.Equal(t, 2, report.CheckedProjects)
	assert.Equal(t, 2, report.CheckedRecords)
	assert.Equal(t, []uuid.UUID{missing.ID}, report.MissingRecords)
	require.Len(t, report.OrphanedRecords, 1)
	assert.Equal(t, orphan.ID, report.OrphanedRecords[0].ProjectID)
	require.Len(t, report.DetachedRecords, 1)
	assert.Equal(t, gone.ID, report.DetachedRecords[0].ProjectID)
	assert.Empty(t, report.DuplicateRecords)
}

func TestParseReverifyPolicy(t *testing.T) {
	tests := []struct {
		input   string
		want    lifecycle.ReverifyPolicy
		wantErr bool
	}{
		{"", lifecycle.ReverifyNoop, false},
		{"noop", lifecycle.ReverifyNoop, false},
		{" Record ", lifecycle.ReverifyRecord, false},
		{"duplicate", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := lifecycle.ParseReverifyPolicy(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
