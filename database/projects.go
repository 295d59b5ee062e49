package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	dErrors "mrv/domainerrors"
	"mrv/models"
	"mrv/search"
	"mrv/sentinel"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	defaultLimit = 50
	maxLimit     = 1000

	uniqueViolation = "23505"
)

const projectColumns = `id, owner_id, name, description, location, hectares, species, coordinates,
	status, status_history, files, analysis, verifier, notes, created_at, updated_at`

// ProjectStore reads and writes the projects table. Bound to the pool it
// runs each call in its own transaction; bound to a pgx.Tx (inside
// DB.RunInTx) it shares the caller's.
type ProjectStore struct {
	conn conn
}

// Create inserts p. A zero ID is replaced with a fresh one; created_at and
// updated_at come from the database clock.
func (s *ProjectStore) Create(ctx context.Context, p *models.Project) (*models.Project, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	history, files, analysis, err := encodeProjectJSON(p)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO projects (id, owner_id, name, description, location, hectares, species, coordinates,
			status, status_history, files, analysis, verifier, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING ` + projectColumns

	project, err := scanProject(s.conn.QueryRow(ctx, query,
		p.ID, p.OwnerID, p.Name, p.Description, p.Location, p.Hectares, p.Species, p.Coordinates,
		string(p.Status), history, files, analysis, p.Verifier, p.Notes))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, fmt.Errorf("project %s: %w", p.ID, sentinel.ErrConflict)
		}
		return nil, fmt.Errorf("failed to create project: %w", unavailable(err))
	}

	slog.InfoContext(ctx, "created project", "project_id", project.ID, "owner_id", project.OwnerID, "status", project.Status)
	return project, nil
}

func (s *ProjectStore) Get(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`

	project, err := scanProject(s.conn.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("project %s: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get project: %w", unavailable(err))
	}
	return project, nil
}

// List returns projects newest first. filter.Search runs full-text search
// over name, species and location.
func (s *ProjectStore) List(ctx context.Context, filter models.ProjectFilter) ([]models.Project, int64, error) {
	start := time.Now()
	defer func() {
		slog.DebugContext(ctx, "ListProjects",
			"duration", time.Since(start), "owner_id", filter.OwnerID, "status", filter.Status, "search", filter.Search)
	}()

	limit := validateLimit(filter.Limit, defaultLimit, maxLimit)
	offset := validateOffset(filter.Offset)

	qb := NewQueryBuilder()
	if filter.OwnerID != "" {
		qb.AddCondition(columnOwnerID, filter.OwnerID)
	}
	if filter.Status != "" {
		qb.AddCondition(columnStatus, filter.Status)
	}
	if filter.Search != "" {
		q, err := search.NewParser().Parse(filter.Search)
		if err != nil {
			return nil, 0, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid search query")
		}
		qb.AddFullTextSearch(q.TSQuery())
	}

	// SAFETY: All user input is parameterized. whereClause only contains safe SQL.
	where := qb.WhereClause()
	query := fmt.Sprintf(`
		SELECT %s, COUNT(*) OVER() AS total_count
		FROM projects
		%s
		ORDER BY %s DESC, %s
		%s
	`, projectColumns, where, columnCreatedAt, columnID, qb.Page(limit, offset))

	rows, err := s.conn.Query(ctx, query, qb.Args()...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list projects: %w", unavailable(err))
	}
	defer rows.Close()

	projects := []models.Project{}
	var total int64
	for rows.Next() {
		var t int64
		project, err := scanProjectWith(rows, &t)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan project: %w", err)
		}
		total = t
		projects = append(projects, *project)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating projects: %w", err)
	}
	return projects, total, nil
}

// Update locks the row with SELECT ... FOR UPDATE, applies mutate and writes
// the mutable columns back. id, owner_id and created_at are never written.
func (s *ProjectStore) Update(ctx context.Context, id uuid.UUID, mutate func(*models.Project) error) (*models.Project, error) {
	var updated *models.Project
	err := pgx.BeginFunc(ctx, s.conn, func(tx pgx.Tx) error {
		query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1 FOR UPDATE`
		project, err := scanProject(tx.QueryRow(ctx, query, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("project %s: %w", id, sentinel.ErrNotFound)
			}
			return fmt.Errorf("failed to lock project: %w", unavailable(err))
		}

		if err := mutate(project); err != nil {
			return fmt.Errorf("update project %s: %w", id, err)
		}

		history, files, analysis, err := encodeProjectJSON(project)
		if err != nil {
			return err
		}
		write := `
			UPDATE projects SET
				name = $2, description = $3, location = $4, hectares = $5, species = $6, coordinates = $7,
				status = $8, status_history = $9, files = $10, analysis = $11, verifier = $12, notes = $13,
				updated_at = NOW()
			WHERE id = $1
			RETURNING ` + projectColumns
		updated, err = scanProject(tx.QueryRow(ctx, write, id,
			project.Name, project.Description, project.Location, project.Hectares, project.Species, project.Coordinates,
			string(project.Status), history, files, analysis, project.Verifier, project.Notes))
		if err != nil {
			return fmt.Errorf("failed to update project: %w", unavailable(err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes a project. Registry rows keep their snapshot.
func (s *ProjectStore) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := s.conn.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", unavailable(err))
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("project %s: %w", id, sentinel.ErrNotFound)
	}

	slog.InfoContext(ctx, "deleted project", "project_id", id)
	return nil
}

// Helper functions

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProject(row rowScanner) (*models.Project, error) {
	return scanProjectWith(row)
}

func scanProjectWith(row rowScanner, extra ...interface{}) (*models.Project, error) {
	var (
		project  models.Project
		status   string
		history  []byte
		files    []byte
		analysis []byte
	)
	dest := []interface{}{
		&project.ID, &project.OwnerID, &project.Name, &project.Description, &project.Location,
		&project.Hectares, &project.Species, &project.Coordinates, &status, &history, &files,
		&analysis, &project.Verifier, &project.Notes, &project.CreatedAt, &project.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	project.Status = models.Status(status)
	project.StatusHistory = []models.StatusChange{}
	project.Files = []models.FileRef{}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &project.StatusHistory); err != nil {
			return nil, fmt.Errorf("decode status_history: %w", err)
		}
	}
	if len(files) > 0 {
		if err := json.Unmarshal(files, &project.Files); err != nil {
			return nil, fmt.Errorf("decode files: %w", err)
		}
	}
	if len(analysis) > 0 {
		project.Analysis = &models.Analysis{}
		if err := json.Unmarshal(analysis, project.Analysis); err != nil {
			return nil, fmt.Errorf("decode analysis: %w", err)
		}
	}
	project.CreatedAt = project.CreatedAt.UTC()
	project.UpdatedAt = project.UpdatedAt.UTC()
	return &project, nil
}

func encodeProjectJSON(p *models.Project) (history, files, analysis []byte, err error) {
	statusHistory := p.StatusHistory
	if statusHistory == nil {
		statusHistory = []models.StatusChange{}
	}
	if history, err = json.Marshal(statusHistory); err != nil {
		return nil, nil, nil, fmt.Errorf("encode status_history: %w", err)
	}
	fileRefs := p.Files
	if fileRefs == nil {
		fileRefs = []models.FileRef{}
	}
	if files, err = json.Marshal(fileRefs); err != nil {
		return nil, nil, nil, fmt.Errorf("encode files: %w", err)
	}
	if p.Analysis != nil {
		if analysis, err = json.Marshal(p.Analysis); err != nil {
			return nil, nil, nil, fmt.Errorf("encode analysis: %w", err)
		}
	}
	return history, files, analysis, nil
}
