package handlers

import (
	"context"
	"log/slog"

	"mrv/analysis"
	"mrv/blob"
	"mrv/lifecycle"
	"mrv/middleware"
	"mrv/models"
	"mrv/registry"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ProjectStore is the project persistence the HTTP surface needs. Status
// changes never go through it directly; see Transitioner.
type ProjectStore interface {
	Create(ctx context.Context, p *models.Project) (*models.Project, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Project, error)
	List(ctx context.Context, filter models.ProjectFilter) ([]models.Project, int64, error)
	Update(ctx context.Context, id uuid.UUID, mutate func(*models.Project) error) (*models.Project, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Transitioner is satisfied by *lifecycle.Service.
type Transitioner interface {
	Transition(ctx context.Context, projectID uuid.UUID, target models.Status, actor models.Actor) (*models.Project, error)
	Submit(ctx context.Context, projectID uuid.UUID, actor models.Actor) (*models.Project, error)
}

// Auditor is satisfied by *lifecycle.Auditor.
type Auditor interface {
	Run(ctx context.Context) (lifecycle.AuditReport, error)
}

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

type Deps struct {
	Projects  ProjectStore
	Registry  registry.Reader
	Lifecycle Transitioner
	Auditor   Auditor
	Blobs     blob.Store
	// Analyzer may be nil, in which case reports are served only when an
	// analysis is already stored.
	Analyzer analysis.Analyzer
	Tokens   middleware.TokenValidator
	Health   HealthChecker
	Logger   *slog.Logger

	StorageDriver  string
	MaxUploadBytes int64
}

const defaultMaxUploadBytes = 10 << 20

// Register mounts every route on r.
func Register(r gin.IRouter, d Deps) {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = defaultMaxUploadBytes
	}

	r.GET("/health", HealthCheck(d.Health))
	r.GET("/status", ServiceStatus(d))

	authed := r.Group("/", middleware.AuthRequired(d.Tokens, d.Logger))
	{
		authed.POST("/projects", CreateProject(d.Projects, d.Logger))
		authed.GET("/projects", ListProjects(d.Projects, d.Logger))
		authed.GET("/projects/:id/status", GetProjectStatus(d.Projects, d.Logger))
		authed.POST("/projects/:id/submit", SubmitProject(d.Lifecycle, d.Logger))
		authed.POST("/projects/:id/upload", UploadFile(d.Projects, d.Blobs, d.MaxUploadBytes, d.Logger))
		authed.GET("/projects/:id/files/:file", DownloadFile(d.Projects, d.Blobs, d.Logger))
		authed.GET("/projects/:id/report", ProjectReport(d.Projects, d.Blobs, d.Analyzer, d.Logger))
	}

	admin := r.Group("/admin", middleware.AuthRequired(d.Tokens, d.Logger), middleware.AdminRequired(d.Logger))
	{
		admin.GET("/projects", AdminListProjects(d.Projects, d.Logger))
		admin.GET("/projects/:id", AdminGetProject(d.Projects, d.Logger))
		admin.DELETE("/projects/:id", AdminDeleteProject(d.Projects, d.Logger))
		admin.POST("/verify/:id", VerifyProject(d.Lifecycle, d.Logger))
		admin.GET("/registry", ListRegistry(d.Registry, d.Logger))
		admin.GET("/registry/audit", AuditRegistry(d.Auditor, d.Logger))
	}
}
