package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"mrv/analysis"
	"mrv/blob"
	dErrors "mrv/domainerrors"
	"mrv/middleware"
	"mrv/models"
	"mrv/registry"
	"mrv/sentinel"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func CreateProject(projects ProjectStore, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, _ := middleware.ActorFrom(c)

		var req models.CreateProjectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, logger, err.Error())
			return
		}

		status := models.StatusSubmitted
		if req.Draft {
			status = models.StatusDraft
		}
		project, err := projects.Create(c.Request.Context(), &models.Project{
			OwnerID:     actor.ID,
			Name:        strings.TrimSpace(req.Name),
			Description: req.Description,
			Location:    req.Location,
			Hectares:    req.Hectares,
			Species:     req.Species,
			Coordinates: req.Coordinates,
			Status:      status,
		})
		if err != nil {
			respondError(c, logger, err)
			return
		}

		logger.InfoContext(c.Request.Context(), "project created",
			"project_id", project.ID,
			"owner_id", project.OwnerID,
			"status", project.Status,
		)
		c.JSON(http.StatusCreated, project)
	}
}

// ListProjects returns the caller's own projects.
func ListProjects(projects ProjectStore, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, _ := middleware.ActorFrom(c)

		filter, ok := bindProjectFilter(c, logger)
		if !ok {
			return
		}
		filter.OwnerID = actor.ID
		listProjects(c, projects, filter, logger)
	}
}

func GetProjectStatus(projects ProjectStore, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		project, ok := loadVisibleProject(c, projects, logger)
		if !ok {
			return
		}
		resp := models.ProjectStatusResponse{Project: project.Name, Status: project.Status}
		if last, ok := project.LastChange(); ok {
			resp.LastChange = &last
		}
		c.JSON(http.StatusOK, resp)
	}
}

// SubmitProject moves the caller's Draft project into the admin queue.
func SubmitProject(svc Transitioner, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := projectID(c, logger)
		if !ok {
			return
		}
		actor, _ := middleware.ActorFrom(c)

		project, err := svc.Submit(c.Request.Context(), id, actor)
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, project)
	}
}

// UploadFile stores the multipart "file" field and attaches it to the
// project. The bytes are written before the project row is touched, so a
// slow upload never holds a project lock.
func UploadFile(projects ProjectStore, blobs blob.Store, maxBytes int64, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		project, ok := loadVisibleProject(c, projects, logger)
		if !ok {
			return
		}
		ctx := c.Request.Context()

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+1<<20)
		header, err := c.FormFile("file")
		if err != nil {
			badRequest(c, logger, fmt.Sprintf("file is required: %v", err))
			return
		}
		if header.Size > maxBytes {
			badRequest(c, logger, fmt.Sprintf("file exceeds %d bytes", maxBytes))
			return
		}
		f, err := header.Open()
		if err != nil {
			badRequest(c, logger, fmt.Sprintf("read upload: %v", err))
			return
		}
		defer f.Close()

		key := blob.ProjectKey(project.ID.String(), uuid.NewString(), header.Filename)
		info, err := blobs.Put(ctx, key, f, header.Header.Get("Content-Type"))
		if err != nil {
			respondError(c, logger, dErrors.Wrap(err, dErrors.CodeStoreFailure, "store upload"))
			return
		}

		ref := models.FileRef{
			Key:         info.Key,
			Name:        header.Filename,
			ContentType: info.ContentType,
			Size:        info.Size,
			UploadedAt:  time.Now().UTC(),
		}
		updated, err := projects.Update(ctx, project.ID, func(p *models.Project) error {
			p.Files = append(p.Files, ref)
			return nil
		})
		if err != nil {
			respondError(c, logger, err)
			return
		}

		logger.InfoContext(ctx, "file uploaded",
			"project_id", project.ID,
			"key", info.Key,
			"size", info.Size,
			"blob_driver", blobs.Driver(),
		)
		c.JSON(http.StatusCreated, gin.H{"file": ref, "files": len(updated.Files)})
	}
}

// DownloadFile streams an uploaded file back to its owner or an admin. The
// :file parameter is the last segment of the stored key.
func DownloadFile(projects ProjectStore, blobs blob.Store, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		project, ok := loadVisibleProject(c, projects, logger)
		if !ok {
			return
		}
		ctx := c.Request.Context()

		ref, found := findFile(project, c.Param("file"))
		if !found {
			respondError(c, logger, dErrors.New(dErrors.CodeNotFound, "file not found"))
			return
		}

		info, body, err := blobs.Get(ctx, ref.Key)
		if err != nil {
			if !errors.Is(err, sentinel.ErrNotFound) {
				err = dErrors.Wrap(err, dErrors.CodeStoreFailure, "read upload")
			}
			respondError(c, logger, err)
			return
		}
		defer body.Close()

		contentType := info.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		disposition := mime.FormatMediaType("attachment", map[string]string{"filename": ref.Name})
		c.DataFromReader(http.StatusOK, info.Size, contentType, body, map[string]string{
			"Content-Disposition": disposition,
		})
	}
}

// ProjectReport returns the stored analysis, generating one first when there
// is none or when refresh=true. Excerpts of uploaded text files are read and
// the model is called before the project is updated, outside any lock.
func ProjectReport(projects ProjectStore, blobs blob.Store, analyzer analysis.Analyzer, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		project, ok := loadVisibleProject(c, projects, logger)
		if !ok {
			return
		}
		ctx := c.Request.Context()

		refresh := c.Query("refresh") == "true"
		if project.Analysis != nil && (!refresh || analyzer == nil) {
			c.JSON(http.StatusOK, models.ReportResponse{Project: project.Name, Report: project.Analysis})
			return
		}
		if analyzer == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "analysis is not configured"})
			return
		}

		excerpts := readExcerpts(c, blobs, project, logger)
		result, err := analyzer.Analyze(ctx, project, excerpts)
		if err != nil {
			logger.WarnContext(ctx, "analysis failed", "project_id", project.ID, "error", err)
			status := http.StatusBadGateway
			if errors.Is(err, analysis.ErrDisabled) {
				status = http.StatusServiceUnavailable
			}
			c.AbortWithStatusJSON(status, gin.H{"error": "analysis failed"})
			return
		}

		updated, err := projects.Update(ctx, project.ID, func(p *models.Project) error {
			p.Analysis = result
			return nil
		})
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, models.ReportResponse{Project: updated.Name, Report: updated.Analysis})
	}
}

// Helper functions

func findFile(p *models.Project, name string) (models.FileRef, bool) {
	for _, ref := range p.Files {
		if path.Base(ref.Key) == name {
			return ref, true
		}
	}
	return models.FileRef{}, false
}

// readExcerpts collects the newest uploaded text files, up to
// analysis.MaxExcerpts. Unreadable files are logged and skipped.
func readExcerpts(c *gin.Context, blobs blob.Store, p *models.Project, logger *slog.Logger) []analysis.Excerpt {
	if blobs == nil {
		return nil
	}
	ctx := c.Request.Context()

	var excerpts []analysis.Excerpt
	for i := len(p.Files) - 1; i >= 0 && len(excerpts) < analysis.MaxExcerpts; i-- {
		ref := p.Files[i]
		if !analysis.IsText(ref) {
			continue
		}
		_, body, err := blobs.Get(ctx, ref.Key)
		if err != nil {
			logger.WarnContext(ctx, "skipping upload excerpt", "project_id", p.ID, "key", ref.Key, "error", err)
			continue
		}
		e, err := analysis.ReadExcerpt(ref.Name, body)
		body.Close()
		if err != nil {
			logger.WarnContext(ctx, "skipping upload excerpt", "project_id", p.ID, "key", ref.Key, "error", err)
			continue
		}
		excerpts = append(excerpts, e)
	}
	return excerpts
}

func projectID(c *gin.Context, logger *slog.Logger) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, logger, "invalid project ID")
		return uuid.Nil, false
	}
	return id, true
}

// loadVisibleProject fetches the :id project if the caller owns it or is an
// admin. Other callers get the same 404 as for a missing project.
func loadVisibleProject(c *gin.Context, projects ProjectStore, logger *slog.Logger) (*models.Project, bool) {
	id, ok := projectID(c, logger)
	if !ok {
		return nil, false
	}
	actor, _ := middleware.ActorFrom(c)

	project, err := projects.Get(c.Request.Context(), id)
	if err == nil && project.OwnerID != actor.ID && !actor.Elevated() {
		err = fmt.Errorf("project %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			err = dErrors.Newf(dErrors.CodeNotFound, "project %s not found", id)
		}
		respondError(c, logger, err)
		return nil, false
	}
	return project, true
}

func bindProjectFilter(c *gin.Context, logger *slog.Logger) (models.ProjectFilter, bool) {
	var filter models.ProjectFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		badRequest(c, logger, err.Error())
		return filter, false
	}
	if filter.Status != "" {
		if _, ok := models.ParseStatus(filter.Status); !ok {
			badRequest(c, logger, fmt.Sprintf("unknown status %q", filter.Status))
			return filter, false
		}
	}
	return filter, true
}

func listProjects(c *gin.Context, projects ProjectStore, filter models.ProjectFilter, logger *slog.Logger) {
	list, total, err := projects.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, logger, err)
		return
	}

	limit := registry.ClampLimit(filter.Limit)
	offset := max(filter.Offset, 0)
	c.JSON(http.StatusOK, models.ProjectsResponse{
		Projects: list,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
		HasMore:  int64(offset+len(list)) < total,
	})
}
