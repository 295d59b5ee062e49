package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	dErrors "mrv/domainerrors"
	"mrv/middleware"
	"mrv/models"
	"mrv/registry"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AdminListProjects lists every project. owner_id narrows to one owner.
func AdminListProjects(projects ProjectStore, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, ok := bindProjectFilter(c, logger)
		if !ok {
			return
		}
		filter.OwnerID = c.Query("owner_id")
		listProjects(c, projects, filter, logger)
	}
}

func AdminGetProject(projects ProjectStore, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		project, ok := loadVisibleProject(c, projects, logger)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, project)
	}
}

// AdminDeleteProject removes a project. Its registry records stay.
func AdminDeleteProject(projects ProjectStore, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := projectID(c, logger)
		if !ok {
			return
		}
		if err := projects.Delete(c.Request.Context(), id); err != nil {
			respondError(c, logger, err)
			return
		}
		actor, _ := middleware.ActorFrom(c)
		logger.InfoContext(c.Request.Context(), "project deleted", "project_id", id, "actor", actor.ID)
		c.JSON(http.StatusOK, gin.H{"message": "project deleted"})
	}
}

// VerifyProject applies an admin decision. The lifecycle service decides
// whether the edge is allowed and appends the registry record.
func VerifyProject(svc Transitioner, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := projectID(c, logger)
		if !ok {
			return
		}
		var req models.TransitionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, logger, err.Error())
			return
		}
		actor, _ := middleware.ActorFrom(c)

		project, err := svc.Transition(c.Request.Context(), id, models.Status(req.Status), actor)
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"project": project.Name, "status": project.Status, "details": project})
	}
}

func ListRegistry(records registry.Reader, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var params models.RegistryQueryParams
		if err := c.ShouldBindQuery(&params); err != nil {
			badRequest(c, logger, err.Error())
			return
		}
		if err := validateRegistryParams(params); err != nil {
			respondError(c, logger, err)
			return
		}

		list, total, err := records.Query(c.Request.Context(), params)
		if err != nil {
			respondError(c, logger, err)
			return
		}

		limit := registry.ClampLimit(params.Limit)
		offset := max(params.Offset, 0)
		c.JSON(http.StatusOK, models.RegistryResponse{
			Registry: list,
			Total:    total,
			Limit:    limit,
			Offset:   offset,
			HasMore:  int64(offset+len(list)) < total,
		})
	}
}

func AuditRegistry(auditor Auditor, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := auditor.Run(c.Request.Context())
		if err != nil {
			respondError(c, logger, dErrors.Wrap(err, dErrors.CodeStoreFailure, "audit failed"))
			return
		}
		if !report.Consistent {
			logger.WarnContext(c.Request.Context(), "registry audit found mismatches",
				"missing", len(report.MissingRecords),
				"orphaned", len(report.OrphanedRecords),
			)
		}
		c.JSON(http.StatusOK, report)
	}
}

func validateRegistryParams(params models.RegistryQueryParams) error {
	if params.ProjectID != "" {
		if _, err := uuid.Parse(params.ProjectID); err != nil {
			return dErrors.Newf(dErrors.CodeBadRequest, "invalid project_id %q", params.ProjectID)
		}
	}
	for name, value := range map[string]string{"start_time": params.StartTime, "end_time": params.EndTime} {
		if value == "" {
			continue
		}
		if _, err := time.Parse(time.RFC3339, value); err != nil {
			return dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("invalid %s: expected RFC3339", name))
		}
	}
	return nil
}
