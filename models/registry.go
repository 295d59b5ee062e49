package models

import (
	"time"

	"github.com/google/uuid"
)

// RegistryRecord is an immutable verification outcome. Identifiers are
// copied at verification time so the record outlives later project edits.
type RegistryRecord struct {
	Sequence    int64     `json:"sequence"`
	ID          uuid.UUID `json:"id"`
	ProjectID   uuid.UUID `json:"project_id"`
	ProjectName string    `json:"project_name"`
	OwnerID     string    `json:"owner_id"`
	VerifiedBy  string    `json:"verified_by"`
	Status      Status    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
}

// RegistryQueryParams filters the registry listing. Times are RFC3339.
type RegistryQueryParams struct {
	ProjectID string `form:"project_id"`
	OwnerID   string `form:"owner_id"`
	StartTime string `form:"start_time"`
	EndTime   string `form:"end_time"`
	Limit     int    `form:"limit"`
	Offset    int    `form:"offset"`
}

type RegistryResponse struct {
	Registry []RegistryRecord `json:"registry"`
	Total    int64            `json:"total"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
	HasMore  bool             `json:"has_more"`
}
