package models

import (
	"time"

	"github.com/google/uuid"
)

// Status is a project's position in the verification lifecycle.
type Status string

const (
	StatusDraft     Status = "Draft"
	StatusSubmitted Status = "Submitted"
	StatusVerified  Status = "Verified"
	StatusRejected  Status = "Rejected"
)

var knownStatuses = map[Status]struct{}{
	StatusDraft:     {},
	StatusSubmitted: {},
	StatusVerified:  {},
	StatusRejected:  {},
}

// ParseStatus reports whether s names a member of the closed status set.
// Matching is exact: "verified" is not "Verified".
func ParseStatus(s string) (Status, bool) {
	status := Status(s)
	_, ok := knownStatuses[status]
	return status, ok
}

// Terminal reports whether no further lifecycle edges leave this status.
func (s Status) Terminal() bool {
	return s == StatusVerified || s == StatusRejected
}

// StatusChange is one entry of a project's status history.
type StatusChange struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
}

// FileRef points at an uploaded file held by the blob store.
type FileRef struct {
	Key         string    `json:"key"`
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// Analysis is the AI-produced sequestration estimate for a project.
type Analysis struct {
	CarbonEstimate float64   `json:"carbon_estimate"`
	Confidence     float64   `json:"confidence"`
	Notes          string    `json:"analysis_notes"`
	Model          string    `json:"model,omitempty"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// Project is a restoration project submitted for verification.
// ID and OwnerID never change after creation. Status and StatusHistory
// are only changed by the lifecycle service.
type Project struct {
	ID            uuid.UUID      `json:"id"`
	OwnerID       string         `json:"owner_id"`
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	Location      string         `json:"location"`
	Hectares      float64        `json:"hectares"`
	Species       string         `json:"species"`
	Coordinates   string         `json:"coordinates"`
	Status        Status         `json:"status"`
	StatusHistory []StatusChange `json:"status_history"`
	Files         []FileRef      `json:"files"`
	Analysis      *Analysis      `json:"analysis,omitempty"`
	Verifier      string         `json:"verifier,omitempty"`
	Notes         string         `json:"notes,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate it without aliasing
// slices held by a store.
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	c := *p
	c.StatusHistory = cloneSlice(p.StatusHistory)
	c.Files = cloneSlice(p.Files)
	if p.Analysis != nil {
		a := *p.Analysis
		c.Analysis = &a
	}
	return &c
}

// cloneSlice copies s, keeping nil as nil and empty as empty so JSON
// renders [] rather than null.
func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	c := make([]T, len(s))
	copy(c, s)
	return c
}

// LastChange returns the most recent history entry, if any.
func (p *Project) LastChange() (StatusChange, bool) {
	if len(p.StatusHistory) == 0 {
		return StatusChange{}, false
	}
	return p.StatusHistory[len(p.StatusHistory)-1], true
}

// CreateProjectRequest is the payload for submitting a new project.
// Draft keeps the project out of the admin queue until the owner submits it.
type CreateProjectRequest struct {
	Name        string  `json:"name" binding:"required,min=3,max=255"`
	Description string  `json:"description"`
	Location    string  `json:"location" binding:"max=255"`
	Hectares    float64 `json:"hectares" binding:"gte=0"`
	Species     string  `json:"species" binding:"max=255"`
	Coordinates string  `json:"coordinates"`
	Draft       bool    `json:"draft"`
}

// TransitionRequest is the admin verification payload.
type TransitionRequest struct {
	Status string `json:"status" binding:"required"`
}

// ProjectFilter narrows project listings. Search runs full-text over
// name, species and location.
type ProjectFilter struct {
	OwnerID string `form:"-"`
	Status  string `form:"status"`
	Search  string `form:"search"`
	Limit   int    `form:"limit"`
	Offset  int    `form:"offset"`
}

// ProjectsResponse is the standard response format for project listings.
type ProjectsResponse struct {
	Projects []Project `json:"projects"`
	Total    int64     `json:"total"`
	Limit    int       `json:"limit"`
	Offset   int       `json:"offset"`
	HasMore  bool      `json:"has_more"`
}

// ProjectStatusResponse mirrors the owner-facing status endpoint.
type ProjectStatusResponse struct {
	Project    string        `json:"project"`
	Status     Status        `json:"status"`
	LastChange *StatusChange `json:"last_change,omitempty"`
}

// ReportResponse pairs a project name with its analysis.
type ReportResponse struct {
	Project string    `json:"project"`
	Report  *Analysis `json:"report"`
}
