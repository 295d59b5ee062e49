package lifecycle

import (
	"context"
	"fmt"

	"mrv/models"
	"mrv/registry"

	"github.com/google/uuid"
)

const auditPageSize = 500

// AuditReport is the outcome of a reconciliation sweep between project
// statuses and the registry.
type AuditReport struct {
	CheckedProjects int `json:"checked_projects"`
	CheckedRecords  int `json:"checked_records"`
	// Verified projects with no registry record.
	MissingRecords []uuid.UUID `json:"missing_records"`
	// Records whose project exists but is not Verified.
	OrphanedRecords []models.RegistryRecord `json:"orphaned_records"`
	// Records whose project has since been deleted. Informational: the
	// snapshot stays valid without its project.
	DetachedRecords []models.RegistryRecord `json:"detached_records"`
	// Projects with more than one record. Expected only under ReverifyRecord.
	DuplicateRecords []uuid.UUID `json:"duplicate_records"`
	Consistent       bool        `json:"consistent"`
}

// Auditor cross-checks the project store against the registry. It only
// reads; repairing a mismatch is an operator decision.
type Auditor struct {
	projects ProjectLister
	records  registry.Reader
}

func NewAuditor(projects ProjectLister, records registry.Reader) *Auditor {
	return &Auditor{projects: projects, records: records}
}

func (a *Auditor) Run(ctx context.Context) (AuditReport, error) {
	report := AuditReport{
		MissingRecords:   []uuid.UUID{},
		OrphanedRecords:  []models.RegistryRecord{},
		DetachedRecords:  []models.RegistryRecord{},
		DuplicateRecords: []uuid.UUID{},
	}

	statuses := make(map[uuid.UUID]models.Status)
	var verified []uuid.UUID
	offset := 0
	for {
		page, total, err := a.projects.List(ctx, models.ProjectFilter{Limit: auditPageSize, Offset: offset})
		if err != nil {
			return AuditReport{}, fmt.Errorf("list projects: %w", err)
		}
		for _, p := range page {
			statuses[p.ID] = p.Status
			if p.Status == models.StatusVerified {
				verified = append(verified, p.ID)
			}
		}
		offset += len(page)
		if len(page) == 0 || int64(offset) >= total {
			break
		}
	}
	report.CheckedProjects = len(statuses)

	records, err := a.records.ListAll(ctx)
	if err != nil {
		return AuditReport{}, fmt.Errorf("list registry: %w", err)
	}
	report.CheckedRecords = len(records)

	counts := make(map[uuid.UUID]int)
	for _, r := range records {
		counts[r.ProjectID]++
		if counts[r.ProjectID] == 2 {
			report.DuplicateRecords = append(report.DuplicateRecords, r.ProjectID)
		}
		status, ok := statuses[r.ProjectID]
		switch {
		case !ok:
			report.DetachedRecords = append(report.DetachedRecords, r)
		case status != models.StatusVerified:
			report.OrphanedRecords = append(report.OrphanedRecords, r)
		}
	}
	for _, id := range verified {
		if counts[id] == 0 {
			report.MissingRecords = append(report.MissingRecords, id)
		}
	}

	report.Consistent = len(report.MissingRecords) == 0 && len(report.OrphanedRecords) == 0
	return report, nil
}
