package registry

import (
	"fmt"
	"time"

	"mrv/models"
)

const (
	DefaultLimit = 50
	MaxLimit     = 1000
)

// Filter applies params to records already ordered by Sequence and returns
// the requested page together with the total number of matches.
func Filter(records []models.RegistryRecord, params models.RegistryQueryParams) ([]models.RegistryRecord, int64, error) {
	var start, end time.Time
	var err error
	if params.StartTime != "" {
		if start, err = time.Parse(time.RFC3339, params.StartTime); err != nil {
			return nil, 0, fmt.Errorf("invalid start_time: %w", err)
		}
	}
	if params.EndTime != "" {
		if end, err = time.Parse(time.RFC3339, params.EndTime); err != nil {
			return nil, 0, fmt.Errorf("invalid end_time: %w", err)
		}
	}

	matched := []models.RegistryRecord{}
	for _, r := range records {
		if params.ProjectID != "" && r.ProjectID.String() != params.ProjectID {
			continue
		}
		if params.OwnerID != "" && r.OwnerID != params.OwnerID {
			continue
		}
		if !start.IsZero() && r.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && r.Timestamp.After(end) {
			continue
		}
		matched = append(matched, r)
	}

	total := int64(len(matched))
	limit := ClampLimit(params.Limit)
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return []models.RegistryRecord{}, total, nil
	}
	stop := offset + limit
	if stop > len(matched) {
		stop = len(matched)
	}
	return matched[offset:stop], total, nil
}

// ClampLimit applies the default and maximum page size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
