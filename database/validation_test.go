package database

import (
	"errors"
	"testing"
	"time"

	"mrv/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageBounds(t *testing.T) {
	limits := []struct {
		name  string
		limit int
		want  int
	}{
		{name: "provided", limit: 10, want: 10},
		{name: "zero uses default", limit: 0, want: defaultLimit},
		{name: "negative uses default", limit: -10, want: defaultLimit},
		{name: "capped", limit: 5000, want: maxLimit},
		{name: "at max", limit: maxLimit, want: maxLimit},
	}
	for _, tt := range limits {
		t.Run("limit "+tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, validateLimit(tt.limit, defaultLimit, maxLimit))
		})
	}

	assert.Equal(t, 0, validateOffset(-1))
	assert.Equal(t, 0, validateOffset(0))
	assert.Equal(t, 250, validateOffset(250))
}

func TestParseRFC3339(t *testing.T) {
	got, err := parseRFC3339("2025-03-01T10:30:00+05:30")
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2025, 3, 1, 5, 0, 0, 0, time.UTC)))

	for _, input := range []string{"2025-03-01", "yesterday", ""} {
		_, err := parseRFC3339(input)
		assert.Error(t, err, input)
	}
}

func TestEncodeProjectJSON(t *testing.T) {
	history, files, analysis, err := encodeProjectJSON(&models.Project{})
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(history))
	assert.JSONEq(t, `[]`, string(files))
	assert.Nil(t, analysis)

	at := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	history, _, analysis, err = encodeProjectJSON(&models.Project{
		StatusHistory: []models.StatusChange{{Status: models.StatusVerified, Timestamp: at, Actor: "admin-1"}},
		Analysis:      &models.Analysis{CarbonEstimate: 12, Confidence: 60},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"status":"Verified","timestamp":"2025-03-01T00:00:00Z","actor":"admin-1"}]`, string(history))
	assert.Contains(t, string(analysis), `"carbon_estimate":12`)
}

type fakeRows struct {
	rows [][]interface{}
	pos  int
	err  error
}

func (f *fakeRows) Next() bool {
	f.pos++
	return f.pos <= len(f.rows)
}

func (f *fakeRows) Scan(dest ...interface{}) error {
	row := f.rows[f.pos-1]
	if len(dest) != len(row) {
		return errors.New("column count mismatch")
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case *int64:
			*d = v.(int64)
		case *uuid.UUID:
			*d = v.(uuid.UUID)
		case *string:
			*d = v.(string)
		case *time.Time:
			*d = v.(time.Time)
		default:
			return errors.New("unexpected destination")
		}
	}
	return nil
}

func (f *fakeRows) Err() error { return f.err }

func TestScanRecords(t *testing.T) {
	projectID := uuid.New()
	ist := time.FixedZone("IST", 19800)
	row := func(seq int64) []interface{} {
		return []interface{}{seq, uuid.New(), projectID, "Coastal Mangroves", "ngo-1", "admin-1", "Verified",
			time.Date(2025, 3, 1, 10, 0, 0, 0, ist), int64(2)}
	}

	records, total, err := scanRecords(&fakeRows{rows: [][]interface{}{row(1), row(2)}}, true)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, records, 2)
	assert.Equal(t, int64(2), records[1].Sequence)
	assert.Equal(t, models.StatusVerified, records[0].Status)
	assert.Equal(t, time.UTC, records[0].Timestamp.Location())

	_, _, err = scanRecords(&fakeRows{rows: [][]interface{}{row(1)}}, false)
	assert.Error(t, err)

	_, _, err = scanRecords(&fakeRows{err: errors.New("conn reset")}, false)
	assert.ErrorContains(t, err, "conn reset")
}
