package database

import (
	"fmt"
	"strings"
	"time"
)

const (
	columnID            = "id"
	columnOwnerID       = "owner_id"
	columnStatus        = "status"
	columnCreatedAt     = "created_at"
	columnProjectID     = "project_id"
	columnSequence      = "sequence"
	columnRecordedAt    = "recorded_at"
	projectSearchVector = "to_tsvector('english', name || ' ' || species || ' ' || location)"
)

// QueryBuilder collects WHERE conditions and their positional arguments.
// Column names come from the constants above, never from callers.
type QueryBuilder struct {
	conditions []string
	args       []interface{}
}

func NewQueryBuilder() *QueryBuilder {
	return &QueryBuilder{
		conditions: []string{},
		args:       []interface{}{},
	}
}

// add appends a condition whose single %d verb receives the next
// placeholder number.
func (qb *QueryBuilder) add(format string, value interface{}) {
	qb.args = append(qb.args, value)
	qb.conditions = append(qb.conditions, fmt.Sprintf(format, len(qb.args)))
}

func (qb *QueryBuilder) AddCondition(column string, value interface{}) {
	qb.add(column+" = $%d", value)
}

// AddTimeRange bounds column by RFC3339 start and end, both inclusive.
// Empty bounds are skipped.
func (qb *QueryBuilder) AddTimeRange(column, start, end string) error {
	bounds := []struct {
		name, value, op string
	}{
		{"start_time", start, ">="},
		{"end_time", end, "<="},
	}
	for _, b := range bounds {
		if b.value == "" {
			continue
		}
		t, err := parseRFC3339(b.value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", b.name, err)
		}
		qb.add(column+" "+b.op+" $%d", t)
	}
	return nil
}

// AddFullTextSearch matches a parsed tsquery against the project search
// vector (name, species, location).
func (qb *QueryBuilder) AddFullTextSearch(tsQuery string) {
	qb.add(projectSearchVector+" @@ to_tsquery('english', $%d)", tsQuery)
}

func (qb *QueryBuilder) WhereClause() string {
	if len(qb.conditions) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(qb.conditions, " AND ")
}

// Page appends limit and offset as the last two arguments and returns the
// matching LIMIT/OFFSET clause. Call it after every condition is added.
func (qb *QueryBuilder) Page(limit, offset int) string {
	qb.args = append(qb.args, limit, offset)
	n := len(qb.args)
	return fmt.Sprintf("LIMIT $%d OFFSET $%d", n-1, n)
}

func (qb *QueryBuilder) Args() []interface{} {
	return qb.args
}

func (qb *QueryBuilder) NextArgNum() int {
	return len(qb.args) + 1
}

// Helper functions

func parseRFC3339(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

func validateLimit(limit, defaultLimit, maxLimit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

func validateOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
