package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		input string
		ok    bool
	}{
		{"Draft", true},
		{"Submitted", true},
		{"Verified", true},
		{"Rejected", true},
		{"verified", false},
		{"Approved", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			status, ok := ParseStatus(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, Status(tt.input), status)
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusDraft.Terminal())
	assert.False(t, StatusSubmitted.Terminal())
	assert.True(t, StatusVerified.Terminal())
	assert.True(t, StatusRejected.Terminal())
}

func TestProjectClone(t *testing.T) {
	p := &Project{
		Name:          "Mangrove Belt",
		StatusHistory: []StatusChange{{Status: StatusVerified, Timestamp: time.Now(), Actor: "admin-1"}},
		Files:         []FileRef{{Key: "k1"}},
		Analysis:      &Analysis{CarbonEstimate: 10},
	}

	c := p.Clone()
	c.StatusHistory[0].Actor = "someone"
	c.Files[0].Key = "k2"
	c.Analysis.CarbonEstimate = 99

	assert.Equal(t, "admin-1", p.StatusHistory[0].Actor)
	assert.Equal(t, "k1", p.Files[0].Key)
	assert.Equal(t, 10.0, p.Analysis.CarbonEstimate)

	var nilProject *Project
	assert.Nil(t, nilProject.Clone())
}

func TestProjectClone_KeepsEmptySlices(t *testing.T) {
	p := &Project{Name: "Mangrove Belt", StatusHistory: []StatusChange{}, Files: []FileRef{}}

	c := p.Clone()
	require.NotNil(t, c.StatusHistory)
	require.NotNil(t, c.Files)

	body, err := json.Marshal(c)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"status_history":[]`)
	assert.Contains(t, string(body), `"files":[]`)

	assert.Nil(t, (&Project{}).Clone().Files)
}

func TestProjectLastChange(t *testing.T) {
	p := &Project{}
	_, ok := p.LastChange()
	assert.False(t, ok)

	p.StatusHistory = []StatusChange{{Status: StatusSubmitted}, {Status: StatusRejected}}
	last, ok := p.LastChange()
	assert.True(t, ok)
	assert.Equal(t, StatusRejected, last.Status)
}

func TestActorElevated(t *testing.T) {
	assert.True(t, Actor{ID: "a1", Role: RoleAdmin}.Elevated())
	assert.False(t, Actor{ID: "", Role: RoleAdmin}.Elevated())
	assert.False(t, Actor{ID: "n1", Role: RoleNGO}.Elevated())
	assert.False(t, Actor{ID: "a1", Role: "Admin"}.Elevated())
}
