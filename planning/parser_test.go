package planning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlanValid(t *testing.T) {
	out := `{"goal": "keep the bakery stocked",
		"schedule": [
			{"time": "6:00", "activity": "bake bread", "location": "bakery", "priority": 8},
			{"time": "12:30", "activity": "tend stall"}
		]}`
	p, err := parsePlan(out)
	require.NoError(t, err)
	assert.Equal(t, "keep the bakery stocked", p.Goal)
	require.Len(t, p.Schedule, 2)
	assert.Equal(t, "bake bread", p.Schedule[0].Activity)
	assert.Equal(t, 8, p.Schedule[0].Priority)
	assert.Zero(t, p.Schedule[1].Priority, "priority is optional")
}

func TestParsePlanFenced(t *testing.T) {
	out := "Here is my plan for the day.\n```json\n" +
		`{"goal": "rest", "schedule": [{"time": "20:00", "activity": "sleep"}]}` +
		"\n```\nLet me know if that works."
	p, err := parsePlan(out)
	require.NoError(t, err)
	assert.Equal(t, "rest", p.Goal)
}

func TestParsePlanRejectsBadTime(t *testing.T) {
	_, err := parsePlan(`{"goal": "x", "schedule": [{"time": "24:00", "activity": "sleep"}]}`)
	assert.Error(t, err)
}

func TestParsePlanRejectsEmptySchedule(t *testing.T) {
	_, err := parsePlan(`{"goal": "x", "schedule": []}`)
	assert.Error(t, err)
}

func TestParsePlanNoJSON(t *testing.T) {
	_, err := parsePlan("I would rather describe my day in prose.")
	assert.Error(t, err)
}
