package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, expr string) *Schedule {
	t.Helper()
	schedule, err := ParseCron(expr)
	require.NoError(t, err)
	return schedule
}

func TestCronNext(t *testing.T) {
	base := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		expr string
		want time.Time
	}{
		{"0 * * * *", time.Date(2024, 3, 15, 11, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2024, 3, 15, 10, 45, 0, 0, time.UTC)},
		{"0 0 * * *", time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC)},
		{"30 10 * * *", time.Date(2024, 3, 16, 10, 30, 0, 0, time.UTC)},
		{"* * * * *", time.Date(2024, 3, 15, 10, 31, 0, 0, time.UTC)},
		{"0 */6 * * *", time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got := mustParse(t, tt.expr).Next(base)
			assert.Equal(t, tt.want, got)
			assert.True(t, got.After(base), "next run must be strictly after base")
		})
	}
}

func TestCronNextFromOffsetBase(t *testing.T) {
	// Mid-interval base: */15 picks the next boundary, not the current one.
	base := time.Date(2024, 3, 15, 10, 7, 0, 0, time.UTC)
	got := mustParse(t, "*/15 * * * *").Next(base)
	assert.Equal(t, time.Date(2024, 3, 15, 10, 15, 0, 0, time.UTC), got)

	// A base exactly on a boundary still advances.
	base = time.Date(2024, 3, 15, 10, 15, 0, 0, time.UTC)
	got = mustParse(t, "*/15 * * * *").Next(base)
	assert.Equal(t, time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC), got)
}

func TestCronDayFields(t *testing.T) {
	base := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC) // a Friday

	// Sunday at midnight.
	got := mustParse(t, "0 0 * * 0").Next(base)
	assert.Equal(t, time.Date(2024, 3, 17, 0, 0, 0, 0, time.UTC), got)

	// First of the month.
	got = mustParse(t, "0 0 1 * *").Next(base)
	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), got)
}

func TestCronParseErrors(t *testing.T) {
	for _, expr := range []string{
		"",
		"0 * * *",
		"0 * * * * *",
		"60 * * * *",
		"* 24 * * *",
		"*/0 * * * *",
		"a * * * *",
		"*/x * * * *",
	} {
		_, err := ParseCron(expr)
		assert.Error(t, err, expr)
	}
}
