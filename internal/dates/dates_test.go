package dates

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDay(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := Parse(s, time.UTC)
	require.NoError(t, err)
	return d
}

func TestRangeAscending(t *testing.T) {
	t.Parallel()

	got := Range(mustDay(t, "2024-01-30"), mustDay(t, "2024-02-02"), 1)
	assert.Equal(t, []string{"2024-01-30", "2024-01-31", "2024-02-01", "2024-02-02"}, got)
}

func TestRangeDescendingWithStep(t *testing.T) {
	t.Parallel()

	got := Range(mustDay(t, "2024-03-10"), mustDay(t, "2024-03-01"), 3)
	assert.Equal(t, []string{"2024-03-10", "2024-03-07", "2024-03-04", "2024-03-01"}, got)
}

func TestRangeSingleDay(t *testing.T) {
	t.Parallel()

	d := mustDay(t, "2024-05-05")
	assert.Equal(t, []string{"2024-05-05"}, Range(d, d, 0))
}

func TestLastDayOfMonth(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "2024-02-29", Format(LastDayOfMonth(mustDay(t, "2024-02-10"))))
	assert.Equal(t, "2023-12-31", Format(LastDayOfMonth(mustDay(t, "2023-12-01"))))
}

func TestClampMonthly(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	got, err := ClampMonthly("2024-02-03", now)
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29", got)

	got, err = ClampMonthly("2024-03-02", now)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-14", got)

	_, err = ClampMonthly("03/02/2024", now)
	require.Error(t, err)
}

func TestWithinLastMonth(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC)
	assert.True(t, WithinLastMonth("2024-02-15", now))
	assert.True(t, WithinLastMonth("2024-03-01", now))
	assert.False(t, WithinLastMonth("2024-02-14", now))
	assert.False(t, WithinLastMonth("garbage", now))
}

func TestRelativeDays(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 1, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, "2024-02-29", Format(Yesterday(now)))
	assert.Equal(t, "2024-02-23", Format(LastWeek(now)))
	assert.Equal(t, "2024-02-01", Format(LastMonth(now)))
}
