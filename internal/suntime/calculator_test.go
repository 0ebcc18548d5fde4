package suntime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCalculator() *Calculator {
	logger, _ := zap.NewDevelopment()
	// London
	return NewCalculator(51.5074, -0.1278, logger)
}

func TestCalculator_SunTimes(t *testing.T) {
	calc := newTestCalculator()
	day := time.Date(2026, 6, 21, 12, 0, 0, 0, time.UTC)

	rise, set, err := calc.SunTimes(day)
	require.NoError(t, err)
	assert.True(t, rise.Before(set), "sunrise should be before sunset")
	assert.Equal(t, 3, rise.Hour(), "midsummer sunrise in London is just before 04:00 UTC")
	assert.Equal(t, 20, set.Hour(), "midsummer sunset in London is just after 20:00 UTC")

	// Cached value is reused.
	rise2, set2, err := calc.SunTimes(day.Add(3 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, rise, rise2)
	assert.Equal(t, set, set2)
}

func TestCalculator_Resolve(t *testing.T) {
	calc := newTestCalculator()
	day := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	_, set, err := calc.SunTimes(day)
	require.NoError(t, err)

	tests := []struct {
		expr string
		want time.Time
	}{
		{"22:30", time.Date(2026, 3, 10, 22, 30, 0, 0, time.UTC)},
		{"7:05:30", time.Date(2026, 3, 10, 7, 5, 0, 0, time.UTC)},
		{"sunset", set},
		{"sunset-30", set.Add(-30 * time.Minute)},
		{"Sunset + 15", set.Add(15 * time.Minute)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := calc.Resolve(tt.expr, day)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v want %v", got, tt.want)
		})
	}

	for _, bad := range []string{"", "25:00", "noon", "sunset+x", "12"} {
		_, err := calc.Resolve(bad, day)
		assert.Error(t, err, bad)
	}
}

func TestInWindow(t *testing.T) {
	at := func(h, m int) time.Time { return time.Date(2026, 1, 1, h, m, 0, 0, time.UTC) }

	// Daytime window.
	assert.True(t, InWindow(at(12, 0), at(8, 0), at(22, 0)))
	assert.True(t, InWindow(at(8, 0), at(8, 0), at(22, 0)), "start is inclusive")
	assert.True(t, InWindow(at(22, 0), at(8, 0), at(22, 0)), "end is inclusive")
	assert.False(t, InWindow(at(23, 0), at(8, 0), at(22, 0)))

	// Overnight window.
	assert.True(t, InWindow(at(23, 30), at(22, 0), at(6, 0)))
	assert.True(t, InWindow(at(2, 0), at(22, 0), at(6, 0)))
	assert.False(t, InWindow(at(12, 0), at(22, 0), at(6, 0)))

	// A second past the end is outside.
	assert.False(t, InWindow(at(22, 0).Add(time.Second), at(8, 0), at(22, 0)))
}
