package gcal

import (
	"testing"
	"time"

	"github.com/aanjaneya24/smartsched/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOccurrences(t *testing.T) {
	sem := &db.Semester{
		StartDate: time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 11, 3, 0, 0, 0, 0, time.UTC),
	}
	slot := &db.TimetableSlot{DayOfWeek: 2, StartTime: "14:00", EndTime: "15:15"}

	t.Run("end date is inclusive", func(t *testing.T) {
		occ, err := Occurrences(slot, sem, testNow, time.UTC, 0)
		require.NoError(t, err)

		dates := make([]string, 0, len(occ))
		for _, o := range occ {
			dates = append(dates, o.Date)
		}
		assert.Equal(t, []string{"2026-10-20", "2026-10-27", "2026-11-03"}, dates)
	})

	t.Run("limit caps the result", func(t *testing.T) {
		occ, err := Occurrences(slot, sem, testNow, time.UTC, 2)
		require.NoError(t, err)
		assert.Len(t, occ, 2)
	})

	t.Run("today counts when it is the slot day", func(t *testing.T) {
		tuesday := time.Date(2026, 10, 27, 18, 0, 0, 0, time.UTC)
		occ, err := Occurrences(slot, sem, tuesday, time.UTC, 0)
		require.NoError(t, err)
		require.Len(t, occ, 2)
		assert.Equal(t, "2026-10-27", occ[0].Date)
	})

	t.Run("times are placed in the location", func(t *testing.T) {
		loc, err := time.LoadLocation("America/New_York")
		require.NoError(t, err)

		occ, err := Occurrences(slot, sem, testNow, loc, 1)
		require.NoError(t, err)
		require.Len(t, occ, 1)
		assert.True(t, occ[0].Start.Equal(time.Date(2026, 10, 20, 14, 0, 0, 0, loc)))
		assert.True(t, occ[0].End.Equal(time.Date(2026, 10, 20, 15, 15, 0, 0, loc)))
	})

	t.Run("no day in range", func(t *testing.T) {
		short := &db.Semester{
			StartDate: time.Date(2026, 10, 21, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2026, 10, 23, 0, 0, 0, 0, time.UTC),
		}
		occ, err := Occurrences(slot, short, testNow, time.UTC, 0)
		require.NoError(t, err)
		assert.Empty(t, occ)
	})

	t.Run("bad day", func(t *testing.T) {
		_, err := Occurrences(&db.TimetableSlot{DayOfWeek: 7, StartTime: "09:00", EndTime: "10:00"}, sem, testNow, time.UTC, 0)
		assert.Error(t, err)
	})
}

func TestParseSlotTimes(t *testing.T) {
	tests := []struct {
		start, end string
		wantErr    bool
	}{
		{"09:00", "10:30", false},
		{"23:00", "23:59", false},
		{"10:00", "10:00", true},
		{"11:00", "10:00", true},
		{"9am", "10:00", true},
		{"09:00", "25:00", true},
	}
	for _, tt := range tests {
		t.Run(tt.start+"-"+tt.end, func(t *testing.T) {
			_, _, err := ParseSlotTimes(tt.start, tt.end)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSlotTime)
				return
			}
			assert.NoError(t, err)
		})
	}
}
