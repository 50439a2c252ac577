package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openlib/circulation-service/circulation/internal/model"
)

func TestClassifyDueStatus(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

	var tests = []struct {
		name    string
		dueDate time.Time
		want    model.DueStatus
	}{
		{
			name:    "due yesterday is overdue",
			dueDate: now.AddDate(0, 0, -1),
			want:    model.DueStatusOverdue,
		},
		{
			name:    "due today is due_soon",
			dueDate: now,
			want:    model.DueStatusDueSoon,
		},
		{
			name:    "due in 3 days is due_soon",
			dueDate: now.AddDate(0, 0, 3),
			want:    model.DueStatusDueSoon,
		},
		{
			name:    "due in 4 days is normal",
			dueDate: now.AddDate(0, 0, 4),
			want:    model.DueStatusNormal,
		},
		{
			name:    "due earlier today still due_soon despite clock skew",
			dueDate: time.Date(2024, 3, 15, 0, 1, 0, 0, time.UTC),
			want:    model.DueStatusDueSoon,
		},
		{
			name:    "due late yesterday is overdue despite time of day",
			dueDate: time.Date(2024, 3, 14, 23, 59, 0, 0, time.UTC),
			want:    model.DueStatusOverdue,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, ClassifyDueStatus(tt.dueDate, now))
			// pure: same inputs, same answer
			require.Equal(t, tt.want, ClassifyDueStatus(tt.dueDate, now))
		})
	}
}

func TestClassifyDueStatus_MixedLocations(t *testing.T) {
	t.Parallel()
	ist := time.FixedZone("IST", 5*3600+30*60)
	lima := time.FixedZone("-05", -5*3600)

	// due dates are stamped in UTC, the clock may tick in any zone
	dueDate := time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)

	now := time.Date(2024, 3, 15, 1, 0, 0, 0, ist)
	require.Equal(t, model.DueStatusOverdue, ClassifyDueStatus(dueDate, now),
		"a due date on yesterday's calendar page is overdue, whatever zone the clock reports in")
	require.False(t, renewable(dueDate, now))

	now = time.Date(2024, 3, 13, 20, 0, 0, 0, lima)
	require.Equal(t, model.DueStatusDueSoon, ClassifyDueStatus(dueDate, now))
	require.True(t, renewable(dueDate, now))
}

func TestRenewable(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 15, 16, 0, 0, 0, time.UTC)

	require.True(t, renewable(now, now), "due exactly today may still be renewed")
	require.True(t, renewable(now.AddDate(0, 0, 5), now))
	require.False(t, renewable(now.AddDate(0, 0, -1), now), "strictly overdue is rejected")
}
