package service

import (
	"math"
	"time"

	"github.com/openlib/circulation-service/circulation/internal/model"
)

const (
	loanPeriodDays    = 14
	renewalPeriodDays = 7
	dueSoonWindowDays = 3
)

// startOfDay strips the time-of-day so due-date arithmetic works on calendar
// days and never flickers within a single day.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// daysUntilDue counts calendar days between now and the due date, on the
// clock's own calendar. The due date is brought into now's location first;
// otherwise midnights in different locations sit a fractional day apart and
// the division truncates toward zero. Rounding absorbs DST-length days.
func daysUntilDue(dueDate, now time.Time) int {
	due := startOfDay(dueDate.In(now.Location()))
	today := startOfDay(now)
	return int(math.Round(due.Sub(today).Hours() / 24))
}

// ClassifyDueStatus is pure: both dates are normalized to midnight, then
// diff < 0 is overdue, 0..3 is due_soon, anything later is normal.
func ClassifyDueStatus(dueDate, now time.Time) model.DueStatus {
	diffDays := daysUntilDue(dueDate, now)
	switch {
	case diffDays < 0:
		return model.DueStatusOverdue
	case diffDays <= dueSoonWindowDays:
		return model.DueStatusDueSoon
	default:
		return model.DueStatusNormal
	}
}

// renewable is the renewal eligibility check: a book due today may still be
// renewed, a strictly overdue one may not.
func renewable(dueDate, now time.Time) bool {
	return daysUntilDue(dueDate, now) >= 0
}
