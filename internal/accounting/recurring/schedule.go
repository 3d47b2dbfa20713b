package recurring

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
)

// occurrenceNamespace scopes recurring source keys.
var occurrenceNamespace = uuid.MustParse("5b0f9a52-3c1e-4d7a-9a55-2f7b8e1c6d40")

// OccurrenceKey is the idempotency key of one scheduled run of a template.
func OccurrenceKey(templateID int64, date time.Time) uuid.UUID {
	return uuid.NewSHA1(occurrenceNamespace, []byte(fmt.Sprintf("%d:%s", templateID, date.Format(time.DateOnly))))
}

// Occurrence returns the n-th scheduled date after start (n = 0 is start).
// Month based frequencies are anchored on start and clamp to month end, so a
// template starting on Jan 31 runs on Feb 28 and then Mar 31.
func Occurrence(start time.Time, freq accounting.Frequency, intervalDays, n int) time.Time {
	start = accounting.DateOnly(start)
	switch freq {
	case accounting.FrequencyDaily:
		return start.AddDate(0, 0, n)
	case accounting.FrequencyWeekly:
		return start.AddDate(0, 0, 7*n)
	case accounting.FrequencyCustom:
		return start.AddDate(0, 0, intervalDays*n)
	case accounting.FrequencyMonthly:
		return addMonths(start, n)
	case accounting.FrequencyQuarterly:
		return addMonths(start, 3*n)
	case accounting.FrequencyAnnually:
		return addMonths(start, 12*n)
	default:
		return start
	}
}

func addMonths(start time.Time, months int) time.Time {
	first := time.Date(start.Year(), start.Month()+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	day := start.Day()
	if day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}

// advance records a generated occurrence and moves the template forward,
// expiring it once the next date passes its end date.
func advance(tpl *accounting.RecurringTemplate, date time.Time) {
	generated := date
	tpl.LastGeneratedDate = &generated
	tpl.GeneratedCount++
	tpl.NextRunDate = Occurrence(tpl.StartDate, tpl.Frequency, tpl.CustomIntervalDays, tpl.GeneratedCount)
	if tpl.EndDate != nil && tpl.NextRunDate.After(*tpl.EndDate) {
		tpl.Status = accounting.TemplateStatusExpired
	}
}
