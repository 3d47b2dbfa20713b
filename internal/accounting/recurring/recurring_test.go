package recurring_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	lt "github.com/odyssey-erp/odyssey-gl/internal/accounting/ledgertest"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/recurring"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
	_ "github.com/odyssey-erp/odyssey-gl/testing"
)

func rent(start time.Time, end *time.Time, autoPost bool) recurring.CreateInput {
	return recurring.CreateInput{
		Code:              "rent",
		Name:              "Office rent",
		Frequency:         "monthly",
		DebitAccountCode:  "5000",
		CreditAccountCode: "2000",
		Amount:            lt.Amount("1200.00"),
		StartDate:         start,
		EndDate:           end,
		AutoPost:          autoPost,
		ActorID:           lt.Actor,
	}
}

func generator(f *lt.Fixture, locker recurring.Locker) *recurring.Generator {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return recurring.NewGenerator(f.Store, f.Journals, locker, logger, recurring.GeneratorConfig{Concurrency: 2})
}

func TestOccurrenceClampsToMonthEnd(t *testing.T) {
	start := lt.Date(time.January, 31)
	cases := []struct {
		freq accounting.Frequency
		n    int
		want time.Time
	}{
		{accounting.FrequencyMonthly, 1, lt.Date(time.February, 28)},
		{accounting.FrequencyMonthly, 2, lt.Date(time.March, 31)},
		{accounting.FrequencyQuarterly, 1, lt.Date(time.April, 30)},
		{accounting.FrequencyAnnually, 1, time.Date(2026, time.January, 31, 0, 0, 0, 0, time.UTC)},
		{accounting.FrequencyWeekly, 1, lt.Date(time.February, 7)},
		{accounting.FrequencyDaily, 1, lt.Date(time.February, 1)},
	}
	for _, tc := range cases {
		t.Run(string(tc.freq), func(t *testing.T) {
			require.Equal(t, tc.want, recurring.Occurrence(start, tc.freq, 0, tc.n))
		})
	}
	require.Equal(t, lt.Date(time.February, 10), recurring.Occurrence(start, accounting.FrequencyCustom, 10, 1))
}

func TestCreateValidatesTemplate(t *testing.T) {
	f := lt.New(t)
	cases := map[string]func(*recurring.CreateInput){
		"frequency":     func(in *recurring.CreateInput) { in.Frequency = "hourly" },
		"custom":        func(in *recurring.CreateInput) { in.Frequency = "custom" },
		"same account":  func(in *recurring.CreateInput) { in.CreditAccountCode = "5000" },
		"zero amount":   func(in *recurring.CreateInput) { in.Amount = lt.Amount("0") },
		"fractional":    func(in *recurring.CreateInput) { in.Amount = lt.Amount("1.005") },
		"end too early": func(in *recurring.CreateInput) { d := lt.Date(time.January, 1); in.EndDate = &d },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := rent(lt.Date(time.January, 31), nil, false)
			mutate(&in)
			_, err := f.Recurring.Create(f.Ctx, in)
			require.ErrorIs(t, err, accounting.ErrValidation)
		})
	}

	_, err := f.Recurring.Create(f.Ctx, rent(lt.Date(time.January, 31), nil, false))
	require.NoError(t, err)
	_, err = f.Recurring.Create(f.Ctx, rent(lt.Date(time.January, 31), nil, false))
	require.ErrorIs(t, err, accounting.ErrDuplicateTemplateCode)
}

func TestRunCatchesUpAndIsIdempotent(t *testing.T) {
	f := lt.New(t)
	tpl, err := f.Recurring.Create(f.Ctx, rent(lt.Date(time.January, 31), nil, false))
	require.NoError(t, err)
	gen := generator(f, nil)

	report, err := gen.Run(f.Ctx, lt.Date(time.March, 31))
	require.NoError(t, err)
	require.Len(t, report.Generated, 3)
	require.Empty(t, report.Failures)

	entries, err := f.Journals.ListEntries(f.Ctx, recurringEntries())
	require.NoError(t, err)
	require.Len(t, entries, 3)
	dates := map[time.Time]bool{}
	for _, e := range entries {
		dates[e.Date] = true
		require.Equal(t, accounting.EntryStatusPendingApproval, e.Status)
		require.Equal(t, recurring.SystemActor, e.CreatedBy)
		require.Equal(t, "RENT", e.SourceRef)
	}
	require.True(t, dates[lt.Date(time.February, 28)])

	again, err := gen.Run(f.Ctx, lt.Date(time.March, 31))
	require.NoError(t, err)
	require.Empty(t, again.Generated)
	entries, err = f.Journals.ListEntries(f.Ctx, recurringEntries())
	require.NoError(t, err)
	require.Len(t, entries, 3)

	tpl, err = f.Recurring.Get(f.Ctx, tpl.Code)
	require.NoError(t, err)
	require.Equal(t, 3, tpl.GeneratedCount)
	require.Equal(t, lt.Date(time.April, 30), tpl.NextRunDate)
}

func TestRunSkipsOccurrenceAlreadyGenerated(t *testing.T) {
	f := lt.New(t)
	tpl, err := f.Recurring.Create(f.Ctx, rent(lt.Date(time.January, 31), nil, false))
	require.NoError(t, err)
	_, err = f.Journals.CreateDraft(f.Ctx, journals.DraftInput{
		Reference: "MANUAL-RENT",
		Date:      lt.Date(time.January, 31),
		Source:    accounting.EntrySourceRecurring,
		SourceKey: recurring.OccurrenceKey(tpl.ID, lt.Date(time.January, 31)),
		Lines:     []journals.LineInput{lt.Debit("5000", "1200.00"), lt.Credit("2000", "1200.00")},
		ActorID:   lt.Actor,
	})
	require.NoError(t, err)

	report, err := generator(f, nil).Run(f.Ctx, lt.Date(time.January, 31))
	require.NoError(t, err)
	require.Empty(t, report.Generated)
	require.Equal(t, 1, report.Skipped)
}

func TestRunAutoPostsAndExpires(t *testing.T) {
	f := lt.New(t)
	end := lt.Date(time.February, 15)
	_, err := f.Recurring.Create(f.Ctx, rent(lt.Date(time.January, 31), &end, true))
	require.NoError(t, err)

	report, err := generator(f, nil).Run(f.Ctx, lt.Date(time.June, 30))
	require.NoError(t, err)
	require.Len(t, report.Generated, 1)
	require.True(t, report.Generated[0].Posted)

	entry, err := f.Journals.GetEntry(f.Ctx, report.Generated[0].EntryID)
	require.NoError(t, err)
	require.True(t, entry.IsPosted)
	require.Equal(t, 1, f.Metrics.Posted[string(accounting.EntrySourceRecurring)])

	tpl, err := f.Recurring.Get(f.Ctx, "RENT")
	require.NoError(t, err)
	require.Equal(t, accounting.TemplateStatusExpired, tpl.Status)
	_, err = f.Recurring.Reactivate(f.Ctx, "RENT", lt.Actor)
	require.ErrorIs(t, err, accounting.ErrInvalidTransition)
}

func TestRunFailureDoesNotAdvance(t *testing.T) {
	f := lt.New(t)
	_, err := f.Recurring.Create(f.Ctx, rent(lt.Date(time.December, 15), nil, false))
	require.NoError(t, err)

	report, err := generator(f, nil).Run(f.Ctx, time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, report.Generated, 1)
	require.Len(t, report.Failures, 1)
	require.ErrorIs(t, report.Failures[0].Err, accounting.ErrNoPeriodForDate)

	tpl, err := f.Recurring.Get(f.Ctx, "RENT")
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC), tpl.NextRunDate)
	require.Equal(t, 1, tpl.GeneratedCount)
}

func TestSuspendedTemplatesAreIgnored(t *testing.T) {
	f := lt.New(t)
	_, err := f.Recurring.Create(f.Ctx, rent(lt.Date(time.January, 31), nil, false))
	require.NoError(t, err)
	_, err = f.Recurring.Suspend(f.Ctx, "rent", lt.Actor)
	require.NoError(t, err)

	report, err := generator(f, nil).Run(f.Ctx, lt.Date(time.March, 31))
	require.NoError(t, err)
	require.Zero(t, report.Templates)

	_, err = f.Recurring.Reactivate(f.Ctx, "rent", lt.Actor)
	require.NoError(t, err)
	report, err = generator(f, nil).Run(f.Ctx, lt.Date(time.March, 31))
	require.NoError(t, err)
	require.Len(t, report.Generated, 3)
}

func TestRunHonoursDistributedLock(t *testing.T) {
	f := lt.New(t)
	_, err := f.Recurring.Create(f.Ctx, rent(lt.Date(time.January, 31), nil, false))
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	locker := shared.NewLocker(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	asOf := lt.Date(time.January, 31)

	release, err := locker.Acquire(context.Background(), shared.RecurringRunLockKey(asOf), time.Minute)
	require.NoError(t, err)
	_, err = generator(f, locker).Run(f.Ctx, asOf)
	require.ErrorIs(t, err, shared.ErrLockHeld)

	require.NoError(t, release(context.Background()))
	report, err := generator(f, locker).Run(f.Ctx, asOf)
	require.NoError(t, err)
	require.Len(t, report.Generated, 1)
	require.False(t, mr.Exists(shared.RecurringRunLockKey(asOf)))
}

func recurringEntries() accounting.EntryFilter {
	source := accounting.EntrySourceRecurring
	return accounting.EntryFilter{Source: &source}
}
