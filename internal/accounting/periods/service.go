// Package periods manages fiscal accounting periods.
package periods

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

// CreateInput describes a new accounting period.
type CreateInput struct {
	Name         string `validate:"required,max=64"`
	FiscalYear   int    `validate:"min=1900,max=2100"`
	Type         string `validate:"required"`
	Number       int    `validate:"min=1,max=366"`
	StartDate    time.Time
	EndDate      time.Time
	IsAdjustment bool
	ActorID      string
}

// Validate ensures the period input is coherent.
func (in CreateInput) Validate() error {
	if err := accounting.ValidateStruct(in); err != nil {
		return err
	}
	if _, ok := accounting.ParsePeriodType(in.Type); !ok {
		return accounting.Invalidf("period type %q", in.Type)
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() {
		return accounting.Invalidf("period dates required")
	}
	if !accounting.DateOnly(in.StartDate).Before(accounting.DateOnly(in.EndDate)) {
		return accounting.Invalidf("period start %s must be before end %s",
			in.StartDate.Format(time.DateOnly), in.EndDate.Format(time.DateOnly))
	}
	return nil
}

// Service manages the fiscal calendar.
type Service struct {
	store accounting.Store
	audit accounting.AuditPort
	now   func() time.Time
}

// NewService constructs the period service.
func NewService(store accounting.Store, audit accounting.AuditPort) *Service {
	return &Service{store: store, audit: audit, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create registers a period. Periods never overlap, whatever their type.
func (s *Service) Create(ctx context.Context, in CreateInput) (accounting.Period, error) {
	if err := in.Validate(); err != nil {
		return accounting.Period{}, err
	}
	periodType, _ := accounting.ParsePeriodType(in.Type)
	period := accounting.Period{
		Name:         strings.TrimSpace(in.Name),
		FiscalYear:   in.FiscalYear,
		Type:         periodType,
		Number:       in.Number,
		StartDate:    accounting.DateOnly(in.StartDate),
		EndDate:      accounting.DateOnly(in.EndDate),
		IsAdjustment: in.IsAdjustment,
	}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		existing, err := tx.ListPeriods(ctx)
		if err != nil {
			return err
		}
		for _, p := range existing {
			if p.FiscalYear == period.FiscalYear && p.Type == period.Type && p.Number == period.Number {
				return fmt.Errorf("%w: %d %s #%d", accounting.ErrDuplicatePeriod, p.FiscalYear, p.Type, p.Number)
			}
			if p.Overlaps(period.StartDate, period.EndDate) {
				return fmt.Errorf("%w: %s overlaps %s", accounting.ErrPeriodOverlap, period.Name, p.Name)
			}
		}
		period, err = tx.InsertPeriod(ctx, period)
		return err
	})
	if err != nil {
		return accounting.Period{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  in.ActorID,
			Action:   "period.create",
			Entity:   "period",
			EntityID: fmt.Sprintf("%d", period.ID),
			Meta:     map[string]any{"name": period.Name, "fiscal_year": period.FiscalYear},
			At:       s.now(),
		})
	}
	return period, nil
}

// CreateMonthly registers the twelve calendar months of fiscalYear.
func (s *Service) CreateMonthly(ctx context.Context, fiscalYear int, actorID string) ([]accounting.Period, error) {
	out := make([]accounting.Period, 0, 12)
	for m := 1; m <= 12; m++ {
		start := time.Date(fiscalYear, time.Month(m), 1, 0, 0, 0, 0, time.UTC)
		period, err := s.Create(ctx, CreateInput{
			Name:       start.Format("Jan 2006"),
			FiscalYear: fiscalYear,
			Type:       string(accounting.PeriodTypeMonthly),
			Number:     m,
			StartDate:  start,
			EndDate:    start.AddDate(0, 1, -1),
			ActorID:    actorID,
		})
		if err != nil {
			return out, err
		}
		out = append(out, period)
	}
	return out, nil
}

// Get loads a period by id.
func (s *Service) Get(ctx context.Context, id int64) (accounting.Period, error) {
	var period accounting.Period
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		var err error
		period, err = tx.GetPeriod(ctx, id)
		return err
	})
	return period, err
}

// ForDate resolves the period covering date.
func (s *Service) ForDate(ctx context.Context, date time.Time) (accounting.Period, error) {
	var period accounting.Period
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		var err error
		period, err = accounting.ResolvePeriod(ctx, tx, date)
		return err
	})
	return period, err
}

// List returns every period ordered by start date.
func (s *Service) List(ctx context.Context) ([]accounting.Period, error) {
	var periods []accounting.Period
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		var err error
		periods, err = tx.ListPeriods(ctx)
		return err
	})
	return periods, err
}
