// Package recurring manages recurring journal templates and the generator
// that materialises their scheduled entries.
package recurring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

// SystemActor is recorded on entries created by the generator.
const SystemActor = "system:recurring"

// CreateInput describes a new recurring template.
type CreateInput struct {
	Code               string `validate:"required,max=32,account_code"`
	Name               string `validate:"required,max=120"`
	Frequency          string `validate:"required"`
	CustomIntervalDays int    `validate:"min=0,max=3660"`
	DebitAccountCode   string `validate:"required"`
	CreditAccountCode  string `validate:"required"`
	Amount             decimal.Decimal
	Memo               string `validate:"max=500"`
	StartDate          time.Time
	EndDate            *time.Time
	AutoPost           bool
	ActorID            string
}

// Validate ensures the template is coherent.
func (in CreateInput) Validate() error {
	if err := accounting.ValidateStruct(in); err != nil {
		return err
	}
	freq := accounting.Frequency(strings.ToUpper(strings.TrimSpace(in.Frequency)))
	if !freq.Valid() {
		return accounting.Invalidf("frequency %q", in.Frequency)
	}
	if freq == accounting.FrequencyCustom && in.CustomIntervalDays <= 0 {
		return accounting.Invalidf("custom frequency requires a positive interval")
	}
	if strings.EqualFold(strings.TrimSpace(in.DebitAccountCode), strings.TrimSpace(in.CreditAccountCode)) {
		return accounting.Invalidf("debit and credit accounts must differ")
	}
	if !in.Amount.IsPositive() {
		return accounting.Invalidf("amount must be positive")
	}
	if err := accounting.CheckAmount(in.Amount); err != nil {
		return err
	}
	if in.StartDate.IsZero() {
		return accounting.Invalidf("start date required")
	}
	if in.EndDate != nil && in.EndDate.Before(in.StartDate) {
		return accounting.Invalidf("end date before start date")
	}
	return nil
}

// Service manages recurring templates.
type Service struct {
	store accounting.Store
	audit accounting.AuditPort
	now   func() time.Time
}

// NewService constructs the template service.
func NewService(store accounting.Store, audit accounting.AuditPort) *Service {
	return &Service{store: store, audit: audit, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create registers an Active template whose first run is its start date.
func (s *Service) Create(ctx context.Context, in CreateInput) (accounting.RecurringTemplate, error) {
	in.Code = strings.ToUpper(strings.TrimSpace(in.Code))
	if err := in.Validate(); err != nil {
		return accounting.RecurringTemplate{}, err
	}
	var tpl accounting.RecurringTemplate
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		debit, err := postable(ctx, tx, in.DebitAccountCode)
		if err != nil {
			return err
		}
		credit, err := postable(ctx, tx, in.CreditAccountCode)
		if err != nil {
			return err
		}
		start := accounting.DateOnly(in.StartDate)
		var end *time.Time
		if in.EndDate != nil {
			d := accounting.DateOnly(*in.EndDate)
			end = &d
		}
		tpl, err = tx.InsertTemplate(ctx, accounting.RecurringTemplate{
			Code:               in.Code,
			Name:               strings.TrimSpace(in.Name),
			Frequency:          accounting.Frequency(strings.ToUpper(strings.TrimSpace(in.Frequency))),
			CustomIntervalDays: in.CustomIntervalDays,
			DebitAccountID:     debit.ID,
			CreditAccountID:    credit.ID,
			Amount:             in.Amount,
			Memo:               strings.TrimSpace(in.Memo),
			StartDate:          start,
			EndDate:            end,
			NextRunDate:        start,
			Status:             accounting.TemplateStatusActive,
			AutoPost:           in.AutoPost,
			CreatedBy:          in.ActorID,
		})
		if errors.Is(err, accounting.ErrDuplicateTemplateCode) {
			return fmt.Errorf("%w: %s", accounting.ErrDuplicateTemplateCode, in.Code)
		}
		return err
	})
	if err != nil {
		return accounting.RecurringTemplate{}, err
	}
	s.record(ctx, in.ActorID, "recurring.create", tpl)
	return tpl, nil
}

// Suspend stops the generator from considering the template.
func (s *Service) Suspend(ctx context.Context, code, actorID string) (accounting.RecurringTemplate, error) {
	return s.setStatus(ctx, code, accounting.TemplateStatusSuspended, actorID)
}

// Reactivate resumes a suspended template. Missed occurrences are caught up
// on the next run.
func (s *Service) Reactivate(ctx context.Context, code, actorID string) (accounting.RecurringTemplate, error) {
	return s.setStatus(ctx, code, accounting.TemplateStatusActive, actorID)
}

func (s *Service) setStatus(ctx context.Context, code string, next accounting.TemplateStatus, actorID string) (accounting.RecurringTemplate, error) {
	var tpl accounting.RecurringTemplate
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		found, err := tx.GetTemplateByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
		if err != nil {
			return err
		}
		tpl, err = tx.GetTemplateForUpdate(ctx, found.ID)
		if err != nil {
			return err
		}
		if !tpl.Status.CanTransition(next) {
			return accounting.TransitionError("template "+tpl.Code, tpl.Status, next)
		}
		tpl.Status = next
		return tx.UpdateTemplate(ctx, tpl)
	})
	if err != nil {
		return accounting.RecurringTemplate{}, err
	}
	s.record(ctx, actorID, "recurring."+strings.ToLower(string(next)), tpl)
	return tpl, nil
}

// Get loads a template by code.
func (s *Service) Get(ctx context.Context, code string) (accounting.RecurringTemplate, error) {
	var tpl accounting.RecurringTemplate
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		var err error
		tpl, err = tx.GetTemplateByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
		return err
	})
	return tpl, err
}

// List returns every template ordered by code.
func (s *Service) List(ctx context.Context) ([]accounting.RecurringTemplate, error) {
	var templates []accounting.RecurringTemplate
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		var err error
		templates, err = tx.ListTemplates(ctx)
		return err
	})
	return templates, err
}

func postable(ctx context.Context, tx accounting.Tx, code string) (accounting.Account, error) {
	account, err := tx.GetAccountByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		if errors.Is(err, accounting.ErrAccountNotFound) {
			return accounting.Account{}, fmt.Errorf("%w: %s", accounting.ErrAccountNotFound, code)
		}
		return accounting.Account{}, err
	}
	if !account.AllowDirectPosting() {
		return accounting.Account{}, fmt.Errorf("%w: %s", accounting.ErrAccountNotPostable, account.Code)
	}
	return account, nil
}

func (s *Service) record(ctx context.Context, actorID, action string, tpl accounting.RecurringTemplate) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "recurring_template",
		EntityID: fmt.Sprintf("%d", tpl.ID),
		Meta:     map[string]any{"code": tpl.Code, "status": tpl.Status},
		At:       s.now(),
	})
}
