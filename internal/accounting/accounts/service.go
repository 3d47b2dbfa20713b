package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

// CreateInput describes a new chart of accounts node.
type CreateInput struct {
	Code          string                   `validate:"required,max=32,account_code"`
	Name          string                   `validate:"required,max=120"`
	Description   string                   `validate:"max=500"`
	ParentCode    string                   `validate:"omitempty,account_code"`
	Type          accounting.AccountType   `validate:"required"`
	NormalBalance accounting.NormalBalance
	IsControl     bool
	ActorID       string
}

// Validate ensures the input is well formed.
func (in CreateInput) Validate() error {
	if err := accounting.ValidateStruct(in); err != nil {
		return err
	}
	if !in.Type.Valid() {
		return accounting.Invalidf("account type %q", in.Type)
	}
	if in.NormalBalance != "" && !in.NormalBalance.Valid() {
		return accounting.Invalidf("normal balance %q", in.NormalBalance)
	}
	if strings.EqualFold(in.Code, in.ParentCode) {
		return accounting.Invalidf("account %s cannot be its own parent", in.Code)
	}
	return nil
}

// Service manages the chart of accounts.
type Service struct {
	store accounting.Store
	audit accounting.AuditPort
	now   func() time.Time
}

// NewService constructs the chart of accounts service.
func NewService(store accounting.Store, audit accounting.AuditPort) *Service {
	return &Service{store: store, audit: audit, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create registers a new account. A non-control parent without postings is
// promoted to a control account when it receives its first child.
func (s *Service) Create(ctx context.Context, in CreateInput) (accounting.Account, error) {
	in.Code = normaliseCode(in.Code)
	in.ParentCode = normaliseCode(in.ParentCode)
	if err := in.Validate(); err != nil {
		return accounting.Account{}, err
	}
	var account accounting.Account
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		var err error
		account, err = createTx(ctx, tx, in)
		return err
	})
	if err != nil {
		return accounting.Account{}, err
	}
	s.record(ctx, in.ActorID, "account.create", account, map[string]any{"type": account.Type, "parent": in.ParentCode})
	return account, nil
}

func createTx(ctx context.Context, tx accounting.Tx, in CreateInput) (accounting.Account, error) {
	if _, err := tx.GetAccountByCode(ctx, in.Code); err == nil {
		return accounting.Account{}, fmt.Errorf("%w: %s", accounting.ErrDuplicateCode, in.Code)
	} else if !errors.Is(err, accounting.ErrAccountNotFound) {
		return accounting.Account{}, err
	}
	normal := in.NormalBalance
	if normal == "" {
		normal = in.Type.DefaultNormalBalance()
	}
	account := accounting.Account{
		Code:          in.Code,
		Name:          strings.TrimSpace(in.Name),
		Description:   strings.TrimSpace(in.Description),
		Type:          in.Type,
		NormalBalance: normal,
		IsControl:     in.IsControl,
		IsActive:      true,
	}
	if in.ParentCode != "" {
		parent, err := tx.GetAccountByCode(ctx, in.ParentCode)
		if err != nil {
			if errors.Is(err, accounting.ErrAccountNotFound) {
				return accounting.Account{}, fmt.Errorf("%w: parent %s", accounting.ErrAccountNotFound, in.ParentCode)
			}
			return accounting.Account{}, err
		}
		if parent.Type != in.Type {
			return accounting.Account{}, fmt.Errorf("%w: %s account %s cannot nest under %s account %s",
				accounting.ErrInvalidHierarchy, in.Type, in.Code, parent.Type, parent.Code)
		}
		if !parent.IsControl {
			posted, err := tx.HasPostings(ctx, parent.ID)
			if err != nil {
				return accounting.Account{}, err
			}
			if posted {
				return accounting.Account{}, fmt.Errorf("%w: parent %s already has postings", accounting.ErrControlAccountViolation, parent.Code)
			}
			parent.IsControl = true
			if err := tx.UpdateAccount(ctx, parent); err != nil {
				return accounting.Account{}, err
			}
		}
		parentID := parent.ID
		account.ParentID = &parentID
	}
	return tx.InsertAccount(ctx, account)
}

// Deactivate stops an account from receiving postings.
func (s *Service) Deactivate(ctx context.Context, code, actorID string) (accounting.Account, error) {
	code = normaliseCode(code)
	var account accounting.Account
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		var err error
		account, err = tx.GetAccountByCode(ctx, code)
		if err != nil {
			return err
		}
		if !account.IsActive {
			return nil
		}
		lines, err := tx.CountActivePostings(ctx, account.ID)
		if err != nil {
			return err
		}
		if lines > 0 {
			return &accounting.HasActivePostingsError{AccountCode: account.Code, Lines: lines}
		}
		account.IsActive = false
		return tx.UpdateAccount(ctx, account)
	})
	if err != nil {
		return accounting.Account{}, err
	}
	s.record(ctx, actorID, "account.deactivate", account, nil)
	return account, nil
}

// Activate re-enables an inactive account.
func (s *Service) Activate(ctx context.Context, code, actorID string) (accounting.Account, error) {
	code = normaliseCode(code)
	var account accounting.Account
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		var err error
		account, err = tx.GetAccountByCode(ctx, code)
		if err != nil {
			return err
		}
		if account.IsActive {
			return nil
		}
		account.IsActive = true
		return tx.UpdateAccount(ctx, account)
	})
	if err != nil {
		return accounting.Account{}, err
	}
	s.record(ctx, actorID, "account.activate", account, nil)
	return account, nil
}

// Get loads an account by code.
func (s *Service) Get(ctx context.Context, code string) (accounting.Account, error) {
	var account accounting.Account
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		var err error
		account, err = tx.GetAccountByCode(ctx, normaliseCode(code))
		return err
	})
	return account, err
}

// List returns every account ordered by code.
func (s *Service) List(ctx context.Context) ([]accounting.Account, error) {
	var accounts []accounting.Account
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		var err error
		accounts, err = tx.ListAccounts(ctx)
		return err
	})
	return accounts, err
}

// Ancestors returns the parent chain of code, nearest parent first.
func (s *Service) Ancestors(ctx context.Context, code string) ([]accounting.Account, error) {
	var chain []accounting.Account
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		account, err := tx.GetAccountByCode(ctx, normaliseCode(code))
		if err != nil {
			return err
		}
		chain, err = ancestors(ctx, tx, account)
		return err
	})
	return chain, err
}

func ancestors(ctx context.Context, tx accounting.Tx, account accounting.Account) ([]accounting.Account, error) {
	var chain []accounting.Account
	visited := map[int64]bool{account.ID: true}
	for account.ParentID != nil {
		if visited[*account.ParentID] {
			return nil, fmt.Errorf("%w: cycle at account %s", accounting.ErrInvalidHierarchy, account.Code)
		}
		parent, err := tx.GetAccount(ctx, *account.ParentID)
		if err != nil {
			return nil, err
		}
		visited[parent.ID] = true
		chain = append(chain, parent)
		account = parent
	}
	return chain, nil
}

func (s *Service) record(ctx context.Context, actorID, action string, account accounting.Account, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["code"] = account.Code
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "account",
		EntityID: fmt.Sprintf("%d", account.ID),
		Meta:     meta,
		At:       s.now(),
	})
}

func normaliseCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
