package accounts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
)

// ChartFile is the YAML layout accepted by ImportChart.
type ChartFile struct {
	Accounts []ChartAccount `yaml:"accounts"`
}

// ChartAccount is one account row of a chart file.
type ChartAccount struct {
	Code          string `yaml:"code"`
	Name          string `yaml:"name"`
	Description   string `yaml:"description"`
	Parent        string `yaml:"parent"`
	Type          string `yaml:"type"`
	NormalBalance string `yaml:"normal_balance"`
	Control       bool   `yaml:"control"`
}

// ImportResult lists the codes created and the codes that already existed.
type ImportResult struct {
	Created []string `json:"created"`
	Skipped []string `json:"skipped"`
}

// ParseChart decodes a YAML chart of accounts.
func ParseChart(r io.Reader) (ChartFile, error) {
	var file ChartFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return ChartFile{}, accounting.Invalidf("parse chart: %v", err)
	}
	if len(file.Accounts) == 0 {
		return ChartFile{}, accounting.Invalidf("chart has no accounts")
	}
	return file, nil
}

// ImportChart creates every account of the chart in one transaction. Parents
// are created before their children regardless of file order; codes that
// already exist are skipped so the import can be re-run.
func (s *Service) ImportChart(ctx context.Context, r io.Reader, actorID string) (ImportResult, error) {
	file, err := ParseChart(r)
	if err != nil {
		return ImportResult{}, err
	}
	inputs := make([]CreateInput, 0, len(file.Accounts))
	for _, row := range file.Accounts {
		in := CreateInput{
			Code:          normaliseCode(row.Code),
			Name:          row.Name,
			Description:   row.Description,
			ParentCode:    normaliseCode(row.Parent),
			Type:          accounting.AccountType(strings.ToUpper(strings.TrimSpace(row.Type))),
			NormalBalance: accounting.NormalBalance(strings.ToUpper(strings.TrimSpace(row.NormalBalance))),
			IsControl:     row.Control,
			ActorID:       actorID,
		}
		if err := in.Validate(); err != nil {
			return ImportResult{}, fmt.Errorf("account %s: %w", row.Code, err)
		}
		inputs = append(inputs, in)
	}

	var result ImportResult
	err = s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		result = ImportResult{}
		known := make(map[string]bool)
		pending := inputs
		for len(pending) > 0 {
			var deferred []CreateInput
			for _, in := range pending {
				if in.ParentCode != "" && !known[in.ParentCode] {
					if _, err := tx.GetAccountByCode(ctx, in.ParentCode); err != nil {
						if !errors.Is(err, accounting.ErrAccountNotFound) {
							return err
						}
						deferred = append(deferred, in)
						continue
					}
					known[in.ParentCode] = true
				}
				if _, err := createTx(ctx, tx, in); err != nil {
					if errors.Is(err, accounting.ErrDuplicateCode) {
						result.Skipped = append(result.Skipped, in.Code)
						known[in.Code] = true
						continue
					}
					return fmt.Errorf("account %s: %w", in.Code, err)
				}
				result.Created = append(result.Created, in.Code)
				known[in.Code] = true
			}
			if len(deferred) == len(pending) {
				return fmt.Errorf("%w: parent %s of account %s", accounting.ErrAccountNotFound, deferred[0].ParentCode, deferred[0].Code)
			}
			pending = deferred
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}
	return result, nil
}
