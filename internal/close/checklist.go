package close

import (
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
)

// Orchestrator-owned task codes.
const (
	TaskGenerateTrialBalance = "GENERATE_TRIAL_BALANCE"
	TaskVerifyTrialBalance   = "VERIFY_TRIAL_BALANCE"
	TaskPostAllJournals      = "POST_ALL_JOURNALS"
	TaskNetIncomeTransfer    = "NET_INCOME_TRANSFER"
)

var systemTasks = map[string]TaskKind{
	TaskGenerateTrialBalance: TaskKindSystemCheck,
	TaskVerifyTrialBalance:   TaskKindSystemCheck,
	TaskPostAllJournals:      TaskKindSystemCheck,
	TaskNetIncomeTransfer:    TaskKindSystemAction,
}

// TaskDefinition describes a checklist entry seeded into every new close.
type TaskDefinition struct {
	Code        string      `yaml:"code"`
	Name        string      `yaml:"name"`
	Optional    bool        `yaml:"optional"`
	RequiredFor []CloseType `yaml:"required_for"`
	AppliesTo   []CloseType `yaml:"applies_to"`
}

// Applies reports whether the task is part of a close of type t.
func (d TaskDefinition) Applies(t CloseType) bool {
	return len(d.AppliesTo) == 0 || containsType(d.AppliesTo, t)
}

// RequiredIn reports whether the task gates a close of type t.
func (d TaskDefinition) RequiredIn(t CloseType) bool {
	if d.Optional {
		return false
	}
	return len(d.RequiredFor) == 0 || containsType(d.RequiredFor, t)
}

func (d TaskDefinition) kind() TaskKind {
	if kind, ok := systemTasks[d.Code]; ok {
		return kind
	}
	return TaskKindExternal
}

// DefaultChecklist is the standard list of close tasks.
var DefaultChecklist = []TaskDefinition{
	{Code: TaskGenerateTrialBalance, Name: "Generate trial balance"},
	{Code: TaskVerifyTrialBalance, Name: "Verify trial balance is balanced"},
	{Code: TaskPostAllJournals, Name: "Post all journal entries"},
	{Code: "BANK_RECON", Name: "Bank reconciliation completed"},
	{Code: "AP_SUBLEDGER", Name: "AP subledger reconciled"},
	{Code: "AR_SUBLEDGER", Name: "AR subledger reconciled"},
	{Code: "DEPRECIATION", Name: "Fixed asset depreciation posted", RequiredFor: []CloseType{CloseTypeMonthEnd, CloseTypeYearEnd}},
	{Code: "PREPAID_AMORTIZATION", Name: "Prepaid expenses amortized"},
	{Code: "ACCRUALS", Name: "Accruals posted"},
	{Code: "INTERCOMPANY", Name: "Inter-company transactions reconciled", Optional: true},
	{Code: "INVENTORY", Name: "Inventory reconciled", RequiredFor: []CloseType{CloseTypeYearEnd}},
	{Code: TaskNetIncomeTransfer, Name: "Transfer net income to retained earnings", AppliesTo: []CloseType{CloseTypeYearEnd}},
}

type checklistFile struct {
	Tasks []TaskDefinition `yaml:"tasks"`
}

// LoadChecklist parses a YAML checklist definition.
func LoadChecklist(r io.Reader) ([]TaskDefinition, error) {
	var file checklistFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("close: parse checklist: %w", err)
	}
	if len(file.Tasks) == 0 {
		return nil, accounting.Invalidf("checklist has no tasks")
	}
	seen := make(map[string]struct{}, len(file.Tasks))
	for i, def := range file.Tasks {
		def.Code = strings.ToUpper(strings.TrimSpace(def.Code))
		if def.Code == "" || strings.TrimSpace(def.Name) == "" {
			return nil, accounting.Invalidf("checklist task %d requires code and name", i)
		}
		if _, dup := seen[def.Code]; dup {
			return nil, accounting.Invalidf("checklist task %s defined twice", def.Code)
		}
		for _, t := range append(append([]CloseType{}, def.RequiredFor...), def.AppliesTo...) {
			if !t.Valid() {
				return nil, accounting.Invalidf("checklist task %s: close type %q", def.Code, t)
			}
		}
		seen[def.Code] = struct{}{}
		file.Tasks[i] = def
	}
	return file.Tasks, nil
}

func seedTasks(defs []TaskDefinition, t CloseType) []Task {
	tasks := make([]Task, 0, len(defs))
	for _, def := range defs {
		if !def.Applies(t) {
			continue
		}
		tasks = append(tasks, Task{
			Code:     def.Code,
			Name:     def.Name,
			Kind:     def.kind(),
			Required: def.RequiredIn(t),
			Sequence: len(tasks) + 1,
		})
	}
	return tasks
}

func containsType(types []CloseType, t CloseType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}
