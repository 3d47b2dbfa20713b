package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/recurring"
)

type chartImporter interface {
	ImportChart(ctx context.Context, r io.Reader, actorID string) (accounts.ImportResult, error)
}

type recurringRunner interface {
	Run(ctx context.Context, asOf time.Time) (recurring.RunReport, error)
}

// LedgerCLI offers operational helpers over the ledger services.
type LedgerCLI struct {
	chart     chartImporter
	recurring recurringRunner
	now       func() time.Time
}

// NewLedgerCLI constructs the helper.
func NewLedgerCLI(chart chartImporter, runner recurringRunner) *LedgerCLI {
	return &LedgerCLI{chart: chart, recurring: runner, now: time.Now}
}

// ChartImportOptions configures the import-coa command.
type ChartImportOptions struct {
	Path       string
	ActorID    string
	DryRun     bool
	JSONOutput bool
	Stdin      io.Reader
	Stdout     io.Writer
	Stderr     io.Writer
}

// ChartImportSummary is the structured outcome of an import.
type ChartImportSummary struct {
	DryRun   bool     `json:"dry_run"`
	Accounts []string `json:"accounts,omitempty"`
	Created  []string `json:"created,omitempty"`
	Skipped  []string `json:"skipped,omitempty"`
}

// ImportChartCommand reads a YAML chart from Path, or stdin when Path is "-",
// and returns a process exit code.
func (c *LedgerCLI) ImportChartCommand(ctx context.Context, opts ChartImportOptions) int {
	opts.defaults()
	if c == nil || c.chart == nil {
		fmt.Fprintln(opts.Stderr, "import-coa: ledger not configured")
		return 1
	}
	if opts.Path == "" {
		fmt.Fprintln(opts.Stderr, "import-coa: -file is required")
		return 2
	}
	var reader io.Reader = opts.Stdin
	if opts.Path != "-" {
		f, err := os.Open(opts.Path)
		if err != nil {
			fmt.Fprintf(opts.Stderr, "import-coa: %v\n", err)
			return 1
		}
		defer f.Close()
		reader = f
	}

	summary := ChartImportSummary{DryRun: opts.DryRun}
	if opts.DryRun {
		file, err := accounts.ParseChart(reader)
		if err != nil {
			fmt.Fprintf(opts.Stderr, "import-coa: %v\n", err)
			return 1
		}
		for _, row := range file.Accounts {
			summary.Accounts = append(summary.Accounts, strings.ToUpper(strings.TrimSpace(row.Code)))
		}
	} else {
		result, err := c.chart.ImportChart(ctx, reader, opts.ActorID)
		if err != nil {
			fmt.Fprintf(opts.Stderr, "import-coa: %v\n", err)
			return exitCode(err)
		}
		summary.Created, summary.Skipped = result.Created, result.Skipped
	}

	if opts.JSONOutput {
		return writeJSON(opts.Stdout, opts.Stderr, summary)
	}
	if summary.DryRun {
		fmt.Fprintf(opts.Stdout, "chart is valid: %d accounts (%s)\n", len(summary.Accounts), strings.Join(summary.Accounts, ", "))
		return 0
	}
	fmt.Fprintf(opts.Stdout, "created %d accounts, skipped %d existing\n", len(summary.Created), len(summary.Skipped))
	return 0
}

func (o *ChartImportOptions) defaults() {
	if o.Stdin == nil {
		o.Stdin = os.Stdin
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	if o.ActorID == "" {
		o.ActorID = "system:cli"
	}
}

// RecurringRunOptions configures the run-recurring command.
type RecurringRunOptions struct {
	AsOf       string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// RecurringRunSummary is the structured outcome of a generation run.
type RecurringRunSummary struct {
	AsOf      string   `json:"as_of"`
	Templates int      `json:"templates"`
	Generated []string `json:"generated"`
	Skipped   int      `json:"skipped"`
	Failures  []string `json:"failures,omitempty"`
}

// RunRecurringCommand generates due recurring entries in process. Failed
// occurrences yield exit code 3 so schedulers can alert.
func (c *LedgerCLI) RunRecurringCommand(ctx context.Context, opts RecurringRunOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if c == nil || c.recurring == nil {
		fmt.Fprintln(opts.Stderr, "run-recurring: generator not configured")
		return 1
	}
	asOf := accounting.DateOnly(c.now())
	if opts.AsOf != "" {
		parsed, err := time.Parse(time.DateOnly, opts.AsOf)
		if err != nil {
			fmt.Fprintf(opts.Stderr, "run-recurring: invalid -as-of %q, want YYYY-MM-DD\n", opts.AsOf)
			return 2
		}
		asOf = parsed
	}

	report, err := c.recurring.Run(ctx, asOf)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "run-recurring: %v\n", err)
		return exitCode(err)
	}
	summary := RecurringRunSummary{
		AsOf:      asOf.Format(time.DateOnly),
		Templates: report.Templates,
		Generated: make([]string, 0, len(report.Generated)),
		Skipped:   report.Skipped,
	}
	for _, g := range report.Generated {
		summary.Generated = append(summary.Generated, g.Reference)
	}
	for _, f := range report.Failures {
		summary.Failures = append(summary.Failures, fmt.Sprintf("%s@%s: %v", f.TemplateCode, f.Date.Format(time.DateOnly), f.Err))
	}

	code := 0
	if len(summary.Failures) > 0 {
		code = 3
	}
	if opts.JSONOutput {
		if rc := writeJSON(opts.Stdout, opts.Stderr, summary); rc != 0 {
			return rc
		}
		return code
	}
	fmt.Fprintf(opts.Stdout, "as of %s: %d templates, %d generated, %d skipped, %d failed\n",
		summary.AsOf, summary.Templates, len(summary.Generated), summary.Skipped, len(summary.Failures))
	for _, failure := range summary.Failures {
		fmt.Fprintf(opts.Stderr, "failed: %s\n", failure)
	}
	return code
}

func writeJSON(stdout, stderr io.Writer, v any) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(stderr, "encode output: %v\n", err)
		return 1
	}
	return 0
}

// exitCode separates input problems from runtime failures.
func exitCode(err error) int {
	if errors.Is(err, accounting.ErrValidation) {
		return 2
	}
	return 1
}
