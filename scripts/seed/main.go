package main

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/recurring"
	"github.com/odyssey-erp/odyssey-gl/internal/app"
)

//go:embed chart.yaml
var chartYAML []byte

const seedActor = "system:seed"

func main() {
	ctx := context.Background()
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := app.NewLogger(cfg)

	backend, err := app.OpenBackend(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("open backend: %v", err)
	}
	defer backend.Shutdown(logger)

	ledger, err := app.NewLedger(app.LedgerDeps{Backend: backend, Config: cfg, Logger: logger})
	if err != nil {
		log.Fatalf("init ledger: %v", err)
	}

	year := time.Now().UTC().Year()
	if raw := os.Getenv("SEED_FISCAL_YEAR"); raw != "" {
		if year, err = strconv.Atoi(raw); err != nil {
			log.Fatalf("SEED_FISCAL_YEAR: %v", err)
		}
	}

	fmt.Println("→ Seeding chart of accounts...")
	result, err := ledger.Accounts.ImportChart(ctx, bytes.NewReader(chartYAML), seedActor)
	if err != nil {
		log.Fatalf("seed chart: %v", err)
	}
	fmt.Printf("  %d created, %d already present\n", len(result.Created), len(result.Skipped))

	fmt.Printf("→ Seeding %d monthly periods...\n", year)
	if _, err := ledger.Periods.CreateMonthly(ctx, year, seedActor); err != nil {
		if !errors.Is(err, accounting.ErrDuplicatePeriod) && !errors.Is(err, accounting.ErrPeriodOverlap) {
			log.Fatalf("seed periods: %v", err)
		}
		fmt.Println("  periods already present")
	}

	fmt.Println("→ Seeding recurring templates...")
	start := time.Date(year, time.January, 31, 0, 0, 0, 0, time.UTC)
	templates := []recurring.CreateInput{
		{Code: "RENT", Name: "Office rent", Frequency: "MONTHLY", DebitAccountCode: "5100", CreditAccountCode: "2120", Amount: decimal.RequireFromString("2500.00"), StartDate: start},
		{Code: "INSURANCE", Name: "Insurance amortisation", Frequency: "QUARTERLY", DebitAccountCode: "5200", CreditAccountCode: "1300", Amount: decimal.RequireFromString("900.00"), StartDate: start.AddDate(0, 2, 0)},
	}
	for _, in := range templates {
		in.ActorID = seedActor
		if _, err := ledger.Recurring.Create(ctx, in); err != nil {
			if errors.Is(err, accounting.ErrDuplicateTemplateCode) {
				continue
			}
			log.Fatalf("seed template %s: %v", in.Code, err)
		}
	}

	fmt.Println("✓ Seed complete")
}
