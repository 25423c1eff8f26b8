package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"pdf_gateway/internal/config"
	"pdf_gateway/internal/plans"
	"pdf_gateway/internal/storage"
)

// grant-plan assigns a subscription plan to an account. Billing webhooks
// normally drive the subscriptions table; this tool covers manual grants
// and local development.
func main() {
	account := flag.String("account", "", "account identifier (required)")
	plan := flag.String("plan", plans.FreePlanID, "plan id to assign")
	status := flag.String("status", "active", "subscription status")
	plansFile := flag.String("plans", "", "optional plan catalog file")
	flag.Parse()

	if *account == "" {
		fmt.Fprintln(os.Stderr, "ERROR: -account is required")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	catalog := plans.DefaultCatalog()
	if *plansFile != "" {
		catalog, err = plans.LoadCatalog(*plansFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: Failed to load plan catalog: %v\n", err)
			os.Exit(1)
		}
	}
	if !catalog.Has(*plan) {
		fmt.Fprintf(os.Stderr, "ERROR: Unknown plan %q (known: %v)\n", *plan, catalog.IDs())
		os.Exit(1)
	}

	db, err := storage.NewDB(cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.EnsureSchema(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to ensure schema: %v\n", err)
		os.Exit(1)
	}

	repo := storage.NewSubscriptionRepository(db)
	if err := repo.Upsert(ctx, *account, *plan, *status); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to upsert subscription: %v\n", err)
		os.Exit(1)
	}

	resolved := catalog.Resolve(*plan)
	quota := "unlimited"
	if resolved.MonthlyUnits != nil {
		quota = fmt.Sprintf("%d units/month", *resolved.MonthlyUnits)
	}
	fmt.Printf("Granted plan %q (%s, status %s) to account %s\n", *plan, quota, *status, *account)
}
