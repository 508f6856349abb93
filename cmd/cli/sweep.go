package main

import (
	"context"
	"fmt"

	"fieldflow/internal/config"
	"fieldflow/internal/services"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// sweepCmd runs one maintenance pass: expire stale pending executions,
// fail running executions past their lease, mark sent invoices overdue.
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one maintenance sweep over executions and invoices",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		db, err := openDB(cfg)
		if err != nil {
			return err
		}
		logger := logrus.StandardLogger()
		ctx := context.Background()

		// 巡检不触发执行器，executor 传 nil 即可
		processor := services.NewProcessor(db, logger, nil, cfg.Automation)
		expired, err := processor.ExpireStalePending(ctx)
		if err != nil {
			return fmt.Errorf("expire stale pending: %w", err)
		}
		reaped, err := processor.ReapStuckRunning(ctx)
		if err != nil {
			return fmt.Errorf("reap stuck running: %w", err)
		}
		fmt.Printf("expired pending: %d, reaped running: %d\n", expired, reaped)

		automation := services.NewAutomationService(db, logger)
		billing := services.NewBillingService(db, logger, nil, nil, automation)
		marked, err := billing.MarkInvoicesOverdue(ctx)
		if err != nil {
			return fmt.Errorf("overdue scan: %w", err)
		}
		fmt.Printf("invoices marked overdue: %d\n", marked)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func openDB(cfg *config.Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return db, nil
}
