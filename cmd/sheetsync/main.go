// Command sheetsync appends stored confirmations that are missing from the
// spreadsheet, matching rows by lower-cased email.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"offerbot/internal/config"
	"offerbot/internal/integrations/sheets"
	"offerbot/internal/leads"
	"offerbot/internal/storage"
	logx "offerbot/pkg/logx"
)

func main() {
	var (
		cfgPath string
		envPath string
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config yaml/json")
	flag.StringVar(&envPath, "env", "./.env", "optional dotenv file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath, envPath); err != nil {
		fmt.Fprintln(os.Stderr, "sheetsync:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath, envPath string) error {
	env, err := config.LoadEnv(envPath)
	if err != nil {
		return err
	}
	// Bot tokens are not needed here, so the config is parsed without validation.
	cfg, err := config.NewManager(cfgPath, config.WithEnv(env)).Parse()
	if err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Sheets.SpreadsheetID) == "" {
		return errors.New("sheets.spreadsheet_id (GOOGLE_SHEETS_ID) is not set")
	}

	log := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "sheetsync"))

	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return err
	}
	store, err := storage.Open(ctx, storage.Config{Driver: cfg.Storage.Driver, DSN: cfg.Storage.DSN, BusyTimeout: busy}, log)
	if err != nil {
		return err
	}
	defer store.Close()

	sheet, err := sheets.New(ctx, sheets.Config{
		CredentialsPath: cfg.Sheets.CredentialsPath,
		SpreadsheetID:   cfg.Sheets.SpreadsheetID,
		Worksheet:       cfg.Sheets.Worksheet,
		Endpoint:        cfg.Sheets.Endpoint,
	}, log)
	if err != nil {
		return err
	}
	if err := sheet.Ensure(ctx); err != nil {
		return err
	}

	n, err := leads.NewReconciler(store, sheet, log).Run(ctx)
	if err != nil {
		return err
	}
	log.Info("sheet reconciled", logx.Int("appended", n))
	return nil
}
