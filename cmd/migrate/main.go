package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"govqueue/internal/logging"
	"govqueue/internal/migrate"
)

const usage = "usage: migrate [flags] up|down|seed|status"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var dsn, migrationsPath, seedsPath, logLevel string
	var timeout time.Duration

	flagSet := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	flagSet.StringVar(&dsn, "dsn", os.Getenv("DB_DSN"), "PostgreSQL DSN (default $DB_DSN)")
	flagSet.StringVar(&migrationsPath, "migrations", "migrations", "directory of *.up.sql and *.down.sql files")
	flagSet.StringVar(&seedsPath, "seeds", "seeds", "directory of seed *.sql files")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level")
	flagSet.DurationVar(&timeout, "timeout", 30*time.Second, "overall timeout")
	flagSet.Usage = func() {
		fmt.Fprintln(os.Stderr, usage)
		flagSet.PrintDefaults()
	}
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if dsn == "" {
		return errors.New("missing DSN: provide --dsn or DB_DSN")
	}
	if flagSet.NArg() != 1 {
		return errors.New(usage)
	}

	logger := logging.Must(logLevel, "console", "migrate")
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, migrationsPath, seedsPath, migrate.WithLogger(logger))

	command := flagSet.Arg(0)
	switch command {
	case "up":
		applied, err := mgr.Up(ctx)
		if err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		logger.Info("migrations applied", zap.Int("count", len(applied)))
	case "down":
		name, err := mgr.Down(ctx)
		if errors.Is(err, migrate.ErrNothingApplied) {
			logger.Info("nothing to roll back")
			return nil
		}
		if err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		logger.Info("migration rolled back", zap.String("name", name))
	case "seed":
		applied, err := mgr.Seed(ctx)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		logger.Info("seeds applied", zap.Int("count", len(applied)))
	case "status":
		history, err := mgr.Status(ctx)
		if err != nil {
			return fmt.Errorf("status: %w", err)
		}
		for _, name := range history {
			fmt.Println(name)
		}
	default:
		return fmt.Errorf("unknown command %q\n%s", command, usage)
	}
	return nil
}
