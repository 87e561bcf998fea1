package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sheetql/sheetql/internal/config"
	"github.com/sheetql/sheetql/internal/migrations"
	storepostgres "github.com/sheetql/sheetql/internal/store/postgres"
	storesqlite "github.com/sheetql/sheetql/internal/store/sqlite"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up|down")
	steps := flag.Int("steps", 0, "number of migration steps; 0 means all for up, 1 for down")
	flag.Parse()

	cfg, err := config.LoadFromEnv("sheetql-migrate")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, dialect, closeDB, err := openDatabase(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database open error: %v\n", err)
		os.Exit(1)
	}
	defer closeDB()

	runner, err := migrations.NewRunner(dialect)
	if err != nil {
		fmt.Fprintf(os.Stderr, "migration setup failed: %v\n", err)
		os.Exit(1)
	}
	switch *direction {
	case "up":
		applied, err := runner.Up(ctx, db, *steps)
		if err != nil {
			fmt.Fprintf(os.Stderr, "migration up failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("applied %d migration(s)\n", applied)
	case "down":
		applied, err := runner.Down(ctx, db, *steps)
		if err != nil {
			fmt.Fprintf(os.Stderr, "migration down failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("rolled back %d migration(s)\n", applied)
	default:
		fmt.Fprintf(os.Stderr, "invalid direction: %s\n", *direction)
		os.Exit(1)
	}
}

func openDatabase(ctx context.Context, cfg config.Config) (*sql.DB, migrations.Dialect, func(), error) {
	if cfg.Store.Driver == config.StoreDriverPostgres {
		db, err := storepostgres.Open(ctx, storepostgres.DBConfig{DSN: cfg.Store.DSN})
		if err != nil {
			return nil, "", nil, err
		}
		return db, migrations.DialectPostgres, func() { _ = db.Close() }, nil
	}
	db, err := storesqlite.Open(ctx, storesqlite.DBConfig{Path: cfg.Store.Path})
	if err != nil {
		return nil, "", nil, err
	}
	return db.Writer, migrations.DialectSQLite, func() { _ = db.Close() }, nil
}
