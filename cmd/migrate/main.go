package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/config"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/persistence"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/migrations"
)

func usage() {
	fmt.Println("Usage: migrate <up|down|status>")
	fmt.Println("  up     - apply all pending migrations")
	fmt.Println("  down   - roll back the last migration")
	fmt.Println("  status - list migrations and whether they are applied")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  CASHBOT_POSTGRES_DSN - Postgres connection string (falls back to keyring, then config)")
	fmt.Println("  CASHBOT_CONFIG       - config file path (default: configs/cashbot.yaml)")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	path := os.Getenv("CASHBOT_CONFIG")
	if path == "" {
		path = "configs/cashbot.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("FATAL: load config: %v", err)
	}
	dsn, err := cfg.PostgresDSN()
	if err != nil {
		log.Fatalf("FATAL: postgres dsn: %v", err)
	}
	if dsn == "" {
		log.Fatal("FATAL: no postgres dsn configured")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("FATAL: open db: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	migrator := persistence.NewMigrator(db, migrations.FS)

	switch os.Args[1] {
	case "up":
		if err := migrator.Up(ctx); err != nil {
			log.Fatalf("FATAL: migrate up: %v", err)
		}
		log.Println("INFO: all migrations applied")

	case "down":
		if err := migrator.Down(ctx); err != nil {
			log.Fatalf("FATAL: migrate down: %v", err)
		}
		log.Println("INFO: last migration rolled back")

	case "status":
		statuses, err := migrator.Status(ctx)
		if err != nil {
			log.Fatalf("FATAL: migrate status: %v", err)
		}
		for _, s := range statuses {
			state := "pending"
			if s.Applied {
				state = "applied " + s.AppliedAt.Format(time.RFC3339)
			}
			fmt.Printf("%s  %-40s %s\n", s.Version, s.Filename, state)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s (use 'up', 'down' or 'status')\n", os.Args[1])
		os.Exit(1)
	}
}
