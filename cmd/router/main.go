// Package main is the entrypoint for the subject-router (binary name "router" in Docker).
package main

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/subject-router/internal/config"
	"github.com/morezero/subject-router/internal/server"
	"github.com/morezero/subject-router/pkg/db"
	"github.com/morezero/subject-router/pkg/routing"
)

const usage = `Usage: router [command]
       router serve              Start the router (NATS subscriptions, HTTP health, metrics).
       router routes [file]      Load and validate the route table, then print it.
       router migrate up         Run dispatch log migrations.
       router migrate down       Roll back one migration (not supported by the shipped migrations).
       router migrate status     Show migration status.
       router ensure-db [name]   Create database if missing (default name: router_test). Uses DATABASE_URL host/user.
       router clear              Truncate the dispatch log; schema is preserved.

Commands:
  serve            (default) Start the subject router.
  routes [file]    Check every route against the built-in handlers without connecting to NATS.
  migrate up       Run database migrations only.
  migrate down     Roll back last migration (optional).
  migrate status   Show current migration status.
  ensure-db [name] Create database (e.g. router_test) on same host as DATABASE_URL; then run tests with that URL.
  clear            Truncate dispatch_log.

Environment: COMMS_URL, ROUTES_FILE, ROUTER_REQUEST_TIMEOUT, ROUTER_EVENTS_ENABLED, DATABASE_URL (optional),
MIGRATION_PATH, HTTP_PORT (default 8080), LOG_LEVEL.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "migrate":
		if len(args) < 2 {
			log.Fatalf("router migrate: require subcommand (up, down, status)")
		}
		sub := args[1]
		switch sub {
		case "up":
			if err := runMigrateUp(); err != nil {
				log.Fatalf("router migrate up: %v", err)
			}
		case "status":
			if err := runMigrateStatus(); err != nil {
				log.Fatalf("router migrate status: %v", err)
			}
		case "down":
			if err := runMigrateDown(); err != nil {
				log.Fatalf("router migrate down: %v", err)
			}
		default:
			log.Fatalf("router migrate: unknown subcommand %q (use up, down, status)", sub)
		}
		return
	case "routes":
		routesFile := ""
		if len(args) > 1 {
			routesFile = args[1]
		}
		if err := runRoutes(routesFile); err != nil {
			log.Fatalf("router routes: %v", err)
		}
		return
	case "clear":
		if err := runClear(); err != nil {
			log.Fatalf("router clear: %v", err)
		}
		return
	case "ensure-db":
		dbName := "router_test"
		if len(args) > 1 && args[1] != "" {
			dbName = args[1]
		}
		if err := runEnsureDB(dbName); err != nil {
			log.Fatalf("router ensure-db: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		// serve (explicit or default)
		break
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("router: %v", err)
	}
}

// withPool loads config, validates it for database work and runs fn with a pool.
func withPool(fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

func runMigrateUp() error {
	return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
		migrationSQL, err := db.LoadMigrationFiles(cfg.MigrationPath)
		if err != nil {
			return fmt.Errorf("load migrations: %w", err)
		}
		if err := db.RunMigrations(ctx, pool, migrationSQL); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		return nil
	})
}

func runMigrateStatus() error {
	return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
		return db.MigrationStatus(ctx, pool, cfg.MigrationPath)
	})
}

func runMigrateDown() error {
	return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
		return db.MigrationDown(ctx, pool, cfg.MigrationPath)
	})
}

func runClear() error {
	return withPool(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
		if err := db.ClearDispatchLog(ctx, pool); err != nil {
			return fmt.Errorf("clear dispatch log: %w", err)
		}
		return nil
	})
}

func runEnsureDB(dbName string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	targetURL, err := withDatabaseName(cfg.DatabaseURL, dbName)
	if err != nil {
		return err
	}
	if err := db.EnsureDatabase(context.Background(), targetURL); err != nil {
		return err
	}
	fmt.Printf("Database %q is ready.\n", dbName)
	return nil
}

// withDatabaseName replaces the path of a postgres URL; the query (e.g. sslmode) is kept.
func withDatabaseName(databaseURL, dbName string) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	u.Path = "/" + dbName
	return u.String(), nil
}

func runRoutes(routesFile string) error {
	if routesFile == "" {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		routesFile = cfg.RoutesFile
	}
	table, path, err := routing.LoadTable(routesFile)
	if err != nil {
		return err
	}
	reg, err := server.NewRegistry()
	if err != nil {
		return err
	}
	if err := checkRoutes(table, reg.Missing); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	fmt.Printf("%d routes from %s\n", table.Len(), path)
	for _, e := range table.Entries() {
		fmt.Println(describeRoute(e))
	}
	return nil
}

// checkRoutes fails when the table references handlers or request types that are not built in.
func checkRoutes(table *routing.Table, missing func(handlerIDs, typeIDs []string) ([]string, []string)) error {
	handlers, types := missing(table.HandlerIDs(), table.RequestTypeIDs())
	if len(handlers) == 0 && len(types) == 0 {
		return nil
	}
	var parts []string
	if len(handlers) > 0 {
		parts = append(parts, "unknown handlers: "+strings.Join(handlers, ", "))
	}
	if len(types) > 0 {
		parts = append(parts, "unknown request types: "+strings.Join(types, ", "))
	}
	return fmt.Errorf("%s", strings.Join(parts, "; "))
}

func describeRoute(e routing.Entry) string {
	target := "static " + fmt.Sprintf("%q", e.StaticResponse)
	if !e.IsStatic() {
		target = "handler " + e.HandlerID
		if e.RequestTypeID != "" {
			target += " (" + e.RequestTypeID + ")"
		}
	}
	line := fmt.Sprintf("  %s  queue=%s  %s", e.Subject, e.QueueGroup, target)
	if len(e.Roles) > 0 {
		line += "  roles=" + strings.Join(e.Roles, ",")
	}
	return line
}
