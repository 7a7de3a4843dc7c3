package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/kitchenshare-backend/pkg/config"
	"github.com/angelmondragon/kitchenshare-backend/pkg/db"
	"github.com/angelmondragon/kitchenshare-backend/pkg/logger"
	"github.com/angelmondragon/kitchenshare-backend/pkg/migrate"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "migrate"})
	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "migration command: up|down|status|version|create|validate")
	dir := flag.String("dir", "", "migrations directory; empty uses the set compiled into the binary")
	name := flag.String("name", "", "migration name (for create)")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// create and validate work on files only
	switch *cmd {
	case "create":
		target := *dir
		if target == "" {
			target = migrate.DefaultDir
		}
		if *name == "" {
			exitf("missing -name for create")
		}
		path, err := migrate.CreateSQLMigration(target, *name, time.Now())
		if err != nil {
			exitf("failed to create migration: %v", err)
		}
		fmt.Println("created migration:", path)
		return

	case "validate":
		if err := migrate.ValidateFS(migrate.Source(*dir)); err != nil {
			exitf("migration validation failed: %v", err)
		}
		fmt.Println("migration validation passed")
		return
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(ctx, map[string]any{
		"env": cfg.App.Env,
		"cmd": *cmd,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	requireResource(ctx, logg, "sql database", err)

	migrator, err := migrate.New(sqlDB, migrate.Source(*dir))
	requireResource(ctx, logg, "migrator", err)

	switch *cmd {
	case "up":
		results, err := migrator.Up(ctx)
		printResults(results)
		if err != nil {
			exitf("%v", err)
		}
	case "down":
		results, err := migrator.Down(ctx)
		printResults(results)
		if err != nil {
			exitf("%v", err)
		}
	case "status":
		statuses, err := migrator.Status(ctx)
		if err != nil {
			exitf("%v", err)
		}
		for _, s := range statuses {
			fmt.Printf("%-10s %d %s\n", s.State, s.Version, s.Path)
		}
	case "version":
		if *version == "" {
			exitf("missing -version for version command")
		}
		results, err := migrator.MigrateTo(ctx, *version)
		printResults(results)
		if err != nil {
			exitf("%v", err)
		}
	default:
		exitf("unknown -cmd value: %s", *cmd)
	}
	logg.Info(ctx, "migrate finished")
}

func printResults(results []migrate.Result) {
	if len(results) == 0 {
		fmt.Println("no migrations to apply")
		return
	}
	for _, r := range results {
		fmt.Printf("%-4s %d %s (%s)\n", r.Direction, r.Version, r.Path, r.Duration)
	}
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
