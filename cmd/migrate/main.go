package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strconv"

	"ms-booking/internal/config"
	"ms-booking/internal/database/migrations"
	"ms-booking/internal/logger"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

const usage = `usage: migrate [-dir ./migrations] <command>

commands:
  up            apply all pending migrations
  down          roll back all migrations
  to <version>  migrate up or down to version
  force <ver>   set the version without running migrations
  version       print the applied version`

func main() {
	cfg, _ := config.Load()
	dir := flag.String("dir", cfg.Database.MigrationsDir, "migrations directory")
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	log := logger.NewLogger(logger.Options{
		Dir:        cfg.Log.Dir,
		FilePrefix: "migrate",
		MinLevel:   logger.ParseLevel(cfg.Log.Level),
	})
	defer log.Close()

	sqldb, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
	}
	bunDB := bun.NewDB(sqldb, pgdialect.New())
	defer bunDB.Close()

	runner := migrations.NewRunner(bunDB, *dir, log)
	defer runner.Close()

	if err := run(runner, flag.Args()); err != nil {
		log.Fatal("MIGRATE", err.Error())
	}
}

func run(runner *migrations.Runner, args []string) error {
	switch args[0] {
	case "up":
		return runner.Up()
	case "down":
		return runner.Down()
	case "to", "force":
		if len(args) < 2 {
			return fmt.Errorf("%s needs a version", args[0])
		}
		v, err := strconv.Atoi(args[1])
		if err != nil || v < 0 {
			return fmt.Errorf("invalid version %q", args[1])
		}
		if args[0] == "force" {
			return runner.Force(v)
		}
		return runner.To(uint(v))
	case "version":
		version, dirty, err := runner.Version()
		if err != nil {
			return err
		}
		fmt.Printf("version %d (dirty=%t)\n", version, dirty)
		return nil
	}
	return fmt.Errorf("unknown command %q\n%s", args[0], usage)
}
