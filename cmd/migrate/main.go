package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"gorm.io/gorm"

	"github.com/angelmondragon/giroflow-backend/pkg/config"
	"github.com/angelmondragon/giroflow-backend/pkg/db"
	"github.com/angelmondragon/giroflow-backend/pkg/logger"
	"github.com/angelmondragon/giroflow-backend/pkg/migrate"
)

type options struct {
	dir     string
	name    string
	version string
	dialect string
}

type conn struct {
	sql  *sql.DB
	gorm *gorm.DB
}

type command struct {
	needsDB bool
	run     func(ctx context.Context, opts options, c conn) error
}

var commands = map[string]command{
	"create": {run: func(_ context.Context, opts options, _ conn) error {
		if opts.name == "" {
			return errors.New("missing -name")
		}
		path, err := migrate.CreateSQLMigration(opts.dir, opts.name)
		if err == nil {
			fmt.Println("created migration:", path)
		}
		return err
	}},
	"validate": {run: func(_ context.Context, opts options, _ conn) error {
		if err := migrate.ValidateDir(opts.dir); err != nil {
			return err
		}
		fmt.Println("migration validation passed")
		return nil
	}},
	"up":     {needsDB: true, run: gooseCommand("up")},
	"down":   {needsDB: true, run: gooseCommand("down")},
	"status": {needsDB: true, run: gooseCommand("status")},
	"version": {needsDB: true, run: func(ctx context.Context, opts options, c conn) error {
		if opts.version == "" {
			return errors.New("missing -version")
		}
		return migrate.MigrateToVersion(ctx, c.sql, opts.dialect, opts.dir, opts.version)
	}},
	// verify fails a deploy when the schema lacks a table the services map.
	"verify": {needsDB: true, run: func(_ context.Context, _ options, c conn) error {
		missing, err := migrate.MissingTables(c.gorm)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return fmt.Errorf("schema is missing tables: %s", strings.Join(missing, ", "))
		}
		fmt.Println("schema has every model table")
		return nil
	}},
}

func gooseCommand(name string) func(context.Context, options, conn) error {
	return func(ctx context.Context, opts options, c conn) error {
		return migrate.Run(ctx, c.sql, opts.dialect, opts.dir, name)
	}
}

func commandNames() string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "|")
}

func main() {
	logg := logger.New(logger.Options{ServiceName: "migrate"})
	_ = godotenv.Load()

	cmdName := flag.String("cmd", "up", "migration command: "+commandNames())
	var opts options
	flag.StringVar(&opts.dir, "dir", migrate.DefaultDir, "goose migrations directory")
	flag.StringVar(&opts.name, "name", "", "migration name for -cmd=create")
	flag.StringVar(&opts.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	cmd, ok := commands[*cmdName]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown -cmd %q (want %s)\n", *cmdName, commandNames())
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	opts.dialect = migrate.Dialect(cfg.DB.Driver)
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":     cfg.App.Env,
		"cmd":     *cmdName,
		"dir":     opts.dir,
		"dialect": opts.dialect,
	})

	var c conn
	if cmd.needsDB {
		client, err := db.New(ctx, cfg.DB, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap database", err)
			os.Exit(1)
		}
		defer client.Close()
		c.gorm = client.DB()
		if c.sql, err = c.gorm.DB(); err != nil {
			logg.Error(ctx, "failed to open sql handle", err)
			os.Exit(1)
		}
	}

	if err := cmd.run(ctx, opts, c); err != nil {
		logg.Error(ctx, "migrate command failed", err)
		// deferred Close is skipped by os.Exit; release the pool first
		if c.sql != nil {
			_ = c.sql.Close()
		}
		os.Exit(1)
	}
	logg.Info(ctx, "migrate command completed")
}
