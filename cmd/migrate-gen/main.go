// Command migrate-gen generates SQL migration files for event sourcing.
//
// Usage:
//
//	go run github.com/tidemark-io/tidemark/cmd/migrate-gen -output migrations -filename init.sql
//
// Or with go generate:
//
//	//go:generate go run github.com/tidemark-io/tidemark/cmd/migrate-gen -output migrations
//
// Generate migrations for different database adapters:
//
//	go run github.com/tidemark-io/tidemark/cmd/migrate-gen -adapter postgres -output migrations
//	go run github.com/tidemark-io/tidemark/cmd/migrate-gen -adapter mysql -output migrations
//	go run github.com/tidemark-io/tidemark/cmd/migrate-gen -adapter sqlite -output migrations
//
// Every flag can also be set through a TIDEMARK_* environment variable;
// flags take precedence over the environment.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/caarlos0/env/v11"

	"github.com/tidemark-io/tidemark/es/migrations"
)

// Config holds migrate-gen settings. Flags override environment
// variables, which override the built-in defaults.
type Config struct {
	Adapter             string `env:"TIDEMARK_ADAPTER"           envDefault:"postgres"`
	OutputFolder        string `env:"TIDEMARK_OUTPUT"            envDefault:"migrations"`
	OutputFilename      string `env:"TIDEMARK_FILENAME"`
	EventsTable         string `env:"TIDEMARK_EVENTS_TABLE"      envDefault:"events"`
	CheckpointsTable    string `env:"TIDEMARK_CHECKPOINTS_TABLE" envDefault:"projection_checkpoints"`
	AggregateHeadsTable string `env:"TIDEMARK_HEADS_TABLE"       envDefault:"aggregate_heads"`
}

// ParseConfig parses environment variables and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	fs.StringVar(&cfg.Adapter, "adapter", cfg.Adapter, "database adapter: postgres, mysql, or sqlite")
	fs.StringVar(&cfg.OutputFolder, "output", cfg.OutputFolder, "output folder for migration file")
	fs.StringVar(&cfg.OutputFilename, "filename", cfg.OutputFilename, "output filename (default: timestamp-based)")
	fs.StringVar(&cfg.EventsTable, "events-table", cfg.EventsTable, "name of events table")
	fs.StringVar(&cfg.CheckpointsTable, "checkpoints-table", cfg.CheckpointsTable, "name of checkpoints table")
	fs.StringVar(&cfg.AggregateHeadsTable, "heads-table", cfg.AggregateHeadsTable, "name of aggregate heads table")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// run generates the migration and returns the path of the written file.
func run(cfg Config) (string, error) {
	config := migrations.DefaultConfig()
	config.OutputFolder = cfg.OutputFolder
	config.EventsTable = cfg.EventsTable
	config.CheckpointsTable = cfg.CheckpointsTable
	config.AggregateHeadsTable = cfg.AggregateHeadsTable

	if cfg.OutputFilename != "" {
		config.OutputFilename = cfg.OutputFilename
	}

	var err error
	switch cfg.Adapter {
	case "postgres":
		err = migrations.GeneratePostgres(&config)
	case "mysql":
		err = migrations.GenerateMySQL(&config)
	case "sqlite":
		err = migrations.GenerateSQLite(&config)
	default:
		return "", fmt.Errorf("unsupported adapter %q: supported adapters are postgres, mysql, sqlite", cfg.Adapter)
	}
	if err != nil {
		return "", fmt.Errorf("generate migration: %w", err)
	}

	return fmt.Sprintf("%s/%s", config.OutputFolder, config.OutputFilename), nil
}

func main() {
	log.SetFlags(0)

	cfg, err := ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	path, err := run(cfg)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	log.Printf("Generated %s migration: %s", cfg.Adapter, path)
}
