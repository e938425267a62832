package main

import (
	"context"
	"fmt"
	"os"

	"github.com/basket/planvault/internal/config"
	"github.com/basket/planvault/internal/planstore"
)

const starterConfig = `# planvault configuration
# db_path: override the database location
log_level: info

otel:
  enabled: false
  exporter: otlp-http
  # endpoint: localhost:4318
`

func runInitCommand(_ context.Context, args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(os.Stderr, "usage: planvault init")
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}

	path := config.ConfigPath(cfg.HomeDir)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, []byte(starterConfig), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "write config.yaml: %v\n", err)
			return 1
		}
		fmt.Printf("wrote %s\n", path)
	} else {
		fmt.Printf("config.yaml already present at %s\n", path)
	}

	store, err := planstore.Open(cfg.DBPath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "initialize database: %v\n", err)
		return 1
	}
	defer store.Close()

	fmt.Printf("database ready at %s\n", cfg.DBPath)
	return 0
}
