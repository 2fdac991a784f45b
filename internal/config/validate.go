package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks the settings a command needs. mode is one of "enrich",
// "consolidate", "import", "runs".
func (c *Config) Validate(mode string) error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		add("store.driver must be sqlite or postgres, got %q", c.Store.Driver)
	}
	if c.Store.DatabaseURL == "" {
		add("store.database_url is required")
	}

	switch mode {
	case "enrich":
		if c.Registry.Query == "" && c.Registry.QueryFile == "" {
			add("registry.query or registry.query_file is required")
		}
		if c.Registry.FallbackTotal <= 0 {
			add("registry.fallback_total must be > 0")
		}
		if c.Registry.ReadRetries < 1 {
			add("registry.read_retries must be >= 1")
		}
		if c.Trade.Relation == "" {
			add("trade.relation is required")
		}
		if c.Enrich.ChunkSize <= 0 {
			add("enrich.chunk_size must be > 0")
		}
		if c.Enrich.BatchSize <= 0 {
			add("enrich.batch_size must be > 0")
		}
		if c.Enrich.Workers < 1 || c.Enrich.Workers > 64 {
			add("enrich.workers must be between 1 and 64")
		}
		if c.Enrich.StartOffset < 0 {
			add("enrich.start_offset must be >= 0")
		}
		if c.Enrich.Destination == "" {
			add("enrich.destination is required")
		}
	case "consolidate":
		if c.Enrich.Destination == "" {
			add("enrich.destination is required")
		}
		if c.Enrich.Consolidated == "" {
			add("enrich.consolidated is required")
		}
		if c.Enrich.Consolidated == c.Enrich.Destination {
			add("enrich.consolidated must differ from enrich.destination")
		}
	case "import":
		if c.Import.BatchSize <= 0 {
			add("import.batch_size must be > 0")
		}
		if c.Trade.Relation == "" {
			add("trade.relation is required")
		}
	case "runs":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
