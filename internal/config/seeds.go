package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
)

// SeedConfig holds the crawl's JSON-seeded scope tables, read from the
// directory named by the CRAWLER_CONFIG_DIR environment variable. Each file
// is a plain JSON array of strings; a missing file degrades to an empty
// table with a warning rather than failing the run.
type SeedConfig struct {
	ExcludedExtensions  []string
	ExcludedPatterns    []string
	HighPriorityDomains []string
	Seeds               []string
	Feeds               []string
	Sitemaps            []string
}

const (
	fileExcludedExtensions  = "excluded_extensions.json"
	fileExcludedPatterns    = "excluded_patterns.json"
	fileHighPriorityDomains = "high_priority_domains.json"
	fileSeeds               = "seeds.json"
	fileFeeds               = "feeds.json"
	fileSitemaps            = "sitemaps.json"
)

// LoadSeedConfig reads every known seed file out of dir. A nil logger falls
// back to slog.Default(). Missing files are not an error: the crawler must
// still run with whatever scope tables were actually provided.
func LoadSeedConfig(dir string, logger *slog.Logger) SeedConfig {
	if logger == nil {
		logger = slog.Default()
	}

	return SeedConfig{
		ExcludedExtensions:  readStringArray(dir, fileExcludedExtensions, logger),
		ExcludedPatterns:    readStringArray(dir, fileExcludedPatterns, logger),
		HighPriorityDomains: readStringArray(dir, fileHighPriorityDomains, logger),
		Seeds:               readStringArray(dir, fileSeeds, logger),
		Feeds:               readStringArray(dir, fileFeeds, logger),
		Sitemaps:            readStringArray(dir, fileSitemaps, logger),
	}
}

func readStringArray(dir, name string, logger *slog.Logger) []string {
	if dir == "" {
		return nil
	}
	path := filepath.Join(dir, name)
	content, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("seed config file unavailable, using empty table", "path", path, "error", err)
		return nil
	}

	var values []string
	if err := json.Unmarshal(content, &values); err != nil {
		logger.Warn("seed config file malformed, using empty table", "path", path, "error", err)
		return nil
	}
	return values
}
