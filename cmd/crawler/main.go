// Command crawler is the spec's external CLI contract (§6):
//
//	crawler <threads> [max_depth] [max_queue_size]
//
// Exit codes: 0 normal shutdown, 2 invalid arguments, 3 fatal
// initialization, 130 signal-requested shutdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/corewalker/crawler/internal/config"
	"github.com/corewalker/crawler/internal/orchestrator"
	"github.com/corewalker/crawler/internal/spill"
)

const (
	exitInvalidArgs = 2
	exitInitFailure = 3
	exitSignal      = 130
)

// exitError carries the process exit code alongside the underlying error,
// so main can translate a RunE failure into the spec's exact exit codes.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func newExitError(code int, err error) *exitError { return &exitError{code: code, err: err} }

var rootCmd = &cobra.Command{
	Use:           "crawler <threads> [max_depth] [max_queue_size]",
	Short:         "A concurrent, polite, resumable web crawler.",
	Args:          cobra.RangeArgs(1, 3),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			fmt.Fprintln(os.Stderr, ee.err)
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitInvalidArgs)
	}
}

// parseArgs validates the crawler's three positional arguments, returning
// sentinel zero values for the two optional ones when omitted.
func parseArgs(args []string) (threads, maxDepth, maxQueueSize int, err error) {
	threads, err = strconv.Atoi(args[0])
	if err != nil || threads <= 0 {
		return 0, 0, 0, fmt.Errorf("threads must be a positive integer, got %q", args[0])
	}
	if len(args) > 1 {
		maxDepth, err = strconv.Atoi(args[1])
		if err != nil || maxDepth < 0 {
			return 0, 0, 0, fmt.Errorf("max_depth must be a non-negative integer, got %q", args[1])
		}
	}
	if len(args) > 2 {
		maxQueueSize, err = strconv.Atoi(args[2])
		if err != nil || maxQueueSize <= 0 {
			return 0, 0, 0, fmt.Errorf("max_queue_size must be a positive integer, got %q", args[2])
		}
	}
	return threads, maxDepth, maxQueueSize, nil
}

func run(cmd *cobra.Command, args []string) error {
	threads, maxDepth, maxQueueSize, err := parseArgs(args)
	if err != nil {
		return newExitError(exitInvalidArgs, err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	configDir := envOr("CRAWLER_CONFIG_DIR", "./config")
	dataDir := envOr("CRAWLER_DATA_DIR", "./data")
	userAgent := os.Getenv("CRAWLER_USER_AGENT")
	maxPages := 0
	if v := os.Getenv("CRAWLER_MAX_PAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxPages = n
		} else {
			logger.Warn("ignoring malformed CRAWLER_MAX_PAGES", "value", v)
		}
	}

	seedCfg := config.LoadSeedConfig(configDir, logger)
	if len(seedCfg.Seeds) == 0 {
		return newExitError(exitInitFailure, fmt.Errorf("no seed URLs configured under %s/seeds.json", configDir))
	}

	seedURLs, err := parseSeedURLs(seedCfg.Seeds)
	if err != nil {
		return newExitError(exitInitFailure, err)
	}

	builder := config.WithDefault(seedURLs).WithWorkers(threads)
	if maxDepth > 0 {
		builder = builder.WithMaxDepth(maxDepth)
	}
	if maxQueueSize > 0 {
		builder = builder.WithFrontierCapacity(maxQueueSize)
	}
	if userAgent != "" {
		builder = builder.WithUserAgent(userAgent)
	}
	builder = builder.WithOutputDir(filepath.Join(dataDir, "raw")).WithConfigDir(configDir)

	cfg, err := builder.Build()
	if err != nil {
		return newExitError(exitInitFailure, fmt.Errorf("building config: %w", err))
	}

	spillQueue, err := spill.Open(spill.Config{Dir: filepath.Join(dataDir, "frontier_spill"), Shards: cfg.SpillShards()})
	if err != nil {
		return newExitError(exitInitFailure, fmt.Errorf("opening spill queue: %w", err))
	}

	seeds := orchestrator.Seeds{
		ExcludedExtensions:  seedCfg.ExcludedExtensions,
		ExcludedPatterns:    seedCfg.ExcludedPatterns,
		HighPriorityDomains: seedCfg.HighPriorityDomains,
		SeedSitemaps:        seedCfg.Sitemaps,
		SeedFeeds:           seedCfg.Feeds,
	}

	orch, err := orchestrator.New(cfg, seeds, dataDir, spillQueue, logger)
	if err != nil {
		return newExitError(exitInitFailure, fmt.Errorf("initializing orchestrator: %w", err))
	}
	if maxPages > 0 {
		orch = orch.WithMaxPages(maxPages)
	}

	if err := orch.Run(context.Background(), seedCfg.Seeds); err != nil {
		if errors.Is(err, orchestrator.ErrSignalShutdown) {
			return newExitError(exitSignal, err)
		}
		return newExitError(exitInitFailure, err)
	}
	return nil
}

func parseSeedURLs(raw []string) ([]url.URL, error) {
	urls := make([]url.URL, 0, len(raw))
	for _, s := range raw {
		u, err := url.Parse(s)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid seed URL %q", s)
		}
		urls = append(urls, *u)
	}
	return urls, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
