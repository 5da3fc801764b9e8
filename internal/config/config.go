// Package config is the crawler's single configuration value: a builder
// pattern (WithDefault + With* chaining + Build validation) mirroring the
// ambient convention, plus a JSON-seed loader for the CRAWLER_CONFIG_DIR
// contract (excluded extensions/patterns, high-priority domains, seed
// URLs, sitemaps, feeds).
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"
)

type Config struct {
	// Crawl scope
	seedURLs []url.URL
	maxDepth int

	// Frontier sizing
	frontierCapacity int // C_mem: in-memory priority-queue capacity
	lowWaterMark     int // C_low: triggers async refill from spill
	refillBatch      int // B_refill: items requested per refill
	spillShards      int // K: number of spill shard files

	// Worker pool
	workers           int // W: number of concurrent fetch workers
	requestsPerWorker int // C_req: in-flight requests per worker

	// Politeness
	baseDelay              time.Duration
	jitter                 time.Duration
	randomSeed             int64
	maxAttempt             int
	backoffInitialDuration time.Duration
	backoffMultiplier      float64
	backoffMaxDuration     time.Duration

	// Fetch
	fetchTimeout time.Duration
	userAgent    string

	// Robots
	robotsTTL        time.Duration
	robotsFetchLimit time.Duration

	// Output
	outputDir string
	dryRun    bool

	// Seed configuration directory (CRAWLER_CONFIG_DIR)
	configDir string
}

type configDTO struct {
	SeedURLs               []url.URL     `json:"seedUrls"`
	MaxDepth               int           `json:"maxDepth,omitempty"`
	FrontierCapacity       int           `json:"frontierCapacity,omitempty"`
	LowWaterMark           int           `json:"lowWaterMark,omitempty"`
	RefillBatch            int           `json:"refillBatch,omitempty"`
	SpillShards            int           `json:"spillShards,omitempty"`
	Workers                int           `json:"workers,omitempty"`
	RequestsPerWorker      int           `json:"requestsPerWorker,omitempty"`
	BaseDelay              time.Duration `json:"baseDelay,omitempty"`
	Jitter                 time.Duration `json:"jitter,omitempty"`
	RandomSeed             int64         `json:"randomSeed,omitempty"`
	MaxAttempt             int           `json:"maxAttempt,omitempty"`
	BackoffInitialDuration time.Duration `json:"backoffInitialDuration,omitempty"`
	BackoffMultiplier      float64       `json:"backoffMultiplier,omitempty"`
	BackoffMaxDuration     time.Duration `json:"backoffMaxDuration,omitempty"`
	FetchTimeout           time.Duration `json:"fetchTimeout,omitempty"`
	UserAgent              string        `json:"userAgent,omitempty"`
	RobotsTTL              time.Duration `json:"robotsTTL,omitempty"`
	OutputDir              string        `json:"outputDir,omitempty"`
	DryRun                 bool          `json:"dryRun,omitempty"`
}

func WithConfigFile(path string) (Config, error) {
	if _, err := os.Stat(path); err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrFileDoesNotExist, err.Error())
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrReadConfigFail, err.Error())
	}

	var dto configDTO
	if err := json.Unmarshal(content, &dto); err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrConfigParsingFail, err.Error())
	}
	return newConfigFromDTO(dto)
}

func newConfigFromDTO(dto configDTO) (Config, error) {
	cfg, err := WithDefault(dto.SeedURLs).Build()
	if err != nil {
		return Config{}, err
	}

	if dto.MaxDepth != 0 {
		cfg.maxDepth = dto.MaxDepth
	}
	if dto.FrontierCapacity != 0 {
		cfg.frontierCapacity = dto.FrontierCapacity
	}
	if dto.LowWaterMark != 0 {
		cfg.lowWaterMark = dto.LowWaterMark
	}
	if dto.RefillBatch != 0 {
		cfg.refillBatch = dto.RefillBatch
	}
	if dto.SpillShards != 0 {
		cfg.spillShards = dto.SpillShards
	}
	if dto.Workers != 0 {
		cfg.workers = dto.Workers
	}
	if dto.RequestsPerWorker != 0 {
		cfg.requestsPerWorker = dto.RequestsPerWorker
	}
	if dto.BaseDelay != 0 {
		cfg.baseDelay = dto.BaseDelay
	}
	if dto.Jitter != 0 {
		cfg.jitter = dto.Jitter
	}
	if dto.RandomSeed != 0 {
		cfg.randomSeed = dto.RandomSeed
	}
	if dto.MaxAttempt != 0 {
		cfg.maxAttempt = dto.MaxAttempt
	}
	if dto.BackoffInitialDuration != 0 {
		cfg.backoffInitialDuration = dto.BackoffInitialDuration
	}
	if dto.BackoffMultiplier != 0 {
		cfg.backoffMultiplier = dto.BackoffMultiplier
	}
	if dto.BackoffMaxDuration != 0 {
		cfg.backoffMaxDuration = dto.BackoffMaxDuration
	}
	if dto.FetchTimeout != 0 {
		cfg.fetchTimeout = dto.FetchTimeout
	}
	if dto.UserAgent != "" {
		cfg.userAgent = dto.UserAgent
	}
	if dto.RobotsTTL != 0 {
		cfg.robotsTTL = dto.RobotsTTL
	}
	if dto.OutputDir != "" {
		cfg.outputDir = dto.OutputDir
	}
	cfg.dryRun = dto.DryRun

	return cfg, nil
}

// WithDefault creates a new Config with seedUrls and defaults for
// everything else. seedUrls must be non-empty by the time Build is called.
func WithDefault(seedUrls []url.URL) *Config {
	return &Config{
		seedURLs:               seedUrls,
		maxDepth:                5,
		frontierCapacity:        50000,
		lowWaterMark:            5000,
		refillBatch:             2000,
		spillShards:             8,
		workers:                 10,
		requestsPerWorker:       4,
		baseDelay:               1 * time.Second,
		jitter:                  500 * time.Millisecond,
		randomSeed:              time.Now().UnixNano(),
		maxAttempt:              5,
		backoffInitialDuration:  1 * time.Second,
		backoffMultiplier:       2.0,
		backoffMaxDuration:      30 * time.Second,
		fetchTimeout:            10 * time.Second,
		userAgent:               "corewalker-crawler/1.0",
		robotsTTL:               24 * time.Hour,
		robotsFetchLimit:        5 * time.Second,
		outputDir:               "output",
		dryRun:                  false,
	}
}

func (c *Config) WithSeedURLs(urls []url.URL) *Config   { c.seedURLs = urls; return c }
func (c *Config) WithMaxDepth(d int) *Config             { c.maxDepth = d; return c }
func (c *Config) WithFrontierCapacity(n int) *Config     { c.frontierCapacity = n; return c }
func (c *Config) WithLowWaterMark(n int) *Config         { c.lowWaterMark = n; return c }
func (c *Config) WithRefillBatch(n int) *Config          { c.refillBatch = n; return c }
func (c *Config) WithSpillShards(n int) *Config          { c.spillShards = n; return c }
func (c *Config) WithWorkers(n int) *Config              { c.workers = n; return c }
func (c *Config) WithRequestsPerWorker(n int) *Config    { c.requestsPerWorker = n; return c }
func (c *Config) WithBaseDelay(d time.Duration) *Config  { c.baseDelay = d; return c }
func (c *Config) WithJitter(d time.Duration) *Config     { c.jitter = d; return c }
func (c *Config) WithRandomSeed(s int64) *Config         { c.randomSeed = s; return c }
func (c *Config) WithMaxAttempt(n int) *Config           { c.maxAttempt = n; return c }
func (c *Config) WithBackoffInitialDuration(d time.Duration) *Config {
	c.backoffInitialDuration = d
	return c
}
func (c *Config) WithBackoffMultiplier(m float64) *Config { c.backoffMultiplier = m; return c }
func (c *Config) WithBackoffMaxDuration(d time.Duration) *Config {
	c.backoffMaxDuration = d
	return c
}
func (c *Config) WithFetchTimeout(d time.Duration) *Config { c.fetchTimeout = d; return c }
func (c *Config) WithUserAgent(ua string) *Config          { c.userAgent = ua; return c }
func (c *Config) WithRobotsTTL(d time.Duration) *Config    { c.robotsTTL = d; return c }
func (c *Config) WithOutputDir(dir string) *Config         { c.outputDir = dir; return c }
func (c *Config) WithDryRun(v bool) *Config                { c.dryRun = v; return c }
func (c *Config) WithConfigDir(dir string) *Config          { c.configDir = dir; return c }

func (c *Config) Build() (Config, error) {
	if len(c.seedURLs) == 0 {
		return Config{}, fmt.Errorf("%w: seedUrls cannot be empty", ErrInvalidConfig)
	}
	if c.workers <= 0 {
		return Config{}, fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	}
	if c.lowWaterMark >= c.frontierCapacity {
		return Config{}, fmt.Errorf("%w: lowWaterMark must be less than frontierCapacity", ErrInvalidConfig)
	}
	return *c, nil
}

func (c Config) SeedURLs() []url.URL {
	out := make([]url.URL, len(c.seedURLs))
	copy(out, c.seedURLs)
	return out
}

func (c Config) MaxDepth() int                            { return c.maxDepth }
func (c Config) FrontierCapacity() int                     { return c.frontierCapacity }
func (c Config) LowWaterMark() int                         { return c.lowWaterMark }
func (c Config) RefillBatch() int                          { return c.refillBatch }
func (c Config) SpillShards() int                          { return c.spillShards }
func (c Config) Workers() int                               { return c.workers }
func (c Config) RequestsPerWorker() int                     { return c.requestsPerWorker }
func (c Config) BaseDelay() time.Duration                   { return c.baseDelay }
func (c Config) Jitter() time.Duration                      { return c.jitter }
func (c Config) RandomSeed() int64                          { return c.randomSeed }
func (c Config) MaxAttempt() int                            { return c.maxAttempt }
func (c Config) BackoffInitialDuration() time.Duration      { return c.backoffInitialDuration }
func (c Config) BackoffMultiplier() float64                 { return c.backoffMultiplier }
func (c Config) BackoffMaxDuration() time.Duration           { return c.backoffMaxDuration }
func (c Config) FetchTimeout() time.Duration                { return c.fetchTimeout }
func (c Config) UserAgent() string                           { return c.userAgent }
func (c Config) RobotsTTL() time.Duration                    { return c.robotsTTL }
func (c Config) RobotsFetchLimit() time.Duration             { return c.robotsFetchLimit }
func (c Config) OutputDir() string                           { return c.outputDir }
func (c Config) DryRun() bool                                { return c.dryRun }
func (c Config) ConfigDir() string                           { return c.configDir }
