package config

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"valuesweep/internal/extract"
	"valuesweep/internal/model"
	"valuesweep/internal/ratelimit"
)

// EnvPrefix is prepended to every environment variable, e.g.
// VALUESWEEP_JOB_WINDOW for job.window.
const EnvPrefix = "VALUESWEEP"

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// HTTPConfig configures the shared page client.
type HTTPConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	UserAgent  string        `mapstructure:"user_agent"`
	RetryCount int           `mapstructure:"retry_count"`
}

// RateLimitConfig paces requests per source.
type RateLimitConfig struct {
	PagesPerSecond   float64 `mapstructure:"pages_per_second"`
	PagesBurst       int     `mapstructure:"pages_burst"`
	ListingPerSecond float64 `mapstructure:"listing_per_second"`
}

// SourcesConfig holds the remote endpoints. Page URLs contain a {code}
// placeholder.
type SourcesConfig struct {
	ListingURL     string `mapstructure:"listing_url"`
	ListingReferer string `mapstructure:"listing_referer"`
	OverviewURL    string `mapstructure:"overview_url"`
	InvestorURL    string `mapstructure:"investor_url"`
	SummaryURL     string `mapstructure:"summary_url"`
}

// DirectoryConfig configures the directory sync.
type DirectoryConfig struct {
	Markets []string `mapstructure:"markets"`
	MinRows int      `mapstructure:"min_rows"`
}

// JobConfig configures the sweep windows.
type JobConfig struct {
	Window int           `mapstructure:"window"`
	Delay  time.Duration `mapstructure:"delay"`
}

// StorageConfig configures the badger store.
type StorageConfig struct {
	Path      string        `mapstructure:"path"`
	OpTimeout time.Duration `mapstructure:"op_timeout"`
	InMemory  bool          `mapstructure:"in_memory"`
}

// SnapshotConfig locates the snapshot file.
type SnapshotConfig struct {
	Path            string  `mapstructure:"path"`
	// MaxFailureRatio is the failed share above which a valuation sweep
	// keeps the previous snapshot.
	MaxFailureRatio float64 `mapstructure:"max_failure_ratio"`
}

// ScheduleConfig holds the cron cadences, evaluated in Timezone.
type ScheduleConfig struct {
	Timezone     string `mapstructure:"timezone"`
	Directory    string `mapstructure:"directory"`
	Fundamentals string `mapstructure:"fundamentals"`
	Valuation    string `mapstructure:"valuation"`
}

// LockConfig configures the advisory job locks.
type LockConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// Config holds all configuration for valuesweep.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Job       JobConfig       `mapstructure:"job"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Lock      LockConfig      `mapstructure:"lock"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("http.timeout", "15s")
	v.SetDefault("http.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("http.retry_count", 0)

	v.SetDefault("ratelimit.pages_per_second", 10)
	v.SetDefault("ratelimit.pages_burst", 10)
	v.SetDefault("ratelimit.listing_per_second", 1)

	v.SetDefault("sources.listing_url", "http://data.krx.co.kr/comm/bldAttendant/getJsonData.cmd")
	v.SetDefault("sources.listing_referer", "http://data.krx.co.kr/contents/MDC/MDI/mdiLoader/index.cmd?menuId=MDC0201020101")
	v.SetDefault("sources.overview_url", "https://finance.naver.com/item/main.naver?code={code}")
	v.SetDefault("sources.investor_url", "https://navercomp.wisereport.co.kr/v2/company/c1010001.aspx?cmp_cd={code}")
	v.SetDefault("sources.summary_url", "https://finance.naver.com/item/sise.naver?code={code}")

	v.SetDefault("directory.markets", []string{"KOSPI", "KOSDAQ"})
	v.SetDefault("directory.min_rows", 100)

	v.SetDefault("job.window", 10)
	v.SetDefault("job.delay", "500ms")

	v.SetDefault("storage.path", "data/valuesweep")
	v.SetDefault("storage.op_timeout", "5s")
	v.SetDefault("storage.in_memory", false)

	v.SetDefault("snapshot.path", "data/valuation.json")
	v.SetDefault("snapshot.max_failure_ratio", 0.5)

	v.SetDefault("schedule.timezone", "Asia/Seoul")
	v.SetDefault("schedule.directory", "0 0-8,16-23 * * *")
	v.SetDefault("schedule.fundamentals", "0 */3 * * *")
	v.SetDefault("schedule.valuation", "0 17 * * 1-5")

	v.SetDefault("lock.ttl", "2h")
}

// RegisterFlags adds the configuration flags shared by every command.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a config file (default ./config.yaml or $HOME/.valuesweep/config.yaml)")
	fs.Int("window", 0, "instruments processed concurrently per window")
	fs.Duration("delay", 0, "pause between windows")
}

// flagKeys maps flag names to the configuration keys they override.
var flagKeys = map[string]string{
	"window": "job.window",
	"delay":  "job.delay",
}

// Load reads configuration from defaults, an optional config file,
// environment variables and flags, in increasing precedence. Only flags
// explicitly set on the command line override other sources.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	path := ""
	if flags != nil {
		if f := flags.Lookup("config"); f != nil {
			path = f.Value.String()
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.valuesweep")

		// A missing file is fine; a broken one is not.
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
				}
			}
		}
	}

	config := &Config{}
	err := v.Unmarshal(config, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks every key and reports all offending ones together.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		add("log.level: %v", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		add("log.format: must be text or json, got %q", c.Log.Format)
	}

	if c.HTTP.Timeout <= 0 {
		add("http.timeout: must be positive")
	}
	if c.HTTP.RetryCount < 0 {
		add("http.retry_count: must not be negative")
	}

	if c.RateLimit.PagesPerSecond < 0 || c.RateLimit.ListingPerSecond < 0 {
		add("ratelimit: rates must not be negative")
	}

	if c.Sources.ListingURL == "" {
		add("sources.listing_url: required")
	}
	for key, pattern := range map[string]string{
		"sources.overview_url": c.Sources.OverviewURL,
		"sources.investor_url": c.Sources.InvestorURL,
		"sources.summary_url":  c.Sources.SummaryURL,
	} {
		if !strings.Contains(pattern, "{code}") {
			add("%s: must contain {code}, got %q", key, pattern)
		}
	}

	if len(c.Directory.Markets) == 0 {
		add("directory.markets: at least one market required")
	}
	for _, m := range c.Directory.Markets {
		if _, err := model.ParseMarket(strings.TrimSpace(m)); err != nil {
			add("directory.markets: %v", err)
		}
	}
	if c.Directory.MinRows < 1 {
		add("directory.min_rows: must be at least 1")
	}

	if c.Job.Window < 1 {
		add("job.window: must be at least 1")
	}
	if c.Job.Delay < 0 {
		add("job.delay: must not be negative")
	}

	if c.Storage.Path == "" && !c.Storage.InMemory {
		add("storage.path: required unless storage.in_memory is set")
	}
	if c.Storage.OpTimeout <= 0 {
		add("storage.op_timeout: must be positive")
	}
	if c.Snapshot.Path == "" {
		add("snapshot.path: required")
	}
	if r := c.Snapshot.MaxFailureRatio; r <= 0 || r > 1 {
		add("snapshot.max_failure_ratio: must be in (0, 1], got %v", r)
	}

	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		add("schedule.timezone: %v", err)
	}
	for key, spec := range map[string]string{
		"schedule.directory":    c.Schedule.Directory,
		"schedule.fundamentals": c.Schedule.Fundamentals,
		"schedule.valuation":    c.Schedule.Valuation,
	} {
		if _, err := cron.ParseStandard(spec); err != nil {
			add("%s: invalid cron expression %q", key, spec)
		}
	}

	if c.Lock.TTL <= 0 {
		add("lock.ttl: must be positive")
	}

	if len(problems) > 0 {
		// Map iteration above is unordered.
		sort.Strings(problems)
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown level %q", s)
	}
	return level, nil
}

// LogLevel returns the configured slog level.
func (c *Config) LogLevel() slog.Level {
	level, _ := parseLevel(c.Log.Level)
	return level
}

// Location returns the schedule timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Markets returns the configured market segments in order.
func (c *Config) Markets() []model.Market {
	out := make([]model.Market, 0, len(c.Directory.Markets))
	for _, m := range c.Directory.Markets {
		out = append(out, model.Market(strings.TrimSpace(m)))
	}
	return out
}

// PagePatterns returns the URL pattern of each page template.
func (c *Config) PagePatterns() map[extract.Template]string {
	return map[extract.Template]string{
		extract.TemplateCompanyOverview: c.Sources.OverviewURL,
		extract.TemplateInvestorMetrics: c.Sources.InvestorURL,
		extract.TemplateMarketSummary:   c.Sources.SummaryURL,
	}
}

// Rates returns the rate limit of each source.
func (c *Config) Rates() map[ratelimit.Source]ratelimit.Rate {
	return map[ratelimit.Source]ratelimit.Rate{
		ratelimit.SourcePages:   {PerSecond: c.RateLimit.PagesPerSecond, Burst: c.RateLimit.PagesBurst},
		ratelimit.SourceListing: {PerSecond: c.RateLimit.ListingPerSecond, Burst: 1},
	}
}
