// Package config loads run configuration from files, SERPENT_ environment
// variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/FranksOps/serpent/internal/fingerprint"
	"github.com/FranksOps/serpent/internal/serp"
	"github.com/adrg/xdg"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/text/language"
)

// AppName names the config file and the XDG directories.
const AppName = "serpent"

// Config is the full run configuration.
type Config struct {
	Queries            []string `mapstructure:"queries"`
	Concurrency        int      `mapstructure:"concurrency"`
	MaxPagesPerQuery   int      `mapstructure:"maxPagesPerQuery"`
	MobileResults      bool     `mapstructure:"mobileResults"`
	SaveHTML           bool     `mapstructure:"saveHtml"`
	Domain             string   `mapstructure:"domain"`
	CountryCode        string   `mapstructure:"countryCode"`
	LanguageCode       string   `mapstructure:"languageCode"`
	LocationUule       string   `mapstructure:"locationUule"`
	ResultsPerPage     int      `mapstructure:"resultsPerPage"`
	DefaultCountryCode string   `mapstructure:"defaultCountryCode"`

	Hook    HookConfig    `mapstructure:"hook"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Output  OutputConfig  `mapstructure:"output"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Log     LogConfig     `mapstructure:"log"`
	Report  ReportConfig  `mapstructure:"report"`
}

// HookConfig selects the custom data hook.
type HookConfig struct {
	Name    string        `mapstructure:"name"`
	Terms   []string      `mapstructure:"terms"`
	Command string        `mapstructure:"command"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// FetchConfig controls the HTTP transport.
type FetchConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxRetries    int           `mapstructure:"maxRetries"`
	RetryBackoff  time.Duration `mapstructure:"retryBackoff"`
	Proxies       []string      `mapstructure:"proxies"`
	ProxyFile     string        `mapstructure:"proxyFile"`
	Fingerprint   string        `mapstructure:"fingerprint"`
	RPS           float64       `mapstructure:"rps"`
	Jitter        float64       `mapstructure:"jitter"`
	RespectRobots bool          `mapstructure:"respectRobots"`
	CookieJar     bool          `mapstructure:"cookieJar"`
}

// OutputConfig selects the dataset backend.
type OutputConfig struct {
	Backend string   `mapstructure:"backend"`
	Path    string   `mapstructure:"path"`
	DSN     string   `mapstructure:"dsn"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// QueueConfig selects the work queue backend.
type QueueConfig struct {
	Backend   string `mapstructure:"backend"`
	RedisAddr string `mapstructure:"redisAddr"`
	Prefix    string `mapstructure:"prefix"`
	// Resume keeps the pending and seen units left by an earlier run.
	Resume bool `mapstructure:"resume"`
}

// MetricsConfig controls the Prometheus endpoint. Port 0 disables it.
type MetricsConfig struct {
	Port int `mapstructure:"port"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// File, when set, receives a rotated copy of the log.
	File string `mapstructure:"file"`
}

// ReportConfig selects the end-of-run summary format.
type ReportConfig struct {
	Format string `mapstructure:"format"`
}

// Backends and formats accepted by Validate.
var (
	OutputBackends = []string{"json", "csv", "sqlite", "postgres", "kafka"}
	QueueBackends  = []string{"memory", "redis"}
	ReportFormats  = []string{"text", "json", "markdown", "html"}
	LogFormats     = []string{"text", "json"}
	LogLevels      = []string{"debug", "info", "warn", "error"}
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("queries", []string{})
	v.SetDefault("concurrency", 10)
	v.SetDefault("maxPagesPerQuery", 0)
	v.SetDefault("mobileResults", false)
	v.SetDefault("saveHtml", false)
	v.SetDefault("domain", serp.DefaultDomain)
	v.SetDefault("countryCode", "")
	v.SetDefault("languageCode", "")
	v.SetDefault("locationUule", "")
	v.SetDefault("resultsPerPage", 0)
	v.SetDefault("defaultCountryCode", serp.DefaultCountryCode)

	v.SetDefault("hook.name", "")
	v.SetDefault("hook.terms", []string{})
	v.SetDefault("hook.command", "")
	v.SetDefault("hook.timeout", 30*time.Second)

	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("fetch.maxRetries", 3)
	v.SetDefault("fetch.retryBackoff", time.Second)
	v.SetDefault("fetch.proxies", []string{})
	v.SetDefault("fetch.proxyFile", "")
	v.SetDefault("fetch.fingerprint", "auto")
	v.SetDefault("fetch.rps", 0.0)
	v.SetDefault("fetch.jitter", 0.0)
	v.SetDefault("fetch.respectRobots", false)
	v.SetDefault("fetch.cookieJar", true)

	v.SetDefault("output.backend", "json")
	v.SetDefault("output.path", "")
	v.SetDefault("output.dsn", "")
	v.SetDefault("output.brokers", []string{})
	v.SetDefault("output.topic", "serp-results")

	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.redisAddr", "")
	v.SetDefault("queue.prefix", AppName+":")
	v.SetDefault("queue.resume", false)

	v.SetDefault("metrics.port", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")

	v.SetDefault("report.format", "text")
}

// flagKeys maps command line flag names to configuration keys.
var flagKeys = map[string]string{
	"query":            "queries",
	"concurrency":      "concurrency",
	"max-pages":        "maxPagesPerQuery",
	"mobile":           "mobileResults",
	"save-html":        "saveHtml",
	"domain":           "domain",
	"country":          "countryCode",
	"language":         "languageCode",
	"uule":             "locationUule",
	"results-per-page": "resultsPerPage",
	"default-country":  "defaultCountryCode",
	"hook":             "hook.name",
	"hook-terms":       "hook.terms",
	"hook-command":     "hook.command",
	"hook-timeout":     "hook.timeout",
	"timeout":          "fetch.timeout",
	"max-retries":      "fetch.maxRetries",
	"retry-backoff":    "fetch.retryBackoff",
	"proxy":            "fetch.proxies",
	"proxy-file":       "fetch.proxyFile",
	"fingerprint":      "fetch.fingerprint",
	"rps":              "fetch.rps",
	"jitter":           "fetch.jitter",
	"respect-robots":   "fetch.respectRobots",
	"cookie-jar":       "fetch.cookieJar",
	"output":           "output.backend",
	"output-path":      "output.path",
	"output-dsn":       "output.dsn",
	"kafka-broker":     "output.brokers",
	"kafka-topic":      "output.topic",
	"queue":            "queue.backend",
	"redis-addr":       "queue.redisAddr",
	"queue-prefix":     "queue.prefix",
	"resume":           "queue.resume",
	"metrics-port":     "metrics.port",
	"log-level":        "log.level",
	"log-format":       "log.format",
	"log-file":         "log.file",
	"report":           "report.format",
}

// RegisterFlags adds one flag per configuration key to fs. Flags only
// override the file and environment when set explicitly.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringSliceP("query", "q", nil, "search term or results-page URL (repeatable)")
	fs.IntP("concurrency", "c", 10, "number of pages processed in parallel")
	fs.Int("max-pages", 0, "maximum pages per query (0 = unlimited)")
	fs.Bool("mobile", false, "request mobile results")
	fs.Bool("save-html", false, "store the raw page HTML in each record")
	fs.String("domain", serp.DefaultDomain, "search domain, e.g. google.de")
	fs.String("country", "", "country code sent as gl")
	fs.String("language", "", "interface language sent as hl")
	fs.String("uule", "", "encoded search location")
	fs.Int("results-per-page", 0, "results per page (0 = engine default)")
	fs.String("default-country", serp.DefaultCountryCode, "country code for unknown domains")

	fs.String("hook", "", "custom data hook: terms or exec")
	fs.StringSlice("hook-terms", nil, "terms counted by the terms hook")
	fs.String("hook-command", "", "command run by the exec hook")
	fs.Duration("hook-timeout", 30*time.Second, "exec hook timeout")

	fs.Duration("timeout", 30*time.Second, "per-request timeout")
	fs.Int("max-retries", 3, "retries per page after the first attempt")
	fs.Duration("retry-backoff", time.Second, "base retry delay, doubled per retry")
	fs.StringSlice("proxy", nil, "proxy URL (repeatable)")
	fs.String("proxy-file", "", "file with one proxy URL per line")
	fs.String("fingerprint", "auto", "TLS fingerprint: auto, chrome, firefox, safari, ios, go, random")
	fs.Float64("rps", 0, "maximum requests per second (0 = unlimited)")
	fs.Float64("jitter", 0, "random delay added to the rate limit, 0.0 to 1.0")
	fs.Bool("respect-robots", false, "skip pages disallowed by robots.txt")
	fs.Bool("cookie-jar", true, "keep cookies between requests")

	fs.StringP("output", "o", "json", "dataset backend: "+strings.Join(OutputBackends, ", "))
	fs.String("output-path", "", "dataset file for json, csv and sqlite")
	fs.String("output-dsn", "", "postgres connection string")
	fs.StringSlice("kafka-broker", nil, "kafka broker address (repeatable)")
	fs.String("kafka-topic", "serp-results", "kafka topic")

	fs.String("queue", "memory", "work queue backend: memory or redis")
	fs.String("redis-addr", "", "redis address for the redis queue")
	fs.String("queue-prefix", AppName+":", "redis key prefix")
	fs.Bool("resume", false, "continue the redis queue left by an earlier run instead of clearing it")

	fs.Int("metrics-port", 0, "serve Prometheus metrics on this port (0 = off)")
	fs.String("log-level", "info", "log level: "+strings.Join(LogLevels, ", "))
	fs.String("log-format", "text", "log format: text or json")
	fs.String("log-file", "", "also write logs to this rotated file")
	fs.String("report", "text", "summary format: "+strings.Join(ReportFormats, ", "))
}

// Load reads configuration from path (or serpent.{yaml,json,toml} in the
// working directory and the XDG config directory when path is empty),
// SERPENT_ environment variables and the explicitly set flags of fs, in
// increasing order of precedence. The result has defaults applied but is
// not validated.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SERPENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(AppName)
		v.AddConfigPath(".")
		v.AddConfigPath(ConfigDir())
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// DataDir is where file datasets go by default.
func DataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// ConfigDir is searched for serpent.yaml when no config file is given.
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

func (c *Config) applyDefaults() {
	c.Output.Backend = strings.ToLower(c.Output.Backend)
	c.Queue.Backend = strings.ToLower(c.Queue.Backend)
	c.Report.Format = strings.ToLower(c.Report.Format)
	c.Log.Format = strings.ToLower(c.Log.Format)
	c.Log.Level = strings.ToLower(c.Log.Level)
	c.Hook.Name = strings.ToLower(c.Hook.Name)

	if c.Output.Path == "" {
		switch c.Output.Backend {
		case "json":
			c.Output.Path = filepath.Join(DataDir(), "results.ndjson")
		case "csv":
			c.Output.Path = filepath.Join(DataDir(), "results.csv")
		case "sqlite":
			c.Output.Path = filepath.Join(DataDir(), "results.db")
		}
	}
}

// Device returns the results layout requested by MobileResults.
func (c *Config) Device() serp.Device {
	return serp.DeviceFor(c.MobileResults)
}

// SearchParams returns the parameters applied to term queries.
func (c *Config) SearchParams() serp.SearchParams {
	return serp.SearchParams{
		Domain:         c.Domain,
		CountryCode:    c.CountryCode,
		LanguageCode:   c.LanguageCode,
		LocationUule:   c.LocationUule,
		ResultsPerPage: c.ResultsPerPage,
	}
}

// Validate reports the first invalid setting as a *serp.ConfigurationError.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return &serp.ConfigurationError{Reason: fmt.Sprintf(format, args...)}
	}

	if c.Concurrency < 1 {
		return invalid("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.MaxPagesPerQuery < 0 {
		return invalid("maxPagesPerQuery must not be negative, got %d", c.MaxPagesPerQuery)
	}
	if c.ResultsPerPage < 0 || c.ResultsPerPage > 100 {
		return invalid("resultsPerPage must be between 0 and 100, got %d", c.ResultsPerPage)
	}
	if c.LanguageCode != "" {
		if _, err := language.Parse(c.LanguageCode); err != nil {
			return invalid("languageCode %q: %v", c.LanguageCode, err)
		}
	}
	for _, cc := range []string{c.CountryCode, c.DefaultCountryCode} {
		if cc == "" {
			continue
		}
		if _, err := language.ParseRegion(cc); err != nil {
			return invalid("country code %q: %v", cc, err)
		}
	}

	switch c.Hook.Name {
	case "":
	case "terms":
		if len(c.Hook.Terms) == 0 {
			return invalid("hook.terms is required for the terms hook")
		}
	case "exec":
		if strings.TrimSpace(c.Hook.Command) == "" {
			return invalid("hook.command is required for the exec hook")
		}
	default:
		return invalid("unknown hook %q", c.Hook.Name)
	}

	if c.Fetch.MaxRetries < 0 {
		return invalid("fetch.maxRetries must not be negative")
	}
	if c.Fetch.RPS < 0 {
		return invalid("fetch.rps must not be negative")
	}
	if c.Fetch.Jitter < 0 || c.Fetch.Jitter > 1 {
		return invalid("fetch.jitter must be between 0 and 1, got %v", c.Fetch.Jitter)
	}
	if c.Fetch.Fingerprint != "" && c.Fetch.Fingerprint != "auto" {
		if _, err := fingerprint.ParseProfile(c.Fetch.Fingerprint); err != nil {
			return invalid("%v", err)
		}
	}

	if !slices.Contains(OutputBackends, c.Output.Backend) {
		return invalid("unknown output backend %q", c.Output.Backend)
	}
	switch c.Output.Backend {
	case "postgres":
		if c.Output.DSN == "" {
			return invalid("output.dsn is required for the postgres backend")
		}
	case "kafka":
		if len(c.Output.Brokers) == 0 || c.Output.Topic == "" {
			return invalid("output.brokers and output.topic are required for the kafka backend")
		}
	}

	if !slices.Contains(QueueBackends, c.Queue.Backend) {
		return invalid("unknown queue backend %q", c.Queue.Backend)
	}
	if c.Queue.Backend == "redis" && c.Queue.RedisAddr == "" {
		return invalid("queue.redisAddr is required for the redis queue")
	}

	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return invalid("metrics.port out of range: %d", c.Metrics.Port)
	}
	if !slices.Contains(LogLevels, c.Log.Level) {
		return invalid("unknown log level %q", c.Log.Level)
	}
	if !slices.Contains(LogFormats, c.Log.Format) {
		return invalid("unknown log format %q", c.Log.Format)
	}
	if !slices.Contains(ReportFormats, c.Report.Format) {
		return invalid("unknown report format %q", c.Report.Format)
	}
	return nil
}

