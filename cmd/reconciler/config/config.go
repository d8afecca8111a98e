// Package config turns viper settings into the typed configurations of the
// reconciliation packages.
//
// Keys, settable in the config file or as RECON_ environment variables
// (dots become underscores):
//
//	database.driver, database.dsn, database.query_timeout
//	redis.addr, redis.password, redis.db, redis.lock_ttl
//	run.workers, run.deposit_lookback_days, run.min_occurrences, run.pattern_lookback_days
//	log.level, log.format, log.output, log.file
//	parse.delimiter, parse.sheet, parse.max_errors, parse.continue_on_error, parse.column_aliases
//	report.format, report.output, report.title, report.max_anomalies, report.critical_threshold
//	tolerances.<category>.rounding_band, .minor_band, .elastic_days
package config

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ZENITH-cmd2/LavoroGiupponi/internal/matcher"
	"github.com/ZENITH-cmd2/LavoroGiupponi/internal/models"
	"github.com/ZENITH-cmd2/LavoroGiupponi/internal/parsers"
	"github.com/ZENITH-cmd2/LavoroGiupponi/internal/reconciler"
	"github.com/ZENITH-cmd2/LavoroGiupponi/internal/reporter"
	"github.com/ZENITH-cmd2/LavoroGiupponi/internal/storage"
	"github.com/ZENITH-cmd2/LavoroGiupponi/pkg/errors"
	"github.com/ZENITH-cmd2/LavoroGiupponi/pkg/logger"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables read by viper
const EnvPrefix = "RECON"

// Config is the whole application configuration
type Config struct {
	Database   storage.Config               `mapstructure:"database"`
	Redis      RedisConfig                  `mapstructure:"redis"`
	Run        reconciler.BatchConfig       `mapstructure:"run"`
	Log        logger.Config                `mapstructure:"log"`
	Parse      ParseSettings                `mapstructure:"parse"`
	Report     ReportSettings               `mapstructure:"report"`
	Tolerances map[string]ToleranceOverride `mapstructure:"tolerances"`
}

// RedisConfig enables the distributed plant-day lock when Addr is set
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// Enabled reports whether a Redis server is configured
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Addr) != ""
}

// Client opens a client for the configured server
func (r RedisConfig) Client() redis.UniversalClient {
	return redis.NewClient(&redis.Options{
		Addr:     r.Addr,
		Password: r.Password,
		DB:       r.DB,
	})
}

// ParseSettings mirrors parsers.ParseConfig with text delimiters
type ParseSettings struct {
	Delimiter       string            `mapstructure:"delimiter"`
	Sheet           string            `mapstructure:"sheet"`
	MaxErrors       int               `mapstructure:"max_errors"`
	MaxFieldSize    int               `mapstructure:"max_field_size"`
	ContinueOnError bool              `mapstructure:"continue_on_error"`
	ColumnAliases   map[string]string `mapstructure:"column_aliases"`
}

// ReportSettings mirrors reporter.ReportConfig with a text CSV delimiter
type ReportSettings struct {
	Format            string  `mapstructure:"format"`
	Output            string  `mapstructure:"output"`
	Title             string  `mapstructure:"title"`
	MaxAnomalies      int     `mapstructure:"max_anomalies"`
	CriticalThreshold float64 `mapstructure:"critical_threshold"`
	CSVDelimiter      string  `mapstructure:"csv_delimiter"`
	IncludeDetails    bool    `mapstructure:"include_details"`
	IncludeTrend      bool    `mapstructure:"include_trend"`
}

// ToleranceOverride replaces parts of a category's default tolerance profile.
// Empty bands and a nil ElasticDays keep the default.
type ToleranceOverride struct {
	RoundingBand string `mapstructure:"rounding_band"`
	MinorBand    string `mapstructure:"minor_band"`
	ElasticDays  *int   `mapstructure:"elastic_days"`
}

// SetDefaults registers the default of every key on v
func SetDefaults(v *viper.Viper) {
	db := storage.DefaultConfig()
	v.SetDefault("database.driver", db.Driver)
	v.SetDefault("database.dsn", db.DSN)
	v.SetDefault("database.max_open_conns", db.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", db.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", db.ConnMaxLifetime)
	v.SetDefault("database.query_timeout", db.QueryTimeout)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", reconciler.DefaultLockTTL)

	run := reconciler.DefaultBatchConfig()
	v.SetDefault("run.workers", run.Workers)
	v.SetDefault("run.deposit_lookback_days", run.DepositLookbackDays)
	v.SetDefault("run.min_occurrences", run.MinOccurrences)
	v.SetDefault("run.pattern_lookback_days", run.PatternLookbackDays)

	log := logger.DefaultConfig()
	v.SetDefault("log.level", string(log.Level))
	v.SetDefault("log.format", string(log.Format))
	v.SetDefault("log.output", string(log.Output))

	parse := parsers.DefaultParseConfig()
	v.SetDefault("parse.delimiter", string(parse.Delimiter))
	v.SetDefault("parse.max_errors", parse.MaxErrors)
	v.SetDefault("parse.max_field_size", parse.MaxFieldSize)
	v.SetDefault("parse.continue_on_error", parse.ContinueOnError)

	report := reporter.DefaultReportConfig()
	v.SetDefault("report.format", string(report.Format))
	v.SetDefault("report.title", report.Title)
	v.SetDefault("report.max_anomalies", report.MaxAnomalies)
	v.SetDefault("report.critical_threshold", report.CriticalThreshold)
	v.SetDefault("report.csv_delimiter", string(report.CSVDelimiter))
	v.SetDefault("report.include_details", report.IncludeDetails)
	v.SetDefault("report.include_trend", report.IncludeTrend)
}

// Load reads the configuration from v and validates it
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "config", v.ConfigFileUsed(), err).
			WithSuggestion("Check the types of the values in the configuration file")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when nothing is configured
func Default() *Config {
	cfg, err := Load(viper.New())
	if err != nil {
		panic(fmt.Sprintf("default configuration is invalid: %v", err))
	}
	return cfg
}

// Validate checks every section of the configuration
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "database", c.Database.Driver, err)
	}
	if err := c.Run.Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "run", c.Run, err)
	}
	if c.Redis.Enabled() && c.Redis.LockTTL <= 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "redis.lock_ttl", c.Redis.LockTTL,
			fmt.Errorf("lock ttl must be positive"))
	}
	if err := c.Log.Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "log", c.Log.Level, err)
	}
	if _, err := c.ToleranceTable(); err != nil {
		return err
	}
	if _, err := c.ParseConfig(); err != nil {
		return err
	}
	if _, err := c.ReportConfig(); err != nil {
		return err
	}
	return nil
}

// ToleranceTable applies the configured overrides to the default table
func (c *Config) ToleranceTable() (*matcher.ToleranceTable, error) {
	table := matcher.DefaultToleranceTable()

	for name, override := range c.Tolerances {
		category, err := models.ParseCategory(name)
		if err != nil {
			return nil, errors.ConfigurationError(errors.CodeInvalidTolerance, "tolerances."+name, name, err).
				WithSuggestion(fmt.Sprintf("Use one of: %s", categoryNames()))
		}

		profile := table.Profile(category)
		if override.RoundingBand != "" {
			if profile.RoundingBand, err = decimal.NewFromString(override.RoundingBand); err != nil {
				return nil, toleranceError(name, "rounding_band", override.RoundingBand, err)
			}
		}
		if override.MinorBand != "" {
			if profile.MinorBand, err = decimal.NewFromString(override.MinorBand); err != nil {
				return nil, toleranceError(name, "minor_band", override.MinorBand, err)
			}
		}
		if override.ElasticDays != nil {
			profile.ElasticDays = *override.ElasticDays
		}
		table.Set(category, profile)
	}

	if err := table.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidTolerance, "tolerances", table.String(), err)
	}
	return table, nil
}

func toleranceError(category, field, value string, err error) error {
	return errors.ConfigurationError(errors.CodeInvalidTolerance,
		fmt.Sprintf("tolerances.%s.%s", category, field), value, err).
		WithSuggestion("Write bands as plain decimal amounts, e.g. 5.00")
}

func categoryNames() string {
	names := make([]string, 0, len(models.AllCategories()))
	for _, c := range models.AllCategories() {
		names = append(names, string(c))
	}
	return strings.Join(names, ", ")
}

// ParseConfig builds the loader configuration
func (c *Config) ParseConfig() (*parsers.ParseConfig, error) {
	config := parsers.DefaultParseConfig()

	delimiter, err := singleRune("parse.delimiter", c.Parse.Delimiter)
	if err != nil {
		return nil, err
	}
	config.Delimiter = delimiter
	config.Sheet = c.Parse.Sheet
	config.MaxErrors = c.Parse.MaxErrors
	config.MaxFieldSize = c.Parse.MaxFieldSize
	config.ContinueOnError = c.Parse.ContinueOnError
	config.ColumnAliases = c.Parse.ColumnAliases

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "parse", c.Parse, err)
	}
	return config, nil
}

// ReportConfig builds the renderer configuration
func (c *Config) ReportConfig() (*reporter.ReportConfig, error) {
	config := reporter.DefaultReportConfig()

	delimiter, err := singleRune("report.csv_delimiter", c.Report.CSVDelimiter)
	if err != nil {
		return nil, err
	}
	config.Format = reporter.OutputFormat(strings.ToLower(c.Report.Format))
	config.Output = c.Report.Output
	if c.Report.Title != "" {
		config.Title = c.Report.Title
	}
	config.MaxAnomalies = c.Report.MaxAnomalies
	config.CriticalThreshold = c.Report.CriticalThreshold
	config.CSVDelimiter = delimiter
	config.IncludeDetails = c.Report.IncludeDetails
	config.IncludeTrend = c.Report.IncludeTrend

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "report", c.Report.Format, err).
			WithSuggestion("Valid formats: console, json, csv, html")
	}
	return config, nil
}

// LoggerConfig returns the logger configuration, at debug level when verbose
func (c *Config) LoggerConfig(verbose bool) *logger.Config {
	config := c.Log
	if verbose {
		config.Level = logger.DebugLevel
	}
	return &config
}

// singleRune reads a one-character setting; "\t" and "tab" mean a tab
func singleRune(key, value string) (rune, error) {
	switch strings.ToLower(value) {
	case `\t`, "tab":
		return '\t', nil
	}
	if utf8.RuneCountInString(value) != 1 {
		return 0, errors.ConfigurationError(errors.CodeInvalidConfig, key, value,
			fmt.Errorf("expected a single character, got %q", value))
	}
	r, _ := utf8.DecodeRuneInString(value)
	return r, nil
}
