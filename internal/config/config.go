package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	WordStats WordStatsConfig `yaml:"wordstats" mapstructure:"wordstats"`
	Resources ResourcesConfig `yaml:"resources" mapstructure:"resources"`
	Dedup     DedupConfig     `yaml:"dedup" mapstructure:"dedup"`
	Index     IndexConfig     `yaml:"index" mapstructure:"index"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the gazetteer database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	CommitRate  int    `yaml:"commit_rate" mapstructure:"commit_rate"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// WordStatsConfig configures the word frequency database.
type WordStatsConfig struct {
	Path            string `yaml:"path" mapstructure:"path"`
	CommonThreshold int64  `yaml:"common_threshold" mapstructure:"common_threshold"`
}

// ResourcesConfig points at the reference files the bias estimator needs.
// Every path listed here is required; a missing file is fatal.
type ResourcesConfig struct {
	Dir         string   `yaml:"dir" mapstructure:"dir"`
	Stopwords   []string `yaml:"stopwords" mapstructure:"stopwords"`
	AdminCodes  string   `yaml:"admin_codes" mapstructure:"admin_codes"`
	MajorCities string   `yaml:"major_cities" mapstructure:"major_cities"`
	BiasTuning  string   `yaml:"bias_tuning" mapstructure:"bias_tuning"`
}

// DedupConfig configures the finalize/dedup phase.
type DedupConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
	BatchSize   int `yaml:"batch_size" mapstructure:"batch_size"`
}

// IndexConfig configures publishing to the search index.
type IndexConfig struct {
	URL                 string  `yaml:"url" mapstructure:"url"`
	AddRate             int     `yaml:"add_rate" mapstructure:"add_rate"`
	CommitRate          int     `yaml:"commit_rate" mapstructure:"commit_rate"`
	TimeoutSecs         int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerSecond   float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	MaxAttempts         int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs    int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs        int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	BreakerThreshold    int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs    int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
	InterCountryDelayMs int     `yaml:"inter_country_delay_ms" mapstructure:"inter_country_delay_ms"`
}

// FetchConfig configures source file downloads.
type FetchConfig struct {
	Dir         string `yaml:"dir" mapstructure:"dir"`
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// ServerConfig configures the lookup API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GAZETTEER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "./tmp/master_gazetteer.sqlite")
	v.SetDefault("store.commit_rate", 1000)
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("wordstats.path", "./tmp/wordstats.sqlite")
	v.SetDefault("wordstats.common_threshold", 10_000_000)
	v.SetDefault("resources.dir", "./etc/gazetteer")
	v.SetDefault("resources.stopwords", []string{
		"filters/non-placenames.csv",
		"filters/non-placenames,spa.csv",
		"filters/non-placenames,rus,ukr.csv",
		"filters/non-placenames,deu.csv",
		"filters/non-placenames,acronym.csv",
	})
	v.SetDefault("resources.admin_codes", "filters/non-placenames,admin-codes.csv")
	v.SetDefault("resources.major_cities", "geonames.org/cities15000.txt")
	v.SetDefault("dedup.concurrency", 1)
	v.SetDefault("dedup.batch_size", 1000)
	v.SetDefault("index.url", "http://127.0.0.1:7000/solr/gazetteer")
	v.SetDefault("index.add_rate", 1000)
	v.SetDefault("index.commit_rate", 1_000_000)
	v.SetDefault("index.timeout_secs", 60)
	v.SetDefault("index.requests_per_second", 20)
	v.SetDefault("index.max_attempts", 3)
	v.SetDefault("index.initial_backoff_ms", 500)
	v.SetDefault("index.max_backoff_ms", 30_000)
	v.SetDefault("index.breaker_threshold", 5)
	v.SetDefault("index.breaker_reset_secs", 30)
	v.SetDefault("index.inter_country_delay_ms", 2000)
	v.SetDefault("fetch.dir", "./tmp/sources")
	v.SetDefault("fetch.user_agent", "gazetteer/1.0")
	v.SetDefault("fetch.timeout_secs", 600)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
