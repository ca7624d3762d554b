package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/sales-warehouse/internal/pipeline"
	"github.com/sells-group/sales-warehouse/internal/source"
	"github.com/sells-group/sales-warehouse/internal/warehouse"
)

// Config holds the full application configuration.
type Config struct {
	Warehouse   warehouse.Options `yaml:"warehouse" mapstructure:"warehouse"`
	Source      SourceConfig      `yaml:"source" mapstructure:"source"`
	Pipeline    PipelineConfig    `yaml:"pipeline" mapstructure:"pipeline"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics" mapstructure:"diagnostics"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// SourceConfig selects where raw files are read from.
type SourceConfig struct {
	source.Options          `yaml:",inline" mapstructure:",squash"`
	OnProvenanceUnavailable string `yaml:"on_provenance_unavailable" mapstructure:"on_provenance_unavailable"`
}

// PipelineConfig sizes the merge phases.
type PipelineConfig struct {
	StagingBatchSize int `yaml:"staging_batch_size" mapstructure:"staging_batch_size"`
	ChunkSize        int `yaml:"chunk_size" mapstructure:"chunk_size"`
	LoadBatchSize    int `yaml:"load_batch_size" mapstructure:"load_batch_size"`
	ResolveWorkers   int `yaml:"resolve_workers" mapstructure:"resolve_workers"`
	RetryAttempts    int `yaml:"retry_attempts" mapstructure:"retry_attempts"`
}

// DiagnosticsConfig configures where quarantined chunks are written.
type DiagnosticsConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// PipelineOptions converts the configuration into pipeline settings.
func (c *Config) PipelineOptions() pipeline.Config {
	return pipeline.Config{
		StagingBatchSize: c.Pipeline.StagingBatchSize,
		ChunkSize:        c.Pipeline.ChunkSize,
		LoadBatchSize:    c.Pipeline.LoadBatchSize,
		ResolveWorkers:   c.Pipeline.ResolveWorkers,
		RetryAttempts:    c.Pipeline.RetryAttempts,
		ProvenancePolicy: c.Source.OnProvenanceUnavailable,
	}
}

// Validate checks the settings a command needs. mode is "migrate",
// "status" or "run"; "run" also checks the source and pipeline sizes.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Warehouse.Driver {
	case warehouse.DriverPostgres:
		if c.Warehouse.DatabaseURL == "" {
			problems = append(problems, "warehouse.database_url is required for postgres")
		}
	case warehouse.DriverSQLite:
		if c.Warehouse.SQLitePath == "" {
			problems = append(problems, "warehouse.sqlite_path is required for sqlite")
		}
	default:
		problems = append(problems, fmt.Sprintf("warehouse.driver %q is not one of postgres, sqlite", c.Warehouse.Driver))
	}

	switch mode {
	case "migrate", "status":
	case "run":
		problems = append(problems, c.validateRun()...)
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) validateRun() []string {
	var problems []string

	switch c.Source.Kind {
	case source.KindDir:
		if c.Source.Dir == "" {
			problems = append(problems, "source.dir is required for dir sources")
		}
	case source.KindS3:
		if c.Source.Bucket == "" {
			problems = append(problems, "source.bucket is required for s3 sources")
		}
	case source.KindFTP:
		if c.Source.FTPAddr == "" {
			problems = append(problems, "source.ftp_addr is required for ftp sources")
		}
	default:
		problems = append(problems, fmt.Sprintf("source.kind %q is not one of dir, s3, ftp", c.Source.Kind))
	}

	switch c.Source.OnProvenanceUnavailable {
	case pipeline.PolicyFail, pipeline.PolicyAssumeUnprocessed:
	default:
		problems = append(problems, fmt.Sprintf("source.on_provenance_unavailable %q is not one of fail, assume_unprocessed",
			c.Source.OnProvenanceUnavailable))
	}

	sizes := []struct {
		key string
		val int
	}{
		{"pipeline.staging_batch_size", c.Pipeline.StagingBatchSize},
		{"pipeline.chunk_size", c.Pipeline.ChunkSize},
		{"pipeline.load_batch_size", c.Pipeline.LoadBatchSize},
		{"pipeline.resolve_workers", c.Pipeline.ResolveWorkers},
		{"pipeline.retry_attempts", c.Pipeline.RetryAttempts},
	}
	for _, s := range sizes {
		if s.val <= 0 {
			problems = append(problems, fmt.Sprintf("%s must be positive, got %d", s.key, s.val))
		}
	}
	return problems
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SALESWH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Empty defaults register keys so environment overrides reach Unmarshal.
	v.SetDefault("warehouse.driver", warehouse.DriverPostgres)
	v.SetDefault("warehouse.database_url", "")
	v.SetDefault("warehouse.sqlite_path", "sales_warehouse.db")
	v.SetDefault("warehouse.max_conns", 10)
	v.SetDefault("warehouse.min_conns", 2)
	v.SetDefault("source.kind", source.KindDir)
	v.SetDefault("source.dir", "input")
	v.SetDefault("source.bucket", "")
	v.SetDefault("source.prefix", "")
	v.SetDefault("source.region", "")
	v.SetDefault("source.endpoint", "")
	v.SetDefault("source.use_path_style", false)
	v.SetDefault("source.access_key_id", "")
	v.SetDefault("source.secret_access_key", "")
	v.SetDefault("source.ftp_addr", "")
	v.SetDefault("source.ftp_user", "")
	v.SetDefault("source.ftp_password", "")
	v.SetDefault("source.ftp_dir", "/")
	v.SetDefault("source.on_provenance_unavailable", pipeline.PolicyFail)
	v.SetDefault("pipeline.staging_batch_size", 10000)
	v.SetDefault("pipeline.chunk_size", 1000)
	v.SetDefault("pipeline.load_batch_size", 10000)
	v.SetDefault("pipeline.resolve_workers", 1)
	v.SetDefault("pipeline.retry_attempts", 3)
	v.SetDefault("diagnostics.dir", "quarantine")
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
