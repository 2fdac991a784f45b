package config

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultRegistryQuery joins establishments with their company rows.
const DefaultRegistryQuery = `SELECT est.cnpj_basico, est.cnpj_ordem, est.cnpj_dv,
	emp.razao_social, emp.porte_empresa, emp.capital_social, emp.natureza_juridica,
	est.nome_fantasia, est.situacao_cadastral, est.cnae_fiscal_principal, est.uf, est.municipio
FROM estabelecimentos est
LEFT JOIN empresas emp ON emp.cnpj_basico = est.cnpj_basico`

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Registry RegistryConfig `yaml:"registry" mapstructure:"registry"`
	Trade    TradeConfig    `yaml:"trade" mapstructure:"trade"`
	Enrich   EnrichConfig   `yaml:"enrich" mapstructure:"enrich"`
	Import   ImportConfig   `yaml:"import" mapstructure:"import"`
	Classify ClassifyConfig `yaml:"classify" mapstructure:"classify"`
	Metrics  MetricsConfig  `yaml:"metrics" mapstructure:"metrics"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// RegistryConfig configures the company registry query.
type RegistryConfig struct {
	Query          string `yaml:"query" mapstructure:"query"`
	QueryFile      string `yaml:"query_file" mapstructure:"query_file"`
	OrderBy        string `yaml:"order_by" mapstructure:"order_by"`
	FallbackTotal  int64  `yaml:"fallback_total" mapstructure:"fallback_total"`
	ReadRetries    int    `yaml:"read_retries" mapstructure:"read_retries"`
	RetryBackoffMs int    `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
}

// TradeConfig configures the trade relation.
type TradeConfig struct {
	Relation  string `yaml:"relation" mapstructure:"relation"`
	OriginTag string `yaml:"origin_tag" mapstructure:"origin_tag"`
}

// EnrichConfig configures windowing, batching and the destination.
type EnrichConfig struct {
	ChunkSize    int64  `yaml:"chunk_size" mapstructure:"chunk_size"`
	BatchSize    int    `yaml:"batch_size" mapstructure:"batch_size"`
	Workers      int    `yaml:"workers" mapstructure:"workers"`
	Destination  string `yaml:"destination" mapstructure:"destination"`
	StartOffset  int64  `yaml:"start_offset" mapstructure:"start_offset"`
	Consolidated string `yaml:"consolidated" mapstructure:"consolidated"`
}

// ImportConfig configures file imports.
type ImportConfig struct {
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size"`
}

// ClassifyConfig points at the precomputed importer model.
type ClassifyConfig struct {
	Artifact string `yaml:"artifact" mapstructure:"artifact"`
}

// MetricsConfig configures the Prometheus endpoint. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
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
	v.SetEnvPrefix("COMEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "cnpj.db")
	v.SetDefault("registry.query", DefaultRegistryQuery)
	v.SetDefault("registry.query_file", "")
	v.SetDefault("registry.order_by", "cnpj_basico, cnpj_ordem, cnpj_dv")
	v.SetDefault("registry.fallback_total", 1_000_000)
	v.SetDefault("registry.read_retries", 3)
	v.SetDefault("registry.retry_backoff_ms", 500)
	v.SetDefault("trade.relation", "comex_importacao")
	v.SetDefault("trade.origin_tag", "siscomex-mdic-public")
	v.SetDefault("enrich.chunk_size", 25_000)
	v.SetDefault("enrich.batch_size", 5)
	v.SetDefault("enrich.workers", 1)
	v.SetDefault("enrich.destination", "possiveis_importadores_enriquecido")
	v.SetDefault("enrich.start_offset", 0)
	v.SetDefault("enrich.consolidated", "possiveis_importadores_consolidado")
	v.SetDefault("import.batch_size", 100_000)
	v.SetDefault("classify.artifact", "")
	v.SetDefault("metrics.addr", "")
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

// RegistrySQL returns the registry query, read from QueryFile when set.
func (c *RegistryConfig) RegistrySQL() (string, error) {
	if c.QueryFile == "" {
		return c.Query, nil
	}
	data, err := os.ReadFile(c.QueryFile)
	if err != nil {
		return "", eris.Wrapf(err, "config: read registry query file %s", c.QueryFile)
	}
	return string(data), nil
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
