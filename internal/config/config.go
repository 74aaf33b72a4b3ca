// Package config loads HiveMind's process-wide configuration from a YAML
// file with environment-variable overrides: a single typed Config struct
// parsed once at startup.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	HTTPPort    string `yaml:"http_port"`
	MetricsPort string `yaml:"metrics_port"`
}

type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type EmbeddingConfig struct {
	Model      string `yaml:"model"`
	Revision   string `yaml:"revision"`
	Dimensions int    `yaml:"dimensions"`
}

type LLMConfig struct {
	Provider string        `yaml:"provider"`
	APIKey   string        `yaml:"api_key"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
}

type BurstConfig struct {
	WindowSeconds int `yaml:"window_seconds"`
	Threshold     int `yaml:"threshold"`
}

// TierQuota is the per-minute request budget for one ApiKey tier.
type TierQuota struct {
	ContributePerMinute int `yaml:"contribute_per_minute"`
	SearchPerMinute     int `yaml:"search_per_minute"`
}

type InjectionConfig struct {
	Threshold     float64 `yaml:"threshold"`
	CharBudget    int     `yaml:"char_budget"`
}

type QualityConfig struct {
	WeightUsefulness    float64 `yaml:"weight_usefulness"`
	WeightPopularity    float64 `yaml:"weight_popularity"`
	WeightFreshness     float64 `yaml:"weight_freshness"`
	WeightContradiction float64 `yaml:"weight_contradiction"`
	VersionBonus        float64 `yaml:"version_bonus"`
	HalfLifeDays        float64 `yaml:"half_life_days"`
	AggregationInterval time.Duration `yaml:"aggregation_interval"`
}

type DistillationConfig struct {
	Interval           time.Duration `yaml:"interval"`
	PendingThreshold   int           `yaml:"pending_threshold"`
	ContradictionThreshold int       `yaml:"contradiction_threshold"`
	ClusterDistance    float64       `yaml:"cluster_distance"`
	MinClusterSize     int           `yaml:"min_cluster_size"`
	PrescreenThreshold float64       `yaml:"prescreen_threshold"`
}

type MinhashConfig struct {
	Permutations int     `yaml:"permutations"`
	Bands        int     `yaml:"bands"`
	Threshold    float64 `yaml:"threshold"`
}

type DedupConfig struct {
	TopK                  int     `yaml:"top_k"`
	CosineDistanceMax     float64 `yaml:"cosine_distance_max"`
	MaxLLMCandidates      int     `yaml:"max_llm_candidates"`
	LLMTimeout            time.Duration `yaml:"llm_timeout"`
}

type AuthConfig struct {
	SecretKey string `yaml:"secret_key"`
}

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Auth         AuthConfig         `yaml:"auth"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	LLM          LLMConfig          `yaml:"llm"`
	Burst        BurstConfig        `yaml:"burst"`
	Injection    InjectionConfig    `yaml:"injection"`
	Quality      QualityConfig      `yaml:"quality"`
	Distillation DistillationConfig `yaml:"distillation"`
	Minhash      MinhashConfig      `yaml:"minhash"`
	Dedup        DedupConfig        `yaml:"dedup"`
	Tiers        map[string]TierQuota `yaml:"tiers"`
}

// Default returns the configuration baseline: burst 50/60s, injection
// threshold 0.5, tier quotas, and a 90-day quality half-life.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{HTTPPort: "8080", MetricsPort: "9090"},
		Database: DatabaseConfig{MaxOpenConns: 20, MaxIdleConns: 5, ConnMaxLifetime: 30 * time.Minute},
		Redis:    RedisConfig{URL: "redis://localhost:6379/0"},
		Embedding: EmbeddingConfig{Model: "hivemind-hash-embedder", Revision: "v1", Dimensions: 384},
		LLM:      LLMConfig{Provider: "anthropic", Timeout: 10 * time.Second},
		Burst:    BurstConfig{WindowSeconds: 60, Threshold: 50},
		Injection: InjectionConfig{Threshold: 0.5, CharBudget: 4000},
		Quality: QualityConfig{
			WeightUsefulness: 0.40, WeightPopularity: 0.25, WeightFreshness: 0.20,
			WeightContradiction: 0.15, VersionBonus: 0.1, HalfLifeDays: 90,
			AggregationInterval: 10 * time.Minute,
		},
		Distillation: DistillationConfig{
			Interval: 30 * time.Minute, PendingThreshold: 25, ContradictionThreshold: 5,
			ClusterDistance: 0.3, MinClusterSize: 3, PrescreenThreshold: 0.2,
		},
		Minhash: MinhashConfig{Permutations: 128, Bands: 16, Threshold: 0.95},
		Dedup:   DedupConfig{TopK: 10, CosineDistanceMax: 0.35, MaxLLMCandidates: 3, LLMTimeout: 10 * time.Second},
		Tiers: map[string]TierQuota{
			"free":       {ContributePerMinute: 10, SearchPerMinute: 30},
			"pro":        {ContributePerMinute: 60, SearchPerMinute: 200},
			"enterprise": {ContributePerMinute: 300, SearchPerMinute: 1000},
		},
	}
}

// Load reads a YAML config file over the defaults, then applies
// environment variable overrides for the secrets and endpoints that must
// be settable without editing a checked-in file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("BURST_THRESHOLD"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Burst.Threshold)
	}
	if v := os.Getenv("BURST_WINDOW_SECONDS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Burst.WindowSeconds)
	}
	if v := os.Getenv("INJECTION_THRESHOLD"); v != "" {
		fmt.Sscanf(v, "%f", &cfg.Injection.Threshold)
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("SECRET_KEY"); v != "" {
		cfg.Auth.SecretKey = v
	}
}
