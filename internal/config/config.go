// Package config loads the engine's configuration from a YAML file
// with environment-variable overrides, covering every option §6
// enumerates. A defaults struct is populated first, with MEMORY_*-prefixed
// environment variables replacing individual defaults; the YAML file, if
// present, is then applied over that, and the result validated.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// EmbedderPort is where memoryd's own searchd listener serves the
	// §6 embedder-service protocol (search/quickSearch/ping/stats/
	// shutdown) for other local processes. EmbedderBackendPort is where
	// the raw embed-only backend memoryd dials out to actually lives —
	// split from EmbedderPort because the gateway contract and the
	// richer service protocol would otherwise collide on the same
	// default port for two different roles.
	EmbedderPort        int    `yaml:"embedderPort"`
	EmbedderBackendPort int    `yaml:"embedderBackendPort"`
	LLMPort             int    `yaml:"llmPort"`
	DataDir             string `yaml:"dataDir"`
	LogDir              string `yaml:"logDir"`
	ScratchDir          string `yaml:"scratchDir"`

	EmbeddingModel     string `yaml:"embeddingModel"`
	EmbeddingDimension int    `yaml:"embeddingDimension"`

	Search  SearchConfig  `yaml:"search"`
	Cluster ClusterConfig `yaml:"cluster"`

	Timeouts TimeoutConfig `yaml:"timeouts"`

	LLMServiceEndpoint   string `yaml:"llmServiceEndpoint"`
	LLMServiceKey        string `yaml:"llmServiceKey"`
	LLMServiceDeployment string `yaml:"llmServiceDeployment"`
	LLMServiceAPIVersion string `yaml:"llmServiceApiVersion"`

	LogLevel string `yaml:"logLevel"`
}

type SearchConfig struct {
	MaxResults    int     `yaml:"maxResults"`
	MinSimilarity float64 `yaml:"minSimilarity"`
}

type ClusterConfig struct {
	SimilarityThreshold float64 `yaml:"similarityThreshold"`
	MaturityCount       int     `yaml:"maturityCount"`
	MaturityConfidence  float64 `yaml:"maturityConfidence"`
}

type TimeoutConfig struct {
	EmbedderClient   time.Duration `yaml:"embedderClient"`
	EmbedderSearch   time.Duration `yaml:"embedderSearch"`
	LLMDefault       time.Duration `yaml:"llmDefault"`
	LLMTranscript    time.Duration `yaml:"llmTranscript"`
	LLMStructurize   time.Duration `yaml:"llmStructurize"`
	LLMMerge         time.Duration `yaml:"llmMerge"`
	HookPreTool      time.Duration `yaml:"hookPreTool"`
	HookPostTool     time.Duration `yaml:"hookPostTool"`
	HookUserPrompt   time.Duration `yaml:"hookUserPrompt"`
}

func defaults() *Config {
	return &Config{
		EmbedderPort:        envInt("MEMORY_EMBEDDER_PORT", 23811),
		EmbedderBackendPort: envInt("MEMORY_EMBEDDER_BACKEND_PORT", 23911),
		LLMPort:             envInt("MEMORY_LLM_PORT", 23812),
		DataDir:            envStr("MEMORY_DATA_DIR", "/data"),
		LogDir:             envStr("MEMORY_LOG_DIR", "/var/log/memoryd"),
		ScratchDir:         envStr("MEMORY_SCRATCH_DIR", "/tmp/memoryd"),
		EmbeddingModel:     envStr("MEMORY_EMBEDDING_MODEL", "nomic-embed-text"),
		EmbeddingDimension: envInt("MEMORY_EMBEDDING_DIM", 1024),
		Search: SearchConfig{
			MaxResults:    envInt("MEMORY_SEARCH_MAX_RESULTS", 3),
			MinSimilarity: envFloat("MEMORY_SEARCH_MIN_SIMILARITY", 0.6),
		},
		Cluster: ClusterConfig{
			SimilarityThreshold: envFloat("MEMORY_CLUSTER_SIM_THRESHOLD", 0.70),
			MaturityCount:       envInt("MEMORY_CLUSTER_MATURITY_COUNT", 5),
			MaturityConfidence:  envFloat("MEMORY_CLUSTER_MATURITY_CONFIDENCE", 0.65),
		},
		Timeouts: TimeoutConfig{
			EmbedderClient: 800 * time.Millisecond,
			EmbedderSearch: 1000 * time.Millisecond,
			LLMDefault:     5 * time.Second,
			LLMTranscript:  30 * time.Second,
			LLMStructurize: 15 * time.Second,
			LLMMerge:       20 * time.Second,
			HookPreTool:    300 * time.Millisecond,
			HookPostTool:   300 * time.Millisecond,
			HookUserPrompt: 1500 * time.Millisecond,
		},
		LLMServiceEndpoint:   envStr("MEMORY_LLM_ENDPOINT", "127.0.0.1:23812"),
		LLMServiceKey:        envStr("MEMORY_LLM_KEY", ""),
		LLMServiceDeployment: envStr("MEMORY_LLM_DEPLOYMENT", ""),
		LLMServiceAPIVersion: envStr("MEMORY_LLM_API_VERSION", ""),
		LogLevel:             envStr("MEMORY_LOG_LEVEL", "info"),
	}
}

// Load reads the YAML file at path if it exists, layering it over
// environment-derived defaults, then validates the result.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.EmbeddingDimension != 1024 {
		return fmt.Errorf("embeddingDimension must be 1024 for memory.db compatibility, got %d", c.EmbeddingDimension)
	}
	if c.DataDir == "" {
		return fmt.Errorf("dataDir must not be empty")
	}
	if c.EmbedderPort < 1 || c.EmbedderPort > 65535 {
		return fmt.Errorf("embedderPort must be between 1 and 65535, got %d", c.EmbedderPort)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
