package config

import (
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

const (
	configPathEnv       = "ARXIV_DIGEST_CONFIG"
	dataDirEnv          = "ARXIV_DIGEST_DATA_DIR"
	openAIAPIKeyEnv     = "OPENAI_API_KEY"
	openAIModelEnv      = "MODEL_NAME"
	promptLanguageEnv   = "LANGUAGE"
	promptInterestEnv   = "INTEREST"
	completionWindowEnv = "COMPLETION_WINDOW"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Storage StorageConfig `yaml:"storage"`
	OpenAI  OpenAIConfig  `yaml:"openai"`
	Prompt  PromptConfig  `yaml:"prompt"`
	Dedup   DedupConfig   `yaml:"dedup"`
	Poll    PollConfig    `yaml:"poll"`
	Ledger  LedgerConfig  `yaml:"ledger"`
}

// LoggingConfig controls the slog handler level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// StorageConfig locates the per-day record, marker, and handle files.
type StorageConfig struct {
	DataDir string `yaml:"dataDir"`
}

// OpenAIConfig defines how to contact the batch completion API.
type OpenAIConfig struct {
	Endpoint         string `yaml:"endpoint"`
	Model            string `yaml:"model"`
	APIKey           string `yaml:"apiKey"`
	CompletionWindow string `yaml:"completionWindow"`
}

// PromptConfig parameterizes the enrichment prompt sent per record.
type PromptConfig struct {
	Language string `yaml:"language"`
	Interest string `yaml:"interest"`
}

// DedupConfig bounds the historical-id window compared against a new day.
type DedupConfig struct {
	HistoryDays int `yaml:"historyDays"`
}

// PollConfig bounds the wait-until-terminal mode of the reconciler.
// Durations are Go duration strings ("30s", "5m").
type PollConfig struct {
	Interval string `yaml:"interval"`
	MaxWait  string `yaml:"maxWait"`
}

// IntervalDuration parses the poll interval, defaulting to one minute.
func (p PollConfig) IntervalDuration() time.Duration {
	d, err := time.ParseDuration(p.Interval)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

// MaxWaitDuration parses the wait budget, defaulting to one hour.
func (p PollConfig) MaxWaitDuration() time.Duration {
	d, err := time.ParseDuration(p.MaxWait)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// LedgerConfig locates the sqlite run ledger. An empty path disables it.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(dataDirEnv); v != "" {
		c.Storage.DataDir = v
	}

	if v := os.Getenv(openAIAPIKeyEnv); v != "" {
		c.OpenAI.APIKey = v
	}

	if v := os.Getenv(openAIModelEnv); v != "" {
		c.OpenAI.Model = v
	}

	if v := os.Getenv(completionWindowEnv); v != "" {
		c.OpenAI.CompletionWindow = v
	}

	if v := os.Getenv(promptLanguageEnv); v != "" {
		c.Prompt.Language = v
	}

	if v := os.Getenv(promptInterestEnv); v != "" {
		c.Prompt.Interest = v
	}
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}

	if override.Storage.DataDir != "" {
		base.Storage.DataDir = override.Storage.DataDir
	}

	if override.OpenAI.Endpoint != "" {
		base.OpenAI.Endpoint = override.OpenAI.Endpoint
	}
	if override.OpenAI.Model != "" {
		base.OpenAI.Model = override.OpenAI.Model
	}
	if override.OpenAI.APIKey != "" {
		base.OpenAI.APIKey = override.OpenAI.APIKey
	}
	if override.OpenAI.CompletionWindow != "" {
		base.OpenAI.CompletionWindow = override.OpenAI.CompletionWindow
	}

	if override.Prompt.Language != "" {
		base.Prompt.Language = override.Prompt.Language
	}
	if override.Prompt.Interest != "" {
		base.Prompt.Interest = override.Prompt.Interest
	}

	if override.Dedup.HistoryDays > 0 {
		base.Dedup.HistoryDays = override.Dedup.HistoryDays
	}

	if override.Poll.Interval != "" {
		base.Poll.Interval = override.Poll.Interval
	}
	if override.Poll.MaxWait != "" {
		base.Poll.MaxWait = override.Poll.MaxWait
	}

	if override.Ledger.Path != "" {
		base.Ledger.Path = override.Ledger.Path
	}

	return base
}

func defaultConfig() Config {
	dataDir := filepath.Join(xdg.DataHome, "arxivdigest")
	return Config{
		Logging: LoggingConfig{Level: "info"},
		Storage: StorageConfig{DataDir: dataDir},
		OpenAI: OpenAIConfig{
			Endpoint:         "https://api.openai.com/v1",
			Model:            "gpt-4o-mini",
			APIKey:           "",
			CompletionWindow: "24h",
		},
		Prompt: PromptConfig{Language: "English", Interest: ""},
		Dedup:  DedupConfig{HistoryDays: 7},
		Poll:   PollConfig{Interval: "1m", MaxWait: "1h"},
		Ledger: LedgerConfig{Path: filepath.Join(dataDir, "ledger.db")},
	}
}
