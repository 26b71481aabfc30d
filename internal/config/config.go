// Package config provides configuration management for Mneme.
// Settings load from environment variables with the MNEME_ prefix, with an
// optional YAML overlay file whose values take precedence over environment
// variables. Every option has a working default so the system runs with no
// configuration at all.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the memory system.
type Config struct {
	Storage       StorageConfig       `yaml:"storage"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	LLM           LLMConfig           `yaml:"llm"`
	Context       ContextConfig       `yaml:"context"`
	Extraction    ExtractionConfig    `yaml:"extraction"`
	Consolidation ConsolidationConfig `yaml:"consolidation"`
	Retrieval     RetrievalConfig     `yaml:"retrieval"`
	Server        ServerConfig        `yaml:"server"`
	Backup        BackupConfig        `yaml:"backup"`
}

// StorageConfig selects and locates the backing store.
type StorageConfig struct {
	Engine      string `yaml:"engine"`       // "sqlite" or "postgres" (default: sqlite)
	Path        string `yaml:"path"`         // SQLite database file (default: ./data/mneme.db)
	PostgresDSN string `yaml:"postgres_dsn"` // DSN when engine is "postgres"
}

// EmbeddingConfig selects the embedding backend and expected vector width.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`   // "ollama" or "hash" (default: hash)
	Model     string `yaml:"model"`      // model name for the ollama provider
	Dimension int    `yaml:"dimension"`  // expected vector width (default: 384)
	OllamaURL string `yaml:"ollama_url"` // Ollama API URL
	CacheSize int    `yaml:"cache_size"` // LRU entries for encoded texts (default: 2048)
}

// LLMConfig configures the chat adapter used for extraction.
type LLMConfig struct {
	Provider        string  `yaml:"provider"` // "ollama", "openai", "anthropic", "none"
	OllamaURL       string  `yaml:"ollama_url"`
	OllamaModel     string  `yaml:"ollama_model"`
	OpenAIAPIKey    string  `yaml:"openai_api_key"`
	OpenAIModel     string  `yaml:"openai_model"`
	AnthropicAPIKey string  `yaml:"anthropic_api_key"`
	AnthropicModel  string  `yaml:"anthropic_model"`
	RequestsPerSec  float64 `yaml:"requests_per_sec"` // client-side rate limit (default: 2)
}

// ContextConfig governs the token budgeting of assembled context.
type ContextConfig struct {
	DefaultBudgetTokens int              `yaml:"default_budget_tokens"` // default: 8192
	WorkingMemoryTokens int              `yaml:"working_memory_tokens"` // default: 4096
	BudgetAllocation    BudgetAllocation `yaml:"budget_allocation"`
}

// BudgetAllocation holds the per-component percentage splits. The
// fractions (including ResponseReserve) should sum to 1.0.
type BudgetAllocation struct {
	SystemPrompt      float64 `yaml:"system_prompt"`      // default: 0.15
	EntityProfile     float64 `yaml:"entity_profile"`     // default: 0.10
	SessionSummary    float64 `yaml:"session_summary"`    // default: 0.10
	RetrievedMemories float64 `yaml:"retrieved_memories"` // default: 0.15
	RecentMessages    float64 `yaml:"recent_messages"`    // default: 0.35
	FewShotExamples   float64 `yaml:"few_shot_examples"`  // default: 0.05
	ResponseReserve   float64 `yaml:"response_reserve"`   // default: 0.10
}

// ExtractionConfig governs when and what the extractor keeps.
type ExtractionConfig struct {
	BatchSize           int     `yaml:"batch_size"`           // turns per extraction (default: 5)
	MinImportance       float64 `yaml:"min_importance"`       // default: 0.3
	ConfidenceThreshold float64 `yaml:"confidence_threshold"` // default: 0.6
	PatternsEnabled     bool    `yaml:"patterns_enabled"`     // regex hot-path (default: true)
}

// ConsolidationConfig governs session-end evolution.
type ConsolidationConfig struct {
	DecayHalfLifeDays  float64 `yaml:"decay_half_life_days"` // default: 30
	PruningThreshold   float64 `yaml:"pruning_threshold"`    // default: 0.1
	MaxMergeCandidates int     `yaml:"max_merge_candidates"` // default: 500
	MergeThreshold     float64 `yaml:"merge_threshold"`      // cosine cutoff (default: 0.85)
	EnableReflection   bool    `yaml:"enable_reflection"`    // default: false
}

// RetrievalConfig governs hybrid retrieval and score fusion.
type RetrievalConfig struct {
	TopK         int     `yaml:"top_k"`         // default: 5
	VectorWeight float64 `yaml:"vector_weight"` // default: 0.5
	FTSWeight    float64 `yaml:"fts_weight"`    // default: 0.3
	GraphWeight  float64 `yaml:"graph_weight"`  // default: 0.2
	GraphSeeds   int     `yaml:"graph_seeds"`   // recently-accessed seed nodes (default: 3)
}

// ServerConfig contains the façade server settings.
type ServerConfig struct {
	Host          string  `yaml:"host"`            // default: 127.0.0.1
	Port          int     `yaml:"port"`            // default: 7171
	RateLimit     float64 `yaml:"rate_limit"`      // requests/sec per connection (default: 20)
	RateBurst     int     `yaml:"rate_burst"`      // default: 40
	DefaultSystem string  `yaml:"default_system"`  // fallback system prompt
	SystemFile    string  `yaml:"system_file"`     // file overriding DefaultSystem
	AllowDeletes  bool    `yaml:"allow_deletes"`   // expose delete endpoints (default: true)
}

// BackupConfig contains backup tool configuration.
type BackupConfig struct {
	Path            string `yaml:"path"`             // backup directory (default: ./backups)
	Verify          bool   `yaml:"verify"`           // verify after creation (default: true)
	RetentionDaily  int    `yaml:"retention_daily"`  // default: 7
	RetentionWeekly int    `yaml:"retention_weekly"` // default: 4
}

// HalfLifeHours returns the decay half-life in hours.
func (c ConsolidationConfig) HalfLifeHours() float64 {
	return c.DecayHalfLifeDays * 24
}

// LoadConfig loads configuration from environment variables with defaults.
func LoadConfig() (*Config, error) {
	return buildBaseConfig(), nil
}

// LoadConfigFile loads configuration from environment variables and then
// overlays the YAML file at path. YAML values win over environment values.
// A missing file is an error; an empty path behaves like LoadConfig.
func LoadConfigFile(path string) (*Config, error) {
	cfg := buildBaseConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	return cfg, nil
}

// buildBaseConfig constructs a Config from environment variables and defaults.
func buildBaseConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Engine:      getEnv("MNEME_STORAGE_ENGINE", "sqlite"),
			Path:        getEnv("MNEME_STORAGE_PATH", "./data/mneme.db"),
			PostgresDSN: getEnv("MNEME_POSTGRES_DSN", ""),
		},
		Embedding: EmbeddingConfig{
			Provider:  getEnv("MNEME_EMBEDDING_PROVIDER", "hash"),
			Model:     getEnv("MNEME_EMBEDDING_MODEL", "nomic-embed-text"),
			Dimension: getEnvInt("MNEME_EMBEDDING_DIMENSION", 384),
			OllamaURL: getEnv("MNEME_OLLAMA_URL", "http://localhost:11434"),
			CacheSize: getEnvInt("MNEME_EMBEDDING_CACHE_SIZE", 2048),
		},
		LLM: LLMConfig{
			Provider:        getEnv("MNEME_LLM_PROVIDER", "none"),
			OllamaURL:       getEnv("MNEME_OLLAMA_URL", "http://localhost:11434"),
			OllamaModel:     getEnv("MNEME_OLLAMA_MODEL", "qwen2.5:7b"),
			OpenAIAPIKey:    getEnv("MNEME_OPENAI_API_KEY", ""),
			OpenAIModel:     getEnv("MNEME_OPENAI_MODEL", "gpt-4o-mini"),
			AnthropicAPIKey: getEnv("MNEME_ANTHROPIC_API_KEY", ""),
			AnthropicModel:  getEnv("MNEME_ANTHROPIC_MODEL", "claude-3-5-haiku-20241022"),
			RequestsPerSec:  getEnvFloat("MNEME_LLM_REQUESTS_PER_SEC", 2),
		},
		Context: ContextConfig{
			DefaultBudgetTokens: getEnvInt("MNEME_CONTEXT_BUDGET_TOKENS", 8192),
			WorkingMemoryTokens: getEnvInt("MNEME_WORKING_MEMORY_TOKENS", 4096),
			BudgetAllocation: BudgetAllocation{
				SystemPrompt:      getEnvFloat("MNEME_BUDGET_SYSTEM_PROMPT", 0.15),
				EntityProfile:     getEnvFloat("MNEME_BUDGET_ENTITY_PROFILE", 0.10),
				SessionSummary:    getEnvFloat("MNEME_BUDGET_SESSION_SUMMARY", 0.10),
				RetrievedMemories: getEnvFloat("MNEME_BUDGET_RETRIEVED_MEMORIES", 0.15),
				RecentMessages:    getEnvFloat("MNEME_BUDGET_RECENT_MESSAGES", 0.35),
				FewShotExamples:   getEnvFloat("MNEME_BUDGET_FEW_SHOT_EXAMPLES", 0.05),
				ResponseReserve:   getEnvFloat("MNEME_BUDGET_RESPONSE_RESERVE", 0.10),
			},
		},
		Extraction: ExtractionConfig{
			BatchSize:           getEnvInt("MNEME_EXTRACTION_BATCH_SIZE", 5),
			MinImportance:       getEnvFloat("MNEME_EXTRACTION_MIN_IMPORTANCE", 0.3),
			ConfidenceThreshold: getEnvFloat("MNEME_EXTRACTION_CONFIDENCE_THRESHOLD", 0.6),
			PatternsEnabled:     getEnvBool("MNEME_EXTRACTION_PATTERNS_ENABLED", true),
		},
		Consolidation: ConsolidationConfig{
			DecayHalfLifeDays:  getEnvFloat("MNEME_DECAY_HALF_LIFE_DAYS", 30),
			PruningThreshold:   getEnvFloat("MNEME_PRUNING_THRESHOLD", 0.1),
			MaxMergeCandidates: getEnvInt("MNEME_MAX_MERGE_CANDIDATES", 500),
			MergeThreshold:     getEnvFloat("MNEME_MERGE_THRESHOLD", 0.85),
			EnableReflection:   getEnvBool("MNEME_ENABLE_REFLECTION", false),
		},
		Retrieval: RetrievalConfig{
			TopK:         getEnvInt("MNEME_RETRIEVAL_TOP_K", 5),
			VectorWeight: getEnvFloat("MNEME_RETRIEVAL_VECTOR_WEIGHT", 0.5),
			FTSWeight:    getEnvFloat("MNEME_RETRIEVAL_FTS_WEIGHT", 0.3),
			GraphWeight:  getEnvFloat("MNEME_RETRIEVAL_GRAPH_WEIGHT", 0.2),
			GraphSeeds:   getEnvInt("MNEME_RETRIEVAL_GRAPH_SEEDS", 3),
		},
		Server: ServerConfig{
			Host:          getEnv("MNEME_HOST", "127.0.0.1"),
			Port:          getEnvInt("MNEME_PORT", 7171),
			RateLimit:     getEnvFloat("MNEME_RATE_LIMIT", 20),
			RateBurst:     getEnvInt("MNEME_RATE_BURST", 40),
			DefaultSystem: getEnv("MNEME_DEFAULT_SYSTEM", "You are a helpful assistant."),
			SystemFile:    getEnv("MNEME_SYSTEM_FILE", ""),
			AllowDeletes:  getEnvBool("MNEME_ALLOW_DELETES", true),
		},
		Backup: BackupConfig{
			Path:            getEnv("MNEME_BACKUP_PATH", "./backups"),
			Verify:          getEnvBool("MNEME_BACKUP_VERIFY", true),
			RetentionDaily:  getEnvInt("MNEME_BACKUP_RETENTION_DAILY", 7),
			RetentionWeekly: getEnvInt("MNEME_BACKUP_RETENTION_WEEKLY", 4),
		},
	}
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}
