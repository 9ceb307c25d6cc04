package framework

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config captures every knob shared by the CLI and the HTTP server. It is
// loaded from YAML, then overridden by environment variables, then by flags.
type Config struct {
	Expert   string         `yaml:"expert"`
	Server   ServerConfig   `yaml:"server"`
	LLM      LLMConfig      `yaml:"llm"`
	Search   SearchConfig   `yaml:"search"`
	Memory   MemoryConfig   `yaml:"memory"`
	Research ResearchConfig `yaml:"research"`
	RAG      RAGConfig      `yaml:"rag"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// LLMConfig selects the model backend. QueryModel, when set, is used for
// query generation and reflection while Model writes the final answer.
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	QueryModel  string  `yaml:"query_model"`
	Endpoint    string  `yaml:"endpoint"`
	APIKey      string  `yaml:"api_key"`
	Temperature float64 `yaml:"temperature"`
	Debug       bool    `yaml:"debug"`
}

type SearchConfig struct {
	Provider    string `yaml:"provider"`
	APIKey      string `yaml:"api_key"`
	Depth       string `yaml:"depth"`
	MaxResults  int    `yaml:"max_results"`
	Concurrency int    `yaml:"concurrency"`
}

type MemoryConfig struct {
	Backend         string `yaml:"backend"`
	Path            string `yaml:"path"`
	MongoURI        string `yaml:"mongo_uri"`
	MongoDatabase   string `yaml:"mongo_database"`
	MongoCollection string `yaml:"mongo_collection"`
	WindowSize      int    `yaml:"window_size"`
}

// ResearchConfig holds the deep-research loop ceilings.
type ResearchConfig struct {
	InitialQueries          int  `yaml:"initial_queries"`
	MaxLoops                int  `yaml:"max_loops"`
	RecursionLimit          int  `yaml:"recursion_limit"`
	BroadenOnEmptyFollowUps bool `yaml:"broaden_on_empty_follow_ups"`
}

type RAGConfig struct {
	DocumentsPath string `yaml:"documents_path"`
	TopK          int    `yaml:"top_k"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	TelemetryPath string `yaml:"telemetry_path"`
}

// Supported backend names.
const (
	ProviderOllama     = "ollama"
	ProviderGemini     = "gemini"
	ProviderTavily     = "tavily"
	ProviderDuckDuckGo = "duckduckgo"

	MemoryInMemory = "inmemory"
	MemoryFile     = "file"
	MemorySQLite   = "sqlite"
	MemoryMongo    = "mongodb"
)

// DefaultConfig returns a configuration that runs locally against Ollama and
// DuckDuckGo with in-process memory.
func DefaultConfig() Config {
	return Config{
		Expert: "DEEPRESEARCH",
		Server: ServerConfig{
			Addr:           ":8080",
			RequestTimeout: 5 * time.Minute,
		},
		LLM: LLMConfig{
			Provider:    ProviderOllama,
			Model:       "qwen2.5:7b",
			Endpoint:    "http://localhost:11434",
			Temperature: 0.2,
		},
		Search: SearchConfig{
			Provider:    ProviderDuckDuckGo,
			Depth:       "basic",
			MaxResults:  5,
			Concurrency: 4,
		},
		Memory: MemoryConfig{
			Backend:         MemoryInMemory,
			Path:            ".researchbot/memory",
			MongoDatabase:   "researchbot",
			MongoCollection: "messages",
			WindowSize:      5,
		},
		Research: ResearchConfig{
			InitialQueries: 3,
			MaxLoops:       2,
			RecursionLimit: 25,
		},
		RAG: RAGConfig{TopK: 3},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig. A missing file is not
// an error; the defaults are returned unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// SaveConfig writes cfg as YAML.
func SaveConfig(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ApplyEnv overrides fields from environment variables. lookup is usually
// os.LookupEnv; tests pass a map-backed function.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}

	str("RESEARCHBOT_EXPERT", &c.Expert)
	str("RESEARCHBOT_ADDR", &c.Server.Addr)
	str("RESEARCHBOT_LLM_PROVIDER", &c.LLM.Provider)
	str("RESEARCHBOT_LLM_MODEL", &c.LLM.Model)
	str("RESEARCHBOT_QUERY_MODEL", &c.LLM.QueryModel)
	str("OLLAMA_ENDPOINT", &c.LLM.Endpoint)
	str("GEMINI_API_KEY", &c.LLM.APIKey)
	str("RESEARCHBOT_SEARCH_PROVIDER", &c.Search.Provider)
	str("TAVILY_API_KEY", &c.Search.APIKey)
	str("RESEARCHBOT_MEMORY_BACKEND", &c.Memory.Backend)
	str("RESEARCHBOT_MEMORY_PATH", &c.Memory.Path)
	str("MONGO_URI", &c.Memory.MongoURI)
	str("RESEARCHBOT_DOCUMENTS_PATH", &c.RAG.DocumentsPath)
	str("RESEARCHBOT_LOG_LEVEL", &c.Logging.Level)
	num("NUMBER_OF_INITIAL_QUERIES", &c.Research.InitialQueries)
	num("MAX_RESEARCH_LOOPS", &c.Research.MaxLoops)
	num("GRAPH_RECURSION_LIMIT", &c.Research.RecursionLimit)
	num("MEMORY_WINDOW_SIZE", &c.Memory.WindowSize)
	return errors.Join(errs...)
}

// Normalize fills missing defaults and rejects unknown backends so the wiring
// code never has to re-check the same invariants.
func (c *Config) Normalize() error {
	def := DefaultConfig()
	if c.Server.Addr == "" {
		c.Server.Addr = def.Server.Addr
	}
	if c.Server.RequestTimeout <= 0 {
		c.Server.RequestTimeout = def.Server.RequestTimeout
	}
	c.Expert = strings.ToUpper(strings.TrimSpace(c.Expert))
	if c.Expert == "" {
		c.Expert = def.Expert
	}

	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	switch c.LLM.Provider {
	case "":
		c.LLM.Provider = def.LLM.Provider
	case ProviderOllama, ProviderGemini:
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	if c.LLM.Provider == ProviderGemini && c.LLM.APIKey == "" {
		return errors.New("gemini provider requires an api key (GEMINI_API_KEY)")
	}
	if c.LLM.Model == "" {
		c.LLM.Model = def.LLM.Model
	}
	if c.LLM.Endpoint == "" {
		c.LLM.Endpoint = def.LLM.Endpoint
	}

	c.Search.Provider = strings.ToLower(strings.TrimSpace(c.Search.Provider))
	switch c.Search.Provider {
	case "":
		c.Search.Provider = def.Search.Provider
	case ProviderTavily, ProviderDuckDuckGo:
	default:
		return fmt.Errorf("unknown search provider %q", c.Search.Provider)
	}
	if c.Search.Provider == ProviderTavily && c.Search.APIKey == "" {
		return errors.New("tavily provider requires an api key (TAVILY_API_KEY)")
	}
	if c.Search.MaxResults <= 0 {
		c.Search.MaxResults = def.Search.MaxResults
	}
	if c.Search.Concurrency <= 0 {
		c.Search.Concurrency = def.Search.Concurrency
	}

	c.Memory.Backend = strings.ToLower(strings.TrimSpace(c.Memory.Backend))
	switch c.Memory.Backend {
	case "":
		c.Memory.Backend = def.Memory.Backend
	case MemoryInMemory, MemoryFile, MemorySQLite:
	case MemoryMongo:
		if c.Memory.MongoURI == "" {
			return errors.New("mongodb memory requires mongo_uri (MONGO_URI)")
		}
	default:
		return fmt.Errorf("unknown memory backend %q", c.Memory.Backend)
	}
	if c.Memory.Path == "" {
		c.Memory.Path = def.Memory.Path
	}
	if c.Memory.MongoDatabase == "" {
		c.Memory.MongoDatabase = def.Memory.MongoDatabase
	}
	if c.Memory.MongoCollection == "" {
		c.Memory.MongoCollection = def.Memory.MongoCollection
	}
	if c.Memory.WindowSize <= 0 {
		c.Memory.WindowSize = def.Memory.WindowSize
	}

	if c.Research.InitialQueries <= 0 {
		c.Research.InitialQueries = def.Research.InitialQueries
	}
	if c.Research.MaxLoops <= 0 {
		c.Research.MaxLoops = def.Research.MaxLoops
	}
	if c.Research.RecursionLimit <= 0 {
		c.Research.RecursionLimit = def.Research.RecursionLimit
	}
	if c.RAG.TopK <= 0 {
		c.RAG.TopK = def.RAG.TopK
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
	return nil
}

// NewLogger builds a zap logger from the logging section.
func NewLogger(cfg LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}
	zcfg := zap.NewProductionConfig()
	switch strings.ToLower(cfg.Format) {
	case "", "json":
	case "console":
		zcfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	return zcfg.Build()
}
