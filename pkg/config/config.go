package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type LLMConfig struct {
	BaseURL      string  `yaml:"base_url"`
	Model        string  `yaml:"model"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`
	SystemPrompt string  `yaml:"system_prompt"`
}

type EmbeddingConfig struct {
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
}

type IndexConfig struct {
	// Backend selects the vector store implementation: "flat" for the
	// embedded file-backed index, "pgvector" for PostgreSQL.
	Backend      string `yaml:"backend"`
	DataDir      string `yaml:"data_dir"`
	VectorsFile  string `yaml:"vectors_file"`
	MetadataFile string `yaml:"metadata_file"`
}

type DatabaseConfig struct {
	URL       string `yaml:"url"`
	TableName string `yaml:"table_name"`
	BatchSize int    `yaml:"batch_size"`
}

type RetrieverConfig struct {
	// BoostMarkers are substrings that nudge a hit's distance score
	// down when present in its text. Ranking data, not logic.
	BoostMarkers []string `yaml:"boost_markers"`
	Boost        float64  `yaml:"boost"`
	MMRLambda    float64  `yaml:"mmr_lambda"`
}

type ChunkerConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

type ScraperConfig struct {
	MaxDepth          int      `yaml:"max_depth"`
	RateLimit         float64  `yaml:"rate_limit"`
	IgnorePatterns    []string `yaml:"ignore_patterns"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type UIConfig struct {
	Streaming bool `yaml:"streaming"`
}

type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Database  DatabaseConfig  `yaml:"database"`
	Retriever RetrieverConfig `yaml:"retriever"`
	Chunker   ChunkerConfig   `yaml:"chunker"`
	Scraper   ScraperConfig   `yaml:"scraper"`
	Server    ServerConfig    `yaml:"server"`
	UI        UIConfig        `yaml:"ui"`
}

func LoadConfig(path string) (*Config, error) {
	// Pick up a .env file when present; real environment still wins
	// because godotenv does not overwrite existing variables.
	_ = godotenv.Load()

	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/docqa/config.yaml"),
			"/etc/docqa/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %v", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %v", err)
	}

	// Merge with environment variables
	mergeWithEnv(&config)

	// Apply defaults for unset values
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	applyDefaults(config)
	mergeWithEnv(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Model == "" {
		config.LLM.Model = "mistral"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.1
	}
	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "http://localhost:11434"
	}
	if config.LLM.SystemPrompt == "" {
		config.LLM.SystemPrompt = "You are an AI customer support assistant."
	}

	if config.Embedding.Model == "" {
		config.Embedding.Model = "nomic-embed-text:latest"
	}
	if config.Embedding.BaseURL == "" {
		config.Embedding.BaseURL = config.LLM.BaseURL
	}
	if config.Embedding.Dimension == 0 {
		config.Embedding.Dimension = 384
	}

	if config.Index.Backend == "" {
		config.Index.Backend = "flat"
	}
	if config.Index.DataDir == "" {
		config.Index.DataDir = "data"
	}
	if config.Index.VectorsFile == "" {
		config.Index.VectorsFile = "vectors.gob"
	}
	if config.Index.MetadataFile == "" {
		config.Index.MetadataFile = "metadata.json"
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "chunks"
	}
	if config.Database.BatchSize == 0 {
		config.Database.BatchSize = 100
	}

	if len(config.Retriever.BoostMarkers) == 0 {
		config.Retriever.BoostMarkers = []string{"## ", "Section ", "FAQ", "Q:", "A:"}
	}
	if config.Retriever.Boost == 0 {
		config.Retriever.Boost = 0.05
	}
	if config.Retriever.MMRLambda == 0 {
		config.Retriever.MMRLambda = 0.5
	}

	if config.Chunker.ChunkSize == 0 {
		config.Chunker.ChunkSize = 800
	}
	if config.Chunker.ChunkOverlap == 0 {
		config.Chunker.ChunkOverlap = 200
	}

	if config.Scraper.MaxDepth == 0 {
		config.Scraper.MaxDepth = 3
	}
	if config.Scraper.RateLimit == 0 {
		config.Scraper.RateLimit = 2.0
	}
	if len(config.Scraper.AllowedExtensions) == 0 {
		config.Scraper.AllowedExtensions = []string{".html", ".htm", "/", ""}
	}

	if config.Server.Port == "" {
		config.Server.Port = "8080"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
		config.Embedding.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if dataDir := os.Getenv("DOCQA_DATA_DIR"); dataDir != "" {
		config.Index.DataDir = dataDir
	}
}
