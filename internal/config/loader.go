package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":        {"whisper", "whisper-native"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. A .env file in the working directory is loaded first (if
// present), and ${VAR} references in the YAML are expanded from the
// environment so secrets can stay out of the file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("cannot load .env file", "error", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	raw = []byte(os.ExpandEnv(string(raw)))

	cfg, err := LoadFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxUploadMB < 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_mb %d is negative", cfg.Server.MaxUploadMB))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	// Store availability warnings.
	if cfg.Stores.PostgresDSN == "" {
		slog.Warn("stores.postgres_dsn is empty; semantic retrieval will not be available")
	}
	if cfg.Stores.Neo4j.URI == "" {
		slog.Warn("stores.neo4j.uri is empty; graph retrieval will not be available")
	}
	if cfg.Stores.Redis.Addr == "" {
		slog.Warn("stores.redis.addr is empty; ingestion jobs will not be processed")
	}

	// Embeddings ↔ store dimensions.
	if cfg.Providers.Embeddings.Name != "" && cfg.Stores.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but stores.embedding_dimensions is not set; defaulting to 1536")
	}

	// Ingest geometry.
	if cfg.Ingest.ChunkSize < 0 {
		errs = append(errs, fmt.Errorf("ingest.chunk_size %d is negative", cfg.Ingest.ChunkSize))
	}
	if cfg.Ingest.ChunkOverlap < 0 {
		errs = append(errs, fmt.Errorf("ingest.chunk_overlap %d is negative", cfg.Ingest.ChunkOverlap))
	}
	if cfg.Ingest.ChunkSize > 0 && cfg.Ingest.ChunkOverlap >= cfg.Ingest.ChunkSize {
		errs = append(errs, fmt.Errorf("ingest.chunk_overlap %d must be smaller than ingest.chunk_size %d", cfg.Ingest.ChunkOverlap, cfg.Ingest.ChunkSize))
	}
	if cfg.Ingest.Workers < 0 {
		errs = append(errs, fmt.Errorf("ingest.workers %d is negative", cfg.Ingest.Workers))
	}

	// Retrieval tuning.
	if cfg.Retrieval.SimilarityFloor < 0 || cfg.Retrieval.SimilarityFloor > 1 {
		errs = append(errs, fmt.Errorf("retrieval.similarity_floor %.2f is out of range [0, 1]", cfg.Retrieval.SimilarityFloor))
	}
	if cfg.Retrieval.Limit < 0 {
		errs = append(errs, fmt.Errorf("retrieval.limit %d is negative", cfg.Retrieval.Limit))
	}

	// Plugin duplicate name detection and endpoint checks.
	pluginNamesSeen := make(map[string]int, len(cfg.Plugins))
	for i, p := range cfg.Plugins {
		prefix := fmt.Sprintf("plugins[%d]", i)
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := pluginNamesSeen[p.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of plugins[%d]", prefix, p.Name, prev))
			}
			pluginNamesSeen[p.Name] = i
		}
		if p.Endpoint == "" {
			errs = append(errs, fmt.Errorf("%s.endpoint is required", prefix))
		}
		if p.Tool == "" {
			errs = append(errs, fmt.Errorf("%s.tool is required", prefix))
		}
		for _, dep := range p.DependsOn {
			if dep == p.Name {
				errs = append(errs, fmt.Errorf("%s depends on itself", prefix))
			}
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
