package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mnemovox/mnemovox/internal/config"
)

func TestValidate_DuplicatePluginNames(t *testing.T) {
	t.Parallel()
	yaml := `
plugins:
  - name: weather
    endpoint: https://tools.example.com/mcp
    tool: get_weather
  - name: weather
    endpoint: https://tools.example.com/mcp
    tool: get_weather
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for duplicate plugin names, got nil")
	}
	if !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("error should mention duplicate, got: %v", err)
	}
}

func TestValidate_PluginRequiresEndpointAndTool(t *testing.T) {
	t.Parallel()
	yaml := `
plugins:
  - name: weather
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for plugin without endpoint/tool, got nil")
	}
	if !strings.Contains(err.Error(), "endpoint is required") {
		t.Errorf("error should mention endpoint, got: %v", err)
	}
	if !strings.Contains(err.Error(), "tool is required") {
		t.Errorf("error should mention tool, got: %v", err)
	}
}

func TestValidate_PluginSelfDependency(t *testing.T) {
	t.Parallel()
	yaml := `
plugins:
  - name: weather
    endpoint: https://tools.example.com/mcp
    tool: get_weather
    depends_on: [weather]
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for self-dependent plugin, got nil")
	}
	if !strings.Contains(err.Error(), "depends on itself") {
		t.Errorf("error should mention self dependency, got: %v", err)
	}
}

func TestValidate_ChunkOverlapSmallerThanSize(t *testing.T) {
	t.Parallel()
	yaml := `
ingest:
  chunk_size: 500
  chunk_overlap: 500
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for overlap >= size, got nil")
	}
	if !strings.Contains(err.Error(), "chunk_overlap") {
		t.Errorf("error should mention chunk_overlap, got: %v", err)
	}
}

func TestValidate_SimilarityFloorRange(t *testing.T) {
	t.Parallel()
	yaml := `
retrieval:
  similarity_floor: 1.5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for out-of-range similarity floor, got nil")
	}
	if !strings.Contains(err.Error(), "similarity_floor") {
		t.Errorf("error should mention similarity_floor, got: %v", err)
	}
}

func TestValidate_BadLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
ingest:
  chunk_size: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "log_level") || !strings.Contains(errStr, "chunk_size") {
		t.Errorf("error should carry both failures, got: %v", err)
	}
}

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":8080"
  log_level: debug
  blob_dir: /var/lib/mnemovox/audio
  max_upload_mb: 64
stores:
  postgres_dsn: "postgres://localhost/mnemovox?sslmode=disable"
  embedding_dimensions: 1536
  neo4j:
    uri: bolt://localhost:7687
    username: neo4j
    password: secret
  redis:
    addr: localhost:6379
providers:
  llm:
    name: openai
    model: gpt-4o-mini
  stt:
    name: whisper
    base_url: http://localhost:8178
  embeddings:
    name: openai
    model: text-embedding-3-small
ingest:
  chunk_size: 800
  chunk_overlap: 160
  workers: 4
retrieval:
  similarity_floor: 0.3
  limit: 12
chat:
  timeout_seconds: 45
  transcript_window_hours: 48
plugins:
  - name: weather
    description: local weather lookups
    endpoint: https://tools.example.com/mcp
    tool: get_weather
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" || cfg.Server.MaxUploadMB != 64 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Stores.Neo4j.URI != "bolt://localhost:7687" || cfg.Stores.Redis.Addr != "localhost:6379" {
		t.Errorf("stores = %+v", cfg.Stores)
	}
	if cfg.Ingest.ChunkSize != 800 || cfg.Ingest.ChunkOverlap != 160 {
		t.Errorf("ingest = %+v", cfg.Ingest)
	}
	if cfg.Retrieval.SimilarityFloor != 0.3 || cfg.Retrieval.Limit != 12 {
		t.Errorf("retrieval = %+v", cfg.Retrieval)
	}
	if len(cfg.Plugins) != 1 || cfg.Plugins[0].Tool != "get_weather" {
		t.Errorf("plugins = %+v", cfg.Plugins)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_address: ":8080"
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("MNEMOVOX_TEST_DSN", "postgres://env-host/mnemovox")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
stores:
  postgres_dsn: "${MNEMOVOX_TEST_DSN}"
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Stores.PostgresDSN != "postgres://env-host/mnemovox" {
		t.Errorf("postgres_dsn = %q", cfg.Stores.PostgresDSN)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	// Sanity-check that the map is populated.
	if len(config.ValidProviderNames) == 0 {
		t.Fatal("ValidProviderNames should not be empty")
	}
	llmNames := config.ValidProviderNames["llm"]
	if len(llmNames) == 0 {
		t.Fatal("ValidProviderNames[\"llm\"] should not be empty")
	}
	// Check that "openai" is in the LLM list.
	found := false
	for _, n := range llmNames {
		if n == "openai" {
			found = true
			break
		}
	}
	if !found {
		t.Error("ValidProviderNames[\"llm\"] should contain \"openai\"")
	}
}
