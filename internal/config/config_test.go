package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_NoFile(t *testing.T) {
	t.Parallel()

	log := slog.Default()
	path, err := Load("/nonexistent/path/config.yaml", log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
}

// unsetEnv clears keys for the duration of the test. t.Setenv registers the
// restore; the Unsetenv makes them truly absent rather than empty.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
embedding:
  provider: hosted
  model: text-embedding-3-small
  dimensions: 1536
  rps: 2.5
retrieval:
  top_k: 8
  score_threshold: 0.55
  search_cache_ttl: 600
chunking:
  size: 800
  overlap: 100
cache:
  host: redis.internal
  port: 6380
  db: 0
qdrant:
  host: qdrant.internal
  port: 6334
server:
  port: 9090
logging:
  level: debug
  format: text
manifest:
  db_path: disabled
`)

	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	checks := map[string]string{
		"EMBEDDING_PROVIDER":   "hosted",
		"EMBEDDING_MODEL":      "text-embedding-3-small",
		"EMBEDDING_DIMENSIONS": "1536",
		"EMBEDDING_RPS":        "2.5",
		"TOP_K_RETRIEVAL":      "8",
		"RAG_SCORE_THRESHOLD":  "0.55",
		"SEARCH_CACHE_TTL":     "600",
		"CHUNK_SIZE":           "800",
		"CHUNK_OVERLAP":        "100",
		"REDIS_HOST":           "redis.internal",
		"REDIS_PORT":           "6380",
		"REDIS_DB":             "0",
		"QDRANT_HOST":          "qdrant.internal",
		"QDRANT_PORT":          "6334",
		"CONVRAG_PORT":         "9090",
		"LOG_LEVEL":            "debug",
		"LOG_FORMAT":           "text",
		"CONVRAG_MANIFEST_DB":  "disabled",
	}
	keys := make([]string, 0, len(checks)+1)
	for k := range checks {
		keys = append(keys, k)
	}
	unsetEnv(t, append(keys, "ENABLE_CACHE")...)

	loaded, err := Load(cfgPath, slog.Default())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != cfgPath {
		t.Errorf("loaded path: got %q, want %q", loaded, cfgPath)
	}

	for k, want := range checks {
		if got := os.Getenv(k); got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
	if _, set := os.LookupEnv("ENABLE_CACHE"); set {
		t.Error("ENABLE_CACHE must stay unset when the YAML omits it")
	}
}

func TestLoad_ExplicitFalseAndZero(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
cache:
  enabled: false
retrieval:
  score_threshold: 0
chunking:
  overlap: 0
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}
	unsetEnv(t, "ENABLE_CACHE", "RAG_SCORE_THRESHOLD", "CHUNK_OVERLAP")

	if _, err := Load(cfgPath, slog.Default()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	for k, want := range map[string]string{
		"ENABLE_CACHE":        "false",
		"RAG_SCORE_THRESHOLD": "0",
		"CHUNK_OVERLAP":       "0",
	} {
		if got := os.Getenv(k); got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
embedding:
  provider: local
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Set env var BEFORE loading; it must not be overwritten.
	t.Setenv("EMBEDDING_PROVIDER", "hosted")

	if _, err := Load(cfgPath, slog.Default()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := os.Getenv("EMBEDDING_PROVIDER"); got != "hosted" {
		t.Errorf("EMBEDDING_PROVIDER: expected env override %q, got %q", "hosted", got)
	}
}

func TestLoad_ConfigEnvVar(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "elsewhere.yaml")
	if err := os.WriteFile(cfgPath, []byte("logging:\n  level: warn\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONVRAG_CONFIG", cfgPath)
	unsetEnv(t, "LOG_LEVEL")

	loaded, err := Load("", slog.Default())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != cfgPath {
		t.Errorf("loaded path: got %q, want %q", loaded, cfgPath)
	}
	if got := os.Getenv("LOG_LEVEL"); got != "warn" {
		t.Errorf("LOG_LEVEL: got %q, want warn", got)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(cfgPath, []byte("{{invalid yaml"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(cfgPath, slog.Default()); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestFloat32Str(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   float32
		want string
	}{
		{0.0, ""},
		{0.2, "0.2"},
		{0.7, "0.7"},
		{1.0, "1"},
		{2.5, "2.5"},
	}
	for _, tt := range tests {
		if got := float32Str(tt.in); got != tt.want {
			t.Errorf("float32Str(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPointerStrs(t *testing.T) {
	t.Parallel()
	zero, f := 0, false
	var zf float32

	if got := intPtrStr(nil); got != "" {
		t.Errorf("intPtrStr(nil) = %q", got)
	}
	if got := intPtrStr(&zero); got != "0" {
		t.Errorf("intPtrStr(0) = %q", got)
	}
	if got := boolPtrStr(&f); got != "false" {
		t.Errorf("boolPtrStr(false) = %q", got)
	}
	if got := float32PtrStr(&zf); got != "0" {
		t.Errorf("float32PtrStr(0) = %q", got)
	}
}

func TestLoad_ModelBlockFansOut(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
model:
  provider: ark
  model: doubao-pro
  api_key: ark-secret
  base_url: https://ark.example.com/api/v3
  temperature: 0
langfuse:
  public_key: pk-lf
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}
	unsetEnv(t, "MODEL_PROVIDER", "ARK_MODEL", "ARK_API_KEY", "ARK_BASE_URL",
		"OPENAI_MODEL", "OLLAMA_MODEL", "GEMINI_MODEL", "GOOGLE_API_KEY",
		"MODEL_TEMPERATURE", "LANGFUSE_PUBLIC_KEY")

	if _, err := Load(cfgPath, slog.Default()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	for k, want := range map[string]string{
		"MODEL_PROVIDER":      "ark",
		"ARK_MODEL":           "doubao-pro",
		"ARK_API_KEY":         "ark-secret",
		"ARK_BASE_URL":        "https://ark.example.com/api/v3",
		"MODEL_TEMPERATURE":   "0",
		"LANGFUSE_PUBLIC_KEY": "pk-lf",
	} {
		if got := os.Getenv(k); got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
	for _, k := range []string{"OPENAI_MODEL", "OLLAMA_MODEL", "GEMINI_MODEL", "GOOGLE_API_KEY"} {
		if _, set := os.LookupEnv(k); set {
			t.Errorf("%s must stay unset for the ark provider", k)
		}
	}
}
